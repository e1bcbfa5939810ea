package dispatch

import "sync"

// pendingKey scopes a correlation id to the client that issued it: clients
// pick ids independently, so the same id may be in flight for two clients at
// once.
type pendingKey struct {
	client string
	id     string
}

// pendingTable tracks in-flight correlated requests so each one gets exactly
// one reply: created on dispatch, destroyed on reply, duplicates suppressed.
type pendingTable struct {
	mu   sync.Mutex
	reqs map[pendingKey]struct{}
}

func newPendingTable() *pendingTable {
	return &pendingTable{reqs: make(map[pendingKey]struct{})}
}

// add registers a request; false means this client already has the id in
// flight.
func (t *pendingTable) add(clientID, id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := pendingKey{client: clientID, id: id}
	if _, dup := t.reqs[k]; dup {
		return false
	}
	t.reqs[k] = struct{}{}
	return true
}

// complete removes a request; false means it was already replied to.
func (t *pendingTable) complete(clientID, id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := pendingKey{client: clientID, id: id}
	if _, ok := t.reqs[k]; !ok {
		return false
	}
	delete(t.reqs, k)
	return true
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.reqs)
}
