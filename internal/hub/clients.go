// Package hub tracks connected clients and serializes writes onto their
// transports. Session callbacks from many goroutines funnel through here, so
// each client's channel is written by one sender at a time.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/perchlabs/perch/internal/proto"
)

// ErrNoClient is returned when sending to a client that is not connected.
var ErrNoClient = errors.New("hub: client not connected")

const (
	writeTimeout = 10 * time.Second

	// Outbound shaping per client: generous enough for bursty terminal
	// output, bounded enough that one runaway session cannot starve the
	// channel.
	bytesPerSecond = 4 << 20
	burstBytes     = 1 << 20
)

// Transport is one client's persistent bidirectional channel. The websocket
// adapter implements it in production; tests use in-memory fakes.
type Transport interface {
	Send(ctx context.Context, data []byte) error
	Close() error
}

// Client is a connected terminal client.
type Client struct {
	ID          string
	ConnectedAt time.Time

	transport Transport
	writeMu   sync.Mutex
	limiter   *rate.Limiter
}

// Registry maps client ids to live transports. Exactly one client id per
// transport; rebinding a session to a reconnected client goes through the
// session registry, not here.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client

	onGone func(clientID string)
	log    *slog.Logger
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]*Client),
		log:     slog.Default().With("component", "hub"),
	}
}

// SetDisconnectHandler wires the session registry's detach/dispose handling.
func (r *Registry) SetDisconnectHandler(fn func(clientID string)) {
	r.onGone = fn
}

// Add registers a freshly connected client.
func (r *Registry) Add(id string, t Transport) *Client {
	c := &Client{
		ID:          id,
		ConnectedAt: time.Now(),
		transport:   t,
		limiter:     rate.NewLimiter(rate.Limit(bytesPerSecond), burstBytes),
	}
	r.mu.Lock()
	r.clients[id] = c
	r.mu.Unlock()
	r.log.Info("client connected", "client", id)
	return c
}

// Remove drops a client and notifies the disconnect handler. Safe to call
// for an already-removed id.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	c := r.clients[id]
	delete(r.clients, id)
	r.mu.Unlock()
	if c == nil {
		return
	}
	c.transport.Close()
	r.log.Info("client disconnected", "client", id)
	if r.onGone != nil {
		r.onGone(id)
	}
}

// Get returns the client or nil.
func (r *Registry) Get(id string) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[id]
}

// Count returns the number of connected clients.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Send marshals the envelope and writes it to the client's transport,
// serialized per client so concurrent session output cannot interleave
// inside a frame. Implements the session registry's Sender.
func (r *Registry) Send(clientID string, env *proto.Envelope) error {
	c := r.Get(clientID)
	if c == nil {
		return ErrNoClient
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	n := len(data)
	if n > burstBytes {
		n = burstBytes
	}
	if err := c.limiter.WaitN(ctx, n); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.transport.Send(ctx, data)
}
