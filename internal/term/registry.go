package term

import (
	"context"
	"encoding/base64"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/perchlabs/perch/internal/proto"
)

// Sender delivers an enveloped message to one connected client. Implemented
// by the hub; a send fails when the client is gone or its transport errors.
type Sender interface {
	Send(clientID string, env *proto.Envelope) error
}

// CredentialSource supplies optional extra environment variables for spawned
// shells. Implemented by the creds provisioner.
type CredentialSource interface {
	Enabled() bool
	All(ctx context.Context) map[string]string
	Names() []string
}

// RegistryConfig is the slice of configuration the registry needs.
type RegistryConfig struct {
	Shell          string
	WorkspaceRoot  string
	DefaultEngine  string // engine used when a request says "auto" or nothing
	ForceEngine    string // overrides every request
	BufferCapacity int
	BufferLowWater int
}

// Registry owns all live sessions. The map is guarded by a single mutex so
// concurrent creates cannot race on an id; per-session I/O runs on its own
// goroutine and never holds the registry lock.
type Registry struct {
	cfg      RegistryConfig
	selector *Selector
	redactor *Redactor
	creds    CredentialSource
	sender   Sender
	log      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry builds a registry. sender must serialize per-client writes.
func NewRegistry(cfg RegistryConfig, sel *Selector, red *Redactor, creds CredentialSource, sender Sender) *Registry {
	if cfg.BufferCapacity == 0 {
		cfg.BufferCapacity = 1000
	}
	if cfg.BufferLowWater == 0 {
		cfg.BufferLowWater = 800
	}
	return &Registry{
		cfg:      cfg,
		selector: sel,
		redactor: red,
		creds:    creds,
		sender:   sender,
		log:      slog.Default().With("component", "sessions"),
		sessions: make(map[string]*Session),
	}
}

// CreateOptions are the validated fields of a create request.
type CreateOptions struct {
	SessionID  string // reuse/attach hint; generated when empty
	Cols, Rows int
	CWD        string
	Persistent bool
	EngineHint string // "auto", "line", "pipe" or empty
	ClientID   string
}

// CreateResult feeds the create reply.
type CreateResult struct {
	SessionID  string
	CWD        string
	Cols, Rows int
	Engine     Kind
	Note       string
	Persistent bool
	Providers  []string
	Reattached bool
}

// Create spawns a new session, or reattaches when the id names a live one.
func (r *Registry) Create(ctx context.Context, opts CreateOptions) (*CreateResult, error) {
	if opts.Cols <= 0 {
		opts.Cols = 80
	}
	if opts.Rows <= 0 {
		opts.Rows = 24
	}

	// Same id on a live session means reattach, not duplicate.
	if opts.SessionID != "" {
		r.mu.Lock()
		existing := r.sessions[opts.SessionID]
		r.mu.Unlock()
		if existing != nil {
			if err := r.Rebind(opts.SessionID, opts.ClientID); err != nil {
				return nil, err
			}
			cols, rows := existing.size()
			return &CreateResult{
				SessionID:  existing.ID,
				CWD:        existing.CWD,
				Cols:       cols,
				Rows:       rows,
				Engine:     existing.Engine.Kind(),
				Persistent: existing.Persistent,
				Providers:  r.creds.Names(),
				Reattached: true,
			}, nil
		}
	}

	cwd := r.resolveCWD(opts.CWD)
	env, err := r.buildEnv(ctx)
	if err != nil {
		return nil, err
	}

	hint := opts.EngineHint
	if hint == "" || hint == proto.EngineAuto {
		if r.cfg.DefaultEngine != "" && r.cfg.DefaultEngine != proto.EngineAuto {
			hint = r.cfg.DefaultEngine
		}
	}

	id := opts.SessionID
	if id == "" {
		id = uuid.New().String()[:8]
	}

	// Serialize spawn under the registry lock: two concurrent creates with
	// the same fresh id must not both win.
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.sessions[id]; dup {
		return nil, proto.Validation("session %q already exists", id)
	}

	eng, sel, err := r.selector.Start(Options{
		Shell: r.cfg.Shell,
		CWD:   cwd,
		Env:   env,
		Cols:  opts.Cols,
		Rows:  opts.Rows,
		Hint:  hint,
		Force: r.cfg.ForceEngine,
	})
	if err != nil {
		return nil, err
	}

	sess := &Session{
		ID:         id,
		Engine:     eng,
		Persistent: opts.Persistent,
		CWD:        cwd,
		CreatedAt:  time.Now(),
		buf:        newOutBuffer(r.cfg.BufferCapacity, r.cfg.BufferLowWater),
	}
	sess.setSize(opts.Cols, opts.Rows)
	sess.bind(opts.ClientID)
	r.sessions[id] = sess

	go r.pump(sess)

	r.log.Info("session created", "session", id, "engine", eng.Kind(), "cwd", cwd, "persistent", opts.Persistent)

	return &CreateResult{
		SessionID:  id,
		CWD:        cwd,
		Cols:       opts.Cols,
		Rows:       opts.Rows,
		Engine:     sel.Engine,
		Note:       sel.Note,
		Persistent: opts.Persistent,
		Providers:  r.creds.Names(),
	}, nil
}

// Input forwards client bytes to the session's engine.
func (r *Registry) Input(sessionID string, data []byte) error {
	sess := r.get(sessionID)
	if sess == nil {
		return proto.NotFound(sessionID)
	}
	sess.touch()
	if err := sess.Engine.Write(data); err != nil {
		// A dead process surfaces as an exit event from the pump; input on a
		// dying session is not a caller error.
		r.log.Debug("input after engine closed", "session", sessionID, "err", err)
	}
	return nil
}

// Resize forwards new dimensions; engines without resize support no-op.
func (r *Registry) Resize(sessionID string, cols, rows int) error {
	sess := r.get(sessionID)
	if sess == nil {
		return proto.NotFound(sessionID)
	}
	sess.touch()
	if err := sess.Engine.Resize(cols, rows); err != nil {
		r.log.Debug("resize unsupported", "session", sessionID, "err", err)
		return nil
	}
	sess.setSize(cols, rows)
	return nil
}

// Dispose kills the process best-effort and removes the session regardless:
// a shell that ignores SIGTERM is an OS-level leak we report in logs, not a
// reason to keep a dead registry entry.
func (r *Registry) Dispose(sessionID string) error {
	r.mu.Lock()
	sess := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	if sess == nil {
		return proto.NotFound(sessionID)
	}

	sess.Engine.Kill()
	if sess.markExited() {
		if client := sess.Bound(); client != "" {
			r.sendEvent(client, proto.ExitEvent{Op: proto.OpExit, SessionID: sess.ID, Code: -1})
		}
	}
	r.log.Info("session disposed", "session", sessionID)
	return nil
}

// List returns metadata for every live session, ordered by creation time.
func (r *Registry) List() []proto.SessionInfo {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})

	infos := make([]proto.SessionInfo, len(sessions))
	for i, s := range sessions {
		infos[i] = proto.SessionInfo{
			SessionID:      s.ID,
			Engine:         string(s.Engine.Kind()),
			CWD:            s.CWD,
			Persistent:     s.Persistent,
			LastActivityAt: s.lastActivityAt().UnixMilli(),
		}
	}
	return infos
}

// Rebind points a session's delivery at a new client and flushes the backlog
// in production order. The delivery lock keeps the pump out until the flush
// is done and the session bound, so a live chunk can never overtake buffered
// entries. Clearing is acknowledgement-gated: entries that fail to send stay
// buffered for the next attach, and the session stays unbound.
func (r *Registry) Rebind(sessionID, newClientID string) error {
	sess := r.get(sessionID)
	if sess == nil {
		return proto.NotFound(sessionID)
	}

	sess.delivery.Lock()
	defer sess.delivery.Unlock()

	// Engines with screen state repaint instead of replaying raw history.
	if snap, ok := sess.Engine.(Snapshotter); ok {
		sess.buf.Drain() // represented by the snapshot
		if frame := snap.Snapshot(); len(frame) > 0 {
			r.sendEvent(newClientID, dataEvent(sess.ID, frame))
		}
		sess.bind(newClientID)
		return nil
	}

	entries := sess.buf.Drain()
	for i, e := range entries {
		env, err := proto.NewEvent(dataEvent(sess.ID, e.Chunk))
		if err == nil {
			err = r.sender.Send(newClientID, env)
		}
		if err != nil {
			sess.buf.Requeue(entries[i:])
			r.log.Warn("rebind flush interrupted", "session", sessionID, "kept", len(entries)-i, "err", err)
			return nil
		}
	}
	sess.bind(newClientID)
	r.log.Info("session rebound", "session", sessionID, "client", newClientID, "flushed", len(entries))
	return nil
}

// ClientGone handles a client disconnect: persistent sessions detach and keep
// buffering, everything else is torn down.
func (r *Registry) ClientGone(clientID string) {
	r.mu.Lock()
	var detach, dispose []*Session
	for _, s := range r.sessions {
		if s.Bound() != clientID {
			continue
		}
		if s.Persistent {
			detach = append(detach, s)
		} else {
			dispose = append(dispose, s)
		}
	}
	r.mu.Unlock()

	for _, s := range detach {
		s.unbind()
		r.log.Info("session detached", "session", s.ID, "client", clientID)
	}
	for _, s := range dispose {
		r.Dispose(s.ID)
	}
}

// EngineKind reports the engine backing a session.
func (r *Registry) EngineKind(sessionID string) (Kind, bool) {
	sess := r.get(sessionID)
	if sess == nil {
		return "", false
	}
	return sess.Engine.Kind(), true
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) get(sessionID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[sessionID]
}

// pump streams engine output to the bound client, buffering whatever cannot
// be delivered, then emits the exit event and removes the session.
func (r *Registry) pump(sess *Session) {
	for chunk := range sess.Engine.Output() {
		clean := r.redactor.Sanitize(chunk)
		sess.delivery.Lock()
		client := sess.Bound()
		if client == "" {
			sess.buf.Append(clean, time.Now())
			sess.delivery.Unlock()
			continue
		}
		env, err := proto.NewEvent(dataEvent(sess.ID, clean))
		if err == nil {
			err = r.sender.Send(client, env)
		}
		if err != nil {
			sess.buf.Append(clean, time.Now())
		}
		sess.delivery.Unlock()
	}

	code := <-sess.Engine.Done()

	r.mu.Lock()
	delete(r.sessions, sess.ID)
	r.mu.Unlock()

	if sess.markExited() {
		if client := sess.Bound(); client != "" {
			r.sendEvent(client, proto.ExitEvent{Op: proto.OpExit, SessionID: sess.ID, Code: code})
		}
		r.log.Info("session exited", "session", sess.ID, "code", code)
	}
}

func (r *Registry) sendEvent(clientID string, data any) {
	env, err := proto.NewEvent(data)
	if err != nil {
		r.log.Error("marshal event", "err", err)
		return
	}
	if err := r.sender.Send(clientID, env); err != nil {
		r.log.Debug("event dropped", "client", clientID, "err", err)
	}
}

func dataEvent(sessionID string, chunk []byte) proto.DataEvent {
	return proto.DataEvent{
		Op:        proto.OpData,
		SessionID: sessionID,
		Chunk:     base64.StdEncoding.EncodeToString(chunk),
	}
}

func (r *Registry) resolveCWD(cwd string) string {
	root := r.cfg.WorkspaceRoot
	if root == "" {
		root, _ = os.Getwd()
	}
	if cwd == "" {
		return root
	}
	if filepath.IsAbs(cwd) {
		return cwd
	}
	return filepath.Join(root, cwd)
}

// buildEnv assembles the spawn environment: the host env, a sane TERM, and,
// only when injection is enabled, the provisioned credentials. Injected
// values are registered with the redactor so they never reach a client.
func (r *Registry) buildEnv(ctx context.Context) ([]string, error) {
	env := os.Environ()
	env = append(env, "TERM=xterm-256color")
	if !r.creds.Enabled() {
		return env, nil
	}
	for k, v := range r.creds.All(ctx) {
		env = append(env, k+"="+v)
		r.redactor.AddSecret(v)
	}
	return env, nil
}
