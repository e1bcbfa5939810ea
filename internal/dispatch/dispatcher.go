// Package dispatch parses terminal envelopes off the channel, invokes the
// session registry, and emits correlated replies. Every correlated request
// gets exactly one reply, success or structured error; nothing is ever left
// silently unanswered.
package dispatch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"runtime"

	"github.com/perchlabs/perch/internal/proto"
	"github.com/perchlabs/perch/internal/term"
)

// Sender is the outbound half of the channel; the hub implements it.
type Sender interface {
	Send(clientID string, env *proto.Envelope) error
}

// Dispatcher routes terminal ops from connected clients to the registry.
type Dispatcher struct {
	reg     *term.Registry
	sender  Sender
	pending *pendingTable
	log     *slog.Logger
}

func New(reg *term.Registry, sender Sender) *Dispatcher {
	return &Dispatcher{
		reg:     reg,
		sender:  sender,
		pending: newPendingTable(),
		log:     slog.Default().With("component", "dispatch"),
	}
}

func correlated(op string) bool {
	switch op {
	case proto.OpCreate, proto.OpList, proto.OpAttach, proto.OpDispose:
		return true
	}
	return false
}

// Handle processes one inbound frame from clientID. Never blocks on session
// I/O and never propagates a panic: unexpected faults become internal error
// replies.
func (d *Dispatcher) Handle(ctx context.Context, clientID string, raw []byte) {
	var env proto.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		d.log.Warn("bad envelope", "client", clientID, "err", err)
		return
	}
	// Register the id before anything can reply, so every reply path goes
	// through the same exactly-once gate.
	if env.ID != "" {
		if !d.pending.add(clientID, env.ID) {
			d.log.Warn("duplicate request id", "client", clientID, "id", env.ID)
			return
		}
	}

	if env.Type != proto.NamespaceTerminal {
		d.log.Warn("unexpected namespace", "client", clientID, "type", env.Type)
		if env.ID != "" {
			d.replyErr(clientID, env.ID, "", proto.Validation("unsupported namespace %q", env.Type))
		}
		return
	}

	var req proto.Request
	if err := json.Unmarshal(env.Data, &req); err != nil {
		d.replyErr(clientID, env.ID, "", proto.Validation("malformed payload: %v", err))
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			stack := make([]byte, 8192)
			n := runtime.Stack(stack, false)
			d.log.Error("panic in dispatch", "op", req.Op, "panic", rec, "stack", string(stack[:n]))
			d.replyErr(clientID, env.ID, req.Op, proto.Internal("unexpected fault handling request"))
		}
	}()

	switch req.Op {
	case proto.OpCreate:
		d.handleCreate(ctx, clientID, env.ID, req)
	case proto.OpInput:
		d.handleInput(clientID, env.ID, req)
	case proto.OpResize:
		d.handleResize(clientID, env.ID, req)
	case proto.OpDispose:
		d.handleDispose(clientID, env.ID, req)
	case proto.OpList:
		d.handleList(clientID, env.ID)
	case proto.OpAttach:
		d.handleAttach(clientID, env.ID, req)
	default:
		d.replyErr(clientID, env.ID, req.Op, proto.Validation("unknown op %q", req.Op))
	}

	// Fire-and-forget ops that succeeded never reply; release their ids.
	if !correlated(req.Op) && env.ID != "" {
		d.pending.complete(clientID, env.ID)
	}
}

func (d *Dispatcher) handleCreate(ctx context.Context, clientID, id string, req proto.Request) {
	if req.Cols < 0 || req.Rows < 0 || req.Cols > 10000 || req.Rows > 10000 {
		d.replyErr(clientID, id, req.Op, proto.Validation("implausible dimensions %dx%d", req.Cols, req.Rows))
		return
	}
	switch req.Engine {
	case "", proto.EngineAuto, proto.EngineLine, proto.EnginePipe:
	default:
		d.replyErr(clientID, id, req.Op, proto.Validation("unknown engine %q", req.Engine))
		return
	}

	res, err := d.reg.Create(ctx, term.CreateOptions{
		SessionID:  req.SessionID,
		Cols:       req.Cols,
		Rows:       req.Rows,
		CWD:        req.CWD,
		Persistent: req.Persistent,
		EngineHint: req.Engine,
		ClientID:   clientID,
	})
	if err != nil {
		d.replyErr(clientID, id, req.Op, proto.AsError(err))
		return
	}

	note := res.Note
	if res.Reattached {
		note = "reattached to running session"
	}
	d.reply(clientID, id, proto.CreateReply{
		Op:         proto.OpCreate,
		OK:         true,
		SessionID:  res.SessionID,
		CWD:        res.CWD,
		Cols:       res.Cols,
		Rows:       res.Rows,
		Event:      "ready",
		Engine:     string(res.Engine),
		Note:       note,
		Persistent: res.Persistent,
		Providers:  res.Providers,
	})
}

// handleInput is fire-and-forget; an error reply is sent only when the
// client asked for correlation by including an id.
func (d *Dispatcher) handleInput(clientID, id string, req proto.Request) {
	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		d.replyIfWanted(clientID, id, req.Op, proto.Validation("input is not valid base64"))
		return
	}
	if err := d.reg.Input(req.SessionID, data); err != nil {
		d.replyIfWanted(clientID, id, req.Op, proto.AsError(err))
	}
}

func (d *Dispatcher) handleResize(clientID, id string, req proto.Request) {
	if req.Cols <= 0 || req.Rows <= 0 {
		d.replyIfWanted(clientID, id, req.Op, proto.Validation("resize needs positive cols and rows"))
		return
	}
	if err := d.reg.Resize(req.SessionID, req.Cols, req.Rows); err != nil {
		d.replyIfWanted(clientID, id, req.Op, proto.AsError(err))
	}
}

func (d *Dispatcher) handleDispose(clientID, id string, req proto.Request) {
	if req.SessionID == "" {
		d.replyErr(clientID, id, req.Op, proto.Validation("sessionId is required"))
		return
	}
	if err := d.reg.Dispose(req.SessionID); err != nil {
		d.replyErr(clientID, id, req.Op, proto.AsError(err))
		return
	}
	d.reply(clientID, id, proto.DisposeReply{Op: proto.OpDispose, OK: true, SessionID: req.SessionID})
}

func (d *Dispatcher) handleList(clientID, id string) {
	d.reply(clientID, id, proto.ListReply{Op: proto.OpList, OK: true, Sessions: d.reg.List()})
}

func (d *Dispatcher) handleAttach(clientID, id string, req proto.Request) {
	if req.SessionID == "" {
		d.replyErr(clientID, id, req.Op, proto.Validation("sessionId is required"))
		return
	}
	if err := d.reg.Rebind(req.SessionID, clientID); err != nil {
		d.replyErr(clientID, id, req.Op, proto.AsError(err))
		return
	}
	kind, _ := d.reg.EngineKind(req.SessionID)
	d.reply(clientID, id, proto.AttachReply{Op: proto.OpAttach, OK: true, SessionID: req.SessionID, Engine: string(kind)})
}

// reply sends the single correlated reply for a request id; duplicates are
// suppressed by the pending table.
func (d *Dispatcher) reply(clientID, id string, data any) {
	if id != "" && !d.pending.complete(clientID, id) {
		return
	}
	env, err := proto.NewReply(id, data)
	if err != nil {
		d.log.Error("marshal reply", "err", err)
		return
	}
	if err := d.sender.Send(clientID, env); err != nil {
		d.log.Debug("reply dropped", "client", clientID, "err", err)
	}
}

func (d *Dispatcher) replyErr(clientID, id, op string, perr *proto.Error) {
	d.reply(clientID, id, proto.ErrorReply{Op: op, OK: false, Error: perr})
}

// replyIfWanted reports an error for a fire-and-forget op only when the
// request carried an id; otherwise the failure is just logged.
func (d *Dispatcher) replyIfWanted(clientID, id, op string, perr *proto.Error) {
	if id == "" {
		d.log.Debug("uncorrelated op failed", "client", clientID, "op", op, "err", perr)
		return
	}
	d.replyErr(clientID, id, op, perr)
}
