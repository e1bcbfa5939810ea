package proto

import "encoding/json"

// NamespaceTerminal is the envelope type for terminal traffic. Filesystem and
// git services share the same channel under their own namespaces.
const NamespaceTerminal = "terminal"

// Terminal ops carried in Envelope.Data.
const (
	OpCreate  = "create"
	OpInput   = "input"
	OpResize  = "resize"
	OpDispose = "dispose"
	OpList    = "list"
	OpAttach  = "attach"

	// Server-pushed events (never carry a request id).
	OpData = "data"
	OpExit = "exit"
)

// Engine hint values accepted on create.
const (
	EngineAuto = "auto"
	EngineLine = "line"
	EnginePipe = "pipe"
)

// Envelope wraps every message on the channel with a namespace and an
// optional correlation id. Requests with an id get exactly one reply carrying
// the same id.
type Envelope struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data"`
}

// Request is the union of all inbound terminal op payloads.
type Request struct {
	Op        string `json:"op"`
	SessionID string `json:"sessionId,omitempty"`
	Cols      int    `json:"cols,omitempty"`
	Rows      int    `json:"rows,omitempty"`
	CWD       string `json:"cwd,omitempty"`
	Persistent bool  `json:"persistent,omitempty"`
	Engine    string `json:"engine,omitempty"` // "auto", "line", "pipe"
	Data      string `json:"data,omitempty"`   // base64 input bytes
}

// CreateReply confirms a session is running (or reattached).
type CreateReply struct {
	Op         string   `json:"op"`
	OK         bool     `json:"ok"`
	SessionID  string   `json:"sessionId"`
	CWD        string   `json:"cwd"`
	Cols       int      `json:"cols"`
	Rows       int      `json:"rows"`
	Event      string   `json:"event"` // "ready"
	Engine     string   `json:"engine"`
	Note       string   `json:"note,omitempty"` // set when a fallback occurred
	Persistent bool     `json:"persistent"`
	Providers  []string `json:"credentialProviders,omitempty"`
}

// DisposeReply acknowledges a dispose.
type DisposeReply struct {
	Op        string `json:"op"`
	OK        bool   `json:"ok"`
	SessionID string `json:"sessionId"`
}

// SessionInfo describes one live session for reattachment UIs.
type SessionInfo struct {
	SessionID      string `json:"sessionId"`
	Engine         string `json:"engine"`
	CWD            string `json:"cwd,omitempty"`
	Persistent     bool   `json:"persistent"`
	LastActivityAt int64  `json:"lastActivityAt"` // unix millis
}

// ListReply carries all live sessions.
type ListReply struct {
	Op       string        `json:"op"`
	OK       bool          `json:"ok"`
	Sessions []SessionInfo `json:"sessions"`
}

// AttachReply confirms a rebind; the buffered backlog is flushed as ordinary
// data events immediately after this reply.
type AttachReply struct {
	Op        string `json:"op"`
	OK        bool   `json:"ok"`
	SessionID string `json:"sessionId"`
	Engine    string `json:"engine"`
}

// DataEvent carries redacted output bytes to the bound client.
type DataEvent struct {
	Op        string `json:"op"`
	SessionID string `json:"sessionId"`
	Chunk     string `json:"chunk"` // base64-encoded
}

// ExitEvent tells the bound client the process exited.
type ExitEvent struct {
	Op        string `json:"op"`
	SessionID string `json:"sessionId"`
	Code      int    `json:"code"`
}

// ErrorReply is the single error shape for correlated requests.
type ErrorReply struct {
	Op    string `json:"op"`
	OK    bool   `json:"ok"`
	Error *Error `json:"error"`
}
