package proto

import "encoding/json"

// NewReply wraps a correlated reply payload in a terminal envelope carrying
// the request id.
func NewReply(id string, data any) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: NamespaceTerminal, ID: id, Data: raw}, nil
}

// NewEvent wraps an asynchronous event payload; events carry no request id.
func NewEvent(data any) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: NamespaceTerminal, Data: raw}, nil
}
