package proto

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestReplyCarriesRequestID(t *testing.T) {
	env, err := NewReply("r1", DisposeReply{Op: OpDispose, OK: true, SessionID: "abc"})
	if err != nil {
		t.Fatalf("NewReply: %v", err)
	}
	if env.Type != NamespaceTerminal || env.ID != "r1" {
		t.Errorf("envelope = %+v", env)
	}

	var reply DisposeReply
	if err := json.Unmarshal(env.Data, &reply); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if !reply.OK || reply.SessionID != "abc" {
		t.Errorf("payload = %+v", reply)
	}
}

func TestEventCarriesNoID(t *testing.T) {
	env, err := NewEvent(ExitEvent{Op: OpExit, SessionID: "abc", Code: 0})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if env.ID != "" {
		t.Errorf("event envelope carries id %q", env.ID)
	}

	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Envelope
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	var ev ExitEvent
	if err := json.Unmarshal(back.Data, &ev); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if ev.Op != OpExit || ev.SessionID != "abc" {
		t.Errorf("round-tripped event = %+v", ev)
	}
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		err  *Error
		code string
	}{
		{Validation("bad %s", "field"), CodeValidation},
		{NotFound("abc"), CodeNotFound},
		{EngineFailure(nil), CodeEngineFailure},
		{Internal("oops"), CodeInternal},
	}
	for _, tt := range tests {
		if tt.err.Code != tt.code {
			t.Errorf("Code = %q, want %q", tt.err.Code, tt.code)
		}
		if tt.err.Message == "" {
			t.Errorf("%s: empty message", tt.code)
		}
	}
	if got := Validation("bad %s", "field").Message; got != "bad field" {
		t.Errorf("Message = %q", got)
	}
}

func TestIsCodeMatchesWrappedErrors(t *testing.T) {
	err := fmt.Errorf("create failed: %w", NotFound("abc"))
	if !IsCode(err, CodeNotFound) {
		t.Error("IsCode missed a wrapped not_found")
	}
	if IsCode(err, CodeValidation) {
		t.Error("IsCode matched the wrong code")
	}
	if IsCode(errors.New("plain"), CodeNotFound) {
		t.Error("IsCode matched an untyped error")
	}
}

func TestAsErrorPassesThroughAndWraps(t *testing.T) {
	typed := Validation("nope")
	if got := AsError(typed); got != typed {
		t.Error("AsError rebuilt a typed error")
	}
	got := AsError(errors.New("disk on fire"))
	if got.Code != CodeInternal {
		t.Errorf("Code = %q, want internal", got.Code)
	}
}

func TestEngineFailureSerializesAttemptTrail(t *testing.T) {
	e := EngineFailure([]EngineAttempt{
		{Engine: "native-pty", Reason: "no ptmx"},
		{Engine: "pipe-fallback", Reason: "fork failed"},
	})
	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Error
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(back.Attempts) != 2 || back.Attempts[0].Engine != "native-pty" {
		t.Errorf("Attempts = %+v", back.Attempts)
	}
}
