package term

import (
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/perchlabs/perch/internal/proto"
)

// fakeEngine is a scriptable engine for selector and registry tests.
type fakeEngine struct {
	kind Kind
	out  chan []byte
	done chan int

	mu     sync.Mutex
	wrote  []byte
	killed bool
	ended  bool
}

func newFakeEngine(kind Kind) *fakeEngine {
	return &fakeEngine{
		kind: kind,
		out:  make(chan []byte, 64),
		done: make(chan int, 1),
	}
}

func (f *fakeEngine) Kind() Kind { return f.kind }

func (f *fakeEngine) Write(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ended {
		return errEngineClosed
	}
	f.wrote = append(f.wrote, p...)
	return nil
}

func (f *fakeEngine) Resize(cols, rows int) error { return nil }

func (f *fakeEngine) Kill() error {
	f.mu.Lock()
	f.killed = true
	f.mu.Unlock()
	f.exit(-1)
	return nil
}

func (f *fakeEngine) Output() <-chan []byte { return f.out }
func (f *fakeEngine) Done() <-chan int      { return f.done }

// emit pushes a chunk as if the process produced it.
func (f *fakeEngine) emit(chunk string) { f.out <- []byte(chunk) }

// exit ends the session with the given code. Safe to call once.
func (f *fakeEngine) exit(code int) {
	f.mu.Lock()
	if f.ended {
		f.mu.Unlock()
		return
	}
	f.ended = true
	f.mu.Unlock()
	close(f.out)
	f.done <- code
	close(f.done)
}

func (f *fakeEngine) wasKilled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.killed
}

func testSelector(native, pipe, line, pseudoPipe func(Options) (Engine, error)) *Selector {
	fail := func(Options) (Engine, error) { return nil, errors.New("not wired in this test") }
	if native == nil {
		native = fail
	}
	if pipe == nil {
		pipe = fail
	}
	if line == nil {
		line = fail
	}
	if pseudoPipe == nil {
		pseudoPipe = fail
	}
	return &Selector{
		StartNative:     native,
		StartPipe:       pipe,
		StartLine:       line,
		StartPseudoPipe: pseudoPipe,
		log:             slog.Default(),
	}
}

func TestSelectorPrefersNative(t *testing.T) {
	sel := testSelector(
		func(Options) (Engine, error) { return newFakeEngine(KindNativePTY), nil },
		nil, nil, nil,
	)
	eng, s, err := sel.Start(Options{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if eng.Kind() != KindNativePTY {
		t.Errorf("Kind = %q, want %q", eng.Kind(), KindNativePTY)
	}
	if s.Note != "" {
		t.Errorf("Note = %q, want empty for a clean native start", s.Note)
	}
}

func TestSelectorFallsBackToPipe(t *testing.T) {
	sel := testSelector(
		func(Options) (Engine, error) { return nil, errors.New("no ptmx device") },
		func(Options) (Engine, error) { return newFakeEngine(KindPipe), nil },
		nil, nil,
	)
	eng, s, err := sel.Start(Options{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if eng.Kind() != KindPipe {
		t.Errorf("Kind = %q, want %q", eng.Kind(), KindPipe)
	}
	if s.Note == "" {
		t.Error("Note is empty, want a fallback annotation")
	}
}

func TestSelectorForcedLineSkipsNative(t *testing.T) {
	nativeCalled := false
	sel := testSelector(
		func(Options) (Engine, error) {
			nativeCalled = true
			return newFakeEngine(KindNativePTY), nil
		},
		nil,
		func(Options) (Engine, error) { return newFakeEngine(KindPseudoLine), nil },
		nil,
	)
	eng, _, err := sel.Start(Options{Hint: proto.EngineLine})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if eng.Kind() != KindPseudoLine {
		t.Errorf("Kind = %q, want %q", eng.Kind(), KindPseudoLine)
	}
	if nativeCalled {
		t.Error("native adapter was attempted despite an explicit engine")
	}
}

func TestSelectorForceOverridesHint(t *testing.T) {
	sel := testSelector(
		nil, nil, nil,
		func(Options) (Engine, error) { return newFakeEngine(KindPseudoPipe), nil },
	)
	eng, _, err := sel.Start(Options{Hint: proto.EngineLine, Force: proto.EnginePipe})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if eng.Kind() != KindPseudoPipe {
		t.Errorf("Kind = %q, want %q", eng.Kind(), KindPseudoPipe)
	}
}

func TestSelectorExhaustionReturnsAttemptTrail(t *testing.T) {
	sel := testSelector(
		func(Options) (Engine, error) { return nil, errors.New("no ptmx device") },
		func(Options) (Engine, error) { return nil, errors.New("fork failed") },
		nil, nil,
	)
	_, _, err := sel.Start(Options{})
	if err == nil {
		t.Fatal("Start succeeded, want engine_failure")
	}
	if !proto.IsCode(err, proto.CodeEngineFailure) {
		t.Fatalf("error code = %v, want engine_failure", err)
	}
	perr := proto.AsError(err)
	if len(perr.Attempts) != 2 {
		t.Fatalf("Attempts = %d, want 2", len(perr.Attempts))
	}
	if perr.Attempts[0].Engine != string(KindNativePTY) || perr.Attempts[1].Engine != string(KindPipe) {
		t.Errorf("attempt order = %s, %s", perr.Attempts[0].Engine, perr.Attempts[1].Engine)
	}
}
