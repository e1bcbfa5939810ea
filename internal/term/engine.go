package term

import (
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"golang.org/x/sys/unix"

	"github.com/perchlabs/perch/internal/proto"
)

// Kind identifies the execution strategy backing a session.
type Kind string

const (
	KindNativePTY  Kind = "native-pty"
	KindPipe       Kind = "pipe-fallback"
	KindPseudoLine Kind = "pseudo-line"
	KindPseudoPipe Kind = "pseudo-pipe"
)

// Engine is the uniform adapter over one spawned shell process. Output is a
// stream of chunks closed when the process exits; Done then yields the exit
// code. Kill is best-effort and must never block.
type Engine interface {
	Kind() Kind
	Write(p []byte) error
	Resize(cols, rows int) error
	Kill() error
	Output() <-chan []byte
	Done() <-chan int
}

// Snapshotter is implemented by engines that can repaint their screen state
// for a reattaching client.
type Snapshotter interface {
	Snapshot() []byte
}

// Options carries everything needed to spawn a shell.
type Options struct {
	Shell string
	CWD   string
	Env   []string
	Cols  int
	Rows  int
	Hint  string // per-request engine: "", "auto", "line", "pipe"
	Force string // config/env override: "", "line", "pipe"
}

// Selection reports which engine was chosen and why.
type Selection struct {
	Engine Kind
	Note   string // set when a fallback occurred
}

// Selector picks an engine per the selection algorithm. The spawn functions
// are fields so tests can simulate per-strategy failures.
type Selector struct {
	StartNative     func(Options) (Engine, error)
	StartPipe       func(Options) (Engine, error)
	StartLine       func(Options) (Engine, error)
	StartPseudoPipe func(Options) (Engine, error)

	log *slog.Logger
}

// NewSelector returns a selector wired to the real adapters.
func NewSelector() *Selector {
	return &Selector{
		StartNative:     startNativePTY,
		StartPipe:       startPipeFallback,
		StartLine:       startPseudoLine,
		StartPseudoPipe: startPseudoPipe,
		log:             slog.Default().With("component", "engine"),
	}
}

func (s *Selector) logger() *slog.Logger {
	if s.log == nil {
		return slog.Default()
	}
	return s.log
}

// Start spawns a shell under the selected strategy.
//
// An explicit engine (request hint, forced override, or configuration) maps
// straight to the corresponding pseudo adapter with no native attempt.
// Otherwise the native pty is tried first and the pipe fallback second; only
// exhaustion of both surfaces as an engine_failure error. No process is left
// behind on failure.
func (s *Selector) Start(opts Options) (Engine, *Selection, error) {
	forced := opts.Force
	if forced == "" && (opts.Hint == proto.EngineLine || opts.Hint == proto.EnginePipe) {
		forced = opts.Hint
	}

	switch forced {
	case proto.EngineLine:
		eng, err := s.StartLine(opts)
		if err != nil {
			return nil, nil, proto.EngineFailure([]proto.EngineAttempt{
				{Engine: string(KindPseudoLine), Reason: err.Error()},
			})
		}
		return eng, &Selection{Engine: KindPseudoLine}, nil
	case proto.EnginePipe:
		eng, err := s.StartPseudoPipe(opts)
		if err != nil {
			return nil, nil, proto.EngineFailure([]proto.EngineAttempt{
				{Engine: string(KindPseudoPipe), Reason: err.Error()},
			})
		}
		return eng, &Selection{Engine: KindPseudoPipe}, nil
	}

	var attempts []proto.EngineAttempt

	eng, err := s.StartNative(opts)
	if err == nil {
		return eng, &Selection{Engine: KindNativePTY}, nil
	}
	attempts = append(attempts, proto.EngineAttempt{Engine: string(KindNativePTY), Reason: err.Error()})
	s.logger().Warn("native pty unavailable, falling back to pipes", "err", err)

	eng, pipeErr := s.StartPipe(opts)
	if pipeErr == nil {
		note := fmt.Sprintf("native pty unavailable (%v); running without terminal semantics", err)
		return eng, &Selection{Engine: KindPipe, Note: note}, nil
	}
	attempts = append(attempts, proto.EngineAttempt{Engine: string(KindPipe), Reason: pipeErr.Error()})

	return nil, nil, proto.EngineFailure(attempts)
}

// terminate asks the process to exit and escalates to SIGKILL after a grace
// period. Returns immediately; the escalation runs in the background.
func terminate(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	proc := cmd.Process
	proc.Signal(unix.SIGTERM)
	go func() {
		time.Sleep(3 * time.Second)
		// Signal 0 probes liveness without delivering anything.
		if err := proc.Signal(unix.Signal(0)); err == nil {
			proc.Kill()
		}
	}()
}
