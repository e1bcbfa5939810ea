package term

import (
	"bytes"
	"errors"
	"sync"

	"golang.org/x/sys/unix"
)

// errEngineClosed is returned for writes after the process went away.
var errEngineClosed = errors.New("engine: process exited")

// lineEditor implements the local line discipline for pseudo-line sessions:
// editing happens here, the shell only ever sees completed lines. Pure state
// machine, no I/O.
type lineEditor struct {
	pending []byte
}

type editResult struct {
	Echo      []byte   // bytes to reflect back to the client
	Lines     [][]byte // completed lines, each ending in \n
	Interrupt bool     // Ctrl-C seen
	EOF       bool     // Ctrl-D on an empty line
}

func (ed *lineEditor) Feed(p []byte) editResult {
	var res editResult
	var echo bytes.Buffer
	for _, b := range p {
		switch {
		case b == '\r' || b == '\n':
			echo.WriteString("\r\n")
			line := make([]byte, 0, len(ed.pending)+1)
			line = append(line, ed.pending...)
			line = append(line, '\n')
			res.Lines = append(res.Lines, line)
			ed.pending = ed.pending[:0]
		case b == 0x7f || b == 0x08: // backspace
			if len(ed.pending) > 0 {
				ed.pending = ed.pending[:len(ed.pending)-1]
				echo.WriteString("\b \b")
			}
		case b == 0x15: // Ctrl-U, kill line
			for range ed.pending {
				echo.WriteString("\b \b")
			}
			ed.pending = ed.pending[:0]
		case b == 0x03: // Ctrl-C
			echo.WriteString("^C\r\n")
			ed.pending = ed.pending[:0]
			res.Interrupt = true
		case b == 0x04: // Ctrl-D
			if len(ed.pending) == 0 {
				res.EOF = true
			}
		case b >= 0x20:
			ed.pending = append(ed.pending, b)
			echo.WriteByte(b)
		}
	}
	res.Echo = echo.Bytes()
	return res
}

// lineEngine runs the shell over pipes with the line discipline emulated
// locally. Echo bytes are injected into the output stream so the client sees
// its own typing interleaved in order with process output.
type lineEngine struct {
	proc *pipeProc
	out  chan []byte

	mu     sync.Mutex
	ed     lineEditor
	closed bool
}

func startPseudoLine(opts Options) (Engine, error) {
	p, err := startPipeProc(opts)
	if err != nil {
		return nil, err
	}
	e := &lineEngine{
		proc: p,
		out:  make(chan []byte, 64),
	}
	go e.forward()
	return e, nil
}

func (e *lineEngine) forward() {
	for chunk := range e.proc.out {
		e.out <- chunk
	}
	e.mu.Lock()
	e.closed = true
	close(e.out)
	e.mu.Unlock()
}

func (e *lineEngine) Kind() Kind { return KindPseudoLine }

func (e *lineEngine) Write(p []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errEngineClosed
	}
	res := e.ed.Feed(p)
	if len(res.Echo) > 0 {
		e.out <- res.Echo
	}
	if res.Interrupt && e.proc.cmd.Process != nil {
		e.proc.cmd.Process.Signal(unix.SIGINT)
	}
	for _, line := range res.Lines {
		if err := e.proc.write(line); err != nil {
			return err
		}
	}
	if res.EOF {
		e.proc.stdin.Close()
	}
	return nil
}

func (e *lineEngine) Resize(cols, rows int) error { return nil }
func (e *lineEngine) Kill() error                 { e.proc.kill(); return nil }
func (e *lineEngine) Output() <-chan []byte       { return e.out }
func (e *lineEngine) Done() <-chan int            { return e.proc.done }

// pseudoPipeEngine wires a real shell through managed pipes while keeping a
// software screen so clear-screen redraws and reattach repaints work.
type pseudoPipeEngine struct {
	proc *pipeProc
	scr  *screen
	out  chan []byte
}

func startPseudoPipe(opts Options) (Engine, error) {
	p, err := startPipeProc(opts)
	if err != nil {
		return nil, err
	}
	e := &pseudoPipeEngine{
		proc: p,
		scr:  newScreen(opts.Cols, opts.Rows),
		out:  make(chan []byte, 64),
	}
	go e.forward()
	return e, nil
}

func (e *pseudoPipeEngine) forward() {
	for chunk := range e.proc.out {
		e.scr.Write(chunk)
		e.out <- normalizeClear(chunk)
	}
	close(e.out)
	e.scr.Close()
}

// normalizeClear rewrites bare form feeds into a full clear-and-home so
// clients repaint correctly without pty line discipline.
func normalizeClear(chunk []byte) []byte {
	if !bytes.ContainsRune(chunk, '\f') {
		return chunk
	}
	return bytes.ReplaceAll(chunk, []byte{'\f'}, []byte("\x1b[2J\x1b[H"))
}

func (e *pseudoPipeEngine) Kind() Kind           { return KindPseudoPipe }
func (e *pseudoPipeEngine) Write(p []byte) error { return e.proc.write(p) }

func (e *pseudoPipeEngine) Resize(cols, rows int) error {
	e.scr.Resize(cols, rows)
	return nil
}

func (e *pseudoPipeEngine) Kill() error            { e.proc.kill(); return nil }
func (e *pseudoPipeEngine) Output() <-chan []byte  { return e.out }
func (e *pseudoPipeEngine) Done() <-chan int       { return e.proc.done }
func (e *pseudoPipeEngine) Snapshot() []byte       { return e.scr.Snapshot() }
