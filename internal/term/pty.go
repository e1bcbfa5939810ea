package term

import (
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// ptyEngine backs a shell with a real OS pseudo-terminal device.
type ptyEngine struct {
	cmd  *exec.Cmd
	ptmx *os.File
	out  chan []byte
	done chan int

	killOnce sync.Once
}

func startNativePTY(opts Options) (Engine, error) {
	cmd := exec.Command(opts.Shell)
	cmd.Dir = opts.CWD
	cmd.Env = opts.Env

	size := &pty.Winsize{Cols: uint16(opts.Cols), Rows: uint16(opts.Rows)}
	ptmx, err := pty.StartWithSize(cmd, size)
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	e := &ptyEngine{
		cmd:  cmd,
		ptmx: ptmx,
		out:  make(chan []byte, 64),
		done: make(chan int, 1),
	}
	go e.readLoop()
	go e.waitLoop()
	return e, nil
}

func (e *ptyEngine) Kind() Kind { return KindNativePTY }

func (e *ptyEngine) Write(p []byte) error {
	_, err := e.ptmx.Write(p)
	return err
}

func (e *ptyEngine) Resize(cols, rows int) error {
	return pty.Setsize(e.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

func (e *ptyEngine) Kill() error {
	e.killOnce.Do(func() { terminate(e.cmd) })
	return nil
}

func (e *ptyEngine) Output() <-chan []byte { return e.out }
func (e *ptyEngine) Done() <-chan int      { return e.done }

// readLoop owns the out channel: it is closed here and nowhere else.
func (e *ptyEngine) readLoop() {
	defer close(e.out)
	buf := make([]byte, 4096)
	for {
		n, err := e.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			e.out <- chunk
		}
		if err != nil {
			// EIO here is the normal end-of-session signal on Linux.
			return
		}
	}
}

func (e *ptyEngine) waitLoop() {
	code := 0
	if err := e.cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = 1
		}
	}
	e.ptmx.Close()
	e.done <- code
	close(e.done)
}
