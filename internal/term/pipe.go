package term

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// pipeProc is the shared plumbing for every pipe-backed strategy: a shell
// with stdin piped in and stdout+stderr folded into one chunk stream.
type pipeProc struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	out   chan []byte
	done  chan int

	killOnce sync.Once
}

func startPipeProc(opts Options) (*pipeProc, error) {
	cmd := exec.Command(opts.Shell, "-i")
	cmd.Dir = opts.CWD
	cmd.Env = opts.Env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	// One pipe for both streams so interleaving matches what the shell wrote.
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}
	pw.Close() // child holds the write end now

	p := &pipeProc{
		cmd:   cmd,
		stdin: stdin,
		out:   make(chan []byte, 64),
		done:  make(chan int, 1),
	}
	go p.readLoop(pr)
	go p.waitLoop()
	return p, nil
}

func (p *pipeProc) write(b []byte) error {
	_, err := p.stdin.Write(b)
	return err
}

func (p *pipeProc) kill() {
	p.killOnce.Do(func() { terminate(p.cmd) })
}

func (p *pipeProc) readLoop(r *os.File) {
	defer close(p.out)
	defer r.Close()
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.out <- chunk
		}
		if err != nil {
			return
		}
	}
}

func (p *pipeProc) waitLoop() {
	code := 0
	if err := p.cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = 1
		}
	}
	p.done <- code
	close(p.done)
}

// pipeEngine is the plain pipe fallback: no terminal semantics, resize is a
// tolerated no-op.
type pipeEngine struct {
	*pipeProc
}

func startPipeFallback(opts Options) (Engine, error) {
	p, err := startPipeProc(opts)
	if err != nil {
		return nil, err
	}
	return &pipeEngine{pipeProc: p}, nil
}

func (e *pipeEngine) Kind() Kind                  { return KindPipe }
func (e *pipeEngine) Write(p []byte) error        { return e.write(p) }
func (e *pipeEngine) Resize(cols, rows int) error { return nil }
func (e *pipeEngine) Kill() error                 { e.kill(); return nil }
func (e *pipeEngine) Output() <-chan []byte       { return e.out }
func (e *pipeEngine) Done() <-chan int            { return e.done }
