package term

import (
	"bytes"
	"testing"
)

func TestLineEditorBuildsLines(t *testing.T) {
	var ed lineEditor
	res := ed.Feed([]byte("echo hi\r"))

	if got, want := string(res.Echo), "echo hi\r\n"; got != want {
		t.Errorf("Echo = %q, want %q", got, want)
	}
	if len(res.Lines) != 1 {
		t.Fatalf("Lines = %d, want 1", len(res.Lines))
	}
	if got, want := string(res.Lines[0]), "echo hi\n"; got != want {
		t.Errorf("Lines[0] = %q, want %q", got, want)
	}
}

func TestLineEditorBackspace(t *testing.T) {
	var ed lineEditor
	ed.Feed([]byte("lx"))
	res := ed.Feed([]byte{0x7f})
	if got, want := string(res.Echo), "\b \b"; got != want {
		t.Errorf("Echo = %q, want %q", got, want)
	}
	res = ed.Feed([]byte("s\r"))
	if got, want := string(res.Lines[0]), "ls\n"; got != want {
		t.Errorf("line after backspace = %q, want %q", got, want)
	}
}

func TestLineEditorBackspaceOnEmptyLine(t *testing.T) {
	var ed lineEditor
	res := ed.Feed([]byte{0x7f, 0x08})
	if len(res.Echo) != 0 {
		t.Errorf("Echo = %q, want empty", res.Echo)
	}
}

func TestLineEditorKillLine(t *testing.T) {
	var ed lineEditor
	ed.Feed([]byte("rm -rf /"))
	res := ed.Feed([]byte{0x15})
	if got, want := string(res.Echo), bytes.Repeat([]byte("\b \b"), 8); got != string(want) {
		t.Errorf("Echo = %q, want %q", got, want)
	}
	res = ed.Feed([]byte("pwd\r"))
	if got, want := string(res.Lines[0]), "pwd\n"; got != want {
		t.Errorf("line after kill = %q, want %q", got, want)
	}
}

func TestLineEditorInterrupt(t *testing.T) {
	var ed lineEditor
	ed.Feed([]byte("sleep 100"))
	res := ed.Feed([]byte{0x03})
	if !res.Interrupt {
		t.Error("Interrupt = false, want true")
	}
	res = ed.Feed([]byte("\r"))
	if got, want := string(res.Lines[0]), "\n"; got != want {
		t.Errorf("pending survived Ctrl-C: line = %q, want %q", got, want)
	}
}

func TestLineEditorEOFOnlyOnEmptyLine(t *testing.T) {
	var ed lineEditor
	if res := ed.Feed([]byte{0x04}); !res.EOF {
		t.Error("Ctrl-D on empty line: EOF = false, want true")
	}
	ed2 := lineEditor{}
	ed2.Feed([]byte("partial"))
	if res := ed2.Feed([]byte{0x04}); res.EOF {
		t.Error("Ctrl-D mid-line: EOF = true, want false")
	}
}

func TestLineEditorMultipleLinesOneChunk(t *testing.T) {
	var ed lineEditor
	res := ed.Feed([]byte("a\rb\r"))
	if len(res.Lines) != 2 {
		t.Fatalf("Lines = %d, want 2", len(res.Lines))
	}
	if string(res.Lines[0]) != "a\n" || string(res.Lines[1]) != "b\n" {
		t.Errorf("Lines = %q, %q", res.Lines[0], res.Lines[1])
	}
}

func TestNormalizeClear(t *testing.T) {
	out := normalizeClear([]byte("before\fafter"))
	if got, want := string(out), "before\x1b[2J\x1b[Hafter"; got != want {
		t.Errorf("normalizeClear = %q, want %q", got, want)
	}

	plain := []byte("no clears here")
	if got := normalizeClear(plain); !bytes.Equal(got, plain) {
		t.Errorf("normalizeClear changed a clean chunk: %q", got)
	}
}
