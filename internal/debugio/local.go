package debugio

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/chzyer/readline"
	"golang.org/x/term"
)

// LocalStdio drives the controller's own terminal. When stdin is a TTY it
// uses github.com/chzyer/readline for history and line editing; otherwise
// (piped input, a script, a non-interactive CI shell) it falls back to a
// plain bufio-style reader so the controller stays scriptable.
//
// Input blocks on the underlying readline call, which has no context
// support, so each call is run on its own goroutine and raced against
// ctx.Done() — mirroring the blocking-thread-offload spec.md §4.4 asks for.
type LocalStdio struct {
	rl       *readline.Instance
	fallback io.Reader

	mu sync.Mutex
}

// NewLocalStdio builds a LocalStdio for the current process's stdio,
// choosing readline when stdin is a terminal and a bare reader otherwise.
func NewLocalStdio() (*LocalStdio, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return &LocalStdio{fallback: os.Stdin}, nil
	}

	histFile := ""
	if dir, err := os.UserCacheDir(); err == nil {
		histFile = filepath.Join(dir, "dbgmesh", "console_history")
		_ = os.MkdirAll(filepath.Dir(histFile), 0o755)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "",
		HistoryFile:       histFile,
		HistorySearchFold: true,
		InterruptPrompt:   "^C",
		EOFPrompt:         "quit",
	})
	if err != nil {
		return nil, fmt.Errorf("debugio: init readline: %w", err)
	}
	return &LocalStdio{rl: rl}, nil
}

func (l *LocalStdio) Input(ctx context.Context, prompt string) (string, error) {
	if l.rl != nil {
		return l.readlineInput(ctx, prompt)
	}
	return l.fallbackInput(ctx, prompt)
}

func (l *LocalStdio) readlineInput(ctx context.Context, prompt string) (string, error) {
	l.mu.Lock()
	l.rl.SetPrompt(prompt)
	l.mu.Unlock()

	type result struct {
		line string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		line, err := l.rl.Readline()
		done <- result{line, err}
	}()

	select {
	case r := <-done:
		if r.err == readline.ErrInterrupt {
			return "", fmt.Errorf("debugio: interrupted")
		}
		if r.err == io.EOF {
			return "quit", nil
		}
		return r.line, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (l *LocalStdio) fallbackInput(ctx context.Context, prompt string) (string, error) {
	fmt.Fprint(os.Stdout, prompt)

	type result struct {
		line string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		var buf [4096]byte
		n, err := l.fallback.Read(buf[:])
		if err != nil && n == 0 {
			if err == io.EOF {
				// Match the readline path: end of piped input quits the REPL.
				done <- result{"quit", nil}
				return
			}
			done <- result{"", err}
			return
		}
		line := string(buf[:n])
		for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
			line = line[:len(line)-1]
		}
		done <- result{line, nil}
	}()

	select {
	case r := <-done:
		return r.line, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (l *LocalStdio) Output(ctx context.Context, msg string) error {
	_, err := fmt.Fprint(os.Stdout, msg)
	return err
}

func (l *LocalStdio) Quit() {
	if l.rl != nil {
		l.rl.Close()
	}
}
