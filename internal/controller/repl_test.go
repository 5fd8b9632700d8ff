package controller

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

// scriptedIO feeds a fixed sequence of console lines and records everything
// printed back. Once the script runs out, Input serves "quit".
type scriptedIO struct {
	mu      sync.Mutex
	script  []string
	outputs []string
	quits   int
}

func (s *scriptedIO) Input(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.script) == 0 {
		return "quit", nil
	}
	line := s.script[0]
	s.script = s.script[1:]
	return line, nil
}

func (s *scriptedIO) Output(ctx context.Context, msg string) error {
	s.mu.Lock()
	s.outputs = append(s.outputs, msg)
	s.mu.Unlock()
	return nil
}

func (s *scriptedIO) Quit() {
	s.mu.Lock()
	s.quits++
	s.mu.Unlock()
}

func (s *scriptedIO) printed() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.outputs, "")
}

func TestReplHelpParseErrorAndQuit(t *testing.T) {
	io := &scriptedIO{script: []string{"help", "bogus command", "quit"}}
	c := New(io)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if quit := c.replStep(ctx, io); quit {
			t.Fatalf("step %d: unexpected quit", i)
		}
	}
	if quit := c.replStep(ctx, io); !quit {
		t.Fatalf("expected the quit command to end the REPL")
	}

	out := io.printed()
	if !strings.Contains(out, "a|attach") {
		t.Fatalf("expected help text in output, got %q", out)
	}
	if !strings.Contains(out, "Error parsing input") {
		t.Fatalf("expected a parse error line, got %q", out)
	}
	if io.quits != 1 {
		t.Fatalf("expected exactly one Quit call, got %d", io.quits)
	}
}

func TestReplAttachMissingSessionKeepsConsoleAlive(t *testing.T) {
	io := &scriptedIO{script: []string{"attach debugee 7"}}
	c := New(io)

	if quit := c.replStep(context.Background(), io); quit {
		t.Fatalf("a failed attach must not quit the REPL")
	}
	out := io.printed()
	if !strings.Contains(out, "no debug session for rank 7 for actor debugee") {
		t.Fatalf("expected a no-such-session error, got %q", out)
	}
}

func TestReplListRendersTable(t *testing.T) {
	io := &scriptedIO{script: []string{"list"}}
	c := New(io)
	if err := c.SessionStart("debugee", 0, map[string]int{"hosts": 1, "gpus": 3}, "worker-0"); err != nil {
		t.Fatalf("session_start: %v", err)
	}

	if quit := c.replStep(context.Background(), io); quit {
		t.Fatalf("unexpected quit")
	}
	out := io.printed()
	for _, want := range []string{"Actor Name", "Rank", "Coords", "Hostname", "Function", "Line No.", "debugee", "gpus=3,hosts=1", "worker-0"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in list output, got %q", want, out)
		}
	}
}

// readLines drains n console inputs from a session the way a worker's
// debugger would, returning each committed line.
func readLines(t *testing.T, c *Controller, actor string, rank, n int) <-chan string {
	t.Helper()
	out := make(chan string, n)
	go func() {
		for i := 0; i < n; i++ {
			b, err := c.DebuggerRead(context.Background(), actor, rank, 1024)
			if err != nil {
				return
			}
			out <- string(b)
		}
	}()
	return out
}

// TestReplCastSelectedRanksOnly is §8's cast round-trip law: every selected
// session's debugger receives exactly cmd+"\n" once; others receive nothing.
func TestReplCastSelectedRanksOnly(t *testing.T) {
	io := &scriptedIO{script: []string{"cast debugee ranks(0,2) n"}}
	c := New(io)
	for rank := 0; rank < 3; rank++ {
		if err := c.SessionStart("debugee", rank, nil, "worker"); err != nil {
			t.Fatalf("session_start rank %d: %v", rank, err)
		}
	}

	rank0 := readLines(t, c, "debugee", 0, 1)
	rank1 := readLines(t, c, "debugee", 1, 1)
	rank2 := readLines(t, c, "debugee", 2, 1)

	if quit := c.replStep(context.Background(), io); quit {
		t.Fatalf("unexpected quit")
	}

	for _, ch := range []<-chan string{rank0, rank2} {
		select {
		case got := <-ch:
			if got != "n\n" {
				t.Fatalf("expected cast line %q, got %q", "n\n", got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("a selected rank never received the cast command")
		}
	}

	select {
	case got := <-rank1:
		t.Fatalf("unselected rank 1 received %q", got)
	case <-time.After(100 * time.Millisecond):
	}

	if out := io.printed(); out != "" {
		t.Fatalf("cast must suppress console output, got %q", out)
	}
}

// TestReplContinueCastsClearThenContinue: `continue` pumps "clear" then "c"
// into every session, in that order per session.
func TestReplContinueCastsClearThenContinue(t *testing.T) {
	io := &scriptedIO{script: []string{"continue"}}
	c := New(io)
	for rank := 0; rank < 2; rank++ {
		if err := c.SessionStart("debugee", rank, nil, "worker"); err != nil {
			t.Fatalf("session_start rank %d: %v", rank, err)
		}
	}

	rank0 := readLines(t, c, "debugee", 0, 2)
	rank1 := readLines(t, c, "debugee", 1, 2)

	if quit := c.replStep(context.Background(), io); quit {
		t.Fatalf("unexpected quit")
	}

	for rank, ch := range []<-chan string{rank0, rank1} {
		for _, want := range []string{"clear\n", "c\n"} {
			select {
			case got := <-ch:
				if got != want {
					t.Fatalf("rank %d: expected %q, got %q", rank, want, got)
				}
			case <-time.After(2 * time.Second):
				t.Fatalf("rank %d never received %q", rank, want)
			}
		}
	}
}
