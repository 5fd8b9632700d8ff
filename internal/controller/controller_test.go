package controller

import (
	"context"
	"testing"
	"time"

	"github.com/monarch-project/dbgmesh/internal/session"
)

type nopIO struct{}

func (nopIO) Input(ctx context.Context, prompt string) (string, error) { return "", nil }
func (nopIO) Output(ctx context.Context, msg string) error             { return nil }
func (nopIO) Quit()                                                    {}

func TestSessionStartIsIdempotent(t *testing.T) {
	c := New(nopIO{})
	if err := c.SessionStart("debugee", 0, map[string]int{"hosts": 1}, "host-a"); err != nil {
		t.Fatalf("first session_start: %v", err)
	}
	if err := c.SessionStart("debugee", 0, map[string]int{"hosts": 1}, "host-a"); err != nil {
		t.Fatalf("expected session_start to be idempotent, got: %v", err)
	}
	if c.registry.Len() != 1 {
		t.Fatalf("expected exactly one session, got %d", c.registry.Len())
	}
}

func TestSessionEndRemovesAndDetaches(t *testing.T) {
	c := New(nopIO{})
	if err := c.SessionStart("debugee", 1, nil, "host-a"); err != nil {
		t.Fatalf("session_start: %v", err)
	}
	s, err := c.registry.Get("debugee", 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	attachDone := make(chan error, 1)
	go func() { attachDone <- s.Attach(context.Background(), nopIO{}, nil, false) }()
	waitForTrue(t, func() bool { return s.Info().Active })

	if err := c.SessionEnd("debugee", 1); err != nil {
		t.Fatalf("session_end: %v", err)
	}
	select {
	case <-attachDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected session_end to detach the attached console")
	}
	if c.registry.Contains("debugee", 1) {
		t.Fatalf("expected session to be removed from the registry")
	}
}

func TestSessionEndMissingFails(t *testing.T) {
	c := New(nopIO{})
	if err := c.SessionEnd("debugee", 9); err == nil {
		t.Fatalf("expected session_end on a missing session to fail")
	}
}

func TestWaitPendingSession(t *testing.T) {
	c := New(nopIO{})
	done := make(chan error, 1)
	go func() { done <- c.WaitPendingSession(context.Background()) }()

	select {
	case <-done:
		t.Fatalf("expected WaitPendingSession to block with no sessions")
	case <-time.After(50 * time.Millisecond):
	}

	if err := c.SessionStart("debugee", 0, nil, "host-a"); err != nil {
		t.Fatalf("session_start: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WaitPendingSession: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("WaitPendingSession never returned after a session appeared")
	}
}

// TestDebugCLIBindingMismatch is testable property 7: calls from a stale
// cli_actor_id always fail, and only the most recent Enter's id is accepted.
func TestDebugCLIBindingMismatch(t *testing.T) {
	c := New(nopIO{})
	ctx := context.Background()

	if err := c.Enter(ctx, "cli-1", "reply-1"); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if err := c.DebugCLIInput("cli-other", "hello"); err == nil {
		t.Fatalf("expected a stale cli id to be rejected")
	}
	if err := c.DebugCLIInput("cli-1", "hello"); err != nil {
		t.Fatalf("expected the bound cli id to be accepted: %v", err)
	}

	if err := c.Enter(ctx, "cli-2", "reply-2"); err != nil {
		t.Fatalf("second enter: %v", err)
	}
	if err := c.DebugCLIInput("cli-1", "hello"); err == nil {
		t.Fatalf("expected the pre-empted cli id to be rejected after a new Enter")
	}
	if err := c.DebugCLIInput("cli-2", "hello"); err != nil {
		t.Fatalf("expected the newly bound cli id to be accepted: %v", err)
	}
}

func TestDebuggerReadWriteForwarding(t *testing.T) {
	c := New(nopIO{})
	if err := c.SessionStart("debugee", 2, nil, "host-a"); err != nil {
		t.Fatalf("session_start: %v", err)
	}
	s, err := c.registry.Get("debugee", 2)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	ctx := context.Background()
	readDone := make(chan []byte, 1)
	go func() {
		b, err := c.DebuggerRead(ctx, "debugee", 2, 1024)
		if err != nil {
			t.Errorf("DebuggerRead: %v", err)
		}
		readDone <- b
	}()

	attachDone := make(chan error, 1)
	go func() { attachDone <- s.Attach(ctx, fakeConsole{line: "next"}, nil, false) }()

	select {
	case b := <-readDone:
		if string(b) != "next\n" {
			t.Fatalf("expected forwarded line %q, got %q", "next\n", b)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("DebuggerRead never returned")
	}
	s.Detach()
	<-attachDone

	if err := c.DebuggerWrite(ctx, "debugee", 2, session.Frame{Payload: []byte("ok\n")}); err != nil {
		t.Fatalf("DebuggerWrite: %v", err)
	}
	if err := c.DebuggerWrite(ctx, "debugee", 99, session.Frame{Payload: []byte("ok\n")}); err == nil {
		t.Fatalf("expected DebuggerWrite to an absent rank to fail")
	}
}

type fakeConsole struct{ line string }

func (f fakeConsole) Input(ctx context.Context, prompt string) (string, error) { return f.line, nil }
func (f fakeConsole) Output(ctx context.Context, msg string) error            { return nil }
func (f fakeConsole) Quit()                                                   {}

func waitForTrue(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition never became true")
}
