package shim

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/monarch-project/dbgmesh/internal/debugio"
	"github.com/monarch-project/dbgmesh/internal/session"
	"github.com/monarch-project/dbgmesh/internal/wire"
)

func TestCheckEntrypointMissingSource(t *testing.T) {
	err := checkEntrypoint(true, filepath.Join(t.TempDir(), "nope.go"))
	var bp *BreakpointInEntrypointError
	if err == nil {
		t.Fatalf("expected an error for a missing entrypoint source file")
	}
	if !asBreakpointErr(err, &bp) {
		t.Fatalf("expected a BreakpointInEntrypointError, got %T: %v", err, err)
	}
}

func TestCheckEntrypointPresentSource(t *testing.T) {
	f := filepath.Join(t.TempDir(), "main.go")
	if err := os.WriteFile(f, []byte("package main\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if err := checkEntrypoint(true, f); err != nil {
		t.Fatalf("expected no error when the source is present: %v", err)
	}
}

func TestCheckEntrypointSkippedForNonEntrypoint(t *testing.T) {
	if err := checkEntrypoint(false, filepath.Join(t.TempDir(), "nope.go")); err != nil {
		t.Fatalf("expected no check when the breakpoint isn't in the entrypoint module: %v", err)
	}
}

func asBreakpointErr(err error, target **BreakpointInEntrypointError) bool {
	e, ok := err.(*BreakpointInEntrypointError)
	if ok {
		*target = e
	}
	return ok
}

func TestParseLocation(t *testing.T) {
	function, line, ok := parseLocation([]byte("> pkg.Func() /home/x/main.go:42 (hits goroutine(1):1 total:1)\n"))
	if !ok {
		t.Fatalf("expected a location line to parse")
	}
	if function != "pkg.Func()" || line != 42 {
		t.Fatalf("unexpected parse: function=%q line=%d", function, line)
	}
}

func TestParseLocationNoMatch(t *testing.T) {
	if _, _, ok := parseLocation([]byte("(dlv) ")); ok {
		t.Fatalf("expected a prompt line not to parse as a location")
	}
}

// recordingHandler is a wire.Handler that records every session lifecycle
// call and write frame the shim sends, so tests can assert on the exact
// protocol traffic without a real controller.
type recordingHandler struct {
	mu     sync.Mutex
	starts []string
	ends   []string
	frames []session.Frame
}

func (h *recordingHandler) SessionStart(actor string, rank int, coords map[string]int, hostname string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.starts = append(h.starts, fmt.Sprintf("%s[%d]@%s", actor, rank, hostname))
	return nil
}

func (h *recordingHandler) SessionEnd(actor string, rank int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ends = append(h.ends, fmt.Sprintf("%s[%d]", actor, rank))
	return nil
}

func (h *recordingHandler) DebuggerRead(ctx context.Context, actor string, rank, size int) ([]byte, error) {
	return nil, errors.New("no console attached")
}

func (h *recordingHandler) DebuggerWrite(ctx context.Context, actor string, rank int, frame session.Frame) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, frame)
	return nil
}

func (h *recordingHandler) Enter(ctx context.Context, cliActorID, cliReplyAddr string) error {
	return nil
}
func (h *recordingHandler) DebugCLIInput(cliActorID, line string) error { return nil }
func (h *recordingHandler) DebugCLIOutput(ctx context.Context, cliActorID string) ([]debugio.CliMessage, error) {
	return nil, nil
}
func (h *recordingHandler) OnUndeliverable(detail string) {}

// TestPostMortemSeedsLocationFrame: a post-mortem entry announces its
// session and pushes a write frame carrying the faulting frame's
// function/line before any debugger is spawned, so `list` shows the
// failure location right away.
func TestPostMortemSeedsLocationFrame(t *testing.T) {
	h := &recordingHandler{}
	srv := httptest.NewServer(wire.NewServer(h).Mux())
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse test server url: %v", err)
	}
	addr := wire.Addr{Transport: "tcp", Host: u.Hostname(), Port: u.Port()}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sh, err := Dial(ctx, addr, "debugee", 2, map[string]int{"gpus": 2}, "worker-2")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer sh.Close()

	// The debugger spawn is expected to fail (no such binary); the session
	// announcement and the seeded location frame must already have reached
	// the controller by then, and the session must still be ended.
	_ = sh.PostMortem(ctx, Target{Binary: filepath.Join(t.TempDir(), "debugee")},
		errors.New("bad rank"), "_bad_rank", 57)

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.starts) != 1 || h.starts[0] != "debugee[2]@worker-2" {
		t.Fatalf("expected one session start for debugee[2]@worker-2, got %v", h.starts)
	}
	if len(h.frames) == 0 {
		t.Fatalf("expected a seeded write frame before the debugger spawn")
	}
	seed := h.frames[0]
	if !seed.HasLocation || seed.Function != "_bad_rank" || seed.Line != 57 {
		t.Fatalf("expected seed frame at _bad_rank:57, got %+v", seed)
	}
	payload := string(seed.Payload)
	if !strings.Contains(payload, "post-mortem") || !strings.Contains(payload, "bad rank") {
		t.Fatalf("expected the seed payload to restate the failure, got %q", payload)
	}
	if len(h.ends) != 1 || h.ends[0] != "debugee[2]" {
		t.Fatalf("expected the post-mortem session to be ended, got %v", h.ends)
	}
}
