// Package controller implements the Debug Controller (component E):
// the actor that owns the session registry, runs the console REPL, routes
// protocol messages from worker shims to sessions, and admits at most one
// CLI front-end at a time.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/monarch-project/dbgmesh/internal/debugio"
	"github.com/monarch-project/dbgmesh/internal/logger"
	"github.com/monarch-project/dbgmesh/internal/session"
)

// pollInterval is how often wait_pending_session checks the registry.
const pollInterval = time.Second

// consoleStartupDelay lets a connecting CLI finish its own setup before the
// banner is printed — spec.md §4.5 step 1.
const consoleStartupDelay = 500 * time.Millisecond

// Controller is the single-actor component described in spec.md §4.5. All
// of its state is touched only from the controller's own goroutines, plus
// the task lock guarding the console task and CLI binding.
type Controller struct {
	registry *session.Registry

	mu            sync.Mutex
	consoleCancel context.CancelFunc
	io            debugio.DebugIO
	cliActorID    string
	cliReplyAddr  string
	remoteCLI     *debugio.RemoteCLI
}

// New returns a Controller whose console starts out bound to localIO (the
// controller's own terminal) until a CLI calls Enter.
func New(localIO debugio.DebugIO) *Controller {
	return &Controller{
		registry: session.NewRegistry(),
		io:       localIO,
	}
}

// Registry exposes the controller's registry read-only to callers that
// need to inspect it directly (tests, the local REPL bootstrap).
func (c *Controller) Registry() *session.Registry { return c.registry }

// WaitPendingSession returns once at least one session exists in the
// registry, polling at pollInterval.
func (c *Controller) WaitPendingSession(ctx context.Context) error {
	if c.registry.Len() > 0 {
		return nil
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if c.registry.Len() > 0 {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Snapshot returns the registry's sessions in (actor_name, rank) order,
// with no console output — the non-printing half of the `list` endpoint
// per SPEC_FULL.md's resolution of spec.md §9's open question.
func (c *Controller) Snapshot() []session.Info {
	return c.registry.Info()
}

// List is the console-facing `list(print_output)` endpoint: it returns the
// same snapshot and, when printOutput is true, also renders it to the
// current console's output.
func (c *Controller) List(ctx context.Context, printOutput bool) []session.Info {
	infos := c.Snapshot()
	if printOutput {
		c.withIO(func(io debugio.DebugIO) {
			_ = io.Output(ctx, renderList(infos))
		})
	}
	return infos
}

func (c *Controller) withIO(fn func(debugio.DebugIO)) {
	c.mu.Lock()
	io := c.io
	c.mu.Unlock()
	if io != nil {
		fn(io)
	}
}

// Enter is invoked by a connecting CLI. It cancels any running console
// task, installs a fresh remote-CLI DebugIO bound to cliActorID, and
// spawns a new console task — spec.md §4.5.
func (c *Controller) Enter(ctx context.Context, cliActorID, cliReplyAddr string) error {
	c.mu.Lock()
	if c.consoleCancel != nil {
		c.consoleCancel()
	}
	remoteCLI := debugio.NewRemoteCLI()
	consoleCtx, cancel := context.WithCancel(context.Background())
	c.consoleCancel = cancel
	c.io = remoteCLI
	c.cliActorID = cliActorID
	c.cliReplyAddr = cliReplyAddr
	c.remoteCLI = remoteCLI
	c.mu.Unlock()

	logger.Info("controller: cli entered", "cli", cliActorID, "reply_addr", cliReplyAddr)
	go c.runConsole(consoleCtx, remoteCLI)
	return nil
}

// SessionStart implements wire.Handler — spec.md §4.5's
// debugger_session_start, idempotent per (actor_name, rank).
func (c *Controller) SessionStart(actorName string, rank int, coords map[string]int, hostname string) error {
	if c.registry.Contains(actorName, rank) {
		return nil
	}
	s := session.New(session.Key{ActorName: actorName, Rank: rank}, coords, hostname)
	return c.registry.Insert(s)
}

// SessionEnd implements wire.Handler — spec.md §4.5's
// debugger_session_end: remove the session and post a final Detach so any
// attached console's Attach call returns.
func (c *Controller) SessionEnd(actorName string, rank int) error {
	s, err := c.registry.Remove(actorName, rank)
	if err != nil {
		return err
	}
	s.Detach()
	return nil
}

// DebuggerRead implements wire.Handler, forwarding to the named session.
func (c *Controller) DebuggerRead(ctx context.Context, actorName string, rank, size int) ([]byte, error) {
	s, err := c.registry.Get(actorName, rank)
	if err != nil {
		return nil, err
	}
	return s.DebuggerRead(ctx, size)
}

// DebuggerWrite implements wire.Handler, forwarding to the named session.
func (c *Controller) DebuggerWrite(ctx context.Context, actorName string, rank int, frame session.Frame) error {
	s, err := c.registry.Get(actorName, rank)
	if err != nil {
		return err
	}
	return s.DebuggerWrite(ctx, frame)
}

// DebugCLIInput implements wire.Handler, rejecting input from a stale CLI
// binding — spec.md §7's CliBindingMismatch.
func (c *Controller) DebugCLIInput(cliActorID, line string) error {
	c.mu.Lock()
	remoteCLI, bound := c.remoteCLI, c.cliActorID
	c.mu.Unlock()
	if remoteCLI == nil || cliActorID != bound {
		return fmt.Errorf("controller: cli binding mismatch: %s is not the active cli", cliActorID)
	}
	remoteCLI.PutInput(line)
	return nil
}

// DebugCLIOutput implements wire.Handler, draining pending output for the
// currently bound CLI.
func (c *Controller) DebugCLIOutput(ctx context.Context, cliActorID string) ([]debugio.CliMessage, error) {
	c.mu.Lock()
	remoteCLI, bound := c.remoteCLI, c.cliActorID
	c.mu.Unlock()
	if remoteCLI == nil || cliActorID != bound {
		return nil, fmt.Errorf("controller: cli binding mismatch: %s is not the active cli", cliActorID)
	}
	return remoteCLI.TakeOutput(ctx)
}

// OnUndeliverable is wired to the transport's undeliverable-message hook —
// spec.md §3's lifecycle note and §4.5's "Undeliverable messages". It never
// propagates: log and move on.
func (c *Controller) OnUndeliverable(detail string) {
	logger.Warn("previous debug session was closed", "detail", detail)
}
