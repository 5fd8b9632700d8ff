package controller

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/monarch-project/dbgmesh/internal/command"
	"github.com/monarch-project/dbgmesh/internal/debugio"
	"github.com/monarch-project/dbgmesh/internal/logger"
	"github.com/monarch-project/dbgmesh/internal/session"
)

const banner = "MONARCH DEBUGGER\ntype 'help' for commands, 'list' to see paused ranks\n"

// RunLocalConsole starts the console task against the controller's own
// terminal. It is the default console before any CLI calls Enter.
func (c *Controller) RunLocalConsole(ctx context.Context) {
	consoleCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.consoleCancel = cancel
	io := c.io
	c.mu.Unlock()
	c.runConsole(consoleCtx, io)
}

// runConsole is the REPL loop body spawned by Enter (or RunLocalConsole):
// spec.md §4.5's numbered steps 1-4.
func (c *Controller) runConsole(ctx context.Context, io debugio.DebugIO) {
	select {
	case <-time.After(consoleStartupDelay):
	case <-ctx.Done():
		return
	}

	if err := io.Output(ctx, banner); err != nil {
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}
		if quit := c.replStep(ctx, io); quit {
			return
		}
	}
}

// replStep reads, parses, and dispatches exactly one command, returning
// true once the user has typed `quit`. Any panic inside dispatch is caught
// here so one bad command never kills the console — spec.md §7's "Generic
// REPL exception" policy.
func (c *Controller) replStep(ctx context.Context, io debugio.DebugIO) (quit bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("controller: recovered from repl panic", "panic", r)
			_ = io.Output(ctx, fmt.Sprintf("Error processing command: %v\n", r))
		}
	}()

	line, err := io.Input(ctx, "> ")
	if err != nil {
		return false
	}

	cmd, ok := command.Parse(line)
	if !ok {
		_ = io.Output(ctx, fmt.Sprintf("Error parsing input: %q\n", line))
		return false
	}

	switch cmd.Kind {
	case command.KindHelp:
		_ = io.Output(ctx, command.HelpText()+"\n")

	case command.KindList:
		c.List(ctx, true)

	case command.KindAttach:
		s, err := c.registry.Get(cmd.ActorName, cmd.Rank)
		if err != nil {
			_ = io.Output(ctx, fmt.Sprintf("Error processing command: %v\n", err))
			return false
		}
		if err := s.Attach(ctx, io, nil, false); err != nil && ctx.Err() == nil {
			logger.Warn("controller: attach ended with error", "err", err)
		}

	case command.KindContinue:
		if err := c.cast(ctx, session.All(), "clear", io); err != nil && ctx.Err() == nil {
			logger.Warn("controller: continue (clear) failed", "err", err)
		}
		if err := c.cast(ctx, session.All(), "c", io); err != nil && ctx.Err() == nil {
			logger.Warn("controller: continue (c) failed", "err", err)
		}

	case command.KindCast:
		sel := session.ForActorRanks(cmd.ActorName, cmd.Ranks)
		if err := c.cast(ctx, sel, cmd.PdbCommand, io); err != nil && ctx.Err() == nil {
			_ = io.Output(ctx, fmt.Sprintf("Error processing command: %v\n", err))
		}

	case command.KindQuit:
		io.Quit()
		return true
	}
	return false
}

func (c *Controller) cast(ctx context.Context, sel session.Selection, cmd string, io debugio.DebugIO) error {
	sessions := c.registry.Iter(sel)
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range sessions {
		s := s
		line := cmd
		g.Go(func() error {
			return s.Attach(gctx, io, &line, true)
		})
	}
	return g.Wait()
}

func renderList(infos []session.Info) string {
	if len(infos) == 0 {
		return "no active debug sessions\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s active debug session(s)\n", humanize.Comma(int64(len(infos))))
	fmt.Fprintf(&b, "%-16s %6s %-24s %-16s %-20s %s\n", "Actor Name", "Rank", "Coords", "Hostname", "Function", "Line No.")
	for _, info := range infos {
		fmt.Fprintf(&b, "%-16s %6d %-24s %-16s %-20s %d\n",
			info.Key.ActorName, info.Key.Rank, formatCoords(info.Coords), info.Hostname, info.Function, info.Line)
	}
	return b.String()
}

func formatCoords(coords map[string]int) string {
	if len(coords) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(coords))
	for k := range coords {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, coords[k]))
	}
	return strings.Join(parts, ",")
}
