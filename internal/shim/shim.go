// Package shim implements the worker-side half of the debugger: on a
// breakpoint it spawns a local interactive debugger (Delve, this runtime's
// analogue of pdb) under a pseudo-terminal and bridges its stdio through
// the controller's debugger_read/debugger_write endpoints.
package shim

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"

	"github.com/creack/pty"

	"github.com/monarch-project/dbgmesh/internal/wire"
)

// locationRe matches Delve's "> pkg.Func() /path/file.go:42 (...)" location
// line so writes can be tagged with function/lineno metadata, mirroring the
// write-frame location tracking spec.md §3 describes.
var locationRe = regexp.MustCompile(`^> (\S+)\s+\S+:(\d+)`)

// readChunk is the maximum number of bytes bridged per pty read.
const readChunk = 4096

// Shim is the worker-side glue for one paused rank. It holds two
// connections to the controller: a debugger_read blocks until a human types
// a line, so reads get their own connection and never hold up the write
// side announcing session lifecycle and streaming debugger output.
type Shim struct {
	control   *wire.ShimClient
	reads     *wire.ShimClient
	actorName string
	rank      int
	coords    map[string]int
	hostname  string
}

// Dial connects a Shim for one rank's breakpoint to the controller at addr.
func Dial(ctx context.Context, addr wire.Addr, actorName string, rank int, coords map[string]int, hostname string) (*Shim, error) {
	control, err := wire.DialShim(ctx, addr)
	if err != nil {
		return nil, err
	}
	reads, err := wire.DialShim(ctx, addr)
	if err != nil {
		control.Close()
		return nil, err
	}
	return &Shim{control: control, reads: reads, actorName: actorName, rank: rank, coords: coords, hostname: hostname}, nil
}

// Close tears down both controller connections.
func (s *Shim) Close() error {
	err := s.control.Close()
	if rerr := s.reads.Close(); err == nil {
		err = rerr
	}
	return err
}

// BreakpointInEntrypointError is raised when a breakpoint lands in the
// process's own entry module and that module's source isn't present on
// this host — remote debugging cannot work without it, so the worker must
// fail loudly rather than silently hang inside Delve.
type BreakpointInEntrypointError struct {
	File string
}

func (e *BreakpointInEntrypointError) Error() string {
	return fmt.Sprintf("shim: breakpoint in entrypoint module %q has no source on this host", e.File)
}

// checkEntrypoint implements spec.md §4.6 step 1: verify the breakpoint's
// source file is reachable before attempting to debug it, when the
// breakpoint is in the process's main module.
func checkEntrypoint(isEntrypoint bool, file string) error {
	if !isEntrypoint {
		return nil
	}
	if _, err := os.Stat(file); err != nil {
		return &BreakpointInEntrypointError{File: file}
	}
	return nil
}

// Target describes where Delve should attach: a binary to run under `dlv
// exec`, or a running process id to attach to. Exactly one of Binary or PID
// should be set.
type Target struct {
	Binary string
	Args   []string
	PID    int

	IsEntrypoint   bool
	EntrypointFile string
}

// Enter runs one breakpoint's full lifecycle: the entrypoint check,
// announcing the session, spawning Delve under a pty and bridging its
// stdio through the controller, and announcing session end once the
// debugger exits — spec.md §4.6 steps 2-6.
func (s *Shim) Enter(ctx context.Context, target Target) error {
	if err := checkEntrypoint(target.IsEntrypoint, target.EntrypointFile); err != nil {
		return err
	}

	if err := s.control.SessionStart(ctx, s.actorName, s.rank, s.coords, s.hostname); err != nil {
		return fmt.Errorf("shim: session_start: %w", err)
	}
	defer func() {
		if err := s.control.SessionEnd(ctx, s.actorName, s.rank); err != nil {
			_ = err // worker is exiting the debug path regardless; nothing further to do
		}
	}()

	cmd := dlvCommand(ctx, target)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("shim: spawn dlv: %w", err)
	}
	defer ptmx.Close()

	writesDone := make(chan error, 1)
	go func() { writesDone <- s.bridgeWrites(ctx, ptmx) }()

	readsDone := make(chan error, 1)
	go func() { readsDone <- s.bridgeReads(ctx, ptmx) }()

	waitErr := cmd.Wait()
	<-writesDone
	<-readsDone
	return waitErr
}

// PostMortem runs the shim's lifecycle for an exception that reached the
// actor boundary: spec.md §4.6's post-mortem note and §8's S7. It registers
// the session and immediately reports the faulting frame's function/line —
// before Delve has emitted a single write — so `list` shows it right away,
// then bridges stdio exactly as Enter does for a live breakpoint. cause is
// restated in that seed frame's payload, so an attaching console sees it
// ahead of the remote debugger's own banner.
func (s *Shim) PostMortem(ctx context.Context, target Target, cause error, function string, line int) error {
	if err := s.control.SessionStart(ctx, s.actorName, s.rank, s.coords, s.hostname); err != nil {
		return fmt.Errorf("shim: post-mortem session_start: %w", err)
	}
	defer func() {
		if err := s.control.SessionEnd(ctx, s.actorName, s.rank); err != nil {
			_ = err
		}
	}()

	if err := s.control.DebuggerWrite(ctx, s.actorName, s.rank,
		[]byte(fmt.Sprintf("> %s() (post-mortem: %v)\n", function, cause)),
		function, line, true); err != nil {
		return fmt.Errorf("shim: post-mortem seed write: %w", err)
	}

	cmd := dlvCommand(ctx, target)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("shim: spawn dlv: %w", err)
	}
	defer ptmx.Close()

	writesDone := make(chan error, 1)
	go func() { writesDone <- s.bridgeWrites(ctx, ptmx) }()

	readsDone := make(chan error, 1)
	go func() { readsDone <- s.bridgeReads(ctx, ptmx) }()

	waitErr := cmd.Wait()
	<-writesDone
	<-readsDone
	return waitErr
}

func dlvCommand(ctx context.Context, target Target) *exec.Cmd {
	if target.PID != 0 {
		return exec.CommandContext(ctx, "dlv", "attach", fmt.Sprint(target.PID))
	}
	args := append([]string{"exec", target.Binary, "--"}, target.Args...)
	return exec.CommandContext(ctx, "dlv", args...)
}

// bridgeWrites reads Delve's pty output and forwards it as debugger_write
// frames, tagging each chunk with source location when Delve reports one.
func (s *Shim) bridgeWrites(ctx context.Context, ptmx *os.File) error {
	buf := make([]byte, readChunk)
	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			payload := append([]byte(nil), buf[:n]...)
			function, line, hasLoc := parseLocation(payload)
			if werr := s.control.DebuggerWrite(ctx, s.actorName, s.rank, payload, function, line, hasLoc); werr != nil {
				return werr
			}
		}
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// bridgeReads pulls console input from the controller and feeds it to
// Delve's stdin via the pty.
func (s *Shim) bridgeReads(ctx context.Context, ptmx *os.File) error {
	for {
		line, err := s.reads.DebuggerRead(ctx, s.actorName, s.rank, readChunk)
		if err != nil {
			return err
		}
		if _, err := ptmx.Write(line); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func parseLocation(payload []byte) (function string, line int, ok bool) {
	m := locationRe.FindSubmatch(payload)
	if m == nil {
		return "", 0, false
	}
	function = string(m[1])
	_, err := fmt.Sscanf(string(m[2]), "%d", &line)
	if err != nil {
		return "", 0, false
	}
	return function, line, true
}
