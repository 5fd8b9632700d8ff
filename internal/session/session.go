package session

import (
	"context"
	"fmt"
	"sync"
)

// DebugIO is the narrow console input/output abstraction a Session drives
// during an attach. It mirrors internal/debugio.DebugIO structurally so
// this package never has to import it (avoiding an import cycle) —
// debugio.DebugIO satisfies this interface.
type DebugIO interface {
	Input(ctx context.Context, prompt string) (string, error)
	Output(ctx context.Context, msg string) error
}

type tokenKind int

const (
	tokenDetach tokenKind = iota
	tokenRead
	tokenWrite
)

type token struct {
	kind  tokenKind
	frame Frame
}

// Session is the per-rank state machine described in spec.md §3/§4.3. It
// proxies one remote stopped debugger: writes it emits are buffered for
// replay, inputs typed at an attached console are queued for delivery, and
// the whole thing is driven by a message queue so attach/detach/cancel can
// interleave safely.
type Session struct {
	key      Key
	coords   map[string]int
	hostname string

	mu                    sync.Mutex
	active                bool
	outputsSinceLastInput []Frame
	functionLineNo        *FuncLine
	needRead              bool

	messageQueue       chan token
	pendingSendToActor chan []byte
}

// New creates a Session for the given identity. coords is copied so the
// caller's map can't mutate it later.
func New(key Key, coords map[string]int, hostname string) *Session {
	c := make(map[string]int, len(coords))
	for k, v := range coords {
		c[k] = v
	}
	return &Session{
		key:                key,
		coords:             c,
		hostname:           hostname,
		messageQueue:       make(chan token, 8),
		pendingSendToActor: make(chan []byte, 1),
	}
}

func (s *Session) Key() Key               { return s.key }
func (s *Session) Hostname() string       { return s.hostname }
func (s *Session) Coords() map[string]int { return s.coords }

// Info returns a lock-protected snapshot for `list` and selection filters.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{
		Key:      s.key,
		Coords:   s.coords,
		Hostname: s.hostname,
		Active:   s.active,
	}
	if s.functionLineNo != nil {
		info.Function = s.functionLineNo.Function
		info.Line = s.functionLineNo.Line
		info.HasLoc = true
	}
	return info
}

// Detach posts a Detach token if the session is currently attached. It is
// a no-op otherwise (mirrors spec.md §4.3's `detach()`: "if active").
func (s *Session) Detach() {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if !active {
		return
	}
	select {
	case s.messageQueue <- token{kind: tokenDetach}:
	default:
		// Queue full: a Detach is already pending, which is equivalent.
	}
}

// DebuggerRead is called by the controller on behalf of the remote
// debugger: it posts a Read token and blocks for the next line an attached
// console commits, truncated to size. It returns no more than size bytes
// (spec.md §8 invariant 6).
func (s *Session) DebuggerRead(ctx context.Context, size int) ([]byte, error) {
	select {
	case s.messageQueue <- token{kind: tokenRead}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case line := <-s.pendingSendToActor:
		if size >= 0 && len(line) > size {
			line = line[:size]
		}
		return line, nil
	case <-ctx.Done():
		// Cancellation between Read being queued and a line arriving: the
		// controller's attach loop (not us) is responsible for setting
		// need_read before it unwinds — see Session.attachLoop.
		return nil, ctx.Err()
	}
}

// DebuggerWrite is called by the controller on behalf of the remote
// debugger: it updates FunctionLineNo (if the frame carries location) and
// posts a Write token so any attached console observes it in order.
func (s *Session) DebuggerWrite(ctx context.Context, frame Frame) error {
	if frame.HasLocation {
		s.mu.Lock()
		s.functionLineNo = &FuncLine{Function: frame.Function, Line: frame.Line}
		s.mu.Unlock()
	}
	select {
	case s.messageQueue <- token{kind: tokenWrite, frame: frame}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Attach starts the per-session coroutine described in spec.md §4.3's
// pseudocode and blocks until it returns (Detach, Quit of the outer REPL,
// or — when presetLine is set — after the single preset command has been
// forwarded). suppressOutput is used by cast/continue: console input is
// absent (presetLine supplies it) and writes are buffered but not echoed.
func (s *Session) Attach(ctx context.Context, io DebugIO, presetLine *string, suppressOutput bool) error {
	s.mu.Lock()
	s.active = true
	replay := append([]Frame(nil), s.outputsSinceLastInput...)
	needRead := s.needRead
	s.needRead = false // consume the latch; re-set by setNeedRead if this attach aborts again
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
	}()

	if !suppressOutput && len(replay) > 0 {
		if err := io.Output(ctx, "<last pdb output ... follows>\n"); err != nil {
			return s.abortAttach(needRead, err)
		}
		for _, f := range replay {
			if err := io.Output(ctx, string(f.Payload)); err != nil {
				return s.abortAttach(needRead, err)
			}
		}
	}

	return s.attachLoop(ctx, io, presetLine, suppressOutput, needRead)
}

func (s *Session) attachLoop(ctx context.Context, io DebugIO, presetLine *string, suppressOutput, needRead bool) error {
	for {
		var tok token
		if needRead {
			needRead = false
			tok = token{kind: tokenRead}
		} else {
			select {
			case tok = <-s.messageQueue:
			case <-ctx.Done():
				// No Read is in flight here, so need_read is untouched:
				// nothing has been consumed from the queue that a future
				// attach would need to re-serve.
				return ctx.Err()
			}
		}

		switch tok.kind {
		case tokenDetach:
			return nil

		case tokenRead:
			breakAfter := presetLine != nil
			line, err := s.consumeRead(ctx, io, presetLine)
			presetLine = nil
			if err != nil {
				s.setNeedRead()
				return err
			}
			if line == nil {
				// "detach" typed at the prompt: re-serve the read on next attach.
				return nil
			}
			s.mu.Lock()
			select {
			case s.pendingSendToActor <- line:
				s.outputsSinceLastInput = nil
			default:
				// Should not happen: one Read is in flight at a time.
				s.mu.Unlock()
				s.setNeedRead()
				return fmt.Errorf("session %s: pending_send_to_actor full", s.key)
			}
			s.mu.Unlock()
			if breakAfter {
				return nil
			}

		case tokenWrite:
			s.mu.Lock()
			s.outputsSinceLastInput = append(s.outputsSinceLastInput, tok.frame)
			s.mu.Unlock()
			if !suppressOutput {
				if err := io.Output(ctx, string(tok.frame.Payload)); err != nil {
					return err
				}
			}
		}
	}
}

// consumeRead reads one line (preset or from the console) and reports it
// for forwarding. A nil, nil return means the user typed "detach" at the
// prompt — the caller must treat that like a Detach without consuming the
// need_read latch.
func (s *Session) consumeRead(ctx context.Context, io DebugIO, presetLine *string) ([]byte, error) {
	var line string
	if presetLine != nil {
		line = *presetLine
	} else {
		l, err := io.Input(ctx, "(Pdb) ")
		if err != nil {
			return nil, err
		}
		line = l
	}
	if trimmed := trimRight(line); trimmed == "detach" {
		s.setNeedRead()
		return nil, nil
	}
	return []byte(line + "\n"), nil
}

// abortAttach re-arms the need_read latch (if this attach had consumed it)
// before surfacing err, so an attach that dies during replay still re-serves
// the outstanding remote read on the next attach.
func (s *Session) abortAttach(needRead bool, err error) error {
	if needRead {
		s.setNeedRead()
	}
	return err
}

func (s *Session) setNeedRead() {
	s.mu.Lock()
	s.needRead = true
	s.mu.Unlock()
}

func trimRight(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r' || s[len(s)-1] == ' ' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	return s
}
