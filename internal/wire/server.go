package wire

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/monarch-project/dbgmesh/internal/debugio"
	"github.com/monarch-project/dbgmesh/internal/logger"
	"github.com/monarch-project/dbgmesh/internal/session"
)

// Handler is implemented by the controller and invoked by Server as frames
// arrive. It names exactly the wire-level endpoints of spec.md §6, so the
// server stays a thin dispatcher and the controller owns all state.
type Handler interface {
	SessionStart(actorName string, rank int, coords map[string]int, hostname string) error
	SessionEnd(actorName string, rank int) error
	DebuggerRead(ctx context.Context, actorName string, rank, size int) ([]byte, error)
	DebuggerWrite(ctx context.Context, actorName string, rank int, frame session.Frame) error

	Enter(ctx context.Context, cliActorID, cliReplyAddr string) error
	DebugCLIInput(cliActorID, line string) error
	DebugCLIOutput(ctx context.Context, cliActorID string) ([]debugio.CliMessage, error)

	// OnUndeliverable is the substrate's undeliverable-message hook: a reply
	// could not reach the peer it was destined for. Log-and-swallow only.
	OnUndeliverable(detail string)
}

// Server dispatches incoming shim and CLI WebSocket connections to a
// Handler. One process runs exactly one Server, bound to the address
// resolved from MONARCH_DEBUG_SERVER_ADDR.
type Server struct {
	handler Handler
}

// NewServer returns a Server routing frames to handler.
func NewServer(handler Handler) *Server {
	return &Server{handler: handler}
}

// Mux returns an http.Handler serving the two routes spec.md §2's data-flow
// diagram implies: /debug/shim for worker shims, /debug/cli for the CLI
// front-end.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/shim", s.handleShim)
	mux.HandleFunc("/debug/cli", s.handleCli)
	return mux
}

type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(ctx context.Context, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, b)
}

// shimConn is one worker connection plus the sessions it has announced, so
// a crashed worker's sessions can be reaped when the connection drops.
type shimConn struct {
	wsConn
	sessions map[sessionKey]struct{}
}

type sessionKey struct {
	actor string
	rank  int
}

func (s *Server) handleShim(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	ctx := r.Context()
	defer conn.CloseNow()

	sc := &shimConn{wsConn: wsConn{conn: conn}, sessions: make(map[sessionKey]struct{})}
	defer s.reapSessions(sc)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logger.Warn("wire: malformed shim frame", "err", err)
			continue
		}
		s.dispatchShim(ctx, sc, env.Type, data)
	}
}

// reapSessions ends every session the dropped connection announced and never
// ended itself — a crashed worker must not leak registry entries.
func (s *Server) reapSessions(sc *shimConn) {
	for k := range sc.sessions {
		if err := s.handler.SessionEnd(k.actor, k.rank); err == nil {
			logger.Warn("wire: reaped session of a dead worker", "actor", k.actor, "rank", k.rank)
		}
	}
}

func (s *Server) dispatchShim(ctx context.Context, sc *shimConn, msgType string, data []byte) {
	wc := &sc.wsConn
	switch msgType {
	case TypeSessionStart:
		var m SessionStart
		if err := json.Unmarshal(data, &m); err != nil {
			return
		}
		err := s.handler.SessionStart(m.ActorName, m.Rank, m.Coords, m.Hostname)
		if err == nil {
			sc.sessions[sessionKey{m.ActorName, m.Rank}] = struct{}{}
		}
		s.replyOrError(ctx, wc, err)

	case TypeSessionEnd:
		var m SessionEnd
		if err := json.Unmarshal(data, &m); err != nil {
			return
		}
		err := s.handler.SessionEnd(m.ActorName, m.Rank)
		delete(sc.sessions, sessionKey{m.ActorName, m.Rank})
		s.replyOrError(ctx, wc, err)

	case TypeDebuggerRead:
		var m DebuggerReadReq
		if err := json.Unmarshal(data, &m); err != nil {
			return
		}
		go func() {
			line, err := s.handler.DebuggerRead(ctx, m.ActorName, m.Rank, m.Size)
			if err != nil {
				s.replyOrError(ctx, wc, err)
				return
			}
			if werr := wc.writeJSON(ctx, DebuggerLine{Type: TypeDebuggerLine, ReqID: m.ReqID, Line: line}); werr != nil {
				s.handler.OnUndeliverable(werr.Error())
			}
		}()

	case TypeDebuggerWrite:
		var m DebuggerWrite
		if err := json.Unmarshal(data, &m); err != nil {
			return
		}
		frame := session.Frame{
			Payload:     m.Payload,
			Function:    m.Function,
			Line:        m.Line,
			HasLocation: m.HasLocation,
		}
		err := s.handler.DebuggerWrite(ctx, m.ActorName, m.Rank, frame)
		s.replyOrError(ctx, wc, err)

	default:
		logger.Warn("wire: unknown shim message type", "type", msgType)
	}
}

func (s *Server) replyOrError(ctx context.Context, wc *wsConn, err error) {
	var werr error
	if err != nil {
		werr = wc.writeJSON(ctx, ErrorMsg{Type: TypeError, Message: err.Error()})
	} else {
		werr = wc.writeJSON(ctx, Ack{Type: TypeAck})
	}
	if werr != nil {
		s.handler.OnUndeliverable(werr.Error())
	}
}

func (s *Server) handleCli(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	ctx := r.Context()
	defer conn.CloseNow()

	_, data, err := conn.Read(ctx)
	if err != nil {
		return
	}
	var req EnterReq
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	if req.Type != TypeEnter {
		return
	}

	if err := s.handler.Enter(ctx, req.CliActorID, req.CliReplAddr); err != nil {
		logger.Warn("wire: enter failed", "err", err)
		return
	}

	wc := &wsConn{conn: conn}
	if err := wc.writeJSON(ctx, Entered{Type: TypeEntered, CliActorID: req.CliActorID}); err != nil {
		return
	}

	done := make(chan struct{})
	go s.cliOutputLoop(ctx, wc, req.CliActorID, done)
	s.cliInputLoop(ctx, conn, req.CliActorID)
	close(done)
}

func (s *Server) cliOutputLoop(ctx context.Context, wc *wsConn, cliActorID string, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}
		msgs, err := s.handler.DebugCLIOutput(ctx, cliActorID)
		if err != nil {
			return
		}
		for _, m := range msgs {
			out := CliOutputMsg{Type: TypeCliOutput}
			switch m.Kind {
			case debugio.CliInput:
				out.Kind = "input"
				out.Prompt = m.Prompt
			case debugio.CliOutput:
				out.Kind = "output"
				out.Msg = m.Msg
			case debugio.CliQuit:
				out.Kind = "quit"
			}
			if err := wc.writeJSON(ctx, out); err != nil {
				return
			}
		}
	}
}

func (s *Server) cliInputLoop(ctx context.Context, conn *websocket.Conn, cliActorID string) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if env.Type != TypeCliInput {
			continue
		}
		var m CliInputMsg
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		if err := s.handler.DebugCLIInput(cliActorID, m.Line); err != nil {
			logger.Warn("wire: cli input rejected", "err", fmt.Errorf("cli %s: %w", cliActorID, err))
			return
		}
	}
}
