package wire

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

func dialURL(addr Addr, path string) string {
	return fmt.Sprintf("ws://%s%s", addr.HostPort(), path)
}

// ShimClient is the worker-side connection to the controller used by
// internal/shim. Calls on one connection are strictly sequential —
// "send one frame, read the next" — so there is no request/response
// demultiplexing. The shim therefore holds two ShimClients: DebuggerRead
// blocks until a human types a line, and must not stall the connection
// carrying session lifecycle and debugger output.
type ShimClient struct {
	conn *websocket.Conn
}

// DialShim opens the worker-side connection to the controller at addr.
func DialShim(ctx context.Context, addr Addr) (*ShimClient, error) {
	conn, _, err := websocket.Dial(ctx, dialURL(addr, "/debug/shim"), nil)
	if err != nil {
		return nil, fmt.Errorf("wire: dial shim endpoint: %w", err)
	}
	return &ShimClient{conn: conn}, nil
}

// Close tears down the connection.
func (c *ShimClient) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "shim done")
}

func (c *ShimClient) write(ctx context.Context, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageText, b)
}

func (c *ShimClient) readEnvelope(ctx context.Context) (Envelope, []byte, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return Envelope{}, nil, err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, nil, err
	}
	return env, data, nil
}

func (c *ShimClient) roundTrip(ctx context.Context, req any) ([]byte, error) {
	if err := c.write(ctx, req); err != nil {
		return nil, err
	}
	env, data, err := c.readEnvelope(ctx)
	if err != nil {
		return nil, err
	}
	if env.Type == TypeError {
		var e ErrorMsg
		_ = json.Unmarshal(data, &e)
		return nil, fmt.Errorf("wire: %s", e.Message)
	}
	return data, nil
}

// SessionStart announces a new paused rank.
func (c *ShimClient) SessionStart(ctx context.Context, actorName string, rank int, coords map[string]int, hostname string) error {
	_, err := c.roundTrip(ctx, SessionStart{
		Type: TypeSessionStart, ActorName: actorName, Rank: rank, Coords: coords, Hostname: hostname,
	})
	return err
}

// SessionEnd announces that the paused rank has resumed.
func (c *ShimClient) SessionEnd(ctx context.Context, actorName string, rank int) error {
	_, err := c.roundTrip(ctx, SessionEnd{Type: TypeSessionEnd, ActorName: actorName, Rank: rank})
	return err
}

// DebuggerRead requests the next line of console input for the local
// interactive debugger, truncated to size.
func (c *ShimClient) DebuggerRead(ctx context.Context, actorName string, rank, size int) ([]byte, error) {
	data, err := c.roundTrip(ctx, DebuggerReadReq{
		Type: TypeDebuggerRead, ActorName: actorName, Rank: rank, Size: size, ReqID: uuid.NewString(),
	})
	if err != nil {
		return nil, err
	}
	var line DebuggerLine
	if err := json.Unmarshal(data, &line); err != nil {
		return nil, err
	}
	return line.Line, nil
}

// DebuggerWrite forwards one frame of interactive-debugger output.
func (c *ShimClient) DebuggerWrite(ctx context.Context, actorName string, rank int, payload []byte, function string, line int, hasLocation bool) error {
	_, err := c.roundTrip(ctx, DebuggerWrite{
		Type: TypeDebuggerWrite, ActorName: actorName, Rank: rank,
		Payload: payload, Function: function, Line: line, HasLocation: hasLocation,
	})
	return err
}

// CLIClient is the controller-facing connection used by cmd/dbgcli. Reader
// and writer run independently — spec.md §4.7's "in parallel" fan-out of
// stdin reads and the output-draining loop.
type CLIClient struct {
	conn   *websocket.Conn
	Stream chan CliOutputMsg
}

// DialCLI opens the CLI front-end's connection and performs `enter`.
func DialCLI(ctx context.Context, addr Addr, cliActorID string) (*CLIClient, error) {
	conn, _, err := websocket.Dial(ctx, dialURL(addr, "/debug/cli"), nil)
	if err != nil {
		return nil, fmt.Errorf("wire: dial cli endpoint: %w", err)
	}
	b, err := json.Marshal(EnterReq{Type: TypeEnter, CliActorID: cliActorID, CliReplAddr: cliActorID})
	if err != nil {
		conn.CloseNow()
		return nil, err
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("wire: send enter: %w", err)
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("wire: await entered: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != TypeEntered {
		conn.CloseNow()
		return nil, fmt.Errorf("wire: enter rejected")
	}

	c := &CLIClient{conn: conn, Stream: make(chan CliOutputMsg, 64)}
	go c.readLoop(ctx)
	return c, nil
}

func (c *CLIClient) readLoop(ctx context.Context) {
	defer close(c.Stream)
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		var msg CliOutputMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		select {
		case c.Stream <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// SendLine forwards one line typed at the local terminal.
func (c *CLIClient) SendLine(ctx context.Context, line string) error {
	b, err := json.Marshal(CliInputMsg{Type: TypeCliInput, Line: line})
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageText, b)
}

// Close tears down the connection.
func (c *CLIClient) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "cli done")
}
