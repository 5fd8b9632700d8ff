// Package wire implements the JSON-over-WebSocket envelope protocol that
// carries controller traffic in both directions: worker shim <-> controller
// (the "debugger_*" endpoints) and CLI front-end <-> controller (the
// "debug_cli_*" endpoints and the CliMessage stream). It is the concrete
// stand-in for the actor-mesh's point-to-point messaging substrate, which
// spec.md §1 explicitly puts out of scope.
package wire

// Message type discriminators. Every frame on the wire is an Envelope
// followed by a type-specific payload, routed by Type.
const (
	TypeSessionStart  = "session.start"
	TypeSessionEnd    = "session.end"
	TypeDebuggerRead  = "debugger.read"
	TypeDebuggerLine  = "debugger.line"
	TypeDebuggerWrite = "debugger.write"

	TypeEnter     = "enter"
	TypeEntered   = "entered"
	TypeCliInput  = "cli.input"
	TypeCliOutput = "cli.output"
	TypeCliQuit   = "cli.quit"

	TypeAck   = "ack"
	TypeError = "error"
)

// Envelope wraps every frame with a type field for routing, mirroring the
// relay protocol's discriminator pattern.
type Envelope struct {
	Type string `json:"type"`
}

// SessionStart announces a new paused rank — spec.md §4.5's
// debugger_session_start endpoint.
type SessionStart struct {
	Type      string         `json:"type"`
	ActorName string         `json:"actor_name"`
	Rank      int            `json:"rank"`
	Coords    map[string]int `json:"coords"`
	Hostname  string         `json:"hostname"`
}

// SessionEnd announces that a previously paused rank has resumed.
type SessionEnd struct {
	Type      string `json:"type"`
	ActorName string `json:"actor_name"`
	Rank      int    `json:"rank"`
}

// DebuggerReadReq is the shim's request for the next line of console input
// destined for its local interactive debugger.
type DebuggerReadReq struct {
	Type      string `json:"type"`
	ActorName string `json:"actor_name"`
	Rank      int    `json:"rank"`
	Size      int    `json:"size"`
	ReqID     string `json:"req_id"`
}

// DebuggerLine answers a DebuggerReadReq with up to Size bytes.
type DebuggerLine struct {
	Type  string `json:"type"`
	ReqID string `json:"req_id"`
	Line  []byte `json:"line"`
}

// DebuggerWrite carries one frame of interactive-debugger output from a
// shim to the controller, optionally tagged with source location.
type DebuggerWrite struct {
	Type        string `json:"type"`
	ActorName   string `json:"actor_name"`
	Rank        int    `json:"rank"`
	Payload     []byte `json:"payload"`
	Function    string `json:"function,omitempty"`
	Line        int    `json:"line,omitempty"`
	HasLocation bool   `json:"has_location"`
}

// EnterReq is sent once by a connecting CLI — spec.md §4.5's `enter`.
type EnterReq struct {
	Type        string `json:"type"`
	CliActorID  string `json:"cli_actor_id"`
	CliReplAddr string `json:"cli_reply_addr"`
}

// Entered acknowledges a successful enter.
type Entered struct {
	Type       string `json:"type"`
	CliActorID string `json:"cli_actor_id"`
}

// CliInputMsg carries one line typed at the remote CLI's terminal.
type CliInputMsg struct {
	Type       string `json:"type"`
	Line       string `json:"line"`
	CliActorID string `json:"cli_actor_id"`
}

// CliOutputMsg is one entry of the tagged union spec.md §6 defines for the
// CLI message stream: a prompt request, a line of debugger text, or quit.
type CliOutputMsg struct {
	Type   string `json:"type"`
	Kind   string `json:"kind"` // "input" | "output" | "quit"
	Prompt string `json:"prompt,omitempty"`
	Msg    string `json:"msg,omitempty"`
}

// Ack is a content-free acknowledgment for shim requests with no useful
// reply payload (session.start, session.end, debugger.write). cli.input
// frames get no reply.
type Ack struct {
	Type string `json:"type"`
}

// ErrorMsg reports that the controller rejected a shim request, e.g. for an
// unknown session. Malformed frames and a stale CLI binding are logged by
// the server, not answered with an ErrorMsg.
type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
