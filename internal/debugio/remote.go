package debugio

import (
	"context"
)

// CliMessageKind discriminates the tagged union the controller streams to a
// connected CLI — spec.md §6's CliInput/CliOutput/CliQuit.
type CliMessageKind int

const (
	CliInput CliMessageKind = iota
	CliOutput
	CliQuit
)

// CliMessage is one entry in the stream `debug_cli_output` drains.
type CliMessage struct {
	Kind   CliMessageKind
	Prompt string
	Msg    string
}

// RemoteCLI is the DebugIO implementation bound to a connected CLI
// front-end. Input posts a CliInput prompt onto the output queue and then
// waits for a line pushed by PutInput; Output posts CliOutput; Quit posts
// CliQuit. TakeOutput/PutInput are the controller's wire-facing hooks,
// called from debug_cli_output/debug_cli_input.
type RemoteCLI struct {
	outbox chan CliMessage
	inbox  chan string
}

// NewRemoteCLI returns a RemoteCLI with generously buffered queues — the
// controller is the only producer/consumer on either side, but a burst of
// writes from a fast worker must not block the session coroutine.
func NewRemoteCLI() *RemoteCLI {
	return &RemoteCLI{
		outbox: make(chan CliMessage, 64),
		inbox:  make(chan string, 8),
	}
}

func (r *RemoteCLI) Input(ctx context.Context, prompt string) (string, error) {
	select {
	case r.outbox <- CliMessage{Kind: CliInput, Prompt: prompt}:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case line := <-r.inbox:
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *RemoteCLI) Output(ctx context.Context, msg string) error {
	select {
	case r.outbox <- CliMessage{Kind: CliOutput, Msg: msg}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *RemoteCLI) Quit() {
	select {
	case r.outbox <- CliMessage{Kind: CliQuit}:
	default:
		// Outbox full: the CLI is almost certainly gone already.
	}
}

// TakeOutput drains every message currently queued, blocking for at least
// the first one. ctx cancellation (the CLI's HTTP handler returning, or the
// controller shutting down) aborts the wait.
func (r *RemoteCLI) TakeOutput(ctx context.Context) ([]CliMessage, error) {
	select {
	case first := <-r.outbox:
		msgs := []CliMessage{first}
		for {
			select {
			case m := <-r.outbox:
				msgs = append(msgs, m)
			default:
				return msgs, nil
			}
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PutInput enqueues one line typed at the remote CLI's terminal.
func (r *RemoteCLI) PutInput(line string) {
	r.inbox <- line
}
