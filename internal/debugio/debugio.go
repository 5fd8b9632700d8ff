// Package debugio implements the DebugIO abstraction a Session drives during
// an attach: a console it can prompt for input and print to, without caring
// whether that console is the controller's own terminal or a remote CLI
// relayed over the wire.
package debugio

import "context"

// DebugIO is the input/output surface a Session uses while attached.
// Input blocks until a full line is available or ctx is cancelled; Output
// writes one chunk of debugger text.
type DebugIO interface {
	Input(ctx context.Context, prompt string) (string, error)
	Output(ctx context.Context, msg string) error

	// Quit tears down the console side (closes a readline instance, or
	// notifies a remote CLI its session has ended). It is safe to call
	// more than once.
	Quit()
}
