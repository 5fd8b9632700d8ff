// Command dbgcli is the external CLI front-end: it binds to a running
// controller, relays terminal stdin/stdout through it, and survives
// abrupt disconnect — spec.md §4.7.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/monarch-project/dbgmesh/internal/config"
	"github.com/monarch-project/dbgmesh/internal/logger"
	"github.com/monarch-project/dbgmesh/internal/wire"
)

// exitSignalKilled is returned to the shell when the CLI is torn down by a
// signal rather than a graceful `quit` — spec.md §6's exit code contract.
const exitSignalKilled = 130

// exitReconnect is an internal sentinel from runLoop: the controller
// connection dropped and the dial loop should retry.
const exitReconnect = -1

const (
	redialBase = 250 * time.Millisecond
	redialMax  = 5 * time.Second
)

// redialDelay is the wait between failed dials: it starts at redialBase,
// doubles per consecutive failure up to redialMax, and a successful
// connection resets it.
type redialDelay struct {
	cur time.Duration
}

func (r *redialDelay) next() time.Duration {
	if r.cur == 0 {
		r.cur = redialBase
	} else if r.cur < redialMax {
		r.cur *= 2
		if r.cur > redialMax {
			r.cur = redialMax
		}
	}
	return r.cur
}

func (r *redialDelay) reset() {
	r.cur = 0
}

func main() {
	var logLevel string
	var configPath string

	root := &cobra.Command{
		Use:   "dbgcli",
		Short: "distributed interactive debugger CLI front-end",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.Init(logLevel, ""); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			if configPath == "" {
				p, err := config.DefaultPath()
				if err != nil {
					return err
				}
				configPath = p
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			addr, err := cfg.ResolveAddr()
			if err != nil {
				return fmt.Errorf("resolve controller address: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			// One stdin reader for the process lifetime: reconnects must not
			// stack up competing scanners over the same terminal.
			lines := make(chan string)
			go func() {
				defer close(lines)
				scanner := bufio.NewScanner(os.Stdin)
				for scanner.Scan() {
					lines <- scanner.Text()
				}
			}()

			// Each (re)connection binds a fresh cli actor id; the controller's
			// next enter cleanly pre-empts the previous binding.
			var delay redialDelay
			for {
				cliActorID := uuid.NewString()
				client, err := wire.DialCLI(ctx, addr, cliActorID)
				if err != nil {
					if ctx.Err() != nil {
						os.Exit(exitSignalKilled)
					}
					logger.Warn("dbgcli: connect failed, retrying", "addr", addr.HostPort(), "err", err)
					select {
					case <-time.After(delay.next()):
					case <-ctx.Done():
						os.Exit(exitSignalKilled)
					}
					continue
				}
				delay.reset()

				code := runLoop(ctx, client, lines)
				client.Close()
				if code != exitReconnect {
					os.Exit(code)
				}
				logger.Warn("dbgcli: connection lost, reconnecting")
			}
		},
	}

	root.Flags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	root.Flags().StringVar(&configPath, "config", "", "path to config.yaml (default ~/.config/dbgmesh/config.yaml)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// runLoop relays terminal input to the controller and prints whatever the
// controller streams back, until the controller sends CliQuit (exit 0), the
// connection drops (exitReconnect), or ctx is cancelled by a signal.
func runLoop(ctx context.Context, client *wire.CLIClient, lines <-chan string) int {
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return 0
			}
			if err := client.SendLine(ctx, line); err != nil {
				logger.Warn("dbgcli: send line failed", "err", err)
				return exitReconnect
			}

		case msg, ok := <-client.Stream:
			if !ok {
				return exitReconnect
			}
			switch msg.Kind {
			case "output":
				fmt.Print(msg.Msg)
			case "input":
				fmt.Print(msg.Prompt)
			case "quit":
				return 0
			}

		case <-ctx.Done():
			return exitSignalKilled
		}
	}
}
