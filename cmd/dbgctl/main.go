// Command dbgctl runs the Debug Controller: it listens for worker shims and
// CLI front-ends, and — until a CLI connects — drives the console REPL
// against its own terminal.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/monarch-project/dbgmesh/internal/config"
	"github.com/monarch-project/dbgmesh/internal/controller"
	"github.com/monarch-project/dbgmesh/internal/debugio"
	"github.com/monarch-project/dbgmesh/internal/logger"
	"github.com/monarch-project/dbgmesh/internal/wire"
)

func main() {
	var logLevel string
	var logFile string
	var configPath string

	root := &cobra.Command{
		Use:   "dbgctl",
		Short: "distributed interactive debugger controller",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.Init(logLevel, logFile); err != nil {
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

			localIO, err := debugio.NewLocalStdio()
			if err != nil {
				return fmt.Errorf("init local console: %w", err)
			}
			ctl := controller.New(localIO)

			srv := wire.NewServer(ctl)
			httpSrv := &http.Server{
				Addr:    addr.HostPort(),
				Handler: srv.Mux(),
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			go ctl.RunLocalConsole(ctx)

			errCh := make(chan error, 1)
			go func() {
				logger.Info("dbgctl listening", "addr", addr.HostPort())
				errCh <- httpSrv.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				logger.Info("dbgctl shutting down")
				return httpSrv.Close()
			case err := <-errCh:
				if err == http.ErrServerClosed {
					return nil
				}
				return err
			}
		},
	}

	root.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.Flags().StringVar(&logFile, "log-file", "", "additional file to log to")
	root.Flags().StringVar(&configPath, "config", "", "path to config.yaml (default ~/.config/dbgmesh/config.yaml)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
