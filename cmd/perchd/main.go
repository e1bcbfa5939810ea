package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/perchlabs/perch/internal/config"
	"github.com/perchlabs/perch/internal/creds"
	"github.com/perchlabs/perch/internal/dispatch"
	"github.com/perchlabs/perch/internal/hub"
	"github.com/perchlabs/perch/internal/logger"
	"github.com/perchlabs/perch/internal/server"
	"github.com/perchlabs/perch/internal/term"
)

func main() {
	root := &cobra.Command{
		Use:   "perchd",
		Short: "perch terminal session host",
		Long:  "Hosts interactive shell sessions for remote clients over one persistent channel.",
	}
	root.AddCommand(serveCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session host",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")

			cfg := config.Default()
			if cfgPath != "" {
				loaded, err := config.Load(cfgPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}

			if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
				return fmt.Errorf("init logging: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			redactor := term.NewRedactor(cfg.Redact.Patterns, cfg.Redact.Placeholder)
			provisioner := creds.New(cfg.Credentials)
			clients := hub.NewRegistry()

			registry := term.NewRegistry(term.RegistryConfig{
				Shell:          cfg.Terminal.Shell,
				WorkspaceRoot:  cfg.Workspace.Root,
				DefaultEngine:  cfg.Terminal.DefaultEngine,
				ForceEngine:    cfg.Terminal.ForceEngine,
				BufferCapacity: cfg.Terminal.BufferCapacity,
				BufferLowWater: cfg.Terminal.BufferLowWater,
			}, term.NewSelector(), redactor, provisioner, clients)
			clients.SetDisconnectHandler(registry.ClientGone)

			dispatcher := dispatch.New(registry, clients)

			// Redaction patterns follow the config file while running.
			if cfgPath != "" {
				go config.Watch(ctx, cfgPath, func(fresh *config.Config) {
					redactor.SetPatterns(fresh.Redact.Patterns)
				})
			}

			return server.New(cfg.Server.Addr, clients, dispatcher).ListenAndServe(ctx)
		},
	}
	cmd.Flags().String("config", "", "path to perch.yaml")
	return cmd
}
