package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/plumb/logger"
	"github.com/teranos/plumb/server"
	"github.com/teranos/plumb/service"
)

// ServerCmd serves the HTTP API until interrupted
var ServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Serve the HTTP API",
	Long: `Serve the plumb HTTP API.

Pipelines, executions, templates and health are exposed under /api, execution
logs stream over a websocket at /api/executions/{id}/stream and Prometheus
metrics are served at /metrics.

Executions left running by a previous process are marked failed on start.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		cmd.SetContext(ctx)

		return withService(cmd, func(ctx context.Context, svc *service.Service) error {
			if n, err := svc.RecoverInterrupted(ctx); err != nil {
				logger.Warnw("Failed to recover interrupted executions", logger.FieldError, err)
			} else if n > 0 {
				pterm.Warning.Printf("Marked %d interrupted executions as failed\n", n)
			}

			cfg := svc.Config()
			port := cfg.GetServerPort()
			if cmd.Flags().Changed("port") {
				port, _ = cmd.Flags().GetInt("port")
			}

			srv := server.New(svc, server.Options{
				AllowedOrigins: cfg.Server.AllowedOrigins,
				PollInterval:   svc.StreamPollInterval(),
				Gatherer:       svc.Gatherer(),
			}, logger.Logger.Named("server"))

			addr := fmt.Sprintf(":%d", port)
			pterm.Info.Printf("Serving plumb API on http://localhost%s\n", addr)
			logger.Infow("Server starting", "addr", addr, logger.FieldWorkers, cfg.Engine.Workers)
			return srv.ListenAndServe(ctx, addr, closeTimeout)
		})
	},
}

func init() {
	ServerCmd.Flags().IntP("port", "p", 0, "Port to listen on (overrides server.port)")
}
