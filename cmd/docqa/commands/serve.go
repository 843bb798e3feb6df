package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docqa/docqa-go/internal/history"
	"github.com/docqa/docqa-go/internal/logging"
	"github.com/docqa/docqa-go/internal/server"
)

// NewServeCmd constructs the `docqa serve` command, which starts the HTTP
// server exposing the document QA API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the docqa HTTP server",
		Long: `Start the docqa HTTP server.

The server exposes a REST API for document upload, chat, catalog management,
stats, health/readiness probes, and Prometheus metrics on /metrics.

Examples:
  docqa serve
  docqa serve --port 9090
  DOCQA_API_KEY=secret docqa serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.NewWith(cfg.Logging.Level, cfg.Logging.Format)
			ctx = logging.WithLogger(ctx, log)

			svcs, err := buildServices(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer svcs.close()

			// Conversation history store. Set history.db_path to "disabled"
			// (or DOCQA_HISTORY_DB=disabled) to run without persistence.
			var hist history.Store
			if cfg.History.DBPath != "disabled" && cfg.History.DBPath != "" {
				hs, err := history.Open(cfg.History.DBPath)
				if err != nil {
					log.Warn("history: failed to open store, disabling", slog.Any("error", err))
				} else {
					hist = hs
					defer func() { _ = hs.Close() }()
					log.Info("history: store opened", slog.String("path", cfg.History.DBPath))
				}
			} else {
				log.Info("history: disabled")
			}

			pingers := []server.Pinger{svcs.index}
			if p, ok := svcs.embedder.(server.Pinger); ok {
				pingers = append(pingers, p)
			}

			if host == "" {
				host = cfg.Server.Host
			}
			if port == 0 {
				port = cfg.Server.Port
			}

			srv, err := server.New(svcs.pipeline, hist, &server.Config{
				Host:         host,
				Port:         port,
				Namespace:    namespaceFlag,
				HistoryDepth: cfg.History.Depth,
				Logger:       log,
				Pingers:      pingers,
				RateLimit:    cfg.Server.RateLimit,
				RateBurst:    cfg.Server.RateBurst,
				APIKey:       cfg.Server.APIKey,
			}, nil)
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Host address to bind to (default from config)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "TCP port to listen on (default from config)")

	return cmd
}
