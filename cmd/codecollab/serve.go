package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"codecollab/internal/core"
	httpapi "codecollab/internal/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var (
		host      string
		port      int
		staticDir string
		auditPath string
		cleanup   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("host") {
				cfg.Host = host
			}
			if flags.Changed("port") {
				cfg.Port = port
			}
			if flags.Changed("static-dir") {
				cfg.StaticDir = staticDir
			}
			if flags.Changed("audit-path") {
				cfg.AuditPath = auditPath
			}
			if flags.Changed("cleanup-delay") {
				cfg.CleanupDelay = cleanup
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			setupLogger(cfg)
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (HOST)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (PORT)")
	cmd.Flags().StringVar(&staticDir, "static-dir", "", "built frontend directory (STATIC_DIR)")
	cmd.Flags().StringVar(&auditPath, "audit-path", "", "audit jsonl path (AUDIT_PATH)")
	cmd.Flags().DurationVar(&cleanup, "cleanup-delay", 0, "grace period before an empty session is deleted (SESSION_CLEANUP_DELAY)")
	return cmd
}

func serve(ctx context.Context, cfg Config) error {
	w, closeTraces, err := traceWriter(cfg.TraceFile)
	if err != nil {
		return err
	}
	defer closeTraces()
	shutdownTracing, err := setupTracing(cfg, w)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("tracing shutdown failed", "err", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	hub, err := core.NewHub(core.Config{
		CleanupDelay:    cfg.CleanupDelay,
		AuditPath:       cfg.AuditPath,
		RateLimitPerMin: cfg.RateLimitPerMin,
		RateWindow:      time.Minute,
		Metrics:         core.NewMetrics(reg),
	})
	if err != nil {
		return err
	}
	defer hub.Close()

	origins, _ := cfg.AllowedOrigins()
	api := &httpapi.Server{
		Hub:            hub,
		AllowedOrigins: origins,
		Gatherer:       reg,
		SendBuffer:     cfg.SendBuffer,
		StaticDir:      cfg.StaticDir,
	}
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("codecollab listening", "addr", srv.Addr, "origins", origins, "cleanup_delay", cfg.CleanupDelay.String(), "trace_exporter", cfg.TraceExporter)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("codecollab shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
