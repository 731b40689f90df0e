package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/at-ishikawa/studycore/internal/app"
	"github.com/at-ishikawa/studycore/internal/bootstrap"
	"github.com/at-ishikawa/studycore/internal/config"
	"github.com/at-ishikawa/studycore/internal/observability"
	"github.com/at-ishikawa/studycore/internal/server"
	"github.com/at-ishikawa/studycore/internal/worker"
)

var (
	configFile string
	version    = "dev"
)

func main() {
	var debugMode bool
	rootCmd := &cobra.Command{
		Use:           "studycore-server",
		Short:         "Study and generation service HTTP server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogger(debugMode)
			return run(cmd.Context())
		},
	}
	rootCmd.Flags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.Flags().BoolVar(&debugMode, "debug", false, "Enable debug mode")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogger(debugMode bool) {
	logLevel := slog.LevelInfo
	if debugMode {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func run(ctx context.Context) error {
	lifecycle := bootstrap.New()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loadConfig() > %w", err)
	}

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, version)
	if err != nil {
		return fmt.Errorf("observability.InitTracing() > %w", err)
	}
	lifecycle.AddShutdownHook(func(ctx context.Context) error { return shutdownTracing(ctx) })

	services, err := app.Open(ctx, cfg, true)
	if err != nil {
		return err
	}
	lifecycle.AddShutdownHook(func(context.Context) error { return services.Close() })

	handler, err := server.NewHandler(cfg.Server, services.Learning, services.Queue)
	if err != nil {
		return fmt.Errorf("server.NewHandler() > %w", err)
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	lifecycle.AddShutdownHook(srv.Shutdown)

	if cfg.Generation.Worker.Enabled {
		lifecycle.Go("generation-worker", worker.New(services.Queue, cfg.Generation.Worker).Run)
	}

	return lifecycle.Run(ctx, func(ctx context.Context) error {
		slog.Default().Info("starting server", "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
}

func loadConfig() (*config.Config, error) {
	loader, err := config.NewConfigLoader(configFile)
	if err != nil {
		return nil, fmt.Errorf("config.NewConfigLoader() > %w", err)
	}
	return loader.Load()
}
