package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/at-ishikawa/studycore/internal/app"
	"github.com/at-ishikawa/studycore/internal/config"
)

var (
	configFile string
	ownerID    string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		if _, fprintfErr := fmt.Fprintf(os.Stderr, "failed to execute a command: %+v\n", err); fprintfErr != nil {
			panic(fmt.Errorf("failed to output an error: %w. Reason: %w", err, fprintfErr))
		}
		os.Exit(1)
	}
	os.Exit(0)
}

func newRootCommand() *cobra.Command {
	var debugMode bool
	rootCommand := &cobra.Command{
		Use:           "studycore",
		Short:         "Spaced repetition study items and LLM-generated decks and exams",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogger(debugMode)
			return nil
		},
	}
	rootCommand.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCommand.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug mode")
	rootCommand.PersistentFlags().StringVar(&ownerID, "owner", defaultOwner(), "owner id of the items and jobs (env STUDYCORE_OWNER)")

	rootCommand.AddCommand(
		newMigrateCommand(),
		newItemCommand(),
		newJobCommand(),
		newWorkerCommand(),
	)
	return rootCommand
}

func defaultOwner() string {
	if owner := os.Getenv("STUDYCORE_OWNER"); owner != "" {
		return owner
	}
	return "local"
}

// setupLogger configures the default logger based on debug mode
func setupLogger(debugMode bool) {
	logLevel := slog.LevelInfo
	if debugMode {
		logLevel = slog.LevelDebug
	}

	slog.SetDefault(
		slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level:     logLevel,
			AddSource: debugMode,
		})),
	)
}

func loadConfig() (*config.Config, error) {
	loader, err := config.NewConfigLoader(configFile)
	if err != nil {
		return nil, fmt.Errorf("config.NewConfigLoader() > %w", err)
	}
	return loader.Load()
}

// openServices loads the configuration and opens the services a command
// needs. The caller closes them.
func openServices(ctx context.Context, withLLM bool) (*config.Config, *app.Services, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("loadConfig() > %w", err)
	}
	services, err := app.Open(ctx, cfg, withLLM)
	if err != nil {
		return nil, nil, err
	}
	return cfg, services, nil
}

func closeServices(services *app.Services) {
	if err := services.Close(); err != nil {
		slog.Default().Warn("failed to close services", "error", err)
	}
}
