package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/at-ishikawa/studycore/internal/bootstrap"
	"github.com/at-ishikawa/studycore/internal/worker"
)

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Advance active generation jobs in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, services, err := openServices(cmd.Context(), true)
			if err != nil {
				return err
			}

			lifecycle := bootstrap.New()
			lifecycle.AddShutdownHook(func(_ context.Context) error { return services.Close() })
			return lifecycle.Run(cmd.Context(), worker.New(services.Queue, cfg.Generation.Worker).Run)
		},
	}
}
