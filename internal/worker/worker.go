// Package worker advances active generation jobs in the background. It uses
// the same Advance call as interactive clients, so a job may be driven by
// several workers and clients at once.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/at-ishikawa/studycore/internal/config"
	"github.com/at-ishikawa/studycore/internal/generation"
)

// Advancer is the part of generation.Queue the worker drives.
type Advancer interface {
	ListActive(ctx context.Context, limit int) ([]generation.Job, error)
	Advance(ctx context.Context, ownerID, jobID string) (generation.Progress, error)
}

type Worker struct {
	queue        Advancer
	concurrency  int
	batchSize    int
	pollInterval time.Duration
	logger       *slog.Logger
}

func New(queue Advancer, cfg config.WorkerConfig) *Worker {
	w := &Worker{
		queue:        queue,
		concurrency:  cfg.Concurrency,
		batchSize:    cfg.BatchSize,
		pollInterval: cfg.PollInterval,
		logger:       slog.Default().With("component", "generation-worker"),
	}
	if w.concurrency < 1 {
		w.concurrency = 1
	}
	if w.batchSize < 1 {
		w.batchSize = 10
	}
	if w.pollInterval <= 0 {
		w.pollInterval = 2 * time.Second
	}
	return w
}

// Run polls for active jobs until ctx ends.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("starting generation worker",
		"concurrency", w.concurrency,
		"poll_interval", w.pollInterval)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		if _, err := w.Tick(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("generation worker poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			w.logger.Info("generation worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick drives one batch of active jobs and returns how many tasks were
// processed.
func (w *Worker) Tick(ctx context.Context) (int, error) {
	jobs, err := w.queue.ListActive(ctx, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list active jobs: %w", err)
	}

	processed := make([]int, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for i, job := range jobs {
		g.Go(func() error {
			n, err := w.drive(gctx, job)
			processed[i] = n
			return err
		})
	}
	err = g.Wait()

	total := 0
	for _, n := range processed {
		total += n
	}
	return total, err
}

// drive advances one job until it is done, another caller holds it, or an
// error occurs. Only context errors are returned; everything else is logged
// and retried on the next poll.
func (w *Worker) drive(ctx context.Context, job generation.Job) (processed int, err error) {
	logger := w.logger.With("job_id", job.ID)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("generation worker panic", "panic", r)
			err = nil
		}
	}()

	// Every advance finishes a task or the job, so TargetCount+1 calls are
	// enough unless another caller interferes.
	for i := 0; i <= job.TargetCount; i++ {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		p, err := w.queue.Advance(ctx, job.OwnerID, job.ID)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return processed, err
			}
			if !errors.Is(err, generation.ErrJobNotActive) && !errors.Is(err, generation.ErrJobNotFound) {
				logger.Warn("advance failed", "error", err)
			}
			return processed, nil
		}
		if p.InFlight {
			return processed, nil
		}
		if p.ItemID != "" || p.Error {
			processed++
		}
		if p.Done {
			logger.Info("generation job finished",
				"completed", p.CompletedCount,
				"failed", p.FailedCount)
			return processed, nil
		}
	}
	return processed, nil
}
