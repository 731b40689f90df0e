// Package app wires storage, inference and the domain services from
// configuration. Both binaries build their services through Open.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/at-ishikawa/studycore/internal/config"
	"github.com/at-ishikawa/studycore/internal/database"
	"github.com/at-ishikawa/studycore/internal/generation"
	"github.com/at-ishikawa/studycore/internal/inference"
	"github.com/at-ishikawa/studycore/internal/inference/provider"
	"github.com/at-ishikawa/studycore/internal/learning"
	"github.com/at-ishikawa/studycore/internal/progress"
	"github.com/at-ishikawa/studycore/internal/statistics"
)

type Services struct {
	DB        *sqlx.DB
	Learning  *learning.Service
	Queue     *generation.Queue
	Publisher progress.Publisher

	closers []func() error
}

// Open connects to the database and, when requested, the LLM provider.
// Without an LLM the queue is nil; item commands still work.
func Open(ctx context.Context, cfg *config.Config, withLLM bool) (*Services, error) {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("database.Open() > %w", err)
	}
	s := &Services{
		DB:       db,
		Learning: learning.NewService(learning.NewDBRepository(db)),
		closers:  []func() error{db.Close},
	}
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db, cfg.Database.Driver); err != nil {
			return nil, errors.Join(fmt.Errorf("database.Migrate() > %w", err), s.Close())
		}
	}
	if !withLLM {
		return s, nil
	}

	client, err := provider.New(ctx, cfg.LLM)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("provider.New() > %w", err), s.Close())
	}
	if closer, ok := client.(interface{ Close() error }); ok {
		s.closers = append(s.closers, closer.Close)
	}

	publisher, closePublisher, err := progress.NewPublisher(ctx, cfg.Redis, slog.Default())
	if err != nil {
		return nil, errors.Join(fmt.Errorf("progress.NewPublisher() > %w", err), s.Close())
	}
	s.Publisher = publisher
	s.closers = append(s.closers, closePublisher)

	queue, err := NewQueue(db, client, publisher, cfg)
	if err != nil {
		return nil, errors.Join(err, s.Close())
	}
	s.Queue = queue
	return s, nil
}

// NewQueue builds a generation queue on db with the statistics repository
// as its weak-area source.
func NewQueue(db *sqlx.DB, client inference.Client, publisher progress.Publisher, cfg *config.Config) (*generation.Queue, error) {
	prompts, err := generation.NewPromptBuilder(cfg.Generation.PromptTemplate, cfg.LLM.MaxTokens, cfg.LLM.Temperature)
	if err != nil {
		return nil, fmt.Errorf("generation.NewPromptBuilder() > %w", err)
	}
	return generation.NewQueue(
		generation.NewDBStore(db),
		client,
		prompts,
		cfg.Generation,
		generation.WithPublisher(publisher),
		generation.WithAccuracySource(statistics.NewDBRepository(db)),
	), nil
}

// Close releases resources in reverse order of acquisition.
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
