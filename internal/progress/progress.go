// Package progress broadcasts generation job progress to whoever watches it.
package progress

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

type Kind string

const (
	KindAdvanced  Kind = "advanced"
	KindCompleted Kind = "completed"
	KindCancelled Kind = "cancelled"
)

// Event is one observable change of a generation job.
type Event struct {
	JobID        string    `json:"job_id"`
	OwnerID      string    `json:"owner_id"`
	CollectionID string    `json:"collection_id"`
	Kind         Kind      `json:"kind"`
	Completed    int       `json:"completed"`
	Failed       int       `json:"failed"`
	Total        int       `json:"total"`
	CurrentTopic string    `json:"current_topic,omitempty"`
	Error        string    `json:"error,omitempty"`
	At           time.Time `json:"at"`
}

// Final reports whether no further events follow for the job.
func (e Event) Final() bool {
	return e.Kind == KindCompleted || e.Kind == KindCancelled
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// LogPublisher writes events to a structured logger.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	level := slog.LevelInfo
	if event.Error != "" {
		level = slog.LevelWarn
	}
	p.logger.Log(ctx, level, "generation progress",
		"job_id", event.JobID,
		"kind", event.Kind,
		"completed", event.Completed,
		"failed", event.Failed,
		"total", event.Total,
		"topic", event.CurrentTopic,
		"error", event.Error)
	return nil
}

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
