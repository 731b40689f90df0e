package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/at-ishikawa/studycore/internal/allocation"
	"github.com/at-ishikawa/studycore/internal/collection"
	"github.com/at-ishikawa/studycore/internal/config"
	"github.com/at-ishikawa/studycore/internal/inference"
	"github.com/at-ishikawa/studycore/internal/progress"
	"github.com/at-ishikawa/studycore/internal/statistics"
)

const (
	tracerName        = "github.com/at-ishikawa/studycore/internal/generation"
	defaultStaleAfter = 5 * time.Minute
)

var knownFormats = map[string]bool{
	allocation.FormatMultipleChoice: true,
	allocation.FormatShortAnswer:    true,
	allocation.FormatMixed:          true,
}

// AccuracySource provides the review history weak-area requests are built from.
type AccuracySource interface {
	TopicAccuracy(ctx context.Context, ownerID string) ([]statistics.TopicAccuracy, error)
}

// Queue drives generation jobs one task per Advance call. It keeps no
// in-memory state about jobs, so any number of processes may share a Store.
type Queue struct {
	store      Store
	client     inference.Client
	prompts    *PromptBuilder
	cfg        config.GenerationConfig
	retry      RetryPolicy
	staleAfter time.Duration
	accuracy   AccuracySource
	publisher  progress.Publisher
	tracer     trace.Tracer
	now        func() time.Time
	newID      func() string
}

type Option func(*Queue)

func WithPublisher(p progress.Publisher) Option {
	return func(q *Queue) { q.publisher = p }
}

func WithAccuracySource(s AccuracySource) Option {
	return func(q *Queue) { q.accuracy = s }
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(q *Queue) { q.retry = p }
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(q *Queue) { q.newID = newID }
}

func NewQueue(store Store, client inference.Client, prompts *PromptBuilder, cfg config.GenerationConfig, opts ...Option) *Queue {
	q := &Queue{
		store:   store,
		client:  client,
		prompts: prompts,
		cfg:     cfg,
		retry: RetryPolicy{
			Attempts:  cfg.RetryAttempts,
			Delays:    cfg.RetryDelays,
			Retryable: inference.IsRetryable,
		},
		staleAfter: cfg.StaleAfter,
		publisher:  progress.NewLogPublisher(nil),
		tracer:     otel.Tracer(tracerName),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
	if q.retry.Attempts < 1 {
		q.retry.Attempts = DefaultRetryPolicy().Attempts
	}
	if len(q.retry.Delays) == 0 {
		q.retry.Delays = DefaultRetryDelays
	}
	if q.staleAfter <= 0 {
		q.staleAfter = defaultStaleAfter
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Create validates req, allocates its tasks and stores the collection, job
// and tasks together. Nothing is written when validation fails.
func (q *Queue) Create(ctx context.Context, ownerID string, req CreateRequest) (*Job, error) {
	verr := &ValidationError{}
	if strings.TrimSpace(ownerID) == "" {
		verr.Add("owner_id", "is required")
	}
	if !req.Kind.Valid() {
		verr.Add("kind", "must be %q or %q", collection.KindDeck, collection.KindExam)
	}
	if req.Total < q.cfg.MinItems || req.Total > q.cfg.MaxItems {
		verr.Add("total", "must be between %d and %d, got %d", q.cfg.MinItems, q.cfg.MaxItems, req.Total)
	}
	if req.Format == "" {
		req.Format = allocation.FormatMixed
		if req.Kind == collection.KindDeck {
			req.Format = allocation.FormatShortAnswer
		}
	}
	if !knownFormats[req.Format] {
		verr.Add("format", "unknown format %q", req.Format)
	}
	for i, f := range req.MixedFormats {
		if f != "" && (f == allocation.FormatMixed || !knownFormats[f]) {
			verr.Add(fmt.Sprintf("mixed_formats[%d]", i), "unknown format %q", f)
		}
	}

	topics := req.Topics
	if req.WeakAreas {
		// Reading history is skipped for a request that is already invalid.
		if err := verr.Err(); err != nil {
			return nil, err
		}
		var err error
		topics, err = q.weakAreaTopics(ctx, ownerID, req.Topics)
		if err != nil {
			return nil, err
		}
	}

	allocReq := allocation.Request{
		Total:        req.Total,
		Topics:       topics,
		SourceStyles: req.SourceStyles,
		Difficulties: req.Difficulties,
		Format:       req.Format,
		MixedFormats: req.MixedFormats,
	}
	if err := allocation.Validate(allocReq); err != nil {
		if allocErr, ok := err.(*ValidationError); ok {
			verr.Violations = append(verr.Violations, allocErr.Violations...)
		}
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}

	specs, err := allocation.Allocate(allocReq)
	if err != nil {
		return nil, err
	}

	now := q.now()
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = defaultTitle(req.Subject, topics)
	}
	c := &collection.Collection{
		ID:        q.newID(),
		OwnerID:   ownerID,
		Kind:      req.Kind,
		Title:     title,
		Status:    collection.StatusGenerating,
		CreatedAt: now,
		UpdatedAt: now,
	}
	job := &Job{
		ID:             q.newID(),
		OwnerID:        ownerID,
		CollectionID:   c.ID,
		CollectionKind: req.Kind,
		Subject:        req.Subject,
		TargetCount:    len(specs),
		Status:         JobActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	tasks := make([]*Task, 0, len(specs))
	for i, spec := range specs {
		tasks = append(tasks, &Task{
			ID:          q.newID(),
			JobID:       job.ID,
			Ordinal:     i + 1,
			Topic:       spec.Topic,
			Subtopic:    spec.Subtopic,
			SourceStyle: spec.SourceStyle,
			Difficulty:  spec.Difficulty,
			Format:      spec.Format,
			Status:      TaskPending,
			CreatedAt:   now,
		})
	}

	if err := q.store.CreateJob(ctx, c, job, tasks); err != nil {
		return nil, storageError("create job", err)
	}
	slog.Default().Info("generation job created",
		"job_id", job.ID,
		"owner_id", ownerID,
		"kind", req.Kind,
		"tasks", len(tasks))
	return job, nil
}

// weakAreaTopics weights the owner's weakest topics, restricted to only
// when given. It falls back to uniform weights when too few topics have
// enough history.
func (q *Queue) weakAreaTopics(ctx context.Context, ownerID string, only []allocation.TopicWeight) ([]allocation.TopicWeight, error) {
	var accuracies []statistics.TopicAccuracy
	if q.accuracy != nil {
		var err error
		accuracies, err = q.accuracy.TopicAccuracy(ctx, ownerID)
		if err != nil {
			return nil, storageError("topic accuracy", err)
		}
	}

	if len(only) > 0 {
		allowed := make(map[string]bool, len(only))
		for _, t := range only {
			allowed[t.Name] = true
		}
		filtered := accuracies[:0:0]
		for _, acc := range accuracies {
			if allowed[acc.Topic] {
				filtered = append(filtered, acc)
			}
		}
		accuracies = filtered
	}

	if weights := allocation.WeakAreaWeights(accuracies); weights != nil {
		return weights, nil
	}

	var names []string
	if len(only) > 0 {
		for _, t := range only {
			names = append(names, t.Name)
		}
	} else {
		for _, acc := range accuracies {
			names = append(names, acc.Topic)
		}
	}
	return allocation.UniformWeights(names), nil
}

func defaultTitle(subject string, topics []allocation.TopicWeight) string {
	names := make([]string, 0, len(topics))
	for _, t := range topics {
		names = append(names, t.Name)
	}
	title := strings.Join(names, ", ")
	if subject != "" {
		title = subject + ": " + title
	}
	return title
}

// Advance processes the lowest-ordinal pending task of the job. A lost claim
// race is reported through Progress.InFlight, a task that exhausted its
// retries through Progress.Error. Only storage problems are returned as
// errors, and Advance is safe to call again after one.
func (q *Queue) Advance(ctx context.Context, ownerID, jobID string) (Progress, error) {
	ctx, span := q.tracer.Start(ctx, "generation.Advance", trace.WithAttributes(
		attribute.String("job.id", jobID),
		attribute.String("owner.id", ownerID),
	))
	defer span.End()

	p, err := q.advance(ctx, ownerID, jobID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Progress{}, err
	}
	span.SetAttributes(
		attribute.Int("job.completed", p.CompletedCount),
		attribute.Int("job.failed", p.FailedCount),
		attribute.Bool("job.done", p.Done),
		attribute.Bool("job.in_flight", p.InFlight),
	)
	return p, nil
}

func (q *Queue) advance(ctx context.Context, ownerID, jobID string) (Progress, error) {
	job, err := q.ownedJob(ctx, ownerID, jobID)
	if err != nil {
		return Progress{}, err
	}
	if job.Status != JobActive {
		return Progress{}, fmt.Errorf("%w: %s is %s", ErrJobNotActive, jobID, job.Status)
	}

	now := q.now()
	released, err := q.store.ReleaseStaleLease(ctx, jobID, now.Add(-q.staleAfter))
	if err != nil {
		return Progress{}, storageError("release stale lease", err)
	}
	if released {
		slog.Default().Warn("released stale generation lease", "job_id", jobID)
	}

	task, err := q.store.NextPendingTask(ctx, jobID)
	if err != nil {
		return Progress{}, storageError("next pending task", err)
	}
	if task == nil {
		return q.settle(ctx, job)
	}

	token := q.newID()
	claimed, err := q.store.ClaimTask(ctx, jobID, task.ID, token, now)
	if err != nil {
		return Progress{}, storageError("claim task", err)
	}
	if !claimed {
		p, err := q.snapshot(ctx, job.ID)
		if err != nil {
			return Progress{}, err
		}
		p.InFlight = true
		return p, nil
	}

	return q.process(ctx, job, task, token)
}

// settle handles a job without pending tasks: it either waits for the task
// another caller is processing or completes the job.
func (q *Queue) settle(ctx context.Context, job *Job) (Progress, error) {
	processing, err := q.store.ProcessingTask(ctx, job.ID)
	if err != nil {
		return Progress{}, storageError("processing task", err)
	}
	if processing != nil {
		p, err := q.snapshot(ctx, job.ID)
		if err != nil {
			return Progress{}, err
		}
		p.InFlight = true
		p.CurrentTopic = processing.Topic
		return p, nil
	}

	finished, err := q.store.FinishJob(ctx, job.ID, q.now())
	if err != nil {
		return Progress{}, storageError("finish job", err)
	}
	p, err := q.snapshot(ctx, job.ID)
	if err != nil {
		return Progress{}, err
	}
	if finished {
		q.publish(ctx, job, progress.KindCompleted, p)
	}
	return p, nil
}

func (q *Queue) process(ctx context.Context, job *Job, task *Task, token string) (Progress, error) {
	logger := slog.Default().With("job_id", job.ID, "ordinal", task.Ordinal, "topic", task.Topic)

	output, attempts, genErr := q.generate(ctx, job, task)
	if ctx.Err() != nil {
		q.release(ctx, job.ID, task.ID, token)
		return Progress{}, ctx.Err()
	}

	now := q.now()
	var (
		applied bool
		err     error
		itemID  string
	)
	if genErr != nil {
		logger.Warn("generation task failed", "attempts", attempts, "error", genErr)
		applied, err = q.store.FailTask(ctx, job.ID, task.ID, token, genErr.Error(), attempts, now)
		if err != nil {
			q.release(ctx, job.ID, task.ID, token)
			return Progress{}, storageError("fail task", err)
		}
	} else {
		itemID = q.newID()
		applied, err = q.store.CompleteTask(ctx, Completion{
			Job:        job,
			Task:       task,
			ClaimToken: token,
			ItemID:     itemID,
			Output:     output,
			Attempts:   attempts,
			At:         now,
		})
		if err != nil {
			q.release(ctx, job.ID, task.ID, token)
			return Progress{}, storageError("complete task", err)
		}
	}

	if !applied {
		logger.Warn("discarded result of a task that is no longer claimed")
		current, err := q.store.FindJob(ctx, job.ID)
		if errors.Is(err, ErrJobNotFound) || (err == nil && current.Status != JobActive) {
			return Progress{}, fmt.Errorf("%w: %s", ErrJobNotActive, job.ID)
		}
		if err != nil {
			return Progress{}, storageError("find job", err)
		}
		p, err := q.snapshot(ctx, job.ID)
		if err != nil {
			return Progress{}, err
		}
		p.InFlight = true
		return p, nil
	}

	p, err := q.snapshot(ctx, job.ID)
	if err != nil {
		return Progress{}, err
	}
	p.CurrentTopic = task.Topic
	p.ItemID = itemID
	if genErr != nil {
		p.Error = true
		p.ErrorMessage = genErr.Error()
	}

	kind := progress.KindAdvanced
	if p.Status == JobActive && p.PendingCount == 0 {
		finished, err := q.store.FinishJob(ctx, job.ID, now)
		if err != nil {
			return Progress{}, storageError("finish job", err)
		}
		if finished {
			p.Status = JobComplete
			p.Done = true
			kind = progress.KindCompleted
		}
	}
	q.publish(ctx, job, kind, p)
	return p, nil
}

// generate calls the model under the retry policy and returns the parsed
// output together with the number of attempts made.
func (q *Queue) generate(ctx context.Context, job *Job, task *Task) (Output, int, error) {
	ctx, span := q.tracer.Start(ctx, "generation.generate", trace.WithAttributes(
		attribute.Int("task.ordinal", task.Ordinal),
		attribute.String("task.topic", task.Topic),
		attribute.String("llm.model", q.client.Model()),
	))
	defer span.End()

	prompt, err := q.prompts.Build(job, task)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Output{}, 0, err
	}

	var output Output
	attempts, err := q.retry.Do(ctx, func(ctx context.Context) error {
		text, err := q.client.Generate(ctx, prompt)
		if err != nil {
			return err
		}
		parsed, err := q.prompts.Parse(job.CollectionKind, task.Format, text)
		if err != nil {
			return err
		}
		output = parsed
		return nil
	})
	span.SetAttributes(attribute.Int("generation.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Output{}, attempts, err
	}
	return output, attempts, nil
}

// release hands a claimed task back to pending, even when ctx has ended.
func (q *Queue) release(ctx context.Context, jobID, taskID, token string) {
	if err := q.store.ReleaseClaim(context.WithoutCancel(ctx), jobID, taskID, token); err != nil {
		slog.Default().Error("failed to release generation claim",
			"job_id", jobID,
			"task_id", taskID,
			"error", err)
	}
}

// Cancel stops the job. Completed items are kept and the collection becomes
// ready. A job without completed items is deleted with its collection.
func (q *Queue) Cancel(ctx context.Context, ownerID, jobID string) (CancelResult, error) {
	job, err := q.ownedJob(ctx, ownerID, jobID)
	if err != nil {
		return CancelResult{}, err
	}
	if job.Status != JobActive {
		return CancelResult{}, fmt.Errorf("%w: %s is %s", ErrJobNotActive, jobID, job.Status)
	}

	result, err := q.store.CancelJob(ctx, jobID, q.now())
	if err != nil {
		return CancelResult{}, storageError("cancel job", err)
	}
	slog.Default().Info("generation job cancelled",
		"job_id", jobID,
		"retained", result.Retained,
		"cancelled_tasks", result.CancelledTasks,
		"deleted", result.Deleted)

	q.publish(ctx, job, progress.KindCancelled, Progress{
		JobID:          job.ID,
		CollectionID:   job.CollectionID,
		Status:         JobCancelled,
		CompletedCount: result.Retained,
		FailedCount:    job.FailedCount,
		TotalCount:     job.TargetCount,
	})
	return result, nil
}

// Progress returns the current state of the job without changing it.
func (q *Queue) Progress(ctx context.Context, ownerID, jobID string) (Progress, error) {
	if _, err := q.ownedJob(ctx, ownerID, jobID); err != nil {
		return Progress{}, err
	}
	return q.snapshot(ctx, jobID)
}

// ListActive returns up to limit active jobs, oldest first.
func (q *Queue) ListActive(ctx context.Context, limit int) ([]Job, error) {
	jobs, err := q.store.ListActiveJobs(ctx, limit)
	if err != nil {
		return nil, storageError("list active jobs", err)
	}
	return jobs, nil
}

// ownedJob hides jobs of other owners behind ErrJobNotFound.
func (q *Queue) ownedJob(ctx context.Context, ownerID, jobID string) (*Job, error) {
	job, err := q.store.FindJob(ctx, jobID)
	if err != nil {
		return nil, storageError("find job", err)
	}
	if job.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return job, nil
}

func (q *Queue) snapshot(ctx context.Context, jobID string) (Progress, error) {
	job, err := q.store.FindJob(ctx, jobID)
	if err != nil {
		return Progress{}, storageError("find job", err)
	}
	counts, err := q.store.CountTasks(ctx, jobID)
	if err != nil {
		return Progress{}, storageError("count tasks", err)
	}

	p := Progress{
		JobID:          job.ID,
		CollectionID:   job.CollectionID,
		Status:         job.Status,
		CompletedCount: job.CompletedCount,
		FailedCount:    job.FailedCount,
		PendingCount:   counts[TaskPending],
		TotalCount:     job.TargetCount,
		Done:           job.Status == JobComplete,
	}
	if counts[TaskProcessing] > 0 {
		task, err := q.store.ProcessingTask(ctx, jobID)
		if err != nil {
			return Progress{}, storageError("processing task", err)
		}
		if task != nil {
			p.CurrentTopic = task.Topic
		}
	}
	return p, nil
}

func (q *Queue) publish(ctx context.Context, job *Job, kind progress.Kind, p Progress) {
	if q.publisher == nil {
		return
	}
	event := progress.Event{
		JobID:        job.ID,
		OwnerID:      job.OwnerID,
		CollectionID: job.CollectionID,
		Kind:         kind,
		Completed:    p.CompletedCount,
		Failed:       p.FailedCount,
		Total:        p.TotalCount,
		CurrentTopic: p.CurrentTopic,
		Error:        p.ErrorMessage,
		At:           q.now(),
	}
	if err := q.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		slog.Default().Warn("failed to publish generation progress", "job_id", job.ID, "error", err)
	}
}
