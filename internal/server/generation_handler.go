package server

import (
	"context"
	"fmt"

	"connectrpc.com/connect"

	"github.com/at-ishikawa/studycore/internal/generation"
)

// GenerationQueue is implemented by generation.Queue.
type GenerationQueue interface {
	Create(ctx context.Context, ownerID string, req generation.CreateRequest) (*generation.Job, error)
	Advance(ctx context.Context, ownerID, jobID string) (generation.Progress, error)
	Cancel(ctx context.Context, ownerID, jobID string) (generation.CancelResult, error)
	Progress(ctx context.Context, ownerID, jobID string) (generation.Progress, error)
}

// GenerationHandler serves generation jobs. Clients drive a job by calling
// AdvanceJob until the returned progress is done.
type GenerationHandler struct {
	queue     GenerationQueue
	validator *requestValidator
	limiter   *ownerLimiter
}

func NewGenerationHandler(queue GenerationQueue, validator *requestValidator, limiter *ownerLimiter) *GenerationHandler {
	return &GenerationHandler{queue: queue, validator: validator, limiter: limiter}
}

func (h *GenerationHandler) CreateJob(ctx context.Context, req *CreateJobRequest) (*CreateJobResponse, error) {
	if err := h.validator.check(req); err != nil {
		return nil, err
	}
	job, err := h.queue.Create(ctx, ownerFrom(ctx), req.toDomain())
	if err != nil {
		return nil, err
	}
	return &CreateJobResponse{
		JobID:        job.ID,
		CollectionID: job.CollectionID,
		TotalCount:   job.TargetCount,
	}, nil
}

// AdvanceJob processes at most one task. Calls are limited per owner.
func (h *GenerationHandler) AdvanceJob(ctx context.Context, req *JobRequest) (*generation.Progress, error) {
	if err := h.validator.check(req); err != nil {
		return nil, err
	}
	owner := ownerFrom(ctx)
	if !h.limiter.allow(owner) {
		return nil, connect.NewError(connect.CodeResourceExhausted, fmt.Errorf("too many advance calls for owner %s", owner))
	}
	p, err := h.queue.Advance(ctx, owner, req.JobID)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (h *GenerationHandler) CancelJob(ctx context.Context, req *JobRequest) (*generation.CancelResult, error) {
	if err := h.validator.check(req); err != nil {
		return nil, err
	}
	result, err := h.queue.Cancel(ctx, ownerFrom(ctx), req.JobID)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (h *GenerationHandler) GetProgress(ctx context.Context, req *JobRequest) (*generation.Progress, error) {
	if err := h.validator.check(req); err != nil {
		return nil, err
	}
	p, err := h.queue.Progress(ctx, ownerFrom(ctx), req.JobID)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
