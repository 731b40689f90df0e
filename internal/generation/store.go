package generation

import (
	"context"
	"time"

	"github.com/at-ishikawa/studycore/internal/collection"
)

// Store persists jobs and tasks. Every state change that races with another
// advance or a cancel is a conditional update reporting whether it applied.
type Store interface {
	// CreateJob writes the collection, job and all tasks atomically.
	CreateJob(ctx context.Context, c *collection.Collection, job *Job, tasks []*Task) error
	FindJob(ctx context.Context, jobID string) (*Job, error)
	ListActiveJobs(ctx context.Context, limit int) ([]Job, error)
	CountTasks(ctx context.Context, jobID string) (map[TaskStatus]int, error)
	NextPendingTask(ctx context.Context, jobID string) (*Task, error)
	ProcessingTask(ctx context.Context, jobID string) (*Task, error)

	// ClaimTask takes the job lease and moves the task from pending to
	// processing. It returns false when another caller won either CAS.
	ClaimTask(ctx context.Context, jobID, taskID, token string, now time.Time) (bool, error)
	// ReleaseClaim puts a claimed task back to pending.
	ReleaseClaim(ctx context.Context, jobID, taskID, token string) error
	// ReleaseStaleLease resets a task whose lease was taken before olderThan.
	ReleaseStaleLease(ctx context.Context, jobID string, olderThan time.Time) (bool, error)

	// CompleteTask stores the output and marks the task completed. It
	// returns false, writing nothing, when the claim is no longer held.
	CompleteTask(ctx context.Context, c Completion) (bool, error)
	FailTask(ctx context.Context, jobID, taskID, token, message string, attempts int, now time.Time) (bool, error)

	// FinishJob marks an active job complete and its collection ready.
	FinishJob(ctx context.Context, jobID string, now time.Time) (bool, error)
	// CancelJob cancels open tasks, then keeps or deletes the job depending
	// on whether anything completed.
	CancelJob(ctx context.Context, jobID string, now time.Time) (CancelResult, error)
}
