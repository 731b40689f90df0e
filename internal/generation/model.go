// Package generation turns a "N questions across these topics" request into
// an ordered task list and drives it one task per advance call.
package generation

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/at-ishikawa/studycore/internal/allocation"
	"github.com/at-ishikawa/studycore/internal/collection"
	"github.com/at-ishikawa/studycore/internal/validation"
)

var (
	ErrJobNotFound  = errors.New("generation job not found")
	ErrJobNotActive = errors.New("generation job is not active")
)

// ValidationError is returned by Create when the request is rejected.
type ValidationError = validation.Error

// StorageError wraps a persistence failure. Advance is safe to repeat after one.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("generation storage error: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageError(op string, err error) error {
	if errors.Is(err, ErrJobNotFound) || errors.Is(err, ErrJobNotActive) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

type JobStatus string

const (
	JobActive    JobStatus = "active"
	JobComplete  JobStatus = "complete"
	JobCancelled JobStatus = "cancelled"
)

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// Job is one generation request and its running counters.
type Job struct {
	ID             string          `db:"id"`
	OwnerID        string          `db:"owner_id"`
	CollectionID   string          `db:"collection_id"`
	CollectionKind collection.Kind `db:"collection_kind"`
	Subject        string          `db:"subject"`
	TargetCount    int             `db:"target_count"`
	Status         JobStatus       `db:"status"`
	CompletedCount int             `db:"completed_count"`
	FailedCount    int             `db:"failed_count"`
	// LeaseTaskID is the task currently processing, if any.
	LeaseTaskID sql.NullString `db:"lease_task_id"`
	LeaseAt     sql.NullTime   `db:"lease_at"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

// Task is one slot of a job. Ordinals are dense from 1.
type Task struct {
	ID           string         `db:"id"`
	JobID        string         `db:"job_id"`
	Ordinal      int            `db:"ordinal"`
	Topic        string         `db:"topic"`
	Subtopic     string         `db:"subtopic"`
	SourceStyle  string         `db:"source_style"`
	Difficulty   string         `db:"difficulty"`
	Format       string         `db:"format"`
	Status       TaskStatus     `db:"status"`
	ClaimToken   sql.NullString `db:"claim_token"`
	ItemID       sql.NullString `db:"item_id"`
	ErrorMessage sql.NullString `db:"error_message"`
	Attempts     int            `db:"attempts"`
	StartedAt    sql.NullTime   `db:"started_at"`
	FinishedAt   sql.NullTime   `db:"finished_at"`
	CreatedAt    time.Time      `db:"created_at"`
}

func (t Task) Spec() allocation.Spec {
	return allocation.Spec{
		Topic:       t.Topic,
		Subtopic:    t.Subtopic,
		SourceStyle: t.SourceStyle,
		Difficulty:  t.Difficulty,
		Format:      t.Format,
	}
}

// CreateRequest asks for Total items spread across Topics.
type CreateRequest struct {
	Kind    collection.Kind
	Title   string
	Subject string
	Total   int
	Topics  []allocation.TopicWeight
	// WeakAreas derives topic weights from the owner's accuracy history.
	// Explicit Topics then restrict which topics are considered.
	WeakAreas    bool
	SourceStyles []string
	Difficulties []string
	Format       string
	MixedFormats [2]string
}

// Progress is the observable state of a job after an operation.
type Progress struct {
	JobID          string    `json:"job_id"`
	CollectionID   string    `json:"collection_id"`
	Status         JobStatus `json:"status"`
	CompletedCount int       `json:"completed_count"`
	FailedCount    int       `json:"failed_count"`
	PendingCount   int       `json:"pending_count"`
	TotalCount     int       `json:"total_count"`
	CurrentTopic   string    `json:"current_topic,omitempty"`
	// ItemID is the item produced by this advance.
	ItemID string `json:"item_id,omitempty"`
	Done   bool   `json:"done"`
	// InFlight means another caller holds the claim on the next task.
	InFlight     bool   `json:"in_flight"`
	Error        bool   `json:"error"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// CancelResult reports what a cancellation kept.
type CancelResult struct {
	JobID          string `json:"job_id"`
	CollectionID   string `json:"collection_id"`
	Retained       int    `json:"retained"`
	CancelledTasks int    `json:"cancelled_tasks"`
	// Deleted is true when nothing had completed and the job was removed.
	Deleted bool `json:"deleted"`
}

// Card is generated content for a deck.
type Card struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

// Question is generated content for an exam.
type Question struct {
	Stem        string   `json:"stem"`
	Choices     []string `json:"choices,omitempty"`
	Answer      string   `json:"answer"`
	Explanation string   `json:"explanation"`
}

// Output holds exactly one of Card or Question.
type Output struct {
	Card     *Card
	Question *Question
}

// Completion is a finished task ready to be persisted.
type Completion struct {
	Job        *Job
	Task       *Task
	ClaimToken string
	ItemID     string
	Output     Output
	Attempts   int
	At         time.Time
}
