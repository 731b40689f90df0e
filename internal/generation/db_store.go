package generation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/at-ishikawa/studycore/internal/collection"
	"github.com/at-ishikawa/studycore/internal/database"
	"github.com/at-ishikawa/studycore/internal/learning"
)

// errNotApplied rolls back a transaction whose conditional update lost a race.
var errNotApplied = errors.New("conditional update not applied")

// DBStore implements Store with sqlx.
type DBStore struct {
	db *sqlx.DB
}

func NewDBStore(db *sqlx.DB) *DBStore {
	return &DBStore{db: db}
}

var (
	jobColumns = []string{
		"id", "owner_id", "collection_id", "collection_kind", "subject", "target_count", "status",
		"completed_count", "failed_count", "lease_task_id", "lease_at", "created_at", "updated_at",
	}
	taskColumns = []string{
		"id", "job_id", "ordinal", "topic", "subtopic", "source_style", "difficulty", "format", "status",
		"claim_token", "item_id", "error_message", "attempts", "started_at", "finished_at", "created_at",
	}
	questionColumns = []string{
		"id", "owner_id", "collection_id", "topic", "subtopic", "source_style", "difficulty", "format",
		"stem", "choices", "answer", "explanation", "created_at",
	}
)

func (s *DBStore) CreateJob(ctx context.Context, c *collection.Collection, job *Job, tasks []*Task) error {
	return database.RunInTx(ctx, s.db, func(ctx context.Context, tx *sqlx.Tx) error {
		if err := collection.NewDBRepository(tx).Create(ctx, c); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(database.BuildMultiRowInsert("generation_jobs", jobColumns, 1)),
			job.ID, job.OwnerID, job.CollectionID, job.CollectionKind, job.Subject, job.TargetCount, job.Status,
			job.CompletedCount, job.FailedCount, job.LeaseTaskID, job.LeaseAt, job.CreatedAt, job.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert generation job: %w", err)
		}

		if len(tasks) == 0 {
			return nil
		}
		args := make([]interface{}, 0, len(tasks)*len(taskColumns))
		for _, t := range tasks {
			args = append(args,
				t.ID, t.JobID, t.Ordinal, t.Topic, t.Subtopic, t.SourceStyle, t.Difficulty, t.Format, t.Status,
				t.ClaimToken, t.ItemID, t.ErrorMessage, t.Attempts, t.StartedAt, t.FinishedAt, t.CreatedAt,
			)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(database.BuildMultiRowInsert("generation_tasks", taskColumns, len(tasks))), args...); err != nil {
			return fmt.Errorf("insert generation tasks: %w", err)
		}
		return nil
	})
}

func (s *DBStore) FindJob(ctx context.Context, jobID string) (*Job, error) {
	return findJob(ctx, s.db, jobID)
}

func findJob(ctx context.Context, q database.Queryer, jobID string) (*Job, error) {
	var job Job
	if err := sqlx.GetContext(ctx, q, &job, q.Rebind("SELECT * FROM generation_jobs WHERE id = ?"), jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return nil, fmt.Errorf("find generation job(%s): %w", jobID, err)
	}
	return &job, nil
}

func (s *DBStore) ListActiveJobs(ctx context.Context, limit int) ([]Job, error) {
	var jobs []Job
	query := s.db.Rebind("SELECT * FROM generation_jobs WHERE status = ? ORDER BY created_at, id LIMIT ?")
	if err := sqlx.SelectContext(ctx, s.db, &jobs, query, JobActive, limit); err != nil {
		return nil, fmt.Errorf("list active generation jobs: %w", err)
	}
	return jobs, nil
}

func (s *DBStore) CountTasks(ctx context.Context, jobID string) (map[TaskStatus]int, error) {
	var rows []struct {
		Status TaskStatus `db:"status"`
		Count  int        `db:"count"`
	}
	query := s.db.Rebind("SELECT status, COUNT(*) AS count FROM generation_tasks WHERE job_id = ? GROUP BY status")
	if err := sqlx.SelectContext(ctx, s.db, &rows, query, jobID); err != nil {
		return nil, fmt.Errorf("count generation tasks: %w", err)
	}

	counts := make(map[TaskStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (s *DBStore) NextPendingTask(ctx context.Context, jobID string) (*Task, error) {
	return s.firstTask(ctx, jobID, TaskPending)
}

func (s *DBStore) ProcessingTask(ctx context.Context, jobID string) (*Task, error) {
	return s.firstTask(ctx, jobID, TaskProcessing)
}

// firstTask returns the lowest-ordinal task in status, or nil.
func (s *DBStore) firstTask(ctx context.Context, jobID string, status TaskStatus) (*Task, error) {
	var task Task
	query := s.db.Rebind("SELECT * FROM generation_tasks WHERE job_id = ? AND status = ? ORDER BY ordinal LIMIT 1")
	if err := sqlx.GetContext(ctx, s.db, &task, query, jobID, status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find %s generation task: %w", status, err)
	}
	return &task, nil
}

func (s *DBStore) ClaimTask(ctx context.Context, jobID, taskID, token string, now time.Time) (bool, error) {
	return applied(database.RunInTx(ctx, s.db, func(ctx context.Context, tx *sqlx.Tx) error {
		if err := execCAS(ctx, tx,
			"UPDATE generation_jobs SET lease_task_id = ?, lease_at = ?, updated_at = ? WHERE id = ? AND status = ? AND lease_task_id IS NULL",
			taskID, now, now, jobID, JobActive,
		); err != nil {
			return err
		}
		return execCAS(ctx, tx,
			"UPDATE generation_tasks SET status = ?, claim_token = ?, started_at = ? WHERE id = ? AND job_id = ? AND status = ?",
			TaskProcessing, token, now, taskID, jobID, TaskPending,
		)
	}))
}

func (s *DBStore) ReleaseClaim(ctx context.Context, jobID, taskID, token string) error {
	_, err := applied(database.RunInTx(ctx, s.db, func(ctx context.Context, tx *sqlx.Tx) error {
		if err := execCAS(ctx, tx,
			"UPDATE generation_tasks SET status = ?, claim_token = NULL, started_at = NULL WHERE id = ? AND job_id = ? AND status = ? AND claim_token = ?",
			TaskPending, taskID, jobID, TaskProcessing, token,
		); err != nil {
			return err
		}
		return releaseLease(ctx, tx, jobID, taskID)
	}))
	return err
}

func (s *DBStore) ReleaseStaleLease(ctx context.Context, jobID string, olderThan time.Time) (bool, error) {
	return applied(database.RunInTx(ctx, s.db, func(ctx context.Context, tx *sqlx.Tx) error {
		job, err := findJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if !job.LeaseTaskID.Valid || !job.LeaseAt.Valid || !job.LeaseAt.Time.Before(olderThan) {
			return errNotApplied
		}

		if err := execCAS(ctx, tx,
			"UPDATE generation_jobs SET lease_task_id = NULL, lease_at = NULL WHERE id = ? AND lease_task_id = ? AND lease_at < ?",
			jobID, job.LeaseTaskID.String, olderThan,
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			"UPDATE generation_tasks SET status = ?, claim_token = NULL, started_at = NULL WHERE id = ? AND job_id = ? AND status = ?"),
			TaskPending, job.LeaseTaskID.String, jobID, TaskProcessing,
		); err != nil {
			return fmt.Errorf("reset stale generation task: %w", err)
		}
		return nil
	}))
}

func (s *DBStore) CompleteTask(ctx context.Context, c Completion) (bool, error) {
	return applied(database.RunInTx(ctx, s.db, func(ctx context.Context, tx *sqlx.Tx) error {
		if err := execCAS(ctx, tx,
			"UPDATE generation_tasks SET status = ?, item_id = ?, attempts = ?, finished_at = ?, claim_token = NULL WHERE id = ? AND job_id = ? AND status = ? AND claim_token = ?",
			TaskCompleted, c.ItemID, c.Attempts, c.At, c.Task.ID, c.Task.JobID, TaskProcessing, c.ClaimToken,
		); err != nil {
			return err
		}

		if err := insertOutput(ctx, tx, c); err != nil {
			return err
		}

		return execCAS(ctx, tx,
			"UPDATE generation_jobs SET completed_count = completed_count + 1, lease_task_id = NULL, lease_at = NULL, updated_at = ? WHERE id = ? AND status = ?",
			c.At, c.Job.ID, JobActive,
		)
	}))
}

func insertOutput(ctx context.Context, tx *sqlx.Tx, c Completion) error {
	job, task := c.Job, c.Task
	switch {
	case c.Output.Card != nil:
		item := learning.NewItemRecord(c.ItemID, job.OwnerID, learning.NewItem{
			Front:        c.Output.Card.Front,
			Back:         c.Output.Card.Back,
			Subject:      job.Subject,
			Topic:        task.Topic,
			Subtopic:     task.Subtopic,
			CollectionID: job.CollectionID,
		}, c.At)
		return learning.NewDBRepository(tx).Create(ctx, item)

	case c.Output.Question != nil:
		q := c.Output.Question
		choices, err := json.Marshal(q.Choices)
		if err != nil {
			return fmt.Errorf("json.Marshal(choices) > %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(database.BuildMultiRowInsert("exam_questions", questionColumns, 1)),
			c.ItemID, job.OwnerID, job.CollectionID, task.Topic, task.Subtopic, task.SourceStyle, task.Difficulty, task.Format,
			q.Stem, string(choices), q.Answer, q.Explanation, c.At,
		); err != nil {
			return fmt.Errorf("insert exam question: %w", err)
		}
		return nil
	}
	return fmt.Errorf("task %s produced no output", task.ID)
}

func (s *DBStore) FailTask(ctx context.Context, jobID, taskID, token, message string, attempts int, now time.Time) (bool, error) {
	return applied(database.RunInTx(ctx, s.db, func(ctx context.Context, tx *sqlx.Tx) error {
		if err := execCAS(ctx, tx,
			"UPDATE generation_tasks SET status = ?, error_message = ?, attempts = ?, finished_at = ?, claim_token = NULL WHERE id = ? AND job_id = ? AND status = ? AND claim_token = ?",
			TaskFailed, message, attempts, now, taskID, jobID, TaskProcessing, token,
		); err != nil {
			return err
		}
		return execCAS(ctx, tx,
			"UPDATE generation_jobs SET failed_count = failed_count + 1, lease_task_id = NULL, lease_at = NULL, updated_at = ? WHERE id = ? AND status = ?",
			now, jobID, JobActive,
		)
	}))
}

func (s *DBStore) FinishJob(ctx context.Context, jobID string, now time.Time) (bool, error) {
	return applied(database.RunInTx(ctx, s.db, func(ctx context.Context, tx *sqlx.Tx) error {
		var open int
		if err := sqlx.GetContext(ctx, tx, &open, tx.Rebind(
			"SELECT COUNT(*) FROM generation_tasks WHERE job_id = ? AND status IN (?, ?)"),
			jobID, TaskPending, TaskProcessing,
		); err != nil {
			return fmt.Errorf("count open generation tasks: %w", err)
		}
		if open > 0 {
			return errNotApplied
		}

		if err := execCAS(ctx, tx,
			"UPDATE generation_jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ? AND lease_task_id IS NULL",
			JobComplete, now, jobID, JobActive,
		); err != nil {
			return err
		}

		job, err := findJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		return collection.NewDBRepository(tx).MarkReady(ctx, job.CollectionID, job.CompletedCount, now)
	}))
}

func (s *DBStore) CancelJob(ctx context.Context, jobID string, now time.Time) (CancelResult, error) {
	var result CancelResult
	err := database.RunInTx(ctx, s.db, func(ctx context.Context, tx *sqlx.Tx) error {
		job, err := findJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if job.Status != JobActive {
			return fmt.Errorf("%w: %s is %s", ErrJobNotActive, jobID, job.Status)
		}
		result = CancelResult{JobID: job.ID, CollectionID: job.CollectionID}

		res, err := tx.ExecContext(ctx, tx.Rebind(
			"UPDATE generation_tasks SET status = ?, claim_token = NULL, finished_at = ? WHERE job_id = ? AND status IN (?, ?)"),
			TaskCancelled, now, jobID, TaskPending, TaskProcessing,
		)
		if err != nil {
			return fmt.Errorf("cancel generation tasks: %w", err)
		}
		cancelled, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		result.CancelledTasks = int(cancelled)

		var completed int
		if err := sqlx.GetContext(ctx, tx, &completed, tx.Rebind(
			"SELECT COUNT(*) FROM generation_tasks WHERE job_id = ? AND status = ?"),
			jobID, TaskCompleted,
		); err != nil {
			return fmt.Errorf("count completed generation tasks: %w", err)
		}
		result.Retained = completed

		if completed > 0 {
			if err := execCAS(ctx, tx,
				"UPDATE generation_jobs SET status = ?, lease_task_id = NULL, lease_at = NULL, updated_at = ? WHERE id = ? AND status = ?",
				JobCancelled, now, jobID, JobActive,
			); err != nil {
				return err
			}
			return collection.NewDBRepository(tx).MarkReady(ctx, job.CollectionID, completed, now)
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM generation_tasks WHERE job_id = ?"), jobID); err != nil {
			return fmt.Errorf("delete generation tasks: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM generation_jobs WHERE id = ?"), jobID); err != nil {
			return fmt.Errorf("delete generation job: %w", err)
		}
		result.Deleted = true
		return collection.NewDBRepository(tx).Delete(ctx, job.CollectionID)
	})
	if errors.Is(err, errNotApplied) {
		return CancelResult{}, fmt.Errorf("%w: %s", ErrJobNotActive, jobID)
	}
	if err != nil {
		return CancelResult{}, err
	}
	return result, nil
}

func releaseLease(ctx context.Context, tx *sqlx.Tx, jobID, taskID string) error {
	if _, err := tx.ExecContext(ctx, tx.Rebind(
		"UPDATE generation_jobs SET lease_task_id = NULL, lease_at = NULL WHERE id = ? AND lease_task_id = ?"),
		jobID, taskID,
	); err != nil {
		return fmt.Errorf("release generation job lease: %w", err)
	}
	return nil
}

// execCAS runs a conditional update and returns errNotApplied when no row matched.
func execCAS(ctx context.Context, tx *sqlx.Tx, query string, args ...interface{}) error {
	result, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("exec %q: %w", query, err)
	}
	changed, err := database.RowsAffected(result)
	if err != nil {
		return err
	}
	if !changed {
		return errNotApplied
	}
	return nil
}

// applied converts the outcome of a CAS transaction to (applied, error).
func applied(err error) (bool, error) {
	if errors.Is(err, errNotApplied) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
