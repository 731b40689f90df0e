package generation

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/at-ishikawa/studycore/internal/collection"
)

// memStore is an in-memory Store with the same conditional update rules as
// DBStore.
type memStore struct {
	mu          sync.Mutex
	collections map[string]*collection.Collection
	jobs        map[string]*Job
	tasks       map[string][]*Task
	outputs     map[string]Output
	// errs fails the next call of the named method.
	errs map[string]error
	// beforeComplete runs before CompleteTask takes the lock.
	beforeComplete func()
}

func newMemStore() *memStore {
	return &memStore{
		collections: map[string]*collection.Collection{},
		jobs:        map[string]*Job{},
		tasks:       map[string][]*Task{},
		outputs:     map[string]Output{},
		errs:        map[string]error{},
	}
}

func (m *memStore) failNext(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[method] = err
}

func (m *memStore) injected(method string) error {
	err := m.errs[method]
	delete(m.errs, method)
	return err
}

func (m *memStore) CreateJob(_ context.Context, c *collection.Collection, job *Job, tasks []*Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("CreateJob"); err != nil {
		return err
	}
	copiedCollection := *c
	m.collections[c.ID] = &copiedCollection
	copiedJob := *job
	m.jobs[job.ID] = &copiedJob
	for _, t := range tasks {
		copied := *t
		m.tasks[job.ID] = append(m.tasks[job.ID], &copied)
	}
	sort.Slice(m.tasks[job.ID], func(i, j int) bool {
		return m.tasks[job.ID][i].Ordinal < m.tasks[job.ID][j].Ordinal
	})
	return nil
}

func (m *memStore) FindJob(_ context.Context, jobID string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("FindJob"); err != nil {
		return nil, err
	}
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	copied := *job
	return &copied, nil
}

func (m *memStore) ListActiveJobs(_ context.Context, limit int) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var jobs []Job
	for _, job := range m.jobs {
		if job.Status == JobActive {
			jobs = append(jobs, *job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (m *memStore) CountTasks(_ context.Context, jobID string) (map[TaskStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[TaskStatus]int{}
	for _, t := range m.tasks[jobID] {
		counts[t.Status]++
	}
	return counts, nil
}

func (m *memStore) NextPendingTask(_ context.Context, jobID string) (*Task, error) {
	return m.firstTask(jobID, TaskPending, "NextPendingTask")
}

func (m *memStore) ProcessingTask(_ context.Context, jobID string) (*Task, error) {
	return m.firstTask(jobID, TaskProcessing, "ProcessingTask")
}

func (m *memStore) firstTask(jobID string, status TaskStatus, method string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(method); err != nil {
		return nil, err
	}
	for _, t := range m.tasks[jobID] {
		if t.Status == status {
			copied := *t
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memStore) task(jobID, taskID string) *Task {
	for _, t := range m.tasks[jobID] {
		if t.ID == taskID {
			return t
		}
	}
	return nil
}

func (m *memStore) ClaimTask(_ context.Context, jobID, taskID, token string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("ClaimTask"); err != nil {
		return false, err
	}
	job, ok := m.jobs[jobID]
	if !ok || job.Status != JobActive || job.LeaseTaskID.Valid {
		return false, nil
	}
	task := m.task(jobID, taskID)
	if task == nil || task.Status != TaskPending {
		return false, nil
	}
	job.LeaseTaskID = sql.NullString{String: taskID, Valid: true}
	job.LeaseAt = sql.NullTime{Time: now, Valid: true}
	task.Status = TaskProcessing
	task.ClaimToken = sql.NullString{String: token, Valid: true}
	task.StartedAt = sql.NullTime{Time: now, Valid: true}
	return true, nil
}

func (m *memStore) ReleaseClaim(_ context.Context, jobID, taskID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task := m.task(jobID, taskID)
	if task == nil || task.Status != TaskProcessing || task.ClaimToken.String != token {
		return nil
	}
	task.Status = TaskPending
	task.ClaimToken = sql.NullString{}
	task.StartedAt = sql.NullTime{}
	m.releaseLease(jobID, taskID)
	return nil
}

func (m *memStore) releaseLease(jobID, taskID string) {
	job, ok := m.jobs[jobID]
	if ok && job.LeaseTaskID.String == taskID {
		job.LeaseTaskID = sql.NullString{}
		job.LeaseAt = sql.NullTime{}
	}
}

func (m *memStore) ReleaseStaleLease(_ context.Context, jobID string, olderThan time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || !job.LeaseTaskID.Valid || !job.LeaseAt.Time.Before(olderThan) {
		return false, nil
	}
	if task := m.task(jobID, job.LeaseTaskID.String); task != nil && task.Status == TaskProcessing {
		task.Status = TaskPending
		task.ClaimToken = sql.NullString{}
		task.StartedAt = sql.NullTime{}
	}
	job.LeaseTaskID = sql.NullString{}
	job.LeaseAt = sql.NullTime{}
	return true, nil
}

func (m *memStore) CompleteTask(_ context.Context, c Completion) (bool, error) {
	if m.beforeComplete != nil {
		m.beforeComplete()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("CompleteTask"); err != nil {
		return false, err
	}
	job, ok := m.jobs[c.Job.ID]
	task := m.task(c.Job.ID, c.Task.ID)
	if !ok || task == nil || job.Status != JobActive || task.Status != TaskProcessing || task.ClaimToken.String != c.ClaimToken {
		return false, nil
	}
	task.Status = TaskCompleted
	task.ItemID = sql.NullString{String: c.ItemID, Valid: true}
	task.Attempts = c.Attempts
	task.FinishedAt = sql.NullTime{Time: c.At, Valid: true}
	task.ClaimToken = sql.NullString{}
	m.outputs[c.ItemID] = c.Output
	job.CompletedCount++
	m.releaseLease(job.ID, task.ID)
	return true, nil
}

func (m *memStore) FailTask(_ context.Context, jobID, taskID, token, message string, attempts int, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("FailTask"); err != nil {
		return false, err
	}
	job, ok := m.jobs[jobID]
	task := m.task(jobID, taskID)
	if !ok || task == nil || job.Status != JobActive || task.Status != TaskProcessing || task.ClaimToken.String != token {
		return false, nil
	}
	task.Status = TaskFailed
	task.ErrorMessage = sql.NullString{String: message, Valid: true}
	task.Attempts = attempts
	task.FinishedAt = sql.NullTime{Time: now, Valid: true}
	task.ClaimToken = sql.NullString{}
	job.FailedCount++
	m.releaseLease(jobID, taskID)
	return true, nil
}

func (m *memStore) FinishJob(_ context.Context, jobID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status != JobActive || job.LeaseTaskID.Valid {
		return false, nil
	}
	for _, t := range m.tasks[jobID] {
		if t.Status == TaskPending || t.Status == TaskProcessing {
			return false, nil
		}
	}
	job.Status = JobComplete
	job.UpdatedAt = now
	c := m.collections[job.CollectionID]
	c.Status = collection.StatusReady
	c.ItemCount = job.CompletedCount
	c.UpdatedAt = now
	return true, nil
}

func (m *memStore) CancelJob(_ context.Context, jobID string, now time.Time) (CancelResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return CancelResult{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if job.Status != JobActive {
		return CancelResult{}, fmt.Errorf("%w: %s", ErrJobNotActive, jobID)
	}

	result := CancelResult{JobID: jobID, CollectionID: job.CollectionID}
	for _, t := range m.tasks[jobID] {
		switch t.Status {
		case TaskPending, TaskProcessing:
			t.Status = TaskCancelled
			t.ClaimToken = sql.NullString{}
			t.FinishedAt = sql.NullTime{Time: now, Valid: true}
			result.CancelledTasks++
		case TaskCompleted:
			result.Retained++
		}
	}

	if result.Retained > 0 {
		job.Status = JobCancelled
		job.LeaseTaskID = sql.NullString{}
		job.LeaseAt = sql.NullTime{}
		c := m.collections[job.CollectionID]
		c.Status = collection.StatusReady
		c.ItemCount = result.Retained
		return result, nil
	}

	delete(m.tasks, jobID)
	delete(m.jobs, jobID)
	delete(m.collections, job.CollectionID)
	result.Deleted = true
	return result, nil
}

func (m *memStore) collection(id string) *collection.Collection {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[id]
	if !ok {
		return nil
	}
	copied := *c
	return &copied
}

func (m *memStore) taskList(jobID string) []Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	tasks := make([]Task, 0, len(m.tasks[jobID]))
	for _, t := range m.tasks[jobID] {
		tasks = append(tasks, *t)
	}
	return tasks
}
