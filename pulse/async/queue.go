package async

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/teranos/compliq/errors"
)

const (
	// MaxJobsLimit is the maximum number of jobs a single listing returns
	MaxJobsLimit = 10000
	// SubscriberChannelBufferSize is the buffer size for subscriber channels
	SubscriberChannelBufferSize = 100

	// ReasonInterrupted is recorded on jobs cut short by shutdown
	ReasonInterrupted = "interrupted by shutdown; resubmit the job"
	// ReasonAbandoned is recorded on jobs whose worker stopped renewing its lease
	ReasonAbandoned = "worker lease expired; resubmit the job"
)

// Queue serializes access to the job store and fans out job updates
type Queue struct {
	store       *Store
	mu          sync.RWMutex
	subscribers []chan *Job
}

// NewQueue creates a new job queue
func NewQueue(db *sql.DB) *Queue {
	return &Queue{
		store:       NewStore(db),
		subscribers: make([]chan *Job, 0),
	}
}

// Enqueue adds a new job to the queue
func (q *Queue) Enqueue(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if job.Status != JobStatusAwaiting {
		return errors.WithDetail(
			errors.NewInvalidRequestError("only %s jobs can be enqueued, got %s", JobStatusAwaiting, job.Status),
			fmt.Sprintf("Job ID: %s", job.ID))
	}

	if err := q.store.CreateJob(job); err != nil {
		err = errors.Wrap(err, "failed to enqueue job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		return err
	}

	q.notifySubscribers(job)
	return nil
}

// Dequeue claims the oldest unclaimed AWAITING job for workerID.
// Returns nil, nil when the queue is empty.
func (q *Queue) Dequeue(workerID string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.ClaimNextJob(workerID, time.Now())
	if err != nil {
		err = errors.Wrap(err, "failed to claim next job")
		err = errors.WithDetail(err, fmt.Sprintf("Worker: %s", workerID))
		return nil, err
	}
	if job == nil {
		return nil, nil
	}

	q.notifySubscribers(job)
	return job, nil
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(id string) (*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.store.GetJob(id)
}

// RecordProgress stores the last finished section of job. It fails with
// ErrStatusChanged once the stored job has left job.Status.
func (q *Queue) RecordProgress(job *Job, section string, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.UpdateProgress(job.ID, job.Status, section, at, time.Now()); err != nil {
		return errors.Wrapf(err, "failed to record progress on job %s", job.ID)
	}
	job.RecordSection(section, at)
	q.notifySubscribers(job)
	return nil
}

// RenewClaim extends workerID's lease on a running job
func (q *Queue) RenewClaim(id, workerID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.store.RenewClaim(id, workerID, time.Now())
}

// AdvanceJob moves a stored job forward to status
func (q *Queue) AdvanceJob(id string, status JobStatus) (*Job, error) {
	return q.transition(id, "advance", func(job *Job) error { return job.Advance(status) })
}

// CompleteJob marks a job SUCCESS and stores its report key in the same write
func (q *Queue) CompleteJob(id, reportKey string) error {
	_, err := q.transition(id, "complete", func(job *Job) error {
		if err := job.Complete(); err != nil {
			return err
		}
		if reportKey != "" {
			job.ReportKey = reportKey
		}
		return nil
	})
	return err
}

// FailJob marks a job ERROR with jobErr's message
func (q *Queue) FailJob(id string, jobErr error) error {
	_, err := q.transition(id, "fail", func(job *Job) error { return job.Fail(jobErr) })
	if err != nil && jobErr != nil {
		err = errors.WithDetail(err, fmt.Sprintf("Job error: %s", jobErr.Error()))
	}
	return err
}

// transition reloads the job, applies change and saves it under the queue lock.
// It is the only writer of a job's status. The save is conditional on the
// status read, so a concurrent change by another process is never overwritten.
func (q *Queue) transition(id, action string, change func(*Job) error) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.GetJob(id)
	if err != nil {
		err = errors.Wrapf(err, "failed to %s job %s", action, id)
		return nil, err
	}
	from := job.Status

	if err := change(job); err != nil {
		return nil, errors.Wrapf(err, "failed to %s job", action)
	}

	if err := q.store.SaveTransition(job, from); err != nil {
		err = errors.Wrapf(err, "failed to %s job", action)
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Status: %s", job.Status))
		return nil, err
	}

	q.notifySubscribers(job)
	return job, nil
}

// DeleteJob removes a job
func (q *Queue) DeleteJob(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.DeleteJob(id); err != nil {
		return errors.Wrapf(err, "failed to delete job %s", id)
	}
	return nil
}

// ListJobs returns jobs, optionally filtered by status
func (q *Queue) ListJobs(status *JobStatus, limit int) ([]*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.store.ListJobs(status, limit)
}

// RecoveryResult counts what Recover changed
type RecoveryResult struct {
	Failed   int `json:"failed"`   // Abandoned in-progress jobs moved to ERROR
	Released int `json:"released"` // AWAITING jobs whose claim was dropped
}

// Recover cleans up after workers that died without finishing: in-progress
// jobs and AWAITING claims whose lease is older than staleAfter. Jobs whose
// worker is alive keep renewing their lease and are left alone.
func (q *Queue) Recover(staleAfter time.Duration) (RecoveryResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var res RecoveryResult
	cutoff := time.Now().Add(-staleAfter)
	failed, err := q.store.FailAbandonedJobs(ReasonAbandoned, cutoff)
	if err != nil {
		return res, err
	}
	res.Failed = failed

	released, err := q.store.ReleaseStaleClaims(cutoff)
	if err != nil {
		return res, err
	}
	res.Released = released
	return res, nil
}

// Subscribe returns a channel that receives job updates.
// The caller is responsible for calling Unsubscribe when done.
func (q *Queue) Subscribe() chan *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan *Job, SubscriberChannelBufferSize)
	q.subscribers = append(q.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel from the queue.
// The channel is NOT closed by this method.
func (q *Queue) Unsubscribe(ch chan *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, sub := range q.subscribers {
		if sub == ch {
			q.subscribers = append(q.subscribers[:i], q.subscribers[i+1:]...)
			return
		}
	}
}

// notifySubscribers sends a copy of job to every subscriber without blocking.
// REQUIRES: q.mu must be held by caller.
func (q *Queue) notifySubscribers(job *Job) {
	for _, ch := range q.subscribers {
		snapshot := *job
		select {
		case ch <- &snapshot:
		default:
			// Channel full, skip
		}
	}
}

// Cleanup removes old finished jobs
func (q *Queue) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.store.CleanupOldJobs(olderThan)
}

// QueueStats counts jobs per status
type QueueStats struct {
	ByStatus map[JobStatus]int `json:"by_status"`
	Total    int               `json:"total"`
}

// Count returns the number of jobs in status
func (s *QueueStats) Count(status JobStatus) int {
	return s.ByStatus[status]
}

// GetStats returns queue statistics
func (q *Queue) GetStats() (*QueueStats, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	counts, err := q.store.CountByStatus()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get queue stats")
	}

	stats := &QueueStats{ByStatus: counts}
	for _, n := range counts {
		stats.Total += n
	}
	return stats, nil
}

// GetJobCounts returns the number of waiting and in-progress jobs (for system metrics)
func (q *Queue) GetJobCounts() (waiting int, running int, err error) {
	stats, err := q.GetStats()
	if err != nil {
		return 0, 0, err
	}
	for status, n := range stats.ByStatus {
		switch {
		case status == JobStatusAwaiting:
			waiting += n
		case !status.IsTerminal():
			running += n
		}
	}
	return waiting, running, nil
}
