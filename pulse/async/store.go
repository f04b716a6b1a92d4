package async

import (
	"database/sql"
	"time"

	"github.com/teranos/compliq/db"
	"github.com/teranos/compliq/errors"
)

// Store handles persistence of compliance jobs
type Store struct {
	db *sql.DB
}

// NewStore creates a new job store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateJob inserts a new job into the database
func (s *Store) CreateJob(job *Job) error {
	query := `
		INSERT INTO compliance_jobs (
			id, status, payload,
			analysis_section, analysis_timestamp, report_key, error,
			claimed_by, claimed_at,
			created_at, started_at, completed_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		job.ID,
		job.Status,
		string(job.Payload),
		nullString(job.AnalysisSection),
		nullInt64(job.AnalysisTimestamp),
		nullString(job.ReportKey),
		nullString(job.Error),
		nullString(job.ClaimedBy),
		job.ClaimedAt,
		job.CreatedAt,
		job.StartedAt,
		job.CompletedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create job")
	}
	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(id string) (*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + ` FROM compliance_jobs WHERE id = ?`

	var job Job
	err := scanJob(s.db.QueryRow(query, id), &job)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "job %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}
	return &job, nil
}

// SaveTransition writes a status change made on job, provided the stored
// status is still from. Section progress and the claim are left untouched;
// an empty ReportKey keeps the stored one.
func (s *Store) SaveTransition(job *Job, from JobStatus) error {
	query := `
		UPDATE compliance_jobs
		SET status = ?,
		    report_key = COALESCE(?, report_key),
		    error = ?,
		    started_at = ?,
		    completed_at = ?,
		    updated_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := s.db.Exec(query,
		job.Status,
		nullString(job.ReportKey),
		nullString(job.Error),
		job.StartedAt,
		job.CompletedAt,
		job.UpdatedAt,
		job.ID,
		from,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update job")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return s.missingOrMoved(job.ID, from)
	}
	return nil
}

// UpdateProgress records the last finished section of a job still in status
func (s *Store) UpdateProgress(id string, status JobStatus, section string, at, now time.Time) error {
	result, err := s.db.Exec(`
		UPDATE compliance_jobs
		SET analysis_section = ?, analysis_timestamp = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		section, at.Unix(), now, id, status,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update job progress")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return s.missingOrMoved(id, status)
	}
	return nil
}

// RenewClaim refreshes the lease workerID holds on an unfinished job
func (s *Store) RenewClaim(id, workerID string, now time.Time) error {
	result, err := s.db.Exec(`
		UPDATE compliance_jobs
		SET claimed_at = ?
		WHERE id = ? AND claimed_by = ? AND status NOT IN (?, ?)`,
		now, id, workerID, JobStatusSuccess, JobStatusError,
	)
	if err != nil {
		return errors.Wrap(db.MarkClosed(err), "failed to renew claim")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(ErrClaimLost, "job %s is no longer leased to %s", id, workerID)
	}
	return nil
}

// missingOrMoved explains why a conditional update on id matched no row
func (s *Store) missingOrMoved(id string, expected JobStatus) error {
	var current JobStatus
	err := s.db.QueryRow(`SELECT status FROM compliance_jobs WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrapf(errors.ErrNotFound, "job %s", id)
	}
	if err != nil {
		return errors.Wrap(err, "failed to read job status")
	}
	return errors.WithDetailf(
		errors.Wrapf(ErrStatusChanged, "job %s is %s, expected %s", id, current, expected),
		"Job ID: %s", id)
}

// ListJobs returns jobs newest first, optionally filtered by status
func (s *Store) ListJobs(status *JobStatus, limit int) ([]*Job, error) {
	var query string
	var args []interface{}

	baseQuery := `SELECT ` + StandardJobSelectColumns() + ` FROM compliance_jobs`
	if status != nil {
		query = baseQuery + ` WHERE status = ? ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{*status, limit}
	} else {
		query = baseQuery + ` ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{limit}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "jobs")
}

// scanJobs scans every row into a job
func scanJobs(rows *sql.Rows, context string) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		var job Job
		if err := scanJob(rows, &job); err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, &job)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating %s", context)
	}
	return jobs, nil
}

// ClaimNextJob leases the oldest unclaimed AWAITING job to workerID.
// Returns nil, nil when nothing is waiting.
func (s *Store) ClaimNextJob(workerID string, now time.Time) (*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + `
		FROM compliance_jobs
		WHERE status = ? AND claimed_by IS NULL
		ORDER BY created_at ASC
		LIMIT 1`

	// Losing the conditional UPDATE means another claimer took that job; try the next one
	for {
		var job Job
		err := scanJob(s.db.QueryRow(query, JobStatusAwaiting), &job)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, errors.Wrap(db.MarkClosed(err), "failed to find awaiting job")
		}

		result, err := s.db.Exec(`
			UPDATE compliance_jobs
			SET claimed_by = ?, claimed_at = ?, updated_at = ?
			WHERE id = ? AND claimed_by IS NULL AND status = ?`,
			workerID, now, now, job.ID, JobStatusAwaiting,
		)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to claim job %s", job.ID)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get rows affected")
		}
		if rows == 1 {
			job.Claim(workerID, now)
			return &job, nil
		}
	}
}

// ReleaseStaleClaims clears claims on AWAITING jobs claimed before cutoff
func (s *Store) ReleaseStaleClaims(cutoff time.Time) (int, error) {
	result, err := s.db.Exec(`
		UPDATE compliance_jobs
		SET claimed_by = NULL, claimed_at = NULL, updated_at = ?
		WHERE status = ? AND claimed_by IS NOT NULL AND claimed_at < ?`,
		time.Now(), JobStatusAwaiting, cutoff,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to release stale claims")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(rows), nil
}

// FailAbandonedJobs moves started, unfinished jobs to ERROR with reason when
// their lease was last renewed before cutoff. Jobs started without a claim
// have no lease and count as abandoned.
func (s *Store) FailAbandonedJobs(reason string, cutoff time.Time) (int, error) {
	now := time.Now()
	result, err := s.db.Exec(`
		UPDATE compliance_jobs
		SET status = ?, error = ?, completed_at = ?, updated_at = ?
		WHERE status NOT IN (?, ?, ?)
		  AND (claimed_at IS NULL OR claimed_at < ?)`,
		JobStatusError, reason, now, now,
		JobStatusAwaiting, JobStatusSuccess, JobStatusError,
		cutoff,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to fail abandoned jobs")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(rows), nil
}

// CountByStatus returns the number of jobs in each status present
func (s *Store) CountByStatus() (map[JobStatus]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM compliance_jobs GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}
	defer rows.Close()

	counts := make(map[JobStatus]int)
	for rows.Next() {
		var status JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan job count")
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating job counts")
	}
	return counts, nil
}

// DeleteJob removes a job from the database
func (s *Store) DeleteJob(id string) error {
	result, err := s.db.Exec(`DELETE FROM compliance_jobs WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete job")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrNotFound, "job %s", id)
	}
	return nil
}

// CleanupOldJobs removes finished jobs last updated before olderThan ago
func (s *Store) CleanupOldJobs(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)

	result, err := s.db.Exec(`
		DELETE FROM compliance_jobs
		WHERE status IN (?, ?)
		  AND updated_at < ?`,
		JobStatusSuccess, JobStatusError, cutoff,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old jobs")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(rows), nil
}
