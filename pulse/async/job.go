// Package async provides the persistent compliance job queue and its worker pool.
package async

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/compliq/errors"
)

// JobStatus is the lifecycle state of a compliance job, stored by name
type JobStatus string

const (
	JobStatusAwaiting          JobStatus = "AWAITING"
	JobStatusChunking          JobStatus = "CHUNKING"
	JobStatusStructuring       JobStatus = "STRUCTURING"
	JobStatusReady             JobStatus = "READY"
	JobStatusQuestionAnswering JobStatus = "QUESTION_ANSWERING"
	JobStatusReportGeneration  JobStatus = "REPORT_GENERATION"
	JobStatusSuccess           JobStatus = "SUCCESS"
	JobStatusError             JobStatus = "ERROR"
)

// Statuses lists every status in lifecycle order, ERROR last
var Statuses = []JobStatus{
	JobStatusAwaiting,
	JobStatusChunking,
	JobStatusStructuring,
	JobStatusReady,
	JobStatusQuestionAnswering,
	JobStatusReportGeneration,
	JobStatusSuccess,
	JobStatusError,
}

var statusCodes = map[JobStatus]int{
	JobStatusAwaiting:          1,
	JobStatusChunking:          2,
	JobStatusStructuring:       3,
	JobStatusReady:             4,
	JobStatusQuestionAnswering: 5,
	JobStatusReportGeneration:  6,
	JobStatusSuccess:           7,
	JobStatusError:             -1,
}

// ErrInvalidTransition is returned when a status change would move a job backwards
var ErrInvalidTransition = errors.New("invalid job status transition")

// ErrStatusChanged is returned when a job moved on since the caller read it
var ErrStatusChanged = errors.New("job status changed")

// ErrClaimLost is returned when a worker's lease on a job was taken away
var ErrClaimLost = errors.New("job claim lost")

// Code returns the numeric status code shared with the upstream pipeline, 0 if unknown
func (s JobStatus) Code() int {
	return statusCodes[s]
}

// IsTerminal reports whether no further transition is allowed
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSuccess || s == JobStatusError
}

// IsValidStatus returns true if the status string is a valid JobStatus
func IsValidStatus(s string) bool {
	_, ok := statusCodes[JobStatus(s)]
	return ok
}

// ParseStatus accepts a status name or its numeric code
func ParseStatus(s string) (JobStatus, error) {
	if IsValidStatus(s) {
		return JobStatus(s), nil
	}
	for status, code := range statusCodes {
		if s == strconv.Itoa(code) {
			return status, nil
		}
	}
	return "", errors.NewInvalidRequestError("unknown job status %q", s)
}

// CanTransition reports whether a job in s may move to next.
// ERROR is reachable from any non-terminal status; otherwise codes only increase.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s.IsTerminal() || !IsValidStatus(string(next)) {
		return false
	}
	if next == JobStatusError {
		return true
	}
	return next.Code() > s.Code()
}

// Job is one compliance report request and its progress
type Job struct {
	ID      string          `json:"id"`
	Status  JobStatus       `json:"status"`
	Payload json.RawMessage `json:"payload,omitempty"` // pulse/report JobParams

	AnalysisSection   string `json:"analysis_section,omitempty"`   // Last finished section
	AnalysisTimestamp int64  `json:"analysis_timestamp,omitempty"` // Epoch seconds of AnalysisSection
	ReportKey         string `json:"report_key,omitempty"`
	Error             string `json:"error,omitempty"`

	ClaimedBy string     `json:"claimed_by,omitempty"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewJob creates an AWAITING job. An empty id gets a random UUID.
func NewJob(id string, payload json.RawMessage) (*Job, error) {
	if len(payload) == 0 {
		return nil, errors.New("job payload cannot be empty")
	}
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	return &Job{
		ID:        id,
		Status:    JobStatusAwaiting,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Advance moves the job forward to next
func (j *Job) Advance(next JobStatus) error {
	if !j.Status.CanTransition(next) {
		return errors.WithDetailf(
			errors.Wrapf(ErrInvalidTransition, "job %s cannot move from %s to %s", j.ID, j.Status, next),
			"Job ID: %s", j.ID)
	}
	now := time.Now()
	if j.StartedAt == nil && next != JobStatusError {
		j.StartedAt = &now
	}
	if next.IsTerminal() {
		j.CompletedAt = &now
	}
	j.Status = next
	j.UpdatedAt = now
	return nil
}

// Complete marks the job SUCCESS
func (j *Job) Complete() error {
	return j.Advance(JobStatusSuccess)
}

// Fail marks the job ERROR with the error message
func (j *Job) Fail(err error) error {
	if advErr := j.Advance(JobStatusError); advErr != nil {
		return advErr
	}
	if err != nil {
		j.Error = err.Error()
	}
	return nil
}

// RecordSection notes the last finished section
func (j *Job) RecordSection(section string, at time.Time) {
	j.AnalysisSection = section
	j.AnalysisTimestamp = at.Unix()
	j.UpdatedAt = time.Now()
}

// Claim leases the job to a worker
func (j *Job) Claim(workerID string, at time.Time) {
	j.ClaimedBy = workerID
	j.ClaimedAt = &at
	j.UpdatedAt = at
}
