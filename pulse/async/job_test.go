package async

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/compliq/errors"
)

var testPayload = json.RawMessage(`{"country":"Spain","industry":"Fintech","workload":"Payments API"}`)

func TestStatusCodes(t *testing.T) {
	want := map[JobStatus]int{
		JobStatusAwaiting:          1,
		JobStatusChunking:          2,
		JobStatusStructuring:       3,
		JobStatusReady:             4,
		JobStatusQuestionAnswering: 5,
		JobStatusReportGeneration:  6,
		JobStatusSuccess:           7,
		JobStatusError:             -1,
	}
	for status, code := range want {
		assert.Equal(t, code, status.Code(), status)
	}
	assert.Len(t, Statuses, len(want))
	assert.Equal(t, 0, JobStatus("PAUSED").Code())
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    JobStatus
		wantErr bool
	}{
		{in: "AWAITING", want: JobStatusAwaiting},
		{in: "QUESTION_ANSWERING", want: JobStatusQuestionAnswering},
		{in: "5", want: JobStatusQuestionAnswering},
		{in: "-1", want: JobStatusError},
		{in: "7", want: JobStatusSuccess},
		{in: "awaiting", wantErr: true},
		{in: "0", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStatus(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalidRequestError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobStatusAwaiting, JobStatusQuestionAnswering, true},
		{JobStatusAwaiting, JobStatusChunking, true},
		{JobStatusQuestionAnswering, JobStatusSuccess, true},
		{JobStatusQuestionAnswering, JobStatusError, true},
		{JobStatusAwaiting, JobStatusError, true},
		{JobStatusAwaiting, JobStatusSuccess, true},

		// Never regresses
		{JobStatusQuestionAnswering, JobStatusAwaiting, false},
		{JobStatusReportGeneration, JobStatusQuestionAnswering, false},
		{JobStatusQuestionAnswering, JobStatusQuestionAnswering, false},

		// Terminal statuses are final
		{JobStatusSuccess, JobStatusError, false},
		{JobStatusError, JobStatusSuccess, false},
		{JobStatusError, JobStatusError, false},

		{JobStatusAwaiting, JobStatus("PAUSED"), false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestNewJob(t *testing.T) {
	job, err := NewJob("", testPayload)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, JobStatusAwaiting, job.Status)
	assert.False(t, job.CreatedAt.IsZero())
	assert.Nil(t, job.StartedAt)

	named, err := NewJob("job-1", testPayload)
	require.NoError(t, err)
	assert.Equal(t, "job-1", named.ID)

	_, err = NewJob("job-2", nil)
	require.Error(t, err)
}

func TestJobLifecycleTimestamps(t *testing.T) {
	job, err := NewJob("job-1", testPayload)
	require.NoError(t, err)

	require.NoError(t, job.Advance(JobStatusQuestionAnswering))
	require.NotNil(t, job.StartedAt)
	assert.Nil(t, job.CompletedAt)
	started := *job.StartedAt

	require.NoError(t, job.Complete())
	assert.Equal(t, JobStatusSuccess, job.Status)
	require.NotNil(t, job.CompletedAt)
	assert.Equal(t, started, *job.StartedAt, "StartedAt is set once")

	err = job.Fail(errors.New("too late"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, JobStatusSuccess, job.Status)
	assert.Empty(t, job.Error)
}

func TestJobFailFromAwaiting(t *testing.T) {
	job, err := NewJob("job-1", testPayload)
	require.NoError(t, err)

	require.NoError(t, job.Fail(errors.New("country is required")))
	assert.Equal(t, JobStatusError, job.Status)
	assert.Equal(t, "country is required", job.Error)
	assert.Nil(t, job.StartedAt, "a job rejected before starting has no start time")
	assert.NotNil(t, job.CompletedAt)
}

func TestRecordSection(t *testing.T) {
	job, err := NewJob("job-1", testPayload)
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job.RecordSection("Access Control", at)
	assert.Equal(t, "Access Control", job.AnalysisSection)
	assert.Equal(t, at.Unix(), job.AnalysisTimestamp)
}
