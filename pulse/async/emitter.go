package async

import (
	"time"

	"go.uber.org/zap"

	"github.com/teranos/compliq/logger"
	"github.com/teranos/compliq/pulse"
)

// JobProgressEmitter implements pulse.ProgressEmitter for a queued job.
// Section progress is written to the job record as it happens.
type JobProgressEmitter struct {
	job   *Job
	queue *Queue
	log   *zap.SugaredLogger // Context-aware logger with job_id pre-configured
	now   func() time.Time
}

var _ pulse.ProgressEmitter = (*JobProgressEmitter)(nil)

// NewJobProgressEmitter creates a new progress emitter for an async job.
func NewJobProgressEmitter(job *Job, queue *Queue, baseLogger *zap.SugaredLogger) *JobProgressEmitter {
	if baseLogger == nil {
		baseLogger = zap.NewNop().Sugar()
	}
	return &JobProgressEmitter{
		job:   job,
		queue: queue,
		log:   baseLogger.With(logger.FieldJobID, job.ID),
		now:   time.Now,
	}
}

// EmitStage logs a stage transition. Status changes go through Queue.AdvanceJob.
func (e *JobProgressEmitter) EmitStage(stage, message string) {
	e.log.Infow(message, "stage", stage)
}

// EmitProgress records the last finished section on the job. Only the
// progress columns are written, and only while the job keeps its status.
func (e *JobProgressEmitter) EmitProgress(count int, metadata map[string]interface{}) {
	section, _ := metadata[pulse.MetaSection].(string)
	if section == "" {
		return
	}

	if err := e.queue.RecordProgress(e.job, section, e.now()); err != nil {
		e.log.Warnw("Failed to update job progress",
			logger.FieldSection, section,
			logger.FieldError, err,
		)
		return
	}
	e.log.Infow("Section finished",
		logger.FieldSection, section,
		logger.FieldOrder, metadata[pulse.MetaOrder],
		logger.FieldOutcome, metadata[pulse.MetaOutcome],
	)
}

// EmitComplete logs the summary. The worker marks the job SUCCESS.
func (e *JobProgressEmitter) EmitComplete(summary map[string]interface{}) {
	e.log.Infow("Report generated", "summary", summary)
}

// EmitError logs the classified error. The worker marks the job ERROR.
func (e *JobProgressEmitter) EmitError(stage string, err error) {
	ctx := ClassifyError(stage, err)
	e.log.Errorw("Job error",
		"stage", stage,
		"error_code", ctx.Code,
		logger.FieldError, err,
		"retryable", ctx.Retryable,
	)
}

// EmitInfo logs informational messages.
func (e *JobProgressEmitter) EmitInfo(message string) {
	e.log.Info(message)
}
