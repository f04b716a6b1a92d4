package report

import (
	"context"

	"go.uber.org/zap"

	"github.com/teranos/compliq/errors"
	"github.com/teranos/compliq/logger"
	"github.com/teranos/compliq/pulse/async"
)

// Driver executes queued compliance jobs
type Driver struct {
	queue     *async.Queue
	generator *Generator
	logger    *zap.SugaredLogger
}

var _ async.JobExecutor = (*Driver)(nil)

// NewDriver creates the job executor used by the worker pool
func NewDriver(queue *async.Queue, generator *Generator, log *zap.SugaredLogger) *Driver {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Driver{queue: queue, generator: generator, logger: log.Named("report")}
}

// Execute generates the report for job. Invalid payloads fail before any
// agent call. Section progress is persisted as it happens. The report key is
// left on job for the worker pool, which stores it with SUCCESS; a returned
// error makes the job ERROR.
func (d *Driver) Execute(ctx context.Context, job *async.Job) error {
	log := logger.FromContext(logger.WithJobID(ctx, job.ID), d.logger)

	params, err := DecodeParams(job.Payload)
	if err != nil {
		return err
	}
	if err := params.Validate(); err != nil {
		return err
	}

	advanced, err := d.queue.AdvanceJob(job.ID, async.JobStatusQuestionAnswering)
	if err != nil {
		return errors.Wrap(err, "failed to start job")
	}
	*job = *advanced
	log.Infow("Generating compliance report",
		logger.FieldSessionID, params.SessionID,
		logger.FieldCount, len(params.Template.Sections),
	)

	emitter := async.NewJobProgressEmitter(job, d.queue, log)
	result, err := d.generator.Generate(ctx, job.ID, params, emitter)
	if err != nil {
		return err
	}

	job.ReportKey = result.Key
	log.Infow("Compliance report stored", logger.FieldKey, result.Key)
	return nil
}
