package async

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/compliq/am"
	"github.com/teranos/compliq/db"
	"github.com/teranos/compliq/errors"
	"github.com/teranos/compliq/logger"
)

// pulseLogger wraps zap.SugaredLogger with methods for Pulse lifecycle events.
// Uses different log levels to create visual distinction:
// - DEBUG level → STARTING (✿ Opening operations)
// - WARN level → CLOSING (❀ Closing operations)
// - INFO level → PULSE (general worker operations)
type pulseLogger struct {
	*zap.SugaredLogger
}

// Starting logs an Opening (✿) event
func (l pulseLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Debugw("✿ "+msg, keysAndValues...)
}

// Closing logs a Closing (❀) event
func (l pulseLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Warnw("❀ "+msg, keysAndValues...)
}

// Pulse logs general worker operations
func (l pulseLogger) Pulse(msg string, keysAndValues ...interface{}) {
	l.Infow(msg, keysAndValues...)
}

// JobExecutor runs one claimed job. A nil error completes the job; any error fails it.
type JobExecutor interface {
	Execute(ctx context.Context, job *Job) error
}

// ExecutorFunc adapts a function to JobExecutor
type ExecutorFunc func(ctx context.Context, job *Job) error

// Execute implements JobExecutor
func (f ExecutorFunc) Execute(ctx context.Context, job *Job) error { return f(ctx, job) }

// WorkerPoolConfig contains configuration for the worker pool
type WorkerPoolConfig struct {
	Workers         int           `json:"workers"`           // Number of concurrent workers
	PollInterval    time.Duration `json:"poll_interval"`     // How often an idle worker checks for jobs
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`  // How long Stop waits for workers
	StaleClaimAfter time.Duration `json:"stale_claim_after"` // Leases not renewed for this long are abandoned
	Heartbeat       time.Duration `json:"heartbeat"`         // How often a running job's lease is renewed
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:         1,
		PollInterval:    time.Second,
		ShutdownTimeout: 30 * time.Second,
		StaleClaimAfter: 5 * time.Minute,
		Heartbeat:       time.Minute,
	}
}

// PoolConfigFromAm builds the pool configuration from the pulse section
func PoolConfigFromAm(cfg am.PulseConfig) WorkerPoolConfig {
	poolCfg := DefaultWorkerPoolConfig()
	if cfg.Workers > 0 {
		poolCfg.Workers = cfg.Workers
	}
	if cfg.PollInterval() > 0 {
		poolCfg.PollInterval = cfg.PollInterval()
	}
	if cfg.Lease() > 0 {
		poolCfg.StaleClaimAfter = cfg.Lease()
		poolCfg.Heartbeat = cfg.Lease() / 5
	}
	return poolCfg
}

// WorkerPool runs compliance jobs from the queue. Each worker processes one
// job to completion before claiming the next.
type WorkerPool struct {
	queue         *Queue
	executor      JobExecutor
	poolConfig    WorkerPoolConfig
	workers       int
	id            string
	parentCtx     context.Context
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	jobsProcessed int
	activeWorkers int
	startTime     time.Time
	logger        pulseLogger
	mu            sync.Mutex
}

// NewWorkerPool creates a pool over db. Cancelling ctx stops the workers.
func NewWorkerPool(ctx context.Context, database *sql.DB, executor JobExecutor, poolCfg WorkerPoolConfig, log *zap.SugaredLogger) *WorkerPool {
	return NewWorkerPoolWithQueue(ctx, NewQueue(database), executor, poolCfg, log)
}

// NewWorkerPoolWithQueue creates a pool sharing an existing queue (and its subscribers)
func NewWorkerPoolWithQueue(ctx context.Context, queue *Queue, executor JobExecutor, poolCfg WorkerPoolConfig, log *zap.SugaredLogger) *WorkerPool {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if poolCfg.Workers <= 0 {
		poolCfg.Workers = 1
	}
	if poolCfg.ShutdownTimeout <= 0 {
		poolCfg.ShutdownTimeout = DefaultWorkerPoolConfig().ShutdownTimeout
	}
	if poolCfg.PollInterval <= 0 {
		poolCfg.PollInterval = DefaultWorkerPoolConfig().PollInterval
	}
	if poolCfg.StaleClaimAfter <= 0 {
		poolCfg.StaleClaimAfter = DefaultWorkerPoolConfig().StaleClaimAfter
	}
	// Several renewals fit in one lease, so a single slow write never expires it
	if poolCfg.Heartbeat <= 0 || poolCfg.Heartbeat >= poolCfg.StaleClaimAfter {
		poolCfg.Heartbeat = poolCfg.StaleClaimAfter / 5
	}

	workerCtx, cancel := context.WithCancel(ctx)
	return &WorkerPool{
		queue:      queue,
		executor:   executor,
		poolConfig: poolCfg,
		workers:    poolCfg.Workers,
		id:         "pulse-" + uuid.NewString()[:8],
		parentCtx:  ctx,
		ctx:        workerCtx,
		cancel:     cancel,
		logger:     pulseLogger{log.Named("pulse")},
	}
}

// Start recovers jobs whose workers died, then starts the workers.
// Jobs held by live workers of other pools keep their fresh leases and are not touched.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	select {
	case <-wp.ctx.Done():
		// Context cancelled by an earlier Stop - create new child context from parent
		wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)
		wp.logger.Starting("Recreated worker context after previous shutdown")
	default:
	}
	wp.startTime = time.Now()
	wp.jobsProcessed = 0
	wp.mu.Unlock()

	res, err := wp.queue.Recover(wp.poolConfig.StaleClaimAfter)
	if err != nil {
		wp.logger.Warnw("Failed to recover abandoned jobs", logger.FieldError, err)
	} else if res.Failed > 0 || res.Released > 0 {
		wp.logger.Starting("Opening - recovered abandoned jobs",
			"failed", res.Failed,
			"released", res.Released,
		)
	}

	if warning := wp.checkMemoryPressure(); warning != "" {
		wp.logger.Warnw("Memory pressure warning", "warning", warning, "workers", wp.workers)
	}

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	wp.logger.Pulse("Worker pool started", logger.FieldCount, wp.workers, "pool_id", wp.id)
}

// Stop cancels the workers and waits up to ShutdownTimeout for them to exit.
// Jobs interrupted mid-run are marked ERROR.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	cancel := wp.cancel
	wp.mu.Unlock()
	cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	timeout := wp.poolConfig.ShutdownTimeout
	select {
	case <-done:
		wp.logger.Pulse("❀ WorkerPool.Stop() complete - all workers exited cleanly")
	case <-time.After(timeout):
		wp.logger.Closing("WorkerPool.Stop() timeout - workers may still be running", "timeout", timeout)
	}
}

// Wait blocks until every worker has exited
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

func (wp *WorkerPool) workerContext() context.Context {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.ctx
}

func (wp *WorkerPool) workerID(n int) string {
	return fmt.Sprintf("%s/%d", wp.id, n)
}

// worker processes jobs from the queue
func (wp *WorkerPool) worker(n int) {
	defer wp.wg.Done()

	ctx := wp.workerContext()
	id := wp.workerID(n)

	ticker := time.NewTicker(wp.poolConfig.PollInterval)
	defer ticker.Stop()

	// Error backoff state
	errorCount := 0
	const maxConsecutiveErrors = 5
	backoffDuration := time.Second
	const maxBackoff = 30 * time.Second

	for {
		// Drain the queue before going back to sleep
		processed, err := wp.processNextJob(ctx, id)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if db.IsDatabaseClosed(err) {
				wp.logger.Closing("Database closed, worker exiting", logger.FieldWorkerID, id)
				return
			}

			errorCount++
			wp.logger.Errorw("Worker error processing job",
				logger.FieldWorkerID, id,
				logger.FieldError, err,
				"consecutive_errors", errorCount)

			if errorCount >= maxConsecutiveErrors {
				wp.logger.Warnw("Worker backing off due to consecutive errors",
					logger.FieldWorkerID, id,
					"backoff", backoffDuration,
					"consecutive_errors", errorCount)
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoffDuration):
				}
				backoffDuration = min(backoffDuration*2, maxBackoff)
			}
		} else if errorCount > 0 {
			wp.logger.Infow("Worker recovered from errors",
				logger.FieldWorkerID, id,
				"previous_error_count", errorCount)
			errorCount = 0
			backoffDuration = time.Second
		}

		if processed && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// processNextJob claims and runs one job. processed is false when the queue was empty.
func (wp *WorkerPool) processNextJob(ctx context.Context, workerID string) (processed bool, err error) {
	select {
	case <-ctx.Done():
		return false, nil
	default:
	}

	job, err := wp.queue.Dequeue(workerID)
	if err != nil {
		return false, errors.Wrap(err, "failed to dequeue job")
	}
	if job == nil {
		return false, nil
	}

	wp.mu.Lock()
	wp.jobsProcessed++
	wp.activeWorkers++
	wp.mu.Unlock()
	defer func() {
		wp.mu.Lock()
		wp.activeWorkers--
		wp.mu.Unlock()
	}()

	log := wp.logger.With(logger.FieldJobID, job.ID, logger.FieldWorkerID, workerID)
	log.Infow("Job claimed")
	start := time.Now()

	jobCtx := logger.WithJobID(ctx, job.ID)
	stopHeartbeat := wp.startHeartbeat(ctx, job.ID, workerID, log)
	execErr := wp.executor.Execute(jobCtx, job)
	stopHeartbeat()

	if execErr != nil {
		select {
		case <-ctx.Done():
			wp.logger.Closing("Job interrupted by shutdown", logger.FieldJobID, job.ID)
			return true, wp.queue.FailJob(job.ID, errors.New(ReasonInterrupted))
		default:
		}
		log.Warnw("Job failed",
			logger.FieldError, execErr,
			logger.FieldDurationMS, time.Since(start).Milliseconds(),
		)
		return true, wp.queue.FailJob(job.ID, execErr)
	}

	if err := wp.queue.CompleteJob(job.ID, job.ReportKey); err != nil {
		return true, err
	}
	log.Infow("Job completed", logger.FieldDurationMS, time.Since(start).Milliseconds())
	return true, nil
}

// startHeartbeat renews the lease on a running job until the returned stop
// function is called. stop waits for the last renewal to finish.
func (wp *WorkerPool) startHeartbeat(ctx context.Context, jobID, workerID string, log *zap.SugaredLogger) (stop func()) {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(wp.poolConfig.Heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
			}
			if err := wp.queue.RenewClaim(jobID, workerID); err != nil {
				if errors.Is(err, ErrClaimLost) || db.IsDatabaseClosed(err) {
					log.Warnw("Lease renewal stopped", logger.FieldError, err)
					return
				}
				log.Warnw("Failed to renew lease", logger.FieldError, err)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// GetQueue returns the job queue
func (wp *WorkerPool) GetQueue() *Queue {
	return wp.queue
}

// Workers returns the number of concurrent workers configured for this pool
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

// JobsProcessed returns how many jobs this pool has claimed since Start
func (wp *WorkerPool) JobsProcessed() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.jobsProcessed
}
