package async

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/compliq/am"
	"github.com/teranos/compliq/errors"
	compliqtest "github.com/teranos/compliq/internal/testing"
)

// ============================================================================
// TAS Bot (Tool-Assisted Speedrun) & Kirby Test Universe
// ============================================================================
//
// Characters:
//   - TAS Bot: Frame-perfect coordinator who sets up the worker pool
//   - Kirby: The worker who swallows report jobs whole ('Poyo!')
//   - Cronos: Greek god of time, appears for shutdown and recovery
// ============================================================================

func testPoolConfig(workers int) WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:         workers,
		PollInterval:    10 * time.Millisecond,
		ShutdownTimeout: 5 * time.Second,
	}
}

// recordingExecutor remembers which jobs it ran
type recordingExecutor struct {
	mu   sync.Mutex
	seen []string
	fn   func(ctx context.Context, job *Job) error
}

func (e *recordingExecutor) Execute(ctx context.Context, job *Job) error {
	e.mu.Lock()
	e.seen = append(e.seen, job.ID)
	e.mu.Unlock()
	if e.fn != nil {
		return e.fn(ctx, job)
	}
	return nil
}

func (e *recordingExecutor) Seen() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.seen...)
}

func waitForStatus(t *testing.T, q *Queue, id string, want JobStatus) *Job {
	t.Helper()
	var job *Job
	require.Eventually(t, func() bool {
		var err error
		job, err = q.GetJob(id)
		return err == nil && job.Status == want
	}, 5*time.Second, 10*time.Millisecond, "job %s never reached %s", id, want)
	return job
}

func TestTASBotConfiguresPool(t *testing.T) {
	t.Log("🎮 TAS Bot reads the pulse settings...")

	poolCfg := PoolConfigFromAm(am.PulseConfig{Workers: 3, PollIntervalMS: 250})
	assert.Equal(t, 3, poolCfg.Workers)
	assert.Equal(t, 250*time.Millisecond, poolCfg.PollInterval)
	assert.Equal(t, 30*time.Second, poolCfg.ShutdownTimeout)

	defaults := PoolConfigFromAm(am.PulseConfig{})
	assert.Equal(t, 1, defaults.Workers)
	assert.Equal(t, time.Second, defaults.PollInterval)
	assert.Equal(t, 5*time.Minute, defaults.StaleClaimAfter)
	assert.Equal(t, time.Minute, defaults.Heartbeat)

	leased := PoolConfigFromAm(am.PulseConfig{LeaseSeconds: 120})
	assert.Equal(t, 2*time.Minute, leased.StaleClaimAfter)
	assert.Equal(t, 24*time.Second, leased.Heartbeat)

	pool := NewWorkerPool(context.Background(), compliqtest.CreateTestDB(t), &recordingExecutor{}, WorkerPoolConfig{}, nil)
	assert.Equal(t, 1, pool.Workers(), "zero workers falls back to one")
}

func TestKirbyCompletesJobs(t *testing.T) {
	t.Log("⭐ Kirby inhales three report jobs... 'Poyo!'")

	db := compliqtest.CreateTestDB(t)
	q := NewQueue(db)
	for i := 1; i <= 3; i++ {
		newQueuedJob(t, q, fmt.Sprintf("JOB_KIRBY_%d", i))
	}

	exec := &recordingExecutor{fn: func(ctx context.Context, job *Job) error {
		_, err := q.AdvanceJob(job.ID, JobStatusQuestionAnswering)
		return err
	}}
	pool := NewWorkerPoolWithQueue(context.Background(), q, exec, testPoolConfig(2), zaptest.NewLogger(t).Sugar())
	pool.Start()
	defer pool.Stop()

	for i := 1; i <= 3; i++ {
		job := waitForStatus(t, q, fmt.Sprintf("JOB_KIRBY_%d", i), JobStatusSuccess)
		assert.NotNil(t, job.StartedAt)
		assert.NotNil(t, job.CompletedAt)
		assert.NotEmpty(t, job.ClaimedBy)
	}
	assert.ElementsMatch(t, []string{"JOB_KIRBY_1", "JOB_KIRBY_2", "JOB_KIRBY_3"}, exec.Seen())
	assert.Equal(t, 3, pool.JobsProcessed())

	t.Log("✓ All three jobs copied and completed")
}

func TestKirbyFailsJobOnExecutorError(t *testing.T) {
	db := compliqtest.CreateTestDB(t)
	q := NewQueue(db)
	newQueuedJob(t, q, "JOB_BAD_INPUT")

	exec := ExecutorFunc(func(ctx context.Context, job *Job) error {
		return errors.NewInvalidRequestError("country is required")
	})
	pool := NewWorkerPoolWithQueue(context.Background(), q, exec, testPoolConfig(1), zaptest.NewLogger(t).Sugar())
	pool.Start()
	defer pool.Stop()

	job := waitForStatus(t, q, "JOB_BAD_INPUT", JobStatusError)
	assert.Contains(t, job.Error, "country is required")
}

func TestWorkerProcessesOneJobAtATime(t *testing.T) {
	db := compliqtest.CreateTestDB(t)
	q := NewQueue(db)
	for i := 1; i <= 4; i++ {
		newQueuedJob(t, q, fmt.Sprintf("JOB_SEQ_%d", i))
	}

	var (
		mu      sync.Mutex
		running int
		peak    int
	)
	exec := ExecutorFunc(func(ctx context.Context, job *Job) error {
		mu.Lock()
		running++
		peak = max(peak, running)
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		return nil
	})
	pool := NewWorkerPoolWithQueue(context.Background(), q, exec, testPoolConfig(1), zaptest.NewLogger(t).Sugar())
	pool.Start()
	defer pool.Stop()

	for i := 1; i <= 4; i++ {
		waitForStatus(t, q, fmt.Sprintf("JOB_SEQ_%d", i), JobStatusSuccess)
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, peak)
}

func TestCronosInterruptsRunningJob(t *testing.T) {
	t.Log("⏰ Cronos stops time while Kirby is mid-job...")

	db := compliqtest.CreateTestDB(t)
	q := NewQueue(db)
	newQueuedJob(t, q, "JOB_LONG")

	started := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, job *Job) error {
		if _, err := q.AdvanceJob(job.ID, JobStatusQuestionAnswering); err != nil {
			return err
		}
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	pool := NewWorkerPoolWithQueue(context.Background(), q, exec, testPoolConfig(1), zaptest.NewLogger(t).Sugar())
	pool.Start()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}
	pool.Stop()

	job, err := q.GetJob("JOB_LONG")
	require.NoError(t, err)
	assert.Equal(t, JobStatusError, job.Status)
	assert.Equal(t, ReasonInterrupted, job.Error)

	t.Log("✓ Interrupted job is terminal and asks for resubmission")
}

func TestCronosRecoversOnStart(t *testing.T) {
	db := compliqtest.CreateTestDB(t)
	q := NewQueue(db)

	newQueuedJob(t, q, "JOB_ORPHAN")
	_, err := q.AdvanceJob("JOB_ORPHAN", JobStatusQuestionAnswering)
	require.NoError(t, err)

	newQueuedJob(t, q, "JOB_STALE_CLAIM")
	claimed, err := q.Dequeue("crashed-worker")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	time.Sleep(5 * time.Millisecond)

	exec := &recordingExecutor{}
	cfg := testPoolConfig(1)
	cfg.StaleClaimAfter = time.Millisecond
	pool := NewWorkerPoolWithQueue(context.Background(), q, exec, cfg, zaptest.NewLogger(t).Sugar())
	pool.Start()
	defer pool.Stop()

	orphan := waitForStatus(t, q, "JOB_ORPHAN", JobStatusError)
	assert.Equal(t, ReasonAbandoned, orphan.Error)

	// The released claim is picked up again by the new pool
	waitForStatus(t, q, "JOB_STALE_CLAIM", JobStatusSuccess)
	assert.Equal(t, []string{"JOB_STALE_CLAIM"}, exec.Seen())
}

func TestSecondPoolLeavesLiveJobsAlone(t *testing.T) {
	t.Log("🎮 TAS Bot boots a second console while Kirby is still mid-level...")

	db := compliqtest.CreateTestDB(t)
	log := zaptest.NewLogger(t).Sugar()
	cfg := testPoolConfig(1)
	cfg.StaleClaimAfter = 100 * time.Millisecond
	cfg.Heartbeat = 10 * time.Millisecond

	// Each pool has its own queue, like separate processes on one database
	qA := NewQueue(db)
	newQueuedJob(t, qA, "JOB_SHARED")

	started := make(chan struct{})
	release := make(chan struct{})
	execA := ExecutorFunc(func(ctx context.Context, job *Job) error {
		running, err := qA.AdvanceJob(job.ID, JobStatusQuestionAnswering)
		if err != nil {
			return err
		}
		*job = *running
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
		job.ReportKey = job.ID + "/report/compliance_report.md"
		return nil
	})
	poolA := NewWorkerPoolWithQueue(context.Background(), qA, execA, cfg, log)
	poolA.Start()
	defer poolA.Stop()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}

	// Longer than one lease: only the heartbeat keeps the claim fresh
	time.Sleep(3 * cfg.StaleClaimAfter)

	qB := NewQueue(db)
	execB := &recordingExecutor{}
	poolB := NewWorkerPoolWithQueue(context.Background(), qB, execB, cfg, log)
	poolB.Start()
	defer poolB.Stop()

	job, err := qB.GetJob("JOB_SHARED")
	require.NoError(t, err)
	assert.Equal(t, JobStatusQuestionAnswering, job.Status, "a live lease survives another pool's start")
	assert.Empty(t, job.Error)

	close(release)
	done := waitForStatus(t, qA, "JOB_SHARED", JobStatusSuccess)
	assert.Equal(t, "JOB_SHARED/report/compliance_report.md", done.ReportKey)
	assert.Empty(t, execB.Seen(), "the second pool never ran the job")

	t.Log("✓ 'Poyo!' Both consoles agree on one finished job")
}

func TestWorkersExitWhenDatabaseCloses(t *testing.T) {
	db := compliqtest.CreateTestDB(t)

	pool := NewWorkerPool(context.Background(), db, &recordingExecutor{}, testPoolConfig(2), zaptest.NewLogger(t).Sugar())
	pool.Start()
	require.NoError(t, db.Close())

	done := make(chan struct{})
	go func() {
		pool.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("workers kept polling a closed database")
	}
}

func TestPoolRestartAfterStop(t *testing.T) {
	db := compliqtest.CreateTestDB(t)
	q := NewQueue(db)

	pool := NewWorkerPoolWithQueue(context.Background(), q, &recordingExecutor{}, testPoolConfig(1), zaptest.NewLogger(t).Sugar())
	pool.Start()
	pool.Stop()

	newQueuedJob(t, q, "JOB_AFTER_RESTART")
	pool.Start()
	defer pool.Stop()

	waitForStatus(t, q, "JOB_AFTER_RESTART", JobStatusSuccess)
}

func TestParentContextStopsWorkers(t *testing.T) {
	db := compliqtest.CreateTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())

	pool := NewWorkerPool(ctx, db, &recordingExecutor{}, testPoolConfig(2), zaptest.NewLogger(t).Sugar())
	pool.Start()
	cancel()

	done := make(chan struct{})
	go func() {
		pool.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("workers did not exit after parent cancellation")
	}
}
