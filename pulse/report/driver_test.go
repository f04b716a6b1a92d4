package report

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/compliq/agent"
	"github.com/teranos/compliq/agent/agenttest"
	"github.com/teranos/compliq/artifact"
	"github.com/teranos/compliq/compliance"
	"github.com/teranos/compliq/errors"
	compliqtest "github.com/teranos/compliq/internal/testing"
	"github.com/teranos/compliq/pulse/async"
)

const (
	lawyerID  = "arn:aws:bedrock-agentcore:eu-west-1:123456789012:runtime/lawyer"
	writerID  = "arn:aws:bedrock-agentcore:eu-west-1:123456789012:runtime/writer"
	auditorID = "arn:aws:bedrock-agentcore:eu-west-1:123456789012:runtime/auditor"
)

func testParams() JobParams {
	return JobParams{
		Country:   "Spain",
		Industry:  "Fintech",
		Workload:  "Payments API",
		SessionID: "3f1c0a52-8d7e-4b19-9a36-2f5e1c7d9b40",
		LawyerID:  lawyerID,
		WriterID:  writerID,
		AuditorID: auditorID,
		Qualifier: "DEFAULT",
		Template: compliance.ReportTemplate{Sections: []compliance.Section{
			{Name: "Scope", Description: "What is covered", Questions: []string{"What systems?"}, Order: 2},
			{Name: "Controls", Description: "Access controls", Questions: []string{"Is MFA enforced?"}, Order: 1},
		}},
	}
}

func writerEcho(_ int, in map[string]any) (*agent.RawResponse, error) {
	return agenttest.Text(fmt.Sprintf("# %v. %v\n\nFindings for %v.", in["section_number"], in["section"], in["section"])), nil
}

func lawyerEcho(_ int, in map[string]any) (*agent.RawResponse, error) {
	var pairs []agent.QAPair
	for _, q := range in["questions"].([]any) {
		pairs = append(pairs, agent.QAPair{Question: q.(string), Answer: "yes"})
	}
	return agenttest.JSON(pairs), nil
}

func verdict(compliant bool, followUps ...string) func() *agent.RawResponse {
	return func() *agent.RawResponse {
		if followUps == nil {
			followUps = []string{}
		}
		return agenttest.JSON(map[string]any{"is_compliant": compliant, "follow_up_questions": followUps})
	}
}

type harness struct {
	queue     *async.Queue
	store     *artifact.FileStore
	transport *agenttest.Transport
	sleeper   *agenttest.NoSleep
	driver    *Driver
}

func newHarness(t *testing.T, tr *agenttest.Transport) *harness {
	t.Helper()
	store, err := artifact.NewFileStore(t.TempDir())
	require.NoError(t, err)

	log := zaptest.NewLogger(t).Sugar()
	sleeper := &agenttest.NoSleep{}
	client := agent.NewClient(tr, agent.WithSleeper(sleeper.Sleep), agent.WithLogger(log))
	queue := async.NewQueue(compliqtest.CreateTestDB(t))

	return &harness{
		queue:     queue,
		store:     store,
		transport: tr,
		sleeper:   sleeper,
		driver:    NewDriver(queue, NewGenerator(client, store, 2, log), log),
	}
}

// submit enqueues params and claims the job like a worker would
func (h *harness) submit(t *testing.T, id string, payload []byte) *async.Job {
	t.Helper()
	job, err := async.NewJob(id, payload)
	require.NoError(t, err)
	require.NoError(t, h.queue.Enqueue(job))
	claimed, err := h.queue.Dequeue("test-worker")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	return claimed
}

func (h *harness) submitParams(t *testing.T, id string, p JobParams) *async.Job {
	t.Helper()
	payload, err := p.Encode()
	require.NoError(t, err)
	return h.submit(t, id, payload)
}

func TestExecute_FullSuccess(t *testing.T) {
	tr := agenttest.New().
		On(lawyerID, lawyerEcho).
		On(writerID, writerEcho).
		On(auditorID, agenttest.Always(verdict(true)))
	h := newHarness(t, tr)
	job := h.submitParams(t, "job-full", testParams())

	require.NoError(t, h.driver.Execute(context.Background(), job))

	stored, err := h.queue.GetJob("job-full")
	require.NoError(t, err)
	assert.Equal(t, async.JobStatusQuestionAnswering, stored.Status, "the pool completes the job")
	assert.Empty(t, stored.ReportKey, "the key is stored together with SUCCESS")
	assert.Equal(t, "job-full/report/compliance_report.md", job.ReportKey)
	assert.Equal(t, "Scope", stored.AnalysisSection, "last section by order")
	assert.NotZero(t, stored.AnalysisTimestamp)

	require.NoError(t, h.queue.CompleteJob(job.ID, job.ReportKey))
	stored, err = h.queue.GetJob("job-full")
	require.NoError(t, err)
	assert.Equal(t, async.JobStatusSuccess, stored.Status)
	assert.Equal(t, "job-full/report/compliance_report.md", stored.ReportKey)
	assert.Equal(t, "Scope", stored.AnalysisSection)

	body, err := h.store.Get(context.Background(), stored.ReportKey)
	require.NoError(t, err)
	want := "# Compliance Report\n\n" +
		"# Table of Contents\n\n" +
		"- [1. Controls](#1-controls)\n" +
		"- [2. Scope](#2-scope)\n" +
		"# 1. Controls\n\nFindings for Controls.\n\n" +
		"# 2. Scope\n\nFindings for Scope."
	assert.Equal(t, want, string(body))

	draft, err := h.store.Get(context.Background(), artifact.SectionKey("job-full", "Controls"))
	require.NoError(t, err)
	assert.Equal(t, "# 1. Controls\n\nFindings for Controls.", string(draft))

	for _, req := range tr.Requests() {
		assert.Equal(t, testParams().SessionID, req.SessionID)
		assert.Equal(t, "DEFAULT", req.Qualifier)
	}
	assert.Equal(t, 6, tr.Total())
}

func TestExecute_DegradedSectionStillSucceeds(t *testing.T) {
	tr := agenttest.New().
		On(lawyerID, lawyerEcho).
		On(writerID, writerEcho).
		On(auditorID, agenttest.Always(verdict(false, "Is there evidence?")))
	h := newHarness(t, tr)

	p := testParams()
	p.Template = compliance.ReportTemplate{Sections: []compliance.Section{
		{Name: "Retention", Questions: []string{"How long are logs kept?"}},
	}}
	job := h.submitParams(t, "job-degraded", p)

	require.NoError(t, h.driver.Execute(context.Background(), job))

	assert.Equal(t, 3, tr.Calls(writerID), "first draft plus two rewrites")
	assert.Equal(t, 3, tr.Calls(auditorID))
	assert.Equal(t, 3, tr.Calls(lawyerID))

	assert.NotEmpty(t, job.ReportKey)
}

func TestExecute_TransientThrottling(t *testing.T) {
	tr := agenttest.New().
		On(lawyerID, agenttest.Sequence(
			agenttest.Fail(agenttest.Throttled()),
			agenttest.Fail(agenttest.Throttled()),
			lawyerEcho,
		)).
		On(writerID, writerEcho).
		On(auditorID, agenttest.Always(verdict(true)))
	h := newHarness(t, tr)

	p := testParams()
	p.Template.Sections = p.Template.Sections[:1]
	job := h.submitParams(t, "job-throttled", p)

	require.NoError(t, h.driver.Execute(context.Background(), job))
	assert.Equal(t, 3, tr.Calls(lawyerID))
	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second}, h.sleeper.Recorded())
}

func TestExecute_MalformedInputMakesNoAgentCalls(t *testing.T) {
	tests := []struct {
		name    string
		payload func() []byte
		detail  string
	}{
		{
			name:    "not json",
			payload: func() []byte { return []byte("country: Spain") },
			detail:  "not valid JSON",
		},
		{
			name:    "unknown field",
			payload: func() []byte { return []byte(`{"country":"Spain","budget":3}`) },
			detail:  "not valid JSON",
		},
		{
			name: "missing workload",
			payload: func() []byte {
				p := testParams()
				p.Workload = ""
				b, _ := p.Encode()
				return b
			},
			detail: "workload is required",
		},
		{
			name: "missing session",
			payload: func() []byte {
				p := testParams()
				p.SessionID = " "
				b, _ := p.Encode()
				return b
			},
			detail: "session_id is required",
		},
		{
			name: "missing agent",
			payload: func() []byte {
				p := testParams()
				p.AuditorID = ""
				b, _ := p.Encode()
				return b
			},
			detail: "auditor_id is required",
		},
		{
			name: "empty template",
			payload: func() []byte {
				p := testParams()
				p.Template = compliance.ReportTemplate{}
				b, _ := p.Encode()
				return b
			},
			detail: "no sections",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := agenttest.New()
			h := newHarness(t, tr)
			job := h.submit(t, "job-bad", tt.payload())

			err := h.driver.Execute(context.Background(), job)
			require.Error(t, err)
			assert.True(t, errors.IsInvalidRequestError(err))
			assert.Contains(t, err.Error(), tt.detail)
			assert.Zero(t, tr.Total())

			stored, err := h.queue.GetJob("job-bad")
			require.NoError(t, err)
			assert.Equal(t, async.JobStatusAwaiting, stored.Status, "never started")
		})
	}
}

func TestExecute_SectionFailureLeavesNoReport(t *testing.T) {
	tr := agenttest.New().
		On(lawyerID, lawyerEcho).
		On(writerID, agenttest.Sequence(
			writerEcho,
			agenttest.Fail(errors.New("writer runtime crashed")),
		)).
		On(auditorID, agenttest.Always(verdict(true)))
	h := newHarness(t, tr)
	job := h.submitParams(t, "job-broken", testParams())

	err := h.driver.Execute(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "writer runtime crashed")

	_, err = h.store.Get(context.Background(), artifact.ReportKey("job-broken"))
	assert.True(t, errors.IsNotFoundError(err))

	_, err = h.store.Get(context.Background(), artifact.SectionKey("job-broken", "Controls"))
	assert.NoError(t, err, "finished sections keep their drafts")

	stored, err := h.queue.GetJob("job-broken")
	require.NoError(t, err)
	assert.Equal(t, "Controls", stored.AnalysisSection)
	assert.Empty(t, stored.ReportKey)
}

// TestWorkerPoolRunsReports drives jobs through the pool end to end
func TestWorkerPoolRunsReports(t *testing.T) {
	tr := agenttest.New().
		On(lawyerID, lawyerEcho).
		On(writerID, writerEcho).
		On(auditorID, agenttest.Always(verdict(true)))
	h := newHarness(t, tr)

	good, err := testParams().Encode()
	require.NoError(t, err)
	goodJob, err := async.NewJob("job-good", good)
	require.NoError(t, err)
	require.NoError(t, h.queue.Enqueue(goodJob))

	badJob, err := async.NewJob("job-no-country", []byte(`{"industry":"Fintech"}`))
	require.NoError(t, err)
	require.NoError(t, h.queue.Enqueue(badJob))

	pool := async.NewWorkerPoolWithQueue(context.Background(), h.queue, h.driver, async.WorkerPoolConfig{
		Workers:      2,
		PollInterval: 10 * time.Millisecond,
	}, zaptest.NewLogger(t).Sugar())
	pool.Start()
	defer pool.Stop()

	require.Eventually(t, func() bool {
		j, err := h.queue.GetJob("job-good")
		return err == nil && j.Status == async.JobStatusSuccess
	}, 5*time.Second, 10*time.Millisecond)
	done, err := h.queue.GetJob("job-good")
	require.NoError(t, err)
	assert.Equal(t, "job-good/report/compliance_report.md", done.ReportKey)

	require.Eventually(t, func() bool {
		j, err := h.queue.GetJob("job-no-country")
		return err == nil && j.Status == async.JobStatusError
	}, 5*time.Second, 10*time.Millisecond)

	bad, err := h.queue.GetJob("job-no-country")
	require.NoError(t, err)
	assert.Contains(t, bad.Error, "country is required")
	assert.Equal(t, 6, tr.Total(), "only the valid job reached the agents")
}
