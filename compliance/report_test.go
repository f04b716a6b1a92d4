package compliance

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/compliq/agent"
	"github.com/teranos/compliq/agent/agenttest"
	"github.com/teranos/compliq/errors"
)

// writerEcho drafts "# N. Name" followed by a short paragraph
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

func compliant() *agent.RawResponse {
	return agenttest.JSON(map[string]any{"is_compliant": true, "follow_up_questions": []string{}})
}

func twoSections() ReportTemplate {
	return ReportTemplate{Sections: []Section{
		{Name: "Scope", Description: "What is covered", Questions: []string{"What systems?"}, Order: 2},
		{Name: "Controls", Description: "Access controls", Questions: []string{"Is MFA enforced?"}, Order: 1},
	}}
}

func TestAssemble_FullSuccess(t *testing.T) {
	tr := agenttest.New().
		On(lawyerARN, lawyerEcho).
		On(writerARN, writerEcho).
		On(auditorARN, agenttest.Always(compliant))
	asm := NewJobAssembler(newInvoker(t, tr, nil), testAgents, testWorkload, 2, nil, zaptest.NewLogger(t).Sugar())

	report, err := asm.Assemble(context.Background(), twoSections())
	require.NoError(t, err)

	want := "# Compliance Report\n\n" +
		"# Table of Contents\n\n" +
		"- [1. Controls](#1-controls)\n" +
		"- [2. Scope](#2-scope)\n" +
		"# 1. Controls\n\nFindings for Controls.\n\n" +
		"# 2. Scope\n\nFindings for Scope."
	assert.Equal(t, want, report.Markdown())

	assert.Equal(t, 2, tr.Calls(lawyerARN))
	assert.Equal(t, 2, tr.Calls(writerARN))
	assert.Equal(t, 2, tr.Calls(auditorARN))

	require.Len(t, report.Sections, 2)
	assert.Equal(t, "Controls", report.Sections[0].Name)
	assert.Equal(t, OutcomeCompliant, report.Sections[1].Outcome)
}

func TestAssemble_DegradedSection(t *testing.T) {
	tr := agenttest.New().
		On(lawyerARN, lawyerEcho).
		On(writerARN, writerEcho).
		On(auditorARN, agenttest.Always(func() *agent.RawResponse {
			return agenttest.JSON(map[string]any{"is_compliant": false, "follow_up_questions": []string{"Evidence?"}})
		}))
	asm := NewJobAssembler(newInvoker(t, tr, nil), testAgents, testWorkload, 2, nil, nil)

	tpl := ReportTemplate{Sections: []Section{{Name: "Scope", Questions: []string{"q"}}}}
	report, err := asm.Assemble(context.Background(), tpl)
	require.NoError(t, err)

	assert.Equal(t, 3, tr.Calls(writerARN))
	assert.Equal(t, 3, tr.Calls(auditorARN))
	assert.Equal(t, 3, tr.Calls(lawyerARN))
	assert.Equal(t, OutcomeTrialsExhausted, report.Sections[0].Outcome)
	assert.Contains(t, report.Markdown(), "# 1. Scope")

	// The final auditor call sees every answer gathered so far
	last := tr.Inputs(auditorARN)[2]["questions"].(string)
	assert.Equal(t, 3, strings.Count(last, "<qa_pair>"))
}

func TestAssemble_RecoversFromThrottling(t *testing.T) {
	sleeper := &agenttest.NoSleep{}
	tr := agenttest.New().
		On(lawyerARN, agenttest.Sequence(
			agenttest.Fail(agenttest.Throttled()),
			agenttest.Fail(agenttest.Throttled()),
			lawyerEcho,
		)).
		On(writerARN, writerEcho).
		On(auditorARN, agenttest.Always(compliant))
	asm := NewJobAssembler(newInvoker(t, tr, sleeper), testAgents, testWorkload, 2, nil, nil)

	tpl := ReportTemplate{Sections: []Section{{Name: "Scope", Questions: []string{"q"}}}}
	report, err := asm.Assemble(context.Background(), tpl)
	require.NoError(t, err)

	assert.Equal(t, 3, tr.Calls(lawyerARN))
	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second}, sleeper.Recorded())
	assert.Contains(t, report.Body, "Findings for Scope.")
}

func TestAssemble_SectionFailureLeavesNoReport(t *testing.T) {
	tr := agenttest.New().
		On(lawyerARN, lawyerEcho).
		On(writerARN, agenttest.Sequence(writerEcho, agenttest.Fail(errors.New("writer crashed")))).
		On(auditorARN, agenttest.Always(compliant))

	var observed []string
	observer := func(_ context.Context, r SectionResult) error {
		observed = append(observed, r.Name)
		return nil
	}
	asm := NewJobAssembler(newInvoker(t, tr, nil), testAgents, testWorkload, 2, observer, nil)

	report, err := asm.Assemble(context.Background(), twoSections())
	require.Error(t, err)
	assert.Nil(t, report)
	assert.Contains(t, err.Error(), `section "Scope" failed`)
	assert.Contains(t, err.Error(), "writer crashed")
	assert.Equal(t, []string{"Controls"}, observed, "sections before the failure were reported")
}

func TestAssemble_ObserverAborts(t *testing.T) {
	tr := agenttest.New().
		On(lawyerARN, lawyerEcho).
		On(writerARN, writerEcho).
		On(auditorARN, agenttest.Always(compliant))
	observer := func(context.Context, SectionResult) error { return errors.New("disk full") }
	asm := NewJobAssembler(newInvoker(t, tr, nil), testAgents, testWorkload, 2, observer, nil)

	_, err := asm.Assemble(context.Background(), twoSections())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, tr.Calls(writerARN), "second section never started")
}

func TestAssemble_InvalidTemplateMakesNoCalls(t *testing.T) {
	tr := agenttest.New()
	asm := NewJobAssembler(newInvoker(t, tr, nil), testAgents, testWorkload, 2, nil, nil)

	_, err := asm.Assemble(context.Background(), ReportTemplate{})
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))
	assert.Zero(t, tr.Total())
}

func TestAssemble_CancelledContext(t *testing.T) {
	tr := agenttest.New()
	asm := NewJobAssembler(newInvoker(t, tr, nil), testAgents, testWorkload, 2, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := asm.Assemble(ctx, twoSections())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, tr.Total())
}

func TestBuildReport_SortsByOrder(t *testing.T) {
	report := BuildReport([]SectionResult{
		{Name: "b", Order: 2, Markdown: "# B"},
		{Name: "c", Order: 3, Markdown: "## C sub"},
		{Name: "a", Order: 1, Markdown: "# A"},
	})

	assert.Equal(t, "# A\n\n# B\n\n## C sub", report.Body)
	assert.Equal(t, "# Table of Contents\n\n- [A](#a)\n- [B](#b)\n  - [C sub](#c-sub)\n", report.TableOfContents)
	assert.True(t, strings.HasPrefix(report.Markdown(), ReportTitle+"# Table of Contents"))
}
