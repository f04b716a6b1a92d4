package display

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/compliq/errors"
	"github.com/teranos/compliq/pulse"
	"github.com/teranos/compliq/pulse/async"
)

func TestMain(m *testing.M) {
	pterm.DisableStyling()
	os.Exit(m.Run())
}

func newCmd() *cobra.Command {
	root := &cobra.Command{Use: "compliq"}
	root.PersistentFlags().Bool("json", false, "")
	child := &cobra.Command{Use: "ls", Run: func(*cobra.Command, []string) {}}
	root.AddCommand(child)
	return child
}

func TestShouldOutputJSON(t *testing.T) {
	t.Setenv(CallerEnv, "")
	assert.False(t, ShouldOutputJSON(nil))
	assert.False(t, ShouldOutputJSON(newCmd()))

	cmd := newCmd()
	require.NoError(t, cmd.Root().PersistentFlags().Set("json", "true"))
	assert.True(t, ShouldOutputJSON(cmd))

	t.Setenv(CallerEnv, "ci-pipeline")
	assert.True(t, ShouldOutputJSON(nil))
	assert.True(t, ShouldOutputJSON(newCmd()))

	t.Setenv(CallerEnv, "Human")
	assert.False(t, IsAutomatedCaller())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcd...", Truncate("abcdefghij", 7))
	assert.Equal(t, "ab", Truncate("abcdef", 2))
	assert.Equal(t, "Prote...", Truncate("Protección de datos", 8), "cuts on runes")
}

func testJob(t *testing.T) *async.Job {
	t.Helper()
	job, err := async.NewJob("job-7d1f", []byte(`{}`))
	require.NoError(t, err)
	return job
}

func TestJobsTable(t *testing.T) {
	done := testJob(t)
	done.Status = async.JobStatusSuccess
	done.AnalysisSection = "Data Retention"

	out, err := JobsTable([]*async.Job{testJob(t), done})
	require.NoError(t, err)
	assert.Contains(t, out, "JOB ID")
	assert.Contains(t, out, "AWAITING")
	assert.Contains(t, out, "SUCCESS")
	assert.Contains(t, out, "Data Retention")
}

func TestJobDetail(t *testing.T) {
	job := testJob(t)
	start := time.Now().Add(-90 * time.Second)
	end := time.Now()
	job.Status = async.JobStatusError
	job.Error = "writer runtime crashed"
	job.StartedAt = &start
	job.CompletedAt = &end

	out := JobDetail(job, "")
	assert.Contains(t, out, "job-7d1f")
	assert.Contains(t, out, "ERROR (-1)")
	assert.Contains(t, out, "writer runtime crashed")
	assert.Contains(t, out, "Duration:")
	assert.NotContains(t, out, "Report:", "empty values are skipped")
}

func TestTerminalEmitter(t *testing.T) {
	var buf bytes.Buffer
	e := NewTerminalEmitter(&buf, 1)

	e.EmitStage("sections", "Generating report sections")
	e.EmitProgress(1, map[string]interface{}{
		pulse.MetaSection: "Access Control",
		pulse.MetaOrder:   1,
		pulse.MetaTotal:   2,
		pulse.MetaOutcome: "compliant",
		pulse.MetaKey:     "job/report/Access Control.md",
	})
	e.EmitProgress(1, map[string]interface{}{
		pulse.MetaSection: "Retention",
		pulse.MetaOutcome: "trials_exhausted",
	})
	e.EmitError("store", errors.New("bucket missing"))
	e.EmitComplete(map[string]interface{}{"location": "reports/job/report/compliance_report.md", "sections": 2})

	out := buf.String()
	assert.Contains(t, out, "sections: Generating report sections")
	assert.Contains(t, out, "✅ 1/2 Access Control (compliant)")
	assert.Contains(t, out, "job/report/Access Control.md")
	assert.Contains(t, out, "⚠️ Retention (trials_exhausted)")
	assert.Contains(t, out, "bucket missing")
	assert.Contains(t, out, "Report complete!")
	assert.Contains(t, out, "reports/job/report/compliance_report.md")
	assert.Contains(t, out, "sections: 2")
}

func TestTerminalEmitterQuiet(t *testing.T) {
	var buf bytes.Buffer
	e := NewTerminalEmitter(&buf, 0)
	e.EmitInfo("only at -v")
	assert.Empty(t, buf.String())
}

func TestJSONEmitter(t *testing.T) {
	var buf bytes.Buffer
	e := NewJSONEmitter(&buf)
	e.EmitStage("validate", "Validating job parameters")
	e.EmitProgress(1, map[string]interface{}{pulse.MetaSection: "Scope"})
	e.EmitError("sections", errors.New("throttled"))

	var events []ProgressEvent
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var ev ProgressEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		events = append(events, ev)
	}
	require.Len(t, events, 3)
	assert.Equal(t, "stage", events[0].Type)
	assert.Equal(t, "Scope", events[1].Data["section"])
	assert.EqualValues(t, 1, events[1].Data["count"])
	assert.Equal(t, "throttled", events[2].Data["error"])
}

func TestRenderHTML(t *testing.T) {
	md := "# Compliance Report\n\n# Table of Contents\n\n- [1. Access Control](#1-access-control)\n" +
		"# 1. Access Control\n\nMFA is **enforced**.\n\n| System | MFA |\n|---|---|\n| VPN | yes |\n"

	out, err := RenderHTML(md, "Payments <API>")
	require.NoError(t, err)
	html := string(out)

	assert.Contains(t, html, "<title>Payments &lt;API&gt;</title>")
	assert.Contains(t, html, `<h1 id="1-access-control">1. Access Control</h1>`)
	assert.Contains(t, html, `href="#1-access-control"`)
	assert.Contains(t, html, "<strong>enforced</strong>")
	assert.Contains(t, html, "<table>")
	assert.True(t, strings.HasPrefix(html, "<!DOCTYPE html>"))
}

func TestRenderHTMLDefaultTitle(t *testing.T) {
	out, err := RenderHTML("# A\n\n# A\n", " ")
	require.NoError(t, err)
	assert.Contains(t, string(out), "<title>Compliance Report</title>")
	assert.Contains(t, string(out), `id="a-1"`, "duplicate headings get distinct ids")
}

func TestJobUpdateLine(t *testing.T) {
	job := testJob(t)
	assert.Equal(t, "📥 job-7d1f queued", JobUpdateLine(job))

	job.ClaimedBy = "pulse-1/0"
	assert.Empty(t, JobUpdateLine(job), "claims are not announced")

	job.Status = async.JobStatusQuestionAnswering
	assert.Contains(t, JobUpdateLine(job), "QUESTION_ANSWERING")
	job.AnalysisSection = "Scope"
	assert.Contains(t, JobUpdateLine(job), "finished Scope")

	job.Status = async.JobStatusError
	job.Error = "interrupted"
	assert.Equal(t, "❌ job-7d1f ERROR: interrupted", JobUpdateLine(job))
}
