package display

import (
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/teranos/compliq/pulse/async"
)

const timeLayout = "2006-01-02 15:04"

// JobsTable renders jobs as a table, newest first as given
func JobsTable(jobs []*async.Job) (string, error) {
	data := pterm.TableData{{"JOB ID", "STATUS", "LAST SECTION", "CREATED", "UPDATED"}}
	for _, job := range jobs {
		data = append(data, []string{
			Truncate(job.ID, 36),
			StatusLabel(job.Status),
			Truncate(job.AnalysisSection, 28),
			job.CreatedAt.Local().Format(timeLayout),
			job.UpdatedAt.Local().Format(timeLayout),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
}

// JobDetail renders one job as labelled lines
func JobDetail(job *async.Job, location string) string {
	var b strings.Builder
	line := func(label, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(&b, "  %-16s %s\n", label+":", value)
	}

	fmt.Fprintf(&b, "Job %s\n", pterm.Bold.Sprint(job.ID))
	line("Status", fmt.Sprintf("%s (%d)", StatusLabel(job.Status), job.Status.Code()))
	line("Last section", job.AnalysisSection)
	if job.AnalysisTimestamp > 0 {
		line("Section done", time.Unix(job.AnalysisTimestamp, 0).Local().Format(time.RFC3339))
	}
	line("Report", location)
	line("Error", job.Error)
	line("Claimed by", job.ClaimedBy)
	line("Created", job.CreatedAt.Local().Format(time.RFC3339))
	if job.StartedAt != nil {
		line("Started", job.StartedAt.Local().Format(time.RFC3339))
	}
	if job.CompletedAt != nil {
		line("Completed", job.CompletedAt.Local().Format(time.RFC3339))
		if job.StartedAt != nil {
			line("Duration", job.CompletedAt.Sub(*job.StartedAt).Round(time.Second).String())
		}
	}
	return b.String()
}

// StatusLabel colors a status for terminals
func StatusLabel(s async.JobStatus) string {
	switch s {
	case async.JobStatusSuccess:
		return pterm.Green(string(s))
	case async.JobStatusError:
		return pterm.Red(string(s))
	case async.JobStatusAwaiting:
		return pterm.Gray(string(s))
	default:
		return pterm.LightCyan(string(s))
	}
}

// Truncate shortens s to max runes, marking the cut with "..."
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

// JobUpdateLine describes a job transition for the daemon's console, "" for
// updates not worth a line (claims of still-waiting jobs)
func JobUpdateLine(job *async.Job) string {
	switch job.Status {
	case async.JobStatusQuestionAnswering:
		if job.AnalysisSection != "" {
			return fmt.Sprintf("  %s %s finished %s", pterm.Gray("→"), job.ID, pterm.Bold.Sprint(job.AnalysisSection))
		}
		return fmt.Sprintf("🔄 %s %s", job.ID, StatusLabel(job.Status))
	case async.JobStatusSuccess:
		return fmt.Sprintf("✅ %s %s", job.ID, StatusLabel(job.Status))
	case async.JobStatusError:
		return fmt.Sprintf("❌ %s %s: %s", job.ID, StatusLabel(job.Status), job.Error)
	case async.JobStatusAwaiting:
		if job.ClaimedBy == "" {
			return fmt.Sprintf("📥 %s queued", job.ID)
		}
	}
	return ""
}
