package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/compliq/am"
	"github.com/teranos/compliq/artifact"
	"github.com/teranos/compliq/display"
	"github.com/teranos/compliq/errors"
	"github.com/teranos/compliq/pulse/async"
	"github.com/teranos/compliq/pulse/intake"
	"github.com/teranos/compliq/pulse/report"
)

// JobCmd represents the job command - compliance job management
var JobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage compliance report jobs",
	Long: `Compliance report jobs.

Jobs are queued here and processed by 'compliq pulse start'.

Job management commands:
  compliq job submit request.yaml     # Queue a report request
  compliq job ls                      # List jobs
  compliq job status <id>             # Show job details
  compliq job export <id> -o out.html # Write the finished report
  compliq job prune --older-than 720h # Forget old finished jobs`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// JobSubmitCmd queues a request file
var JobSubmitCmd = &cobra.Command{
	Use:   "submit <request-file>",
	Short: "Queue a report request",
	Long: `Queue a report request file (JSON, YAML or TOML).

A request names the workload and carries its template inline under
"template" or by path in "template_file" (relative to the request file).
Agent ids and qualifier default to the agents.* configuration; a session id
is generated when absent.

Example:
  compliq job submit requests/payments.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runJobSubmit,
}

// JobLsCmd lists jobs
var JobLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List compliance jobs",
	Long: `List jobs, newest first, optionally filtered by status.

Statuses: AWAITING, QUESTION_ANSWERING, SUCCESS, ERROR (numeric codes also accepted)

Examples:
  compliq job ls                    # List recent jobs
  compliq job ls --status ERROR     # Only failed jobs
  compliq job ls --limit 50         # Show up to 50 jobs`,
	RunE: runJobLs,
}

// JobStatusCmd shows one job
var JobStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show status of a compliance job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobStatus,
}

// JobExportCmd writes a finished report
var JobExportCmd = &cobra.Command{
	Use:   "export <job-id>",
	Short: "Export the report of a finished job",
	Long: `Write the final report of a SUCCESS job as Markdown or HTML.

Without --output the report is printed to stdout.

Examples:
  compliq job export job-42                        # Markdown to stdout
  compliq job export job-42 --format html -o r.html`,
	Args: cobra.ExactArgs(1),
	RunE: runJobExport,
}

// JobRmCmd deletes a job record
var JobRmCmd = &cobra.Command{
	Use:   "rm <job-id>",
	Short: "Delete a job record",
	Long:  "Delete a job record. Stored report artifacts are kept.",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobRm,
}

// JobPruneCmd deletes old finished jobs
var JobPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete finished jobs older than --older-than",
	Long: `Delete SUCCESS and ERROR job records last updated before --older-than ago.
Stored report artifacts are kept.

Example:
  compliq job prune --older-than 720h`,
	RunE: runJobPrune,
}

func init() {
	JobLsCmd.Flags().String("status", "", "Filter by status")
	JobLsCmd.Flags().Int("limit", 20, "Maximum number of jobs to display")

	JobExportCmd.Flags().String("format", "md", "Output format: md, html")
	JobExportCmd.Flags().StringP("output", "o", "", "Write to file instead of stdout")

	JobCmd.AddCommand(JobSubmitCmd)
	JobCmd.AddCommand(JobLsCmd)
	JobCmd.AddCommand(JobStatusCmd)
	JobCmd.AddCommand(JobExportCmd)

	JobPruneCmd.Flags().Duration("older-than", 30*24*time.Hour, "Minimum age of finished jobs to delete")
	JobCmd.AddCommand(JobRmCmd)
	JobCmd.AddCommand(JobPruneCmd)
}

// openQueue loads configuration and opens the job queue
func openQueue(cmd *cobra.Command) (*am.Config, *async.Queue, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, async.NewQueue(database), func() { database.Close() }, nil
}

func runJobSubmit(cmd *cobra.Command, args []string) error {
	req, err := intake.LoadRequestFile(args[0])
	if err != nil {
		return err
	}

	cfg, queue, closeDB, err := openQueue(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	job, err := intake.Submit(queue, req, agentDefaults(cfg))
	if err != nil {
		return err
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(job)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Queued job %s (%d sections)\n", job.ID, len(req.Params.Template.Sections))
	return nil
}

func runJobLs(cmd *cobra.Command, args []string) error {
	statusFilter, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")
	if limit <= 0 || limit > async.MaxJobsLimit {
		limit = async.MaxJobsLimit
	}

	var status *async.JobStatus
	if statusFilter != "" {
		s, err := async.ParseStatus(strings.ToUpper(statusFilter))
		if err != nil {
			return err
		}
		status = &s
	}

	_, queue, closeDB, err := openQueue(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	jobs, err := queue.ListJobs(status, limit)
	if err != nil {
		return errors.Wrap(err, "failed to list jobs")
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(jobs)
	}

	w := cmd.OutOrStdout()
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs found")
		return nil
	}
	table, err := display.JobsTable(jobs)
	if err != nil {
		return errors.Wrap(err, "failed to render jobs")
	}
	fmt.Fprintln(w, table)
	fmt.Fprintf(w, "Total: %d job(s)\n", len(jobs))
	return nil
}

func runJobStatus(cmd *cobra.Command, args []string) error {
	cfg, queue, closeDB, err := openQueue(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	job, err := queue.GetJob(args[0])
	if err != nil {
		return err
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(job)
	}

	location := ""
	if job.ReportKey != "" {
		location = reportLocation(cmd.Context(), cfg, job.ReportKey)
	}
	fmt.Fprint(cmd.OutOrStdout(), display.JobDetail(job, location))
	return nil
}

// reportLocation renders where key lives, falling back to the bare key
func reportLocation(ctx context.Context, cfg *am.Config, key string) string {
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := artifact.Open(ctx, cfg)
	if err != nil {
		return key
	}
	return store.Location(key)
}

func runJobExport(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	output, _ := cmd.Flags().GetString("output")
	if format != "md" && format != "html" {
		return errors.NewInvalidRequestError("unsupported format: %s (supported: md, html)", format)
	}

	cfg, queue, closeDB, err := openQueue(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	job, err := queue.GetJob(args[0])
	if err != nil {
		return err
	}
	if job.Status != async.JobStatusSuccess || job.ReportKey == "" {
		return errors.WithHint(
			errors.NewInvalidRequestError("job %s has no report (status %s)", job.ID, job.Status),
			"only SUCCESS jobs have a final report; see 'compliq job status'")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := artifact.Open(ctx, cfg)
	if err != nil {
		return err
	}
	data, err := store.Get(ctx, job.ReportKey)
	if err != nil {
		return err
	}

	if format == "html" {
		data, err = display.RenderHTML(string(data), exportTitle(job))
		if err != nil {
			return err
		}
	}

	if output == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if dir := filepath.Dir(output); dir != "" {
		if err := os.MkdirAll(dir, am.DefaultDirPermissions); err != nil {
			return errors.Wrapf(err, "failed to create %s", dir)
		}
	}
	if err := os.WriteFile(output, data, am.DefaultFilePermissions); err != nil {
		return errors.Wrapf(err, "failed to write %s", output)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "✓ Wrote %s\n", output)
	return nil
}

// exportTitle names the HTML page after the workload when the payload has one
func exportTitle(job *async.Job) string {
	params, err := report.DecodeParams(job.Payload)
	if err != nil || params.Workload == "" {
		return display.DefaultHTMLTitle
	}
	return fmt.Sprintf("%s: %s (%s, %s)", display.DefaultHTMLTitle, params.Workload, params.Industry, params.Country)
}

func runJobRm(cmd *cobra.Command, args []string) error {
	_, queue, closeDB, err := openQueue(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	if err := queue.DeleteJob(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted job %s\n", args[0])
	return nil
}

func runJobPrune(cmd *cobra.Command, args []string) error {
	olderThan, _ := cmd.Flags().GetDuration("older-than")
	if olderThan < 0 {
		return errors.NewInvalidRequestError("--older-than must not be negative")
	}

	_, queue, closeDB, err := openQueue(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	n, err := queue.Cleanup(ctx, olderThan)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted %d finished job(s)\n", n)
	return nil
}
