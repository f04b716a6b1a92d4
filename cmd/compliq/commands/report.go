package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/teranos/compliq/display"
	"github.com/teranos/compliq/logger"
	"github.com/teranos/compliq/pulse"
	"github.com/teranos/compliq/pulse/intake"
)

// ReportCmd groups one-shot report commands
var ReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate compliance reports directly",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// ReportRunCmd generates one report in the foreground
var ReportRunCmd = &cobra.Command{
	Use:   "run <request-file>",
	Short: "Generate a report now, without the job queue",
	Long: `Generate the report for one request file in the foreground.

No database is used: progress goes to the terminal (JSON lines with --json)
and artifacts to the configured store under a fresh job id, or --job-id.

Example:
  compliq report run requests/payments.yaml -v`,
	Args: cobra.ExactArgs(1),
	RunE: runReportRun,
}

func init() {
	ReportRunCmd.Flags().String("job-id", "", "Artifact folder name (default: request job_id or a new UUID)")
	ReportCmd.AddCommand(ReportRunCmd)
}

func runReportRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadValidConfig(cmd)
	if err != nil {
		return err
	}
	req, err := intake.LoadRequestFile(args[0])
	if err != nil {
		return err
	}

	jobID, _ := cmd.Flags().GetString("job-id")
	if jobID == "" {
		jobID = req.JobID
	}
	if jobID == "" {
		jobID = uuid.New().String()
	}
	params := req.Params
	params.ApplyDefaults(agentDefaults(cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithComponent(ctx, "cli")

	generator, _, err := newGenerator(ctx, cfg, logger.ComponentLogger("report"))
	if err != nil {
		return err
	}

	var progress pulse.ProgressEmitter = display.NewTerminalEmitter(cmd.OutOrStdout(), verbosity(cmd))
	if display.ShouldOutputJSON(cmd) {
		progress = display.NewJSONEmitter(cmd.OutOrStdout())
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Generating report %s for %s (%s, %s)\n", jobID, params.Workload, params.Industry, params.Country)
	}

	_, err = generator.Generate(ctx, jobID, params, progress)
	return err
}
