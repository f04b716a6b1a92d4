package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/compliq/cmd/compliq/commands"
	"github.com/teranos/compliq/display"
	"github.com/teranos/compliq/errors"
	"github.com/teranos/compliq/logger"
)

var rootCmd = &cobra.Command{
	Use:   "compliq",
	Short: "compliq - multi-agent compliance report generator",
	Long: `compliq - multi-agent compliance report generator.

A lawyer agent answers each template section's questions, a writer agent
drafts the section and an auditor agent reviews it, asking follow-up
questions until the draft is compliant or the rewrite budget runs out.
Sections are assembled into one Markdown report with a table of contents.

Available commands:
  am     - Manage compliq configuration ("I am")
  db     - Manage the job database
  pulse  - Run the Pulse daemon (job workers + inbox intake)
  job    - Submit, list and export compliance jobs
  report - Generate a report directly, without the queue

Examples:
  compliq am show                       # Show current configuration
  compliq job submit request.yaml       # Queue a report request
  compliq pulse start                   # Process queued jobs
  compliq job export <id> --format html # Export a finished report
  compliq report run request.yaml -v    # One-shot report in the foreground`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		if err := logger.Initialize(display.IsAutomatedCaller(), verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json", false, "Output JSON instead of tables")
	rootCmd.PersistentFlags().String("config", "", "Read configuration from this TOML file only")

	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.PulseCmd)
	rootCmd.AddCommand(commands.JobCmd)
	rootCmd.AddCommand(commands.ReportCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		for _, hint := range errors.GetAllHints(err) {
			fmt.Fprintln(os.Stderr, "Hint:", hint)
		}
		os.Exit(1)
	}
}
