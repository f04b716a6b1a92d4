package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teranos/compliq/display"
	"github.com/teranos/compliq/errors"
	"github.com/teranos/compliq/logger"
	"github.com/teranos/compliq/pulse/async"
	"github.com/teranos/compliq/pulse/intake"
	"github.com/teranos/compliq/pulse/report"
)

// PulseCmd represents the pulse command - the compliance job daemon
var PulseCmd = &cobra.Command{
	Use:   "pulse",
	Short: "Manage the Pulse daemon (compliance job workers)",
	Long: `Pulse daemon - background report generation.

The Pulse daemon provides:
- A worker pool that claims queued jobs and generates their reports
- Optional inbox intake: request files dropped in a directory become jobs
- Crash recovery: jobs interrupted by an unclean stop are marked ERROR on start

Example:
  compliq pulse start                          # Start daemon in foreground
  compliq pulse start --workers 3              # Start with 3 concurrent workers
  compliq pulse start --inbox ./requests       # Also watch ./requests for job files`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// PulseStartCmd starts the Pulse daemon
var PulseStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Pulse daemon",
	Long: `Start the Pulse daemon in foreground mode.

The daemon will:
- Recover jobs left behind by a previous run
- Start the worker pool for report jobs
- Watch the inbox directory when one is configured
- Run until interrupted (Ctrl+C); running jobs are marked interrupted`,
	RunE: runPulseStart,
}

func init() {
	PulseStartCmd.Flags().Int("workers", 0, "Number of concurrent workers (default: pulse.workers)")
	PulseStartCmd.Flags().String("inbox", "", "Directory to watch for request files (default: pulse.inbox_dir)")
	PulseCmd.AddCommand(PulseStartCmd)
}

func runPulseStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadValidConfig(cmd)
	if err != nil {
		return err
	}
	if workers, _ := cmd.Flags().GetInt("workers"); workers > 0 {
		cfg.Pulse.Workers = workers
	}
	if inbox, _ := cmd.Flags().GetString("inbox"); inbox != "" {
		cfg.Pulse.InboxDir = inbox
	}
	if cfg.Pulse.Workers == 0 {
		return errors.WithHint(errors.New("pulse.workers is 0; nothing to start"), "pass --workers or set pulse.workers")
	}

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := logger.ComponentLogger("pulse")
	generator, store, err := newGenerator(ctx, cfg, log)
	if err != nil {
		return err
	}

	queue := async.NewQueue(database)
	driver := report.NewDriver(queue, generator, log)
	poolCfg := async.PoolConfigFromAm(cfg.Pulse)
	pool := async.NewWorkerPoolWithQueue(ctx, queue, driver, poolCfg, log)

	var inbox *intake.Inbox
	if cfg.Pulse.InboxDir != "" {
		inbox, err = intake.NewInbox(cfg.Pulse.InboxDir, queue, agentDefaults(cfg), log)
		if err != nil {
			return err
		}
	}

	updates := queue.Subscribe()
	defer queue.Unsubscribe(updates)

	pool.Start()
	go printJobUpdates(ctx, cmd.OutOrStdout(), updates)

	inboxDone := make(chan error, 1)
	if inbox != nil {
		go func() { inboxDone <- inbox.Run(ctx) }()
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "꩜ Pulse daemon started\n")
	fmt.Fprintf(w, "  Workers: %d\n", poolCfg.Workers)
	fmt.Fprintf(w, "  Poll interval: %v\n", poolCfg.PollInterval)
	fmt.Fprintf(w, "  Lease: %v (heartbeat %v)\n", poolCfg.StaleClaimAfter, poolCfg.Heartbeat)
	fmt.Fprintf(w, "  Agents: %s\n", cfg.Agents.Backend)
	if m := pool.GetSystemMetrics(); m.MemoryTotalGB > 0 {
		fmt.Fprintf(w, "  Memory: %.1f/%.1f GB (%.0f%%)\n", m.MemoryUsedGB, m.MemoryTotalGB, m.MemoryPercent)
		fmt.Fprintf(w, "  Queue: %d waiting, %d running\n", m.JobsWaiting, m.JobsRunning)
	}
	fmt.Fprintf(w, "  Reports: %s\n", store.Location(""))
	if inbox != nil {
		fmt.Fprintf(w, "  Inbox: %s\n", inbox.Dir())
	}
	if v := verbosity(cmd); v > 0 {
		fmt.Fprintf(w, "  Log level: %s\n", logger.LevelName(v))
	}
	fmt.Fprintf(w, "\n꩜ Press Ctrl+C for shutdown\n\n")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
	case err := <-inboxDone:
		if err != nil {
			log.Errorw("Inbox stopped", logger.FieldError, err)
		}
	}

	fmt.Fprintf(w, "\n꩜ Shutting down...\n")
	cancel()
	pool.Stop()

	fmt.Fprintf(w, "꩜ Pulse daemon stopped (%d jobs processed)\n", pool.JobsProcessed())
	return nil
}

// printJobUpdates prints a line whenever a job starts or finishes
func printJobUpdates(ctx context.Context, w io.Writer, updates <-chan *async.Job) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-updates:
			if line := display.JobUpdateLine(job); line != "" {
				fmt.Fprintln(w, line)
			}
		}
	}
}
