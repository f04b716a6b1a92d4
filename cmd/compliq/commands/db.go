package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/compliq/db"
	"github.com/teranos/compliq/display"
	"github.com/teranos/compliq/errors"
	"github.com/teranos/compliq/logger"
	"github.com/teranos/compliq/pulse/async"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the compliq job database",
	Long: `db — Manage the compliq job database

Examples:
  compliq db migrate              # Apply pending schema migrations
  compliq db stats                # Count jobs per status`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Long:  "Create the job database if needed and apply every pending migration. Other commands migrate on open as well.",
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job counts per status",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	dbPath := cfg.GetDatabasePath()

	database, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		return errors.Wrapf(err, "failed to open database at %s", dbPath)
	}
	defer database.Close()

	if err := db.Migrate(database, logger.Logger); err != nil {
		return errors.Wrapf(err, "failed to run migrations on %s", dbPath)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Database %s is up to date\n", dbPath)
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	stats, err := async.NewQueue(database).GetStats()
	if err != nil {
		return err
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(stats)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "Database Statistics")
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintf(w, "Database Path: %s\n\n", cfg.GetDatabasePath())
	for _, status := range async.Statuses {
		fmt.Fprintf(w, "  %-20s %d\n", status, stats.Count(status))
	}
	fmt.Fprintf(w, "\nTotal jobs: %d\n", stats.Total)
	return nil
}
