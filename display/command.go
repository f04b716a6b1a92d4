// Package display renders command output: JSON, pterm tables and progress,
// and HTML export of finished reports.
package display

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// CallerEnv names the variable automation sets to get machine-readable output
const CallerEnv = "COMPLIQ_CALLER"

// IsAutomatedCaller reports whether compliq runs under a script or another agent.
// Any non-empty COMPLIQ_CALLER other than "human" counts.
func IsAutomatedCaller() bool {
	caller := strings.TrimSpace(strings.ToLower(os.Getenv(CallerEnv)))
	return caller != "" && caller != "human"
}

// ShouldOutputJSON determines if a command should output JSON based on flags and caller detection
func ShouldOutputJSON(cmd *cobra.Command) bool {
	if cmd == nil {
		return IsAutomatedCaller()
	}

	// Check if --json flag was explicitly set
	if f := cmd.Flags().Lookup("json"); f != nil && f.Changed {
		jsonFlag, _ := cmd.Flags().GetBool("json")
		return jsonFlag
	}

	// Check global --json flag
	if globalFlag, _ := cmd.Root().PersistentFlags().GetBool("json"); globalFlag {
		return true
	}

	return IsAutomatedCaller()
}

// OutputJSON marshals and prints JSON using display.MarshalJSON
func OutputJSON(v interface{}) error {
	data, err := MarshalJSON(v)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
