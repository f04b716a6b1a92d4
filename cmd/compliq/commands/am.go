package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/compliq/am"
	"github.com/teranos/compliq/errors"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Manage compliq configuration",
	Long: `am — Manage compliq configuration ("I am")

Configuration sources (in order of precedence):
1. --config <file> (replaces the cascade below, defaults still apply)
2. Environment variables (COMPLIQ_* prefix, OPENROUTER_API_KEY, DB_PATH)
3. Project config (./am.toml, searched up the directory tree)
4. User config (~/.compliq/am.toml)
5. System config (/etc/compliq/config.toml)
6. Default values

Examples:
  compliq am show                    # Show current configuration
  compliq am show --format json      # Show configuration in JSON format
  compliq am get agents.backend      # Get specific config value
  compliq am validate                # Validate current configuration`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the merged compliq configuration. Secrets are masked.",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a specific configuration value using dot notation (e.g., database.path, pulse.workers)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where configuration is loaded from",
	Long: `Show the configuration cascade and which files exist.

Files are listed lowest precedence first; later files override earlier ones.`,
	RunE: runAmWhere,
}

func init() {
	amShowCmd.Flags().String("format", "toml", "Output format: toml, json, yaml")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("format")
	return writeConfig(cmd.OutOrStdout(), cfg.Redacted(), format)
}

// writeConfig renders cfg in the requested format
func writeConfig(w io.Writer, cfg *am.Config, format string) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to JSON")
		}
		fmt.Fprintln(w, string(data))

	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to YAML")
		}
		fmt.Fprintf(w, "# compliq configuration\n%s", string(data))

	case "toml":
		data, err := toml.Marshal(cfg)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to TOML")
		}
		fmt.Fprintf(w, "# compliq configuration\n%s", string(data))

	default:
		return errors.NewInvalidRequestError("unsupported format: %s (supported: toml, json, yaml)", format)
	}
	return nil
}

func runAmGet(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	value, err := lookupConfig(cfg.Redacted(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), value)
	return nil
}

// lookupConfig resolves a dotted key against the JSON form of cfg.
// Tables render as JSON, scalars as plain text.
func lookupConfig(cfg *am.Config, key string) (string, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal config")
	}
	var node interface{}
	if err := json.Unmarshal(data, &node); err != nil {
		return "", errors.Wrap(err, "failed to decode config")
	}

	for _, part := range strings.Split(key, ".") {
		table, ok := node.(map[string]interface{})
		if !ok {
			return "", errors.NewNotFoundError("configuration key %q not found", key)
		}
		if node, ok = table[part]; !ok {
			return "", errors.NewNotFoundError("configuration key %q not found", key)
		}
	}

	switch v := node.(type) {
	case map[string]interface{}:
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", errors.Wrap(err, "failed to marshal config value")
		}
		return string(out), nil
	case nil:
		return "", nil
	default:
		return fmt.Sprint(v), nil
	}
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}
	fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration is valid")
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		fmt.Fprintf(w, "Configuration file (--config): %s\n", path)
		fmt.Fprintln(w, "Environment variables are not consulted.")
		return nil
	}

	fmt.Fprintln(w, "Configuration cascade (later overrides earlier):")
	fmt.Fprintln(w, "  [DEFAULT]  Built-in defaults")
	for _, path := range am.ConfigPaths() {
		mark := "✗ missing"
		if _, err := os.Stat(path); err == nil {
			mark = "✓ loaded"
		}
		fmt.Fprintf(w, "  [FILE]     %s (%s)\n", path, mark)
	}
	fmt.Fprintln(w, "  [ENV]      COMPLIQ_* environment variables")
	return nil
}
