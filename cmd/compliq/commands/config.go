package commands

import (
	"github.com/spf13/cobra"

	"github.com/teranos/compliq/am"
	"github.com/teranos/compliq/errors"
)

// loadConfig reads --config when given, otherwise the usual am cascade
func loadConfig(cmd *cobra.Command) (*am.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	var cfg *am.Config
	var err error
	if path != "" {
		cfg, err = am.LoadFromFile(path)
	} else {
		cfg, err = am.Load()
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	return cfg, nil
}

// loadValidConfig is loadConfig followed by Validate, for commands that reach agents
func loadValidConfig(cmd *cobra.Command) (*am.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return cfg, nil
}

func verbosity(cmd *cobra.Command) int {
	v, _ := cmd.Flags().GetCount("verbose")
	return v
}
