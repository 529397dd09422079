package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/jobwatch/config"
)

// validateCmd validates a config file without polling anything.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a jobwatch configuration file without contacting the server.

This command parses the YAML, expands environment variables, and validates
all fields. It's useful for CI/CD pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  jobwatch validate -c config.yaml
  jobwatch validate --config /etc/jobwatch/config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	collections := 0
	for _, h := range cfg.Histories {
		collections += len(h.Collections)
	}

	status := "disabled"
	if cfg.Port != 0 {
		status = fmt.Sprintf("port %d", cfg.Port)
	}
	mode := "batch"
	if !cfg.Batch {
		mode = "serial"
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Server:      %s\n", cfg.BaseURL)
	fmt.Fprintf(out, "  Status API:  %s\n", status)
	fmt.Fprintf(out, "  Collections: %d in %d histories (%s, every %s)\n",
		collections, len(cfg.Histories), mode, cfg.CollectionDelay.Duration())
	fmt.Fprintf(out, "  Invocations: %d (every %s)\n",
		len(cfg.Invocations), cfg.InvocationDelay.Duration())

	return nil
}
