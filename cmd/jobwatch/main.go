// Package main is the entry point for the jobwatch CLI.
//
// jobwatch can be run either as a library (SDK) or as a standalone binary
// with YAML configuration. This CLI provides the standalone binary approach.
//
// Usage:
//
//	jobwatch watch -c config.yaml                  # Poll until interrupted
//	jobwatch watch -c config.yaml --until-terminal # Exit once everything finished
//	jobwatch validate -c config.yaml               # Validate configuration
//	jobwatch version                               # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
// It just displays help - actual functionality is in subcommands.
var rootCmd = &cobra.Command{
	Use:   "jobwatch",
	Short: "Follow Galaxy job and invocation state until it finishes",
	Long: `jobwatch polls a Galaxy server for the job state of dataset
collections and workflow invocations, and stops polling each one as soon as
it is terminal.

Quick start:
  1. Create a config file (jobwatch.yaml)
  2. Run: jobwatch watch -c jobwatch.yaml --until-terminal

Example config:
  base_url: https://usegalaxy.org
  api_key: ${GALAXY_API_KEY}
  histories:
    - id: f597429621d6eb2b
      collections: [5a1cff6882ddb5b2]
  invocations:
    - f2db41e1fa331b3e`,
	SilenceUsage: true,
}

// Execute runs the root command.
// This is the main entry point called from main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this jobwatch binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "jobwatch %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
