// Package main implements the deployd CLI.
//
// deployd runs a deployment pipeline as a tree of structured task scopes:
// every spawned task belongs to a scope that cannot exit until its children
// have finished or been cancelled, every task carries a causal trace/span
// lineage, and every external command passes a validation gateway before it
// runs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
)

var (
	// configPath is the optional YAML config file.
	configPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "deployd",
	Short: "Structured-concurrency deployment pipeline runner",
	Long: `deployd drives a repository from working tree to pushed remote through
a sequence of supervised phases. Each phase is a structured task scope:
control does not return until every task spawned in the phase has
terminated, destructive commands are vetoed before execution, and the
whole run is observable through a causally-tagged event log.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("deployd %s (%s)\n", version, gitCommit)
	},
}
