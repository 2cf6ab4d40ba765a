package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/deployd/internal/config"
	"github.com/fyrsmithlabs/deployd/internal/gateway"
	"github.com/fyrsmithlabs/deployd/internal/logging"
	"github.com/fyrsmithlabs/deployd/internal/runctx"
)

var validateIntent string

var validateCmd = &cobra.Command{
	Use:   "validate <command>",
	Short: "Check a command against the validation gateway without running it",
	Long: `Validate runs the given command string through the configured gateway
policy and reports the decision. Nothing is executed. A denied command
exits non-zero; advisory warnings are printed but never deny.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateIntent, "intent", "", "declared intent for the command")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gw := gateway.New(cfg.Gateway, logging.Nop())
	rc := runctx.NewRoot(runctx.ModeSystematic, nil).Child("validate")

	decision := gw.Validate(args[0], validateIntent, rc)

	out := cmd.OutOrStdout()
	for _, w := range decision.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	if decision.Rejected() {
		fmt.Fprintf(out, "denied (%s): %s\n", decision.Category, decision.Reason)
		return fmt.Errorf("command denied by gateway policy")
	}
	fmt.Fprintln(out, "allowed")
	return nil
}
