package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/deployd/internal/config"
	"github.com/fyrsmithlabs/deployd/internal/deploy"
	"github.com/fyrsmithlabs/deployd/internal/eventbus"
	"github.com/fyrsmithlabs/deployd/internal/gateway"
	"github.com/fyrsmithlabs/deployd/internal/logging"
	"github.com/fyrsmithlabs/deployd/internal/orchestrator"
	"github.com/fyrsmithlabs/deployd/internal/redact"
	"github.com/fyrsmithlabs/deployd/internal/runctx"
	"github.com/fyrsmithlabs/deployd/internal/telemetry"
)

var (
	runRepo        string
	runRemote      string
	runMode        string
	runBranch      string
	runCheckRemote bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the deployment pipeline",
	Long: `Run drives the full deployment sequence for a repository:
preflight, repo_prep, commit, publish. Each phase runs inside its own
task scope; a vetoed or interrupted phase ends the run with a clean
cancelled outcome instead of an error.`,
	RunE: runDeploy,
}

func init() {
	runCmd.Flags().StringVar(&runRepo, "repo", "", "path to the repository to deploy (required)")
	runCmd.Flags().StringVar(&runRemote, "remote", "", "remote URL to publish to (required)")
	runCmd.Flags().StringVar(&runMode, "mode", string(runctx.ModeSystematic),
		"operating mode: emergency, surgical, systematic, exploratory, strategic")
	runCmd.Flags().StringVar(&runBranch, "branch", deploy.DefaultBranch, "branch to publish")
	runCmd.Flags().BoolVar(&runCheckRemote, "check-remote", false,
		"verify the GitHub remote exists during preflight (uses GITHUB_TOKEN if set)")
	_ = runCmd.MarkFlagRequired("repo")
	_ = runCmd.MarkFlagRequired("remote")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	mode, err := runctx.ParseMode(runMode)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.NewLogger(&cfg.Logging, nil)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	// SIGINT/SIGTERM become external cancellation: the run drains and
	// reports cancelled rather than dying mid-phase.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.New(ctx, &cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	bus := eventbus.New()
	if cfg.Events.NATSURL != "" {
		nc, err := nats.Connect(cfg.Events.NATSURL, nats.Name("deployd"))
		if err != nil {
			return fmt.Errorf("connect nats %s: %w", cfg.Events.NATSURL, err)
		}
		defer nc.Drain() //nolint:errcheck
		fwd := eventbus.NewForwarder(nc, cfg.Events.SubjectPrefix)
		fwd.AttachLifecycle(bus)
		fwd.Attach(bus, deploy.EventCommandRun, deploy.EventCommandDone, deploy.EventRepoState)
	}

	gw := gateway.New(cfg.Gateway, log)
	redactor, err := redact.New(&cfg.Redact)
	if err != nil {
		return fmt.Errorf("build redactor: %w", err)
	}
	runner := deploy.NewCommandRunner(gw, bus, log, runRepo, cfg.Runner.CommandTimeout,
		deploy.WithRedactor(redactor))

	opts := []deploy.PipelineOption{deploy.WithBranch(runBranch)}
	if runCheckRemote {
		pf, err := deploy.NewRemotePreflight(runRemote, os.Getenv("GITHUB_TOKEN"), log)
		if err != nil {
			return fmt.Errorf("remote preflight: %w", err)
		}
		opts = append(opts, deploy.WithRemotePreflight(pf))
	}
	pipeline := deploy.NewPipeline(runner, log, runRepo, runRemote, opts...)

	rc := runctx.NewRoot(mode, map[string]string{
		"repo":   runRepo,
		"remote": runRemote,
	})

	o := orchestrator.New(rc, bus, gw, pipeline.Phases(),
		orchestrator.WithLogger(log),
		orchestrator.WithTracer(tel.Tracer("deployd")),
	)

	summary := o.Run(ctx)
	printSummary(cmd, summary)

	if summary.Status == orchestrator.StatusFailed {
		return fmt.Errorf("deployment failed: %s", summary.Cause)
	}
	return nil
}

// printSummary renders the run outcome for the operator. A cancelled run is
// a normal outcome and exits zero.
func printSummary(cmd *cobra.Command, s orchestrator.Summary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "status: %s\n", s.Status)
	fmt.Fprintf(out, "trace:  %s\n", s.TraceID)
	fmt.Fprintf(out, "events: %d\n", s.Events)
	if s.Cause != "" {
		fmt.Fprintf(out, "cause:  %s\n", s.Cause)
	}
}
