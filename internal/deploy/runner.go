// Package deploy implements the deployment pipeline: the command execution
// boundary and the phase set that drives a repository from working tree to
// pushed remote.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/deployd/internal/eventbus"
	"github.com/fyrsmithlabs/deployd/internal/gateway"
	"github.com/fyrsmithlabs/deployd/internal/logging"
	"github.com/fyrsmithlabs/deployd/internal/redact"
	"github.com/fyrsmithlabs/deployd/internal/runctx"
	"github.com/fyrsmithlabs/deployd/internal/scope"
)

// Domain event types emitted by the command runner.
const (
	EventCommandRun  = "command.run"
	EventCommandDone = "command.done"
)

// CommandRunner is the action execution boundary. Every command passes the
// validation gateway before it runs; a self-preservation rejection converts
// into a cancellation signal at this boundary, and a timeout is treated the
// same way.
type CommandRunner struct {
	gw       *gateway.Gateway
	bus      *eventbus.Bus
	log      *logging.Logger
	redactor *redact.Redactor
	dir      string
	timeout  time.Duration
}

// RunnerOption configures a CommandRunner.
type RunnerOption func(*CommandRunner)

// WithRedactor overrides the output redactor.
func WithRedactor(r *redact.Redactor) RunnerOption {
	return func(cr *CommandRunner) { cr.redactor = r }
}

// NewCommandRunner creates a runner executing commands in dir. Captured
// output is redacted before it enters events or error messages.
func NewCommandRunner(gw *gateway.Gateway, bus *eventbus.Bus, log *logging.Logger, dir string, timeout time.Duration, opts ...RunnerOption) *CommandRunner {
	if log == nil {
		log = logging.Nop()
	}
	cr := &CommandRunner{
		gw:       gw,
		bus:      bus,
		log:      log,
		redactor: redact.Default(),
		dir:      dir,
		timeout:  timeout,
	}
	for _, opt := range opts {
		opt(cr)
	}
	return cr
}

// Run validates and executes one shell command, returning its combined
// output. Possible outcomes: success, a cancellation signal (gateway veto,
// timeout, or interrupted context), or a failure carrying the command
// output.
func (r *CommandRunner) Run(ctx context.Context, rc *runctx.Context, command, intent string) (string, error) {
	decision := r.gw.Validate(command, intent, rc)
	if decision.Rejected() {
		if decision.Category == gateway.CategorySelfPreservation {
			return "", scope.CanceledFor(scope.CategorySelfPreservation, decision.Reason)
		}
		return "", fmt.Errorf("action rejected by policy: %s", decision.Reason)
	}

	if err := r.bus.Emit(EventCommandRun, map[string]any{"command": command}, rc); err != nil {
		return "", err
	}

	lctx := runctx.Into(ctx, rc)
	r.log.Debug(lctx, "running command", zap.String("command", command))

	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "sh", "-c", command)
	cmd.Dir = r.dir
	raw, err := cmd.CombinedOutput()
	out := r.redactor.Apply(string(raw))
	if err != nil {
		switch {
		case errors.Is(cctx.Err(), context.DeadlineExceeded):
			return out, scope.CanceledFor(scope.CategoryTimeout,
				fmt.Sprintf("command %q exceeded %s budget", command, r.timeout))
		case errors.Is(cctx.Err(), context.Canceled):
			return out, scope.Canceled(fmt.Sprintf("command %q interrupted", command))
		default:
			return out, fmt.Errorf("command %q failed: %w: %s",
				command, err, strings.TrimSpace(out))
		}
	}

	if err := r.bus.Emit(EventCommandDone, map[string]any{"command": command}, rc); err != nil {
		return out, err
	}
	return out, nil
}
