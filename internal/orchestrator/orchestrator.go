// Package orchestrator sequences a deployment run as a series of named
// phases, each executed inside one structured task scope.
//
// The orchestrator owns the root run context and the single gateway and
// event bus used throughout a run. A phase that ends cancelled stops the
// sequence: later phases are never entered, and the run reports a clean
// cancelled outcome rather than a failure. A phase failure also stops the
// sequence and is reported as the run's failure cause.
package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/deployd/internal/eventbus"
	"github.com/fyrsmithlabs/deployd/internal/gateway"
	"github.com/fyrsmithlabs/deployd/internal/logging"
	"github.com/fyrsmithlabs/deployd/internal/runctx"
	"github.com/fyrsmithlabs/deployd/internal/scope"
)

// Status is the terminal status of a run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Summary is the run outcome made available to callers.
type Summary struct {
	Status  Status
	TraceID string
	Events  int
	Cause   string
}

// Phase is one step of the run. Run receives the phase's open scope and
// spawns tasks into it; the orchestrator handles scope exit.
type Phase struct {
	Name string
	Run  func(ctx context.Context, sc *scope.Scope) error
}

// Orchestrator composes phases sequentially.
type Orchestrator struct {
	rc     *runctx.Context
	bus    *eventbus.Bus
	gw     *gateway.Gateway
	log    *logging.Logger
	tracer trace.Tracer
	phases []Phase

	// lastCancelCause remembers the cancellation signal from the most
	// recently cancelled phase, for the run summary.
	lastCancelCause *scope.CancelError
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTracer sets the OpenTelemetry tracer used for phase spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = tracer }
}

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// New creates an orchestrator over the given phases. rc must be a root
// context; bus and gw are shared by every phase of the run.
func New(rc *runctx.Context, bus *eventbus.Bus, gw *gateway.Gateway, phases []Phase, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		rc:     rc,
		bus:    bus,
		gw:     gw,
		log:    logging.Nop(),
		tracer: noop.NewTracerProvider().Tracer("deployd"),
		phases: phases,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Gateway returns the run's validation gateway, for phase bodies that need
// to validate actions directly.
func (o *Orchestrator) Gateway() *gateway.Gateway { return o.gw }

// Bus returns the run's event bus.
func (o *Orchestrator) Bus() *eventbus.Bus { return o.bus }

// Run executes the phases in order and classifies the terminal outcome.
// Cancellation never surfaces as a failure: a cancelled phase yields a
// Cancelled summary, and the remaining phases are not entered.
func (o *Orchestrator) Run(ctx context.Context) Summary {
	for _, phase := range o.phases {
		select {
		case <-ctx.Done():
			return o.summary(StatusCancelled, "run context cancelled")
		default:
		}

		if cancelled, err := o.runPhase(ctx, phase); err != nil {
			return o.summary(StatusFailed, err.Error())
		} else if cancelled {
			cause := "phase " + phase.Name + " cancelled"
			if ce := o.lastCancelCause; ce != nil {
				cause = ce.Reason
			}
			return o.summary(StatusCancelled, cause)
		}
	}
	return o.summary(StatusCompleted, "")
}

// runPhase executes one phase inside its own scope and reports whether the
// phase ended cancelled.
func (o *Orchestrator) runPhase(ctx context.Context, phase Phase) (cancelled bool, err error) {
	sctx, span := o.tracer.Start(ctx, "phase."+phase.Name,
		trace.WithAttributes(
			attribute.String("deploy.trace_id", o.rc.TraceID()),
			attribute.String("deploy.phase", phase.Name),
		))
	defer span.End()

	phaseRC := o.rc.Child(phase.Name)
	lctx := runctx.Into(sctx, phaseRC)
	o.log.Info(lctx, "phase starting", zap.String("phase", phase.Name))

	sc, err := scope.Enter(sctx, phase.Name, phaseRC, o.bus, o.log)
	if err != nil {
		return false, err
	}

	runErr := phase.Run(sctx, sc)
	exitErr := sc.Exit(runErr)
	if exitErr != nil {
		o.log.Error(lctx, "phase failed", zap.Error(exitErr))
		return false, exitErr
	}
	if sc.Cancelled() {
		o.lastCancelCause = sc.CancelCause()
		o.log.Info(lctx, "phase cancelled",
			zap.String("category", sc.CancelCause().Category),
			zap.String("reason", sc.CancelCause().Reason))
		return true, nil
	}

	o.log.Info(lctx, "phase completed", zap.String("phase", phase.Name))
	return false, nil
}

// summary builds the run summary from the current bus state.
func (o *Orchestrator) summary(status Status, cause string) Summary {
	return Summary{
		Status:  status,
		TraceID: o.rc.TraceID(),
		Events:  o.bus.Len(),
		Cause:   cause,
	}
}
