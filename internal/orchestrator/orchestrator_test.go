package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/fyrsmithlabs/deployd/internal/eventbus"
	"github.com/fyrsmithlabs/deployd/internal/gateway"
	"github.com/fyrsmithlabs/deployd/internal/logging"
	"github.com/fyrsmithlabs/deployd/internal/runctx"
	"github.com/fyrsmithlabs/deployd/internal/scope"
)

func newTestOrchestrator(t *testing.T, phases []Phase) (*Orchestrator, *eventbus.Bus) {
	t.Helper()
	rc := runctx.NewRoot(runctx.ModeSystematic, nil)
	bus := eventbus.New()
	gw := gateway.New(gateway.DefaultPolicy(), nil)
	log, _ := logging.NewTestLogger()
	return New(rc, bus, gw, phases, WithLogger(log)), bus
}

func spawnOne(name string, work scope.Work) Phase {
	return Phase{
		Name: name,
		Run: func(ctx context.Context, sc *scope.Scope) error {
			_, err := sc.Spawn(name+"_task", work)
			return err
		},
	}
}

func TestRun_AllPhasesComplete(t *testing.T) {
	var order []string
	phases := []Phase{
		spawnOne("prepare", func(ctx context.Context, rc *runctx.Context) error {
			order = append(order, "prepare")
			return nil
		}),
		spawnOne("publish", func(ctx context.Context, rc *runctx.Context) error {
			order = append(order, "publish")
			return nil
		}),
	}
	o, bus := newTestOrchestrator(t, phases)

	summary := o.Run(context.Background())

	assert.Equal(t, StatusCompleted, summary.Status)
	assert.Equal(t, []string{"prepare", "publish"}, order)
	assert.NotEmpty(t, summary.TraceID)
	assert.Equal(t, bus.Len(), summary.Events)
	assert.Empty(t, summary.Cause)
}

// Scenario D: phase 1 completes, phase 2's sole task is cancelled. The run
// reports Cancelled and phase 3 is never entered.
func TestRun_CancelledPhaseStopsSequence(t *testing.T) {
	var phase3Ran bool
	phases := []Phase{
		spawnOne("phase1", func(ctx context.Context, rc *runctx.Context) error {
			return nil
		}),
		spawnOne("phase2", func(ctx context.Context, rc *runctx.Context) error {
			return scope.CanceledFor(scope.CategorySelfPreservation, "destructive action vetoed")
		}),
		spawnOne("phase3", func(ctx context.Context, rc *runctx.Context) error {
			phase3Ran = true
			return nil
		}),
	}
	o, bus := newTestOrchestrator(t, phases)

	summary := o.Run(context.Background())

	assert.Equal(t, StatusCancelled, summary.Status, "cancellation is a clean outcome, not a failure")
	assert.Equal(t, "destructive action vetoed", summary.Cause)
	assert.False(t, phase3Ran, "no task from a later phase may be spawned")

	// No scope.enter for phase3 anywhere in the log.
	for _, ev := range bus.Events() {
		if ev.Type == eventbus.TypeScopeEnter {
			assert.NotEqual(t, "phase3", ev.Payload["scope"])
		}
	}
}

func TestRun_FailedPhaseStopsSequence(t *testing.T) {
	boom := errors.New("push rejected")
	var laterRan bool
	phases := []Phase{
		spawnOne("publish", func(ctx context.Context, rc *runctx.Context) error {
			return boom
		}),
		spawnOne("after", func(ctx context.Context, rc *runctx.Context) error {
			laterRan = true
			return nil
		}),
	}
	o, _ := newTestOrchestrator(t, phases)

	summary := o.Run(context.Background())

	assert.Equal(t, StatusFailed, summary.Status)
	assert.Contains(t, summary.Cause, "push rejected")
	assert.Contains(t, summary.Cause, "publish", "failure carries the task name")
	assert.NotEmpty(t, summary.TraceID)
	assert.False(t, laterRan)
}

func TestRun_ExternalContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o, _ := newTestOrchestrator(t, []Phase{
		spawnOne("never", func(ctx context.Context, rc *runctx.Context) error {
			t.Error("phase should not run after external cancellation")
			return nil
		}),
	})

	summary := o.Run(ctx)
	assert.Equal(t, StatusCancelled, summary.Status)
}

func TestRun_PhaseBodySpawnsThroughGateway(t *testing.T) {
	phases := []Phase{
		{
			Name: "deploy",
			Run: func(ctx context.Context, sc *scope.Scope) error {
				_, err := sc.Spawn("guarded", func(ctx context.Context, rc *runctx.Context) error {
					return nil
				})
				return err
			},
		},
	}
	o, bus := newTestOrchestrator(t, phases)
	require.NotNil(t, o.Gateway())
	require.Same(t, bus, o.Bus())

	summary := o.Run(context.Background())
	assert.Equal(t, StatusCompleted, summary.Status)
}

func TestRun_EmitsPhaseSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	rc := runctx.NewRoot(runctx.ModeSystematic, nil)
	bus := eventbus.New()
	gw := gateway.New(gateway.DefaultPolicy(), nil)
	o := New(rc, bus, gw, []Phase{
		spawnOne("prepare", func(ctx context.Context, rc *runctx.Context) error { return nil }),
	}, WithTracer(tp.Tracer("deployd")))

	summary := o.Run(context.Background())
	require.Equal(t, StatusCompleted, summary.Status)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "phase.prepare", spans[0].Name)
}

// Events from a run share a single trace ID end to end.
func TestRun_SingleTraceID(t *testing.T) {
	o, bus := newTestOrchestrator(t, []Phase{
		spawnOne("a", func(ctx context.Context, rc *runctx.Context) error { return nil }),
		spawnOne("b", func(ctx context.Context, rc *runctx.Context) error { return nil }),
	})

	summary := o.Run(context.Background())
	require.Equal(t, StatusCompleted, summary.Status)

	for _, ev := range bus.Events() {
		assert.Equal(t, summary.TraceID, ev.TraceID)
	}
}
