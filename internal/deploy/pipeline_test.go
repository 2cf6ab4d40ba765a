package deploy

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/deployd/internal/eventbus"
	"github.com/fyrsmithlabs/deployd/internal/gateway"
	"github.com/fyrsmithlabs/deployd/internal/logging"
	"github.com/fyrsmithlabs/deployd/internal/orchestrator"
	"github.com/fyrsmithlabs/deployd/internal/runctx"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

// gitEnvSetup makes commits work in bare CI environments.
func gitEnvSetup(t *testing.T) {
	t.Helper()
	t.Setenv("GIT_AUTHOR_NAME", "deployd test")
	t.Setenv("GIT_AUTHOR_EMAIL", "deployd@test.invalid")
	t.Setenv("GIT_COMMITTER_NAME", "deployd test")
	t.Setenv("GIT_COMMITTER_EMAIL", "deployd@test.invalid")
}

func newPipelineFixture(t *testing.T) (*Pipeline, *eventbus.Bus, string) {
	t.Helper()
	gitEnvSetup(t)

	workDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "release.txt"), []byte("v1\n"), 0o644))

	remoteDir := t.TempDir()
	remote := exec.Command("git", "init", "--bare", remoteDir)
	require.NoError(t, remote.Run())

	bus := eventbus.New()
	log, _ := logging.NewTestLogger()
	gw := gateway.New(gateway.DefaultPolicy(), log)
	runner := NewCommandRunner(gw, bus, log, workDir, time.Minute)
	return NewPipeline(runner, log, workDir, remoteDir), bus, workDir
}

func TestPipeline_PhaseNames(t *testing.T) {
	p := NewPipeline(nil, nil, "/tmp/repo", "https://github.com/a/b")
	var names []string
	for _, phase := range p.Phases() {
		names = append(names, phase.Name)
	}
	assert.Equal(t, []string{"preflight", "repo_prep", "commit", "publish"}, names)
}

func TestPipeline_FullRun(t *testing.T) {
	requireGit(t)
	p, bus, workDir := newPipelineFixture(t)

	rc := runctx.NewRoot(runctx.ModeSystematic, map[string]string{"repo": workDir})
	o := orchestrator.New(rc, bus, gateway.New(gateway.DefaultPolicy(), nil), p.Phases())

	summary := o.Run(context.Background())
	require.Equal(t, orchestrator.StatusCompleted, summary.Status, "cause: %s", summary.Cause)
	assert.Equal(t, rc.TraceID(), summary.TraceID)

	// Every phase left its lifecycle trail.
	var enters, exits int
	for _, ev := range bus.Events() {
		switch ev.Type {
		case eventbus.TypeScopeEnter:
			enters++
		case eventbus.TypeScopeExit:
			exits++
		case eventbus.TypeTaskError:
			t.Errorf("unexpected task.error: %v", ev.Payload)
		}
	}
	assert.Equal(t, 4, enters)
	assert.Equal(t, 4, exits)

	// The release commit embeds the trace ID for causal linking.
	out, err := exec.Command("git", "-C", workDir, "log", "-1", "--format=%s").Output()
	require.NoError(t, err)
	assert.Contains(t, string(out), rc.TraceID())
}

func TestPipeline_RerunSkipsCommitWhenClean(t *testing.T) {
	requireGit(t)
	p, bus, _ := newPipelineFixture(t)

	rc := runctx.NewRoot(runctx.ModeSystematic, nil)
	o := orchestrator.New(rc, bus, gateway.New(gateway.DefaultPolicy(), nil), p.Phases())
	require.Equal(t, orchestrator.StatusCompleted, o.Run(context.Background()).Status)

	// Second run over the same tree: nothing to commit, still completes.
	rc2 := runctx.NewRoot(runctx.ModeSystematic, nil)
	o2 := orchestrator.New(rc2, bus, gateway.New(gateway.DefaultPolicy(), nil), p.Phases())
	summary := o2.Run(context.Background())
	assert.Equal(t, orchestrator.StatusCompleted, summary.Status, "cause: %s", summary.Cause)
}

func TestPipeline_PreflightReportsUninitialized(t *testing.T) {
	requireGit(t)
	p, bus, _ := newPipelineFixture(t)

	rc := runctx.NewRoot(runctx.ModeSystematic, nil)
	o := orchestrator.New(rc, bus, gateway.New(gateway.DefaultPolicy(), nil),
		p.Phases()[:1]) // preflight only

	require.Equal(t, orchestrator.StatusCompleted, o.Run(context.Background()).Status)

	var found bool
	for _, ev := range bus.Events() {
		if ev.Type == EventRepoState {
			found = true
			assert.Equal(t, false, ev.Payload["initialized"])
		}
	}
	assert.True(t, found, "preflight emits a repo.state observation")
}
