package deploy

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/deployd/internal/logging"
	"github.com/fyrsmithlabs/deployd/internal/orchestrator"
	"github.com/fyrsmithlabs/deployd/internal/runctx"
	"github.com/fyrsmithlabs/deployd/internal/scope"
)

// Event type for repository state observations during preflight.
const EventRepoState = "repo.state"

// DefaultBranch is the branch pushed by the publish phase.
const DefaultBranch = "main"

// Pipeline builds the deployment phase set for one repository.
type Pipeline struct {
	runner    *CommandRunner
	log       *logging.Logger
	repoPath  string
	remoteURL string
	branch    string
	preflight *RemotePreflight
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithBranch overrides the branch pushed during publish.
func WithBranch(branch string) PipelineOption {
	return func(p *Pipeline) { p.branch = branch }
}

// WithRemotePreflight enables the GitHub remote existence check.
func WithRemotePreflight(pf *RemotePreflight) PipelineOption {
	return func(p *Pipeline) { p.preflight = pf }
}

// NewPipeline creates a pipeline deploying repoPath to remoteURL.
func NewPipeline(runner *CommandRunner, log *logging.Logger, repoPath, remoteURL string, opts ...PipelineOption) *Pipeline {
	if log == nil {
		log = logging.Nop()
	}
	p := &Pipeline{
		runner:    runner,
		log:       log,
		repoPath:  repoPath,
		remoteURL: remoteURL,
		branch:    DefaultBranch,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Phases returns the deployment phases in execution order.
func (p *Pipeline) Phases() []orchestrator.Phase {
	return []orchestrator.Phase{
		{Name: "preflight", Run: p.runPreflight},
		{Name: "repo_prep", Run: p.runRepoPrep},
		{Name: "commit", Run: p.runCommit},
		{Name: "publish", Run: p.runPublish},
	}
}

// runPreflight inspects the repository and, when configured, verifies the
// remote exists. The two checks are independent and run concurrently.
func (p *Pipeline) runPreflight(ctx context.Context, sc *scope.Scope) error {
	if _, err := sc.Spawn("inspect_worktree", p.inspectWorktree); err != nil {
		return err
	}
	if p.preflight != nil {
		if _, err := sc.Spawn("check_remote", func(ctx context.Context, rc *runctx.Context) error {
			return p.preflight.Check(ctx, rc)
		}); err != nil {
			return err
		}
	}
	return nil
}

// inspectWorktree records whether the target directory is already a git
// repository and whether its worktree is dirty.
func (p *Pipeline) inspectWorktree(ctx context.Context, rc *runctx.Context) error {
	payload := map[string]any{"path": p.repoPath}

	repo, err := git.PlainOpen(p.repoPath)
	switch {
	case errors.Is(err, git.ErrRepositoryNotExists):
		payload["initialized"] = false
	case err != nil:
		return fmt.Errorf("open repository %s: %w", p.repoPath, err)
	default:
		payload["initialized"] = true
		clean, err := worktreeClean(repo)
		if err != nil {
			return err
		}
		payload["clean"] = clean
	}

	p.log.Info(runctx.Into(ctx, rc), "worktree inspected", zap.Any("state", payload))
	return p.runner.bus.Emit(EventRepoState, payload, rc)
}

// runRepoPrep initializes the repository when needed and stages the working
// tree. The steps are ordered, so each waits for the previous task.
func (p *Pipeline) runRepoPrep(ctx context.Context, sc *scope.Scope) error {
	if _, err := git.PlainOpen(p.repoPath); errors.Is(err, git.ErrRepositoryNotExists) {
		h, err := sc.Spawn("git_init", p.commandTask("git init", "initialize repository"))
		if err != nil {
			return err
		}
		if h.Wait(ctx) != nil {
			// Terminal state and cause are already recorded on the
			// handle; stop sequencing and let scope exit classify.
			return nil
		}
	}

	h, err := sc.Spawn("git_add", p.commandTask("git add .", "stage working tree"))
	if err != nil {
		return err
	}
	_ = h.Wait(ctx)
	return nil
}

// runCommit commits staged changes with the run's trace ID embedded in the
// message so deployments stay causally linked to their run.
func (p *Pipeline) runCommit(ctx context.Context, sc *scope.Scope) error {
	repo, err := git.PlainOpen(p.repoPath)
	if err != nil {
		return fmt.Errorf("open repository %s: %w", p.repoPath, err)
	}
	clean, err := worktreeClean(repo)
	if err != nil {
		return err
	}
	if clean {
		p.log.Info(runctx.Into(ctx, sc.Context()), "worktree clean, skipping commit")
		return nil
	}

	message := fmt.Sprintf("deploy: automated release (trace %s, mode %s)",
		sc.Context().TraceID(), sc.Context().Mode())
	command := fmt.Sprintf("git commit -m %q", message)

	h, err := sc.Spawn("git_commit", p.commandTask(command, "record release commit"))
	if err != nil {
		return err
	}
	_ = h.Wait(ctx)
	return nil
}

// runPublish wires the remote and pushes the branch.
func (p *Pipeline) runPublish(ctx context.Context, sc *scope.Scope) error {
	needRemote, err := p.remoteMissing()
	if err != nil {
		return err
	}
	if needRemote {
		command := fmt.Sprintf("git remote add origin %s", p.remoteURL)
		h, err := sc.Spawn("add_remote", p.commandTask(command, "register deployment remote"))
		if err != nil {
			return err
		}
		if h.Wait(ctx) != nil {
			return nil
		}
	}

	command := fmt.Sprintf("git branch -M %s && git push -u origin %s", p.branch, p.branch)
	h, err := sc.Spawn("git_push", p.commandTask(command, "publish release"))
	if err != nil {
		return err
	}
	_ = h.Wait(ctx)
	return nil
}

// commandTask adapts a runner invocation into a task body.
func (p *Pipeline) commandTask(command, intent string) scope.Work {
	return func(ctx context.Context, rc *runctx.Context) error {
		_, err := p.runner.Run(ctx, rc, command, intent)
		return err
	}
}

// remoteMissing reports whether the origin remote still needs registering.
func (p *Pipeline) remoteMissing() (bool, error) {
	repo, err := git.PlainOpen(p.repoPath)
	if err != nil {
		return false, fmt.Errorf("open repository %s: %w", p.repoPath, err)
	}
	_, err = repo.Remote("origin")
	if errors.Is(err, git.ErrRemoteNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("inspect remotes: %w", err)
	}
	return false, nil
}

// worktreeClean reports whether the repository worktree has no pending
// changes.
func worktreeClean(repo *git.Repository) (bool, error) {
	wt, err := repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("open worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("compute status: %w", err)
	}
	return status.IsClean(), nil
}
