// Package gateway implements the pre-execution validation gateway. Every
// externally-visible action passes through Validate before it runs.
//
// The decision protocol has a deliberate asymmetry: the self-preservation
// denylist is the only hard veto. Every other check is advisory and attaches
// warnings to an Allowed decision without ever blocking execution. Callers
// convert a self-preservation rejection into a cancellation signal rather
// than an error, so a blocked destructive action terminates a run cleanly.
package gateway

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/deployd/internal/logging"
	"github.com/fyrsmithlabs/deployd/internal/runctx"
)

// Category classifies a rejection.
type Category string

const (
	// CategorySelfPreservation marks actions that would damage the
	// system's own integrity. The only category that triggers
	// cancellation at the call site.
	CategorySelfPreservation Category = "self_preservation"

	// CategoryPolicyOther marks rejections for any other policy reason.
	// Converted into an ordinary error by callers. Not produced by the
	// current policy set, but part of the decision contract.
	CategoryPolicyOther Category = "policy_other"
)

// Decision is the gateway's verdict on a single action.
type Decision struct {
	Allowed  bool
	Category Category
	Reason   string
	Warnings []string
}

// Rejected reports whether the decision blocks the action.
func (d Decision) Rejected() bool { return !d.Allowed }

// Policy is the gateway's configuration data. It is fixed at construction;
// Validate never mutates it, so decisions are deterministic.
type Policy struct {
	// Denylist patterns trigger the self-preservation veto on substring
	// match against the lowercased action.
	Denylist []string `koanf:"denylist"`

	// Advisory patterns attach a non-blocking warning when present in the
	// action or intent.
	Advisory []string `koanf:"advisory"`

	// MaxActionLength flags (never blocks) actions longer than this.
	// Zero disables the check.
	MaxActionLength int `koanf:"max_action_length"`
}

// DefaultPolicy returns the stock policy: the classic destructive command
// patterns plus manipulation keywords as advisories.
func DefaultPolicy() Policy {
	return Policy{
		Denylist: []string{
			"rm -rf /",
			"sudo rm",
			"delete --force",
			":(){:|:&};:", // fork bomb
		},
		Advisory: []string{
			"hack",
			"bypass",
			"force",
		},
		MaxActionLength: 1000,
	}
}

// Gateway validates actions against a fixed policy.
type Gateway struct {
	policy Policy
	log    *logging.Logger
}

// New creates a gateway. A nil logger falls back to a nop logger.
func New(policy Policy, log *logging.Logger) *Gateway {
	if log == nil {
		log = logging.Nop()
	}
	return &Gateway{policy: policy, log: log}
}

// Validate decides whether action may run. intent is a human-readable
// statement of what the action is for, consulted only by advisory checks.
// The decision depends only on (action, intent) and the fixed policy.
func (g *Gateway) Validate(action, intent string, rc *runctx.Context) Decision {
	lower := strings.ToLower(action)

	// Hard veto: self-preservation denylist.
	for _, pattern := range g.policy.Denylist {
		if strings.Contains(lower, strings.ToLower(pattern)) {
			return Decision{
				Allowed:  false,
				Category: CategorySelfPreservation,
				Reason:   fmt.Sprintf("action matches destructive pattern %q", pattern),
			}
		}
	}

	// Everything below is advisory and must never block.
	var warnings []string
	for _, pattern := range g.policy.Advisory {
		p := strings.ToLower(pattern)
		if strings.Contains(lower, p) || strings.Contains(strings.ToLower(intent), p) {
			warnings = append(warnings, fmt.Sprintf("advisory pattern %q detected", pattern))
		}
	}
	if g.policy.MaxActionLength > 0 && len(action) > g.policy.MaxActionLength && !strings.Contains(lower, "echo") {
		warnings = append(warnings, fmt.Sprintf("action exceeds %d characters", g.policy.MaxActionLength))
	}

	if len(warnings) > 0 {
		ctx := runctx.Into(context.Background(), rc)
		g.log.Warn(ctx, "proceeding with advisories",
			zap.String("action", action),
			zap.Strings("warnings", warnings))
	}

	return Decision{Allowed: true, Warnings: warnings}
}
