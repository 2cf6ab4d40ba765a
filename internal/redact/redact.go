// Package redact scrubs credentials from command output before it reaches
// the event log or an error message. Deployment commands routinely echo
// remote URLs, environment dumps, and tool diagnostics; anything the runner
// captures may be forwarded off-process, so secrets are removed at capture
// time rather than at each consumer.
package redact

import (
	"fmt"
	"regexp"
)

// DefaultReplacement substitutes matched secrets.
const DefaultReplacement = "[REDACTED]"

// Config controls redaction.
type Config struct {
	// Enabled turns redaction on. On by default.
	Enabled bool `koanf:"enabled"`

	// Replacement substitutes each match. Defaults to DefaultReplacement.
	Replacement string `koanf:"replacement"`

	// ExtraPatterns are additional regex patterns redacted alongside the
	// built-in rules.
	ExtraPatterns []string `koanf:"extra_patterns"`
}

// NewDefaultConfig returns redaction defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:     true,
		Replacement: DefaultReplacement,
	}
}

// rule is one compiled detection pattern.
type rule struct {
	id      string
	pattern *regexp.Regexp
}

// defaultRules covers the credentials most likely to surface in deployment
// command output.
func defaultRules() []rule {
	return []rule{
		{"github-token", regexp.MustCompile(`(?:ghp|gho|ghu|ghs)_[A-Za-z0-9]{36}`)},
		{"github-fine-grained", regexp.MustCompile(`github_pat_[A-Za-z0-9_]{22,}`)},
		{"private-key", regexp.MustCompile(`-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?:[- ]BLOCK)?-----`)},
		{"aws-access-key-id", regexp.MustCompile(`(?:A3T[A-Z0-9]|AKIA|ASIA)[A-Z0-9]{16}`)},
		{"url-credentials", regexp.MustCompile(`(?i)(?:https?|postgres|mysql|mongodb|redis|amqp)://[^:/\s]+:[^@\s]+@`)},
		{"bearer-token", regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-.]{20,}`)},
		{"env-credential", regexp.MustCompile(`(?i)(?:_TOKEN|_SECRET|_PASSWORD|_KEY)=\S{8,}`)},
	}
}

// Redactor applies the configured rules to text.
type Redactor struct {
	enabled     bool
	replacement string
	rules       []rule
}

// New builds a redactor from cfg. A nil cfg uses defaults.
func New(cfg *Config) (*Redactor, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	replacement := cfg.Replacement
	if replacement == "" {
		replacement = DefaultReplacement
	}

	rules := defaultRules()
	for i, p := range cfg.ExtraPatterns {
		compiled, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("extra_patterns[%d]: %w", i, err)
		}
		rules = append(rules, rule{id: fmt.Sprintf("extra-%d", i), pattern: compiled})
	}

	return &Redactor{
		enabled:     cfg.Enabled,
		replacement: replacement,
		rules:       rules,
	}, nil
}

// Default returns a redactor with the stock rules.
func Default() *Redactor {
	r, err := New(nil)
	if err != nil {
		panic(err) // default rules always compile
	}
	return r
}

// Apply returns s with every rule match replaced.
func (r *Redactor) Apply(s string) string {
	if !r.enabled {
		return s
	}
	for _, rule := range r.rules {
		s = rule.pattern.ReplaceAllString(s, r.replacement)
	}
	return s
}

// Scan reports the IDs of rules that match s, without modifying it.
func (r *Redactor) Scan(s string) []string {
	if !r.enabled {
		return nil
	}
	var ids []string
	for _, rule := range r.rules {
		if rule.pattern.MatchString(s) {
			ids = append(ids, rule.id)
		}
	}
	return ids
}
