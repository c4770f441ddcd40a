package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

// Engine compiles policies and evaluates them against plan documents.
// Builtins are loaded at construction; LoadPaths adds policies from
// disk on top.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	log      zerolog.Logger
}

// compiledPolicy pairs a policy with its prepared deny query.
type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates an engine with the builtin policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		log:      logger.With().Str("component", "policy").Logger(),
	}
	if err := e.loadBuiltins(context.Background()); err != nil {
		return nil, err
	}
	return e, nil
}

// EvaluatePlan runs every enabled policy against the input document.
// The result is never nil on a nil error; policies that fail to
// evaluate are reported as warnings, not violations.
func (e *Engine) EvaluatePlan(ctx context.Context, input *Input) (*Result, error) {
	start := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{EvaluatedAt: start}
	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		violations, err := e.evaluate(ctx, cp, input)
		if err != nil {
			e.log.Error().Err(err).Str("policy", name).Msg("policy evaluation failed")
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("policy %s failed to evaluate: %v", name, err))
			continue
		}
		result.Violations = append(result.Violations, violations...)
	}

	result.Allowed = len(result.Blocking()) == 0
	result.Duration = time.Since(start)

	e.log.Debug().
		Bool("allowed", result.Allowed).
		Int("violations", len(result.Violations)).
		Dur("duration", result.Duration).
		Msg("plan evaluated")
	return result, nil
}

// LoadPaths loads and compiles policies from files and directories.
// Existing policies with the same name are replaced.
func (e *Engine) LoadPaths(ctx context.Context, paths []string) error {
	loader := NewLoader(e.log)
	policies, err := loader.LoadFromPaths(paths)
	if err != nil {
		return err
	}
	return e.Install(ctx, policies)
}

// Install compiles and registers policies.
func (e *Engine) Install(ctx context.Context, policies []Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range policies {
		if err := e.compile(ctx, &policies[i]); err != nil {
			return fmt.Errorf("policy %s: %w", policies[i].Name, err)
		}
	}
	e.log.Info().Int("count", len(policies)).Msg("policies installed")
	return nil
}

// Reload drops every loaded policy and restores the builtins.
func (e *Engine) Reload(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.policies = make(map[string]*compiledPolicy)
	return e.loadBuiltinsLocked(ctx)
}

// Get returns a policy by name.
func (e *Engine) Get(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, ok := e.policies[name]
	if !ok {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	return cp.policy, nil
}

// List returns all loaded policies sorted by name.
func (e *Engine) List() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		out = append(out, *e.policies[name].policy)
	}
	return out
}

// SetEnabled enables or disables a policy by name.
func (e *Engine) SetEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, ok := e.policies[name]
	if !ok {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	e.log.Info().Str("policy", name).Bool("enabled", enabled).Msg("policy toggled")
	return nil
}

func (e *Engine) loadBuiltins(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadBuiltinsLocked(ctx)
}

func (e *Engine) loadBuiltinsLocked(ctx context.Context) error {
	builtins := Builtins()
	for i := range builtins {
		if err := e.compile(ctx, &builtins[i]); err != nil {
			return fmt.Errorf("builtin policy %s: %w", builtins[i].Name, err)
		}
	}
	return nil
}

// compile prepares the policy's deny query. Caller holds the write
// lock.
func (e *Engine) compile(ctx context.Context, p *Policy) error {
	query := fmt.Sprintf("data.%s.deny", packageName(p.Rego))
	prepared, err := rego.New(
		rego.Query(query),
		rego.Module(p.Name+".rego", p.Rego),
		rego.StrictBuiltinErrors(true),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to compile: %w", err)
	}

	e.policies[p.Name] = &compiledPolicy{
		policy:   p,
		query:    prepared,
		compiled: time.Now(),
	}
	e.log.Debug().Str("policy", p.Name).Str("query", query).Msg("policy compiled")
	return nil
}

func (e *Engine) evaluate(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	rs, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, result := range rs {
		for _, expr := range result.Expressions {
			denies, ok := expr.Value.([]any)
			if !ok {
				continue
			}
			for _, d := range denies {
				violations = append(violations, newViolation(cp.policy, d))
			}
		}
	}
	return violations, nil
}

// newViolation converts one deny result into a Violation. Deny rules
// may yield a bare message string or an object with message, severity,
// op, and host keys.
func newViolation(p *Policy, result any) Violation {
	v := Violation{Policy: p.Name, Severity: p.Severity}
	switch val := result.(type) {
	case string:
		v.Message = val
	case map[string]any:
		if msg, ok := val["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := val["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
		if op, ok := val["op"].(string); ok {
			v.Op = op
		}
		if host, ok := val["host"].(string); ok {
			v.Host = host
		}
	default:
		v.Message = fmt.Sprintf("%v", result)
	}
	return v
}

// sortedNames returns policy names in evaluation order. Caller holds at
// least the read lock.
func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// packageName extracts the package path from Rego source.
func packageName(source string) string {
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(trimmed, "package "); ok {
			if fields := strings.Fields(rest); len(fields) > 0 {
				return fields[0]
			}
		}
	}
	return "shipshape"
}
