package policy

import (
	"errors"
	"strings"
	"time"

	"github.com/shipshape-io/shipshape/pkg/inventory"
	"github.com/shipshape-io/shipshape/pkg/plan"
)

// Severity grades a violation. Error and critical violations block the
// run; info and warning violations are reported and let it proceed.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Blocks reports whether a violation of this severity stops the run.
func (s Severity) Blocks() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is one named Rego rule set.
type Policy struct {
	// Name uniquely identifies the policy.
	Name string `json:"name"`

	// Description is shown when listing policies.
	Description string `json:"description,omitempty"`

	// Rego is the policy source. Deny rules are read from the deny set
	// of the module's package.
	Rego string `json:"rego"`

	// Severity is the default severity for violations that do not set
	// their own.
	Severity Severity `json:"severity"`

	// Enabled gates evaluation. Disabled policies stay loaded.
	Enabled bool `json:"enabled"`

	// Tags label the policy for listing.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from, empty for
	// builtins.
	Source string `json:"source,omitempty"`
}

// Violation is one deny result from one policy.
type Violation struct {
	// Policy is the name of the policy that fired.
	Policy string `json:"policy"`

	// Message is the deny reason.
	Message string `json:"message"`

	// Severity grades the violation.
	Severity Severity `json:"severity"`

	// Op is the display name of the operation concerned, if any.
	Op string `json:"op,omitempty"`

	// Host is the host concerned, if any.
	Host string `json:"host,omitempty"`
}

// Result is the outcome of evaluating all enabled policies against one
// plan.
type Result struct {
	// Allowed is false when any violation blocks.
	Allowed bool `json:"allowed"`

	// Violations lists every deny result, blocking or not.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies that failed to evaluate. Evaluation
	// failures never block.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedAt is when the evaluation ran.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is the total evaluation time.
	Duration time.Duration `json:"duration"`
}

// Blocking returns the violations that stop the run.
func (r *Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity.Blocks() {
			out = append(out, v)
		}
	}
	return out
}

// Err returns nil when the plan is allowed, otherwise an error listing
// every blocking deny reason.
func (r *Result) Err() error {
	if r.Allowed {
		return nil
	}
	blocking := r.Blocking()
	msgs := make([]string, len(blocking))
	for i, v := range blocking {
		msgs[i] = v.Policy + ": " + v.Message
	}
	return errors.New(strings.Join(msgs, "; "))
}

// Input is the document policies evaluate. Deny rules match against
// input.run and input.operations.
type Input struct {
	Run        RunInput         `json:"run"`
	Operations []OperationInput `json:"operations"`
}

// RunInput describes the run being gated.
type RunInput struct {
	// Name is the run label.
	Name string `json:"name,omitempty"`

	// Targets are the hosts the plan connects to.
	Targets []string `json:"targets"`

	// Parallel is the host concurrency bound.
	Parallel int `json:"parallel"`

	// FailPercent is the abort threshold.
	FailPercent int `json:"fail_percent"`

	// Dry reports whether commands are simulated.
	Dry bool `json:"dry"`

	// AllowSudoProduction lifts the builtin sudo-on-production deny.
	AllowSudoProduction bool `json:"allow_sudo_production,omitempty"`

	// MaxTargets overrides the builtin target ceiling when positive.
	MaxTargets int `json:"max_targets,omitempty"`

	// Groups maps group names to member host names.
	Groups map[string][]string `json:"groups,omitempty"`
}

// OperationInput describes one plan step.
type OperationInput struct {
	// Index is the plan order of the operation.
	Index int `json:"index"`

	// Name is the operation registry name, e.g. "shell.run".
	Name string `json:"name"`

	// DisplayName is the name shown in plans and reports.
	DisplayName string `json:"display_name"`

	// Hosts is the operation's target scope.
	Hosts []string `json:"hosts"`

	// Args is the registration argument map. Data refs appear as
	// {"$data": key} objects.
	Args map[string]any `json:"args,omitempty"`

	// Sudo reports whether commands escalate.
	Sudo bool `json:"sudo"`

	// SudoUser is the escalation target user, if set.
	SudoUser string `json:"sudo_user,omitempty"`

	// IgnoreErrors reports whether failures are tolerated.
	IgnoreErrors bool `json:"ignore_errors"`
}

// BuildInput renders a plan and its run parameters into the policy
// input document. Targets default to the plan's host union and Groups
// to the plan inventory's group membership when unset.
func BuildInput(p *plan.Plan, run RunInput) *Input {
	if run.Targets == nil {
		run.Targets = append([]string{}, p.Hosts...)
	}
	if run.Groups == nil {
		run.Groups = groupMembership(p.Inventory())
	}

	doc := p.Document()
	steps, _ := doc["steps"].([]any)
	operations := make([]OperationInput, 0, len(steps))
	for _, raw := range steps {
		step, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		cfg, _ := step["config"].(map[string]any)
		op := OperationInput{
			Index:       intValue(step["order"]),
			Name:        stringValue(step["op"]),
			DisplayName: stringValue(step["name"]),
			Hosts:       stringSlice(step["hosts"]),
		}
		if args, ok := step["args"].(map[string]any); ok {
			op.Args = args
		}
		if cfg != nil {
			op.Sudo, _ = cfg["sudo"].(bool)
			op.SudoUser = stringValue(cfg["sudo_user"])
			op.IgnoreErrors, _ = cfg["ignore_errors"].(bool)
		}
		operations = append(operations, op)
	}

	return &Input{Run: run, Operations: operations}
}

func groupMembership(inv *inventory.Inventory) map[string][]string {
	if inv == nil {
		return nil
	}
	out := make(map[string][]string)
	for _, h := range inv.Hosts() {
		for _, g := range h.Groups {
			out[g] = append(out[g], h.Name)
		}
	}
	return out
}

func intValue(v any) int {
	n, _ := v.(int)
	return n
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func stringSlice(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
