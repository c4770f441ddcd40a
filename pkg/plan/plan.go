package plan

import (
	"time"

	"github.com/shipshape-io/shipshape/pkg/inventory"
	"github.com/shipshape-io/shipshape/pkg/ops"
)

// Step is one ordered operation registration of a plan.
type Step struct {
	// Order is the global registration index. Indices are unique,
	// monotonic, and shared across all builder views.
	Order int `json:"order"`

	// OpName is the registry name of the operation.
	OpName string `json:"op"`

	// Name is the display name shown in plans and reports. Defaults to
	// OpName when the registration did not set one.
	Name string `json:"name"`

	// Args is the registration argument map. Values may be inventory
	// refs, which resolve per host at diff time.
	Args ops.Args `json:"args,omitempty"`

	// Config carries the call settings of the registration.
	Config ops.Config `json:"config"`

	// Hosts is the registration scope in inventory definition order.
	Hosts []string `json:"hosts"`

	op     ops.Operation
	handle *ops.Handle
}

// Operation returns the descriptor behind the step.
func (s *Step) Operation() ops.Operation {
	return s.op
}

// Handle returns the registration handle the engine records host
// outcomes into.
func (s *Step) Handle() *ops.Handle {
	return s.handle
}

// Targets reports whether the step's scope includes the host.
func (s *Step) Targets(host string) bool {
	for _, h := range s.Hosts {
		if h == host {
			return true
		}
	}
	return false
}

// Plan is a sealed, ordered, host-scoped set of operation registrations.
// Plans are read-only: execution records outcomes through step handles,
// never by mutating the plan itself.
type Plan struct {
	// ID uniquely identifies this build of the plan.
	ID string `json:"id"`

	// CreatedAt is the build timestamp in UTC.
	CreatedAt time.Time `json:"created_at"`

	// Hosts is the union of all step scopes in inventory definition
	// order. These are the hosts the engine connects to.
	Hosts []string `json:"hosts"`

	// Steps are the registrations in global order.
	Steps []*Step `json:"steps"`

	inv *inventory.Inventory
}

// Inventory returns the inventory the plan was built against.
func (p *Plan) Inventory() *inventory.Inventory {
	return p.inv
}

// Targets reports whether any step of the plan includes the host.
func (p *Plan) Targets(host string) bool {
	for _, h := range p.Hosts {
		if h == host {
			return true
		}
	}
	return false
}

// StepsFor returns the steps whose scope includes the host, in order.
func (p *Plan) StepsFor(host string) []*Step {
	var steps []*Step
	for _, s := range p.Steps {
		if s.Targets(host) {
			steps = append(steps, s)
		}
	}
	return steps
}

// Document renders the plan as a JSON-ready value tree for policy
// evaluation. Inventory refs appear as {"$data": key} objects so that
// policies can reason about data-driven arguments without resolving
// them.
func (p *Plan) Document() map[string]any {
	steps := make([]any, 0, len(p.Steps))
	for _, s := range p.Steps {
		steps = append(steps, map[string]any{
			"order": s.Order,
			"op":    s.OpName,
			"name":  s.Name,
			"args":  documentValue(map[string]any(s.Args)),
			"config": map[string]any{
				"sudo":          s.Config.Sudo,
				"sudo_user":     s.Config.SudoUser,
				"ignore_errors": s.Config.IgnoreErrors,
			},
			"hosts": documentStrings(s.Hosts),
		})
	}
	return map[string]any{
		"id":         p.ID,
		"created_at": p.CreatedAt.Format(time.RFC3339),
		"hosts":      documentStrings(p.Hosts),
		"steps":      steps,
	}
}

func documentValue(v any) any {
	switch val := v.(type) {
	case inventory.Ref:
		doc := map[string]any{"$data": val.Key}
		if val.Default != nil {
			doc["default"] = documentValue(val.Default)
		}
		return doc
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = documentValue(item)
		}
		return out
	case ops.Args:
		return documentValue(map[string]any(val))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = documentValue(item)
		}
		return out
	case []string:
		return documentStrings(val)
	default:
		return val
	}
}

func documentStrings(list []string) []any {
	out := make([]any, len(list))
	for i, s := range list {
		out[i] = s
	}
	return out
}
