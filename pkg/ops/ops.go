package ops

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shipshape-io/shipshape/pkg/inventory"
)

// Args is the argument map of one operation registration. Values may be
// concrete or inventory.Ref; refs are resolved per host before diffing.
type Args map[string]any

// String returns a string argument.
func (a Args) String(key string) (string, bool) {
	v, ok := a[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// StringOr returns a string argument or a default.
func (a Args) StringOr(key, def string) string {
	if s, ok := a.String(key); ok {
		return s
	}
	return def
}

// Int returns an int argument, accepting the numeric types produced by
// YAML, CUE, and Starlark decoding.
func (a Args) Int(key string) (int, bool) {
	v, ok := a[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}

// IntOr returns an int argument or a default.
func (a Args) IntOr(key string, def int) int {
	if n, ok := a.Int(key); ok {
		return n
	}
	return def
}

// Bool returns a bool argument.
func (a Args) Bool(key string) (bool, bool) {
	v, ok := a[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// BoolOr returns a bool argument or a default.
func (a Args) BoolOr(key string, def bool) bool {
	if b, ok := a.Bool(key); ok {
		return b
	}
	return def
}

// StringSlice returns a string list argument, converting from []any.
func (a Args) StringSlice(key string) ([]string, bool) {
	v, ok := a[key]
	if !ok {
		return nil, false
	}
	switch list := v.(type) {
	case []string:
		return list, true
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// Clone returns a shallow copy of the argument map.
func (a Args) Clone() Args {
	out := make(Args, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Resolved returns a copy with inventory refs realized for the host.
func (a Args) Resolved(inv *inventory.Inventory, host string) Args {
	out := make(Args, len(a))
	for k, v := range a {
		out[k] = inv.ResolveValue(host, v)
	}
	return out
}

// Keys returns the argument keys, sorted.
func (a Args) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Upload describes a file transfer executed through the connector's
// upload capability instead of a shell command.
type Upload struct {
	// LocalPath is the file on the controlling machine.
	LocalPath string `json:"local_path"`

	// RemotePath is the destination on the target host.
	RemotePath string `json:"remote_path"`
}

// Command is one remote command specification produced by diffing.
type Command struct {
	// Cmd is the shell command line. Empty when Upload is set.
	Cmd string `json:"cmd,omitempty"`

	// Sudo escalates this command regardless of registration config.
	Sudo bool `json:"sudo,omitempty"`

	// SudoUser runs the command as this user instead of root.
	SudoUser string `json:"sudo_user,omitempty"`

	// Upload requests a file transfer instead of a shell exec.
	Upload *Upload `json:"upload,omitempty"`

	// Timeout overrides the run-level command timeout when positive.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// String renders the command for logs and reports.
func (c Command) String() string {
	if c.Upload != nil {
		return fmt.Sprintf("upload %s -> %s", c.Upload.LocalPath, c.Upload.RemotePath)
	}
	if c.Sudo {
		if c.SudoUser != "" {
			return fmt.Sprintf("sudo -u %s %s", c.SudoUser, c.Cmd)
		}
		return "sudo " + c.Cmd
	}
	return c.Cmd
}

// FactSource is the per-host fact access a descriptor sees at diff time.
// Implementations memoize per run; descriptors may query freely.
type FactSource interface {
	// Get returns the fact value for (kind, args) on the bound host.
	Get(ctx context.Context, kind, args string) (any, error)
}

// Target bundles everything a descriptor needs to diff one host.
type Target struct {
	// Host is the inventory host being diffed.
	Host *inventory.Host

	// Facts is the host-bound fact source.
	Facts FactSource

	// Args is the registration argument map with refs resolved for this
	// host.
	Args Args
}

// Operation is the descriptor capability: given one host's target context
// it returns the ordered commands that close the gap between observed and
// desired state, or an empty list when the host is already converged.
type Operation interface {
	// Name is the registry key, conventionally "<module>.<verb>".
	Name() string

	// Commands produces the ordered command list for the host.
	Commands(ctx context.Context, target *Target) ([]Command, error)
}

// Registry maps operation names to descriptors.
type Registry struct {
	mu  sync.RWMutex
	ops map[string]Operation
}

// NewRegistry creates an empty operation registry.
func NewRegistry() *Registry {
	return &Registry{
		ops: make(map[string]Operation),
	}
}

// Register adds a descriptor. Duplicate names are rejected.
func (r *Registry) Register(op Operation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := op.Name()
	if name == "" {
		return fmt.Errorf("operation with empty name")
	}
	if _, exists := r.ops[name]; exists {
		return fmt.Errorf("operation %s already registered", name)
	}
	r.ops[name] = op
	return nil
}

// MustRegister adds a descriptor and panics on conflict. For package-level
// catalog construction.
func (r *Registry) MustRegister(op Operation) {
	if err := r.Register(op); err != nil {
		panic(err)
	}
}

// Get retrieves a descriptor by name.
func (r *Registry) Get(name string) (Operation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	op, ok := r.ops[name]
	if !ok {
		return nil, fmt.Errorf("unknown operation %q", name)
	}
	return op, nil
}

// Names returns the registered operation names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
