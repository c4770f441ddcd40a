package plan

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shipshape-io/shipshape/pkg/inventory"
	"github.com/shipshape-io/shipshape/pkg/ops"
)

// Builder accumulates operation registrations into an ordered plan.
//
// The zero value is not usable; create builders with NewBuilder. A
// Builder value is a view: Limit returns a new view over the same
// underlying sequence, so step order indices stay global no matter
// which view registered them.
type Builder struct {
	state *builderState
	scope []string // nil means every inventory host
}

type builderState struct {
	mu     sync.Mutex
	inv    *inventory.Inventory
	reg    *ops.Registry
	steps  []*Step
	next   int
	sealed bool
}

// NewBuilder creates a plan builder over a sealed inventory and an
// operation registry. The root view scopes registrations to every
// inventory host.
func NewBuilder(inv *inventory.Inventory, reg *ops.Registry) *Builder {
	return &Builder{
		state: &builderState{
			inv: inv,
			reg: reg,
		},
	}
}

// Inventory returns the inventory the builder is bound to.
func (b *Builder) Inventory() *inventory.Inventory {
	return b.state.inv
}

// Registry returns the operation registry registrations resolve against.
func (b *Builder) Registry() *ops.Registry {
	return b.state.reg
}

// Hosts returns the hosts in the view's scope, in inventory definition
// order.
func (b *Builder) Hosts() []string {
	if b.scope == nil {
		return b.state.inv.HostNames()
	}
	out := make([]string, len(b.scope))
	copy(out, b.scope)
	return out
}

// Limit returns a view of the builder narrowed to the hosts matched by
// the selector. Nested limits intersect: the returned view's scope is
// the selector's matches restricted to the receiver's scope. Selector
// terms that match nothing in the inventory are an error; an
// intersection that comes out empty is not, it just yields steps that
// target no hosts.
func (b *Builder) Limit(selector string) (*Builder, error) {
	b.state.mu.Lock()
	sealed := b.state.sealed
	b.state.mu.Unlock()
	if sealed {
		return nil, fmt.Errorf("plan already built")
	}

	matched, err := b.state.inv.Select(selector)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(matched))
	for _, h := range matched {
		names = append(names, h.Name)
	}
	if b.scope != nil {
		names = intersectOrdered(b.scope, names)
	}
	return &Builder{state: b.state, scope: names}, nil
}

// Add registers one operation call. It returns a handle that exposes the
// step's plan position now and its per-host outcomes after execution.
//
// Every call appends a new step; identical calls never merge. The step's
// host scope is the view's scope at call time.
func (b *Builder) Add(opName string, args ops.Args, opts ...ops.Option) (*ops.Handle, error) {
	op, err := b.state.reg.Get(opName)
	if err != nil {
		return nil, err
	}

	cfg := ops.BuildConfig(opts...)
	name := cfg.DisplayName
	if name == "" {
		name = opName
	}

	b.state.mu.Lock()
	defer b.state.mu.Unlock()
	if b.state.sealed {
		return nil, fmt.Errorf("plan already built")
	}

	order := b.state.next
	b.state.next++

	handle := ops.NewHandle(order, name)
	b.state.steps = append(b.state.steps, &Step{
		Order:  order,
		OpName: opName,
		Name:   name,
		Args:   args.Clone(),
		Config: cfg,
		Hosts:  b.Hosts(),
		op:     op,
		handle: handle,
	})
	return handle, nil
}

// MustAdd is Add for registrations that cannot fail, typically with
// operation names known at compile time. It panics on error.
func (b *Builder) MustAdd(opName string, args ops.Args, opts ...ops.Option) *ops.Handle {
	handle, err := b.Add(opName, args, opts...)
	if err != nil {
		panic(err)
	}
	return handle
}

// Len returns the number of steps registered so far across all views.
func (b *Builder) Len() int {
	b.state.mu.Lock()
	defer b.state.mu.Unlock()
	return len(b.state.steps)
}

// Build seals the builder and returns the immutable plan. After Build
// every view of the builder rejects further registrations, and calling
// Build again is an error.
func (b *Builder) Build() (*Plan, error) {
	b.state.mu.Lock()
	defer b.state.mu.Unlock()
	if b.state.sealed {
		return nil, fmt.Errorf("plan already built")
	}
	b.state.sealed = true

	targeted := make(map[string]bool)
	for _, s := range b.state.steps {
		for _, h := range s.Hosts {
			targeted[h] = true
		}
	}
	hosts := make([]string, 0, len(targeted))
	for _, name := range b.state.inv.HostNames() {
		if targeted[name] {
			hosts = append(hosts, name)
		}
	}

	return &Plan{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Hosts:     hosts,
		Steps:     b.state.steps,
		inv:       b.state.inv,
	}, nil
}

// intersectOrdered keeps the members of base that also appear in allow,
// preserving base's order.
func intersectOrdered(base, allow []string) []string {
	set := make(map[string]bool, len(allow))
	for _, s := range allow {
		set[s] = true
	}
	out := make([]string, 0, len(base))
	for _, s := range base {
		if set[s] {
			out = append(out, s)
		}
	}
	return out
}
