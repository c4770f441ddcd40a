package hooks

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Point is a run lifecycle point hooks can attach to.
type Point string

const (
	// PointBeforeConnect fires before the engine opens any connection.
	PointBeforeConnect Point = "before_connect"

	// PointBeforeFacts fires after connections are up, before the first
	// fact query.
	PointBeforeFacts Point = "before_facts"

	// PointBeforeDeploy fires before the first plan step executes on
	// any host.
	PointBeforeDeploy Point = "before_deploy"

	// PointAfterDeploy fires when the run finishes. It fires on every
	// outcome, aborted runs included.
	PointAfterDeploy Point = "after_deploy"
)

// Points returns all lifecycle points in firing order.
func Points() []Point {
	return []Point{PointBeforeConnect, PointBeforeFacts, PointBeforeDeploy, PointAfterDeploy}
}

// Validate checks that the point is one of the defined lifecycle points.
func (p Point) Validate() error {
	switch p {
	case PointBeforeConnect, PointBeforeFacts, PointBeforeDeploy, PointAfterDeploy:
		return nil
	}
	return fmt.Errorf("invalid hook point: %s", string(p))
}

// ErrAbort is the sentinel hooks return, usually wrapped with a reason,
// to abort the run deliberately.
var ErrAbort = errors.New("aborted by hook")

// Abortf builds a hook abort error with a reason.
func Abortf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrAbort)...)
}

// Snapshot is the read-only run view passed to hooks.
type Snapshot struct {
	// RunID identifies the run being executed.
	RunID string `json:"run_id"`

	// PlanID identifies the plan behind the run.
	PlanID string `json:"plan_id"`

	// Point is the lifecycle point being dispatched.
	Point Point `json:"point"`

	// Dry reports whether the run is a dry run.
	Dry bool `json:"dry"`

	// Hosts are the hosts targeted by the plan.
	Hosts []string `json:"hosts,omitempty"`

	// Connected are the hosts with live connections at dispatch time.
	Connected []string `json:"connected,omitempty"`

	// Failed are the hosts counted as failed at dispatch time.
	Failed []string `json:"failed,omitempty"`
}

// Func is a hook callback. It runs on the coordinating goroutine;
// blocking blocks the run.
type Func func(ctx context.Context, snap Snapshot) error

// Hook is one registered callback.
type Hook struct {
	// Point is the lifecycle point the callback is attached to.
	Point Point

	// Name labels the callback in logs and errors.
	Name string

	fn Func
}

// Registry holds hooks per lifecycle point in registration order.
type Registry struct {
	mu    sync.Mutex
	hooks map[Point][]Hook
}

// NewRegistry creates an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{
		hooks: make(map[Point][]Hook),
	}
}

// Register attaches a named callback to a lifecycle point. Names only
// label the callback; duplicates are allowed and run in registration
// order.
func (r *Registry) Register(point Point, name string, fn Func) error {
	if err := point.Validate(); err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("hook on %s has no name", point)
	}
	if fn == nil {
		return fmt.Errorf("hook %s on %s has no callback", name, point)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[point] = append(r.hooks[point], Hook{Point: point, Name: name, fn: fn})
	return nil
}

// Names returns the callback names registered on a point, in order.
func (r *Registry) Names(point Point) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.hooks[point]))
	for _, h := range r.hooks[point] {
		names = append(names, h.Name)
	}
	return names
}

// Len returns the total number of registered hooks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, hs := range r.hooks {
		n += len(hs)
	}
	return n
}

// Dispatch runs every hook of a point in registration order and returns
// the joined errors. A failing hook does not stop the hooks after it;
// only context cancellation cuts the sequence short.
func (r *Registry) Dispatch(ctx context.Context, point Point, snap Snapshot) error {
	if err := point.Validate(); err != nil {
		return err
	}
	snap.Point = point

	r.mu.Lock()
	hs := make([]Hook, len(r.hooks[point]))
	copy(hs, r.hooks[point])
	r.mu.Unlock()

	var errs []error
	for _, h := range hs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := h.fn(ctx, snap); err != nil {
			errs = append(errs, fmt.Errorf("hook %s on %s: %w", h.Name, point, err))
		}
	}
	return errors.Join(errs...)
}
