package script

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/shipshape-io/shipshape/pkg/engine"
	"github.com/shipshape-io/shipshape/pkg/hooks"
	"github.com/shipshape-io/shipshape/pkg/inventory"
	"github.com/shipshape-io/shipshape/pkg/ops"
	"github.com/shipshape-io/shipshape/pkg/plan"
)

// DefaultTimeout bounds script evaluation when no timeout is configured.
// Deploy scripts only register operations, so evaluation is expected to
// finish in milliseconds; the bound exists to stop runaway loops.
const DefaultTimeout = 30 * time.Second

// Options configures an Evaluator.
type Options struct {
	// Timeout bounds one evaluation. Zero means DefaultTimeout.
	Timeout time.Duration

	// Logger receives script print() output and evaluation progress.
	// The zero value logs nothing.
	Logger zerolog.Logger
}

// Evaluator executes Starlark deploy scripts against a plan builder. An
// evaluator holds no per-script state and may be reused; evaluation
// itself is single-threaded.
type Evaluator struct {
	timeout time.Duration
	log     zerolog.Logger
}

// NewEvaluator creates a script evaluator.
func NewEvaluator(opts Options) *Evaluator {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Evaluator{
		timeout: timeout,
		log:     opts.Logger,
	}
}

// ExecFile reads and evaluates a deploy script from disk.
func (ev *Evaluator) ExecFile(ctx context.Context, path string, b *plan.Builder, reg *hooks.Registry) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return engine.NewConfigError("script unreadable", err).WithDetail("path", path)
	}
	return ev.Exec(ctx, path, src, b, reg)
}

// Exec evaluates one deploy script. Registrations land on the builder's
// root view, hook() registrations land on the hook registry. The
// filename labels backtraces and log lines.
func (ev *Evaluator) Exec(ctx context.Context, filename string, src []byte, b *plan.Builder, reg *hooks.Registry) error {
	if b == nil {
		return engine.NewConfigError("script evaluation without a plan builder", nil)
	}
	if reg == nil {
		return engine.NewConfigError("script evaluation without a hook registry", nil)
	}

	env := &environment{
		ev:    ev,
		views: []*plan.Builder{b},
		hooks: reg,
	}

	thread := &starlark.Thread{
		Name: filename,
		Print: func(_ *starlark.Thread, msg string) {
			ev.log.Info().Str("script", filename).Msg(msg)
		},
	}
	stop := watchThread(ctx, thread, ev.timeout)
	defer stop()

	started := time.Now()
	_, err := starlark.ExecFileOptions(fileOptions(), thread, filename, src, env.predeclared())
	if err != nil {
		return scriptError(filename, err)
	}
	ev.log.Debug().
		Str("script", filename).
		Int("steps", b.Len()).
		Dur("duration", time.Since(started)).
		Msg("script evaluated")
	return nil
}

// fileOptions is the Starlark dialect for deploy scripts: top-level
// loops and reassignment are part of normal deploy flow, while loops
// and recursion stay off so every script terminates (the evaluation
// timeout is the backstop, not the rule).
func fileOptions() *syntax.FileOptions {
	return &syntax.FileOptions{
		Set:             true,
		TopLevelControl: true,
		GlobalReassign:  true,
	}
}

// watchThread cancels the Starlark thread when the context ends or the
// timeout elapses. Cancellation interrupts the interpreter at its next
// safepoint, so evaluation stays on a single goroutine and the builder
// is never mutated concurrently.
func watchThread(ctx context.Context, thread *starlark.Thread, timeout time.Duration) (stop func()) {
	done := make(chan struct{})
	go func() {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-timer.C:
			thread.Cancel(fmt.Sprintf("evaluation timeout after %v", timeout))
		}
	}()
	return func() { close(done) }
}

// scriptError converts an evaluation failure into a config-class error,
// attaching the Starlark backtrace when one exists.
func scriptError(filename string, err error) error {
	var abort *abortError
	if errors.As(err, &abort) {
		return engine.NewConfigError("script failed: "+abort.msg, nil).
			WithDetail("script", filename)
	}
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return engine.NewConfigError("script evaluation failed", err).
			WithDetail("script", filename).
			WithDetail("backtrace", evalErr.Backtrace())
	}
	return engine.NewConfigError("script evaluation failed", err).
		WithDetail("script", filename)
}

// abortError is the deliberate failure raised by the fail() builtin. It
// is distinguishable from script bugs so hook dispatch can map it to a
// run abort instead of a plain hook error.
type abortError struct {
	msg string
}

func (e *abortError) Error() string {
	return e.msg
}

// environment is the predeclared namespace of one evaluation. The view
// stack tracks lexical limit() nesting; registrations always go through
// the innermost view.
type environment struct {
	ev    *Evaluator
	views []*plan.Builder
	hooks *hooks.Registry
}

func (env *environment) view() *plan.Builder {
	return env.views[len(env.views)-1]
}

// predeclared builds the script namespace: one module per operation
// family from the registry, then the core builtins. Core names shadow
// any operation module that collides with them.
func (env *environment) predeclared() starlark.StringDict {
	dict := starlark.StringDict{}

	modules := make(map[string]*starlarkstruct.Module)
	for _, opName := range env.view().Registry().Names() {
		mod, verb, ok := strings.Cut(opName, ".")
		if !ok {
			dict[opName] = env.opBuiltin(opName)
			continue
		}
		m := modules[mod]
		if m == nil {
			m = &starlarkstruct.Module{
				Name:    mod,
				Members: starlark.StringDict{},
			}
			modules[mod] = m
			dict[mod] = m
		}
		m.Members[verb] = env.opBuiltin(opName)
	}

	dict["struct"] = starlarkstruct.Default
	dict["data"] = starlark.NewBuiltin("data", builtinData)
	dict["limit"] = starlark.NewBuiltin("limit", env.builtinLimit)
	dict["hook"] = starlark.NewBuiltin("hook", env.builtinHook)
	dict["fail"] = starlark.NewBuiltin("fail", builtinFail)
	return dict
}

// opBuiltin returns the registration builtin for one operation. All
// operation arguments are keywords; the reserved ones map onto
// registration options, everything else becomes the argument map.
func (env *environment) opBuiltin(opName string) *starlark.Builtin {
	return starlark.NewBuiltin(opName, func(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(args) > 0 {
			return nil, fmt.Errorf("%s: operations take keyword arguments only", fn.Name())
		}

		opArgs := ops.Args{}
		var opts []ops.Option
		for _, kv := range kwargs {
			key := string(kv[0].(starlark.String))
			switch key {
			case "name":
				s, ok := starlark.AsString(kv[1])
				if !ok {
					return nil, fmt.Errorf("%s: name must be a string, got %s", fn.Name(), kv[1].Type())
				}
				opts = append(opts, ops.WithName(s))
			case "_sudo":
				on, ok := kv[1].(starlark.Bool)
				if !ok {
					return nil, fmt.Errorf("%s: _sudo must be a bool, got %s", fn.Name(), kv[1].Type())
				}
				if on {
					opts = append(opts, ops.WithSudo())
				}
			case "_sudo_user":
				s, ok := starlark.AsString(kv[1])
				if !ok {
					return nil, fmt.Errorf("%s: _sudo_user must be a string, got %s", fn.Name(), kv[1].Type())
				}
				opts = append(opts, ops.WithSudoUser(s))
			case "_ignore_errors":
				on, ok := kv[1].(starlark.Bool)
				if !ok {
					return nil, fmt.Errorf("%s: _ignore_errors must be a bool, got %s", fn.Name(), kv[1].Type())
				}
				if on {
					opts = append(opts, ops.WithIgnoreErrors())
				}
			case "_timeout":
				secs, ok := starlark.AsFloat(kv[1])
				if !ok || secs < 0 {
					return nil, fmt.Errorf("%s: _timeout must be a non-negative number of seconds", fn.Name())
				}
				opts = append(opts, ops.WithTimeout(time.Duration(secs*float64(time.Second))))
			default:
				v, err := fromStarlark(kv[1])
				if err != nil {
					return nil, fmt.Errorf("%s: argument %s: %w", fn.Name(), key, err)
				}
				opArgs[key] = v
			}
		}

		handle, err := env.view().Add(opName, opArgs, opts...)
		if err != nil {
			return nil, err
		}
		return handleValue{handle: handle}, nil
	})
}

// builtinData implements data(key, default=None): a late-bound inventory
// reference resolved per host at diff time.
func builtinData(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	var def starlark.Value = starlark.None
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "key", &key, "default?", &def); err != nil {
		return nil, err
	}
	if def == starlark.None {
		return dataRef{ref: inventory.Data(key)}, nil
	}
	goDef, err := fromStarlark(def)
	if err != nil {
		return nil, fmt.Errorf("%s: default: %w", fn.Name(), err)
	}
	return dataRef{ref: inventory.DataOr(key, goDef)}, nil
}

// builtinLimit implements limit(selector, fn): evaluate fn with
// registrations narrowed to the selector's hosts. Nested limits
// intersect; order indices stay global.
func (env *environment) builtinLimit(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var selector string
	var callback starlark.Callable
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "selector", &selector, "fn", &callback); err != nil {
		return nil, err
	}

	view, err := env.view().Limit(selector)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn.Name(), err)
	}
	env.views = append(env.views, view)
	defer func() { env.views = env.views[:len(env.views)-1] }()

	if _, err := starlark.Call(thread, callback, nil, nil); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

// builtinHook implements hook(point, name, fn): register a lifecycle
// callback. The callback receives the run snapshot as a dict and may
// call fail() to abort the run.
func (env *environment) builtinHook(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var point, name string
	var callback starlark.Callable
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "point", &point, "name", &name, "fn", &callback); err != nil {
		return nil, err
	}
	if err := env.hooks.Register(hooks.Point(point), name, env.hookFunc(name, callback)); err != nil {
		return nil, fmt.Errorf("%s: %w", fn.Name(), err)
	}
	return starlark.None, nil
}

// hookFunc adapts a Starlark callable into a hook callback. Dispatch
// happens during execution, long after evaluation: each call runs on a
// fresh thread watching the run context.
func (env *environment) hookFunc(name string, callback starlark.Callable) hooks.Func {
	ev := env.ev
	return func(ctx context.Context, snap hooks.Snapshot) error {
		thread := &starlark.Thread{
			Name: "hook:" + name,
			Print: func(_ *starlark.Thread, msg string) {
				ev.log.Info().Str("hook", name).Msg(msg)
			},
		}
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-done:
			case <-ctx.Done():
				thread.Cancel(ctx.Err().Error())
			}
		}()

		snapVal, err := snapshotValue(snap)
		if err != nil {
			return err
		}
		if _, err := starlark.Call(thread, callback, starlark.Tuple{snapVal}, nil); err != nil {
			var abort *abortError
			if errors.As(err, &abort) {
				return hooks.Abortf("%s", abort.msg)
			}
			var evalErr *starlark.EvalError
			if errors.As(err, &evalErr) {
				return fmt.Errorf("%s", evalErr.Backtrace())
			}
			return err
		}
		return nil
	}
}

// builtinFail implements fail(msg): a deliberate script failure. Inside
// a hook it aborts the run; at the top level it fails evaluation.
func builtinFail(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var msg string
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "msg", &msg); err != nil {
		return nil, err
	}
	return nil, &abortError{msg: msg}
}

// snapshotValue renders the hook snapshot as a Starlark dict.
func snapshotValue(snap hooks.Snapshot) (starlark.Value, error) {
	dict := starlark.NewDict(8)
	entries := []struct {
		key string
		val any
	}{
		{"run_id", snap.RunID},
		{"plan_id", snap.PlanID},
		{"point", string(snap.Point)},
		{"dry", snap.Dry},
		{"hosts", snap.Hosts},
		{"connected", snap.Connected},
		{"failed", snap.Failed},
	}
	for _, e := range entries {
		v, err := toStarlark(e.val)
		if err != nil {
			return nil, err
		}
		if err := dict.SetKey(starlark.String(e.key), v); err != nil {
			return nil, err
		}
	}
	return dict, nil
}
