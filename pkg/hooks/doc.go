// Package hooks dispatches run lifecycle callbacks.
//
// Deploy scripts register named callbacks on fixed lifecycle points. The
// engine dispatches each point synchronously, in registration order, and
// never starts the next phase while hooks run. A hook aborts the run by
// returning an error, conventionally wrapping ErrAbort; the remaining
// hooks of the same point still run before the abort takes effect, so
// cleanup callbacks observe every run.
package hooks
