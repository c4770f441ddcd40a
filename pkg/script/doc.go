// Package script evaluates Starlark deploy scripts into plans.
//
// A deploy script registers operations against a plan builder through a
// generated environment: every operation in the registry appears as a
// builtin under its module namespace (shell.run, files.put, ...), limit
// narrows the registration scope for the duration of a callback, data
// produces late-bound inventory references, and hook attaches lifecycle
// callbacks that run during execution. Evaluation is single-threaded and
// bounded by a timeout; script failures carry the Starlark backtrace.
package script
