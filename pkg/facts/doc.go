// Package facts supplies the observed-state half of every diff: typed,
// parameterizable remote-state probes and the per-run memoization cache.
//
// # Definitions
//
// A Definition describes one fact kind: how to render its remote probe
// command for a given argument string, how to parse the captured output
// into a typed value, and optionally a default value used when the probe
// exits non-zero (for kinds where a failing probe means "absent" rather
// than "error", like a package version query for an uninstalled package).
// Catalog returns the builtin registry; connectors render and run probes
// through it.
//
// # Cache
//
// Cache memoizes fact values per (host, kind, args) for the lifetime of
// one run. The first query for a triple issues the remote probe; every
// later query returns the stored outcome, including stored errors.
// Concurrent queries for the same triple coalesce into a single remote
// probe: the second caller waits for the first result instead of
// re-querying. Entries are never invalidated mid-run, so operations see
// facts as a snapshot taken at first query time.
package facts
