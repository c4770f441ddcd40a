// Package engine executes operation plans against a fleet of hosts.
//
// # Overview
//
// A run moves through a fixed sequence of phases:
//
//  1. Init - Validate the run configuration (New)
//  2. Connecting - Open one session per targeted host (Connector)
//  3. GatheringFacts - Timing point before the first fact query
//  4. Executing - Diff and execute each plan step at its barrier
//  5. Complete / Aborted - Terminal phase with the run summary
//
// Lifecycle hooks fire between phases: before_connect while the run is
// still in Init, before_facts on entering GatheringFacts, before_deploy
// on entering Executing, and after_deploy exactly once at the end of
// every run, aborted runs included.
//
// # Execution Model
//
// Each plan step is a barrier. For one step, every live targeted host
// gets a worker task that diffs the operation against the host's facts
// and runs the resulting commands strictly in sequence on that host's
// session. Tasks for different hosts run concurrently, bounded by the
// configured pool size. The coordinator waits for every task before it
// evaluates the fail threshold and moves to the next step, so no host
// starts step N+1 until all hosts finished step N.
//
// Facts are queried lazily: an operation's diff asks its host-bound
// fact view, which memoizes per (host, kind, args) for the run. No
// fact is queried before the before_facts hook point.
//
// # Failure Model
//
// A failed connection, diff, or command excludes its host from all
// later steps; other hosts are unaffected. Registrations marked
// tolerant keep the host live and record the failure as ignored. After
// each barrier the cumulative failed-host percentage is compared
// against the configured threshold; exceeding it aborts the run for
// every host. Error classification lives in errors.go: per-host
// failures are recovered into records, hook aborts and threshold trips
// end the run.
//
// # Collaborators
//
// The engine depends on narrow capability interfaces, wired through
// Options:
//
//   - Connector: opens Sessions (pkg/transports)
//   - Session: run commands, upload files, query facts on one host
//   - Recorder: persists runs, host results, records (pkg/stores)
//   - EventPublisher: receives the run timeline (pkg/telemetry)
//
// Persistence and events are best-effort: their errors are logged and
// never turn into run failures.
//
// # Concurrency
//
// Run state is owned by the coordinating goroutine. Workers touch only
// their host's exclusive session, the single-flight fact cache, and
// the per-step handle; outcomes travel back over channels and are
// folded in at the barrier. Nothing in this package requires callers
// to synchronize: Execute is one blocking call returning the Report.
package engine
