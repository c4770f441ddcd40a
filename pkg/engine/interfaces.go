package engine

import (
	"context"
	"time"

	"github.com/shipshape-io/shipshape/pkg/inventory"
	"github.com/shipshape-io/shipshape/pkg/ops"
)

// Connector opens sessions to hosts. Implementations live under
// pkg/transports.
type Connector interface {
	// Connect establishes a session to the host. The context carries
	// the connect timeout.
	Connect(ctx context.Context, host *inventory.Host) (Session, error)
}

// Session is the exclusive connection of one host for one run. The
// engine serializes all calls on a session; implementations do not need
// to be safe for concurrent use.
type Session interface {
	// Run executes one command. The command value carries its own sudo
	// and timeout settings; the context carries the timeout deadline.
	// A non-zero exit status is reported through the result, not the
	// error: the error is reserved for transport failures.
	Run(ctx context.Context, cmd ops.Command) (*CommandResult, error)

	// Upload copies a local file to the host.
	Upload(ctx context.Context, localPath, remotePath string) error

	// QueryFact probes one fact and returns its decoded value. The
	// session renders the probe command from its fact registry, applies
	// the kind's default when the probe exits non-zero, and parses the
	// output.
	QueryFact(ctx context.Context, kind, args string) (any, error)

	// Close releases the connection.
	Close() error
}

// CommandResult is the outcome of one remote command.
type CommandResult struct {
	// ExitCode is the remote exit status.
	ExitCode int `json:"exit_code"`

	// Stdout is the captured standard output.
	Stdout string `json:"stdout,omitempty"`

	// Stderr is the captured standard error.
	Stderr string `json:"stderr,omitempty"`

	// Duration is the wall time of the command.
	Duration time.Duration `json:"duration,omitempty"`
}

// Success reports whether the command exited zero.
func (r *CommandResult) Success() bool {
	return r.ExitCode == 0
}

// Recorder persists runs and their results. Implementations live under
// pkg/stores. The engine treats persistence as best-effort: recorder
// errors are logged, never turned into run failures.
type Recorder interface {
	// SaveRun inserts or updates a run record.
	SaveRun(ctx context.Context, run *Run) error

	// SaveHostResult stores the terminal result of one host.
	SaveHostResult(ctx context.Context, runID string, res *HostResult) error

	// SaveRecords stores a batch of operation records.
	SaveRecords(ctx context.Context, runID string, recs []*Record) error
}

// EventPublisher receives run timeline events. Publish is called from
// the coordinating goroutine in event order and must not block;
// implementations queue or drop internally.
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
}
