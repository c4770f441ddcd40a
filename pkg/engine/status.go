package engine

import (
	"encoding/json"
	"fmt"
)

// Phase represents the lifecycle phase of a run.
type Phase string

const (
	// PhaseInit indicates the run is created but no work has started.
	PhaseInit Phase = "init"

	// PhaseConnecting indicates connections are being opened.
	PhaseConnecting Phase = "connecting"

	// PhaseGatheringFacts marks the point before any fact has been
	// queried. Facts themselves are gathered lazily while steps diff.
	PhaseGatheringFacts Phase = "gathering_facts"

	// PhaseExecuting indicates plan steps are running on hosts.
	PhaseExecuting Phase = "executing"

	// PhaseComplete indicates the run finished every step it attempted.
	PhaseComplete Phase = "complete"

	// PhaseAborted indicates the run stopped early: threshold exceeded,
	// hook abort, or cancellation.
	PhaseAborted Phase = "aborted"
)

// IsTerminal returns true if the phase represents a final state.
func (p Phase) IsTerminal() bool {
	return p == PhaseComplete || p == PhaseAborted
}

// Validate checks if the phase is valid.
func (p Phase) Validate() error {
	switch p {
	case PhaseInit, PhaseConnecting, PhaseGatheringFacts,
		PhaseExecuting, PhaseComplete, PhaseAborted:
		return nil
	default:
		return fmt.Errorf("invalid phase: %s", p)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum
// serialization.
func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(p))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (p *Phase) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*p = Phase(str)
	return p.Validate()
}

// HostStatus represents the terminal outcome of a host within a run.
type HostStatus string

const (
	// HostStatusOK indicates the host completed every step it was
	// targeted by, ignored failures included.
	HostStatusOK HostStatus = "ok"

	// HostStatusFailed indicates the host was excluded after a fact or
	// command failure.
	HostStatusFailed HostStatus = "failed"

	// HostStatusUnreachable indicates the host never connected.
	HostStatusUnreachable HostStatus = "unreachable"
)

// Validate checks if the host status is valid.
func (s HostStatus) Validate() error {
	switch s {
	case HostStatusOK, HostStatusFailed, HostStatusUnreachable:
		return nil
	default:
		return fmt.Errorf("invalid host status: %s", s)
	}
}

// OpStatus represents the outcome of one operation on one host.
type OpStatus string

const (
	// OpStatusChanged indicates commands ran and converged the host.
	OpStatusChanged OpStatus = "changed"

	// OpStatusUnchanged indicates the host was already converged and no
	// commands were needed.
	OpStatusUnchanged OpStatus = "unchanged"

	// OpStatusFailed indicates a command or the diff itself failed and
	// the host was excluded from later steps.
	OpStatusFailed OpStatus = "failed"

	// OpStatusIgnored indicates a command failed but the registration
	// tolerates errors; the host stays live and uncounted.
	OpStatusIgnored OpStatus = "ignored"

	// OpStatusSkipped indicates the host was already excluded when this
	// step ran.
	OpStatusSkipped OpStatus = "skipped"
)

// Validate checks if the operation status is valid.
func (s OpStatus) Validate() error {
	switch s {
	case OpStatusChanged, OpStatusUnchanged, OpStatusFailed,
		OpStatusIgnored, OpStatusSkipped:
		return nil
	default:
		return fmt.Errorf("invalid op status: %s", s)
	}
}

// EventType represents the type of event in the run timeline.
type EventType string

const (
	// EventRunStarted indicates a run has started.
	EventRunStarted EventType = "run_started"

	// EventRunCompleted indicates a run reached the complete phase.
	EventRunCompleted EventType = "run_completed"

	// EventRunAborted indicates a run reached the aborted phase.
	EventRunAborted EventType = "run_aborted"

	// EventHostConnected indicates a host connection was established.
	EventHostConnected EventType = "host_connected"

	// EventHostUnreachable indicates a host connection attempt failed.
	EventHostUnreachable EventType = "host_unreachable"

	// EventHostFailed indicates a host was excluded after a failure.
	EventHostFailed EventType = "host_failed"

	// EventStepStarted indicates a plan step started executing.
	EventStepStarted EventType = "step_started"

	// EventStepCompleted indicates a plan step finished on all hosts.
	EventStepCompleted EventType = "step_completed"
)

// Severity returns the log severity of the event type.
func (e EventType) Severity() string {
	switch e {
	case EventRunAborted, EventHostFailed:
		return "error"
	case EventHostUnreachable:
		return "warning"
	default:
		return "info"
	}
}
