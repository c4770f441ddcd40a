package engine

import (
	"time"
)

// Run is the record of one plan execution.
type Run struct {
	// ID uniquely identifies the run.
	ID string `json:"id"`

	// PlanID identifies the plan being executed.
	PlanID string `json:"plan_id"`

	// Name is the optional run label from the run config.
	Name string `json:"name,omitempty"`

	// Phase is the current lifecycle phase.
	Phase Phase `json:"phase"`

	// Dry reports whether commands were simulated instead of executed.
	Dry bool `json:"dry,omitempty"`

	// StartedAt is the run start time in UTC.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is the run end time, set on terminal phases.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Duration is the total wall time of the run.
	Duration time.Duration `json:"duration,omitempty"`

	// Summary aggregates outcomes across hosts.
	Summary RunSummary `json:"summary"`

	// Error is the abort reason when the run did not complete.
	Error string `json:"error,omitempty"`
}

// RunSummary aggregates per-host outcomes of a run.
type RunSummary struct {
	// Hosts is the number of hosts targeted by the plan.
	Hosts int `json:"hosts"`

	// Connected is the number of hosts that established a connection.
	Connected int `json:"connected"`

	// Unreachable is the number of hosts that never connected.
	Unreachable int `json:"unreachable"`

	// Failed is the number of failed hosts, unreachable included.
	Failed int `json:"failed"`

	// Changed is the number of hosts with at least one changed
	// operation.
	Changed int `json:"changed"`

	// Operations is the number of operation records produced.
	Operations int `json:"operations"`

	// Commands is the number of commands attributed to records,
	// executed on real runs and proposed on dry runs.
	Commands int `json:"commands"`

	// Skipped is the number of operation records skipped because their
	// host was already excluded.
	Skipped int `json:"skipped"`
}

// HostResult is the terminal per-host outcome of a run.
type HostResult struct {
	// Host is the inventory host name.
	Host string `json:"host"`

	// Status is the terminal host status.
	Status HostStatus `json:"status"`

	// Error is the first failure reason, empty for ok hosts.
	Error string `json:"error,omitempty"`

	// OpsChanged counts operations that changed the host.
	OpsChanged int `json:"ops_changed"`

	// OpsUnchanged counts operations that found the host converged.
	OpsUnchanged int `json:"ops_unchanged"`

	// OpsFailed counts operations that failed on the host.
	OpsFailed int `json:"ops_failed"`

	// OpsIgnored counts tolerated failures.
	OpsIgnored int `json:"ops_ignored"`

	// OpsSkipped counts operations skipped after the host failed.
	OpsSkipped int `json:"ops_skipped"`

	// Duration is the host's accumulated command time.
	Duration time.Duration `json:"duration,omitempty"`
}

// Record is the outcome of one operation on one host.
type Record struct {
	// Order is the plan order index of the operation.
	Order int `json:"order"`

	// Op is the operation registry name.
	Op string `json:"op"`

	// Name is the operation display name.
	Name string `json:"name"`

	// Host is the inventory host name.
	Host string `json:"host"`

	// Status is the operation outcome.
	Status OpStatus `json:"status"`

	// Commands is the number of commands executed, or proposed on dry
	// runs.
	Commands int `json:"commands"`

	// ExitCode is the exit status of the failing command, when one
	// failed.
	ExitCode int `json:"exit_code,omitempty"`

	// Error is the failure reason, empty on success.
	Error string `json:"error,omitempty"`

	// Output is the tail of the failing command's output.
	Output string `json:"output,omitempty"`

	// StartedAt is when the operation started on the host.
	StartedAt time.Time `json:"started_at"`

	// Duration is the operation's wall time on the host.
	Duration time.Duration `json:"duration,omitempty"`
}

// Changed reports whether the record changed its host.
func (r *Record) Changed() bool {
	return r.Status == OpStatusChanged
}

// Event is one entry in the run timeline.
type Event struct {
	// ID uniquely identifies the event.
	ID string `json:"id"`

	// Type is the event type.
	Type EventType `json:"type"`

	// Timestamp is the event time in UTC.
	Timestamp time.Time `json:"timestamp"`

	// RunID identifies the run the event belongs to.
	RunID string `json:"run_id"`

	// Host is the host the event concerns, if any.
	Host string `json:"host,omitempty"`

	// Op is the operation display name the event concerns, if any.
	Op string `json:"op,omitempty"`

	// Message is the human-readable event description.
	Message string `json:"message"`

	// Level is the log severity of the event.
	Level string `json:"level"`
}

// Report bundles a run record with its per-host results and operation
// records. Execute returns a report on every outcome, aborts included.
type Report struct {
	// Run is the run record.
	Run Run `json:"run"`

	// Hosts are the per-host results in inventory order.
	Hosts []*HostResult `json:"hosts"`

	// Records are the operation records in step order, hosts in
	// inventory order within a step.
	Records []*Record `json:"records"`
}

// HostResult returns the result of one host, or nil.
func (r *Report) HostResult(host string) *HostResult {
	for _, h := range r.Hosts {
		if h.Host == host {
			return h
		}
	}
	return nil
}

// RecordsFor returns the records of one host in step order.
func (r *Report) RecordsFor(host string) []*Record {
	var recs []*Record
	for _, rec := range r.Records {
		if rec.Host == host {
			recs = append(recs, rec)
		}
	}
	return recs
}

// FailedHosts returns the names of failed hosts, unreachable included,
// in inventory order.
func (r *Report) FailedHosts() []string {
	var hosts []string
	for _, h := range r.Hosts {
		if h.Status != HostStatusOK {
			hosts = append(hosts, h.Host)
		}
	}
	return hosts
}
