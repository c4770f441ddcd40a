package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/shipshape-io/shipshape/pkg/config"
	"github.com/shipshape-io/shipshape/pkg/facts"
	"github.com/shipshape-io/shipshape/pkg/hooks"
	"github.com/shipshape-io/shipshape/pkg/inventory"
	"github.com/shipshape-io/shipshape/pkg/plan"
)

// stepNone marks host failures that happened before any step executed.
const stepNone = -1

// Options configures an Engine.
type Options struct {
	// Run holds the execution parameters. The zero value is replaced
	// with config.DefaultRunConfig.
	Run config.RunConfig

	// Hooks is the lifecycle hook registry. Nil means no hooks.
	Hooks *hooks.Registry

	// Recorder persists run history. Nil disables persistence.
	Recorder Recorder

	// Events receives the run timeline. Nil disables events.
	Events EventPublisher

	// Logger receives engine progress logs. The zero value logs
	// nothing.
	Logger zerolog.Logger

	// Dry simulates execution: connections, facts, and diffs are real,
	// commands are not run.
	Dry bool
}

// Engine executes plans against a fleet through a connector. An engine
// may be reused; each Execute call is one independent run.
type Engine struct {
	connector Connector
	cfg       config.RunConfig
	hooks     *hooks.Registry
	recorder  Recorder
	events    EventPublisher
	log       zerolog.Logger
	dry       bool
}

// New creates an engine around a connector.
func New(connector Connector, opts Options) (*Engine, error) {
	if connector == nil {
		return nil, NewConfigError("connector is nil", nil)
	}
	cfg := opts.Run
	if cfg == (config.RunConfig{}) {
		cfg = config.DefaultRunConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, NewConfigError("run config rejected", err)
	}
	hookReg := opts.Hooks
	if hookReg == nil {
		hookReg = hooks.NewRegistry()
	}

	return &Engine{
		connector: connector,
		cfg:       cfg,
		hooks:     hookReg,
		recorder:  opts.Recorder,
		events:    opts.Events,
		log:       opts.Logger,
		dry:       opts.Dry,
	}, nil
}

// Execute runs the plan to a terminal phase. The report is returned on
// every outcome; the error is non-nil exactly when the run aborted.
func (e *Engine) Execute(ctx context.Context, p *plan.Plan) (*Report, error) {
	if p == nil {
		return nil, NewConfigError("plan is nil", nil)
	}

	st := newRunState(e, p)
	e.log.Info().
		Str("run_id", st.run.ID).
		Str("plan_id", p.ID).
		Int("hosts", len(st.hosts)).
		Int("steps", len(p.Steps)).
		Bool("dry", e.dry).
		Msg("run starting")
	st.publish(ctx, EventRunStarted, "", "", "run started")
	st.saveRun(ctx)

	if err := st.dispatchHooks(ctx, hooks.PointBeforeConnect); err != nil {
		return st.abort(ctx, err)
	}

	st.setPhase(ctx, PhaseConnecting)
	st.connectAll(ctx)
	if err := ctx.Err(); err != nil {
		return st.abort(ctx, err)
	}
	if err := st.checkThreshold("connect"); err != nil {
		return st.abort(ctx, err)
	}

	// Facts are queried lazily while steps diff, so this phase does no
	// work of its own: it marks the point where no fact has been
	// queried yet.
	st.setPhase(ctx, PhaseGatheringFacts)
	if err := st.dispatchHooks(ctx, hooks.PointBeforeFacts); err != nil {
		return st.abort(ctx, err)
	}

	st.setPhase(ctx, PhaseExecuting)
	if err := st.dispatchHooks(ctx, hooks.PointBeforeDeploy); err != nil {
		return st.abort(ctx, err)
	}

	for idx, step := range p.Steps {
		if err := ctx.Err(); err != nil {
			return st.abort(ctx, err)
		}
		st.runStep(ctx, idx, step)
		if err := st.checkThreshold(step.Name); err != nil {
			return st.abort(ctx, err)
		}
	}

	return st.finish(ctx)
}

// runState is the mutable state of one run. Every field is written by
// the coordinating goroutine only; workers report through result
// channels and never touch counters.
type runState struct {
	engine *Engine
	plan   *plan.Plan
	run    *Run

	hosts       []*inventory.Host // targeted hosts in inventory order
	hostsByName map[string]*inventory.Host
	hostIndex   map[string]int
	sessions    map[string]Session
	cache       *facts.Cache
	views       map[string]*facts.HostView

	connected    int
	failed       map[string]string // host -> first failure reason
	failedAtStep map[string]int    // host -> step index of the failure
	unreachable  map[string]bool
	changedHosts map[string]bool
	hostBusy     map[string]time.Duration

	records []*Record
	saved   int // records already handed to the recorder

	hostResults []*HostResult
}

func newRunState(e *Engine, p *plan.Plan) *runState {
	inv := p.Inventory()
	st := &runState{
		engine:       e,
		plan:         p,
		hostsByName:  make(map[string]*inventory.Host, len(p.Hosts)),
		hostIndex:    make(map[string]int, len(p.Hosts)),
		sessions:     make(map[string]Session),
		cache:        facts.NewCache(),
		views:        make(map[string]*facts.HostView),
		failed:       make(map[string]string),
		failedAtStep: make(map[string]int),
		unreachable:  make(map[string]bool),
		changedHosts: make(map[string]bool),
		hostBusy:     make(map[string]time.Duration),
	}
	for _, name := range p.Hosts {
		if h, ok := inv.Host(name); ok {
			st.hostIndex[name] = len(st.hosts)
			st.hosts = append(st.hosts, h)
			st.hostsByName[name] = h
		}
	}
	st.run = &Run{
		ID:        uuid.NewString(),
		PlanID:    p.ID,
		Name:      e.cfg.Name,
		Phase:     PhaseInit,
		Dry:       e.dry,
		StartedAt: time.Now().UTC(),
		Summary:   RunSummary{Hosts: len(st.hosts)},
	}
	return st
}

func (st *runState) setPhase(ctx context.Context, phase Phase) {
	st.run.Phase = phase
	st.engine.log.Info().
		Str("run_id", st.run.ID).
		Str("phase", string(phase)).
		Msg("phase change")
	st.saveRun(ctx)
}

// fail excludes a host from all later steps. The first reason wins and
// the host is counted toward the threshold exactly once.
func (st *runState) fail(host, reason string, atStep int) {
	if _, done := st.failed[host]; done {
		return
	}
	st.failed[host] = reason
	st.failedAtStep[host] = atStep
}

func (st *runState) isFailed(host string) bool {
	_, ok := st.failed[host]
	return ok
}

// liveHostNames returns connected, not-failed hosts in inventory order.
func (st *runState) liveHostNames() []string {
	var names []string
	for _, h := range st.hosts {
		if _, ok := st.sessions[h.Name]; ok && !st.isFailed(h.Name) {
			names = append(names, h.Name)
		}
	}
	return names
}

func (st *runState) failedHostNames() []string {
	var names []string
	for _, h := range st.hosts {
		if st.isFailed(h.Name) {
			names = append(names, h.Name)
		}
	}
	return names
}

// checkThreshold compares the cumulative failed percentage against the
// configured limit. Integer arithmetic keeps the strict comparison
// exact: with FailPercent 0 any failure aborts, with 100 none does.
func (st *runState) checkThreshold(stage string) error {
	failed, total := len(st.failed), len(st.hosts)
	if total == 0 || failed == 0 {
		return nil
	}
	if failed*100 > st.engine.cfg.FailPercent*total {
		return NewThresholdError(
			fmt.Sprintf("%d of %d hosts failed", failed, total), nil).
			WithDetail("stage", stage).
			WithDetail("fail_percent", st.engine.cfg.FailPercent)
	}
	return nil
}

func (st *runState) dispatchHooks(ctx context.Context, point hooks.Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	snap := hooks.Snapshot{
		RunID:     st.run.ID,
		PlanID:    st.plan.ID,
		Dry:       st.run.Dry,
		Hosts:     append([]string(nil), st.plan.Hosts...),
		Connected: st.liveHostNames(),
		Failed:    st.failedHostNames(),
	}
	if err := st.engine.hooks.Dispatch(ctx, point, snap); err != nil {
		return NewHookAbortError(fmt.Sprintf("%s hooks aborted the run", point), err)
	}
	return nil
}

// abort moves the run to its aborted terminal phase. The cause is both
// recorded on the run and returned to the caller.
func (st *runState) abort(ctx context.Context, cause error) (*Report, error) {
	st.run.Phase = PhaseAborted
	st.run.Error = cause.Error()
	st.engine.log.Error().
		Str("run_id", st.run.ID).
		Err(cause).
		Msg("run aborted")
	st.finalize(ctx)
	st.publish(ctx, EventRunAborted, "", "", "run aborted: "+cause.Error())
	return st.report(), cause
}

// finish moves the run to its complete terminal phase. A failing
// after_deploy hook is surfaced to the caller but does not change the
// phase: all plan work already happened.
func (st *runState) finish(ctx context.Context) (*Report, error) {
	st.run.Phase = PhaseComplete
	hookErr := st.finalize(ctx)
	st.publish(ctx, EventRunCompleted, "", "", "run completed")
	st.engine.log.Info().
		Str("run_id", st.run.ID).
		Int("failed", st.run.Summary.Failed).
		Int("changed", st.run.Summary.Changed).
		Dur("duration", st.run.Duration).
		Msg("run completed")
	return st.report(), hookErr
}

// finalize is the always-run tail of a run: after_deploy hooks, session
// teardown, summary computation, persistence. It is detached from the
// run context so that it happens even after cancellation.
func (st *runState) finalize(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)

	hookErr := st.dispatchHooks(ctx, hooks.PointAfterDeploy)
	if hookErr != nil {
		st.engine.log.Warn().
			Str("run_id", st.run.ID).
			Err(hookErr).
			Msg("after_deploy hooks failed")
	}

	st.closeSessions()
	st.buildHostResults()
	st.computeSummary()

	now := time.Now().UTC()
	st.run.CompletedAt = &now
	st.run.Duration = now.Sub(st.run.StartedAt)

	st.saveNewRecords(ctx)
	st.saveRun(ctx)
	if st.engine.recorder != nil {
		for _, hr := range st.hostResults {
			if err := st.engine.recorder.SaveHostResult(ctx, st.run.ID, hr); err != nil {
				st.engine.log.Warn().Err(err).Str("host", hr.Host).Msg("host result persistence failed")
			}
		}
	}
	return hookErr
}

func (st *runState) closeSessions() {
	for name, sess := range st.sessions {
		if err := sess.Close(); err != nil {
			st.engine.log.Debug().Str("host", name).Err(err).Msg("session close failed")
		}
	}
}

func (st *runState) buildHostResults() {
	byName := make(map[string]*HostResult, len(st.hosts))
	st.hostResults = make([]*HostResult, 0, len(st.hosts))
	for _, h := range st.hosts {
		hr := &HostResult{Host: h.Name, Status: HostStatusOK}
		if st.unreachable[h.Name] {
			hr.Status = HostStatusUnreachable
		} else if st.isFailed(h.Name) {
			hr.Status = HostStatusFailed
		}
		hr.Error = st.failed[h.Name]
		hr.Duration = st.hostBusy[h.Name]
		byName[h.Name] = hr
		st.hostResults = append(st.hostResults, hr)
	}
	for _, rec := range st.records {
		hr, ok := byName[rec.Host]
		if !ok {
			continue
		}
		switch rec.Status {
		case OpStatusChanged:
			hr.OpsChanged++
		case OpStatusUnchanged:
			hr.OpsUnchanged++
		case OpStatusFailed:
			hr.OpsFailed++
		case OpStatusIgnored:
			hr.OpsIgnored++
		case OpStatusSkipped:
			hr.OpsSkipped++
		}
	}
}

func (st *runState) computeSummary() {
	s := RunSummary{
		Hosts:       len(st.hosts),
		Connected:   st.connected,
		Unreachable: len(st.unreachable),
		Failed:      len(st.failed),
		Changed:     len(st.changedHosts),
	}
	for _, rec := range st.records {
		s.Operations++
		s.Commands += rec.Commands
		if rec.Status == OpStatusSkipped {
			s.Skipped++
		}
	}
	st.run.Summary = s
}

func (st *runState) report() *Report {
	return &Report{
		Run:     *st.run,
		Hosts:   st.hostResults,
		Records: st.records,
	}
}

func (st *runState) publish(ctx context.Context, typ EventType, host, op, message string) {
	if st.engine.events == nil {
		return
	}
	ev := &Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Timestamp: time.Now().UTC(),
		RunID:     st.run.ID,
		Host:      host,
		Op:        op,
		Message:   message,
		Level:     typ.Severity(),
	}
	if err := st.engine.events.Publish(ctx, ev); err != nil {
		st.engine.log.Debug().Err(err).Msg("event publish failed")
	}
}

func (st *runState) saveRun(ctx context.Context) {
	if st.engine.recorder == nil {
		return
	}
	if err := st.engine.recorder.SaveRun(ctx, st.run); err != nil {
		st.engine.log.Warn().Err(err).Str("run_id", st.run.ID).Msg("run persistence failed")
	}
}

// saveNewRecords hands not-yet-persisted records to the recorder. It is
// called at step barriers and at finalize, so records land in plan
// order.
func (st *runState) saveNewRecords(ctx context.Context) {
	if st.engine.recorder == nil || st.saved >= len(st.records) {
		return
	}
	batch := st.records[st.saved:]
	if err := st.engine.recorder.SaveRecords(ctx, st.run.ID, batch); err != nil {
		st.engine.log.Warn().Err(err).Msg("record persistence failed")
	}
	st.saved = len(st.records)
}
