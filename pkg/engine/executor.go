package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shipshape-io/shipshape/pkg/ops"
	"github.com/shipshape-io/shipshape/pkg/plan"
)

// maxOutputTail bounds how much failing-command output a record keeps.
const maxOutputTail = 2048

// stepResult carries one (step, host) outcome back to the coordinator.
type stepResult struct {
	host   string
	record *Record
	failed bool
}

// runStep drives one plan step to its barrier. Live targeted hosts diff
// and execute on the worker pool; hosts already excluded get a skipped
// record without any remote work. The coordinator resumes only after
// every targeted host reached a terminal result for this step.
func (st *runState) runStep(ctx context.Context, idx int, step *plan.Step) {
	var live, skipped []string
	for _, h := range st.hosts {
		if !step.Targets(h.Name) {
			continue
		}
		if st.isFailed(h.Name) {
			skipped = append(skipped, h.Name)
			continue
		}
		live = append(live, h.Name)
	}

	st.engine.log.Info().
		Str("run_id", st.run.ID).
		Str("op", step.Name).
		Int("order", step.Order).
		Int("hosts", len(live)).
		Int("skipped", len(skipped)).
		Msg("step starting")
	st.publish(ctx, EventStepStarted, "", step.Name,
		fmt.Sprintf("step %d starting on %d hosts", step.Order, len(live)))

	now := time.Now().UTC()
	for _, name := range skipped {
		st.records = append(st.records, &Record{
			Order:     step.Order,
			Op:        step.OpName,
			Name:      step.Name,
			Host:      name,
			Status:    OpStatusSkipped,
			StartedAt: now,
		})
	}

	if len(live) > 0 {
		queue := make(chan string, len(live))
		for _, name := range live {
			queue <- name
		}
		close(queue)

		results := make(chan stepResult, len(live))
		workers := st.engine.cfg.Parallel
		if len(live) < workers {
			workers = len(live)
		}

		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for name := range queue {
					results <- st.runStepOnHost(ctx, step, name)
				}
			}()
		}
		wg.Wait()
		close(results)

		// The barrier: every result is in. Results arrive in completion
		// order; restore inventory order before recording.
		collected := make([]stepResult, 0, len(live))
		for res := range results {
			collected = append(collected, res)
		}
		sort.Slice(collected, func(i, j int) bool {
			return st.hostIndex[collected[i].host] < st.hostIndex[collected[j].host]
		})

		for _, res := range collected {
			rec := res.record
			st.records = append(st.records, rec)
			st.hostBusy[res.host] += rec.Duration
			if rec.Status == OpStatusChanged {
				st.changedHosts[res.host] = true
			}
			if res.failed {
				st.fail(res.host, rec.Error, idx)
				st.engine.log.Error().
					Str("host", res.host).
					Str("op", step.Name).
					Str("reason", rec.Error).
					Msg("host failed")
				st.publish(ctx, EventHostFailed, res.host, step.Name, rec.Error)
				continue
			}
			st.engine.log.Debug().
				Str("host", res.host).
				Str("op", step.Name).
				Str("status", string(rec.Status)).
				Int("commands", rec.Commands).
				Msg("step finished on host")
		}
	}

	st.saveNewRecords(ctx)
	st.publish(ctx, EventStepCompleted, "", step.Name,
		fmt.Sprintf("step %d completed", step.Order))
}

// runStepOnHost diffs and executes one step on one host. Runs on a
// worker goroutine: it may touch the host's exclusive session, the
// fact cache, and the step handle, never the run counters.
func (st *runState) runStepOnHost(ctx context.Context, step *plan.Step, name string) stepResult {
	start := time.Now().UTC()
	rec := &Record{
		Order:     step.Order,
		Op:        step.OpName,
		Name:      step.Name,
		Host:      name,
		StartedAt: start,
	}
	res := stepResult{host: name, record: rec}
	defer func() { rec.Duration = time.Since(start) }()

	target := &ops.Target{
		Host:  st.hostsByName[name],
		Facts: st.views[name],
		Args:  step.Args.Resolved(st.plan.Inventory(), name),
	}
	cmds, err := step.Operation().Commands(ctx, target)
	if err != nil {
		ferr := NewFactError("diff failed", err).WithHost(name).WithOp(step.Name)
		rec.Error = ferr.Error()
		if step.Config.IgnoreErrors {
			rec.Status = OpStatusIgnored
		} else {
			rec.Status = OpStatusFailed
			res.failed = true
		}
		return res
	}
	step.Handle().Record(name, cmds)

	if len(cmds) == 0 {
		rec.Status = OpStatusUnchanged
		return res
	}
	if st.engine.dry {
		// Proposed commands are counted, never sent.
		rec.Status = OpStatusChanged
		rec.Commands = len(cmds)
		return res
	}

	sess := st.sessions[name]
	var tolerated bool
	for i, raw := range cmds {
		if err := ctx.Err(); err != nil {
			rec.Error = NewCommandError("run cancelled", err).WithHost(name).WithOp(step.Name).Error()
			rec.Status = OpStatusFailed
			res.failed = true
			return res
		}
		cmd := mergeCommand(raw, step.Config)
		exit, output, err := st.execCommand(ctx, sess, cmd)
		rec.Commands++
		if err == nil {
			continue
		}
		cerr := NewCommandError(fmt.Sprintf("command %d/%d failed", i+1, len(cmds)), err).
			WithHost(name).
			WithOp(step.Name).
			WithDetail("command", cmd.String())
		if step.Config.IgnoreErrors {
			// Tolerated: remaining commands still run, the first
			// failure is what the record reports.
			if !tolerated {
				tolerated = true
				rec.Error = cerr.Error()
				rec.ExitCode = exit
				rec.Output = output
			}
			continue
		}
		rec.Error = cerr.Error()
		rec.ExitCode = exit
		rec.Output = output
		rec.Status = OpStatusFailed
		res.failed = true
		return res
	}

	if tolerated {
		rec.Status = OpStatusIgnored
	} else {
		rec.Status = OpStatusChanged
	}
	return res
}

// execCommand runs one command spec through the session, applying the
// per-command deadline. The returned error is non-nil for transport
// failures and non-zero exits alike.
func (st *runState) execCommand(ctx context.Context, sess Session, cmd ops.Command) (exit int, output string, err error) {
	if t := commandTimeout(cmd, st.engine.cfg.CommandTimeout); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	if cmd.Upload != nil {
		if err := sess.Upload(ctx, cmd.Upload.LocalPath, cmd.Upload.RemotePath); err != nil {
			return 0, "", err
		}
		return 0, "", nil
	}

	result, err := sess.Run(ctx, cmd)
	if err != nil {
		return 0, "", err
	}
	if !result.Success() {
		return result.ExitCode, outputTail(result), fmt.Errorf("exit status %d", result.ExitCode)
	}
	return 0, "", nil
}

// mergeCommand folds registration-level config into one command spec.
// Command-level settings win where both are present.
func mergeCommand(cmd ops.Command, cfg ops.Config) ops.Command {
	if cfg.Sudo {
		cmd.Sudo = true
	}
	if cmd.Sudo && cmd.SudoUser == "" {
		cmd.SudoUser = cfg.SudoUser
	}
	if cmd.Timeout <= 0 {
		cmd.Timeout = cfg.Timeout
	}
	return cmd
}

// commandTimeout picks the effective deadline: command, else run config.
func commandTimeout(cmd ops.Command, def time.Duration) time.Duration {
	if cmd.Timeout > 0 {
		return cmd.Timeout
	}
	return def
}

// outputTail keeps the end of the failing command's output, stderr
// preferred.
func outputTail(res *CommandResult) string {
	out := res.Stderr
	if out == "" {
		out = res.Stdout
	}
	if len(out) > maxOutputTail {
		out = out[len(out)-maxOutputTail:]
	}
	return out
}
