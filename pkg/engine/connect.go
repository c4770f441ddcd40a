package engine

import (
	"context"
	"sync"

	"github.com/shipshape-io/shipshape/pkg/facts"
	"github.com/shipshape-io/shipshape/pkg/inventory"
)

// connectResult carries one connection attempt back to the coordinator.
type connectResult struct {
	host *inventory.Host
	sess Session
	err  error
}

// connectAll opens sessions to every targeted host through the worker
// pool. The pool bound applies to connecting exactly as it does to
// command execution, so a large fleet never dials all at once.
func (st *runState) connectAll(ctx context.Context) {
	if len(st.hosts) == 0 {
		return
	}

	queue := make(chan *inventory.Host, len(st.hosts))
	for _, h := range st.hosts {
		queue <- h
	}
	close(queue)

	results := make(chan connectResult, len(st.hosts))
	workers := st.engine.cfg.Parallel
	if len(st.hosts) < workers {
		workers = len(st.hosts)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for host := range queue {
				results <- st.connectOne(ctx, host)
			}
		}()
	}
	wg.Wait()
	close(results)

	for res := range results {
		name := res.host.Name
		if res.err != nil {
			reason := NewConnectionError("connect failed", res.err).WithHost(name).Error()
			st.unreachable[name] = true
			st.fail(name, reason, stepNone)
			st.engine.log.Warn().Str("host", name).Err(res.err).Msg("host unreachable")
			st.publish(ctx, EventHostUnreachable, name, "", reason)
			continue
		}
		st.sessions[name] = res.sess
		st.views[name] = facts.NewHostView(st.cache, res.sess, name)
		st.connected++
		st.engine.log.Debug().Str("host", name).Msg("host connected")
		st.publish(ctx, EventHostConnected, name, "", "connected")
	}
}

func (st *runState) connectOne(ctx context.Context, host *inventory.Host) connectResult {
	if t := st.engine.cfg.ConnectTimeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	sess, err := st.engine.connector.Connect(ctx, host)
	return connectResult{host: host, sess: sess, err: err}
}
