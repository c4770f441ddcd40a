package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/shipshape-io/shipshape/pkg/engine"
	"github.com/shipshape-io/shipshape/pkg/facts"
	"github.com/shipshape-io/shipshape/pkg/inventory"
)

// factResult carries one host's fact query back to the coordinator.
type factResult struct {
	host  string
	value any
	err   error
}

func newFactCommand() *cobra.Command {
	var (
		parallel       int
		connectTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "fact <kind> [args]",
		Short: "Query one fact across the selection",
		Long: `Connect to every selected host, query one fact, and print the value
per host. Parameterized facts take their argument as the second
positional: "fact file.stat /etc/nginx/nginx.conf".

Run "shipshape fact list" for the known kinds.`,
		Example: `  # Kernel versions across the fleet
  shipshape fact kernel

  # nginx state on the web group
  shipshape fact service.status nginx --limit web`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := args[0]
			var factArgs string
			if len(args) > 1 {
				factArgs = args[1]
			}
			ctx := cmd.Context()

			tel, err := newTelemetry("")
			if err != nil {
				return err
			}
			defer shutdownTelemetry(tel)

			catalog := facts.Catalog()
			if kind == "list" {
				return printFactKinds(cmd, catalog)
			}
			if _, err := catalog.Get(kind); err != nil {
				return err
			}

			runCfg, err := runConfigFromFlags(cmd, "", parallel, 100, connectTimeout, 0)
			if err != nil {
				return err
			}

			inv, _, err := loadInventory()
			if err != nil {
				return err
			}
			hosts, err := selectHosts(inv)
			if err != nil {
				return err
			}
			if len(hosts) == 0 {
				return fmt.Errorf("no hosts selected")
			}

			connector := newConnector(tel, runCfg)
			cache := facts.NewCache()

			queue := make(chan *inventory.Host, len(hosts))
			for _, h := range hosts {
				queue <- h
			}
			close(queue)

			results := make(chan factResult, len(hosts))
			workers := runCfg.Parallel
			if len(hosts) < workers {
				workers = len(hosts)
			}

			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for host := range queue {
						results <- queryHostFact(ctx, connector, cache, runCfg.ConnectTimeout, host, kind, factArgs)
					}
				}()
			}
			wg.Wait()
			close(results)

			byHost := make(map[string]factResult, len(hosts))
			for res := range results {
				byHost[res.host] = res
			}
			tel.Metrics.AddFactCacheStats(cache.Stats())

			out := cmd.OutOrStdout()
			failed := 0
			if jsonOutput {
				doc := make(map[string]any, len(hosts))
				for _, h := range hosts {
					res := byHost[h.Name]
					if res.err != nil {
						doc[h.Name] = map[string]any{"error": res.err.Error()}
						failed++
						continue
					}
					doc[h.Name] = res.value
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(doc); err != nil {
					return err
				}
			} else {
				for _, h := range hosts {
					res := byHost[h.Name]
					if res.err != nil {
						fmt.Fprintf(out, "%-24s error: %v\n", h.Name, res.err)
						failed++
						continue
					}
					fmt.Fprintf(out, "%-24s %s\n", h.Name, renderFactValue(res.value))
				}
			}
			if failed > 0 {
				return fmt.Errorf("fact query failed on %d of %d hosts", failed, len(hosts))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&parallel, "parallel", "p", 10, "max hosts queried concurrently")
	cmd.Flags().DurationVar(&connectTimeout, "connect-timeout", 10*time.Second, "per-host connection timeout")

	return cmd
}

func queryHostFact(ctx context.Context, connector engine.Connector, cache *facts.Cache, connectTimeout time.Duration, host *inventory.Host, kind, args string) factResult {
	cctx := ctx
	if connectTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, connectTimeout)
		defer cancel()
	}
	sess, err := connector.Connect(cctx, host)
	if err != nil {
		return factResult{host: host.Name, err: err}
	}
	defer sess.Close()

	view := facts.NewHostView(cache, sess, host.Name)
	value, err := view.Get(ctx, kind, args)
	return factResult{host: host.Name, value: value, err: err}
}

// printFactKinds lists the catalog.
func printFactKinds(cmd *cobra.Command, catalog *facts.Registry) error {
	kinds := catalog.Kinds()
	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(kinds)
	}
	for _, k := range kinds {
		fmt.Fprintln(out, k)
	}
	return nil
}

// renderFactValue keeps scalars bare and renders structured values as
// compact JSON.
func renderFactValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool, int, int64, float64, nil:
		return fmt.Sprint(val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}
