package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/shipshape-io/shipshape/pkg/engine"
	"github.com/shipshape-io/shipshape/pkg/policy"
	"github.com/shipshape-io/shipshape/pkg/telemetry"
)

// watchDebounce coalesces fsnotify event bursts (editors fire several
// per save) into one redeploy.
const watchDebounce = 500 * time.Millisecond

func newDeployCommand() *cobra.Command {
	var (
		runName        string
		parallel       int
		failPercent    int
		connectTimeout time.Duration
		commandTimeout time.Duration
		dry            bool
		watch          bool
		stream         bool
		historyDB      string
		metricsAddr    string
		policyDirs     []string
		allowSudoProd  bool
		maxTargets     int
	)

	cmd := &cobra.Command{
		Use:   "deploy <script.star>",
		Short: "Evaluate a deploy script and reconcile the fleet against it",
		Long: `Evaluate a Starlark deploy script into an ordered plan and execute it
against every targeted host.

The run connects to the selection in parallel, then walks the plan step
by step: each operation diffs the host's current state against the
declared one and only runs commands where they differ. Hosts that fail
drop out of later steps; the run aborts once the failed percentage
exceeds --fail-percent.

Plans pass a policy gate before any connection is opened. Builtin rules
reject sudo against the production group and destructive shell commands;
--policy-dir adds custom Rego rules.`,
		Example: `  # Reconcile the whole inventory
  shipshape deploy deploy.star

  # Preview against the web group without touching anything
  shipshape deploy deploy.star --limit web --dry

  # Canary style: stop as soon as more than 10% of hosts fail
  shipshape deploy deploy.star --fail-percent 10

  # Re-run automatically whenever the script or inventory changes
  shipshape deploy deploy.star --watch --limit staging`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scriptPath := args[0]
			ctx := cmd.Context()

			tel, err := newTelemetry(metricsAddr)
			if err != nil {
				return err
			}
			defer shutdownTelemetry(tel)

			if srv := tel.StartMetricsServer(); srv != nil {
				defer func() {
					sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					_ = srv.Shutdown(sctx)
				}()
			}

			runCfg, err := runConfigFromFlags(cmd, runName, parallel, failPercent, connectTimeout, commandTimeout)
			if err != nil {
				return err
			}

			policyEng, err := newPolicyEngine(ctx, tel, policyDirs)
			if err != nil {
				return err
			}

			store, err := openStore(ctx, tel, historyDB)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}

			if stream {
				sw := engine.NewStreamWriter(cmd.OutOrStdout())
				tel.Events.Subscribe(func(e *engine.Event) {
					_ = sw.Publish(context.Background(), e)
				}, nil)
			}

			deployOnce := func(ctx context.Context) error {
				inv, _, err := loadInventory()
				if err != nil {
					return err
				}
				p, hookReg, err := buildPlan(ctx, tel, inv, scriptPath)
				if err != nil {
					return err
				}

				err = policyGate(ctx, policyEng, p, policy.RunInput{
					Name:                runCfg.Name,
					Parallel:            runCfg.Parallel,
					FailPercent:         runCfg.FailPercent,
					Dry:                 dry,
					AllowSudoProduction: allowSudoProd,
					MaxTargets:          maxTargets,
				}, cmd.ErrOrStderr())
				if err != nil {
					return err
				}

				opts := engine.Options{
					Run:    runCfg,
					Hooks:  hookReg,
					Events: tel.Events,
					Logger: tel.Logger.Component("engine").Zerolog(),
					Dry:    dry,
				}
				if store != nil {
					opts.Recorder = store
				}
				eng, err := engine.New(newConnector(tel, runCfg), opts)
				if err != nil {
					return err
				}

				tel.Metrics.RecordRunStarted(dry)
				report, runErr := eng.Execute(ctx, p)
				if report != nil {
					tel.Metrics.RecordReport(report)
					// The event stream already carried the timeline;
					// rendering the report on top would corrupt it.
					if !stream {
						out := cmd.OutOrStdout()
						if jsonOutput {
							_ = engine.WriteJSON(out, report)
						} else {
							_ = engine.WriteText(out, report)
						}
					}
				}
				if runErr != nil {
					return runErr
				}
				if report != nil {
					if bad := report.Run.Summary.Failed + report.Run.Summary.Unreachable; bad > 0 {
						return fmt.Errorf("%d of %d hosts failed", bad, report.Run.Summary.Hosts)
					}
				}
				return nil
			}

			if !watch {
				return deployOnce(ctx)
			}
			return watchAndDeploy(ctx, tel, scriptPath, deployOnce)
		},
	}

	cmd.Flags().StringVar(&runName, "name", "", "label for the run in logs and history")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 10, "max hosts worked on concurrently")
	cmd.Flags().IntVar(&failPercent, "fail-percent", 100, "abort once more than this percentage of hosts failed")
	cmd.Flags().DurationVar(&connectTimeout, "connect-timeout", 10*time.Second, "per-host connection timeout")
	cmd.Flags().DurationVar(&commandTimeout, "timeout", 0, "per-command timeout (0 = unlimited)")
	cmd.Flags().BoolVar(&dry, "dry", false, "connect and diff but run no commands")
	cmd.Flags().BoolVar(&watch, "watch", false, "redeploy whenever the script, inventory, or group data changes")
	cmd.Flags().BoolVar(&stream, "stream", false, "stream run events as NDJSON to stdout instead of the report")
	cmd.Flags().StringVar(&historyDB, "history-db", "shipshape.db", "run history database path (empty disables history)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address")
	cmd.Flags().StringArrayVar(&policyDirs, "policy-dir", nil, "directory of additional Rego policies (repeatable)")
	cmd.Flags().BoolVar(&allowSudoProd, "allow-sudo-production", false, "lift the builtin policy against sudo on production hosts")
	cmd.Flags().IntVar(&maxTargets, "max-targets", 0, "override the builtin target ceiling (0 = policy default)")

	return cmd
}

// watchAndDeploy deploys once, then redeploys on changes to the script,
// the inventory file, or the group data directory until the context is
// cancelled. Deploy failures are logged, not fatal: the next change gets
// a fresh attempt.
func watchAndDeploy(ctx context.Context, tel *telemetry.Telemetry, scriptPath string, deployOnce func(context.Context) error) error {
	log := tel.Logger.Component("watch")

	runOnce := func() {
		if err := deployOnce(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("deploy failed")
		}
	}
	runOnce()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch parent directories, not the files: editors replace files on
	// save, which silently detaches a file-level watch.
	watched := map[string]bool{
		filepath.Clean(scriptPath):    true,
		filepath.Clean(inventoryPath): true,
	}
	dirs := map[string]bool{
		filepath.Dir(scriptPath):    true,
		filepath.Dir(inventoryPath): true,
	}
	if groupDataDir != "" {
		dirs[filepath.Clean(groupDataDir)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	relevant := func(name string) bool {
		name = filepath.Clean(name)
		if watched[name] {
			return true
		}
		return groupDataDir != "" &&
			filepath.Dir(name) == filepath.Clean(groupDataDir) &&
			filepath.Ext(name) == ".cue"
	}

	// The timer coalesces event bursts; the trigger channel serializes
	// deploys on this goroutine so two cannot overlap.
	trigger := make(chan struct{}, 1)
	var (
		mu      sync.Mutex
		pending *time.Timer
	)
	defer func() {
		mu.Lock()
		if pending != nil {
			pending.Stop()
		}
		mu.Unlock()
	}()

	log.Info("watching for changes, ctrl-c to stop")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-trigger:
			log.Info("change detected, redeploying")
			runOnce()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 || !relevant(event.Name) {
				continue
			}
			mu.Lock()
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(watchDebounce, func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			})
			mu.Unlock()
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(werr).Warn("watch error")
		}
	}
}
