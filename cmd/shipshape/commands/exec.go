package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shipshape-io/shipshape/pkg/engine"
	"github.com/shipshape-io/shipshape/pkg/ops"
	"github.com/shipshape-io/shipshape/pkg/ops/builtin"
	"github.com/shipshape-io/shipshape/pkg/plan"
	"github.com/shipshape-io/shipshape/pkg/policy"
)

func newExecCommand() *cobra.Command {
	var (
		parallel       int
		failPercent    int
		connectTimeout time.Duration
		commandTimeout time.Duration
		sudo           bool
		sudoUser       string
		dry            bool
		historyDB      string
		policyDirs     []string
		allowSudoProd  bool
		maxTargets     int
	)

	cmd := &cobra.Command{
		Use:   "exec -- <command>",
		Short: "Run an ad-hoc command across the selection",
		Long: `Run one shell command on every selected host through the engine: the
command becomes a single-step plan, passes the policy gate, and executes
with the same parallelism, fail-percent, and history recording as a
deploy. Shell commands always count as a change.`,
		Example: `  # Check disk usage across the web group
  shipshape exec --limit web -- df -h /

  # Restart a service fleet-wide, 5 hosts at a time
  shipshape exec --parallel 5 --sudo -- systemctl restart nginx`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := strings.Join(args, " ")
			ctx := cmd.Context()

			tel, err := newTelemetry("")
			if err != nil {
				return err
			}
			defer shutdownTelemetry(tel)

			runCfg, err := runConfigFromFlags(cmd, "", parallel, failPercent, connectTimeout, commandTimeout)
			if err != nil {
				return err
			}

			inv, _, err := loadInventory()
			if err != nil {
				return err
			}
			b := plan.NewBuilder(inv, builtin.Registry())
			if limitSelector != "" {
				if b, err = b.Limit(limitSelector); err != nil {
					return err
				}
			}

			opts := []ops.Option{ops.WithName(command)}
			if sudo {
				opts = append(opts, ops.WithSudo())
			}
			if sudoUser != "" {
				opts = append(opts, ops.WithSudoUser(sudoUser))
			}
			handle, err := b.Add("shell.run", ops.Args{"cmd": command}, opts...)
			if err != nil {
				return err
			}
			p, err := b.Build()
			if err != nil {
				return err
			}

			policyEng, err := newPolicyEngine(ctx, tel, policyDirs)
			if err != nil {
				return err
			}
			err = policyGate(ctx, policyEng, p, policy.RunInput{
				Parallel:            runCfg.Parallel,
				FailPercent:         runCfg.FailPercent,
				Dry:                 dry,
				AllowSudoProduction: allowSudoProd,
				MaxTargets:          maxTargets,
			}, cmd.ErrOrStderr())
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

			engOpts := engine.Options{
				Run:    runCfg,
				Events: tel.Events,
				Logger: tel.Logger.Component("engine").Zerolog(),
				Dry:    dry,
			}
			if store != nil {
				engOpts.Recorder = store
			}
			eng, err := engine.New(newConnector(tel, runCfg), engOpts)
			if err != nil {
				return err
			}

			tel.Metrics.RecordRunStarted(dry)
			report, runErr := eng.Execute(ctx, p)
			if report != nil {
				tel.Metrics.RecordReport(report)
				out := cmd.OutOrStdout()
				if jsonOutput {
					_ = engine.WriteJSON(out, report)
				} else {
					// Per-host command output first, then the summary.
					for _, rec := range report.Records {
						fmt.Fprintf(out, "--- %s (%s", rec.Host, rec.Status)
						if rec.Status == engine.OpStatusFailed {
							fmt.Fprintf(out, ", exit %d", rec.ExitCode)
						}
						fmt.Fprintln(out, ")")
						if dry {
							for _, c := range handle.Commands(rec.Host) {
								fmt.Fprintf(out, "would run: %s\n", c.String())
							}
						}
						if rec.Output != "" {
							fmt.Fprintln(out, strings.TrimRight(rec.Output, "\n"))
						}
					}
					fmt.Fprintln(out)
					_ = engine.WriteText(out, report)
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
		},
	}

	cmd.Flags().IntVarP(&parallel, "parallel", "p", 10, "max hosts worked on concurrently")
	cmd.Flags().IntVar(&failPercent, "fail-percent", 100, "abort once more than this percentage of hosts failed")
	cmd.Flags().DurationVar(&connectTimeout, "connect-timeout", 10*time.Second, "per-host connection timeout")
	cmd.Flags().DurationVar(&commandTimeout, "timeout", 0, "per-command timeout (0 = unlimited)")
	cmd.Flags().BoolVar(&sudo, "sudo", false, "run the command with sudo")
	cmd.Flags().StringVar(&sudoUser, "sudo-user", "", "run the command as this user instead of root")
	cmd.Flags().BoolVar(&dry, "dry", false, "show what would run without executing")
	cmd.Flags().StringVar(&historyDB, "history-db", "shipshape.db", "run history database path (empty disables history)")
	cmd.Flags().StringArrayVar(&policyDirs, "policy-dir", nil, "directory of additional Rego policies (repeatable)")
	cmd.Flags().BoolVar(&allowSudoProd, "allow-sudo-production", false, "lift the builtin policy against sudo on production hosts")
	cmd.Flags().IntVar(&maxTargets, "max-targets", 0, "override the builtin target ceiling (0 = policy default)")

	return cmd
}
