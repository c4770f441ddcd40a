package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shipshape-io/shipshape/pkg/config"
	"github.com/shipshape-io/shipshape/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	var policyDirs []string

	cmd := &cobra.Command{
		Use:   "validate <script.star>",
		Short: "Check the script, inventory, and policies without executing",
		Long: `Load the inventory, evaluate the deploy script into a plan, compile the
policies, and run the policy gate against the plan. Nothing connects and
nothing executes; the exit status reports whether a deploy would get
past parsing and the policy gate.`,
		Example: `  shipshape validate deploy.star
  shipshape validate deploy.star --limit production --policy-dir policies/`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			tel, err := newTelemetry("")
			if err != nil {
				return err
			}
			defer shutdownTelemetry(tel)

			inv, _, err := loadInventory()
			if err != nil {
				return fmt.Errorf("inventory: %w", err)
			}
			fmt.Fprintf(out, "ok  inventory: %d hosts, %d groups (%s)\n",
				inv.Len(), len(inv.GroupNames()), inventoryPath)

			p, hookReg, err := buildPlan(ctx, tel, inv, args[0])
			if err != nil {
				return fmt.Errorf("script: %w", err)
			}
			fmt.Fprintf(out, "ok  script: %d steps, %d hooks (%s)\n",
				len(p.Steps), hookReg.Len(), args[0])

			policyEng, err := newPolicyEngine(ctx, tel, policyDirs)
			if err != nil {
				return fmt.Errorf("policies: %w", err)
			}
			fmt.Fprintf(out, "ok  policies: %d compiled\n", len(policyEng.List()))

			runCfg := config.DefaultRunConfig()
			gate := policy.RunInput{
				Parallel:    runCfg.Parallel,
				FailPercent: runCfg.FailPercent,
			}
			if err := policyGate(ctx, policyEng, p, gate, out); err != nil {
				return err
			}
			fmt.Fprintln(out, "ok  policy gate: plan allowed")
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&policyDirs, "policy-dir", nil, "directory of additional Rego policies (repeatable)")

	return cmd
}
