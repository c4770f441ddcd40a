package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newPlanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <script.star>",
		Short: "Build and print the plan without connecting anywhere",
		Long: `Evaluate the deploy script and print the ordered plan that a deploy
would execute. No connection is opened and no host is touched, so the
printed step list is exact: deploy runs the same registrations in the
same order.`,
		Example: `  # Show what a full deploy would run
  shipshape plan deploy.star

  # Plan for one group, as JSON
  shipshape plan deploy.star --limit web --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			tel, err := newTelemetry("")
			if err != nil {
				return err
			}
			defer shutdownTelemetry(tel)

			inv, _, err := loadInventory()
			if err != nil {
				return err
			}
			p, _, err := buildPlan(ctx, tel, inv, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(p.Document())
			}

			fmt.Fprintf(out, "plan %s (%d steps)\n", p.ID, len(p.Steps))
			fmt.Fprintf(out, "hosts (%d): %s\n\n", len(p.Hosts), strings.Join(p.Hosts, ", "))
			for _, s := range p.Steps {
				fmt.Fprintf(out, "%4d. %-18s %s", s.Order, s.OpName, s.Name)
				if s.Config.Sudo {
					fmt.Fprint(out, " [sudo]")
				}
				if len(s.Hosts) != len(p.Hosts) {
					fmt.Fprintf(out, "  (%d hosts)", len(s.Hosts))
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}

	return cmd
}
