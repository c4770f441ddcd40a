package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Persistent flags shared by every subcommand.
	inventoryPath string
	groupDataDir  string
	limitSelector string
	dataOverrides []string
	defaultUser   string
	logLevel      string
	jsonOutput    bool

	// Build information, set by Execute.
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, date string) error {
	buildVersion, buildCommit, buildDate = version, commit, date
	rootCmd := newRootCommand(version, commit, date)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, date string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "shipshape",
		Short: "Shipshape - fleet state reconciliation engine",
		Long: `Shipshape turns a Starlark deploy script and a YAML inventory into an
ordered plan of operations, then reconciles every targeted host against
it over SSH (or locally for the control host itself).

Operations diff the host's current state against the declared one and
only run the commands that close the gap: a host that is already in
shape produces no changes. Runs proceed step by step across the fleet,
host failures are tolerated up to a configurable percentage, and every
run can be recorded to a local history database.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&inventoryPath, "inventory", "i", "inventory.yml", "inventory file path")
	rootCmd.PersistentFlags().StringVar(&groupDataDir, "group-data", "", "directory of CUE group data files")
	rootCmd.PersistentFlags().StringVarP(&limitSelector, "limit", "l", "", "restrict targets to hosts matching the selector (group names, host names, * globs, comma-separated)")
	rootCmd.PersistentFlags().StringArrayVar(&dataOverrides, "data", nil, "run-level data override (key=value, repeatable)")
	rootCmd.PersistentFlags().StringVar(&defaultUser, "user", "", "default login user for hosts that do not set one")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newExecCommand())
	rootCmd.AddCommand(newFactCommand())
	rootCmd.AddCommand(newInventoryCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, date))

	return rootCmd
}
