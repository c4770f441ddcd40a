package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shipshape-io/shipshape/pkg/config"
	"github.com/shipshape-io/shipshape/pkg/engine"
	"github.com/shipshape-io/shipshape/pkg/facts"
	"github.com/shipshape-io/shipshape/pkg/hooks"
	"github.com/shipshape-io/shipshape/pkg/inventory"
	"github.com/shipshape-io/shipshape/pkg/ops/builtin"
	"github.com/shipshape-io/shipshape/pkg/plan"
	"github.com/shipshape-io/shipshape/pkg/policy"
	"github.com/shipshape-io/shipshape/pkg/script"
	"github.com/shipshape-io/shipshape/pkg/stores"
	"github.com/shipshape-io/shipshape/pkg/telemetry"
	"github.com/shipshape-io/shipshape/pkg/transports"
	"github.com/shipshape-io/shipshape/pkg/transports/local"
	"github.com/shipshape-io/shipshape/pkg/transports/ssh"
)

// sudoPasswordEnv supplies the sudo password out of band; a flag would
// leak it into shell history and process listings.
const sudoPasswordEnv = "SHIPSHAPE_SUDO_PASSWORD"

// newTelemetry assembles the process telemetry from the persistent
// flags. A non-empty metricsAddr enables the Prometheus endpoint.
func newTelemetry(metricsAddr string) (*telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = buildVersion
	cfg.Logging.Level = logLevel
	if metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddress = metricsAddr
	}
	return telemetry.New(cfg)
}

// shutdownTelemetry drains the event bus and flushes the tracer with a
// bounded grace period.
func shutdownTelemetry(tel *telemetry.Telemetry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tel.Shutdown(ctx); err != nil {
		tel.Logger.WithError(err).Warn("telemetry shutdown incomplete")
	}
}

// parseDataOverrides turns repeated key=value flags into an override
// map. Values that parse as booleans or integers are typed; everything
// else stays a string.
func parseDataOverrides(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --data value %q, expected key=value", pair)
		}
		switch {
		case raw == "true" || raw == "false":
			out[key] = raw == "true"
		default:
			if n, err := strconv.Atoi(raw); err == nil {
				out[key] = n
			} else {
				out[key] = raw
			}
		}
	}
	return out, nil
}

// loadInventory reads the inventory named by the persistent flags and
// returns it together with the parsed override map.
func loadInventory() (*inventory.Inventory, map[string]any, error) {
	overrides, err := parseDataOverrides(dataOverrides)
	if err != nil {
		return nil, nil, err
	}
	inv, err := inventory.Load(inventoryPath, inventory.LoadOptions{
		GroupDataDir: groupDataDir,
		Overrides:    overrides,
		DefaultUser:  defaultUser,
	})
	if err != nil {
		return nil, nil, err
	}
	return inv, overrides, nil
}

// selectHosts applies the --limit selector, or returns every host.
func selectHosts(inv *inventory.Inventory) ([]*inventory.Host, error) {
	if limitSelector == "" {
		return inv.Hosts(), nil
	}
	return inv.Select(limitSelector)
}

// buildPlan evaluates the deploy script against a fresh builder and
// returns the sealed plan plus the hooks the script registered. The
// --limit selector narrows the builder before the script runs, so every
// registration scopes to the selection.
func buildPlan(ctx context.Context, tel *telemetry.Telemetry, inv *inventory.Inventory, scriptPath string) (*plan.Plan, *hooks.Registry, error) {
	b := plan.NewBuilder(inv, builtin.Registry())
	if limitSelector != "" {
		limited, err := b.Limit(limitSelector)
		if err != nil {
			return nil, nil, err
		}
		b = limited
	}

	reg := hooks.NewRegistry()
	ev := script.NewEvaluator(script.Options{
		Logger: tel.Logger.Component("script").Zerolog(),
	})
	if err := ev.ExecFile(ctx, scriptPath, b, reg); err != nil {
		return nil, nil, err
	}

	p, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	return p, reg, nil
}

// newConnector builds the fleet connector: ssh for inventory hosts,
// local for the reserved "@local" host, routed by name.
func newConnector(tel *telemetry.Telemetry, runCfg config.RunConfig) engine.Connector {
	catalog := facts.Catalog()
	sudoPassword := os.Getenv(sudoPasswordEnv)

	sshCfg := ssh.DefaultConfig()
	sshCfg.SudoPassword = sudoPassword
	if runCfg.ConnectTimeout > 0 {
		sshCfg.ConnectTimeout = runCfg.ConnectTimeout
	}

	return &transports.Router{
		Remote: ssh.New(ssh.Options{
			Config: sshCfg,
			Facts:  catalog,
			Logger: tel.Logger.Component("ssh").Zerolog(),
		}),
		Local: local.New(local.Options{
			Facts:        catalog,
			SudoPassword: sudoPassword,
			Logger:       tel.Logger.Component("local").Zerolog(),
		}),
	}
}

// runConfigFromFlags starts from the environment defaults and applies
// the flags the user actually set, so SHIPSHAPE_* variables hold unless
// overridden on the command line.
func runConfigFromFlags(cmd *cobra.Command, name string, parallel, failPercent int, connectTimeout, commandTimeout time.Duration) (config.RunConfig, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return cfg, err
	}
	cfg.Name = name
	if cmd.Flags().Changed("parallel") {
		cfg.Parallel = parallel
	}
	if cmd.Flags().Changed("fail-percent") {
		cfg.FailPercent = failPercent
	}
	if cmd.Flags().Changed("connect-timeout") {
		cfg.ConnectTimeout = connectTimeout
	}
	if cmd.Flags().Changed("timeout") {
		cfg.CommandTimeout = commandTimeout
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// newPolicyEngine builds the policy engine with the builtin rules plus
// any --policy-dir paths.
func newPolicyEngine(ctx context.Context, tel *telemetry.Telemetry, dirs []string) (*policy.Engine, error) {
	eng, err := policy.NewEngine(tel.Logger.Component("policy").Zerolog())
	if err != nil {
		return nil, err
	}
	if len(dirs) > 0 {
		if err := eng.LoadPaths(ctx, dirs); err != nil {
			return nil, err
		}
	}
	return eng, nil
}

// policyGate evaluates the plan against the policy engine and rejects
// it when any blocking violation remains. Warnings and violations are
// written to w.
func policyGate(ctx context.Context, eng *policy.Engine, p *plan.Plan, run policy.RunInput, w io.Writer) error {
	res, err := eng.EvaluatePlan(ctx, policy.BuildInput(p, run))
	if err != nil {
		return err
	}
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "policy warning: %s\n", warn)
	}
	for _, v := range res.Violations {
		if !v.Severity.Blocks() {
			fmt.Fprintf(w, "policy advisory [%s] %s\n", v.Policy, v.Message)
		}
	}
	if res.Allowed {
		return nil
	}
	for _, v := range res.Blocking() {
		fmt.Fprintf(w, "policy violation [%s] %s", v.Policy, v.Message)
		if v.Host != "" {
			fmt.Fprintf(w, " (host %s)", v.Host)
		}
		fmt.Fprintln(w)
	}
	return engine.NewConfigError("plan rejected by policy", res.Err())
}

// openStore opens (and migrates) the history database. An empty path
// disables history.
func openStore(ctx context.Context, tel *telemetry.Telemetry, path string) (*stores.SQLiteStore, error) {
	if path == "" {
		return nil, nil
	}
	cfg := stores.DefaultConfig()
	cfg.Path = path
	st := stores.NewSQLiteStore(cfg, tel.Logger.Zerolog())
	if err := st.Init(ctx); err != nil {
		return nil, err
	}
	if err := st.Migrate(); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}
