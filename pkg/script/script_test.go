package script

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/shipshape-io/shipshape/pkg/engine"
	"github.com/shipshape-io/shipshape/pkg/hooks"
	"github.com/shipshape-io/shipshape/pkg/inventory"
	"github.com/shipshape-io/shipshape/pkg/ops"
	"github.com/shipshape-io/shipshape/pkg/plan"
)

type stubOp struct {
	name string
}

func (o stubOp) Name() string {
	return o.name
}

func (o stubOp) Commands(context.Context, *ops.Target) ([]ops.Command, error) {
	return nil, nil
}

func testBuilder(t *testing.T) *plan.Builder {
	t.Helper()
	inv, err := inventory.FromHosts([]*inventory.Host{
		{Name: "web-1", Groups: []string{"web"}},
		{Name: "web-2", Groups: []string{"web"}},
		{Name: "db-1", Groups: []string{"db"}},
	}, nil)
	if err != nil {
		t.Fatalf("FromHosts failed: %v", err)
	}
	reg := ops.NewRegistry()
	reg.MustRegister(stubOp{name: "shell.run"})
	reg.MustRegister(stubOp{name: "files.put"})
	reg.MustRegister(stubOp{name: "pkg.installed"})
	return plan.NewBuilder(inv, reg)
}

func eval(t *testing.T, b *plan.Builder, reg *hooks.Registry, src string) error {
	t.Helper()
	ev := NewEvaluator(Options{})
	return ev.Exec(context.Background(), "deploy.star", []byte(src), b, reg)
}

func mustEval(t *testing.T, b *plan.Builder, reg *hooks.Registry, src string) {
	t.Helper()
	if err := eval(t, b, reg, src); err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
}

func TestExecRegistersOperations(t *testing.T) {
	b := testBuilder(t)
	mustEval(t, b, hooks.NewRegistry(), `
shell.run(cmd="uptime", name="Check uptime")
files.put(src="./motd", dest="/etc/motd")
`)

	p, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(p.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(p.Steps))
	}

	first := p.Steps[0]
	if first.OpName != "shell.run" || first.Name != "Check uptime" || first.Order != 0 {
		t.Errorf("unexpected first step: %+v", first)
	}
	if got := first.Args.StringOr("cmd", ""); got != "uptime" {
		t.Errorf("cmd arg = %q, want %q", got, "uptime")
	}

	second := p.Steps[1]
	if second.OpName != "files.put" || second.Order != 1 {
		t.Errorf("unexpected second step: %+v", second)
	}
	if got := second.Args.StringOr("dest", ""); got != "/etc/motd" {
		t.Errorf("dest arg = %q, want %q", got, "/etc/motd")
	}
}

func TestExecRejectsPositionalArguments(t *testing.T) {
	err := eval(t, testBuilder(t), hooks.NewRegistry(), `shell.run("uptime")`)
	if err == nil {
		t.Fatal("expected error for positional argument")
	}
	if !engine.IsConfigError(err) {
		t.Errorf("expected config error, got %v", err)
	}
}

func TestReservedKeywordsBecomeOptions(t *testing.T) {
	b := testBuilder(t)
	mustEval(t, b, hooks.NewRegistry(), `
shell.run(cmd="apt-get update", _sudo=True, _ignore_errors=True, _timeout=90)
files.put(src="a", dest="b", _sudo_user="deploy")
`)

	p, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	cfg := p.Steps[0].Config
	if !cfg.Sudo || !cfg.IgnoreErrors || cfg.Timeout != 90*time.Second {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if _, ok := p.Steps[0].Args["_sudo"]; ok {
		t.Error("reserved keyword leaked into the argument map")
	}

	cfg = p.Steps[1].Config
	if !cfg.Sudo || cfg.SudoUser != "deploy" {
		t.Errorf("unexpected sudo user config: %+v", cfg)
	}
}

func TestLimitScopesRegistrations(t *testing.T) {
	b := testBuilder(t)
	mustEval(t, b, hooks.NewRegistry(), `
def web_tier():
    shell.run(cmd="systemctl reload nginx")

shell.run(cmd="uptime")
limit("web", web_tier)
shell.run(cmd="date")
`)

	p, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(p.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(p.Steps))
	}

	all := []string{"web-1", "web-2", "db-1"}
	web := []string{"web-1", "web-2"}
	if !reflect.DeepEqual(p.Steps[0].Hosts, all) {
		t.Errorf("step 0 hosts = %v, want %v", p.Steps[0].Hosts, all)
	}
	if !reflect.DeepEqual(p.Steps[1].Hosts, web) {
		t.Errorf("step 1 hosts = %v, want %v", p.Steps[1].Hosts, web)
	}
	if !reflect.DeepEqual(p.Steps[2].Hosts, all) {
		t.Errorf("step 2 hosts = %v, want %v", p.Steps[2].Hosts, all)
	}
}

func TestNestedLimitsIntersect(t *testing.T) {
	b := testBuilder(t)
	mustEval(t, b, hooks.NewRegistry(), `
def inner():
    shell.run(cmd="true")

def outer():
    limit("web-1", inner)

limit("web", outer)
`)

	p, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	want := []string{"web-1"}
	if !reflect.DeepEqual(p.Steps[0].Hosts, want) {
		t.Errorf("step hosts = %v, want %v", p.Steps[0].Hosts, want)
	}
}

func TestLimitUnknownSelectorFails(t *testing.T) {
	err := eval(t, testBuilder(t), hooks.NewRegistry(), `
def noop():
    pass

limit("no-such-group", noop)
`)
	if err == nil {
		t.Fatal("expected error for unknown selector")
	}
	if !engine.IsConfigError(err) {
		t.Errorf("expected config error, got %v", err)
	}
}

func TestDataProducesLateBoundRefs(t *testing.T) {
	b := testBuilder(t)
	mustEval(t, b, hooks.NewRegistry(), `
files.put(src="nginx.conf", dest=data("nginx_conf_path"), mode=data("file_mode", default="0644"))
`)

	p, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	args := p.Steps[0].Args

	ref, ok := args["dest"].(inventory.Ref)
	if !ok {
		t.Fatalf("dest = %T, want inventory.Ref", args["dest"])
	}
	if ref.Key != "nginx_conf_path" || ref.Default != nil {
		t.Errorf("unexpected ref: %+v", ref)
	}

	ref, ok = args["mode"].(inventory.Ref)
	if !ok {
		t.Fatalf("mode = %T, want inventory.Ref", args["mode"])
	}
	if ref.Key != "file_mode" || ref.Default != "0644" {
		t.Errorf("unexpected ref: %+v", ref)
	}
}

func TestHookRegistration(t *testing.T) {
	reg := hooks.NewRegistry()
	mustEval(t, testBuilder(t), reg, `
def announce(snap):
    print("deploying to %d hosts" % len(snap["hosts"]))

hook("before_deploy", "announce", announce)
`)

	names := reg.Names(hooks.PointBeforeDeploy)
	if len(names) != 1 || names[0] != "announce" {
		t.Fatalf("registered hooks = %v, want [announce]", names)
	}
}

func TestHookDispatchRunsCallback(t *testing.T) {
	var buf bytes.Buffer
	ev := NewEvaluator(Options{Logger: zerolog.New(&buf)})
	b := testBuilder(t)
	reg := hooks.NewRegistry()
	err := ev.Exec(context.Background(), "deploy.star", []byte(`
def announce(snap):
    print("run " + snap["run_id"] + " at " + snap["point"])

hook("before_deploy", "announce", announce)
`), b, reg)
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}

	snap := hooks.Snapshot{RunID: "r-1", Hosts: []string{"web-1"}}
	if err := reg.Dispatch(context.Background(), hooks.PointBeforeDeploy, snap); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("run r-1 at before_deploy")) {
		t.Errorf("hook output missing from log: %s", buf.String())
	}
}

func TestFailInHookAbortsRun(t *testing.T) {
	reg := hooks.NewRegistry()
	mustEval(t, testBuilder(t), reg, `
def gate(snap):
    if len(snap["failed"]) > 0:
        fail("refusing to deploy with failed hosts")

hook("before_deploy", "gate", gate)
`)

	snap := hooks.Snapshot{Failed: []string{"db-1"}}
	err := reg.Dispatch(context.Background(), hooks.PointBeforeDeploy, snap)
	if !errors.Is(err, hooks.ErrAbort) {
		t.Fatalf("expected hook abort, got %v", err)
	}

	if err := reg.Dispatch(context.Background(), hooks.PointBeforeDeploy, hooks.Snapshot{}); err != nil {
		t.Errorf("hook failed on clean snapshot: %v", err)
	}
}

func TestFailAtTopLevelFailsEvaluation(t *testing.T) {
	err := eval(t, testBuilder(t), hooks.NewRegistry(), `fail("unsupported platform")`)
	if err == nil {
		t.Fatal("expected evaluation failure")
	}
	if !engine.IsConfigError(err) {
		t.Errorf("expected config error, got %v", err)
	}
	var engErr *engine.EngineError
	if !errors.As(err, &engErr) || engErr.Message != "script failed: unsupported platform" {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestScriptErrorCarriesBacktrace(t *testing.T) {
	err := eval(t, testBuilder(t), hooks.NewRegistry(), `
def broken():
    return 1 // 0

broken()
`)
	if err == nil {
		t.Fatal("expected evaluation failure")
	}
	var engErr *engine.EngineError
	if !errors.As(err, &engErr) {
		t.Fatalf("expected EngineError, got %T", err)
	}
	bt, ok := engErr.Details["backtrace"].(string)
	if !ok || bt == "" {
		t.Errorf("expected backtrace detail, got %v", engErr.Details)
	}
}

func TestUnknownOperationFails(t *testing.T) {
	err := eval(t, testBuilder(t), hooks.NewRegistry(), `docker.container(name="web")`)
	if err == nil {
		t.Fatal("expected evaluation failure")
	}
	if !engine.IsConfigError(err) {
		t.Errorf("expected config error, got %v", err)
	}
}

func TestEvaluationTimeout(t *testing.T) {
	ev := NewEvaluator(Options{Timeout: 50 * time.Millisecond})
	b := testBuilder(t)
	err := ev.Exec(context.Background(), "deploy.star", []byte(`
total = 0
for i in range(1000 * 1000 * 1000 * 1000):
    total += i
`), b, hooks.NewRegistry())
	if err == nil {
		t.Fatal("expected timeout")
	}
	if !engine.IsConfigError(err) {
		t.Errorf("expected config error, got %v", err)
	}
}

func TestContextCancellationStopsEvaluation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ev := NewEvaluator(Options{})
	err := ev.Exec(ctx, "deploy.star", []byte(`
total = 0
for i in range(1000 * 1000 * 1000 * 1000):
    total += i
`), testBuilder(t), hooks.NewRegistry())
	if err == nil {
		t.Fatal("expected cancellation")
	}
}

func TestDataInsideListArgument(t *testing.T) {
	b := testBuilder(t)
	mustEval(t, b, hooks.NewRegistry(), `
pkg.installed(packages=["nginx", data("extra_pkg", default="curl")])
`)

	p, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	list, ok := p.Steps[0].Args["packages"].([]any)
	if !ok || len(list) != 2 {
		t.Fatalf("packages = %#v, want 2-element list", p.Steps[0].Args["packages"])
	}
	if list[0] != "nginx" {
		t.Errorf("first element = %v, want nginx", list[0])
	}
	if ref, ok := list[1].(inventory.Ref); !ok || ref.Key != "extra_pkg" {
		t.Errorf("second element = %#v, want extra_pkg ref", list[1])
	}
}
