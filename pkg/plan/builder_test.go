package plan

import (
	"context"
	"testing"

	"github.com/shipshape-io/shipshape/pkg/inventory"
	"github.com/shipshape-io/shipshape/pkg/ops"
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

func testInventory(t *testing.T) *inventory.Inventory {
	t.Helper()
	inv, err := inventory.FromHosts([]*inventory.Host{
		{Name: "web-1", Groups: []string{"web"}},
		{Name: "web-2", Groups: []string{"web"}},
		{Name: "db-1", Groups: []string{"db"}},
	}, nil)
	if err != nil {
		t.Fatalf("FromHosts failed: %v", err)
	}
	return inv
}

func testRegistry(t *testing.T) *ops.Registry {
	t.Helper()
	reg := ops.NewRegistry()
	reg.MustRegister(stubOp{name: "noop.run"})
	reg.MustRegister(stubOp{name: "noop.other"})
	return reg
}

func TestAddNeverMerges(t *testing.T) {
	b := NewBuilder(testInventory(t), testRegistry(t))

	h1, err := b.Add("noop.run", ops.Args{"cmd": "uptime"})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	h2, err := b.Add("noop.run", ops.Args{"cmd": "uptime"})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	p, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(p.Steps) != 2 {
		t.Fatalf("identical registrations merged: %d steps", len(p.Steps))
	}
	if h1.Order() != 0 || h2.Order() != 1 {
		t.Errorf("order indices = %d, %d, want 0, 1", h1.Order(), h2.Order())
	}
}

func TestAddUnknownOperation(t *testing.T) {
	b := NewBuilder(testInventory(t), testRegistry(t))
	if _, err := b.Add("no.such.op", nil); err == nil {
		t.Fatal("expected error for unknown operation")
	}
	if b.Len() != 0 {
		t.Errorf("failed Add must not register a step, got %d", b.Len())
	}
}

func TestLimitNarrowsScope(t *testing.T) {
	b := NewBuilder(testInventory(t), testRegistry(t))

	web, err := b.Limit("web")
	if err != nil {
		t.Fatalf("Limit failed: %v", err)
	}
	if _, err := web.Add("noop.run", nil); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if _, err := b.Add("noop.other", nil); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	p, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	wantScoped := []string{"web-1", "web-2"}
	if got := p.Steps[0].Hosts; !equalStrings(got, wantScoped) {
		t.Errorf("limited step hosts = %v, want %v", got, wantScoped)
	}
	wantAll := []string{"web-1", "web-2", "db-1"}
	if got := p.Steps[1].Hosts; !equalStrings(got, wantAll) {
		t.Errorf("root step hosts = %v, want %v", got, wantAll)
	}
}

func TestNestedLimitsIntersect(t *testing.T) {
	b := NewBuilder(testInventory(t), testRegistry(t))

	web, err := b.Limit("web")
	if err != nil {
		t.Fatalf("Limit failed: %v", err)
	}
	one, err := web.Limit("web-1,db-1")
	if err != nil {
		t.Fatalf("nested Limit failed: %v", err)
	}
	if got := one.Hosts(); !equalStrings(got, []string{"web-1"}) {
		t.Errorf("intersected scope = %v, want [web-1]", got)
	}

	empty, err := web.Limit("db")
	if err != nil {
		t.Fatalf("disjoint Limit failed: %v", err)
	}
	if got := empty.Hosts(); len(got) != 0 {
		t.Errorf("disjoint intersection = %v, want empty", got)
	}

	if _, err := b.Limit("nosuchgroup"); err == nil {
		t.Error("expected error for selector matching nothing")
	}
}

func TestOrderSharedAcrossViews(t *testing.T) {
	b := NewBuilder(testInventory(t), testRegistry(t))
	web, err := b.Limit("web")
	if err != nil {
		t.Fatalf("Limit failed: %v", err)
	}

	b.MustAdd("noop.run", nil)
	web.MustAdd("noop.run", nil)
	b.MustAdd("noop.other", nil)

	p, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	for i, s := range p.Steps {
		if s.Order != i {
			t.Errorf("step %d has order %d", i, s.Order)
		}
	}
}

func TestBuildSealsBuilder(t *testing.T) {
	b := NewBuilder(testInventory(t), testRegistry(t))
	web, err := b.Limit("web")
	if err != nil {
		t.Fatalf("Limit failed: %v", err)
	}
	b.MustAdd("noop.run", nil)

	if _, err := b.Build(); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if _, err := b.Add("noop.run", nil); err == nil {
		t.Error("Add after Build must fail")
	}
	if _, err := web.Add("noop.run", nil); err == nil {
		t.Error("Add on a view after Build must fail")
	}
	if _, err := web.Limit("web"); err == nil {
		t.Error("Limit after Build must fail")
	}
	if _, err := b.Build(); err == nil {
		t.Error("second Build must fail")
	}
}

func TestDisplayName(t *testing.T) {
	b := NewBuilder(testInventory(t), testRegistry(t))
	plain := b.MustAdd("noop.run", nil)
	named := b.MustAdd("noop.run", nil, ops.WithName("Ensure uptime"))

	if plain.Name() != "noop.run" {
		t.Errorf("default display name = %q", plain.Name())
	}
	if named.Name() != "Ensure uptime" {
		t.Errorf("display name = %q", named.Name())
	}
}

func TestArgsCopiedAtRegistration(t *testing.T) {
	b := NewBuilder(testInventory(t), testRegistry(t))
	args := ops.Args{"cmd": "uptime"}
	b.MustAdd("noop.run", args)
	args["cmd"] = "mutated"

	p, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if got, _ := p.Steps[0].Args.String("cmd"); got != "uptime" {
		t.Errorf("step args leaked caller mutation: %q", got)
	}
}

func TestPlanHostsUnion(t *testing.T) {
	b := NewBuilder(testInventory(t), testRegistry(t))
	db, err := b.Limit("db")
	if err != nil {
		t.Fatalf("Limit failed: %v", err)
	}
	web, err := b.Limit("web-2")
	if err != nil {
		t.Fatalf("Limit failed: %v", err)
	}
	db.MustAdd("noop.run", nil)
	web.MustAdd("noop.run", nil)

	p, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !equalStrings(p.Hosts, []string{"web-2", "db-1"}) {
		t.Errorf("plan hosts = %v, want union in inventory order", p.Hosts)
	}
	if p.Targets("web-1") {
		t.Error("web-1 must not be targeted")
	}
	if got := p.StepsFor("db-1"); len(got) != 1 || got[0].Order != 0 {
		t.Errorf("StepsFor(db-1) = %v", got)
	}
}

func TestDocumentRendersRefs(t *testing.T) {
	b := NewBuilder(testInventory(t), testRegistry(t))
	b.MustAdd("noop.run", ops.Args{
		"cmd":  "uptime",
		"user": inventory.DataOr("deploy_user", "root"),
	}, ops.WithSudo())

	p, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	doc := p.Document()
	steps := doc["steps"].([]any)
	if len(steps) != 1 {
		t.Fatalf("document steps = %d", len(steps))
	}
	step := steps[0].(map[string]any)
	if step["op"] != "noop.run" {
		t.Errorf("document op = %v", step["op"])
	}
	cfg := step["config"].(map[string]any)
	if cfg["sudo"] != true {
		t.Error("document config lost sudo flag")
	}
	args := step["args"].(map[string]any)
	ref := args["user"].(map[string]any)
	if ref["$data"] != "deploy_user" || ref["default"] != "root" {
		t.Errorf("document ref = %v", ref)
	}
}

func equalStrings(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
