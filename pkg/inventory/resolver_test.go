package inventory

import (
	"testing"
)

// buildTestInventory creates a host that is a member of two data-bearing
// groups so precedence between levels can be exercised.
func buildTestInventory(t *testing.T) *Inventory {
	t.Helper()

	hosts := []*Host{
		{
			Name:   "web-1",
			Groups: []string{"g1", "g2"},
			Data:   map[string]any{"host_key": "from-host"},
		},
		{Name: "db-1", Groups: []string{"g2"}},
	}
	groups := []*Group{
		{Name: "g1", Data: map[string]any{"group_key": "from-g1", "shared": "g1-wins"}},
		{Name: "g2", Data: map[string]any{"group_key2": "from-g2", "shared": "g2-loses"}},
		{Name: "all", Data: map[string]any{"all_key": "from-all"}},
	}

	inv, err := FromHosts(hosts, groups)
	if err != nil {
		t.Fatalf("failed to build inventory: %v", err)
	}
	return inv
}

func TestResolvePrecedence(t *testing.T) {
	inv := buildTestInventory(t)
	inv.SetOverrides(map[string]any{"override_key": "from-override", "host_key": "override-wins"})

	tests := []struct {
		name   string
		key    string
		want   any
		wantOK bool
	}{
		{"override level", "override_key", "from-override", true},
		{"override beats host", "host_key", "override-wins", true},
		{"first group wins", "shared", "g1-wins", true},
		{"second group fallback", "group_key2", "from-g2", true},
		{"all group fallback", "all_key", "from-all", true},
		{"absent key", "no_such_key", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := inv.Resolve("web-1", tt.key)
			if ok != tt.wantOK {
				t.Fatalf("Resolve(%q) ok = %v, want %v", tt.key, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestResolveHostBeatsGroups(t *testing.T) {
	inv := buildTestInventory(t)

	got, ok := inv.Resolve("web-1", "host_key")
	if !ok || got != "from-host" {
		t.Errorf("Resolve(host_key) = %v, %v; want from-host, true", got, ok)
	}
}

func TestResolveFullChainOrder(t *testing.T) {
	// One key defined at every level; removing levels top-down must walk
	// the documented chain: override, host, G1, G2, all.
	hosts := []*Host{{
		Name:   "h",
		Groups: []string{"g1", "g2"},
		Data:   map[string]any{"k": "host"},
	}}
	groups := []*Group{
		{Name: "g1", Data: map[string]any{"k": "g1"}},
		{Name: "g2", Data: map[string]any{"k": "g2"}},
		{Name: "all", Data: map[string]any{"k": "all"}},
	}
	inv, err := FromHosts(hosts, groups)
	if err != nil {
		t.Fatalf("failed to build inventory: %v", err)
	}

	inv.SetOverrides(map[string]any{"k": "override"})
	assertResolve(t, inv, "k", "override")

	inv.SetOverrides(nil)
	assertResolve(t, inv, "k", "host")

	h, _ := inv.Host("h")
	delete(h.Data, "k")
	assertResolve(t, inv, "k", "g1")

	g1, _ := inv.Group("g1")
	delete(g1.Data, "k")
	assertResolve(t, inv, "k", "g2")

	g2, _ := inv.Group("g2")
	delete(g2.Data, "k")
	assertResolve(t, inv, "k", "all")

	allGroup, _ := inv.Group("all")
	delete(allGroup.Data, "k")
	if _, ok := inv.Resolve("h", "k"); ok {
		t.Error("expected absent after removing every level")
	}
}

func assertResolve(t *testing.T, inv *Inventory, key string, want any) {
	t.Helper()
	got, ok := inv.Resolve("h", key)
	if !ok {
		t.Fatalf("Resolve(%q) absent, want %v", key, want)
	}
	if got != want {
		t.Errorf("Resolve(%q) = %v, want %v", key, got, want)
	}
}

func TestResolveUnknownHost(t *testing.T) {
	inv := buildTestInventory(t)

	if _, ok := inv.Resolve("no-such-host", "host_key"); ok {
		t.Error("expected absent result for unknown host")
	}
}

func TestResolveSource(t *testing.T) {
	inv := buildTestInventory(t)
	inv.SetOverrides(map[string]any{"override_key": "v"})

	tests := []struct {
		key        string
		wantSource string
	}{
		{"override_key", "override"},
		{"host_key", "host"},
		{"shared", "group:g1"},
		{"all_key", "all"},
	}
	for _, tt := range tests {
		_, source, ok := inv.ResolveSource("web-1", tt.key)
		if !ok {
			t.Fatalf("ResolveSource(%q) absent", tt.key)
		}
		if source != tt.wantSource {
			t.Errorf("ResolveSource(%q) source = %q, want %q", tt.key, source, tt.wantSource)
		}
	}
}

func TestTypedResolvers(t *testing.T) {
	hosts := []*Host{{
		Name: "h",
		Data: map[string]any{
			"str":       "value",
			"int":       42,
			"int64":     int64(7),
			"float":     float64(8),
			"frac":      3.5,
			"flag":      true,
			"list":      []any{"a", "b"},
			"bad_list":  []any{"a", 1},
			"str_slice": []string{"x"},
		},
	}}
	inv, err := FromHosts(hosts, nil)
	if err != nil {
		t.Fatalf("failed to build inventory: %v", err)
	}

	if s, ok := inv.ResolveString("h", "str"); !ok || s != "value" {
		t.Errorf("ResolveString = %q, %v", s, ok)
	}
	if _, ok := inv.ResolveString("h", "int"); ok {
		t.Error("ResolveString accepted an int")
	}
	if n, ok := inv.ResolveInt("h", "int"); !ok || n != 42 {
		t.Errorf("ResolveInt = %d, %v", n, ok)
	}
	if n, ok := inv.ResolveInt("h", "int64"); !ok || n != 7 {
		t.Errorf("ResolveInt(int64) = %d, %v", n, ok)
	}
	if n, ok := inv.ResolveInt("h", "float"); !ok || n != 8 {
		t.Errorf("ResolveInt(whole float) = %d, %v", n, ok)
	}
	if _, ok := inv.ResolveInt("h", "frac"); ok {
		t.Error("ResolveInt accepted a fractional float")
	}
	if b, ok := inv.ResolveBool("h", "flag"); !ok || !b {
		t.Errorf("ResolveBool = %v, %v", b, ok)
	}
	if list, ok := inv.ResolveStringSlice("h", "list"); !ok || len(list) != 2 || list[0] != "a" {
		t.Errorf("ResolveStringSlice = %v, %v", list, ok)
	}
	if _, ok := inv.ResolveStringSlice("h", "bad_list"); ok {
		t.Error("ResolveStringSlice accepted mixed element types")
	}
	if list, ok := inv.ResolveStringSlice("h", "str_slice"); !ok || len(list) != 1 {
		t.Errorf("ResolveStringSlice([]string) = %v, %v", list, ok)
	}
}

func TestResolveValueRefs(t *testing.T) {
	hosts := []*Host{{Name: "h", Data: map[string]any{"port": 8080}}}
	inv, err := FromHosts(hosts, nil)
	if err != nil {
		t.Fatalf("failed to build inventory: %v", err)
	}

	if got := inv.ResolveValue("h", Data("port")); got != 8080 {
		t.Errorf("ResolveValue(Ref) = %v, want 8080", got)
	}
	if got := inv.ResolveValue("h", DataOr("missing", "fallback")); got != "fallback" {
		t.Errorf("ResolveValue(Ref default) = %v, want fallback", got)
	}
	if got := inv.ResolveValue("h", Data("missing")); got != nil {
		t.Errorf("ResolveValue(Ref no default) = %v, want nil", got)
	}
	if got := inv.ResolveValue("h", "plain"); got != "plain" {
		t.Errorf("ResolveValue(plain) = %v", got)
	}

	nested := map[string]any{"ports": []any{Data("port"), 22}}
	resolved, ok := inv.ResolveValue("h", nested).(map[string]any)
	if !ok {
		t.Fatal("nested resolution did not return a map")
	}
	ports, ok := resolved["ports"].([]any)
	if !ok || ports[0] != 8080 || ports[1] != 22 {
		t.Errorf("nested ref resolution = %v", resolved)
	}
}
