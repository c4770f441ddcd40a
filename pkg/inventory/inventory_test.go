package inventory

import (
	"testing"
)

func TestFromHostsMembershipOrder(t *testing.T) {
	hosts := []*Host{{Name: "web-1", Groups: []string{"web", "monitoring"}}}
	groups := []*Group{
		{Name: "web"},
		{Name: "extra", Hosts: []string{"web-1"}},
	}

	inv, err := FromHosts(hosts, groups)
	if err != nil {
		t.Fatalf("FromHosts failed: %v", err)
	}

	h, ok := inv.Host("web-1")
	if !ok {
		t.Fatal("host missing after build")
	}

	// Explicit groups keep declaration order, group-side memberships
	// append after, the all group is always last.
	want := []string{"web", "monitoring", "extra", "all"}
	if len(h.Groups) != len(want) {
		t.Fatalf("groups = %v, want %v", h.Groups, want)
	}
	for i, g := range want {
		if h.Groups[i] != g {
			t.Errorf("groups[%d] = %q, want %q", i, h.Groups[i], g)
		}
	}
}

func TestFromHostsBackReferences(t *testing.T) {
	hosts := []*Host{
		{Name: "a", Groups: []string{"web"}},
		{Name: "b", Groups: []string{"web"}},
	}
	inv, err := FromHosts(hosts, nil)
	if err != nil {
		t.Fatalf("FromHosts failed: %v", err)
	}

	web, ok := inv.Group("web")
	if !ok {
		t.Fatal("group web was not materialized from host declarations")
	}
	if len(web.Hosts) != 2 || web.Hosts[0] != "a" || web.Hosts[1] != "b" {
		t.Errorf("web.Hosts = %v", web.Hosts)
	}

	allGroup, ok := inv.Group(AllGroup)
	if !ok {
		t.Fatal("all group missing")
	}
	if len(allGroup.Hosts) != 2 {
		t.Errorf("all group hosts = %v", allGroup.Hosts)
	}
}

func TestFromHostsDefaults(t *testing.T) {
	inv, err := FromHosts([]*Host{{Name: "h"}}, nil)
	if err != nil {
		t.Fatalf("FromHosts failed: %v", err)
	}

	h, _ := inv.Host("h")
	if h.Port != 22 {
		t.Errorf("default port = %d, want 22", h.Port)
	}
	if h.ConnectAddress() != "h" {
		t.Errorf("ConnectAddress = %q, want host name", h.ConnectAddress())
	}

	h2 := &Host{Name: "x", Address: "10.0.0.5"}
	if _, err := FromHosts([]*Host{h2}, nil); err != nil {
		t.Fatalf("FromHosts failed: %v", err)
	}
	if h2.ConnectAddress() != "10.0.0.5" {
		t.Errorf("ConnectAddress = %q, want 10.0.0.5", h2.ConnectAddress())
	}
}

func TestFromHostsRejectsDuplicates(t *testing.T) {
	if _, err := FromHosts([]*Host{{Name: "h"}, {Name: "h"}}, nil); err == nil {
		t.Error("expected error for duplicate host")
	}
	if _, err := FromHosts([]*Host{{Name: "h"}}, []*Group{{Name: "g"}, {Name: "g"}}); err == nil {
		t.Error("expected error for duplicate group")
	}
	if _, err := FromHosts([]*Host{{Name: ""}}, nil); err == nil {
		t.Error("expected error for empty host name")
	}
}

func TestSelect(t *testing.T) {
	hosts := []*Host{
		{Name: "web-1", Groups: []string{"web"}},
		{Name: "web-2", Groups: []string{"web"}},
		{Name: "db-1", Groups: []string{"db"}},
	}
	inv, err := FromHosts(hosts, nil)
	if err != nil {
		t.Fatalf("FromHosts failed: %v", err)
	}

	tests := []struct {
		selector string
		want     []string
	}{
		{"", []string{"web-1", "web-2", "db-1"}},
		{"all", []string{"web-1", "web-2", "db-1"}},
		{"web", []string{"web-1", "web-2"}},
		{"db-1", []string{"db-1"}},
		{"web-*", []string{"web-1", "web-2"}},
		{"db,web-1", []string{"web-1", "db-1"}},
	}

	for _, tt := range tests {
		got, err := inv.Select(tt.selector)
		if err != nil {
			t.Fatalf("Select(%q) failed: %v", tt.selector, err)
		}
		if len(got) != len(tt.want) {
			t.Fatalf("Select(%q) = %d hosts, want %d", tt.selector, len(got), len(tt.want))
		}
		for i, h := range got {
			if h.Name != tt.want[i] {
				t.Errorf("Select(%q)[%d] = %q, want %q", tt.selector, i, h.Name, tt.want[i])
			}
		}
	}
}

func TestSelectUnknownTerm(t *testing.T) {
	inv, err := FromHosts([]*Host{{Name: "h"}}, nil)
	if err != nil {
		t.Fatalf("FromHosts failed: %v", err)
	}

	if _, err := inv.Select("nope"); err == nil {
		t.Error("expected error for selector matching nothing")
	}
}
