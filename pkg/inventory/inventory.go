package inventory

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// AllGroup is the implicit group every host belongs to. It is always the
// last entry in a host's membership order.
const AllGroup = "all"

// Host represents one managed machine in the inventory.
//
// Fields are populated at load time and must be treated as read-only
// afterwards; the engine and resolver share Host values across workers.
type Host struct {
	// Name is the unique inventory identity of the host.
	Name string `json:"name" yaml:"name"`

	// Address is the network address used to connect. Defaults to Name.
	Address string `json:"address,omitempty" yaml:"address,omitempty"`

	// Port is the connection port. Defaults to 22.
	Port int `json:"port,omitempty" yaml:"port,omitempty"`

	// User is the login user for the connection.
	User string `json:"user,omitempty" yaml:"user,omitempty"`

	// KeyPath is the private key used for authentication, if any.
	KeyPath string `json:"key_path,omitempty" yaml:"key_path,omitempty"`

	// Groups is the ordered group membership of the host. The order is
	// the data-resolution tie-break order; AllGroup is always last.
	Groups []string `json:"groups,omitempty" yaml:"groups,omitempty"`

	// Data holds host-level data values.
	Data map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

// InGroup reports whether the host is a member of the named group.
func (h *Host) InGroup(name string) bool {
	for _, g := range h.Groups {
		if g == name {
			return true
		}
	}
	return false
}

// ConnectAddress returns the address to dial, falling back to the host name.
func (h *Host) ConnectAddress() string {
	if h.Address != "" {
		return h.Address
	}
	return h.Name
}

// Group is a named set of hosts with group-level data.
type Group struct {
	// Name is the unique group name.
	Name string `json:"name" yaml:"name"`

	// Hosts lists member host names declared on the group side.
	Hosts []string `json:"hosts,omitempty" yaml:"hosts,omitempty"`

	// Data holds group-level data values.
	Data map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

// Inventory is the sealed set of hosts and groups for one deploy target
// fleet. It is immutable after construction except for the run-level
// override map, which is set once before a run starts.
type Inventory struct {
	hosts     map[string]*Host
	order     []string
	groups    map[string]*Group
	overrides map[string]any
}

// FromHosts builds a sealed inventory from host and group definitions.
//
// Host membership order is completed here: groups that declare the host as
// a member are appended after the host's own group list, and AllGroup is
// appended last. Groups referenced by hosts but not defined get an empty
// definition so that membership stays queryable.
func FromHosts(hosts []*Host, groups []*Group) (*Inventory, error) {
	inv := &Inventory{
		hosts:  make(map[string]*Host, len(hosts)),
		groups: make(map[string]*Group, len(groups)+1),
	}

	for _, g := range groups {
		if g.Name == "" {
			return nil, fmt.Errorf("group with empty name")
		}
		if _, exists := inv.groups[g.Name]; exists {
			return nil, fmt.Errorf("duplicate group %q", g.Name)
		}
		if g.Data == nil {
			g.Data = make(map[string]any)
		}
		inv.groups[g.Name] = g
	}
	if _, ok := inv.groups[AllGroup]; !ok {
		inv.groups[AllGroup] = &Group{Name: AllGroup, Data: make(map[string]any)}
	}

	for _, h := range hosts {
		if h.Name == "" {
			return nil, fmt.Errorf("host with empty name")
		}
		if _, exists := inv.hosts[h.Name]; exists {
			return nil, fmt.Errorf("duplicate host %q", h.Name)
		}
		if h.Port == 0 {
			h.Port = 22
		}
		if h.Data == nil {
			h.Data = make(map[string]any)
		}
		inv.hosts[h.Name] = h
		inv.order = append(inv.order, h.Name)
	}

	// Complete membership: group-side declarations first, then AllGroup.
	for _, name := range inv.order {
		h := inv.hosts[name]
		for _, g := range groupNamesInOrder(groups) {
			grp := inv.groups[g]
			if containsString(grp.Hosts, name) && !h.InGroup(g) {
				h.Groups = append(h.Groups, g)
			}
		}
		if !h.InGroup(AllGroup) {
			h.Groups = append(h.Groups, AllGroup)
		}
		for _, g := range h.Groups {
			grp, ok := inv.groups[g]
			if !ok {
				grp = &Group{Name: g, Data: make(map[string]any)}
				inv.groups[g] = grp
			}
			if !containsString(grp.Hosts, name) {
				grp.Hosts = append(grp.Hosts, name)
			}
		}
	}

	return inv, nil
}

// Len returns the number of hosts.
func (inv *Inventory) Len() int {
	return len(inv.order)
}

// Hosts returns all hosts in definition order.
func (inv *Inventory) Hosts() []*Host {
	out := make([]*Host, 0, len(inv.order))
	for _, name := range inv.order {
		out = append(out, inv.hosts[name])
	}
	return out
}

// HostNames returns all host names in definition order.
func (inv *Inventory) HostNames() []string {
	out := make([]string, len(inv.order))
	copy(out, inv.order)
	return out
}

// Host returns the named host.
func (inv *Inventory) Host(name string) (*Host, bool) {
	h, ok := inv.hosts[name]
	return h, ok
}

// Group returns the named group.
func (inv *Inventory) Group(name string) (*Group, bool) {
	g, ok := inv.groups[name]
	return g, ok
}

// GroupNames returns all group names, sorted.
func (inv *Inventory) GroupNames() []string {
	out := make([]string, 0, len(inv.groups))
	for name := range inv.groups {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SetOverrides installs the run-level override data map. Called once
// before a run starts; overrides take precedence over every other level.
func (inv *Inventory) SetOverrides(data map[string]any) {
	inv.overrides = data
}

// Select returns the hosts matched by a selector, in definition order.
//
// A selector is a comma-separated list of terms; each term matches a group
// name, a host name, or a shell glob against host names. An empty selector
// or "all" selects every host. Unmatched terms are an error so that typos
// do not silently deploy to nothing.
func (inv *Inventory) Select(selector string) ([]*Host, error) {
	if selector == "" || selector == AllGroup {
		return inv.Hosts(), nil
	}

	matched := make(map[string]bool)
	for _, term := range strings.Split(selector, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}

		hit := false
		if g, ok := inv.groups[term]; ok {
			for _, name := range g.Hosts {
				matched[name] = true
			}
			hit = true
		}
		if _, ok := inv.hosts[term]; ok {
			matched[term] = true
			hit = true
		}
		if !hit {
			for _, name := range inv.order {
				if ok, err := path.Match(term, name); err == nil && ok {
					matched[name] = true
					hit = true
				}
			}
		}
		if !hit {
			return nil, fmt.Errorf("selector term %q matches no host or group", term)
		}
	}

	out := make([]*Host, 0, len(matched))
	for _, name := range inv.order {
		if matched[name] {
			out = append(out, inv.hosts[name])
		}
	}
	return out, nil
}

func groupNamesInOrder(groups []*Group) []string {
	names := make([]string, 0, len(groups))
	for _, g := range groups {
		names = append(names, g.Name)
	}
	return names
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
