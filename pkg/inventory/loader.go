package inventory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadOptions control inventory loading.
type LoadOptions struct {
	// GroupDataDir is an optional directory of CUE group data files,
	// merged into group data by file base name.
	GroupDataDir string

	// Overrides is the run-level override data map.
	Overrides map[string]any

	// DefaultUser is applied to hosts that do not set one.
	DefaultUser string
}

// inventoryFile is the on-disk YAML shape.
type inventoryFile struct {
	Hosts  []*Host   `yaml:"hosts"`
	Groups yaml.Node `yaml:"groups"`
}

// UnmarshalYAML accepts both the full mapping form and a bare host name.
func (h *Host) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		h.Name = value.Value
		return nil
	}

	type hostAlias Host
	var alias hostAlias
	if err := value.Decode(&alias); err != nil {
		return err
	}
	*h = Host(alias)
	return nil
}

// Load reads a YAML inventory file and returns the sealed inventory.
//
// Every host additionally joins a group named after the inventory file's
// base name (the "source group"), appended after its explicit groups. When
// opts.GroupDataDir is set, CUE data files from that directory are merged
// into the matching groups before sealing.
func Load(path string, opts LoadOptions) (*Inventory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory file: %w", err)
	}

	var file inventoryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse inventory %s: %w", path, err)
	}
	if len(file.Hosts) == 0 {
		return nil, fmt.Errorf("inventory %s defines no hosts", path)
	}

	groups, err := decodeGroups(&file.Groups)
	if err != nil {
		return nil, fmt.Errorf("failed to parse inventory %s: %w", path, err)
	}

	source := sourceGroupName(path)
	if source != "" {
		if !groupsContain(groups, source) {
			groups = append(groups, &Group{Name: source})
		}
		for _, h := range file.Hosts {
			if !containsString(h.Groups, source) {
				h.Groups = append(h.Groups, source)
			}
		}
	}

	for _, h := range file.Hosts {
		if h.User == "" {
			h.User = opts.DefaultUser
		}
	}

	if opts.GroupDataDir != "" {
		data, err := LoadGroupData(opts.GroupDataDir)
		if err != nil {
			return nil, err
		}
		groups = mergeGroupData(groups, data)
	}

	inv, err := FromHosts(file.Hosts, groups)
	if err != nil {
		return nil, fmt.Errorf("invalid inventory %s: %w", path, err)
	}
	if len(opts.Overrides) > 0 {
		inv.SetOverrides(opts.Overrides)
	}
	return inv, nil
}

// decodeGroups decodes the groups mapping preserving file order, which is
// the order group-side memberships are appended in.
func decodeGroups(node *yaml.Node) ([]*Group, error) {
	if node.Kind == 0 || node.Tag == "!!null" {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("groups must be a mapping of name to definition")
	}

	groups := make([]*Group, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		g := &Group{}
		if err := node.Content[i+1].Decode(g); err != nil {
			return nil, fmt.Errorf("group %q: %w", name, err)
		}
		g.Name = name
		groups = append(groups, g)
	}
	return groups, nil
}

// mergeGroupData merges CUE data maps into group definitions, creating
// hostless groups for data files with no inventory counterpart.
func mergeGroupData(groups []*Group, data map[string]map[string]any) []*Group {
	byName := make(map[string]*Group, len(groups))
	for _, g := range groups {
		byName[g.Name] = g
	}

	for name, values := range data {
		g, ok := byName[name]
		if !ok {
			g = &Group{Name: name}
			groups = append(groups, g)
			byName[name] = g
		}
		if g.Data == nil {
			g.Data = make(map[string]any, len(values))
		}
		for k, v := range values {
			if _, exists := g.Data[k]; !exists {
				g.Data[k] = v
			}
		}
	}
	return groups
}

// sourceGroupName derives the source group from the inventory file name.
func sourceGroupName(path string) string {
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, name)
	if name == "" || name == AllGroup {
		return ""
	}
	return name
}

func groupsContain(groups []*Group, name string) bool {
	for _, g := range groups {
		if g.Name == name {
			return true
		}
	}
	return false
}
