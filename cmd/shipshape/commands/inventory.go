package commands

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shipshape-io/shipshape/pkg/inventory"
)

func newInventoryCommand() *cobra.Command {
	var hostName string

	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "List hosts, groups, and resolved data",
		Long: `Print the loaded inventory: hosts with their groups, groups with their
members. With --host, print one host's connection settings and its full
resolved data chain showing which layer each value came from (override,
host, group, or the global defaults).`,
		Example: `  # The whole inventory
  shipshape inventory

  # One host's resolution chain, with a run-level override applied
  shipshape inventory --host web-1 --data app_version=2.4.1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, overrides, err := loadInventory()
			if err != nil {
				return err
			}

			if hostName != "" {
				return printHostDetail(cmd, inv, overrides, hostName)
			}
			return printInventory(cmd, inv)
		},
	}

	cmd.Flags().StringVar(&hostName, "host", "", "show one host's resolved data chain")

	return cmd
}

func printInventory(cmd *cobra.Command, inv *inventory.Inventory) error {
	out := cmd.OutOrStdout()

	if jsonOutput {
		hosts := make([]map[string]any, 0, inv.Len())
		for _, h := range inv.Hosts() {
			hosts = append(hosts, map[string]any{
				"name":    h.Name,
				"address": h.ConnectAddress(),
				"user":    h.User,
				"groups":  h.Groups,
			})
		}
		groups := make(map[string][]string, len(inv.GroupNames()))
		for _, name := range inv.GroupNames() {
			g, _ := inv.Group(name)
			groups[name] = g.Hosts
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"hosts": hosts, "groups": groups})
	}

	fmt.Fprintf(out, "hosts (%d):\n", inv.Len())
	for _, h := range inv.Hosts() {
		fmt.Fprintf(out, "  %-24s %-24s", h.Name, h.ConnectAddress())
		if len(h.Groups) > 0 {
			fmt.Fprintf(out, " [%s]", strings.Join(h.Groups, ", "))
		}
		fmt.Fprintln(out)
	}

	names := inv.GroupNames()
	fmt.Fprintf(out, "\ngroups (%d):\n", len(names))
	for _, name := range names {
		g, _ := inv.Group(name)
		fmt.Fprintf(out, "  %-24s %d hosts\n", name, len(g.Hosts))
	}
	return nil
}

// printHostDetail shows one host's connection settings and every data
// key visible to it, with the layer that supplied the value.
func printHostDetail(cmd *cobra.Command, inv *inventory.Inventory, overrides map[string]any, name string) error {
	h, ok := inv.Host(name)
	if !ok {
		return fmt.Errorf("host %q not in inventory", name)
	}

	keys := visibleDataKeys(inv, h, overrides)

	out := cmd.OutOrStdout()
	if jsonOutput {
		data := make(map[string]any, len(keys))
		for _, key := range keys {
			value, source, _ := inv.ResolveSource(h.Name, key)
			data[key] = map[string]any{"value": value, "source": source}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"name":    h.Name,
			"address": h.ConnectAddress(),
			"user":    h.User,
			"groups":  h.Groups,
			"data":    data,
		})
	}

	fmt.Fprintf(out, "host %s\n", h.Name)
	fmt.Fprintf(out, "  address: %s\n", h.ConnectAddress())
	if h.User != "" {
		fmt.Fprintf(out, "  user:    %s\n", h.User)
	}
	if len(h.Groups) > 0 {
		fmt.Fprintf(out, "  groups:  %s\n", strings.Join(h.Groups, ", "))
	}
	if len(keys) > 0 {
		fmt.Fprintln(out, "  data:")
		for _, key := range keys {
			value, source, _ := inv.ResolveSource(h.Name, key)
			fmt.Fprintf(out, "    %-24s = %-24v (%s)\n", key, value, source)
		}
	}
	return nil
}

// visibleDataKeys collects every data key that resolves for the host:
// run overrides, host data, its groups' data, and the implicit all
// group.
func visibleDataKeys(inv *inventory.Inventory, h *inventory.Host, overrides map[string]any) []string {
	seen := map[string]bool{}
	for key := range overrides {
		seen[key] = true
	}
	for key := range h.Data {
		seen[key] = true
	}
	groupNames := append([]string{}, h.Groups...)
	groupNames = append(groupNames, "all")
	for _, gname := range groupNames {
		if g, ok := inv.Group(gname); ok {
			for key := range g.Data {
				seen[key] = true
			}
		}
	}

	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
