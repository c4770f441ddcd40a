package inventory

// Data source labels reported by ResolveSource.
const (
	SourceOverride = "override"
	SourceHost     = "host"
	SourceGroup    = "group"
	SourceAll      = AllGroup
)

// Resolve looks up a data value for a host through the four-level
// precedence chain: run override, host data, groups in membership order,
// the "all" group. Returns (nil, false) when no level defines the key or
// the host is unknown.
func (inv *Inventory) Resolve(host, key string) (any, bool) {
	v, _, ok := inv.ResolveSource(host, key)
	return v, ok
}

// ResolveSource is Resolve plus the level that supplied the value:
// "override", "host", "group:<name>", or "all".
func (inv *Inventory) ResolveSource(host, key string) (any, string, bool) {
	h, ok := inv.hosts[host]
	if !ok {
		return nil, "", false
	}

	if v, ok := inv.overrides[key]; ok {
		return v, SourceOverride, true
	}
	if v, ok := h.Data[key]; ok {
		return v, SourceHost, true
	}
	for _, name := range h.Groups {
		if name == AllGroup {
			continue
		}
		g, ok := inv.groups[name]
		if !ok {
			continue
		}
		if v, ok := g.Data[key]; ok {
			return v, SourceGroup + ":" + name, true
		}
	}
	if g, ok := inv.groups[AllGroup]; ok {
		if v, ok := g.Data[key]; ok {
			return v, SourceAll, true
		}
	}
	return nil, "", false
}

// ResolveString resolves key to a string value.
func (inv *Inventory) ResolveString(host, key string) (string, bool) {
	v, ok := inv.Resolve(host, key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// ResolveInt resolves key to an int value. YAML and CUE decoders produce
// a mix of int, int64, uint64, and float64; whole-number floats are
// accepted.
func (inv *Inventory) ResolveInt(host, key string) (int, bool) {
	v, ok := inv.Resolve(host, key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}

// ResolveBool resolves key to a bool value.
func (inv *Inventory) ResolveBool(host, key string) (bool, bool) {
	v, ok := inv.Resolve(host, key)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// ResolveStringSlice resolves key to a []string value, converting from
// []any element-wise.
func (inv *Inventory) ResolveStringSlice(host, key string) ([]string, bool) {
	v, ok := inv.Resolve(host, key)
	if !ok {
		return nil, false
	}
	switch list := v.(type) {
	case []string:
		return list, true
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// Ref is a late-bound reference to an inventory data key. Operation
// arguments may carry Refs instead of concrete values; the engine resolves
// them per host at diff time, so one registration can realize different
// values on different hosts.
type Ref struct {
	// Key is the data key to resolve.
	Key string

	// Default is returned when no data level defines the key.
	Default any
}

// Data returns a Ref for key with no default.
func Data(key string) Ref {
	return Ref{Key: key}
}

// DataOr returns a Ref for key with a fallback value.
func DataOr(key string, def any) Ref {
	return Ref{Key: key, Default: def}
}

// ResolveValue resolves v for the given host if it is a Ref, recursing
// into slice and map containers so Refs nested in argument structures are
// realized too. Non-Ref values pass through unchanged.
func (inv *Inventory) ResolveValue(host string, v any) any {
	switch val := v.(type) {
	case Ref:
		if resolved, ok := inv.Resolve(host, val.Key); ok {
			return resolved
		}
		return val.Default
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = inv.ResolveValue(host, item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = inv.ResolveValue(host, item)
		}
		return out
	default:
		return v
	}
}
