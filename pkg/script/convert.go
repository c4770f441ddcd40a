package script

import (
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/shipshape-io/shipshape/pkg/inventory"
	"github.com/shipshape-io/shipshape/pkg/ops"
)

// dataRef wraps a late-bound inventory reference as a Starlark value, so
// data("key") results can be passed as operation arguments and survive
// the round-trip back into ops.Args unresolved.
type dataRef struct {
	ref inventory.Ref
}

func (d dataRef) String() string {
	if d.ref.Default != nil {
		return fmt.Sprintf("data(%q, default=%v)", d.ref.Key, d.ref.Default)
	}
	return fmt.Sprintf("data(%q)", d.ref.Key)
}

func (d dataRef) Type() string         { return "data_ref" }
func (d dataRef) Freeze()              {}
func (d dataRef) Truth() starlark.Bool { return starlark.True }

func (d dataRef) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: data_ref")
}

// handleValue exposes a registration handle to the script. Scripts see
// the plan position; outcomes are only recorded during execution, after
// evaluation has finished.
type handleValue struct {
	handle *ops.Handle
}

func (h handleValue) String() string {
	return fmt.Sprintf("<operation %q order=%d>", h.handle.Name(), h.handle.Order())
}

func (h handleValue) Type() string         { return "operation" }
func (h handleValue) Freeze()              {}
func (h handleValue) Truth() starlark.Bool { return starlark.True }

func (h handleValue) Hash() (uint32, error) {
	return uint32(h.handle.Order()), nil
}

// Attr exposes the handle fields by name.
func (h handleValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "order":
		return starlark.MakeInt(h.handle.Order()), nil
	case "name":
		return starlark.String(h.handle.Name()), nil
	}
	return nil, nil
}

func (h handleValue) AttrNames() []string {
	return []string{"name", "order"}
}

// toStarlark converts a Go value to its Starlark representation.
func toStarlark(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case inventory.Ref:
		return dataRef{ref: val}, nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			list[i] = starlark.String(item)
		}
		return starlark.NewList(list), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			conv, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			list[i] = conv
		}
		return starlark.NewList(list), nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			conv, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), conv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlark converts a Starlark value back to a Go value. Data refs
// pass through as inventory.Ref so resolution stays deferred to diff
// time.
func fromStarlark(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case dataRef:
		return val.ref, nil
	case *starlark.List:
		list := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlark(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]any, len(val))
		for i, item := range val {
			conv, err := fromStarlark(item)
			if err != nil {
				return nil, err
			}
			list[i] = conv
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]any, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %s", item[0].Type())
			}
			value, err := fromStarlark(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]any)
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlark(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
