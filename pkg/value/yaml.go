package value

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML decodes a YAML node. Integer and float scalars become numbers
// with their literal text normalised to JSON form.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := fromNode(node)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func fromNode(node *yaml.Node) (Value, error) {
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return Null(), nil
		}
		return fromNode(node.Content[0])
	case yaml.AliasNode:
		return fromNode(node.Alias)
	case yaml.SequenceNode:
		items := make([]Value, 0, len(node.Content))
		for _, child := range node.Content {
			item, err := fromNode(child)
			if err != nil {
				return Value{}, err
			}
			items = append(items, item)
		}
		return Array(items...), nil
	case yaml.MappingNode:
		fields := make(map[string]Value, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			var key string
			if err := node.Content[i].Decode(&key); err != nil {
				return Value{}, fmt.Errorf("line %d: mapping key: %w", node.Content[i].Line, err)
			}
			item, err := fromNode(node.Content[i+1])
			if err != nil {
				return Value{}, err
			}
			fields[key] = item
		}
		return Object(fields), nil
	case yaml.ScalarNode:
		return fromScalar(node)
	default:
		return Value{}, fmt.Errorf("line %d: unsupported yaml node", node.Line)
	}
}

func fromScalar(node *yaml.Node) (Value, error) {
	switch node.ShortTag() {
	case "!!null":
		return Null(), nil
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return Value{}, err
		}
		return Bool(b), nil
	case "!!int":
		var i int64
		if err := node.Decode(&i); err == nil {
			return Int(i), nil
		}
		var u uint64
		if err := node.Decode(&u); err != nil {
			return Value{}, err
		}
		return Number(json.Number(strconv.FormatUint(u, 10))), nil
	case "!!float":
		var f float64
		if err := node.Decode(&f); err != nil {
			return Value{}, err
		}
		return fromFloat(f)
	default:
		return String(node.Value), nil
	}
}

// MarshalYAML emits numbers as native YAML numbers rather than quoted text.
func (v Value) MarshalYAML() (any, error) {
	return v.native(), nil
}

func (v Value) native() any {
	switch v.kind {
	case KindNumber:
		if i, err := v.n.Int64(); err == nil {
			return i
		}
		if f, err := v.n.Float64(); err == nil && !math.IsInf(f, 0) {
			return f
		}
		return v.n.String()
	case KindArray:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.native()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for k, item := range v.obj {
			out[k] = item.native()
		}
		return out
	default:
		return v.Interface()
	}
}

// Native returns the Go form of v with numbers as int64 or float64.
func (v Value) Native() any { return v.native() }
