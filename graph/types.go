package graph

import (
	"fmt"
	"math"
	"strconv"
)

// ID identifies a node within its label. Sequence-allocated labels use decimal
// integers; keyed labels use the value of their key property.
type ID string

// IDFromInt formats a sequence identity.
func IDFromInt(n int64) ID {
	return ID(strconv.FormatInt(n, 10))
}

// Int parses a sequence identity.
func (id ID) Int() (int64, error) {
	return strconv.ParseInt(string(id), 10, 64)
}

// Ref points at one node.
type Ref struct {
	Label string `json:"label"`
	ID    ID     `json:"id"`
}

func (r Ref) String() string {
	return r.Label + "/" + string(r.ID)
}

// Properties holds node property values. Stored values are string, float64,
// bool or nil; integers are converted to float64 on write.
type Properties map[string]any

// String returns the string value of key or "".
func (p Properties) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Float returns the numeric value of key or 0.
func (p Properties) Float(key string) float64 {
	f, _ := p[key].(float64)
	return f
}

// Bool returns the boolean value of key or false.
func (p Properties) Bool(key string) bool {
	b, _ := p[key].(bool)
	return b
}

func (p Properties) clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Node is a copy of a stored node; changing it does not change the graph.
type Node struct {
	Label      string
	ID         ID
	Properties Properties
}

// Ref returns the node's reference.
func (n Node) Ref() Ref {
	return Ref{Label: n.Label, ID: n.ID}
}

// Relationship is a directed, typed edge. Qualifier distinguishes parallel
// edges of the same type between the same pair of nodes.
type Relationship struct {
	From      Ref    `json:"from"`
	Type      string `json:"type"`
	To        Ref    `json:"to"`
	Qualifier string `json:"qualifier,omitempty"`
}

// Schema maps a label to its key property. Nodes of a keyed label are
// identified by that property's string value and are unique on it.
type Schema map[string]string

// Key returns the key property for label, if any.
func (s Schema) Key(label string) (string, bool) {
	k, ok := s[label]
	return k, ok
}

// reservedID is the property name pattern constraints use for identity.
const reservedID = "id"

func normalizeProperties(props Properties) (Properties, error) {
	out := make(Properties, len(props))
	for k, v := range props {
		if k == "" || k == reservedID {
			return nil, fmt.Errorf("%w: name %q", ErrInvalidProperty, k)
		}
		nv, err := normalizeValue(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidProperty, k, err)
		}
		out[k] = nv
	}
	return out, nil
}

func normalizeValue(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, bool:
		return x, nil
	case ID:
		return string(x), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("non-finite number")
		}
		return x, nil
	case float32:
		return normalizeValue(float64(x))
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

// idFromValue converts a pattern or parameter value into a node identity.
func idFromValue(v any) (ID, bool) {
	switch x := v.(type) {
	case ID:
		return x, true
	case string:
		return ID(x), true
	case int:
		return IDFromInt(int64(x)), true
	case int64:
		return IDFromInt(x), true
	case float64:
		if x != math.Trunc(x) {
			return "", false
		}
		return IDFromInt(int64(x)), true
	default:
		return "", false
	}
}
