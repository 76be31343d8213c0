package vpc

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies which member of the Value union is set.
type Kind int

const (
	KindInvalid Kind = iota
	KindBool
	KindInt
	KindString
	KindMap
)

// Value is a property value read from, or an event payload delivered by,
// the privileged service. The zero Value is invalid and means "absent".
type Value struct {
	kind Kind
	b    bool
	i    int64
	s    string
	m    map[string]Value
}

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns an integer Value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Map returns a structured Value. The map is copied.
func Map(m map[string]Value) Value {
	cp := make(map[string]Value, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Value{kind: KindMap, m: cp}
}

// Kind returns the kind of the value.
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether the value holds anything.
func (v Value) IsValid() bool { return v.kind != KindInvalid }

// AsBool returns the boolean member. Integers are treated as C booleans.
func (v Value) AsBool() (bool, bool) {
	switch v.kind {
	case KindBool:
		return v.b, true
	case KindInt:
		return v.i != 0, true
	}
	return false, false
}

// AsInt returns the integer member. Booleans convert to 0/1.
func (v Value) AsInt() (int64, bool) {
	switch v.kind {
	case KindInt:
		return v.i, true
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// AsString returns the string member.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

// AsMap returns the structured member.
func (v Value) AsMap() (map[string]Value, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return v.m, true
}

// Field returns a member of a structured value. Absent fields and
// non-map values yield an invalid Value.
func (v Value) Field(key string) Value {
	if v.kind != KindMap {
		return Value{}
	}
	return v.m[key]
}

// String renders the value for logs.
func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindString:
		return v.s
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+v.m[k].String())
		}
		return "{" + strings.Join(parts, " ") + "}"
	}
	return "<nil>"
}

// FromAny converts a decoded wire value into a Value. Unsupported types
// yield an invalid Value.
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return Value{}
	case Value:
		return t
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int8:
		return Int(int64(t))
	case int16:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case uint8:
		return Int(int64(t))
	case uint16:
		return Int(int64(t))
	case uint32:
		return Int(int64(t))
	case uint64:
		return Int(int64(t))
	case float64:
		return Int(int64(t))
	case string:
		return String(t)
	case map[string]Value:
		return Map(t)
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			m[k] = FromAny(e)
		}
		return Value{kind: KindMap, m: m}
	}
	return Value{}
}

// Any converts the value back into plain Go types, for JSON encoding
// towards the presentation layer.
func (v Value) Any() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindString:
		return v.s
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, e := range v.m {
			out[k] = e.Any()
		}
		return out
	}
	return nil
}

type jsonValue struct {
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON keeps the kind so integers and booleans survive a round trip.
func (v Value) MarshalJSON() ([]byte, error) {
	var (
		kind string
		raw  []byte
		err  error
	)
	switch v.kind {
	case KindInvalid:
		return []byte("null"), nil
	case KindBool:
		kind = "bool"
		raw, err = json.Marshal(v.b)
	case KindInt:
		kind = "int"
		raw, err = json.Marshal(v.i)
	case KindString:
		kind = "string"
		raw, err = json.Marshal(v.s)
	case KindMap:
		kind = "map"
		raw, err = json.Marshal(v.m)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(jsonValue{Kind: kind, Value: raw})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Value{}
		return nil
	}
	var jv jsonValue
	if err := json.Unmarshal(data, &jv); err != nil {
		return err
	}
	switch jv.Kind {
	case "bool":
		var b bool
		if err := json.Unmarshal(jv.Value, &b); err != nil {
			return err
		}
		*v = Bool(b)
	case "int":
		var i int64
		if err := json.Unmarshal(jv.Value, &i); err != nil {
			return err
		}
		*v = Int(i)
	case "string":
		var s string
		if err := json.Unmarshal(jv.Value, &s); err != nil {
			return err
		}
		*v = String(s)
	case "map":
		var m map[string]Value
		if err := json.Unmarshal(jv.Value, &m); err != nil {
			return err
		}
		*v = Value{kind: KindMap, m: m}
	default:
		return fmt.Errorf("unknown value kind %q", jv.Kind)
	}
	return nil
}
