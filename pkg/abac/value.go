package abac

import (
	"encoding/json"
	"strconv"
)

// Kind is the type of a scalar attribute value.
type Kind int

const (
	KindInvalid Kind = iota
	KindBool
	KindNumber
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	default:
		return "invalid"
	}
}

// Value is a normalised scalar. Numbers carry a float64; integer inputs also
// keep their exact sign and magnitude so ids beyond 2^53 stay distinct.
type Value struct {
	Kind Kind
	Num  float64
	Str  string
	Bool bool

	exact bool
	neg   bool
	mag   uint64
}

func intValue(i int64) Value {
	if i < 0 {
		return Value{Kind: KindNumber, Num: float64(i), exact: true, neg: true, mag: uint64(-(i + 1)) + 1}
	}
	return uintValue(uint64(i))
}

func uintValue(u uint64) Value {
	return Value{Kind: KindNumber, Num: float64(u), exact: true, mag: u}
}

// ValueOf normalises v. The second result is false for nil, maps, slices and
// any other non-scalar input.
func ValueOf(v any) (Value, bool) {
	switch t := v.(type) {
	case string:
		return Value{Kind: KindString, Str: t}, true
	case bool:
		return Value{Kind: KindBool, Bool: t}, true
	case float64:
		return Value{Kind: KindNumber, Num: t}, true
	case float32:
		return Value{Kind: KindNumber, Num: float64(t)}, true
	case int:
		return intValue(int64(t)), true
	case int8:
		return intValue(int64(t)), true
	case int16:
		return intValue(int64(t)), true
	case int32:
		return intValue(int64(t)), true
	case int64:
		return intValue(t), true
	case uint:
		return uintValue(uint64(t)), true
	case uint8:
		return uintValue(uint64(t)), true
	case uint16:
		return uintValue(uint64(t)), true
	case uint32:
		return uintValue(uint64(t)), true
	case uint64:
		return uintValue(t), true
	case json.Number:
		if i, err := strconv.ParseInt(string(t), 10, 64); err == nil {
			return intValue(i), true
		}
		if u, err := strconv.ParseUint(string(t), 10, 64); err == nil {
			return uintValue(u), true
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, false
		}
		return Value{Kind: KindNumber, Num: f}, true
	default:
		return Value{}, false
	}
}

// compareNumber orders two numbers. Two integers compare exactly; otherwise
// the float64 forms are compared. ok is false when either side is NaN.
func (v Value) compareNumber(o Value) (c int, ok bool) {
	if v.exact && o.exact {
		switch {
		case v.neg != o.neg:
			if v.neg {
				return -1, true
			}
			return 1, true
		case v.mag == o.mag:
			return 0, true
		case (v.mag < o.mag) != v.neg:
			return -1, true
		default:
			return 1, true
		}
	}
	switch {
	case v.Num < o.Num:
		return -1, true
	case v.Num > o.Num:
		return 1, true
	case v.Num == o.Num:
		return 0, true
	}
	return 0, false
}

// Equal reports whether both values have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindBool:
		return v.Bool == o.Bool
	case KindNumber:
		c, ok := v.compareNumber(o)
		return ok && c == 0
	case KindString:
		return v.Str == o.Str
	}
	return false
}

func (v Value) String() string {
	switch v.Kind {
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindNumber:
		if v.exact {
			if v.neg {
				return "-" + strconv.FormatUint(v.mag, 10)
			}
			return strconv.FormatUint(v.mag, 10)
		}
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.Str)
	}
	return "<invalid>"
}
