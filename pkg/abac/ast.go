package abac

import (
	"fmt"
	"regexp"
	"strings"
)

// Op is a condition operator.
type Op string

const (
	OpEq       Op = "eq"
	OpNe       Op = "ne"
	OpIn       Op = "in"
	OpNotIn    Op = "not_in"
	OpGt       Op = "gt"
	OpGte      Op = "gte"
	OpLt       Op = "lt"
	OpLte      Op = "lte"
	OpRegex    Op = "regex"
	OpUserAttr Op = "user_attr"
)

// Operators lists every supported operator.
func Operators() []Op {
	return []Op{OpEq, OpNe, OpIn, OpNotIn, OpGt, OpGte, OpLt, OpLte, OpRegex, OpUserAttr}
}

const (
	// MaxPatternLength caps regex sources accepted by the parser.
	MaxPatternLength = 512
	// MaxMatchInput caps the attribute length a regex is run against. Longer
	// inputs do not match.
	MaxMatchInput = 4096
)

// Node is one clause of a condition. Implementations are limited to the types
// in this file.
type Node interface {
	Field() string
	String() string
	eval(rc *Context) bool
}

// Operand is the right-hand side of a Compare: a literal, or a subject
// attribute when SubjectAttr is set.
type Operand struct {
	Value       Value
	SubjectAttr string
}

func (o Operand) String() string {
	if o.SubjectAttr != "" {
		return "user." + o.SubjectAttr
	}
	return o.Value.String()
}

func (o Operand) resolve(rc *Context) (Value, bool) {
	if o.SubjectAttr == "" {
		return o.Value, true
	}
	raw, ok := lookup(rc.Subject, o.SubjectAttr)
	if !ok {
		return Value{}, false
	}
	return ValueOf(raw)
}

// Literal requires the field to equal Value.
type Literal struct {
	Key   string
	Value Value
}

func (n *Literal) Field() string  { return n.Key }
func (n *Literal) String() string { return fmt.Sprintf("%s == %s", n.Key, n.Value) }

func (n *Literal) eval(rc *Context) bool {
	v, ok := rc.value(n.Key)
	return ok && v.Equal(n.Value)
}

// InSet requires the field to be one of Values, or none of them when Negated.
type InSet struct {
	Key     string
	Values  []Value
	Negated bool
}

func (n *InSet) Field() string { return n.Key }

func (n *InSet) String() string {
	parts := make([]string, len(n.Values))
	for i, v := range n.Values {
		parts[i] = v.String()
	}
	op := "in"
	if n.Negated {
		op = "not in"
	}
	return fmt.Sprintf("%s %s [%s]", n.Key, op, strings.Join(parts, ", "))
}

func (n *InSet) eval(rc *Context) bool {
	v, ok := rc.value(n.Key)
	if !ok {
		return false
	}
	found := false
	for _, candidate := range n.Values {
		if v.Equal(candidate) {
			found = true
			break
		}
	}
	return found != n.Negated
}

// Compare applies eq, ne, gt, gte, lt or lte. Ordering operators require two
// numbers.
type Compare struct {
	Key     string
	Op      Op
	Operand Operand
}

func (n *Compare) Field() string { return n.Key }

func (n *Compare) String() string {
	sym := map[Op]string{OpEq: "==", OpNe: "!=", OpGt: ">", OpGte: ">=", OpLt: "<", OpLte: "<="}[n.Op]
	return fmt.Sprintf("%s %s %s", n.Key, sym, n.Operand)
}

func (n *Compare) eval(rc *Context) bool {
	left, ok := rc.value(n.Key)
	if !ok {
		return false
	}
	right, ok := n.Operand.resolve(rc)
	if !ok {
		return false
	}
	switch n.Op {
	case OpEq:
		return left.Equal(right)
	case OpNe:
		// Operands of different kinds are a type mismatch, which fails closed
		// like every other mismatch rather than counting as "not equal".
		return left.Kind == right.Kind && !left.Equal(right)
	}
	if left.Kind != KindNumber || right.Kind != KindNumber {
		return false
	}
	c, ok := left.compareNumber(right)
	if !ok {
		return false
	}
	switch n.Op {
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	}
	return false
}

// UserAttrRef requires the field to equal the subject's Attr attribute.
type UserAttrRef struct {
	Key  string
	Attr string
}

func (n *UserAttrRef) Field() string  { return n.Key }
func (n *UserAttrRef) String() string { return fmt.Sprintf("%s == user.%s", n.Key, n.Attr) }

func (n *UserAttrRef) eval(rc *Context) bool {
	return (&Compare{Key: n.Key, Op: OpEq, Operand: Operand{SubjectAttr: n.Attr}}).eval(rc)
}

// Match requires a string field to match Pattern.
type Match struct {
	Key     string
	Pattern *regexp.Regexp
}

func (n *Match) Field() string  { return n.Key }
func (n *Match) String() string { return fmt.Sprintf("%s =~ /%s/", n.Key, n.Pattern) }

func (n *Match) eval(rc *Context) bool {
	v, ok := rc.value(n.Key)
	if !ok || v.Kind != KindString || len(v.Str) > MaxMatchInput {
		return false
	}
	return n.Pattern.MatchString(v.Str)
}
