package abac

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const userAttrPrefix = "user_attr:"

var keyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_\-]*(\.[A-Za-z_][A-Za-z0-9_\-]*)*$`)

// Expr is a parsed condition: the conjunction of its clauses. The zero value
// and an Expr with no clauses always apply.
type Expr struct {
	clauses []Node
}

// Clauses returns the clauses in evaluation order.
func (e *Expr) Clauses() []Node {
	if e == nil {
		return nil
	}
	return e.clauses
}

// IsEmpty reports whether the expression has no clauses.
func (e *Expr) IsEmpty() bool {
	return e == nil || len(e.clauses) == 0
}

func (e *Expr) String() string {
	if e.IsEmpty() {
		return "true"
	}
	parts := make([]string, len(e.clauses))
	for i, c := range e.clauses {
		parts[i] = c.String()
	}
	return strings.Join(parts, " AND ")
}

// Evaluate reports whether every clause holds for rc. The only errors are
// deadline and cancellation errors from ctx.
func (e *Expr) Evaluate(ctx context.Context, rc *Context) (bool, error) {
	if e.IsEmpty() {
		return true, nil
	}
	for _, c := range e.clauses {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return false, fmt.Errorf("%w: %s", ErrEvaluationTimeout, c.Field())
			}
			return false, err
		}
		if !c.eval(rc) {
			return false, nil
		}
	}
	return true, nil
}

// Parse parses a JSON condition document. Empty input, null and {} yield an
// empty expression.
func Parse(raw []byte) (*Expr, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return &Expr{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, &ParseError{Problems: []string{fmt.Sprintf("malformed JSON: %v", err)}}
	}
	if dec.More() {
		return nil, &ParseError{Problems: []string{"trailing data after condition object"}}
	}
	m, ok := doc.(map[string]any)
	if !ok {
		return nil, &ParseError{Problems: []string{"condition must be a JSON object"}}
	}
	return ParseMap(m)
}

// ParseMap parses an already-decoded condition object.
func ParseMap(m map[string]any) (*Expr, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	perr := &ParseError{}
	expr := &Expr{clauses: make([]Node, 0, len(keys))}
	for _, key := range keys {
		if !keyPattern.MatchString(key) {
			perr.add(fmt.Sprintf("%q: invalid attribute name", key))
			continue
		}
		node, problem := parseClause(key, m[key])
		if problem != "" {
			perr.add(fmt.Sprintf("%s: %s", key, problem))
			continue
		}
		expr.clauses = append(expr.clauses, node)
	}
	if len(perr.Problems) > 0 {
		return nil, perr
	}
	return expr, nil
}

func parseClause(key string, raw any) (Node, string) {
	switch v := raw.(type) {
	case nil:
		return nil, "null is not a valid constraint"
	case []any:
		values, problem := parseValueList(v)
		if problem != "" {
			return nil, problem
		}
		return &InSet{Key: key, Values: values}, ""
	case map[string]any:
		return parseOperator(key, v)
	default:
		val, ok := ValueOf(v)
		if !ok {
			return nil, fmt.Sprintf("unsupported literal of type %T", v)
		}
		return &Literal{Key: key, Value: val}, ""
	}
}

func parseOperator(key string, obj map[string]any) (Node, string) {
	var opRaw any
	var hasOp bool
	for name, v := range obj {
		switch name {
		case "op", "$op":
			if hasOp {
				return nil, "both op and $op given"
			}
			opRaw, hasOp = v, true
		case "value":
		default:
			return nil, fmt.Sprintf("unknown field %q in operator object", name)
		}
	}
	if !hasOp {
		return nil, "operator object requires op"
	}
	opStr, ok := opRaw.(string)
	if !ok {
		return nil, "op must be a string"
	}
	value, hasValue := obj["value"]
	if !hasValue {
		return nil, "operator object requires value"
	}

	op := Op(opStr)
	switch op {
	case OpEq, OpNe:
		operand, problem := parseOperand(value, false)
		if problem != "" {
			return nil, problem
		}
		return &Compare{Key: key, Op: op, Operand: operand}, ""

	case OpGt, OpGte, OpLt, OpLte:
		operand, problem := parseOperand(value, true)
		if problem != "" {
			return nil, problem
		}
		return &Compare{Key: key, Op: op, Operand: operand}, ""

	case OpIn, OpNotIn:
		list, ok := value.([]any)
		if !ok {
			return nil, fmt.Sprintf("%s requires an array value", op)
		}
		values, problem := parseValueList(list)
		if problem != "" {
			return nil, problem
		}
		return &InSet{Key: key, Values: values, Negated: op == OpNotIn}, ""

	case OpRegex:
		src, ok := value.(string)
		if !ok {
			return nil, "regex requires a string pattern"
		}
		if len(src) > MaxPatternLength {
			return nil, fmt.Sprintf("regex pattern longer than %d bytes", MaxPatternLength)
		}
		re, err := regexp.Compile(src)
		if err != nil {
			return nil, fmt.Sprintf("invalid regex: %v", err)
		}
		return &Match{Key: key, Pattern: re}, ""

	case OpUserAttr:
		attr, ok := value.(string)
		if !ok || !keyPattern.MatchString(attr) {
			return nil, "user_attr requires an attribute name"
		}
		return &UserAttrRef{Key: key, Attr: attr}, ""
	}
	return nil, fmt.Sprintf("unknown operator %q", opStr)
}

func parseOperand(raw any, numeric bool) (Operand, string) {
	if s, ok := raw.(string); ok && strings.HasPrefix(s, userAttrPrefix) {
		attr := strings.TrimPrefix(s, userAttrPrefix)
		if !keyPattern.MatchString(attr) {
			return Operand{}, fmt.Sprintf("invalid subject attribute reference %q", s)
		}
		return Operand{SubjectAttr: attr}, ""
	}
	v, ok := ValueOf(raw)
	if !ok {
		return Operand{}, fmt.Sprintf("value must be a scalar, got %T", raw)
	}
	if numeric && v.Kind != KindNumber {
		return Operand{}, fmt.Sprintf("comparison requires a numeric value, got %s", v.Kind)
	}
	return Operand{Value: v}, ""
}

func parseValueList(list []any) ([]Value, string) {
	if len(list) == 0 {
		return nil, "set must not be empty"
	}
	values := make([]Value, 0, len(list))
	for i, item := range list {
		v, ok := ValueOf(item)
		if !ok {
			return nil, fmt.Sprintf("set element %d is not a scalar", i)
		}
		values = append(values, v)
	}
	return values, ""
}

// MustParse is Parse for static conditions; it panics on error.
func MustParse(raw string) *Expr {
	e, err := Parse([]byte(raw))
	if err != nil {
		panic(err)
	}
	return e
}
