package abac

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evalString(t *testing.T, raw string, rc *Context) bool {
	t.Helper()
	expr, err := Parse([]byte(raw))
	require.NoError(t, err)
	ok, err := expr.Evaluate(context.Background(), rc)
	require.NoError(t, err)
	return ok
}

func TestEvaluate_EmptyAlwaysApplies(t *testing.T) {
	var nilExpr *Expr
	ok, err := nilExpr.Evaluate(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.True(t, evalString(t, `{}`, &Context{}))
}

func TestEvaluate_Operators(t *testing.T) {
	rc := &Context{
		Subject: Attributes{
			"id":         "u-1",
			"region":     "EU",
			"clearance":  3,
			"department": "finance",
			"profile":    map[string]any{"country": "DE"},
		},
		Resource: Attributes{
			"region":         "EU",
			"owner_id":       "u-1",
			"classification": "internal",
			"size":           int64(120),
			"name":           "sales_2024",
			"department":     "marketing",
			"country":        "DE",
		},
		Environment: Attributes{
			"hour":    14,
			"network": "corp",
		},
	}

	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"literal match", `{"classification": "internal"}`, true},
		{"literal mismatch", `{"classification": "public"}`, false},
		{"array in", `{"classification": ["public", "internal"]}`, true},
		{"array not in", `{"classification": ["public"]}`, false},
		{"eq", `{"region": {"op": "eq", "value": "EU"}}`, true},
		{"ne", `{"region": {"op": "ne", "value": "US"}}`, true},
		{"ne same", `{"region": {"op": "ne", "value": "EU"}}`, false},
		{"in op", `{"classification": {"op": "in", "value": ["internal"]}}`, true},
		{"not_in op", `{"classification": {"op": "not_in", "value": ["secret"]}}`, true},
		{"not_in op hit", `{"classification": {"op": "not_in", "value": ["internal"]}}`, false},
		{"gt int vs float", `{"size": {"op": "gt", "value": 100.5}}`, true},
		{"gte equal", `{"size": {"op": "gte", "value": 120}}`, true},
		{"lt", `{"size": {"op": "lt", "value": 120}}`, false},
		{"lte", `{"size": {"op": "lte", "value": 120}}`, true},
		{"regex", `{"name": {"op": "regex", "value": "^sales_[0-9]{4}$"}}`, true},
		{"regex miss", `{"name": {"op": "regex", "value": "^hr_"}}`, false},
		{"user_attr op", `{"region": {"op": "user_attr", "value": "region"}}`, true},
		{"user_attr prefix", `{"resource.owner_id": {"$op": "eq", "value": "user_attr:id"}}`, true},
		{"user_attr mismatch", `{"department": {"op": "user_attr", "value": "department"}}`, false},
		{"user_attr nested", `{"country": {"op": "user_attr", "value": "profile.country"}}`, true},
		{"env fallback", `{"network": "corp"}`, true},
		{"env prefix", `{"env.hour": {"op": "gte", "value": 9}}`, true},
		{"subject prefix", `{"user.clearance": {"op": "gte", "value": 3}}`, true},
		{"subject alias", `{"subject.clearance": {"op": "gt", "value": 3}}`, false},
		{"nested subject", `{"user.profile.country": "DE"}`, true},
		{"and all true", `{"region": "EU", "classification": "internal"}`, true},
		{"and one false", `{"region": "EU", "classification": "public"}`, false},
		{"ref to numeric subject attr", `{"size": {"op": "gt", "value": "user_attr:clearance"}}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, evalString(t, tt.raw, rc))
		})
	}
}

func TestEvaluate_NoCoercion(t *testing.T) {
	rc := &Context{Resource: Attributes{"amount": "150", "flag": "true", "count": 10}}

	assert.False(t, evalString(t, `{"amount": {"op": "gt", "value": 100}}`, rc))
	assert.False(t, evalString(t, `{"amount": 150}`, rc))
	assert.False(t, evalString(t, `{"flag": true}`, rc))
	assert.False(t, evalString(t, `{"count": "10"}`, rc))
}

func TestEvaluate_NeAcrossKindsIsFalse(t *testing.T) {
	rc := &Context{Resource: Attributes{"count": 10, "flag": true, "name": "x"}}

	assert.False(t, evalString(t, `{"count": {"op": "ne", "value": "10"}}`, rc))
	assert.False(t, evalString(t, `{"flag": {"op": "ne", "value": 1}}`, rc))
	assert.False(t, evalString(t, `{"name": {"op": "ne", "value": false}}`, rc))
	assert.True(t, evalString(t, `{"count": {"op": "ne", "value": 11}}`, rc))
}

func TestEvaluate_LargeIntegersCompareExactly(t *testing.T) {
	rc := &Context{
		Subject:  Attributes{"id": int64(9007199254740993)},
		Resource: Attributes{"owner_id": int64(9007199254740992), "quota": uint64(18446744073709551615)},
	}

	assert.False(t, evalString(t, `{"owner_id": {"op": "user_attr", "value": "id"}}`, rc))
	assert.False(t, evalString(t, `{"owner_id": 9007199254740993}`, rc))
	assert.True(t, evalString(t, `{"owner_id": 9007199254740992}`, rc))
	assert.True(t, evalString(t, `{"owner_id": {"op": "lt", "value": 9007199254740993}}`, rc))
	assert.True(t, evalString(t, `{"owner_id": {"op": "ne", "value": 9007199254740993}}`, rc))
	assert.True(t, evalString(t, `{"quota": {"op": "gt", "value": 18446744073709551614}}`, rc))
	assert.True(t, evalString(t, `{"owner_id": {"op": "gt", "value": -9223372036854775808}}`, rc))
	assert.True(t, evalString(t, `{"owner_id": {"op": "lt", "value": 1e300}}`, rc))
}

func TestEvaluate_MissingAttributeFailsClosed(t *testing.T) {
	rc := &Context{Subject: Attributes{"id": "u-1"}}

	for _, raw := range []string{
		`{"region": "EU"}`,
		`{"region": {"op": "ne", "value": "EU"}}`,
		`{"region": {"op": "not_in", "value": ["EU"]}}`,
		`{"region": {"op": "user_attr", "value": "region"}}`,
		`{"region": {"op": "regex", "value": ".*"}}`,
		`{"resource.owner_id": {"op": "eq", "value": "user_attr:id"}}`,
	} {
		assert.False(t, evalString(t, raw, rc), raw)
	}
}

func TestEvaluate_RegexInputCap(t *testing.T) {
	rc := &Context{Resource: Attributes{"name": strings.Repeat("a", MaxMatchInput+1)}}
	assert.False(t, evalString(t, `{"name": {"op": "regex", "value": "^a+$"}}`, rc))
}

func TestEvaluate_Deadline(t *testing.T) {
	expr := MustParse(`{"region": "EU"}`)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	ok, err := expr.Evaluate(ctx, &Context{Resource: Attributes{"region": "EU"}})
	assert.False(t, ok)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEvaluationTimeout))
}

func TestEvaluate_Cancelled(t *testing.T) {
	expr := MustParse(`{"region": "EU"}`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok, err := expr.Evaluate(ctx, &Context{Resource: Attributes{"region": "EU"}})
	assert.False(t, ok)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, ErrEvaluationTimeout))
}

func TestExprString(t *testing.T) {
	expr := MustParse(`{"a": ["x", "y"], "b": {"op": "not_in", "value": [1]}, "c": {"op": "regex", "value": "^z"}}`)
	assert.Equal(t, `a in ["x", "y"] AND b not in [1] AND c =~ /^z/`, expr.String())
}
