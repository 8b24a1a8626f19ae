package query

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDecode(t *testing.T, raw string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func TestJSONataIdentity(t *testing.T) {
	ev := NewJSONata()
	input := mustDecode(t, `{"a":1}`)

	out, err := ev.Evaluate("$", input)
	require.NoError(t, err)

	raw, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(raw))
}

func TestJSONataEmptyExpressionIsIdentity(t *testing.T) {
	ev := NewJSONata()
	out, err := ev.Evaluate("", mustDecode(t, `[1,2]`))
	require.NoError(t, err)

	raw, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2]`, string(raw))
}

func TestJSONataFieldAccess(t *testing.T) {
	ev := NewJSONata()
	input := mustDecode(t, `{"users":[{"name":"ada"},{"name":"bob"}]}`)

	out, err := ev.Evaluate("users.name", input)
	require.NoError(t, err)

	raw, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `["ada","bob"]`, string(raw))
}

func TestJSONataNoMatchIsNil(t *testing.T) {
	ev := NewJSONata()
	out, err := ev.Evaluate("missing", mustDecode(t, `{"a":1}`))
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestJSONataSyntaxError(t *testing.T) {
	ev := NewJSONata()
	_, err := ev.Evaluate("$.a +", mustDecode(t, `{"a":1}`))
	require.Error(t, err)

	var evalErr *EvaluationError
	require.True(t, errors.As(err, &evalErr))
	assert.Equal(t, "$.a +", evalErr.Expression)
	assert.NotEmpty(t, evalErr.Message)
}

func TestEvaluatorFunc(t *testing.T) {
	var ev Evaluator = EvaluatorFunc(func(expression string, input any) (any, error) {
		return expression, nil
	})
	out, err := ev.Evaluate("x", nil)
	require.NoError(t, err)
	assert.Equal(t, "x", out)
}
