package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/jsonqueryflow/pkg/schemalite"
)

func TestBuildEmbedsSchemaAndRequest(t *testing.T) {
	value := map[string]any{
		"users": []any{map[string]any{"Name": "alice", "age": 31.0}},
	}
	sc := schemalite.Infer(value)

	out, err := Build(sc, "names of users older than 30")
	require.NoError(t, err)

	assert.Contains(t, out, `"Name"`)
	assert.Contains(t, out, `"age"`)
	assert.Contains(t, out, `"number"`)
	assert.Contains(t, out, `"names of users older than 30"`)
	assert.Contains(t, out, "Return ONE single-line JSONata expression")
	assert.NotContains(t, out, "alice", "data values never reach the prompt")
	assert.NotContains(t, out, "{schema}")
	assert.NotContains(t, out, "{request}")
}

func TestBuildIsDeterministic(t *testing.T) {
	wire := map[string]any{"b": "string", "a": "number", "c": []any{"boolean"}}

	first, err := Build(wire, "q")
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := Build(wire, "q")
		require.NoError(t, err)
		require.Equal(t, first, again)
	}

	// Keys are sorted.
	assert.Less(t, strings.Index(first, `"a"`), strings.Index(first, `"b"`))
	assert.Less(t, strings.Index(first, `"b"`), strings.Index(first, `"c"`))
}

func TestBuildRequestWithBraces(t *testing.T) {
	out, err := Build("string", `map to {label, value}`)
	require.NoError(t, err)
	assert.Contains(t, out, `"map to {label, value}"`)
}
