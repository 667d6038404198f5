package agent

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolCallAccumulator(t *testing.T) {
	t.Run("should assemble fragments arriving in any order", func(t *testing.T) {
		acc := newToolCallAccumulator(zerolog.Nop())
		acc.appendArgs(1, `{"path":`)
		acc.setName(0, "list")
		acc.appendArgs(0, `{}`)
		acc.setID(1, "call_b")
		acc.appendArgs(1, `"/tmp"}`)
		acc.setName(1, "read")
		acc.setID(0, "call_a")

		invs := acc.invocations()

		require.Len(t, invs, 2)
		assert.Equal(t, ToolInvocation{ID: "call_a", Name: "list", Arguments: map[string]any{}}, invs[0])
		assert.Equal(t, ToolInvocation{ID: "call_b", Name: "read", Arguments: map[string]any{"path": "/tmp"}}, invs[1])
	})

	t.Run("should ignore fragments after the block stopped", func(t *testing.T) {
		acc := newToolCallAccumulator(zerolog.Nop())
		acc.setID(0, "call_a")
		acc.setName(0, "list")
		acc.appendArgs(0, `{"n":1}`)
		acc.finish(0)
		acc.appendArgs(0, `garbage`)

		invs := acc.invocations()
		require.Len(t, invs, 1)
		assert.Equal(t, map[string]any{"n": float64(1)}, invs[0].Arguments)
	})

	t.Run("should degrade malformed arguments to an empty set", func(t *testing.T) {
		acc := newToolCallAccumulator(zerolog.Nop())
		acc.setID(0, "call_a")
		acc.setName(0, "list")
		acc.appendArgs(0, `{"n":`)

		invs := acc.invocations()
		require.Len(t, invs, 1)
		assert.Equal(t, map[string]any{}, invs[0].Arguments)
	})

	t.Run("should treat null arguments as empty", func(t *testing.T) {
		acc := newToolCallAccumulator(zerolog.Nop())
		acc.setName(0, "list")
		acc.appendArgs(0, `null`)

		assert.Equal(t, map[string]any{}, acc.invocations()[0].Arguments)
	})

	t.Run("should keep whole arguments from complete", func(t *testing.T) {
		acc := newToolCallAccumulator(zerolog.Nop())
		acc.complete(0, "id_1", "lookup", map[string]any{"a": 1})
		acc.complete(1, "id_2", "scan", nil)

		invs := acc.invocations()
		require.Len(t, invs, 2)
		assert.Equal(t, map[string]any{"a": 1}, invs[0].Arguments)
		assert.Equal(t, map[string]any{}, invs[1].Arguments)
	})

	t.Run("should ignore stops for unknown blocks", func(t *testing.T) {
		acc := newToolCallAccumulator(zerolog.Nop())
		acc.finish(3)

		assert.True(t, acc.empty())
		assert.Nil(t, acc.invocations())
	})
}

func TestResponseFinalize(t *testing.T) {
	t.Run("should prefer tool_calls whenever invocations exist", func(t *testing.T) {
		r := Response{ToolInvocations: []ToolInvocation{{ID: "x", Name: "y"}}}
		r.finalize(StopMoreText)
		assert.Equal(t, StopToolCalls, r.StopReason)
		assert.True(t, r.Success)
	})

	t.Run("should default to more_text", func(t *testing.T) {
		var r Response
		r.finalize("")
		assert.Equal(t, StopMoreText, r.StopReason)
	})
}
