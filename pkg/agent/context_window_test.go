package agent

import (
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func longConversation(n int) []Message {
	msgs := []Message{{Role: RoleUser, Content: "Task: clean up the project folder"}}
	for i := 0; i < n; i++ {
		role := RoleAssistant
		if i%2 == 1 {
			role = RoleUser
		}
		msgs = append(msgs, Message{Role: role, Content: fmt.Sprintf("%03d %s", i, strings.Repeat("x", 100))})
	}
	return msgs
}

func TestContextWindowEstimate(t *testing.T) {
	w := NewContextWindow(100, 0, zerolog.Nop())

	t.Run("should round each message up", func(t *testing.T) {
		msg := Message{Role: RoleUser, Content: "a"}
		// {"role":"user","content":"a"} is 29 bytes
		assert.Equal(t, 10, w.Estimate([]Message{msg}))
		assert.Equal(t, 20, w.Estimate([]Message{msg, msg}))
	})

	t.Run("should be zero for nothing", func(t *testing.T) {
		assert.Equal(t, 0, w.Estimate(nil))
	})
}

func TestContextWindowFit(t *testing.T) {
	t.Run("should leave conversations under budget alone", func(t *testing.T) {
		w := NewContextWindow(100000, 3, zerolog.Nop())
		msgs := longConversation(10)

		out, trimmed := w.Fit(msgs)
		assert.False(t, trimmed)
		assert.Equal(t, msgs, out)
	})

	t.Run("should not trim when disabled", func(t *testing.T) {
		w := NewContextWindow(0, 3, zerolog.Nop())
		msgs := longConversation(200)

		out, trimmed := w.Fit(msgs)
		assert.False(t, trimmed)
		assert.Len(t, out, len(msgs))
	})

	for _, budget := range []int{200, 300, 500, 1000, 2000} {
		t.Run(fmt.Sprintf("should keep first and newest within %d tokens", budget), func(t *testing.T) {
			w := NewContextWindow(budget, 3, zerolog.Nop())
			msgs := longConversation(80)
			require.Greater(t, w.Estimate(msgs), budget)

			out, trimmed := w.Fit(msgs)

			require.True(t, trimmed)
			assert.Equal(t, msgs[0], out[0])
			assert.Equal(t, msgs[len(msgs)-1], out[len(out)-1])
			assert.LessOrEqual(t, w.Estimate(out), budget)
			assert.Equal(t, trimNoticeText, out[1].Content)
			assert.Equal(t, trimAckText, out[2].Content)
		})
	}

	t.Run("should keep a contiguous newest suffix in order", func(t *testing.T) {
		w := NewContextWindow(600, 3, zerolog.Nop())
		msgs := longConversation(40)

		out, _ := w.Fit(msgs)
		kept := out[3:]
		assert.Equal(t, msgs[len(msgs)-len(kept):], kept)
	})

	t.Run("should keep tool results with their call", func(t *testing.T) {
		w := NewContextWindow(150, 3, zerolog.Nop())
		msgs := longConversation(20)
		msgs = append(msgs,
			Message{Role: RoleAssistant, ToolCalls: []ToolInvocation{{ID: "c1", Name: "list", Arguments: map[string]any{}}}},
			Message{Role: RoleTool, ToolResults: []ToolOutcome{{CallID: "c1", ToolName: "list", Success: true, Payload: "a b c"}}},
		)

		out, trimmed := w.Fit(msgs)

		require.True(t, trimmed)
		require.GreaterOrEqual(t, len(out), 2)
		assert.Equal(t, RoleTool, out[len(out)-1].Role)
		assert.Equal(t, RoleAssistant, out[len(out)-2].Role)
		assert.Len(t, out[len(out)-2].ToolCalls, 1)
	})

	t.Run("should fall back to the newest message alone", func(t *testing.T) {
		w := NewContextWindow(50, 3, zerolog.Nop())
		msgs := longConversation(10)

		out, trimmed := w.Fit(msgs)

		require.True(t, trimmed)
		assert.Equal(t, []Message{msgs[len(msgs)-1]}, out)
	})

	t.Run("should return an oversized newest tool group alone", func(t *testing.T) {
		w := NewContextWindow(150, 3, zerolog.Nop())
		msgs := longConversation(4)
		msgs = append(msgs,
			Message{Role: RoleAssistant, ToolCalls: []ToolInvocation{{ID: "c1", Name: "read_file", Arguments: map[string]any{"path": "big.log"}}}},
			Message{Role: RoleTool, ToolResults: []ToolOutcome{{CallID: "c1", ToolName: "read_file", Success: true, Payload: strings.Repeat("y", 600)}}},
		)
		group := msgs[len(msgs)-2:]
		require.Greater(t, w.Estimate(group), 150)

		out, trimmed := w.Fit(msgs)

		require.True(t, trimmed)
		assert.Equal(t, group, out)
		assert.NotEqual(t, msgs[0], out[0])
		assert.Greater(t, w.Estimate(out), w.Budget())
	})

	t.Run("should drop the notice before the first message", func(t *testing.T) {
		w := NewContextWindow(100, 3, zerolog.Nop())
		msgs := longConversation(10)
		first := w.Estimate(msgs[:1])
		newest := w.Estimate(msgs[len(msgs)-1:])
		require.LessOrEqual(t, first+newest, 100)
		require.Greater(t, first+newest+w.Estimate(trimNotice()), 100)

		out, trimmed := w.Fit(msgs)

		require.True(t, trimmed)
		assert.Equal(t, []Message{msgs[0], msgs[len(msgs)-1]}, out)
	})
}

func TestGroupUnits(t *testing.T) {
	msgs := []Message{
		{Role: RoleUser, Content: "a"},
		{Role: RoleAssistant, ToolCalls: []ToolInvocation{{ID: "1"}, {ID: "2"}}},
		{Role: RoleTool, ToolResults: []ToolOutcome{{CallID: "1"}}},
		{Role: RoleTool, ToolResults: []ToolOutcome{{CallID: "2"}}},
		{Role: RoleAssistant, Content: "done"},
	}

	units := groupUnits(msgs)

	require.Len(t, units, 3)
	assert.Len(t, units[0], 1)
	assert.Len(t, units[1], 3)
	assert.Len(t, units[2], 1)
}
