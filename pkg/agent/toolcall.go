package agent

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// invocationBuilder collects the fragments of one streamed tool call.
type invocationBuilder struct {
	index  int
	id     string
	name   string
	args   strings.Builder
	parsed map[string]any
	done   bool
}

// toolCallAccumulator maps a provider index to a partial invocation. Fragments
// may arrive in any order; invocations are built only when a block closes or
// the stream ends.
type toolCallAccumulator struct {
	builders map[int]*invocationBuilder
	logger   zerolog.Logger
}

func newToolCallAccumulator(logger zerolog.Logger) *toolCallAccumulator {
	return &toolCallAccumulator{
		builders: make(map[int]*invocationBuilder),
		logger:   logger,
	}
}

func (a *toolCallAccumulator) builder(index int) *invocationBuilder {
	b, ok := a.builders[index]
	if !ok {
		b = &invocationBuilder{index: index}
		a.builders[index] = b
	}
	return b
}

func (a *toolCallAccumulator) setID(index int, id string) {
	if id != "" {
		a.builder(index).id = id
	}
}

func (a *toolCallAccumulator) setName(index int, name string) {
	if name != "" {
		a.builder(index).name = name
	}
}

func (a *toolCallAccumulator) appendArgs(index int, fragment string) {
	b := a.builder(index)
	if b.done {
		return
	}
	b.args.WriteString(fragment)
}

// complete records a call whose arguments arrived whole.
func (a *toolCallAccumulator) complete(index int, id, name string, args map[string]any) {
	b := a.builder(index)
	b.id = id
	b.name = name
	if args == nil {
		args = map[string]any{}
	}
	b.parsed = args
	b.done = true
}

// finish closes the block at index. Unknown indexes (text blocks) are ignored.
func (a *toolCallAccumulator) finish(index int) {
	b, ok := a.builders[index]
	if !ok || b.done {
		return
	}
	b.parsed = a.parseArguments(b)
	b.done = true
}

func (a *toolCallAccumulator) empty() bool {
	return len(a.builders) == 0
}

// invocations finalizes every builder and returns them by ascending index.
func (a *toolCallAccumulator) invocations() []ToolInvocation {
	if len(a.builders) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(a.builders))
	for idx := range a.builders {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	out := make([]ToolInvocation, 0, len(indexes))
	for _, idx := range indexes {
		a.finish(idx)
		b := a.builders[idx]
		out = append(out, ToolInvocation{ID: b.id, Name: b.name, Arguments: b.parsed})
	}
	return out
}

// parseArguments never fails: malformed JSON degrades to an empty set.
func (a *toolCallAccumulator) parseArguments(b *invocationBuilder) map[string]any {
	raw := strings.TrimSpace(b.args.String())
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		a.logger.Warn().
			Err(err).
			Str("tool", b.name).
			Str("call_id", b.id).
			Int("bytes", len(raw)).
			Msg("Malformed tool arguments, using empty set")
		return map[string]any{}
	}
	if args == nil {
		return map[string]any{}
	}
	return args
}
