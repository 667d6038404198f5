package agent

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/harun/hostpilot/internal/observability"
)

const (
	// DefaultCharsPerToken undercounts real tokenizers, so estimates run high.
	DefaultCharsPerToken = 3

	DefaultContextTokenBudget = 100000

	trimNoticeText = "[Earlier conversation history was trimmed to fit the context window.]"
	trimAckText    = "Understood. I will continue from the most recent context."
)

// ContextWindow keeps outgoing conversations under a token budget.
type ContextWindow struct {
	budget        int
	charsPerToken int
	logger        zerolog.Logger
}

// NewContextWindow creates a window. A non-positive budget disables trimming.
func NewContextWindow(budget, charsPerToken int, logger zerolog.Logger) *ContextWindow {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	return &ContextWindow{budget: budget, charsPerToken: charsPerToken, logger: logger}
}

// Budget returns the token budget.
func (w *ContextWindow) Budget() int {
	return w.budget
}

// Estimate returns the token estimate of msgs. Each message is measured by
// its JSON form and rounded up, so the estimate is additive.
func (w *ContextWindow) Estimate(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += w.estimateOne(m)
	}
	return total
}

func (w *ContextWindow) estimateOne(m Message) int {
	data, err := json.Marshal(m)
	if err != nil {
		return (len(m.Content) + w.charsPerToken - 1) / w.charsPerToken
	}
	return (len(data) + w.charsPerToken - 1) / w.charsPerToken
}

// Fit returns msgs unchanged when they fit. Otherwise it keeps the first
// message, a trim notice pair and as many of the newest messages as the
// budget allows. The newest message is always kept, together with the tool
// call it answers. When that group does not fit beside the first message the
// group is returned alone, even if it exceeds the budget.
func (w *ContextWindow) Fit(msgs []Message) ([]Message, bool) {
	if w.budget <= 0 || len(msgs) < 2 {
		return msgs, false
	}
	if w.Estimate(msgs) <= w.budget {
		return msgs, false
	}

	first := msgs[0]
	units := groupUnits(msgs[1:])
	newest := units[len(units)-1]

	head := append([]Message{first}, trimNotice()...)
	remaining := w.budget - w.Estimate(head) - w.Estimate(newest)

	var out []Message
	switch {
	case remaining >= 0:
		kept := [][]Message{newest}
		for i := len(units) - 2; i >= 0; i-- {
			cost := w.Estimate(units[i])
			if cost > remaining {
				break
			}
			remaining -= cost
			kept = append(kept, units[i])
		}
		out = head
		for i := len(kept) - 1; i >= 0; i-- {
			out = append(out, kept[i]...)
		}
	case w.Estimate([]Message{first})+w.Estimate(newest) <= w.budget:
		out = append([]Message{first}, newest...)
	default:
		out = append([]Message(nil), newest...)
	}

	dropped := len(msgs) - countOriginal(out)
	observability.RecordContextTrim(dropped)
	w.logger.Info().
		Int("messages", len(msgs)).
		Int("dropped", dropped).
		Int("budget", w.budget).
		Int("estimate", w.Estimate(out)).
		Msg("Trimmed conversation to fit context window")
	return out, true
}

func trimNotice() []Message {
	return []Message{
		{Role: RoleUser, Content: trimNoticeText},
		{Role: RoleAssistant, Content: trimAckText},
	}
}

func isTrimNotice(m Message) bool {
	return (m.Role == RoleUser && m.Content == trimNoticeText) ||
		(m.Role == RoleAssistant && m.Content == trimAckText)
}

func countOriginal(msgs []Message) int {
	n := 0
	for _, m := range msgs {
		if !isTrimNotice(m) {
			n++
		}
	}
	return n
}

// groupUnits splits msgs so an assistant tool-call message stays together
// with the result messages that answer it. Splitting them would leave
// results that reference calls the upstream never saw.
func groupUnits(msgs []Message) [][]Message {
	var units [][]Message
	for i := 0; i < len(msgs); {
		if msgs[i].Role == RoleAssistant && len(msgs[i].ToolCalls) > 0 {
			_, next := collectOutcomes(msgs, i+1)
			units = append(units, msgs[i:next])
			i = next
			continue
		}
		units = append(units, msgs[i:i+1])
		i++
	}
	return units
}
