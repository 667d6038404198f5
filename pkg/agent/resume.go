package agent

import "strings"

var resumePhrases = []string{"continue", "resume", "go ahead"}

// IsResumePhrase reports whether text asks to pick up an interrupted task.
func IsResumePhrase(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range resumePhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
