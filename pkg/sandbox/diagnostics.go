package sandbox

import (
	"errors"
	"fmt"
	"go/scanner"
	"regexp"
	"strconv"
	"strings"
)

// Diagnostic is a compiler message positioned in the caller's fragment.
type Diagnostic struct {
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Message string `json:"message"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("line %d:%d: %s", d.Line, d.Column, d.Message)
}

// positioned messages look like "_.go:12:5: undefined: x" or "12:5: undefined: x".
var positionPattern = regexp.MustCompile(`^(?:[^\s:]*\.go:)?(\d+):(\d+): (.*)$`)

// diagnose converts an interpreter compile error into fragment diagnostics.
func (w *wrapper) diagnose(err error, fragment string) []Diagnostic {
	lines := strings.Count(fragment, "\n") + 1

	var list scanner.ErrorList
	if errors.As(err, &list) {
		diags := make([]Diagnostic, 0, len(list))
		for _, e := range list {
			diags = append(diags, Diagnostic{
				Line:    w.fragmentLine(e.Pos.Line, lines),
				Column:  e.Pos.Column,
				Message: e.Msg,
			})
		}
		return diags
	}

	var diags []Diagnostic
	for _, raw := range strings.Split(err.Error(), "\n") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		m := positionPattern.FindStringSubmatch(raw)
		if m == nil {
			diags = append(diags, Diagnostic{Line: 1, Column: 1, Message: raw})
			continue
		}
		line, _ := strconv.Atoi(m[1])
		col, _ := strconv.Atoi(m[2])
		diags = append(diags, Diagnostic{
			Line:    w.fragmentLine(line, lines),
			Column:  col,
			Message: m[3],
		})
	}
	return diags
}
