package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsResumePhrase(t *testing.T) {
	cases := map[string]bool{
		"continue":                      true,
		"Please CONTINUE where we were": true,
		"resume the task":               true,
		"ok, go ahead":                  true,
		"Go Ahead":                      true,
		"start over":                    false,
		"":                              false,
		"go on":                         false,
	}
	for text, want := range cases {
		t.Run(fmt.Sprintf("should return %v for %q", want, text), func(t *testing.T) {
			assert.Equal(t, want, IsResumePhrase(text))
		})
	}
}

func TestError(t *testing.T) {
	t.Run("should expose kind and cause", func(t *testing.T) {
		err := fmt.Errorf("run: %w", &Error{Kind: KindCancelled, Message: "run cancelled", Err: context.Canceled})

		assert.Equal(t, KindCancelled, KindOf(err))
		assert.True(t, errors.Is(err, context.Canceled))
		assert.Contains(t, err.Error(), "cancelled: run cancelled")
	})

	t.Run("should return empty kind for other errors", func(t *testing.T) {
		assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
		assert.Equal(t, ErrorKind(""), KindOf(nil))
	})

	t.Run("should format without a cause", func(t *testing.T) {
		e := &Error{Kind: KindUpstreamError, Message: "bad"}
		assert.Equal(t, "upstream_error: bad", e.Error())
	})
}
