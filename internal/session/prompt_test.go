package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLooksLikePrompt(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want bool
	}{
		{"user@host$  ", true},
		{"Password: ", true},
		{"Overwrite file? [y/n] ", true},
		{"foo\r  ", false},
		{"abc\b ", false},
		{"no trailing space", false},
		{"   ", false},
		{"", false},
		{"progress 45%", false},
	} {
		assert.Equal(t, tc.want, looksLikePrompt(tc.in), "%q", tc.in)
	}
}

func TestHasControlChars(t *testing.T) {
	assert.True(t, hasControlChars("a\rb"))
	assert.True(t, hasControlChars("a\bb"))
	assert.False(t, hasControlChars("plain text\n"))
}
