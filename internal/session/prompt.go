package session

import "regexp"

var (
	controlCharsPattern = regexp.MustCompile(`[\r\x08]`)
	promptPattern       = regexp.MustCompile(`\S+ +$`)
)

// hasControlChars reports whether s carries a carriage return or backspace,
// which mark in-place redraws rather than a prompt.
func hasControlChars(s string) bool {
	return controlCharsPattern.MatchString(s)
}

// looksLikePrompt reports whether s ends in a word followed by spaces, as
// in "Password: " or "user@host$ ".
func looksLikePrompt(s string) bool {
	return !hasControlChars(s) && promptPattern.MatchString(s)
}
