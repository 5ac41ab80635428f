//go:build windows

package session

import (
	"strings"

	"termplex/internal/supervisor"
)

func setShellEnv(env map[string]string, editFileCommand string) {}

// setTerm drops TERM; console hosts misbehave when it is inherited.
func setTerm(opts *supervisor.ProcessOptions) {
	delete(opts.Environment, "TERM")
}

func stdinText(text string, smartTerminal bool) string {
	if smartTerminal {
		return text
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\n", "\r\n")
}
