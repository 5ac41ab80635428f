package session

import (
	"os"
	"path/filepath"
	"strings"

	"termplex/internal/store"
	"termplex/internal/supervisor"
)

func (s *Session) onStdout(ops supervisor.ProcessOperations, output string) {
	if output == "" {
		return
	}
	if s.spec.Options.SmartTerminal {
		s.flush(output)
		return
	}

	text := strings.ReplaceAll(output, "\r\n", "\n")
	if strings.HasSuffix(text, "\n") {
		s.flush(text)
		return
	}

	// Whatever follows the last line is a candidate prompt.
	if idx := strings.LastIndexAny(text, "\n\f"); idx >= 0 {
		s.flush(text[:idx+1])
		text = text[idx+1:]
	}
	s.classify(ops, text)
}

// classify flushes candidate as output unless it looks like a prompt.
func (s *Session) classify(ops supervisor.ProcessOperations, candidate string) {
	if candidate == "" {
		return
	}
	if !looksLikePrompt(candidate) {
		s.flush(candidate)
		return
	}
	s.handlePrompt(ops, candidate)
}

func (s *Session) handlePrompt(ops supervisor.ProcessOperations, prompt string) {
	if s.promptHandler != nil {
		if response, handled := s.promptHandler(prompt); handled {
			if !response.Empty() {
				s.EnqueueInput(response)
			} else if err := ops.Terminate(); err != nil {
				s.logf("terminate after prompt: %v", err)
			}
			return
		}
	}
	s.notify(Event{Type: EventPrompt, Prompt: prompt})
}

// flush records output and delivers it over the session's channel.
func (s *Session) flush(output string) {
	s.mu.Lock()
	s.sampling = false
	s.mu.Unlock()

	wasAlt := s.info.AltBufferActive()
	if s.spec.Options.SmartTerminal {
		s.info.ObserveOutput(output)
	} else {
		s.info.AppendToOutputBuffer(output)
	}
	if s.info.AltBufferActive() != wasAlt {
		s.persist()
	}

	if mode, _ := s.info.ChannelMode(); mode == store.ChannelPush && s.deps.Push != nil {
		if err := s.deps.Push.SendText(s.info.Handle(), output); err != nil {
			s.logf("send output: %v", err)
		}
		return
	}

	// Too much output at once leaves the client unresponsive.
	trimmed := store.TrimLeadingLines(output, s.info.MaxOutputLines())
	s.notify(Event{Type: EventOutput, Output: trimmed})
}

// aliasHome shortens paths under the home directory to "~".
func aliasHome(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if path == home {
		return "~"
	}
	if rel, ok := strings.CutPrefix(path, home+string(filepath.Separator)); ok {
		return "~/" + filepath.ToSlash(rel)
	}
	return path
}
