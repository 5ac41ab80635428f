package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	// ChunkSize is the size of one SavedBufferChunk.
	ChunkSize = 8 * 1024
	// MaxLogSize caps a session's scrollback; older output is dropped.
	MaxLogSize = 1024 * 1024
)

// Alternate screen switches, as emitted by full-screen programs.
var (
	altScreenEnter = []string{"\x1b[?1049h", "\x1b[?1047h", "\x1b[?47h"}
	altScreenExit  = []string{"\x1b[?1049l", "\x1b[?1047l", "\x1b[?47l"}
)

// outputBuffer is a session's scrollback. With a log directory it is a file
// named after the session handle; without one it lives in memory.
type outputBuffer struct {
	mu     sync.Mutex
	logDir string
	handle string
	mem    []byte
}

func newOutputBuffer(logDir string) *outputBuffer {
	return &outputBuffer{logDir: logDir}
}

func (b *outputBuffer) setHandle(handle string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handle = handle
}

func (b *outputBuffer) path() string {
	return filepath.Join(b.logDir, b.handle+".log")
}

func (b *outputBuffer) persistent() bool {
	return b.logDir != "" && b.handle != ""
}

func (b *outputBuffer) append(text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.persistent() {
		b.mem = capLog(append(b.mem, text...))
		return nil
	}

	if err := os.MkdirAll(b.logDir, 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(b.path(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	_, werr := f.WriteString(text)
	info, serr := f.Stat()
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return fmt.Errorf("write log file: %w", werr)
	}
	if serr == nil && info.Size() > MaxLogSize {
		data, err := os.ReadFile(b.path())
		if err != nil {
			return fmt.Errorf("read log file: %w", err)
		}
		if err := os.WriteFile(b.path(), capLog(data), 0o600); err != nil {
			return fmt.Errorf("trim log file: %w", err)
		}
	}
	return nil
}

func (b *outputBuffer) read() ([]byte, error) {
	if !b.persistent() {
		out := make([]byte, len(b.mem))
		copy(out, b.mem)
		return out, nil
	}
	data, err := os.ReadFile(b.path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read log file: %w", err)
	}
	return data, nil
}

func (b *outputBuffer) contents() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, err := b.read()
	return string(data), err
}

func (b *outputBuffer) chunk(n int) (string, bool, error) {
	if n < 0 {
		return "", false, fmt.Errorf("invalid chunk %d", n)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	data, err := b.read()
	if err != nil {
		return "", false, err
	}
	start := n * ChunkSize
	if start >= len(data) {
		return "", false, nil
	}
	end := start + ChunkSize
	if end > len(data) {
		end = len(data)
	}
	return string(data[start:end]), end < len(data), nil
}

func (b *outputBuffer) remove(lastLineOnly bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !lastLineOnly {
		b.mem = nil
		if !b.persistent() {
			return nil
		}
		if err := os.Remove(b.path()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove log file: %w", err)
		}
		return nil
	}

	data, err := b.read()
	if err != nil {
		return err
	}
	data = dropLastLine(data)
	if !b.persistent() {
		b.mem = data
		return nil
	}
	if err := os.WriteFile(b.path(), data, 0o600); err != nil {
		return fmt.Errorf("rewrite log file: %w", err)
	}
	return nil
}

// dropLastLine removes the final line, ignoring a trailing newline.
func dropLastLine(data []byte) []byte {
	s := strings.TrimSuffix(string(data), "\n")
	idx := strings.LastIndexByte(s, '\n')
	if idx < 0 {
		return nil
	}
	return []byte(s[:idx+1])
}

// capLog keeps at most MaxLogSize trailing bytes, starting on a line boundary.
func capLog(data []byte) []byte {
	if len(data) <= MaxLogSize {
		return data
	}
	data = data[len(data)-MaxLogSize:]
	if idx := strings.IndexByte(string(data), '\n'); idx >= 0 {
		data = data[idx+1:]
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

// altScreenTransition reports the alternate screen state implied by the last
// switch in text, and whether text contained any switch at all.
func altScreenTransition(text string) (active, changed bool) {
	lastEnter, lastExit := -1, -1
	for _, seq := range altScreenEnter {
		if idx := strings.LastIndex(text, seq); idx > lastEnter {
			lastEnter = idx
		}
	}
	for _, seq := range altScreenExit {
		if idx := strings.LastIndex(text, seq); idx > lastExit {
			lastExit = idx
		}
	}
	if lastEnter < 0 && lastExit < 0 {
		return false, false
	}
	return lastEnter > lastExit, true
}

// TrimLeadingLines drops leading lines so that at most maxLines remain.
func TrimLeadingLines(text string, maxLines int) string {
	if maxLines <= 0 {
		return text
	}
	lines := 0
	for idx := len(text) - 1; idx >= 0; idx-- {
		if text[idx] != '\n' || idx == len(text)-1 {
			continue
		}
		lines++
		if lines == maxLines {
			return text[idx+1:]
		}
	}
	return text
}
