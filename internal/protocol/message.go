package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a server-originated message with the current timestamp.
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Server → Client message types.
const (
	TypeConsolePrompt    = "console.prompt"
	TypeConsoleOutput    = "console.output"
	TypeConsoleExit      = "console.exit"
	TypeTerminalSubprocs = "terminal.subprocs"
	TypeTerminalCwd      = "terminal.cwd"
	TypeSessionUpdate    = "session.update"
	TypeSessionRemoved   = "session.removed"
	TypeError            = "error"
)

// Client → Server message types.
const (
	TypeTerminalCreate   = "terminal.create"
	TypeSessionCreate    = "session.create"
	TypeSessionStart     = "session.start"
	TypeConsoleInput     = "console.input"
	TypeTerminalResize   = "terminal.resize"
	TypeConsoleInterrupt = "console.interrupt"
	TypeSessionRemove    = "session.remove"
)

// Error codes.
const (
	ErrSessionNotFound = "SESSION_NOT_FOUND"
	ErrInvalidMessage  = "INVALID_MESSAGE"
	ErrMaxSessions     = "MAX_SESSIONS"
	ErrLaunchFailed    = "LAUNCH_FAILED"
	ErrInternal        = "INTERNAL"
)

// Server → Client payloads.

type ConsolePromptPayload struct {
	EventID uint64 `json:"eventId"`
	Handle  string `json:"handle"`
	Prompt  string `json:"prompt"`
}

type ConsoleOutputPayload struct {
	EventID uint64 `json:"eventId"`
	Handle  string `json:"handle"`
	Output  string `json:"output"`
}

type ConsoleExitPayload struct {
	EventID  uint64 `json:"eventId"`
	Handle   string `json:"handle"`
	ExitCode int    `json:"exitCode"`
}

type TerminalSubprocsPayload struct {
	EventID  uint64 `json:"eventId"`
	Handle   string `json:"handle"`
	Subprocs bool   `json:"subprocs"`
}

type TerminalCwdPayload struct {
	EventID uint64 `json:"eventId"`
	Handle  string `json:"handle"`
	Cwd     string `json:"cwd"`
}

// SessionUpdatePayload describes one session in the table.
type SessionUpdatePayload struct {
	Handle           string `json:"handle"`
	Caption          string `json:"caption"`
	Mode             string `json:"mode"`
	ShellType        string `json:"shellType"`
	InteractionMode  string `json:"interactionMode"`
	ChannelMode      string `json:"channelMode"`
	ChannelID        string `json:"channelId,omitempty"`
	Started          bool   `json:"started"`
	ExitCode         *int   `json:"exitCode"`
	Zombie           bool   `json:"zombie"`
	Restarted        bool   `json:"restarted"`
	AltBufferActive  bool   `json:"altBufferActive"`
	HasChildProcs    bool   `json:"hasChildProcs"`
	Cols             int    `json:"cols"`
	Rows             int    `json:"rows"`
	Cwd              string `json:"cwd,omitempty"`
	TerminalSequence int    `json:"terminalSequence"`
	CreatedAt        string `json:"createdAt"`
	// Markers around environment samples in the output, set when the
	// session tracks its environment.
	SampleBegin string `json:"sampleBegin,omitempty"`
	SampleEnd   string `json:"sampleEnd,omitempty"`
}

type SessionRemovedPayload struct {
	Handle string `json:"handle"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// BufferPayload is one chunk of a session's saved scrollback.
type BufferPayload struct {
	Handle string `json:"handle"`
	Chunk  int    `json:"chunk"`
	Text   string `json:"text"`
	More   bool   `json:"more"`
}

// Client → Server payloads. The same bodies are accepted over REST.

type TerminalCreatePayload struct {
	Handle           string `json:"handle,omitempty"`
	Caption          string `json:"caption"`
	ShellType        string `json:"shellType,omitempty"`
	Cols             int    `json:"cols,omitempty"`
	Rows             int    `json:"rows,omitempty"`
	Cwd              string `json:"cwd,omitempty"`
	TerminalSequence int    `json:"terminalSequence,omitempty"`
	TrackEnv         bool   `json:"trackEnv,omitempty"`
	AllowRestart     bool   `json:"allowRestart,omitempty"`
	Start            bool   `json:"start,omitempty"`
}

// SessionCreatePayload runs Command through the shell, or Program with Args.
type SessionCreatePayload struct {
	Command string   `json:"command,omitempty"`
	Program string   `json:"program,omitempty"`
	Args    []string `json:"args,omitempty"`
	Cwd     string   `json:"cwd,omitempty"`
	Caption string   `json:"caption"`
	Start   bool     `json:"start,omitempty"`
}

type ConsoleInputPayload struct {
	Handle    string `json:"handle"`
	Text      string `json:"text"`
	Interrupt bool   `json:"interrupt,omitempty"`
	Sequence  *int   `json:"sequence,omitempty"`
	Echo      bool   `json:"echo,omitempty"`
}

type TerminalResizePayload struct {
	Handle string `json:"handle"`
	Cols   int    `json:"cols"`
	Rows   int    `json:"rows"`
}

type ConsoleInterruptPayload struct {
	Handle string `json:"handle"`
	// Child interrupts only the foreground job of a terminal.
	Child bool `json:"child,omitempty"`
}

type HandlePayload struct {
	Handle string `json:"handle"`
}
