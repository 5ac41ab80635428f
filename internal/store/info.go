package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"termplex/internal/shell"
)

// ChannelMode is the delivery channel negotiated for a session.
type ChannelMode string

const (
	ChannelPoll ChannelMode = "rpc"
	ChannelPush ChannelMode = "websocket"
)

// InteractionMode describes whether a session's process may read from the
// user. Anything other than InteractionNever gets a pseudo-terminal.
type InteractionMode string

const (
	InteractionAlways   InteractionMode = "always"
	InteractionPossible InteractionMode = "possible"
	InteractionNever    InteractionMode = "never"
)

// NoTerminal is the terminal sequence of sessions that are not terminals.
const NoTerminal = 0

const (
	DefaultCols           = 80
	DefaultRows           = 25
	DefaultMaxOutputLines = 1000
)

// Record is the persisted form of a session.
type Record struct {
	Handle           string          `gorm:"primaryKey;size:64" json:"handle"`
	Caption          string          `json:"caption"`
	ShowOnOutput     bool            `json:"show_on_output"`
	InteractionMode  InteractionMode `gorm:"size:16" json:"interaction_mode"`
	MaxOutputLines   int             `json:"max_output_lines"`
	ShellType        shell.Type      `json:"shell_type"`
	Cols             int             `json:"cols"`
	Rows             int             `json:"rows"`
	Cwd              string          `json:"cwd"`
	ChannelMode      ChannelMode     `gorm:"size:16" json:"channel_mode"`
	ChannelID        string          `json:"channel_id"`
	ExitCode         *int            `json:"exit_code"`
	Zombie           bool            `json:"zombie"`
	AltBufferActive  bool            `json:"alt_buffer_active"`
	Restarted        bool            `json:"restarted"`
	AllowRestart     bool            `json:"allow_restart"`
	TrackEnv         bool            `json:"track_env"`
	HasChildProcs    bool            `json:"has_child_procs"`
	TerminalSequence int             `json:"terminal_sequence"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// Info is the live, thread-safe session record shared by a session and the
// store. Its scrollback is kept in a log file under logDir, or in memory
// when logDir is empty.
type Info struct {
	mu     sync.Mutex
	rec    Record
	buffer *outputBuffer
}

// NewInfo returns a record with default geometry whose scrollback lives in
// logDir.
func NewInfo(logDir string) *Info {
	return &Info{
		rec: Record{
			InteractionMode: InteractionPossible,
			MaxOutputLines:  DefaultMaxOutputLines,
			Cols:            DefaultCols,
			Rows:            DefaultRows,
			ChannelMode:     ChannelPoll,
			CreatedAt:       time.Now().UTC(),
		},
		buffer: newOutputBuffer(logDir),
	}
}

// NewInfoFromRecord wraps a previously persisted record.
func NewInfoFromRecord(rec Record, logDir string) *Info {
	info := &Info{rec: rec, buffer: newOutputBuffer(logDir)}
	info.buffer.setHandle(rec.Handle)
	return info
}

// EnsureHandle assigns a new unique handle if the record has none yet.
func (i *Info) EnsureHandle() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.rec.Handle == "" {
		i.rec.Handle = uuid.New().String()
		i.buffer.setHandle(i.rec.Handle)
	}
	return i.rec.Handle
}

// SetHandle reuses a handle from an earlier session.
func (i *Info) SetHandle(handle string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.rec.Handle = handle
	i.buffer.setHandle(handle)
}

func (i *Info) Handle() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.rec.Handle
}

// Record returns a copy of the persisted fields.
func (i *Info) Record() Record {
	i.mu.Lock()
	defer i.mu.Unlock()
	rec := i.rec
	if i.rec.ExitCode != nil {
		code := *i.rec.ExitCode
		rec.ExitCode = &code
	}
	return rec
}

// AppendToOutputBuffer appends text to the scrollback and tracks alternate
// screen switches found in it.
func (i *Info) AppendToOutputBuffer(text string) {
	i.ObserveOutput(text)
	i.mu.Lock()
	handle := i.rec.Handle
	i.mu.Unlock()
	if err := i.buffer.append(text); err != nil {
		logf("session %s: append to output buffer: %v", handle, err)
	}
}

// ObserveOutput updates alternate screen status without buffering text.
func (i *Info) ObserveOutput(text string) {
	active, changed := altScreenTransition(text)
	if !changed {
		return
	}
	i.mu.Lock()
	i.rec.AltBufferActive = active
	i.mu.Unlock()
}

// BufferedOutput returns the tail of the scrollback, limited to the record's
// maximum output lines.
func (i *Info) BufferedOutput() string {
	full, err := i.buffer.contents()
	if err != nil {
		logf("session %s: read output buffer: %v", i.Handle(), err)
		return ""
	}
	return TrimLeadingLines(full, i.MaxOutputLines())
}

// FullSavedBuffer returns the entire scrollback.
func (i *Info) FullSavedBuffer() string {
	full, err := i.buffer.contents()
	if err != nil {
		logf("session %s: read output buffer: %v", i.Handle(), err)
		return ""
	}
	return full
}

// SavedBufferChunk returns the chunk'th slice of the scrollback and whether
// more chunks follow it.
func (i *Info) SavedBufferChunk(chunk int) (string, bool) {
	text, more, err := i.buffer.chunk(chunk)
	if err != nil {
		logf("session %s: read output buffer chunk %d: %v", i.Handle(), chunk, err)
		return "", false
	}
	return text, more
}

// DeleteLogFile discards the scrollback, or only its last line.
func (i *Info) DeleteLogFile(lastLineOnly bool) {
	if err := i.buffer.remove(lastLineOnly); err != nil {
		logf("session %s: delete log file: %v", i.Handle(), err)
	}
}

func (i *Info) Caption() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.rec.Caption
}

func (i *Info) SetCaption(caption string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.rec.Caption = caption
}

func (i *Info) InteractionMode() InteractionMode {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.rec.InteractionMode
}

func (i *Info) SetInteractionMode(mode InteractionMode) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.rec.InteractionMode = mode
}

func (i *Info) MaxOutputLines() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.rec.MaxOutputLines
}

func (i *Info) SetMaxOutputLines(n int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.rec.MaxOutputLines = n
}

func (i *Info) ShellType() shell.Type {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.rec.ShellType
}

func (i *Info) SetShellType(t shell.Type) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.rec.ShellType = t
}

func (i *Info) Cols() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.rec.Cols
}

func (i *Info) SetCols(cols int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.rec.Cols = cols
}

func (i *Info) Rows() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.rec.Rows
}

func (i *Info) SetRows(rows int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.rec.Rows = rows
}

func (i *Info) Cwd() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.rec.Cwd
}

func (i *Info) SetCwd(cwd string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.rec.Cwd = cwd
}

// ChannelMode returns the channel mode and its endpoint id (the push
// server port, or empty for polling).
func (i *Info) ChannelMode() (ChannelMode, string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.rec.ChannelMode, i.rec.ChannelID
}

func (i *Info) SetChannelMode(mode ChannelMode, id string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.rec.ChannelMode = mode
	i.rec.ChannelID = id
}

// ExitCode returns the recorded exit code, if the process has exited.
func (i *Info) ExitCode() (int, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.rec.ExitCode == nil {
		return 0, false
	}
	return *i.rec.ExitCode, true
}

func (i *Info) SetExitCode(code int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.rec.ExitCode = &code
}

func (i *Info) Zombie() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.rec.Zombie
}

func (i *Info) SetZombie(zombie bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.rec.Zombie = zombie
}

func (i *Info) AltBufferActive() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.rec.AltBufferActive
}

func (i *Info) SetAltBufferActive(active bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.rec.AltBufferActive = active
}

func (i *Info) Restarted() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.rec.Restarted
}

func (i *Info) SetRestarted(restarted bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.rec.Restarted = restarted
}

func (i *Info) AllowRestart() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.rec.AllowRestart
}

func (i *Info) SetAllowRestart(allow bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.rec.AllowRestart = allow
}

func (i *Info) TrackEnv() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.rec.TrackEnv
}

func (i *Info) SetTrackEnv(track bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.rec.TrackEnv = track
}

func (i *Info) HasChildProcs() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.rec.HasChildProcs
}

func (i *Info) SetHasChildProcs(has bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.rec.HasChildProcs = has
}

func (i *Info) TerminalSequence() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.rec.TerminalSequence
}

func (i *Info) SetTerminalSequence(seq int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.rec.TerminalSequence = seq
}

// ToJSON serializes the record for clients.
func (i *Info) ToJSON() ([]byte, error) {
	rec := i.Record()
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal session %s: %w", rec.Handle, err)
	}
	return data, nil
}

// FromJSON restores a record serialized by ToJSON.
func FromJSON(data []byte, logDir string) (*Info, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal session record: %w", err)
	}
	return NewInfoFromRecord(rec, logDir), nil
}
