package session

import (
	"fmt"
	"log"
	"os"
	"sort"
	"sync"

	"termplex/internal/shell"
	"termplex/internal/store"
	"termplex/internal/supervisor"
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Supervisor Supervisor
	// Push may be nil, which disables the push channel.
	Push      PushServer
	AllowPush bool
	Store     RecordStore
	Events    Notifier
	Options   OptionBuilder

	MaxSessions    int
	MaxOutputLines int
	Tuning         Tuning

	// Geometry for terminals created without one; store defaults when zero.
	DefaultCols int
	DefaultRows int
}

// Manager is the table of console sessions. It owns their lifetime and
// persists the table after every durable change.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	maxSessions int

	deps           Deps
	allowPush      bool
	store          RecordStore
	options        OptionBuilder
	maxOutputLines int
	defaultCols    int
	defaultRows    int

	saveMu sync.Mutex
}

// NewManager creates an empty session table.
func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		sessions:       make(map[string]*Session),
		maxSessions:    cfg.MaxSessions,
		allowPush:      cfg.AllowPush,
		store:          cfg.Store,
		options:        cfg.Options,
		maxOutputLines: cfg.MaxOutputLines,
		defaultCols:    cfg.DefaultCols,
		defaultRows:    cfg.DefaultRows,
	}
	if m.defaultCols <= 0 {
		m.defaultCols = store.DefaultCols
	}
	if m.defaultRows <= 0 {
		m.defaultRows = store.DefaultRows
	}
	m.deps = Deps{
		Supervisor: cfg.Supervisor,
		Push:       cfg.Push,
		Events:     cfg.Events,
		Persist:    m.SaveAll,
		Tuning:     cfg.Tuning,
	}
	return m
}

// TerminalRequest describes a terminal to create or reattach to.
type TerminalRequest struct {
	// Handle reattaches to an earlier terminal when AllowRestart is set.
	Handle           string
	Caption          string
	ShellType        shell.Type
	Cols             int
	Rows             int
	Cwd              string
	TerminalSequence int
	TrackEnv         bool
	AllowRestart     bool
}

func (m *Manager) newInfo() *store.Info {
	var info *store.Info
	if m.store != nil {
		info = m.store.NewInfo()
	} else {
		info = store.NewInfo("")
	}
	if m.maxOutputLines > 0 {
		info.SetMaxOutputLines(m.maxOutputLines)
	}
	return info
}

// validateWorkDir checks that a requested working directory exists.
func validateWorkDir(dir string) error {
	if dir == "" {
		return nil
	}
	fi, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidWorkDir, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInvalidWorkDir, dir)
	}
	return nil
}

// Create registers a session running command through the shell.
func (m *Manager) Create(command string, opts supervisor.ProcessOptions, caption string) (*Session, error) {
	if err := validateWorkDir(opts.WorkingDir); err != nil {
		return nil, err
	}
	info := m.newInfo()
	info.SetCaption(caption)
	opts.TerminateChildren = true
	return m.create(supervisor.SpawnSpec{Mode: supervisor.ModeCommand, Command: command, Options: opts}, info)
}

// CreateProgram registers a session executing program with args.
func (m *Manager) CreateProgram(program string, args []string, opts supervisor.ProcessOptions, caption string) (*Session, error) {
	if err := validateWorkDir(opts.WorkingDir); err != nil {
		return nil, err
	}
	info := m.newInfo()
	info.SetCaption(caption)
	opts.TerminateChildren = true
	return m.create(supervisor.SpawnSpec{Mode: supervisor.ModeProgram, Program: program, Args: args, Options: opts}, info)
}

// CreateTerminal registers an interactive terminal, reattaching to the
// running terminal with the requested handle if there is one.
func (m *Manager) CreateTerminal(req TerminalRequest) (*Session, error) {
	info := m.newInfo()
	if req.Handle != "" {
		info.SetHandle(req.Handle)
	}
	info.SetCaption(req.Caption)
	info.SetInteractionMode(store.InteractionAlways)
	if req.TerminalSequence <= store.NoTerminal {
		req.TerminalSequence = m.nextTerminalSequence()
	}
	info.SetTerminalSequence(req.TerminalSequence)
	info.SetTrackEnv(req.TrackEnv)
	info.SetAllowRestart(req.AllowRestart)
	info.SetCwd(req.Cwd)

	cols, rows := req.Cols, req.Rows
	if cols <= 0 {
		cols = m.defaultCols
	}
	if rows <= 0 {
		rows = m.defaultRows
	}
	info.SetCols(cols)
	info.SetRows(rows)

	opts, actual := m.options.Build(req.ShellType, cols, rows, req.TerminalSequence, req.Cwd)
	info.SetShellType(actual)
	return m.createTerminal(opts, info)
}

// CreateTerminalFor recreates the terminal of an earlier session from its
// record, keeping its handle.
func (m *Manager) CreateTerminalFor(prev *Session) (*Session, error) {
	info := prev.info
	opts, actual := m.options.Build(info.ShellType(), info.Cols(), info.Rows(), info.TerminalSequence(), info.Cwd())
	info.SetShellType(actual)
	return m.createTerminal(opts, info)
}

// nextTerminalSequence returns one more than the highest sequence in use.
func (m *Manager) nextTerminalSequence() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	next := store.NoTerminal + 1
	for _, s := range m.sessions {
		if seq := s.info.TerminalSequence(); seq >= next {
			next = seq + 1
		}
	}
	return next
}

func (m *Manager) create(spec supervisor.SpawnSpec, info *store.Info) (*Session, error) {
	s := newSession(spec, info, m.deps)
	if err := m.add(s, false); err != nil {
		return nil, err
	}
	m.SaveAll()
	return s, nil
}

// add puts s in the table. A session holding the same handle is replaced
// when replace is set or when it is an unstarted restored record; it does
// not count against the limit.
func (m *Manager) add(s *Session, replace bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	handle := s.Handle()
	if existing, exists := m.sessions[handle]; exists && !replace && !existing.restored {
		return fmt.Errorf("duplicate session handle %s", handle)
	}

	if m.maxSessions > 0 {
		active := 0
		for h, other := range m.sessions {
			if h != handle && other.active() {
				active++
			}
		}
		if active >= m.maxSessions {
			return fmt.Errorf("%w (%d)", ErrMaxSessions, m.maxSessions)
		}
	}

	m.sessions[handle] = s
	return nil
}

// active reports whether the session still holds, or may start, a process.
func (s *Session) active() bool {
	_, exited := s.info.ExitCode()
	return !exited && !s.info.Zombie()
}

func (m *Manager) lookup(handle string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[handle]
	return s, ok
}

// Get returns a session by handle.
func (m *Manager) Get(handle string) (*Session, error) {
	s, ok := m.lookup(handle)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, handle)
	}
	return s, nil
}

// List returns all sessions, oldest first.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	result := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		result = append(result, s)
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].info.Record().CreatedAt.Before(result[j].info.Record().CreatedAt)
	})
	return result
}

// Start starts a session, first rebuilding a terminal restored from disk.
// When only the launch fails the session is returned with the error.
func (m *Manager) Start(handle string) (*Session, error) {
	s, err := m.Get(handle)
	if err != nil {
		return nil, err
	}
	if s.restored {
		if s, err = m.CreateTerminalFor(s); err != nil {
			return nil, err
		}
	}
	return s, s.Start()
}

// Remove stops a session and deletes it with its scrollback.
func (m *Manager) Remove(handle string) error {
	m.mu.Lock()
	s, ok := m.sessions[handle]
	if ok {
		delete(m.sessions, handle)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, handle)
	}

	s.Interrupt()
	if m.deps.Push != nil {
		m.deps.Push.StopListening(handle)
	}
	if m.store != nil {
		if err := m.store.Delete(handle); err != nil {
			return err
		}
	} else {
		s.DeleteLogFile(false)
	}
	m.SaveAll()
	return nil
}

// SaveAll persists the whole session table.
func (m *Manager) SaveAll() {
	if m.store == nil {
		return
	}
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	m.mu.RLock()
	infos := make([]*store.Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, s.info)
	}
	m.mu.RUnlock()

	if err := m.store.SaveAll(infos); err != nil {
		log.Printf("[session] save sessions: %v", err)
	}
}

// Restore loads persisted sessions. Terminals come back without a process;
// Start rebuilds them. Everything else is marked zombie.
func (m *Manager) Restore() error {
	if m.store == nil {
		return nil
	}
	infos, err := m.store.LoadAll()
	if err != nil {
		return fmt.Errorf("restore sessions: %w", err)
	}

	m.mu.Lock()
	for _, info := range infos {
		s := restoreSession(info, m.deps)
		if info.TerminalSequence() == store.NoTerminal {
			// Commands and programs cannot be rerun.
			s.restored = false
			info.SetZombie(true)
			info.SetHasChildProcs(false)
		}
		m.sessions[info.Handle()] = s
	}
	m.mu.Unlock()

	log.Printf("[session] restored %d sessions", len(infos))
	return nil
}

// Shutdown interrupts every session and saves the table.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	for _, s := range m.sessions {
		s.Interrupt()
	}
	m.mu.RUnlock()
	m.SaveAll()
}
