// Package session implements console sessions: a process driven by the
// supervisor's polling loop, with ordered client input, prompt detection,
// private environment sampling and push or poll delivery of output.
package session

import (
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"termplex/internal/shell"
	"termplex/internal/store"
	"termplex/internal/supervisor"
)

// Tuning holds the timing knobs of a session.
type Tuning struct {
	AutoFlushLength int
	SampleIdle      time.Duration
	SampleInterval  time.Duration
	SampleTimeout   time.Duration
}

// DefaultTuning returns the standard session timings.
func DefaultTuning() Tuning {
	return Tuning{
		AutoFlushLength: DefaultAutoFlushLength,
		SampleIdle:      1500 * time.Millisecond,
		SampleInterval:  3 * time.Second,
		SampleTimeout:   5 * time.Second,
	}
}

// Deps are the collaborators a session reports to.
type Deps struct {
	Supervisor Supervisor
	// Push is nil when the push channel is disabled.
	Push    PushServer
	Events  Notifier
	Persist func()
	Tuning  Tuning
	Now     func() time.Time
}

type geometry struct {
	cols, rows int
}

// Session is one console process and its client-facing state.
type Session struct {
	deps Deps
	info *store.Info
	spec supervisor.SpawnSpec

	// restored sessions came from a persisted record and need their launch
	// options rebuilt before they can start.
	restored bool

	startMu sync.Mutex
	started bool

	// mu guards the input queue and sampling state. It is never held while
	// talking to the process.
	mu             sync.Mutex
	queue          inputQueue
	pendingCommand bool
	lastEnter      time.Time
	lastSample     time.Time
	sampleStarted  time.Time
	sampling       bool

	// deliverMu keeps tick and push deliveries from interleaving writes.
	deliverMu sync.Mutex
	ops       opsRef

	interrupt      atomic.Bool
	interruptChild atomic.Bool

	ctlMu        sync.Mutex
	resize       *geometry
	pid          int
	subprocsSent bool

	sampleBOM     string
	sampleEOM     string
	sampleCommand string

	promptHandler PromptHandler
	onExit        func(exitCode int)
}

func newSession(spec supervisor.SpawnSpec, info *store.Info, deps Deps) *Session {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Tuning == (Tuning{}) {
		deps.Tuning = DefaultTuning()
	}

	s := &Session{
		deps:           deps,
		info:           info,
		spec:           spec,
		queue:          newInputQueue(deps.Tuning.AutoFlushLength),
		pendingCommand: true,
	}
	info.EnsureHandle()

	s.sampleBOM = uuid.New().String()
	s.sampleEOM = uuid.New().String()
	s.sampleCommand = "echo " + s.sampleBOM + "\n/usr/bin/env && echo " + s.sampleEOM + "\n"

	opts := &s.spec.Options
	opts.RedirectStdErrToStdOut = true
	if info.InteractionMode() != store.InteractionNever {
		prepareInteractive(opts)
	}

	// Buffered output is read back in whole lines; the leading newline
	// marks the first line as complete.
	if !opts.SmartTerminal {
		info.AppendToOutputBuffer("\n")
	}
	return s
}

// restoreSession wraps a persisted record. It cannot start until rebuilt.
func restoreSession(info *store.Info, deps Deps) *Session {
	s := newSession(supervisor.SpawnSpec{Mode: supervisor.ModeTerminal}, info, deps)
	s.restored = true
	return s
}

func (s *Session) logf(format string, args ...any) {
	log.Printf("[session] %s: "+format, append([]any{s.info.Handle()}, args...)...)
}

func (s *Session) persist() {
	if s.deps.Persist != nil {
		s.deps.Persist()
	}
}

func (s *Session) notify(ev Event) {
	if s.deps.Events == nil {
		return
	}
	ev.Handle = s.info.Handle()
	s.deps.Events.Notify(ev)
}

func (s *Session) Handle() string {
	return s.info.Handle()
}

// Info returns the session's record.
func (s *Session) Info() *store.Info {
	return s.info
}

func (s *Session) Mode() supervisor.Mode {
	return s.spec.Mode
}

func (s *Session) ShellType() shell.Type {
	return s.info.ShellType()
}

func (s *Session) ShellName() string {
	return s.info.ShellType().String()
}

// SetPromptHandler installs a handler that sees prompts before clients do.
func (s *Session) SetPromptHandler(h PromptHandler) {
	s.promptHandler = h
}

// SetExitHandler installs a callback run after the process exits.
func (s *Session) SetExitHandler(fn func(exitCode int)) {
	s.onExit = fn
}

// Start launches the process. Starting a started or zombie session does
// nothing. A launch failure is returned as the supervisor reported it.
func (s *Session) Start() error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	if s.started || s.info.Zombie() {
		return nil
	}
	if err := s.deps.Supervisor.Launch(s.spec, s.callbacks()); err != nil {
		return err
	}
	s.started = true
	return nil
}

func (s *Session) IsStarted() bool {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	return s.started
}

// Pid returns the process id seen on the last tick, or 0.
func (s *Session) Pid() int {
	s.ctlMu.Lock()
	defer s.ctlMu.Unlock()
	return s.pid
}

func (s *Session) callbacks() supervisor.Callbacks {
	cb := supervisor.Callbacks{
		OnContinue: s.onContinue,
		OnStdout:   s.onStdout,
		OnExit:     s.handleExit,
	}
	if s.spec.Options.ReportHasSubprocs {
		cb.OnHasSubprocs = s.onHasSubprocs
	}
	if s.spec.Options.TrackCwd {
		cb.ReportCwd = s.reportCwd
	}
	return cb
}

// Interrupt stops the process on the next tick.
func (s *Session) Interrupt() {
	s.interrupt.Store(true)
}

// InterruptChild sends an interrupt to the terminal on the next tick.
func (s *Session) InterruptChild() {
	s.interruptChild.Store(true)
}

// Resize changes the terminal geometry on the next tick.
func (s *Session) Resize(cols, rows int) {
	s.ctlMu.Lock()
	defer s.ctlMu.Unlock()
	s.resize = &geometry{cols: cols, rows: rows}
}

// EnqueueInput queues input for delivery on the next tick.
func (s *Session) EnqueueInput(in Input) {
	s.mu.Lock()
	if !in.Interrupt && in.Text != "" && !endsWithTerminator(in.Text) {
		s.pendingCommand = true
	}
	kept := s.queue.enqueue(in)
	last := s.queue.last
	s.mu.Unlock()

	if !kept {
		s.logf("dropped input sequence %d, already released through %d", in.Sequence, last)
	}
}

func endsWithTerminator(text string) bool {
	return strings.HasSuffix(text, "\r") || strings.HasSuffix(text, "\n")
}

func (s *Session) onContinue(ops supervisor.ProcessOperations) bool {
	if s.interrupt.Load() {
		return false
	}

	if s.interruptChild.CompareAndSwap(true, false) {
		if err := ops.PtyInterrupt(); err != nil {
			s.logf("interrupt child: %v", err)
		}
	}

	if s.trySample(ops) {
		return true
	}

	s.processQueuedInput(ops)

	if mode, _ := s.info.ChannelMode(); mode == store.ChannelPush {
		s.ops.capture(ops)
	}

	s.ctlMu.Lock()
	resize := s.resize
	s.resize = nil
	s.ctlMu.Unlock()
	if resize != nil {
		if err := ops.PtySetSize(resize.cols, resize.rows); err != nil {
			s.logf("resize to %dx%d: %v", resize.cols, resize.rows, err)
		}
		s.info.SetCols(resize.cols)
		s.info.SetRows(resize.rows)
		s.persist()
	}

	pid := ops.Pid()
	s.ctlMu.Lock()
	s.pid = pid
	s.ctlMu.Unlock()
	return true
}

// processQueuedInput writes every deliverable input to the process.
func (s *Session) processQueuedInput(ops supervisor.ProcessOperations) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	for {
		s.mu.Lock()
		in, ok := s.queue.dequeue()
		if ok {
			s.pendingCommand = true
			if !in.Interrupt && endsWithTerminator(in.Text) {
				s.lastEnter = s.deps.Now()
				s.pendingCommand = false
			}
		}
		s.mu.Unlock()
		if !ok {
			return
		}
		s.deliver(ops, in)
	}
}

func (s *Session) deliver(ops supervisor.ProcessOperations, in Input) {
	smart := s.spec.Options.SmartTerminal

	if in.Interrupt {
		if err := ops.PtyInterrupt(); err != nil {
			s.logf("interrupt: %v", err)
		}
		if in.Echo {
			s.info.AppendToOutputBuffer("^C")
		}
		return
	}

	text := stdinText(in.Text, smart)
	if err := ops.WriteToStdin(text, false); err != nil {
		s.logf("write to stdin: %v", err)
	}

	// A smart terminal echoes through the pty.
	if !smart {
		if in.Echo {
			s.info.AppendToOutputBuffer(text)
		} else {
			s.info.AppendToOutputBuffer("\n")
		}
	}
}

func (s *Session) handleExit(exitCode int) {
	s.info.SetExitCode(exitCode)
	s.info.SetHasChildProcs(false)
	s.ops.release()

	s.persist()

	s.notify(Event{Type: EventExit, ExitCode: exitCode})

	if s.onExit != nil {
		s.onExit(exitCode)
	}
}

func (s *Session) onHasSubprocs(hasSubprocs bool) {
	s.ctlMu.Lock()
	changed := hasSubprocs != s.info.HasChildProcs() || !s.subprocsSent
	if changed {
		s.info.SetHasChildProcs(hasSubprocs)
		s.subprocsSent = true
	}
	s.ctlMu.Unlock()

	if changed {
		s.notify(Event{Type: EventSubprocs, Subprocs: hasSubprocs})
	}
}

func (s *Session) reportCwd(cwd string) {
	if s.info.Cwd() == cwd {
		return
	}
	s.info.SetCwd(cwd)
	s.notify(Event{Type: EventCwd, Cwd: aliasHome(cwd)})
	s.persist()
}

// SetZombie marks the session as having no live process.
func (s *Session) SetZombie() {
	s.info.SetZombie(true)
	s.info.SetHasChildProcs(false)
	s.persist()
}

// BufferedOutput returns the visible tail of the scrollback. Smart terminals
// keep their scrollback in the client.
func (s *Session) BufferedOutput() string {
	if s.spec.Options.SmartTerminal {
		return ""
	}
	return s.info.BufferedOutput()
}

// Buffer returns the full saved scrollback.
func (s *Session) Buffer() string {
	return s.info.FullSavedBuffer()
}

func (s *Session) SavedBufferChunk(chunk int) (string, bool) {
	return s.info.SavedBufferChunk(chunk)
}

func (s *Session) DeleteLogFile(lastLineOnly bool) {
	s.info.DeleteLogFile(lastLineOnly)
}

// ChannelMode returns "rpc" or "websocket".
func (s *Session) ChannelMode() string {
	mode, _ := s.info.ChannelMode()
	return string(mode)
}

func (s *Session) ToJSON() ([]byte, error) {
	return s.info.ToJSON()
}
