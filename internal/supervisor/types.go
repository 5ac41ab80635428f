// Package supervisor spawns console processes and drives them from a single
// polling loop, reporting their output and lifecycle through callbacks.
package supervisor

// Mode selects how a SpawnSpec is launched.
type Mode int

const (
	// ModeCommand runs Command through the shell.
	ModeCommand Mode = iota
	// ModeProgram executes Program with Args directly.
	ModeProgram
	// ModeTerminal runs an interactive shell from Options.ShellPath.
	ModeTerminal
)

func (m Mode) String() string {
	switch m {
	case ModeCommand:
		return "command"
	case ModeProgram:
		return "program"
	case ModeTerminal:
		return "terminal"
	}
	return "unknown"
}

// ProcessOptions is the platform-neutral launch configuration of a child.
type ProcessOptions struct {
	WorkingDir string
	// Environment replaces the inherited environment when non-nil.
	Environment map[string]string

	ShellPath string
	Args      []string

	Cols int
	Rows int

	// SmartTerminal marks a pty that echoes input itself.
	SmartTerminal     bool
	ReportHasSubprocs bool
	TrackCwd          bool
	// TerminateChildren kills the whole process group on Terminate.
	TerminateChildren      bool
	Pseudoterminal         bool
	RedirectStdErrToStdOut bool
}

// SpawnSpec describes one child to launch.
type SpawnSpec struct {
	Mode    Mode
	Command string
	Program string
	Args    []string
	Options ProcessOptions
}

// ProcessOperations acts on a running child. Implementations are safe for
// use from any goroutine; calls after the child exited return an error.
type ProcessOperations interface {
	// WriteToStdin writes text; eof closes stdin afterwards.
	WriteToStdin(text string, eof bool) error
	PtyInterrupt() error
	PtySetSize(cols, rows int) error
	Terminate() error
	Pid() int
}

// Callbacks are invoked from the polling loop, one child at a time.
type Callbacks struct {
	// OnContinue runs once per tick; returning false terminates the child.
	OnContinue func(ops ProcessOperations) bool
	OnStdout   func(ops ProcessOperations, output string)
	OnExit     func(exitCode int)
	// Optional.
	OnHasSubprocs func(hasSubprocs bool)
	ReportCwd     func(cwd string)
}
