package session

import (
	"os"
	"strconv"
	"strings"

	"termplex/internal/shell"
	"termplex/internal/store"
	"termplex/internal/supervisor"
)

const (
	// TermSequenceEnv carries the terminal sequence number into the shell.
	TermSequenceEnv = "TERMPLEX_TERM"

	smartTerm = "xterm-256color"
	dumbTerm  = "dumb"
)

// OptionBuilder builds launch options for terminal sessions.
type OptionBuilder struct {
	Shells ShellResolver
	// EditFileCommand is exported to the shell as the VCS editor.
	EditFileCommand string

	environ func() []string
	homeDir func() (string, error)
}

// Build returns options for a terminal running the desired shell, and the
// shell type actually selected. An unavailable shell falls back to the
// system default.
func (b OptionBuilder) Build(desired shell.Type, cols, rows, termSequence int, workingDir string) (supervisor.ProcessOptions, shell.Type) {
	env := b.environment()
	setShellEnv(env, b.EditFileCommand)
	if termSequence != store.NoTerminal {
		env[TermSequenceEnv] = strconv.Itoa(termSequence)
	}

	if workingDir == "" {
		workingDir = b.defaultWorkingDir()
	}

	opts := supervisor.ProcessOptions{
		WorkingDir:        workingDir,
		Environment:       env,
		Cols:              cols,
		Rows:              rows,
		SmartTerminal:     true,
		ReportHasSubprocs: true,
		TrackCwd:          true,
		TerminateChildren: true,
	}

	selected := desired
	if b.Shells == nil {
		return opts, selected
	}
	sh, ok := b.Shells.Resolve(desired)
	if !ok {
		sh, ok = b.Shells.SystemDefault()
	}
	if ok {
		selected = sh.Type
		opts.ShellPath = sh.Path
		opts.Args = append([]string(nil), sh.Args...)
	}
	return opts, selected
}

func (b OptionBuilder) environment() map[string]string {
	environ := b.environ
	if environ == nil {
		environ = os.Environ
	}
	return environMap(environ())
}

func (b OptionBuilder) defaultWorkingDir() string {
	homeDir := b.homeDir
	if homeDir == nil {
		homeDir = os.UserHomeDir
	}
	if dir, err := homeDir(); err == nil {
		return dir
	}
	return ""
}

func environMap(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if key, value, ok := strings.Cut(kv, "="); ok && key != "" {
			env[key] = value
		}
	}
	return env
}

// prepareInteractive requests a pseudo-terminal and sets TERM for a process
// that may read from the user.
func prepareInteractive(opts *supervisor.ProcessOptions) {
	if opts.Environment == nil {
		opts.Environment = environMap(os.Environ())
	}
	opts.Pseudoterminal = true
	setTerm(opts)
}
