package session

import (
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"

	"termplex/internal/shell"
	"termplex/internal/store"
	"termplex/internal/supervisor"
)

func testBuilder() OptionBuilder {
	return OptionBuilder{
		Shells: fakeShells{
			shells: map[shell.Type]shell.Shell{
				shell.Bash: {Type: shell.Bash, Name: "bash", Path: "/bin/bash", Args: []string{"-l"}},
			},
			fallback: shell.Shell{Type: shell.Sh, Name: "sh", Path: "/bin/sh"},
		},
		EditFileCommand: "termplex-edit",
		environ:         func() []string { return []string{"HOME=/home/dev", "LANG=C.UTF-8", "BROKEN"} },
		homeDir:         func() (string, error) { return "/home/dev", nil },
	}
}

func TestBuild_TerminalOptions(t *testing.T) {
	opts, selected := testBuilder().Build(shell.Bash, 100, 30, 2, "/srv/project")

	assert.Equal(t, shell.Bash, selected)
	assert.Equal(t, "/bin/bash", opts.ShellPath)
	assert.Equal(t, []string{"-l"}, opts.Args)
	assert.Equal(t, "/srv/project", opts.WorkingDir)
	assert.Equal(t, 100, opts.Cols)
	assert.Equal(t, 30, opts.Rows)
	assert.True(t, opts.SmartTerminal)
	assert.True(t, opts.ReportHasSubprocs)
	assert.True(t, opts.TrackCwd)
	assert.True(t, opts.TerminateChildren)

	assert.Equal(t, "2", opts.Environment[TermSequenceEnv])
	assert.Equal(t, "C.UTF-8", opts.Environment["LANG"])
	assert.NotContains(t, opts.Environment, "BROKEN")
}

func TestBuild_ShellEnvironment(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("no prompt command on windows")
	}
	opts, _ := testBuilder().Build(shell.Bash, 80, 25, 1, "")
	assert.Equal(t, promptCommand, opts.Environment["PROMPT_COMMAND"])
	assert.Equal(t, "termplex-edit", opts.Environment["GIT_EDITOR"])
	assert.Equal(t, "termplex-edit", opts.Environment["SVN_EDITOR"])
}

func TestBuild_FallsBackToSystemShell(t *testing.T) {
	opts, selected := testBuilder().Build(shell.Fish, 80, 25, 1, "")
	assert.Equal(t, shell.Sh, selected)
	assert.Equal(t, "/bin/sh", opts.ShellPath)
}

func TestBuild_DefaultWorkingDir(t *testing.T) {
	b := testBuilder()
	opts, _ := b.Build(shell.Bash, 80, 25, 1, "")
	assert.Equal(t, "/home/dev", opts.WorkingDir)

	b.homeDir = func() (string, error) { return "", errors.New("no home") }
	opts, _ = b.Build(shell.Bash, 80, 25, 1, "")
	assert.Empty(t, opts.WorkingDir)
}

func TestBuild_NoTerminalSequence(t *testing.T) {
	opts, _ := testBuilder().Build(shell.Bash, 80, 25, store.NoTerminal, "")
	assert.NotContains(t, opts.Environment, TermSequenceEnv)
}

func TestBuild_EnvironmentIsACopy(t *testing.T) {
	b := testBuilder()
	first, _ := b.Build(shell.Bash, 80, 25, 1, "")
	first.Environment["LANG"] = "changed"
	second, _ := b.Build(shell.Bash, 80, 25, 2, "")
	assert.Equal(t, "C.UTF-8", second.Environment["LANG"])
}

func TestPrepareInteractive(t *testing.T) {
	opts := supervisor.ProcessOptions{SmartTerminal: false, Environment: map[string]string{"TERM": "xterm"}}
	prepareInteractive(&opts)
	assert.True(t, opts.Pseudoterminal)
	if runtime.GOOS == "windows" {
		assert.NotContains(t, opts.Environment, "TERM")
	} else {
		assert.Equal(t, dumbTerm, opts.Environment["TERM"])
	}
}

func TestStdinText(t *testing.T) {
	assert.Equal(t, "ls\n", stdinText("ls\n", true))
	if runtime.GOOS == "windows" {
		assert.Equal(t, "dir\r\n", stdinText("dir\n", false))
	} else {
		assert.Equal(t, "ls\n", stdinText("ls\n", false))
	}
}
