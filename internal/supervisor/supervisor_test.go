//go:build !windows

package supervisor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	mu       sync.Mutex
	output   strings.Builder
	ops      ProcessOperations
	subprocs []bool
	cwds     []string

	cont atomic.Bool
	exit chan int
}

func newHarness() *harness {
	h := &harness{exit: make(chan int, 1)}
	h.cont.Store(true)
	return h
}

func (h *harness) callbacks() Callbacks {
	return Callbacks{
		OnContinue: func(ops ProcessOperations) bool {
			h.mu.Lock()
			h.ops = ops
			h.mu.Unlock()
			return h.cont.Load()
		},
		OnStdout: func(ops ProcessOperations, text string) {
			h.mu.Lock()
			h.output.WriteString(text)
			h.mu.Unlock()
		},
		OnExit: func(code int) {
			h.exit <- code
		},
		OnHasSubprocs: func(has bool) {
			h.mu.Lock()
			h.subprocs = append(h.subprocs, has)
			h.mu.Unlock()
		},
		ReportCwd: func(cwd string) {
			h.mu.Lock()
			h.cwds = append(h.cwds, cwd)
			h.mu.Unlock()
		},
	}
}

func (h *harness) Output() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.output.String()
}

func (h *harness) Ops() ProcessOperations {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ops
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a unix shell")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
}

// pollUntil drives the supervisor until cond holds.
func pollUntil(t *testing.T, s *Supervisor, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		s.poll(time.Now())
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func runUntilExit(t *testing.T, s *Supervisor, h *harness) int {
	t.Helper()
	var code int
	pollUntil(t, s, func() bool {
		select {
		case code = <-h.exit:
			return true
		default:
			return false
		}
	})
	return code
}

func TestCommandOutputAndExitCode(t *testing.T) {
	requireShell(t)
	s := New(0)
	h := newHarness()

	require.NoError(t, s.Launch(SpawnSpec{Mode: ModeCommand, Command: "echo hello; exit 3"}, h.callbacks()))
	assert.Equal(t, 1, s.Len())

	assert.Equal(t, 3, runUntilExit(t, s, h))
	assert.Equal(t, "hello\n", h.Output())
	assert.Zero(t, s.Len())
}

func TestProgramStdinEOF(t *testing.T) {
	requireShell(t)
	cat, err := exec.LookPath("cat")
	if err != nil {
		t.Skip("cat not available")
	}
	s := New(0)
	h := newHarness()
	require.NoError(t, s.Launch(SpawnSpec{Mode: ModeProgram, Program: cat}, h.callbacks()))

	pollUntil(t, s, func() bool { return h.Ops() != nil })
	require.NoError(t, h.Ops().WriteToStdin("abc\n", true))
	assert.ErrorIs(t, h.Ops().WriteToStdin("more", false), errStdinClosed)

	assert.Equal(t, 0, runUntilExit(t, s, h))
	assert.Equal(t, "abc\n", h.Output())
}

func TestTerminateWhenContinueFails(t *testing.T) {
	requireShell(t)
	s := New(0)
	h := newHarness()
	spec := SpawnSpec{
		Mode:    ModeCommand,
		Command: "sleep 30",
		Options: ProcessOptions{TerminateChildren: true},
	}
	require.NoError(t, s.Launch(spec, h.callbacks()))

	h.cont.Store(false)
	assert.Equal(t, 128+int(syscall.SIGTERM), runUntilExit(t, s, h))
}

func TestPseudoterminalSession(t *testing.T) {
	requireShell(t)
	s := New(0)
	h := newHarness()
	spec := SpawnSpec{
		Mode: ModeTerminal,
		Options: ProcessOptions{
			ShellPath:      "/bin/sh",
			Environment:    map[string]string{"PATH": os.Getenv("PATH"), "PS1": "$ "},
			Pseudoterminal: true,
			Cols:           80,
			Rows:           25,
		},
	}
	require.NoError(t, s.Launch(spec, h.callbacks()))

	pollUntil(t, s, func() bool { return h.Ops() != nil })
	ops := h.Ops()
	require.NoError(t, ops.PtySetSize(100, 40))
	require.NoError(t, ops.WriteToStdin("echo pty-$((1+1))\n", false))
	require.NoError(t, ops.WriteToStdin("exit 7\n", false))

	assert.Equal(t, 7, runUntilExit(t, s, h))
	assert.Contains(t, h.Output(), "pty-2")
}

func TestPtySetSizeWithoutPty(t *testing.T) {
	c := &child{cmd: &exec.Cmd{}}
	assert.ErrorIs(t, c.PtySetSize(80, 25), errNoPty)
	assert.Zero(t, c.Pid())
}

func TestReportsChildProcessesAndCwd(t *testing.T) {
	requireShell(t)
	if runtime.GOOS != "linux" {
		t.Skip("needs /proc")
	}
	dir := t.TempDir()
	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)

	s := New(0)
	h := newHarness()
	spec := SpawnSpec{
		Mode:    ModeProgram,
		Program: "/bin/sh",
		Args:    []string{"-c", "sleep 30; true"},
		Options: ProcessOptions{
			WorkingDir:        dir,
			ReportHasSubprocs: true,
			TrackCwd:          true,
			TerminateChildren: true,
		},
	}
	require.NoError(t, s.Launch(spec, h.callbacks()))

	pollUntil(t, s, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.subprocs) > 0 && h.subprocs[len(h.subprocs)-1] && len(h.cwds) > 0
	})
	h.mu.Lock()
	assert.Equal(t, []string{want}, h.cwds)
	h.mu.Unlock()

	h.cont.Store(false)
	runUntilExit(t, s, h)
}

func TestRunStopsChildren(t *testing.T) {
	requireShell(t)
	s := New(10 * time.Millisecond)
	h := newHarness()
	spec := SpawnSpec{Mode: ModeCommand, Command: "sleep 30", Options: ProcessOptions{TerminateChildren: true}}
	require.NoError(t, s.Launch(spec, h.callbacks()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return h.Ops() != nil }, 5*time.Second, 10*time.Millisecond)
	pid := h.Ops().Pid()
	cancel()
	<-done

	assert.ErrorIs(t, s.Launch(spec, h.callbacks()), ErrStopped)
	assert.Eventually(t, func() bool {
		return syscall.Kill(pid, 0) != nil
	}, 5*time.Second, 20*time.Millisecond)
}

func TestLaunchRequiresOnContinue(t *testing.T) {
	s := New(0)
	assert.Error(t, s.Launch(SpawnSpec{Mode: ModeCommand, Command: "true"}, Callbacks{}))
	assert.Zero(t, s.Len())
}

func TestBuildCommand(t *testing.T) {
	cmd, err := buildCommand(SpawnSpec{
		Mode:    ModeProgram,
		Program: "/usr/bin/env",
		Args:    []string{"-i"},
		Options: ProcessOptions{
			WorkingDir:  "/tmp",
			Environment: map[string]string{"B": "2", "A": "1"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/usr/bin/env", "-i"}, cmd.Args)
	assert.Equal(t, "/tmp", cmd.Dir)
	assert.Equal(t, []string{"A=1", "B=2"}, cmd.Env)

	cmd, err = buildCommand(SpawnSpec{Mode: ModeTerminal})
	require.NoError(t, err)
	assert.Nil(t, cmd.Env, "nil environment is inherited")
	assert.Equal(t, defaultShell, cmd.Args[0])

	_, err = buildCommand(SpawnSpec{Mode: ModeProgram})
	assert.ErrorIs(t, err, errEmptyProgram)
	_, err = buildCommand(SpawnSpec{Mode: Mode(42)})
	assert.ErrorIs(t, err, errUnknownMode)
}

func TestOutputBufferHoldsPartialRune(t *testing.T) {
	var b outputBuffer
	euro := []byte("€") // three bytes

	b.Write([]byte("price: "))
	b.Write(euro[:2])
	assert.Equal(t, "price: ", b.take(false))

	b.Write(euro[2:])
	assert.Equal(t, "€", b.take(false))
	assert.Empty(t, b.take(false))

	b.Write(euro[:1])
	assert.Equal(t, string(euro[:1]), b.take(true))
}

func TestCompleteUTF8(t *testing.T) {
	assert.Equal(t, 0, completeUTF8(nil))
	assert.Equal(t, 3, completeUTF8([]byte("abc")))
	assert.Equal(t, 1, completeUTF8([]byte{'a', 0xe2, 0x82}))
	// Invalid continuation bytes are passed through.
	assert.Equal(t, 5, completeUTF8([]byte{0x80, 0x80, 0x80, 0x80, 0x80}))
}
