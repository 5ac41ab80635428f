//go:build !windows

package supervisor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

const defaultShell = "/bin/sh"

func shellCommand(shellPath, command string) (string, []string) {
	if shellPath == "" {
		shellPath = defaultShell
	}
	return shellPath, []string{"-c", command}
}

// setProcessGroup puts a pipe child in its own process group so that
// signals reach its descendants. Pty children get a new session instead.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func interruptGroup(pid int) error {
	if pid <= 0 {
		return errors.New("no process")
	}
	if err := unix.Kill(-pid, unix.SIGINT); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("interrupt group %d: %w", pid, err)
	}
	return nil
}

// signalProcess sends SIGTERM, or SIGKILL when kill is set, to pid or to
// its whole process group.
func signalProcess(pid int, group, kill bool) error {
	if pid <= 0 {
		return errors.New("no process")
	}
	sig := unix.SIGTERM
	if kill {
		sig = unix.SIGKILL
	}
	target := pid
	if group {
		target = -pid
	}
	if err := unix.Kill(target, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("send %v to %d: %w", sig, target, err)
	}
	return nil
}

// exitStatus maps a signal death to 128+signal, as shells report it.
func exitStatus(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}

func startPty(cmd *exec.Cmd, cols, rows int) (*os.File, error) {
	return pty.StartWithSize(cmd, winsize(cols, rows))
}

func setPtySize(f *os.File, cols, rows int) error {
	return pty.Setsize(f, winsize(cols, rows))
}

func winsize(cols, rows int) *pty.Winsize {
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 25
	}
	return &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}
}
