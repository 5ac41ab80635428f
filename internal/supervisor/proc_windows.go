//go:build windows

package supervisor

import (
	"errors"
	"os"
	"os/exec"
)

const defaultShell = "cmd.exe"

var errUnsupported = errors.New("not supported on windows")

func shellCommand(shellPath, command string) (string, []string) {
	if shellPath == "" {
		shellPath = defaultShell
	}
	return shellPath, []string{"/C", command}
}

func setProcessGroup(cmd *exec.Cmd) {}

func interruptGroup(pid int) error {
	return errUnsupported
}

func signalProcess(pid int, group, kill bool) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

func exitStatus(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	return state.ExitCode()
}

// TODO: ConPTY support; terminals need Pseudoterminal off on windows until then.
func startPty(cmd *exec.Cmd, cols, rows int) (*os.File, error) {
	return nil, errUnsupported
}

func setPtySize(f *os.File, cols, rows int) error {
	return errUnsupported
}
