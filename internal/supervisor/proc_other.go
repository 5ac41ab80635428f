//go:build !linux

package supervisor

// Child-process and cwd polling need /proc; elsewhere nothing is reported.

func hasChildProcesses(pid int) (bool, bool) {
	return false, false
}

func processCwd(pid int) (string, bool) {
	return "", false
}
