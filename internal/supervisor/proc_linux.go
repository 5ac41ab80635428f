package supervisor

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// hasChildProcesses scans /proc for a process whose parent is pid.
func hasChildProcesses(pid int) (bool, bool) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return false, false
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := strconv.Atoi(e.Name()); err != nil {
			continue
		}
		if ppid, ok := parentPid(filepath.Join("/proc", e.Name(), "stat")); ok && ppid == pid {
			return true, true
		}
	}
	return false, true
}

// parentPid reads the ppid field of a /proc/<pid>/stat file. The command
// name may contain spaces and parentheses, so fields are counted from the
// last ')'.
func parentPid(statPath string) (int, bool) {
	data, err := os.ReadFile(statPath)
	if err != nil {
		return 0, false
	}
	i := bytes.LastIndexByte(data, ')')
	if i < 0 || i+2 > len(data) {
		return 0, false
	}
	fields := strings.Fields(string(data[i+1:]))
	if len(fields) < 2 {
		return 0, false
	}
	ppid, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, false
	}
	return ppid, true
}

func processCwd(pid int) (string, bool) {
	cwd, err := os.Readlink(filepath.Join("/proc", strconv.Itoa(pid), "cwd"))
	if err != nil {
		return "", false
	}
	return cwd, true
}
