// Package shell discovers the shell executables available for terminals.
package shell

import (
	"path/filepath"
	"strings"
)

// Type identifies a kind of terminal shell.
type Type int

const (
	Default Type = iota
	Bash
	Zsh
	Sh
	Fish
	Cmd32
	Cmd64
	PS32
	PS64
	Custom
)

var typeNames = map[Type]string{
	Default: "default",
	Bash:    "bash",
	Zsh:     "zsh",
	Sh:      "sh",
	Fish:    "fish",
	Cmd32:   "cmd32",
	Cmd64:   "cmd64",
	PS32:    "ps32",
	PS64:    "ps64",
	Custom:  "custom",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseType maps a name like "bash" back to its Type.
func ParseType(name string) (Type, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for t, n := range typeNames {
		if n == name {
			return t, true
		}
	}
	return Default, false
}

// ReloadsBuffer reports whether the shell can redraw a saved scrollback when
// a terminal is restarted. Windows consoles cannot.
func (t Type) ReloadsBuffer() bool {
	switch t {
	case Cmd32, Cmd64, PS32, PS64:
		return false
	}
	return true
}

// Shell is a resolved shell executable.
type Shell struct {
	Type Type     `yaml:"-" json:"type"`
	Name string   `yaml:"name" json:"name"`
	Path string   `yaml:"path" json:"path"`
	Args []string `yaml:"args" json:"args"`
}

// candidate is an executable that can provide a shell type.
type candidate struct {
	name string
	args []string
}

var candidates = map[Type][]candidate{
	Bash:  {{name: "bash", args: []string{"-l"}}},
	Zsh:   {{name: "zsh", args: []string{"-l"}}},
	Sh:    {{name: "sh"}},
	Fish:  {{name: "fish", args: []string{"-l"}}},
	Cmd32: {{name: "cmd.exe"}},
	Cmd64: {{name: "cmd.exe"}},
	PS32:  {{name: "powershell.exe", args: []string{"-NoLogo"}}},
	PS64:  {{name: "powershell.exe", args: []string{"-NoLogo"}}, {name: "pwsh.exe", args: []string{"-NoLogo"}}},
}

// typeForPath guesses the shell type from an executable path.
func typeForPath(path string) Type {
	base := strings.ToLower(filepath.Base(path))
	base = strings.TrimSuffix(base, ".exe")
	switch base {
	case "bash":
		return Bash
	case "zsh":
		return Zsh
	case "sh", "dash", "ash":
		return Sh
	case "fish":
		return Fish
	case "cmd":
		return Cmd64
	case "powershell", "pwsh":
		return PS64
	}
	return Custom
}
