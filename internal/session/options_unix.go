//go:build !windows

package session

import "termplex/internal/supervisor"

// promptCommand sets the xterm title to the working directory after each
// command.
const promptCommand = `echo -ne "\033]0;${PWD/#${HOME}/~}\007"`

func setShellEnv(env map[string]string, editFileCommand string) {
	env["PROMPT_COMMAND"] = promptCommand
	if editFileCommand != "" {
		env["GIT_EDITOR"] = editFileCommand
		env["SVN_EDITOR"] = editFileCommand
	}
}

func setTerm(opts *supervisor.ProcessOptions) {
	if opts.SmartTerminal {
		opts.Environment["TERM"] = smartTerm
	} else {
		opts.Environment["TERM"] = dumbTerm
	}
}

func stdinText(text string, smartTerminal bool) string {
	return text
}
