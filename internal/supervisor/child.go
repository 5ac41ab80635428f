package supervisor

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	ctrlC = "\x03"
	ctrlD = "\x04"
)

var (
	errNoPty        = errors.New("process has no pseudo-terminal")
	errStdinClosed  = errors.New("stdin already closed")
	errUnknownMode  = errors.New("unknown spawn mode")
	errEmptyProgram = errors.New("empty program")
)

// child is one supervised process. It implements ProcessOperations.
type child struct {
	spec SpawnSpec
	cb   Callbacks
	cmd  *exec.Cmd

	ptmx *os.File // nil without a pseudo-terminal

	writeMu sync.Mutex
	stdin   io.WriteCloser // pipe mode only

	out      outputBuffer
	readDone chan struct{}
	waitDone chan struct{}

	termMu      sync.Mutex
	terminateAt time.Time
	killed      bool

	// Only touched from the polling goroutine.
	lastStatus time.Time
	cwd        string
}

func startChild(spec SpawnSpec, cb Callbacks) (*child, error) {
	cmd, err := buildCommand(spec)
	if err != nil {
		return nil, err
	}

	c := &child{
		spec:     spec,
		cb:       cb,
		cmd:      cmd,
		readDone: make(chan struct{}),
		waitDone: make(chan struct{}),
	}

	opts := spec.Options
	if opts.Pseudoterminal {
		ptmx, err := startPty(cmd, opts.Cols, opts.Rows)
		if err != nil {
			return nil, fmt.Errorf("start pty: %w", err)
		}
		c.ptmx = ptmx
		go c.readPty()
	} else {
		setProcessGroup(cmd)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
		// exec copies both streams into the buffer and Wait waits for the
		// copies, bounded by WaitDelay when grandchildren hold the pipes.
		cmd.Stdout = &c.out
		cmd.Stderr = &c.out
		cmd.WaitDelay = drainTimeout
		if err := cmd.Start(); err != nil {
			return nil, err
		}
		c.stdin = stdin
		close(c.readDone)
	}

	go c.wait()
	return c, nil
}

func buildCommand(spec SpawnSpec) (*exec.Cmd, error) {
	opts := spec.Options

	var cmd *exec.Cmd
	switch spec.Mode {
	case ModeCommand:
		name, args := shellCommand(opts.ShellPath, spec.Command)
		cmd = exec.Command(name, args...)
	case ModeProgram:
		if spec.Program == "" {
			return nil, errEmptyProgram
		}
		cmd = exec.Command(spec.Program, spec.Args...)
	case ModeTerminal:
		sh := opts.ShellPath
		if sh == "" {
			sh = defaultShell
		}
		cmd = exec.Command(sh, opts.Args...)
	default:
		return nil, fmt.Errorf("%w: %d", errUnknownMode, spec.Mode)
	}

	cmd.Dir = opts.WorkingDir
	if opts.Environment != nil {
		cmd.Env = environList(opts.Environment)
	}
	return cmd, nil
}

func environList(env map[string]string) []string {
	list := make([]string, 0, len(env))
	for k, v := range env {
		list = append(list, k+"="+v)
	}
	sort.Strings(list)
	return list
}

func (c *child) readPty() {
	defer close(c.readDone)

	buf := make([]byte, 32*1024)
	for {
		n, err := c.ptmx.Read(buf)
		if n > 0 {
			c.out.Write(buf[:n])
		}
		if err != nil {
			// EIO once the last slave descriptor is closed.
			return
		}
	}
}

func (c *child) wait() {
	if err := c.cmd.Wait(); err != nil && !errors.Is(err, exec.ErrWaitDelay) {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			log.Printf("[supervisor] wait pid %d: %v", c.Pid(), err)
		}
	}
	close(c.waitDone)
}

// step runs one polling pass and reports whether the child was reaped.
func (c *child) step(now time.Time) bool {
	c.flushOutput(false)

	select {
	case <-c.waitDone:
		c.finish()
		return true
	default:
	}

	if !c.cb.OnContinue(c) {
		if err := c.Terminate(); err != nil {
			log.Printf("[supervisor] terminate pid %d: %v", c.Pid(), err)
		}
	}
	c.enforceKill(now)

	if now.Sub(c.lastStatus) >= statusInterval {
		c.lastStatus = now
		c.pollStatus()
	}
	return false
}

func (c *child) finish() {
	if c.ptmx != nil {
		select {
		case <-c.readDone:
		case <-time.After(drainTimeout):
			// A background job still holds the terminal.
		}
		c.ptmx.Close()
		select {
		case <-c.readDone:
		case <-time.After(drainTimeout):
		}
	}
	c.flushOutput(true)

	c.writeMu.Lock()
	if c.stdin != nil {
		c.stdin.Close()
		c.stdin = nil
	}
	c.writeMu.Unlock()

	code := exitStatus(c.cmd.ProcessState)
	log.Printf("[supervisor] pid %d exited with code %d", c.Pid(), code)
	if c.cb.OnExit != nil {
		c.cb.OnExit(code)
	}
}

func (c *child) flushOutput(all bool) {
	text := c.out.take(all)
	if text != "" && c.cb.OnStdout != nil {
		c.cb.OnStdout(c, text)
	}
}

func (c *child) pollStatus() {
	opts := c.spec.Options
	pid := c.Pid()

	if opts.ReportHasSubprocs && c.cb.OnHasSubprocs != nil {
		if has, ok := hasChildProcesses(pid); ok {
			c.cb.OnHasSubprocs(has)
		}
	}
	if opts.TrackCwd && c.cb.ReportCwd != nil {
		if cwd, ok := processCwd(pid); ok && cwd != c.cwd {
			c.cwd = cwd
			c.cb.ReportCwd(cwd)
		}
	}
}

func (c *child) enforceKill(now time.Time) {
	c.termMu.Lock()
	defer c.termMu.Unlock()

	if c.terminateAt.IsZero() || c.killed || now.Sub(c.terminateAt) < killGrace {
		return
	}
	c.killed = true
	if err := signalProcess(c.Pid(), c.spec.Options.TerminateChildren, true); err != nil {
		log.Printf("[supervisor] kill pid %d: %v", c.Pid(), err)
	}
}

// WriteToStdin writes text to the child. eof closes a stdin pipe, or sends
// ^D on a pseudo-terminal.
func (c *child) WriteToStdin(text string, eof bool) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.ptmx != nil {
		if text != "" {
			if _, err := io.WriteString(c.ptmx, text); err != nil {
				return fmt.Errorf("write pty: %w", err)
			}
		}
		if eof {
			if _, err := io.WriteString(c.ptmx, ctrlD); err != nil {
				return fmt.Errorf("write pty: %w", err)
			}
		}
		return nil
	}

	if c.stdin == nil {
		return errStdinClosed
	}
	if text != "" {
		if _, err := io.WriteString(c.stdin, text); err != nil {
			return fmt.Errorf("write stdin: %w", err)
		}
	}
	if eof {
		err := c.stdin.Close()
		c.stdin = nil
		if err != nil {
			return fmt.Errorf("close stdin: %w", err)
		}
	}
	return nil
}

// PtyInterrupt interrupts the foreground job: ^C through the terminal line
// discipline, or SIGINT to the process group without a terminal.
func (c *child) PtyInterrupt() error {
	if c.ptmx != nil {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		if _, err := io.WriteString(c.ptmx, ctrlC); err != nil {
			return fmt.Errorf("write pty: %w", err)
		}
		return nil
	}
	return interruptGroup(c.Pid())
}

func (c *child) PtySetSize(cols, rows int) error {
	if c.ptmx == nil {
		return errNoPty
	}
	return setPtySize(c.ptmx, cols, rows)
}

// Terminate asks the child to exit. It is killed if still running after
// killGrace. Repeated calls are no-ops.
func (c *child) Terminate() error {
	c.termMu.Lock()
	defer c.termMu.Unlock()

	if !c.terminateAt.IsZero() {
		return nil
	}
	c.terminateAt = time.Now()
	return signalProcess(c.Pid(), c.spec.Options.TerminateChildren, false)
}

func (c *child) Pid() int {
	if c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// outputBuffer collects child output between polls.
type outputBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// take removes and returns the buffered text. Unless all is set, a trailing
// incomplete UTF-8 sequence stays buffered for the next read.
func (b *outputBuffer) take(all bool) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.buf)
	if !all {
		n = completeUTF8(b.buf)
	}
	text := string(b.buf[:n])
	b.buf = b.buf[:copy(b.buf, b.buf[n:])]
	return text
}

// completeUTF8 returns the length of p without a trailing partial rune.
func completeUTF8(p []byte) int {
	for i := len(p) - 1; i >= 0 && i >= len(p)-utf8.UTFMax; i-- {
		if utf8.RuneStart(p[i]) {
			if utf8.FullRune(p[i:]) {
				return len(p)
			}
			return i
		}
	}
	return len(p)
}
