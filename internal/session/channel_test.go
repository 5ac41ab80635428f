package session

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"termplex/internal/shell"
	"termplex/internal/store"
)

type testManager struct {
	*Manager
	sup    *fakeSupervisor
	push   *fakePush
	store  *memStore
	events *recorder
}

func newTestManager(allowPush bool) *testManager {
	tm := &testManager{
		sup:    &fakeSupervisor{},
		push:   newFakePush(),
		store:  newMemStore(),
		events: &recorder{},
	}
	tm.Manager = NewManager(ManagerConfig{
		Supervisor: tm.sup,
		Push:       tm.push,
		AllowPush:  allowPush,
		Store:      tm.store,
		Events:     tm.events,
		Options: OptionBuilder{
			Shells: fakeShells{
				shells: map[shell.Type]shell.Shell{
					shell.Bash:  {Type: shell.Bash, Name: "bash", Path: "/bin/bash", Args: []string{"-l"}},
					shell.Cmd64: {Type: shell.Cmd64, Name: "cmd.exe", Path: "/c/cmd.exe"},
				},
				fallback: shell.Shell{Type: shell.Sh, Name: "sh", Path: "/bin/sh"},
			},
			environ: func() []string { return []string{"HOME=/home/dev", "PATH=/usr/bin"} },
			homeDir: func() (string, error) { return "/home/dev", nil },
		},
		MaxSessions: 8,
		Tuning:      DefaultTuning(),
	})
	return tm
}

func TestCreateTerminal_PushFailureFallsBackToPoll(t *testing.T) {
	tm := newTestManager(true)
	tm.push.ensureErr = errBoom

	s, err := tm.CreateTerminal(TerminalRequest{ShellType: shell.Bash})
	require.NoError(t, err)

	assert.Equal(t, string(store.ChannelPoll), s.ChannelMode())
	_, listening := tm.push.listener(s.Handle())
	assert.False(t, listening)
}

func TestCreateTerminal_PushChannel(t *testing.T) {
	tm := newTestManager(true)

	s, err := tm.CreateTerminal(TerminalRequest{ShellType: shell.Bash})
	require.NoError(t, err)

	mode, id := s.Info().ChannelMode()
	assert.Equal(t, store.ChannelPush, mode)
	assert.Equal(t, "4711", id)
	_, listening := tm.push.listener(s.Handle())
	assert.True(t, listening)
}

func TestCreateTerminal_PushNotAllowed(t *testing.T) {
	tm := newTestManager(false)

	s, err := tm.CreateTerminal(TerminalRequest{ShellType: shell.Bash})
	require.NoError(t, err)
	assert.Equal(t, string(store.ChannelPoll), s.ChannelMode())
	assert.False(t, tm.push.running)
}

func TestReceivedInput_DrainsThroughHandle(t *testing.T) {
	tm := newTestManager(true)
	s, err := tm.CreateTerminal(TerminalRequest{ShellType: shell.Bash})
	require.NoError(t, err)
	cb, ok := tm.push.listener(s.Handle())
	require.True(t, ok)

	ops := &fakeOps{}

	// No process handle yet; the input waits for a tick.
	cb.OnReceivedInput("a")
	assert.Empty(t, ops.Writes())

	s.onContinue(ops)
	assert.Equal(t, []string{"a"}, ops.Writes())

	// Captured handle lets push input bypass the tick.
	cb.OnReceivedInput("b")
	assert.Equal(t, []string{"a", "b"}, ops.Writes())
}

func TestReceivedInput_HeldDuringSample(t *testing.T) {
	tm := newTestManager(true)
	s, err := tm.CreateTerminal(TerminalRequest{ShellType: shell.Bash, TrackEnv: true})
	require.NoError(t, err)
	cb, _ := tm.push.listener(s.Handle())

	ops := &fakeOps{}
	s.onContinue(ops)

	s.mu.Lock()
	s.sampling = true
	s.mu.Unlock()

	cb.OnReceivedInput("x")
	assert.Empty(t, ops.Writes())
}

func TestReceivedInput_AfterExitStaysQueued(t *testing.T) {
	tm := newTestManager(true)
	s, err := tm.CreateTerminal(TerminalRequest{ShellType: shell.Bash})
	require.NoError(t, err)
	cb, _ := tm.push.listener(s.Handle())

	ops := &fakeOps{}
	s.onContinue(ops)
	s.handleExit(0)

	cb.OnReceivedInput("late")
	assert.Empty(t, ops.Writes())

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, 1, s.queue.len())
}

func TestConnectionClosedStopsListening(t *testing.T) {
	tm := newTestManager(true)
	s, err := tm.CreateTerminal(TerminalRequest{ShellType: shell.Bash})
	require.NoError(t, err)
	cb, _ := tm.push.listener(s.Handle())

	cb.OnConnectionOpened()
	cb.OnConnectionClosed()
	_, listening := tm.push.listener(s.Handle())
	assert.False(t, listening)
}

func TestUsePoll(t *testing.T) {
	tm := newTestManager(true)
	s, err := tm.CreateTerminal(TerminalRequest{ShellType: shell.Bash})
	require.NoError(t, err)

	s.UsePoll()

	assert.Equal(t, string(store.ChannelPoll), s.ChannelMode())
	assert.Contains(t, tm.push.stopped, s.Handle())
	rec, ok := tm.store.record(s.Handle())
	require.True(t, ok)
	assert.Equal(t, store.ChannelPoll, rec.ChannelMode)

	// Output now goes out as poll events.
	s.onStdout(&fakeOps{}, "hi\n")
	assert.Len(t, tm.events.ofType(EventOutput), 1)
	assert.Empty(t, tm.push.sent[s.Handle()])
}

func TestReattach_KeepsPollChannel(t *testing.T) {
	tm := newTestManager(true)
	first, err := tm.CreateTerminal(TerminalRequest{ShellType: shell.Bash, AllowRestart: true})
	require.NoError(t, err)
	require.NoError(t, first.Start())
	first.UsePoll()

	again, err := tm.CreateTerminal(TerminalRequest{Handle: first.Handle(), ShellType: shell.Bash, AllowRestart: true})
	require.NoError(t, err)

	assert.Same(t, first, again)
	assert.Equal(t, string(store.ChannelPoll), again.ChannelMode())
	_, listening := tm.push.listener(again.Handle())
	assert.False(t, listening)
}

func TestReattach_KeepsPushChannel(t *testing.T) {
	tm := newTestManager(true)
	first, err := tm.CreateTerminal(TerminalRequest{ShellType: shell.Bash, AllowRestart: true})
	require.NoError(t, err)
	require.NoError(t, first.Start())
	first.onConnectionClosed()

	again, err := tm.CreateTerminal(TerminalRequest{Handle: first.Handle(), ShellType: shell.Bash, AllowRestart: true})
	require.NoError(t, err)

	assert.Same(t, first, again)
	assert.Equal(t, string(store.ChannelPush), again.ChannelMode())
	_, listening := tm.push.listener(again.Handle())
	assert.True(t, listening, "a reconnecting client gets a fresh listener")
}

func TestInputDelivery_TickAndPushKeepOrder(t *testing.T) {
	const writers, perWriter, ordered = 4, 50, 50

	tm := newTestManager(true)
	// Keep the gap from being given up on while pairs arrive swapped.
	tm.deps.Tuning.AutoFlushLength = 10 * (writers*perWriter + ordered)
	s, err := tm.CreateTerminal(TerminalRequest{ShellType: shell.Bash})
	require.NoError(t, err)
	cb, ok := tm.push.listener(s.Handle())
	require.True(t, ok)

	ops := &fakeOps{}
	s.onContinue(ops)

	done := make(chan struct{})
	var tick sync.WaitGroup
	tick.Add(1)
	go func() {
		defer tick.Done()
		for {
			select {
			case <-done:
				return
			default:
				s.onContinue(ops)
			}
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				cb.OnReceivedInput(fmt.Sprintf("push %d %d\n", w, i))
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for seq := 1; seq <= ordered; seq += 2 {
			s.EnqueueInput(Input{Text: fmt.Sprintf("seq %d\n", seq+1), Sequence: seq + 1})
			s.EnqueueInput(Input{Text: fmt.Sprintf("seq %d\n", seq), Sequence: seq})
		}
	}()
	wg.Wait()
	close(done)
	tick.Wait()
	s.onContinue(ops)

	writes := ops.Writes()
	require.Len(t, writes, writers*perWriter+ordered)

	next := make([]int, writers)
	nextSeq := 1
	for _, w := range writes {
		fields := strings.Fields(w)
		switch fields[0] {
		case "push":
			writer, _ := strconv.Atoi(fields[1])
			i, _ := strconv.Atoi(fields[2])
			require.Equal(t, next[writer], i, "writer %d out of order", writer)
			next[writer]++
		case "seq":
			seq, _ := strconv.Atoi(fields[1])
			require.Equal(t, nextSeq, seq, "ordered input out of order")
			nextSeq++
		default:
			t.Fatalf("unexpected write %q", w)
		}
	}
	assert.Equal(t, ordered+1, nextSeq)
}

func TestReattach_RunningTerminal(t *testing.T) {
	tm := newTestManager(false)
	first, err := tm.CreateTerminal(TerminalRequest{ShellType: shell.Bash, AllowRestart: true})
	require.NoError(t, err)
	require.NoError(t, first.Start())
	first.Info().SetAltBufferActive(true)

	again, err := tm.CreateTerminal(TerminalRequest{Handle: first.Handle(), ShellType: shell.Bash, AllowRestart: true})
	require.NoError(t, err)

	assert.Same(t, first, again)
	assert.False(t, again.Info().Restarted())
	assert.Equal(t, 1, tm.sup.launches)

	// The alt screen forces a redraw through a temporary resize.
	ops := &fakeOps{}
	again.onContinue(ops)
	assert.Equal(t, [][2]int{{store.DefaultCols / 2, store.DefaultRows / 2}}, ops.sizes)
}

func TestReattach_NewProcessKeepsHandle(t *testing.T) {
	tm := newTestManager(false)
	info := store.NewInfo("")
	info.SetHandle("prev-handle")
	info.SetShellType(shell.Bash)
	info.SetTerminalSequence(3)
	info.SetAllowRestart(true)
	info.SetAltBufferActive(true)
	tm.store.infos = []*store.Info{info}
	require.NoError(t, tm.Restore())

	s, err := tm.Start("prev-handle")
	require.NoError(t, err)

	assert.Equal(t, "prev-handle", s.Handle())
	assert.True(t, s.IsStarted())
	assert.True(t, s.Info().Restarted())
	assert.False(t, s.Info().AltBufferActive())
	assert.Equal(t, "/bin/bash", tm.sup.specs[0].Options.ShellPath)
	assert.Equal(t, "3", tm.sup.specs[0].Options.Environment[TermSequenceEnv])

	got, err := tm.Get("prev-handle")
	require.NoError(t, err)
	assert.Same(t, s, got)
}

func TestReattach_ShellWithoutBufferReload(t *testing.T) {
	tm := newTestManager(false)
	info := store.NewInfo("")
	info.SetHandle("cmd-handle")
	info.SetShellType(shell.Cmd64)
	info.SetTerminalSequence(1)
	info.SetAllowRestart(true)
	info.AppendToOutputBuffer("C:\\> dir\n")
	tm.store.infos = []*store.Info{info}
	require.NoError(t, tm.Restore())

	prev, err := tm.Get("cmd-handle")
	require.NoError(t, err)
	s, err := tm.CreateTerminalFor(prev)
	require.NoError(t, err)

	assert.Equal(t, shell.Cmd64, s.ShellType())
	assert.Empty(t, s.Buffer(), "scrollback cannot be replayed into cmd")
}
