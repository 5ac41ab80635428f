package session

import (
	"fmt"
	"log"
	"strconv"

	"termplex/internal/store"
	"termplex/internal/supervisor"
)

// negotiateChannel selects push delivery when it is allowed and the push
// server can be brought up, and poll delivery otherwise.
func negotiateChannel(info *store.Info, push PushServer, allowPush bool) {
	if !allowPush || push == nil {
		info.SetChannelMode(store.ChannelPoll, "")
		return
	}
	if err := push.EnsureServerRunning(); err != nil {
		info.SetChannelMode(store.ChannelPoll, "")
		log.Printf("[session] %s: %v, using poll channel", info.Handle(), fmt.Errorf("%w: %w", ErrPushUnavailable, err))
		return
	}
	info.SetChannelMode(store.ChannelPush, strconv.Itoa(push.Port()))
}

// createTerminal creates a terminal session for info, or returns the running
// session that already owns its handle.
func (m *Manager) createTerminal(opts supervisor.ProcessOptions, info *store.Info) (*Session, error) {
	// Only cleared when a running session is found for the handle.
	info.SetRestarted(true)

	negotiateChannel(info, m.deps.Push, m.allowPush)

	var s *Session
	if info.AllowRestart() && info.Handle() != "" {
		if existing, ok := m.lookup(info.Handle()); ok && existing.IsStarted() {
			s = existing
			s.info.SetRestarted(false)
			// A running session never moves from poll back to push.
			if mode, _ := s.info.ChannelMode(); mode != store.ChannelPoll {
				s.info.SetChannelMode(info.ChannelMode())
			}
			if s.info.AltBufferActive() {
				// Jiggle the pty size so the full-screen program redraws;
				// the client follows up with its real size.
				s.Resize(store.DefaultCols/2, store.DefaultRows/2)
			}
		} else {
			// The previous session may have died inside a full-screen
			// program.
			info.SetAltBufferActive(false)

			opts.TerminateChildren = true
			s = newSession(supervisor.SpawnSpec{Mode: supervisor.ModeTerminal, Options: opts}, info, m.deps)
			if err := m.add(s, true); err != nil {
				return nil, err
			}
			if !s.ShellType().ReloadsBuffer() {
				s.DeleteLogFile(false)
			}
			m.SaveAll()
		}
	} else {
		var err error
		s, err = m.create(supervisor.SpawnSpec{Mode: supervisor.ModeTerminal, Options: opts}, info)
		if err != nil {
			return nil, err
		}
	}

	if mode, _ := s.info.ChannelMode(); mode == store.ChannelPush && m.deps.Push != nil {
		m.deps.Push.Listen(s.Handle(), s.socketCallbacks())
	}
	return s, nil
}

func (s *Session) socketCallbacks() SocketCallbacks {
	return SocketCallbacks{
		OnReceivedInput:    s.onReceivedInput,
		OnConnectionOpened: s.onConnectionOpened,
		OnConnectionClosed: s.onConnectionClosed,
	}
}

// onReceivedInput handles input arriving on the push channel, outside the
// polling loop.
func (s *Session) onReceivedInput(input string) {
	s.EnqueueInput(TextInput(input))

	ops, ok := s.ops.load()
	if !ok {
		// Not running yet, or already exited; the tick will pick it up if
		// there is one.
		return
	}
	if s.SampleInProgress() {
		return
	}
	s.processQueuedInput(ops)
}

func (s *Session) onConnectionOpened() {
	s.logf("push connection opened")
}

func (s *Session) onConnectionClosed() {
	if s.deps.Push != nil {
		s.deps.Push.StopListening(s.Handle())
	}
}

// UsePoll switches the session to poll delivery, for clients that could not
// connect to the push channel.
func (s *Session) UsePoll() {
	if s.deps.Push != nil {
		s.deps.Push.StopListening(s.Handle())
	}
	s.info.SetChannelMode(store.ChannelPoll, "")
	s.persist()
}
