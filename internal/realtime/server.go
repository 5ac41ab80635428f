package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"termplex/internal/protocol"
	"termplex/internal/session"
	"termplex/internal/shell"
	"termplex/internal/supervisor"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow localhost origins for dev.
	},
}

// Server exposes the session manager over REST and streams session events
// to WebSocket clients.
type Server struct {
	sessionMgr *session.Manager
	events     *session.EventQueue
	staticDir  string
	shells     ShellLister

	clients   map[*client]bool
	clientsMu sync.RWMutex
}

type client struct {
	conn   *websocket.Conn
	server *Server
	subID  string

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// ShellLister reports the shells terminals can be created with.
type ShellLister interface {
	Available() []shell.Shell
}

// New creates a new realtime server.
func New(sessionMgr *session.Manager, events *session.EventQueue, staticDir string) *Server {
	return &Server{
		sessionMgr: sessionMgr,
		events:     events,
		staticDir:  staticDir,
		clients:    make(map[*client]bool),
	}
}

// WithShells makes GET /shells report the shells from l.
func (s *Server) WithShells(l ShellLister) *Server {
	s.shells = l
	return s
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// WebSocket endpoint.
	r.Get("/ws", s.handleWebSocket)

	// REST API endpoints.
	r.Get("/shells", s.handleListShells)
	r.Post("/terminals", s.handleCreateTerminal)
	r.Get("/sessions", s.handleListSessions)
	r.Post("/sessions", s.handleCreateSession)
	r.Route("/sessions/{handle}", func(r chi.Router) {
		r.Get("/", s.handleGetSession)
		r.Delete("/", s.handleDeleteSession)
		r.Post("/start", s.handleStartSession)
		r.Post("/input", s.handleInput)
		r.Post("/resize", s.handleResize)
		r.Post("/interrupt", s.handleInterrupt)
		r.Post("/interrupt-child", s.handleInterruptChild)
		r.Post("/use-poll", s.handleUsePoll)
		r.Get("/buffer", s.handleBuffer)
	})
	r.Get("/events", s.handleEvents)

	// Static file serving.
	if s.staticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.staticDir)))
	}

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleWebSocket upgrades an HTTP connection to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, 256),
		server: s,
	}

	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()

	// Send current session list to new client.
	s.sendSessionList(c)

	subID, events := s.events.Subscribe()
	c.subID = subID
	go c.forwardEvents(events)

	go c.writePump()
	go c.readPump()
}

// sendSessionList sends the current session table to a client.
func (s *Server) sendSessionList(c *client) {
	for _, sess := range s.sessionMgr.List() {
		msg, err := protocol.NewMessage(protocol.TypeSessionUpdate, sessionPayload(sess))
		if err != nil {
			continue
		}
		c.sendMessage(msg)
	}
}

// forwardEvents relays session events until the subscription is closed.
func (c *client) forwardEvents(events <-chan session.Event) {
	for ev := range events {
		msg, err := eventMessage(ev)
		if err != nil {
			log.Printf("encode event %d: %v", ev.ID, err)
			continue
		}
		c.sendMessage(msg)
	}
}

// readPump reads messages from the WebSocket connection.
func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket read error: %v", err)
			}
			return
		}

		c.server.handleMessage(c, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) sendMessage(msg *protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		// Client buffer full, skip. Pollers recover through /events.
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// removeClient cleans up a disconnected client.
func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()

	s.events.Unsubscribe(c.subID)
	c.close()
}

// handleMessage processes a validated client message.
func (s *Server) handleMessage(c *client, raw []byte) {
	msg, err := protocol.ValidateClientMessage(raw)
	if err != nil {
		s.sendError(c, protocol.ErrInvalidMessage, err.Error())
		return
	}

	switch msg.Type {
	case protocol.TypeTerminalCreate:
		var p protocol.TerminalCreatePayload
		protocol.DecodePayload(msg, &p)
		if _, err := s.createTerminal(p); err != nil {
			s.sendFailure(c, err)
		}

	case protocol.TypeSessionCreate:
		var p protocol.SessionCreatePayload
		protocol.DecodePayload(msg, &p)
		if _, err := s.createSession(p); err != nil {
			s.sendFailure(c, err)
		}

	case protocol.TypeSessionStart:
		var p protocol.HandlePayload
		protocol.DecodePayload(msg, &p)
		if _, err := s.startSession(p.Handle); err != nil {
			s.sendFailure(c, err)
		}

	case protocol.TypeConsoleInput:
		var p protocol.ConsoleInputPayload
		protocol.DecodePayload(msg, &p)
		if err := s.enqueueInput(p); err != nil {
			s.sendFailure(c, err)
		}

	case protocol.TypeTerminalResize:
		var p protocol.TerminalResizePayload
		protocol.DecodePayload(msg, &p)
		sess, err := s.sessionMgr.Get(p.Handle)
		if err != nil {
			s.sendFailure(c, err)
			return
		}
		sess.Resize(p.Cols, p.Rows)

	case protocol.TypeConsoleInterrupt:
		var p protocol.ConsoleInterruptPayload
		protocol.DecodePayload(msg, &p)
		sess, err := s.sessionMgr.Get(p.Handle)
		if err != nil {
			s.sendFailure(c, err)
			return
		}
		if p.Child {
			sess.InterruptChild()
		} else {
			sess.Interrupt()
		}

	case protocol.TypeSessionRemove:
		var p protocol.HandlePayload
		protocol.DecodePayload(msg, &p)
		if err := s.removeSession(p.Handle); err != nil {
			s.sendFailure(c, err)
		}
	}
}

// createTerminal creates (or reattaches to) a terminal and optionally
// starts it.
func (s *Server) createTerminal(p protocol.TerminalCreatePayload) (*session.Session, error) {
	shellType := shell.Default
	if p.ShellType != "" {
		t, ok := shell.ParseType(p.ShellType)
		if !ok {
			return nil, fmt.Errorf("%w: unknown shell type %q", errBadRequest, p.ShellType)
		}
		shellType = t
	}

	sess, err := s.sessionMgr.CreateTerminal(session.TerminalRequest{
		Handle:           p.Handle,
		Caption:          p.Caption,
		ShellType:        shellType,
		Cols:             p.Cols,
		Rows:             p.Rows,
		Cwd:              p.Cwd,
		TerminalSequence: p.TerminalSequence,
		TrackEnv:         p.TrackEnv,
		AllowRestart:     p.AllowRestart,
	})
	if err != nil {
		return nil, err
	}
	if p.Start {
		if err := startProcess(sess); err != nil {
			return nil, err
		}
	}

	s.broadcastSessionUpdate(sess)
	return sess, nil
}

// createSession creates a command or program session and optionally starts
// it.
func (s *Server) createSession(p protocol.SessionCreatePayload) (*session.Session, error) {
	opts := supervisor.ProcessOptions{WorkingDir: p.Cwd}

	var (
		sess *session.Session
		err  error
	)
	if p.Program != "" {
		sess, err = s.sessionMgr.CreateProgram(p.Program, p.Args, opts, p.Caption)
	} else {
		sess, err = s.sessionMgr.Create(p.Command, opts, p.Caption)
	}
	if err != nil {
		return nil, err
	}
	if p.Start {
		if err := startProcess(sess); err != nil {
			return nil, err
		}
	}

	s.broadcastSessionUpdate(sess)
	return sess, nil
}

// startProcess starts sess, tagging a supervisor failure as a launch error.
func startProcess(sess *session.Session) error {
	if err := sess.Start(); err != nil {
		return launchError(sess, err)
	}
	return nil
}

func launchError(sess *session.Session, err error) error {
	return fmt.Errorf("%w: session %s: %w", session.ErrLaunchFailed, sess.Handle(), err)
}

func (s *Server) startSession(handle string) (*session.Session, error) {
	sess, err := s.sessionMgr.Start(handle)
	if err != nil {
		if sess != nil {
			// The session exists; only its launch failed.
			err = launchError(sess, err)
		}
		return nil, err
	}
	s.broadcastSessionUpdate(sess)
	return sess, nil
}

func (s *Server) removeSession(handle string) error {
	if err := s.sessionMgr.Remove(handle); err != nil {
		return err
	}
	msg, err := protocol.NewMessage(protocol.TypeSessionRemoved, protocol.SessionRemovedPayload{Handle: handle})
	if err == nil {
		s.broadcast(msg)
	}
	return nil
}

func (s *Server) enqueueInput(p protocol.ConsoleInputPayload) error {
	sess, err := s.sessionMgr.Get(p.Handle)
	if err != nil {
		return err
	}
	sess.EnqueueInput(inputFromPayload(p))
	return nil
}

// inputFromPayload maps a client input body onto session input. A missing
// sequence means unordered.
func inputFromPayload(p protocol.ConsoleInputPayload) session.Input {
	in := session.Input{
		Text:      p.Text,
		Interrupt: p.Interrupt,
		Echo:      p.Echo,
		Sequence:  session.SequenceUnordered,
	}
	if p.Sequence != nil {
		in.Sequence = *p.Sequence
	}
	return in
}

// broadcastSessionUpdate sends a session update to all connected clients.
func (s *Server) broadcastSessionUpdate(sess *session.Session) {
	msg, err := protocol.NewMessage(protocol.TypeSessionUpdate, sessionPayload(sess))
	if err != nil {
		return
	}
	s.broadcast(msg)
}

// broadcast sends a message to all connected clients.
func (s *Server) broadcast(msg *protocol.Message) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for c := range s.clients {
		c.sendMessage(msg)
	}
}

func (s *Server) sendError(c *client, code, message string) {
	msg, err := protocol.NewErrorMessage(code, message)
	if err != nil {
		return
	}
	c.sendMessage(msg)
}

func (s *Server) sendFailure(c *client, err error) {
	_, code := errorStatus(err)
	s.sendError(c, code, err.Error())
}

var errBadRequest = errors.New("bad request")

// errorStatus maps an error to an HTTP status and protocol error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound, protocol.ErrSessionNotFound
	case errors.Is(err, session.ErrMaxSessions):
		return http.StatusConflict, protocol.ErrMaxSessions
	case errors.Is(err, session.ErrLaunchFailed):
		return http.StatusInternalServerError, protocol.ErrLaunchFailed
	case errors.Is(err, errBadRequest), errors.Is(err, session.ErrInvalidWorkDir):
		return http.StatusBadRequest, protocol.ErrInvalidMessage
	}
	return http.StatusInternalServerError, protocol.ErrInternal
}

// sessionPayload describes sess for clients.
func sessionPayload(sess *session.Session) protocol.SessionUpdatePayload {
	rec := sess.Info().Record()
	p := protocol.SessionUpdatePayload{
		Handle:           rec.Handle,
		Caption:          rec.Caption,
		Mode:             sess.Mode().String(),
		ShellType:        rec.ShellType.String(),
		InteractionMode:  string(rec.InteractionMode),
		ChannelMode:      string(rec.ChannelMode),
		ChannelID:        rec.ChannelID,
		Started:          sess.IsStarted(),
		ExitCode:         rec.ExitCode,
		Zombie:           rec.Zombie,
		Restarted:        rec.Restarted,
		AltBufferActive:  rec.AltBufferActive,
		HasChildProcs:    rec.HasChildProcs,
		Cols:             rec.Cols,
		Rows:             rec.Rows,
		Cwd:              rec.Cwd,
		TerminalSequence: rec.TerminalSequence,
		CreatedAt:        rec.CreatedAt.Format(time.RFC3339Nano),
	}
	if rec.TrackEnv {
		p.SampleBegin, p.SampleEnd = sess.SampleDelimiters()
	}
	return p
}

// eventMessage wraps a session event in the protocol envelope.
func eventMessage(ev session.Event) (*protocol.Message, error) {
	var (
		msgType string
		payload interface{}
	)
	switch ev.Type {
	case session.EventPrompt:
		msgType = protocol.TypeConsolePrompt
		payload = protocol.ConsolePromptPayload{EventID: ev.ID, Handle: ev.Handle, Prompt: ev.Prompt}
	case session.EventOutput:
		msgType = protocol.TypeConsoleOutput
		payload = protocol.ConsoleOutputPayload{EventID: ev.ID, Handle: ev.Handle, Output: ev.Output}
	case session.EventExit:
		msgType = protocol.TypeConsoleExit
		payload = protocol.ConsoleExitPayload{EventID: ev.ID, Handle: ev.Handle, ExitCode: ev.ExitCode}
	case session.EventSubprocs:
		msgType = protocol.TypeTerminalSubprocs
		payload = protocol.TerminalSubprocsPayload{EventID: ev.ID, Handle: ev.Handle, Subprocs: ev.Subprocs}
	case session.EventCwd:
		msgType = protocol.TypeTerminalCwd
		payload = protocol.TerminalCwdPayload{EventID: ev.ID, Handle: ev.Handle, Cwd: ev.Cwd}
	default:
		return nil, fmt.Errorf("unknown event type %q", ev.Type)
	}

	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		return nil, err
	}
	if !ev.Timestamp.IsZero() {
		msg.Timestamp = ev.Timestamp
	}
	return msg, nil
}
