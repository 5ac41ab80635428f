package realtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"termplex/internal/session"
)

var (
	ErrNotConnected = errors.New("no push connection")
	errSlowClient   = errors.New("push connection send buffer full")
)

const pushSendBuffer = 1024

// Socket is the push channel server. Each terminal handle gets at most one
// websocket carrying raw output out and keystrokes in. The listener is only
// started when the first push session asks for it.
type Socket struct {
	host string
	port int

	mu        sync.Mutex
	srv       *http.Server
	boundPort int
	listeners map[string]session.SocketCallbacks
	conns     map[string]*pushConn
}

// pushConn is one terminal's websocket.
type pushConn struct {
	handle string
	conn   *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// NewSocket creates a push server for host:port. Port 0 picks a free port
// when the server starts.
func NewSocket(host string, port int) *Socket {
	return &Socket{
		host:      host,
		port:      port,
		listeners: make(map[string]session.SocketCallbacks),
		conns:     make(map[string]*pushConn),
	}
}

// EnsureServerRunning starts the listener if it is not running yet.
func (s *Socket) EnsureServerRunning() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(s.host, strconv.Itoa(s.port)))
	if err != nil {
		return fmt.Errorf("listen push socket: %w", err)
	}

	srv := &http.Server{Handler: s.Handler()}
	s.srv = srv
	s.boundPort = ln.Addr().(*net.TCPAddr).Port

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[socket] serve: %v", err)
		}
	}()
	log.Printf("[socket] push channel listening on port %d", s.boundPort)
	return nil
}

// Port returns the port the server is bound to, or 0 before it starts.
func (s *Socket) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundPort
}

// Listen accepts a connection for handle, dispatching to cb.
func (s *Socket) Listen(handle string, cb session.SocketCallbacks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[handle] = cb
}

// StopListening forgets handle and closes its connection.
func (s *Socket) StopListening(handle string) {
	s.mu.Lock()
	delete(s.listeners, handle)
	pc := s.conns[handle]
	delete(s.conns, handle)
	s.mu.Unlock()

	if pc != nil {
		pc.close()
	}
}

// SendText queues text for the handle's connection.
func (s *Socket) SendText(handle, text string) error {
	s.mu.Lock()
	pc := s.conns[handle]
	s.mu.Unlock()

	if pc == nil {
		return fmt.Errorf("%w for %s", ErrNotConnected, handle)
	}
	return pc.enqueue([]byte(text))
}

// Shutdown stops the listener and closes every connection.
func (s *Socket) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	conns := s.conns
	s.conns = make(map[string]*pushConn)
	s.mu.Unlock()

	for _, pc := range conns {
		pc.close()
	}
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Handler serves /terminal/{handle}.
func (s *Socket) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/terminal/{handle}", s.handleTerminal)
	return r
}

func (s *Socket) handleTerminal(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")

	s.mu.Lock()
	cb, ok := s.listeners[handle]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown terminal", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[socket] %s: upgrade: %v", handle, err)
		return
	}

	pc := &pushConn{
		handle: handle,
		conn:   conn,
		send:   make(chan []byte, pushSendBuffer),
	}

	s.mu.Lock()
	prev := s.conns[handle]
	s.conns[handle] = pc
	s.mu.Unlock()
	if prev != nil {
		// A reconnecting client replaces its stale connection.
		prev.close()
	}

	if cb.OnConnectionOpened != nil {
		cb.OnConnectionOpened()
	}

	go pc.writePump()
	go s.readPump(pc, cb)
}

func (s *Socket) readPump(pc *pushConn, cb session.SocketCallbacks) {
	defer func() {
		s.mu.Lock()
		current := s.conns[pc.handle] == pc
		if current {
			delete(s.conns, pc.handle)
		}
		s.mu.Unlock()

		pc.close()
		if current && cb.OnConnectionClosed != nil {
			cb.OnConnectionClosed()
		}
	}()

	pc.conn.SetReadDeadline(time.Now().Add(readDeadline))
	pc.conn.SetPongHandler(func(string) error {
		pc.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		msgType, message, err := pc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[socket] %s: read: %v", pc.handle, err)
			}
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		if cb.OnReceivedInput != nil {
			cb.OnReceivedInput(string(message))
		}
	}
}

func (pc *pushConn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		pc.conn.Close()
	}()

	for {
		select {
		case message, ok := <-pc.send:
			pc.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				pc.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := pc.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			pc.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := pc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (pc *pushConn) enqueue(data []byte) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.closed {
		return fmt.Errorf("%w for %s", ErrNotConnected, pc.handle)
	}
	select {
	case pc.send <- data:
		return nil
	default:
		return errSlowClient
	}
}

// close ends the write pump, which closes the websocket.
func (pc *pushConn) close() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if !pc.closed {
		pc.closed = true
		close(pc.send)
	}
}
