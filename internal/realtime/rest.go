package realtime

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"termplex/internal/protocol"
	"termplex/internal/session"
	"termplex/internal/shell"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	writeJSON(w, status, protocol.ErrorPayload{Message: err.Error(), Code: code})
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, protocol.ErrorPayload{Message: message, Code: protocol.ErrInvalidMessage})
}

func (s *Server) sessionFromPath(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessionMgr.Get(chi.URLParam(r, "handle"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) handleListShells(w http.ResponseWriter, r *http.Request) {
	available := []shell.Shell{}
	if s.shells != nil {
		available = append(available, s.shells.Available()...)
	}
	writeJSON(w, http.StatusOK, available)
}

func (s *Server) handleCreateTerminal(w http.ResponseWriter, r *http.Request) {
	var req protocol.TerminalCreatePayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		badRequest(w, err.Error())
		return
	}

	sess, err := s.createTerminal(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionPayload(sess))
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req protocol.SessionCreatePayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		badRequest(w, err.Error())
		return
	}

	sess, err := s.createSession(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionPayload(sess))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.sessionMgr.List()
	result := make([]protocol.SessionUpdatePayload, 0, len(sessions))
	for _, sess := range sessions {
		result = append(result, sessionPayload(sess))
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(sess))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.removeSession(chi.URLParam(r, "handle")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.startSession(chi.URLParam(r, "handle"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(sess))
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	var req protocol.ConsoleInputPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	req.Handle = chi.URLParam(r, "handle")
	if err := req.Validate(); err != nil {
		badRequest(w, err.Error())
		return
	}

	if err := s.enqueueInput(req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	var req protocol.TerminalResizePayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	req.Handle = chi.URLParam(r, "handle")
	if err := req.Validate(); err != nil {
		badRequest(w, err.Error())
		return
	}

	sess, ok := s.sessionFromPath(w, r)
	if !ok {
		return
	}
	sess.Resize(req.Cols, req.Rows)
	writeJSON(w, http.StatusOK, map[string]string{"status": "resized"})
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromPath(w, r)
	if !ok {
		return
	}
	sess.Interrupt()
	writeJSON(w, http.StatusOK, map[string]string{"status": "interrupted"})
}

func (s *Server) handleInterruptChild(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromPath(w, r)
	if !ok {
		return
	}
	sess.InterruptChild()
	writeJSON(w, http.StatusOK, map[string]string{"status": "interrupted"})
}

func (s *Server) handleUsePoll(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromPath(w, r)
	if !ok {
		return
	}
	sess.UsePoll()
	writeJSON(w, http.StatusOK, sessionPayload(sess))
}

func (s *Server) handleBuffer(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromPath(w, r)
	if !ok {
		return
	}

	chunk := 0
	if v := r.URL.Query().Get("chunk"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(w, "invalid chunk")
			return
		}
		chunk = n
	}

	text, more := sess.SavedBufferChunk(chunk)
	writeJSON(w, http.StatusOK, protocol.BufferPayload{
		Handle: sess.Handle(),
		Chunk:  chunk,
		Text:   text,
		More:   more,
	})
}

type eventsResponse struct {
	LastID uint64              `json:"lastId"`
	Events []*protocol.Message `json:"events"`
}

// handleEvents drains events newer than ?after= for poll clients.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var after uint64
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			badRequest(w, "invalid after")
			return
		}
		after = n
	}

	resp := eventsResponse{LastID: s.events.LastID(), Events: []*protocol.Message{}}
	for _, ev := range s.events.Since(after) {
		msg, err := eventMessage(ev)
		if err != nil {
			continue
		}
		resp.Events = append(resp.Events, msg)
	}
	writeJSON(w, http.StatusOK, resp)
}
