package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"

	"github.com/loopbackai/agentd/internal/bgprocess"
	"github.com/loopbackai/agentd/pkg/types"
)

func (s *Server) listBackground(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"processes": s.bg.List()})
}

type startBackgroundRequest struct {
	SessionID string `json:"sessionId"`
	Command   string `json:"command"`
	Label     string `json:"label,omitempty"`
	Cwd       string `json:"cwd,omitempty"`
	TimeoutMs int64  `json:"timeoutMs,omitempty"`
}

// startBackground launches a detached child process (spec §4.5). Commands
// are tokenized directly, never handed to a shell.
func (s *Server) startBackground(w http.ResponseWriter, r *http.Request) {
	var req startBackgroundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "malformed JSON body")
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "command is required")
		return
	}

	proc, err := s.bg.Start(bgprocess.StartRequest{
		SessionID: req.SessionID,
		Command:   req.Command,
		Label:     req.Label,
		Cwd:       req.Cwd,
		TimeoutMs: req.TimeoutMs,
	})
	if err != nil {
		if errors.Is(err, bgprocess.ErrTooManyConcurrent) {
			writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, proc)
}

func (s *Server) backgroundStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	proc, err := s.bg.Status(id)
	if err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "unknown process")
		return
	}
	writeJSON(w, http.StatusOK, proc)
}

func (s *Server) backgroundOutput(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	req := bgprocess.OutputRequest{Stream: types.StreamBoth, Limit: 500}
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "after must be an integer sequence number")
			return
		}
		req.AfterSeq = n
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "limit must be an integer")
			return
		}
		req.Limit = n
	}
	if v := r.URL.Query().Get("stream"); v != "" {
		req.Stream = types.OutputStream(v)
	}

	chunks, hasMore, err := s.bg.Output(id, req)
	if err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "unknown process")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chunks": chunks, "hasMore": hasMore})
}

type killBackgroundRequest struct {
	Signal string `json:"signal,omitempty"`
}

func (s *Server) killBackground(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req killBackgroundRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	sig := syscall.SIGTERM
	if req.Signal == "SIGKILL" {
		sig = syscall.SIGKILL
	}

	if err := s.bg.Kill(id, sig); err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "unknown process")
		return
	}
	writeSuccess(w)
}
