package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/loopbackai/agentd/internal/session"
	"github.com/loopbackai/agentd/pkg/types"
)

type createSessionRequest struct {
	ID    string `json:"id"`
	Model string `json:"model"`
}

// createSession creates (or idempotently re-fetches) a session by ID
// (spec §4.2/§4.7: create is idempotent by ID).
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "malformed JSON body")
		return
	}
	if req.ID == "" {
		req.ID = ulid.Make().String()
	}

	sess, err := s.sessions.GetOrCreate(req.ID, req.Model)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, sess.Snapshot().Session)
}

func (s *Server) sessionOr404(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := chi.URLParam(r, "sessionID")
	sess, ok := s.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "unknown session")
		return nil, false
	}
	return sess, true
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionOr404(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot().Session)
}

type submitTurnRequest struct {
	ID          string         `json:"id"`
	ClientID    string         `json:"clientId"`
	WriterID    string         `json:"writerId"`
	Content     string         `json:"content"`
	Mode        types.TurnMode `json:"mode"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	LastSeenSeq *int64         `json:"lastSeenSeq,omitempty"`
}

func (s *Server) submitTurn(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionOr404(w, r)
	if !ok {
		return
	}

	var req submitTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "malformed JSON body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "content is required")
		return
	}
	if req.ID == "" {
		req.ID = ulid.Make().String()
	}
	if req.Mode == "" {
		req.Mode = types.ModeChat
	}

	// Optimistic concurrency: a caller that has seen the session fall
	// behind its own lastSeenSeq is acting on stale state (spec §4.6/§7).
	if req.LastSeenSeq != nil && *req.LastSeenSeq < sess.CurrentSeq() {
		sess.Emit(types.EventTurnError, types.TurnErrorPayload{
			TurnID: req.ID, WriterID: req.WriterID, ClientID: req.ClientID,
			Message: "session has advanced past lastSeenSeq", Code: types.ErrStateConflict,
		})
		writeError(w, http.StatusConflict, ErrCodeStateConflict, "lastSeenSeq is stale")
		return
	}

	if !sess.HasHeadroom() {
		sess.Emit(types.EventTurnError, types.TurnErrorPayload{
			TurnID: req.ID, WriterID: req.WriterID, ClientID: req.ClientID,
			Message: "storage headroom exhausted", Code: types.ErrStorageFull,
		})
		writeError(w, http.StatusInsufficientStorage, ErrCodeStorageFull, "insufficient storage headroom")
		return
	}

	turn := types.Turn{
		ID:        req.ID,
		SessionID: sess.ID,
		ClientID:  req.ClientID,
		WriterID:  req.WriterID,
		Content:   req.Content,
		Mode:      req.Mode,
		Metadata:  req.Metadata,
		CreatedAt: time.Now().UnixMilli(),
	}
	sess.Submit(turn)

	writeJSON(w, http.StatusAccepted, map[string]string{"id": turn.ID, "state": string(types.TurnQueued)})
}

type cancelTurnRequest struct {
	TurnID   string `json:"turnId"`
	WriterID string `json:"writerId"`
}

func (s *Server) cancelTurn(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionOr404(w, r)
	if !ok {
		return
	}

	var req cancelTurnRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	n := sess.CancelTurns(req.TurnID, req.WriterID)
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": n})
}

type resolvePermissionRequest struct {
	Decision  types.PermissionDecision `json:"decision"`
	DecidedBy string                   `json:"decidedBy,omitempty"`
}

// resolvePermission applies the first decision for a pending request (spec
// §4.3: first-decision-wins, conflict on a repeat resolve).
func (s *Server) resolvePermission(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.sessionOr404(w, r); !ok {
		return
	}
	reqID := chi.URLParam(r, "reqID")

	var req resolvePermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "malformed JSON body")
		return
	}
	if req.Decision != types.DecisionAllow && req.Decision != types.DecisionDeny {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "decision must be allow or deny")
		return
	}

	result := s.sessions.ResolvePermission(reqID, req.Decision, req.DecidedBy)
	switch {
	case result.OK:
		writeJSON(w, http.StatusOK, result)
	case result.Conflict:
		writeJSON(w, http.StatusConflict, result)
	default:
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "unknown or expired permission request")
	}
}

// replayEvents returns every durable event after afterSeq, the HTTP-polling
// counterpart to the WS/SSE replay-then-live merge (spec §4.8).
func (s *Server) replayEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionOr404(w, r)
	if !ok {
		return
	}

	after := int64(0)
	if v := r.URL.Query().Get("after"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "after must be an integer sequence number")
			return
		}
		after = parsed
	}

	events, err := sess.ReplayAfter(after)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
