package server

import (
	"net/http"
	"time"
)

// health is the unauthenticated liveness ping (spec §4.7).
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// healthV3Response is /v3/health's body, matching ensureRunning's contract
// check (spec §4.9: "/v3/health responds OK with matching contract").
type healthV3Response struct {
	DaemonID string `json:"daemonId"`
	Version  string `json:"version"`
	UptimeMs int64  `json:"uptimeMs"`
	Contract struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"contract"`
}

func (s *Server) healthV3(w http.ResponseWriter, r *http.Request) {
	resp := healthV3Response{
		DaemonID: s.cfg.DaemonID,
		Version:  s.cfg.Version,
		UptimeMs: time.Since(s.startedAt).Milliseconds(),
	}
	resp.Contract.Name = "agentd"
	resp.Contract.Version = s.cfg.Version
	writeJSON(w, http.StatusOK, resp)
}

// metrics is a runtime snapshot for observability (spec §4.7).
func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions":  len(s.sessions.List()),
		"background": len(s.bg.List()),
		"uptimeMs": time.Since(s.startedAt).Milliseconds(),
	})
}
