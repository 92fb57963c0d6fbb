// Package server provides the HTTP control plane and WebSocket/SSE
// streaming planes described in spec §4.7/§4.8.
//
// Grounded on the teacher's internal/server/server.go (chi router +
// middleware composition) and internal/server/sse.go (heartbeat/flush
// discipline), with bearer-token auth and a loopback-only bind replacing the
// teacher's CORS-only, any-interface posture.
package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/loopbackai/agentd/internal/bgprocess"
	"github.com/loopbackai/agentd/internal/logging"
	"github.com/loopbackai/agentd/internal/session"
)

// loopbackOriginRe matches the subset of Origin headers this server treats
// as same-machine (spec §4.7: "CORS is enabled only for loopback origins").
var loopbackOriginRe = regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1|\[::1\])(:\d+)?$`)

// Config holds server configuration.
type Config struct {
	Host         string
	Port         int
	Token        string
	DaemonID     string
	Version      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration matching spec §5.
func DefaultConfig() *Config {
	return &Config{
		Host:        "127.0.0.1",
		Port:        9999,
		ReadTimeout: 30 * time.Second,
	}
}

// Server is the daemon's HTTP/WS/SSE control plane.
type Server struct {
	cfg       *Config
	router    *chi.Mux
	httpSrv   *http.Server
	sessions  *session.Manager
	bg        *bgprocess.Manager
	startedAt time.Time
}

// New creates a Server bound to cfg.Host/cfg.Port (not yet listening).
func New(cfg *Config, sessions *session.Manager, bg *bgprocess.Manager) (*Server, error) {
	if err := requireLoopback(cfg.Host); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:       cfg,
		router:    chi.NewRouter(),
		sessions:  sessions,
		bg:        bg,
		startedAt: time.Now(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

// requireLoopback refuses to bind to anything but a loopback address (spec
// §4.7: "Loopback bind only; refuses bind to any non-loopback address").
func requireLoopback(host string) error {
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("server: refusing non-loopback bind address %q", host)
	}
	return nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)
	s.router.Use(cors.Handler(cors.Options{
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			return loopbackOriginRe.MatchString(origin)
		},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	s.router.Use(s.authenticate)
}

// authenticate enforces the bearer-token contract (header or ?token=),
// constant-time compared, except for the unauthenticated /health liveness
// ping (spec §4.7).
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.URL.Query().Get("token")
		if token == "" {
			auth := r.Header.Get("Authorization")
			token = strings.TrimPrefix(auth, "Bearer ")
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Token)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ListenAndServe binds the preferred port, falling back across a small
// range on conflict (spec §4.7), then serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	const fallbackRange = 10

	var lastErr error
	for port := s.cfg.Port; port < s.cfg.Port+fallbackRange; port++ {
		addr := fmt.Sprintf("%s:%d", s.cfg.Host, port)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			if !isPortBusy(err) {
				return fmt.Errorf("server: bind %s: %w", addr, err)
			}
			lastErr = err
			continue
		}

		s.cfg.Port = port
		s.httpSrv = &http.Server{
			Handler:      s.router,
			ReadTimeout:  s.cfg.ReadTimeout,
			WriteTimeout: s.cfg.WriteTimeout,
		}
		logging.Info().Int("port", port).Msg("daemon listening")
		return s.httpSrv.Serve(ln)
	}
	return fmt.Errorf("server: no free port in range [%d, %d): %w", s.cfg.Port, s.cfg.Port+fallbackRange, lastErr)
}

func isPortBusy(err error) bool {
	return strings.Contains(err.Error(), "address already in use")
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux { return s.router }

// Port returns the port actually bound (after any fallback).
func (s *Server) Port() int { return s.cfg.Port }
