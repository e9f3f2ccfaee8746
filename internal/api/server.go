// Package api provides the loopback ingress server for the browser helper.
package api

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/quantumlife/worktrail/internal/core"
	"github.com/quantumlife/worktrail/internal/logging"
	"github.com/quantumlife/worktrail/internal/notifications"
)

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 41417

	// RateLimit is the number of requests allowed per path per RateWindow.
	RateLimit  = 60
	RateWindow = time.Minute

	HandlerTimeout = time.Second

	maxBrowserBody = 10 << 10
	maxContextBody = 50 << 10
)

// Engine is the part of the tracker the ingress talks to.
type Engine interface {
	Status() core.Status
	Running() bool
	EnrichBrowser(evt core.BrowserEvent) bool
	EnrichPageContext(pc core.PageContext) bool
}

// Server is the HTTP ingress server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	listener   net.Listener

	engine  Engine
	events  *notifications.Service
	hub     *EventHub
	logger  *logging.Logger
	devMode bool
	version string
	token   string

	mu sync.Mutex
}

// Config for the server
type Config struct {
	Host    string
	Port    int
	DevMode bool
	Version string
	Engine  Engine
	Events  *notifications.Service
	Logger  *logging.Logger
}

// New creates a new ingress server with a fresh session token.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("api: engine is required")
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Version == "" {
		cfg.Version = core.Version
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	token, err := newToken()
	if err != nil {
		return nil, fmt.Errorf("api: generate token: %w", err)
	}

	logger := cfg.Logger.Component("ingress")
	s := &Server{
		engine:  cfg.Engine,
		events:  cfg.Events,
		logger:  logger,
		devMode: cfg.DevMode,
		version: cfg.Version,
		token:   token,
	}
	s.hub = NewEventHub(cfg.Events, logger)
	s.setupRouter()

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Token returns the session token clients must present.
func (s *Server) Token() string { return s.token }

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// setupRouter configures all routes
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(s.recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc: func(_ *http.Request, origin string) bool { return isExtensionOrigin(origin) },
		AllowedMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:  []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:          300,
	}))

	r.Use(httprate.Limit(RateLimit, RateWindow,
		httprate.WithKeyFuncs(httprate.KeyByEndpoint),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}),
	))

	r.Get("/status", s.handleStatus)
	r.Get("/events", s.hub.ServeHTTP(s.validToken))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(HandlerTimeout))
		r.Use(s.requireToken)
		r.With(maxBody(maxBrowserBody)).Post("/browser-activity", s.handleBrowserActivity)
		r.With(maxBody(maxContextBody)).Post("/page-context", s.handlePageContext)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	s.router = r
}

// Start binds the listener and serves in the background. A bind failure
// (for example a port collision) is returned to the caller.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", s.httpServer.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("ingress listening on http://%s", ln.Addr())
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("ingress stopped: %v", err)
		}
	}()
	return nil
}

// Stop gracefully stops the server and closes event streams.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("%s %s %d %s [%s]", r.Method, r.URL.Path, ww.Status(),
			time.Since(start).Round(time.Microsecond), middleware.GetReqID(r.Context()))
	})
}

// recoverer turns a handler panic into a JSON 500.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("panic in %s %s: %v", r.Method, r.URL.Path, rec)
				respondError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && !isExtensionOrigin(origin) {
			respondError(w, http.StatusForbidden, "origin not allowed")
			return
		}
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || token == "" {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if !s.validToken(token) {
			respondError(w, http.StatusForbidden, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) validToken(token string) bool {
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) == 1
}

func maxBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > n {
				respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}

// isExtensionOrigin reports whether origin belongs to a browser extension.
func isExtensionOrigin(origin string) bool {
	for _, scheme := range []string{"chrome-extension://", "moz-extension://", "safari-extension://", "safari-web-extension://"} {
		if strings.HasPrefix(origin, scheme) && len(origin) > len(scheme) {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// Responses
// -----------------------------------------------------------------------------

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	body, err := sonic.Marshal(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"encode failed"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
