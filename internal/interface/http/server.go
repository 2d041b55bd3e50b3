// Package http exposes the signal ingestion API of the integrity engine.
// Clients post raw playback, attention, and proctoring signals; the engine
// answers with corrected state and policy decisions. The package also serves
// health endpoints for orchestration.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumenlms/integrity-engine/internal/application/monitor"
	"github.com/lumenlms/integrity-engine/internal/application/proctor"
	"github.com/lumenlms/integrity-engine/internal/domain/assessment"
	"github.com/lumenlms/integrity-engine/internal/domain/progress"
	"github.com/lumenlms/integrity-engine/internal/domain/quota"
	"github.com/lumenlms/integrity-engine/internal/domain/shared"
	"github.com/lumenlms/integrity-engine/internal/interface/http/handlers"
	"github.com/lumenlms/integrity-engine/pkg/clock"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int

	EnableCORS     bool
	AllowedOrigins []string

	// RateLimitPerMinute caps requests per minute per client IP, 0 to
	// disable. This is transport-level abuse protection; the per-subject
	// quota tracker is a separate, domain-level policy.
	RateLimitPerMinute int
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       15 * time.Second,
		IdleTimeout:        60 * time.Second,
		MaxHeaderBytes:     1 << 20,
		EnableCORS:         true,
		AllowedOrigins:     []string{"*"},
		RateLimitPerMinute: 600,
	}
}

// Address returns the host:port the server binds to.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// QuestionSource loads the question set for an assessment.
type QuestionSource interface {
	LoadQuestions(ctx context.Context, assessmentID shared.AssessmentID) ([]assessment.Question, error)
}

// ResultSource reads persisted graded results for attempts that are no
// longer resident in memory.
type ResultSource interface {
	BestResult(ctx context.Context, userID shared.UserID, assessmentID shared.AssessmentID) (*assessment.Result, error)
}

// CompletionCache is an optional read-through cache for completion lookups.
type CompletionCache interface {
	Get(ctx context.Context, key shared.LessonKey) (progress.Ack, bool, error)
}

// Dependencies contains all dependencies required by HTTP handlers.
type Dependencies struct {
	// Lesson monitoring
	Monitors *monitor.Manager
	Progress progress.Repository
	Cache    CompletionCache

	// Proctored assessments
	Questions        QuestionSource
	Submitter        assessment.Submitter
	Results          ResultSource
	AssessmentConfig assessment.Config

	// Per-subject request quotas
	Quota *quota.Tracker

	// Ambient
	Bus    shared.EventPublisher
	Clock  clock.Clock
	Logger *zap.Logger

	HealthChecker handlers.HealthChecker
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server is the engine's HTTP front end.
type Server struct {
	config     Config
	deps       Dependencies
	httpServer *http.Server
	router     *http.ServeMux
	logger     *zap.Logger
	clk        clock.Clock

	// Active assessment runners, keyed by user and assessment.
	runnersMu sync.Mutex
	runners   map[string]*proctor.Runner

	limiter *ipLimiter

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer wires routes, middleware, and dependencies into a server ready
// for Start. Missing logger or clock fall back to no-op and wall clock.
func NewServer(config Config, deps Dependencies) *Server {
	s := &Server{
		config:  config,
		deps:    deps,
		router:  http.NewServeMux(),
		logger:  deps.Logger,
		clk:     deps.Clock,
		runners: make(map[string]*proctor.Runner),
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.clk == nil {
		s.clk = clock.Real()
	}
	if config.RateLimitPerMinute > 0 {
		s.limiter = newIPLimiter(config.RateLimitPerMinute, time.Minute)
	}

	s.routes()

	s.httpServer = &http.Server{
		Addr:           config.Address(),
		Handler:        s.wrap(s.router),
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}
	return s
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) routes() {
	// ─────────────────────────────────────────────────────────────────────────
	// Health & Status Endpoints
	// ─────────────────────────────────────────────────────────────────────────
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /healthz", s.handleHealth) // Kubernetes alias
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /live", s.handleLive)
	s.router.HandleFunc("GET /", s.handleRoot)

	// ─────────────────────────────────────────────────────────────────────────
	// API v1 - Lesson Watch Signals
	// ─────────────────────────────────────────────────────────────────────────
	s.router.HandleFunc("POST /api/v1/lessons/{course}/{module}/{lesson}/heartbeat", s.handleLessonHeartbeat)
	s.router.HandleFunc("POST /api/v1/lessons/{course}/{module}/{lesson}/signals", s.handleLessonSignal)
	s.router.HandleFunc("POST /api/v1/lessons/{course}/{module}/{lesson}/close", s.handleLessonClose)
	s.router.HandleFunc("GET /api/v1/lessons/{course}/{module}/{lesson}/progress", s.handleLessonProgress)
	s.router.HandleFunc("GET /api/v1/users/{user}/courses/{course}/completion", s.handleCourseCompletion)
	s.router.HandleFunc("GET /api/v1/users/{user}/sessions", s.handleUserSessions)
	s.router.HandleFunc("GET /api/v1/sessions/{session}/events", s.handleSessionEvents)

	// ─────────────────────────────────────────────────────────────────────────
	// API v1 - Request Quotas
	// ─────────────────────────────────────────────────────────────────────────
	s.router.HandleFunc("POST /api/v1/quota/{subject}/consume", s.handleQuotaConsume)

	// ─────────────────────────────────────────────────────────────────────────
	// API v1 - Proctored Assessments
	// ─────────────────────────────────────────────────────────────────────────
	s.router.HandleFunc("POST /api/v1/assessments/{assessment}/start", s.handleAssessmentStart)
	s.router.HandleFunc("POST /api/v1/assessments/{assessment}/fullscreen", s.handleAssessmentFullscreen)
	s.router.HandleFunc("POST /api/v1/assessments/{assessment}/answers", s.handleAssessmentAnswer)
	s.router.HandleFunc("POST /api/v1/assessments/{assessment}/restart", s.handleAssessmentRestart)
	s.router.HandleFunc("GET /api/v1/assessments/{assessment}/state", s.handleAssessmentState)
	s.router.HandleFunc("GET /api/v1/assessments/{assessment}/result", s.handleAssessmentResult)
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// wrap layers the middleware around the router. The first entry in the list
// sees the request first.
func (s *Server) wrap(h http.Handler) http.Handler {
	outer := []func(http.Handler) http.Handler{}
	if s.limiter != nil {
		outer = append(outer, s.rateLimit)
	}
	if s.config.EnableCORS {
		outer = append(outer, s.cors)
	}
	outer = append(outer, s.recoverPanics, s.logRequests, s.tagRequestID)

	for i := len(outer) - 1; i >= 0; i-- {
		h = outer[i](h)
	}
	return h
}

func (s *Server) tagRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(
			context.WithValue(r.Context(), contextKeyRequestID, id)))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("ip", clientIP(r)),
			zap.String("request_id", requestID(r.Context())),
		)
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				s.logger.Error("panic recovered",
					zap.Any("error", v),
					zap.String("stack", string(debug.Stack())),
					zap.String("path", r.URL.Path),
					zap.String("request_id", requestID(r.Context())),
				)
				writeJSONError(w, http.StatusInternalServerError,
					"internal_server_error", "An unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, o := range s.config.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", "60")
			writeJSONError(w, http.StatusTooManyRequests,
				"rate_limit_exceeded", "Too many requests, please try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start listens and serves until Shutdown. It returns http.ErrServerClosed
// after a graceful shutdown, matching net/http.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", zap.String("address", s.config.Address()))
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests and stops any assessment runners that
// are still counting down.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.runnersMu.Lock()
	for key, r := range s.runners {
		r.Stop()
		delete(s.runners, key)
	}
	s.runnersMu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Uptime reports how long the server has been serving, zero when stopped.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}

// Address returns the configured bind address.
func (s *Server) Address() string {
	return s.config.Address()
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSES
// ══════════════════════════════════════════════════════════════════════════════

// APIError is the wire shape of a handler failure.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]APIError{
		"error": {Code: code, Message: message},
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

type contextKey string

const contextKeyRequestID contextKey = "request_id"

// statusWriter remembers the status code for the request log.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

// clientIP prefers proxy headers over the socket address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}

// ══════════════════════════════════════════════════════════════════════════════
// PER-IP RATE LIMITER
// ══════════════════════════════════════════════════════════════════════════════

// ipLimiter counts requests per key in fixed windows. Idle keys are dropped
// when their window rolls over, so the map stays bounded by active clients.
type ipLimiter struct {
	mu     sync.Mutex
	counts map[string]*windowCount
	limit  int
	window time.Duration
}

type windowCount struct {
	windowStart time.Time
	n           int
}

func newIPLimiter(limit int, window time.Duration) *ipLimiter {
	return &ipLimiter{
		counts: make(map[string]*windowCount),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether the key has budget left in the current window.
func (l *ipLimiter) Allow(key string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	wc, ok := l.counts[key]
	if !ok || now.Sub(wc.windowStart) >= l.window {
		l.prune(now)
		l.counts[key] = &windowCount{windowStart: now, n: 1}
		return true
	}
	if wc.n >= l.limit {
		return false
	}
	wc.n++
	return true
}

// prune drops keys whose window has fully expired. Called with the lock held.
func (l *ipLimiter) prune(now time.Time) {
	for key, wc := range l.counts {
		if now.Sub(wc.windowStart) >= l.window {
			delete(l.counts, key)
		}
	}
}
