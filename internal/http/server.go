// Package http serves the JSON API over tasks, the budget ledger,
// feedback, and manual intake runs.
package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"faccende/internal/cache"
	"faccende/internal/core"
	"faccende/internal/services"
	"faccende/internal/storage"
)

// Instructor produces step-by-step instructions for a task.
type Instructor interface {
	GenerateInstructions(ctx context.Context, t core.Task) ([]string, []core.Link, error)
}

// FeedbackApplier records a feedback signal and adjusts scoring bias.
type FeedbackApplier interface {
	Apply(ctx context.Context, taskID string, dimension core.Dimension, signal int) (core.Feedback, error)
}

// IntakeRunner executes one intake pass on demand.
type IntakeRunner interface {
	Run(ctx context.Context) (services.RunReport, error)
}

type Server struct {
	http.Server
	repo        *storage.Repository
	instructor  Instructor
	feedback    FeedbackApplier
	intake      IntakeRunner
	rateLimiter *rateLimiter

	// tasksCache holds rendered task lists per filter combination and is
	// purged whole on any task mutation.
	tasksCache   *cache.LRUCache[[]taskResponse]
	cacheManager *cache.Manager
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(addr string, repo *storage.Repository, instructor Instructor, feedback FeedbackApplier, intake IntakeRunner) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		repo:         repo,
		instructor:   instructor,
		feedback:     feedback,
		intake:       intake,
		rateLimiter:  newRateLimiter(),
		tasksCache:   cache.NewLRUCache[[]taskResponse](100, 30*time.Second),
		cacheManager: cache.NewManager(),
	}

	s.cacheManager.Register(s.tasksCache)
	s.cacheManager.StartCleanup(10 * time.Minute)

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET /api/tasks", s.withMiddleware(s.handleListTasks))
	mux.HandleFunc("GET /api/tasks/{id}", s.withMiddleware(s.handleGetTask))
	mux.HandleFunc("POST /api/tasks/{id}/status", s.withMiddleware(s.handleSetTaskStatus))
	mux.HandleFunc("POST /api/tasks/{id}/instructions", s.withMiddleware(s.handleGenerateInstructions))

	mux.HandleFunc("GET /api/budget", s.withMiddleware(s.handleBudgetSummary))
	mux.HandleFunc("GET /api/budget/transactions", s.withMiddleware(s.handleListTransactions))
	mux.HandleFunc("POST /api/budget/add", s.withMiddleware(s.handleBudgetAdd))

	mux.HandleFunc("POST /api/feedback", s.withMiddleware(s.handleFeedback))
	mux.HandleFunc("POST /api/intake/run", s.withMiddleware(s.handleIntakeRun))

	return s
}

// Shutdown gracefully shuts down the server and its cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// withMiddleware adds security headers, rate limiting on mutating
// methods, and request logging.
func (s *Server) withMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.Header.Get("X-Real-IP")
		}
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"client_ip", clientIP)

		if r.Method != http.MethodGet && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded",
				"client_ip", clientIP,
				"method", r.Method,
				"url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds())
	}
}

type requestIDKey struct{}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Ping(r.Context()); err != nil {
		slog.ErrorContext(r.Context(), "Readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("database unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// Simple in-memory rate limiter keyed by client IP.
type rateLimiter struct {
	mu           sync.Mutex
	clients      map[string]*clientInfo
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

type clientInfo struct {
	lastRequest time.Time
	requests    int
}

func newRateLimiter() *rateLimiter {
	rl := &rateLimiter{
		clients:     make(map[string]*clientInfo),
		stopCleanup: make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

func (rl *rateLimiter) startCleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *rateLimiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, client := range rl.clients {
		if client.lastRequest.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.shutdownOnce.Do(func() {
		close(rl.stopCleanup)
	})
}

func (rl *rateLimiter) allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	client, exists := rl.clients[clientIP]
	if !exists {
		rl.clients[clientIP] = &clientInfo{lastRequest: now, requests: 1}
		return true
	}

	if now.Sub(client.lastRequest) > time.Minute {
		client.requests = 1
		client.lastRequest = now
		return true
	}

	// Allow up to 60 mutating requests per minute.
	client.requests++
	client.lastRequest = now
	return client.requests <= 60
}
