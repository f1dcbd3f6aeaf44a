// Package server exposes the lending engine over HTTP with JSON payloads.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"lendcore/native/lending"
	"lendcore/observability/metrics"
)

const requestBodyLimit = 1 << 20 // 1 MiB

// Server routes HTTP requests to a lending engine.
type Server struct {
	engine  *lending.Engine
	logger  *slog.Logger
	metrics *metrics.LendingMetrics

	limitPerMinute float64
	limitBurst     int
	mu             sync.Mutex
	visitors       map[string]*rate.Limiter

	router chi.Router
}

// Option customizes server construction.
type Option func(*Server)

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRateLimit enables per-client request limiting on mutation routes.
func WithRateLimit(requestsPerMinute float64, burst int) Option {
	return func(s *Server) {
		s.limitPerMinute = requestsPerMinute
		s.limitBurst = burst
	}
}

// WithMetrics attaches the prometheus registry for HTTP counters.
func WithMetrics(m *metrics.LendingMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New builds a server over the engine.
func New(engine *lending.Engine, opts ...Option) *Server {
	s := &Server{
		engine:   engine,
		logger:   slog.Default(),
		visitors: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/markets", s.handleListMarkets)
		r.Get("/markets/{marketID}", s.handleGetMarket)
		r.Get("/markets/{marketID}/metrics", s.handleMarketMetrics)
		r.Get("/markets/{marketID}/rates", s.handleRateHistory)
		r.Get("/positions", s.handleListPositions)
		r.Get("/positions/{address}", s.handleGetPosition)
		r.Get("/transactions", s.handleTransactions)
		r.Get("/liquidations", s.handleLiquidations)
		r.Get("/stats", s.handleStats)

		r.Post("/quotes/supply", s.handleQuoteSupply)
		r.Post("/quotes/withdraw", s.handleQuoteWithdraw)
		r.Post("/quotes/borrow", s.handleQuoteBorrow)
		r.Post("/quotes/repay", s.handleQuoteRepay)
		r.Post("/quotes/liquidation", s.handleQuoteLiquidation)

		r.Group(func(r chi.Router) {
			r.Use(s.throttle)
			r.Post("/markets", s.handleCreateMarket)
			r.Post("/markets/{marketID}/status", s.handleSetMarketStatus)
			r.Post("/supply", s.handleSupply)
			r.Post("/withdraw", s.handleWithdraw)
			r.Post("/borrow", s.handleBorrow)
			r.Post("/repay", s.handleRepay)
			r.Post("/liquidate", s.handleLiquidate)
		})
	})
	return r
}

// observe logs each request and feeds the HTTP counters.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		s.logger.Info("http request",
			"method", r.Method, "route", route,
			"status", recorder.status, "duration_ms", time.Since(start).Milliseconds())
		if s.metrics != nil {
			s.metrics.IncHTTPRequest(route, strconv.Itoa(recorder.status/100*100))
		}
	})
}

// throttle applies a per-client token bucket to mutation routes.
func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limitPerMinute <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		if !s.limiterFor(clientID(r)).Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limiterFor(id string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limiter, ok := s.visitors[id]; ok {
		return limiter
	}
	burst := s.limitBurst
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(s.limitPerMinute/60.0), burst)
	s.visitors[id] = limiter
	return limiter
}

func clientID(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

type errorPayload struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, statusFor(err), errorPayload{Error: err.Error()})
}

func (s *Server) writeBadRequest(w http.ResponseWriter, format string, args ...any) {
	s.writeJSON(w, http.StatusBadRequest, errorPayload{Error: fmt.Sprintf(format, args...)})
}

// statusFor maps the engine's error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, lending.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, lending.ErrMarketExists):
		return http.StatusConflict
	case errors.Is(err, lending.ErrInvalidAmount),
		errors.Is(err, lending.ErrNoDebt):
		return http.StatusBadRequest
	case errors.Is(err, lending.ErrInvalidState),
		errors.Is(err, lending.ErrNotLiquidatable):
		return http.StatusConflict
	case errors.Is(err, lending.ErrInsufficientLiquidity),
		errors.Is(err, lending.ErrExceedsCapacity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, lending.ErrStalePrice):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, requestBodyLimit)
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeBadRequest(w, "invalid request body: %v", err)
		return false
	}
	return true
}

func limitParam(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 50
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 50
	}
	return limit
}
