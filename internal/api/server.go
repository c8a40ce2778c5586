package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/JakeFAU/engagement-analytics/internal/analytics"
	"github.com/JakeFAU/engagement-analytics/internal/botfilter"
	"github.com/JakeFAU/engagement-analytics/internal/metrics"
	"github.com/JakeFAU/engagement-analytics/internal/pipeline"
	"github.com/JakeFAU/engagement-analytics/internal/policy/ratelimit"
	"github.com/JakeFAU/engagement-analytics/internal/replay"
	"github.com/JakeFAU/engagement-analytics/internal/telemetry"
)

// DefaultMaxBodyBytes caps a replay request body.
const DefaultMaxBodyBytes int64 = 1 << 20

const requestTimeout = 30 * time.Second

// Options configure a Server.
type Options struct {
	// Emitter receives every event that passes the bot gate.
	Emitter      analytics.Emitter
	Limiter      *ratelimit.Limiter
	MaxBodyBytes int64
	Heuristic    *botfilter.Heuristic
	Pipeline     pipeline.Config

	// TrustedProxies lists peers whose X-Forwarded-For header is believed.
	// Callers connecting from anywhere else are keyed by socket address.
	TrustedProxies []netip.Prefix

	// Ready reports whether downstream dependencies are usable.
	Ready  func(context.Context) error
	Logger *zap.Logger

	// TracerProvider receives a server span per request and a replay.run
	// span per replay. Nil disables tracing.
	TracerProvider trace.TracerProvider
}

// Server wires HTTP handlers to the replay pipeline.
type Server struct {
	router  chi.Router
	handler http.Handler
	opts    Options
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options) *Server {
	if opts.Emitter == nil {
		opts.Emitter = analytics.NopEmitter{}
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.New(ratelimit.Config{})
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	s := &Server{opts: opts, logger: logger.Named("api"), tracer: tp.Tracer(telemetry.TracerName)}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/replay", s.replayTrace)
	})

	s.router = r
	s.handler = otelhttp.NewHandler(r, "engagement-api",
		otelhttp.WithTracerProvider(tp),
		otelhttp.WithPropagators(telemetry.Propagator()),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
	return s
}

// Handler returns the traced router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// replayTrace handles POST /v1/replay. The body is an NDJSON signal trace.
// It returns the replay summary, 429 when the client is over its rate, 413
// for oversized bodies and 400 for malformed traces.
func (s *Server) replayTrace(w http.ResponseWriter, r *http.Request) {
	if !s.opts.Limiter.Allow(s.clientKey(r)) {
		metrics.ObserveReplayRejected("rate_limited")
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	body := http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	signals, err := replay.Decode(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.ObserveReplayRejected("too_large")
			writeError(w, http.StatusRequestEntityTooLarge, "trace too large")
			return
		}
		metrics.ObserveReplayRejected("malformed")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	summary, err := replay.Run(ctx, signals, replay.Options{
		Emitter:     s.opts.Emitter,
		Environment: botfilter.Environment{UserAgent: r.UserAgent()},
		Heuristic:   s.opts.Heuristic,
		Pipeline:    s.opts.Pipeline,
		Logger:      s.logger,
		Tracer:      s.tracer,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// clientKey identifies the caller for rate limiting. X-Forwarded-For is
// only consulted when the socket peer is a trusted proxy, and then the
// rightmost hop that is not itself a trusted proxy wins.
func (s *Server) clientKey(r *http.Request) string {
	peer := remoteHost(r.RemoteAddr)
	if !s.trustedProxy(peer) {
		return peer
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" || s.trustedProxy(hop) {
			continue
		}
		return hop
	}
	return peer
}

func (s *Server) trustedProxy(host string) bool {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range s.opts.TrustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
