package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/engagement-analytics/internal/analytics"
	"github.com/JakeFAU/engagement-analytics/internal/policy/ratelimit"
	"github.com/JakeFAU/engagement-analytics/internal/replay"
)

const browserUA = "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0"

const sampleTrace = `{"at_ms":0,"type":"navigate","path":"/about"}
{"at_ms":500,"type":"open","subject":"post","read_time":"3 min"}
{"at_ms":900,"type":"scroll","offset":600,"extent":1000}
{"at_ms":8000,"type":"close"}
`

type recorder struct {
	mu     sync.Mutex
	events []analytics.Event
}

func (r *recorder) Emit(evt analytics.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func postTrace(t *testing.T, h http.Handler, body, ua string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/replay", bytes.NewBufferString(body))
	req.Header.Set("User-Agent", ua)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_ReplaySucceeds(t *testing.T) {
	t.Parallel()

	events := &recorder{}
	server := NewServer(Options{Emitter: events})

	rec := postTrace(t, server.Handler(), sampleTrace, browserUA)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var summary replay.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	require.False(t, summary.Bot)
	require.Equal(t, 4, summary.Signals)
	// page_view, article_opened, scroll 25 and 50, dwell_time
	require.Equal(t, int64(5), summary.Emitted)
	require.Equal(t, 5, events.Len())
}

func TestServer_ReplayUsesUserAgentForBotCheck(t *testing.T) {
	t.Parallel()

	events := &recorder{}
	server := NewServer(Options{Emitter: events})

	rec := postTrace(t, server.Handler(), sampleTrace, "Mozilla/5.0 (compatible; bingbot/2.0)")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"bot":true`)
	require.Zero(t, events.Len())
}

func TestServer_ReplayMalformedTrace(t *testing.T) {
	t.Parallel()

	server := NewServer(Options{})
	rec := postTrace(t, server.Handler(), `{"at_ms":0,"type":"teleport"}`, browserUA)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "malformed trace")
}

func TestServer_ReplayBodyTooLarge(t *testing.T) {
	t.Parallel()

	server := NewServer(Options{MaxBodyBytes: 64})
	rec := postTrace(t, server.Handler(), strings.Repeat(sampleTrace, 4), browserUA)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestServer_ReplayRateLimited(t *testing.T) {
	t.Parallel()

	server := NewServer(Options{Limiter: ratelimit.New(ratelimit.Config{RPS: 0.001, Burst: 1})})
	require.Equal(t, http.StatusOK, postTrace(t, server.Handler(), sampleTrace, browserUA).Code)

	rec := postTrace(t, server.Handler(), sampleTrace, browserUA)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))

	req := httptest.NewRequest(http.MethodPost, "/v1/replay", bytes.NewBufferString(sampleTrace))
	req.RemoteAddr = "198.51.100.20:4000"
	other := httptest.NewRecorder()
	server.Handler().ServeHTTP(other, req)
	require.Equal(t, http.StatusOK, other.Code)
}

func TestServer_ReplayRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	t.Parallel()

	limiter := ratelimit.New(ratelimit.Config{RPS: 0.001, Burst: 1})
	server := NewServer(Options{Limiter: limiter})

	var accepted int
	for _, hop := range []string{"203.0.113.1", "203.0.113.2", "203.0.113.3", "203.0.113.4", "203.0.113.5"} {
		req := httptest.NewRequest(http.MethodPost, "/v1/replay", bytes.NewBufferString(sampleTrace))
		req.RemoteAddr = "192.0.2.50:6000"
		req.Header.Set("X-Forwarded-For", hop)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		if rec.Code == http.StatusOK {
			accepted++
		}
	}
	require.Equal(t, 1, accepted)
	require.Equal(t, 1, limiter.Len())
}

func TestServer_ReplayRateLimitBehindTrustedProxy(t *testing.T) {
	t.Parallel()

	server := NewServer(Options{
		Limiter:        ratelimit.New(ratelimit.Config{RPS: 0.001, Burst: 1}),
		TrustedProxies: []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")},
	})
	send := func(client string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/replay", bytes.NewBufferString(sampleTrace))
		req.RemoteAddr = "10.1.2.3:443"
		req.Header.Set("X-Forwarded-For", client)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		return rec.Code
	}
	require.Equal(t, http.StatusOK, send("203.0.113.9"))
	require.Equal(t, http.StatusTooManyRequests, send("203.0.113.9"))
	require.Equal(t, http.StatusOK, send("203.0.113.10"))
}

func TestServer_Probes(t *testing.T) {
	t.Parallel()

	server := NewServer(Options{})
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestServer_ReadyzReportsDependencyFailure(t *testing.T) {
	t.Parallel()

	server := NewServer(Options{Ready: func(context.Context) error { return errors.New("sink offline") }})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "sink offline")
}

func TestServer_RecoversFromEmitterPanicAndLogs(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	server := NewServer(Options{
		Emitter: analytics.EmitterFunc(func(analytics.Event) { panic("boom") }),
		Logger:  zap.New(core),
	})
	rec := postTrace(t, server.Handler(), sampleTrace, browserUA)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, logs.FilterMessage("request completed").All())
	require.NotEmpty(t, logs.FilterMessage("emitter panicked").All())
}

func TestServer_RequestIDIsPropagated(t *testing.T) {
	t.Parallel()

	server := NewServer(Options{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestClientKey(t *testing.T) {
	t.Parallel()

	direct := NewServer(Options{})
	proxied := NewServer(Options{TrustedProxies: []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("2001:db8::/32"),
	}})

	tests := []struct {
		name   string
		server *Server
		remote string
		xff    string
		want   string
	}{
		{name: "direct socket", server: direct, remote: "192.0.2.7:5555", want: "192.0.2.7"},
		{name: "untrusted peer ignores header", server: direct, remote: "192.0.2.7:5555", xff: "198.51.100.1", want: "192.0.2.7"},
		{name: "trusted peer", server: proxied, remote: "10.0.0.1:80", xff: " 198.51.100.1 ", want: "198.51.100.1"},
		{name: "rightmost untrusted hop", server: proxied, remote: "10.0.0.1:80", xff: "6.6.6.6, 198.51.100.1, 10.0.0.2", want: "198.51.100.1"},
		{name: "all hops trusted", server: proxied, remote: "10.0.0.1:80", xff: "10.0.0.3", want: "10.0.0.1"},
		{name: "trusted without header", server: proxied, remote: "10.0.0.1:80", want: "10.0.0.1"},
		{name: "ipv6 proxy", server: proxied, remote: "[2001:db8::1]:443", xff: "203.0.113.4", want: "203.0.113.4"},
		{name: "no port", server: direct, remote: "192.0.2.8", want: "192.0.2.8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			require.Equal(t, tt.want, tt.server.clientKey(req))
		})
	}
}

func TestServer_TracesReplayUnderIncomingTrace(t *testing.T) {
	t.Parallel()

	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	server := NewServer(Options{TracerProvider: tp})

	req := httptest.NewRequest(http.MethodPost, "/v1/replay", bytes.NewBufferString(sampleTrace))
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	ended := spans.Ended()
	require.Len(t, ended, 2)
	byName := make(map[string]sdktrace.ReadOnlySpan, len(ended))
	for _, span := range ended {
		byName[span.Name()] = span
	}
	serverSpan, ok := byName["POST /v1/replay"]
	require.True(t, ok)
	require.Equal(t, trace.SpanKindServer, serverSpan.SpanKind())
	require.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", serverSpan.SpanContext().TraceID().String())
	require.True(t, serverSpan.Parent().IsRemote())

	replaySpan, ok := byName["replay.run"]
	require.True(t, ok)
	require.Equal(t, serverSpan.SpanContext().SpanID(), replaySpan.Parent().SpanID())
}

func TestServer_UntracedByDefault(t *testing.T) {
	t.Parallel()

	server := NewServer(Options{})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
