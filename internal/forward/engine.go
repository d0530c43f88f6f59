package forward

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/eleven-am/ferry/internal/domain"
	"github.com/eleven-am/ferry/internal/ports"
)

const (
	HeaderForwarded       = "X-LiteFS-Forwarded"
	HeaderPrimaryNode     = "X-LiteFS-Primary-Node"
	HeaderForwardingError = "X-LiteFS-Forwarding-Error"
	HeaderIdempotencyKey  = "X-Idempotency-Key"
)

// PrimaryResolver supplies the role and primary address for forwarding
// decisions.
type PrimaryResolver interface {
	IsPrimary() bool
	PrimaryURL() (string, bool)
}

// Engine forwards mutating requests from a replica to the primary. It
// preserves method, path, query, body, and headers; rewrites Host; appends
// the standard X-Forwarded-* headers; and keeps one idempotency key stable
// across all retry attempts of an inbound request.
type Engine struct {
	cfg      domain.ForwardingSettings
	resolver PrimaryResolver
	client   ports.HTTPClient
	breaker  *Breaker
	matcher  *Matcher
	metrics  ports.Metrics
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewEngine(cfg domain.ForwardingSettings, resolver PrimaryResolver, client ports.HTTPClient, metrics ports.Metrics, logger *slog.Logger) (*Engine, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	matcher, err := NewMatcherFromSettings(cfg)
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = NewDefaultClient(cfg)
	}
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:      cfg,
		resolver: resolver,
		client:   client,
		breaker:  NewBreaker(cfg.CircuitBreakerThreshold, cfg.CircuitResetTimeout),
		matcher:  matcher,
		metrics:  metrics,
		logger:   logger.With("component", "forwarding-engine"),
		sleep:    sleepCtx,
	}, nil
}

// NewDefaultClient builds the outbound HTTP client with separate connect
// and response-header timeouts.
func NewDefaultClient(cfg domain.ForwardingSettings) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: cfg.ConnectTimeout,
			}).DialContext,
			ResponseHeaderTimeout: cfg.ReadTimeout,
			MaxIdleConnsPerHost:   4,
		},
	}
}

func (e *Engine) Breaker() *Breaker {
	return e.breaker
}

// ShouldForward reports whether the request must be sent to the primary
// instead of being handled locally.
func (e *Engine) ShouldForward(r *http.Request) bool {
	if !e.cfg.Enabled {
		return false
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	if e.matcher.Excluded(r.URL.Path) {
		return false
	}
	return !e.resolver.IsPrimary()
}

// Middleware forwards write requests on replicas and passes everything
// else through.
func (e *Engine) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !e.ShouldForward(r) {
			next.ServeHTTP(w, r)
			return
		}
		e.Forward(w, r)
	})
}

// Forward sends the request to the primary and relays the response.
func (e *Engine) Forward(w http.ResponseWriter, r *http.Request) {
	primary, ok := e.resolver.PrimaryURL()
	if !ok {
		primary = e.cfg.PrimaryHint
	}
	if primary == "" {
		http.Error(w, "primary node unknown, cannot forward write request", http.StatusServiceUnavailable)
		return
	}

	allowed, retryAfter := e.breaker.Allow()
	if !allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
		http.Error(w, "forwarding circuit breaker is open", http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		e.breaker.RecordFailure()
		http.Error(w, "cannot read request body", http.StatusBadRequest)
		return
	}

	idempotencyKey := r.Header.Get(HeaderIdempotencyKey)
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}

	var lastErr error
	timedOut := false
	for attempt := 1; attempt <= e.cfg.MaxAttempts(); attempt++ {
		if attempt > 1 {
			if err := e.sleep(r.Context(), e.cfg.Backoff(attempt-1)); err != nil {
				// The client went away; stop retrying.
				e.breaker.RecordFailure()
				e.metrics.ObserveForwardAttempt(false)
				return
			}
		}

		resp, err := e.attempt(r, primary, body, idempotencyKey)
		if err != nil {
			lastErr = err
			timedOut = isTimeout(err)
			if r.Context().Err() != nil {
				e.breaker.RecordFailure()
				e.metrics.ObserveForwardAttempt(false)
				return
			}
			e.logger.Warn("forward attempt failed",
				"attempt", attempt, "primary", primary, "error", err)
			continue
		}

		if isRetryableStatus(resp.StatusCode) && attempt < e.cfg.MaxAttempts() {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = nil
			timedOut = false
			e.logger.Warn("retryable upstream status",
				"attempt", attempt, "status", resp.StatusCode)
			continue
		}

		if isRetryableStatus(resp.StatusCode) {
			// Retries exhausted on a gateway status.
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			e.breaker.RecordFailure()
			e.metrics.ObserveForwardAttempt(false)
			e.respondUpstreamFailure(w, false)
			return
		}

		e.breaker.RecordSuccess()
		e.metrics.ObserveForwardAttempt(true)
		e.relay(w, resp, primary)
		return
	}

	e.breaker.RecordFailure()
	e.metrics.ObserveForwardAttempt(false)
	if lastErr != nil {
		e.logger.Error("forwarding failed", "primary", primary, "error", lastErr)
	}
	e.respondUpstreamFailure(w, timedOut)
}

func (e *Engine) attempt(r *http.Request, primary string, body []byte, idempotencyKey string) (*http.Response, error) {
	target := e.cfg.Scheme + "://" + primary + r.URL.RequestURI()

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	copyForwardHeaders(req.Header, r.Header)
	req.Host = primary
	req.Header.Set(HeaderIdempotencyKey, idempotencyKey)
	req.Header.Set("X-Forwarded-Host", r.Host)
	req.Header.Set("X-Forwarded-Proto", originalProto(r))
	if clientIP := remoteIP(r); clientIP != "" {
		if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+clientIP)
		} else {
			req.Header.Set("X-Forwarded-For", clientIP)
		}
	}

	return e.client.Do(req)
}

// relay copies the primary's response verbatim, adding the forwarding
// annotations.
func (e *Engine) relay(w http.ResponseWriter, resp *http.Response, primary string) {
	defer resp.Body.Close()

	header := w.Header()
	for k, vs := range resp.Header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	header.Set(HeaderForwarded, "true")
	header.Set(HeaderPrimaryNode, primary)
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

func (e *Engine) respondUpstreamFailure(w http.ResponseWriter, timedOut bool) {
	if timedOut {
		w.Header().Set(HeaderForwardingError, "timeout")
		http.Error(w, "upstream primary timed out", http.StatusGatewayTimeout)
		return
	}
	w.Header().Set(HeaderForwardingError, "upstream")
	http.Error(w, "upstream primary unavailable", http.StatusBadGateway)
}

// Retry only on explicit gateway statuses; other 5xx are final.
func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// copyForwardHeaders copies everything except hop-by-hop headers and the
// fields the engine rewrites.
func copyForwardHeaders(dst, src http.Header) {
	for k, vs := range src {
		switch http.CanonicalHeaderKey(k) {
		case "Host", "Content-Length", "Transfer-Encoding", "Connection":
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func originalProto(r *http.Request) string {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
