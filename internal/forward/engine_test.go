package forward

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eleven-am/ferry/internal/domain"
)

type fakeResolver struct {
	primary bool
	url     string
	urlOK   bool
}

func (f *fakeResolver) IsPrimary() bool            { return f.primary }
func (f *fakeResolver) PrimaryURL() (string, bool) { return f.url, f.urlOK }

type fakeClient struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   []string
	respond  func(attempt int, req *http.Request) (*http.Response, error)
}

func (f *fakeClient) Do(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	attempt := len(f.requests)
	var body string
	if req.Body != nil {
		data, _ := io.ReadAll(req.Body)
		body = string(data)
	}
	f.bodies = append(f.bodies, body)
	f.mu.Unlock()
	return f.respond(attempt, req)
}

func (f *fakeClient) attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func response(status int, body string, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func testSettings() domain.ForwardingSettings {
	cfg := domain.DefaultForwardingSettings()
	cfg.Enabled = true
	cfg.RetryBackoffBase = time.Millisecond
	return cfg
}

func newTestEngine(t *testing.T, cfg domain.ForwardingSettings, resolver PrimaryResolver, client *fakeClient) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, resolver, client, nil, nil)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return e
}

func TestForwardPreservesRequestAndResponse(t *testing.T) {
	client := &fakeClient{respond: func(int, *http.Request) (*http.Response, error) {
		h := http.Header{}
		h.Set("X-Custom", "k")
		return response(201, `{"id":7}`, h), nil
	}}
	resolver := &fakeResolver{primary: false, url: "primary.local:8000", urlOK: true}
	e := newTestEngine(t, testSettings(), resolver, client)

	req := httptest.NewRequest(http.MethodPost, "http://replica.local/api/x?v=2", bytes.NewReader([]byte(`{"v":1}`)))
	req.Header.Set("Authorization", "Bearer z")
	req.RemoteAddr = "10.1.2.3:55000"
	rec := httptest.NewRecorder()

	e.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("write on replica must not reach the local handler")
	})).ServeHTTP(rec, req)

	if rec.Code != 201 {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if rec.Body.String() != `{"id":7}` {
		t.Errorf("body not passed through verbatim: %q", rec.Body.String())
	}
	if rec.Header().Get("X-Custom") != "k" {
		t.Error("upstream header lost")
	}
	if rec.Header().Get(HeaderForwarded) != "true" {
		t.Error("missing X-LiteFS-Forwarded")
	}
	if rec.Header().Get(HeaderPrimaryNode) != "primary.local:8000" {
		t.Error("missing X-LiteFS-Primary-Node")
	}

	out := client.requests[0]
	if out.Host != "primary.local:8000" {
		t.Errorf("Host not rewritten: %q", out.Host)
	}
	if out.URL.String() != "http://primary.local:8000/api/x?v=2" {
		t.Errorf("target URL wrong: %q", out.URL)
	}
	if out.Header.Get("Authorization") != "Bearer z" {
		t.Error("Authorization header lost")
	}
	if !strings.Contains(out.Header.Get("X-Forwarded-For"), "10.1.2.3") {
		t.Errorf("client IP missing from X-Forwarded-For: %q", out.Header.Get("X-Forwarded-For"))
	}
	if out.Header.Get("X-Forwarded-Host") != "replica.local" {
		t.Errorf("X-Forwarded-Host wrong: %q", out.Header.Get("X-Forwarded-Host"))
	}
	if out.Header.Get("X-Forwarded-Proto") != "http" {
		t.Errorf("X-Forwarded-Proto wrong: %q", out.Header.Get("X-Forwarded-Proto"))
	}
	if out.Header.Get(HeaderIdempotencyKey) == "" {
		t.Error("idempotency key must be generated when absent")
	}
	if client.bodies[0] != `{"v":1}` {
		t.Errorf("request body altered: %q", client.bodies[0])
	}
}

func TestReadsAndExclusionsPassThrough(t *testing.T) {
	cfg := testSettings()
	cfg.ExcludedExact = []string{"/admin/flush"}
	resolver := &fakeResolver{primary: false, url: "primary.local:8000", urlOK: true}
	e := newTestEngine(t, cfg, resolver, &fakeClient{})

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/x"},
		{http.MethodHead, "/api/x"},
		{http.MethodOptions, "/api/x"},
		{http.MethodPost, "/admin/flush"},
	} {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		if e.ShouldForward(req) {
			t.Errorf("%s %s must not forward", tc.method, tc.path)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/x", nil)
	if !e.ShouldForward(req) {
		t.Error("replica write must forward")
	}

	resolver.primary = true
	if e.ShouldForward(req) {
		t.Error("primary must not forward")
	}
}

func TestDisabledForwardingPassesThrough(t *testing.T) {
	cfg := testSettings()
	e := newTestEngine(t, cfg, &fakeResolver{}, &fakeClient{})
	e.cfg.Enabled = false

	req := httptest.NewRequest(http.MethodPost, "/api/x", nil)
	if e.ShouldForward(req) {
		t.Error("disabled settings must never forward")
	}
}

func TestRetryOn503ThenSucceed(t *testing.T) {
	client := &fakeClient{respond: func(attempt int, _ *http.Request) (*http.Response, error) {
		if attempt < 3 {
			return response(503, "unavailable", nil), nil
		}
		return response(201, "created", nil), nil
	}}
	cfg := testSettings()
	cfg.RetryCount = 3
	e := newTestEngine(t, cfg, &fakeResolver{url: "primary:8000", urlOK: true}, client)

	rec := httptest.NewRecorder()
	e.Forward(rec, httptest.NewRequest(http.MethodPost, "/api/x", nil))

	if rec.Code != 201 {
		t.Fatalf("expected 201 after retries, got %d", rec.Code)
	}
	if client.attempts() != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", client.attempts())
	}
}

func TestNoRetryOn4xxOrPlain5xx(t *testing.T) {
	for _, status := range []int{400, 404, 409, 500, 501} {
		client := &fakeClient{respond: func(int, *http.Request) (*http.Response, error) {
			return response(status, "nope", nil), nil
		}}
		cfg := testSettings()
		cfg.RetryCount = 3
		e := newTestEngine(t, cfg, &fakeResolver{url: "primary:8000", urlOK: true}, client)

		rec := httptest.NewRecorder()
		e.Forward(rec, httptest.NewRequest(http.MethodPost, "/api/x", nil))

		if client.attempts() != 1 {
			t.Errorf("status %d: expected 1 attempt, got %d", status, client.attempts())
		}
		if rec.Code != status {
			t.Errorf("status %d must pass through, got %d", status, rec.Code)
		}
	}
}

func TestAttemptCountIsBounded(t *testing.T) {
	client := &fakeClient{respond: func(int, *http.Request) (*http.Response, error) {
		return nil, io.ErrUnexpectedEOF
	}}
	cfg := testSettings()
	cfg.RetryCount = 2
	e := newTestEngine(t, cfg, &fakeResolver{url: "primary:8000", urlOK: true}, client)

	rec := httptest.NewRecorder()
	e.Forward(rec, httptest.NewRequest(http.MethodPost, "/api/x", nil))

	if client.attempts() != 3 {
		t.Fatalf("expected retry_count+1 attempts, got %d", client.attempts())
	}
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 at exhaustion, got %d", rec.Code)
	}
	if rec.Header().Get(HeaderForwardingError) != "upstream" {
		t.Errorf("expected upstream forwarding error header, got %q", rec.Header().Get(HeaderForwardingError))
	}
}

func TestZeroRetryCountDisablesRetries(t *testing.T) {
	client := &fakeClient{respond: func(int, *http.Request) (*http.Response, error) {
		return response(503, "unavailable", nil), nil
	}}
	cfg := testSettings()
	cfg.RetryCount = 0
	e := newTestEngine(t, cfg, &fakeResolver{url: "primary:8000", urlOK: true}, client)

	rec := httptest.NewRecorder()
	e.Forward(rec, httptest.NewRequest(http.MethodPost, "/api/x", nil))

	if client.attempts() != 1 {
		t.Fatalf("expected a single attempt, got %d", client.attempts())
	}
}

func TestTimeoutYields504(t *testing.T) {
	client := &fakeClient{respond: func(int, *http.Request) (*http.Response, error) {
		return nil, context.DeadlineExceeded
	}}
	cfg := testSettings()
	cfg.RetryCount = 1
	e := newTestEngine(t, cfg, &fakeResolver{url: "primary:8000", urlOK: true}, client)

	rec := httptest.NewRecorder()
	e.Forward(rec, httptest.NewRequest(http.MethodPost, "/api/x", nil))

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", rec.Code)
	}
	if rec.Header().Get(HeaderForwardingError) != "timeout" {
		t.Errorf("expected timeout forwarding error header, got %q", rec.Header().Get(HeaderForwardingError))
	}
}

func TestPrimaryUnknownYields503(t *testing.T) {
	e := newTestEngine(t, testSettings(), &fakeResolver{urlOK: false}, &fakeClient{})

	rec := httptest.NewRecorder()
	e.Forward(rec, httptest.NewRequest(http.MethodPost, "/api/x", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "primary node unknown") {
		t.Errorf("body must name the condition: %q", rec.Body.String())
	}
}

func TestPrimaryHintUsedWhenMarkerEmpty(t *testing.T) {
	client := &fakeClient{respond: func(int, *http.Request) (*http.Response, error) {
		return response(200, "ok", nil), nil
	}}
	cfg := testSettings()
	cfg.PrimaryHint = "hinted:9000"
	e := newTestEngine(t, cfg, &fakeResolver{urlOK: false}, client)

	rec := httptest.NewRecorder()
	e.Forward(rec, httptest.NewRequest(http.MethodPost, "/api/x", nil))

	if rec.Code != 200 {
		t.Fatalf("expected 200 via hint, got %d", rec.Code)
	}
	if client.requests[0].Host != "hinted:9000" {
		t.Errorf("hint not used: %q", client.requests[0].Host)
	}
}

func TestCircuitOpensAfterThresholdAndBlocksAttempts(t *testing.T) {
	client := &fakeClient{respond: func(int, *http.Request) (*http.Response, error) {
		return nil, io.ErrUnexpectedEOF
	}}
	cfg := testSettings()
	cfg.RetryCount = 0
	cfg.CircuitBreakerThreshold = 5
	e := newTestEngine(t, cfg, &fakeResolver{url: "primary:8000", urlOK: true}, client)

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		e.Forward(rec, httptest.NewRequest(http.MethodPost, "/api/x", nil))
		if rec.Code != http.StatusBadGateway {
			t.Fatalf("request %d: expected 502, got %d", i+1, rec.Code)
		}
	}
	if e.Breaker().State() != CircuitOpen {
		t.Fatalf("expected open breaker, got %s", e.Breaker().State())
	}

	before := client.attempts()
	rec := httptest.NewRecorder()
	e.Forward(rec, httptest.NewRequest(http.MethodPost, "/api/x", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while open, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("breaker rejection must carry Retry-After")
	}
	if client.attempts() != before {
		t.Error("no outbound attempt may occur while the breaker is open")
	}
}

func TestIdempotencyKeyStableAcrossRetries(t *testing.T) {
	client := &fakeClient{respond: func(attempt int, _ *http.Request) (*http.Response, error) {
		if attempt < 3 {
			return response(503, "unavailable", nil), nil
		}
		return response(200, "ok", nil), nil
	}}
	cfg := testSettings()
	cfg.RetryCount = 3
	e := newTestEngine(t, cfg, &fakeResolver{url: "primary:8000", urlOK: true}, client)

	rec := httptest.NewRecorder()
	e.Forward(rec, httptest.NewRequest(http.MethodPost, "/api/x", nil))

	key := client.requests[0].Header.Get(HeaderIdempotencyKey)
	if key == "" {
		t.Fatal("expected generated idempotency key")
	}
	for i, req := range client.requests {
		if got := req.Header.Get(HeaderIdempotencyKey); got != key {
			t.Errorf("attempt %d used a different key: %q vs %q", i+1, got, key)
		}
	}
}

func TestExistingIdempotencyKeyPreserved(t *testing.T) {
	client := &fakeClient{respond: func(int, *http.Request) (*http.Response, error) {
		return response(200, "ok", nil), nil
	}}
	e := newTestEngine(t, testSettings(), &fakeResolver{url: "primary:8000", urlOK: true}, client)

	req := httptest.NewRequest(http.MethodPost, "/api/x", nil)
	req.Header.Set(HeaderIdempotencyKey, "client-key-1")
	rec := httptest.NewRecorder()
	e.Forward(rec, req)

	if got := client.requests[0].Header.Get(HeaderIdempotencyKey); got != "client-key-1" {
		t.Errorf("client key must be preserved, got %q", got)
	}
}

func TestInboundCancellationStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &fakeClient{respond: func(int, *http.Request) (*http.Response, error) {
		cancel()
		return nil, context.Canceled
	}}
	cfg := testSettings()
	cfg.RetryCount = 5
	e := newTestEngine(t, cfg, &fakeResolver{url: "primary:8000", urlOK: true}, client)

	req := httptest.NewRequest(http.MethodPost, "/api/x", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	e.Forward(rec, req)

	if client.attempts() != 1 {
		t.Fatalf("cancellation must stop retries, got %d attempts", client.attempts())
	}
}
