package mid

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"
)

func ok(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

func TestChainOrder(t *testing.T) {
	var order []int
	mw := func(n int) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, n)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, 0)
	}), mw(1), mw(2), mw(3))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if len(order) != 4 || order[0] != 1 || order[1] != 2 || order[2] != 3 || order[3] != 0 {
		t.Fatalf("expected [1,2,3,0], got %v", order)
	}
}

type recordingObserver struct {
	mu     sync.Mutex
	routes []string
	codes  []int
}

func (o *recordingObserver) ObserveRequest(method, route string, status int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.routes = append(o.routes, method+" "+route)
	o.codes = append(o.codes, status)
}

func TestLoggerCapturesStatusAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	obs := &recordingObserver{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /search", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	h := Chain(mux, RequestID(), Logger(log, obs))

	req := httptest.NewRequest("POST", "/search", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	out := buf.String()
	if !strings.Contains(out, "status=201") || !strings.Contains(out, "request_id=req-42") {
		t.Errorf("log line missing fields: %s", out)
	}
	if len(obs.codes) != 1 || obs.codes[0] != http.StatusCreated {
		t.Errorf("observer got %v", obs.codes)
	}
}

func TestLoggerUnmatchedRoute(t *testing.T) {
	obs := &recordingObserver{}
	h := Logger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), obs)(http.NotFoundHandler())
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/nope", nil))

	if len(obs.routes) != 1 || obs.routes[0] != "GET unmatched" {
		t.Errorf("routes = %v", obs.routes)
	}
}

func TestRequestIDGenerated(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if seen == "" {
		t.Fatal("expected a generated request id")
	}
	if got := rec.Header().Get(RequestIDHeader); got != seen {
		t.Errorf("response header %q, context %q", got, seen)
	}
}

func TestRecoverCatchesPanic(t *testing.T) {
	log := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	h := Recover(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if body["detail"] == "" {
		t.Errorf("expected detail, got %v", body)
	}
}

func TestCORS(t *testing.T) {
	h := CORS("*")(http.HandlerFunc(ok))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("OPTIONS", "/rag-answer", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), SecretHeader) {
		t.Error("secret header must be allowed")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("unexpected response %d %v", rec.Code, rec.Header())
	}
}

func TestSharedSecret(t *testing.T) {
	cases := []struct {
		name   string
		secret string
		header string
		want   int
	}{
		{"match", "s3cret", "s3cret", http.StatusOK},
		{"mismatch", "s3cret", "guess", http.StatusUnauthorized},
		{"missing header", "s3cret", "", http.StatusUnauthorized},
		{"unset secret", "", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := SharedSecret(tc.secret)(http.HandlerFunc(ok))
			req := httptest.NewRequest("POST", "/rag-answer", nil)
			if tc.header != "" {
				req.Header.Set(SecretHeader, tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Errorf("got %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestRateLimitPerClient(t *testing.T) {
	h := RateLimit(1, 2)(http.HandlerFunc(ok))

	hit := func(addr, path string) int {
		req := httptest.NewRequest("POST", path, nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if hit("10.0.0.1:1111", "/search") != http.StatusOK || hit("10.0.0.1:2222", "/search") != http.StatusOK {
		t.Fatal("burst should be admitted")
	}
	if got := hit("10.0.0.1:3333", "/search"); got != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", got)
	}
	if got := hit("10.0.0.2:1111", "/search"); got != http.StatusOK {
		t.Fatalf("other clients have their own bucket, got %d", got)
	}
	if got := hit("10.0.0.1:4444", "/health"); got != http.StatusOK {
		t.Fatalf("health must not be limited, got %d", got)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	h := RateLimit(0, 0)(http.HandlerFunc(ok))
	for range 50 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/search", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("got %d", rec.Code)
		}
	}
}

func TestLimiterEvictsIdleClients(t *testing.T) {
	l := NewLimiter(5, 0)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	l.Allow("a")
	l.Allow("b")
	if l.Len() != 2 {
		t.Fatalf("expected 2 clients, got %d", l.Len())
	}

	now = now.Add(idleTTL + time.Minute)
	l.Allow("c")
	if l.Len() != 1 {
		t.Errorf("idle clients should be evicted, got %d", l.Len())
	}
}

func TestClientIP(t *testing.T) {
	proxies := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	cases := []struct {
		name    string
		remote  string
		fwd     string
		trusted []netip.Prefix
		want    string
	}{
		{"direct peer", "192.0.2.7:5555", "", nil, "192.0.2.7"},
		{"header ignored without trusted proxies", "192.0.2.7:5555", "203.0.113.9", nil, "192.0.2.7"},
		{"header ignored from untrusted peer", "192.0.2.7:5555", "203.0.113.9", proxies, "192.0.2.7"},
		{"trusted proxy forwards client", "10.1.2.3:80", "203.0.113.9", proxies, "203.0.113.9"},
		{"spoofed leftmost hop skipped", "10.1.2.3:80", "1.1.1.1, 203.0.113.9, 10.0.0.5", proxies, "203.0.113.9"},
		{"garbage header falls back to peer", "10.1.2.3:80", "not-an-ip", proxies, "10.1.2.3"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tc.remote
			if tc.fwd != "" {
				req.Header.Set("X-Forwarded-For", tc.fwd)
			}
			if got := clientIP(req, tc.trusted); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRateLimitIgnoresRotatedForwardedFor(t *testing.T) {
	h := RateLimit(1, 1)(http.HandlerFunc(ok))
	codes := make([]int, 0, 3)
	for i := range 3 {
		req := httptest.NewRequest("POST", "/search", nil)
		req.RemoteAddr = "192.0.2.7:1000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[1] != http.StatusTooManyRequests || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("rotating X-Forwarded-For escaped the limit: %v", codes)
	}
}
