package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCounterIsShared(t *testing.T) {
	r := New()
	c := r.Counter("test_total", "A test counter")
	c.Inc()
	c.Add(5)
	if c.Value() != 6 {
		t.Fatalf("expected 6, got %d", c.Value())
	}
	if r.Counter("test_total", "") != c {
		t.Fatal("expected same counter instance")
	}
}

func TestTypeConflictPanics(t *testing.T) {
	r := New()
	r.Counter("dup", "")
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on type conflict")
		}
	}()
	r.Gauge("dup", "")
}

func TestHistogramRender(t *testing.T) {
	r := New()
	h := r.Histogram(WithLabels("lat_seconds", "route", "/search"), "Latency.", []float64{1, 0.1, 0.5})
	for _, v := range []float64{0.25, 0.5, 0.75, 2} {
		h.Observe(v)
	}
	if h.Count() != 4 {
		t.Fatalf("count = %d", h.Count())
	}

	out := r.Render()
	for _, want := range []string{
		"# HELP lat_seconds Latency.",
		"# TYPE lat_seconds histogram",
		`lat_seconds_bucket{route="/search",le="0.1"} 0`,
		`lat_seconds_bucket{route="/search",le="0.5"} 2`,
		`lat_seconds_bucket{route="/search",le="1"} 3`,
		`lat_seconds_bucket{route="/search",le="+Inf"} 4`,
		`lat_seconds_sum{route="/search"} 3.5`,
		`lat_seconds_count{route="/search"} 4`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestRenderGroupsSeries(t *testing.T) {
	r := New()
	r.Counter(WithLabels("req_total", "code", "500"), "Requests.").Inc()
	r.Counter(WithLabels("req_total", "code", "200"), "Requests.").Add(3)
	r.Gauge("up", "").Set(1)

	out := r.Render()
	if strings.Count(out, "# TYPE req_total counter") != 1 {
		t.Errorf("family header should appear once:\n%s", out)
	}
	i200 := strings.Index(out, `req_total{code="200"} 3`)
	i500 := strings.Index(out, `req_total{code="500"} 1`)
	if i200 == -1 || i500 == -1 || i200 > i500 {
		t.Errorf("series missing or unsorted:\n%s", out)
	}
	if !strings.Contains(out, "up 1\n") {
		t.Errorf("gauge missing:\n%s", out)
	}
}

func TestWithLabels(t *testing.T) {
	if got := WithLabels("foo", "k", "v", "a", "b"); got != `foo{k="v",a="b"}` {
		t.Errorf("got %s", got)
	}
	if got := WithLabels("foo", "odd"); got != "foo" {
		t.Errorf("got %s", got)
	}
}

func TestFAQMetrics(t *testing.T) {
	m := NewFAQ(New())
	m.ObserveRequest("POST", "POST /rag-answer", 200, 120*time.Millisecond)
	m.Answer("rag-answer", OutcomeClarify)
	m.Search(3)
	m.TokenFetches(2)

	rec := httptest.NewRecorder()
	m.Registry().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`faqrag_http_requests_total{method="POST",route="POST /rag-answer",code="200"} 1`,
		`faqrag_answers_total{endpoint="rag-answer",outcome="clarify"} 1`,
		"faqrag_searches_total 1",
		"faqrag_last_search_hits 3",
		"faqrag_token_fetches 2",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q", want)
		}
	}
}
