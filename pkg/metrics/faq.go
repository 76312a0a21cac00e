package metrics

import (
	"strconv"
	"time"
)

// Outcome labels for answered questions.
const (
	OutcomeAnswered = "answered"
	OutcomeClarify  = "clarify"
	OutcomeRefused  = "refused"
	OutcomeInvalid  = "invalid"
	OutcomeFallback = "fallback"
	OutcomeError    = "error"
)

// FAQ is the metric set exported by the API server.
type FAQ struct {
	reg *Registry
}

// NewFAQ registers the API metrics on reg.
func NewFAQ(reg *Registry) *FAQ {
	return &FAQ{reg: reg}
}

// Registry returns the underlying registry.
func (m *FAQ) Registry() *Registry { return m.reg }

// ObserveRequest records one HTTP request.
func (m *FAQ) ObserveRequest(method, route string, status int, d time.Duration) {
	m.reg.Counter(WithLabels("faqrag_http_requests_total",
		"method", method, "route", route, "code", strconv.Itoa(status)),
		"HTTP requests by route and status.").Inc()
	m.reg.Histogram(WithLabels("faqrag_http_request_duration_seconds", "route", route),
		"HTTP request latency.", nil).ObserveDuration(d)
}

// Answer records how a question was resolved on the given endpoint.
func (m *FAQ) Answer(endpoint, outcome string) {
	m.reg.Counter(WithLabels("faqrag_answers_total", "endpoint", endpoint, "outcome", outcome),
		"Answers by endpoint and outcome.").Inc()
}

// Search records a search with the number of hits returned.
func (m *FAQ) Search(hits int) {
	m.reg.Counter("faqrag_searches_total", "Search requests served.").Inc()
	m.reg.Gauge("faqrag_last_search_hits", "Hits returned by the latest search.").Set(int64(hits))
}

// TokenFetches exposes the number of completion API token acquisitions.
func (m *FAQ) TokenFetches(n int64) {
	m.reg.Gauge("faqrag_token_fetches", "Completion API token acquisitions since start.").Set(n)
}
