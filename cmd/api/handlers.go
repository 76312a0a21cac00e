package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lanebot/faqrag/engine/completion"
	"github.com/lanebot/faqrag/engine/domain"
	"github.com/lanebot/faqrag/engine/rag"
	"github.com/lanebot/faqrag/engine/semantic"
	"github.com/lanebot/faqrag/pkg/metrics"
	"github.com/lanebot/faqrag/pkg/mid"
)

// Version is reported by / and /health.
const Version = "2.0.0"

// defaultGetTopK is the result count for GET /search without top_k.
const defaultGetTopK = 3

const maxBody = 64 << 10

// probeTimeout bounds the dependency checks behind /health.
const probeTimeout = 3 * time.Second

// answerer is the slice of rag.Service the handlers use.
type answerer interface {
	Search(ctx context.Context, query string, topK int) (rag.SearchOutcome, error)
	Answer(ctx context.Context, q domain.Query) (rag.Answer, error)
	AnswerWithTools(ctx context.Context, q domain.Query) (rag.Answer, error)
}

// collectionChecker backs the readiness probe.
type collectionChecker interface {
	CollectionExists(ctx context.Context) (bool, error)
}

// server holds the HTTP handlers and their dependencies.
type server struct {
	rag        answerer
	index      collectionChecker
	metrics    *metrics.FAQ
	services   func() map[string]string
	probes     map[string]func(context.Context) error
	tokens     func() int64
	secret     string
	corsOrigin string
	rateRPS    float64
	proxies    []netip.Prefix
	logger     *slog.Logger
}

// handler returns the routed and wrapped API handler.
func (s *server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("POST /search", s.handleSearchPost)
	mux.HandleFunc("GET /search", s.handleSearchGet)

	auth := mid.SharedSecret(s.secret)
	mux.Handle("POST /rag-answer", auth(s.handleAnswer("rag-answer", false)))
	mux.Handle("POST /rag-answer-func", auth(s.handleAnswer("rag-answer-func", true)))

	return mid.Chain(mux,
		mid.OTel("faqrag-api"),
		mid.Recover(s.logger),
		mid.RequestID(),
		mid.Logger(s.logger, s.metrics),
		mid.CORS(s.corsOrigin),
		mid.RateLimit(s.rateRPS, 0, s.proxies...),
	)
}

// --- Service endpoints ---

func (s *server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "FAQ RAG API v" + Version,
		"health":  "/health",
	})
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version"`
	Services map[string]string `json:"services"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	services := map[string]string{}
	if s.services != nil {
		services = s.services()
	}
	for name, status := range s.probe(r.Context()) {
		services[name] = status
	}
	status := "healthy"
	for _, v := range services {
		if v == "unhealthy" {
			status = "unhealthy"
			break
		}
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: status, Version: Version, Services: services})
}

// probe runs the dependency checks concurrently under a shared timeout.
func (s *server) probe(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make(map[string]string, len(s.probes))
	)
	for name, check := range s.probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status := "healthy"
			if err := check(ctx); err != nil {
				s.logger.Warn("health probe failed", "service", name, "err", err)
				status = "unhealthy"
			}
			mu.Lock()
			out[name] = status
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}

func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	ok, err := s.index.CollectionExists(r.Context())
	if err != nil {
		s.logger.Error("readiness check failed", "err", err)
		mid.WriteError(w, http.StatusServiceUnavailable, "Service not ready")
		return
	}
	if !ok {
		s.logger.Warn("readiness check: collection missing")
		mid.WriteError(w, http.StatusServiceUnavailable, "Services not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "message": "All services are ready"})
}

func (s *server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.tokens != nil {
		s.metrics.TokenFetches(s.tokens())
	}
	s.metrics.Registry().Handler().ServeHTTP(w, r)
}

// --- Search ---

// SearchRequest is the body of POST /search.
type SearchRequest struct {
	Query string `json:"query"`
	// TopK is nil when omitted; an explicit value must be positive.
	TopK *int `json:"top_k,omitempty"`
}

// SearchHit is one FAQ entry in a search response.
type SearchHit struct {
	Question    string  `json:"question"`
	Answer      string  `json:"answer"`
	Category    string  `json:"category,omitempty"`
	Tags        string  `json:"tags,omitempty"`
	Source      string  `json:"source,omitempty"`
	ImageURL    string  `json:"image_url,omitempty"`
	LastUpdated string  `json:"last_updated,omitempty"`
	Score       float32 `json:"score"`
}

// SearchResponse is the body of both search endpoints.
type SearchResponse struct {
	Results []SearchHit `json:"results"`
	Message string      `json:"message,omitempty"`
}

func (s *server) handleSearchPost(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := decodeBody(r, &req); err != nil {
		mid.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	topK := 0
	if req.TopK != nil {
		if *req.TopK <= 0 {
			mid.WriteError(w, http.StatusBadRequest, "top_k must be a positive integer")
			return
		}
		topK = *req.TopK
	}
	s.search(w, r, req.Query, topK)
}

func (s *server) handleSearchGet(w http.ResponseWriter, r *http.Request) {
	topK := defaultGetTopK
	if v := r.URL.Query().Get("top_k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			mid.WriteError(w, http.StatusBadRequest, "top_k must be a positive integer")
			return
		}
		topK = n
	}
	s.search(w, r, r.URL.Query().Get("query"), topK)
}

// search runs retrieval; topK 0 takes the service default.
func (s *server) search(w http.ResponseWriter, r *http.Request, query string, topK int) {
	outcome, err := s.rag.Search(r.Context(), query, topK)
	if err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			s.logger.Info("search rejected", "reason", ve.Wrapped)
			writeJSON(w, http.StatusBadRequest, SearchResponse{Results: []SearchHit{}, Message: outcome.Message})
			return
		}
		s.logger.Error("search failed", "err", err)
		mid.WriteError(w, http.StatusServiceUnavailable, "Search service error")
		return
	}

	hits := make([]SearchHit, 0, len(outcome.Hits))
	for _, h := range outcome.Hits {
		hits = append(hits, toSearchHit(h))
	}
	s.metrics.Search(len(hits))
	writeJSON(w, http.StatusOK, SearchResponse{Results: hits, Message: outcome.Message})
}

func toSearchHit(h semantic.SearchResult) SearchHit {
	return SearchHit{
		Question:    h.Get(domain.FieldQuestion),
		Answer:      h.Get(domain.FieldAnswer),
		Category:    h.Get(domain.FieldCategory),
		Tags:        h.Get(domain.FieldTags),
		Source:      h.Get(domain.FieldSource),
		ImageURL:    h.Get(domain.FieldImageURL),
		LastUpdated: h.Get(domain.FieldLastUpdated),
		Score:       h.Score,
	}
}

// --- Answers ---

// AnswerRequest is the body of the answer endpoints. Both spellings of the
// query and user id fields are accepted.
type AnswerRequest struct {
	Query     string `json:"query"`
	QueryText string `json:"queryText"`
	UserID    string `json:"userId"`
	UserIDAlt string `json:"user_id"`
	TopK      int    `json:"top_k,omitempty"`
}

func (a AnswerRequest) toQuery() domain.Query {
	q := domain.Query{Text: a.Query, UserID: a.UserID, TopK: a.TopK}
	if strings.TrimSpace(q.Text) == "" {
		q.Text = a.QueryText
	}
	if q.UserID == "" {
		q.UserID = a.UserIDAlt
	}
	return q
}

func (s *server) handleAnswer(endpoint string, tools bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req AnswerRequest
		if err := decodeBody(r, &req); err != nil {
			mid.WriteError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		q := req.toQuery()

		answer := s.rag.Answer
		if tools {
			answer = s.rag.AnswerWithTools
		}
		ans, err := answer(r.Context(), q)
		if err != nil {
			var ve *domain.ValidationError
			switch {
			case errors.As(err, &ve):
				s.metrics.Answer(endpoint, rejectOutcome(err))
				s.logger.Info("question rejected", "endpoint", endpoint, "user_id", q.UserID, "reason", ve.Wrapped)
				writeJSON(w, http.StatusBadRequest, ans)
			case completion.IsAuth(err):
				s.metrics.Answer(endpoint, metrics.OutcomeError)
				s.logger.Error("completion auth failed", "endpoint", endpoint, "err", err)
				mid.WriteError(w, http.StatusBadGateway, "Authentication failed")
			default:
				s.metrics.Answer(endpoint, metrics.OutcomeError)
				s.logger.Error("answer failed", "endpoint", endpoint, "err", err)
				mid.WriteError(w, http.StatusServiceUnavailable, "RAG service error")
			}
			return
		}

		s.metrics.Answer(endpoint, answerOutcome(ans))
		writeJSON(w, http.StatusOK, ans)
	})
}

func answerOutcome(a rag.Answer) string {
	switch a.Text {
	case domain.ClarifyMessage:
		return metrics.OutcomeClarify
	case domain.ApologyMessage, domain.UnavailableMessage:
		return metrics.OutcomeFallback
	default:
		return metrics.OutcomeAnswered
	}
}

func rejectOutcome(err error) string {
	if errors.Is(err, domain.ErrForbiddenContent) {
		return metrics.OutcomeRefused
	}
	return metrics.OutcomeInvalid
}

// --- helpers ---

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
