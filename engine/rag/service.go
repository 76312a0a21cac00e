package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lanebot/faqrag/engine/completion"
	"github.com/lanebot/faqrag/engine/domain"
	"github.com/lanebot/faqrag/engine/graph"
	"github.com/lanebot/faqrag/engine/semantic"
)

const tracerName = "github.com/lanebot/faqrag/engine/rag"

// Prompts sent as the user message.
const (
	AnswerPrompt = "Ответь на вопрос пользователя на основе предоставленной информации о боулинге. " +
		"Если информации недостаточно, скажи об этом.\n\nВопрос: %s"
	ToolPrompt = "Ты эксперт по боулингу. Ответь на вопрос пользователя, используя предоставленную информацию. " +
		"Будь полезным и информативным.\n\nВопрос: %s"
)

// Completer generates answers.
type Completer interface {
	Complete(ctx context.Context, question, contextText string) (string, error)
	CompleteWithSearch(ctx context.Context, msgs []completion.Message, search completion.SearchFunc) (completion.Reply, error)
}

// RelatedFinder looks up questions related to a record.
type RelatedFinder interface {
	Related(ctx context.Context, recordID string, limit int) ([]graph.Related, error)
}

// Options configures the answer service.
type Options struct {
	TopK          int
	MaxContextLen int
	MaxQueryLen   int
	// MaxButtons caps related-question suggestions. Zero disables them.
	MaxButtons int
}

// DefaultOptions mirror the service's environment defaults.
func DefaultOptions() Options {
	return Options{TopK: 5, MaxContextLen: 4000, MaxQueryLen: domain.DefaultMaxQueryLen, MaxButtons: 3}
}

// Answer is the response of the answer flow.
type Answer struct {
	Text           string   `json:"answer"`
	UserID         string   `json:"user_id,omitempty"`
	ContextUsed    bool     `json:"context_used"`
	FunctionCalled bool     `json:"function_called"`
	Buttons        []string `json:"buttons,omitempty"`
}

// Service composes validation, retrieval, context rendering and completion.
type Service struct {
	retriever *Retriever
	validator *domain.QueryValidator
	llm       Completer
	related   RelatedFinder
	opts      Options
	logger    *slog.Logger
}

// NewService creates a Service. related may be nil.
func NewService(retriever *Retriever, llm Completer, related RelatedFinder, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultOptions().TopK
	}
	return &Service{
		retriever: retriever,
		validator: domain.NewQueryValidator(opts.MaxQueryLen),
		llm:       llm,
		related:   related,
		opts:      opts,
		logger:    logger,
	}
}

// Validate runs the query gate.
func (s *Service) Validate(text string) (string, error) {
	return s.validator.Validate(text)
}

// Search validates query and retrieves up to topK hits. topK <= 0 uses the default.
func (s *Service) Search(ctx context.Context, query string, topK int) (SearchOutcome, error) {
	text, err := s.validator.Validate(query)
	if err != nil {
		return SearchOutcome{Hits: []semantic.SearchResult{}, Message: domain.UserMessage(err)}, err
	}
	if topK <= 0 {
		topK = s.opts.TopK
	}
	return s.retriever.Search(ctx, text, topK)
}

// Answer runs the plain answer flow: retrieve, render context, complete.
// Validation errors come back with the user message in Answer.Text.
// Completion auth failures are returned; other generation failures become an apology.
func (s *Service) Answer(ctx context.Context, q domain.Query) (Answer, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "rag.answer")
	defer span.End()

	text, err := s.validator.Validate(q.Text)
	if err != nil {
		return Answer{Text: domain.UserMessage(err), UserID: q.UserID}, err
	}

	start := time.Now()
	outcome, err := s.retriever.Search(ctx, text, s.topK(q))
	if err != nil {
		return Answer{}, err
	}
	if outcome.Message != "" {
		return Answer{Text: outcome.Message, UserID: q.UserID}, nil
	}
	span.SetAttributes(attribute.Int("rag.hits", len(outcome.Hits)))

	contextText := FormatContext(outcome.Hits, s.opts.MaxContextLen)
	reply, err := s.llm.Complete(ctx, fmt.Sprintf(AnswerPrompt, text), contextText)
	if err != nil {
		if completion.IsAuth(err) {
			return Answer{}, fmt.Errorf("rag: answer: %w", err)
		}
		reply = s.generationFallback(err)
	}

	s.logger.Info("answered",
		"user_id", q.UserID,
		"hits", len(outcome.Hits),
		"duration", time.Since(start),
	)
	return Answer{
		Text:        reply,
		UserID:      q.UserID,
		ContextUsed: len(outcome.Hits) > 0,
		Buttons:     s.buttons(ctx, outcome.Hits),
	}, nil
}

// AnswerWithTools lets the model decide whether to search the FAQ.
func (s *Service) AnswerWithTools(ctx context.Context, q domain.Query) (Answer, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "rag.answer_with_tools")
	defer span.End()

	text, err := s.validator.Validate(q.Text)
	if err != nil {
		return Answer{Text: domain.UserMessage(err), UserID: q.UserID}, err
	}

	var hits []semantic.SearchResult
	search := func(ctx context.Context, args completion.SearchArgs) (string, error) {
		toolQuery, err := s.validator.Validate(args.Query)
		if err != nil {
			return domain.UserMessage(err), nil
		}
		topK := args.TopK
		if topK <= 0 {
			topK = s.topK(q)
		}
		outcome, err := s.retriever.Search(ctx, toolQuery, topK)
		if err != nil {
			return "", err
		}
		if outcome.Message != "" {
			return outcome.Message, nil
		}
		hits = append(hits, outcome.Hits...)
		return FormatContext(outcome.Hits, s.opts.MaxContextLen), nil
	}

	reply, err := s.llm.CompleteWithSearch(ctx, completion.Prompt(fmt.Sprintf(ToolPrompt, text), ""), search)
	switch {
	case err == nil:
	case completion.IsAuth(err):
		return Answer{}, fmt.Errorf("rag: answer with tools: %w", err)
	default:
		reply = completion.Reply{Content: s.generationFallback(err)}
	}

	span.SetAttributes(attribute.Bool("rag.function_called", reply.FunctionCalled))
	return Answer{
		Text:           reply.Content,
		UserID:         q.UserID,
		ContextUsed:    len(hits) > 0,
		FunctionCalled: reply.FunctionCalled,
		Buttons:        s.buttons(ctx, hits),
	}, nil
}

func (s *Service) topK(q domain.Query) int {
	if q.TopK > 0 {
		return q.TopK
	}
	return s.opts.TopK
}

// generationFallback picks the apology shown when generation fails.
func (s *Service) generationFallback(err error) string {
	s.logger.Error("generation failed", "err", err)
	var ue *completion.UpstreamError
	if errors.As(err, &ue) || errors.Is(err, completion.ErrNoChoices) || errors.Is(err, completion.ErrBadToolArguments) {
		return domain.ApologyMessage
	}
	return domain.UnavailableMessage
}

// buttons suggests questions related to the best hit. Graph failures only log.
func (s *Service) buttons(ctx context.Context, hits []semantic.SearchResult) []string {
	if s.related == nil || s.opts.MaxButtons <= 0 || len(hits) == 0 {
		return nil
	}
	id := hits[0].Get(domain.FieldID)
	if id == "" {
		return nil
	}
	related, err := s.related.Related(ctx, id, s.opts.MaxButtons)
	if err != nil {
		s.logger.Warn("related questions lookup failed", "record_id", id, "err", err)
		return nil
	}
	out := make([]string, 0, len(related))
	for _, r := range related {
		if r.Question != "" {
			out = append(out, r.Question)
		}
	}
	return out
}
