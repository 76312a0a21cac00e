package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/lanebot/faqrag/pkg/fn"
	"github.com/lanebot/faqrag/pkg/resilience"
)

const tracerName = "github.com/lanebot/faqrag/engine/completion"

// Defaults for the hosted GigaChat API.
const (
	DefaultBaseURL     = "https://gigachat.devices.sberbank.ru/api/v1"
	DefaultAuthURL     = "https://ngw.devices.sberbank.ru:9443/api/v2/oauth"
	DefaultScope       = "GIGACHAT_API_PERS"
	DefaultModel       = "GigaChat:latest"
	DefaultTemperature = 0.3
	DefaultMaxTokens   = 1024
	DefaultTimeout     = 60 * time.Second
)

// ContextPrefix introduces retrieved context in the system message.
const ContextPrefix = "Use this context to answer the question: "

// Config configures a Client. Zero fields take the Default* values.
type Config struct {
	BaseURL     string
	AuthURL     string
	AuthKey     string
	AccessToken string
	Scope       string
	Model       string
	// Temperature is a pointer so an explicit 0 survives defaulting.
	Temperature *float64
	MaxTokens   int
	Timeout     time.Duration
	HTTPClient  *http.Client
	Breaker     *resilience.Breaker
	Logger      *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.AuthURL == "" {
		c.AuthURL = DefaultAuthURL
	}
	if c.Scope == "" {
		c.Scope = DefaultScope
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Temperature == nil {
		t := DefaultTemperature
		c.Temperature = &t
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{
			Timeout:   c.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Breaker == nil {
		log := c.Logger
		c.Breaker = resilience.NewBreaker(resilience.BreakerOpts{
			IsFailure: tripsBreaker,
			OnStateChange: func(from, to resilience.State) {
				log.Warn("completion breaker state changed", "from", from, "to", to)
			},
		})
	}
	return c
}

// Client is a chat completion client with a cached access token.
type Client struct {
	cfg    Config
	tokens *TokenCache
	log    *slog.Logger
}

// New creates a Client.
func New(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg: cfg,
		tokens: NewTokenCache(TokenConfig{
			AuthURL:    cfg.AuthURL,
			AuthKey:    cfg.AuthKey,
			Scope:      cfg.Scope,
			Static:     cfg.AccessToken,
			HTTPClient: cfg.HTTPClient,
			Logger:     cfg.Logger,
		}),
		log: cfg.Logger,
	}
}

// Tokens exposes the client's token cache.
func (c *Client) Tokens() *TokenCache { return c.tokens }

// Model returns the configured model name.
func (c *Client) Model() string { return c.cfg.Model }

// BreakerState reports the state of the chat circuit breaker.
func (c *Client) BreakerState() resilience.State { return c.cfg.Breaker.State() }

// Prompt builds the message list for a question: a system message carrying the
// context when there is any, then the user message.
func Prompt(question, contextText string) []Message {
	msgs := make([]Message, 0, 2)
	if strings.TrimSpace(contextText) != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: ContextPrefix + contextText})
	}
	return append(msgs, Message{Role: RoleUser, Content: question})
}

// Complete answers question using contextText as grounding.
func (c *Client) Complete(ctx context.Context, question, contextText string) (string, error) {
	msg, err := c.Chat(ctx, Prompt(question, contextText), nil)
	if err != nil {
		return "", err
	}
	return msg.Content, nil
}

// Chat sends one chat request and returns the model's message.
func (c *Client) Chat(ctx context.Context, msgs []Message, functions []Function) (Message, error) {
	resp, err := c.chat(ctx, msgs, functions)
	if err != nil {
		return Message{}, err
	}
	return resp.Choices[0].Message, nil
}

func (c *Client) chat(ctx context.Context, msgs []Message, functions []Function) (chatResponse, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "completion.chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", c.cfg.Model),
		attribute.Int("llm.messages", len(msgs)),
		attribute.Int("llm.functions", len(functions)),
	)

	req := chatRequest{
		Model:       c.cfg.Model,
		Messages:    msgs,
		Temperature: *c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		Functions:   functions,
	}
	if len(functions) > 0 {
		req.FunctionCall = "auto"
	}

	start := time.Now()
	resp, err := resilience.CallResult(c.cfg.Breaker, ctx, func(ctx context.Context) fn.Result[chatResponse] {
		r, err := c.post(ctx, req)
		return fn.FromPair(r, err)
	}).Unwrap()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log.Error("chat completion failed", "err", err, "duration", time.Since(start))
		return chatResponse{}, err
	}

	span.SetAttributes(attribute.Int("llm.total_tokens", resp.Usage.TotalTokens))
	c.log.Debug("chat completion",
		"model", resp.Model,
		"tokens", resp.Usage.TotalTokens,
		"duration", time.Since(start),
	)
	return resp, nil
}

func (c *Client) post(ctx context.Context, cr chatRequest) (chatResponse, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return chatResponse{}, fmt.Errorf("completion: chat: %w", err)
	}

	body, err := json.Marshal(cr)
	if err != nil {
		return chatResponse{}, fmt.Errorf("completion: chat: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return chatResponse{}, fmt.Errorf("completion: chat: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return chatResponse{}, fmt.Errorf("completion: chat: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return chatResponse{}, fmt.Errorf("completion: chat: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		uerr := &UpstreamError{Op: "chat", Status: resp.StatusCode, Body: string(raw)}
		if errors.Is(uerr, ErrAuth) {
			c.tokens.Invalidate()
		}
		return chatResponse{}, uerr
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return chatResponse{}, fmt.Errorf("completion: chat: decode: %w", err)
	}
	if len(out.Choices) == 0 {
		return chatResponse{}, ErrNoChoices
	}
	return out, nil
}
