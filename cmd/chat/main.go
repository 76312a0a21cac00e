// Command chat is a terminal client for the FAQ answer flow. It runs the
// same retrieval and completion pipeline as the API server in-process, which
// makes it handy for checking how a question is resolved.
//
// Lines starting with "/search " only run retrieval; "/tools " uses the
// function-calling path; "/quit" exits.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lanebot/faqrag/engine/completion"
	"github.com/lanebot/faqrag/engine/config"
	"github.com/lanebot/faqrag/engine/domain"
	"github.com/lanebot/faqrag/engine/rag"
	"github.com/lanebot/faqrag/engine/semantic"
	"github.com/lanebot/faqrag/pkg/ollama"
)

// asker is the slice of rag.Service the REPL uses.
type asker interface {
	Search(ctx context.Context, query string, topK int) (rag.SearchOutcome, error)
	Answer(ctx context.Context, q domain.Query) (rag.Answer, error)
	AnswerWithTools(ctx context.Context, q domain.Query) (rag.Answer, error)
}

func main() {
	cfg, err := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)
	if err == nil {
		err = cfg.Validate(false)
	}
	if err == nil && cfg.LLMAuthKey == "" && cfg.LLMAccessToken == "" {
		err = &config.MissingError{Keys: []string{"LLM_AUTH_KEY or LLM_ACCESS_TOKEN"}}
	}
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	store, err := semantic.New(cfg.QdrantAddr, cfg.Collection, semantic.DialOptions{APIKey: cfg.QdrantAPIKey, TLS: cfg.QdrantTLS})
	if err != nil {
		logger.Error("qdrant connect failed", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	embedder := ollama.NewCachedEmbedder(ollama.NewEmbedClient(cfg.EmbedURL, cfg.EmbedModel, 30*time.Second), cfg.EmbedCacheSize)
	llm := completion.New(completion.Config{
		BaseURL:     cfg.LLMBaseURL,
		AuthURL:     cfg.LLMAuthURL,
		AuthKey:     cfg.LLMAuthKey,
		AccessToken: cfg.LLMAccessToken,
		Scope:       cfg.LLMScope,
		Model:       cfg.LLMModel,
		Temperature: &cfg.LLMTemperature,
		MaxTokens:   cfg.LLMMaxTokens,
		Timeout:     cfg.LLMTimeout,
		Logger:      logger,
	})
	svc := rag.NewService(rag.NewRetriever(embedder, store, logger), llm, nil, rag.Options{
		TopK:          cfg.TopK,
		MaxContextLen: cfg.MaxContextLen,
		MaxQueryLen:   cfg.MaxQueryLen,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := repl(ctx, svc, os.Stdin, os.Stdout); err != nil {
		logger.Error("chat exited with error", "err", err)
		os.Exit(1)
	}
}

// repl reads one question per line from in and writes answers to out.
func repl(ctx context.Context, svc asker, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
		case line == "/quit":
			return nil
		case strings.HasPrefix(line, "/search "):
			printSearch(ctx, svc, strings.TrimPrefix(line, "/search "), out)
		case strings.HasPrefix(line, "/tools "):
			ans, err := svc.AnswerWithTools(ctx, domain.Query{Text: strings.TrimPrefix(line, "/tools ")})
			printAnswer(ans, err, out)
		default:
			ans, err := svc.Answer(ctx, domain.Query{Text: line})
			printAnswer(ans, err, out)
		}
		fmt.Fprint(out, "> ")
	}
	return sc.Err()
}

func printSearch(ctx context.Context, svc asker, query string, out io.Writer) {
	outcome, err := svc.Search(ctx, query, 0)
	if outcome.Message != "" {
		fmt.Fprintln(out, outcome.Message)
		return
	}
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	for i, h := range outcome.Hits {
		fmt.Fprintf(out, "%d. [%.3f] %s\n", i+1, h.Score, h.Get(domain.FieldQuestion))
	}
	if len(outcome.Hits) == 0 {
		fmt.Fprintln(out, rag.NoContextPlaceholder)
	}
}

func printAnswer(ans rag.Answer, err error, out io.Writer) {
	var ve *domain.ValidationError
	if err != nil && !errors.As(err, &ve) {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	fmt.Fprintln(out, ans.Text)
	if ans.FunctionCalled {
		fmt.Fprintln(out, "(searched the FAQ)")
	}
}
