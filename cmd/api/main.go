// Package main implements the FAQ RAG API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/lanebot/faqrag/engine/completion"
	"github.com/lanebot/faqrag/engine/config"
	"github.com/lanebot/faqrag/engine/graph"
	"github.com/lanebot/faqrag/engine/rag"
	"github.com/lanebot/faqrag/engine/semantic"
	"github.com/lanebot/faqrag/pkg/metrics"
	"github.com/lanebot/faqrag/pkg/ollama"
	"github.com/lanebot/faqrag/pkg/resilience"
)

func main() {
	cfg, err := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	if err != nil {
		logger.Error("load configuration", "err", err)
		os.Exit(1)
	}
	if err := cfg.Validate(true); err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger.Info("configuration loaded", "config", cfg)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Connect to Qdrant ---
	vectorStore, err := semantic.New(cfg.QdrantAddr, cfg.Collection, semantic.DialOptions{
		APIKey: cfg.QdrantAPIKey,
		TLS:    cfg.QdrantTLS,
	})
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectorStore.Close()

	embedClient := ollama.NewEmbedClient(cfg.EmbedURL, cfg.EmbedModel, 30*time.Second)
	embedder := ollama.NewCachedEmbedder(embedClient, cfg.EmbedCacheSize)
	probes := map[string]func(context.Context) error{
		"embedder": embedClient.Ping,
		"qdrant": func(ctx context.Context) error {
			_, err := vectorStore.CollectionExists(ctx)
			return err
		},
	}

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

	// --- Connect to Neo4j (optional) ---
	var related rag.RelatedFinder
	if cfg.Neo4jURL != "" {
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
		if err != nil {
			return fmt.Errorf("neo4j driver: %w", err)
		}
		defer driver.Close(context.Background())
		related = graph.New(driver)
		probes["graph"] = driver.VerifyConnectivity
	}

	// --- Build RAG service ---
	ragSvc := rag.NewService(
		rag.NewRetriever(embedder, vectorStore, logger),
		llm,
		related,
		rag.Options{
			TopK:          cfg.TopK,
			MaxContextLen: cfg.MaxContextLen,
			MaxQueryLen:   cfg.MaxQueryLen,
			MaxButtons:    rag.DefaultOptions().MaxButtons,
		},
		logger,
	)

	s := &server{
		rag:     ragSvc,
		index:   vectorStore,
		metrics: metrics.NewFAQ(metrics.New()),
		services: func() map[string]string {
			services := map[string]string{"completion": breakerStatus(llm.BreakerState())}
			if related == nil {
				services["graph"] = "disabled"
			}
			return services
		},
		probes:     probes,
		tokens:     llm.Tokens().Fetches,
		secret:     cfg.GraphSecret,
		corsOrigin: cfg.CORSOrigin,
		rateRPS:    cfg.RateLimitRPS,
		proxies:    cfg.TrustedProxies,
		logger:     logger,
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      s.handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.LLMTimeout*2 + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port, "collection", cfg.Collection)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

func breakerStatus(s resilience.State) string {
	switch s {
	case resilience.StateOpen:
		return "unhealthy"
	case resilience.StateHalfOpen:
		return "degraded"
	default:
		return "healthy"
	}
}
