// Package config loads service settings from the environment and an optional
// .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration.
type Config struct {
	// Vector index
	QdrantAddr   string
	QdrantAPIKey string
	QdrantTLS    bool
	Collection   string

	// Embeddings
	EmbedURL       string
	EmbedModel     string
	EmbeddingDim   int
	EmbedCacheSize int
	ChunkSize      int
	ChunkOverlap   int

	// Completion API
	LLMBaseURL     string
	LLMAuthURL     string
	LLMAuthKey     string
	LLMAccessToken string
	LLMScope       string
	LLMModel       string
	LLMTemperature float64
	LLMMaxTokens   int
	LLMTimeout     time.Duration

	// HTTP API
	GraphSecret   string
	TopK          int
	MaxQueryLen   int
	MaxContextLen int
	Port          string
	CORSOrigin    string
	RateLimitRPS  float64
	// TrustedProxies may set X-Forwarded-For for rate limiting.
	TrustedProxies []netip.Prefix

	// FAQ graph, optional
	Neo4jURL  string
	Neo4jUser string
	Neo4jPass string

	NATSURL string

	// Spreadsheet source
	SpreadsheetID      string
	ServiceAccountFile string
	SheetName          string

	LogLevel slog.Level
}

// Load reads .env (when present) and the environment.
func Load() (Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return Config{}, fmt.Errorf("config: load .env: %w", err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function. Malformed numeric values are
// all reported together.
func FromEnv(getenv func(string) string) (Config, error) {
	e := &env{get: getenv}
	cfg := Config{
		QdrantAddr:   e.str("QDRANT_ADDR", "localhost:6334"),
		QdrantAPIKey: e.str("QDRANT_API_KEY", ""),
		QdrantTLS:    e.boolean("QDRANT_TLS", false),
		Collection:   e.str("COLLECTION_NAME", "bowling_knowledge"),

		EmbedURL:       e.str("EMBED_URL", "http://localhost:11434"),
		EmbedModel:     e.str("EMBED_MODEL", "nomic-embed-text"),
		EmbeddingDim:   e.integer("EMBEDDING_DIM", 768),
		EmbedCacheSize: e.integer("EMBED_CACHE_SIZE", 1024),
		ChunkSize:      e.integer("CHUNK_SIZE", 500),
		ChunkOverlap:   e.integer("CHUNK_OVERLAP", 50),

		LLMBaseURL:     e.str("LLM_BASE_URL", "https://gigachat.devices.sberbank.ru/api/v1"),
		LLMAuthURL:     e.str("LLM_AUTH_URL", "https://ngw.devices.sberbank.ru:9443/api/v2/oauth"),
		LLMAuthKey:     e.str("LLM_AUTH_KEY", ""),
		LLMAccessToken: e.str("LLM_ACCESS_TOKEN", ""),
		LLMScope:       e.str("LLM_SCOPE", "GIGACHAT_API_PERS"),
		LLMModel:       e.str("LLM_MODEL", "GigaChat:latest"),
		LLMTemperature: e.float("LLM_TEMPERATURE", 0.3),
		LLMMaxTokens:   e.integer("LLM_MAX_TOKENS", 1024),
		LLMTimeout:     e.duration("LLM_TIMEOUT", 60*time.Second),

		GraphSecret:    e.str("GRAPH_SECRET", ""),
		TopK:           e.integer("TOP_K", 5),
		MaxQueryLen:    e.integer("MAX_QUERY_LEN", 1000),
		MaxContextLen:  e.integer("MAX_CONTEXT_LEN", 4000),
		Port:           e.str("PORT", "8000"),
		CORSOrigin:     e.str("CORS_ORIGIN", "*"),
		RateLimitRPS:   e.float("RATE_LIMIT_RPS", 10),
		TrustedProxies: e.prefixes("TRUSTED_PROXIES"),

		Neo4jURL:  e.str("NEO4J_URL", ""),
		Neo4jUser: e.str("NEO4J_USER", "neo4j"),
		Neo4jPass: e.str("NEO4J_PASS", ""),

		NATSURL: e.str("NATS_URL", "nats://127.0.0.1:4222"),

		SpreadsheetID:      e.str("SPREADSHEET_ID", ""),
		ServiceAccountFile: e.str("SERVICE_ACCOUNT_FILE", ""),
		SheetName:          e.str("SHEET_NAME", ""),

		LogLevel: e.level("LOG_LEVEL", slog.LevelInfo),
	}
	if len(e.errs) > 0 {
		return cfg, fmt.Errorf("config: %w", errors.Join(e.errs...))
	}
	return cfg, nil
}

// MissingError lists required settings that are unset.
type MissingError struct {
	Keys []string
}

func (e *MissingError) Error() string {
	return "config: missing required settings: " + strings.Join(e.Keys, ", ")
}

// Validate checks required settings and value ranges. requireAPI adds the
// secrets the HTTP API cannot run without.
func (c Config) Validate(requireAPI bool) error {
	var missing []string
	if requireAPI {
		if c.LLMAuthKey == "" && c.LLMAccessToken == "" {
			missing = append(missing, "LLM_AUTH_KEY or LLM_ACCESS_TOKEN")
		}
		if c.GraphSecret == "" {
			missing = append(missing, "GRAPH_SECRET")
		}
	}
	if c.QdrantAddr == "" {
		missing = append(missing, "QDRANT_ADDR")
	}
	if c.Collection == "" {
		missing = append(missing, "COLLECTION_NAME")
	}
	if len(missing) > 0 {
		return &MissingError{Keys: missing}
	}

	switch {
	case c.EmbeddingDim <= 0:
		return fmt.Errorf("config: EMBEDDING_DIM must be positive, got %d", c.EmbeddingDim)
	case c.ChunkSize <= 0:
		return fmt.Errorf("config: CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	case c.ChunkOverlap < 0:
		return fmt.Errorf("config: CHUNK_OVERLAP must not be negative, got %d", c.ChunkOverlap)
	case c.TopK <= 0:
		return fmt.Errorf("config: TOP_K must be positive, got %d", c.TopK)
	}
	return nil
}

// LogValue renders the config for logs with secrets masked.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("qdrant_addr", c.QdrantAddr),
		slog.String("qdrant_api_key", Mask(c.QdrantAPIKey)),
		slog.Bool("qdrant_tls", c.QdrantTLS),
		slog.String("collection", c.Collection),
		slog.String("embed_url", c.EmbedURL),
		slog.String("embed_model", c.EmbedModel),
		slog.Int("embedding_dim", c.EmbeddingDim),
		slog.Int("chunk_size", c.ChunkSize),
		slog.Int("chunk_overlap", c.ChunkOverlap),
		slog.String("llm_base_url", c.LLMBaseURL),
		slog.String("llm_auth_key", Mask(c.LLMAuthKey)),
		slog.String("llm_access_token", Mask(c.LLMAccessToken)),
		slog.String("llm_model", c.LLMModel),
		slog.String("graph_secret", Mask(c.GraphSecret)),
		slog.Int("top_k", c.TopK),
		slog.Int("max_query_len", c.MaxQueryLen),
		slog.Int("max_context_len", c.MaxContextLen),
		slog.String("port", c.Port),
		slog.Int("trusted_proxies", len(c.TrustedProxies)),
		slog.String("neo4j_url", c.Neo4jURL),
		slog.String("neo4j_pass", Mask(c.Neo4jPass)),
		slog.String("nats_url", c.NATSURL),
		slog.String("spreadsheet_id", c.SpreadsheetID),
		slog.String("log_level", c.LogLevel.String()),
	)
}

// Mask hides all but the last four characters of a secret.
func Mask(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 4:
		return "****"
	default:
		return "****" + s[len(s)-4:]
	}
}

type env struct {
	get  func(string) string
	errs []error
}

func (e *env) str(key, fallback string) string {
	if v := strings.TrimSpace(e.get(key)); v != "" {
		return v
	}
	return fallback
}

func (e *env) integer(key string, fallback int) int {
	v := e.str(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return fallback
	}
	return n
}

func (e *env) float(key string, fallback float64) float64 {
	v := e.str(key, "")
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid number %q", key, v))
		return fallback
	}
	return f
}

func (e *env) boolean(key string, fallback bool) bool {
	v := e.str(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return fallback
	}
	return b
}

func (e *env) duration(key string, fallback time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return fallback
	}
	return d
}

// prefixes parses a comma-separated list of CIDRs or bare addresses.
func (e *env) prefixes(key string) []netip.Prefix {
	v := e.str(key, "")
	if v == "" {
		return nil
	}
	var out []netip.Prefix
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if p, err := netip.ParsePrefix(part); err == nil {
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(part)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: invalid address or CIDR %q", key, part))
			continue
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out
}

func (e *env) level(key string, fallback slog.Level) slog.Level {
	v := e.str(key, "")
	if v == "" {
		return fallback
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid level %q", key, v))
		return fallback
	}
	return l
}
