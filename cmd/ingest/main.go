// Command ingest loads FAQ rows from a spreadsheet into the Qdrant collection
// and, when configured, the FAQ graph. Rows can be ingested directly or
// handed to a NATS-connected consumer.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/lanebot/faqrag/engine/config"
	"github.com/lanebot/faqrag/engine/graph"
	"github.com/lanebot/faqrag/engine/ingest"
	"github.com/lanebot/faqrag/engine/semantic"
	"github.com/lanebot/faqrag/engine/sheets"
	"github.com/lanebot/faqrag/pkg/ollama"
	"github.com/lanebot/faqrag/pkg/resilience"
)

// options are the command-line flags.
type options struct {
	source   string
	file     string
	sheet    string
	recreate bool
	publish  bool
	consume  bool
	status   bool
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.StringVar(&o.source, "source", "xlsx", "row source: xlsx or gsheet")
	fs.StringVar(&o.file, "file", "faq.xlsx", "workbook path for -source xlsx")
	fs.StringVar(&o.sheet, "sheet", "", "worksheet name (default SHEET_NAME, then FAQ, then the first sheet)")
	fs.BoolVar(&o.recreate, "recreate", false, "drop and recreate the collection before uploading")
	fs.BoolVar(&o.publish, "publish", false, "publish rows to NATS instead of ingesting them")
	fs.BoolVar(&o.consume, "consume", false, "run a NATS consumer that ingests published rows")
	fs.BoolVar(&o.status, "status", false, "print the running consumer's totals and exit")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	modes := 0
	for _, on := range []bool{o.publish, o.consume, o.status} {
		if on {
			modes++
		}
	}
	if modes > 1 {
		return o, errors.New("-publish, -consume and -status are mutually exclusive")
	}
	if o.source != "xlsx" && o.source != "gsheet" {
		return o, fmt.Errorf("unknown -source %q", o.source)
	}
	return o, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	cfg, err := config.Load()
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)
	if err == nil {
		err = cfg.Validate(false)
	}
	if err != nil {
		log.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, log); err != nil {
		log.Error("ingest failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, opts options, log *slog.Logger) error {
	switch {
	case opts.status:
		return printStatus(ctx, cfg)
	case opts.publish:
		return publish(ctx, cfg, opts, log)
	}

	vs, err := semantic.New(cfg.QdrantAddr, cfg.Collection, semantic.DialOptions{APIKey: cfg.QdrantAPIKey, TLS: cfg.QdrantTLS})
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vs.Close()

	if opts.recreate {
		err = vs.Recreate(ctx, cfg.EmbeddingDim)
	} else {
		err = vs.EnsureCollection(ctx, cfg.EmbeddingDim)
	}
	if err != nil {
		return err
	}
	log.Info("collection ready", "collection", cfg.Collection, "dims", cfg.EmbeddingDim, "recreated", opts.recreate)

	deps := ingest.Deps{
		Embedder:  ollama.NewEmbedClient(cfg.EmbedURL, cfg.EmbedModel, 60*time.Second),
		Index:     vs,
		Logger:    log,
		ChunkSize: cfg.ChunkSize,
		Overlap:   cfg.ChunkOverlap,
		Dims:      cfg.EmbeddingDim,
		Breaker: resilience.NewBreaker(resilience.BreakerOpts{
			OnStateChange: func(from, to resilience.State) {
				log.Warn("embedder breaker", "from", from.String(), "to", to.String())
			},
		}),
	}

	if cfg.Neo4jURL != "" {
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
		if err != nil {
			return fmt.Errorf("neo4j driver: %w", err)
		}
		defer driver.Close(context.Background())
		if err := driver.VerifyConnectivity(ctx); err != nil {
			return fmt.Errorf("neo4j verify: %w", err)
		}
		g := graph.New(driver)
		if err := g.EnsureSchema(ctx); err != nil {
			return err
		}
		if opts.recreate {
			if err := g.Clear(ctx); err != nil {
				return err
			}
		}
		deps.Graph = g
		log.Info("connected to Neo4j")
	}

	if opts.consume {
		return consume(ctx, cfg, deps, log)
	}

	src, err := openSource(ctx, cfg, opts)
	if err != nil {
		return err
	}
	rows, err := src.Rows(ctx)
	if err != nil {
		return err
	}
	log.Info("rows loaded", "source", src.Name(), "rows", len(rows))

	report, err := ingest.Run(ctx, deps, rows)
	log.Info("ingest finished",
		"rows", report.Rows,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"points", report.Points,
		"duration", report.Duration,
	)
	if err != nil {
		return err
	}
	if n, err := vs.Count(ctx); err == nil {
		log.Info("collection size", "points", n)
	}
	if g, ok := deps.Graph.(*graph.Store); ok {
		logGraphSummary(ctx, g, log)
	}
	return nil
}

func logGraphSummary(ctx context.Context, g *graph.Store, log *slog.Logger) {
	counts, err := g.NodeCounts(ctx)
	if err != nil {
		log.Warn("graph summary failed", "err", err)
		return
	}
	cats, err := g.Categories(ctx)
	if err != nil {
		log.Warn("graph summary failed", "err", err)
		return
	}
	args := make([]any, 0, 2*len(counts)+2)
	for label, n := range counts {
		args = append(args, label, n)
	}
	args = append(args, "categories", len(cats))
	log.Info("graph summary", args...)
}

// openSource picks the row source from the flags and configuration.
func openSource(ctx context.Context, cfg config.Config, opts options) (sheets.Source, error) {
	sheet := opts.sheet
	if sheet == "" {
		sheet = cfg.SheetName
	}
	switch opts.source {
	case "gsheet":
		if cfg.SpreadsheetID == "" || cfg.ServiceAccountFile == "" {
			return nil, &config.MissingError{Keys: missingSheetKeys(cfg)}
		}
		g, err := sheets.NewGoogleSheetFromFile(ctx, cfg.ServiceAccountFile, cfg.SpreadsheetID, sheet)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		if opts.file == "" {
			return nil, errors.New("-file is required for -source xlsx")
		}
		return sheets.XLSX{Path: opts.file, Sheet: sheet}, nil
	}
}

func missingSheetKeys(cfg config.Config) []string {
	var keys []string
	if cfg.SpreadsheetID == "" {
		keys = append(keys, "SPREADSHEET_ID")
	}
	if cfg.ServiceAccountFile == "" {
		keys = append(keys, "SERVICE_ACCOUNT_FILE")
	}
	return keys
}

func connectNATS(cfg config.Config) (*nats.Conn, error) {
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("faqrag-ingest"))
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.NATSURL, err)
	}
	return nc, nil
}

func publish(ctx context.Context, cfg config.Config, opts options, log *slog.Logger) error {
	src, err := openSource(ctx, cfg, opts)
	if err != nil {
		return err
	}
	rows, err := src.Rows(ctx)
	if err != nil {
		return err
	}
	nc, err := connectNATS(cfg)
	if err != nil {
		return err
	}
	defer nc.Close()

	n, err := ingest.PublishRows(ctx, nc, rows, src.Name())
	log.Info("rows published", "source", src.Name(), "published", n, "subject", ingest.IngestSubject)
	return err
}

func consume(ctx context.Context, cfg config.Config, deps ingest.Deps, log *slog.Logger) error {
	nc, err := connectNATS(cfg)
	if err != nil {
		return err
	}
	defer nc.Close()

	c, err := ingest.StartConsumer(nc, deps)
	if err != nil {
		return err
	}
	log.Info("consumer started", "subject", ingest.IngestSubject)
	<-ctx.Done()

	stats := c.Stats()
	log.Info("consumer stopping",
		"rows", stats.Rows,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
		"points", stats.Points,
	)
	return c.Stop()
}

func printStatus(ctx context.Context, cfg config.Config) error {
	nc, err := connectNATS(cfg)
	if err != nil {
		return err
	}
	defer nc.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	stats, err := ingest.FetchStats(ctx, nc)
	if err != nil {
		return fmt.Errorf("fetch stats: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}
