// Package ingest turns spreadsheet rows into vector index points: rows are
// normalized, chunked, embedded and upserted in batches.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/lanebot/faqrag/engine/domain"
	"github.com/lanebot/faqrag/engine/semantic"
	"github.com/lanebot/faqrag/pkg/fn"
	"github.com/lanebot/faqrag/pkg/resilience"
)

const (
	// BatchSize is the max points per upsert call.
	BatchSize = 100
	// DefaultWorkers bounds concurrent record preparation.
	DefaultWorkers = 4
)

// Deps holds the external dependencies for the ingestion pipeline.
type Deps struct {
	Embedder  Embedder
	Index     VectorIndex
	Graph     GraphWriter
	Logger    *slog.Logger
	ChunkSize int
	Overlap   int
	Dims      int
	Workers   int
	Retry     fn.RetryOpts
	// Breaker guards embedder calls so a dead embedder fails rows fast. Nil disables it.
	Breaker *resilience.Breaker
	Now     func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.ChunkSize <= 0 {
		d.ChunkSize = DefaultChunkSize
	}
	if d.Overlap < 0 {
		d.Overlap = 0
	}
	if d.Workers <= 0 {
		d.Workers = DefaultWorkers
	}
	if d.Retry.MaxAttempts <= 0 {
		d.Retry = fn.DefaultRetry
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// --- Pipeline Stages ---

// Normalize maps raw headers to canonical fields and fills a missing id.
var Normalize fn.Stage[Row, domain.Record] = func(_ context.Context, row Row) fn.Result[domain.Record] {
	r, err := domain.NormalizeRow(row)
	return fn.FromPair(r, err)
}

// Validate checks a normalized record.
var Validate fn.Stage[domain.Record, domain.Record] = func(_ context.Context, r domain.Record) fn.Result[domain.Record] {
	if err := domain.ValidateRecord(r); err != nil {
		return fn.Err[domain.Record](err)
	}
	return fn.Ok(r)
}

// NewChunk creates a stage splitting the record text into chunks.
func NewChunk(size, overlap int) fn.Stage[domain.Record, ChunkedRecord] {
	return func(_ context.Context, r domain.Record) fn.Result[ChunkedRecord] {
		chunks := ChunkRecord(r, size, overlap)
		if len(chunks) == 0 {
			return fn.Err[ChunkedRecord](domain.NewValidationError("record", r.ID, domain.ErrEmptyRecord))
		}
		return fn.Ok(ChunkedRecord{Record: r, Chunks: chunks})
	}
}

// NewEmbed creates a stage embedding every chunk. When dims > 0 each vector
// must have exactly that length.
func NewEmbed(e Embedder, dims int) fn.Stage[ChunkedRecord, EmbeddedRecord] {
	return func(ctx context.Context, doc ChunkedRecord) fn.Result[EmbeddedRecord] {
		embeddings := make([][]float32, len(doc.Chunks))
		for i, c := range doc.Chunks {
			vec, err := e.Embed(ctx, c.Text)
			if err != nil {
				return fn.Err[EmbeddedRecord](fmt.Errorf("embed chunk %d: %w", i, err))
			}
			if dims > 0 && len(vec) != dims {
				return fn.Err[EmbeddedRecord](fmt.Errorf("%w: got %d, want %d", semantic.ErrDimensionMismatch, len(vec), dims))
			}
			embeddings[i] = vec
		}
		return fn.Ok(EmbeddedRecord{ChunkedRecord: doc, Embeddings: embeddings})
	}
}

// NewPoints creates a stage building index points stamped with now().
func NewPoints(now func() time.Time) fn.Stage[EmbeddedRecord, Prepared] {
	return func(_ context.Context, doc EmbeddedRecord) fn.Result[Prepared] {
		return fn.Ok(Prepared{Record: doc.Record, Points: toPoints(doc, now())})
	}
}

// NewStore creates a stage upserting one prepared record, with retry, and
// mirroring it into the graph. Graph failures are logged, not returned.
func NewStore(deps Deps) fn.Stage[Prepared, int] {
	deps = deps.withDefaults()
	return func(ctx context.Context, p Prepared) fn.Result[int] {
		if err := upsert(ctx, deps, p.Points); err != nil {
			return fn.Err[int](err)
		}
		saveGraph(ctx, deps, p.Record)
		return fn.Ok(len(p.Points))
	}
}

// LoggedTap returns a stage that logs entry/exit with duration.
func LoggedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return func(ctx context.Context, t T) fn.Result[T] {
		log.Debug("stage.enter", "stage", name)
		start := time.Now()
		defer func() {
			log.Debug("stage.exit", "stage", name, "duration", time.Since(start))
		}()
		return fn.Ok(t)
	}
}

// NewPipeline composes Normalize → Validate → Chunk → Embed → Points.
func NewPipeline(deps Deps) fn.Stage[Row, Prepared] {
	deps = deps.withDefaults()
	log := deps.Logger

	normalized := fn.Then(LoggedTap[Row]("normalize", log), Normalize)
	validated := fn.Then(normalized, Validate)
	chunked := fn.Then(validated, fn.Then(LoggedTap[domain.Record]("chunk", log), NewChunk(deps.ChunkSize, deps.Overlap)))
	embed := NewEmbed(deps.Embedder, deps.Dims)
	if deps.Breaker != nil {
		embed = resilience.BreakerStage(deps.Breaker, embed)
	}
	embedded := fn.Then(chunked, fn.TracedStage("ingest.embed", embed))
	return fn.Then(embedded, NewPoints(deps.Now))
}

// Run ingests rows. Records that fail validation are skipped, records whose
// embedding or upload fails are counted and logged; neither stops the run.
// Only context cancellation is returned as an error.
func Run(ctx context.Context, deps Deps, rows []Row) (domain.IngestReport, error) {
	deps = deps.withDefaults()
	log := deps.Logger
	start := time.Now()
	report := domain.IngestReport{Rows: len(rows)}

	pipeline := NewPipeline(deps)
	results := fn.ParMapResult(ctx, rows, deps.Workers, pipeline)

	var prepared []Prepared
	for i, r := range results {
		p, err := r.Unwrap()
		switch {
		case err == nil:
			prepared = append(prepared, p)
		case IsSkippable(err):
			report.Skipped++
			log.Warn("ingest: row skipped", "row", i, "error", err)
		default:
			report.Failed++
			log.Error("ingest: row failed", "row", i, "error", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	for _, batch := range batches(prepared, BatchSize) {
		var points []semantic.VectorRecord
		for _, p := range batch {
			points = append(points, p.Points...)
		}
		if err := upsert(ctx, deps, points); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, ctxErr
			}
			if len(batch) == 1 {
				report.Failed++
				log.Error("ingest: record upsert failed", "record_id", batch[0].Record.ID, "points", len(points), "error", err)
				continue
			}
			// one bad record must not sink its neighbours
			log.Warn("ingest: batch upsert failed, storing records one by one", "records", len(batch), "error", err)
			for _, p := range batch {
				if err := upsert(ctx, deps, p.Points); err != nil {
					if ctxErr := ctx.Err(); ctxErr != nil {
						return report, ctxErr
					}
					report.Failed++
					log.Error("ingest: record upsert failed", "record_id", p.Record.ID, "points", len(p.Points), "error", err)
					continue
				}
				report.Points += len(p.Points)
				saveGraph(ctx, deps, p.Record)
			}
			continue
		}
		report.Points += len(points)
		for _, p := range batch {
			saveGraph(ctx, deps, p.Record)
		}
		log.Info("ingest: batch stored", "records", len(batch), "points", len(points))
	}

	report.Duration = time.Since(start)
	log.Info("ingest: done",
		"rows", report.Rows,
		"points", report.Points,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"duration", report.Duration,
	)
	return report, nil
}

// IsSkippable reports whether err is a data problem that retrying cannot fix.
func IsSkippable(err error) bool {
	var ve *domain.ValidationError
	return errors.As(err, &ve)
}

// batches groups prepared records so that no group exceeds size points.
// A single record with more points than size forms its own group.
func batches(prepared []Prepared, size int) [][]Prepared {
	var out [][]Prepared
	var cur []Prepared
	n := 0
	for _, p := range prepared {
		if n > 0 && n+len(p.Points) > size {
			out = append(out, cur)
			cur, n = nil, 0
		}
		cur = append(cur, p)
		n += len(p.Points)
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

func upsert(ctx context.Context, deps Deps, points []semantic.VectorRecord) error {
	opts := deps.Retry
	if opts.Retryable == nil {
		opts.Retryable = retryableUpsert
	}
	if opts.OnRetry == nil {
		opts.OnRetry = func(attempt int, err error, wait time.Duration) {
			deps.Logger.Warn("ingest: upsert retry", "attempt", attempt, "points", len(points), "wait", wait, "error", err)
		}
	}
	for _, chunk := range fn.Chunk(points, BatchSize) {
		r := fn.Retry(ctx, opts, func(ctx context.Context) fn.Result[struct{}] {
			return fn.FromPair(struct{}{}, deps.Index.Upsert(ctx, chunk))
		})
		if _, err := r.Unwrap(); err != nil {
			return fmt.Errorf("vector upsert: %w", err)
		}
	}
	return nil
}

// retryableUpsert rejects failures a second attempt would repeat: a vector
// size mismatch and requests the index refused as malformed.
func retryableUpsert(err error) bool {
	if errors.Is(err, semantic.ErrDimensionMismatch) {
		return false
	}
	switch status.Code(err) {
	case codes.InvalidArgument, codes.NotFound, codes.PermissionDenied, codes.Unauthenticated:
		return false
	}
	return true
}

func saveGraph(ctx context.Context, deps Deps, r domain.Record) {
	if deps.Graph == nil {
		return
	}
	if err := deps.Graph.SaveRecord(ctx, r); err != nil {
		deps.Logger.Warn("ingest: graph save", "error", err, "record_id", r.ID)
	}
}
