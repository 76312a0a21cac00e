package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lanebot/faqrag/engine/domain"
	"github.com/lanebot/faqrag/pkg/natsutil"
	"github.com/nats-io/nats.go"
)

const (
	// IngestSubject is the NATS subject for incoming rows.
	IngestSubject = "faq.ingest"
	// DLQSubject is the dead letter queue subject for failed rows.
	DLQSubject = "faq.ingest.dlq"
	// StatsSubject answers requests for the consumer's running totals.
	StatsSubject = "faq.ingest.stats"
	// MaxRetries before sending to DLQ.
	MaxRetries = 3
)

// RowMessage is one row queued for ingestion.
type RowMessage struct {
	Row    Row    `json:"row"`
	Origin string `json:"origin,omitempty"`
}

// dlqMessage is published to the DLQ on repeated failure.
type dlqMessage struct {
	Row     RowMessage `json:"row"`
	Error   string     `json:"error"`
	Retries int        `json:"retries"`
}

// PublishRows queues rows for the consumer and flushes the connection. Rows
// without an id get one here so redeliveries keep the same point ids.
func PublishRows(ctx context.Context, nc *nats.Conn, rows []Row, origin string) (int, error) {
	for i, row := range rows {
		if err := natsutil.Publish(ctx, nc, IngestSubject, RowMessage{Row: withRecordID(row), Origin: origin}); err != nil {
			return i, fmt.Errorf("ingest: publish row %d: %w", i, err)
		}
	}
	if err := nc.FlushWithContext(ctx); err != nil {
		return len(rows), fmt.Errorf("ingest: flush: %w", err)
	}
	return len(rows), nil
}

// withRecordID returns row unchanged when it carries an id, else a copy with
// a fresh one.
func withRecordID(row Row) Row {
	for k, v := range row {
		if domain.CanonicalColumn(k) == domain.FieldID && strings.TrimSpace(v) != "" {
			return row
		}
	}
	out := maps.Clone(row)
	if out == nil {
		out = Row{}
	}
	out[domain.FieldID] = uuid.NewString()
	return out
}

// FetchStats asks a running consumer for its totals.
func FetchStats(ctx context.Context, nc *nats.Conn) (domain.IngestReport, error) {
	return natsutil.Request[struct{}, domain.IngestReport](ctx, nc, StatsSubject, struct{}{})
}

// Consumer runs queued rows through the pipeline with retry and DLQ support.
type Consumer struct {
	nc       *nats.Conn
	pipeline func(context.Context, Row) (int, error)
	log      *slog.Logger
	subs     []*nats.Subscription
	started  time.Time

	mu    sync.Mutex
	stats domain.IngestReport
}

// StartConsumer subscribes to IngestSubject and StatsSubject.
func StartConsumer(nc *nats.Conn, deps Deps) (*Consumer, error) {
	deps = deps.withDefaults()
	prepare := NewPipeline(deps)
	store := NewStore(deps)

	c := &Consumer{
		nc:  nc,
		log: deps.Logger,
		pipeline: func(ctx context.Context, row Row) (int, error) {
			p, err := prepare(ctx, row).Unwrap()
			if err != nil {
				return 0, err
			}
			return store(ctx, p).Unwrap()
		},
		started: time.Now(),
	}

	sub, err := natsutil.Subscribe(nc, IngestSubject, c.handle, func(_ *nats.Msg, err error) {
		c.log.Error("ingest: unmarshal failed", "error", err)
	})
	if err != nil {
		return nil, err
	}
	c.subs = append(c.subs, sub)

	statsSub, err := natsutil.Respond(nc, StatsSubject, func(context.Context, struct{}) domain.IngestReport {
		return c.Stats()
	})
	if err != nil {
		sub.Unsubscribe()
		return nil, err
	}
	c.subs = append(c.subs, statsSub)
	return c, nil
}

// Stats returns running totals since start.
func (c *Consumer) Stats() domain.IngestReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Duration = time.Since(c.started)
	return s
}

// Stop unsubscribes from all subjects.
func (c *Consumer) Stop() error {
	var first error
	for _, s := range c.subs {
		if err := s.Unsubscribe(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (c *Consumer) handle(ctx context.Context, d natsutil.Delivery[RowMessage]) {
	if d.Retries == 0 {
		c.record(func(s *domain.IngestReport) { s.Rows++ })
	}

	points, err := c.pipeline(ctx, d.Value.Row)
	if err == nil {
		c.record(func(s *domain.IngestReport) { s.Points += points })
		c.log.Info("ingest: success", "points", points, "origin", d.Value.Origin)
		return
	}

	if IsSkippable(err) {
		c.record(func(s *domain.IngestReport) { s.Skipped++ })
		c.log.Warn("ingest: row skipped", "error", err, "origin", d.Value.Origin)
		return
	}

	retries := d.Retries + 1
	c.log.Error("ingest: pipeline failed", "error", err, "retry", retries)

	if retries >= MaxRetries {
		c.record(func(s *domain.IngestReport) { s.Failed++ })
		dlq := dlqMessage{Row: d.Value, Error: err.Error(), Retries: retries}
		if err := natsutil.Publish(ctx, c.nc, DLQSubject, dlq); err != nil {
			c.log.Error("ingest: DLQ publish failed", "error", err)
		}
		return
	}
	if err := natsutil.PublishRetry(ctx, c.nc, IngestSubject, d.Value, retries); err != nil {
		c.log.Error("ingest: retry publish failed", "error", err)
	}
}

func (c *Consumer) record(f func(*domain.IngestReport)) {
	c.mu.Lock()
	f(&c.stats)
	c.mu.Unlock()
}
