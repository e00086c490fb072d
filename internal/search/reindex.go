package search

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/mekiki/internal/storage"
	"github.com/ashita-ai/mekiki/internal/telemetry"
)

// RowSource pages through catalog embedding rows by ascending row ID.
// Implemented by storage.DB.
type RowSource interface {
	ScanSearchRows(ctx context.Context, afterID int64, limit int) ([]storage.SearchRow, error)
}

// Upserter writes catalog points into the vector index.
type Upserter interface {
	Upsert(ctx context.Context, points []Point) error
}

// upsertConcurrency bounds in-flight Qdrant upserts per sync pass.
const upsertConcurrency = 4

// Reindexer keeps the Qdrant mirror in sync with the catalog by periodically
// scanning application_search and upserting every row. The catalog is
// written by an external import pipeline without an outbox, so a full
// cursor scan per interval is the consistency mechanism; upserts are
// idempotent and the scan holds no locks.
type Reindexer struct {
	source    RowSource
	index     Upserter
	logger    *slog.Logger
	interval  time.Duration
	batchSize int

	started    atomic.Bool
	cancelLoop context.CancelFunc
	done       chan struct{}
	once       sync.Once

	rowsIndexed  metric.Int64Counter
	syncDuration metric.Float64Histogram
}

// NewReindexer creates a reindexer. interval is the pause between full
// passes; batchSize is rows per scan page and per upsert call.
func NewReindexer(source RowSource, index Upserter, logger *slog.Logger, interval time.Duration, batchSize int) *Reindexer {
	meter := telemetry.Meter("mekiki/search")
	rows, _ := meter.Int64Counter("mekiki.reindex.rows",
		metric.WithDescription("Catalog rows mirrored into the vector index"),
	)
	dur, _ := meter.Float64Histogram("mekiki.reindex.sync.duration",
		metric.WithDescription("Duration of one full reindex pass (ms)"),
		metric.WithUnit("ms"),
	)
	return &Reindexer{
		source:       source,
		index:        index,
		logger:       logger,
		interval:     interval,
		batchSize:    batchSize,
		done:         make(chan struct{}),
		rowsIndexed:  rows,
		syncDuration: dur,
	}
}

// Start begins the background sync loop, running one pass immediately.
// Safe to call only once; subsequent calls are no-ops and log a warning.
func (r *Reindexer) Start(ctx context.Context) {
	if !r.started.CompareAndSwap(false, true) {
		r.logger.Warn("reindexer: Start called more than once, ignoring")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancelLoop = cancel
	go r.loop(loopCtx)
}

// Drain stops the sync loop and blocks until the in-flight pass finishes or
// the context expires.
func (r *Reindexer) Drain(ctx context.Context) {
	if r.cancelLoop != nil {
		r.cancelLoop()
	}
	select {
	case <-r.done:
	case <-ctx.Done():
		r.logger.Warn("reindexer: drain timed out")
	}
}

func (r *Reindexer) loop(ctx context.Context) {
	defer r.once.Do(func() { close(r.done) })

	r.runPass(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runPass(ctx)
		}
	}
}

func (r *Reindexer) runPass(ctx context.Context) {
	start := time.Now()
	n, err := r.SyncOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error("reindexer: sync pass failed", "error", err, "rows", n)
		}
		return
	}
	r.syncDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	r.logger.Info("reindexer: sync pass complete", "rows", n, "duration", time.Since(start))
}

// SyncOnce runs one full cursor scan, returning the number of rows upserted.
// Scan pages sequentially drive the cursor; upserts run concurrently behind
// it, bounded by upsertConcurrency.
func (r *Reindexer) SyncOnce(ctx context.Context) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(upsertConcurrency)

	var total int
	var afterID int64
	for {
		rows, err := r.source.ScanSearchRows(ctx, afterID, r.batchSize)
		if err != nil {
			_ = g.Wait()
			return total, err
		}
		if len(rows) == 0 {
			break
		}
		afterID = rows[len(rows)-1].SearchID
		total += len(rows)

		points := make([]Point, len(rows))
		for i, row := range rows {
			points[i] = Point{
				SearchID:  row.SearchID,
				AppID:     row.AppID,
				PriceText: row.PriceText,
				Embedding: row.Embedding.Slice(),
			}
		}
		g.Go(func() error {
			if err := r.index.Upsert(gctx, points); err != nil {
				return err
			}
			r.rowsIndexed.Add(gctx, int64(len(points)))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return total, err
	}
	return total, nil
}
