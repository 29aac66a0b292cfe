package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sony/gobreaker"

	"github.com/rickgao/paperstream/internal/events"
)

// AuditWriter consumes lifecycle events and writes them to stream_events.
type AuditWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	// Input from the event bus
	input *events.Subscription

	// Database
	db      DB
	breaker *gobreaker.CircuitBreaker

	// Batching
	batch   []eventRow
	batchMu sync.Mutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics WriterMetrics
}

// NewAuditWriter creates a new AuditWriter. input should be subscribed to
// events.LifecycleTypes.
func NewAuditWriter(cfg WriterConfig, input *events.Subscription, db DB, logger *slog.Logger) *AuditWriter {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultWriterConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize < cfg.BatchSize {
		cfg.BufferSize = cfg.BatchSize
	}

	w := &AuditWriter{
		cfg:    cfg,
		input:  input,
		db:     db,
		logger: logger,
		batch:  make([]eventRow, 0, cfg.BatchSize),
		ctx:    context.Background(),
	}
	w.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "audit-writer",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return w
}

// EnsureSchema creates the stream_events table if it does not exist.
func (w *AuditWriter) EnsureSchema(ctx context.Context) error {
	if _, err := w.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create stream_events: %w", err)
	}
	return nil
}

// Start begins consuming events and writing to the database.
func (w *AuditWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(2)
	go w.consumeLoop()
	go w.flushLoop()

	w.logger.Info("audit writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains pending events, flushes, and shuts down.
func (w *AuditWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping audit writer")

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("audit writer stop timed out")
	}

	// Events already queued are still written.
	for {
		ev, ok := w.input.TryReceive()
		if !ok {
			break
		}
		w.handleEvent(ev)
	}
	w.flush(ctx)

	w.logger.Info("audit writer stopped")
	return nil
}

// Stats returns current metrics.
func (w *AuditWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the subscription and accumulates batches.
func (w *AuditWriter) consumeLoop() {
	defer w.wg.Done()
	w.input.Run(w.ctx, w.handleEvent)
}

// flushLoop periodically flushes the batch.
func (w *AuditWriter) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush(w.ctx)
		}
	}
}

// handleEvent transforms and adds an event to the batch.
func (w *AuditWriter) handleEvent(ev events.Event) {
	row, err := transform(ev)
	if err != nil {
		w.logger.Warn("skipping unencodable event", "type", ev.Type, "error", err)
		return
	}

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

// flush writes the current batch to the database. On failure the rows go
// back to the front of the batch.
func (w *AuditWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]eventRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	_, err := w.breaker.Execute(func() (any, error) {
		return nil, w.batchInsert(ctx, batch)
	})
	if err != nil {
		w.batchMu.Lock()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			w.metrics.Rejected++
		} else {
			w.metrics.Errors++
			w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		}
		w.requeueLocked(batch)
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch))
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed stream events",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

// requeueLocked puts failed rows ahead of anything that arrived during the
// flush, dropping the oldest rows past BufferSize.
func (w *AuditWriter) requeueLocked(failed []eventRow) {
	merged := append(failed, w.batch...)
	if over := len(merged) - w.cfg.BufferSize; over > 0 {
		merged = merged[over:]
		w.metrics.Dropped += int64(over)
		w.logger.Warn("audit buffer full, dropping oldest events", "dropped", over)
	}
	w.batch = merged
}

// pending returns the number of unflushed rows.
func (w *AuditWriter) pending() int {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return len(w.batch)
}

// batchInsert inserts rows using pgx.Batch.
func (w *AuditWriter) batchInsert(ctx context.Context, rows []eventRow) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO stream_events (event_type, topic, occurred_at, detail)
			VALUES ($1, $2, $3, $4)
		`, r.EventType, r.Topic, r.OccurredAt, r.Detail)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}
