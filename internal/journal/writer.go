package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fund3/omega-go/internal/protocol"
)

// Direction of an envelope relative to this client.
const (
	DirectionOutbound = "out"
	DirectionInbound  = "in"
)

// Config holds journal writer settings.
type Config struct {
	// Instance tags every row with the writing client.
	Instance      string
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// Metrics counts journal writer activity.
type Metrics struct {
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Dropped   int64
	Errors    int64
}

// entry is one journaled envelope.
type entry struct {
	ID            uuid.UUID
	Instance      string
	Direction     string
	Kind          string
	CorrelationID uint64
	SessionID     string
	Payload       []byte
	RecordedAt    time.Time
}

// Writer batches envelope traffic into the omega_envelopes table. It
// implements the connection package's TrafficRecorder.
type Writer struct {
	cfg    Config
	logger *slog.Logger

	db *pgxpool.Pool

	input chan entry

	batch       []entry
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics Metrics
}

// NewWriter creates a journal writer.
func NewWriter(cfg Config, db *pgxpool.Pool, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		cfg:    cfg,
		db:     db,
		logger: logger,
		input:  make(chan entry, cfg.BufferSize),
		batch:  make([]entry, 0, cfg.BatchSize),
	}
}

// Start begins consuming recorded envelopes and writing to the database.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("journal writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping journal writer")

	if w.cancel != nil {
		w.cancel()
	}

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("journal writer stopped")
	case <-ctx.Done():
		w.logger.Warn("journal writer stop timed out")
	}

	// Final flush
	w.drainInput()
	w.flush()

	return nil
}

// Stats returns current metrics.
func (w *Writer) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// RecordOutbound journals an envelope written to the wire. Never blocks.
func (w *Writer) RecordOutbound(env protocol.Envelope) {
	w.record(DirectionOutbound, env)
}

// RecordInbound journals an envelope read from the wire. Never blocks.
func (w *Writer) RecordInbound(env protocol.Envelope) {
	w.record(DirectionInbound, env)
}

func (w *Writer) record(direction string, env protocol.Envelope) {
	e := transform(w.cfg.Instance, direction, env, time.Now())
	select {
	case w.input <- e:
	default:
		w.batchMu.Lock()
		w.metrics.Dropped++
		w.batchMu.Unlock()
	}
}

// transform converts an envelope to a journal entry. The payload is copied
// because the caller may reuse its buffer.
func transform(instance, direction string, env protocol.Envelope, now time.Time) entry {
	payload := make([]byte, len(env.Payload))
	copy(payload, env.Payload)
	return entry{
		ID:            uuid.New(),
		Instance:      instance,
		Direction:     direction,
		Kind:          env.Kind.String(),
		CorrelationID: env.CorrelationID,
		SessionID:     env.SessionID,
		Payload:       payload,
		RecordedAt:    now,
	}
}

// consumeLoop reads recorded entries and accumulates batches.
func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case e := <-w.input:
			w.handleEntry(e)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush()
		}
	}
}

func (w *Writer) handleEntry(e entry) {
	w.batchMu.Lock()
	w.batch = append(w.batch, e)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush()
	}
}

// drainInput moves anything still buffered into the batch after the consume
// loop has stopped.
func (w *Writer) drainInput() {
	for {
		select {
		case e := <-w.input:
			w.batchMu.Lock()
			w.batch = append(w.batch, e)
			w.batchMu.Unlock()
		default:
			return
		}
	}
}

// flush writes the current batch to the database.
func (w *Writer) flush() {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]entry, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed journal entries",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *Writer) batchInsert(rows []entry) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO omega_envelopes (id, instance, direction, kind, correlation_id, session_id, payload, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO NOTHING
		`, r.ID, r.Instance, r.Direction, r.Kind, int64(r.CorrelationID), r.SessionID, r.Payload, r.RecordedAt)
	}

	results := w.db.SendBatch(context.Background(), batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
