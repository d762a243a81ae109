// Package sqlite keeps an append-only audit journal of evaluated signals.
// The journal is never read back into the state store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"tickpulse/internal/metrics"
	"tickpulse/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// Journal is a single-goroutine SQLite writer with transaction batching.
type Journal struct {
	db      *sql.DB
	metrics *metrics.Metrics
	log     *slog.Logger
}

// Open opens (or creates) the journal database in WAL mode.
func Open(path string, m *metrics.Metrics, log *slog.Logger) (*Journal, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Journal{
		db:      db,
		metrics: m,
		log:     log.With(slog.String("component", "journal")),
	}, nil
}

// DB returns the underlying handle for health checks.
func (j *Journal) DB() *sql.DB { return j.db }

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS signals (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol          TEXT    NOT NULL,
			label           TEXT    NOT NULL,
			minute          INTEGER NOT NULL,
			direction       TEXT    NOT NULL,
			confidence      INTEGER NOT NULL,
			live_price      REAL    NOT NULL,
			predicted_price REAL    NOT NULL,
			timer           TEXT    NOT NULL,
			evaluated_at    INTEGER NOT NULL,
			UNIQUE (symbol, minute)
		);
		CREATE INDEX IF NOT EXISTS idx_signals_symbol_minute ON signals (symbol, minute DESC);
	`)
	return err
}

// Run reads events from ch and inserts them in batched transactions.
// Flushes every defaultBatchSize events or every defaultFlushDelay, whichever
// comes first. Pending rows are flushed when ctx is cancelled or ch closes.
func (j *Journal) Run(ctx context.Context, ch <-chan model.SignalEvent) {
	batch := make([]model.SignalEvent, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// ctx may already be cancelled; the final flush still has to land.
		if err := j.Write(context.Background(), batch); err != nil {
			j.metrics.SinkWriteErrors.WithLabelValues("sqlite").Inc()
			j.log.Error("journal batch insert failed", slog.Int("rows", len(batch)), slog.Any("error", err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case ev, ok := <-ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}
		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// Write inserts events in one transaction. A second event for an already
// journaled (symbol, minute) is ignored.
func (j *Journal) Write(ctx context.Context, events []model.SignalEvent) error {
	start := time.Now()
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO signals
			(symbol, label, minute, direction, confidence, live_price, predicted_price, timer, evaluated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, ev := range events {
		st := ev.State
		_, err := stmt.ExecContext(ctx, ev.Symbol, ev.Label, ev.Minute, string(st.Direction), st.Confidence,
			st.LivePrice, st.PredictedPrice, st.Timer, ev.At.UnixMilli())
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert %s minute %d: %w", ev.Symbol, ev.Minute, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	j.metrics.SQLiteCommitDur.Observe(time.Since(start).Seconds())
	j.log.Debug("journal committed", slog.Int("rows", len(events)), slog.Duration("took", time.Since(start)))
	return nil
}

// Recent returns up to limit journaled signals for symbol, newest first.
func (j *Journal) Recent(ctx context.Context, symbol string, limit int) ([]model.SignalEvent, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT symbol, label, minute, direction, confidence, live_price, predicted_price, timer, evaluated_at
		FROM signals
		WHERE symbol = ?
		ORDER BY minute DESC
		LIMIT ?
	`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query signals: %w", err)
	}
	defer rows.Close()

	out := make([]model.SignalEvent, 0, limit)
	for rows.Next() {
		var (
			ev  model.SignalEvent
			dir string
			at  int64
		)
		if err := rows.Scan(&ev.Symbol, &ev.Label, &ev.Minute, &dir, &ev.State.Confidence,
			&ev.State.LivePrice, &ev.State.PredictedPrice, &ev.State.Timer, &at); err != nil {
			return nil, fmt.Errorf("sqlite scan signals: %w", err)
		}
		ev.State.Direction = model.Direction(dir)
		ev.At = time.UnixMilli(at).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
