// Package sqlite stores recorded ticks and candles in SQLite so bounded
// replays and backtests can run over them later.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"signalengine/internal/model"
)

const (
	defaultBatchSize  = 500
	defaultFlushDelay = 200 * time.Millisecond
)

// Store is a single-writer SQLite tick and candle store. It implements
// model.TickStore.
type Store struct {
	db  *sql.DB
	log *slog.Logger

	// OnCommit, when set, is called after every committed batch.
	OnCommit func(n int, took time.Duration)
}

var _ model.TickStore = (*Store)(nil)

// Open opens (or creates) the database at path with WAL mode and the schema.
func Open(path string) (*Store, error) {
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
	log := slog.Default().With("component", "sqlite")
	log.Info("opened tick store", "path", path)
	return &Store{db: db, log: log}, nil
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS tick_data (
			id       INTEGER PRIMARY KEY AUTOINCREMENT,
			exchange TEXT    NOT NULL,
			token    TEXT    NOT NULL,
			ts_ms    INTEGER NOT NULL,
			price    INTEGER NOT NULL,
			qty      INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_tick_data_instrument_ts ON tick_data (exchange, token, ts_ms);

		CREATE TABLE IF NOT EXISTS candles (
			exchange    TEXT    NOT NULL,
			token       TEXT    NOT NULL,
			tf          INTEGER NOT NULL,
			ts          INTEGER NOT NULL,
			open        INTEGER NOT NULL,
			high        INTEGER NOT NULL,
			low         INTEGER NOT NULL,
			close       INTEGER NOT NULL,
			volume      INTEGER,
			ticks_count INTEGER,
			PRIMARY KEY (exchange, token, tf, ts)
		);
	`)
	return err
}

// SaveTicks inserts ticks in a single transaction.
func (s *Store) SaveTicks(ctx context.Context, ticks []model.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	return s.inTx(ctx, `INSERT INTO tick_data (exchange, token, ts_ms, price, qty) VALUES (?, ?, ?, ?, ?)`,
		len(ticks), func(stmt *sql.Stmt, i int) error {
			t := ticks[i]
			_, err := stmt.ExecContext(ctx, t.Exchange, t.Token, t.TickTS.UnixMilli(), t.Price, t.Qty)
			return err
		})
}

// SaveCandles upserts candles in a single transaction.
func (s *Store) SaveCandles(ctx context.Context, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	return s.inTx(ctx, `
		INSERT OR REPLACE INTO candles (exchange, token, tf, ts, open, high, low, close, volume, ticks_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		len(candles), func(stmt *sql.Stmt, i int) error {
			c := candles[i]
			_, err := stmt.ExecContext(ctx, c.Exchange, c.Token, c.TF, c.TS.Unix(),
				c.Open, c.High, c.Low, c.Close, c.Volume, c.TicksCount)
			return err
		})
}

func (s *Store) inTx(ctx context.Context, query string, n int, exec func(*sql.Stmt, int) error) error {
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if err := exec(stmt, i); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if s.OnCommit != nil {
		s.OnCommit(n, time.Since(start))
	}
	return nil
}

// Run reads tick batches from tickCh and inserts them in batched
// transactions. It flushes every defaultBatchSize ticks or every
// defaultFlushDelay, whichever comes first, and returns when ctx is
// cancelled or tickCh is closed.
func (s *Store) Run(ctx context.Context, tickCh <-chan []model.Tick) {
	batch := make([]model.Tick, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// The run context may already be cancelled; the final flush must still land.
		if err := s.SaveTicks(context.WithoutCancel(ctx), batch); err != nil {
			s.log.Error("tick batch insert failed", "ticks", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case ticks, ok := <-tickCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ticks...)
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

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
