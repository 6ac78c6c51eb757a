package execution

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"signalengine/internal/model"
)

// Journal persists paper fills and strategy trade history to SQLite for
// analysis and audit.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS fills (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id    TEXT NOT NULL,
		strategy_id TEXT NOT NULL,
		action      TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		exchange    TEXT NOT NULL,
		txn         TEXT NOT NULL,
		qty         INTEGER NOT NULL,
		price       REAL NOT NULL,
		slippage    REAL DEFAULT 0,
		premium     REAL DEFAULT 0,
		reason      TEXT,
		filled_at   DATETIME NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_fills_strategy ON fills(strategy_id);
	CREATE INDEX IF NOT EXISTS idx_fills_filled_at ON fills(filled_at);

	CREATE TABLE IF NOT EXISTS trade_history (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		strategy_id TEXT NOT NULL,
		ts          DATETIME NOT NULL,
		action      TEXT NOT NULL,
		side        TEXT NOT NULL,
		price       REAL NOT NULL,
		qty         INTEGER NOT NULL,
		symbol      TEXT NOT NULL,
		order_id    TEXT,
		reason      TEXT,
		pnl         REAL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_history_strategy ON trade_history(strategy_id, ts);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("journal: opened trade journal", "path", dbPath)
	return &Journal{db: db}, nil
}

// RecordFill persists a paper fill.
func (j *Journal) RecordFill(ctx context.Context, f Fill) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO fills (order_id, strategy_id, action, symbol, exchange, txn, qty, price, slippage, premium, reason, filled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.OrderID,
		f.StrategyID,
		string(f.Action),
		f.Symbol,
		f.Exchange,
		string(f.Transaction),
		f.Qty,
		f.Price,
		f.Slippage,
		f.Premium,
		f.Reason,
		f.FilledAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// RecordTrade persists one trade-history entry.
func (j *Journal) RecordTrade(ctx context.Context, e model.TradeEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO trade_history (strategy_id, ts, action, side, price, qty, symbol, order_id, reason, pnl)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.StrategyID,
		e.Time.UTC().Format(time.RFC3339Nano),
		string(e.Action),
		string(e.Side),
		e.Price,
		e.Quantity,
		e.Symbol,
		e.OrderID,
		e.Reason,
		e.PnL,
	)
	return err
}

// Fills returns the last N fills, newest first.
func (j *Journal) Fills(ctx context.Context, limit int) ([]Fill, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT order_id, strategy_id, action, symbol, exchange, txn, qty, price, slippage, premium, reason, filled_at
		 FROM fills ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fills []Fill
	for rows.Next() {
		var (
			f                   Fill
			action, txn, filled string
		)
		if err := rows.Scan(&f.OrderID, &f.StrategyID, &action, &f.Symbol, &f.Exchange,
			&txn, &f.Qty, &f.Price, &f.Slippage, &f.Premium, &f.Reason, &filled); err != nil {
			return nil, err
		}
		f.Action = model.TradeAction(action)
		f.Transaction = model.TransactionType(txn)
		f.FilledAt, _ = time.Parse(time.RFC3339Nano, filled)
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// History returns a strategy's trade history, oldest first.
func (j *Journal) History(ctx context.Context, strategyID string) ([]model.TradeEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT strategy_id, ts, action, side, price, qty, symbol, order_id, reason, pnl
		 FROM trade_history WHERE strategy_id = ? ORDER BY id`, strategyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TradeEntry
	for rows.Next() {
		var (
			e                model.TradeEntry
			ts, action, side string
			orderID, reason  sql.NullString
		)
		if err := rows.Scan(&e.StrategyID, &ts, &action, &side, &e.Price, &e.Quantity,
			&e.Symbol, &orderID, &reason, &e.PnL); err != nil {
			return nil, err
		}
		e.Time, _ = time.Parse(time.RFC3339Nano, ts)
		e.Action = model.TradeAction(action)
		e.Side = model.Side(side)
		e.OrderID = orderID.String
		e.Reason = reason.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
