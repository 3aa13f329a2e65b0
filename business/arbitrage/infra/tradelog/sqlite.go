// Package tradelog persists execution history in a local SQLite file.
// The log is the audit trail behind daily P&L and the status view.
package tradelog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/fd1az/dex-arb-engine/business/arbitrage/domain"
	"github.com/fd1az/dex-arb-engine/internal/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	opportunity_id  TEXT NOT NULL,
	executed_at     TIMESTAMP NOT NULL,
	pair            TEXT NOT NULL,
	buy_venue       TEXT NOT NULL,
	sell_venue      TEXT NOT NULL,
	path            TEXT NOT NULL,
	provider        TEXT NOT NULL DEFAULT '',
	trade_size_usd  TEXT NOT NULL,
	expected_usd    TEXT NOT NULL,
	realized_usd    TEXT NOT NULL,
	tx_hash         TEXT NOT NULL DEFAULT '',
	gas_used        INTEGER NOT NULL DEFAULT 0,
	success         INTEGER NOT NULL,
	failure_reason  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_trades_executed_at ON trades(executed_at);
`

// SQLiteLog implements the arbitrage TradeLog port over a single
// database file.
type SQLiteLog struct {
	db     *sql.DB
	logger logger.LoggerInterface
}

// Open opens (or creates) the trade log at path and applies the
// schema.
func Open(path string, log logger.LoggerInterface) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open trade log: %w", err)
	}

	// One writer at a time keeps SQLite's locking honest.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply trade log schema: %w", err)
	}

	return &SQLiteLog{db: db, logger: log}, nil
}

// Record appends one trade outcome.
func (l *SQLiteLog) Record(ctx context.Context, trade domain.TradeRecord) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO trades (
			opportunity_id, executed_at, pair, buy_venue, sell_venue,
			path, provider, trade_size_usd, expected_usd, realized_usd,
			tx_hash, gas_used, success, failure_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.OpportunityID,
		trade.Timestamp.UTC(),
		trade.Pair,
		trade.BuyVenue,
		trade.SellVenue,
		string(trade.Path),
		string(trade.Provider),
		trade.TradeSizeUSD.String(),
		trade.ExpectedUSD.String(),
		trade.RealizedUSD.String(),
		trade.TxHash,
		int64(trade.GasUsed),
		trade.Success,
		trade.FailureReason,
	)
	if err != nil {
		return fmt.Errorf("record trade: %w", err)
	}
	return nil
}

// DailyPnl sums realized P&L for trades executed since midnight UTC.
func (l *SQLiteLog) DailyPnl(ctx context.Context) (decimal.Decimal, error) {
	dayStart := time.Now().UTC().Truncate(24 * time.Hour)

	rows, err := l.db.QueryContext(ctx,
		`SELECT realized_usd FROM trades WHERE executed_at >= ?`, dayStart)
	if err != nil {
		return decimal.Zero, fmt.Errorf("daily pnl query: %w", err)
	}
	defer rows.Close()

	sum := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, fmt.Errorf("daily pnl scan: %w", err)
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			l.logger.Warn(ctx, "unparseable realized_usd in trade log", "value", raw)
			continue
		}
		sum = sum.Add(v)
	}
	return sum, rows.Err()
}

// RecentTrades returns the latest trades, newest first.
func (l *SQLiteLog) RecentTrades(ctx context.Context, limit int) ([]domain.TradeRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, opportunity_id, executed_at, pair, buy_venue, sell_venue,
		       path, provider, trade_size_usd, expected_usd, realized_usd,
		       tx_hash, gas_used, success, failure_reason
		FROM trades ORDER BY executed_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent trades query: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeRecord
	for rows.Next() {
		var (
			trade               domain.TradeRecord
			id, gasUsed         int64
			path, provider      string
			size, expected      string
			realized            string
		)
		err := rows.Scan(
			&id, &trade.OpportunityID, &trade.Timestamp, &trade.Pair,
			&trade.BuyVenue, &trade.SellVenue, &path, &provider,
			&size, &expected, &realized,
			&trade.TxHash, &gasUsed, &trade.Success, &trade.FailureReason,
		)
		if err != nil {
			return nil, fmt.Errorf("recent trades scan: %w", err)
		}

		trade.ID = id
		trade.Path = domain.Path(path)
		trade.Provider = domain.FlashProvider(provider)
		trade.GasUsed = uint64(gasUsed)
		trade.TradeSizeUSD = mustDecimal(size)
		trade.ExpectedUSD = mustDecimal(expected)
		trade.RealizedUSD = mustDecimal(realized)
		out = append(out, trade)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (l *SQLiteLog) Close() error {
	return l.db.Close()
}

func mustDecimal(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}
