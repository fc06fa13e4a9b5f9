package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gapsignal/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/bars.db"
}

// Writer archives finalized bars and signals. Bars arrive once per period,
// so each write is its own statement; there is no batching.
type Writer struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir: %w", err)
		}
	}

	db, err := open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	slog.Info("sqlite archive opened", slog.String("path", cfg.DBPath))
	return &Writer{db: db}, nil
}

func open(path string) (*sql.DB, error) {
	return sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
}

// Prices are stored as decimal strings so nothing is rounded on the way in.
func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			symbol       TEXT    NOT NULL,
			period_start INTEGER NOT NULL,
			ts           INTEGER NOT NULL,
			open         TEXT    NOT NULL,
			high         TEXT    NOT NULL,
			low          TEXT    NOT NULL,
			close        TEXT    NOT NULL,
			volume       TEXT    NOT NULL,
			PRIMARY KEY (symbol, period_start)
		);

		CREATE TABLE IF NOT EXISTS signals (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol       TEXT    NOT NULL,
			strategy     TEXT    NOT NULL,
			direction    TEXT    NOT NULL,
			period_start INTEGER NOT NULL,
			ltp          TEXT    NOT NULL,
			data         TEXT    NOT NULL,
			created_at   INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);
	`)
	return err
}

// Record inserts a finalized bar. A bar for an already stored period replaces it.
func (w *Writer) Record(ctx context.Context, bar model.Bar) error {
	_, err := w.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO bars (symbol, period_start, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, bar.Symbol, bar.PeriodStart, bar.Timestamp,
		bar.Open.String(), bar.High.String(), bar.Low.String(), bar.Close.String(), bar.Volume.String())
	if err != nil {
		return fmt.Errorf("sqlite insert bar %s: %w", bar.Key(), err)
	}
	return nil
}

// RecordSignal stores an actionable signal with its full JSON payload.
func (w *Writer) RecordSignal(ctx context.Context, sig model.Signal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}

	_, err = w.db.ExecContext(ctx, `
		INSERT INTO signals (symbol, strategy, direction, period_start, ltp, data)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sig.Bar.Symbol, sig.Strategy, string(sig.Direction), sig.Bar.PeriodStart, sig.LTP.String(), string(data))
	if err != nil {
		return fmt.Errorf("sqlite insert signal: %w", err)
	}
	return nil
}

// LastPeriodStart returns the newest stored period for a symbol, 0 if none.
func (w *Writer) LastPeriodStart(ctx context.Context, symbol string) (int64, error) {
	var ts sql.NullInt64
	err := w.db.QueryRowContext(ctx,
		`SELECT MAX(period_start) FROM bars WHERE symbol = ?`, symbol,
	).Scan(&ts)
	if err != nil {
		return 0, err
	}
	if !ts.Valid {
		return 0, nil
	}
	return ts.Int64, nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
