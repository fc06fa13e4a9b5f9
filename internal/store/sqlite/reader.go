package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"gapsignal/internal/model"
)

// Reader provides read-only access to the archive.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	return &Reader{db: db}, nil
}

// ReadBars returns bars for symbol with period_start > after, oldest first.
func (r *Reader) ReadBars(ctx context.Context, symbol string, after int64) ([]model.Bar, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT symbol, period_start, ts, open, high, low, close, volume
		FROM bars
		WHERE symbol = ? AND period_start > ?
		ORDER BY period_start ASC
	`, symbol, after)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		var open, high, low, cl, vol string
		if err := rows.Scan(&b.Symbol, &b.PeriodStart, &b.Timestamp, &open, &high, &low, &cl, &vol); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		for _, f := range []struct {
			src string
			dst *decimal.Decimal
		}{{open, &b.Open}, {high, &b.High}, {low, &b.Low}, {cl, &b.Close}, {vol, &b.Volume}} {
			if *f.dst, err = decimal.NewFromString(f.src); err != nil {
				return nil, fmt.Errorf("sqlite decode bar %s: %w", b.Key(), err)
			}
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// ReadSignals returns all stored signals for symbol, oldest first.
func (r *Reader) ReadSignals(ctx context.Context, symbol string) ([]model.Signal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT data FROM signals WHERE symbol = ? ORDER BY id ASC`, symbol)
	if err != nil {
		return nil, fmt.Errorf("sqlite query signals: %w", err)
	}
	defer rows.Close()

	var out []model.Signal
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("sqlite scan signals: %w", err)
		}
		var sig model.Signal
		if err := json.Unmarshal([]byte(data), &sig); err != nil {
			return nil, fmt.Errorf("sqlite decode signal: %w", err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

// Close releases the connection.
func (r *Reader) Close() error {
	return r.db.Close()
}
