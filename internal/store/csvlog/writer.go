// Package csvlog writes finalized bars to an append-only CSV file.
//
// The file is truncated and re-headered when the writer is created, then one
// row is appended per finalized bar:
//
//	Time,Open,High,Low,Close,Volume
//	2023-11-15 03:43:20,95,110,94,105,12
//
// Time is the bar's snapshot timestamp rendered in IST (UTC+05:30).
package csvlog

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gapsignal/internal/model"
)

// Header is the first line of every log file.
var Header = []string{"Time", "Open", "High", "Low", "Close", "Volume"}

// Writer appends bars to a CSV file. Every row is flushed before Record
// returns so the file is always complete up to the last finalized bar.
type Writer struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *csv.Writer
}

// New creates (or truncates) the file at path and writes the header.
func New(path string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("csvlog: mkdir: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csvlog: create: %w", err)
	}

	w := &Writer{path: path, f: f, w: csv.NewWriter(f)}
	if err := w.write(Header); err != nil {
		f.Close()
		return nil, fmt.Errorf("csvlog: header: %w", err)
	}

	slog.Info("csv log initialized", slog.String("path", path))
	return w, nil
}

// Path returns the file path.
func (w *Writer) Path() string { return w.path }

// Record appends one row for bar.
func (w *Writer) Record(_ context.Context, bar model.Bar) error {
	row := []string{
		bar.LocalTime(),
		bar.Open.String(),
		bar.High.String(),
		bar.Low.String(),
		bar.Close.String(),
		bar.Volume.String(),
	}
	if err := w.write(row); err != nil {
		return fmt.Errorf("csvlog: append %s: %w", bar.Key(), err)
	}
	return nil
}

func (w *Writer) write(row []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.w.Write(row); err != nil {
		return err
	}
	w.w.Flush()
	return w.w.Error()
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.w.Flush()
	if err := w.w.Error(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}
