package app

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/guidoenr/blowcounter/internal/blow"
	"github.com/sirupsen/logrus"
)

// history appends diagnostic records to a CSV file when a path is given and
// counts rows since the last clear. Each run is preceded by a "# run" comment
// line and the column header.
type history struct {
	mu      sync.Mutex
	file    *os.File
	w       *csv.Writer
	rows    int
	runID   string
	started time.Time
	log     logrus.FieldLogger
}

func newHistory(path string, logger logrus.FieldLogger) (*history, error) {
	h := &history{log: logger}
	if path == "" {
		return h, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open history file: %w", err)
	}
	h.file = f
	h.w = csv.NewWriter(f)
	return h, nil
}

// begin marks the start of a run in the file.
func (h *history) begin(runID string, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runID = runID
	h.started = at
	h.writeRunHeader()
}

func (h *history) writeRunHeader() {
	if h.file == nil {
		return
	}
	if _, err := fmt.Fprintf(h.file, "# run %s %s\n", h.runID, h.started.Format(time.RFC3339)); err != nil {
		h.log.WithError(err).Warn("history write failed")
		return
	}
	h.writeRow(blow.CSVHeader)
}

// add appends one record.
func (h *history) add(r blow.Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rows++
	if h.file != nil {
		h.writeRow(r.CSVFields())
	}
}

func (h *history) writeRow(fields []string) {
	if err := h.w.Write(fields); err != nil {
		h.log.WithError(err).Warn("history write failed")
		return
	}
	h.w.Flush()
	if err := h.w.Error(); err != nil {
		h.log.WithError(err).Warn("history flush failed")
	}
}

// clear drops every record, truncating the file. A run in progress gets a
// fresh header.
func (h *history) clear() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rows = 0
	if h.file == nil {
		return nil
	}
	if err := h.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate history: %w", err)
	}
	if h.runID != "" {
		h.writeRunHeader()
	}
	return nil
}

// end forgets the current run.
func (h *history) end() {
	h.mu.Lock()
	h.runID = ""
	h.mu.Unlock()
}

// Len returns the number of rows recorded since the last clear.
func (h *history) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rows
}

func (h *history) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.file == nil {
		return nil
	}
	h.w.Flush()
	err := h.file.Close()
	h.file = nil
	return err
}
