package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var ErrClosed = errors.New("dataset sink is closed")

// Sink persists rows.
type Sink interface {
	Write(Row) error
	Close() error
}

// flushEvery bounds how many rows can be lost if the process dies.
const flushEvery = 120

// CSVSink appends rows to a single file across sessions.
//
// The header is written only when the file is new (or empty), so reopening
// an existing dataset never duplicates it.
type CSVSink struct {
	file *os.File
	w    *csv.Writer

	created bool
	rows    int
}

func OpenCSV(path string) (*CSVSink, error) {
	if path == "" {
		return nil, fmt.Errorf("dataset path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dataset dir: %w", err)
		}
	}

	needHeader := true
	if st, err := os.Stat(path); err == nil && st.Size() > 0 {
		needHeader = false
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open dataset file: %w", err)
	}

	s := &CSVSink{file: file, w: csv.NewWriter(file), created: needHeader}
	if needHeader {
		if err := s.w.Write(Header); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("write header: %w", err)
		}
		s.w.Flush()
		if err := s.w.Error(); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("write header: %w", err)
		}
	}
	return s, nil
}

// Created reports whether this open wrote the header.
func (s *CSVSink) Created() bool { return s.created }

func (s *CSVSink) Rows() int { return s.rows }

func (s *CSVSink) Write(r Row) error {
	if s.file == nil {
		return ErrClosed
	}
	if err := s.w.Write(r.Record()); err != nil {
		return fmt.Errorf("append row: %w", err)
	}
	s.rows++
	if s.rows%flushEvery == 0 {
		s.w.Flush()
		if err := s.w.Error(); err != nil {
			return fmt.Errorf("flush rows: %w", err)
		}
	}
	return nil
}

func (s *CSVSink) Close() error {
	if s.file == nil {
		return nil
	}
	s.w.Flush()
	flushErr := s.w.Error()
	syncErr := s.file.Sync()
	closeErr := s.file.Close()
	s.file = nil

	if flushErr != nil {
		return fmt.Errorf("flush rows: %w", flushErr)
	}
	if syncErr != nil {
		return fmt.Errorf("sync dataset: %w", syncErr)
	}
	return closeErr
}
