package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aluiziolira/go-tululu-books/models"
)

// MultiWriter fans every catalog batch out to several writers.
type MultiWriter struct {
	writers []OutputWriter
	mu      sync.Mutex
}

// NewMultiWriter writes to all of writers, in order.
func NewMultiWriter(writers ...OutputWriter) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// NewDualWriter writes the same catalog as CSV and as JSONL.
func NewDualWriter(csvFilename, jsonFilename string) (*MultiWriter, error) {
	csvWriter, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, err
	}
	jsonWriter, err := NewJSONWriter(jsonFilename)
	if err != nil {
		return nil, errors.Join(err, csvWriter.Close())
	}
	return NewMultiWriter(csvWriter, jsonWriter), nil
}

// Write stops at the first writer that fails.
func (mw *MultiWriter) Write(books []*models.Book) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	for i, w := range mw.writers {
		if err := w.Write(books); err != nil {
			return fmt.Errorf("catalog writer %d: %w", i, err)
		}
	}
	return nil
}

// Close closes every writer, even after a failure.
func (mw *MultiWriter) Close() error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	var errs []error
	for _, w := range mw.writers {
		errs = append(errs, w.Close())
	}
	return errors.Join(errs...)
}

func (mw *MultiWriter) Validate() error {
	var errs []error
	for _, w := range mw.writers {
		errs = append(errs, w.Validate())
	}
	return errors.Join(errs...)
}

// NewOutputWriter builds the catalog writer for format ("csv", "json" or
// "dual"). For "dual" the CSV and JSONL files share path's stem.
func NewOutputWriter(format, path string) (OutputWriter, error) {
	var (
		writer OutputWriter
		err    error
	)
	switch format {
	case "csv":
		writer, err = NewCSVWriter(path)
	case "json":
		writer, err = NewJSONWriter(path)
	case "dual":
		stem := strings.TrimSuffix(path, filepath.Ext(path))
		writer, err = NewDualWriter(stem+".csv", stem+".jsonl")
	default:
		return nil, fmt.Errorf("unsupported catalog format %q", format)
	}
	if err != nil {
		return nil, err
	}
	return writer, nil
}
