package storage

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/aluiziolira/go-tululu-books/models"
)

// listSeparator joins genres and comments inside a single CSV cell.
const listSeparator = "; "

// CSVWriter writes catalog records to CSV.
type CSVWriter struct {
	file    *os.File
	writer  *csv.Writer
	records int
	mu      sync.Mutex
}

// NewCSVWriter truncates filename and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, &IOError{Op: "create csv file", Path: filename, Err: err}
	}

	writer := csv.NewWriter(f)
	header := []string{"id", "title", "author", "genres", "comments", "image_url", "text_path", "image_path"}
	if err := writer.Write(header); err != nil {
		f.Close()
		return nil, &IOError{Op: "write csv header", Path: filename, Err: err}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return nil, &IOError{Op: "flush csv header", Path: filename, Err: err}
	}

	return &CSVWriter{
		file:   f,
		writer: writer,
	}, nil
}

// Write appends books to the CSV output.
func (cw *CSVWriter) Write(books []*models.Book) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, book := range books {
		record := []string{
			strconv.Itoa(book.ID),
			book.Title,
			book.Author,
			strings.Join(book.Genres, listSeparator),
			strings.Join(book.Comments, listSeparator),
			book.ImageURL,
			book.TextPath,
			book.ImagePath,
		}
		if err := cw.writer.Write(record); err != nil {
			return &IOError{Op: "write csv record", Path: cw.file.Name(), Err: err}
		}
		cw.records++
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return &IOError{Op: "flush csv records", Path: cw.file.Name(), Err: err}
	}
	return nil
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return &IOError{Op: "flush csv writer", Path: cw.file.Name(), Err: err}
	}
	return cw.file.Close()
}

// Validate ensures the file has records besides the header.
func (cw *CSVWriter) Validate() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	info, err := cw.file.Stat()
	if err != nil {
		return &IOError{Op: "stat csv file", Path: cw.file.Name(), Err: err}
	}
	if cw.records == 0 || info.Size() <= 0 {
		return fmt.Errorf("csv file %s has no records", cw.file.Name())
	}
	return nil
}

// JSONWriter writes newline-delimited JSON records.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter truncates filename and prepares the encoder.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, &IOError{Op: "create json file", Path: filename, Err: err}
	}

	buffer := bufio.NewWriter(f)
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: encoder,
	}, nil
}

// Write appends books in JSONL format.
func (jw *JSONWriter) Write(books []*models.Book) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, book := range books {
		if err := jw.encoder.Encode(book); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}

	if err := jw.writer.Flush(); err != nil {
		return &IOError{Op: "flush json writer", Path: jw.file.Name(), Err: err}
	}

	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return &IOError{Op: "flush json writer", Path: jw.file.Name(), Err: err}
	}
	return jw.file.Close()
}

// Validate ensures the JSON file has data.
func (jw *JSONWriter) Validate() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	info, err := jw.file.Stat()
	if err != nil {
		return &IOError{Op: "stat json file", Path: jw.file.Name(), Err: err}
	}
	if info.Size() <= 0 {
		return fmt.Errorf("json file %s is empty", jw.file.Name())
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &IOError{Op: "create directory", Path: dir, Err: err}
	}
	return nil
}
