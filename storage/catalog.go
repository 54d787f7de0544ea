package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aluiziolira/go-tululu-books/models"
	"github.com/aluiziolira/go-tululu-books/parser"
	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCatalogBatchSize = 16

var (
	// ErrCatalogClosed is returned when Add is called after Close.
	ErrCatalogClosed = errors.New("catalog: closed")
)

// OutputWriter defines the interface for catalog output.
type OutputWriter interface {
	Write(books []*models.Book) error
	Close() error
	Validate() error
}

// Catalog validates, de-duplicates and batches book records for an
// OutputWriter. A batch restarted from its first id re-adds books it has
// already seen; those are dropped so each id appears once.
type Catalog struct {
	writer    OutputWriter
	batchSize int
	batch     []*models.Book

	seen *lru.Cache[int, struct{}]

	metrics catalogMetrics

	mu     sync.Mutex
	closed bool
}

// NewCatalog builds a catalog remembering up to historySize ids.
func NewCatalog(writer OutputWriter, historySize, batchSize int) (*Catalog, error) {
	if writer == nil {
		return nil, fmt.Errorf("catalog writer is nil")
	}
	if batchSize <= 0 {
		batchSize = defaultCatalogBatchSize
	}
	seen, err := lru.New[int, struct{}](historySize)
	if err != nil {
		return nil, fmt.Errorf("create catalog history: %w", err)
	}
	return &Catalog{
		writer:    writer,
		batchSize: batchSize,
		batch:     make([]*models.Book, 0, batchSize),
		seen:      seen,
		metrics:   newCatalogMetrics(),
	}, nil
}

// Add queues book for writing, flushing once a full batch is pending.
// Invalid and already cataloged books are counted and skipped.
func (c *Catalog) Add(book *models.Book) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrCatalogClosed
	}
	if err := parser.ValidateBook(book); err != nil {
		c.metrics.addSkipped("invalid_record")
		return nil
	}
	if found, _ := c.seen.ContainsOrAdd(book.ID, struct{}{}); found {
		c.metrics.addSkipped("duplicate_id")
		return nil
	}

	c.batch = append(c.batch, book)
	c.metrics.added++
	if len(c.batch) >= c.batchSize {
		return c.flushLocked()
	}
	return nil
}

// Flush writes any pending records.
func (c *Catalog) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked()
}

// Validate flushes pending records and checks that the output holds them.
func (c *Catalog) Validate() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrCatalogClosed
	}
	if err := c.flushLocked(); err != nil {
		return err
	}
	return c.writer.Validate()
}

// Close flushes pending records and closes the writer.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	flushErr := c.flushLocked()
	closeErr := c.writer.Close()
	return errors.Join(flushErr, closeErr)
}

// Len reports how many distinct books were accepted.
func (c *Catalog) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int(c.metrics.added)
}

// GetMetrics returns a snapshot of the internal counters.
func (c *Catalog) GetMetrics() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics.snapshot()
}

func (c *Catalog) flushLocked() error {
	if len(c.batch) == 0 {
		return nil
	}
	if err := c.writer.Write(c.batch); err != nil {
		return fmt.Errorf("write catalog batch: %w", err)
	}
	c.metrics.flushes++
	c.batch = make([]*models.Book, 0, c.batchSize)
	return nil
}

type catalogMetrics struct {
	added   int64
	flushes int64
	skipped map[string]int
}

func newCatalogMetrics() catalogMetrics {
	return catalogMetrics{
		skipped: make(map[string]int),
	}
}

func (m *catalogMetrics) addSkipped(kind string) {
	m.skipped[kind]++
}

func (m *catalogMetrics) snapshot() map[string]interface{} {
	copySkipped := make(map[string]int, len(m.skipped))
	for k, v := range m.skipped {
		copySkipped[k] = v
	}

	return map[string]interface{}{
		"cataloged_books": m.added,
		"flushes":         m.flushes,
		"skipped_records": copySkipped,
	}
}
