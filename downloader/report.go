package downloader

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aluiziolira/go-tululu-books/models"
	"github.com/schollz/progressbar/v3"
)

// Reporter receives progress events from a Runner.
type Reporter interface {
	Start(total int)
	BookDone(outcome models.Outcome)
	Restart(wait time.Duration, err error)
	Finish(result *models.RunResult)
}

// NopReporter discards every event.
type NopReporter struct{}

func (NopReporter) Start(int)                    {}
func (NopReporter) BookDone(models.Outcome)      {}
func (NopReporter) Restart(time.Duration, error) {}
func (NopReporter) Finish(*models.RunResult)     {}

// ConsoleReporter prints each book's title, genres and reader comments.
type ConsoleReporter struct {
	w io.Writer
}

// NewConsoleReporter writes to w.
func NewConsoleReporter(w io.Writer) *ConsoleReporter {
	return &ConsoleReporter{w: w}
}

func (c *ConsoleReporter) Start(total int) {}

func (c *ConsoleReporter) BookDone(outcome models.Outcome) {
	switch outcome.Kind {
	case models.OutcomeSuccess:
		book := outcome.Book
		fmt.Fprintf(c.w, "Title: %s\n", book.Title)
		fmt.Fprintf(c.w, "Author: %s\n", book.Author)
		if len(book.Genres) > 0 {
			fmt.Fprintf(c.w, "Genres: %s\n", strings.Join(book.Genres, ", "))
		}
		for _, comment := range book.Comments {
			fmt.Fprintf(c.w, "  - %s\n", comment)
		}
		fmt.Fprintln(c.w)
	case models.OutcomeNotFound:
		fmt.Fprintf(c.w, "Book %d not found, skipped\n\n", outcome.BookID)
	default:
		fmt.Fprintf(c.w, "Book %d skipped: %v\n\n", outcome.BookID, outcome.Err)
	}
}

func (c *ConsoleReporter) Restart(wait time.Duration, err error) {
	fmt.Fprintf(c.w, "Connection lost (%v), restarting in %s\n\n", err, wait)
}

func (c *ConsoleReporter) Finish(*models.RunResult) {}

// ProgressReporter renders a progress bar over the id range. The bar starts
// over when the batch restarts.
type ProgressReporter struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

// NewProgressReporter draws on w.
func NewProgressReporter(w io.Writer) *ProgressReporter {
	return &ProgressReporter{w: w}
}

func (p *ProgressReporter) Start(total int) {
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionSetDescription("downloading"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetPredictTime(false),
	)
}

func (p *ProgressReporter) BookDone(outcome models.Outcome) {
	if p.bar == nil {
		return
	}
	p.bar.Describe(fmt.Sprintf("book %d %s", outcome.BookID, outcome.Kind))
	_ = p.bar.Add(1)
}

func (p *ProgressReporter) Restart(wait time.Duration, _ error) {
	if p.bar == nil {
		return
	}
	p.bar.Reset()
	p.bar.Describe(fmt.Sprintf("connection lost, restarting in %s", wait))
}

func (p *ProgressReporter) Finish(*models.RunResult) {
	if p.bar == nil {
		return
	}
	_ = p.bar.Finish()
	fmt.Fprintln(p.w)
}
