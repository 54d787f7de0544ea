package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aluiziolira/go-tululu-books/config"
	"github.com/aluiziolira/go-tululu-books/models"
	"github.com/aluiziolira/go-tululu-books/retry"
	"github.com/aluiziolira/go-tululu-books/scraper"
	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrTooManyFailures is returned when consecutive connection failures
// exceed the configured limit.
var ErrTooManyFailures = errors.New("too many consecutive connection failures")

// BookDownloader processes a single book id.
type BookDownloader interface {
	DownloadBook(ctx context.Context, id int) (models.Outcome, error)
}

// CatalogSink receives successfully downloaded books.
type CatalogSink interface {
	Add(book *models.Book) error
}

// FatalError carries the outcome that stopped a run.
type FatalError struct {
	Outcome models.Outcome
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("book %d: %s: %v", e.Outcome.BookID, e.Outcome.Kind, e.Outcome.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Outcome.Err
}

// Runner walks an id range through a BookDownloader. A connection failure
// waits per the retry policy and restarts the pass from the first id.
type Runner struct {
	downloader  BookDownloader
	policy      *retry.Policy
	logger      *slog.Logger
	metrics     *scraper.Metrics
	reporter    Reporter
	catalog     CatalogSink
	timer       backoff.Timer
	startID     int
	endID       int
	maxFailures int
	historySize int
}

// NewRunner builds a runner for cfg's range and limits.
func NewRunner(cfg *config.Config, downloader BookDownloader, policy *retry.Policy, logger *slog.Logger, metrics *scraper.Metrics) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		downloader:  downloader,
		policy:      policy,
		logger:      logger,
		metrics:     metrics,
		reporter:    NopReporter{},
		startID:     cfg.StartID,
		endID:       cfg.EndID,
		maxFailures: cfg.MaxConsecutiveFailures,
		historySize: cfg.HistoryCapacity(),
	}
}

// WithReporter sets where per-book progress goes.
func (r *Runner) WithReporter(reporter Reporter) *Runner {
	if reporter != nil {
		r.reporter = reporter
	}
	return r
}

// WithCatalog records every successful book in sink.
func (r *Runner) WithCatalog(sink CatalogSink) *Runner {
	r.catalog = sink
	return r
}

// WithTimer replaces the timer used for backoff waits.
func (r *Runner) WithTimer(timer backoff.Timer) *Runner {
	r.timer = timer
	return r
}

// Run processes every id in the range. It returns a non-nil error when the
// run stopped early: a persist failure, an unexpected error, the failure
// limit, or ctx cancellation. The result is filled in either way.
func (r *Runner) Run(ctx context.Context) (*models.RunResult, error) {
	result := &models.RunResult{
		StartID:   r.startID,
		EndID:     r.endID,
		StartTime: time.Now(),
	}

	size := max(r.historySize, r.endID-r.startID+1)
	history, err := lru.New[int, models.Outcome](size)
	if err != nil {
		return result, fmt.Errorf("create outcome history: %w", err)
	}

	r.reporter.Start(r.endID - r.startID + 1)
	r.logger.Info("batch started", "start_id", r.startID, "end_id", r.endID)

	pass := func() error {
		for id := r.startID; id <= r.endID; id++ {
			outcome, err := r.downloader.DownloadBook(ctx, id)
			result.Attempts++
			if err != nil {
				return r.interrupted(id, err)
			}
			if err := r.complete(outcome, history); err != nil {
				return backoff.Permanent(err)
			}
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		result.Restarts++
		r.metrics.IncRestart(wait)
		r.reporter.Restart(wait, err)
		if r.policy.State().Attempts == 1 {
			r.logger.Warn("connection is down", "error", err, "retry_in", wait.String())
		} else {
			r.logger.Warn("connection is still down", "error", err, "attempt", r.policy.State().Attempts, "retry_in", wait.String())
		}
	}

	runErr := backoff.RetryNotifyWithTimer(pass, backoff.WithContext(r.policy, ctx), notify, r.timer)

	r.collect(result, history)
	result.EndTime = time.Now()
	r.reporter.Finish(result)

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			r.logger.Info("batch interrupted", "error", runErr)
		} else {
			r.logger.Error("batch aborted", "error", runErr)
		}
		return result, runErr
	}
	r.logger.Info("batch finished",
		"downloaded", result.Downloaded,
		"not_found", result.NotFound,
		"failed", result.Failed,
		"restarts", result.Restarts,
	)
	return result, nil
}

// interrupted decides whether an error escaping a book restarts the pass.
func (r *Runner) interrupted(id int, err error) error {
	if !scraper.IsTransient(err) {
		return backoff.Permanent(fmt.Errorf("book %d: %w", id, err))
	}
	r.policy.Observe(err)
	if r.maxFailures > 0 && r.policy.State().Attempts >= r.maxFailures {
		return backoff.Permanent(fmt.Errorf("%w (%d): %w", ErrTooManyFailures, r.policy.State().Attempts+1, err))
	}
	return err
}

// complete handles a finished book. A persist failure is returned as fatal.
func (r *Runner) complete(outcome models.Outcome, history *lru.Cache[int, models.Outcome]) error {
	if !r.policy.Fresh() {
		r.logger.Warn("connection is restored", "after_attempts", r.policy.State().Attempts)
		r.policy.Reset()
	}

	history.Add(outcome.BookID, outcome)
	r.metrics.IncBook(outcome.Kind.String())
	r.reporter.BookDone(outcome)

	logger := r.logger.With("book_id", outcome.BookID)
	switch outcome.Kind {
	case models.OutcomeSuccess:
		logger.Info("book downloaded",
			"title", outcome.Book.Title,
			"author", outcome.Book.Author,
			"text_path", outcome.TextPath,
			"image_path", outcome.ImagePath,
		)
		if r.catalog != nil {
			if err := r.catalog.Add(outcome.Book); err != nil {
				return fmt.Errorf("catalog book %d: %w", outcome.BookID, err)
			}
		}
	case models.OutcomeNotFound:
		logger.Warn("redirect, book not found")
	case models.OutcomeParseFailure:
		logger.Error("book page unusable", "error", outcome.Err)
	case models.OutcomePersistFailure:
		logger.Error("cannot save book", "error", outcome.Err)
		return &FatalError{Outcome: outcome}
	}
	return nil
}

// collect fills the per-id totals from the latest outcome of every id.
func (r *Runner) collect(result *models.RunResult, history *lru.Cache[int, models.Outcome]) {
	ids := history.Keys()
	sort.Ints(ids)
	for _, id := range ids {
		outcome, ok := history.Get(id)
		if !ok {
			continue
		}
		result.Outcomes = append(result.Outcomes, outcome)
		switch outcome.Kind {
		case models.OutcomeSuccess:
			result.Downloaded++
		case models.OutcomeNotFound:
			result.NotFound++
		default:
			result.Failed++
		}
	}
}
