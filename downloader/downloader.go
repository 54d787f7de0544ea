// Package downloader fetches, parses and saves books one id at a time and
// drives whole id ranges through that step.
package downloader

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-tululu-books/config"
	"github.com/aluiziolira/go-tululu-books/models"
	"github.com/aluiziolira/go-tululu-books/parser"
	"github.com/aluiziolira/go-tululu-books/scraper"
)

const textEndpoint = "/txt.php"

// PageFetcher issues single GET requests.
type PageFetcher interface {
	Get(ctx context.Context, kind scraper.Resource, rawURL string, query url.Values) (*scraper.Page, error)
}

// FileSaver writes payloads below a destination root.
type FileSaver interface {
	Save(data []byte, dir, filename string) (string, error)
}

// Downloader handles one book id end to end.
type Downloader struct {
	fetcher   PageFetcher
	saver     FileSaver
	baseURL   string
	booksDir  string
	imagesDir string
	logger    *slog.Logger
	metrics   *scraper.Metrics
}

// NewDownloader wires a downloader for cfg's site and directories.
func NewDownloader(cfg *config.Config, fetcher PageFetcher, saver FileSaver, logger *slog.Logger, metrics *scraper.Metrics) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{
		fetcher:   fetcher,
		saver:     saver,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		booksDir:  cfg.BooksDir,
		imagesDir: cfg.ImagesDir,
		logger:    logger,
		metrics:   metrics,
	}
}

// DetailURL returns the book page address for id.
func (d *Downloader) DetailURL(id int) string {
	return fmt.Sprintf("%s/b%d/", d.baseURL, id)
}

// TextURL returns the text download endpoint; the id goes in the query.
func (d *Downloader) TextURL() string {
	return d.baseURL + textEndpoint
}

// DownloadBook fetches and stores book id.
//
// Expected per-book conditions come back as an Outcome with a nil error:
// a redirect is NotFound, an unusable page or truncated body is
// ParseFailure and a failed write is PersistFailure. The error result is
// reserved for failures the caller must handle, such as connection errors,
// which are returned unchanged.
func (d *Downloader) DownloadBook(ctx context.Context, id int) (models.Outcome, error) {
	logger := d.logger.With("book_id", id)

	detail, err := d.fetcher.Get(ctx, scraper.ResourceDetail, d.DetailURL(id), nil)
	if err != nil {
		if scraper.IsUnusable(err) {
			return models.ParseFailure(id, fmt.Errorf("detail page: %w", err)), nil
		}
		return models.Outcome{}, err
	}
	if detail.Redirected {
		logger.Debug("detail page redirected", "location", detail.URL)
		return models.NotFound(id), nil
	}

	book, err := parser.ParseBookPage(detail.Body, detail.URL)
	if err != nil {
		return models.ParseFailure(id, err), nil
	}
	book.ID = id

	text, err := d.fetcher.Get(ctx, scraper.ResourceText, d.TextURL(), url.Values{"id": {strconv.Itoa(id)}})
	if err != nil {
		if scraper.IsUnusable(err) {
			return models.ParseFailure(id, fmt.Errorf("text download: %w", err)), nil
		}
		return models.Outcome{}, err
	}
	if text.Redirected {
		logger.Debug("text download redirected", "location", text.URL)
		return models.NotFound(id), nil
	}

	textPath, err := d.saver.Save(text.Body, d.booksDir, TextFilename(id, book.Title))
	if err != nil {
		return models.PersistFailure(id, err), nil
	}
	d.metrics.AddBytes(d.booksDir, len(text.Body))

	var imagePath string
	image, err := d.fetchImage(ctx, logger, book.ImageURL)
	if err != nil {
		return models.Outcome{}, err
	}
	if image != nil {
		imagePath, err = d.saver.Save(image, d.imagesDir, ImageFilename(book.ImageURL, id))
		if err != nil {
			return models.PersistFailure(id, err), nil
		}
		d.metrics.AddBytes(d.imagesDir, len(image))
	}

	book.TextPath = textPath
	book.ImagePath = imagePath
	return models.Success(book, textPath, imagePath), nil
}

// fetchImage returns nil bytes when the site refuses the image; the book
// text is kept in that case.
func (d *Downloader) fetchImage(ctx context.Context, logger *slog.Logger, imageURL string) ([]byte, error) {
	image, err := d.fetcher.Get(ctx, scraper.ResourceImage, imageURL, nil)
	if err != nil {
		if scraper.IsUnusable(err) {
			logger.Warn("cover image unavailable", "url", imageURL, "error", err)
			return nil, nil
		}
		return nil, err
	}
	if image.Redirected {
		logger.Warn("cover image redirected", "url", imageURL, "location", image.URL)
		return nil, nil
	}
	if image.Body == nil {
		return []byte{}, nil
	}
	return image.Body, nil
}

// TextFilename is the unsanitized name the text of a book is saved under.
func TextFilename(id int, title string) string {
	return fmt.Sprintf("%d. %s.txt", id, title)
}

// ImageFilename returns the decoded last path segment of imageURL, or the
// id when the URL has none.
func ImageFilename(imageURL string, id int) string {
	parsed, err := url.Parse(imageURL)
	if err != nil {
		return strconv.Itoa(id)
	}
	name := parsed.Path[strings.LastIndex(parsed.Path, "/")+1:]
	if name == "" {
		return strconv.Itoa(id)
	}
	return name
}
