// Package models defines data structures for the downloader.
package models

import "time"

// Book is the bibliographic record parsed from a book detail page.
type Book struct {
	ID        int      `csv:"id" json:"id"`
	Title     string   `csv:"title" json:"title"`
	Author    string   `csv:"author" json:"author"`
	ImageURL  string   `csv:"image_url" json:"image_url"`
	Genres    []string `csv:"genres" json:"genres"`
	Comments  []string `csv:"comments" json:"comments"`
	TextPath  string   `csv:"text_path" json:"text_path,omitempty"`
	ImagePath string   `csv:"image_path" json:"image_path,omitempty"`
}

// OutcomeKind tags the result of processing one book id.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeNotFound
	OutcomeParseFailure
	OutcomePersistFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeParseFailure:
		return "parse_failure"
	case OutcomePersistFailure:
		return "persist_failure"
	default:
		return "unknown"
	}
}

// Outcome is produced once per book id per batch pass.
// Book, TextPath and ImagePath are set only for OutcomeSuccess;
// Err carries the reason for the failure kinds.
type Outcome struct {
	Kind      OutcomeKind
	BookID    int
	Book      *Book
	TextPath  string
	ImagePath string
	Err       error
}

// Success builds a successful outcome.
func Success(book *Book, textPath, imagePath string) Outcome {
	return Outcome{Kind: OutcomeSuccess, BookID: book.ID, Book: book, TextPath: textPath, ImagePath: imagePath}
}

// NotFound builds the outcome for an id the site redirected away from.
func NotFound(id int) Outcome {
	return Outcome{Kind: OutcomeNotFound, BookID: id}
}

// ParseFailure builds the outcome for a page that is not a book page.
func ParseFailure(id int, err error) Outcome {
	return Outcome{Kind: OutcomeParseFailure, BookID: id, Err: err}
}

// PersistFailure builds the outcome for a failed filesystem write.
func PersistFailure(id int, err error) Outcome {
	return Outcome{Kind: OutcomePersistFailure, BookID: id, Err: err}
}

// RunResult holds the overall result of a batch run. Outcomes holds the
// latest outcome per id, so books seen again after a restart count once;
// Attempts counts every per-book call including repeats.
type RunResult struct {
	StartID    int
	EndID      int
	StartTime  time.Time
	EndTime    time.Time
	Outcomes   []Outcome
	Downloaded int
	NotFound   int
	Failed     int
	Restarts   int
	Attempts   int
}
