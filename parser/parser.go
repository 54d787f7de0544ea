package parser

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-tululu-books/models"
)

const headingSeparator = "::"

// ErrMalformedPage is matched by every structural parse failure.
var ErrMalformedPage = errors.New("malformed book page")

// MalformedPageError names the page element that could not be extracted.
type MalformedPageError struct {
	Element string
	Reason  string
}

func (e *MalformedPageError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrMalformedPage, e.Element, e.Reason)
}

func (e *MalformedPageError) Unwrap() error {
	return ErrMalformedPage
}

func missing(element string) error {
	return &MalformedPageError{Element: element, Reason: "not found"}
}

// ParseBookPage extracts a book record from detail page markup. pageURL is
// the address the markup was served from; relative image sources are
// resolved against it. The returned book has no ID set.
func ParseBookPage(markup []byte, pageURL string) (*models.Book, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url %q: %w", pageURL, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("read markup: %w", err)
	}

	heading := doc.Find("h1").First()
	if heading.Length() == 0 {
		return nil, missing("heading")
	}
	title, author, err := SplitHeading(heading.Text())
	if err != nil {
		return nil, err
	}

	image := doc.Find("div.bookimage img").First()
	if image.Length() == 0 {
		return nil, missing("cover image")
	}
	src, ok := image.Attr("src")
	if !ok || strings.TrimSpace(src) == "" {
		return nil, &MalformedPageError{Element: "cover image", Reason: "has no src"}
	}
	imageURL, err := resolveImage(base, src)
	if err != nil {
		return nil, err
	}

	genreList := doc.Find("span.d_book").First()
	if genreList.Length() == 0 {
		return nil, missing("genre list")
	}
	genres := make([]string, 0)
	genreList.Find("a").Each(func(_ int, s *goquery.Selection) {
		if genre := normalizeSpace(s.Text()); genre != "" {
			genres = append(genres, genre)
		}
	})

	comments := make([]string, 0)
	doc.Find("div.texts").Each(func(_ int, s *goquery.Selection) {
		comment := s.Find("span.black").First()
		if comment.Length() == 0 {
			return
		}
		comments = append(comments, strings.TrimSpace(comment.Text()))
	})

	book := &models.Book{
		Title:    title,
		Author:   author,
		ImageURL: imageURL,
		Genres:   genres,
		Comments: comments,
	}
	if err := ValidateBook(book); err != nil {
		return nil, err
	}
	return book, nil
}

// SplitHeading splits a "Title :: Author" heading on its first separator
// and trims both halves.
func SplitHeading(heading string) (title, author string, err error) {
	before, after, found := strings.Cut(heading, headingSeparator)
	if !found {
		return "", "", &MalformedPageError{Element: "heading", Reason: fmt.Sprintf("has no %q separator", headingSeparator)}
	}
	return normalizeSpace(before), normalizeSpace(after), nil
}

// ValidateBook ensures the parser captured the required fields.
func ValidateBook(b *models.Book) error {
	if b == nil {
		return fmt.Errorf("book is nil")
	}
	if strings.TrimSpace(b.Title) == "" {
		return &MalformedPageError{Element: "heading", Reason: "has an empty title"}
	}
	if strings.TrimSpace(b.Author) == "" {
		return &MalformedPageError{Element: "heading", Reason: fmt.Sprintf("has an empty author for %s", b.Title)}
	}
	if strings.TrimSpace(b.ImageURL) == "" {
		return &MalformedPageError{Element: "cover image", Reason: fmt.Sprintf("missing for %s", b.Title)}
	}
	return nil
}

func resolveImage(base *url.URL, src string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(src))
	if err != nil {
		return "", &MalformedPageError{Element: "cover image", Reason: fmt.Sprintf("has invalid src %q", src)}
	}
	return base.ResolveReference(ref).String(), nil
}

// normalizeSpace turns non-breaking spaces into plain ones and trims.
func normalizeSpace(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\u00a0", " "))
}
