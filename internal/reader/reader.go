package reader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned when a file format is not supported.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// ErrParserUnavailable is returned when the extractor has no parsing capability.
var ErrParserUnavailable = errors.New("pdf parser unavailable")

// Separators used when flattening a document into a single text blob.
const (
	ItemSeparator = " "
	PageSeparator = "\n\n"
)

// Pages is an opened document whose text can be read page by page.
type Pages interface {
	// NumPages returns the number of pages in the document.
	NumPages() int
	// PageItems returns the text items of page n (1-based) in reading order.
	PageItems(n int) ([]string, error)
}

// Opener parses raw document bytes into Pages.
type Opener interface {
	Open(data []byte) (Pages, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(data []byte) (Pages, error)

// Open calls f(data).
func (f OpenerFunc) Open(data []byte) (Pages, error) { return f(data) }

// ExtractionError reports that a document could not be turned into text.
type ExtractionError struct {
	// Page is the 1-based page being read when the failure happened, 0 if the
	// document could not be opened.
	Page int
	Err  error
}

func (e *ExtractionError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("extract page %d: %v", e.Page, e.Err)
	}
	return fmt.Sprintf("extract document: %v", e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Page is the flattened text of one page.
type Page struct {
	Number int
	Text   string
}

// Extractor converts a binary document into one ordered text string.
type Extractor struct {
	opener Opener
}

// NewExtractor creates an Extractor backed by the given parsing capability.
func NewExtractor(opener Opener) *Extractor {
	return &Extractor{opener: opener}
}

// Extract returns the text of every page in ascending page order, each page's
// items joined by ItemSeparator and followed by PageSeparator. A document with
// no pages yields "". On failure no partial text is returned.
func (e *Extractor) Extract(ctx context.Context, data []byte) (string, error) {
	pages, err := e.ExtractPages(ctx, data)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, p := range pages {
		sb.WriteString(p.Text)
		sb.WriteString(PageSeparator)
	}
	return sb.String(), nil
}

// ExtractPages returns the flattened text of each page in page order.
func (e *Extractor) ExtractPages(ctx context.Context, data []byte) (pages []Page, err error) {
	if e == nil || e.opener == nil {
		return nil, &ExtractionError{Err: ErrParserUnavailable}
	}

	current := 0
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = &ExtractionError{Page: current, Err: fmt.Errorf("parser panic: %v", r)}
		}
	}()

	doc, err := e.opener.Open(data)
	if err != nil {
		return nil, &ExtractionError{Err: err}
	}

	n := doc.NumPages()
	pages = make([]Page, 0, n)
	for current = 1; current <= n; current++ {
		if err := ctx.Err(); err != nil {
			return nil, &ExtractionError{Page: current, Err: err}
		}
		items, err := doc.PageItems(current)
		if err != nil {
			return nil, &ExtractionError{Page: current, Err: err}
		}
		pages = append(pages, Page{
			Number: current,
			Text:   strings.Join(items, ItemSeparator),
		})
	}
	return pages, nil
}

// File is a document read from disk.
type File struct {
	// Path is the source file path
	Path string
	// Name is the base filename
	Name string
	// Data is the raw file content
	Data []byte
}

// LoadFile reads a PDF from the given path, refusing other formats and files
// larger than maxBytes (no limit when maxBytes <= 0).
func LoadFile(path string, maxBytes int64) (File, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".pdf" {
		return File{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("stat %q: %w", path, err)
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return File{}, fmt.Errorf("%w: %q is %d bytes, limit %d", ErrTooLarge, path, info.Size(), maxBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read file %q: %w", path, err)
	}
	return File{
		Path: path,
		Name: filepath.Base(path),
		Data: data,
	}, nil
}
