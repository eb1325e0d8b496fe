package reader

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrTooLarge is returned when a document exceeds the configured size limit.
var ErrTooLarge = errors.New("document too large")

// ErrNotPDF is returned when bytes cannot be read as a PDF document.
var ErrNotPDF = errors.New("not a readable PDF document")

// PDFOpener opens PDFs with ledongthuc/pdf and reads text runs per page.
var PDFOpener Opener = OpenerFunc(openPDF)

type pdfPages struct {
	r *pdf.Reader
}

func openPDF(data []byte) (Pages, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrNotPDF)
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	return &pdfPages{r: r}, nil
}

func (p *pdfPages) NumPages() int {
	return p.r.NumPage()
}

// PageItems returns the page's text runs, rows top to bottom and runs left to
// right within a row. Empty runs are dropped.
func (p *pdfPages) PageItems(n int) ([]string, error) {
	page := p.r.Page(n)
	if page.V.IsNull() {
		return nil, nil
	}

	rows, err := page.GetTextByRow()
	if err != nil {
		return nil, fmt.Errorf("read text rows: %w", err)
	}

	var items []string
	for _, row := range rows {
		for _, t := range row.Content {
			if t.S == "" {
				continue
			}
			items = append(items, t.S)
		}
	}
	return items, nil
}

// Info describes a PDF as seen by pdfcpu.
type Info struct {
	PageCount int
	Encrypted bool
	Size      int64
}

// Inspect validates data as a PDF using pdfcpu in relaxed mode and reports its
// page count. It is cheap enough to run at the upload boundary before text
// extraction.
func Inspect(data []byte) (info Info, err error) {
	if len(data) == 0 {
		return Info{}, fmt.Errorf("%w: empty input", ErrNotPDF)
	}

	defer func() {
		if r := recover(); r != nil {
			info = Info{}
			err = fmt.Errorf("%w: parser panic: %v", ErrNotPDF, r)
		}
	}()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrNotPDF, err)
	}
	if err := api.ValidateContext(ctx); err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrNotPDF, err)
	}

	return Info{
		PageCount: ctx.PageCount,
		Encrypted: ctx.Encrypt != nil,
		Size:      int64(len(data)),
	}, nil
}
