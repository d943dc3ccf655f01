package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFParser extracts the text layer with ledongthuc/pdf.
type PDFParser struct{}

// Parse returns the plain text of every page. Malformed documents can make the
// underlying reader panic; that is reported as an ordinary error.
func (PDFParser) Parse(ctx context.Context, path string) (out NativeText, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parse panic: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return NativeText{}, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	total := r.NumPage()
	pages := make([]string, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return NativeText{}, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return NativeText{}, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, text)
	}
	return NativeText{Text: strings.Join(pages, "\f"), Pages: total}, nil
}
