package extract

import (
	"context"

	"github.com/joseph-ayodele/medsummary/constants"
	"github.com/joseph-ayodele/medsummary/internal/ocr"
)

// NativeParser reads the embedded text layer of a PDF.
type NativeParser interface {
	Parse(ctx context.Context, path string) (NativeText, error)
}

type NativeText struct {
	Text  string
	Pages int
}

// OCREngine recognises text from rendered pages.
type OCREngine interface {
	Recognize(ctx context.Context, path string) (ocr.Result, error)
}

// ExtractedText is the output of a text extraction. Text is never nil-like; it may be empty.
type ExtractedText struct {
	Text       string
	PageCount  int
	Method     constants.ExtractionMethod
	Confidence []float64 // per page, OCR only
	Warnings   []string
}
