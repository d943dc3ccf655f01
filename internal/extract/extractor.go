// Package extract turns a stored PDF into plain text, preferring the embedded
// text layer and falling back to OCR for scanned documents.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/joseph-ayodele/medsummary/constants"
	"github.com/joseph-ayodele/medsummary/internal/common"
	"github.com/joseph-ayodele/medsummary/internal/ocr"
)

// MinNativeChars is the trimmed text length below which the native layer is treated as empty.
const MinNativeChars = 50

type Extractor struct {
	native NativeParser
	ocr    OCREngine
	logger *slog.Logger
}

func NewExtractor(native NativeParser, engine OCREngine, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if native == nil {
		native = PDFParser{}
	}
	return &Extractor{native: native, ocr: engine, logger: logger}
}

// Extract returns the document text. It fails with common.ErrExtraction only when
// no usable text could be obtained from either source.
func (e *Extractor) Extract(ctx context.Context, path string, forceOCR bool) (ExtractedText, error) {
	log := common.LoggerWith(ctx, e.logger)
	start := time.Now()

	if forceOCR {
		log.Info("extract.ocr.forced")
		res, err := e.runOCR(ctx, path)
		if err != nil {
			return ExtractedText{}, extractionError("forced ocr", err)
		}
		return res, nil
	}

	nt, nerr := e.native.Parse(ctx, path)
	if nerr == nil {
		text := ocr.Normalize(nt.Text)
		n := utf8.RuneCountInString(strings.TrimSpace(text))
		if n >= MinNativeChars {
			log.Info("extract.native.ok", "pages", nt.Pages, "text_len", n, "elapsed_ms", time.Since(start).Milliseconds())
			return ExtractedText{Text: text, PageCount: nt.Pages, Method: constants.ExtractionNative}, nil
		}
		log.Info("extract.native.short_text", "pages", nt.Pages, "text_len", n, "threshold", MinNativeChars)

		res, err := e.runOCR(ctx, path)
		if err != nil {
			// The text layer did parse; keep what little it had rather than failing the job.
			log.Warn("extract.ocr.failed_keep_native", "error", err)
			return ExtractedText{
				Text:      text,
				PageCount: nt.Pages,
				Method:    constants.ExtractionNative,
				Warnings:  []string{fmt.Sprintf("ocr fallback failed: %v", err)},
			}, nil
		}
		return res, nil
	}

	log.Warn("extract.native.failed", "error", nerr)
	res, err := e.runOCR(ctx, path)
	if err != nil {
		return ExtractedText{}, extractionError("native parse and ocr", errors.Join(nerr, err))
	}
	res.Warnings = append(res.Warnings, fmt.Sprintf("native parse failed: %v", nerr))
	return res, nil
}

func (e *Extractor) runOCR(ctx context.Context, path string) (ExtractedText, error) {
	if e.ocr == nil {
		return ExtractedText{}, errors.New("ocr engine not configured")
	}
	r, err := e.ocr.Recognize(ctx, path)
	if err != nil {
		return ExtractedText{}, err
	}
	return ExtractedText{
		Text:       r.Text,
		PageCount:  r.Pages,
		Method:     constants.ExtractionOCR,
		Confidence: r.Confidence,
		Warnings:   r.Warnings,
	}, nil
}

func extractionError(stage string, cause error) error {
	return fmt.Errorf("%w: %s: %w", common.ErrExtraction, stage, cause)
}
