// Package ocr rasterises PDFs with pdftoppm and recognises each page with tesseract.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	TesseractLang string // default "eng"
	TessdataDir   string
	DPI           int // rasterization DPI, default 300
	MaxPages      int // 0 = no limit
	PSM           int // page segmentation mode; 0 leaves tesseract's default

	ScratchDir     string        // parent for page images; "" -> os.TempDir()
	CommandTimeout time.Duration // per tool invocation; 0 = ctx only
}

// Result is the recognised text of a whole document.
type Result struct {
	Text       string
	Pages      int
	Confidence []float64 // mean word confidence per page, 0..1
	Warnings   []string
	Duration   time.Duration
}

// ErrNoPages is returned when rasterisation produced no page images.
var ErrNoPages = errors.New("ocr: no pages rendered")

type Engine struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

type Option func(*Engine)

// WithRunner swaps the command runner, mainly for tests.
func WithRunner(r Runner) Option {
	return func(e *Engine) {
		if r != nil {
			e.runner = r
		}
	}
}

func NewEngine(cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	e := &Engine{cfg: cfg, runner: ExecRunner{Logger: logger, Timeout: cfg.CommandTimeout}, logger: logger}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Recognize renders every page of the PDF at path and runs tesseract on each.
// Pages that fail recognition are skipped with a warning; zero recognised pages is an error.
func (e *Engine) Recognize(ctx context.Context, path string) (Result, error) {
	start := time.Now()

	tmpDir, err := os.MkdirTemp(e.cfg.ScratchDir, "medsum-ocr-*")
	if err != nil {
		return Result{}, fmt.Errorf("ocr scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			e.logger.Warn("ocr.cleanup.failed", "dir", tmpDir, "error", err)
		}
	}()

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r 300 -png <in.pdf> <tmp/page>
	_, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm, "-r", strconv.Itoa(e.cfg.DPI), "-png", path, prefix)
	if err != nil {
		return Result{Warnings: []string{strings.TrimSpace(string(errb))}}, fmt.Errorf("pdftoppm: %w", err)
	}

	// prefix-1.png, prefix-2.png, ... (zero padded for long documents)
	images, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(images)
	if e.cfg.MaxPages > 0 && len(images) > e.cfg.MaxPages {
		images = images[:e.cfg.MaxPages]
	}
	if len(images) == 0 {
		return Result{}, ErrNoPages
	}

	var (
		b     strings.Builder
		warns []string
		confs = make([]float64, 0, len(images))
		ok    int
	)
	for i, img := range images {
		txt, conf, err := e.recognizePage(ctx, img)
		if err != nil {
			warns = append(warns, fmt.Sprintf("page %d: %v", i+1, err))
			confs = append(confs, 0)
			continue
		}
		ok++
		if b.Len() > 0 {
			b.WriteString("\n\f\n")
		}
		b.WriteString(txt)
		confs = append(confs, conf)
	}
	if ok == 0 {
		return Result{Pages: len(images), Warnings: warns}, fmt.Errorf("tesseract failed on all %d pages", len(images))
	}

	res := Result{
		Text:       Normalize(b.String()),
		Pages:      len(images),
		Confidence: confs,
		Warnings:   warns,
		Duration:   time.Since(start),
	}
	e.logger.Info("ocr.recognize.ok",
		"pages", res.Pages,
		"failed_pages", len(images)-ok,
		"text_len", len(res.Text),
		"elapsed_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

// recognizePage runs tesseract in TSV mode so text and word confidence come from one pass.
func (e *Engine) recognizePage(ctx context.Context, img string) (string, float64, error) {
	args := []string{img, "stdout", "-l", e.cfg.TesseractLang}
	if e.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(e.cfg.PSM))
	}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	args = append(args, "tsv")

	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		return "", 0, fmt.Errorf("tesseract: %w: %s", err, truncate(strings.TrimSpace(string(errb)), 256))
	}
	txt, conf := parseTSV(string(out))
	return txt, conf, nil
}

// parseTSV rebuilds page text from tesseract word rows and returns the mean word confidence in 0..1.
// Columns: level page block par line word left top width height conf text.
func parseTSV(tsv string) (string, float64) {
	var (
		b           strings.Builder
		sum, n      float64
		lastBlock   = -1
		lastLineKey string
		wordsOnLine int
	)
	for i, ln := range strings.Split(tsv, "\n") {
		if i == 0 || ln == "" {
			continue
		}
		cols := strings.Split(ln, "\t")
		if len(cols) < 12 || cols[0] != "5" {
			continue
		}
		word := strings.TrimSpace(cols[11])
		if word == "" {
			continue
		}
		block, _ := strconv.Atoi(cols[2])
		lineKey := cols[2] + "." + cols[3] + "." + cols[4]
		switch {
		case b.Len() == 0:
		case block != lastBlock:
			b.WriteString("\n\n")
			wordsOnLine = 0
		case lineKey != lastLineKey:
			b.WriteString("\n")
			wordsOnLine = 0
		}
		if wordsOnLine > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(word)
		wordsOnLine++
		lastBlock, lastLineKey = block, lineKey

		if c, err := strconv.ParseFloat(cols[10], 64); err == nil && c >= 0 {
			sum += c
			n++
		}
	}
	if n == 0 {
		return b.String(), 0
	}
	return b.String(), sum / n / 100.0
}
