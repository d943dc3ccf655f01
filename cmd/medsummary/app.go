package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/medsummary/internal/common"
	"github.com/joseph-ayodele/medsummary/internal/extract"
	"github.com/joseph-ayodele/medsummary/internal/filestore"
	"github.com/joseph-ayodele/medsummary/internal/llm"
	"github.com/joseph-ayodele/medsummary/internal/llm/gemini"
	"github.com/joseph-ayodele/medsummary/internal/llm/llama"
	"github.com/joseph-ayodele/medsummary/internal/llm/openai"
	"github.com/joseph-ayodele/medsummary/internal/ocr"
	"github.com/joseph-ayodele/medsummary/internal/pipeline"
	"github.com/joseph-ayodele/medsummary/internal/repository"
)

// app holds the wired components shared by the subcommands.
type app struct {
	repo      repository.JobRepository
	files     *filestore.Store
	extractor *extract.Extractor
	models    *llm.Client
	svc       *pipeline.Service

	closers []func() error
}

func newExtractor(c *common.Config, log *slog.Logger) *extract.Extractor {
	engine := ocr.NewEngine(ocr.Config{
		Pdftoppm:      c.OCR.Pdftoppm,
		Tesseract:     c.OCR.Tesseract,
		TesseractLang: c.OCR.TesseractLang,
		TessdataDir:   c.OCR.TessdataDir,
		DPI:           c.OCR.DPI,
		MaxPages:      c.OCR.MaxPages,
		ScratchDir:    c.Files.ScratchDir,
	}, log)
	return extract.NewExtractor(extract.PDFParser{}, engine, log)
}

// newModels registers the local provider always and external providers only when keyed.
func newModels(ctx context.Context, c *common.Config, log *slog.Logger) (*llm.Client, []func() error, error) {
	providers := []llm.Provider{
		llama.NewClient(llama.Config{
			BaseURL: c.Providers.Llama.BaseURL,
			Model:   c.Providers.Llama.Model,
			Timeout: c.Pipeline.ProviderTimeout,
		}, log),
	}
	var closers []func() error
	if c.Providers.OpenAI.APIKey != "" {
		providers = append(providers, openai.NewClient(openai.Config{
			APIKey:      c.Providers.OpenAI.APIKey,
			BaseURL:     c.Providers.OpenAI.BaseURL,
			Model:       c.Providers.OpenAI.Model,
			Temperature: c.Providers.OpenAI.Temperature,
			Timeout:     c.Pipeline.ProviderTimeout,
		}, log))
	}
	if c.Providers.Gemini.APIKey != "" {
		g, err := gemini.NewClient(ctx, gemini.Config{
			APIKey: c.Providers.Gemini.APIKey,
			Model:  c.Providers.Gemini.Model,
		}, log)
		if err != nil {
			return nil, nil, fmt.Errorf("gemini: %w", err)
		}
		providers = append(providers, g)
		closers = append(closers, g.Close)
	}
	return llm.NewClient(c.Pipeline.ProviderTimeout, log, providers...), closers, nil
}

func newApp(ctx context.Context, c *common.Config, log *slog.Logger, opts ...pipeline.Option) (*app, error) {
	a := &app{}
	repo, err := repository.Open(ctx, c.Storage, log)
	if err != nil {
		return nil, err
	}
	a.repo = repo
	a.closers = append(a.closers, repo.Close)

	files, err := filestore.New(filestore.Config{
		UploadDir:     c.Files.UploadDir,
		ScratchDir:    c.Files.ScratchDir,
		EncryptionKey: c.Files.EncryptionKey,
		MaxBytes:      c.Files.MaxUploadBytes,
	}, log)
	if err != nil {
		a.close(log)
		return nil, err
	}
	a.files = files

	models, closers, err := newModels(ctx, c, log)
	if err != nil {
		a.close(log)
		return nil, err
	}
	a.models = models
	a.closers = append(a.closers, closers...)

	a.extractor = newExtractor(c, log)
	a.svc = pipeline.NewService(repo, files, a.extractor, models, pipeline.Config{
		AllowExternalProcessing: c.Policy.AllowExternalProcessing,
		MaxConcurrent:           c.Pipeline.MaxConcurrent,
	}, log, opts...)
	log.Info("app.ready",
		"storage", c.Storage.Driver,
		"encrypted_uploads", files.Encrypted(),
		"allow_external", c.Policy.AllowExternalProcessing,
	)
	return a, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close(log *slog.Logger) {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		log.Warn("app.close.failed", "error", err)
	}
}
