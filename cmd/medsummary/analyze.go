package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/medsummary/constants"
	"github.com/joseph-ayodele/medsummary/internal/entity"
	"github.com/joseph-ayodele/medsummary/internal/export"
	"github.com/joseph-ayodele/medsummary/internal/pipeline"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file.pdf>",
	Short: "Upload a PDF, run one analysis and print the job as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

var (
	analyzeProvider string
	analyzeConsent  bool
	analyzeOCR      bool
	analyzeXLSX     string
	analyzeTimeout  time.Duration
)

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeProvider, "provider", "p", "llama", "Model provider (llama, openai, gemini)")
	analyzeCmd.Flags().BoolVar(&analyzeConsent, "consent", false, "Record patient consent for external processing")
	analyzeCmd.Flags().BoolVar(&analyzeOCR, "ocr", false, "Force OCR even when the PDF has a text layer")
	analyzeCmd.Flags().StringVar(&analyzeXLSX, "xlsx", "", "Also write the report workbook to this path")
	analyzeCmd.Flags().DurationVar(&analyzeTimeout, "timeout", 10*time.Minute, "Give up waiting after this long")

	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), analyzeTimeout)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(logger)

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	job, err := a.svc.Upload(ctx, pipeline.UploadRequest{
		Filename: filepath.Base(args[0]),
		Consent:  analyzeConsent,
		Body:     f,
	})
	_ = f.Close()
	if err != nil {
		return err
	}

	if _, err := a.svc.SubmitAnalysis(ctx, job.ID.String(), pipeline.SubmitRequest{
		Provider: analyzeProvider,
		Options:  entity.AnalysisOptions{OCR: analyzeOCR},
	}); err != nil {
		return err
	}
	done, err := a.svc.Wait(ctx, job.ID.String(), 250*time.Millisecond)
	if err != nil {
		return err
	}
	if err := a.svc.Shutdown(ctx); err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(done.Projection()); err != nil {
		return err
	}

	if analyzeXLSX != "" && done.Status == constants.JobStatusCompleted {
		data, err := export.NewService(logger).AnalysisXLSX(done)
		if err != nil {
			return err
		}
		if err := os.WriteFile(analyzeXLSX, data, 0o600); err != nil {
			return fmt.Errorf("write xlsx: %w", err)
		}
	}
	if done.Status == constants.JobStatusFailed {
		return fmt.Errorf("analysis failed: %s", derefString(done.Error))
	}
	return nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
