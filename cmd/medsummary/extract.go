package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/medsummary/internal/rules"
)

var extractCmd = &cobra.Command{
	Use:   "extract <file.pdf>",
	Short: "Print the extracted text and rule-based baseline without calling a model",
	Args:  cobra.ExactArgs(1),
	RunE:  runExtract,
}

var extractOCR bool

func init() {
	extractCmd.Flags().BoolVar(&extractOCR, "ocr", false, "Force OCR")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	text, err := newExtractor(cfg, logger).Extract(cmd.Context(), args[0], extractOCR)
	if err != nil {
		return err
	}
	out := map[string]any{
		"method":     text.Method,
		"page_count": text.PageCount,
		"warnings":   text.Warnings,
		"text":       text.Text,
		"baseline":   rules.Extract(text.Text),
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
