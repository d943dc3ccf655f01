package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/medsummary/constants"
	"github.com/joseph-ayodele/medsummary/internal/common"
	"github.com/joseph-ayodele/medsummary/internal/ocr"
)

type stubNative struct {
	text  string
	pages int
	err   error
	calls int
}

func (s *stubNative) Parse(context.Context, string) (NativeText, error) {
	s.calls++
	return NativeText{Text: s.text, Pages: s.pages}, s.err
}

type stubOCR struct {
	res   ocr.Result
	err   error
	calls int
}

func (s *stubOCR) Recognize(context.Context, string) (ocr.Result, error) {
	s.calls++
	return s.res, s.err
}

var longText = "Patient: John Doe\nDOB: 01/15/1980\nMedications: Amoxicillin 500mg TID"

func TestExtract_NativeAboveThreshold(t *testing.T) {
	n := &stubNative{text: longText, pages: 1}
	o := &stubOCR{}
	got, err := NewExtractor(n, o, nil).Extract(context.Background(), "x.pdf", false)
	require.NoError(t, err)
	assert.Equal(t, constants.ExtractionNative, got.Method)
	assert.Equal(t, longText, got.Text)
	assert.Equal(t, 1, got.PageCount)
	assert.Zero(t, o.calls)
}

func TestExtract_ThresholdBoundary(t *testing.T) {
	exactly := strings.Repeat("a", MinNativeChars)
	got, err := NewExtractor(&stubNative{text: "   " + exactly + "\n"}, &stubOCR{}, nil).Extract(context.Background(), "x.pdf", false)
	require.NoError(t, err)
	assert.Equal(t, constants.ExtractionNative, got.Method)

	o := &stubOCR{res: ocr.Result{Text: "scanned text", Pages: 2, Confidence: []float64{0.9, 0.8}}}
	got, err = NewExtractor(&stubNative{text: exactly[1:]}, o, nil).Extract(context.Background(), "x.pdf", false)
	require.NoError(t, err)
	assert.Equal(t, constants.ExtractionOCR, got.Method)
	assert.Equal(t, "scanned text", got.Text)
	assert.Equal(t, []float64{0.9, 0.8}, got.Confidence)
	assert.Equal(t, 1, o.calls)
}

func TestExtract_BlankNativeFallsBackToOCR(t *testing.T) {
	o := &stubOCR{res: ocr.Result{Text: "from ocr", Pages: 1}}
	got, err := NewExtractor(&stubNative{text: "", pages: 1}, o, nil).Extract(context.Background(), "x.pdf", false)
	require.NoError(t, err)
	assert.Equal(t, constants.ExtractionOCR, got.Method)
}

func TestExtract_NativeErrorFallsBackToOCR(t *testing.T) {
	o := &stubOCR{res: ocr.Result{Text: "from ocr", Pages: 3}}
	got, err := NewExtractor(&stubNative{err: errors.New("xref broken")}, o, nil).Extract(context.Background(), "x.pdf", false)
	require.NoError(t, err)
	assert.Equal(t, constants.ExtractionOCR, got.Method)
	assert.Equal(t, 3, got.PageCount)
	require.NotEmpty(t, got.Warnings)
}

func TestExtract_BothFail(t *testing.T) {
	_, err := NewExtractor(&stubNative{err: errors.New("xref broken")}, &stubOCR{err: errors.New("tesseract missing")}, nil).
		Extract(context.Background(), "x.pdf", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrExtraction)
	assert.Contains(t, err.Error(), "tesseract missing")
}

func TestExtract_ShortNativeKeptWhenOCRFails(t *testing.T) {
	got, err := NewExtractor(&stubNative{text: "tiny", pages: 1}, &stubOCR{err: errors.New("no binary")}, nil).
		Extract(context.Background(), "x.pdf", false)
	require.NoError(t, err)
	assert.Equal(t, constants.ExtractionNative, got.Method)
	assert.Equal(t, "tiny", got.Text)
	assert.Len(t, got.Warnings, 1)
}

func TestExtract_ForceOCRSkipsNative(t *testing.T) {
	n := &stubNative{text: longText}
	o := &stubOCR{res: ocr.Result{Text: "ocr text", Pages: 1}}
	got, err := NewExtractor(n, o, nil).Extract(context.Background(), "x.pdf", true)
	require.NoError(t, err)
	assert.Equal(t, constants.ExtractionOCR, got.Method)
	assert.Zero(t, n.calls)

	_, err = NewExtractor(n, &stubOCR{err: errors.New("down")}, nil).Extract(context.Background(), "x.pdf", true)
	assert.ErrorIs(t, err, common.ErrExtraction)
}

func TestPDFParser_MissingFile(t *testing.T) {
	_, err := PDFParser{}.Parse(context.Background(), "/nonexistent/file.pdf")
	require.Error(t, err)
}
