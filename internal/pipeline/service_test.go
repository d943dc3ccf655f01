package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/medsummary/constants"
	"github.com/joseph-ayodele/medsummary/internal/common"
	"github.com/joseph-ayodele/medsummary/internal/entity"
	"github.com/joseph-ayodele/medsummary/internal/extract"
	"github.com/joseph-ayodele/medsummary/internal/filestore"
	"github.com/joseph-ayodele/medsummary/internal/llm"
	"github.com/joseph-ayodele/medsummary/internal/llm/llama"
	"github.com/joseph-ayodele/medsummary/internal/repository"
)

const sampleText = "Patient: John Doe\nDOB: 01/15/1980\nMedications: Amoxicillin 500mg TID"

var samplePDF = []byte("%PDF-1.4\n% test document\n%%EOF\n")

type fakeExtractor struct {
	text extract.ExtractedText
	err  error

	mu       sync.Mutex
	existed  []bool
	forceOCR []bool
}

func (f *fakeExtractor) Extract(_ context.Context, path string, forceOCR bool) (extract.ExtractedText, error) {
	_, statErr := os.Stat(path)
	f.mu.Lock()
	f.existed = append(f.existed, statErr == nil)
	f.forceOCR = append(f.forceOCR, forceOCR)
	f.mu.Unlock()
	return f.text, f.err
}

type stubProvider struct {
	name    string
	fields  map[string]any
	err     error
	release chan struct{}
	panics  bool
	mu      sync.Mutex
	calls   int
}

func (p *stubProvider) Name() string  { return p.name }
func (p *stubProvider) Model() string { return "stub" }
func (p *stubProvider) Analyze(ctx context.Context, req llm.Request) (llm.RawResult, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return llm.RawResult{}, ctx.Err()
		}
	}
	if p.panics {
		panic("provider exploded")
	}
	if p.err != nil {
		return llm.RawResult{}, p.err
	}
	return llm.RawResult{Fields: p.fields}, nil
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type recorder struct {
	mu       sync.Mutex
	statuses []constants.JobStatus
}

func (r *recorder) JobUpdated(j *entity.Job) {
	r.mu.Lock()
	r.statuses = append(r.statuses, j.Status)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []constants.JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]constants.JobStatus{}, r.statuses...)
}

type harness struct {
	svc     *Service
	ext     *fakeExtractor
	scratch string
	rec     *recorder
}

func newHarness(t *testing.T, allowExternal bool, providers ...llm.Provider) *harness {
	t.Helper()
	scratch := t.TempDir()
	files, err := filestore.New(filestore.Config{
		UploadDir:     t.TempDir(),
		ScratchDir:    scratch,
		EncryptionKey: "test-encryption-key-0123",
	}, nil)
	require.NoError(t, err)

	ext := &fakeExtractor{text: extract.ExtractedText{Text: sampleText, PageCount: 2, Method: constants.ExtractionNative}}
	rec := &recorder{}
	svc := NewService(
		repository.NewMemoryJobRepository(),
		files,
		ext,
		llm.NewClient(time.Second, nil, providers...),
		Config{AllowExternalProcessing: allowExternal},
		nil,
		WithNotifier(rec),
	)
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })
	return &harness{svc: svc, ext: ext, scratch: scratch, rec: rec}
}

func (h *harness) upload(t *testing.T, consent bool) *entity.Job {
	t.Helper()
	job, err := h.svc.Upload(context.Background(), UploadRequest{Filename: "report.pdf", Consent: consent, Body: bytes.NewReader(samplePDF)})
	require.NoError(t, err)
	return job
}

func (h *harness) wait(t *testing.T, id string) *entity.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := h.svc.Wait(ctx, id, 5*time.Millisecond)
	require.NoError(t, err)
	return job
}

func TestUpload(t *testing.T) {
	h := newHarness(t, false)
	job := h.upload(t, true)
	assert.Equal(t, constants.JobStatusUploaded, job.Status)
	assert.Equal(t, "report.pdf", job.OriginalFilename)
	assert.True(t, job.ConsentGiven)
	assert.Len(t, job.ContentHash, 64)

	_, err := h.svc.Upload(context.Background(), UploadRequest{Filename: "notes.txt", Body: bytes.NewReader(samplePDF)})
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = h.svc.Upload(context.Background(), UploadRequest{Filename: "fake.pdf", Body: bytes.NewReader([]byte("GIF89a"))})
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = h.svc.Upload(context.Background(), UploadRequest{Filename: "x.pdf"})
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestSubmit_LocalCompletes(t *testing.T) {
	p := &stubProvider{name: "llama", fields: map[string]any{"impression": "Infection treated", "confidence_overall": 0.6}}
	h := newHarness(t, false, p)
	job := h.upload(t, false)

	started, err := h.svc.SubmitAnalysis(context.Background(), job.ID.String(), SubmitRequest{Provider: " LLaMA ", Options: entity.AnalysisOptions{OCR: true}})
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusProcessing, started.Status)
	require.NotNil(t, started.SelectedProvider)
	assert.Equal(t, "llama", *started.SelectedProvider)

	done := h.wait(t, job.ID.String())
	require.NoError(t, h.svc.Shutdown(context.Background()))
	require.Equal(t, constants.JobStatusCompleted, done.Status)
	require.NotNil(t, done.Result)
	assert.Equal(t, "Infection treated", done.Result.Impression)
	assert.Equal(t, 0.6, done.Result.ConfidenceOverall)
	assert.Equal(t, []int{1, 2}, done.Result.SourcePages)
	assert.Equal(t, constants.ExtractionNative, done.Result.ExtractionMethod)
	require.Len(t, done.Result.Medications, 1, "baseline fills missing model medications")
	assert.Equal(t, "500 mg", done.Result.Medications[0].Dose)
	assert.Nil(t, done.Error)

	assert.Equal(t, []bool{true}, h.ext.forceOCR)
	assert.Equal(t, []bool{true}, h.ext.existed, "decrypted copy exists during the run")
	assertScratchEmpty(t, h.scratch)
	assert.Equal(t, []constants.JobStatus{
		constants.JobStatusUploaded, constants.JobStatusProcessing, constants.JobStatusCompleted,
	}, h.rec.snapshot())
}

func TestSubmit_DoubleSubmitIsAtMostOnce(t *testing.T) {
	p := &stubProvider{name: "llama", release: make(chan struct{})}
	h := newHarness(t, false, p)
	job := h.upload(t, false)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.SubmitAnalysis(context.Background(), job.ID.String(), SubmitRequest{Provider: "llama"})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if errors.Is(err, common.ErrInvalidStatus) {
				conflicts++
			}
		}()
	}
	wg.Wait()
	close(p.release)

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, constants.JobStatusCompleted, h.wait(t, job.ID.String()).Status)
	assert.Equal(t, 1, p.callCount())
}

func TestSubmit_PolicyRejectionsLeaveJobUploaded(t *testing.T) {
	ext := &stubProvider{name: "openai"}
	h := newHarness(t, false, ext)

	consenting := h.upload(t, true)
	_, err := h.svc.SubmitAnalysis(context.Background(), consenting.ID.String(), SubmitRequest{Provider: "openai"})
	assert.ErrorIs(t, err, common.ErrExternalProcessingDisallowed)

	h.svc.SetAllowExternal(true)
	nonConsenting := h.upload(t, false)
	_, err = h.svc.SubmitAnalysis(context.Background(), nonConsenting.ID.String(), SubmitRequest{Provider: "openai"})
	assert.ErrorIs(t, err, common.ErrConsentRequired)

	_, err = h.svc.SubmitAnalysis(context.Background(), nonConsenting.ID.String(), SubmitRequest{Provider: "mistral"})
	assert.ErrorIs(t, err, common.ErrProviderUnavailable)

	for _, j := range []*entity.Job{consenting, nonConsenting} {
		got, err := h.svc.GetJob(context.Background(), j.ID.String())
		require.NoError(t, err)
		assert.Equal(t, constants.JobStatusUploaded, got.Status)
		assert.Nil(t, got.SelectedProvider)
	}
	assert.Zero(t, ext.callCount())
}

func TestSubmit_ClearanceIsSnapshotAtSubmission(t *testing.T) {
	ext := &stubProvider{name: "openai", release: make(chan struct{}), fields: map[string]any{"impression": "ok"}}
	h := newHarness(t, true, ext)
	job := h.upload(t, true)

	_, err := h.svc.SubmitAnalysis(context.Background(), job.ID.String(), SubmitRequest{Provider: "openai"})
	require.NoError(t, err)
	h.svc.SetAllowExternal(false)
	close(ext.release)

	assert.Equal(t, constants.JobStatusCompleted, h.wait(t, job.ID.String()).Status)

	next := h.upload(t, true)
	_, err = h.svc.SubmitAnalysis(context.Background(), next.ID.String(), SubmitRequest{Provider: "openai"})
	assert.ErrorIs(t, err, common.ErrExternalProcessingDisallowed)
}

func TestSubmit_InputErrors(t *testing.T) {
	h := newHarness(t, false, &stubProvider{name: "llama"})
	_, err := h.svc.SubmitAnalysis(context.Background(), "../../etc/passwd", SubmitRequest{Provider: "llama"})
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = h.svc.SubmitAnalysis(context.Background(), "9b2f7c1e-3f0a-4c55-9e51-4d1f1c2b8a10", SubmitRequest{Provider: "llama"})
	assert.ErrorIs(t, err, common.ErrNotFound)

	job := h.upload(t, false)
	_, err = h.svc.SubmitAnalysis(context.Background(), job.ID.String(), SubmitRequest{})
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestRun_ExtractionFailureFailsJob(t *testing.T) {
	h := newHarness(t, false, &stubProvider{name: "llama"})
	h.ext.err = fmt.Errorf("%w: native parse and ocr: broken", common.ErrExtraction)
	job := h.upload(t, false)

	_, err := h.svc.SubmitAnalysis(context.Background(), job.ID.String(), SubmitRequest{Provider: "llama"})
	require.NoError(t, err)

	done := h.wait(t, job.ID.String())
	assert.Equal(t, constants.JobStatusFailed, done.Status)
	require.NotNil(t, done.Error)
	assert.Contains(t, *done.Error, "Could not extract text")
	assert.Nil(t, done.Result)
	require.NotNil(t, done.ProcessingStartedAt)
	assertScratchEmpty(t, h.scratch)

	_, err = h.svc.SubmitAnalysis(context.Background(), job.ID.String(), SubmitRequest{Provider: "llama"})
	assert.ErrorIs(t, err, common.ErrInvalidStatus, "failed is terminal")
}

func TestRun_ProviderErrorAndPanicFailJob(t *testing.T) {
	for name, p := range map[string]*stubProvider{
		"error": {name: "llama", err: errors.New("connection refused")},
		"panic": {name: "llama", panics: true},
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, false, p)
			job := h.upload(t, false)
			_, err := h.svc.SubmitAnalysis(context.Background(), job.ID.String(), SubmitRequest{Provider: "llama"})
			require.NoError(t, err)

			done := h.wait(t, job.ID.String())
			assert.Equal(t, constants.JobStatusFailed, done.Status)
			require.NotNil(t, done.Error)
			assert.Nil(t, done.Result)
			assertScratchEmpty(t, h.scratch)
		})
	}
}

func TestRun_LocalProseFallsBackToBaseline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"response": "The patient seems to be on antibiotics."})
	}))
	defer srv.Close()

	h := newHarness(t, false, llama.NewClient(llama.Config{BaseURL: srv.URL}, nil))
	job := h.upload(t, false)
	_, err := h.svc.SubmitAnalysis(context.Background(), job.ID.String(), SubmitRequest{Provider: "llama"})
	require.NoError(t, err)

	done := h.wait(t, job.ID.String())
	require.Equal(t, constants.JobStatusCompleted, done.Status)
	res := done.Result
	assert.Contains(t, res.Notes, llm.FallbackNote)
	require.Len(t, res.Medications, 1)
	assert.Contains(t, res.Medications[0].Name, "Amoxicillin")
	assert.Equal(t, "500 mg", res.Medications[0].Dose)
	assert.Empty(t, res.Labs)
	assert.NotNil(t, res.Labs)
	assert.NotNil(t, res.Diagnoses)
	require.NotNil(t, res.Patient.Name)
	assert.Equal(t, "John Doe", *res.Patient.Name)
	assert.Equal(t, "1980-01-15", *res.Patient.DOB)
	assert.Equal(t, "llama", res.LLMProvider)
}

func TestListProvidersReflectsFlag(t *testing.T) {
	h := newHarness(t, false, &stubProvider{name: "llama"}, &stubProvider{name: "gemini"})
	infos := h.svc.ListProviders()
	require.Len(t, infos, 2)
	assert.Equal(t, "gemini", infos[0].Name)
	assert.False(t, infos[0].Usable)
	h.svc.SetAllowExternal(true)
	assert.True(t, h.svc.ListProviders()[0].Usable)
}

func TestListJobs(t *testing.T) {
	h := newHarness(t, false)
	h.upload(t, false)
	h.upload(t, true)
	jobs, err := h.svc.ListJobs(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	_, err = h.svc.ListJobs(context.Background(), -1)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func assertScratchEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch copies must be removed")
}
