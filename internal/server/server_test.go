package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/medsummary/constants"
	"github.com/joseph-ayodele/medsummary/internal/common"
	"github.com/joseph-ayodele/medsummary/internal/entity"
	"github.com/joseph-ayodele/medsummary/internal/pipeline"
)

type fakeJobs struct {
	mu        sync.Mutex
	jobs      map[string]*entity.Job
	uploaded  []byte
	submitErr error
	submitted pipeline.SubmitRequest
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: map[string]*entity.Job{}}
}

func (f *fakeJobs) add(status constants.JobStatus) *entity.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := &entity.Job{
		ID:               uuid.New(),
		Status:           status,
		OriginalFilename: "scan.pdf",
		UploadedAt:       time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.jobs[j.ID.String()] = j
	return j
}

func (f *fakeJobs) Upload(_ context.Context, req pipeline.UploadRequest) (*entity.Job, error) {
	b, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(req.Filename, ".pdf") {
		return nil, common.NewAppError("INVALID_FILE_TYPE", "not a pdf", common.ErrInvalidInput)
	}
	j := f.add(constants.JobStatusUploaded)
	f.mu.Lock()
	f.uploaded = b
	j.ConsentGiven = req.Consent
	j.OriginalFilename = req.Filename
	out := j.Clone()
	f.mu.Unlock()
	return out, nil
}

func (f *fakeJobs) setSubmitErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitErr = err
}

func (f *fakeJobs) lastSubmit() pipeline.SubmitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitted
}

func (f *fakeJobs) lastUpload() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.uploaded)
}

func (f *fakeJobs) consent(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[id].ConsentGiven
}

func (f *fakeJobs) SubmitAnalysis(ctx context.Context, id string, req pipeline.SubmitRequest) (*entity.Job, error) {
	f.mu.Lock()
	serr := f.submitErr
	f.mu.Unlock()
	if serr != nil {
		return nil, serr
	}
	if _, err := f.GetJob(ctx, id); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = req
	j := f.jobs[id]
	j.Status = constants.JobStatusProcessing
	j.SelectedProvider = &req.Provider
	return j.Clone(), nil
}

func (f *fakeJobs) GetJob(_ context.Context, id string) (*entity.Job, error) {
	if _, err := common.ParseJobID(id); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, common.NewAppError("JOB_NOT_FOUND", "no such job", common.ErrNotFound)
	}
	return j.Clone(), nil
}

func (f *fakeJobs) ListJobs(_ context.Context, limit int) ([]*entity.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*entity.Job, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, j.Clone())
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeJobs) ListProviders() []entity.ProviderInfo {
	return []entity.ProviderInfo{
		{Name: "llama", Model: "llama3", Locality: "local", Usable: true},
		{Name: "openai", Model: "gpt-4o-mini", Locality: "external", RequiresConsent: true},
	}
}

type fakeReporter struct{}

func (fakeReporter) AnalysisXLSX(job *entity.Job) ([]byte, error) {
	if job.Status != constants.JobStatusCompleted {
		return nil, common.NewAppError("INVALID_STATUS", "not completed", common.ErrInvalidStatus)
	}
	return []byte("PK-xlsx"), nil
}

func newTestAPI(t *testing.T) (*fakeJobs, *httptest.Server) {
	t.Helper()
	jobs := newFakeJobs()
	api := NewHTTPServer(jobs, fakeReporter{}, nil, HTTPConfig{MaxUploadBytes: 1 << 10}, nil)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return jobs, srv
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func multipartBody(t *testing.T, filename, content, consent string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	if consent != "" {
		require.NoError(t, mw.WriteField("consent", consent))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHTTP_Upload(t *testing.T) {
	jobs, srv := newTestAPI(t)

	body, ct := multipartBody(t, "scan.pdf", "%PDF-1.4 body", "true")
	resp, err := http.Post(srv.URL+"/api/upload", ct, body)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	p := decode[entity.JobProjection](t, resp)
	assert.Equal(t, constants.JobStatusUploaded, p.Status)
	assert.Equal(t, "scan.pdf", p.Filename)
	assert.Equal(t, "%PDF-1.4 body", jobs.lastUpload())
	assert.True(t, jobs.consent(p.ID))
}

func TestHTTP_UploadErrors(t *testing.T) {
	_, srv := newTestAPI(t)

	cases := []struct {
		name     string
		filename string
		content  string
		consent  string
		code     string
	}{
		{"missing file", "", "", "true", "MISSING_FILE"},
		{"bad consent", "scan.pdf", "%PDF-", "maybe", "INVALID_CONSENT"},
		{"wrong type", "scan.png", "png", "", "INVALID_FILE_TYPE"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, ct := multipartBody(t, tc.filename, tc.content, tc.consent)
			resp, err := http.Post(srv.URL+"/api/upload", ct, body)
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			eb := decode[errorBody](t, resp)
			assert.Equal(t, tc.code, eb.Error)
		})
	}
}

func TestHTTP_AnalyzeAndGet(t *testing.T) {
	jobs, srv := newTestAPI(t)
	j := jobs.add(constants.JobStatusUploaded)

	resp, err := http.Post(srv.URL+"/api/jobs/"+j.ID.String()+"/analyze", "application/json",
		strings.NewReader(`{"provider":"llama","options":{"ocr":true}}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	p := decode[entity.JobProjection](t, resp)
	assert.Equal(t, constants.JobStatusProcessing, p.Status)
	assert.Equal(t, "llama", jobs.lastSubmit().Provider)
	assert.True(t, jobs.lastSubmit().Options.OCR)

	resp, err = http.Get(srv.URL + "/api/jobs/" + j.ID.String())
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[map[string]any](t, resp)
	assert.Equal(t, "processing", got["status"])
	assert.Equal(t, "llama", got["provider"])
	assert.Contains(t, got, "uploadedAt")
}

func TestHTTP_ErrorMapping(t *testing.T) {
	jobs, srv := newTestAPI(t)
	j := jobs.add(constants.JobStatusUploaded)
	analyze := srv.URL + "/api/jobs/" + j.ID.String() + "/analyze"

	cases := []struct {
		err    error
		status int
		code   string
	}{
		{common.ErrExternalProcessingDisallowed, http.StatusForbidden, "EXTERNAL_PROCESSING_DISALLOWED"},
		{common.ErrConsentRequired, http.StatusBadRequest, "CONSENT_REQUIRED"},
		{common.ErrProviderUnavailable, http.StatusUnprocessableEntity, "PROVIDER_UNAVAILABLE"},
		{common.NewAppError("INVALID_STATUS", "busy", common.ErrInvalidStatus), http.StatusConflict, "INVALID_STATUS"},
	}
	for _, tc := range cases {
		jobs.setSubmitErr(tc.err)
		resp, err := http.Post(analyze, "application/json", strings.NewReader(`{"provider":"openai"}`))
		require.NoError(t, err)
		assert.Equal(t, tc.status, resp.StatusCode, tc.code)
		assert.Equal(t, tc.code, decode[errorBody](t, resp).Error)
	}
	jobs.setSubmitErr(nil)

	resp, err := http.Post(analyze, "application/json", strings.NewReader(`{"provider":"llama","extra":1}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/api/jobs/not-a-uuid")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_JOB_ID", decode[errorBody](t, resp).Error)

	resp, err = http.Get(srv.URL + "/api/jobs/" + uuid.NewString())
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestHTTP_ListProvidersReport(t *testing.T) {
	jobs, srv := newTestAPI(t)
	done := jobs.add(constants.JobStatusCompleted)
	pending := jobs.add(constants.JobStatusUploaded)

	resp, err := http.Get(srv.URL + "/api/jobs?limit=1")
	require.NoError(t, err)
	list := decode[struct {
		Jobs []entity.JobProjection `json:"jobs"`
	}](t, resp)
	assert.Len(t, list.Jobs, 1)

	resp, err = http.Get(srv.URL + "/api/jobs?limit=-2")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/api/providers")
	require.NoError(t, err)
	provs := decode[struct {
		Providers []entity.ProviderInfo `json:"providers"`
	}](t, resp)
	require.Len(t, provs.Providers, 2)
	assert.True(t, provs.Providers[1].RequiresConsent)

	resp, err = http.Get(srv.URL + "/api/jobs/" + done.ID.String() + "/report.xlsx")
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "PK-xlsx", string(b))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), done.ID.String())

	resp, err = http.Get(srv.URL + "/api/jobs/" + pending.ID.String() + "/report.xlsx")
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func newGRPCClient(t *testing.T, jobs Jobs) (*AnalysisClient, *grpc.ClientConn) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs, _ := NewGRPCServer(NewAnalysisService(jobs, nil), nil)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewAnalysisClient(conn), conn
}

func TestGRPC_AnalysisService(t *testing.T) {
	jobs := newFakeJobs()
	j := jobs.add(constants.JobStatusUploaded)
	client, conn := newGRPCClient(t, jobs)
	ctx := t.Context()

	req, err := structpb.NewStruct(map[string]any{
		"job_id":   j.ID.String(),
		"provider": "llama",
		"options":  map[string]any{"ocr": true},
	})
	require.NoError(t, err)
	out, err := client.SubmitAnalysis(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "processing", out.GetFields()["status"].GetStringValue())
	assert.True(t, jobs.lastSubmit().Options.OCR)

	get, _ := structpb.NewStruct(map[string]any{"job_id": j.ID.String()})
	out, err = client.GetJob(ctx, get)
	require.NoError(t, err)
	assert.Equal(t, j.ID.String(), out.GetFields()["id"].GetStringValue())

	out, err = client.ListProviders(ctx, &structpb.Struct{})
	require.NoError(t, err)
	assert.Len(t, out.GetFields()["providers"].GetListValue().GetValues(), 2)

	missing, _ := structpb.NewStruct(map[string]any{"job_id": uuid.NewString()})
	_, err = client.GetJob(ctx, missing)
	assert.Equal(t, codes.NotFound, status.Code(err))

	jobs.setSubmitErr(common.ErrExternalProcessingDisallowed)
	_, err = client.SubmitAnalysis(ctx, req)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	hc, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: AnalysisServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, hc.GetStatus())
}
