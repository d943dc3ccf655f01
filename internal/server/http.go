package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/medsummary/internal/common"
	"github.com/joseph-ayodele/medsummary/internal/entity"
	"github.com/joseph-ayodele/medsummary/internal/pipeline"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	// multipartSlack covers form fields and part headers around the file.
	multipartSlack = 1 << 20
)

type HTTPConfig struct {
	MaxUploadBytes int64
}

type HTTPServer struct {
	jobs    Jobs
	reports Reporter
	ws      http.Handler
	cfg     HTTPConfig
	logger  *slog.Logger
}

// NewHTTPServer builds the API. ws may be nil when push updates are disabled.
func NewHTTPServer(jobs Jobs, reports Reporter, ws http.Handler, cfg HTTPConfig, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 25 << 20
	}
	return &HTTPServer{jobs: jobs, reports: reports, ws: ws, cfg: cfg, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/upload", s.upload)
	mux.HandleFunc("POST /api/jobs/{id}/analyze", s.analyze)
	mux.HandleFunc("GET /api/jobs/{id}", s.getJob)
	mux.HandleFunc("GET /api/jobs", s.listJobs)
	mux.HandleFunc("GET /api/jobs/{id}/report.xlsx", s.report)
	mux.HandleFunc("GET /api/providers", s.providers)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.ws != nil {
		mux.Handle("GET /ws", s.ws)
	}
	return s.withRequestLog(mux)
}

func (s *HTTPServer) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+multipartSlack)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.writeError(w, r, common.NewAppError("FILE_TOO_LARGE", "upload exceeds size limit", common.ErrInvalidInput))
			return
		}
		s.writeError(w, r, common.NewAppError("MISSING_FILE", "multipart field \"file\" is required", common.ErrInvalidInput))
		return
	}
	defer file.Close()

	consent, err := parseConsent(r.FormValue("consent"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	job, err := s.jobs.Upload(r.Context(), pipeline.UploadRequest{
		Filename: hdr.Filename,
		Consent:  consent,
		Body:     file,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, job.Projection())
}

type analyzeBody struct {
	Provider string                 `json:"provider"`
	Options  entity.AnalysisOptions `json:"options"`
}

func (s *HTTPServer) analyze(w http.ResponseWriter, r *http.Request) {
	var body analyzeBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		s.writeError(w, r, common.NewAppError("INVALID_BODY", err.Error(), common.ErrInvalidInput))
		return
	}
	job, err := s.jobs.SubmitAnalysis(r.Context(), r.PathValue("id"), pipeline.SubmitRequest{
		Provider: body.Provider,
		Options:  body.Options,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job.Projection())
}

func (s *HTTPServer) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job.Projection())
}

func (s *HTTPServer) listJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, r, common.NewAppError("INVALID_LIMIT", fmt.Sprintf("limit %q is not a non-negative integer", raw), common.ErrInvalidInput))
			return
		}
		limit = min(n, maxListLimit)
	}
	jobs, err := s.jobs.ListJobs(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": projections(jobs)})
}

func (s *HTTPServer) report(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data, err := s.reports.AnalysisXLSX(job)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="analysis-%s.xlsx"`, job.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *HTTPServer) providers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"providers": s.jobs.ListProviders()})
}

func parseConsent(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "false", "0", "off", "no":
		return false, nil
	case "true", "1", "on", "yes":
		return true, nil
	}
	return false, common.NewAppError("INVALID_CONSENT", fmt.Sprintf("consent %q is not a boolean", v), common.ErrInvalidInput)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := common.HTTPStatus(err)
	msg := err.Error()
	if code >= http.StatusInternalServerError {
		s.logger.Error("http.request.failed", "path", r.URL.Path, "request_id", common.RequestIDFromContext(r.Context()), "error", err)
		msg = "internal error"
	}
	writeJSON(w, code, errorBody{Error: common.ErrorCode(err), Message: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *HTTPServer) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		r = r.WithContext(common.WithRequestID(r.Context(), reqID))

		if r.URL.Path == "/ws" {
			// Upgraded connections need the raw writer.
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("http.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"request_id", reqID,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	})
}
