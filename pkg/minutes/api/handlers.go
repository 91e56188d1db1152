package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/otherjamesbrown/minutes/pkg/blob"
	mnerrors "github.com/otherjamesbrown/minutes/pkg/errors"
	"github.com/otherjamesbrown/minutes/pkg/logging"
	"github.com/otherjamesbrown/minutes/pkg/minutes"
	"github.com/otherjamesbrown/minutes/pkg/minutes/export"
	"github.com/otherjamesbrown/minutes/pkg/minutes/extraction"
	"github.com/otherjamesbrown/minutes/pkg/minutes/pipeline"
)

// CreateJobRequest is the body of POST /v1/jobs.
type CreateJobRequest struct {
	UserID string                   `json:"user_id"`
	Files  []minutes.FileInfo       `json:"files"`
	Config minutes.ProcessingConfig `json:"config"`
}

// CreateJobResponse is returned by POST /v1/jobs.
type CreateJobResponse struct {
	JobID  uuid.UUID      `json:"job_id"`
	Status minutes.Status `json:"status"`
}

// ReviewRequest is the body of POST /v1/jobs/{id}/review.
type ReviewRequest struct {
	ReviewerID       string                      `json:"reviewer_id"`
	EditedSegments   []minutes.TranscriptSegment `json:"edited_segments,omitempty"`
	ResolvedIssueIDs []string                    `json:"resolved_issue_ids,omitempty"`
	IgnoredIssueIDs  []string                    `json:"ignored_issue_ids,omitempty"`
	Approved         bool                        `json:"approved"`
	Notes            string                      `json:"reviewer_notes,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// LogsResponse is returned by GET /v1/jobs/{id}/logs.
type LogsResponse struct {
	Logs []minutes.JobLog `json:"logs"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	req := CreateJobRequest{Config: minutes.DefaultProcessingConfig()}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	job, err := s.svc.Create(r.Context(), req.UserID, req.Files, req.Config)
	if err != nil && job == nil {
		s.writeError(w, r, err)
		return
	}
	if err != nil {
		// Stored but not enqueued; recovery picks it up.
		s.logger.WithContext(r.Context()).Warn("Job created without enqueue", logging.F("job_id", job.ID), logging.Err(err))
	}
	writeJSON(w, http.StatusCreated, CreateJobResponse{JobID: job.ID, Status: job.Status})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	file, header, err := r.FormFile("file")
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		s.writeError(w, r, err)
		return
	}
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: multipart field \"file\" is required: %v", mnerrors.ErrValidation, err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: reading upload: %v", mnerrors.ErrValidation, err))
		return
	}
	if len(data) == 0 {
		s.writeError(w, r, fmt.Errorf("%w: empty upload", mnerrors.ErrValidation))
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = extraction.MIMEForName(header.Filename)
	}
	if mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}

	id := uuid.New()
	name := safeName(header.Filename)
	key := path.Join("uploads", id.String(), name)
	if _, err := s.blobs.Upload(r.Context(), key, data, mimeType, map[string]string{"original_name": header.Filename}); err != nil {
		s.writeError(w, r, fmt.Errorf("failed to store upload: %w", err))
		return
	}

	writeJSON(w, http.StatusCreated, minutes.FileInfo{
		ID:           id.String(),
		BlobURI:      blob.URI(key),
		MIMEType:     mimeType,
		OriginalName: header.Filename,
		Size:         int64(len(data)),
		UploadedAt:   s.now(),
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	job, err := s.svc.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			s.writeError(w, r, fmt.Errorf("%w: invalid limit %q", mnerrors.ErrValidation, v))
			return
		}
	}
	logs, err := s.svc.Logs(r.Context(), id, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if logs == nil {
		logs = []minutes.JobLog{}
	}
	writeJSON(w, http.StatusOK, LogsResponse{Logs: logs})
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req ReviewRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	job, err := s.svc.SubmitReview(r.Context(), pipeline.Submission{
		JobID:            id,
		ReviewerID:       req.ReviewerID,
		EditedSegments:   req.EditedSegments,
		ResolvedIssueIDs: req.ResolvedIssueIDs,
		IgnoredIssueIDs:  req.IgnoredIssueIDs,
		Approved:         req.Approved,
		Notes:            req.Notes,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	job, err := s.svc.Cancel(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	job, err := s.svc.Retry(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	job, err := s.svc.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if job.Final == nil {
		s.writeError(w, r, fmt.Errorf("%w: job %s has no final minutes (status %s)", mnerrors.ErrInvalidState, id, job.Status))
		return
	}
	data, err := export.Render(job.Final, format)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="minutes-%s.%s"`, id, format.Extension()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Checks: make(map[string]string, len(s.checks))}
	code := http.StatusOK
	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, code, resp)
}

func jobID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid job id %q", mnerrors.ErrValidation, raw)
	}
	return id, nil
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", mnerrors.ErrValidation, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case mnerrors.IsValidation(err):
		status, code = http.StatusBadRequest, "validation_error"
	case mnerrors.IsNotFound(err):
		status, code = http.StatusNotFound, "not_found"
	case mnerrors.IsInvalidState(err):
		status, code = http.StatusConflict, "invalid_state"
	case mnerrors.IsConflict(err):
		status, code = http.StatusConflict, "conflict"
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		status, code = http.StatusRequestEntityTooLarge, "too_large"
	}
	if status >= http.StatusInternalServerError {
		s.logger.WithContext(r.Context()).Error("Request failed", logging.F("path", r.URL.Path), logging.Err(err))
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

// safeName reduces a client filename to a single path element.
func safeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r < 0x20:
			return -1
		case r == ' ':
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "upload"
	}
	return name
}
