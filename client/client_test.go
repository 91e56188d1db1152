package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/minutes/config"
	mnerrors "github.com/otherjamesbrown/minutes/pkg/errors"
	"github.com/otherjamesbrown/minutes/pkg/minutes"
	"github.com/otherjamesbrown/minutes/pkg/minutes/api"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, Options{InitialBackoff: time.Millisecond, MaxRetries: 2})
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNew(t *testing.T) {
	_, err := New("localhost:8080", Options{})
	assert.Error(t, err)

	c, err := New("http://api.local/base/", Options{})
	require.NoError(t, err)
	assert.Equal(t, "http://api.local/base/v1/jobs", c.endpoint("/v1/jobs", nil))
	assert.Equal(t, DefaultTimeout, c.opts.Timeout)
}

func TestFromConfig(t *testing.T) {
	c, err := FromConfig(config.ClientConfig{ServerURL: "http://localhost:8080", Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, time.Second, c.http.Timeout)

	_, err = FromConfig(config.ClientConfig{
		ServerURL: "https://localhost:8443",
		Timeout:   time.Second,
		TLS:       config.TLSConfig{ClientCert: "/missing/client.crt", ClientKey: "/missing/client.key"},
	})
	assert.ErrorContains(t, err, "Client certificate not found")
}

func TestCreateJob(t *testing.T) {
	id := uuid.New()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/jobs", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req api.CreateJobRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "u-1", req.UserID)
		assert.Len(t, req.Files, 1)
		assert.True(t, req.Config.Narrate)
		writeJSON(w, http.StatusCreated, api.CreateJobResponse{JobID: id, Status: minutes.StatusQueued})
	}))

	cfg := minutes.DefaultProcessingConfig()
	cfg.Narrate = true
	resp, err := c.CreateJob(context.Background(), "u-1", []minutes.FileInfo{{ID: "f1", MIMEType: "text/plain"}}, cfg)
	require.NoError(t, err)
	assert.Equal(t, id, resp.JobID)
	assert.Equal(t, minutes.StatusQueued, resp.Status)
}

func TestErrorsMapToSentinels(t *testing.T) {
	tests := []struct {
		code  string
		check func(error) bool
	}{
		{"validation_error", mnerrors.IsValidation},
		{"not_found", mnerrors.IsNotFound},
		{"invalid_state", mnerrors.IsInvalidState},
		{"conflict", mnerrors.IsConflict},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "nope", Code: tt.code})
			}))
			_, err := c.Cancel(context.Background(), uuid.New())
			require.Error(t, err)
			assert.True(t, tt.check(err))

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, "nope", apiErr.Message)
		})
	}
}

func TestGetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	id := uuid.New()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, minutes.Job{ID: id, Status: minutes.StatusProcessingDraft, Progress: 25})
	}))

	job, err := c.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 25, job.Progress)
}

func TestPostIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: "boom", Code: "internal"})
	}))

	_, err := c.Retry(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Nil(t, apiErr.Unwrap())
}

func TestLogsAndReview(t *testing.T) {
	id := uuid.New()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/jobs/" + id.String() + "/logs":
			assert.Equal(t, "20", r.URL.Query().Get("limit"))
			writeJSON(w, http.StatusOK, api.LogsResponse{Logs: []minutes.JobLog{{Message: "Job created"}}})
		case "/v1/jobs/" + id.String() + "/review":
			var req api.ReviewRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "rev-1", req.ReviewerID)
			assert.True(t, req.Approved)
			writeJSON(w, http.StatusOK, minutes.Job{ID: id, Status: minutes.StatusProcessingRefinement})
		default:
			http.NotFound(w, r)
		}
	}))
	ctx := context.Background()

	logs, err := c.Logs(ctx, id, 20)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "Job created", logs[0].Message)

	job, err := c.SubmitReview(ctx, id, api.ReviewRequest{ReviewerID: "rev-1", Approved: true})
	require.NoError(t, err)
	assert.Equal(t, minutes.StatusProcessingRefinement, job.Status)
}

func TestExport(t *testing.T) {
	id := uuid.New()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "markdown", r.URL.Query().Get("format"))
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		_, _ = io.WriteString(w, "# Weekly sync\n")
	}))

	data, ct, err := c.Export(context.Background(), id, "markdown")
	require.NoError(t, err)
	assert.Equal(t, "# Weekly sync\n", string(data))
	assert.Equal(t, "text/markdown; charset=utf-8", ct)
}

func TestUploadFile(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/uploads", r.URL.Path)
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "agenda.txt", hdr.Filename)
		assert.Equal(t, "text/plain", hdr.Header.Get("Content-Type"))
		writeJSON(w, http.StatusCreated, minutes.FileInfo{ID: "f-1", OriginalName: hdr.Filename, Size: int64(len(data))})
	}))

	path := filepath.Join(t.TempDir(), "agenda.txt")
	require.NoError(t, os.WriteFile(path, []byte("1. Budget"), 0o600))

	fi, err := c.UploadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "f-1", fi.ID)
	assert.Equal(t, int64(9), fi.Size)

	_, err = c.UploadFile(context.Background(), filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			writeJSON(w, http.StatusOK, api.HealthResponse{Status: "ok"})
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, api.HealthResponse{Status: "degraded", Checks: map[string]string{"redis": "dial tcp: refused"}})
	}))

	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)

	healthy.Store(false)
	h, err = c.Health(context.Background())
	require.Error(t, err)
	assert.Equal(t, "dial tcp: refused", h.Checks["redis"])
}

func TestWait(t *testing.T) {
	id := uuid.New()
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := minutes.StatusProcessingDraft
		if calls.Add(1) >= 3 {
			status = minutes.StatusHITLPending
		}
		writeJSON(w, http.StatusOK, minutes.Job{ID: id, Status: status})
	}))

	var seen []minutes.Status
	job, err := c.Wait(context.Background(), id, time.Millisecond, Settled, func(j *minutes.Job) { seen = append(seen, j.Status) })
	require.NoError(t, err)
	assert.Equal(t, minutes.StatusHITLPending, job.Status)
	assert.Len(t, seen, 3)
}

func TestWait_Timeout(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, minutes.Job{Status: minutes.StatusProcessingExtraction})
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Wait(ctx, uuid.New(), 5*time.Millisecond, Settled, nil)
	assert.ErrorIs(t, err, ErrWaitTimeout)
}

func TestLoadClientTLSConfig(t *testing.T) {
	cfg, err := LoadClientTLSConfig(config.TLSConfig{})
	require.NoError(t, err)
	assert.Nil(t, cfg)

	cfg, err = LoadClientTLSConfig(config.TLSConfig{SkipVerify: true})
	require.NoError(t, err)
	assert.True(t, cfg.InsecureSkipVerify)

	bad := filepath.Join(t.TempDir(), "ca.crt")
	require.NoError(t, os.WriteFile(bad, []byte("not pem"), 0o600))
	_, err = LoadClientTLSConfig(config.TLSConfig{CACert: bad})
	assert.ErrorContains(t, err, "invalid PEM")
}

func TestCheckCertsExist(t *testing.T) {
	err := CheckCertsExist(config.TLSConfig{ClientKey: "/x"})
	assert.ErrorContains(t, err, "Client certificate not configured")

	dir := t.TempDir()
	cert := filepath.Join(dir, "client.crt")
	require.NoError(t, os.WriteFile(cert, nil, 0o600))
	err = CheckCertsExist(config.TLSConfig{ClientCert: cert, ClientKey: filepath.Join(dir, "client.key")})
	assert.True(t, strings.Contains(err.Error(), "Client key not found"))
}
