// Package client calls the minutes HTTP API. The job, review and export CLI
// commands use it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/otherjamesbrown/minutes/config"
	"github.com/otherjamesbrown/minutes/pkg/buildinfo"
	mnerrors "github.com/otherjamesbrown/minutes/pkg/errors"
	"github.com/otherjamesbrown/minutes/pkg/minutes"
	"github.com/otherjamesbrown/minutes/pkg/minutes/api"
	"github.com/otherjamesbrown/minutes/pkg/minutes/extraction"
)

// Default retry settings for idempotent requests.
const (
	DefaultTimeout           = 2 * time.Minute
	DefaultMaxRetries        = 3
	DefaultInitialBackoff    = 100 * time.Millisecond
	DefaultMaxBackoff        = 5 * time.Second
	DefaultBackoffMultiplier = 2.0
)

// Options configures a Client.
type Options struct {
	Timeout           time.Duration
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	// HTTPClient replaces the default client; Timeout is then ignored.
	HTTPClient *http.Client
}

// DefaultOptions returns the default client options.
func DefaultOptions() Options {
	return Options{
		Timeout:           DefaultTimeout,
		MaxRetries:        DefaultMaxRetries,
		InitialBackoff:    DefaultInitialBackoff,
		MaxBackoff:        DefaultMaxBackoff,
		BackoffMultiplier: DefaultBackoffMultiplier,
	}
}

// Client is a minutes API client. It is safe for concurrent use.
type Client struct {
	base *url.URL
	http *http.Client
	opts Options
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("api: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Unwrap maps the response code onto the engine's sentinels so callers can
// use the errors predicates.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case "validation_error":
		return mnerrors.ErrValidation
	case "not_found":
		return mnerrors.ErrNotFound
	case "invalid_state":
		return mnerrors.ErrInvalidState
	case "conflict":
		return mnerrors.ErrConflict
	}
	return nil
}

// New creates a client for serverURL, e.g. "http://localhost:8080".
func New(serverURL string, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", serverURL)
	}
	d := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = d.Timeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = d.InitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = d.MaxBackoff
	}
	if opts.BackoffMultiplier < 1 {
		opts.BackoffMultiplier = d.BackoffMultiplier
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{base: u, http: hc, opts: opts}, nil
}

// FromConfig builds a client from the CLI section of the service config.
func FromConfig(cfg config.ClientConfig) (*Client, error) {
	opts := DefaultOptions()
	opts.Timeout = cfg.Timeout
	tlsCfg, err := LoadClientTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = tlsCfg
		opts.HTTPClient = &http.Client{Timeout: cfg.Timeout, Transport: transport}
	}
	return New(cfg.ServerURL, opts)
}

func (c *Client) endpoint(p string, q url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + p
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// do sends one request. GETs are retried on transport errors and 5xx.
func (c *Client) do(ctx context.Context, method, p string, q url.Values, body []byte, contentType string) (*http.Response, error) {
	attempts := 1
	if method == http.MethodGet {
		attempts += c.opts.MaxRetries
	}
	backoff := c.opts.InitialBackoff

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff = time.Duration(float64(backoff) * c.opts.BackoffMultiplier)
			if backoff > c.opts.MaxBackoff {
				backoff = c.opts.MaxBackoff
			}
		}

		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.endpoint(p, q), rd)
		if err != nil {
			return nil, err
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "minutes-cli/"+buildinfo.Version)

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 && i < attempts-1 {
			lastErr = decodeError(resp)
			continue
		}
		if resp.StatusCode >= 400 {
			return nil, decodeError(resp)
		}
		return resp, nil
	}
	return nil, lastErr
}

func decodeError(resp *http.Response) error {
	defer resp.Body.Close()
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var er api.ErrorResponse
	if json.Unmarshal(data, &er) == nil && (er.Error != "" || er.Code != "") {
		apiErr.Code, apiErr.Message = er.Code, er.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

func (c *Client) getJSON(ctx context.Context, p string, q url.Values, out any) error {
	resp, err := c.do(ctx, http.MethodGet, p, q, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) postJSON(ctx context.Context, p string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}
	resp, err := c.do(ctx, http.MethodPost, p, nil, body, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func jobPath(id uuid.UUID, suffix string) string {
	return "/v1/jobs/" + id.String() + suffix
}

// CreateJob submits a job for files.
func (c *Client) CreateJob(ctx context.Context, userID string, files []minutes.FileInfo, cfg minutes.ProcessingConfig) (*api.CreateJobResponse, error) {
	var out api.CreateJobResponse
	err := c.postJSON(ctx, "/v1/jobs", api.CreateJobRequest{UserID: userID, Files: files, Config: cfg}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetJob fetches a job with its stage outputs.
func (c *Client) GetJob(ctx context.Context, id uuid.UUID) (*minutes.Job, error) {
	var job minutes.Job
	if err := c.getJSON(ctx, jobPath(id, ""), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Logs lists a job's log entries. limit 0 means the server default.
func (c *Client) Logs(ctx context.Context, id uuid.UUID, limit int) ([]minutes.JobLog, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out api.LogsResponse
	if err := c.getJSON(ctx, jobPath(id, "/logs"), q, &out); err != nil {
		return nil, err
	}
	return out.Logs, nil
}

// SubmitReview saves or approves a human review.
func (c *Client) SubmitReview(ctx context.Context, id uuid.UUID, req api.ReviewRequest) (*minutes.Job, error) {
	var job minutes.Job
	if err := c.postJSON(ctx, jobPath(id, "/review"), req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Cancel cancels a non-terminal job.
func (c *Client) Cancel(ctx context.Context, id uuid.UUID) (*minutes.Job, error) {
	var job minutes.Job
	if err := c.postJSON(ctx, jobPath(id, "/cancel"), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Retry re-enters a failed job at the stage that failed.
func (c *Client) Retry(ctx context.Context, id uuid.UUID) (*minutes.Job, error) {
	var job minutes.Job
	if err := c.postJSON(ctx, jobPath(id, "/retry"), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Export renders the final minutes. format is text, markdown or json.
func (c *Client) Export(ctx context.Context, id uuid.UUID, format string) ([]byte, string, error) {
	q := url.Values{}
	if format != "" {
		q.Set("format", format)
	}
	resp, err := c.do(ctx, http.MethodGet, jobPath(id, "/export"), q, nil, "")
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("reading export: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// Upload stores one input file and returns its FileInfo for CreateJob.
func (c *Client) Upload(ctx context.Context, name string, r io.Reader, contentType string) (*minutes.FileInfo, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, http.MethodPost, "/v1/uploads", nil, buf.Bytes(), mw.FormDataContentType())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var fi minutes.FileInfo
	if err := json.NewDecoder(resp.Body).Decode(&fi); err != nil {
		return nil, fmt.Errorf("decoding upload response: %w", err)
	}
	return &fi, nil
}

// UploadFile uploads a local file, guessing its type from the extension.
func (c *Client) UploadFile(ctx context.Context, path string) (*minutes.FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return c.Upload(ctx, filepath.Base(path), f, extraction.MIMEForName(path))
}

// Health calls /healthz. A degraded server returns its report with an error.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/healthz", nil), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out api.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding health: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &out, fmt.Errorf("server %s", out.Status)
	}
	return &out, nil
}

// Version calls /version.
func (c *Client) Version(ctx context.Context) (*buildinfo.Info, error) {
	var info buildinfo.Info
	if err := c.getJSON(ctx, "/version", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ErrWaitTimeout is returned by Wait when ctx ends first.
var ErrWaitTimeout = errors.New("timed out waiting for job")

// Wait polls the job until done returns true, then returns it. onPoll, when
// set, sees every fetched job.
func (c *Client) Wait(ctx context.Context, id uuid.UUID, interval time.Duration, done func(*minutes.Job) bool, onPoll func(*minutes.Job)) (*minutes.Job, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if onPoll != nil {
			onPoll(job)
		}
		if done(job) {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, fmt.Errorf("%w: %s is %s", ErrWaitTimeout, id, job.Status)
		case <-ticker.C:
		}
	}
}

// Settled reports whether a job needs no further polling: it is terminal or
// waiting for a reviewer.
func Settled(job *minutes.Job) bool {
	return job.Status.IsTerminal() || job.Status == minutes.StatusHITLPending
}
