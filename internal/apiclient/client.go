// Package apiclient is the Go client for the deepscan HTTP API used by the
// CLI.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"deepscan/internal/api"
	"deepscan/internal/services"
)

// ErrAPIUnavailable reports that no daemon answered at the configured URL.
var ErrAPIUnavailable = errors.New("deepscan API unavailable")

// Error is a non-2xx reply decoded from the API's error body.
type Error struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *Error) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("api %d (%s): %s", e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("api %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps the reply kind back onto the services taxonomy so callers can
// use errors.Is with the services markers.
func (e *Error) Unwrap() error {
	switch e.Kind {
	case api.CodeResourceLimitExceeded, string(services.KindResourceLimit):
		return services.ErrResourceLimit
	case string(services.KindValidation):
		return services.ErrValidation
	case string(services.KindNotFound):
		return services.ErrNotFound
	case string(services.KindConfiguration):
		return services.ErrConfiguration
	}
	return nil
}

// Client talks to one daemon.
type Client struct {
	base  *url.URL
	http  *http.Client
	token string
}

// New parses baseURL; a bare host:port is treated as http.
func New(baseURL, token string) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("api url is required")
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""
	return &Client{base: base, http: &http.Client{}, token: token}, nil
}

// WithHTTPClient replaces the transport (tests).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

// Submit creates a job.
func (c *Client) Submit(ctx context.Context, req api.SubmitRequest) (api.Job, error) {
	var job api.Job
	err := c.do(ctx, http.MethodPost, "/v1/jobs", nil, req, &job)
	return job, err
}

// ListJobs lists jobs, optionally filtered by status.
func (c *Client) ListJobs(ctx context.Context, statuses []string, limit int) ([]api.Job, error) {
	values := url.Values{}
	if len(statuses) > 0 {
		values.Set("status", strings.Join(statuses, ","))
	}
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	var resp api.JobListResponse
	if err := c.do(ctx, http.MethodGet, "/v1/jobs", values, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// GetJob fetches one job record.
func (c *Client) GetJob(ctx context.Context, id string) (api.Job, error) {
	var job api.Job
	err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(id), nil, nil, &job)
	return job, err
}

// Result fetches the detection result for a job.
func (c *Client) Result(ctx context.Context, id string) (api.ResultResponse, error) {
	var resp api.ResultResponse
	err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(id)+"/result", nil, nil, &resp)
	return resp, err
}

// CacheKeys lists cache keys matching pattern.
func (c *Client) CacheKeys(ctx context.Context, pattern string) (api.CacheKeysResponse, error) {
	values := url.Values{}
	if pattern != "" {
		values.Set("pattern", pattern)
	}
	var resp api.CacheKeysResponse
	err := c.do(ctx, http.MethodGet, "/v1/cache/keys", values, nil, &resp)
	return resp, err
}

// InvalidateCache removes keys matching pattern.
func (c *Client) InvalidateCache(ctx context.Context, pattern string) (api.InvalidateResponse, error) {
	var resp api.InvalidateResponse
	err := c.do(ctx, http.MethodDelete, "/v1/cache", url.Values{"pattern": {pattern}}, nil, &resp)
	return resp, err
}

// ParseKey asks the daemon to parse a cache key.
func (c *Client) ParseKey(ctx context.Context, key string) (api.ParsedKeyResponse, error) {
	var resp api.ParsedKeyResponse
	err := c.do(ctx, http.MethodGet, "/v1/cache/parse", url.Values{"key": {key}}, nil, &resp)
	return resp, err
}

// Health fetches /healthz. A degraded daemon still returns its payload.
func (c *Client) Health(ctx context.Context) (api.HealthResponse, error) {
	var resp api.HealthResponse
	err := c.do(ctx, http.MethodGet, "/healthz", nil, nil, &resp)
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable && resp.Status != "" {
		return resp, nil
	}
	return resp, err
}

func (c *Client) endpoint(path string, values url.Values) *url.URL {
	ref := &url.URL{Path: path}
	if len(values) > 0 {
		ref.RawQuery = values.Encode()
	}
	return c.base.ResolveReference(ref)
}

func (c *Client) do(ctx context.Context, method, path string, values url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, values).String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if IsAPIUnavailable(err) {
			return fmt.Errorf("%w: %w", ErrAPIUnavailable, err)
		}
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &Error{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var payload api.ErrorResponse
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			apiErr.Kind = payload.Kind
			apiErr.Message = payload.Error
		}
		if out != nil && resp.StatusCode == http.StatusServiceUnavailable {
			_ = json.Unmarshal(raw, out)
		}
		return apiErr
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsAPIUnavailable reports connection-level failures.
func IsAPIUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAPIUnavailable) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
