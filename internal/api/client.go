// Package api implements the HTTP client for the transcription service REST
// endpoints: job status lookup and result artifact retrieval. Credentials
// come from an external collaborator; this package never issues them.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"transcript-client/internal/domain"
)

// ErrNoCredential is returned when the credential source has nothing to offer.
var ErrNoCredential = errors.New("no credential available")

// CredentialSource supplies the bearer credential for API calls. Token
// issuance and refresh live outside this client.
type CredentialSource interface {
	Credential(ctx context.Context) (string, error)
}

// StaticCredential is a fixed-token credential source.
type StaticCredential string

// Credential returns the fixed token or ErrNoCredential when empty.
func (s StaticCredential) Credential(ctx context.Context) (string, error) {
	if s == "" {
		return "", ErrNoCredential
	}
	return string(s), nil
}

// APIError is a non-2xx response from the service.
type APIError struct {
	StatusCode int
	Message    string
}

// Error formats the failure with HTTP status context.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Message)
}

// Client calls the transcription service REST API.
type Client struct {
	baseURL    string
	creds      CredentialSource
	httpClient *http.Client

	statusTimeout time.Duration
}

// NewClient creates a client for the given API base URL, for example
// "https://host/api/v1". A trailing slash on the base is tolerated.
func NewClient(baseURL string, creds CredentialSource) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		creds:         creds,
		httpClient:    &http.Client{},
		statusTimeout: 10 * time.Second,
	}
}

// JobStatus fetches the full job representation for one job id.
func (c *Client) JobStatus(ctx context.Context, jobID string) (domain.Job, error) {
	ctx, cancel := context.WithTimeout(ctx, c.statusTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, c.baseURL+"/transcription/status/"+jobID)
	if err != nil {
		return domain.Job{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Job{}, fmt.Errorf("fetch job status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Job{}, readAPIError(resp)
	}

	var job domain.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return domain.Job{}, fmt.Errorf("decode job status: %w", err)
	}
	return job, nil
}

// OpenArtifact starts a download of one result artifact and returns the byte
// stream plus total size, or -1 when the server sent no Content-Length. The
// caller owns closing the stream.
func (c *Client) OpenArtifact(ctx context.Context, jobID, format string) (io.ReadCloser, int64, error) {
	req, err := c.newRequest(ctx, c.baseURL+"/transcription/download/"+jobID+"/"+format)
	if err != nil {
		return nil, 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("open artifact stream: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, 0, readAPIError(resp)
	}

	return resp.Body, resp.ContentLength, nil
}

// newRequest builds a bearer-authenticated GET request.
func (c *Client) newRequest(ctx context.Context, url string) (*http.Request, error) {
	token, err := c.creds.Credential(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve credential: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// readAPIError extracts a service error message from a non-2xx response.
func readAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return apiErr
	}

	var payload struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Detail != "" {
			apiErr.Message = payload.Detail
		} else {
			apiErr.Message = payload.Message
		}
	}
	return apiErr
}
