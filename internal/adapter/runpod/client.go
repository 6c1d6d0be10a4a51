package runpod

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prabinpebam/wan22-runpod/internal/domain"
	"github.com/prabinpebam/wan22-runpod/internal/port"
)

// ErrNotConfigured indicates that no endpoint or credential has been
// saved yet.
var ErrNotConfigured = errors.New("runpod: endpoint and api key are not configured")

// ErrMalformedStatus indicates a success response whose body is missing
// the status field. The poll loop treats it as a skippable tick.
var ErrMalformedStatus = errors.New("runpod: status response missing status field")

// APIError is a non-success HTTP response from the generation service.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("runpod: HTTP %d: %s", e.StatusCode, e.Body)
}

// CredentialSource supplies the current endpoint and credential. The
// client reads it on every call so settings changes apply without
// rebuilding anything.
type CredentialSource interface {
	APIConfig() domain.APIConfig
}

// Options configures the client.
type Options struct {
	Credentials    CredentialSource
	HTTPClient     *http.Client
	RequestTimeout time.Duration
}

// Client performs HTTP calls against a RunPod-style serverless endpoint.
type Client struct {
	creds      CredentialSource
	httpClient *http.Client
}

func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		creds:      opts.Credentials,
		httpClient: httpClient,
	}
}

type submitInput struct {
	Prompt         string            `json:"prompt"`
	ImageBase64    string            `json:"image_base64"`
	Seed           int               `json:"seed"`
	Cfg            float64           `json:"cfg"`
	Width          int               `json:"width"`
	Height         int               `json:"height"`
	Length         int               `json:"length"`
	Steps          int               `json:"steps"`
	NegativePrompt string            `json:"negative_prompt,omitempty"`
	LoraPairs      []domain.LoraPair `json:"lora_pairs,omitempty"`
}

type submitRequest struct {
	Input submitInput `json:"input"`
}

type submitResponse struct {
	ID string `json:"id"`
}

func (c *Client) Submit(ctx context.Context, sub domain.Submission) (string, error) {
	body := submitRequest{Input: submitInput{
		Prompt:         sub.Prompt,
		ImageBase64:    sub.Base64Payload(),
		Seed:           sub.Seed,
		Cfg:            sub.Cfg,
		Width:          sub.Width,
		Height:         sub.Height,
		Length:         sub.Length,
		Steps:          sub.Steps,
		NegativePrompt: strings.TrimSpace(sub.NegativePrompt),
		LoraPairs:      sub.LoraPairs,
	}}

	var resp submitResponse
	if err := c.do(ctx, http.MethodPost, "/run", body, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) Status(ctx context.Context, jobID string) (domain.RemoteStatus, error) {
	var resp domain.RemoteStatus
	if err := c.do(ctx, http.MethodGet, "/status/"+jobID, nil, &resp); err != nil {
		return domain.RemoteStatus{}, err
	}
	if resp.Status == "" {
		return domain.RemoteStatus{}, ErrMalformedStatus
	}
	return resp, nil
}

func (c *Client) Cancel(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodPost, "/cancel/"+jobID, nil, nil)
}

func (c *Client) Health(ctx context.Context) (domain.HealthReport, error) {
	var resp domain.HealthReport
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return domain.HealthReport{}, err
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	cfg := c.creds.APIConfig()
	if !cfg.Configured() {
		return ErrNotConfigured
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("runpod: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	url := strings.TrimRight(cfg.Endpoint, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("runpod: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", cfg.APIKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("runpod: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(msg)),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("runpod: decode response: %w", err)
	}
	return nil
}

var _ port.JobRunner = (*Client)(nil)
