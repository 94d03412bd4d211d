// Package transform implements the HTTP client for the external Transform
// Service: an asynchronous provider that accepts an input artifact and later
// produces an output artifact through a poll-based completion protocol. The
// package owns the provider's status vocabulary and maps it onto the job
// state machine's canonical states.
package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Provider status vocabulary, as returned by the status endpoint.
const (
	ProviderQueued     = "queued"
	ProviderProcessing = "processing"
	ProviderReady      = "ready"
	ProviderError      = "error"
)

// Client-level error classes. Callers branch on these to decide whether a
// failure costs the subject anything (it never does) and whether a retry is
// sensible.
var (
	// ErrUnavailable covers transport failures and 5xx responses: the
	// provider never accepted the work, safe to retry later.
	ErrUnavailable = errors.New("transform service unavailable")

	// ErrRejected covers content-specific refusals (e.g. a face-swap
	// pre-processing step finding no face); retrying the same input is
	// pointless.
	ErrRejected = errors.New("transform service rejected input")
)

// SubmitResponse is the provider's acknowledgement of accepted work.
type SubmitResponse struct {
	ExternalID string `json:"id"`
	Status     string `json:"status"`
}

// StatusResponse is one poll observation.
type StatusResponse struct {
	Status    string `json:"status"`
	ResultURL string `json:"result_url,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Client talks to the Transform Service over its submit/poll HTTP contract.
// It is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New constructs a Client for the given base URL. timeout bounds each
// individual submit/status round trip, not the job's lifetime.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// Submit sends one transformation request. kind selects the provider
// pipeline, inputURL must be fetchable by the provider, and params carry
// kind-specific options.
//
// Error mapping: 422 (provider precondition failed, e.g. no face detected)
// returns ErrRejected; other 4xx are treated as rejections too since the
// request reached the provider and was refused; transport errors and 5xx
// return ErrUnavailable.
func (c *Client) Submit(ctx context.Context, kind, inputURL string, params map[string]string) (*SubmitResponse, error) {
	body := map[string]any{
		"input_url": inputURL,
	}
	if len(params) > 0 {
		body["params"] = params
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1/transform/%s", c.baseURL, kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	c.decorate(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: %s", ErrRejected, readErrorMessage(resp.Body))
	}

	var out SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding submit response: %v", ErrUnavailable, err)
	}
	if out.ExternalID == "" {
		return nil, fmt.Errorf("%w: submit response missing id", ErrUnavailable)
	}
	return &out, nil
}

// Status polls one job by its provider-assigned id.
func (c *Client) Status(ctx context.Context, externalID string) (*StatusResponse, error) {
	url := fmt.Sprintf("%s/v1/transform/%s", c.baseURL, externalID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.decorate(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var out StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding status response: %v", ErrUnavailable, err)
	}
	return &out, nil
}

func (c *Client) decorate(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// readErrorMessage extracts a compact message from an error body, tolerating
// both {"error": "..."} payloads and plain text.
func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return "no detail"
	}
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return string(raw)
}
