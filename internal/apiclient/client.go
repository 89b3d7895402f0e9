// Package apiclient calls the game API from Go: the headless simulator and
// the operator CLI use it.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"farmhands/internal/app/requester"
	"farmhands/internal/decision"
)

// APIError is a non-2xx reply. Code is the API's error code when the body
// carried one.
type APIError struct {
	Status int
	Code   string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("game api returned status %d", e.Status)
	}
	return fmt.Sprintf("game api returned status %d: %s", e.Status, e.Code)
}

type Client struct {
	base string
	http *http.Client
}

// New targets base, the URL the /ai-decision, /job-status and /health routes
// hang off (for example http://localhost:3000/api/game).
func New(base string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{base: strings.TrimRight(base, "/"), http: hc}
}

func (c *Client) SubmitDecision(ctx context.Context, req decision.Request) (requester.JobHandle, error) {
	var out requester.JobHandle
	err := c.do(ctx, http.MethodPost, "/ai-decision", req, &out)
	return out, err
}

func (c *Client) JobStatus(ctx context.Context, jobID string) (requester.JobStatus, error) {
	var out requester.JobStatus
	err := c.do(ctx, http.MethodGet, "/job-status/"+url.PathEscape(jobID), nil, &out)
	return out, err
}

// Health returns the decoded body even for an unhealthy reply, together with
// the APIError.
func (c *Client) Health(ctx context.Context) (requester.Health, error) {
	var out requester.Health
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{Status: resp.StatusCode}
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &e) == nil {
			apiErr.Code = e.Error
		}
		if out != nil {
			_ = json.Unmarshal(raw, out)
		}
		return apiErr
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
