package portalsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// APIError is the gatehouse JSON error envelope as seen by a client.
type APIError struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Response is the decoded outcome of one portal request.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client is the portal HTTP client. It decorates a plain *http.Client with
// in-flight deduplication and connectivity tracking: identical concurrent
// requests share one round trip, and transport failures flip the monitor
// offline so the UI can queue work for reconnect.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	Dedupe  *RequestDeduplicator
	Monitor *ConnectionMonitor
}

// NewClient creates a portal client with deduplication and connection
// monitoring wired in.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Dedupe:     &RequestDeduplicator{},
		Monitor:    &ConnectionMonitor{},
	}
}

// Do performs one request against the portal. token may be empty for
// unauthenticated calls. Identical concurrent calls (same method, path and
// body) share a single round trip.
func (c *Client) Do(ctx context.Context, method, path, token string, body []byte) (*Response, error) {
	v, _, err := c.Dedupe.Do(ctx, method, path, body, func(ctx context.Context) (any, error) {
		return c.roundTrip(ctx, method, path, token, body)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Response), nil
}

func (c *Client) roundTrip(ctx context.Context, method, path, token string, body []byte) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if IsConnectivityError(err) {
			c.Monitor.SetOnline(false)
		}
		return nil, err
	}
	defer resp.Body.Close()

	c.Monitor.SetOnline(true)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if apiErr := parseAPIError(resp, raw); apiErr != nil {
		return nil, apiErr
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       raw,
	}, nil
}

// Heartbeat touches the server-side session row. Wire it as the
// ConflictResolver's Heartbeat callback:
//
//	resolver.Heartbeat = func(ctx context.Context, sessionID, userType string) {
//		_ = client.Heartbeat(ctx, store.GetToken(userType), sessionID, userType)
//	}
func (c *Client) Heartbeat(ctx context.Context, token, sessionID, userType string) error {
	payload, err := json.Marshal(map[string]string{
		"session_id": sessionID,
		"user_type":  userType,
	})
	if err != nil {
		return err
	}
	_, err = c.Do(ctx, http.MethodPost, "/api/session/heartbeat", token, payload)
	return err
}

// Logout removes the server-side session row.
func (c *Client) Logout(ctx context.Context, token, sessionID string) error {
	payload, err := json.Marshal(map[string]string{"session_id": sessionID})
	if err != nil {
		return err
	}
	_, err = c.Do(ctx, http.MethodDelete, "/api/session", token, payload)
	return err
}

// parseAPIError decodes the gatehouse error envelope for non-2xx responses.
// Returns nil for success responses.
func parseAPIError(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Code == "" {
		apiErr.Code = "server_error"
		apiErr.Description = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return apiErr
}
