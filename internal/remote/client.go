// Package remote provides the client for the remote rule-management API.
// The primary update endpoint accepts only full-object replacement; a separate
// batch endpoint accepts partial field updates and is preferred for
// pause/unpause since it avoids a read-before-write race.
package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is the interface the controller depends on.
type Client interface {
	Fetch(ruleID string) (*Snapshot, error)
	Replace(ruleID string, obj *Snapshot) (*Snapshot, error)
	BatchPartialUpdate(ruleID string, delta FieldDelta) (*Snapshot, error)
	List(filter ListFilter) ([]*Snapshot, error)
}

// HTTPClient is an HTTP-based implementation of Client.
type HTTPClient struct {
	baseURL    string
	site       string
	apiKey     string
	httpClient *http.Client
}

// ClientOption configures the HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIKey sets the API key for authentication.
func WithAPIKey(key string) ClientOption {
	return func(c *HTTPClient) {
		c.apiKey = key
	}
}

// WithSite sets the site identifier used in request paths.
func WithSite(site string) ClientOption {
	return func(c *HTTPClient) {
		c.site = site
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		if c.httpClient != nil {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client (used by tests).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.httpClient = hc
	}
}

// NewHTTPClient creates a client for the given controller base URL.
func NewHTTPClient(baseURL string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		site:    "default",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// doRequest performs an HTTP request and decodes the JSON response.
func (c *HTTPClient) doRequest(op, method, path string, ruleID string, body any, result any) error {
	url := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			Op:     op,
			RuleID: ruleID,
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(respBody)),
		}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return decodeError(op, err)
		}
	}

	return nil
}

func (c *HTTPClient) rulePath(ruleID string) string {
	return fmt.Sprintf("/api/sites/%s/downtime-rules/%s", c.site, ruleID)
}

// Fetch retrieves the current authoritative rule object.
func (c *HTTPClient) Fetch(ruleID string) (*Snapshot, error) {
	var snap Snapshot
	if err := c.doRequest("fetch", http.MethodGet, c.rulePath(ruleID), ruleID, nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Replace performs a full-object replacement. Every required field must be
// present; an omission is rejected locally before any bytes go out, since the
// remote would reject it as a bad request anyway and a local check keeps the
// failure attributable.
func (c *HTTPClient) Replace(ruleID string, obj *Snapshot) (*Snapshot, error) {
	if err := validateRequired(obj); err != nil {
		return nil, fmt.Errorf("%w: replace %s: %v", ErrBadRequest, ruleID, err)
	}
	var snap Snapshot
	if err := c.doRequest("replace", http.MethodPut, c.rulePath(ruleID), ruleID, obj, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// BatchPartialUpdate sends a partial field update through the batch endpoint.
func (c *HTTPClient) BatchPartialUpdate(ruleID string, delta FieldDelta) (*Snapshot, error) {
	payload := map[string]any{
		"updates": []map[string]any{
			func() map[string]any {
				m := map[string]any{"id": ruleID}
				for k, v := range delta {
					m[k] = v
				}
				return m
			}(),
		},
	}
	var resp struct {
		Rules []*Snapshot `json:"rules"`
	}
	path := fmt.Sprintf("/api/sites/%s/downtime-rules/batch", c.site)
	if err := c.doRequest("batch-update", http.MethodPatch, path, ruleID, payload, &resp); err != nil {
		return nil, err
	}
	if len(resp.Rules) == 0 {
		return nil, decodeError("batch-update", fmt.Errorf("empty rules array in response"))
	}
	return resp.Rules[0], nil
}

// List retrieves all rules for the site, filtered client-side.
func (c *HTTPClient) List(filter ListFilter) ([]*Snapshot, error) {
	var resp struct {
		Rules []*Snapshot `json:"rules"`
	}
	path := fmt.Sprintf("/api/sites/%s/downtime-rules", c.site)
	if err := c.doRequest("list", http.MethodGet, path, "", nil, &resp); err != nil {
		return nil, err
	}

	if len(filter.NamePrefixes) == 0 {
		return resp.Rules, nil
	}
	var out []*Snapshot
	for _, r := range resp.Rules {
		for _, p := range filter.NamePrefixes {
			if strings.HasPrefix(r.Name, p) {
				out = append(out, r)
				break
			}
		}
	}
	return out, nil
}

// validateRequired checks the fields the replace endpoint will not accept
// missing: type, enabled, name, action, priority index. Enabled and index are
// value types and always serialize; the strings must be non-empty.
func validateRequired(obj *Snapshot) error {
	if obj == nil {
		return fmt.Errorf("nil rule object")
	}
	if obj.Type == "" {
		return fmt.Errorf("missing required field: type")
	}
	if obj.Name == "" {
		return fmt.Errorf("missing required field: name")
	}
	if obj.Action == "" {
		return fmt.Errorf("missing required field: action")
	}
	return nil
}
