package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Second

// RESTClient talks to the directory's HTTP API. One request per call, no
// retries; classification of failures into transient/permanent happens here.
type RESTClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ Client = (*RESTClient)(nil)

// RESTOption configures the client.
type RESTOption func(*RESTClient)

// WithHTTPClient overrides the underlying http.Client (useful for tests).
func WithHTTPClient(c *http.Client) RESTOption {
	return func(r *RESTClient) {
		if c != nil {
			r.httpClient = c
		}
	}
}

// NewRESTClient builds a client for the given base URL and bearer token.
func NewRESTClient(baseURL, token string, opts ...RESTOption) (*RESTClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("directory: base url is required")
	}
	c := &RESTClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type updateRolePayload struct {
	Role string `json:"role"`
}

type createMappingResponse struct {
	ID string `json:"id"`
}

func (c *RESTClient) UpdateRole(ctx context.Context, externalID, role string) error {
	const op = "update_role"
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return Permanent(op, 0, errors.New("external id is required"))
	}
	path := "/v1/accounts/" + url.PathEscape(externalID) + "/role"
	resp, err := c.send(ctx, http.MethodPatch, path, updateRolePayload{Role: role})
	if err != nil {
		return classifyTransport(op, err)
	}
	defer drain(resp)
	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK {
		return nil
	}
	return classifyStatus(op, resp.StatusCode)
}

func (c *RESTClient) CreateMapping(ctx context.Context, account Account) (string, error) {
	const op = "create_mapping"
	resp, err := c.send(ctx, http.MethodPost, "/v1/accounts", account)
	if err != nil {
		return "", classifyTransport(op, err)
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", classifyStatus(op, resp.StatusCode)
	}
	var payload createMappingResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return "", Permanent(op, resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	if strings.TrimSpace(payload.ID) == "" {
		return "", Permanent(op, resp.StatusCode, errors.New("directory returned empty id"))
	}
	return payload.ID, nil
}

func (c *RESTClient) Ping(ctx context.Context) error {
	const op = "ping"
	resp, err := c.send(ctx, http.MethodGet, "/v1/ping", nil)
	if err != nil {
		return classifyTransport(op, err)
	}
	defer drain(resp)
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return classifyStatus(op, resp.StatusCode)
}

func (c *RESTClient) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.httpClient.Do(req)
}

// classifyStatus maps HTTP statuses onto the retry taxonomy: throttling,
// timeouts and server errors are transient; auth and not-found are not.
func classifyStatus(op string, status int) *Error {
	switch {
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout:
		return Transient(op, status, errors.New("directory throttled the request"))
	case status >= 500:
		return Transient(op, status, errors.New("directory server error"))
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Permanent(op, status, ErrPermissionDenied)
	case status == http.StatusNotFound:
		return Permanent(op, status, ErrNotMapped)
	default:
		return Permanent(op, status, fmt.Errorf("unexpected status %d", status))
	}
}

// classifyTransport treats network-level failures (connection refused, DNS,
// timeouts) as transient. A canceled caller context is not retried.
func classifyTransport(op string, err error) *Error {
	if errors.Is(err, context.Canceled) {
		return Permanent(op, 0, err)
	}
	return Transient(op, 0, err)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()
}
