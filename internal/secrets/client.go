// Package secrets holds the connectivity surface to the credential vault.
// Credential management itself lives outside this service; only the health
// probe consumed by monitoring is needed here.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 5 * time.Second

var ErrNotConfigured = errors.New("secrets: store address not configured")

// Client checks reachability of the secret store.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient builds a probe client. An empty baseURL yields a client whose
// Ping always reports ErrNotConfigured, which the health endpoint surfaces
// as degraded rather than unhealthy.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// Configured reports whether a store address was supplied.
func (c *Client) Configured() bool { return c.baseURL != "" }

// Ping performs one synchronous connectivity check.
func (c *Client) Ping(ctx context.Context) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/sys/health", nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("secret store returned status %d", resp.StatusCode)
	}
	return nil
}
