package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// signedURLPath is the provider endpoint issuing one-shot connection URLs.
const signedURLPath = "/v1/convai/conversation/get-signed-url"

// outputFormat selects 8kHz µ-law agent audio, the format Twilio expects.
const outputFormat = "ulaw_8000"

// Client obtains signed connection URLs and dials the agent websocket.
type Client struct {
	config     Config
	httpClient *http.Client
	dialer     *websocket.Dialer

	// Statistics
	totalRequests  uint64
	failedRequests uint64

	mu sync.RWMutex
}

// Config contains agent provider configuration
type Config struct {
	APIURL      string
	AgentID     string
	APIKey      string
	DialTimeout time.Duration
}

// ClientStats represents client statistics for monitoring
type ClientStats struct {
	TotalRequests  uint64  `json:"total_requests"`
	FailedRequests uint64  `json:"failed_requests"`
	SuccessRate    float64 `json:"success_rate"`
}

// NewClient creates a new agent provider client
func NewClient(config Config) (*Client, error) {
	if config.APIURL == "" {
		return nil, fmt.Errorf("agent API URL cannot be empty")
	}
	if config.AgentID == "" {
		return nil, fmt.Errorf("agent ID cannot be empty")
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("agent API key cannot be empty")
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.DialTimeout,
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: config.DialTimeout,
		},
	}, nil
}

// signedURLResponse is the provider's issuance response body.
type signedURLResponse struct {
	SignedURL string `json:"signed_url"`
}

// SignedURL requests a one-shot authenticated connection URL for the
// configured agent and appends the fixed query parameter selecting µ-law
// narrowband output.
func (c *Client) SignedURL(ctx context.Context) (string, error) {
	c.mu.Lock()
	c.totalRequests++
	c.mu.Unlock()

	endpoint := fmt.Sprintf("%s%s?agent_id=%s", c.config.APIURL, signedURLPath, url.QueryEscape(c.config.AgentID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", c.fail(fmt.Errorf("failed to build signed URL request: %w", err))
	}
	req.Header.Set("xi-api-key", c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", c.fail(fmt.Errorf("signed URL request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", c.fail(fmt.Errorf("signed URL request returned status %d: %s", resp.StatusCode, body))
	}

	var issued signedURLResponse
	if err := json.NewDecoder(resp.Body).Decode(&issued); err != nil {
		return "", c.fail(fmt.Errorf("failed to decode signed URL response: %w", err))
	}
	if issued.SignedURL == "" {
		return "", c.fail(fmt.Errorf("signed URL response contained no URL"))
	}

	withFormat, err := appendOutputFormat(issued.SignedURL)
	if err != nil {
		return "", c.fail(err)
	}

	return withFormat, nil
}

// Dial obtains a signed URL and opens the agent websocket connection.
func (c *Client) Dial(ctx context.Context) (*websocket.Conn, error) {
	signedURL, err := c.SignedURL(ctx)
	if err != nil {
		return nil, err
	}

	conn, resp, err := c.dialer.DialContext(ctx, signedURL, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, c.fail(fmt.Errorf("failed to open agent socket (status %d): %w", status, err))
	}

	return conn, nil
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.totalRequests-c.failedRequests) / float64(c.totalRequests)
	}

	return ClientStats{
		TotalRequests:  c.totalRequests,
		FailedRequests: c.failedRequests,
		SuccessRate:    successRate,
	}
}

// fail records a failed request and passes the error through.
func (c *Client) fail(err error) error {
	c.mu.Lock()
	c.failedRequests++
	c.mu.Unlock()
	return err
}

// appendOutputFormat adds the narrowband output format selector to a signed
// connection URL, preserving the query parameters the provider issued.
func appendOutputFormat(signedURL string) (string, error) {
	parsed, err := url.Parse(signedURL)
	if err != nil {
		return "", fmt.Errorf("invalid signed URL: %w", err)
	}

	query := parsed.Query()
	query.Set("output_format", outputFormat)
	parsed.RawQuery = query.Encode()

	return parsed.String(), nil
}
