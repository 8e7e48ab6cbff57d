// Package upstox implements the broker client against the Upstox v2 REST API.
package upstox

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

const defaultBaseURL = "https://api.upstox.com/v2"

// TokenSource supplies the current access token. An empty token means the
// session is not authenticated.
type TokenSource interface {
	Token() string
}

// Client is an HTTP client for the Upstox v2 API.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a new Upstox API client.
func NewClient(tokens TokenSource, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    defaultBaseURL,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.With().Str("component", "upstox").Logger(),
	}
}

// apiResponse is the envelope every Upstox endpoint returns.
type apiResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Errors []apiError      `json:"errors,omitempty"`
}

type apiError struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

// get performs an authenticated GET and decodes the data envelope into dest.
func (c *Client) get(path string, query url.Values, dest interface{}) error {
	token := c.tokens.Token()
	if token == "" {
		return fmt.Errorf("no access token available")
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("unauthorized: token rejected by broker")
	}
	if resp.StatusCode != http.StatusOK {
		c.log.Warn().
			Int("status", resp.StatusCode).
			Str("path", path).
			Msg("Broker API error")
		return fmt.Errorf("broker returned HTTP %d", resp.StatusCode)
	}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if envelope.Status != "success" {
		if len(envelope.Errors) > 0 {
			return fmt.Errorf("broker error %s: %s", envelope.Errors[0].ErrorCode, envelope.Errors[0].Message)
		}
		return fmt.Errorf("broker returned status %q", envelope.Status)
	}

	if err := json.Unmarshal(envelope.Data, dest); err != nil {
		return fmt.Errorf("failed to decode data: %w", err)
	}
	return nil
}

// IsConnected reports whether a usable token is present.
func (c *Client) IsConnected() bool {
	return c.tokens.Token() != ""
}
