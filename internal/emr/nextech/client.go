// Package nextech implements the booking adapter for the Nextech FHIR API.
package nextech

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

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/wolfman30/scheduling-integrator/internal/scheduling"
)

// Client is the authenticated FHIR transport used by the adapter.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Config holds configuration for the Nextech client
type Config struct {
	BaseURL      string // e.g., "https://api.nextech.com" or sandbox URL
	ClientID     string // OAuth 2.0 client ID
	ClientSecret string // OAuth 2.0 client secret
	Timeout      time.Duration
	// HTTPClient is the base transport for token and API calls.
	HTTPClient *http.Client
}

// New creates a new Nextech client. Tokens are fetched with the client
// credentials grant and refreshed before expiry.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("nextech: BaseURL is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("nextech: ClientID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("nextech: ClientSecret is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: timeout}
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	creds := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     baseURL + "/connect/token",
		Scopes:       []string{"patient/*.read", "patient/*.write"},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	httpClient := creds.Client(tokenCtx)
	httpClient.Timeout = timeout

	return &Client{baseURL: baseURL, httpClient: httpClient}, nil
}

// apiError is a non-2xx response.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.Status, e.Body)
}

// do sends a FHIR request and decodes the response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("nextech: failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("nextech: failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/fhir+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/fhir+json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("nextech: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &apiError{Status: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("nextech: failed to decode response: %w", err)
	}
	return nil
}

// classify maps transport failures onto integrator error kinds.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusNotFound:
			return scheduling.NotFound(op, "%s", apiErr.Body)
		case http.StatusConflict:
			return scheduling.Conflict(op, "%s", apiErr.Body)
		}
	}
	return scheduling.IntegrationError(op, err, "nextech request failed")
}
