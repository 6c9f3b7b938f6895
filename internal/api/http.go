package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds a single API round-trip.
const DefaultTimeout = 15 * time.Second

// maxBodyBytes caps how much of a response is read.
const maxBodyBytes = 8 << 20

// HTTPConfig configures an HTTPFetcher.
type HTTPConfig struct {
	// BaseURL is the API root, e.g. "https://api.example.com".
	BaseURL string
	// Token, if set, is sent as a Bearer Authorization header.
	Token string
	// Timeout bounds each request. Zero means DefaultTimeout.
	Timeout time.Duration
	// HTTPClient overrides the client. If nil, one with a cookie jar is
	// created so session cookies set by the API are sent back.
	HTTPClient *http.Client
}

// HTTPFetcher implements Fetcher over net/http. Request URLs are built by
// concatenating BaseURL and the path.
type HTTPFetcher struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPFetcher validates config and returns a fetcher.
func NewHTTPFetcher(config HTTPConfig) (*HTTPFetcher, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("api: BaseURL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("api: invalid BaseURL %q: %w", config.BaseURL, err)
	}

	client := config.HTTPClient
	if client == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("api: cookie jar: %w", err)
		}
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Jar: jar, Timeout: timeout}
	}

	return &HTTPFetcher{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		token:   config.Token,
		client:  client,
	}, nil
}

// Fetch issues GET baseURL+path. Every response, whatever its status, is
// returned without error.
func (f *HTTPFetcher) Fetch(ctx context.Context, path string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+path, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body: %w", err)
	}

	slog.Debug("api fetch",
		"path", path,
		"status", resp.StatusCode,
		"bytes", len(body),
	)
	return resp.StatusCode, body, nil
}
