// Package api is the engine's view of the authoritative HTTP API.
//
// The engine only ever reads: it treats the API as a function from a path
// to (status, body). Fetcher is that function. HTTPFetcher implements it
// over net/http; tests substitute scripted fetchers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Fetcher retrieves an API resource. A transport failure is returned as
// err; any response, successful or not, is returned as (status, body).
type Fetcher interface {
	Fetch(ctx context.Context, path string) (status int, body []byte, err error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, path string) (int, []byte, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, path string) (int, []byte, error) {
	return f(ctx, path)
}

// DefaultPageSize is the number of messages requested per channel.
// Matches the server's default page.
const DefaultPageSize = 100

// OrganizationPath is GET /organisations/:id.
func OrganizationPath(orgID string) string {
	return "/organisations/" + url.PathEscape(orgID)
}

// ChannelsPath is GET /organisations/:id/channels.
func ChannelsPath(orgID string) string {
	return OrganizationPath(orgID) + "/channels"
}

// MessagesPath is GET /organisations/:id/channels/:channelId/messages.
func MessagesPath(orgID, channelID string, skip, take int) string {
	q := url.Values{}
	q.Set("skip", strconv.Itoa(skip))
	q.Set("take", strconv.Itoa(take))
	return ChannelsPath(orgID) + "/" + url.PathEscape(channelID) + "/messages?" + q.Encode()
}

// IsSuccess reports whether status is 2xx.
func IsSuccess(status int) bool {
	return status >= 200 && status < 300
}

// StatusError is a non-2xx API response.
type StatusError struct {
	Path    string
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d: %s", e.Path, e.Status, e.Message)
}

// IsStatusError reports whether err is a *StatusError with the given
// status. A status of 0 matches any StatusError.
func IsStatusError(err error, status int) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return status == 0 || se.Status == status
	}
	return false
}

// UnknownErrorMessage is reported when an error body carries no message.
const UnknownErrorMessage = "An unknown error occurred"

type errorBody struct {
	Message json.RawMessage `json:"message"`
	Error   string          `json:"error"`
}

// ErrorMessage extracts the user-facing text from an error response body.
// A "message" array is joined with newlines; a "message" string is used
// as is; otherwise "error"; otherwise UnknownErrorMessage.
func ErrorMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return UnknownErrorMessage
	}

	if len(eb.Message) > 0 {
		var list []string
		if err := json.Unmarshal(eb.Message, &list); err == nil {
			return strings.Join(list, "\n")
		}
		var s string
		if err := json.Unmarshal(eb.Message, &s); err == nil && s != "" {
			return s
		}
	}
	if eb.Error != "" {
		return eb.Error
	}
	return UnknownErrorMessage
}

// Get fetches path and decodes a 2xx body into v. Non-2xx responses
// become *StatusError.
func Get(ctx context.Context, f Fetcher, path string, v any) error {
	status, body, err := f.Fetch(ctx, path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	if !IsSuccess(status) {
		return &StatusError{Path: path, Status: status, Message: ErrorMessage(body)}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("GET %s: decode body: %w", path, err)
	}
	return nil
}
