package github

import (
	"errors"
	"fmt"
	"net/http"

	gh "github.com/google/go-github/v74/github"
)

// ErrNotFound is matched by errors for paths that do not exist upstream.
var ErrNotFound = errors.New("github: not found")

// APIError is a non-success response from the GitHub API.
type APIError struct {
	StatusCode int

	// Message is the host's own "message" field. It stays empty when the
	// response carried none, so callers can substitute their own text.
	Message          string
	DocumentationURL string

	// Err is the underlying go-github error, kept for logs.
	Err error
}

func (e *APIError) Error() string {
	if e.Message == "" {
		if e.Err != nil {
			return fmt.Sprintf("GitHub API error (status %d): %v", e.StatusCode, e.Err)
		}
		return fmt.Sprintf("GitHub API error (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("GitHub API error (status %d): %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// IsNotFound reports whether err represents a missing path.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is a stale-sha rejection.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// translateError maps go-github response errors onto APIError. Transport and
// context errors are wrapped unchanged.
func translateError(err error) error {
	var (
		respErr  *gh.ErrorResponse
		rateErr  *gh.RateLimitError
		abuseErr *gh.AbuseRateLimitError
	)
	switch {
	case errors.As(err, &respErr) && respErr.Response != nil:
		return &APIError{
			StatusCode:       respErr.Response.StatusCode,
			Message:          respErr.Message,
			DocumentationURL: respErr.DocumentationURL,
			Err:              err,
		}
	case errors.As(err, &rateErr) && rateErr.Response != nil:
		return &APIError{StatusCode: rateErr.Response.StatusCode, Message: rateErr.Message, Err: err}
	case errors.As(err, &abuseErr) && abuseErr.Response != nil:
		return &APIError{StatusCode: abuseErr.Response.StatusCode, Message: abuseErr.Message, Err: err}
	}
	return fmt.Errorf("HTTP request failed: %w", err)
}
