package vote

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthenticationMissing is returned when the caller has no verified session.
	ErrAuthenticationMissing = errors.New("not authenticated")

	// ErrServerMisconfigured is returned when no write credential is configured.
	ErrServerMisconfigured = errors.New("write credential not configured")

	// ErrInvalidSubmission is returned for submissions that cannot form a target path.
	ErrInvalidSubmission = errors.New("invalid submission")
)

// GenericCommitFailure is reported when the host gives no message of its own.
const GenericCommitFailure = "GitHub commit failed."

// UpstreamWriteError is a failed commit, carrying the host's message when it sent one.
type UpstreamWriteError struct {
	// Stage is "read" for the existence check or "write" for the PUT.
	Stage      string
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamWriteError) Error() string {
	return fmt.Sprintf("upstream %s failed: %s", e.Stage, e.UpstreamMessage())
}

func (e *UpstreamWriteError) Unwrap() error {
	return e.Err
}

// UpstreamMessage returns the host's message or the generic failure marker.
func (e *UpstreamWriteError) UpstreamMessage() string {
	if e.Message == "" {
		return GenericCommitFailure
	}
	return e.Message
}

// IsUpstreamWriteError reports whether err is a failed commit.
func IsUpstreamWriteError(err error) bool {
	var uwe *UpstreamWriteError
	return errors.As(err, &uwe)
}
