// Package identity verifies bearer tokens issued by the hosted auth provider.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	auth "github.com/supabase-community/auth-go"
)

// ErrUnauthenticated is returned when a token is missing, expired or rejected.
var ErrUnauthenticated = errors.New("not authenticated")

// User is the verified identity behind a bearer token.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Verifier resolves a bearer token to a user.
type Verifier interface {
	Verify(ctx context.Context, token string) (*User, error)
}

// SupabaseVerifier checks tokens against a Supabase auth endpoint
// (GET {url}/auth/v1/user) through the auth-go client.
type SupabaseVerifier struct {
	client     auth.Client
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a SupabaseVerifier.
type Option func(*SupabaseVerifier)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(v *SupabaseVerifier) {
		if hc != nil {
			v.httpClient = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *SupabaseVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewSupabaseVerifier creates a verifier for the project at baseURL using
// apiKey as the project key.
func NewSupabaseVerifier(baseURL, apiKey string, opts ...Option) *SupabaseVerifier {
	v := &SupabaseVerifier{
		client: auth.New("", apiKey).
			WithCustomAuthURL(strings.TrimSuffix(baseURL, "/") + "/auth/v1"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify returns the user owning token. Rejected tokens return ErrUnauthenticated;
// transport and decode failures are returned wrapped.
func (v *SupabaseVerifier) Verify(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}

	// auth-go calls take no context; the transport carries ctx and records
	// the status so rejections can be told apart from outages.
	rt := &callTransport{ctx: ctx, base: v.httpClient.Transport}
	if rt.base == nil {
		rt.base = http.DefaultTransport
	}
	hc := *v.httpClient
	hc.Transport = rt

	resp, err := v.client.WithClient(hc).WithToken(token).GetUser()
	switch {
	case rt.status == http.StatusUnauthorized || rt.status == http.StatusForbidden:
		return nil, ErrUnauthenticated
	case err != nil && rt.status != 0 && rt.status != http.StatusOK:
		return nil, fmt.Errorf("auth provider error (status %d)", rt.status)
	case err != nil:
		return nil, fmt.Errorf("auth request failed: %w", err)
	}

	if resp.ID == uuid.Nil {
		return nil, fmt.Errorf("decode auth response: missing user id")
	}

	user := &User{
		ID:    resp.ID.String(),
		Email: resp.Email,
		Role:  resp.Role,
	}
	v.logger.Debug("Verified session", "user_id", user.ID)
	return user, nil
}

// callTransport binds one auth-go call to a context and remembers the
// response status.
type callTransport struct {
	ctx    context.Context
	base   http.RoundTripper
	status int
}

func (t *callTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req.WithContext(t.ctx))
	if resp != nil {
		t.status = resp.StatusCode
	}
	return resp, err
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// StaticVerifier maps fixed tokens to users. It backs local development and tests.
type StaticVerifier map[string]User

// Verify implements Verifier.
func (s StaticVerifier) Verify(_ context.Context, token string) (*User, error) {
	user, ok := s[token]
	if !ok || token == "" {
		return nil, ErrUnauthenticated
	}
	return &user, nil
}
