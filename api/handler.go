// Package api serves the rationale commit endpoint and the authenticated
// proposal and preference endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/votecontext/identity"
	"github.com/c360studio/votecontext/metrics"
	"github.com/c360studio/votecontext/storage"
	"github.com/c360studio/votecontext/vote"
)

// maxRequestBodySize limits request bodies.
const maxRequestBodySize = 1 << 20 // 1 MB

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-ID"

// Reconciler lists proposals awaiting a rationale.
type Reconciler interface {
	PendingProposals(ctx context.Context, org, repo string, minYear int) []vote.Proposal
}

// Committer writes rationale files.
type Committer interface {
	Configured() bool
	Commit(ctx context.Context, sub vote.Submission) (*vote.CommitResult, error)
}

// Store persists preferences and commit receipts.
type Store interface {
	GetPreference(ctx context.Context, userID string) (*storage.Preference, error)
	PutPreference(ctx context.Context, p *storage.Preference) error
	DeletePreference(ctx context.Context, userID string) error
	RecordCommit(ctx context.Context, rec *storage.CommitRecord) (string, error)
	ListCommitsByUser(ctx context.Context, userID string) ([]*storage.CommitRecord, error)
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Handler serves the HTTP API.
type Handler struct {
	reconciler     Reconciler
	committer      Committer
	verifier       identity.Verifier
	store          Store
	metrics        *metrics.Metrics
	requestTimeout time.Duration
	logger         *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithStore enables preferences and commit receipts.
func WithStore(s Store) Option {
	return func(h *Handler) {
		h.store = s
	}
}

// WithMetrics records request latency per route.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithRequestTimeout bounds each request, including its upstream calls.
func WithRequestTimeout(d time.Duration) Option {
	return func(h *Handler) {
		h.requestTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler creates a Handler. A nil verifier rejects every authenticated
// request.
func NewHandler(reconciler Reconciler, committer Committer, verifier identity.Verifier, opts ...Option) *Handler {
	h := &Handler{
		reconciler: reconciler,
		committer:  committer,
		verifier:   verifier,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterHTTPHandlers registers the API handlers under the given prefix.
// The prefix should be the path segment without a trailing slash (e.g. "api").
// Handlers are registered as:
//
//	POST    <prefix>/commit-rationale
//	GET     <prefix>/proposals
//	GET|PUT|DELETE <prefix>/preferences
//	GET     <prefix>/commits
func (h *Handler) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	// Normalise: ensure leading slash and trailing slash.
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}

	mux.Handle(prefix+"commit-rationale", h.wrap("commit-rationale", h.handleCommitRationale))
	mux.Handle(prefix+"proposals", h.wrap("proposals", h.handleProposals))
	mux.Handle(prefix+"preferences", h.wrap("preferences", h.handlePreferences))
	mux.Handle(prefix+"commits", h.wrap("commits", h.handleCommits))
}

// wrap applies request ids, the request timeout and latency metrics.
func (h *Handler) wrap(route string, fn http.HandlerFunc) http.Handler {
	var next http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		if h.requestTimeout > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
			defer cancel()
			r = r.WithContext(ctx)
		}

		h.logger.Debug("API request",
			"request_id", id,
			"route", route,
			"method", r.Method)
		fn(w, r)
	})

	if h.metrics != nil {
		next = h.metrics.Instrument(route, next)
	}
	return next
}

// authenticate resolves the bearer token, writing a 401 when it fails.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (*identity.User, bool) {
	token := identity.BearerToken(r)
	if token == "" || h.verifier == nil {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return nil, false
	}

	user, err := h.verifier.Verify(r.Context(), token)
	if err != nil {
		if !errors.Is(err, identity.ErrUnauthenticated) {
			h.logger.Warn("Session verification failed", "error", err)
		}
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return nil, false
	}
	return user, true
}

// methodNotAllowed writes the 405 response listing the allowed methods.
func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
