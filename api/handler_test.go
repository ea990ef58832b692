package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/votecontext/github"
	"github.com/c360studio/votecontext/github/githubtest"
	"github.com/c360studio/votecontext/identity"
	"github.com/c360studio/votecontext/metrics"
	"github.com/c360studio/votecontext/storage"
	"github.com/c360studio/votecontext/vote"
)

const (
	testOrg   = "gov-org"
	testRepo  = "votes"
	goodToken = "session-token"
	pat       = "ghp_test"
)

// memStore is an in-memory Store.
type memStore struct {
	mu      sync.Mutex
	prefs   map[string]storage.Preference
	commits []storage.CommitRecord
	seq     int
	failPut bool
}

func newMemStore() *memStore {
	return &memStore{prefs: make(map[string]storage.Preference)}
}

func (m *memStore) GetPreference(_ context.Context, userID string) (*storage.Preference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prefs[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &p, nil
}

func (m *memStore) PutPreference(_ context.Context, p *storage.Preference) error {
	if p.Organization == "" || p.Repository == "" {
		return storage.ErrInvalidRecord
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p.UpdatedAt = time.Now()
	m.prefs[p.UserID] = *p
	return nil
}

func (m *memStore) DeletePreference(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.prefs, userID)
	return nil
}

func (m *memStore) RecordCommit(_ context.Context, rec *storage.CommitRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut {
		return "", fmt.Errorf("store unavailable")
	}
	m.seq++
	rec.ID = fmt.Sprintf("rec-%d", m.seq)
	rec.CreatedAt = time.Now().Add(time.Duration(m.seq) * time.Millisecond)
	m.commits = append(m.commits, *rec)
	return rec.ID, nil
}

func (m *memStore) ListCommitsByUser(_ context.Context, userID string) ([]*storage.CommitRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*storage.CommitRecord
	for i := range m.commits {
		if m.commits[i].UserID == userID {
			rec := m.commits[i]
			out = append(out, &rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type fixture struct {
	gh     *githubtest.Server
	store  *memStore
	server *httptest.Server
}

func newFixture(t *testing.T, token string, opts ...Option) *fixture {
	t.Helper()

	gh := githubtest.NewServer(t)
	gh.RequireToken(pat)

	client := github.NewClient(github.WithBaseURL(gh.URL), github.WithToken(token))
	reconciler := vote.NewReconciler(client, vote.DefaultOptions())
	committer := vote.NewCommitter(client, vote.DefaultCommitOptions())
	verifier := identity.StaticVerifier{goodToken: {ID: "user-1", Email: "m@example.org"}}

	store := newMemStore()
	opts = append([]Option{WithStore(store), WithRequestTimeout(5 * time.Second)}, opts...)
	h := NewHandler(reconciler, committer, verifier, opts...)

	mux := http.NewServeMux()
	h.RegisterHTTPHandlers("api", mux)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &fixture{gh: gh, store: store, server: server}
}

func (f *fixture) do(t *testing.T, method, path, bearer string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}

	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func commitBody() map[string]any {
	return map[string]any{
		"org":          testOrg,
		"repo":         testRepo,
		"year":         "2025",
		"proposalName": "proposal_1234",
		"rationale":    "Supports the treasury plan.",
	}
}

func TestCommitRationale_NonPostRejectedWithoutUpstreamCalls(t *testing.T) {
	f := newFixture(t, pat)

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			resp := f.do(t, method, "/api/commit-rationale", goodToken, nil)
			assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
			assert.Equal(t, http.MethodPost, resp.Header.Get("Allow"))
			assert.Equal(t, "Method not allowed", decode[ErrorResponse](t, resp).Error)
		})
	}
	assert.Zero(t, f.gh.RequestCount())
}

func TestCommitRationale_RequiresSession(t *testing.T) {
	f := newFixture(t, pat)

	resp := f.do(t, http.MethodPost, "/api/commit-rationale", "", commitBody())
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Not authenticated", decode[ErrorResponse](t, resp).Error)

	resp = f.do(t, http.MethodPost, "/api/commit-rationale", "expired", commitBody())
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	assert.Zero(t, f.gh.RequestCount())
}

func TestCommitRationale_MissingTokenIsServerError(t *testing.T) {
	f := newFixture(t, "")

	resp := f.do(t, http.MethodPost, "/api/commit-rationale", goodToken, commitBody())
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, MisconfiguredMessage, decode[ErrorResponse](t, resp).Error)
	assert.Zero(t, f.gh.RequestCount())
}

func TestCommitRationale_CreatesThenUpdates(t *testing.T) {
	f := newFixture(t, pat)
	target := "vote-context/2025/proposal_1234/Vote_Context.jsonId"

	resp := f.do(t, http.MethodPost, "/api/commit-rationale", goodToken, commitBody())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))

	first := decode[CommitResponse](t, resp)
	assert.True(t, first.Success)
	assert.True(t, first.Created)
	assert.Equal(t, target, first.Path)
	assert.Equal(t, "rec-1", first.ReceiptID)

	content, ok := f.gh.File(testOrg, testRepo, target)
	require.True(t, ok)
	assert.Equal(t, "Supports the treasury plan.", content)

	body := commitBody()
	body["rationale"] = "Revised."
	resp = f.do(t, http.MethodPost, "/api/commit-rationale", goodToken, body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[CommitResponse](t, resp).Created)

	content, _ = f.gh.File(testOrg, testRepo, target)
	assert.Equal(t, "Revised.", content)

	records, err := f.store.ListCommitsByUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "proposal_1234", records[0].ProposalName)
}

func TestCommitRationale_NumericYear(t *testing.T) {
	f := newFixture(t, pat)

	body := commitBody()
	body["year"] = 2025
	resp := f.do(t, http.MethodPost, "/api/commit-rationale", goodToken, body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, ok := f.gh.File(testOrg, testRepo, "vote-context/2025/proposal_1234/Vote_Context.jsonId")
	assert.True(t, ok)
}

func TestCommitRationale_BadRequests(t *testing.T) {
	f := newFixture(t, pat)

	resp := f.do(t, http.MethodPost, "/api/commit-rationale", goodToken, "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := commitBody()
	body["proposalName"] = "../escape"
	resp = f.do(t, http.MethodPost, "/api/commit-rationale", goodToken, body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decode[ErrorResponse](t, resp).Error, "invalid submission")

	assert.Zero(t, f.gh.RequestCount())
}

func TestCommitRationale_UpstreamMessagePropagated(t *testing.T) {
	f := newFixture(t, "ghp_wrong")

	resp := f.do(t, http.MethodPost, "/api/commit-rationale", goodToken, commitBody())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Bad credentials", decode[ErrorResponse](t, resp).Error)
	assert.Empty(t, f.store.commits)
}

func TestCommitRationale_EmptyUpstreamBodyUsesGenericMessage(t *testing.T) {
	f := newFixture(t, pat)
	f.gh.FailWrite(testOrg, testRepo, "vote-context/2025/proposal_1234/Vote_Context.jsonId",
		http.StatusUnprocessableEntity, "{}")

	resp := f.do(t, http.MethodPost, "/api/commit-rationale", goodToken, commitBody())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, vote.GenericCommitFailure, decode[ErrorResponse](t, resp).Error)
}

func TestCommitRationale_RejectsProposalOutsideItsDirectory(t *testing.T) {
	f := newFixture(t, pat)

	for _, name := range []string{".", "proposal"} {
		body := commitBody()
		body["proposalName"] = name
		resp := f.do(t, http.MethodPost, "/api/commit-rationale", goodToken, body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, name)
	}
	assert.Zero(t, f.gh.RequestCount())
	_, ok := f.gh.File(testOrg, testRepo, "vote-context/2025/Vote_Context.jsonId")
	assert.False(t, ok)
}

func TestCommitRationale_ConflictSurfaced(t *testing.T) {
	f := newFixture(t, pat)
	target := "vote-context/2025/proposal_1234/Vote_Context.jsonId"
	f.gh.AddFile(testOrg, testRepo, target, "original")
	f.gh.OnFileRead(func(owner, repo, p string) {
		f.gh.AddFile(owner, repo, p, "someone else")
	})

	resp := f.do(t, http.MethodPost, "/api/commit-rationale", goodToken, commitBody())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decode[ErrorResponse](t, resp).Error, "does not match")

	content, _ := f.gh.File(testOrg, testRepo, target)
	assert.Equal(t, "someone else", content)
}

func TestCommitRationale_ReceiptFailureDoesNotFailCommit(t *testing.T) {
	f := newFixture(t, pat)
	f.store.failPut = true

	resp := f.do(t, http.MethodPost, "/api/commit-rationale", goodToken, commitBody())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[CommitResponse](t, resp).ReceiptID)
}

func TestRequestIDPropagated(t *testing.T) {
	f := newFixture(t, pat)

	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/api/commit-rationale", nil)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, "abc-123")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "abc-123", resp.Header.Get(RequestIDHeader))
}

func TestHandler_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := newFixture(t, pat, WithMetrics(metrics.New(reg)))

	f.do(t, http.MethodGet, "/api/commit-rationale", "", nil)

	count, err := testutil.GatherAndCount(reg, "votecontext_http_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestYear_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		in      string
		want    Year
		wantErr bool
	}{
		{`"2025"`, "2025", false},
		{`2025`, "2025", false},
		{`null`, "", false},
		{`20.5`, "", true},
		{`true`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var y Year
			err := json.Unmarshal([]byte(tt.in), &y)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, y)
		})
	}
}
