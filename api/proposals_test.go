package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/votecontext/storage"
	"github.com/c360studio/votecontext/vote"
)

func seedRepo(f *fixture) {
	f.gh.AddFile(testOrg, testRepo, "vote-context/2025/Voting_History.md",
		"| # | Field | Value |\n|---|---|---|\n| 1 | Action ID | GOV-2025-ABCD1234 |\n")
	f.gh.AddDir(testOrg, testRepo, "vote-context/2025/proposal_1234")
	f.gh.AddDir(testOrg, testRepo, "vote-context/2025/proposal_9999")
	f.gh.AddDir(testOrg, testRepo, "vote-context/2024/proposal_5555")
}

func TestProposals_ListsPending(t *testing.T) {
	f := newFixture(t, pat)
	seedRepo(f)

	resp := f.do(t, http.MethodGet, "/api/proposals?org=gov-org&repo=votes&min_year=2025", goodToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[ProposalsResponse](t, resp)
	assert.Equal(t, testOrg, body.Organization)
	assert.Equal(t, []vote.Proposal{{Year: "2025", Name: "proposal_9999", Suffix: "9999"}}, body.Proposals)
}

func TestProposals_FallsBackToPreference(t *testing.T) {
	f := newFixture(t, pat)
	seedRepo(f)
	require.NoError(t, f.store.PutPreference(context.Background(), &storage.Preference{
		UserID:       "user-1",
		Organization: testOrg,
		Repository:   testRepo,
		MinYear:      2024,
	}))

	resp := f.do(t, http.MethodGet, "/api/proposals", goodToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[ProposalsResponse](t, resp)
	assert.Equal(t, 2024, body.MinYear)
	require.Len(t, body.Proposals, 2)
	assert.Equal(t, "proposal_9999", body.Proposals[0].Name)
	assert.Equal(t, "proposal_5555", body.Proposals[1].Name)
}

func TestProposals_Errors(t *testing.T) {
	f := newFixture(t, pat)

	resp := f.do(t, http.MethodGet, "/api/proposals?org=a&repo=b", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/proposals", goodToken, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/proposals?org=a&repo=b&min_year=soon", goodToken, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/proposals", goodToken, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	assert.Zero(t, f.gh.RequestCount())
}

func TestProposals_UnreachableRepoIsEmpty(t *testing.T) {
	f := newFixture(t, pat)
	f.gh.FailPath(testOrg, testRepo, "vote-context", http.StatusBadGateway)

	resp := f.do(t, http.MethodGet, "/api/proposals?org=gov-org&repo=votes", goodToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[ProposalsResponse](t, resp).Proposals)
}

func TestPreferences_Lifecycle(t *testing.T) {
	f := newFixture(t, pat)

	resp := f.do(t, http.MethodGet, "/api/preferences", goodToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodPut, "/api/preferences", goodToken, PreferenceRequest{
		Organization: testOrg,
		Repository:   testRepo,
		MinYear:      2023,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/preferences", goodToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pref := decode[storage.Preference](t, resp)
	assert.Equal(t, "user-1", pref.UserID)
	assert.Equal(t, 2023, pref.MinYear)

	resp = f.do(t, http.MethodPut, "/api/preferences", goodToken, PreferenceRequest{Organization: testOrg})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, "/api/preferences", goodToken, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/preferences", goodToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPreferences_WithoutStore(t *testing.T) {
	f := newFixture(t, pat, WithStore(nil))

	resp := f.do(t, http.MethodGet, "/api/preferences", goodToken, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp = f.do(t, http.MethodPatch, "/api/preferences", goodToken, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestCommits_ListsReceipts(t *testing.T) {
	f := newFixture(t, pat)

	resp := f.do(t, http.MethodGet, "/api/commits", goodToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]storage.CommitRecord](t, resp))

	resp = f.do(t, http.MethodPost, "/api/commit-rationale", goodToken, commitBody())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/commits", goodToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	records := decode[[]storage.CommitRecord](t, resp)
	require.Len(t, records, 1)
	assert.Equal(t, "vote-context/2025/proposal_1234/Vote_Context.jsonId", records[0].Path)
}
