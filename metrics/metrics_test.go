package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Recorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.FetchFailed("years")
	m.FetchFailed("history")
	m.FetchFailed("history")
	m.CommitFinished("success")
	m.PendingComputed(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchFailures.WithLabelValues("years")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.fetchFailures.WithLabelValues("history")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commits.WithLabelValues("success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.commits.WithLabelValues("conflict")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.pendingCount))
}

func TestMetrics_Instrument(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	h := m.Instrument("commit", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	count, err := testutil.GatherAndCount(reg, "votecontext_http_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	families, err := reg.Gather()
	require.NoError(t, err)
	labels := map[string]string{}
	for _, mf := range families {
		if mf.GetName() != "votecontext_http_request_duration_seconds" {
			continue
		}
		require.Len(t, mf.GetMetric(), 1)
		assert.Equal(t, uint64(1), mf.GetMetric()[0].GetHistogram().GetSampleCount())
		for _, lp := range mf.GetMetric()[0].GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
	}
	assert.Equal(t, map[string]string{"route": "commit", "code": "405"}, labels)
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.CommitFinished("failure")

	server := httptest.NewServer(Handler(reg))
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `votecontext_commits_total{outcome="failure"} 1`)
}
