package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.RewardCredited("social_share")
	m.RewardCredited("social_share")
	m.RewardDuplicate("social_share")
	m.ClaimTransition("settled")
	m.ChainError("retryable", "rate_limited")
	m.JobRun("accrual", nil)
	m.JobRun("accrual", errors.New("db down"))
	m.StakesSynced(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.credits.WithLabelValues("social_share")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conflicts.WithLabelValues("social_share")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.chainErrors.WithLabelValues("retryable", "rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobRuns.WithLabelValues("accrual", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.syncedStakes))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RewardCredited("x")
		m.ClaimTransition("pending")
		m.ObserveRequest("GET", "/rewards", 200, time.Millisecond)
		m.VoteCast("yes")
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveRequest("GET", "/rewards", http.StatusOK, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `staking_ledger_http_requests_total{method="GET",route="/rewards",status="200"} 1`)
}
