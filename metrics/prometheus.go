package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "staking_ledger"

// Metrics holds the service's Prometheus collectors in a dedicated
// registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	credits      *prometheus.CounterVec
	conflicts    *prometheus.CounterVec
	claims       *prometheus.CounterVec
	chainErrors  *prometheus.CounterVec
	votes        *prometheus.CounterVec
	jobRuns      *prometheus.CounterVec
	syncedStakes prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		requestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		credits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rewards_credited_total",
			Help:      "Reward records created by type.",
		}, []string{"reward_type"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rewards_duplicate_total",
			Help:      "Credits rejected because the event was already rewarded.",
		}, []string{"reward_type"}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "Claim state transitions by resulting status.",
		}, []string{"status"}),
		chainErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_errors_total",
			Help:      "Classified chain and RPC failures.",
		}, []string{"outcome", "kind"}),
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_total",
			Help:      "Governance votes cast by choice.",
		}, []string{"choice"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Scheduled job executions by job and result.",
		}, []string{"job", "result"}),
		syncedStakes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stake_mirror_upserts_total",
			Help:      "Stake accounts upserted from the indexer.",
		}),
	}

	reg.MustRegister(
		m.requestCount,
		m.requestDuration,
		m.credits,
		m.conflicts,
		m.claims,
		m.chainErrors,
		m.votes,
		m.jobRuns,
		m.syncedStakes,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestCount.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) RewardCredited(rewardType string) {
	if m == nil {
		return
	}
	m.credits.WithLabelValues(rewardType).Inc()
}

func (m *Metrics) RewardDuplicate(rewardType string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(rewardType).Inc()
}

func (m *Metrics) ClaimTransition(status string) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(status).Inc()
}

func (m *Metrics) ChainError(outcome, kind string) {
	if m == nil {
		return
	}
	m.chainErrors.WithLabelValues(outcome, kind).Inc()
}

func (m *Metrics) VoteCast(choice string) {
	if m == nil {
		return
	}
	m.votes.WithLabelValues(choice).Inc()
}

func (m *Metrics) JobRun(job string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.jobRuns.WithLabelValues(job, result).Inc()
}

func (m *Metrics) StakesSynced(n int) {
	if m == nil {
		return
	}
	m.syncedStakes.Add(float64(n))
}
