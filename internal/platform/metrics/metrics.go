package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the election core.
type Metrics struct {
	TokensIssued      prometheus.Counter
	TokensInvalidated prometheus.Counter
	VotesCast         prometheus.Counter
	VotesRejected     *prometheus.CounterVec
	AuditAppended     prometheus.Counter
	ChainFailures     prometheus.Counter
	OfflineEnqueued   prometheus.Counter
	OfflineReplayed   prometheus.Counter
	OfflineSkipped    prometheus.Counter
	CastDuration      prometheus.Histogram
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		TokensIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ballotcore_tokens_issued_total",
			Help: "Total number of ballot tokens issued.",
		}),
		TokensInvalidated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ballotcore_tokens_invalidated_total",
			Help: "Total number of ballot tokens administratively invalidated.",
		}),
		VotesCast: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ballotcore_votes_cast_total",
			Help: "Total number of votes accepted and persisted.",
		}),
		VotesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ballotcore_votes_rejected_total",
			Help: "Total number of rejected vote submissions by reason.",
		}, []string{"reason"}),
		AuditAppended: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ballotcore_audit_entries_total",
			Help: "Total number of audit ledger entries appended.",
		}),
		ChainFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ballotcore_audit_chain_failures_total",
			Help: "Total number of positions reported invalid by chain verification.",
		}),
		OfflineEnqueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ballotcore_offline_enqueued_total",
			Help: "Total number of operations buffered while offline.",
		}),
		OfflineReplayed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ballotcore_offline_replayed_total",
			Help: "Total number of offline operations successfully replayed.",
		}),
		OfflineSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ballotcore_offline_skipped_total",
			Help: "Total number of replays skipped because the idempotency key was already applied.",
		}),
		CastDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ballotcore_cast_vote_duration_seconds",
			Help:    "Latency of the atomic vote intake unit of work.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
