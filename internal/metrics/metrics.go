// Package metrics registers the Prometheus collectors the ordering engine
// exposes, one group of collectors per subsystem, following the teacher's
// internal/middleware/metrics.go promauto style.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pre-Order layer.
	POSlotsStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prime_po_slots_stored_total",
			Help: "PO_Requests stored, by originator replica id.",
		},
		[]string{"originator"},
	)

	POAcksSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prime_po_acks_sent_total",
			Help: "PO_Ack messages emitted.",
		},
	)

	POAruBroadcasts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prime_po_aru_broadcasts_total",
			Help: "PO_ARU messages broadcast.",
		},
	)

	POEligible = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prime_po_eligible_total",
			Help: "PO slots that became eligible for execution.",
		},
	)

	// Global-Order layer.
	OrdCommitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prime_ord_committed_total",
			Help: "ORD slots that reached a commit-certificate.",
		},
	)

	OrdExecuted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prime_ord_executed_total",
			Help: "ORD slots executed against the application.",
		},
	)

	OrdPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "prime_ord_pending_execution",
			Help: "ORD slots ordered but blocked on missing PO state.",
		},
	)

	// Signing pipeline.
	SigningBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prime_signing_batch_size",
			Help:    "Number of messages per RSA/Merkle signing batch.",
			Buckets: prometheus.LinearBuckets(1, 4, 8),
		},
	)

	SigningBatchLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prime_signing_batch_seconds",
			Help:    "Latency from batch open to signature emission.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Suspect-Leader.
	SuspectTAT = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prime_suspect_tat_seconds",
			Help:    "Observed turn-around times feeding Suspect-Leader.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"}, // "measured" or "acceptable"
	)

	NewLeaderVotes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prime_new_leader_votes_total",
			Help: "New_Leader messages received, by target view.",
		},
		[]string{"view"},
	)

	// View change.
	ViewChangesStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prime_view_changes_started_total",
			Help: "View changes entered.",
		},
	)

	ViewChangesCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prime_view_changes_completed_total",
			Help: "View changes that installed a new view.",
		},
	)

	// Catchup & recovery.
	CatchupRequestsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prime_catchup_requests_sent_total",
			Help: "Catchup_Request messages sent, by flag.",
		},
		[]string{"flag"},
	)

	JumpMismatches = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "prime_jump_mismatch_evidence",
			Help: "Distinct jump-mismatch evidences accumulated toward global-doomed.",
		},
	)

	RecoveryStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "prime_recovery_status",
			Help: "Current recovery_status as an integer: 0=STARTUP 1=RESET 2=RECOVERY 3=NORMAL.",
		},
	)

	// Dispatcher.
	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prime_dispatch_events_total",
			Help: "Events processed by the event loop, by source.",
		},
		[]string{"source"}, // "timer", "overlay", "client"
	)

	TimersArmed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "prime_dispatch_timers_armed",
			Help: "Timers currently armed in the timer wheel.",
		},
	)
)
