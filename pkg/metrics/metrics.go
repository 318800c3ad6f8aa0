package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TipHeight is the latest tip reported by the node.
	TipHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ckb_indexer_tip_height",
			Help: "Latest block height reported by the node",
		},
	)

	PendingHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ckb_indexer_pending_height",
			Help: "Last block height applied to the ledger",
		},
	)

	ConfirmedHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ckb_indexer_confirmed_height",
			Help: "Height up to which ledger history has been collapsed",
		},
	)

	ETASeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ckb_indexer_sync_eta_seconds",
			Help: "Estimated time until the indexer reaches the tip",
		},
	)

	BlocksPerSecond = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ckb_indexer_sync_blocks_per_second",
			Help: "Average number of blocks applied per second since startup",
		},
	)

	BlocksApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ckb_indexer_blocks_applied_total",
			Help: "Total number of blocks applied to the ledger",
		},
	)

	TransactionsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ckb_indexer_transactions_processed_total",
			Help: "Total number of transactions passed to the diff extractor",
		},
	)

	// FetchGaps counts passes that ended on a block the node did not serve.
	FetchGaps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ckb_indexer_fetch_gaps_total",
			Help: "Total number of sync passes ended by a missing block",
		},
	)

	CompactedRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ckb_indexer_compacted_rows_total",
			Help: "Total number of superseded ledger rows deleted by compaction",
		},
		[]string{"kind"},
	)

	SyncPassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ckb_indexer_sync_pass_duration_seconds",
			Help:    "Duration of a sync pass",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		},
	)
)
