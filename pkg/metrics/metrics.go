package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tidemark_build_info",
			Help: "Build information of the tidemark daemon",
		},
		[]string{"version", "commit", "date"},
	)

	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tidemark_pipeline_runs_total",
		Help: "Total number of pipeline runs by outcome",
	}, []string{"result"})

	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tidemark_pipeline_run_duration_seconds",
		Help:    "Duration of a full extract, notify and commit run",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // ≈ 50ms .. ~102s
	})

	RunRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tidemark_pipeline_run_retries_total",
		Help: "Total number of run retries after a failed attempt",
	})

	RecordsExtractedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tidemark_pipeline_records_extracted_total",
		Help: "Total number of records fetched from the warehouse",
	})

	LastRunRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tidemark_pipeline_last_run_records",
		Help: "Number of records extracted by the most recent run",
	})

	AgentRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tidemark_pipeline_agent_requests_total",
		Help: "Total number of agent notifications by outcome",
	}, []string{"result"})

	WatermarkCommitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tidemark_pipeline_watermark_commits_total",
		Help: "Total number of successful watermark commits",
	})
)
