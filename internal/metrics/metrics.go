package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// SettlementResponses counts settlement calls by returned status code.
	SettlementResponses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_settlement_responses_total",
			Help: "Settlement responses by status code",
		},
		[]string{"status"},
	)

	// TransactionsFinalized counts terminal transitions.
	TransactionsFinalized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_transactions_finalized_total",
			Help: "Transactions that reached a terminal status",
		},
		[]string{"method", "status"},
	)

	// JobsRun counts scheduler job executions by result (ok, error, skipped).
	JobsRun = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_scheduler_jobs_total",
			Help: "Deferred jobs fired by the scheduler",
		},
		[]string{"kind", "result"},
	)

	// JobsPending is the current size of the scheduler queue.
	JobsPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wallet_scheduler_jobs_pending",
		Help: "Deferred jobs waiting for their run time",
	})

	// HTTPRequests counts API requests by route and response code.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_http_requests_total",
			Help: "API requests by method, route and status code",
		},
		[]string{"method", "route", "code"},
	)

	// JobLag observes how late a job fired relative to its run time.
	JobLag = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "wallet_scheduler_job_lag_seconds",
		Help:    "Delay between a job's run time and its execution",
		Buckets: prometheus.DefBuckets,
	})
)

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		SettlementResponses, TransactionsFinalized, JobsRun, JobsPending, JobLag, HTTPRequests,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveSettlement records one settlement response.
func ObserveSettlement(status int) {
	SettlementResponses.WithLabelValues(strconv.Itoa(status)).Inc()
}
