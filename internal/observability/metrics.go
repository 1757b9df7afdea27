package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpDurationHistogram *prometheus.HistogramVec
	transferCounter       *prometheus.CounterVec
	processDurationHist   *prometheus.HistogramVec
	queueJobCounter       *prometheus.CounterVec
	queueDepthGauge       *prometheus.GaugeVec
	eventPublishCounter   *prometheus.CounterVec
	reconciliationCounter *prometheus.CounterVec
	idempotencyCounter    *prometheus.CounterVec
	accountCacheCounter   *prometheus.CounterVec
	workerRunCounter      *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		transferCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_transfers_total",
			Help: "Transfer operations by outcome",
		}, []string{"operation", "outcome"})

		processDurationHist = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_transfer_process_duration_seconds",
			Help:    "Time spent settling one queued transfer",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"})

		queueJobCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_queue_jobs_total",
			Help: "Work queue job outcomes",
		}, []string{"queue", "result"})

		queueDepthGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledger_queue_depth",
			Help: "Jobs waiting per work queue list",
		}, []string{"queue", "list"})

		eventPublishCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_events_published_total",
			Help: "Domain event deliveries by sink and result",
		}, []string{"sink", "event", "result"})

		reconciliationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_reconciliation_actions_total",
			Help: "Stale transactions handled by the reconciliation sweep",
		}, []string{"action"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		accountCacheCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_account_cache_total",
			Help: "Account cache lookups and invalidations",
		}, []string{"result"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			transferCounter,
			processDurationHist,
			queueJobCounter,
			queueDepthGauge,
			eventPublishCounter,
			reconciliationCounter,
			idempotencyCounter,
			accountCacheCounter,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementTransfer(operation, outcome string) {
	if transferCounter == nil {
		return
	}
	transferCounter.WithLabelValues(operation, outcome).Inc()
}

func ObserveProcess(outcome string, duration time.Duration) {
	if processDurationHist == nil {
		return
	}
	processDurationHist.WithLabelValues(outcome).Observe(duration.Seconds())
}

func IncrementQueueJob(queue, result string) {
	if queueJobCounter == nil {
		return
	}
	queueJobCounter.WithLabelValues(queue, result).Inc()
}

func SetQueueDepth(queue, list string, depth int64) {
	if queueDepthGauge == nil {
		return
	}
	queueDepthGauge.WithLabelValues(queue, list).Set(float64(depth))
}

func IncrementEventPublish(sink, event, result string) {
	if eventPublishCounter == nil {
		return
	}
	eventPublishCounter.WithLabelValues(sink, event, result).Inc()
}

func IncrementReconciliation(action string) {
	if reconciliationCounter == nil {
		return
	}
	reconciliationCounter.WithLabelValues(action).Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementAccountCache(result string) {
	if accountCacheCounter == nil {
		return
	}
	accountCacheCounter.WithLabelValues(result).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
