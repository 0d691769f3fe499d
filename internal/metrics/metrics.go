package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reel_cache_lookups_total",
		Help: "Asset store lookups by purpose and result",
	}, []string{"purpose", "result"}) // result=hit|miss

	cacheWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reel_cache_writes_total",
		Help: "Asset store writes by purpose and outcome",
	}, []string{"purpose", "outcome"}) // outcome=stored|quota|error

	storesDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reel_cache_stores_deleted_total",
		Help: "Whole stores dropped by lifecycle cleanup or bulk clear",
	})

	policyResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reel_policy_results_total",
		Help: "Intercepted requests by strategy and response source",
	}, []string{"strategy", "source"}) // source=cache|network|fallback|error

	revalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reel_policy_revalidations_total",
		Help: "Background stale-while-revalidate refreshes by outcome",
	}, []string{"outcome"}) // outcome=updated|failed

	commandsHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reel_channel_commands_total",
		Help: "Command channel messages handled by the worker",
	}, []string{"type", "outcome"}) // outcome=ok|failed

	outboxDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reel_channel_outbox_depth",
		Help: "Commands buffered in the foreground outbox",
	})

	workerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "reel_worker_state",
		Help: "Current worker lifecycle state (1 for the active state label)",
	}, []string{"state"})

	downloads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reel_ledger_downloads",
		Help: "Titles currently recorded as downloaded",
	})

	downloadsAutoDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reel_ledger_auto_deleted_total",
		Help: "Downloads removed by the auto-delete sweep",
	})

	requestTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reel_http_timeouts_total",
		Help: "Requests that ran past their route deadline",
	}, []string{"route", "answered"}) // answered=504|handler
)

func RecordCacheLookup(purpose string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(purpose, result).Inc()
}

func RecordCacheWrite(purpose, outcome string) {
	cacheWrites.WithLabelValues(purpose, outcome).Inc()
}

func IncStoresDeleted() {
	storesDeleted.Inc()
}

func RecordPolicyResult(strategy, source string) {
	policyResults.WithLabelValues(strategy, source).Inc()
}

func RecordRevalidation(ok bool) {
	outcome := "failed"
	if ok {
		outcome = "updated"
	}
	revalidations.WithLabelValues(outcome).Inc()
}

func RecordCommand(msgType string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	commandsHandled.WithLabelValues(msgType, outcome).Inc()
}

func SetOutboxDepth(n int) {
	outboxDepth.Set(float64(n))
}

// SetWorkerState flips the gauge so only the given state reports 1.
func SetWorkerState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		workerState.WithLabelValues(s).Set(v)
	}
}

func SetDownloads(n int) {
	downloads.Set(float64(n))
}

func AddAutoDeleted(n int) {
	downloadsAutoDeleted.Add(float64(n))
}

// RecordRequestTimeout counts a request that outlived its deadline. written
// tells whether the handler had already answered.
func RecordRequestTimeout(route string, written bool) {
	answered := "504"
	if written {
		answered = "handler"
	}
	requestTimeouts.WithLabelValues(route, answered).Inc()
}
