// Package metrics holds the Prometheus collectors of the sync core.
// Labels stay low-cardinality: no item ids or user ids.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APIRequests counts normalized API calls by outcome (success, server_error, transport_error, malformed).
	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moviebox_api_requests_total",
		Help: "Total API requests issued through the response normalizer, by outcome.",
	}, []string{"outcome"})

	// BreakerTransitions counts circuit breaker state changes.
	BreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moviebox_api_breaker_transitions_total",
		Help: "Circuit breaker state transitions, by target state.",
	}, []string{"to"})

	// Persist counts durable writes per storage key by result (ok, error).
	Persist = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moviebox_persist_total",
		Help: "Collection persistence attempts, by storage key and result.",
	}, []string{"key", "result"})

	// ReconcileLoads counts full remote loads by collection and result (synced, network, server, stale).
	ReconcileLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moviebox_reconcile_loads_total",
		Help: "Remote reconciliation loads, by collection and result.",
	}, []string{"collection", "result"})

	// ReconcileState reports the current state machine value per collection.
	ReconcileState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "moviebox_reconcile_state",
		Help: "Reconciliation state (0=unloaded, 1=loading, 2=synced, 3=error).",
	}, []string{"collection"})

	// OutboxTasks counts background remote mutations by operation and result.
	OutboxTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moviebox_outbox_tasks_total",
		Help: "Background remote mutations, by operation and result.",
	}, []string{"op", "result"})

	// DetailFetches counts secondary per-item detail fetches by result (hit, fetched, failed).
	DetailFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moviebox_detail_fetch_total",
		Help: "Per-item detail lookups during reconciliation, by result.",
	}, []string{"result"})

	// MockRequests counts requests served by the development backend.
	MockRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moviebox_mock_requests_total",
		Help: "Requests served by the mock backend, by route and status class.",
	}, []string{"route", "class"})
)
