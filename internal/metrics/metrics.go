// Package metrics declares the prometheus instruments the retrieval pipeline
// and policy gate observe.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles the counters and histograms the core emits. Callers own
// construction and registration (no package-global registry), following the
// design note against ambient singletons.
type Registry struct {
	RetrievalFallback     *prometheus.CounterVec
	AnswerWithoutSources  prometheus.Counter
	PolicyRefusal         *prometheus.CounterVec
	StageLatencySeconds   *prometheus.HistogramVec
}

// New constructs a fresh Registry and registers every instrument against reg.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		RetrievalFallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "retrieval_fallback",
			Help: "Count of retrieval branch fallbacks by stage.",
		}, []string{"stage"}),
		AnswerWithoutSources: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rag_answer_without_sources_total",
			Help: "Count of answers that would have zero citations.",
		}),
		PolicyRefusal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rag_policy_refusal_total",
			Help: "Count of policy refusals by reason.",
		}, []string{"reason"}),
		StageLatencySeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rag_stage_latency_seconds",
			Help:    "Latency of retrieval/generation stages.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
	}
	reg.MustRegister(r.RetrievalFallback, r.AnswerWithoutSources, r.PolicyRefusal, r.StageLatencySeconds)
	return r
}

// NoopRegistry builds a Registry backed by a private, unregistered
// prometheus.Registry; safe to use in tests without colliding with any
// global registry.
func NoopRegistry() *Registry {
	return New(prometheus.NewRegistry())
}
