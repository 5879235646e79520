package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Chat outcomes.
const (
	OutcomeGenerated = "generated"
	OutcomeBlocked   = "blocked"
	OutcomeFailed    = "failed"
	OutcomeNotFound  = "persona_not_found"
)

// Collector holds the pipeline metrics on a private registry so tests can
// build as many collectors as they like.
type Collector struct {
	registry *prometheus.Registry

	ChatRequests        *prometheus.CounterVec
	ModerationBlocks    *prometheus.CounterVec
	GenerationDuration  prometheus.Histogram
	PersonalityFallback prometheus.Counter
}

// NewCollector creates and registers the metrics under namespace.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		ChatRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chat_requests_total",
				Help:      "Chat requests by outcome",
			},
			[]string{"outcome"},
		),
		ModerationBlocks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "moderation_blocks_total",
				Help:      "Messages blocked before generation, by rule",
			},
			[]string{"rule"},
		),
		GenerationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_duration_seconds",
				Help:      "Latency of the language-generation call",
				Buckets:   prometheus.DefBuckets,
			},
		),
		PersonalityFallback: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "personality_fallback_total",
				Help:      "Instructions built without a complete personality questionnaire",
			},
		),
	}

	c.registry.MustRegister(c.ChatRequests, c.ModerationBlocks, c.GenerationDuration, c.PersonalityFallback)
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the metrics in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
