// Package metrics exports throttling decisions and store fallbacks to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jassus213/throttle"
)

// Collector counts gate verdicts and Redis fallbacks.
//
// It implements throttle.Observer and its Fallback method fits
// store.WithFallbackHook.
type Collector struct {
	decisions *prometheus.CounterVec
	fallbacks *prometheus.CounterVec
}

var _ throttle.Observer = (*Collector)(nil)

// NewCollector creates the metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer, namespace string) (*Collector, error) {
	c := &Collector{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "throttle_decisions_total",
			Help:      "Requests seen by a throttling policy, by final state.",
		}, []string{"policy", "state"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "throttle_store_fallbacks_total",
			Help:      "Store operations served by the local fallback store.",
		}, []string{"operation"}),
	}

	for _, m := range []prometheus.Collector{c.decisions, c.fallbacks} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ObserveVerdict counts one verdict.
func (c *Collector) ObserveVerdict(policy string, v throttle.Verdict) {
	c.decisions.WithLabelValues(policy, v.State.String()).Inc()
}

// Fallback counts one store operation that fell back to local state.
func (c *Collector) Fallback(op string, _ error) {
	c.fallbacks.WithLabelValues(op).Inc()
}
