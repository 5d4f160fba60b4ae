package observability

import "github.com/prometheus/client_golang/prometheus"

// Sourcing holds workflow collectors. A nil *Sourcing is a no-op so services
// can run without a registry in tests.
type Sourcing struct {
	transitions  *prometheus.CounterVec
	awards       *prometheus.CounterVec
	orders       prometheus.Counter
	numberRetry  prometheus.Counter
	cacheLookups *prometheus.CounterVec
}

// NewSourcing registers the workflow collectors on registerer.
func NewSourcing(registerer prometheus.Registerer) *Sourcing {
	s := &Sourcing{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_sourcing_transitions_total",
			Help: "Status transitions applied per entity and target status.",
		}, []string{"entity", "status"}),
		awards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_sourcing_awards_total",
			Help: "Award attempts by outcome.",
		}, []string{"outcome"}),
		orders: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "odyssey_sourcing_purchase_orders_total",
			Help: "Purchase orders issued.",
		}),
		numberRetry: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "odyssey_sourcing_order_number_retries_total",
			Help: "Order number collisions retried with a fresh suffix.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_realization_cache_lookups_total",
			Help: "Realization cache lookups by result.",
		}, []string{"result"}),
	}
	registerer.MustRegister(s.transitions, s.awards, s.orders, s.numberRetry, s.cacheLookups)
	return s
}

// Transition counts a status change of entity into status.
func (s *Sourcing) Transition(entity, status string) {
	if s == nil {
		return
	}
	s.transitions.WithLabelValues(entity, status).Inc()
}

// Award counts an award attempt; outcome is "won", "conflict" or "error".
func (s *Sourcing) Award(outcome string) {
	if s == nil {
		return
	}
	s.awards.WithLabelValues(outcome).Inc()
}

// OrderIssued counts a created purchase order.
func (s *Sourcing) OrderIssued() {
	if s == nil {
		return
	}
	s.orders.Inc()
}

// OrderNumberRetry counts a number collision.
func (s *Sourcing) OrderNumberRetry() {
	if s == nil {
		return
	}
	s.numberRetry.Inc()
}

// CacheLookup counts a realization cache hit or miss.
func (s *Sourcing) CacheLookup(hit bool) {
	if s == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	s.cacheLookups.WithLabelValues(result).Inc()
}
