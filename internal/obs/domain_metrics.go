package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CartRecomputeTotal counts full cart re-pricing passes.
	CartRecomputeTotal prometheus.Counter
	// CartMutationsTotal counts cart mutations by operation and outcome.
	CartMutationsTotal *prometheus.CounterVec
	// PricingDiagnosticsTotal counts distinct degraded-mode warnings by kind.
	PricingDiagnosticsTotal *prometheus.CounterVec
	// DiscountAppliedTotal counts, per successful cart mutation, the discount
	// steps in force afterwards. Reads are not counted.
	DiscountAppliedTotal *prometheus.CounterVec
	// OfferLookupTotal counts customer offer lookups by source and result.
	OfferLookupTotal *prometheus.CounterVec
	// OfferBreakerState reports the offer store breaker: 0=closed, 1=open, 2=half-open.
	OfferBreakerState prometheus.Gauge
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CartRecomputeTotal = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_recompute_total",
			Help:      "Number of full cart re-pricing passes.",
		}))
		CartMutationsTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_mutations_total",
			Help:      "Cart mutations by operation and result.",
		}, []string{"op", "result"}))
		PricingDiagnosticsTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_diagnostics_total",
			Help:      "Distinct pricing degradations reported, by kind.",
		}, []string{"kind"}))
		DiscountAppliedTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discount_applied_total",
			Help:      "Discount steps in force after a cart mutation, by kind.",
		}, []string{"kind"}))
		OfferLookupTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offer_lookup_total",
			Help:      "Customer offer lookups by source and result.",
		}, []string{"source", "result"}))
		OfferBreakerState = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "offer_breaker_state",
			Help:      "Offer store circuit breaker state: 0=closed,1=open,2=half-open.",
		}))
	})
}
