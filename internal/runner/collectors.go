package runner

import (
	"errors"

	"canarydesk/internal/logger"

	"github.com/prometheus/client_golang/prometheus"
)

type collectors struct {
	orders         *prometheus.CounterVec
	riskRejections *prometheus.CounterVec
	downgrades     *prometheus.CounterVec
	stops          *prometheus.CounterVec
	kFactor        *prometheus.GaugeVec
	divergence     prometheus.Gauge
}

// newCollectors registers on reg, reusing collectors left by an earlier
// runner on the same registry (one runner is built per canary session).
func newCollectors(reg prometheus.Registerer) *collectors {
	return &collectors{
		orders: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "canarydesk_strategy_orders_total",
			Help: "Orders booked into strategy ledgers.",
		}, []string{"strategy", "reason"})),
		riskRejections: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "canarydesk_risk_rejections_total",
			Help: "Orders refused before submission, by guard.",
		}, []string{"guard"})),
		downgrades: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "canarydesk_strategy_downgrades_total",
			Help: "Auto-gate k-factor halvings.",
		}, []string{"strategy"})),
		stops: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "canarydesk_strategy_stops_total",
			Help: "Strategies stopped by auto-gates or the kill switch.",
		}, []string{"strategy"})),
		kFactor: register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "canarydesk_strategy_k_factor",
			Help: "Current k-factor per strategy ledger.",
		}, []string{"strategy"})),
		divergence: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "canarydesk_reconciliation_divergence_pct",
			Help: "Last replay reconciliation divergence as a fraction of capital.",
		})),
	}
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var dup prometheus.AlreadyRegisteredError
		if errors.As(err, &dup) {
			if existing, ok := dup.ExistingCollector.(T); ok {
				return existing
			}
		}
		logger.Warnf("Runner: metrics registration failed err=%v", err)
	}
	return c
}
