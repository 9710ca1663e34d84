package canary

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type collectors struct {
	capitalPct  prometheus.Gauge
	day         prometheus.Gauge
	killSwitch  prometheus.Gauge
	evaluations *prometheus.CounterVec
	gateFails   *prometheus.CounterVec
}

func newCollectors(reg prometheus.Registerer) *collectors {
	f := promauto.With(reg)
	return &collectors{
		capitalPct: f.NewGauge(prometheus.GaugeOpts{
			Name: "canarydesk_canary_capital_pct",
			Help: "Capital percentage currently exposed by the canary session.",
		}),
		day: f.NewGauge(prometheus.GaugeOpts{
			Name: "canarydesk_canary_day",
			Help: "Day counter of the current canary session.",
		}),
		killSwitch: f.NewGauge(prometheus.GaugeOpts{
			Name: "canarydesk_kill_switch",
			Help: "1 while the global kill switch is set.",
		}),
		evaluations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "canarydesk_canary_evaluations_total",
			Help: "Daily canary evaluations by resulting action.",
		}, []string{"action"}),
		gateFails: f.NewCounterVec(prometheus.CounterOpts{
			Name: "canarydesk_canary_gate_failures_total",
			Help: "Gate failures seen by daily evaluations.",
		}, []string{"gate"}),
	}
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
