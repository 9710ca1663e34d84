package execution

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type collectors struct {
	executions *prometheus.CounterVec
	slippage   *prometheus.HistogramVec
	rejections *prometheus.CounterVec
	spikes     prometheus.Counter
	twapAborts prometheus.Counter
}

// newCollectors registers on reg; a nil reg yields working, unregistered collectors.
func newCollectors(reg prometheus.Registerer) *collectors {
	f := promauto.With(reg)
	return &collectors{
		executions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "canarydesk_executions_total",
			Help: "Resolved executions by requested style and final status.",
		}, []string{"style", "status"}),
		slippage: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "canarydesk_execution_slippage_bps",
			Help:    "Signed slippage versus arrival mid in basis points.",
			Buckets: []float64{-10, -5, -2, 0, 2, 5, 10, 20, 50},
		}, []string{"style"}),
		rejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "canarydesk_venue_rejections_total",
			Help: "Execution attempts refused before reaching the venue.",
		}, []string{"venue", "reason"}),
		spikes: f.NewCounter(prometheus.CounterOpts{
			Name: "canarydesk_spike_refetch_total",
			Help: "Snapshots refetched after the spike filter fired.",
		}),
		twapAborts: f.NewCounter(prometheus.CounterOpts{
			Name: "canarydesk_twap_aborts_total",
			Help: "TWAP parents aborted on price drift.",
		}),
	}
}
