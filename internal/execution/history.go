package execution

import (
	"sync"
	"time"

	"canarydesk/internal/pkg/stats"
)

type history struct {
	mu   sync.RWMutex
	buf  []Record
	head int
	n    int
}

func newHistory(capacity int) *history {
	return &history{buf: make([]Record, capacity)}
}

func (h *history) add(rec Record) {
	h.mu.Lock()
	h.buf[h.head] = rec
	h.head = (h.head + 1) % len(h.buf)
	if h.n < len(h.buf) {
		h.n++
	}
	h.mu.Unlock()
}

// snapshot returns records oldest first.
func (h *history) snapshot() []Record {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Record, 0, h.n)
	for i := h.n; i > 0; i-- {
		out = append(out, h.buf[(h.head-i+len(h.buf))%len(h.buf)])
	}
	return out
}

// QualityReport aggregates the execution history. Slippage, spread and
// time-to-fill figures only cover orders with a fill.
type QualityReport struct {
	Count                 int            `json:"count"`
	ByStatus              map[Status]int `json:"by_status"`
	ErrorRate             float64        `json:"error_rate"`
	AvgSlippageBps        float64        `json:"avg_slippage_bps"`
	P95SlippageBps        float64        `json:"p95_slippage_bps"`
	AvgFillRatio          float64        `json:"avg_fill_ratio"`
	AvgEffectiveSpreadBps float64        `json:"avg_effective_spread_bps"`
	AvgTimeToFill         time.Duration  `json:"avg_time_to_fill"`
}

func buildQualityReport(records []Record) QualityReport {
	rep := QualityReport{ByStatus: make(map[Status]int)}
	rep.Count = len(records)
	if rep.Count == 0 {
		return rep
	}
	var (
		failures  int
		slippage  []float64
		spreads   []float64
		ratios    []float64
		fillTimes time.Duration
	)
	for _, rec := range records {
		res := rec.Result
		rep.ByStatus[res.Status]++
		if res.Status.Failure() {
			failures++
		}
		ratios = append(ratios, res.Metrics.FillRatio)
		if !res.HasFill() {
			continue
		}
		slippage = append(slippage, res.Metrics.SlippageBps)
		spreads = append(spreads, res.Metrics.EffectiveSpreadBps)
		fillTimes += res.Metrics.TimeToFill
	}
	rep.ErrorRate = float64(failures) / float64(rep.Count)
	rep.AvgFillRatio = stats.Mean(ratios)
	if len(slippage) > 0 {
		rep.AvgSlippageBps = stats.Mean(slippage)
		rep.P95SlippageBps = stats.Percentile(slippage, 95)
		rep.AvgEffectiveSpreadBps = stats.Mean(spreads)
		rep.AvgTimeToFill = fillTimes / time.Duration(len(slippage))
	}
	return rep
}
