package store

import (
	"context"
	"encoding/json"
	"fmt"

	"canarydesk/internal/canary"
	"canarydesk/internal/execution"
	"canarydesk/internal/ledger"
	"canarydesk/internal/runner"
	"canarydesk/internal/store/model"

	"gorm.io/datatypes"
)

// Recorder persists engine executions, ledger fills, reconciliations and
// canary reports. Each save runs in its own unit of work.
type Recorder struct {
	st Store
}

func NewRecorder(st Store) *Recorder {
	return &Recorder{st: st}
}

func (r *Recorder) withTx(ctx context.Context, fn func(UnitOfWork) error) (err error) {
	if r == nil || r.st == nil {
		return fmt.Errorf("store not configured")
	}
	uow, err := r.st.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = uow.Rollback()
		}
	}()
	if err = fn(uow); err != nil {
		return err
	}
	return uow.Commit()
}

func (r *Recorder) SaveExecution(ctx context.Context, rec execution.Record) error {
	res := rec.Result
	m := &model.ExecutionModel{
		OrderID:            res.OrderID,
		Tag:                rec.Request.Tag,
		Symbol:             res.Symbol,
		Side:               string(res.Side),
		Style:              string(res.Style),
		Status:             string(res.Status),
		RequestedQty:       res.RequestedQty.String(),
		FilledQty:          res.FilledQty.String(),
		AvgPrice:           res.AvgPrice.String(),
		Fee:                res.Fee.String(),
		SlippageBps:        res.Metrics.SlippageBps,
		FillRatio:          res.Metrics.FillRatio,
		EffectiveSpreadBps: res.Metrics.EffectiveSpreadBps,
		TimeToFillMS:       res.Metrics.TimeToFill.Milliseconds(),
		Slices:             res.Metrics.Slices,
		Reason:             res.Reason,
		SubmittedAt:        res.SubmittedAt.UnixMilli(),
		ResolvedAt:         res.ResolvedAt.UnixMilli(),
	}
	return r.withTx(ctx, func(uow UnitOfWork) error {
		return uow.Executions().Save(ctx, m)
	})
}

func (r *Recorder) SaveOrder(ctx context.Context, strategyKey string, o ledger.Order) error {
	m := &model.OrderModel{
		StrategyKey:    strategyKey,
		OrderID:        o.ID,
		Symbol:         o.Symbol,
		Side:           string(o.Side),
		Style:          string(o.Style),
		Quantity:       o.Quantity.String(),
		RequestedPrice: o.RequestedPrice.String(),
		FilledPrice:    o.FilledPrice.String(),
		Fee:            o.Fee.String(),
		RealizedPnL:    o.RealizedPnL.String(),
		Tag:            o.Tag,
		TS:             o.Time.UnixMilli(),
	}
	return r.withTx(ctx, func(uow UnitOfWork) error {
		return uow.Orders().Save(ctx, m)
	})
}

func (r *Recorder) SaveReconciliation(ctx context.Context, rep runner.Reconciliation) error {
	payload, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshal reconciliation: %w", err)
	}
	m := &model.ReconciliationModel{
		ReportID:      rep.ID,
		Expected:      rep.Expected.String(),
		Actual:        rep.Actual.String(),
		Divergence:    rep.Divergence.String(),
		DivergencePct: rep.DivergencePct,
		Flagged:       rep.Flagged,
		Payload:       datatypes.JSON(payload),
		TS:            rep.At.UnixMilli(),
	}
	return r.withTx(ctx, func(uow UnitOfWork) error {
		return uow.Reconciliations().Save(ctx, m)
	})
}

func (r *Recorder) SaveReport(ctx context.Context, rep canary.Report) error {
	payload, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	st := rep.Status
	m := &model.SnapshotModel{
		ReportID:       rep.ID,
		SessionID:      st.SessionID,
		Kind:           string(rep.Kind),
		Mode:           string(st.Mode),
		CapitalPct:     st.CapitalPct,
		Day:            st.Day,
		Running:        st.Running,
		KillSwitch:     st.KillSwitch,
		TotalPnL:       st.TotalPnL.String(),
		Recommendation: rep.Recommendation,
		Payload:        datatypes.JSON(payload),
		TS:             rep.At.UnixMilli(),
	}
	return r.withTx(ctx, func(uow UnitOfWork) error {
		return uow.Snapshots().Save(ctx, m)
	})
}

// RecentReports decodes the newest stored canary reports of kind (all kinds
// when empty).
func (r *Recorder) RecentReports(ctx context.Context, kind string, limit int) ([]canary.Report, error) {
	var out []canary.Report
	err := r.withTx(ctx, func(uow UnitOfWork) error {
		rows, err := uow.Snapshots().ListRecent(ctx, kind, limit)
		if err != nil {
			return err
		}
		for _, row := range rows {
			var rep canary.Report
			if err := json.Unmarshal(row.Payload, &rep); err != nil {
				return fmt.Errorf("decode report %s: %w", row.ReportID, err)
			}
			out = append(out, rep)
		}
		return nil
	})
	return out, err
}

var (
	_ execution.Recorder = (*Recorder)(nil)
	_ runner.Sink        = (*Recorder)(nil)
	_ canary.Sink        = (*Recorder)(nil)
)
