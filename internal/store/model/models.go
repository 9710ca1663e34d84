package model

import (
	"gorm.io/datatypes"
)

// Money columns hold decimal strings so stored values round-trip exactly.

type ExecutionModel struct {
	ID                 int64   `gorm:"column:id;primaryKey"`
	OrderID            string  `gorm:"column:order_id;uniqueIndex"`
	Tag                string  `gorm:"column:tag;index"`
	Symbol             string  `gorm:"column:symbol"`
	Side               string  `gorm:"column:side"`
	Style              string  `gorm:"column:style"`
	Status             string  `gorm:"column:status;index"`
	RequestedQty       string  `gorm:"column:requested_qty"`
	FilledQty          string  `gorm:"column:filled_qty"`
	AvgPrice           string  `gorm:"column:avg_price"`
	Fee                string  `gorm:"column:fee"`
	SlippageBps        float64 `gorm:"column:slippage_bps"`
	FillRatio          float64 `gorm:"column:fill_ratio"`
	EffectiveSpreadBps float64 `gorm:"column:effective_spread_bps"`
	TimeToFillMS       int64   `gorm:"column:time_to_fill_ms"`
	Slices             int     `gorm:"column:slices"`
	Reason             string  `gorm:"column:reason"`
	SubmittedAt        int64   `gorm:"column:submitted_at;index"`
	ResolvedAt         int64   `gorm:"column:resolved_at"`
	CreatedAtUnix      int64   `gorm:"column:created_at"`
}

func (ExecutionModel) TableName() string { return "executions" }

type OrderModel struct {
	ID             int64  `gorm:"column:id;primaryKey"`
	StrategyKey    string `gorm:"column:strategy_key;index"`
	OrderID        string `gorm:"column:order_id"`
	Symbol         string `gorm:"column:symbol"`
	Side           string `gorm:"column:side"`
	Style          string `gorm:"column:style"`
	Quantity       string `gorm:"column:quantity"`
	RequestedPrice string `gorm:"column:requested_price"`
	FilledPrice    string `gorm:"column:filled_price"`
	Fee            string `gorm:"column:fee"`
	RealizedPnL    string `gorm:"column:realized_pnl"`
	Tag            string `gorm:"column:tag"`
	TS             int64  `gorm:"column:ts;index"`
	CreatedAtUnix  int64  `gorm:"column:created_at"`
}

func (OrderModel) TableName() string { return "ledger_orders" }

type SnapshotModel struct {
	ID             int64          `gorm:"column:id;primaryKey"`
	ReportID       string         `gorm:"column:report_id;uniqueIndex"`
	SessionID      string         `gorm:"column:session_id;index"`
	Kind           string         `gorm:"column:kind;index"`
	Mode           string         `gorm:"column:mode"`
	CapitalPct     float64        `gorm:"column:capital_pct"`
	Day            int            `gorm:"column:day"`
	Running        bool           `gorm:"column:running"`
	KillSwitch     bool           `gorm:"column:kill_switch"`
	TotalPnL       string         `gorm:"column:total_pnl"`
	Recommendation string         `gorm:"column:recommendation"`
	Payload        datatypes.JSON `gorm:"column:payload;type:TEXT"`
	TS             int64          `gorm:"column:ts;index"`
	CreatedAtUnix  int64          `gorm:"column:created_at"`
}

func (SnapshotModel) TableName() string { return "canary_snapshots" }

type ReconciliationModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	ReportID      string         `gorm:"column:report_id;uniqueIndex"`
	Expected      string         `gorm:"column:expected"`
	Actual        string         `gorm:"column:actual"`
	Divergence    string         `gorm:"column:divergence"`
	DivergencePct float64        `gorm:"column:divergence_pct"`
	Flagged       bool           `gorm:"column:flagged;index"`
	Payload       datatypes.JSON `gorm:"column:payload;type:TEXT"`
	TS            int64          `gorm:"column:ts;index"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
}

func (ReconciliationModel) TableName() string { return "reconciliations" }
