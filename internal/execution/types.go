package execution

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrMarketData     = errors.New("market data unavailable")
	ErrInvalidRequest = errors.New("invalid execution request")
	ErrRateLimited    = errors.New("venue rejected request")
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Sign is +1 for buys and -1 for sells.
func (s Side) Sign() int {
	if s == SideSell {
		return -1
	}
	return 1
}

func (s Side) Opposite() Side {
	if s == SideSell {
		return SideBuy
	}
	return SideSell
}

func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

type Style string

const (
	StylePostOnly Style = "post_only"
	StyleIOC      Style = "ioc"
	StyleMarket   Style = "market"
	StyleTWAP     Style = "twap"
)

func ParseStyle(s string) (Style, bool) {
	switch Style(strings.ToLower(strings.TrimSpace(s))) {
	case StylePostOnly:
		return StylePostOnly, true
	case StyleIOC:
		return StyleIOC, true
	case StyleMarket:
		return StyleMarket, true
	case StyleTWAP:
		return StyleTWAP, true
	default:
		return "", false
	}
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusFilled   Status = "filled"
	StatusPartial  Status = "partial"
	StatusRejected Status = "rejected"
	StatusTimeout  Status = "timeout"
	StatusFailed   Status = "failed"
)

// Failure reports statuses that count against the venue error rate.
func (s Status) Failure() bool {
	return s == StatusRejected || s == StatusFailed || s == StatusTimeout
}

// Request is one order intent. A zero LimitPrice means no cap; otherwise
// no taker fill is priced worse than it.
type Request struct {
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	LimitPrice decimal.Decimal `json:"limit_price"`
	Style      Style           `json:"style"`
	Tag        string          `json:"tag,omitempty"`
}

func (r Request) validate() error {
	if strings.TrimSpace(r.Symbol) == "" {
		return errors.New("symbol is required")
	}
	if !r.Side.Valid() {
		return errors.New("side must be buy or sell")
	}
	if !r.Quantity.IsPositive() {
		return errors.New("quantity must be positive")
	}
	if r.LimitPrice.IsNegative() {
		return errors.New("limit price must not be negative")
	}
	return nil
}

// Metrics is the execution quality of one resolved order. Slippage is signed
// so that positive means worse than the arrival mid.
type Metrics struct {
	BenchmarkPrice     float64       `json:"benchmark_price"`
	SlippageBps        float64       `json:"slippage_bps"`
	FillRatio          float64       `json:"fill_ratio"`
	EffectiveSpreadBps float64       `json:"effective_spread_bps"`
	TimeToFill         time.Duration `json:"time_to_fill"`
	Slices             int           `json:"slices"`
}

type Result struct {
	OrderID      string          `json:"order_id"`
	Symbol       string          `json:"symbol"`
	Side         Side            `json:"side"`
	Style        Style           `json:"style"`
	Status       Status          `json:"status"`
	RequestedQty decimal.Decimal `json:"requested_qty"`
	FilledQty    decimal.Decimal `json:"filled_qty"`
	AvgPrice     decimal.Decimal `json:"avg_price"`
	FeeRate      decimal.Decimal `json:"fee_rate"`
	Fee          decimal.Decimal `json:"fee"`
	Reason       string          `json:"reason,omitempty"`
	Metrics      Metrics         `json:"metrics"`
	SubmittedAt  time.Time       `json:"submitted_at"`
	ResolvedAt   time.Time       `json:"resolved_at"`
}

// HasFill reports whether any quantity was executed.
func (r Result) HasFill() bool { return r.FilledQty.IsPositive() }

// Record is one entry of the execution history.
type Record struct {
	Request Request `json:"request"`
	Result  Result  `json:"result"`
}
