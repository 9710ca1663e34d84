// Package ledger keeps one strategy's paper account in exact decimals.
//
// Both longs and shorts are fully cash collateralised: opening either side
// moves qty*price plus the fee out of the balance, so for every sequence of
// accepted fills
//
//	balance + Σ position cost + Σ open entry fees == initial + realized
//
// and balance never goes negative.
package ledger

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"canarydesk/internal/execution"
	"canarydesk/internal/pkg/money"
	"canarydesk/internal/pkg/stats"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrPositionFlip        = errors.New("fill would cross position through zero")
	ErrInvalidFill         = errors.New("invalid fill")
)

const (
	MinK = 0.05
	MaxK = 1.0

	maxSlippageSamples = 500
)

type PositionSide string

const (
	Long  PositionSide = "long"
	Short PositionSide = "short"
)

func (s PositionSide) dir() decimal.Decimal {
	if s == Short {
		return decimal.NewFromInt(-1)
	}
	return money.One
}

// OpeningSide is the order side that opens or adds to s.
func (s PositionSide) OpeningSide() execution.Side {
	if s == Short {
		return execution.SideSell
	}
	return execution.SideBuy
}

type Position struct {
	Symbol    string          `json:"symbol"`
	Side      PositionSide    `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	Cost      decimal.Decimal `json:"cost"`
	EntryFees decimal.Decimal `json:"entry_fees"`
	OpenedAt  time.Time       `json:"opened_at"`
}

// EntryPrice is the quantity-weighted average entry.
func (p Position) EntryPrice() decimal.Decimal {
	if p.Quantity.IsZero() {
		return decimal.Zero
	}
	return p.Cost.Div(p.Quantity)
}

// UnrealizedAt is the mark-to-market gain at price, before exit fees.
func (p Position) UnrealizedAt(price decimal.Decimal) decimal.Decimal {
	return p.Quantity.Mul(price).Sub(p.Cost).Mul(p.Side.dir())
}

type Fill struct {
	OrderID        string
	Symbol         string
	Side           execution.Side
	Style          execution.Style
	Quantity       decimal.Decimal
	Price          decimal.Decimal
	RequestedPrice decimal.Decimal
	Fee            decimal.Decimal
	Time           time.Time
	Tag            string
}

// FillFromResult converts an execution result into a ledger fill.
func FillFromResult(res execution.Result, requested decimal.Decimal, tag string) Fill {
	return Fill{
		OrderID:        res.OrderID,
		Symbol:         res.Symbol,
		Side:           res.Side,
		Style:          res.Style,
		Quantity:       res.FilledQty,
		Price:          res.AvgPrice,
		RequestedPrice: requested,
		Fee:            res.Fee,
		Time:           res.ResolvedAt,
		Tag:            tag,
	}
}

type Order struct {
	ID             string          `json:"id"`
	Time           time.Time       `json:"time"`
	Symbol         string          `json:"symbol"`
	Side           execution.Side  `json:"side"`
	Style          execution.Style `json:"style"`
	Quantity       decimal.Decimal `json:"quantity"`
	RequestedPrice decimal.Decimal `json:"requested_price"`
	FilledPrice    decimal.Decimal `json:"filled_price"`
	Fee            decimal.Decimal `json:"fee"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	Tag            string          `json:"tag,omitempty"`
}

type Ledger struct {
	mu sync.RWMutex

	name    string
	symbol  string
	initial decimal.Decimal
	balance decimal.Decimal

	positions  map[string]*Position
	marks      map[string]decimal.Decimal
	orders     []Order
	realized   decimal.Decimal
	feesPaid   decimal.Decimal
	unrealized decimal.Decimal
	equity     decimal.Decimal
	peak       decimal.Decimal
	maxDD      float64
	day        string
	dayStart   decimal.Decimal

	trades int
	wins   int
	losses int

	k          float64
	downgrade  float64
	running    bool
	stopReason string

	attempts   int
	execErrors int
	slippage   []float64

	updatedAt time.Time
	nowFn     func() time.Time
}

func New(name, symbol string, initial decimal.Decimal, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	ts := now()
	return &Ledger{
		name:      name,
		symbol:    symbol,
		initial:   initial,
		balance:   initial,
		positions: make(map[string]*Position),
		marks:     make(map[string]decimal.Decimal),
		equity:    initial,
		peak:      initial,
		day:       utcDay(ts),
		dayStart:  initial,
		k:         MinK,
		downgrade: 1,
		running:   true,
		updatedAt: ts,
		nowFn:     now,
	}
}

func utcDay(t time.Time) string { return t.UTC().Format("2006-01-02") }

// Key is the ledger identity, "name:symbol".
func (l *Ledger) Key() string { return l.name + ":" + l.symbol }

func (l *Ledger) Name() string   { return l.name }
func (l *Ledger) Symbol() string { return l.symbol }

func (l *Ledger) Balance() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balance
}

// Position returns a copy of the open position for symbol.
func (l *Ledger) Position(symbol string) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// CanAfford reports whether opening qty at price with feeRate fits the balance.
func (l *Ledger) CanAfford(qty, price, feeRate decimal.Decimal) bool {
	need := qty.Mul(price).Mul(money.One.Add(feeRate))
	l.mu.RLock()
	defer l.mu.RUnlock()
	return !need.GreaterThan(l.balance)
}

// ApplyFill books an executed fill. Fills on the position's side add to it
// at a weighted average; opposite fills reduce or close it and realise P&L
// net of the exit fee and the matching share of entry fees.
func (l *Ledger) ApplyFill(f Fill) (Order, error) {
	if err := validateFill(f); err != nil {
		return Order{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, open := l.positions[f.Symbol]
	notional := f.Quantity.Mul(f.Price)
	var realized decimal.Decimal

	if !open || pos.Side.OpeningSide() == f.Side {
		need := notional.Add(f.Fee)
		if need.GreaterThan(l.balance) {
			return Order{}, fmt.Errorf("%w: need %s have %s", ErrInsufficientBalance, need.StringFixed(8), l.balance.StringFixed(8))
		}
		if !open {
			side := Long
			if f.Side == execution.SideSell {
				side = Short
			}
			pos = &Position{Symbol: f.Symbol, Side: side, OpenedAt: f.Time}
			l.positions[f.Symbol] = pos
		}
		l.balance = l.balance.Sub(need)
		pos.Quantity = pos.Quantity.Add(f.Quantity)
		pos.Cost = pos.Cost.Add(notional)
		pos.EntryFees = pos.EntryFees.Add(f.Fee)
	} else {
		if f.Quantity.GreaterThan(pos.Quantity) {
			return Order{}, fmt.Errorf("%w: reduce %s exceeds %s", ErrPositionFlip, f.Quantity, pos.Quantity)
		}
		closing := f.Quantity.Equal(pos.Quantity)
		costShare, feeShare, gross, credit := reduceAmounts(pos, f.Quantity, notional, f.Fee)
		if l.balance.Add(credit).IsNegative() {
			return Order{}, fmt.Errorf("%w: closing loss %s exceeds balance %s", ErrInsufficientBalance, credit.Neg().StringFixed(8), l.balance.StringFixed(8))
		}
		l.balance = l.balance.Add(credit)
		realized = gross.Sub(f.Fee).Sub(feeShare)
		l.realized = l.realized.Add(realized)
		if realized.IsPositive() {
			l.wins++
		} else {
			l.losses++
		}
		if closing {
			delete(l.positions, f.Symbol)
		} else {
			pos.Quantity = pos.Quantity.Sub(f.Quantity)
			pos.Cost = pos.Cost.Sub(costShare)
			pos.EntryFees = pos.EntryFees.Sub(feeShare)
		}
	}

	l.feesPaid = l.feesPaid.Add(f.Fee)
	l.trades++
	order := Order{
		ID:             f.OrderID,
		Time:           f.Time,
		Symbol:         f.Symbol,
		Side:           f.Side,
		Style:          f.Style,
		Quantity:       f.Quantity,
		RequestedPrice: f.RequestedPrice,
		FilledPrice:    f.Price,
		Fee:            f.Fee,
		RealizedPnL:    realized,
		Tag:            f.Tag,
	}
	l.orders = append(l.orders, order)
	l.marks[f.Symbol] = f.Price
	l.revalueLocked(l.nowFn())
	return order, nil
}

// reduceAmounts splits a reducing fill of qty into the share of entry cost
// and entry fees it releases, the gross P&L and the balance credit.
func reduceAmounts(pos *Position, qty, notional, fee decimal.Decimal) (costShare, feeShare, gross, credit decimal.Decimal) {
	costShare, feeShare = pos.Cost, pos.EntryFees
	if !qty.Equal(pos.Quantity) {
		costShare = pos.Cost.Mul(qty).Div(pos.Quantity)
		feeShare = pos.EntryFees.Mul(qty).Div(pos.Quantity)
	}
	gross = notional.Sub(costShare).Mul(pos.Side.dir())
	credit = costShare.Add(gross).Sub(fee)
	return costShare, feeShare, gross, credit
}

// CanClose reports whether reducing the open position in symbol by qty at
// price, paying feeRate on the notional, keeps the balance non-negative.
func (l *Ledger) CanClose(symbol string, qty, price, feeRate decimal.Decimal) bool {
	if !qty.IsPositive() || !price.IsPositive() {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[symbol]
	if !ok || qty.GreaterThan(pos.Quantity) {
		return false
	}
	notional := qty.Mul(price)
	_, _, _, credit := reduceAmounts(pos, qty, notional, notional.Mul(feeRate))
	return !l.balance.Add(credit).IsNegative()
}

func validateFill(f Fill) error {
	switch {
	case strings.TrimSpace(f.Symbol) == "":
		return fmt.Errorf("%w: symbol is required", ErrInvalidFill)
	case !f.Side.Valid():
		return fmt.Errorf("%w: side %q", ErrInvalidFill, f.Side)
	case !f.Quantity.IsPositive():
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidFill)
	case !f.Price.IsPositive():
		return fmt.Errorf("%w: price must be positive", ErrInvalidFill)
	case f.Fee.IsNegative():
		return fmt.Errorf("%w: fee must not be negative", ErrInvalidFill)
	}
	return nil
}

// MarkPrice revalues open positions at price and rolls the daily P&L base
// at the UTC day boundary.
func (l *Ledger) MarkPrice(symbol string, price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.marks[symbol] = price
	l.revalueLocked(l.nowFn())
}

func (l *Ledger) revalueLocked(now time.Time) {
	if today := utcDay(now); today != l.day {
		l.day = today
		l.dayStart = l.equity
	}
	unrealized := decimal.Zero
	value := decimal.Zero
	for sym, pos := range l.positions {
		value = value.Add(pos.Cost)
		mark, ok := l.marks[sym]
		if !ok {
			continue
		}
		unrealized = unrealized.Add(pos.UnrealizedAt(mark))
	}
	l.unrealized = unrealized
	l.equity = l.balance.Add(value).Add(unrealized)
	if l.equity.GreaterThan(l.peak) {
		l.peak = l.equity
	}
	if dd := l.drawdownLocked(); dd > l.maxDD {
		l.maxDD = dd
	}
	l.updatedAt = now
}

func (l *Ledger) drawdownLocked() float64 {
	if !l.peak.IsPositive() {
		return 0
	}
	return money.ToFloat(l.peak.Sub(l.equity).Div(l.peak))
}

// RecordExecution feeds the per-strategy execution statistics.
func (l *Ledger) RecordExecution(res execution.Result) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts++
	if res.Status.Failure() && !res.HasFill() {
		l.execErrors++
	}
	if res.HasFill() {
		l.slippage = append(l.slippage, res.Metrics.SlippageBps)
		if over := len(l.slippage) - maxSlippageSamples; over > 0 {
			l.slippage = append(l.slippage[:0], l.slippage[over:]...)
		}
	}
}

// SlippageSamples returns a copy of the retained slippage samples in bps.
func (l *Ledger) SlippageSamples() []float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]float64(nil), l.slippage...)
}

// RecordError counts an attempt that never produced a result.
func (l *Ledger) RecordError() {
	l.mu.Lock()
	l.attempts++
	l.execErrors++
	l.mu.Unlock()
}

// RefreshK sets k to target scaled by the accumulated downgrade, clamped.
func (l *Ledger) RefreshK(target float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.k = money.Clamp(target*l.downgrade, MinK, MaxK)
	return l.k
}

// Downgrade halves the downgrade factor and the current k.
func (l *Ledger) Downgrade() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.downgrade /= 2
	l.k = money.Clamp(l.k/2, MinK, MaxK)
	return l.k
}

func (l *Ledger) K() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.k
}

// Stop flips running to false; the first reason is kept.
func (l *Ledger) Stop(reason string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return false
	}
	l.running = false
	l.stopReason = reason
	return true
}

func (l *Ledger) Running() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.running
}

// Orders returns a copy of the order log.
func (l *Ledger) Orders() []Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Order(nil), l.orders...)
}

type State struct {
	Name           string          `json:"name"`
	Symbol         string          `json:"symbol"`
	Initial        decimal.Decimal `json:"initial"`
	Balance        decimal.Decimal `json:"balance"`
	Equity         decimal.Decimal `json:"equity"`
	Realized       decimal.Decimal `json:"realized"`
	Unrealized     decimal.Decimal `json:"unrealized"`
	TotalPnL       decimal.Decimal `json:"total_pnl"`
	DailyPnL       decimal.Decimal `json:"daily_pnl"`
	FeesPaid       decimal.Decimal `json:"fees_paid"`
	Positions      []Position      `json:"positions"`
	Trades         int             `json:"trades"`
	Wins           int             `json:"wins"`
	Losses         int             `json:"losses"`
	WinRate        float64         `json:"win_rate"`
	KFactor        float64         `json:"k_factor"`
	Downgrade      float64         `json:"downgrade"`
	Running        bool            `json:"running"`
	StopReason     string          `json:"stop_reason,omitempty"`
	Drawdown       float64         `json:"drawdown"`
	MaxDrawdown    float64         `json:"max_drawdown"`
	Attempts       int             `json:"attempts"`
	ExecErrors     int             `json:"exec_errors"`
	ErrorRate      float64         `json:"error_rate"`
	P95SlippageBps float64         `json:"p95_slippage_bps"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (l *Ledger) Snapshot() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st := State{
		Name:           l.name,
		Symbol:         l.symbol,
		Initial:        l.initial,
		Balance:        l.balance,
		Equity:         l.equity,
		Realized:       l.realized,
		Unrealized:     l.unrealized,
		TotalPnL:       l.equity.Sub(l.initial),
		DailyPnL:       l.equity.Sub(l.dayStart),
		FeesPaid:       l.feesPaid,
		Positions:      make([]Position, 0, len(l.positions)),
		Trades:         l.trades,
		Wins:           l.wins,
		Losses:         l.losses,
		KFactor:        l.k,
		Downgrade:      l.downgrade,
		Running:        l.running,
		StopReason:     l.stopReason,
		Drawdown:       l.drawdownLocked(),
		MaxDrawdown:    l.maxDD,
		Attempts:       l.attempts,
		ExecErrors:     l.execErrors,
		P95SlippageBps: stats.Percentile(l.slippage, 95),
		UpdatedAt:      l.updatedAt,
	}
	for _, p := range l.positions {
		st.Positions = append(st.Positions, *p)
	}
	if closed := l.wins + l.losses; closed > 0 {
		st.WinRate = float64(l.wins) / float64(closed)
	}
	if l.attempts > 0 {
		st.ErrorRate = float64(l.execErrors) / float64(l.attempts)
	}
	return st
}
