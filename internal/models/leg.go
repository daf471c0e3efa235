package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ExitReason is the recorded cause of a leg exit.
type ExitReason string

const (
	ExitStopLoss ExitReason = "SL"
	ExitTarget   ExitReason = "TARGET"
	ExitTrail    ExitReason = "TRAIL"
	ExitTime     ExitReason = "TIME"
)

// condition maps an exit reason to its state machine condition.
func (r ExitReason) condition() string {
	switch r {
	case ExitStopLoss:
		return CondStopLoss
	case ExitTarget:
		return CondTarget
	case ExitTrail:
		return CondTrail
	default:
		return CondTime
	}
}

// Leg is a live option position within a session.
type Leg struct {
	StateMachine *StateMachine `json:"-"`
	State        LegState      `json:"state"`

	ID         string  `json:"leg_id"`
	ParentID   string  `json:"parent_leg_id,omitempty"`
	ReEntryGen int     `json:"reentry_gen"`
	Spec       LegSpec `json:"spec"`

	Strike float64   `json:"strike"`
	Expiry time.Time `json:"expiry"`
	Lots   int       `json:"lots"`
	Qty    int       `json:"qty"`

	EntryTS         time.Time  `json:"entry_ts"`
	EntryPrice      float64    `json:"entry_price"`
	EntryUnderlying float64    `json:"entry_underlying"`
	ExitTS          time.Time  `json:"exit_ts,omitempty"`
	ExitPrice       float64    `json:"exit_price"`
	ExitReason      ExitReason `json:"exit_reason,omitempty"`

	LastMark      float64 `json:"last_mark"`
	BestFavorable float64 `json:"best_fav_px"`
	PnL           float64 `json:"pnl"`
	PnLAfterCost  float64 `json:"pnl_after_cost"`

	HitStopLoss bool `json:"hit_sl"`
	HitTarget   bool `json:"hit_target"`
	HitTrail    bool `json:"hit_trail"`

	// Re-entries already spawned from this lineage, per trigger.
	ReEntriesOnSL     int `json:"reentries_on_sl"`
	ReEntriesOnTarget int `json:"reentries_on_target"`
}

// NewLeg creates a pending leg for the given spec. Quantity is lots times lotSize.
func NewLeg(id string, spec LegSpec, lotSize int) *Leg {
	return &Leg{
		ID:           id,
		Spec:         spec,
		Lots:         spec.QtyLots,
		Qty:          spec.QtyLots * lotSize,
		StateMachine: NewStateMachine(),
		State:        StatePending,
	}
}

// ensureMachine ensures the StateMachine is initialized from persisted state
func (l *Leg) ensureMachine() *StateMachine {
	if l.StateMachine == nil {
		sm := NewStateMachine()
		sm.currentState = l.State
		if l.State != StatePending {
			sm.transitionCount[StateOpen] = 1
		}
		if l.State == StateClosed {
			sm.transitionCount[StateClosed] = 1
		}
		l.StateMachine = sm
	}
	return l.StateMachine
}

// IsOpen reports whether the leg is filled and not yet exited.
func (l *Leg) IsOpen() bool { return l.State == StateOpen }

// IsClosed reports whether the leg has exited.
func (l *Leg) IsClosed() bool { return l.State == StateClosed }

// Open fills the leg at the given snapshot.
func (l *Leg) Open(ts time.Time, strike float64, expiry time.Time, price, underlying float64) error {
	if err := l.ensureMachine().Transition(StateOpen, CondFilled, ts); err != nil {
		return fmt.Errorf("leg %s open failed: %w", l.ID, err)
	}
	l.State = StateOpen
	l.Strike = strike
	l.Expiry = expiry
	l.EntryTS = ts
	l.EntryPrice = price
	l.EntryUnderlying = underlying
	l.LastMark = price
	l.BestFavorable = price
	return nil
}

// Mark records the latest premium. The favorable extreme only moves in the
// position's favor: up for long legs, down for short legs. Closed legs ignore marks.
func (l *Leg) Mark(price float64) {
	if !l.IsOpen() {
		return
	}
	l.LastMark = price
	if l.Spec.Position.IsShort() {
		if price < l.BestFavorable {
			l.BestFavorable = price
		}
	} else if price > l.BestFavorable {
		l.BestFavorable = price
	}
}

// Close exits the leg and computes its PnL. A leg can only be closed once.
func (l *Leg) Close(ts time.Time, price float64, reason ExitReason, costs Costs) error {
	return l.closeWith(ts, price, reason, reason.condition(), costs)
}

// SquareOff closes the leg because another leg exited in Complete mode.
func (l *Leg) SquareOff(ts time.Time, price float64, costs Costs) error {
	return l.closeWith(ts, price, ExitTime, CondSquareOff, costs)
}

// ForceClose closes the leg at session end or on cancellation.
func (l *Leg) ForceClose(ts time.Time, price float64, costs Costs) error {
	return l.closeWith(ts, price, ExitTime, CondForceClose, costs)
}

func (l *Leg) closeWith(ts time.Time, price float64, reason ExitReason, cond string, costs Costs) error {
	if err := l.ensureMachine().Transition(StateClosed, cond, ts); err != nil {
		return fmt.Errorf("leg %s close failed: %w", l.ID, err)
	}
	l.State = StateClosed
	l.ExitTS = ts
	l.ExitPrice = price
	l.LastMark = price
	l.ExitReason = reason
	switch reason {
	case ExitStopLoss:
		l.HitStopLoss = true
	case ExitTarget:
		l.HitTarget = true
	case ExitTrail:
		l.HitTrail = true
	}
	gross, net := LegPnL(l.Spec.Position, l.EntryPrice, price, l.Qty, l.Lots, costs)
	l.PnL, l.PnLAfterCost = gross, net
	return nil
}

// LegPnL returns gross and after-cost PnL rounded to two decimals:
// (exit-entry) * sign * qty, less per_lot_roundtrip*lots + slippage_per_fill.
func LegPnL(pos Position, entry, exit float64, qty, lots int, costs Costs) (gross, net float64) {
	g := decimal.NewFromFloat(exit).
		Sub(decimal.NewFromFloat(entry)).
		Mul(decimal.NewFromFloat(pos.Sign())).
		Mul(decimal.NewFromInt(int64(qty)))
	c := decimal.NewFromFloat(costs.PerLotRoundtrip).
		Mul(decimal.NewFromInt(int64(lots))).
		Add(decimal.NewFromFloat(costs.SlippagePerFill))
	return g.Round(2).InexactFloat64(), g.Sub(c).Round(2).InexactFloat64()
}

// UnrealizedPnL is the running gross PnL at the last mark.
func (l *Leg) UnrealizedPnL() float64 {
	return (l.LastMark - l.EntryPrice) * l.Spec.Position.Sign() * float64(l.Qty)
}

// ReEntries returns how many re-entries this lineage has spawned for reason.
func (l *Leg) ReEntries(reason ExitReason) int {
	switch reason {
	case ExitStopLoss:
		return l.ReEntriesOnSL
	case ExitTarget:
		return l.ReEntriesOnTarget
	default:
		return 0
	}
}

// ValidateState checks field consistency against the leg state.
func (l *Leg) ValidateState() error {
	if err := l.ensureMachine().ValidateStateConsistency(); err != nil {
		return fmt.Errorf("leg %s state validation failed: %w", l.ID, err)
	}
	switch l.State {
	case StatePending:
		if !l.EntryTS.IsZero() || !l.ExitTS.IsZero() {
			return fmt.Errorf("leg %s in state %s: timestamps must be zero", l.ID, l.State)
		}
	case StateOpen:
		if l.EntryTS.IsZero() {
			return fmt.Errorf("leg %s in state %s: EntryTS must be set", l.ID, l.State)
		}
		if !l.ExitTS.IsZero() || strings.TrimSpace(string(l.ExitReason)) != "" {
			return fmt.Errorf("leg %s in state %s: exit fields must be empty", l.ID, l.State)
		}
	case StateClosed:
		if l.EntryTS.IsZero() || l.ExitTS.IsZero() {
			return fmt.Errorf("leg %s in state %s: EntryTS and ExitTS must be set", l.ID, l.State)
		}
		if l.ExitTS.Before(l.EntryTS) {
			return fmt.Errorf("leg %s in state %s: ExitTS (%v) before EntryTS (%v)",
				l.ID, l.State, l.ExitTS, l.EntryTS)
		}
		if l.ExitReason == "" {
			return fmt.Errorf("leg %s in state %s: ExitReason must be set", l.ID, l.State)
		}
	default:
		return fmt.Errorf("leg %s: unknown state %q", l.ID, l.State)
	}
	if l.Qty <= 0 {
		return fmt.Errorf("leg %s: Qty must be > 0 (current: %d)", l.ID, l.Qty)
	}
	return nil
}

// TradeRow is the emitted record for one closed leg.
type TradeRow struct {
	Date         string     `json:"date"`
	Index        string     `json:"index"`
	RunID        string     `json:"run_id,omitempty"`
	LegID        string     `json:"leg_id"`
	ParentLegID  string     `json:"parent_leg_id,omitempty"`
	ReEntryGen   int        `json:"reentry_gen"`
	Position     Position   `json:"position"`
	OptionType   OptionType `json:"option_type"`
	Expiry       string     `json:"expiry"`
	Strike       float64    `json:"strike"`
	Qty          int        `json:"qty"`
	LotSize      int        `json:"lotsize"`
	EntryTS      time.Time  `json:"entry_ts"`
	ExitTS       time.Time  `json:"exit_ts"`
	EntryPrice   float64    `json:"entry_price"`
	ExitPrice    float64    `json:"exit_price"`
	PnL          float64    `json:"pnl"`
	PnLAfterCost float64    `json:"pnl_after_cost"`
	ExitReason   ExitReason `json:"exit_reason"`
	HitSL        bool       `json:"hit_sl"`
	HitTarget    bool       `json:"hit_target"`
	HitTrail     bool       `json:"hit_trail"`
}

// Row converts a closed leg into a trade row.
func (l *Leg) Row(date time.Time, index string, lotSize int) (TradeRow, error) {
	if !l.IsClosed() {
		return TradeRow{}, fmt.Errorf("leg %s is %s, only closed legs emit rows", l.ID, l.State)
	}
	if err := l.ValidateState(); err != nil {
		return TradeRow{}, err
	}
	expiry := ""
	if !l.Expiry.IsZero() {
		expiry = l.Expiry.Format(DateLayout)
	}
	return TradeRow{
		Date:         date.Format(DateLayout),
		Index:        index,
		LegID:        l.ID,
		ParentLegID:  l.ParentID,
		ReEntryGen:   l.ReEntryGen,
		Position:     l.Spec.Position,
		OptionType:   l.Spec.OptionType,
		Expiry:       expiry,
		Strike:       l.Strike,
		Qty:          l.Qty,
		LotSize:      lotSize,
		EntryTS:      l.EntryTS,
		ExitTS:       l.ExitTS,
		EntryPrice:   l.EntryPrice,
		ExitPrice:    l.ExitPrice,
		PnL:          l.PnL,
		PnLAfterCost: l.PnLAfterCost,
		ExitReason:   l.ExitReason,
		HitSL:        l.HitStopLoss,
		HitTarget:    l.HitTarget,
		HitTrail:     l.HitTrail,
	}, nil
}

// CSVHeader is the column order of the trade detail file.
var CSVHeader = []string{
	"date", "index", "run_id", "leg_id", "parent_leg_id", "reentry_gen",
	"position", "option_type", "expiry", "strike", "qty", "lotsize",
	"entry_ts", "exit_ts", "entry_price", "exit_price",
	"pnl", "pnl_after_cost", "exit_reason", "hit:sl", "hit:target", "hit:trail",
}

// CSVRecord renders the row in CSVHeader order.
func (r TradeRow) CSVRecord() []string {
	return []string{
		r.Date, r.Index, r.RunID, r.LegID, r.ParentLegID, fmt.Sprint(r.ReEntryGen),
		string(r.Position), string(r.OptionType), r.Expiry, decimal.NewFromFloat(r.Strike).String(),
		fmt.Sprint(r.Qty), fmt.Sprint(r.LotSize),
		r.EntryTS.Format(TimestampLayout), r.ExitTS.Format(TimestampLayout),
		decimal.NewFromFloat(r.EntryPrice).String(), decimal.NewFromFloat(r.ExitPrice).String(),
		decimal.NewFromFloat(r.PnL).StringFixed(2), decimal.NewFromFloat(r.PnLAfterCost).StringFixed(2),
		string(r.ExitReason), fmt.Sprint(r.HitSL), fmt.Sprint(r.HitTarget), fmt.Sprint(r.HitTrail),
	}
}
