package engine

import (
	"fmt"
	"math"
)

// Side of an exposure. Hedging strategies hold both sides at once, so the
// ledger keeps one position per side rather than a single net position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Action of a fill.
type Action string

const (
	ActionOpen  Action = "open"
	ActionClose Action = "close"
)

// PositionStatus of a ledger position.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

const qtyTolerance = 1e-12

// Position is one side's exposure. EntryPrice is the weighted-average cost
// basis, recomputed on every position-increasing fill. openFees accrue on
// opens and are consumed proportionally by closes so that realized pnl nets
// the full fee cost of the episode.
type Position struct {
	Symbol         string
	Side           Side
	Quantity       float64
	EntryPrice     float64
	EntryTimestamp int64
	RealizedPnl    float64
	UnrealizedPnl  float64
	MaxRunup       float64
	MaxDrawdown    float64
	Status         string
	OpenTradeID    int64

	openFees float64
}

func (p *Position) direction() float64 {
	if p.Side == SideShort {
		return -1
	}
	return 1
}

// Ledger is the single source of truth for current exposure during a
// session. One ledger per session; never shared.
type Ledger struct {
	symbol      string
	long, short *Position
}

func NewLedger(symbol string) *Ledger {
	return &Ledger{symbol: symbol}
}

// Position returns the open position for a side, or nil when flat.
func (l *Ledger) Position(side Side) *Position {
	if side == SideShort {
		return l.short
	}
	return l.long
}

// ApplyFill mutates the side's position and returns realized pnl (net of the
// close fee and the proportional share of accrued open fees) for closes.
// Opens return 0. openTradeID tags the episode's first open fill so later
// closes can reference it.
func (l *Ledger) ApplyFill(side Side, action Action, qty, price, fee float64, ts int64, openTradeID int64) (float64, error) {
	if qty <= 0 {
		return 0, fmt.Errorf("fill qty must be positive, got %f", qty)
	}
	if price <= 0 {
		return 0, fmt.Errorf("fill price must be positive, got %f", price)
	}

	pos := l.Position(side)

	if action == ActionOpen {
		if pos == nil {
			pos = &Position{
				Symbol:         l.symbol,
				Side:           side,
				Quantity:       qty,
				EntryPrice:     price,
				EntryTimestamp: ts,
				Status:         StatusOpen,
				OpenTradeID:    openTradeID,
				openFees:       fee,
			}
			l.set(side, pos)
			return 0, nil
		}
		pos.EntryPrice = weightedEntry(pos.EntryPrice, pos.Quantity, price, qty)
		pos.Quantity += qty
		pos.openFees += fee
		return 0, nil
	}

	// Close: proportional reduction against the weighted-average entry.
	if pos == nil || pos.Quantity <= qtyTolerance {
		return 0, fmt.Errorf("close on flat %s position", side)
	}
	if qty > pos.Quantity+qtyTolerance {
		return 0, fmt.Errorf("close qty %f exceeds %s position %f", qty, side, pos.Quantity)
	}
	if qty > pos.Quantity {
		qty = pos.Quantity
	}

	feeShare := 0.0
	if pos.Quantity > 0 {
		feeShare = pos.openFees * qty / pos.Quantity
	}
	gross := (price - pos.EntryPrice) * qty * pos.direction()
	realized := gross - fee - feeShare

	pos.openFees -= feeShare
	pos.Quantity -= qty
	pos.RealizedPnl += realized

	if pos.Quantity <= qtyTolerance {
		pos.Quantity = 0
		pos.Status = StatusClosed
		pos.UnrealizedPnl = 0
		l.set(side, nil)
	}
	return realized, nil
}

// Mark recomputes unrealized pnl and the per-position excursion extremes at
// the given price.
func (l *Ledger) Mark(price float64) {
	for _, pos := range []*Position{l.long, l.short} {
		if pos == nil {
			continue
		}
		pos.UnrealizedPnl = (price - pos.EntryPrice) * pos.Quantity * pos.direction()
		if pos.UnrealizedPnl > pos.MaxRunup {
			pos.MaxRunup = pos.UnrealizedPnl
		}
		if adverse := -pos.UnrealizedPnl; adverse > pos.MaxDrawdown {
			pos.MaxDrawdown = adverse
		}
	}
}

// UnrealizedTotal sums unrealized pnl across both sides.
func (l *Ledger) UnrealizedTotal() float64 {
	total := 0.0
	if l.long != nil {
		total += l.long.UnrealizedPnl
	}
	if l.short != nil {
		total += l.short.UnrealizedPnl
	}
	return total
}

// OpenSides lists sides with open exposure, long first for determinism.
func (l *Ledger) OpenSides() []Side {
	var sides []Side
	if l.long != nil {
		sides = append(sides, SideLong)
	}
	if l.short != nil {
		sides = append(sides, SideShort)
	}
	return sides
}

func (l *Ledger) set(side Side, pos *Position) {
	if side == SideShort {
		l.short = pos
	} else {
		l.long = pos
	}
}

func weightedEntry(p1, q1, p2, q2 float64) float64 {
	if q1+q2 == 0 {
		return 0
	}
	avg := (p1*q1 + p2*q2) / (q1 + q2)
	if math.IsNaN(avg) || math.IsInf(avg, 0) {
		return 0
	}
	return avg
}
