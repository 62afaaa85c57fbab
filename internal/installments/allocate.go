package installments

import (
	"fmt"

	"pagos/internal/core"
)

// Line records how much of one abono landed on one installment.
type Line struct {
	Sequence      int
	Applied       core.Money
	PendingBefore core.Money
	PendingAfter  core.Money
}

// Allocation is the outcome of applying one amount to the pending balances.
type Allocation struct {
	Pending []core.Money
	Lines   []Line
}

// Allocate applies amount to pending balances in ascending sequence order,
// filling each installment before moving on. The input slice is not modified.
func Allocate(amount core.Money, pending []core.Money) (Allocation, error) {
	if amount.Cents <= 0 {
		return Allocation{}, fmt.Errorf("%w: abono must be positive, got %d", core.ErrInvalidAmount, amount.Cents)
	}
	outstanding := Outstanding(pending)
	if amount.Cents > outstanding.Cents {
		return Allocation{}, fmt.Errorf("%w: outstanding %s, attempted %s",
			core.ErrOverpayment, outstanding, amount)
	}

	out := Allocation{Pending: make([]core.Money, len(pending))}
	copy(out.Pending, pending)

	remaining := amount
	for i := range out.Pending {
		if remaining.IsZero() {
			break
		}
		if out.Pending[i].IsZero() {
			continue
		}
		applied := core.Min(remaining, out.Pending[i])
		before := out.Pending[i]
		out.Pending[i] = before.Sub(applied)
		remaining = remaining.Sub(applied)
		out.Lines = append(out.Lines, Line{
			Sequence:      i + 1,
			Applied:       applied,
			PendingBefore: before,
			PendingAfter:  out.Pending[i],
		})
	}
	return out, nil
}

// Replay rebuilds pending balances from installment amounts and the full
// abono history, in recording order.
func Replay(amounts []core.Money, abonos []core.Money) ([]core.Money, error) {
	pending := make([]core.Money, len(amounts))
	copy(pending, amounts)
	for i, a := range abonos {
		alloc, err := Allocate(a, pending)
		if err != nil {
			return nil, fmt.Errorf("replay abono %d: %w", i+1, err)
		}
		pending = alloc.Pending
	}
	return pending, nil
}

// Outstanding sums the pending balances.
func Outstanding(pending []core.Money) core.Money {
	return core.Sum(pending...)
}

// Current returns the index of the earliest installment with a pending
// balance, or -1 when everything is paid.
func Current(pending []core.Money) int {
	for i, p := range pending {
		if p.IsPositive() {
			return i
		}
	}
	return -1
}

// Settle returns the pending balances after a cumulative paid amount has been
// applied in sequence order. Because allocation is FIFO, this equals Replay
// of any abono history summing to paid; amounts beyond the total are ignored.
func Settle(amounts []core.Money, paid core.Money) []core.Money {
	pending := make([]core.Money, len(amounts))
	remaining := paid
	for i, a := range amounts {
		applied := core.Min(remaining, a)
		if applied.Cents < 0 {
			applied = core.Money{}
		}
		pending[i] = a.Sub(applied)
		remaining = remaining.Sub(applied)
	}
	return pending
}
