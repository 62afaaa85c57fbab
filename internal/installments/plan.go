package installments

import (
	"pagos/internal/core"
)

// Installment is one scheduled slice of a payment's total.
type Installment struct {
	Sequence int // 1-based
	Amount   core.Money
	DueDate  core.Date
}

// Plan splits total into count installments spaced by cadence. Amounts are
// floor(total/count) each, with the residual cents added to the first
// installment, so the amounts always sum to total.
func Plan(total core.Money, count int, firstDue core.Date, cadence Cadence) ([]Installment, error) {
	if total.Cents <= 0 {
		return nil, core.Invalid(core.ErrInvalidPlan, "total", "must be positive, got %d", total.Cents)
	}
	if count < 1 {
		return nil, core.Invalid(core.ErrInvalidPlan, "count", "must be at least 1, got %d", count)
	}
	if int64(count) > total.Cents {
		return nil, core.Invalid(core.ErrInvalidPlan, "count", "%d installments cannot split %d cents", count, total.Cents)
	}
	if firstDue.IsZero() {
		return nil, core.Invalid(core.ErrInvalidPlan, "first_due_date", "required")
	}
	if cadence == nil {
		return nil, core.Invalid(core.ErrInvalidPlan, "cadence", "required")
	}

	base := total.Cents / int64(count)
	residual := total.Cents - base*int64(count)

	out := make([]Installment, count)
	for i := range out {
		amount := base
		if i == 0 {
			amount += residual
		}
		out[i] = Installment{
			Sequence: i + 1,
			Amount:   core.Money{Cents: amount},
			DueDate:  cadence.DueDate(firstDue, i),
		}
	}
	return out, nil
}

// Amounts returns the installment amounts in sequence order.
func Amounts(plan []Installment) []core.Money {
	out := make([]core.Money, len(plan))
	for i, inst := range plan {
		out[i] = inst.Amount
	}
	return out
}

// Total sums the installment amounts.
func Total(plan []Installment) core.Money {
	return core.Sum(Amounts(plan)...)
}
