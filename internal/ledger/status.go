package ledger

import (
	"pagos/internal/core"
	"pagos/internal/installments"
)

// State is the due-date derived state of a payment or installment.
type State string

const (
	StatePaid    State = "PAID"
	StatePending State = "PENDING"
	StateOverdue State = "OVERDUE"
)

// Status is a payment's derived state. Partial qualifies PENDING and
// OVERDUE when some but not all of the total has been paid.
type Status struct {
	State       State
	Partial     bool
	Current     int // sequence of the earliest unpaid installment, 0 when paid
	NextDue     core.Date
	Outstanding core.Money
	Cancelled   bool
}

func (s Status) String() string {
	out := string(s.State)
	if s.Partial {
		out += "+PARTIAL"
	}
	if s.Cancelled {
		out += " (cancelled)"
	}
	return out
}

// StatusOf derives a payment's status as of today. It is pure.
func StatusOf(p Payment, today core.Date) Status {
	paid := p.AmountPaid()
	st := Status{
		Outstanding: p.Outstanding(),
		Cancelled:   p.IsCancelled(),
	}
	if paid.Cents >= p.Total.Cents {
		st.State = StatePaid
		return st
	}
	st.Partial = paid.Cents > 0

	pending := p.Pending()
	idx := installments.Current(pending)
	if idx < 0 {
		st.State = StatePending
		return st
	}
	inst := p.Installments[idx]
	st.Current = inst.Sequence
	st.NextDue = inst.DueDate
	if inst.DueDate.Before(today) {
		st.State = StateOverdue
	} else {
		st.State = StatePending
	}
	return st
}

// InstallmentState tags a single installment the same way StatusOf tags a payment.
func InstallmentState(inst installments.Installment, pending core.Money, today core.Date) (State, bool) {
	if pending.Cents <= 0 {
		return StatePaid, false
	}
	partial := pending.Cents < inst.Amount.Cents
	if inst.DueDate.Before(today) {
		return StateOverdue, partial
	}
	return StatePending, partial
}
