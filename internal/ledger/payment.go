// Package ledger records payments, their installment plans and the partial
// payments (abonos) made against them. Status is always derived from the
// abono history and the current date, never stored.
package ledger

import (
	"fmt"
	"time"

	"pagos/internal/core"
	"pagos/internal/installments"
)

// PlanType distinguishes one-shot payments from installment plans.
type PlanType string

const (
	PlanSingle       PlanType = "SINGLE"
	PlanInstallments PlanType = "INSTALLMENTS"
)

func (p PlanType) Valid() bool {
	return p == PlanSingle || p == PlanInstallments
}

// Method is how an abono was paid.
type Method string

const (
	MethodCash          Method = "CASH"
	MethodCard          Method = "CARD"
	MethodTransfer      Method = "TRANSFER"
	MethodDigitalWallet Method = "DIGITAL_WALLET"
	MethodOther         Method = "OTHER"
)

func (m Method) Valid() bool {
	switch m {
	case MethodCash, MethodCard, MethodTransfer, MethodDigitalWallet, MethodOther:
		return true
	}
	return false
}

// ParseMethod accepts the canonical names case-sensitively.
func ParseMethod(s string) (Method, error) {
	m := Method(s)
	if !m.Valid() {
		return "", core.Invalid(core.ErrInvalidInput, "method", "unknown payment method %q", s)
	}
	return m, nil
}

// Payment is an obligation of a payer for one item (course or service).
type Payment struct {
	ID               string
	PayerID          string
	ItemID           string
	Total            core.Money
	Plan             PlanType
	InstallmentCount int
	Cadence          string
	CreatedAt        time.Time
	Installments     []installments.Installment
	Abonos           []Abono

	// Version increases with every persisted mutation and guards concurrent writers.
	Version int64

	CancelledAt  *time.Time
	CancelReason string
}

// Abono is one partial payment. Abonos are append-only.
type Abono struct {
	ID                string
	PaymentID         string
	Amount            core.Money
	PaidAt            time.Time
	Method            Method
	ExternalReference string
	RecordedAt        time.Time
}

// AmountPaid sums the recorded abonos.
func (p Payment) AmountPaid() core.Money {
	var paid core.Money
	for _, a := range p.Abonos {
		paid = paid.Add(a.Amount)
	}
	return paid
}

// Outstanding is total minus paid, never negative.
func (p Payment) Outstanding() core.Money {
	out := p.Total.Sub(p.AmountPaid())
	if out.Cents < 0 {
		return core.Money{}
	}
	return out
}

// Pending returns the per-installment pending balances after FIFO allocation.
func (p Payment) Pending() []core.Money {
	return installments.Settle(installments.Amounts(p.Installments), p.AmountPaid())
}

func (p Payment) IsCancelled() bool {
	return p.CancelledAt != nil
}

// AbonoByReference finds an abono by its client-supplied reference.
func (p Payment) AbonoByReference(ref string) (Abono, bool) {
	if ref == "" {
		return Abono{}, false
	}
	for _, a := range p.Abonos {
		if a.ExternalReference == ref {
			return a, true
		}
	}
	return Abono{}, false
}

// Validate checks the structural invariants: installments cover the total
// and the abono history never paid past it.
func (p Payment) Validate() error {
	if p.ID == "" {
		return core.Invalid(core.ErrInvalidInput, "id", "required")
	}
	if err := p.Total.Validate(); err != nil {
		return core.Invalid(core.ErrInvalidPlan, "total", "must be positive")
	}
	if !p.Plan.Valid() {
		return core.Invalid(core.ErrInvalidPlan, "plan", "unknown plan %q", p.Plan)
	}
	if len(p.Installments) == 0 {
		return core.Invalid(core.ErrInvalidPlan, "installments", "at least one required")
	}
	if p.Plan == PlanSingle && len(p.Installments) != 1 {
		return core.Invalid(core.ErrInvalidPlan, "installments", "single payment has %d installments", len(p.Installments))
	}
	if p.Plan == PlanInstallments && len(p.Installments) < 2 {
		return core.Invalid(core.ErrInvalidPlan, "installments", "installment plan has %d installments", len(p.Installments))
	}
	if len(p.Installments) != p.InstallmentCount {
		return core.Invalid(core.ErrInvalidPlan, "installment_count", "is %d but %d installments are planned", p.InstallmentCount, len(p.Installments))
	}
	if sum := installments.Total(p.Installments); sum != p.Total {
		return core.Invalid(core.ErrInvalidPlan, "installments", "sum %s does not match total %s", sum, p.Total)
	}
	amounts := make([]core.Money, len(p.Abonos))
	for i, a := range p.Abonos {
		amounts[i] = a.Amount
	}
	if _, err := installments.Replay(installments.Amounts(p.Installments), amounts); err != nil {
		return fmt.Errorf("payment %s: %w", p.ID, err)
	}
	return nil
}
