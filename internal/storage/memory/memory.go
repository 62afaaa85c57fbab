// Package memory is an in-process implementation of the ledger, goal and
// invoice stores, used by tests and the memory backend.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"pagos/internal/core"
	"pagos/internal/goals"
	"pagos/internal/invoicing"
	"pagos/internal/ledger"
)

type courseKey struct {
	period core.Period
	itemID string
}

type Store struct {
	mu       sync.Mutex
	payments map[string]ledger.Payment
	order    []string
	monthly  map[core.Period]goals.MonthlyGoal
	courses  map[courseKey]goals.CourseGoal
	invoices map[string]invoicing.Invoice
	invOrder []string

	// FailWrites makes every write return a persistence error; tests use it
	// to check that failed writes leave no trace.
	FailWrites bool
}

func New() *Store {
	return &Store{
		payments: make(map[string]ledger.Payment),
		monthly:  make(map[core.Period]goals.MonthlyGoal),
		courses:  make(map[courseKey]goals.CourseGoal),
		invoices: make(map[string]invoicing.Invoice),
	}
}

func (s *Store) writeErr(op string) error {
	if s.FailWrites {
		return core.Persistence(op, fmt.Errorf("memory store configured to fail"))
	}
	return nil
}

func clonePayment(p ledger.Payment) ledger.Payment {
	p.Installments = slices.Clone(p.Installments)
	p.Abonos = slices.Clone(p.Abonos)
	if p.CancelledAt != nil {
		at := *p.CancelledAt
		p.CancelledAt = &at
	}
	return p
}

// LoadPayment implements ledger.Store
func (s *Store) LoadPayment(_ context.Context, id string) (ledger.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return ledger.Payment{}, fmt.Errorf("%w: %s", core.ErrPaymentNotFound, id)
	}
	return clonePayment(p), nil
}

// SavePayment implements ledger.Store
func (s *Store) SavePayment(_ context.Context, p ledger.Payment) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr("save payment"); err != nil {
		return err
	}
	if _, exists := s.payments[p.ID]; exists {
		return core.Persistence("save payment", fmt.Errorf("payment %s already exists", p.ID))
	}
	s.payments[p.ID] = clonePayment(p)
	s.order = append(s.order, p.ID)
	return nil
}

// AppendAbono implements ledger.Store
func (s *Store) AppendAbono(_ context.Context, paymentID string, expectedVersion int64, a ledger.Abono) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr("append abono"); err != nil {
		return err
	}
	p, ok := s.payments[paymentID]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrPaymentNotFound, paymentID)
	}
	if p.Version != expectedVersion {
		return fmt.Errorf("%w: payment %s at version %d, expected %d",
			core.ErrConcurrentModification, paymentID, p.Version, expectedVersion)
	}
	if _, dup := p.AbonoByReference(a.ExternalReference); dup {
		return core.Persistence("append abono", fmt.Errorf("duplicate reference %q", a.ExternalReference))
	}
	p = clonePayment(p)
	p.Abonos = append(p.Abonos, a)
	p.Version++
	s.payments[paymentID] = p
	return nil
}

// CancelPayment implements ledger.Store
func (s *Store) CancelPayment(_ context.Context, paymentID string, expectedVersion int64, at time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr("cancel payment"); err != nil {
		return err
	}
	p, ok := s.payments[paymentID]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrPaymentNotFound, paymentID)
	}
	if p.Version != expectedVersion {
		return fmt.Errorf("%w: payment %s", core.ErrConcurrentModification, paymentID)
	}
	p = clonePayment(p)
	p.CancelledAt = &at
	p.CancelReason = reason
	p.Version++
	s.payments[paymentID] = p
	return nil
}

// ListPaymentsByPayer implements ledger.Store
func (s *Store) ListPaymentsByPayer(_ context.Context, payerID string) ([]ledger.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.Payment
	for _, id := range s.order {
		if p := s.payments[id]; p.PayerID == payerID {
			out = append(out, clonePayment(p))
		}
	}
	return out, nil
}

// ListPaymentsDueBetween implements ledger.Store
func (s *Store) ListPaymentsDueBetween(_ context.Context, from, to core.Date) ([]ledger.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.Payment
	for _, id := range s.order {
		p := s.payments[id]
		for _, inst := range p.Installments {
			if !inst.DueDate.Before(from) && !inst.DueDate.After(to) {
				out = append(out, clonePayment(p))
				break
			}
		}
	}
	return out, nil
}

// IncomeBetween implements goals.IncomeReader
func (s *Store) IncomeBetween(_ context.Context, from, to time.Time) ([]core.ItemAmount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	totals := make(map[string]core.Money)
	for _, p := range s.payments {
		for _, a := range p.Abonos {
			if !a.PaidAt.Before(from) && a.PaidAt.Before(to) {
				totals[p.ItemID] = totals[p.ItemID].Add(a.Amount)
			}
		}
	}
	out := make([]core.ItemAmount, 0, len(totals))
	for item, amount := range totals {
		out = append(out, core.ItemAmount{ItemID: item, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

// UpsertMonthlyGoal implements goals.Store
func (s *Store) UpsertMonthlyGoal(_ context.Context, g goals.MonthlyGoal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr("upsert monthly goal"); err != nil {
		return err
	}
	s.monthly[g.Period] = g
	return nil
}

// DeleteMonthlyGoal implements goals.Store
func (s *Store) DeleteMonthlyGoal(_ context.Context, period core.Period) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr("delete monthly goal"); err != nil {
		return err
	}
	delete(s.monthly, period)
	return nil
}

// LoadMonthlyGoal implements goals.Store
func (s *Store) LoadMonthlyGoal(_ context.Context, period core.Period) (goals.MonthlyGoal, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.monthly[period]
	return g, ok, nil
}

// UpsertCourseGoal implements goals.Store
func (s *Store) UpsertCourseGoal(_ context.Context, g goals.CourseGoal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr("upsert course goal"); err != nil {
		return err
	}
	s.courses[courseKey{g.Period, g.ItemID}] = g
	return nil
}

// DeleteCourseGoal implements goals.Store
func (s *Store) DeleteCourseGoal(_ context.Context, period core.Period, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr("delete course goal"); err != nil {
		return err
	}
	delete(s.courses, courseKey{period, itemID})
	return nil
}

// ListCourseGoals implements goals.Store
func (s *Store) ListCourseGoals(_ context.Context, period core.Period) ([]goals.CourseGoal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []goals.CourseGoal
	for k, g := range s.courses {
		if k.period == period {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

func cloneInvoice(inv invoicing.Invoice) invoicing.Invoice {
	if inv.SentAt != nil {
		at := *inv.SentAt
		inv.SentAt = &at
	}
	if inv.VoidedAt != nil {
		at := *inv.VoidedAt
		inv.VoidedAt = &at
	}
	return inv
}

// active mirrors the partial unique index on invoices(payment_id).
func active(st invoicing.Status) bool {
	return st == invoicing.StatusDraft || st == invoicing.StatusSent || st == invoicing.StatusAccepted
}

// SaveInvoice implements invoicing.Store
func (s *Store) SaveInvoice(_ context.Context, inv invoicing.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr("save invoice"); err != nil {
		return err
	}
	if _, exists := s.invoices[inv.ID]; exists {
		return core.Persistence("save invoice", fmt.Errorf("invoice %s already exists", inv.ID))
	}
	if active(inv.Status) {
		for _, other := range s.invoices {
			if other.PaymentID == inv.PaymentID && active(other.Status) {
				return fmt.Errorf("%w: payment %s already has an active invoice", core.ErrDuplicateInvoice, inv.PaymentID)
			}
		}
	}
	s.invoices[inv.ID] = cloneInvoice(inv)
	s.invOrder = append(s.invOrder, inv.ID)
	return nil
}

// UpdateInvoice implements invoicing.Store
func (s *Store) UpdateInvoice(_ context.Context, inv invoicing.Invoice, from invoicing.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr("update invoice"); err != nil {
		return err
	}
	cur, ok := s.invoices[inv.ID]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrInvoiceNotFound, inv.ID)
	}
	if cur.Status != from {
		return fmt.Errorf("%w: invoice %s is %s, expected %s", core.ErrConcurrentModification, inv.ID, cur.Status, from)
	}
	if inv.Number != 0 {
		for id, other := range s.invoices {
			if id != inv.ID && other.Series == inv.Series && other.Number == inv.Number {
				return core.Persistence("update invoice", fmt.Errorf("number %s already used", inv.FullNumber()))
			}
		}
	}
	s.invoices[inv.ID] = cloneInvoice(inv)
	return nil
}

// LoadInvoice implements invoicing.Store
func (s *Store) LoadInvoice(_ context.Context, id string) (invoicing.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return invoicing.Invoice{}, fmt.Errorf("%w: %s", core.ErrInvoiceNotFound, id)
	}
	return cloneInvoice(inv), nil
}

// ListInvoicesByPayment implements invoicing.Store
func (s *Store) ListInvoicesByPayment(_ context.Context, paymentID string) ([]invoicing.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []invoicing.Invoice
	for _, id := range s.invOrder {
		if inv := s.invoices[id]; inv.PaymentID == paymentID {
			out = append(out, cloneInvoice(inv))
		}
	}
	return out, nil
}

// ListInvoicesByStatus implements invoicing.Store
func (s *Store) ListInvoicesByStatus(_ context.Context, status invoicing.Status, cutoff time.Time) ([]invoicing.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []invoicing.Invoice
	for _, id := range s.invOrder {
		inv := s.invoices[id]
		if inv.Status == status && !inv.UpdatedAt.After(cutoff) {
			out = append(out, cloneInvoice(inv))
		}
	}
	return out, nil
}
