package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"pagos/internal/core"
	"pagos/internal/installments"
	"pagos/internal/lock"
	"pagos/internal/log"
)

// Store is the persistence boundary for payments. SavePayment and AppendAbono
// must be atomic: on failure nothing is written.
type Store interface {
	LoadPayment(ctx context.Context, id string) (Payment, error)
	SavePayment(ctx context.Context, p Payment) error
	// AppendAbono adds a to the payment if its stored version still equals
	// expectedVersion, and bumps the version. Otherwise it returns
	// core.ErrConcurrentModification.
	AppendAbono(ctx context.Context, paymentID string, expectedVersion int64, a Abono) error
	CancelPayment(ctx context.Context, paymentID string, expectedVersion int64, at time.Time, reason string) error
	ListPaymentsByPayer(ctx context.Context, payerID string) ([]Payment, error)
	// ListPaymentsDueBetween returns payments with at least one installment due in [from, to].
	ListPaymentsDueBetween(ctx context.Context, from, to core.Date) ([]Payment, error)
}

// Options configures a Service.
type Options struct {
	Location        *time.Location
	SingleGraceDays int
	DefaultCadence  string
	Publisher       EventPublisher
	Logger          *log.Logger
}

// Service orchestrates payment creation and abono recording.
type Service struct {
	store      Store
	clock      core.Clock
	loc        *time.Location
	graceDays  int
	cadence    string
	publisher  EventPublisher
	logger     *log.Logger
	structured *log.StructuredLogger
	locks      lock.Keyed
}

func NewService(store Store, clock core.Clock, opts Options) *Service {
	if clock == nil {
		clock = core.SystemClock{}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.DefaultCadence == "" {
		opts.DefaultCadence = installments.Monthly
	}
	if opts.Logger == nil {
		opts.Logger = log.Default(log.ComponentLedger)
	}
	return &Service{
		store:      store,
		clock:      clock,
		loc:        opts.Location,
		graceDays:  opts.SingleGraceDays,
		cadence:    opts.DefaultCadence,
		publisher:  opts.Publisher,
		logger:     opts.Logger.WithComponent(log.ComponentLedger),
		structured: log.NewStructuredLogger(opts.Logger),
	}
}

// Today is the current calendar date in the business timezone.
func (s *Service) Today() core.Date {
	return core.Today(s.clock, s.loc)
}

// NewPayment is the input of CreatePayment.
type NewPayment struct {
	PayerID          string     `json:"payer_id" validate:"required,max=64"`
	ItemID           string     `json:"item_id" validate:"required,max=64"`
	Total            core.Money `json:"-"`
	Plan             PlanType   `json:"plan"`
	InstallmentCount int        `json:"installment_count"`
	FirstDueDate     core.Date  `json:"-"`
	Cadence          string     `json:"cadence"`
}

// CreatePayment validates the request, builds the installment plan and
// persists the payment with its installments in one write.
func (s *Service) CreatePayment(ctx context.Context, in NewPayment) (Payment, error) {
	if err := core.ValidateStruct(in, core.ErrInvalidInput); err != nil {
		return Payment{}, err
	}
	if in.Total.Cents <= 0 {
		return Payment{}, core.Invalid(core.ErrInvalidPlan, "total", "must be positive, got %d", in.Total.Cents)
	}
	if in.Plan == "" {
		in.Plan = PlanSingle
	}

	now := s.clock.Now()
	today := core.DateOf(now, s.loc)

	var plan []installments.Installment
	switch in.Plan {
	case PlanSingle:
		// Zero means "not given"; anything else must be exactly one.
		if in.InstallmentCount < 0 || in.InstallmentCount > 1 {
			return Payment{}, core.Invalid(core.ErrInvalidPlan, "installment_count", "single payment cannot have %d installments", in.InstallmentCount)
		}
		due := in.FirstDueDate
		if due.IsZero() {
			due = today.AddDays(s.graceDays)
		}
		plan = []installments.Installment{{Sequence: 1, Amount: in.Total, DueDate: due}}
		in.InstallmentCount = 1
		in.Cadence = ""
	case PlanInstallments:
		if in.InstallmentCount < 2 {
			return Payment{}, core.Invalid(core.ErrInvalidPlan, "installment_count", "installment plan needs at least 2 installments, got %d", in.InstallmentCount)
		}
		if in.Cadence == "" {
			in.Cadence = s.cadence
		}
		cadence, err := installments.GetCadence(in.Cadence)
		if err != nil {
			return Payment{}, err
		}
		first := in.FirstDueDate
		if first.IsZero() {
			first = today
		}
		plan, err = installments.Plan(in.Total, in.InstallmentCount, first, cadence)
		if err != nil {
			return Payment{}, err
		}
	default:
		return Payment{}, core.Invalid(core.ErrInvalidPlan, "plan", "unknown plan %q", in.Plan)
	}

	p := Payment{
		ID:               uuid.NewString(),
		PayerID:          strings.TrimSpace(in.PayerID),
		ItemID:           strings.TrimSpace(in.ItemID),
		Total:            in.Total,
		Plan:             in.Plan,
		InstallmentCount: in.InstallmentCount,
		Cadence:          in.Cadence,
		CreatedAt:        now,
		Installments:     plan,
		Version:          1,
	}
	if err := s.store.SavePayment(ctx, p); err != nil {
		return Payment{}, fmt.Errorf("save payment: %w", err)
	}

	s.logger.InfoContext(ctx, "Payment created",
		log.NewFields().
			WithPayment(p.ID, p.PayerID, p.ItemID).
			With(log.FieldTotalCents, p.Total.Cents).
			With("plan", string(p.Plan)).
			With("installments", len(p.Installments)).
			ToSlice()...)

	s.publish(ctx, Event{
		Kind:       EventPaymentCreated,
		PaymentID:  p.ID,
		PayerID:    p.PayerID,
		ItemID:     p.ItemID,
		Amount:     p.Total,
		Status:     StatusOf(p, today).String(),
		OccurredAt: now,
	})
	return p, nil
}

// NewAbono is the input of RecordAbono. A zero PaidAt means now.
type NewAbono struct {
	PaymentID         string     `json:"payment_id" validate:"required"`
	Amount            core.Money `json:"-"`
	PaidAt            time.Time  `json:"-"`
	Method            Method     `json:"method" validate:"required"`
	ExternalReference string     `json:"external_reference" validate:"max=128"`
}

// AbonoReceipt is the outcome of RecordAbono.
type AbonoReceipt struct {
	Abono      Abono
	Payment    Payment
	Allocation []installments.Line
	Status     Status
	// Replayed is set when the external reference was already recorded and
	// nothing new was written.
	Replayed bool
}

// RecordAbono appends a partial payment, allocating it FIFO across the
// pending installments. A repeated non-empty ExternalReference returns the
// originally recorded abono without writing anything.
func (s *Service) RecordAbono(ctx context.Context, in NewAbono) (AbonoReceipt, error) {
	in.ExternalReference = strings.TrimSpace(in.ExternalReference)
	if err := core.ValidateStruct(in, core.ErrInvalidInput); err != nil {
		return AbonoReceipt{}, err
	}
	if in.Amount.Cents <= 0 {
		return AbonoReceipt{}, core.Invalid(core.ErrInvalidAmount, "amount", "must be positive, got %d", in.Amount.Cents)
	}
	if !in.Method.Valid() {
		return AbonoReceipt{}, core.Invalid(core.ErrInvalidInput, "method", "unknown payment method %q", in.Method)
	}

	unlock := s.locks.Lock(in.PaymentID)
	defer unlock()

	p, err := s.store.LoadPayment(ctx, in.PaymentID)
	if err != nil {
		return AbonoReceipt{}, err
	}
	now := s.clock.Now()
	today := core.DateOf(now, s.loc)

	if existing, ok := p.AbonoByReference(in.ExternalReference); ok {
		s.logger.InfoContext(ctx, "Abono reference already recorded",
			log.FieldPaymentID, p.ID, log.FieldAbonoID, existing.ID, "reference", existing.ExternalReference)
		return AbonoReceipt{Abono: existing, Payment: p, Status: StatusOf(p, today), Replayed: true}, nil
	}
	if p.IsCancelled() {
		return AbonoReceipt{}, fmt.Errorf("%w: %s", core.ErrPaymentCancelled, p.ID)
	}
	if p.AmountPaid().Cents >= p.Total.Cents {
		return AbonoReceipt{}, fmt.Errorf("%w: %s", core.ErrAlreadyFullyPaid, p.ID)
	}

	alloc, err := installments.Allocate(in.Amount, p.Pending())
	if err != nil {
		return AbonoReceipt{}, fmt.Errorf("payment %s: %w", p.ID, err)
	}

	paidAt := in.PaidAt
	if paidAt.IsZero() {
		paidAt = now
	}
	a := Abono{
		ID:                uuid.NewString(),
		PaymentID:         p.ID,
		Amount:            in.Amount,
		PaidAt:            paidAt,
		Method:            in.Method,
		ExternalReference: in.ExternalReference,
		RecordedAt:        now,
	}
	if err := s.store.AppendAbono(ctx, p.ID, p.Version, a); err != nil {
		return AbonoReceipt{}, fmt.Errorf("append abono: %w", err)
	}
	p.Abonos = append(p.Abonos, a)
	p.Version++

	status := StatusOf(p, today)
	s.structured.LogAbonoRecorded(ctx, p.ID, a.ID, a.Amount.Cents, status.String())
	s.publish(ctx, Event{
		Kind:       EventAbonoRecorded,
		PaymentID:  p.ID,
		PayerID:    p.PayerID,
		ItemID:     p.ItemID,
		AbonoID:    a.ID,
		Amount:     a.Amount,
		Status:     status.String(),
		OccurredAt: now,
	})

	return AbonoReceipt{Abono: a, Payment: p, Allocation: alloc.Lines, Status: status}, nil
}

// GetPayment loads a payment.
func (s *Service) GetPayment(ctx context.Context, id string) (Payment, error) {
	return s.store.LoadPayment(ctx, id)
}

// Status loads a payment and derives its status as of today.
func (s *Service) Status(ctx context.Context, id string) (Payment, Status, error) {
	p, err := s.store.LoadPayment(ctx, id)
	if err != nil {
		return Payment{}, Status{}, err
	}
	return p, StatusOf(p, s.Today()), nil
}

// ListByPayer returns the payer's payments, oldest first.
func (s *Service) ListByPayer(ctx context.Context, payerID string) ([]Payment, error) {
	if strings.TrimSpace(payerID) == "" {
		return nil, core.Invalid(core.ErrInvalidInput, "payer_id", "required")
	}
	return s.store.ListPaymentsByPayer(ctx, payerID)
}

// CancelPayment voids a payment that has no abonos. Cancelling twice is a no-op.
func (s *Service) CancelPayment(ctx context.Context, id, reason string) (Payment, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	p, err := s.store.LoadPayment(ctx, id)
	if err != nil {
		return Payment{}, err
	}
	if p.IsCancelled() {
		return p, nil
	}
	if len(p.Abonos) > 0 {
		return Payment{}, fmt.Errorf("%w: %s has %d", core.ErrCancelWithAbonos, p.ID, len(p.Abonos))
	}

	now := s.clock.Now()
	if err := s.store.CancelPayment(ctx, p.ID, p.Version, now, reason); err != nil {
		return Payment{}, fmt.Errorf("cancel payment: %w", err)
	}
	p.CancelledAt = &now
	p.CancelReason = reason
	p.Version++

	s.logger.InfoContext(ctx, "Payment cancelled", log.FieldPaymentID, p.ID, "reason", reason)
	s.publish(ctx, Event{
		Kind:       EventPaymentCancelled,
		PaymentID:  p.ID,
		PayerID:    p.PayerID,
		ItemID:     p.ItemID,
		Amount:     p.Total,
		Status:     StatusOf(p, core.DateOf(now, s.loc)).String(),
		OccurredAt: now,
	})
	return p, nil
}

// publish notifies subscribers. The ledger write already committed, so
// failures are logged and not returned.
func (s *Service) publish(ctx context.Context, e Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish ledger event",
			log.FieldPaymentID, e.PaymentID, "kind", string(e.Kind), log.FieldError, err)
	}
}
