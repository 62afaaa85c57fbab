package invoicing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"pagos/internal/core"
	"pagos/internal/ledger"
	"pagos/internal/lock"
	"pagos/internal/log"
)

// Store persists invoices.
type Store interface {
	// SaveInvoice inserts inv. A second DRAFT, SENT or ACCEPTED invoice for
	// the same payment fails with core.ErrDuplicateInvoice.
	SaveInvoice(ctx context.Context, inv Invoice) error
	// UpdateInvoice writes inv's mutable fields if the stored status is still
	// from; otherwise it returns core.ErrConcurrentModification.
	UpdateInvoice(ctx context.Context, inv Invoice, from Status) error
	LoadInvoice(ctx context.Context, id string) (Invoice, error)
	ListInvoicesByPayment(ctx context.Context, paymentID string) ([]Invoice, error)
	// ListInvoicesByStatus returns invoices in status last updated before cutoff.
	ListInvoicesByStatus(ctx context.Context, status Status, cutoff time.Time) ([]Invoice, error)
}

// PaymentReader is the slice of the ledger the workflow needs.
type PaymentReader interface {
	LoadPayment(ctx context.Context, id string) (ledger.Payment, error)
}

// Config holds issuance parameters.
type Config struct {
	TaxRate        decimal.Decimal
	TaxIDRules     TaxIDRules
	Series         map[DocumentType]string
	Currency       string
	GatewayTimeout time.Duration
}

// DefaultConfig uses an 18% tax rate, the default tax-id rules and a 15s gateway timeout.
func DefaultConfig() Config {
	return Config{
		TaxRate:    decimal.RequireFromString("0.18"),
		TaxIDRules: DefaultTaxIDRules(),
		Series: map[DocumentType]string{
			Factura:    "F001",
			Boleta:     "B001",
			CreditNote: "FC01",
			DebitNote:  "FD01",
		},
		Currency:       "PEN",
		GatewayTimeout: 15 * time.Second,
	}
}

// IssueRequest asks for a fiscal document for a payment.
type IssueRequest struct {
	PaymentID    string
	DocumentType DocumentType
	Payer        PayerTaxData
}

// Workflow drives invoices through DRAFT -> SENT -> ACCEPTED|REJECTED and
// ACCEPTED -> VOIDED.
type Workflow struct {
	store      Store
	payments   PaymentReader
	gateway    Gateway
	clock      core.Clock
	cfg        Config
	logger     *log.Logger
	structured *log.StructuredLogger
	locks      lock.Keyed
}

func NewWorkflow(store Store, payments PaymentReader, gateway Gateway, clock core.Clock, cfg Config, logger *log.Logger) *Workflow {
	if clock == nil {
		clock = core.SystemClock{}
	}
	if logger == nil {
		logger = log.Default(log.ComponentInvoicing)
	}
	if cfg.TaxIDRules == nil {
		cfg.TaxIDRules = DefaultTaxIDRules()
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = DefaultConfig().GatewayTimeout
	}
	return &Workflow{
		store:      store,
		payments:   payments,
		gateway:    gateway,
		clock:      clock,
		cfg:        cfg,
		logger:     logger.WithComponent(log.ComponentInvoicing),
		structured: log.NewStructuredLogger(logger),
	}
}

// Issue snapshots the payment into a DRAFT invoice, marks it SENT and submits
// it. On acceptance the invoice is ACCEPTED; on rejection it is REJECTED and a
// *GatewayRejectedError is returned. On timeout or transport failure the
// invoice stays SENT and is returned together with core.ErrGatewayTimeout or
// core.ErrGatewayUnavailable.
func (w *Workflow) Issue(ctx context.Context, req IssueRequest) (Invoice, error) {
	if !req.DocumentType.Valid() {
		return Invoice{}, core.Invalid(core.ErrInvalidInput, "document_type", "unknown document type %q", req.DocumentType)
	}
	if err := core.ValidateStruct(req.Payer, core.ErrInvalidTaxID); err != nil {
		return Invoice{}, err
	}
	if err := w.cfg.TaxIDRules.Check(req.DocumentType, req.Payer.TaxID); err != nil {
		return Invoice{}, err
	}

	unlock := w.locks.Lock(req.PaymentID)
	defer unlock()

	p, err := w.payments.LoadPayment(ctx, req.PaymentID)
	if err != nil {
		return Invoice{}, err
	}
	if p.IsCancelled() {
		return Invoice{}, fmt.Errorf("%w: %s", core.ErrPaymentCancelled, p.ID)
	}
	if p.AmountPaid().IsZero() {
		return Invoice{}, fmt.Errorf("%w: %s", core.ErrNothingToInvoice, p.ID)
	}

	existing, err := w.store.ListInvoicesByPayment(ctx, p.ID)
	if err != nil {
		return Invoice{}, fmt.Errorf("list invoices: %w", err)
	}
	var draft *Invoice
	for i := range existing {
		inv := existing[i]
		if inv.Status.blocksReissue() {
			return Invoice{}, fmt.Errorf("%w: payment %s has %s invoice %s",
				core.ErrDuplicateInvoice, p.ID, inv.Status, inv.ID)
		}
		if inv.Status == StatusDraft {
			draft = &existing[i]
		}
	}

	now := w.clock.Now()
	subtotal, tax := w.splitTax(p.Total)

	inv := Invoice{
		ID:        uuid.NewString(),
		CreatedAt: now,
		Status:    StatusDraft,
	}
	if draft != nil {
		// A DRAFT never reached the gateway; refresh and reuse it.
		inv = *draft
	}
	inv.PaymentID = p.ID
	inv.DocumentType = req.DocumentType
	inv.Series = w.cfg.Series[req.DocumentType]
	inv.Payer = req.Payer
	inv.Subtotal = subtotal
	inv.TaxAmount = tax
	inv.Total = p.Total
	inv.UpdatedAt = now

	// The store admits one active invoice per payment, so a concurrent
	// issuer in another process loses here, before anything is submitted.
	if draft == nil {
		if err := w.store.SaveInvoice(ctx, inv); err != nil {
			return Invoice{}, fmt.Errorf("save draft invoice: %w", err)
		}
	}

	if err := inv.Transition(StatusSent, now); err != nil {
		return Invoice{}, err
	}
	if err := w.store.UpdateInvoice(ctx, inv, StatusDraft); err != nil {
		if errors.Is(err, core.ErrConcurrentModification) {
			return Invoice{}, fmt.Errorf("%w: invoice %s was sent concurrently", core.ErrDuplicateInvoice, inv.ID)
		}
		return Invoice{}, fmt.Errorf("mark invoice sent: %w", err)
	}
	w.structured.LogInvoiceTransition(ctx, inv.ID, string(inv.DocumentType), string(StatusDraft), string(StatusSent), "")

	return w.submit(ctx, inv, p)
}

// Retry resubmits a SENT invoice with the same idempotency key.
func (w *Workflow) Retry(ctx context.Context, invoiceID string) (Invoice, error) {
	inv, err := w.store.LoadInvoice(ctx, invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	unlock := w.locks.Lock(inv.PaymentID)
	defer unlock()

	// Reload under the lock; a concurrent retry may have resolved it.
	if inv, err = w.store.LoadInvoice(ctx, invoiceID); err != nil {
		return Invoice{}, err
	}
	if inv.Status != StatusSent {
		return inv, fmt.Errorf("%w: retry requires SENT, invoice %s is %s", core.ErrInvalidTransition, inv.ID, inv.Status)
	}
	p, err := w.payments.LoadPayment(ctx, inv.PaymentID)
	if err != nil {
		return Invoice{}, err
	}
	return w.submit(ctx, inv, p)
}

// Reconcile records an outcome obtained outside the gateway call (for
// example from the authority's portal) on a SENT invoice.
func (w *Workflow) Reconcile(ctx context.Context, invoiceID string, res Result) (Invoice, error) {
	inv, err := w.store.LoadInvoice(ctx, invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	unlock := w.locks.Lock(inv.PaymentID)
	defer unlock()

	if inv, err = w.store.LoadInvoice(ctx, invoiceID); err != nil {
		return Invoice{}, err
	}
	if inv.Status != StatusSent {
		return inv, fmt.Errorf("%w: reconcile requires SENT, invoice %s is %s", core.ErrInvalidTransition, inv.ID, inv.Status)
	}
	inv, err = w.apply(ctx, inv, res, log.OpReconcile)
	var rejected *GatewayRejectedError
	if errors.As(err, &rejected) {
		return inv, nil
	}
	return inv, err
}

// Void annuls an ACCEPTED invoice. The record is kept.
func (w *Workflow) Void(ctx context.Context, invoiceID, reason string) (Invoice, error) {
	inv, err := w.store.LoadInvoice(ctx, invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	unlock := w.locks.Lock(inv.PaymentID)
	defer unlock()

	if inv, err = w.store.LoadInvoice(ctx, invoiceID); err != nil {
		return Invoice{}, err
	}
	if err := inv.Transition(StatusVoided, w.clock.Now()); err != nil {
		return inv, err
	}
	inv.VoidReason = reason
	if err := w.store.UpdateInvoice(ctx, inv, StatusAccepted); err != nil {
		return Invoice{}, fmt.Errorf("void invoice: %w", err)
	}
	w.structured.LogInvoiceTransition(ctx, inv.ID, string(inv.DocumentType), string(StatusAccepted), string(StatusVoided), "")
	return inv, nil
}

// Get loads one invoice.
func (w *Workflow) Get(ctx context.Context, id string) (Invoice, error) {
	return w.store.LoadInvoice(ctx, id)
}

// ListByPayment returns the invoices issued for a payment, oldest first.
func (w *Workflow) ListByPayment(ctx context.Context, paymentID string) ([]Invoice, error) {
	return w.store.ListInvoicesByPayment(ctx, paymentID)
}

// ListStale returns SENT invoices not updated for at least olderThan. They
// await a Retry or Reconcile.
func (w *Workflow) ListStale(ctx context.Context, olderThan time.Duration) ([]Invoice, error) {
	return w.store.ListInvoicesByStatus(ctx, StatusSent, w.clock.Now().Add(-olderThan))
}

func (w *Workflow) submit(ctx context.Context, inv Invoice, p ledger.Payment) (Invoice, error) {
	callCtx, cancel := context.WithTimeout(ctx, w.cfg.GatewayTimeout)
	defer cancel()

	start := time.Now()
	res, err := w.gateway.Submit(callCtx, w.submission(inv, p))
	if err != nil {
		kind := core.ErrGatewayUnavailable
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, core.ErrGatewayTimeout) {
			kind = core.ErrGatewayTimeout
		}
		w.logger.WarnContext(ctx, "Invoice left SENT after gateway failure",
			log.NewFields().
				WithInvoice(inv.ID, string(inv.DocumentType), string(inv.Status)).
				WithError(err).
				With(log.FieldDuration, time.Since(start).Milliseconds()).
				ToSlice()...)
		return inv, fmt.Errorf("%w: invoice %s: %v", kind, inv.ID, err)
	}
	return w.apply(ctx, inv, res, log.OpIssue)
}

func (w *Workflow) apply(ctx context.Context, inv Invoice, res Result, op string) (Invoice, error) {
	to := StatusRejected
	if res.Accepted {
		to = StatusAccepted
		if res.Series != "" {
			inv.Series = res.Series
		}
		inv.Number = res.Number
		inv.PDFURL = res.PDFURL
		inv.XMLURL = res.XMLURL
	}
	inv.GatewayResponseCode = res.ResponseCode
	inv.GatewayDescription = res.Description

	if err := inv.Transition(to, w.clock.Now()); err != nil {
		return inv, err
	}
	if err := w.store.UpdateInvoice(ctx, inv, StatusSent); err != nil {
		w.logger.ErrorContext(ctx, "Gateway outcome not persisted; invoice needs reconciliation",
			log.FieldInvoiceID, inv.ID, log.FieldStatus, string(to), log.FieldOperation, op, log.FieldError, err)
		return inv, fmt.Errorf("record gateway outcome: %w", err)
	}
	w.structured.LogInvoiceTransition(ctx, inv.ID, string(inv.DocumentType), string(StatusSent), string(to), res.ResponseCode)

	if !res.Accepted {
		return inv, &GatewayRejectedError{InvoiceID: inv.ID, Code: res.ResponseCode, Description: res.Description}
	}
	return inv, nil
}

func (w *Workflow) submission(inv Invoice, p ledger.Payment) Submission {
	return Submission{
		DocumentType: inv.DocumentType,
		SeriesHint:   w.cfg.Series[inv.DocumentType],
		Payer:        inv.Payer,
		LineItems: []LineItem{{
			Description: fmt.Sprintf("%s (payment %s)", p.ItemID, p.ID),
			Quantity:    1,
			UnitPrice:   inv.Subtotal,
			Subtotal:    inv.Subtotal,
			Tax:         inv.TaxAmount,
			Total:       inv.Total,
		}},
		Totals: Totals{
			Subtotal: inv.Subtotal,
			Tax:      inv.TaxAmount,
			Total:    inv.Total,
			Currency: w.cfg.Currency,
		},
		IdempotencyKey: inv.ID,
	}
}

// splitTax derives subtotal and tax from a tax-inclusive total so that
// subtotal + tax == total exactly.
func (w *Workflow) splitTax(total core.Money) (core.Money, core.Money) {
	if w.cfg.TaxRate.IsZero() {
		return total, core.Money{}
	}
	base := total.Decimal().Div(decimal.NewFromInt(1).Add(w.cfg.TaxRate))
	subtotal := core.MoneyFromDecimal(base)
	return subtotal, total.Sub(subtotal)
}
