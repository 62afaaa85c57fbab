package worker_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagos/internal/amqp"
	"pagos/internal/calendar"
	"pagos/internal/core"
	"pagos/internal/invoicing"
	"pagos/internal/ledger"
	"pagos/internal/log"
	"pagos/internal/storage/memory"
	"pagos/internal/taxgateway"
	"pagos/internal/worker"
)

type fixture struct {
	store    *memory.Store
	ledger   *ledger.Service
	gateway  *taxgateway.Sandbox
	flow     *invoicing.Workflow
	calendar *calendar.Service
	clock    *core.FixedClock
	logger   *log.Logger
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	logger := log.New(log.Config{Handler: slog.NewTextHandler(io.Discard, nil)})
	store := memory.New()
	clock := core.NewFixedClock(time.Date(2025, 5, 20, 10, 0, 0, 0, time.UTC))
	gw := taxgateway.NewSandbox("")
	cfg := invoicing.DefaultConfig()
	cfg.GatewayTimeout = 50 * time.Millisecond
	return fixture{
		store:    store,
		ledger:   ledger.NewService(store, clock, ledger.Options{Logger: logger}),
		gateway:  gw,
		flow:     invoicing.NewWorkflow(store, store, gw, clock, cfg, logger),
		calendar: calendar.NewService(store, clock, time.UTC, 0, 0, logger),
		clock:    clock,
		logger:   logger,
	}
}

func (f fixture) paidPayment(t *testing.T, cents int64) ledger.Payment {
	t.Helper()
	ctx := context.Background()
	p, err := f.ledger.CreatePayment(ctx, ledger.NewPayment{
		PayerID: "payer-1",
		ItemID:  "course-go",
		Total:   core.Money{Cents: cents},
	})
	require.NoError(t, err)
	_, err = f.ledger.RecordAbono(ctx, ledger.NewAbono{
		PaymentID: p.ID,
		Amount:    core.Money{Cents: cents},
		Method:    ledger.MethodTransfer,
	})
	require.NoError(t, err)
	return p
}

func boletaRequest(paymentID string) *amqp.InvoiceRequest {
	return &amqp.InvoiceRequest{
		PaymentID:    paymentID,
		DocumentType: "BOLETA",
		TaxID:        "45678912",
		LegalName:    "Ana Quispe",
	}
}

func TestInvoiceRequestHandler_Issues(t *testing.T) {
	f := newFixture(t)
	p := f.paidPayment(t, 15000)
	h := worker.NewInvoiceRequestHandler(f.flow, f.logger)

	require.NoError(t, h.Handle(context.Background(), boletaRequest(p.ID)))

	invs, err := f.flow.ListByPayment(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, invs, 1)
	assert.Equal(t, invoicing.StatusAccepted, invs[0].Status)
	assert.Equal(t, "B001", invs[0].Series)

	// A redelivered request must not issue a second document.
	err = h.Handle(context.Background(), boletaRequest(p.ID))
	assert.ErrorIs(t, err, core.ErrDuplicateInvoice)
	assert.Equal(t, 1, f.gateway.Calls())
}

func TestInvoiceRequestHandler_GatewayOutageIsSettled(t *testing.T) {
	f := newFixture(t)
	p := f.paidPayment(t, 15000)
	h := worker.NewInvoiceRequestHandler(f.flow, f.logger)

	f.gateway.FailNext(errors.New("connection refused"))
	require.NoError(t, h.Handle(context.Background(), boletaRequest(p.ID)))

	invs, err := f.flow.ListByPayment(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, invs, 1)
	assert.Equal(t, invoicing.StatusSent, invs[0].Status)
}

func TestInvoiceRequestHandler_DomainErrors(t *testing.T) {
	f := newFixture(t)
	p := f.paidPayment(t, 15000)
	h := worker.NewInvoiceRequestHandler(f.flow, f.logger)

	req := boletaRequest(p.ID)
	req.TaxID = "123"
	assert.ErrorIs(t, h.Handle(context.Background(), req), core.ErrInvalidTaxID)

	f.gateway.RejectNext("2800", "invalid document")
	err := h.Handle(context.Background(), boletaRequest(p.ID))
	assert.ErrorIs(t, err, core.ErrGatewayRejected)

	assert.ErrorIs(t, h.Handle(context.Background(), boletaRequest("missing")), core.ErrPaymentNotFound)
}

func TestProcessor_CheckStaleReportsOnly(t *testing.T) {
	f := newFixture(t)
	p := f.paidPayment(t, 15000)

	f.gateway.FailNext(errors.New("connection refused"))
	inv, err := f.flow.Issue(context.Background(), invoicing.IssueRequest{
		PaymentID:    p.ID,
		DocumentType: invoicing.Boleta,
		Payer:        invoicing.PayerTaxData{TaxID: "45678912", LegalName: "Ana Quispe"},
	})
	require.ErrorIs(t, err, core.ErrGatewayUnavailable)

	proc := worker.NewProcessor(f.flow, f.calendar, worker.ProcessorConfig{StaleAfter: 5 * time.Minute}, f.logger)

	assert.Equal(t, 0, proc.CheckStale(context.Background()), "fresh SENT invoice is not stale yet")

	f.clock.Advance(10 * time.Minute)
	assert.Equal(t, 1, proc.CheckStale(context.Background()))

	stored, err := f.flow.Get(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicing.StatusSent, stored.Status)
	assert.Equal(t, 1, f.gateway.Calls())
}

func TestProcessor_CheckStaleRetries(t *testing.T) {
	f := newFixture(t)
	p := f.paidPayment(t, 15000)

	f.gateway.SetDelay(time.Second)
	inv, err := f.flow.Issue(context.Background(), invoicing.IssueRequest{
		PaymentID:    p.ID,
		DocumentType: invoicing.Boleta,
		Payer:        invoicing.PayerTaxData{TaxID: "45678912", LegalName: "Ana Quispe"},
	})
	require.ErrorIs(t, err, core.ErrGatewayTimeout)
	f.gateway.SetDelay(0)

	proc := worker.NewProcessor(f.flow, f.calendar, worker.ProcessorConfig{
		StaleAfter: 5 * time.Minute,
		RetryStale: true,
	}, f.logger)

	f.clock.Advance(10 * time.Minute)
	assert.Equal(t, 0, proc.CheckStale(context.Background()))

	stored, err := f.flow.Get(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicing.StatusAccepted, stored.Status)
}

func TestProcessor_Digest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.CreatePayment(ctx, ledger.NewPayment{
		PayerID:          "payer-2",
		ItemID:           "course-sql",
		Total:            core.Money{Cents: 10000},
		Plan:             ledger.PlanInstallments,
		InstallmentCount: 2,
		FirstDueDate:     core.NewDate(2025, 4, 1),
		Cadence:          "monthly",
	})
	require.NoError(t, err)

	proc := worker.NewProcessor(f.flow, f.calendar, worker.ProcessorConfig{OverdueLookback: 30}, f.logger)
	days := proc.Digest(ctx)

	// 2025-04-01 falls outside the 30-day window ending 2025-05-19.
	require.Len(t, days, 1)
	assert.Equal(t, "2025-05-01", days[0].Date.String())
	assert.Equal(t, int64(5000), days[0].Pending.Cents)
}

func TestProcessor_Lifecycle(t *testing.T) {
	f := newFixture(t)
	proc := worker.NewProcessor(f.flow, f.calendar, worker.ProcessorConfig{StaleInterval: 10 * time.Millisecond}, f.logger)
	ctx := context.Background()

	require.NoError(t, proc.Start(ctx))
	assert.True(t, proc.IsRunning())
	assert.Error(t, proc.Start(ctx), "second start must fail")

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, proc.Stop(stopCtx))
	assert.False(t, proc.IsRunning())
	assert.NoError(t, proc.Stop(stopCtx), "stop is idempotent")

	require.NoError(t, proc.Start(ctx), "processor can be restarted")
	require.NoError(t, proc.Stop(stopCtx))
}
