package invoicing_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagos/internal/core"
	"pagos/internal/invoicing"
	"pagos/internal/ledger"
	"pagos/internal/log"
	"pagos/internal/storage/memory"
	"pagos/internal/taxgateway"
)

const (
	ruc = "20123456789"
	dni = "45678912"
)

type fixture struct {
	store   *memory.Store
	ledger  *ledger.Service
	gateway *taxgateway.Sandbox
	flow    *invoicing.Workflow
	clock   *core.FixedClock
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
		store:   store,
		ledger:  ledger.NewService(store, clock, ledger.Options{Logger: logger}),
		gateway: gw,
		flow:    invoicing.NewWorkflow(store, store, gw, clock, cfg, logger),
		clock:   clock,
	}
}

// paidPayment creates a SINGLE payment of cents and pays paid of it.
func (f fixture) paidPayment(t *testing.T, cents, paid int64) ledger.Payment {
	t.Helper()
	ctx := context.Background()
	p, err := f.ledger.CreatePayment(ctx, ledger.NewPayment{
		PayerID: "payer-1",
		ItemID:  "course-go",
		Total:   core.Money{Cents: cents},
	})
	require.NoError(t, err)
	if paid > 0 {
		_, err = f.ledger.RecordAbono(ctx, ledger.NewAbono{
			PaymentID: p.ID,
			Amount:    core.Money{Cents: paid},
			Method:    ledger.MethodCard,
		})
		require.NoError(t, err)
	}
	return p
}

func request(paymentID string, doc invoicing.DocumentType, taxID string) invoicing.IssueRequest {
	return invoicing.IssueRequest{
		PaymentID:    paymentID,
		DocumentType: doc,
		Payer: invoicing.PayerTaxData{
			TaxID:     taxID,
			LegalName: "Academia Andina SAC",
			Address:   "Av. Arequipa 123, Lima",
		},
	}
}

func TestIssue_AcceptedFactura(t *testing.T) {
	f := newFixture(t)
	p := f.paidPayment(t, 15000, 15000)

	inv, err := f.flow.Issue(context.Background(), request(p.ID, invoicing.Factura, ruc))
	require.NoError(t, err)

	assert.Equal(t, invoicing.StatusAccepted, inv.Status)
	assert.Equal(t, "F001", inv.Series)
	assert.Equal(t, int64(1), inv.Number)
	assert.Equal(t, "F001-00000001", inv.FullNumber())
	assert.Equal(t, int64(15000), inv.Total.Cents)
	assert.Equal(t, int64(12712), inv.Subtotal.Cents)
	assert.Equal(t, int64(2288), inv.TaxAmount.Cents)
	assert.Equal(t, "0", inv.GatewayResponseCode)
	assert.NotEmpty(t, inv.PDFURL)
	assert.NotNil(t, inv.SentAt)

	stored, err := f.flow.Get(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicing.StatusAccepted, stored.Status)
}

func TestIssue_DuplicateThenVoidThenReissue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.paidPayment(t, 15000, 15000)

	first, err := f.flow.Issue(ctx, request(p.ID, invoicing.Factura, ruc))
	require.NoError(t, err)

	_, err = f.flow.Issue(ctx, request(p.ID, invoicing.Boleta, dni))
	assert.ErrorIs(t, err, core.ErrDuplicateInvoice)

	// One active document per payment, whatever its type.
	_, err = f.flow.Issue(ctx, request(p.ID, invoicing.CreditNote, ruc))
	assert.ErrorIs(t, err, core.ErrDuplicateInvoice)
	_, err = f.flow.Issue(ctx, request(p.ID, invoicing.DebitNote, dni))
	assert.ErrorIs(t, err, core.ErrDuplicateInvoice)
	assert.Equal(t, 1, f.gateway.Calls())

	voided, err := f.flow.Void(ctx, first.ID, "wrong legal name")
	require.NoError(t, err)
	assert.Equal(t, invoicing.StatusVoided, voided.Status)
	assert.NotNil(t, voided.VoidedAt)

	second, err := f.flow.Issue(ctx, request(p.ID, invoicing.Factura, ruc))
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Number)
	assert.NotEqual(t, first.ID, second.ID)

	all, err := f.flow.ListByPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

// slowListStore widens the gap between the duplicate check and the insert,
// like a round trip to a shared database file.
type slowListStore struct {
	*memory.Store
	delay time.Duration
}

func (s slowListStore) ListInvoicesByPayment(ctx context.Context, paymentID string) ([]invoicing.Invoice, error) {
	out, err := s.Store.ListInvoicesByPayment(ctx, paymentID)
	time.Sleep(s.delay)
	return out, err
}

func TestIssue_SeparateWorkflowsShareOneActiveInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.paidPayment(t, 15000, 15000)

	logger := log.New(log.Config{Handler: slog.NewTextHandler(io.Discard, nil)})
	store := slowListStore{Store: f.store, delay: 50 * time.Millisecond}
	flows := []*invoicing.Workflow{
		invoicing.NewWorkflow(store, f.store, f.gateway, f.clock, invoicing.DefaultConfig(), logger),
		invoicing.NewWorkflow(store, f.store, f.gateway, f.clock, invoicing.DefaultConfig(), logger),
	}

	errs := make([]error, len(flows))
	var wg sync.WaitGroup
	for i, flow := range flows {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = flow.Issue(ctx, request(p.ID, invoicing.Factura, ruc))
		}()
	}
	wg.Wait()

	var issued, duplicates int
	for _, err := range errs {
		switch {
		case err == nil:
			issued++
		case errors.Is(err, core.ErrDuplicateInvoice):
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, issued)
	assert.Equal(t, 1, duplicates)
	assert.Equal(t, 1, f.gateway.Calls())

	all, err := f.flow.ListByPayment(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, invoicing.StatusAccepted, all[0].Status)
}

func TestIssue_TaxIDRules(t *testing.T) {
	tests := []struct {
		name  string
		doc   invoicing.DocumentType
		taxID string
		ok    bool
	}{
		{"factura with ruc", invoicing.Factura, ruc, true},
		{"factura with dni", invoicing.Factura, dni, false},
		{"boleta with dni", invoicing.Boleta, dni, true},
		{"boleta with ruc", invoicing.Boleta, ruc, false},
		{"non numeric", invoicing.Boleta, "4567891A", false},
		{"decimal point", invoicing.Boleta, "1234.567", false},
		{"signed", invoicing.Boleta, "-1234567", false},
		{"signed ruc", invoicing.Factura, "+2012345678", false},
		{"empty", invoicing.Factura, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			p := f.paidPayment(t, 15000, 15000)

			_, err := f.flow.Issue(context.Background(), request(p.ID, tt.doc, tt.taxID))
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, core.ErrInvalidTaxID)
			assert.Zero(t, f.gateway.Calls(), "gateway must not be called")
			all, err := f.flow.ListByPayment(context.Background(), p.ID)
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestIssue_NothingToInvoice(t *testing.T) {
	f := newFixture(t)
	p := f.paidPayment(t, 15000, 0)

	_, err := f.flow.Issue(context.Background(), request(p.ID, invoicing.Factura, ruc))
	assert.ErrorIs(t, err, core.ErrNothingToInvoice)

	_, err = f.flow.Issue(context.Background(), request("missing", invoicing.Factura, ruc))
	assert.ErrorIs(t, err, core.ErrPaymentNotFound)
}

func TestIssue_TimeoutLeavesSent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.paidPayment(t, 15000, 15000)

	f.gateway.SetDelay(time.Second)
	inv, err := f.flow.Issue(ctx, request(p.ID, invoicing.Factura, ruc))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrGatewayTimeout)
	assert.Equal(t, invoicing.StatusSent, inv.Status)

	stored, err := f.flow.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicing.StatusSent, stored.Status)

	// A SENT invoice blocks re-issue while its outcome is unknown.
	_, err = f.flow.Issue(ctx, request(p.ID, invoicing.Factura, ruc))
	assert.ErrorIs(t, err, core.ErrDuplicateInvoice)

	f.clock.Advance(10 * time.Minute)
	stale, err := f.flow.ListStale(ctx, 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, inv.ID, stale[0].ID)

	f.gateway.SetDelay(0)
	retried, err := f.flow.Retry(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicing.StatusAccepted, retried.Status)

	_, err = f.flow.Retry(ctx, inv.ID)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
}

func TestIssue_UnavailableThenReconcile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.paidPayment(t, 15000, 15000)

	f.gateway.FailNext(errors.New("connection refused"))
	inv, err := f.flow.Issue(ctx, request(p.ID, invoicing.Factura, ruc))
	assert.ErrorIs(t, err, core.ErrGatewayUnavailable)
	assert.Equal(t, invoicing.StatusSent, inv.Status)

	rejected, err := f.flow.Reconcile(ctx, inv.ID, invoicing.Result{ResponseCode: "2800", Description: "invalid customer"})
	require.NoError(t, err)
	assert.Equal(t, invoicing.StatusRejected, rejected.Status)
	assert.Equal(t, "2800", rejected.GatewayResponseCode)

	_, err = f.flow.Reconcile(ctx, inv.ID, invoicing.Result{Accepted: true})
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
}

func TestIssue_RejectedAllowsReissue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.paidPayment(t, 15000, 15000)

	f.gateway.RejectNext("2017", "customer tax id not found")
	inv, err := f.flow.Issue(ctx, request(p.ID, invoicing.Factura, ruc))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrGatewayRejected)

	var rejected *invoicing.GatewayRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "2017", rejected.Code)
	assert.Equal(t, invoicing.StatusRejected, inv.Status)

	_, err = f.flow.Void(ctx, inv.ID, "")
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	again, err := f.flow.Issue(ctx, request(p.ID, invoicing.Factura, ruc))
	require.NoError(t, err)
	assert.Equal(t, invoicing.StatusAccepted, again.Status)
}

func TestIssue_PartiallyPaidInvoicesTotal(t *testing.T) {
	f := newFixture(t)
	p := f.paidPayment(t, 15000, 5000)

	inv, err := f.flow.Issue(context.Background(), request(p.ID, invoicing.Boleta, dni))
	require.NoError(t, err)
	assert.Equal(t, int64(15000), inv.Total.Cents)
	assert.Equal(t, inv.Total, inv.Subtotal.Add(inv.TaxAmount))
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to invoicing.Status
		ok       bool
	}{
		{invoicing.StatusDraft, invoicing.StatusSent, true},
		{invoicing.StatusSent, invoicing.StatusAccepted, true},
		{invoicing.StatusSent, invoicing.StatusRejected, true},
		{invoicing.StatusAccepted, invoicing.StatusVoided, true},
		{invoicing.StatusDraft, invoicing.StatusAccepted, false},
		{invoicing.StatusRejected, invoicing.StatusSent, false},
		{invoicing.StatusVoided, invoicing.StatusAccepted, false},
		{invoicing.StatusAccepted, invoicing.StatusRejected, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to))
		})
	}
	assert.True(t, invoicing.StatusVoided.Terminal())
	assert.True(t, invoicing.StatusRejected.Terminal())
	assert.False(t, invoicing.StatusSent.Terminal())
}
