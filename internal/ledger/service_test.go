package ledger_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagos/internal/core"
	"pagos/internal/ledger"
	"pagos/internal/log"
	"pagos/internal/storage/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []ledger.Event
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, e ledger.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingPublisher) kinds() []ledger.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ledger.EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

func quietLogger() *log.Logger {
	return log.New(log.Config{Handler: slog.NewTextHandler(io.Discard, nil)})
}

type fixture struct {
	store *memory.Store
	clock *core.FixedClock
	pub   *recordingPublisher
	svc   *ledger.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.New()
	clock := core.NewFixedClock(time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC))
	pub := &recordingPublisher{}
	svc := ledger.NewService(store, clock, ledger.Options{Publisher: pub, Logger: quietLogger()})
	return fixture{store: store, clock: clock, pub: pub, svc: svc}
}

func (f fixture) installmentPlan(t *testing.T, total int64, count int, first core.Date) ledger.Payment {
	t.Helper()
	p, err := f.svc.CreatePayment(context.Background(), ledger.NewPayment{
		PayerID:          "payer-1",
		ItemID:           "course-go",
		Total:            core.Money{Cents: total},
		Plan:             ledger.PlanInstallments,
		InstallmentCount: count,
		FirstDueDate:     first,
		Cadence:          "monthly",
	})
	require.NoError(t, err)
	return p
}

func (f fixture) abono(t *testing.T, paymentID string, cents int64, ref string) (ledger.AbonoReceipt, error) {
	t.Helper()
	return f.svc.RecordAbono(context.Background(), ledger.NewAbono{
		PaymentID:         paymentID,
		Amount:            core.Money{Cents: cents},
		Method:            ledger.MethodTransfer,
		ExternalReference: ref,
	})
}

func TestCreatePayment_Single(t *testing.T) {
	f := newFixture(t)

	p, err := f.svc.CreatePayment(context.Background(), ledger.NewPayment{
		PayerID: "payer-1",
		ItemID:  "enrollment",
		Total:   core.Money{Cents: 15000},
	})
	require.NoError(t, err)

	assert.Equal(t, ledger.PlanSingle, p.Plan)
	require.Len(t, p.Installments, 1)
	assert.Equal(t, int64(15000), p.Installments[0].Amount.Cents)
	assert.True(t, p.Installments[0].DueDate.Equal(core.NewDate(2025, 3, 10)))
	assert.Equal(t, int64(1), p.Version)

	stored, err := f.store.LoadPayment(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, stored.ID)
	assert.Equal(t, []ledger.EventKind{ledger.EventPaymentCreated}, f.pub.kinds())
}

func TestCreatePayment_InstallmentsResidual(t *testing.T) {
	f := newFixture(t)
	p := f.installmentPlan(t, 10000, 3, core.NewDate(2025, 1, 31))

	require.Len(t, p.Installments, 3)
	assert.Equal(t, int64(3334), p.Installments[0].Amount.Cents)
	assert.Equal(t, int64(3333), p.Installments[1].Amount.Cents)
	assert.Equal(t, int64(3333), p.Installments[2].Amount.Cents)
	assert.Equal(t, "2025-02-28", p.Installments[1].DueDate.String())
	assert.Equal(t, "2025-03-31", p.Installments[2].DueDate.String())
}

func TestCreatePayment_Invalid(t *testing.T) {
	tests := []struct {
		name string
		in   ledger.NewPayment
		want error
	}{
		{
			name: "zero total",
			in:   ledger.NewPayment{PayerID: "p", ItemID: "i", Total: core.Money{}},
			want: core.ErrInvalidPlan,
		},
		{
			name: "missing payer",
			in:   ledger.NewPayment{ItemID: "i", Total: core.Money{Cents: 100}},
			want: core.ErrInvalidInput,
		},
		{
			name: "zero installments",
			in:   ledger.NewPayment{PayerID: "p", ItemID: "i", Total: core.Money{Cents: 100}, Plan: ledger.PlanInstallments},
			want: core.ErrInvalidPlan,
		},
		{
			name: "more installments than cents",
			in:   ledger.NewPayment{PayerID: "p", ItemID: "i", Total: core.Money{Cents: 2}, Plan: ledger.PlanInstallments, InstallmentCount: 3},
			want: core.ErrInvalidPlan,
		},
		{
			name: "unknown cadence",
			in:   ledger.NewPayment{PayerID: "p", ItemID: "i", Total: core.Money{Cents: 100}, Plan: ledger.PlanInstallments, InstallmentCount: 2, Cadence: "fortnightly-ish"},
			want: core.ErrInvalidPlan,
		},
		{
			name: "installments with one",
			in:   ledger.NewPayment{PayerID: "p", ItemID: "i", Total: core.Money{Cents: 100}, Plan: ledger.PlanInstallments, InstallmentCount: 1},
			want: core.ErrInvalidPlan,
		},
		{
			name: "installments negative",
			in:   ledger.NewPayment{PayerID: "p", ItemID: "i", Total: core.Money{Cents: 100}, Plan: ledger.PlanInstallments, InstallmentCount: -3},
			want: core.ErrInvalidPlan,
		},
		{
			name: "single negative",
			in:   ledger.NewPayment{PayerID: "p", ItemID: "i", Total: core.Money{Cents: 100}, Plan: ledger.PlanSingle, InstallmentCount: -1},
			want: core.ErrInvalidPlan,
		},
		{
			name: "single with count",
			in:   ledger.NewPayment{PayerID: "p", ItemID: "i", Total: core.Money{Cents: 100}, Plan: ledger.PlanSingle, InstallmentCount: 2},
			want: core.ErrInvalidPlan,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.CreatePayment(context.Background(), tt.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, f.pub.kinds(), "no event on failure")
		})
	}
}

func TestRecordAbono_FIFOAndStatus(t *testing.T) {
	f := newFixture(t)
	p := f.installmentPlan(t, 30000, 3, core.NewDate(2025, 3, 1))

	// First installment was due 2025-03-01; today is 2025-03-10.
	_, st, err := f.svc.Status(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StateOverdue, st.State)
	assert.False(t, st.Partial)

	rec, err := f.abono(t, p.ID, 15000, "")
	require.NoError(t, err)
	require.Len(t, rec.Allocation, 2)
	assert.Equal(t, int64(10000), rec.Allocation[0].Applied.Cents)
	assert.Equal(t, int64(5000), rec.Allocation[1].Applied.Cents)
	assert.Equal(t, ledger.StatePending, rec.Status.State)
	assert.True(t, rec.Status.Partial)
	assert.Equal(t, 2, rec.Status.Current)
	assert.Equal(t, int64(15000), rec.Status.Outstanding.Cents)

	rec, err = f.abono(t, p.ID, 15000, "")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatePaid, rec.Status.State)
	assert.False(t, rec.Status.Partial)
	assert.Equal(t, int64(3), rec.Payment.Version)

	assert.Equal(t, []ledger.EventKind{
		ledger.EventPaymentCreated, ledger.EventAbonoRecorded, ledger.EventAbonoRecorded,
	}, f.pub.kinds())
}

func TestRecordAbono_Rejections(t *testing.T) {
	f := newFixture(t)
	p := f.installmentPlan(t, 10000, 2, core.NewDate(2025, 4, 1))

	_, err := f.abono(t, p.ID, 0, "")
	assert.ErrorIs(t, err, core.ErrInvalidAmount)

	_, err = f.abono(t, p.ID, 10001, "")
	assert.ErrorIs(t, err, core.ErrOverpayment)

	_, err = f.abono(t, "missing", 100, "")
	assert.ErrorIs(t, err, core.ErrPaymentNotFound)

	_, err = f.abono(t, p.ID, 10000, "")
	require.NoError(t, err)

	_, err = f.abono(t, p.ID, 1, "")
	assert.ErrorIs(t, err, core.ErrAlreadyFullyPaid)

	stored, err := f.store.LoadPayment(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Abonos, 1, "rejected abonos leave no trace")
}

func TestRecordAbono_IdempotentReference(t *testing.T) {
	f := newFixture(t)
	p := f.installmentPlan(t, 10000, 2, core.NewDate(2025, 4, 1))

	first, err := f.abono(t, p.ID, 4000, "op-123")
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	again, err := f.abono(t, p.ID, 4000, " op-123 ")
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.Abono.ID, again.Abono.ID)

	stored, err := f.store.LoadPayment(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Abonos, 1)
	assert.Equal(t, int64(4000), stored.AmountPaid().Cents)
}

func TestRecordAbono_PersistenceFailureLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	p := f.installmentPlan(t, 10000, 2, core.NewDate(2025, 4, 1))

	f.store.FailWrites = true
	_, err := f.abono(t, p.ID, 5000, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrPersistence)
	f.store.FailWrites = false

	stored, err := f.store.LoadPayment(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Abonos)
	assert.Len(t, f.pub.kinds(), 1, "only the creation event")
}

func TestRecordAbono_ConcurrentNeverOverpays(t *testing.T) {
	f := newFixture(t)
	p := f.installmentPlan(t, 10000, 4, core.NewDate(2025, 4, 1))

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.abono(t, p.ID, 3000, "")
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, core.ErrOverpayment) && !errors.Is(err, core.ErrAlreadyFullyPaid) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	stored, err := f.store.LoadPayment(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, succeeded)
	assert.Equal(t, int64(9000), stored.AmountPaid().Cents)
	assert.NoError(t, stored.Validate())
}

func TestRecordAbono_PublisherFailureDoesNotFail(t *testing.T) {
	f := newFixture(t)
	p := f.installmentPlan(t, 10000, 2, core.NewDate(2025, 4, 1))
	f.pub.err = errors.New("broker down")

	_, err := f.abono(t, p.ID, 1000, "")
	assert.NoError(t, err)
}

func TestCancelPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.installmentPlan(t, 10000, 2, core.NewDate(2025, 4, 1))
	cancelled, err := f.svc.CancelPayment(ctx, p.ID, "enrolled by mistake")
	require.NoError(t, err)
	assert.True(t, cancelled.IsCancelled())

	again, err := f.svc.CancelPayment(ctx, p.ID, "twice")
	require.NoError(t, err)
	assert.Equal(t, "enrolled by mistake", again.CancelReason)

	_, err = f.abono(t, p.ID, 100, "")
	assert.ErrorIs(t, err, core.ErrPaymentCancelled)

	paid := f.installmentPlan(t, 10000, 2, core.NewDate(2025, 4, 1))
	_, err = f.abono(t, paid.ID, 100, "")
	require.NoError(t, err)
	_, err = f.svc.CancelPayment(ctx, paid.ID, "")
	assert.ErrorIs(t, err, core.ErrCancelWithAbonos)
}

func TestListByPayer(t *testing.T) {
	f := newFixture(t)
	f.installmentPlan(t, 10000, 2, core.NewDate(2025, 4, 1))
	f.installmentPlan(t, 20000, 2, core.NewDate(2025, 4, 1))

	list, err := f.svc.ListByPayer(context.Background(), "payer-1")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = f.svc.ListByPayer(context.Background(), " ")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestPaymentValidate_InstallmentCount(t *testing.T) {
	f := newFixture(t)
	p := f.installmentPlan(t, 10000, 2, core.NewDate(2025, 4, 1))
	require.NoError(t, p.Validate())

	mismatch := p
	mismatch.InstallmentCount = 3
	assert.ErrorIs(t, mismatch.Validate(), core.ErrInvalidPlan)

	lone := p
	lone.Installments = slices.Clone(p.Installments[:1])
	lone.Installments[0].Amount = lone.Total
	lone.InstallmentCount = 1
	assert.ErrorIs(t, lone.Validate(), core.ErrInvalidPlan, "installment plan needs two or more")

	assert.ErrorIs(t, f.store.SavePayment(context.Background(), mismatch), core.ErrInvalidPlan)
}
