package taxgateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"pagos/internal/core"
	"pagos/internal/invoicing"
)

func submission(key, series string, subtotal, tax int64) invoicing.Submission {
	return invoicing.Submission{
		DocumentType: invoicing.Factura,
		SeriesHint:   series,
		Payer:        invoicing.PayerTaxData{TaxID: "20123456789", LegalName: "Academia Andina SAC"},
		Totals: invoicing.Totals{
			Subtotal: core.Money{Cents: subtotal},
			Tax:      core.Money{Cents: tax},
			Total:    core.Money{Cents: subtotal + tax},
			Currency: "PEN",
		},
		IdempotencyKey: key,
	}
}

func TestSandbox_NumbersPerSeries(t *testing.T) {
	s := NewSandbox("")
	ctx := context.Background()

	tests := []struct {
		key    string
		series string
		want   int64
	}{
		{"a", "F001", 1},
		{"b", "F001", 2},
		{"c", "B001", 1},
		{"d", "F001", 3},
	}
	for _, tt := range tests {
		res, err := s.Submit(ctx, submission(tt.key, tt.series, 100, 18))
		if err != nil {
			t.Fatalf("Submit(%s) error = %v", tt.key, err)
		}
		if !res.Accepted || res.Series != tt.series || res.Number != tt.want {
			t.Errorf("Submit(%s) = %+v, want %s-%d accepted", tt.key, res, tt.series, tt.want)
		}
	}
}

func TestSandbox_DeduplicatesByKey(t *testing.T) {
	s := NewSandbox("")
	ctx := context.Background()

	first, err := s.Submit(ctx, submission("inv-1", "F001", 100, 18))
	if err != nil {
		t.Fatal(err)
	}
	again, err := s.Submit(ctx, submission("inv-1", "F001", 100, 18))
	if err != nil {
		t.Fatal(err)
	}
	if first != again {
		t.Errorf("resubmission = %+v, want %+v", again, first)
	}
	if s.Calls() != 2 {
		t.Errorf("Calls() = %d, want 2", s.Calls())
	}
}

func TestSandbox_RejectsBadTotals(t *testing.T) {
	s := NewSandbox("")
	sub := submission("inv-1", "F001", 100, 18)
	sub.Totals.Total = core.Money{Cents: 119}

	res, err := s.Submit(context.Background(), sub)
	if err != nil {
		t.Fatal(err)
	}
	if res.Accepted || res.ResponseCode != "3105" {
		t.Errorf("Submit() = %+v, want rejection 3105", res)
	}
}

func TestSandbox_RejectAndFailNext(t *testing.T) {
	s := NewSandbox("")
	ctx := context.Background()

	s.RejectNext("2017", "unknown customer")
	res, err := s.Submit(ctx, submission("a", "F001", 100, 18))
	if err != nil || res.Accepted || res.ResponseCode != "2017" {
		t.Fatalf("Submit() = %+v, %v; want rejection 2017", res, err)
	}

	boom := errors.New("connection reset")
	s.FailNext(boom)
	if _, err := s.Submit(ctx, submission("b", "F001", 100, 18)); !errors.Is(err, boom) {
		t.Fatalf("Submit() error = %v, want %v", err, boom)
	}

	res, err = s.Submit(ctx, submission("b", "F001", 100, 18))
	if err != nil || !res.Accepted || res.Number != 1 {
		t.Fatalf("Submit() after failure = %+v, %v; want first number accepted", res, err)
	}
}

func TestSandbox_DelayHonoursDeadline(t *testing.T) {
	s := NewSandbox("")
	s.SetDelay(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Submit(ctx, submission("a", "F001", 100, 18))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Submit() error = %v, want deadline exceeded", err)
	}
}
