package core

import (
	"errors"
	"testing"
	"time"
)

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{Date{Time: time.Time{}}, false}, // zero time
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestMoneyValidate(t *testing.T) {
	if err := (Money{Cents: 1}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Money{Cents: 0}).Validate(); err == nil {
		t.Fatalf("expected error for zero")
	}
}

func TestAddMonthsClamped(t *testing.T) {
	tests := []struct {
		name  string
		start Date
		n     int
		want  Date
	}{
		{"plain", NewDate(2025, 1, 15), 1, NewDate(2025, 2, 15)},
		{"end of january", NewDate(2025, 1, 31), 1, NewDate(2025, 2, 28)},
		{"leap year", NewDate(2024, 1, 31), 1, NewDate(2024, 2, 29)},
		{"year rollover", NewDate(2025, 11, 30), 3, NewDate(2026, 2, 28)},
		{"thirty day month", NewDate(2025, 3, 31), 1, NewDate(2025, 4, 30)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.start.AddMonthsClamped(tt.n); !got.Equal(tt.want) {
				t.Errorf("AddMonthsClamped(%d) = %s, want %s", tt.n, got, tt.want)
			}
		})
	}
}

func TestDateFromEpoch(t *testing.T) {
	lima, err := time.LoadLocation("America/Lima")
	if err != nil {
		t.Skipf("timezone data unavailable: %v", err)
	}
	// 2025-03-01T03:00:00Z is still Feb 28 in Lima (UTC-5).
	ms := time.Date(2025, 3, 1, 3, 0, 0, 0, time.UTC).UnixMilli()

	if got := DateFromEpoch(ms, time.UTC); !got.Equal(NewDate(2025, 3, 1)) {
		t.Errorf("UTC date = %s", got)
	}
	if got := DateFromEpoch(ms, lima); !got.Equal(NewDate(2025, 2, 28)) {
		t.Errorf("Lima date = %s", got)
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-03-09")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.String() != "2025-03-09" {
		t.Fatalf("got %s", d)
	}
	if _, err := ParseDate("09/03/2025"); err == nil {
		t.Fatal("expected error for wrong layout")
	}
}

func TestPeriod(t *testing.T) {
	p, err := ParsePeriod("2024-02")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Days() != 29 {
		t.Errorf("Days() = %d, want 29", p.Days())
	}
	if !p.Contains(NewDate(2024, 2, 29)) || p.Contains(NewDate(2024, 3, 1)) {
		t.Error("Contains() wrong at the month edges")
	}
	if p.String() != "2024-02" {
		t.Errorf("String() = %s", p)
	}
	if p.Compare(Period{Year: 2024, Month: time.March}) != -1 {
		t.Error("expected February before March")
	}
	if _, err := ParsePeriod("2024-13"); !errors.Is(err, ErrInvalidPeriod) {
		t.Errorf("expected ErrInvalidPeriod, got %v", err)
	}
}

func TestFixedClock(t *testing.T) {
	c := NewFixedClock(time.Date(2025, 3, 10, 23, 30, 0, 0, time.UTC))
	if got := Today(c, time.UTC); !got.Equal(NewDate(2025, 3, 10)) {
		t.Fatalf("Today = %s", got)
	}
	c.Advance(time.Hour)
	if got := Today(c, time.UTC); !got.Equal(NewDate(2025, 3, 11)) {
		t.Fatalf("Today after advance = %s", got)
	}
}

func TestValidationErrorUnwraps(t *testing.T) {
	err := Invalid(ErrInvalidTaxID, "tax_id", "expected %d digits", 11)
	if !errors.Is(err, ErrInvalidTaxID) {
		t.Fatalf("expected errors.Is to match sentinel, got %v", err)
	}
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "tax_id" {
		t.Fatalf("expected ValidationError for tax_id, got %v", err)
	}
}

func TestPersistenceWrap(t *testing.T) {
	base := errors.New("disk full")
	err := Persistence("save payment", base)
	if !errors.Is(err, ErrPersistence) || !errors.Is(err, base) {
		t.Fatalf("expected both sentinel and cause, got %v", err)
	}
	if Persistence("noop", nil) != nil {
		t.Fatal("nil error must stay nil")
	}
}
