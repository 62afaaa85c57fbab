package installments

import (
	"errors"
	"testing"

	"pagos/internal/core"
)

func TestPlan_ResidualOnFirstInstallment(t *testing.T) {
	plan, err := Plan(core.Money{Cents: 10000}, 3, core.NewDate(2025, 1, 10), MonthlyCadence{})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	want := []int64{3334, 3333, 3333}
	for i, inst := range plan {
		if inst.Amount.Cents != want[i] {
			t.Errorf("installment %d amount = %d, want %d", inst.Sequence, inst.Amount.Cents, want[i])
		}
		if inst.Sequence != i+1 {
			t.Errorf("installment %d has sequence %d", i, inst.Sequence)
		}
	}
}

func TestPlan_Conservation(t *testing.T) {
	totals := []int64{1, 7, 99, 100, 101, 15000, 123457, 99999999}
	counts := []int{1, 2, 3, 6, 7, 12, 24}

	for _, total := range totals {
		for _, n := range counts {
			if int64(n) > total {
				continue
			}
			plan, err := Plan(core.Money{Cents: total}, n, core.NewDate(2025, 1, 31), MonthlyCadence{})
			if err != nil {
				t.Fatalf("Plan(%d, %d) error = %v", total, n, err)
			}
			if len(plan) != n {
				t.Fatalf("Plan(%d, %d) returned %d installments", total, n, len(plan))
			}
			if got := Total(plan); got.Cents != total {
				t.Fatalf("Plan(%d, %d) sums to %d", total, n, got.Cents)
			}
			for _, inst := range plan[1:] {
				if inst.Amount.Cents > plan[0].Amount.Cents {
					t.Fatalf("Plan(%d, %d): first installment must carry the residual", total, n)
				}
			}
		}
	}
}

func TestPlan_DueDates(t *testing.T) {
	tests := []struct {
		name    string
		first   core.Date
		cadence Cadence
		want    []core.Date
	}{
		{
			name:    "monthly clamps and recovers",
			first:   core.NewDate(2025, 1, 31),
			cadence: MonthlyCadence{},
			want:    []core.Date{core.NewDate(2025, 1, 31), core.NewDate(2025, 2, 28), core.NewDate(2025, 3, 31)},
		},
		{
			name:    "biweekly",
			first:   core.NewDate(2025, 3, 1),
			cadence: IntervalCadence{Days: 14},
			want:    []core.Date{core.NewDate(2025, 3, 1), core.NewDate(2025, 3, 15), core.NewDate(2025, 3, 29)},
		},
		{
			name:    "yearly from leap day",
			first:   core.NewDate(2024, 2, 29),
			cadence: YearlyCadence{},
			want:    []core.Date{core.NewDate(2024, 2, 29), core.NewDate(2025, 2, 28), core.NewDate(2026, 2, 28)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := Plan(core.Money{Cents: 300}, len(tt.want), tt.first, tt.cadence)
			if err != nil {
				t.Fatalf("Plan() error = %v", err)
			}
			for i, inst := range plan {
				if !inst.DueDate.Equal(tt.want[i]) {
					t.Errorf("installment %d due %s, want %s", inst.Sequence, inst.DueDate, tt.want[i])
				}
			}
		})
	}
}

func TestPlan_Invalid(t *testing.T) {
	first := core.NewDate(2025, 1, 1)
	tests := []struct {
		name    string
		total   int64
		count   int
		first   core.Date
		cadence Cadence
	}{
		{"zero count", 1000, 0, first, MonthlyCadence{}},
		{"negative count", 1000, -2, first, MonthlyCadence{}},
		{"zero total", 0, 3, first, MonthlyCadence{}},
		{"negative total", -100, 3, first, MonthlyCadence{}},
		{"more installments than cents", 2, 3, first, MonthlyCadence{}},
		{"missing first due date", 1000, 2, core.Date{}, MonthlyCadence{}},
		{"missing cadence", 1000, 2, first, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Plan(core.Money{Cents: tt.total}, tt.count, tt.first, tt.cadence)
			if !errors.Is(err, core.ErrInvalidPlan) {
				t.Errorf("Plan() error = %v, want ErrInvalidPlan", err)
			}
		})
	}
}

func TestGetCadence(t *testing.T) {
	for _, name := range []string{Daily, Weekly, Biweekly, Monthly, Yearly} {
		if _, err := GetCadence(name); err != nil {
			t.Errorf("GetCadence(%q) error = %v", name, err)
		}
	}
	if _, err := GetCadence("fortnightly-ish"); !errors.Is(err, core.ErrInvalidPlan) {
		t.Errorf("expected ErrInvalidPlan for unknown cadence, got %v", err)
	}
}
