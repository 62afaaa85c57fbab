package core

import (
	"fmt"
	"time"
)

// Period is a calendar month, the unit goals are tracked in.
type Period struct {
	Year  int
	Month time.Month
}

const periodLayout = "2006-01"

func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse(periodLayout, s)
	if err != nil {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	return Period{Year: t.Year(), Month: t.Month()}, nil
}

func PeriodOf(d Date) Period {
	return Period{Year: d.Year(), Month: time.Month(d.Month())}
}

func (p Period) Validate() error {
	if p.Year < 1 || p.Month < time.January || p.Month > time.December {
		return fmt.Errorf("%w: %d-%d", ErrInvalidPeriod, p.Year, p.Month)
	}
	return nil
}

// Start is the first day of the period.
func (p Period) Start() Date {
	return NewDate(p.Year, int(p.Month), 1)
}

// End is the first day of the following period (exclusive bound).
func (p Period) End() Date {
	return p.Start().AddMonthsClamped(1)
}

func (p Period) Days() int {
	return daysIn(p.Year, p.Month)
}

func (p Period) Contains(d Date) bool {
	return !d.Before(p.Start()) && d.Before(p.End())
}

// Compare returns -1, 0 or +1.
func (p Period) Compare(o Period) int {
	switch {
	case p.Year < o.Year || (p.Year == o.Year && p.Month < o.Month):
		return -1
	case p == o:
		return 0
	default:
		return 1
	}
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}
