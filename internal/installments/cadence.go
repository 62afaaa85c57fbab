// Package installments splits a total into dated installments and allocates
// partial payments across them.
//
// This file implements the Strategy Pattern for installment cadences. Each
// cadence (daily, weekly, biweekly, monthly, yearly) computes the due date of
// the i-th installment from the first due date.
package installments

import (
	"fmt"
	"maps"
	"slices"

	"pagos/internal/core"
)

const (
	Daily    = "daily"
	Weekly   = "weekly"
	Biweekly = "biweekly"
	Monthly  = "monthly"
	Yearly   = "yearly"
)

// Cadence is the strategy interface for spacing installments.
type Cadence interface {
	// DueDate returns the due date of the installment at index (0-based).
	DueDate(first core.Date, index int) core.Date
}

// IntervalCadence spaces installments a fixed number of days apart.
type IntervalCadence struct {
	Days int
}

func (c IntervalCadence) DueDate(first core.Date, index int) core.Date {
	return first.AddDays(c.Days * index)
}

// MonthlyCadence keeps the first due date's day of month, clamped to the
// month's last day. Dates are always derived from the first one so a plan
// anchored on the 31st returns to the 31st after a short month.
type MonthlyCadence struct{}

func (MonthlyCadence) DueDate(first core.Date, index int) core.Date {
	return first.AddMonthsClamped(index)
}

// YearlyCadence repeats on the same month and day, clamping Feb 29.
type YearlyCadence struct{}

func (YearlyCadence) DueDate(first core.Date, index int) core.Date {
	return first.AddMonthsClamped(12 * index)
}

var cadences = map[string]Cadence{
	Daily:    IntervalCadence{Days: 1},
	Weekly:   IntervalCadence{Days: 7},
	Biweekly: IntervalCadence{Days: 14},
	Monthly:  MonthlyCadence{},
	Yearly:   YearlyCadence{},
}

// GetCadence returns the cadence registered under name.
func GetCadence(name string) (Cadence, error) {
	c, ok := cadences[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown cadence %q", core.ErrInvalidPlan, name)
	}
	return c, nil
}

// RegisterCadence adds or replaces a cadence. Not safe for concurrent use with
// GetCadence; register during initialization.
func RegisterCadence(name string, c Cadence) {
	cadences[name] = c
}

// CadenceNames lists the registered cadence names in sorted order.
func CadenceNames() []string {
	return slices.Sorted(maps.Keys(cadences))
}
