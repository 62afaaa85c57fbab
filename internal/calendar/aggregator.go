// Package calendar groups installments by due date for scheduling views.
package calendar

import (
	"iter"
	"sort"
	"sync"

	"pagos/internal/core"
	"pagos/internal/ledger"
)

// Entry is one installment placed on the calendar.
type Entry struct {
	PaymentID string
	PayerID   string
	ItemID    string
	Sequence  int
	Amount    core.Money
	Pending   core.Money
	DueDate   core.Date
	State     ledger.State
	Partial   bool
}

var severity = map[ledger.State]int{
	ledger.StatePaid:    0,
	ledger.StatePending: 1,
	ledger.StateOverdue: 2,
}

// DayState is the colour of a day cell: the worst state among its entries.
// An empty day is PAID.
func DayState(entries []Entry) ledger.State {
	worst := ledger.StatePaid
	for _, e := range entries {
		if severity[e.State] > severity[worst] {
			worst = e.State
		}
	}
	return worst
}

type day struct {
	date    core.Date
	entries []Entry
}

// BucketByDay tags every installment due in [start, end] and yields the
// entries grouped by day, in ascending date order. Cancelled payments are
// skipped. Nothing is computed until the first iteration; later iterations
// replay the same days.
func BucketByDay(payments []ledger.Payment, start, end, today core.Date) iter.Seq2[core.Date, []Entry] {
	return replayFunc(sync.OnceValue(func() []day {
		return bucket(payments, start, end, today)
	}))
}

// replay yields copies of the entries so callers cannot alter a snapshot.
func replay(days []day) iter.Seq2[core.Date, []Entry] {
	return replayFunc(func() []day { return days })
}

func replayFunc(days func() []day) iter.Seq2[core.Date, []Entry] {
	return func(yield func(core.Date, []Entry) bool) {
		for _, d := range days() {
			if !yield(d.date, append([]Entry(nil), d.entries...)) {
				return
			}
		}
	}
}

func bucket(payments []ledger.Payment, start, end, today core.Date) []day {
	if end.Before(start) {
		return nil
	}
	// Keyed by the rendered date: Date wraps time.Time, which is not a safe map key.
	byDate := make(map[string]*day)
	for _, p := range payments {
		if p.IsCancelled() {
			continue
		}
		pending := p.Pending()
		for i, inst := range p.Installments {
			if inst.DueDate.Before(start) || inst.DueDate.After(end) {
				continue
			}
			state, partial := ledger.InstallmentState(inst, pending[i], today)
			d, ok := byDate[inst.DueDate.String()]
			if !ok {
				d = &day{date: inst.DueDate}
				byDate[inst.DueDate.String()] = d
			}
			d.entries = append(d.entries, Entry{
				PaymentID: p.ID,
				PayerID:   p.PayerID,
				ItemID:    p.ItemID,
				Sequence:  inst.Sequence,
				Amount:    inst.Amount,
				Pending:   pending[i],
				DueDate:   inst.DueDate,
				State:     state,
				Partial:   partial,
			})
		}
	}

	days := make([]day, 0, len(byDate))
	for _, d := range byDate {
		entries := d.entries
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].PaymentID != entries[j].PaymentID {
				return entries[i].PaymentID < entries[j].PaymentID
			}
			return entries[i].Sequence < entries[j].Sequence
		})
		days = append(days, *d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].date.Before(days[j].date) })
	return days
}
