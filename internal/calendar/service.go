package calendar

import (
	"context"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"pagos/internal/cache"
	"pagos/internal/core"
	"pagos/internal/ledger"
	"pagos/internal/log"
)

// PaymentLister is the ledger read the calendar needs.
type PaymentLister interface {
	ListPaymentsDueBetween(ctx context.Context, from, to core.Date) ([]ledger.Payment, error)
}

// Service serves calendar ranges from cached ledger snapshots.
type Service struct {
	payments PaymentLister
	clock    core.Clock
	loc      *time.Location
	cache    *cache.LRUCache[[]day]
	group    singleflight.Group
	// generation is bumped by Invalidate; loads started before a bump are not cached.
	generation atomic.Uint64
	logger     *log.Logger
}

// NewService builds a calendar service. A cacheSize below 1 disables snapshots.
func NewService(payments PaymentLister, clock core.Clock, loc *time.Location, cacheSize int, cacheTTL time.Duration, logger *log.Logger) *Service {
	if clock == nil {
		clock = core.SystemClock{}
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = log.Default(log.ComponentCalendar)
	}
	s := &Service{
		payments: payments,
		clock:    clock,
		loc:      loc,
		logger:   logger.WithComponent(log.ComponentCalendar),
	}
	if cacheSize > 0 {
		s.cache = cache.NewLRUCache[[]day](cacheSize, cacheTTL)
	}
	return s
}

// Snapshots exposes the snapshot cache for periodic cleanup, or nil when disabled.
func (s *Service) Snapshots() cache.Cleaner {
	if s.cache == nil {
		return nil
	}
	return s.cache
}

// Range returns the calendar for [start, end] as of today. Concurrent calls
// for the same range share one ledger read.
func (s *Service) Range(ctx context.Context, start, end core.Date) (iter.Seq2[core.Date, []Entry], error) {
	if end.Before(start) {
		return nil, core.Invalid(core.ErrInvalidInput, "range", "end %s is before start %s", end, start)
	}
	today := core.Today(s.clock, s.loc)
	key := fmt.Sprintf("%s|%s|%s", start, end, today)

	if s.cache != nil {
		if days, ok := s.cache.Get(key); ok {
			return replay(days), nil
		}
	}

	v, err, shared := s.group.Do(key, func() (any, error) {
		gen := s.generation.Load()
		payments, err := s.payments.ListPaymentsDueBetween(ctx, start, end)
		if err != nil {
			return nil, fmt.Errorf("list payments due between %s and %s: %w", start, end, err)
		}
		days := bucket(payments, start, end, today)
		if s.cache != nil && s.generation.Load() == gen {
			s.cache.Set(key, days)
		}
		return days, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.DebugContext(ctx, "Calendar range loaded", "start", start.String(), "end", end.String(), "shared", shared)
	return replay(v.([]day)), nil
}

// Invalidate drops every cached range.
func (s *Service) Invalidate() {
	s.generation.Add(1)
	if s.cache != nil {
		s.cache.Purge()
	}
}

// Publish implements ledger.EventPublisher: any ledger change invalidates
// the cached ranges.
func (s *Service) Publish(_ context.Context, _ ledger.Event) error {
	s.Invalidate()
	return nil
}

// OverdueDay lists the overdue entries of one day.
type OverdueDay struct {
	Date    core.Date
	Entries []Entry
	Pending core.Money
}

// OverdueDigest collects overdue installments due in the lookbackDays before today.
func (s *Service) OverdueDigest(ctx context.Context, lookbackDays int) ([]OverdueDay, error) {
	if lookbackDays < 1 {
		return nil, core.Invalid(core.ErrInvalidInput, "lookback_days", "must be at least 1, got %d", lookbackDays)
	}
	today := core.Today(s.clock, s.loc)
	days, err := s.Range(ctx, today.AddDays(-lookbackDays), today.AddDays(-1))
	if err != nil {
		return nil, err
	}

	var out []OverdueDay
	for date, entries := range days {
		od := OverdueDay{Date: date}
		for _, e := range entries {
			if e.State == ledger.StateOverdue {
				od.Entries = append(od.Entries, e)
				od.Pending = od.Pending.Add(e.Pending)
			}
		}
		if len(od.Entries) > 0 {
			out = append(out, od)
		}
	}
	return out, nil
}
