package ledger

import (
	"context"
	"errors"
	"time"

	"pagos/internal/core"
)

// EventKind names a committed ledger change.
type EventKind string

const (
	EventPaymentCreated   EventKind = "payment.created"
	EventAbonoRecorded    EventKind = "abono.recorded"
	EventPaymentCancelled EventKind = "payment.cancelled"
)

// Event describes a committed ledger change. Published after commit.
type Event struct {
	Kind       EventKind
	PaymentID  string
	PayerID    string
	ItemID     string
	AbonoID    string
	Amount     core.Money
	Status     string
	OccurredAt time.Time
}

// EventPublisher receives ledger events.
type EventPublisher interface {
	Publish(ctx context.Context, e Event) error
}

// Publishers fans an event out to several publishers.
type Publishers []EventPublisher

func (ps Publishers) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range ps {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
