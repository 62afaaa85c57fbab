package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pagos/internal/calendar"
	"pagos/internal/invoicing"
	"pagos/internal/log"
)

// ProcessorConfig holds configuration for the background processor
type ProcessorConfig struct {
	// StaleAfter is how long a SENT invoice may wait before it is reported (default: 10m)
	StaleAfter time.Duration

	// StaleInterval is how often to look for stale invoices (default: 1m)
	StaleInterval time.Duration

	// RetryStale resubmits stale invoices instead of only reporting them
	RetryStale bool

	// DigestInterval is how often to summarise overdue installments (default: 24h)
	DigestInterval time.Duration

	// OverdueLookback is how many days back the digest looks (default: 30)
	OverdueLookback int
}

// DefaultProcessorConfig returns sensible defaults
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		StaleAfter:      10 * time.Minute,
		StaleInterval:   time.Minute,
		DigestInterval:  24 * time.Hour,
		OverdueLookback: 30,
	}
}

// StaleInvoices lists and resubmits invoices stuck in SENT.
type StaleInvoices interface {
	ListStale(ctx context.Context, olderThan time.Duration) ([]invoicing.Invoice, error)
	Retry(ctx context.Context, invoiceID string) (invoicing.Invoice, error)
}

// OverdueDigester summarises overdue installments per day.
type OverdueDigester interface {
	OverdueDigest(ctx context.Context, lookbackDays int) ([]calendar.OverdueDay, error)
}

// Processor runs the stale-invoice reporter and the overdue digest on tickers.
type Processor struct {
	invoices StaleInvoices
	overdue  OverdueDigester
	config   ProcessorConfig
	logger   *log.Logger

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewProcessor creates a new processor. Zero config values take the defaults.
func NewProcessor(invoices StaleInvoices, overdue OverdueDigester, config ProcessorConfig, logger *log.Logger) *Processor {
	defaults := DefaultProcessorConfig()
	if config.StaleAfter <= 0 {
		config.StaleAfter = defaults.StaleAfter
	}
	if config.StaleInterval <= 0 {
		config.StaleInterval = defaults.StaleInterval
	}
	if config.DigestInterval <= 0 {
		config.DigestInterval = defaults.DigestInterval
	}
	if config.OverdueLookback <= 0 {
		config.OverdueLookback = defaults.OverdueLookback
	}
	if logger == nil {
		logger = log.Default(log.ComponentWorker)
	}
	return &Processor{
		invoices: invoices,
		overdue:  overdue,
		config:   config,
		logger:   logger.WithComponent(log.ComponentWorker),
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	go p.runLoop(ctx, stopCh, doneCh)

	p.logger.InfoContext(ctx, "Processor started",
		"stale_after", p.config.StaleAfter,
		"stale_interval", p.config.StaleInterval,
		"retry_stale", p.config.RetryStale,
		"digest_interval", p.config.DigestInterval)

	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *Processor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.running = false
	p.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		p.logger.InfoContext(ctx, "Processor stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Processor stop timed out")
		return ctx.Err()
	}
}

// IsRunning returns whether the processor is currently running
func (p *Processor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Processor) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	staleTicker := time.NewTicker(p.config.StaleInterval)
	defer staleTicker.Stop()

	digestTicker := time.NewTicker(p.config.DigestInterval)
	defer digestTicker.Stop()

	// Report immediately on startup
	p.CheckStale(ctx)
	p.Digest(ctx)

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-staleTicker.C:
			p.CheckStale(ctx)
		case <-digestTicker.C:
			p.Digest(ctx)
		}
	}
}

// CheckStale reports SENT invoices older than StaleAfter and, if configured,
// resubmits them. It returns how many were still SENT afterwards.
func (p *Processor) CheckStale(ctx context.Context) int {
	if p.invoices == nil {
		return 0
	}
	stale, err := p.invoices.ListStale(ctx, p.config.StaleAfter)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to list stale invoices", log.FieldError, err)
		return 0
	}
	if len(stale) == 0 {
		return 0
	}

	pending := 0
	for _, inv := range stale {
		if ctx.Err() != nil {
			return pending
		}

		fields := log.NewFields().
			WithInvoice(inv.ID, string(inv.DocumentType), string(inv.Status)).
			With(log.FieldPaymentID, inv.PaymentID).
			With("age", p.age(inv))

		if !p.config.RetryStale {
			p.logger.WarnContext(ctx, "Invoice awaiting gateway outcome", fields.ToSlice()...)
			pending++
			continue
		}

		retried, err := p.invoices.Retry(ctx, inv.ID)
		if err != nil {
			p.logger.WarnContext(ctx, "Stale invoice retry failed", fields.WithError(err).ToSlice()...)
		} else {
			p.logger.InfoContext(ctx, "Stale invoice resolved", fields.With(log.FieldStatus, string(retried.Status)).ToSlice()...)
		}
		if retried.Status == invoicing.StatusSent || (err != nil && retried.ID == "") {
			pending++
		}
	}

	p.logger.InfoContext(ctx, "Stale invoice check completed", "stale", len(stale), "pending", pending)
	return pending
}

func (p *Processor) age(inv invoicing.Invoice) string {
	return time.Since(inv.UpdatedAt).Round(time.Second).String()
}

// Digest logs one line per day with overdue installments and returns the days.
func (p *Processor) Digest(ctx context.Context) []calendar.OverdueDay {
	if p.overdue == nil {
		return nil
	}
	days, err := p.overdue.OverdueDigest(ctx, p.config.OverdueLookback)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to build overdue digest", log.FieldError, err)
		return nil
	}

	var total int64
	for _, d := range days {
		total += d.Pending.Cents
		p.logger.InfoContext(ctx, "Overdue installments",
			"date", d.Date.String(),
			"count", len(d.Entries),
			log.FieldAmountCents, d.Pending.Cents)
	}
	p.logger.InfoContext(ctx, "Overdue digest completed",
		"days", len(days),
		log.FieldTotalCents, total,
		"lookback_days", p.config.OverdueLookback)
	return days
}
