// Package taxgateway implements invoicing.Gateway: an HTTP client for the
// real authority gateway and an in-process sandbox.
package taxgateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pagos/internal/invoicing"
)

type rejection struct {
	code        string
	description string
}

// Sandbox is an in-process gateway. It numbers documents per series,
// deduplicates by idempotency key and can be told to reject, fail or stall
// the next submission.
type Sandbox struct {
	mu      sync.Mutex
	baseURL string
	next    map[string]int64
	byKey   map[string]invoicing.Result
	calls   int

	rejectNext *rejection
	failNext   error
	delay      time.Duration
}

func NewSandbox(baseURL string) *Sandbox {
	if baseURL == "" {
		baseURL = "https://sandbox.invalid/cpe"
	}
	return &Sandbox{
		baseURL: baseURL,
		next:    make(map[string]int64),
		byKey:   make(map[string]invoicing.Result),
	}
}

// RejectNext makes the next submission a definitive rejection.
func (s *Sandbox) RejectNext(code, description string) {
	s.mu.Lock()
	s.rejectNext = &rejection{code: code, description: description}
	s.mu.Unlock()
}

// FailNext makes the next submission return err as a transport failure.
func (s *Sandbox) FailNext(err error) {
	s.mu.Lock()
	s.failNext = err
	s.mu.Unlock()
}

// SetDelay stalls every submission by d, honouring context cancellation.
func (s *Sandbox) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

// Calls returns how many submissions were received.
func (s *Sandbox) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *Sandbox) Submit(ctx context.Context, sub invoicing.Submission) (invoicing.Result, error) {
	s.mu.Lock()
	s.calls++
	delay := s.delay
	fail := s.failNext
	s.failNext = nil
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return invoicing.Result{}, ctx.Err()
		}
	}
	if fail != nil {
		return invoicing.Result{}, fail
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if res, ok := s.byKey[sub.IdempotencyKey]; ok && sub.IdempotencyKey != "" {
		return res, nil
	}

	var res invoicing.Result
	switch {
	case s.rejectNext != nil:
		res = invoicing.Result{ResponseCode: s.rejectNext.code, Description: s.rejectNext.description}
		s.rejectNext = nil
	case sub.Totals.Subtotal.Add(sub.Totals.Tax) != sub.Totals.Total:
		res = invoicing.Result{ResponseCode: "3105", Description: "totals do not add up"}
	default:
		series := sub.SeriesHint
		if series == "" {
			series = "S001"
		}
		s.next[series]++
		n := s.next[series]
		full := fmt.Sprintf("%s-%08d", series, n)
		res = invoicing.Result{
			Series:       series,
			Number:       n,
			Accepted:     true,
			ResponseCode: "0",
			Description:  fmt.Sprintf("%s %s accepted", sub.DocumentType, full),
			PDFURL:       fmt.Sprintf("%s/%s.pdf", s.baseURL, full),
			XMLURL:       fmt.Sprintf("%s/%s.xml", s.baseURL, full),
		}
	}
	if sub.IdempotencyKey != "" {
		s.byKey[sub.IdempotencyKey] = res
	}
	return res, nil
}
