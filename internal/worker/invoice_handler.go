// Package worker runs the background side of pagos: asynchronous invoice
// issuance and the periodic stale-invoice and overdue reports.
package worker

import (
	"context"
	"errors"

	"pagos/internal/amqp"
	"pagos/internal/core"
	"pagos/internal/invoicing"
	"pagos/internal/log"
)

// InvoiceIssuer issues a fiscal document for a payment.
type InvoiceIssuer interface {
	Issue(ctx context.Context, req invoicing.IssueRequest) (invoicing.Invoice, error)
}

// InvoiceRequestHandler feeds queued invoice requests into the workflow.
type InvoiceRequestHandler struct {
	issuer InvoiceIssuer
	logger *log.Logger
}

func NewInvoiceRequestHandler(issuer InvoiceIssuer, logger *log.Logger) *InvoiceRequestHandler {
	if logger == nil {
		logger = log.Default(log.ComponentWorker)
	}
	return &InvoiceRequestHandler{
		issuer: issuer,
		logger: logger.WithComponent(log.ComponentWorker),
	}
}

// Handle issues the requested document. A gateway timeout or outage leaves
// the invoice SENT for the stale reporter and is not an error here: the
// message is settled and the retry happens with the same idempotency key.
func (h *InvoiceRequestHandler) Handle(ctx context.Context, msg *amqp.InvoiceRequest) error {
	h.logger.InfoContext(ctx, "Processing invoice request",
		log.FieldPaymentID, msg.PaymentID,
		log.FieldDocumentType, msg.DocumentType,
		"requested_at", msg.RequestedAt)

	inv, err := h.issuer.Issue(ctx, msg.IssueRequest())
	switch {
	case err == nil:
		h.logger.InfoContext(ctx, "Invoice issued",
			log.NewFields().
				WithInvoice(inv.ID, string(inv.DocumentType), string(inv.Status)).
				With(log.FieldSeries, inv.Series).
				With(log.FieldNumber, inv.Number).
				ToSlice()...)
		return nil
	case errors.Is(err, core.ErrGatewayTimeout), errors.Is(err, core.ErrGatewayUnavailable):
		h.logger.WarnContext(ctx, "Invoice awaiting gateway outcome",
			log.NewFields().
				WithInvoice(inv.ID, string(inv.DocumentType), string(inv.Status)).
				WithError(err).
				ToSlice()...)
		return nil
	default:
		return err
	}
}
