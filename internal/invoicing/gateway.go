package invoicing

import (
	"context"
	"fmt"

	"pagos/internal/core"
)

// LineItem is one billed line.
type LineItem struct {
	Description string     `json:"description"`
	Quantity    int        `json:"quantity"`
	UnitPrice   core.Money `json:"-"`
	Subtotal    core.Money `json:"-"`
	Tax         core.Money `json:"-"`
	Total       core.Money `json:"-"`
}

// Totals are the document-level amounts.
type Totals struct {
	Subtotal core.Money
	Tax      core.Money
	Total    core.Money
	Currency string
}

// Submission is what the gateway receives. IdempotencyKey is the invoice id,
// so a retried submission can be deduplicated by the gateway.
type Submission struct {
	DocumentType   DocumentType
	SeriesHint     string
	Payer          PayerTaxData
	LineItems      []LineItem
	Totals         Totals
	IdempotencyKey string
}

// Result is the gateway's verdict, recorded verbatim on the invoice.
type Result struct {
	Series       string
	Number       int64
	Accepted     bool
	ResponseCode string
	Description  string
	PDFURL       string
	XMLURL       string
}

// Gateway submits fiscal documents to the tax authority. Transport failures
// are returned as errors; a definitive rejection is a Result with Accepted false.
type Gateway interface {
	Submit(ctx context.Context, sub Submission) (Result, error)
}

// GatewayRejectedError carries the authority's rejection code.
type GatewayRejectedError struct {
	InvoiceID   string
	Code        string
	Description string
}

func (e *GatewayRejectedError) Error() string {
	return fmt.Sprintf("invoice %s rejected by tax gateway: [%s] %s", e.InvoiceID, e.Code, e.Description)
}

func (e *GatewayRejectedError) Unwrap() error { return core.ErrGatewayRejected }
