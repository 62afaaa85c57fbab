package amqp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"pagos/internal/core"
	"pagos/internal/invoicing"
	"pagos/internal/ledger"
)

// EventMessage is the wire form of a committed ledger event.
type EventMessage struct {
	Kind        string    `json:"kind"`
	PaymentID   string    `json:"payment_id"`
	PayerID     string    `json:"payer_id"`
	ItemID      string    `json:"item_id"`
	AbonoID     string    `json:"abono_id,omitempty"`
	AmountCents int64     `json:"amount_cents"`
	Status      string    `json:"status"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func NewEventMessage(e ledger.Event) *EventMessage {
	return &EventMessage{
		Kind:        string(e.Kind),
		PaymentID:   e.PaymentID,
		PayerID:     e.PayerID,
		ItemID:      e.ItemID,
		AbonoID:     e.AbonoID,
		AmountCents: e.Amount.Cents,
		Status:      e.Status,
		OccurredAt:  e.OccurredAt,
	}
}

func (m *EventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// InvoiceRequest asks the worker to issue a fiscal document for a payment.
type InvoiceRequest struct {
	PaymentID    string    `json:"payment_id"`
	DocumentType string    `json:"document_type"`
	TaxID        string    `json:"tax_id"`
	LegalName    string    `json:"legal_name"`
	Address      string    `json:"address,omitempty"`
	Email        string    `json:"email,omitempty"`
	RequestedAt  time.Time `json:"requested_at"`
}

func NewInvoiceRequest(req invoicing.IssueRequest, at time.Time) *InvoiceRequest {
	return &InvoiceRequest{
		PaymentID:    req.PaymentID,
		DocumentType: string(req.DocumentType),
		TaxID:        req.Payer.TaxID,
		LegalName:    req.Payer.LegalName,
		Address:      req.Payer.Address,
		Email:        req.Payer.Email,
		RequestedAt:  at,
	}
}

func (m *InvoiceRequest) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// InvoiceRequestFromJSON decodes and checks a request. A request that fails
// here can never succeed and must not be requeued.
func InvoiceRequestFromJSON(data []byte) (*InvoiceRequest, error) {
	var msg InvoiceRequest
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(msg.PaymentID) == "" {
		return nil, fmt.Errorf("%w: payment_id is required", core.ErrInvalidInput)
	}
	if _, err := invoicing.ParseDocumentType(msg.DocumentType); err != nil {
		return nil, err
	}
	return &msg, nil
}

// IssueRequest converts the message into a workflow request.
func (m *InvoiceRequest) IssueRequest() invoicing.IssueRequest {
	doc, _ := invoicing.ParseDocumentType(m.DocumentType)
	return invoicing.IssueRequest{
		PaymentID:    m.PaymentID,
		DocumentType: doc,
		Payer: invoicing.PayerTaxData{
			TaxID:     strings.TrimSpace(m.TaxID),
			LegalName: strings.TrimSpace(m.LegalName),
			Address:   strings.TrimSpace(m.Address),
			Email:     strings.TrimSpace(m.Email),
		},
	}
}
