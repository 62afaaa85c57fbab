// Package invoicing turns paid payments into electronic tax documents
// submitted to the tax authority's gateway.
package invoicing

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"pagos/internal/core"
)

// DocumentType is the kind of fiscal document.
type DocumentType string

const (
	Factura    DocumentType = "FACTURA"
	Boleta     DocumentType = "BOLETA"
	CreditNote DocumentType = "CREDIT_NOTE"
	DebitNote  DocumentType = "DEBIT_NOTE"
)

func (d DocumentType) Valid() bool {
	switch d {
	case Factura, Boleta, CreditNote, DebitNote:
		return true
	}
	return false
}

// ParseDocumentType accepts the canonical names in any case.
func ParseDocumentType(s string) (DocumentType, error) {
	d := DocumentType(strings.ToUpper(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", core.Invalid(core.ErrInvalidInput, "document_type", "unknown document type %q", s)
	}
	return d, nil
}

// Status is the invoice lifecycle state.
type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusSent     Status = "SENT"
	StatusAccepted Status = "ACCEPTED"
	StatusRejected Status = "REJECTED"
	StatusVoided   Status = "VOIDED"
)

var transitions = map[Status][]Status{
	StatusDraft:    {StatusSent},
	StatusSent:     {StatusAccepted, StatusRejected},
	StatusAccepted: {StatusVoided},
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func (s Status) CanTransition(to Status) bool {
	return slices.Contains(transitions[s], to)
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// blocksReissue reports whether an invoice in s prevents issuing another one
// for the same payment. SENT blocks because its outcome at the authority is unknown.
func (s Status) blocksReissue() bool {
	return s == StatusSent || s == StatusAccepted
}

// PayerTaxData identifies the invoice recipient for the tax authority.
type PayerTaxData struct {
	TaxID     string `json:"tax_id" validate:"required,number"`
	LegalName string `json:"legal_name" validate:"required,max=200"`
	Address   string `json:"address" validate:"max=300"`
	Email     string `json:"email" validate:"omitempty,email"`
}

// Invoice is a fiscal document issued for one payment. Amounts are a
// snapshot taken at issuance: Total == Subtotal + TaxAmount == payment total.
type Invoice struct {
	ID           string
	PaymentID    string
	DocumentType DocumentType
	Series       string
	Number       int64 // 0 until assigned by the gateway
	Payer        PayerTaxData
	Subtotal     core.Money
	TaxAmount    core.Money
	Total        core.Money
	Status       Status

	GatewayResponseCode string
	GatewayDescription  string
	PDFURL              string
	XMLURL              string

	CreatedAt  time.Time
	UpdatedAt  time.Time
	SentAt     *time.Time
	VoidedAt   *time.Time
	VoidReason string
}

// Transition moves the invoice to `to`, stamping the lifecycle timestamps.
func (inv *Invoice) Transition(to Status, at time.Time) error {
	if !inv.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s (invoice %s)", core.ErrInvalidTransition, inv.Status, to, inv.ID)
	}
	switch to {
	case StatusSent:
		inv.SentAt = &at
	case StatusVoided:
		inv.VoidedAt = &at
	}
	inv.Status = to
	inv.UpdatedAt = at
	return nil
}

// FullNumber renders "SERIES-00000042", or just the series when unnumbered.
func (inv Invoice) FullNumber() string {
	if inv.Number == 0 {
		return inv.Series
	}
	return fmt.Sprintf("%s-%08d", inv.Series, inv.Number)
}

// TaxIDRules lists the accepted tax-id lengths per document type.
type TaxIDRules map[DocumentType][]int

// DefaultTaxIDRules: facturas need an 11-digit company id, boletas an
// 8-digit personal id, notes accept either.
func DefaultTaxIDRules() TaxIDRules {
	return TaxIDRules{
		Factura:    {11},
		Boleta:     {8},
		CreditNote: {8, 11},
		DebitNote:  {8, 11},
	}
}

// Check validates taxID against the rule for doc.
func (r TaxIDRules) Check(doc DocumentType, taxID string) error {
	lengths, ok := r[doc]
	if !ok || len(lengths) == 0 {
		return nil
	}
	if !slices.Contains(lengths, len(taxID)) {
		return core.Invalid(core.ErrInvalidTaxID, "tax_id",
			"%s requires a tax id of %s digits, got %d", doc, joinInts(lengths), len(taxID))
	}
	return nil
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, " or ")
}
