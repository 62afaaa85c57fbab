package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"pagos/internal/core"
	"pagos/internal/invoicing"
)

const invoiceColumns = `id, payment_id, document_type, series, number,
	payer_tax_id, payer_legal_name, payer_address, payer_email,
	subtotal_cents, tax_cents, total_cents, status,
	gateway_response_code, gateway_description, pdf_url, xml_url,
	created_at, updated_at, sent_at, voided_at, void_reason`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (invoicing.Invoice, error) {
	var (
		inv                  invoicing.Invoice
		docType, status      string
		createdAt, updatedAt int64
		sentAt, voidedAt     sql.NullInt64
	)
	err := row.Scan(&inv.ID, &inv.PaymentID, &docType, &inv.Series, &inv.Number,
		&inv.Payer.TaxID, &inv.Payer.LegalName, &inv.Payer.Address, &inv.Payer.Email,
		&inv.Subtotal.Cents, &inv.TaxAmount.Cents, &inv.Total.Cents, &status,
		&inv.GatewayResponseCode, &inv.GatewayDescription, &inv.PDFURL, &inv.XMLURL,
		&createdAt, &updatedAt, &sentAt, &voidedAt, &inv.VoidReason)
	if err != nil {
		return invoicing.Invoice{}, err
	}
	inv.DocumentType = invoicing.DocumentType(docType)
	inv.Status = invoicing.Status(status)
	inv.CreatedAt = fromMillis(createdAt)
	inv.UpdatedAt = fromMillis(updatedAt)
	inv.SentAt = timePtr(sentAt)
	inv.VoidedAt = timePtr(voidedAt)
	return inv, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isActiveInvoiceViolation reports a second DRAFT, SENT or ACCEPTED invoice
// for one payment (idx_invoices_active).
func isActiveInvoiceViolation(err error) bool {
	return isUniqueViolation(err) && strings.Contains(err.Error(), "invoices.payment_id")
}

// SaveInvoice implements invoicing.Store
func (r *SQLiteRepository) SaveInvoice(ctx context.Context, inv invoicing.Invoice) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO invoices (`+invoiceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.PaymentID, string(inv.DocumentType), inv.Series, inv.Number,
		inv.Payer.TaxID, inv.Payer.LegalName, inv.Payer.Address, inv.Payer.Email,
		inv.Subtotal.Cents, inv.TaxAmount.Cents, inv.Total.Cents, string(inv.Status),
		inv.GatewayResponseCode, inv.GatewayDescription, inv.PDFURL, inv.XMLURL,
		millis(inv.CreatedAt), millis(inv.UpdatedAt), nullMillis(inv.SentAt), nullMillis(inv.VoidedAt), inv.VoidReason)
	if isActiveInvoiceViolation(err) {
		return fmt.Errorf("%w: payment %s already has an active invoice", core.ErrDuplicateInvoice, inv.PaymentID)
	}
	if err != nil {
		return core.Persistence("save invoice", err)
	}
	return nil
}

// UpdateInvoice implements invoicing.Store. The write only applies while the
// stored status is still from.
func (r *SQLiteRepository) UpdateInvoice(ctx context.Context, inv invoicing.Invoice, from invoicing.Status) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE invoices SET
			document_type = ?, series = ?, number = ?,
			payer_tax_id = ?, payer_legal_name = ?, payer_address = ?, payer_email = ?,
			subtotal_cents = ?, tax_cents = ?, total_cents = ?, status = ?,
			gateway_response_code = ?, gateway_description = ?, pdf_url = ?, xml_url = ?,
			updated_at = ?, sent_at = ?, voided_at = ?, void_reason = ?
		WHERE id = ? AND status = ?`,
		string(inv.DocumentType), inv.Series, inv.Number,
		inv.Payer.TaxID, inv.Payer.LegalName, inv.Payer.Address, inv.Payer.Email,
		inv.Subtotal.Cents, inv.TaxAmount.Cents, inv.Total.Cents, string(inv.Status),
		inv.GatewayResponseCode, inv.GatewayDescription, inv.PDFURL, inv.XMLURL,
		millis(inv.UpdatedAt), nullMillis(inv.SentAt), nullMillis(inv.VoidedAt), inv.VoidReason,
		inv.ID, string(from))
	if err != nil {
		if isUniqueViolation(err) {
			return core.Persistence("update invoice", fmt.Errorf("number %s already used: %w", inv.FullNumber(), err))
		}
		return core.Persistence("update invoice", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.Persistence("update invoice", err)
	}
	if n == 1 {
		return nil
	}

	current, err := r.LoadInvoice(ctx, inv.ID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: invoice %s is %s, expected %s", core.ErrConcurrentModification, inv.ID, current.Status, from)
}

// LoadInvoice implements invoicing.Store
func (r *SQLiteRepository) LoadInvoice(ctx context.Context, id string) (invoicing.Invoice, error) {
	inv, err := scanInvoice(r.db.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return invoicing.Invoice{}, fmt.Errorf("%w: %s", core.ErrInvoiceNotFound, id)
	}
	if err != nil {
		return invoicing.Invoice{}, core.Persistence("load invoice", err)
	}
	return inv, nil
}

func (r *SQLiteRepository) queryInvoices(ctx context.Context, op, where string, args ...any) ([]invoicing.Invoice, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE `+where, args...)
	if err != nil {
		return nil, core.Persistence(op, err)
	}
	defer rows.Close()

	var out []invoicing.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, core.Persistence(op, err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Persistence(op, err)
	}
	return out, nil
}

// ListInvoicesByPayment implements invoicing.Store
func (r *SQLiteRepository) ListInvoicesByPayment(ctx context.Context, paymentID string) ([]invoicing.Invoice, error) {
	return r.queryInvoices(ctx, "list invoices by payment",
		`payment_id = ? ORDER BY created_at, rowid`, paymentID)
}

// ListInvoicesByStatus implements invoicing.Store
func (r *SQLiteRepository) ListInvoicesByStatus(ctx context.Context, status invoicing.Status, cutoff time.Time) ([]invoicing.Invoice, error) {
	return r.queryInvoices(ctx, "list invoices by status",
		`status = ? AND updated_at <= ? ORDER BY updated_at, rowid`, string(status), millis(cutoff))
}
