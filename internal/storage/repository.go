// Package storage is the SQLite persistence layer for payments, goals and
// invoices.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"pagos/internal/core"
	"pagos/internal/goals"
	"pagos/internal/installments"
	"pagos/internal/ledger"
	"pagos/internal/log"
)

type SQLiteRepository struct {
	db     *sql.DB
	logger *log.Logger
}

// NewSQLiteRepository opens (creating if needed) the database at dbPath and
// applies the embedded migrations.
func NewSQLiteRepository(dbPath string, logger *log.Logger) (*SQLiteRepository, error) {
	if logger == nil {
		logger = log.Default(log.ComponentStorage)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	if err := RunMigrations(dbPath, logger); err != nil {
		return nil, err
	}

	dsn := "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteRepository{db: db, logger: logger.WithComponent(log.ComponentStorage)}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

// withTx runs fn in a transaction, rolling back on any error.
func (r *SQLiteRepository) withTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Persistence(op, err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.logger.ErrorContext(ctx, "Rollback failed", log.FieldOperation, op, log.FieldError, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return core.Persistence(op, err)
	}
	return nil
}

// LoadPayment implements ledger.Store
func (r *SQLiteRepository) LoadPayment(ctx context.Context, id string) (ledger.Payment, error) {
	var (
		p           ledger.Payment
		plan        string
		createdAt   int64
		cancelledAt sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, payer_id, item_id, total_cents, plan, installment_count, cadence,
		       created_at, version, cancelled_at, cancel_reason
		FROM payments WHERE id = ?`, id).
		Scan(&p.ID, &p.PayerID, &p.ItemID, &p.Total.Cents, &plan, &p.InstallmentCount, &p.Cadence,
			&createdAt, &p.Version, &cancelledAt, &p.CancelReason)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Payment{}, fmt.Errorf("%w: %s", core.ErrPaymentNotFound, id)
	}
	if err != nil {
		return ledger.Payment{}, core.Persistence("load payment", err)
	}
	p.Plan = ledger.PlanType(plan)
	p.CreatedAt = fromMillis(createdAt)
	p.CancelledAt = timePtr(cancelledAt)

	if p.Installments, err = r.loadInstallments(ctx, id); err != nil {
		return ledger.Payment{}, err
	}
	if p.Abonos, err = r.loadAbonos(ctx, id); err != nil {
		return ledger.Payment{}, err
	}
	return p, nil
}

func (r *SQLiteRepository) loadInstallments(ctx context.Context, paymentID string) ([]installments.Installment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT sequence, amount_cents, due_date FROM installments
		WHERE payment_id = ? ORDER BY sequence`, paymentID)
	if err != nil {
		return nil, core.Persistence("load installments", err)
	}
	defer rows.Close()

	var out []installments.Installment
	for rows.Next() {
		var (
			inst installments.Installment
			due  string
		)
		if err := rows.Scan(&inst.Sequence, &inst.Amount.Cents, &due); err != nil {
			return nil, core.Persistence("scan installment", err)
		}
		if inst.DueDate, err = core.ParseDate(due); err != nil {
			return nil, core.Persistence("parse due date", err)
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Persistence("load installments", err)
	}
	return out, nil
}

func (r *SQLiteRepository) loadAbonos(ctx context.Context, paymentID string) ([]ledger.Abono, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, payment_id, amount_cents, paid_at, method, external_reference, recorded_at
		FROM abonos WHERE payment_id = ? ORDER BY recorded_at, rowid`, paymentID)
	if err != nil {
		return nil, core.Persistence("load abonos", err)
	}
	defer rows.Close()

	var out []ledger.Abono
	for rows.Next() {
		var (
			a                  ledger.Abono
			method             string
			paidAt, recordedAt int64
		)
		if err := rows.Scan(&a.ID, &a.PaymentID, &a.Amount.Cents, &paidAt, &method, &a.ExternalReference, &recordedAt); err != nil {
			return nil, core.Persistence("scan abono", err)
		}
		a.Method = ledger.Method(method)
		a.PaidAt = fromMillis(paidAt)
		a.RecordedAt = fromMillis(recordedAt)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Persistence("load abonos", err)
	}
	return out, nil
}

// SavePayment implements ledger.Store. The payment and its installments are
// written in one transaction.
func (r *SQLiteRepository) SavePayment(ctx context.Context, p ledger.Payment) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return r.withTx(ctx, "save payment", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO payments (id, payer_id, item_id, total_cents, plan, installment_count, cadence,
			                      created_at, version, cancelled_at, cancel_reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.PayerID, p.ItemID, p.Total.Cents, string(p.Plan), p.InstallmentCount, p.Cadence,
			millis(p.CreatedAt), p.Version, nullMillis(p.CancelledAt), p.CancelReason)
		if err != nil {
			return core.Persistence("insert payment", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO installments (payment_id, sequence, amount_cents, due_date) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return core.Persistence("prepare installment insert", err)
		}
		defer stmt.Close()
		for _, inst := range p.Installments {
			if _, err := stmt.ExecContext(ctx, p.ID, inst.Sequence, inst.Amount.Cents, inst.DueDate.String()); err != nil {
				return core.Persistence("insert installment", err)
			}
		}
		for _, a := range p.Abonos {
			if err := insertAbono(ctx, tx, a); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertAbono(ctx context.Context, tx *sql.Tx, a ledger.Abono) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO abonos (id, payment_id, amount_cents, paid_at, method, external_reference, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.PaymentID, a.Amount.Cents, millis(a.PaidAt), string(a.Method), a.ExternalReference, millis(a.RecordedAt))
	if err != nil {
		return core.Persistence("insert abono", err)
	}
	return nil
}

// bumpVersion advances the payment's version if it still equals expected.
func bumpVersion(ctx context.Context, tx *sql.Tx, paymentID string, expected int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE payments SET version = version + 1 WHERE id = ? AND version = ?`, paymentID, expected)
	if err != nil {
		return core.Persistence("bump payment version", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.Persistence("bump payment version", err)
	}
	if n == 1 {
		return nil
	}

	var current int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM payments WHERE id = ?`, paymentID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", core.ErrPaymentNotFound, paymentID)
	}
	if err != nil {
		return core.Persistence("read payment version", err)
	}
	return fmt.Errorf("%w: payment %s at version %d, expected %d",
		core.ErrConcurrentModification, paymentID, current, expected)
}

// AppendAbono implements ledger.Store
func (r *SQLiteRepository) AppendAbono(ctx context.Context, paymentID string, expectedVersion int64, a ledger.Abono) error {
	return r.withTx(ctx, "append abono", func(tx *sql.Tx) error {
		if err := bumpVersion(ctx, tx, paymentID, expectedVersion); err != nil {
			return err
		}
		return insertAbono(ctx, tx, a)
	})
}

// CancelPayment implements ledger.Store
func (r *SQLiteRepository) CancelPayment(ctx context.Context, paymentID string, expectedVersion int64, at time.Time, reason string) error {
	return r.withTx(ctx, "cancel payment", func(tx *sql.Tx) error {
		if err := bumpVersion(ctx, tx, paymentID, expectedVersion); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE payments SET cancelled_at = ?, cancel_reason = ? WHERE id = ?`,
			millis(at), reason, paymentID); err != nil {
			return core.Persistence("cancel payment", err)
		}
		return nil
	})
}

func (r *SQLiteRepository) loadPayments(ctx context.Context, op, query string, args ...any) ([]ledger.Payment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.Persistence(op, err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, core.Persistence(op, err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, core.Persistence(op, err)
	}

	out := make([]ledger.Payment, 0, len(ids))
	for _, id := range ids {
		p, err := r.LoadPayment(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ListPaymentsByPayer implements ledger.Store
func (r *SQLiteRepository) ListPaymentsByPayer(ctx context.Context, payerID string) ([]ledger.Payment, error) {
	return r.loadPayments(ctx, "list payments by payer",
		`SELECT id FROM payments WHERE payer_id = ? ORDER BY created_at, rowid`, payerID)
}

// ListPaymentsDueBetween implements ledger.Store
func (r *SQLiteRepository) ListPaymentsDueBetween(ctx context.Context, from, to core.Date) ([]ledger.Payment, error) {
	return r.loadPayments(ctx, "list payments due between", `
		SELECT p.id FROM payments p
		WHERE EXISTS (
			SELECT 1 FROM installments i
			WHERE i.payment_id = p.id AND i.due_date BETWEEN ? AND ?
		)
		ORDER BY p.created_at, p.rowid`, from.String(), to.String())
}

// IncomeBetween implements goals.IncomeReader
func (r *SQLiteRepository) IncomeBetween(ctx context.Context, from, to time.Time) ([]core.ItemAmount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.item_id, SUM(a.amount_cents)
		FROM abonos a JOIN payments p ON p.id = a.payment_id
		WHERE a.paid_at >= ? AND a.paid_at < ?
		GROUP BY p.item_id
		ORDER BY p.item_id`, millis(from), millis(to))
	if err != nil {
		return nil, core.Persistence("income between", err)
	}
	defer rows.Close()

	var out []core.ItemAmount
	for rows.Next() {
		var ia core.ItemAmount
		if err := rows.Scan(&ia.ItemID, &ia.Amount.Cents); err != nil {
			return nil, core.Persistence("scan income", err)
		}
		out = append(out, ia)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Persistence("income between", err)
	}
	return out, nil
}

// UpsertMonthlyGoal implements goals.Store
func (r *SQLiteRepository) UpsertMonthlyGoal(ctx context.Context, g goals.MonthlyGoal) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO monthly_goals (period, target_cents, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (period) DO UPDATE SET target_cents = excluded.target_cents, updated_at = excluded.updated_at`,
		g.Period.String(), g.Target.Cents, millis(g.UpdatedAt))
	if err != nil {
		return core.Persistence("upsert monthly goal", err)
	}
	return nil
}

// DeleteMonthlyGoal implements goals.Store
func (r *SQLiteRepository) DeleteMonthlyGoal(ctx context.Context, period core.Period) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM monthly_goals WHERE period = ?`, period.String()); err != nil {
		return core.Persistence("delete monthly goal", err)
	}
	return nil
}

// LoadMonthlyGoal implements goals.Store
func (r *SQLiteRepository) LoadMonthlyGoal(ctx context.Context, period core.Period) (goals.MonthlyGoal, bool, error) {
	g := goals.MonthlyGoal{Period: period}
	var updatedAt int64
	err := r.db.QueryRowContext(ctx,
		`SELECT target_cents, updated_at FROM monthly_goals WHERE period = ?`, period.String()).
		Scan(&g.Target.Cents, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return goals.MonthlyGoal{}, false, nil
	}
	if err != nil {
		return goals.MonthlyGoal{}, false, core.Persistence("load monthly goal", err)
	}
	g.UpdatedAt = fromMillis(updatedAt)
	return g, true, nil
}

// UpsertCourseGoal implements goals.Store
func (r *SQLiteRepository) UpsertCourseGoal(ctx context.Context, g goals.CourseGoal) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO course_goals (period, item_id, target_cents, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (period, item_id) DO UPDATE SET target_cents = excluded.target_cents, updated_at = excluded.updated_at`,
		g.Period.String(), g.ItemID, g.Target.Cents, millis(g.UpdatedAt))
	if err != nil {
		return core.Persistence("upsert course goal", err)
	}
	return nil
}

// DeleteCourseGoal implements goals.Store
func (r *SQLiteRepository) DeleteCourseGoal(ctx context.Context, period core.Period, itemID string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM course_goals WHERE period = ? AND item_id = ?`, period.String(), itemID); err != nil {
		return core.Persistence("delete course goal", err)
	}
	return nil
}

// ListCourseGoals implements goals.Store
func (r *SQLiteRepository) ListCourseGoals(ctx context.Context, period core.Period) ([]goals.CourseGoal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT item_id, target_cents, updated_at FROM course_goals
		WHERE period = ? ORDER BY item_id`, period.String())
	if err != nil {
		return nil, core.Persistence("list course goals", err)
	}
	defer rows.Close()

	var out []goals.CourseGoal
	for rows.Next() {
		g := goals.CourseGoal{Period: period}
		var updatedAt int64
		if err := rows.Scan(&g.ItemID, &g.Target.Cents, &updatedAt); err != nil {
			return nil, core.Persistence("scan course goal", err)
		}
		g.UpdatedAt = fromMillis(updatedAt)
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Persistence("list course goals", err)
	}
	return out, nil
}
