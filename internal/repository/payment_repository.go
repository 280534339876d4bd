package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/cinema-booking-service/internal/model"
)

// PaymentRepo provides persistence for the payments table.  Amounts are
// stored as integer cents.
type PaymentRepo struct {
	db *sql.DB
}

// NewPaymentRepo returns a new PaymentRepo bound to the given database.
func NewPaymentRepo(db *sql.DB) *PaymentRepo { return &PaymentRepo{db: db} }

const paymentColumns = `payment_id, amount_cents, status, created_by, is_deleted, created_at, updated_at`

func scanPayment(s scanner) (*model.Payment, error) {
	var (
		p         model.Payment
		cents     int64
		status    string
		createdBy sql.NullInt64
	)
	if err := s.Scan(&p.ID, &cents, &status, &createdBy, &p.IsDeleted, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, translate(err)
	}
	p.Amount = model.Cents(cents)
	p.Status = model.PaymentStatus(status)
	p.CreatedBy = nullableID(createdBy)
	return &p, nil
}

// CreateTx inserts a payment and populates its generated fields.
func (r *PaymentRepo) CreateTx(ctx context.Context, tx *sql.Tx, p *model.Payment) error {
	const q = `INSERT INTO payments (amount_cents, status, created_by) VALUES (?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, p.Amount.Cents(), string(p.Status), idArg(p.CreatedBy))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	stored, err := scanPayment(tx.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE payment_id = ?`, id))
	if err != nil {
		return err
	}
	*p = *stored
	return nil
}

// GetByID returns a non-deleted payment or ErrNotFound.
func (r *PaymentRepo) GetByID(ctx context.Context, id uint64) (*model.Payment, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE payment_id = ? AND is_deleted = 0`
	return scanPayment(r.db.QueryRowContext(ctx, q, id))
}

// GetForUpdateTx returns a payment, deleted or not, and locks its row.
func (r *PaymentRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Payment, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE payment_id = ? FOR UPDATE`
	return scanPayment(tx.QueryRowContext(ctx, q, id))
}

// UpdateStatusTx writes a new lifecycle status.
func (r *PaymentRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id uint64, status model.PaymentStatus) error {
	const q = `UPDATE payments SET status = ?, updated_at = UTC_TIMESTAMP() WHERE payment_id = ?`
	_, err := tx.ExecContext(ctx, q, string(status), id)
	return err
}

// UpdateAmountTx changes the amount of a payment.
func (r *PaymentRepo) UpdateAmountTx(ctx context.Context, tx *sql.Tx, id uint64, amount model.Money) error {
	const q = `UPDATE payments SET amount_cents = ?, updated_at = UTC_TIMESTAMP() WHERE payment_id = ?`
	_, err := tx.ExecContext(ctx, q, amount.Cents(), id)
	return err
}

// SoftDeleteTx sets the deleted flag of a payment.
func (r *PaymentRepo) SoftDeleteTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	const q = `UPDATE payments SET is_deleted = 1, updated_at = UTC_TIMESTAMP() WHERE payment_id = ?`
	_, err := tx.ExecContext(ctx, q, id)
	return err
}
