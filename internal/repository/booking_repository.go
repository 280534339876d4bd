package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/cinema-booking-service/internal/model"
)

// BookingRepo provides persistence for the bookings table.  Bookings are
// never hard-deleted; SoftDeleteTx only sets is_deleted.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a new BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

const bookingColumns = `booking_id, user_id, showtime_id, payment_id, booking_time, status,
	is_deleted, created_by, created_at, updated_at`

func scanBooking(s scanner) (*model.Booking, error) {
	var (
		b         model.Booking
		paymentID sql.NullInt64
		createdBy sql.NullInt64
		status    string
	)
	if err := s.Scan(&b.ID, &b.UserID, &b.ShowtimeID, &paymentID, &b.BookingTime, &status,
		&b.IsDeleted, &createdBy, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, translate(err)
	}
	b.Status = model.BookingStatus(status)
	b.PaymentID = nullableID(paymentID)
	b.CreatedBy = nullableID(createdBy)
	return &b, nil
}

// CreateTx inserts a new booking within the scope of an existing
// transaction and populates the generated ID and defaults on b.
func (r *BookingRepo) CreateTx(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
	const q = `INSERT INTO bookings (user_id, showtime_id, booking_time, status, created_by) VALUES (?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, b.UserID, b.ShowtimeID, b.BookingTime.UTC(), string(b.Status), idArg(b.CreatedBy))
	if err != nil {
		return translate(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	// Query back the full row to populate timestamps and defaults
	stored, err := scanBooking(tx.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE booking_id = ?`, id))
	if err != nil {
		return err
	}
	*b = *stored
	return nil
}

// GetByID returns a non-deleted booking or ErrNotFound.
func (r *BookingRepo) GetByID(ctx context.Context, id uint64) (*model.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings WHERE booking_id = ? AND is_deleted = 0`
	return scanBooking(r.db.QueryRowContext(ctx, q, id))
}

// GetForUpdateTx returns a booking and locks its row until the transaction
// ends.  Soft-deleted rows are returned too; callers check IsDeleted.
func (r *BookingRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings WHERE booking_id = ? FOR UPDATE`
	return scanBooking(tx.QueryRowContext(ctx, q, id))
}

// GetByPaymentTx returns the booking a payment is linked to, deleted rows
// included because the link survives soft deletion.  ErrNotFound means the
// payment is unlinked.
func (r *BookingRepo) GetByPaymentTx(ctx context.Context, tx *sql.Tx, paymentID uint64) (*model.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings WHERE payment_id = ? FOR UPDATE`
	return scanBooking(tx.QueryRowContext(ctx, q, paymentID))
}

// ListByUser returns a user's non-deleted bookings, newest first.
// Cancelled bookings are skipped unless includeCancelled is set.
func (r *BookingRepo) ListByUser(ctx context.Context, userID uint64, includeCancelled bool) ([]model.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings WHERE user_id = ? AND is_deleted = 0`
	if !includeCancelled {
		q += ` AND status <> 'cancelled'`
	}
	q += ` ORDER BY booking_time DESC, booking_id DESC`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateStatusTx writes a new lifecycle status.  Transition legality is
// checked by the caller.
func (r *BookingRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id uint64, status model.BookingStatus) error {
	const q = `UPDATE bookings SET status = ?, updated_at = UTC_TIMESTAMP() WHERE booking_id = ?`
	_, err := tx.ExecContext(ctx, q, string(status), id)
	return err
}

// SetPaymentTx links a payment to a booking.  Linking a payment that is
// already linked elsewhere fails with ErrDuplicate.
func (r *BookingRepo) SetPaymentTx(ctx context.Context, tx *sql.Tx, id, paymentID uint64) error {
	const q = `UPDATE bookings SET payment_id = ?, updated_at = UTC_TIMESTAMP() WHERE booking_id = ?`
	_, err := tx.ExecContext(ctx, q, paymentID, id)
	return translate(err)
}

// SoftDeleteTx sets the deleted flag and leaves the status untouched.
func (r *BookingRepo) SoftDeleteTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	const q = `UPDATE bookings SET is_deleted = 1, updated_at = UTC_TIMESTAMP() WHERE booking_id = ?`
	_, err := tx.ExecContext(ctx, q, id)
	return err
}
