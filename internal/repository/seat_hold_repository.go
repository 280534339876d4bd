package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/cinema-booking-service/internal/model"
)

// SeatHoldRepo provides data access to the booked_seats table.  Every row is
// one seat of one booking.  All timestamps are UTC and expiry comparisons
// are made against a "now" supplied by the caller, so one batch of checks
// always sees a single clock reading.
type SeatHoldRepo struct {
	db *sql.DB
}

// NewSeatHoldRepo returns a new SeatHoldRepo bound to the provided database.
func NewSeatHoldRepo(db *sql.DB) *SeatHoldRepo { return &SeatHoldRepo{db: db} }

const seatHoldColumns = `seat_id, booking_id, showtime_id, seat_row, seat_col, status,
	hold_expiry_time, is_deleted, created_by, created_at, updated_at`

func scanSeatHold(s scanner) (model.SeatHold, error) {
	var (
		h         model.SeatHold
		status    string
		expiry    sql.NullTime
		createdBy sql.NullInt64
	)
	if err := s.Scan(&h.ID, &h.BookingID, &h.ShowtimeID, &h.Row, &h.Col, &status,
		&expiry, &h.IsDeleted, &createdBy, &h.CreatedAt, &h.UpdatedAt); err != nil {
		return model.SeatHold{}, err
	}
	h.Status = model.SeatStatus(status)
	if expiry.Valid {
		t := expiry.Time.UTC()
		h.HoldExpiryTime = &t
	}
	h.CreatedBy = nullableID(createdBy)
	return h, nil
}

func collectSeatHolds(rows *sql.Rows, err error) ([]model.SeatHold, error) {
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	var holds []model.SeatHold
	for rows.Next() {
		h, err := scanSeatHold(rows)
		if err != nil {
			return nil, err
		}
		holds = append(holds, h)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err)
	}
	return holds, nil
}

// FindActiveForUpdateTx returns the live (on_hold or booked, not deleted)
// holds occupying any of the given seats of a showtime and locks them.
// Expired holds are included; deciding expiry is the caller's job.
func (r *SeatHoldRepo) FindActiveForUpdateTx(ctx context.Context, tx *sql.Tx, showtimeID uint64, seats []model.Seat) ([]model.SeatHold, error) {
	if len(seats) == 0 {
		return nil, nil
	}
	query := `SELECT ` + seatHoldColumns + ` FROM booked_seats
			  WHERE showtime_id = ? AND is_deleted = 0 AND status IN ('on_hold','booked') AND (`
	args := make([]interface{}, 0, 1+len(seats)*2)
	args = append(args, showtimeID)
	for i, s := range seats {
		if i > 0 {
			query += " OR "
		}
		query += "(seat_row = ? AND seat_col = ?)"
		args = append(args, s.Row, s.Col)
	}
	query += `) ORDER BY seat_row, seat_col FOR UPDATE`
	return collectSeatHolds(tx.QueryContext(ctx, query, args...))
}

// CreateMultipleTx inserts multiple holds in one statement.  Each hold must
// specify BookingID, ShowtimeID, Row, Col, Status and HoldExpiryTime.  A
// live hold on the same seat makes the statement fail with ErrDuplicate.
// Passing an empty slice has no effect and returns nil.
func (r *SeatHoldRepo) CreateMultipleTx(ctx context.Context, tx *sql.Tx, holds []model.SeatHold) error {
	if len(holds) == 0 {
		return nil
	}
	query := `INSERT INTO booked_seats (booking_id, showtime_id, seat_row, seat_col, status, hold_expiry_time, created_by) VALUES `
	args := make([]interface{}, 0, len(holds)*7)
	for i, h := range holds {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?, ?, ?)"
		var expiry interface{}
		if h.HoldExpiryTime != nil {
			expiry = h.HoldExpiryTime.UTC()
		}
		args = append(args, h.BookingID, h.ShowtimeID, h.Row, h.Col, string(h.Status), expiry, idArg(h.CreatedBy))
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return translate(err)
}

// ListByBookingTx returns the non-deleted holds of a booking, locking them.
func (r *SeatHoldRepo) ListByBookingTx(ctx context.Context, tx *sql.Tx, bookingID uint64) ([]model.SeatHold, error) {
	const q = `SELECT ` + seatHoldColumns + ` FROM booked_seats
			   WHERE booking_id = ? AND is_deleted = 0 ORDER BY seat_row, seat_col FOR UPDATE`
	return collectSeatHolds(tx.QueryContext(ctx, q, bookingID))
}

// ListByBooking is the read-only variant of ListByBookingTx.
func (r *SeatHoldRepo) ListByBooking(ctx context.Context, bookingID uint64) ([]model.SeatHold, error) {
	const q = `SELECT ` + seatHoldColumns + ` FROM booked_seats
			   WHERE booking_id = ? AND is_deleted = 0 ORDER BY seat_row, seat_col`
	return collectSeatHolds(r.db.QueryContext(ctx, q, bookingID))
}

// ListActiveByShowtimeTx returns every live hold of a showtime.
func (r *SeatHoldRepo) ListActiveByShowtimeTx(ctx context.Context, tx *sql.Tx, showtimeID uint64) ([]model.SeatHold, error) {
	const q = `SELECT ` + seatHoldColumns + ` FROM booked_seats
			   WHERE showtime_id = ? AND is_deleted = 0 AND status IN ('on_hold','booked')
			   ORDER BY seat_row, seat_col`
	return collectSeatHolds(tx.QueryContext(ctx, q, showtimeID))
}

// ListExpiredTx returns up to limit on_hold rows whose expiry lies before
// now.  A zero showtimeID scans every showtime.  Rows are locked; rows
// locked by concurrent transactions are skipped so sweeps never queue
// behind live checkouts.
func (r *SeatHoldRepo) ListExpiredTx(ctx context.Context, tx *sql.Tx, showtimeID uint64, now time.Time, limit int) ([]model.SeatHold, error) {
	query := `SELECT ` + seatHoldColumns + ` FROM booked_seats
			  WHERE status = 'on_hold' AND is_deleted = 0 AND hold_expiry_time < ?`
	args := []interface{}{now.UTC()}
	if showtimeID != 0 {
		query += ` AND showtime_id = ?`
		args = append(args, showtimeID)
	}
	query += ` ORDER BY seat_id LIMIT ? FOR UPDATE SKIP LOCKED`
	args = append(args, limit)
	return collectSeatHolds(tx.QueryContext(ctx, query, args...))
}

// GetForUpdateTx loads a single hold by id, soft-deleted rows included.
func (r *SeatHoldRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, seatID uint64) (*model.SeatHold, error) {
	const q = `SELECT ` + seatHoldColumns + ` FROM booked_seats WHERE seat_id = ? FOR UPDATE`
	h, err := scanSeatHold(tx.QueryRowContext(ctx, q, seatID))
	if err != nil {
		return nil, translate(err)
	}
	return &h, nil
}

// MarkTx moves the given holds to status.  Releasing also sets the
// soft-delete flag, booking clears the expiry.
func (r *SeatHoldRepo) MarkTx(ctx context.Context, tx *sql.Tx, seatIDs []uint64, status model.SeatStatus) error {
	if len(seatIDs) == 0 {
		return nil
	}
	var set string
	switch status {
	case model.SeatReleased:
		set = `status = 'released', is_deleted = 1`
	case model.SeatBooked:
		set = `status = 'booked', hold_expiry_time = NULL`
	default:
		set = `status = 'on_hold'`
	}
	query := `UPDATE booked_seats SET ` + set + `, updated_at = UTC_TIMESTAMP() WHERE seat_id IN (` + placeholders(len(seatIDs)) + `)`
	args := make([]interface{}, 0, len(seatIDs))
	for _, id := range seatIDs {
		args = append(args, id)
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return translate(err)
}

// ExtendTx resets the expiry of the given on_hold rows.
func (r *SeatHoldRepo) ExtendTx(ctx context.Context, tx *sql.Tx, seatIDs []uint64, expiry time.Time) error {
	if len(seatIDs) == 0 {
		return nil
	}
	query := `UPDATE booked_seats SET hold_expiry_time = ?, updated_at = UTC_TIMESTAMP()
			  WHERE status = 'on_hold' AND is_deleted = 0 AND seat_id IN (` + placeholders(len(seatIDs)) + `)`
	args := make([]interface{}, 0, 1+len(seatIDs))
	args = append(args, expiry.UTC())
	for _, id := range seatIDs {
		args = append(args, id)
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
