package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/cinema-booking-service/internal/model"
)

// TxRunner scopes a unit of work to one transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

// SeatStore is the booked_seats table.
type SeatStore interface {
	FindActiveForUpdateTx(ctx context.Context, tx *sql.Tx, showtimeID uint64, seats []model.Seat) ([]model.SeatHold, error)
	CreateMultipleTx(ctx context.Context, tx *sql.Tx, holds []model.SeatHold) error
	ListByBookingTx(ctx context.Context, tx *sql.Tx, bookingID uint64) ([]model.SeatHold, error)
	ListActiveByShowtimeTx(ctx context.Context, tx *sql.Tx, showtimeID uint64) ([]model.SeatHold, error)
	ListExpiredTx(ctx context.Context, tx *sql.Tx, showtimeID uint64, now time.Time, limit int) ([]model.SeatHold, error)
	GetForUpdateTx(ctx context.Context, tx *sql.Tx, seatID uint64) (*model.SeatHold, error)
	MarkTx(ctx context.Context, tx *sql.Tx, seatIDs []uint64, status model.SeatStatus) error
	ExtendTx(ctx context.Context, tx *sql.Tx, seatIDs []uint64, expiry time.Time) error
}

// BookingStore is the bookings table.
type BookingStore interface {
	CreateTx(ctx context.Context, tx *sql.Tx, b *model.Booking) error
	GetByID(ctx context.Context, id uint64) (*model.Booking, error)
	GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Booking, error)
	GetByPaymentTx(ctx context.Context, tx *sql.Tx, paymentID uint64) (*model.Booking, error)
	ListByUser(ctx context.Context, userID uint64, includeCancelled bool) ([]model.Booking, error)
	UpdateStatusTx(ctx context.Context, tx *sql.Tx, id uint64, status model.BookingStatus) error
	SetPaymentTx(ctx context.Context, tx *sql.Tx, id, paymentID uint64) error
	SoftDeleteTx(ctx context.Context, tx *sql.Tx, id uint64) error
}

// PaymentStore is the payments table.
type PaymentStore interface {
	CreateTx(ctx context.Context, tx *sql.Tx, p *model.Payment) error
	GetByID(ctx context.Context, id uint64) (*model.Payment, error)
	GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Payment, error)
	UpdateStatusTx(ctx context.Context, tx *sql.Tx, id uint64, status model.PaymentStatus) error
	UpdateAmountTx(ctx context.Context, tx *sql.Tx, id uint64, amount model.Money) error
	SoftDeleteTx(ctx context.Context, tx *sql.Tx, id uint64) error
}

// ShowtimeSource resolves showtimes owned by the theatre service.
type ShowtimeSource interface {
	GetShowtime(ctx context.Context, id uint64) (*model.Showtime, error)
}

// SeatCounter adjusts the theatre service's seats_booked counter.
type SeatCounter interface {
	AdjustSeats(ctx context.Context, showtimeID uint64, delta int) error
}

// ConfirmationQueue accepts confirmation tasks for asynchronous delivery.
type ConfirmationQueue interface {
	EnqueueConfirmation(ctx context.Context, task model.ConfirmationTask) error
}
