package model

import "time"

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingFailed    BookingStatus = "failed"
)

// cancelled and failed are terminal; confirmed may only be cancelled.
var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingPending:   {BookingConfirmed, BookingCancelled, BookingFailed},
	BookingConfirmed: {BookingCancelled},
}

// Valid reports whether s is a known status.
func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPending, BookingConfirmed, BookingCancelled, BookingFailed:
		return true
	}
	return false
}

// Transition validates moving a booking from s to next.
func (s BookingStatus) Transition(next BookingStatus) error {
	return transition("booking", bookingTransitions, s, next)
}

// Booking groups the seats one user holds or booked for a showtime.  A
// booking is never hard-deleted; Seats is populated by the service layer.
type Booking struct {
	ID          uint64        `json:"booking_id"`   // bookings.booking_id
	UserID      uint64        `json:"user_id"`      // bookings.user_id
	ShowtimeID  uint64        `json:"showtime_id"`  // bookings.showtime_id
	PaymentID   *uint64       `json:"payment_id"`   // bookings.payment_id (nullable, unique)
	BookingTime time.Time     `json:"booking_time"` // bookings.booking_time
	Status      BookingStatus `json:"status"`       // bookings.status
	IsDeleted   bool          `json:"-"`            // bookings.is_deleted
	CreatedBy   *uint64       `json:"created_by,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	Seats       []SeatHold    `json:"seats"`
}
