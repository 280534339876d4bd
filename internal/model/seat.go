package model

import (
	"strconv"
	"time"
)

// Seat identifies a position in a screen by row letter and column number.
type Seat struct {
	Row string `json:"row"` // single upper-case letter
	Col int    `json:"col"` // positive integer
}

// Label renders the seat as e.g. "A1".
func (s Seat) Label() string { return s.Row + strconv.Itoa(s.Col) }

// SeatStatus is the lifecycle state of a seat hold.
type SeatStatus string

const (
	SeatOnHold   SeatStatus = "on_hold"
	SeatBooked   SeatStatus = "booked"
	SeatReleased SeatStatus = "released"
)

var seatTransitions = map[SeatStatus][]SeatStatus{
	SeatOnHold: {SeatBooked, SeatReleased},
	SeatBooked: {SeatReleased},
}

// Valid reports whether s is a known status.
func (s SeatStatus) Valid() bool {
	switch s {
	case SeatOnHold, SeatBooked, SeatReleased:
		return true
	}
	return false
}

// Active reports whether a hold in status s occupies its seat.
func (s SeatStatus) Active() bool { return s == SeatOnHold || s == SeatBooked }

// Transition validates moving a seat hold from s to next.
func (s SeatStatus) Transition(next SeatStatus) error {
	return transition("seat", seatTransitions, s, next)
}

// SeatHold is a row of booked_seats: one seat of one booking.  At most one
// non-deleted hold per (showtime, row, col) may be active at any time.
//
// Fields:
//  ID             – booked_seats.seat_id.
//  BookingID      – owning booking.
//  ShowtimeID     – showtime of the seat (owned by the theatre service).
//  Row, Col       – seat position.
//  Status         – on_hold, booked or released.
//  HoldExpiryTime – set while on_hold; nil once booked.
//  IsDeleted      – soft-delete flag, set together with released.
type SeatHold struct {
	ID             uint64     `json:"booked_seat_id"`   // booked_seats.seat_id
	BookingID      uint64     `json:"booking_id"`       // booked_seats.booking_id
	ShowtimeID     uint64     `json:"showtime_id"`      // booked_seats.showtime_id
	Row            string     `json:"row"`              // booked_seats.seat_row
	Col            int        `json:"col"`              // booked_seats.seat_col
	Status         SeatStatus `json:"status"`           // booked_seats.status
	HoldExpiryTime *time.Time `json:"hold_expiry_time"` // booked_seats.hold_expiry_time (nullable)
	IsDeleted      bool       `json:"-"`                // booked_seats.is_deleted
	CreatedBy      *uint64    `json:"created_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Seat returns the position of the hold.
func (h SeatHold) Seat() Seat { return Seat{Row: h.Row, Col: h.Col} }

// Expired reports whether an on_hold seat has passed its expiry at now.
// Booked and released seats never expire.
func (h SeatHold) Expired(now time.Time) bool {
	return h.Status == SeatOnHold && h.HoldExpiryTime != nil && now.After(*h.HoldExpiryTime)
}
