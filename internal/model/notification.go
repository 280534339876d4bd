package model

import "time"

// ConfirmationTask is enqueued after a booking commits as confirmed.  The
// consumer turns it into a BookingConfirmed event; failures there never
// touch the booking.
type ConfirmationTask struct {
	BookingID   uint64    `json:"booking_id"`
	UserID      uint64    `json:"user_id"`
	ShowtimeID  uint64    `json:"showtime_id"`
	Amount      Money     `json:"amount"`
	Seats       []string  `json:"seats"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}
