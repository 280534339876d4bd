package model

import "time"

// Showtime is the theatre service's record of a showtime.  Only the fields
// read by this service are decoded; the seats_booked counter is owned and
// mutated remotely.
type Showtime struct {
	ID          uint64    `json:"showtime_id"`
	ScreenID    uint64    `json:"screen_id"`
	MovieID     uint64    `json:"movie_id"`
	StartTime   time.Time `json:"start_time"`
	Price       *Money    `json:"price,omitempty"` // nil when the theatre reports no price
	SeatsBooked int       `json:"seats_booked"`
}

// User is the subset of a user-service record used for notifications.
type User struct {
	ID    uint64 `json:"user_id"`
	Email string `json:"email"`
}

// Movie is the subset of a movie-service record used for notifications.
type Movie struct {
	ID    uint64 `json:"movie_id"`
	Title string `json:"title"`
}
