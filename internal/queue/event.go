// Package queue carries booking confirmations from the booking service to
// the event sinks.  Confirmed bookings are enqueued as tasks on RabbitMQ; a
// background consumer enriches each task with user and movie details and
// publishes a BookingConfirmedEvent to every configured sink.
package queue

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/cinema-booking-service/internal/model"
)

// Queue names.  The retry queue has no consumer: messages wait there for
// their TTL and are dead-lettered back onto the task queue.
const (
	TasksQueue     = "booking.confirm.tasks"
	RetryQueue     = "booking.confirm.retry"
	ParkedQueue    = "booking.confirm.parked"
	ConfirmedQueue = "booking.confirmed"
)

// attemptHeader counts how many times a task has been handled.
const attemptHeader = "x-attempt"

// BookingConfirmedEvent is published once per confirmed booking.  It holds
// enough information for downstream consumers to notify the customer
// without querying the booking database.
type BookingConfirmedEvent struct {
	EventID    string      `json:"event_id"`
	BookingID  uint64      `json:"booking_id"`
	UserID     uint64      `json:"user_id"`
	ShowtimeID uint64      `json:"showtime_id"`
	Email      string      `json:"email"`
	Movie      string      `json:"movie"`
	Showtime   string      `json:"showtime"` // RFC 3339 start time, empty when unknown
	Seats      []string    `json:"seats"`
	Amount     model.Money `json:"amount"`
	Status     string      `json:"status"`
	Timestamp  string      `json:"timestamp"` // confirmation time, RFC 3339
}

// eventNamespace scopes the name-based event ids.
var eventNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:booking-service:booking-confirmed"))

// EventID names the confirmation of task.  It depends only on the booking
// and its confirmation time, so every delivery attempt of the same task
// publishes the same id and consumers can deduplicate on it.
func EventID(task model.ConfirmationTask) string {
	name := strconv.FormatUint(task.BookingID, 10) + ":" + strconv.FormatInt(task.ConfirmedAt.UnixNano(), 10)
	return uuid.NewSHA1(eventNamespace, []byte(name)).String()
}

// newEvent seeds an event from task; enrichment fills in the rest.
func newEvent(task model.ConfirmationTask) BookingConfirmedEvent {
	seats := task.Seats
	if seats == nil {
		seats = []string{}
	}
	return BookingConfirmedEvent{
		EventID:    EventID(task),
		BookingID:  task.BookingID,
		UserID:     task.UserID,
		ShowtimeID: task.ShowtimeID,
		Seats:      seats,
		Amount:     task.Amount,
		Status:     string(model.BookingConfirmed),
		Timestamp:  task.ConfirmedAt.UTC().Format(time.RFC3339),
	}
}
