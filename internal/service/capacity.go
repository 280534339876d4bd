package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Capacity keeps the theatre service's seats_booked counter in step with
// local bookings.  Increment is fail-closed: its error aborts the caller's
// transaction.  Decrement is best-effort and never reports failure.
type Capacity struct {
	counter SeatCounter
	timeout time.Duration
	log     *zap.Logger
}

// NewCapacity returns a Capacity using counter.  timeout bounds every
// remote call made by Decrement, which runs detached from the request.
func NewCapacity(counter SeatCounter, timeout time.Duration, log *zap.Logger) *Capacity {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Capacity{counter: counter, timeout: timeout, log: log}
}

// Increment registers count newly booked seats.
func (c *Capacity) Increment(ctx context.Context, showtimeID uint64, count int) error {
	if count <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.counter.AdjustSeats(ctx, showtimeID, count); err != nil {
		c.log.Warn("seat count increment failed",
			zap.Uint64("showtime_id", showtimeID), zap.Int("seats", count), zap.Error(err))
		return upstream(err, "failed to update theatre showtime seats")
	}
	return nil
}

// Decrement frees count seats on the remote counter.  It ignores the
// caller's cancellation so a finished request still delivers the update.
// Failures are logged and left for reconciliation.
func (c *Capacity) Decrement(ctx context.Context, showtimeID uint64, count int) {
	if count <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()
	if err := c.counter.AdjustSeats(ctx, showtimeID, -count); err != nil {
		c.log.Warn("seat count decrement failed; remote counter may over-count",
			zap.Uint64("showtime_id", showtimeID), zap.Int("seats", count), zap.Error(err))
	}
}
