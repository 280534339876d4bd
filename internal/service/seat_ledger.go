package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/cinema-booking-service/internal/config"
	"github.com/iliyamo/cinema-booking-service/internal/model"
	"github.com/iliyamo/cinema-booking-service/internal/repository"
)

// sweepBatch bounds the rows locked by one expiry sweep transaction.
const sweepBatch = 500

// Seat map bounds.
const (
	defaultSeatMapCols = 10
	maxSeatMapCols     = 50
)

var defaultSeatMapRows = []string{"A", "B", "C", "D", "E", "F", "G", "H"}

// SeatCell is one position of a seat map.
type SeatCell struct {
	Row       string `json:"row"`
	Col       int    `json:"col"`
	Available bool   `json:"available"`
}

// UpdateSeatInput carries the optional changes accepted by UpdateSeat.
type UpdateSeatInput struct {
	Status            *model.SeatStatus
	AdditionalMinutes *int
}

// SeatLedger owns the booked_seats records.  It enforces one live hold per
// seat and resolves hold expiry lazily: every path that reads holds first
// releases the ones whose expiry has passed.
type SeatLedger struct {
	seats    SeatStore
	tx       TxRunner
	capacity *Capacity
	cfg      config.BookingConfig
	log      *zap.Logger
	now      func() time.Time
}

// NewSeatLedger wires a SeatLedger.
func NewSeatLedger(seats SeatStore, tx TxRunner, capacity *Capacity, cfg config.BookingConfig, log *zap.Logger) *SeatLedger {
	if log == nil {
		log = zap.NewNop()
	}
	return &SeatLedger{seats: seats, tx: tx, capacity: capacity, cfg: cfg, log: log, now: time.Now}
}

func (l *SeatLedger) clock() time.Time { return l.now().UTC() }

// ValidateSeats checks a seat request: between one and max seats, each a
// single upper-case row letter with a positive column, and no seat twice.
func ValidateSeats(seats []model.Seat, max int) error {
	if len(seats) == 0 {
		return Validation("seats", "at least one seat is required")
	}
	if len(seats) > max {
		return Validation("seats", "cannot book more than %d seats at once", max)
	}
	seen := make(map[model.Seat]struct{}, len(seats))
	for i, s := range seats {
		if !validRow(s.Row) {
			return Validation(fmt.Sprintf("seats[%d].row", i), "row must be a single letter A-Z")
		}
		if s.Col < 1 {
			return Validation(fmt.Sprintf("seats[%d].col", i), "col must be a positive integer")
		}
		if _, dup := seen[s]; dup {
			return Validation(fmt.Sprintf("seats[%d]", i), "duplicate seat %s in request", s.Label())
		}
		seen[s] = struct{}{}
	}
	return nil
}

func validRow(r string) bool { return len(r) == 1 && r[0] >= 'A' && r[0] <= 'Z' }

func holdIDs(holds []model.SeatHold) []uint64 {
	ids := make([]uint64, 0, len(holds))
	for _, h := range holds {
		ids = append(ids, h.ID)
	}
	return ids
}

// releaseExpiredTx releases the holds that expired at now and returns the
// rest.
func (l *SeatLedger) releaseExpiredTx(ctx context.Context, tx *sql.Tx, holds []model.SeatHold, now time.Time) ([]model.SeatHold, error) {
	var (
		live    []model.SeatHold
		expired []uint64
	)
	for _, h := range holds {
		if h.Expired(now) {
			expired = append(expired, h.ID)
			continue
		}
		live = append(live, h)
	}
	if len(expired) == 0 {
		return live, nil
	}
	if err := l.seats.MarkTx(ctx, tx, expired, model.SeatReleased); err != nil {
		return nil, err
	}
	l.log.Info("released expired seat holds", zap.Int("seats", len(expired)))
	return live, nil
}

// CheckAvailabilityTx fails with a SeatConflict naming the first requested
// seat that holds a live, unexpired hold.  Expired holds are released.
func (l *SeatLedger) CheckAvailabilityTx(ctx context.Context, tx *sql.Tx, showtimeID uint64, seats []model.Seat, now time.Time) error {
	holds, err := l.seats.FindActiveForUpdateTx(ctx, tx, showtimeID, seats)
	if err != nil {
		return claimRace(err)
	}
	live, err := l.releaseExpiredTx(ctx, tx, holds, now)
	if err != nil {
		return err
	}
	if len(live) > 0 {
		return newError(KindSeatConflict, "seat %s is not available", live[0].Seat().Label())
	}
	return nil
}

// CheckAvailability is the standalone availability check.  Expired holds
// it finds stay released even when a conflict is reported.
func (l *SeatLedger) CheckAvailability(ctx context.Context, showtimeID uint64, seats []model.Seat) error {
	if err := ValidateSeats(seats, l.cfg.MaxSeatsPerBooking); err != nil {
		return err
	}
	var conflict error
	err := l.tx.WithTx(ctx, func(tx *sql.Tx) error {
		err := l.CheckAvailabilityTx(ctx, tx, showtimeID, seats, l.clock())
		if KindOf(err) == KindSeatConflict {
			conflict = err
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	return conflict
}

// ClaimTx creates one on_hold record per seat for booking b, expiring at
// now plus the configured hold duration.  A concurrent claim of the same
// seat surfaces as a SeatConflict through the unique live-seat index.
func (l *SeatLedger) ClaimTx(ctx context.Context, tx *sql.Tx, b *model.Booking, seats []model.Seat, now time.Time) ([]model.SeatHold, error) {
	expiry := now.Add(l.cfg.HoldDuration)
	holds := make([]model.SeatHold, 0, len(seats))
	for _, s := range seats {
		holds = append(holds, model.SeatHold{
			BookingID:      b.ID,
			ShowtimeID:     b.ShowtimeID,
			Row:            s.Row,
			Col:            s.Col,
			Status:         model.SeatOnHold,
			HoldExpiryTime: &expiry,
			CreatedBy:      b.CreatedBy,
		})
	}
	if err := l.seats.CreateMultipleTx(ctx, tx, holds); err != nil {
		return nil, claimRace(err)
	}
	return l.seats.ListByBookingTx(ctx, tx, b.ID)
}

// claimRace reports a lost race for a seat as a SeatConflict.  The unique
// live-seat index raises a duplicate key; InnoDB gap locks taken by the
// availability read raise a deadlock or lock wait timeout instead.
func claimRace(err error) error {
	if errors.Is(err, repository.ErrDuplicate) || errors.Is(err, repository.ErrLockConflict) {
		return &Error{Kind: KindSeatConflict, Message: "one or more seats were just taken", Err: err}
	}
	return err
}

// ActiveHoldsTx lists the non-deleted holds of a booking without touching
// expiry.
func (l *SeatLedger) ActiveHoldsTx(ctx context.Context, tx *sql.Tx, bookingID uint64) ([]model.SeatHold, error) {
	return l.seats.ListByBookingTx(ctx, tx, bookingID)
}

// HoldsTx lists the non-deleted holds of a booking after releasing the
// expired ones.
func (l *SeatLedger) HoldsTx(ctx context.Context, tx *sql.Tx, bookingID uint64, now time.Time) ([]model.SeatHold, error) {
	holds, err := l.seats.ListByBookingTx(ctx, tx, bookingID)
	if err != nil {
		return nil, err
	}
	return l.releaseExpiredTx(ctx, tx, holds, now)
}

// ConfirmAllTx flips every hold of a booking to booked and returns how many
// seats were booked.  An expired hold aborts the confirmation.
func (l *SeatLedger) ConfirmAllTx(ctx context.Context, tx *sql.Tx, bookingID uint64, now time.Time) (int, error) {
	holds, err := l.seats.ListByBookingTx(ctx, tx, bookingID)
	if err != nil {
		return 0, err
	}
	if len(holds) == 0 {
		return 0, newError(KindInvalidState, "booking %d has no active seats", bookingID)
	}
	for _, h := range holds {
		if h.Expired(now) {
			return 0, newError(KindInvalidState, "seat hold expired for seat %s", h.Seat().Label())
		}
		if err := h.Status.Transition(model.SeatBooked); err != nil {
			return 0, stateError(err)
		}
	}
	if err := l.seats.MarkTx(ctx, tx, holdIDs(holds), model.SeatBooked); err != nil {
		return 0, err
	}
	return len(holds), nil
}

// ReleaseAllTx releases every hold of a booking and returns how many of
// them were booked, which is what the remote counter must give back.
func (l *SeatLedger) ReleaseAllTx(ctx context.Context, tx *sql.Tx, bookingID uint64) (int, error) {
	holds, err := l.seats.ListByBookingTx(ctx, tx, bookingID)
	if err != nil || len(holds) == 0 {
		return 0, err
	}
	booked := 0
	for _, h := range holds {
		if h.Status == model.SeatBooked {
			booked++
		}
	}
	if err := l.seats.MarkTx(ctx, tx, holdIDs(holds), model.SeatReleased); err != nil {
		return 0, err
	}
	return booked, nil
}

// ExtendTx resets the expiry of every on_hold seat of a booking to now plus
// minutes.
func (l *SeatLedger) ExtendTx(ctx context.Context, tx *sql.Tx, bookingID uint64, minutes int, now time.Time) ([]model.SeatHold, error) {
	holds, err := l.seats.ListByBookingTx(ctx, tx, bookingID)
	if err != nil {
		return nil, err
	}
	var onHold []model.SeatHold
	for _, h := range holds {
		if h.Status == model.SeatOnHold {
			onHold = append(onHold, h)
		}
	}
	if len(onHold) == 0 {
		return nil, newError(KindNoActiveHold, "no seats on hold found for booking %d", bookingID)
	}
	expiry := now.Add(time.Duration(minutes) * time.Minute)
	if err := l.seats.ExtendTx(ctx, tx, holdIDs(onHold), expiry); err != nil {
		return nil, err
	}
	for i := range onHold {
		onHold[i].HoldExpiryTime = &expiry
	}
	return onHold, nil
}

// releaseExpiredBatchesTx releases the expired holds of one showtime, or of
// every showtime when showtimeID is zero.
func (l *SeatLedger) releaseExpiredBatchesTx(ctx context.Context, tx *sql.Tx, showtimeID uint64, now time.Time) ([]model.SeatHold, error) {
	var released []model.SeatHold
	for {
		batch, err := l.seats.ListExpiredTx(ctx, tx, showtimeID, now, sweepBatch)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			return released, nil
		}
		if err := l.seats.MarkTx(ctx, tx, holdIDs(batch), model.SeatReleased); err != nil {
			return nil, err
		}
		released = append(released, batch...)
		if len(batch) < sweepBatch {
			return released, nil
		}
	}
}

// BookedSeats lists the live holds of a showtime after releasing expired ones.
func (l *SeatLedger) BookedSeats(ctx context.Context, showtimeID uint64) ([]model.SeatHold, error) {
	var holds []model.SeatHold
	err := l.tx.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := l.releaseExpiredBatchesTx(ctx, tx, showtimeID, l.clock()); err != nil {
			return err
		}
		var err error
		holds, err = l.seats.ListActiveByShowtimeTx(ctx, tx, showtimeID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if holds == nil {
		holds = []model.SeatHold{}
	}
	return holds, nil
}

// SeatMap renders availability for rows x cols.  Empty rows default to A-H
// and a zero cols to 10.
func (l *SeatLedger) SeatMap(ctx context.Context, showtimeID uint64, rows []string, cols int) (map[string][]SeatCell, error) {
	if len(rows) == 0 {
		rows = defaultSeatMapRows
	}
	for i, r := range rows {
		if !validRow(r) {
			return nil, Validation(fmt.Sprintf("rows[%d]", i), "row must be a single letter A-Z")
		}
	}
	if cols == 0 {
		cols = defaultSeatMapCols
	}
	if cols < 1 || cols > maxSeatMapCols {
		return nil, Validation("cols", "cols must be between 1 and %d", maxSeatMapCols)
	}

	holds, err := l.BookedSeats(ctx, showtimeID)
	if err != nil {
		return nil, err
	}
	taken := make(map[model.Seat]struct{}, len(holds))
	for _, h := range holds {
		taken[h.Seat()] = struct{}{}
	}
	out := make(map[string][]SeatCell, len(rows))
	for _, r := range rows {
		cells := make([]SeatCell, 0, cols)
		for c := 1; c <= cols; c++ {
			_, busy := taken[model.Seat{Row: r, Col: c}]
			cells = append(cells, SeatCell{Row: r, Col: c, Available: !busy})
		}
		out[r] = cells
	}
	return out, nil
}

// UpdateSeat applies a status change and/or an expiry extension to one
// hold.  Seats become booked only through booking confirmation.  Releasing
// a booked seat gives one seat back to the remote counter.
func (l *SeatLedger) UpdateSeat(ctx context.Context, seatID uint64, in UpdateSeatInput) (*model.SeatHold, error) {
	if in.Status == nil && in.AdditionalMinutes == nil {
		return nil, Validation("", "status or additional_minutes is required")
	}
	if in.Status != nil && !in.Status.Valid() {
		return nil, Validation("status", "unknown seat status %q", *in.Status)
	}
	if in.AdditionalMinutes != nil && (*in.AdditionalMinutes < 1 || *in.AdditionalMinutes > l.cfg.MaxExtendMinutes) {
		return nil, Validation("additional_minutes", "additional_minutes must be between 1 and %d", l.cfg.MaxExtendMinutes)
	}

	var (
		hold  *model.SeatHold
		freed bool
	)
	err := l.tx.WithTx(ctx, func(tx *sql.Tx) error {
		h, err := l.seats.GetForUpdateTx(ctx, tx, seatID)
		if err != nil {
			return notFound(err, "seat", seatID)
		}
		now := l.clock()
		if in.Status != nil {
			if err := h.Status.Transition(*in.Status); err != nil {
				return stateError(err)
			}
			if *in.Status == model.SeatBooked {
				return newError(KindInvalidState, "seats are booked by confirming their booking")
			}
			freed = h.Status == model.SeatBooked
			if err := l.seats.MarkTx(ctx, tx, []uint64{h.ID}, model.SeatReleased); err != nil {
				return err
			}
			h.Status, h.IsDeleted = model.SeatReleased, true
		}
		if in.AdditionalMinutes != nil {
			if h.Status != model.SeatOnHold || h.IsDeleted {
				return newError(KindInvalidState, "only seats on hold can be extended")
			}
			expiry := now.Add(time.Duration(*in.AdditionalMinutes) * time.Minute)
			if err := l.seats.ExtendTx(ctx, tx, []uint64{h.ID}, expiry); err != nil {
				return err
			}
			h.HoldExpiryTime = &expiry
		}
		hold = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	if freed {
		l.capacity.Decrement(ctx, hold.ShowtimeID, 1)
	}
	l.log.Info("seat updated", zap.Uint64("seat_id", seatID), zap.String("status", string(hold.Status)))
	return hold, nil
}

// ReleaseSeat releases and soft-deletes one hold.
func (l *SeatLedger) ReleaseSeat(ctx context.Context, seatID uint64) (*model.SeatHold, error) {
	released := model.SeatReleased
	return l.UpdateSeat(ctx, seatID, UpdateSeatInput{Status: &released})
}

// SweepExpired releases every hold that expired at now, one batch per
// transaction, and returns the released holds.
func (l *SeatLedger) SweepExpired(ctx context.Context, now time.Time) ([]model.SeatHold, error) {
	var all []model.SeatHold
	for {
		var batch []model.SeatHold
		err := l.tx.WithTx(ctx, func(tx *sql.Tx) error {
			var err error
			batch, err = l.seats.ListExpiredTx(ctx, tx, 0, now, sweepBatch)
			if err != nil || len(batch) == 0 {
				return err
			}
			return l.seats.MarkTx(ctx, tx, holdIDs(batch), model.SeatReleased)
		})
		if err != nil {
			return all, err
		}
		all = append(all, batch...)
		if len(batch) < sweepBatch {
			return all, nil
		}
	}
}
