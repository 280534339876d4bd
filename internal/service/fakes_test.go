package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-booking-service/internal/config"
	"github.com/iliyamo/cinema-booking-service/internal/database"
	"github.com/iliyamo/cinema-booking-service/internal/model"
	"github.com/iliyamo/cinema-booking-service/internal/repository"
)

// memDB is an in-memory stand-in for the three tables.  WithTx snapshots
// the state and restores it when the unit of work fails, which makes
// rollbacks observable in tests.  The *sql.Tx handed to stores is nil.
type memDB struct {
	bookings map[uint64]model.Booking
	payments map[uint64]model.Payment
	holds    map[uint64]model.SeatHold
	seq      uint64

	commitErr error // forces the next commits to fail
	claimErr  error // returned by the next seat inserts
	lockErr   error // returned by the next locking seat reads
	now       func() time.Time
}

type memState struct {
	bookings map[uint64]model.Booking
	payments map[uint64]model.Payment
	holds    map[uint64]model.SeatHold
}

func newMemDB(now func() time.Time) *memDB {
	return &memDB{
		bookings: map[uint64]model.Booking{},
		payments: map[uint64]model.Payment{},
		holds:    map[uint64]model.SeatHold{},
		now:      now,
	}
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (m *memDB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	snap := memState{copyMap(m.bookings), copyMap(m.payments), copyMap(m.holds)}
	err := fn(nil)
	if err == nil && m.commitErr != nil {
		err = fmt.Errorf("%w: %w", database.ErrCommit, m.commitErr)
	}
	if err != nil {
		m.bookings, m.payments, m.holds = snap.bookings, snap.payments, snap.holds
	}
	return err
}

func (m *memDB) nextID() uint64 { m.seq++; return m.seq }

func sortHolds(hs []model.SeatHold) []model.SeatHold {
	sort.Slice(hs, func(i, j int) bool {
		if hs[i].Row != hs[j].Row {
			return hs[i].Row < hs[j].Row
		}
		if hs[i].Col != hs[j].Col {
			return hs[i].Col < hs[j].Col
		}
		return hs[i].ID < hs[j].ID
	})
	return hs
}

func live(h model.SeatHold) bool { return !h.IsDeleted && h.Status.Active() }

type memSeats struct{ db *memDB }

func (s memSeats) FindActiveForUpdateTx(_ context.Context, _ *sql.Tx, showtimeID uint64, seats []model.Seat) ([]model.SeatHold, error) {
	if s.db.lockErr != nil {
		return nil, s.db.lockErr
	}
	want := map[model.Seat]bool{}
	for _, st := range seats {
		want[st] = true
	}
	var out []model.SeatHold
	for _, h := range s.db.holds {
		if h.ShowtimeID == showtimeID && live(h) && want[h.Seat()] {
			out = append(out, h)
		}
	}
	return sortHolds(out), nil
}

func (s memSeats) CreateMultipleTx(_ context.Context, _ *sql.Tx, holds []model.SeatHold) error {
	if s.db.claimErr != nil {
		return s.db.claimErr
	}
	for i, h := range holds {
		for _, other := range s.db.holds {
			if other.ShowtimeID == h.ShowtimeID && other.Seat() == h.Seat() && live(other) {
				return fmt.Errorf("%w: seat %s", repository.ErrDuplicate, h.Seat().Label())
			}
		}
		h.ID = s.db.nextID()
		h.CreatedAt, h.UpdatedAt = s.db.now(), s.db.now()
		s.db.holds[h.ID] = h
		holds[i] = h
	}
	return nil
}

func (s memSeats) ListByBookingTx(_ context.Context, _ *sql.Tx, bookingID uint64) ([]model.SeatHold, error) {
	var out []model.SeatHold
	for _, h := range s.db.holds {
		if h.BookingID == bookingID && !h.IsDeleted {
			out = append(out, h)
		}
	}
	return sortHolds(out), nil
}

func (s memSeats) ListActiveByShowtimeTx(_ context.Context, _ *sql.Tx, showtimeID uint64) ([]model.SeatHold, error) {
	var out []model.SeatHold
	for _, h := range s.db.holds {
		if h.ShowtimeID == showtimeID && live(h) {
			out = append(out, h)
		}
	}
	return sortHolds(out), nil
}

func (s memSeats) ListExpiredTx(_ context.Context, _ *sql.Tx, showtimeID uint64, now time.Time, limit int) ([]model.SeatHold, error) {
	var out []model.SeatHold
	for _, h := range s.db.holds {
		if showtimeID != 0 && h.ShowtimeID != showtimeID {
			continue
		}
		if !h.IsDeleted && h.Expired(now) {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s memSeats) GetForUpdateTx(_ context.Context, _ *sql.Tx, seatID uint64) (*model.SeatHold, error) {
	h, ok := s.db.holds[seatID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &h, nil
}

func (s memSeats) MarkTx(_ context.Context, _ *sql.Tx, seatIDs []uint64, status model.SeatStatus) error {
	for _, id := range seatIDs {
		h := s.db.holds[id]
		h.Status = status
		switch status {
		case model.SeatReleased:
			h.IsDeleted = true
		case model.SeatBooked:
			h.HoldExpiryTime = nil
		}
		s.db.holds[id] = h
	}
	return nil
}

func (s memSeats) ExtendTx(_ context.Context, _ *sql.Tx, seatIDs []uint64, expiry time.Time) error {
	for _, id := range seatIDs {
		h := s.db.holds[id]
		if h.Status == model.SeatOnHold && !h.IsDeleted {
			e := expiry
			h.HoldExpiryTime = &e
			s.db.holds[id] = h
		}
	}
	return nil
}

type memBookings struct{ db *memDB }

func (s memBookings) CreateTx(_ context.Context, _ *sql.Tx, b *model.Booking) error {
	b.ID = s.db.nextID()
	b.CreatedAt, b.UpdatedAt = s.db.now(), s.db.now()
	stored := *b
	stored.Seats = nil
	s.db.bookings[b.ID] = stored
	return nil
}

func (s memBookings) GetByID(_ context.Context, id uint64) (*model.Booking, error) {
	b, ok := s.db.bookings[id]
	if !ok || b.IsDeleted {
		return nil, repository.ErrNotFound
	}
	return &b, nil
}

func (s memBookings) GetForUpdateTx(_ context.Context, _ *sql.Tx, id uint64) (*model.Booking, error) {
	b, ok := s.db.bookings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &b, nil
}

func (s memBookings) GetByPaymentTx(_ context.Context, _ *sql.Tx, paymentID uint64) (*model.Booking, error) {
	for _, b := range s.db.bookings {
		if b.PaymentID != nil && *b.PaymentID == paymentID {
			return &b, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s memBookings) ListByUser(_ context.Context, userID uint64, includeCancelled bool) ([]model.Booking, error) {
	var out []model.Booking
	for _, b := range s.db.bookings {
		if b.UserID != userID || b.IsDeleted || (!includeCancelled && b.Status == model.BookingCancelled) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].BookingTime.Equal(out[j].BookingTime) {
			return out[i].BookingTime.After(out[j].BookingTime)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s memBookings) UpdateStatusTx(_ context.Context, _ *sql.Tx, id uint64, status model.BookingStatus) error {
	b := s.db.bookings[id]
	b.Status = status
	s.db.bookings[id] = b
	return nil
}

func (s memBookings) SetPaymentTx(_ context.Context, _ *sql.Tx, id, paymentID uint64) error {
	for _, other := range s.db.bookings {
		if other.ID != id && other.PaymentID != nil && *other.PaymentID == paymentID {
			return fmt.Errorf("%w: payment %d", repository.ErrDuplicate, paymentID)
		}
	}
	b := s.db.bookings[id]
	pid := paymentID
	b.PaymentID = &pid
	s.db.bookings[id] = b
	return nil
}

func (s memBookings) SoftDeleteTx(_ context.Context, _ *sql.Tx, id uint64) error {
	b := s.db.bookings[id]
	b.IsDeleted = true
	s.db.bookings[id] = b
	return nil
}

type memPayments struct{ db *memDB }

func (s memPayments) CreateTx(_ context.Context, _ *sql.Tx, p *model.Payment) error {
	p.ID = s.db.nextID()
	p.CreatedAt, p.UpdatedAt = s.db.now(), s.db.now()
	s.db.payments[p.ID] = *p
	return nil
}

func (s memPayments) GetByID(_ context.Context, id uint64) (*model.Payment, error) {
	p, ok := s.db.payments[id]
	if !ok || p.IsDeleted {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (s memPayments) GetForUpdateTx(_ context.Context, _ *sql.Tx, id uint64) (*model.Payment, error) {
	p, ok := s.db.payments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (s memPayments) UpdateStatusTx(_ context.Context, _ *sql.Tx, id uint64, status model.PaymentStatus) error {
	p := s.db.payments[id]
	p.Status = status
	s.db.payments[id] = p
	return nil
}

func (s memPayments) UpdateAmountTx(_ context.Context, _ *sql.Tx, id uint64, amount model.Money) error {
	p := s.db.payments[id]
	p.Amount = amount
	s.db.payments[id] = p
	return nil
}

func (s memPayments) SoftDeleteTx(_ context.Context, _ *sql.Tx, id uint64) error {
	p := s.db.payments[id]
	p.IsDeleted = true
	s.db.payments[id] = p
	return nil
}

type showtimesMock struct{ mock.Mock }

func (m *showtimesMock) GetShowtime(ctx context.Context, id uint64) (*model.Showtime, error) {
	args := m.Called(ctx, id)
	st, _ := args.Get(0).(*model.Showtime)
	return st, args.Error(1)
}

type counterMock struct{ mock.Mock }

func (m *counterMock) AdjustSeats(ctx context.Context, showtimeID uint64, delta int) error {
	return m.Called(ctx, showtimeID, delta).Error(0)
}

type queueMock struct{ mock.Mock }

func (m *queueMock) EnqueueConfirmation(ctx context.Context, task model.ConfirmationTask) error {
	return m.Called(ctx, task).Error(0)
}

var testStart = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	now time.Time

	db        *memDB
	showtimes *showtimesMock
	counter   *counterMock
	queue     *queueMock

	ledger   *SeatLedger
	bookings *BookingService
	payments *PaymentService
}

func testBookingConfig() config.BookingConfig {
	return config.BookingConfig{
		HoldDuration:         10 * time.Minute,
		MaxSeatsPerBooking:   10,
		DefaultExtendMinutes: 5,
		MaxExtendMinutes:     30,
		PricePerSeat:         model.Cents(1000),
		PaymentAmountLimit:   model.Cents(10000000),
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{now: testStart, showtimes: &showtimesMock{}, counter: &counterMock{}, queue: &queueMock{}}
	h.db = newMemDB(h.clock)
	cfg := testBookingConfig()

	capacity := NewCapacity(h.counter, time.Second, nil)
	h.ledger = NewSeatLedger(memSeats{h.db}, h.db, capacity, cfg, nil)
	h.ledger.now = h.clock
	h.bookings = NewBookingService(h.db, memBookings{h.db}, memPayments{h.db}, h.ledger, capacity, h.showtimes, h.queue, cfg, nil)
	h.bookings.now = h.clock
	h.payments = NewPaymentService(h.db, memPayments{h.db}, memBookings{h.db}, h.bookings, cfg, nil)
	h.queue.On("EnqueueConfirmation", mock.Anything, mock.Anything).Return(nil).Maybe()
	return h
}

func (h *harness) clock() time.Time { return h.now }

func (h *harness) advance(d time.Duration) { h.now = h.now.Add(d) }

// showtime registers showtime id with the theatre mock.
func (h *harness) showtime(id uint64, price *model.Money) {
	h.showtimes.On("GetShowtime", mock.Anything, id).
		Return(&model.Showtime{ID: id, MovieID: 3, StartTime: testStart.Add(6 * time.Hour), Price: price}, nil)
}

func (h *harness) book(t *testing.T, showtimeID uint64, seats ...string) *model.Booking {
	t.Helper()
	b, err := h.bookings.Create(context.Background(), CreateBookingInput{UserID: 42, ShowtimeID: showtimeID, Seats: parseSeats(seats...)})
	require.NoError(t, err)
	return b
}

// completedPayment stores a completed, unlinked payment.
func (h *harness) completedPayment(amount model.Money) uint64 {
	id := h.db.nextID()
	h.db.payments[id] = model.Payment{ID: id, Amount: amount, Status: model.PaymentCompleted}
	return id
}

func (h *harness) holdsOf(bookingID uint64) []model.SeatHold {
	var out []model.SeatHold
	for _, hold := range h.db.holds {
		if hold.BookingID == bookingID {
			out = append(out, hold)
		}
	}
	return sortHolds(out)
}

func parseSeats(labels ...string) []model.Seat {
	seats := make([]model.Seat, 0, len(labels))
	for _, l := range labels {
		var col int
		_, _ = fmt.Sscanf(l[1:], "%d", &col)
		seats = append(seats, model.Seat{Row: l[:1], Col: col})
	}
	return seats
}
