package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/cinema-booking-service/internal/client"
	"github.com/iliyamo/cinema-booking-service/internal/config"
	"github.com/iliyamo/cinema-booking-service/internal/model"
	"github.com/iliyamo/cinema-booking-service/internal/repository"
)

// CreateBookingInput is the request to hold seats for a user.
type CreateBookingInput struct {
	UserID     uint64
	ShowtimeID uint64
	Seats      []model.Seat
	CreatedBy  *uint64
}

// UpdateBookingInput carries the optional fields of a generic update.  When
// both are set the payment is linked before the status change runs.
type UpdateBookingInput struct {
	Status    *model.BookingStatus
	PaymentID *uint64
}

// SweepResult summarizes one expiry sweep.
type SweepResult struct {
	Released  int `json:"released"`
	Cancelled int `json:"cancelled"`
}

// Transition is the outcome of a booking change made inside a transaction.
// It records the remote work still owed once the transaction has ended;
// Settle performs it.
type Transition struct {
	Booking *model.Booking

	incremented int         // seats added to the remote counter inside the transaction
	freed       int         // booked seats released inside the transaction
	confirmed   bool        // booking moved to confirmed
	amount      model.Money // amount of the confirming payment
}

// BookingService drives the booking lifecycle.  Every operation runs in one
// transaction; remote increments happen last inside it, remote decrements
// and notifications after it commits.
type BookingService struct {
	tx        TxRunner
	bookings  BookingStore
	payments  PaymentStore
	ledger    *SeatLedger
	capacity  *Capacity
	showtimes ShowtimeSource
	queue     ConfirmationQueue
	cfg       config.BookingConfig
	log       *zap.Logger
	now       func() time.Time
}

// NewBookingService wires a BookingService.  queue may be nil, in which case
// no confirmation tasks are produced.
func NewBookingService(tx TxRunner, bookings BookingStore, payments PaymentStore, ledger *SeatLedger,
	capacity *Capacity, showtimes ShowtimeSource, queue ConfirmationQueue, cfg config.BookingConfig, log *zap.Logger) *BookingService {
	if log == nil {
		log = zap.NewNop()
	}
	return &BookingService{
		tx:        tx,
		bookings:  bookings,
		payments:  payments,
		ledger:    ledger,
		capacity:  capacity,
		showtimes: showtimes,
		queue:     queue,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

func (s *BookingService) clock() time.Time { return s.now().UTC() }

// lockBooking loads and locks a non-deleted booking.
func (s *BookingService) lockBooking(ctx context.Context, tx *sql.Tx, id uint64) (*model.Booking, error) {
	b, err := s.bookings.GetForUpdateTx(ctx, tx, id)
	if err != nil {
		return nil, notFound(err, "booking", id)
	}
	if b.IsDeleted {
		return nil, notFound(repository.ErrNotFound, "booking", id)
	}
	return b, nil
}

func (s *BookingService) loadSeatsTx(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
	holds, err := s.ledger.ActiveHoldsTx(ctx, tx, b.ID)
	if err != nil {
		return err
	}
	if holds == nil {
		holds = []model.SeatHold{}
	}
	b.Seats = holds
	return nil
}

func (s *BookingService) showtime(ctx context.Context, id uint64) (*model.Showtime, error) {
	st, err := s.showtimes.GetShowtime(ctx, id)
	if err != nil {
		if errors.Is(err, client.ErrNotFound) {
			return nil, &Error{Kind: KindShowtimeNotFound, Message: "showtime not found", Err: err}
		}
		return nil, upstream(err, "failed to look up showtime")
	}
	return st, nil
}

// Settle performs the remote work a Transition owes.  When err is non-nil
// the transaction rolled back, so an increment already sent is compensated.
// Otherwise freed seats are returned to the remote counter and a
// confirmation task is enqueued.  Failures here are logged only.
func (s *BookingService) Settle(ctx context.Context, tr *Transition, err error) {
	if tr == nil || tr.Booking == nil {
		return
	}
	b := tr.Booking
	if err != nil {
		if tr.incremented > 0 {
			s.log.Warn("rolling back remote seat increment", zap.Uint64("booking_id", b.ID), zap.Error(err))
			s.capacity.Decrement(ctx, b.ShowtimeID, tr.incremented)
		}
		return
	}
	if tr.freed > 0 {
		s.capacity.Decrement(ctx, b.ShowtimeID, tr.freed)
	}
	if tr.confirmed {
		s.enqueueConfirmation(ctx, tr)
	}
}

func (s *BookingService) enqueueConfirmation(ctx context.Context, tr *Transition) {
	if s.queue == nil {
		return
	}
	b := tr.Booking
	labels := make([]string, 0, len(b.Seats))
	for _, h := range b.Seats {
		labels = append(labels, h.Seat().Label())
	}
	task := model.ConfirmationTask{
		BookingID:   b.ID,
		UserID:      b.UserID,
		ShowtimeID:  b.ShowtimeID,
		Amount:      tr.amount,
		Seats:       labels,
		ConfirmedAt: s.clock(),
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.queue.EnqueueConfirmation(ctx, task); err != nil {
		s.log.Warn("enqueue confirmation failed", zap.Uint64("booking_id", b.ID), zap.Error(err))
	}
}

// run executes step in a transaction and settles the resulting Transition.
func (s *BookingService) run(ctx context.Context, step func(tx *sql.Tx) (*Transition, error)) (*model.Booking, error) {
	var tr *Transition
	err := s.tx.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		tr, err = step(tx)
		return err
	})
	s.Settle(ctx, tr, err)
	if err != nil {
		return nil, err
	}
	return tr.Booking, nil
}

// Create validates the request, checks the showtime exists and claims the
// seats for a new pending booking, all or nothing.
func (s *BookingService) Create(ctx context.Context, in CreateBookingInput) (*model.Booking, error) {
	if in.UserID == 0 {
		return nil, Validation("user_id", "user_id is required")
	}
	if in.ShowtimeID == 0 {
		return nil, Validation("showtime_id", "showtime_id is required")
	}
	if err := ValidateSeats(in.Seats, s.cfg.MaxSeatsPerBooking); err != nil {
		return nil, err
	}
	if _, err := s.showtime(ctx, in.ShowtimeID); err != nil {
		return nil, err
	}

	now := s.clock()
	b := &model.Booking{
		UserID:      in.UserID,
		ShowtimeID:  in.ShowtimeID,
		BookingTime: now,
		Status:      model.BookingPending,
		CreatedBy:   in.CreatedBy,
	}
	err := s.tx.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.ledger.CheckAvailabilityTx(ctx, tx, in.ShowtimeID, in.Seats, now); err != nil {
			return err
		}
		if err := s.bookings.CreateTx(ctx, tx, b); err != nil {
			return err
		}
		holds, err := s.ledger.ClaimTx(ctx, tx, b, in.Seats, now)
		if err != nil {
			return err
		}
		b.Seats = holds
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("booking created",
		zap.Uint64("booking_id", b.ID), zap.Uint64("user_id", b.UserID),
		zap.Uint64("showtime_id", b.ShowtimeID), zap.Int("seats", len(b.Seats)))
	return b, nil
}

// Get returns a booking with its live seat holds; expired holds are
// released on the way.
func (s *BookingService) Get(ctx context.Context, id uint64) (*model.Booking, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "booking", id)
	}
	err = s.tx.WithTx(ctx, func(tx *sql.Tx) error {
		holds, err := s.ledger.HoldsTx(ctx, tx, b.ID, s.clock())
		if err != nil {
			return err
		}
		b.Seats = holds
		return nil
	})
	if err != nil {
		return nil, err
	}
	if b.Seats == nil {
		b.Seats = []model.SeatHold{}
	}
	return b, nil
}

// ListByUser returns a user's bookings, newest first.
func (s *BookingService) ListByUser(ctx context.Context, userID uint64, includeCancelled bool) ([]model.Booking, error) {
	list, err := s.bookings.ListByUser(ctx, userID, includeCancelled)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return []model.Booking{}, nil
	}
	now := s.clock()
	err = s.tx.WithTx(ctx, func(tx *sql.Tx) error {
		for i := range list {
			holds, err := s.ledger.HoldsTx(ctx, tx, list[i].ID, now)
			if err != nil {
				return err
			}
			if holds == nil {
				holds = []model.SeatHold{}
			}
			list[i].Seats = holds
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// linkPaymentTx links p to b.  The payment must not back another booking and
// b must not already carry a different payment.
func (s *BookingService) linkPaymentTx(ctx context.Context, tx *sql.Tx, b *model.Booking, p *model.Payment) error {
	if b.PaymentID != nil {
		if *b.PaymentID == p.ID {
			return nil
		}
		return newError(KindPaymentAlreadyLinked, "booking %d already has payment %d", b.ID, *b.PaymentID)
	}
	owner, err := s.bookings.GetByPaymentTx(ctx, tx, p.ID)
	switch {
	case err == nil && owner.ID != b.ID:
		return newError(KindPaymentAlreadyLinked, "payment %d is already linked to booking %d", p.ID, owner.ID)
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return err
	}
	if err := s.bookings.SetPaymentTx(ctx, tx, b.ID, p.ID); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return &Error{Kind: KindPaymentAlreadyLinked, Message: "payment is already linked to another booking", Err: err}
		}
		return err
	}
	id := p.ID
	b.PaymentID = &id
	return nil
}

// ConfirmTx confirms a pending booking against a completed payment.  The
// remote increment is the last step, so its failure rolls back everything
// staged before it.
func (s *BookingService) ConfirmTx(ctx context.Context, tx *sql.Tx, id, paymentID uint64) (*Transition, error) {
	b, err := s.lockBooking(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := b.Status.Transition(model.BookingConfirmed); err != nil {
		return nil, stateError(err)
	}
	p, err := s.payments.GetForUpdateTx(ctx, tx, paymentID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if err != nil || p.IsDeleted {
		return nil, newError(KindPaymentNotCompleted, "payment %d not found", paymentID)
	}
	if p.Status != model.PaymentCompleted {
		return nil, newError(KindPaymentNotCompleted, "payment %d is %s, not completed", p.ID, p.Status)
	}
	if err := s.linkPaymentTx(ctx, tx, b, p); err != nil {
		return nil, err
	}
	count, err := s.ledger.ConfirmAllTx(ctx, tx, b.ID, s.clock())
	if err != nil {
		return nil, err
	}
	if err := s.bookings.UpdateStatusTx(ctx, tx, b.ID, model.BookingConfirmed); err != nil {
		return nil, err
	}
	if err := s.capacity.Increment(ctx, b.ShowtimeID, count); err != nil {
		return nil, err
	}
	b.Status = model.BookingConfirmed
	if err := s.loadSeatsTx(ctx, tx, b); err != nil {
		// the increment was sent; hand it back for compensation
		return &Transition{Booking: b, incremented: count}, err
	}
	s.log.Info("booking confirmed",
		zap.Uint64("booking_id", b.ID), zap.Uint64("payment_id", p.ID), zap.Int("seats", count))
	return &Transition{Booking: b, incremented: count, confirmed: true, amount: p.Amount}, nil
}

// Confirm confirms booking id with paymentID.
func (s *BookingService) Confirm(ctx context.Context, id, paymentID uint64) (*model.Booking, error) {
	return s.run(ctx, func(tx *sql.Tx) (*Transition, error) {
		return s.ConfirmTx(ctx, tx, id, paymentID)
	})
}

// refundLinkedTx refunds the booking's payment when it is completed.
func (s *BookingService) refundLinkedTx(ctx context.Context, tx *sql.Tx, paymentID uint64) error {
	p, err := s.payments.GetForUpdateTx(ctx, tx, paymentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if p.IsDeleted || p.Status != model.PaymentCompleted {
		return nil
	}
	if err := s.payments.UpdateStatusTx(ctx, tx, p.ID, model.PaymentRefunded); err != nil {
		return err
	}
	s.log.Info("payment refunded", zap.Uint64("payment_id", p.ID))
	return nil
}

// releaseTx moves b to status after releasing its seats.
func (s *BookingService) releaseTx(ctx context.Context, tx *sql.Tx, b *model.Booking, status model.BookingStatus) (*Transition, error) {
	if err := b.Status.Transition(status); err != nil {
		return nil, stateError(err)
	}
	freed, err := s.ledger.ReleaseAllTx(ctx, tx, b.ID)
	if err != nil {
		return nil, err
	}
	if err := s.bookings.UpdateStatusTx(ctx, tx, b.ID, status); err != nil {
		return nil, err
	}
	b.Status = status
	b.Seats = []model.SeatHold{}
	return &Transition{Booking: b, freed: freed}, nil
}

// CancelTx cancels a pending or confirmed booking, releasing its seats and
// refunding a completed linked payment.
func (s *BookingService) CancelTx(ctx context.Context, tx *sql.Tx, id uint64) (*Transition, error) {
	b, err := s.lockBooking(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	tr, err := s.releaseTx(ctx, tx, b, model.BookingCancelled)
	if err != nil {
		return nil, err
	}
	if b.PaymentID != nil {
		if err := s.refundLinkedTx(ctx, tx, *b.PaymentID); err != nil {
			return nil, err
		}
	}
	s.log.Info("booking cancelled", zap.Uint64("booking_id", b.ID), zap.Int("booked_seats_freed", tr.freed))
	return tr, nil
}

// Cancel cancels booking id.
func (s *BookingService) Cancel(ctx context.Context, id uint64) (*model.Booking, error) {
	return s.run(ctx, func(tx *sql.Tx) (*Transition, error) { return s.CancelTx(ctx, tx, id) })
}

// FailTx marks a pending booking failed and releases its seats.
func (s *BookingService) FailTx(ctx context.Context, tx *sql.Tx, id uint64) (*Transition, error) {
	b, err := s.lockBooking(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	tr, err := s.releaseTx(ctx, tx, b, model.BookingFailed)
	if err != nil {
		return nil, err
	}
	s.log.Info("booking failed", zap.Uint64("booking_id", b.ID))
	return tr, nil
}

// Fail marks booking id failed.
func (s *BookingService) Fail(ctx context.Context, id uint64) (*model.Booking, error) {
	return s.run(ctx, func(tx *sql.Tx) (*Transition, error) { return s.FailTx(ctx, tx, id) })
}

// Delete soft-deletes a booking and releases its seats.  The status is kept.
func (s *BookingService) Delete(ctx context.Context, id uint64) error {
	_, err := s.run(ctx, func(tx *sql.Tx) (*Transition, error) {
		b, err := s.bookings.GetForUpdateTx(ctx, tx, id)
		if err != nil {
			return nil, notFound(err, "booking", id)
		}
		if b.IsDeleted {
			return nil, newError(KindAlreadyInState, "booking %d is already deleted", id)
		}
		freed, err := s.ledger.ReleaseAllTx(ctx, tx, b.ID)
		if err != nil {
			return nil, err
		}
		if err := s.bookings.SoftDeleteTx(ctx, tx, b.ID); err != nil {
			return nil, err
		}
		b.IsDeleted = true
		b.Seats = []model.SeatHold{}
		s.log.Info("booking deleted", zap.Uint64("booking_id", b.ID))
		return &Transition{Booking: b, freed: freed}, nil
	})
	return err
}

// Update links a payment and/or routes a status change to confirm, cancel
// or fail, in one transaction.
func (s *BookingService) Update(ctx context.Context, id uint64, in UpdateBookingInput) (*model.Booking, error) {
	if in.Status == nil && in.PaymentID == nil {
		return nil, Validation("", "status or payment_id is required")
	}
	if in.Status != nil && !in.Status.Valid() {
		return nil, Validation("status", "unknown booking status %q", *in.Status)
	}
	return s.run(ctx, func(tx *sql.Tx) (*Transition, error) {
		b, err := s.lockBooking(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if in.PaymentID != nil {
			if b.Status != model.BookingPending {
				return nil, newError(KindInvalidState, "payment can only be linked to a pending booking")
			}
			p, err := s.payments.GetForUpdateTx(ctx, tx, *in.PaymentID)
			if err == nil && p.IsDeleted {
				err = repository.ErrNotFound
			}
			if err != nil {
				return nil, notFound(err, "payment", *in.PaymentID)
			}
			if err := s.linkPaymentTx(ctx, tx, b, p); err != nil {
				return nil, err
			}
		}
		if in.Status == nil {
			if err := s.loadSeatsTx(ctx, tx, b); err != nil {
				return nil, err
			}
			return &Transition{Booking: b}, nil
		}
		switch *in.Status {
		case model.BookingConfirmed:
			if b.PaymentID == nil {
				return nil, newError(KindPaymentNotCompleted, "booking %d has no linked payment", b.ID)
			}
			return s.ConfirmTx(ctx, tx, b.ID, *b.PaymentID)
		case model.BookingCancelled:
			return s.CancelTx(ctx, tx, b.ID)
		case model.BookingFailed:
			return s.FailTx(ctx, tx, b.ID)
		default:
			return nil, stateError(b.Status.Transition(*in.Status))
		}
	})
}

// Complete charges and confirms a pending booking in one step.  The amount
// is the seat count times the showtime price, or the configured price per
// seat when the theatre reports none.  A pending linked payment is
// completed; otherwise a new payment is created.
func (s *BookingService) Complete(ctx context.Context, id uint64) (*model.Booking, *model.Payment, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, nil, notFound(err, "booking", id)
	}
	if err := b.Status.Transition(model.BookingConfirmed); err != nil {
		return nil, nil, stateError(err)
	}
	st, err := s.showtime(ctx, b.ShowtimeID)
	if err != nil {
		return nil, nil, err
	}
	price := s.cfg.PricePerSeat
	if st.Price != nil && *st.Price > 0 {
		price = *st.Price
	}

	var payment *model.Payment
	booking, err := s.run(ctx, func(tx *sql.Tx) (*Transition, error) {
		b, err := s.lockBooking(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		holds, err := s.ledger.ActiveHoldsTx(ctx, tx, b.ID)
		if err != nil {
			return nil, err
		}
		if len(holds) == 0 {
			return nil, newError(KindInvalidState, "booking %d has no active seats", b.ID)
		}
		p, err := s.chargeTx(ctx, tx, b, price.Mul(len(holds)))
		if err != nil {
			return nil, err
		}
		payment = p
		return s.ConfirmTx(ctx, tx, b.ID, p.ID)
	})
	if err != nil {
		return nil, nil, err
	}
	return booking, payment, nil
}

// chargeTx returns a completed payment for b, completing the linked one or
// creating a new one for amount.
func (s *BookingService) chargeTx(ctx context.Context, tx *sql.Tx, b *model.Booking, amount model.Money) (*model.Payment, error) {
	if b.PaymentID != nil {
		p, err := s.payments.GetForUpdateTx(ctx, tx, *b.PaymentID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		if err != nil || p.IsDeleted {
			return nil, newError(KindPaymentNotCompleted, "linked payment %d not found", *b.PaymentID)
		}
		switch p.Status {
		case model.PaymentCompleted:
			return p, nil
		case model.PaymentPending:
			if err := s.payments.UpdateStatusTx(ctx, tx, p.ID, model.PaymentCompleted); err != nil {
				return nil, err
			}
			p.Status = model.PaymentCompleted
			return p, nil
		default:
			return nil, newError(KindPaymentNotCompleted, "linked payment %d is %s", p.ID, p.Status)
		}
	}
	if err := checkAmount(amount, s.cfg.PaymentAmountLimit); err != nil {
		return nil, err
	}
	p := &model.Payment{Amount: amount, Status: model.PaymentPending, CreatedBy: b.CreatedBy}
	if err := s.payments.CreateTx(ctx, tx, p); err != nil {
		return nil, err
	}
	if err := s.payments.UpdateStatusTx(ctx, tx, p.ID, model.PaymentCompleted); err != nil {
		return nil, err
	}
	p.Status = model.PaymentCompleted
	return p, nil
}

// ExtendHold pushes the expiry of a pending booking's on_hold seats to now
// plus minutes.  Zero minutes selects the configured default.
func (s *BookingService) ExtendHold(ctx context.Context, id uint64, minutes int) ([]model.SeatHold, error) {
	if minutes == 0 {
		minutes = s.cfg.DefaultExtendMinutes
	}
	if minutes < 1 || minutes > s.cfg.MaxExtendMinutes {
		return nil, Validation("additional_minutes", "additional_minutes must be between 1 and %d", s.cfg.MaxExtendMinutes)
	}
	var holds []model.SeatHold
	err := s.tx.WithTx(ctx, func(tx *sql.Tx) error {
		b, err := s.lockBooking(ctx, tx, id)
		if err != nil {
			return err
		}
		if b.Status != model.BookingPending {
			return newError(KindInvalidState, "booking %d is %s; only pending bookings can be extended", b.ID, b.Status)
		}
		holds, err = s.ledger.ExtendTx(ctx, tx, b.ID, minutes, s.clock())
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("seat hold extended", zap.Uint64("booking_id", id), zap.Int("minutes", minutes))
	return holds, nil
}

// ReleaseExpiredHolds releases every expired hold, then cancels the pending
// bookings left without any live hold.
func (s *BookingService) ReleaseExpiredHolds(ctx context.Context) (SweepResult, error) {
	released, err := s.ledger.SweepExpired(ctx, s.clock())
	res := SweepResult{Released: len(released)}
	if err != nil {
		return res, err
	}

	seen := make(map[uint64]struct{})
	for _, h := range released {
		if _, ok := seen[h.BookingID]; ok {
			continue
		}
		seen[h.BookingID] = struct{}{}

		var tr *Transition
		err := s.tx.WithTx(ctx, func(tx *sql.Tx) error {
			b, err := s.lockBooking(ctx, tx, h.BookingID)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return nil
				}
				return err
			}
			if b.Status != model.BookingPending {
				return nil
			}
			holds, err := s.ledger.ActiveHoldsTx(ctx, tx, b.ID)
			if err != nil || len(holds) > 0 {
				return err
			}
			tr, err = s.CancelTx(ctx, tx, b.ID)
			return err
		})
		s.Settle(ctx, tr, err)
		if err != nil {
			s.log.Warn("cancel expired booking failed", zap.Uint64("booking_id", h.BookingID), zap.Error(err))
			continue
		}
		if tr != nil {
			res.Cancelled++
		}
	}
	return res, nil
}

// checkAmount enforces 0 < amount <= limit.
func checkAmount(amount, limit model.Money) error {
	if amount <= 0 {
		return newError(KindInvalidAmount, "amount must be greater than 0")
	}
	if limit > 0 && amount > limit {
		return newError(KindInvalidAmount, "amount exceeds the limit of %s", limit)
	}
	return nil
}
