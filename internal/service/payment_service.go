package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/iliyamo/cinema-booking-service/internal/config"
	"github.com/iliyamo/cinema-booking-service/internal/model"
	"github.com/iliyamo/cinema-booking-service/internal/repository"
)

// BookingTransitions is the part of the booking lifecycle a payment outcome
// drives.  *BookingService implements it.
type BookingTransitions interface {
	ConfirmTx(ctx context.Context, tx *sql.Tx, bookingID, paymentID uint64) (*Transition, error)
	FailTx(ctx context.Context, tx *sql.Tx, bookingID uint64) (*Transition, error)
	Settle(ctx context.Context, tr *Transition, err error)
}

// CreatePaymentInput is the request to open a payment, optionally bound to
// a booking.
type CreatePaymentInput struct {
	Amount    model.Money
	BookingID *uint64
	CreatedBy *uint64
}

// UpdatePaymentInput carries the optional fields of a generic update.
type UpdatePaymentInput struct {
	Status *model.PaymentStatus
	Amount *model.Money
}

// PaymentService owns payment records.  Settling or failing a payment
// linked to a booking moves the booking in the same transaction.
type PaymentService struct {
	tx       TxRunner
	payments PaymentStore
	bookings BookingStore
	booking  BookingTransitions
	limit    model.Money
	log      *zap.Logger
}

// NewPaymentService wires a PaymentService.
func NewPaymentService(tx TxRunner, payments PaymentStore, bookings BookingStore, booking BookingTransitions, cfg config.BookingConfig, log *zap.Logger) *PaymentService {
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentService{
		tx:       tx,
		payments: payments,
		bookings: bookings,
		booking:  booking,
		limit:    cfg.PaymentAmountLimit,
		log:      log,
	}
}

func (s *PaymentService) lockPayment(ctx context.Context, tx *sql.Tx, id uint64) (*model.Payment, error) {
	p, err := s.payments.GetForUpdateTx(ctx, tx, id)
	if err != nil {
		return nil, notFound(err, "payment", id)
	}
	if p.IsDeleted {
		return nil, notFound(repository.ErrNotFound, "payment", id)
	}
	return p, nil
}

// linkedBookingTx returns the non-deleted booking p is linked to, or nil.
func (s *PaymentService) linkedBookingTx(ctx context.Context, tx *sql.Tx, paymentID uint64) (*model.Booking, error) {
	b, err := s.bookings.GetByPaymentTx(ctx, tx, paymentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if b.IsDeleted {
		return nil, nil
	}
	return b, nil
}

// run locks payment id, applies step and settles any booking transition.
func (s *PaymentService) run(ctx context.Context, id uint64, step func(tx *sql.Tx, p *model.Payment) (*Transition, error)) (*model.Payment, error) {
	var (
		p  *model.Payment
		tr *Transition
	)
	err := s.tx.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		if p, err = s.lockPayment(ctx, tx, id); err != nil {
			return err
		}
		tr, err = step(tx, p)
		return err
	})
	if tr != nil {
		s.booking.Settle(ctx, tr, err)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Create opens a pending payment.  When BookingID is set the booking must be
// pending and without a payment; the link is written in the same
// transaction.
func (s *PaymentService) Create(ctx context.Context, in CreatePaymentInput) (*model.Payment, error) {
	if err := checkAmount(in.Amount, s.limit); err != nil {
		return nil, err
	}
	p := &model.Payment{Amount: in.Amount, Status: model.PaymentPending, CreatedBy: in.CreatedBy}
	err := s.tx.WithTx(ctx, func(tx *sql.Tx) error {
		var b *model.Booking
		if in.BookingID != nil {
			var err error
			b, err = s.bookings.GetForUpdateTx(ctx, tx, *in.BookingID)
			if err == nil && b.IsDeleted {
				err = repository.ErrNotFound
			}
			if err != nil {
				return notFound(err, "booking", *in.BookingID)
			}
			if b.PaymentID != nil {
				return newError(KindPaymentAlreadyLinked, "booking %d already has payment %d", b.ID, *b.PaymentID)
			}
			if b.Status != model.BookingPending {
				return newError(KindInvalidState, "booking %d is %s; payments can only be added to pending bookings", b.ID, b.Status)
			}
		}
		if err := s.payments.CreateTx(ctx, tx, p); err != nil {
			return err
		}
		if b == nil {
			return nil
		}
		if err := s.bookings.SetPaymentTx(ctx, tx, b.ID, p.ID); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return &Error{Kind: KindPaymentAlreadyLinked, Message: "payment is already linked", Err: err}
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("payment created", zap.Uint64("payment_id", p.ID), zap.Stringer("amount", p.Amount))
	return p, nil
}

// Get returns a non-deleted payment.
func (s *PaymentService) Get(ctx context.Context, id uint64) (*model.Payment, error) {
	p, err := s.payments.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "payment", id)
	}
	return p, nil
}

func (s *PaymentService) setStatusTx(ctx context.Context, tx *sql.Tx, p *model.Payment, status model.PaymentStatus) error {
	if err := p.Status.Transition(status); err != nil {
		return stateError(err)
	}
	if err := s.payments.UpdateStatusTx(ctx, tx, p.ID, status); err != nil {
		return err
	}
	p.Status = status
	return nil
}

// processTx completes p and confirms its booking.  A failed confirmation
// fails the whole step, so the payment is never left completed next to an
// unconfirmed booking.
func (s *PaymentService) processTx(ctx context.Context, tx *sql.Tx, p *model.Payment) (*Transition, error) {
	if err := s.setStatusTx(ctx, tx, p, model.PaymentCompleted); err != nil {
		return nil, err
	}
	b, err := s.linkedBookingTx(ctx, tx, p.ID)
	if err != nil || b == nil {
		return nil, err
	}
	return s.booking.ConfirmTx(ctx, tx, b.ID, p.ID)
}

// failTx fails p and, when its booking is still pending, the booking too.
func (s *PaymentService) failTx(ctx context.Context, tx *sql.Tx, p *model.Payment) (*Transition, error) {
	if err := s.setStatusTx(ctx, tx, p, model.PaymentFailed); err != nil {
		return nil, err
	}
	b, err := s.linkedBookingTx(ctx, tx, p.ID)
	if err != nil || b == nil || b.Status != model.BookingPending {
		return nil, err
	}
	return s.booking.FailTx(ctx, tx, b.ID)
}

// refundTx refunds a completed payment.  A confirmed booking backed by it
// stays confirmed; cancelling the booking is the way to give seats back.
func (s *PaymentService) refundTx(ctx context.Context, tx *sql.Tx, p *model.Payment) (*Transition, error) {
	if p.Status != model.PaymentCompleted {
		return nil, newError(KindNotRefundable, "payment %d is %s; only completed payments can be refunded", p.ID, p.Status)
	}
	return nil, s.setStatusTx(ctx, tx, p, model.PaymentRefunded)
}

// Process simulates gateway settlement of a pending payment.
func (s *PaymentService) Process(ctx context.Context, id uint64) (*model.Payment, error) {
	p, err := s.run(ctx, id, func(tx *sql.Tx, p *model.Payment) (*Transition, error) { return s.processTx(ctx, tx, p) })
	if err == nil {
		s.log.Info("payment completed", zap.Uint64("payment_id", id))
	}
	return p, err
}

// Fail marks a pending payment failed.
func (s *PaymentService) Fail(ctx context.Context, id uint64) (*model.Payment, error) {
	p, err := s.run(ctx, id, func(tx *sql.Tx, p *model.Payment) (*Transition, error) { return s.failTx(ctx, tx, p) })
	if err == nil {
		s.log.Info("payment failed", zap.Uint64("payment_id", id))
	}
	return p, err
}

// Refund refunds a completed payment.
func (s *PaymentService) Refund(ctx context.Context, id uint64) (*model.Payment, error) {
	p, err := s.run(ctx, id, func(tx *sql.Tx, p *model.Payment) (*Transition, error) { return s.refundTx(ctx, tx, p) })
	if err == nil {
		s.log.Info("payment refunded", zap.Uint64("payment_id", id))
	}
	return p, err
}

// Update changes the amount of a pending payment and/or routes a status
// change to process, fail or refund.
func (s *PaymentService) Update(ctx context.Context, id uint64, in UpdatePaymentInput) (*model.Payment, error) {
	if in.Status == nil && in.Amount == nil {
		return nil, Validation("", "status or amount is required")
	}
	if in.Status != nil && !in.Status.Valid() {
		return nil, Validation("status", "unknown payment status %q", *in.Status)
	}
	if in.Amount != nil {
		if err := checkAmount(*in.Amount, s.limit); err != nil {
			return nil, err
		}
	}
	return s.run(ctx, id, func(tx *sql.Tx, p *model.Payment) (*Transition, error) {
		if in.Amount != nil {
			if p.Status != model.PaymentPending {
				return nil, newError(KindInvalidState, "payment %d is %s; amount can only change while pending", p.ID, p.Status)
			}
			if err := s.payments.UpdateAmountTx(ctx, tx, p.ID, *in.Amount); err != nil {
				return nil, err
			}
			p.Amount = *in.Amount
		}
		if in.Status == nil {
			return nil, nil
		}
		switch *in.Status {
		case model.PaymentCompleted:
			return s.processTx(ctx, tx, p)
		case model.PaymentFailed:
			return s.failTx(ctx, tx, p)
		case model.PaymentRefunded:
			return s.refundTx(ctx, tx, p)
		default:
			return nil, stateError(p.Status.Transition(*in.Status))
		}
	})
}

// Delete soft-deletes a payment.  A payment still linked to a non-deleted
// booking cannot be deleted, whatever the booking's status, so that
// bookings never point at a deleted payment.
func (s *PaymentService) Delete(ctx context.Context, id uint64) error {
	return s.tx.WithTx(ctx, func(tx *sql.Tx) error {
		p, err := s.payments.GetForUpdateTx(ctx, tx, id)
		if err != nil {
			return notFound(err, "payment", id)
		}
		if p.IsDeleted {
			return newError(KindAlreadyInState, "payment %d is already deleted", id)
		}
		b, err := s.linkedBookingTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if b != nil {
			return newError(KindInvalidState, "payment %d is linked to %s booking %d", id, b.Status, b.ID)
		}
		if err := s.payments.SoftDeleteTx(ctx, tx, id); err != nil {
			return err
		}
		s.log.Info("payment deleted", zap.Uint64("payment_id", id))
		return nil
	})
}
