package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBookingStatus_Transition(t *testing.T) {
	tests := []struct {
		from, to BookingStatus
		wantErr  error
	}{
		{BookingPending, BookingConfirmed, nil},
		{BookingPending, BookingCancelled, nil},
		{BookingPending, BookingFailed, nil},
		{BookingConfirmed, BookingCancelled, nil},
		{BookingConfirmed, BookingFailed, ErrIllegalTransition},
		{BookingConfirmed, BookingPending, ErrIllegalTransition},
		{BookingCancelled, BookingConfirmed, ErrIllegalTransition},
		{BookingFailed, BookingPending, ErrIllegalTransition},
		{BookingCancelled, BookingCancelled, ErrAlreadyInState},
		{BookingFailed, BookingFailed, ErrAlreadyInState},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := tt.from.Transition(tt.to)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPaymentStatus_Transition(t *testing.T) {
	assert.NoError(t, PaymentPending.Transition(PaymentCompleted))
	assert.NoError(t, PaymentPending.Transition(PaymentFailed))
	assert.NoError(t, PaymentCompleted.Transition(PaymentRefunded))

	assert.ErrorIs(t, PaymentPending.Transition(PaymentRefunded), ErrIllegalTransition)
	assert.ErrorIs(t, PaymentFailed.Transition(PaymentCompleted), ErrIllegalTransition)
	assert.ErrorIs(t, PaymentRefunded.Transition(PaymentCompleted), ErrIllegalTransition)
	assert.ErrorIs(t, PaymentCompleted.Transition(PaymentCompleted), ErrAlreadyInState)
}

func TestSeatStatus_Transition(t *testing.T) {
	assert.NoError(t, SeatOnHold.Transition(SeatBooked))
	assert.NoError(t, SeatOnHold.Transition(SeatReleased))
	assert.NoError(t, SeatBooked.Transition(SeatReleased))

	assert.ErrorIs(t, SeatBooked.Transition(SeatOnHold), ErrIllegalTransition)
	assert.ErrorIs(t, SeatReleased.Transition(SeatOnHold), ErrIllegalTransition)
	assert.ErrorIs(t, SeatReleased.Transition(SeatReleased), ErrAlreadyInState)

	assert.True(t, SeatOnHold.Active())
	assert.True(t, SeatBooked.Active())
	assert.False(t, SeatReleased.Active())
	assert.False(t, SeatStatus("reserved").Valid())
}
