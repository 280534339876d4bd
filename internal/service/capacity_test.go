package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-booking-service/internal/client"
)

func TestCapacity_Increment(t *testing.T) {
	counter := &counterMock{}
	c := NewCapacity(counter, time.Second, nil)

	require.NoError(t, c.Increment(context.Background(), 1, 0))
	counter.AssertNotCalled(t, "AdjustSeats", mock.Anything, mock.Anything, mock.Anything)

	counter.On("AdjustSeats", mock.Anything, uint64(1), 3).Return(nil).Once()
	require.NoError(t, c.Increment(context.Background(), 1, 3))

	counter.On("AdjustSeats", mock.Anything, uint64(2), 1).Return(&client.StatusError{Service: "theatre", StatusCode: 400}).Once()
	err := c.Increment(context.Background(), 2, 1)
	require.ErrorIs(t, err, ErrUpstreamError)
	assert.Contains(t, err.Error(), "400")

	counter.On("AdjustSeats", mock.Anything, uint64(3), 1).Return(errors.New("boom")).Once()
	assert.ErrorIs(t, c.Increment(context.Background(), 3, 1), ErrUpstreamError)
	counter.AssertExpectations(t)
}

func TestCapacity_DecrementIgnoresCallerCancellation(t *testing.T) {
	counter := &counterMock{}
	c := NewCapacity(counter, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	counter.On("AdjustSeats", mock.MatchedBy(func(ctx context.Context) bool {
		_, hasDeadline := ctx.Deadline()
		return ctx.Err() == nil && hasDeadline
	}), uint64(1), -2).Return(nil).Once()
	c.Decrement(ctx, 1, 2)

	counter.On("AdjustSeats", mock.Anything, uint64(1), -1).Return(client.ErrUnavailable).Once()
	c.Decrement(context.Background(), 1, 1)

	c.Decrement(context.Background(), 1, 0)
	counter.AssertExpectations(t)
	counter.AssertNumberOfCalls(t, "AdjustSeats", 2)
}
