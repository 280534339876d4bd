package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iliyamo/cinema-booking-service/internal/model"
	"github.com/iliyamo/cinema-booking-service/internal/service"
)

type bookingsMock struct{ mock.Mock }

func (m *bookingsMock) Create(ctx context.Context, in service.CreateBookingInput) (*model.Booking, error) {
	args := m.Called(ctx, in)
	b, _ := args.Get(0).(*model.Booking)
	return b, args.Error(1)
}

func (m *bookingsMock) Get(ctx context.Context, id uint64) (*model.Booking, error) {
	args := m.Called(ctx, id)
	b, _ := args.Get(0).(*model.Booking)
	return b, args.Error(1)
}

func (m *bookingsMock) ListByUser(ctx context.Context, userID uint64, includeCancelled bool) ([]model.Booking, error) {
	args := m.Called(ctx, userID, includeCancelled)
	l, _ := args.Get(0).([]model.Booking)
	return l, args.Error(1)
}

func (m *bookingsMock) Update(ctx context.Context, id uint64, in service.UpdateBookingInput) (*model.Booking, error) {
	args := m.Called(ctx, id, in)
	b, _ := args.Get(0).(*model.Booking)
	return b, args.Error(1)
}

func (m *bookingsMock) Delete(ctx context.Context, id uint64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *bookingsMock) Confirm(ctx context.Context, id, paymentID uint64) (*model.Booking, error) {
	args := m.Called(ctx, id, paymentID)
	b, _ := args.Get(0).(*model.Booking)
	return b, args.Error(1)
}

func (m *bookingsMock) Cancel(ctx context.Context, id uint64) (*model.Booking, error) {
	args := m.Called(ctx, id)
	b, _ := args.Get(0).(*model.Booking)
	return b, args.Error(1)
}

func (m *bookingsMock) Complete(ctx context.Context, id uint64) (*model.Booking, *model.Payment, error) {
	args := m.Called(ctx, id)
	b, _ := args.Get(0).(*model.Booking)
	p, _ := args.Get(1).(*model.Payment)
	return b, p, args.Error(2)
}

func (m *bookingsMock) ExtendHold(ctx context.Context, id uint64, minutes int) ([]model.SeatHold, error) {
	args := m.Called(ctx, id, minutes)
	h, _ := args.Get(0).([]model.SeatHold)
	return h, args.Error(1)
}

type paymentsMock struct{ mock.Mock }

func (m *paymentsMock) Create(ctx context.Context, in service.CreatePaymentInput) (*model.Payment, error) {
	args := m.Called(ctx, in)
	p, _ := args.Get(0).(*model.Payment)
	return p, args.Error(1)
}

func (m *paymentsMock) Get(ctx context.Context, id uint64) (*model.Payment, error) {
	return m.one("Get", ctx, id)
}

func (m *paymentsMock) Update(ctx context.Context, id uint64, in service.UpdatePaymentInput) (*model.Payment, error) {
	args := m.Called(ctx, id, in)
	p, _ := args.Get(0).(*model.Payment)
	return p, args.Error(1)
}

func (m *paymentsMock) Delete(ctx context.Context, id uint64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *paymentsMock) Process(ctx context.Context, id uint64) (*model.Payment, error) {
	return m.one("Process", ctx, id)
}

func (m *paymentsMock) Fail(ctx context.Context, id uint64) (*model.Payment, error) {
	return m.one("Fail", ctx, id)
}

func (m *paymentsMock) Refund(ctx context.Context, id uint64) (*model.Payment, error) {
	return m.one("Refund", ctx, id)
}

func (m *paymentsMock) one(method string, ctx context.Context, id uint64) (*model.Payment, error) {
	args := m.MethodCalled(method, ctx, id)
	p, _ := args.Get(0).(*model.Payment)
	return p, args.Error(1)
}

type seatsMock struct{ mock.Mock }

func (m *seatsMock) BookedSeats(ctx context.Context, showtimeID uint64) ([]model.SeatHold, error) {
	args := m.Called(ctx, showtimeID)
	h, _ := args.Get(0).([]model.SeatHold)
	return h, args.Error(1)
}

func (m *seatsMock) SeatMap(ctx context.Context, showtimeID uint64, rows []string, cols int) (map[string][]service.SeatCell, error) {
	args := m.Called(ctx, showtimeID, rows, cols)
	sm, _ := args.Get(0).(map[string][]service.SeatCell)
	return sm, args.Error(1)
}

func (m *seatsMock) CheckAvailability(ctx context.Context, showtimeID uint64, seats []model.Seat) error {
	return m.Called(ctx, showtimeID, seats).Error(0)
}

func (m *seatsMock) UpdateSeat(ctx context.Context, seatID uint64, in service.UpdateSeatInput) (*model.SeatHold, error) {
	args := m.Called(ctx, seatID, in)
	h, _ := args.Get(0).(*model.SeatHold)
	return h, args.Error(1)
}

func (m *seatsMock) ReleaseSeat(ctx context.Context, seatID uint64) (*model.SeatHold, error) {
	args := m.Called(ctx, seatID)
	h, _ := args.Get(0).(*model.SeatHold)
	return h, args.Error(1)
}

type fixture struct {
	e        *echo.Echo
	bookings *bookingsMock
	payments *paymentsMock
	seats    *seatsMock
	logs     *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	core, logs := observer.New(zap.InfoLevel)
	f := &fixture{
		e:        echo.New(),
		bookings: &bookingsMock{},
		payments: &paymentsMock{},
		seats:    &seatsMock{},
		logs:     logs,
	}
	f.e.HTTPErrorHandler = ErrorHandler(zap.New(core))
	f.e.Validator = NewValidator()

	bh := NewBookingHandler(f.bookings)
	ph := NewPaymentHandler(f.payments)
	sh := NewShowtimeHandler(f.seats)
	f.e.GET("/healthz", Health)
	f.e.GET("/health", Status)
	f.e.POST("/api/bookings", bh.Create)
	f.e.GET("/api/bookings/user/:user_id", bh.ListByUser)
	f.e.GET("/api/bookings/:id", bh.Get)
	f.e.PUT("/api/bookings/:id", bh.Update)
	f.e.DELETE("/api/bookings/:id", bh.Delete)
	f.e.POST("/api/bookings/:id/confirm", bh.Confirm)
	f.e.POST("/api/bookings/:id/cancel", bh.Cancel)
	f.e.POST("/api/bookings/:id/complete", bh.Complete)
	f.e.POST("/api/payments", ph.Create)
	f.e.GET("/api/payments/:id", ph.Get)
	f.e.PUT("/api/payments/:id", ph.Update)
	f.e.DELETE("/api/payments/:id", ph.Delete)
	f.e.POST("/api/payments/:id/process", ph.Process)
	f.e.POST("/api/payments/:id/fail", ph.Fail)
	f.e.POST("/api/payments/:id/refund", ph.Refund)
	f.e.GET("/api/showtimes/:id/seats", sh.BookedSeats)
	f.e.GET("/api/showtimes/:id/seat-map", sh.SeatMap)
	f.e.POST("/api/showtimes/:id/check-availability", sh.CheckAvailability)
	f.e.POST("/api/showtimes/booking/:booking_id/extend-hold", bh.ExtendHold)
	f.e.PUT("/api/showtimes/seats/:seat_id", sh.UpdateSeat)
	f.e.DELETE("/api/showtimes/seats/:seat_id", sh.ReleaseSeat)

	t.Cleanup(func() {
		f.bookings.AssertExpectations(t)
		f.payments.AssertExpectations(t)
		f.seats.AssertExpectations(t)
	})
	return f
}

func (f *fixture) do(method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec, body := f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "booking-service", body["service"])
}

func TestCreateBooking(t *testing.T) {
	f := newFixture(t)
	want := service.CreateBookingInput{UserID: 7, ShowtimeID: 3, Seats: []model.Seat{{Row: "A", Col: 1}, {Row: "A", Col: 2}}}
	f.bookings.On("Create", mock.Anything, want).
		Return(&model.Booking{ID: 11, UserID: 7, ShowtimeID: 3, Status: model.BookingPending}, nil).Once()

	rec, body := f.do(http.MethodPost, "/api/bookings",
		`{"user_id":7,"showtime_id":3,"seats":[{"row":"A","col":1},{"row":"A","col":2}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.EqualValues(t, 11, body["booking_id"])
	assert.Equal(t, "pending", body["status"])
}

func TestCreateBookingMissingUser(t *testing.T) {
	f := newFixture(t)
	rec, body := f.do(http.MethodPost, "/api/bookings", `{"showtime_id":3,"seats":[{"row":"A","col":1}]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "validation_error", body["code"])
	assert.Equal(t, "user_id", body["field"])
	f.bookings.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestCreateBookingMalformedBody(t *testing.T) {
	f := newFixture(t)
	rec, body := f.do(http.MethodPost, "/api/bookings", `{"user_id":`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "validation_error", body["code"])
}

func TestServiceErrorStatuses(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"seat conflict", &service.Error{Kind: service.KindSeatConflict, Message: "seat A1 is taken"}, http.StatusConflict, "seat_conflict"},
		{"invalid state", &service.Error{Kind: service.KindInvalidState, Message: "booking is cancelled"}, http.StatusConflict, "invalid_state"},
		{"already", &service.Error{Kind: service.KindAlreadyInState, Message: "already cancelled"}, http.StatusConflict, "already_in_state"},
		{"not found", &service.Error{Kind: service.KindNotFound, Message: "booking 5 not found"}, http.StatusNotFound, "not_found"},
		{"showtime", &service.Error{Kind: service.KindShowtimeNotFound, Message: "showtime 3 not found"}, http.StatusNotFound, "showtime_not_found"},
		{"unpaid", &service.Error{Kind: service.KindPaymentNotCompleted, Message: "payment not completed"}, http.StatusBadRequest, "payment_not_completed"},
		{"unavailable", &service.Error{Kind: service.KindUpstreamUnavailable, Message: "theatre service unavailable"}, http.StatusServiceUnavailable, "upstream_unavailable"},
		{"upstream", &service.Error{Kind: service.KindUpstreamError, Message: "theatre returned 500"}, http.StatusBadGateway, "upstream_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.bookings.On("Cancel", mock.Anything, uint64(5)).Return(nil, tc.err).Once()
			rec, body := f.do(http.MethodPost, "/api/bookings/5/cancel", "")
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, body["code"])
			assert.Equal(t, tc.err.(*service.Error).Message, body["error"])
		})
	}
}

func TestInternalErrorHidesCause(t *testing.T) {
	f := newFixture(t)
	f.bookings.On("Get", mock.Anything, uint64(9)).Return(nil, errors.New("dial tcp 10.0.0.1:3306: refused")).Once()

	rec, body := f.do(http.MethodGet, "/api/bookings/9", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", body["error"])
	assert.Equal(t, "internal_error", body["code"])
	assert.NotContains(t, rec.Body.String(), "3306")
	assert.Equal(t, 1, f.logs.FilterMessage("request failed").Len())
}

func TestBadID(t *testing.T) {
	f := newFixture(t)
	rec, body := f.do(http.MethodGet, "/api/bookings/abc", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "id", body["field"])

	rec, _ = f.do(http.MethodGet, "/api/bookings/0", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t)
	rec, body := f.do(http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", body["code"])
}

func TestListByUser(t *testing.T) {
	f := newFixture(t)
	f.bookings.On("ListByUser", mock.Anything, uint64(7), true).Return(nil, nil).Once()
	rec, body := f.do(http.MethodGet, "/api/bookings/user/7?include_cancelled=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, body["bookings"])

	rec, body = f.do(http.MethodGet, "/api/bookings/user/7?include_cancelled=maybe", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "include_cancelled", body["field"])
}

func TestUpdateBooking(t *testing.T) {
	f := newFixture(t)
	st := model.BookingCancelled
	f.bookings.On("Update", mock.Anything, uint64(4), service.UpdateBookingInput{Status: &st}).
		Return(&model.Booking{ID: 4, Status: st}, nil).Once()

	rec, body := f.do(http.MethodPut, "/api/bookings/4", `{"status":"cancelled"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "booking updated", body["message"])

	rec, body = f.do(http.MethodPut, "/api/bookings/4", `{"status":"archived"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "status", body["field"])
}

func TestDeleteBooking(t *testing.T) {
	f := newFixture(t)
	f.bookings.On("Delete", mock.Anything, uint64(4)).Return(nil).Once()
	rec, body := f.do(http.MethodDelete, "/api/bookings/4", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "booking deleted", body["message"])
}

func TestConfirmBooking(t *testing.T) {
	f := newFixture(t)
	f.bookings.On("Confirm", mock.Anything, uint64(4), uint64(8)).
		Return(&model.Booking{ID: 4, Status: model.BookingConfirmed}, nil).Once()

	rec, body := f.do(http.MethodPost, "/api/bookings/4/confirm", `{"payment_id":8}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "booking confirmed", body["message"])
	assert.Equal(t, "confirmed", body["booking"].(map[string]any)["status"])

	rec, body = f.do(http.MethodPost, "/api/bookings/4/confirm", `{}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "payment_id", body["field"])
}

func TestCompleteBooking(t *testing.T) {
	f := newFixture(t)
	f.bookings.On("Complete", mock.Anything, uint64(4)).Return(
		&model.Booking{ID: 4, Status: model.BookingConfirmed},
		&model.Payment{ID: 2, Amount: 2500, Status: model.PaymentCompleted},
		nil,
	).Once()

	rec, body := f.do(http.MethodPost, "/api/bookings/4/complete", "")
	require.Equal(t, http.StatusOK, rec.Code)
	p := body["payment"].(map[string]any)
	assert.EqualValues(t, 2, p["payment_id"])
	assert.Equal(t, "completed", p["status"])
}

func TestExtendHold(t *testing.T) {
	f := newFixture(t)
	f.bookings.On("ExtendHold", mock.Anything, uint64(4), 0).Return([]model.SeatHold{{ID: 1}}, nil).Once()
	f.bookings.On("ExtendHold", mock.Anything, uint64(4), 15).Return([]model.SeatHold{{ID: 1}}, nil).Once()

	rec, _ := f.do(http.MethodPost, "/api/showtimes/booking/4/extend-hold", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, body := f.do(http.MethodPost, "/api/showtimes/booking/4/extend-hold", `{"additional_minutes":15}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "seat hold extended", body["message"])
}

func TestCreatePayment(t *testing.T) {
	f := newFixture(t)
	bid := uint64(4)
	f.payments.On("Create", mock.Anything, service.CreatePaymentInput{Amount: 2550, BookingID: &bid}).
		Return(&model.Payment{ID: 1, Amount: 2550, Status: model.PaymentPending}, nil).Once()

	rec, body := f.do(http.MethodPost, "/api/payments", `{"amount":"25.50","booking_id":4}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "payment created", body["message"])
}

func TestCreatePaymentBadAmount(t *testing.T) {
	f := newFixture(t)
	rec, body := f.do(http.MethodPost, "/api/payments", `{"amount":1.234}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "amount", body["field"])
	f.payments.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestPaymentTransitions(t *testing.T) {
	f := newFixture(t)
	for _, m := range []string{"Process", "Fail", "Refund"} {
		f.payments.On(m, mock.Anything, uint64(3)).Return(&model.Payment{ID: 3}, nil).Once()
	}
	for path, msg := range map[string]string{
		"process": "payment processed",
		"fail":    "payment failed",
		"refund":  "payment refunded",
	} {
		rec, body := f.do(http.MethodPost, "/api/payments/3/"+path, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, msg, body["message"])
	}
}

func TestRefundNotAllowed(t *testing.T) {
	f := newFixture(t)
	f.payments.On("Refund", mock.Anything, uint64(3)).
		Return(nil, &service.Error{Kind: service.KindNotRefundable, Message: "only completed payments can be refunded"}).Once()
	rec, body := f.do(http.MethodPost, "/api/payments/3/refund", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not_refundable", body["code"])
}

func TestUpdateAndDeletePayment(t *testing.T) {
	f := newFixture(t)
	amt := model.Money(999)
	f.payments.On("Update", mock.Anything, uint64(3), service.UpdatePaymentInput{Amount: &amt}).
		Return(&model.Payment{ID: 3, Amount: amt}, nil).Once()
	f.payments.On("Delete", mock.Anything, uint64(3)).Return(nil).Once()
	f.payments.On("Get", mock.Anything, uint64(3)).Return(&model.Payment{ID: 3}, nil).Once()

	rec, _ := f.do(http.MethodPut, "/api/payments/3", `{"amount":9.99}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = f.do(http.MethodDelete, "/api/payments/3", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, body := f.do(http.MethodGet, "/api/payments/3", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "payment")
}

func TestBookedSeatsAndSeatMap(t *testing.T) {
	f := newFixture(t)
	f.seats.On("BookedSeats", mock.Anything, uint64(3)).Return([]model.SeatHold{{ID: 1, Row: "A", Col: 1}}, nil).Once()
	f.seats.On("SeatMap", mock.Anything, uint64(3), []string{"A", "B"}, 4).
		Return(map[string][]service.SeatCell{"A": {{Row: "A", Col: 1, Available: true}}}, nil).Once()

	rec, body := f.do(http.MethodGet, "/api/showtimes/3/seats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, body["showtime_id"])
	assert.Len(t, body["booked_seats"], 1)

	rec, body = f.do(http.MethodGet, "/api/showtimes/3/seat-map?rows=a,B&cols=4", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body["seat_map"], "A")

	rec, body = f.do(http.MethodGet, "/api/showtimes/3/seat-map?cols=x", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "cols", body["field"])
}

func TestCheckAvailability(t *testing.T) {
	f := newFixture(t)
	free := []model.Seat{{Row: "A", Col: 1}}
	taken := []model.Seat{{Row: "B", Col: 2}}
	f.seats.On("CheckAvailability", mock.Anything, uint64(3), free).Return(nil).Once()
	f.seats.On("CheckAvailability", mock.Anything, uint64(3), taken).
		Return(&service.Error{Kind: service.KindSeatConflict, Message: "seat B2 is not available"}).Once()

	rec, body := f.do(http.MethodPost, "/api/showtimes/3/check-availability", `{"seats":[{"row":"A","col":1}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["available"])

	rec, body = f.do(http.MethodPost, "/api/showtimes/3/check-availability", `{"seats":[{"row":"B","col":2}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["available"])
	assert.Equal(t, "seat B2 is not available", body["message"])
}

func TestUpdateAndReleaseSeat(t *testing.T) {
	f := newFixture(t)
	mins := 5
	f.seats.On("UpdateSeat", mock.Anything, uint64(12), service.UpdateSeatInput{AdditionalMinutes: &mins}).
		Return(&model.SeatHold{ID: 12, Status: model.SeatOnHold}, nil).Once()
	f.seats.On("ReleaseSeat", mock.Anything, uint64(12)).
		Return(&model.SeatHold{ID: 12, Status: model.SeatReleased}, nil).Once()

	rec, _ := f.do(http.MethodPut, "/api/showtimes/seats/12", `{"additional_minutes":5}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, body := f.do(http.MethodDelete, "/api/showtimes/seats/12", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "released", body["seat"].(map[string]any)["status"])

	rec, body = f.do(http.MethodPut, "/api/showtimes/seats/12", `{"status":"gone"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "status", body["field"])
}

func TestValidatorFieldPath(t *testing.T) {
	type row struct {
		Row string `json:"row" validate:"required"`
	}
	type req struct {
		Seats []row `json:"seats" validate:"dive"`
	}
	err := NewValidator().Validate(&req{Seats: []row{{Row: "A"}, {}}})
	require.Error(t, err)
	var se *service.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, service.KindValidation, se.Kind)
	assert.Equal(t, "seats[1].row", se.Field)
	assert.Equal(t, "seats[1].row is required", se.Message)
}
