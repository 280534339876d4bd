package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-booking-service/internal/model"
	"github.com/iliyamo/cinema-booking-service/internal/service"
)

// Bookings is the booking state machine as seen by HTTP.
type Bookings interface {
	Create(ctx context.Context, in service.CreateBookingInput) (*model.Booking, error)
	Get(ctx context.Context, id uint64) (*model.Booking, error)
	ListByUser(ctx context.Context, userID uint64, includeCancelled bool) ([]model.Booking, error)
	Update(ctx context.Context, id uint64, in service.UpdateBookingInput) (*model.Booking, error)
	Delete(ctx context.Context, id uint64) error
	Confirm(ctx context.Context, id, paymentID uint64) (*model.Booking, error)
	Cancel(ctx context.Context, id uint64) (*model.Booking, error)
	Complete(ctx context.Context, id uint64) (*model.Booking, *model.Payment, error)
	ExtendHold(ctx context.Context, id uint64, minutes int) ([]model.SeatHold, error)
}

// BookingHandler serves /api/bookings.  Errors are returned to echo and
// rendered by ErrorHandler.
type BookingHandler struct {
	Bookings Bookings
}

// NewBookingHandler constructs a BookingHandler.
func NewBookingHandler(b Bookings) *BookingHandler {
	if b == nil {
		panic("nil booking service passed to NewBookingHandler")
	}
	return &BookingHandler{Bookings: b}
}

type createBookingRequest struct {
	UserID     uint64       `json:"user_id" validate:"required"`
	ShowtimeID uint64       `json:"showtime_id" validate:"required"`
	Seats      []model.Seat `json:"seats"`
	CreatedBy  *uint64      `json:"created_by"`
}

type updateBookingRequest struct {
	Status    *model.BookingStatus `json:"status" validate:"omitempty,oneof=pending confirmed cancelled failed"`
	PaymentID *uint64              `json:"payment_id" validate:"omitempty,min=1"`
}

type confirmBookingRequest struct {
	PaymentID uint64 `json:"payment_id" validate:"required"`
}

type extendHoldRequest struct {
	AdditionalMinutes int `json:"additional_minutes" validate:"omitempty,min=1"`
}

// Create handles POST /api/bookings.  Seat rows and columns are checked by
// the seat ledger so that errors name the offending element.
func (h *BookingHandler) Create(c echo.Context) error {
	var req createBookingRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	b, err := h.Bookings.Create(c.Request().Context(), service.CreateBookingInput{
		UserID:     req.UserID,
		ShowtimeID: req.ShowtimeID,
		Seats:      req.Seats,
		CreatedBy:  req.CreatedBy,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"message":    "seats held",
		"booking_id": b.ID,
		"status":     b.Status,
		"booking":    b,
	})
}

// Get handles GET /api/bookings/:id.
func (h *BookingHandler) Get(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	b, err := h.Bookings.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"booking": b})
}

// ListByUser handles GET /api/bookings/user/:user_id.
func (h *BookingHandler) ListByUser(c echo.Context) error {
	userID, err := idParam(c, "user_id")
	if err != nil {
		return err
	}
	all, err := boolQuery(c, "include_cancelled")
	if err != nil {
		return err
	}
	list, err := h.Bookings.ListByUser(c.Request().Context(), userID, all)
	if err != nil {
		return err
	}
	if list == nil {
		list = []model.Booking{}
	}
	return c.JSON(http.StatusOK, echo.Map{"bookings": list})
}

// Update handles PUT /api/bookings/:id.
func (h *BookingHandler) Update(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req updateBookingRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	b, err := h.Bookings.Update(c.Request().Context(), id, service.UpdateBookingInput{
		Status:    req.Status,
		PaymentID: req.PaymentID,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "booking updated", "booking": b})
}

// Delete handles DELETE /api/bookings/:id.
func (h *BookingHandler) Delete(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.Bookings.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "booking deleted"})
}

// Confirm handles POST /api/bookings/:id/confirm.
func (h *BookingHandler) Confirm(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req confirmBookingRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	b, err := h.Bookings.Confirm(c.Request().Context(), id, req.PaymentID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "booking confirmed", "booking": b})
}

// Cancel handles POST /api/bookings/:id/cancel.
func (h *BookingHandler) Cancel(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	b, err := h.Bookings.Cancel(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "booking cancelled", "booking": b})
}

// Complete handles POST /api/bookings/:id/complete: charge, settle and
// confirm in one step.
func (h *BookingHandler) Complete(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	b, p, err := h.Bookings.Complete(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message": "booking completed",
		"booking": b,
		"payment": p,
	})
}

// ExtendHold handles POST /api/showtimes/booking/:booking_id/extend-hold.
// An empty body extends by the configured default.
func (h *BookingHandler) ExtendHold(c echo.Context) error {
	id, err := idParam(c, "booking_id")
	if err != nil {
		return err
	}
	var req extendHoldRequest
	if c.Request().ContentLength != 0 {
		if err := bindAndValidate(c, &req); err != nil {
			return err
		}
	}
	holds, err := h.Bookings.ExtendHold(c.Request().Context(), id, req.AdditionalMinutes)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "seat hold extended", "seats": holds})
}
