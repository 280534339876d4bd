package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-booking-service/internal/model"
	"github.com/iliyamo/cinema-booking-service/internal/service"
)

// Seats is the seat ledger as seen by HTTP.
type Seats interface {
	BookedSeats(ctx context.Context, showtimeID uint64) ([]model.SeatHold, error)
	SeatMap(ctx context.Context, showtimeID uint64, rows []string, cols int) (map[string][]service.SeatCell, error)
	CheckAvailability(ctx context.Context, showtimeID uint64, seats []model.Seat) error
	UpdateSeat(ctx context.Context, seatID uint64, in service.UpdateSeatInput) (*model.SeatHold, error)
	ReleaseSeat(ctx context.Context, seatID uint64) (*model.SeatHold, error)
}

// ShowtimeHandler serves the seat routes under /api/showtimes.
type ShowtimeHandler struct {
	Seats Seats
}

// NewShowtimeHandler constructs a ShowtimeHandler.
func NewShowtimeHandler(s Seats) *ShowtimeHandler {
	if s == nil {
		panic("nil seat ledger passed to NewShowtimeHandler")
	}
	return &ShowtimeHandler{Seats: s}
}

type checkAvailabilityRequest struct {
	Seats []model.Seat `json:"seats"`
}

type updateSeatRequest struct {
	Status            *model.SeatStatus `json:"status" validate:"omitempty,oneof=on_hold booked released"`
	AdditionalMinutes *int              `json:"additional_minutes"`
}

// BookedSeats handles GET /api/showtimes/:id/seats.
func (h *ShowtimeHandler) BookedSeats(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	holds, err := h.Seats.BookedSeats(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"showtime_id": id, "booked_seats": holds})
}

// SeatMap handles GET /api/showtimes/:id/seat-map?rows=A,B&cols=10.
func (h *ShowtimeHandler) SeatMap(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	cols, err := intQuery(c, "cols")
	if err != nil {
		return err
	}
	m, err := h.Seats.SeatMap(c.Request().Context(), id, listQuery(c, "rows"), cols)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"showtime_id": id, "seat_map": m})
}

// CheckAvailability handles POST /api/showtimes/:id/check-availability.  A
// conflict is an answer here, not an error.
func (h *ShowtimeHandler) CheckAvailability(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req checkAvailabilityRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	err = h.Seats.CheckAvailability(c.Request().Context(), id, req.Seats)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, echo.Map{"available": true, "message": "all seats are available"})
	case service.KindOf(err) == service.KindSeatConflict:
		return c.JSON(http.StatusOK, echo.Map{"available": false, "message": err.Error()})
	}
	return err
}

// UpdateSeat handles PUT /api/showtimes/seats/:seat_id.
func (h *ShowtimeHandler) UpdateSeat(c echo.Context) error {
	id, err := idParam(c, "seat_id")
	if err != nil {
		return err
	}
	var req updateSeatRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	hold, err := h.Seats.UpdateSeat(c.Request().Context(), id, service.UpdateSeatInput{
		Status:            req.Status,
		AdditionalMinutes: req.AdditionalMinutes,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "seat updated", "seat": hold})
}

// ReleaseSeat handles DELETE /api/showtimes/seats/:seat_id.
func (h *ShowtimeHandler) ReleaseSeat(c echo.Context) error {
	id, err := idParam(c, "seat_id")
	if err != nil {
		return err
	}
	hold, err := h.Seats.ReleaseSeat(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "seat released", "seat": hold})
}
