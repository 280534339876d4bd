package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-booking-service/internal/handler"
)

// Handlers bundles everything RegisterRoutes mounts.
type Handlers struct {
	Bookings  *handler.BookingHandler
	Payments  *handler.PaymentHandler
	Showtimes *handler.ShowtimeHandler
}

// RegisterRoutes mounts the health checks and the /api groups on e.
// limit wraps every mutating route; pass nil to skip rate limiting.
func RegisterRoutes(e *echo.Echo, h Handlers, limit echo.MiddlewareFunc) {
	e.GET("/healthz", handler.Health)
	e.GET("/health", handler.Status)

	var mw []echo.MiddlewareFunc
	if limit != nil {
		mw = append(mw, limit)
	}

	b := e.Group("/api/bookings")
	b.POST("", h.Bookings.Create, mw...)
	b.POST("/", h.Bookings.Create, mw...)
	b.GET("/user/:user_id", h.Bookings.ListByUser)
	b.GET("/:id", h.Bookings.Get)
	b.PUT("/:id", h.Bookings.Update, mw...)
	b.DELETE("/:id", h.Bookings.Delete, mw...)
	b.POST("/:id/confirm", h.Bookings.Confirm, mw...)
	b.POST("/:id/cancel", h.Bookings.Cancel, mw...)
	b.POST("/:id/complete", h.Bookings.Complete, mw...)

	p := e.Group("/api/payments")
	p.POST("", h.Payments.Create, mw...)
	p.POST("/", h.Payments.Create, mw...)
	p.GET("/:id", h.Payments.Get)
	p.PUT("/:id", h.Payments.Update, mw...)
	p.DELETE("/:id", h.Payments.Delete, mw...)
	p.POST("/:id/process", h.Payments.Process, mw...)
	p.POST("/:id/fail", h.Payments.Fail, mw...)
	p.POST("/:id/refund", h.Payments.Refund, mw...)

	s := e.Group("/api/showtimes")
	s.GET("/:id/seats", h.Showtimes.BookedSeats)
	s.GET("/:id/seat-map", h.Showtimes.SeatMap)
	s.POST("/:id/check-availability", h.Showtimes.CheckAvailability)
	// hold extension lives with the seat routes but is driven by the booking
	s.POST("/booking/:booking_id/extend-hold", h.Bookings.ExtendHold, mw...)
	s.PUT("/seats/:seat_id", h.Showtimes.UpdateSeat, mw...)
	s.DELETE("/seats/:seat_id", h.Showtimes.ReleaseSeat, mw...)
}
