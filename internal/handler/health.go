package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Health is the liveness check used by load balancers.  It returns a plain
// text "ok" with a 200 status.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Status reports the service name alongside its health.
func Status(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "healthy", "service": "booking-service"})
}
