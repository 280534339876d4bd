package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-booking-service/internal/service"
)

// statusOf maps an error kind to an HTTP status.
func statusOf(k service.Kind) int {
	switch k {
	case service.KindValidation, service.KindInvalidAmount:
		return http.StatusUnprocessableEntity
	case service.KindNotFound, service.KindShowtimeNotFound:
		return http.StatusNotFound
	case service.KindSeatConflict, service.KindInvalidState, service.KindAlreadyInState,
		service.KindPaymentAlreadyLinked, service.KindNotRefundable:
		return http.StatusConflict
	case service.KindPaymentNotCompleted, service.KindNoActiveHold:
		return http.StatusBadRequest
	case service.KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case service.KindUpstreamError:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// ErrorHandler renders service errors as {"error","code","field"} and
// everything unclassified as a generic 500.  The cause of a 500 is logged,
// never returned.
func ErrorHandler(log *zap.Logger) echo.HTTPErrorHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status, body := render(err)
		if status >= http.StatusInternalServerError {
			log.Error("request failed",
				zap.String("method", c.Request().Method), zap.String("path", c.Path()),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
				zap.Error(err))
		}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			log.Warn("write error response", zap.Error(err))
		}
	}
}

func render(err error) (int, echo.Map) {
	var se *service.Error
	if errors.As(err, &se) {
		status := statusOf(se.Kind)
		if status == http.StatusInternalServerError {
			return status, echo.Map{"error": "internal server error", "code": service.KindInternal.String()}
		}
		body := echo.Map{"error": se.Message, "code": se.Kind.String()}
		if se.Field != "" {
			body["field"] = se.Field
		}
		return status, body
	}
	var he *echo.HTTPError
	if errors.As(err, &he) && he.Code < http.StatusInternalServerError {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok && s != "" {
			msg = s
		}
		return he.Code, echo.Map{"error": msg, "code": codeForHTTP(he.Code)}
	}
	return http.StatusInternalServerError, echo.Map{"error": "internal server error", "code": service.KindInternal.String()}
}

func codeForHTTP(status int) string {
	switch status {
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusTooManyRequests:
		return "too_many_requests"
	}
	return "bad_request"
}
