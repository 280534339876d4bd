package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-booking-service/internal/model"
	"github.com/iliyamo/cinema-booking-service/internal/service"
)

// idParam parses a positive integer path parameter.
func idParam(c echo.Context, name string) (uint64, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, service.Validation(name, "%s must be a positive integer", name)
	}
	return id, nil
}

// bindAndValidate decodes the request body into dst and runs the
// registered validator over it.
func bindAndValidate(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		if errors.Is(err, model.ErrInvalidMoney) {
			return service.Validation("amount", "amount must be a decimal with at most two fractional digits")
		}
		return service.Validation("", "invalid request body")
	}
	return c.Validate(dst)
}

// boolQuery reads an optional boolean query parameter.
func boolQuery(c echo.Context, name string) (bool, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, service.Validation(name, "%s must be true or false", name)
	}
	return v, nil
}

// intQuery reads an optional integer query parameter; absent means zero.
func intQuery(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, service.Validation(name, "%s must be an integer", name)
	}
	return v, nil
}

// listQuery splits a comma separated query parameter.
func listQuery(c echo.Context, name string) []string {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
