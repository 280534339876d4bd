package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-booking-service/internal/model"
	"github.com/iliyamo/cinema-booking-service/internal/service"
)

// Payments is the payment ledger as seen by HTTP.
type Payments interface {
	Create(ctx context.Context, in service.CreatePaymentInput) (*model.Payment, error)
	Get(ctx context.Context, id uint64) (*model.Payment, error)
	Update(ctx context.Context, id uint64, in service.UpdatePaymentInput) (*model.Payment, error)
	Delete(ctx context.Context, id uint64) error
	Process(ctx context.Context, id uint64) (*model.Payment, error)
	Fail(ctx context.Context, id uint64) (*model.Payment, error)
	Refund(ctx context.Context, id uint64) (*model.Payment, error)
}

// PaymentHandler serves /api/payments.
type PaymentHandler struct {
	Payments Payments
}

// NewPaymentHandler constructs a PaymentHandler.
func NewPaymentHandler(p Payments) *PaymentHandler {
	if p == nil {
		panic("nil payment service passed to NewPaymentHandler")
	}
	return &PaymentHandler{Payments: p}
}

type createPaymentRequest struct {
	Amount    model.Money `json:"amount"`
	BookingID *uint64     `json:"booking_id" validate:"omitempty,min=1"`
	CreatedBy *uint64     `json:"created_by"`
}

type updatePaymentRequest struct {
	Status *model.PaymentStatus `json:"status" validate:"omitempty,oneof=pending completed failed refunded"`
	Amount *model.Money         `json:"amount"`
}

// Create handles POST /api/payments.  The amount range is enforced by the
// payment service.
func (h *PaymentHandler) Create(c echo.Context) error {
	var req createPaymentRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	p, err := h.Payments.Create(c.Request().Context(), service.CreatePaymentInput{
		Amount:    req.Amount,
		BookingID: req.BookingID,
		CreatedBy: req.CreatedBy,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, echo.Map{"message": "payment created", "payment": p})
}

// Get handles GET /api/payments/:id.
func (h *PaymentHandler) Get(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	p, err := h.Payments.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"payment": p})
}

// Update handles PUT /api/payments/:id.
func (h *PaymentHandler) Update(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req updatePaymentRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	p, err := h.Payments.Update(c.Request().Context(), id, service.UpdatePaymentInput{
		Status: req.Status,
		Amount: req.Amount,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "payment updated", "payment": p})
}

// Delete handles DELETE /api/payments/:id.
func (h *PaymentHandler) Delete(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.Payments.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "payment deleted"})
}

// Process handles POST /api/payments/:id/process.
func (h *PaymentHandler) Process(c echo.Context) error {
	return h.transition(c, h.Payments.Process, "payment processed")
}

// Fail handles POST /api/payments/:id/fail.
func (h *PaymentHandler) Fail(c echo.Context) error {
	return h.transition(c, h.Payments.Fail, "payment failed")
}

// Refund handles POST /api/payments/:id/refund.
func (h *PaymentHandler) Refund(c echo.Context) error {
	return h.transition(c, h.Payments.Refund, "payment refunded")
}

func (h *PaymentHandler) transition(c echo.Context, step func(context.Context, uint64) (*model.Payment, error), msg string) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	p, err := step(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": msg, "payment": p})
}
