package handler

import (
    "context"
    "net/http"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/cinema-ticket-sales/internal/model"
)

// SaleService is satisfied by *service.SaleService.
type SaleService interface {
    ConfirmPayment(ctx context.Context, reservationID string) (*model.Sale, error)
    ListByUser(ctx context.Context, userID string) ([]model.Sale, error)
}

type PaymentHandler struct {
    svc SaleService
}

func NewPaymentHandler(svc SaleService) *PaymentHandler {
    return &PaymentHandler{svc: svc}
}

// Confirm handles POST /v1/payments/confirm with {"reservationId": ...}.
// It answers 201 with the sale.
func (h *PaymentHandler) Confirm(c echo.Context) error {
    var body struct {
        ReservationID string `json:"reservationId"`
    }
    if err := c.Bind(&body); err != nil {
        return badRequest(c, "invalid request body")
    }
    sale, err := h.svc.ConfirmPayment(c.Request().Context(), body.ReservationID)
    if err != nil {
        return respondError(c, err)
    }
    return c.JSON(http.StatusCreated, sale)
}

// History handles GET /v1/payments/user/:userId/history.
func (h *PaymentHandler) History(c echo.Context) error {
    out, err := h.svc.ListByUser(c.Request().Context(), c.Param("userId"))
    if err != nil {
        return respondError(c, err)
    }
    return c.JSON(http.StatusOK, out)
}
