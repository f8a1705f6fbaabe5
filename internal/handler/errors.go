package handler

import (
    "net/http"

    "github.com/cockroachdb/errors"
    "github.com/labstack/echo/v4"

    "github.com/iliyamo/cinema-ticket-sales/internal/logging"
    "github.com/iliyamo/cinema-ticket-sales/internal/service"
)

// errorCodes maps each domain outcome to its status and a stable code.
// Order matters only in that specific outcomes precede their category.
var errorCodes = []struct {
    err    error
    status int
    code   string
}{
    {service.ErrSeatBusy, http.StatusConflict, "SEAT_BUSY"},
    {service.ErrAlreadySold, http.StatusConflict, "ALREADY_SOLD"},
    {service.ErrAlreadyReserved, http.StatusConflict, "ALREADY_RESERVED"},
    {service.ErrReservationNotFound, http.StatusNotFound, "RESERVATION_NOT_FOUND"},
    {service.ErrSessionNotFound, http.StatusNotFound, "SESSION_NOT_FOUND"},
    {service.ErrSeatNotFound, http.StatusNotFound, "SEAT_NOT_FOUND"},
    {service.ErrInvalidState, http.StatusBadRequest, "INVALID_STATE"},
    {service.ErrReservationExpired, http.StatusBadRequest, "RESERVATION_EXPIRED"},
    {service.ErrInvalidInput, http.StatusBadRequest, "INVALID_INPUT"},
    {service.ErrConflict, http.StatusConflict, "CONFLICT"},
    {service.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
    {service.ErrRejected, http.StatusBadRequest, "REJECTED"},
}

// respondError writes {"error": message, "code": code}.  Unknown errors
// become a 500 with a generic message and are logged with their detail.
func respondError(c echo.Context, err error) error {
    for _, m := range errorCodes {
        if errors.Is(err, m.err) {
            return c.JSON(m.status, echo.Map{"error": err.Error(), "code": m.code})
        }
    }
    logging.FromContext(c.Request().Context()).WithError(err).Error("request failed")
    return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error", "code": "INTERNAL"})
}

func badRequest(c echo.Context, msg string) error {
    return c.JSON(http.StatusBadRequest, echo.Map{"error": msg, "code": "INVALID_INPUT"})
}
