package handler

import (
    "context"
    "net/http"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/cinema-ticket-sales/internal/model"
)

// ReservationService is satisfied by *service.ReservationService.
type ReservationService interface {
    ReserveSeats(ctx context.Context, userID, sessionID string, seatIDs []string) ([]model.Reservation, error)
    ListByUser(ctx context.Context, userID string) ([]model.Reservation, error)
}

// ReservationHandler serves the reservation endpoints.  Callers identify
// the user by id in the request; authentication happens upstream.
type ReservationHandler struct {
    svc ReservationService
}

func NewReservationHandler(svc ReservationService) *ReservationHandler {
    return &ReservationHandler{svc: svc}
}

type createReservationRequest struct {
    UserID    string   `json:"userId"`
    SessionID string   `json:"sessionId"`
    SeatID    string   `json:"seatId"`
    SeatIDs   []string `json:"seatIds"`
}

// Create handles POST /v1/reservations.  The body names either one seat
// ("seatId"), answered with the reservation, or several ("seatIds"),
// answered with the list of reservations; the seats are held all together
// or not at all.
func (h *ReservationHandler) Create(c echo.Context) error {
    var body createReservationRequest
    if err := c.Bind(&body); err != nil {
        return badRequest(c, "invalid request body")
    }
    switch {
    case body.SeatID != "" && len(body.SeatIDs) > 0:
        return badRequest(c, "seatId and seatIds are mutually exclusive")
    case body.SeatID == "" && len(body.SeatIDs) == 0:
        return badRequest(c, "seatId or seatIds is required")
    }

    seats := body.SeatIDs
    if body.SeatID != "" {
        seats = []string{body.SeatID}
    }
    created, err := h.svc.ReserveSeats(c.Request().Context(), body.UserID, body.SessionID, seats)
    if err != nil {
        return respondError(c, err)
    }
    if body.SeatID != "" {
        return c.JSON(http.StatusCreated, created[0])
    }
    return c.JSON(http.StatusCreated, created)
}

// ListByUser handles GET /v1/reservations/user/:userId.
func (h *ReservationHandler) ListByUser(c echo.Context) error {
    out, err := h.svc.ListByUser(c.Request().Context(), c.Param("userId"))
    if err != nil {
        return respondError(c, err)
    }
    return c.JSON(http.StatusOK, out)
}
