package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-ticket-sales/internal/handler"
)

// RegisterRoutes registers the health check, which sits outside rate
// limiting so probes are never throttled.
func RegisterRoutes(e *echo.Echo, h *handler.Health) {
	e.GET("/healthz", h.Handle)
}

// RegisterReservations registers the reservation and payment endpoints
// under /v1.  mw is applied to the whole group (rate limiting in
// production).
func RegisterReservations(e *echo.Echo, r *handler.ReservationHandler, p *handler.PaymentHandler, mw ...echo.MiddlewareFunc) {
	g := e.Group("/v1", mw...)

	g.POST("/reservations", r.Create)
	g.GET("/reservations/user/:userId", r.ListByUser)

	g.POST("/payments/confirm", p.Confirm)
	g.GET("/payments/user/:userId/history", p.History)
}
