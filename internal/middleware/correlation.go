package middleware

import (
    "time"

    "github.com/labstack/echo/v4"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/cinema-ticket-sales/internal/logging"
)

// CorrelationID takes the request's X-Correlation-ID, or generates one,
// echoes it on the response and stores it with a request logger in the
// request context.  Each request is logged once it completes.
func CorrelationID() echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            req := c.Request()
            id := req.Header.Get(logging.CorrelationIDHeader)
            if id == "" {
                id = logging.NewCorrelationID()
            }
            c.Response().Header().Set(logging.CorrelationIDHeader, id)

            ctx := logging.WithCorrelationID(req.Context(), id)
            ctx = logging.WithFields(ctx, logrus.Fields{
                "method": req.Method,
                "route":  c.Path(),
            })
            c.SetRequest(req.WithContext(ctx))

            start := time.Now()
            err := next(c)
            if err != nil {
                c.Error(err)
            }
            logging.FromContext(ctx).WithFields(logrus.Fields{
                "status":   c.Response().Status,
                "duration": time.Since(start).String(),
            }).Info("request handled")
            return nil
        }
    }
}
