package handler // HTTP handlers

import (
    "context"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"
)

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) error

// Health is the health-check endpoint used by load balancers and
// monitoring.  It runs every registered check with a short timeout and
// answers 200 when all pass, 503 otherwise, naming the failing ones.
type Health struct {
    checks  map[string]Check
    timeout time.Duration
}

// NewHealth registers checks by name, e.g. "mysql" and "redis".
func NewHealth(checks map[string]Check) *Health {
    return &Health{checks: checks, timeout: 2 * time.Second}
}

func (h *Health) Handle(c echo.Context) error {
    ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
    defer cancel()

    status := http.StatusOK
    results := make(map[string]string, len(h.checks))
    for name, check := range h.checks {
        if err := check(ctx); err != nil {
            results[name] = err.Error()
            status = http.StatusServiceUnavailable
            continue
        }
        results[name] = "ok"
    }
    overall := "ok"
    if status != http.StatusOK {
        overall = "degraded"
    }
    return c.JSON(status, echo.Map{"status": overall, "checks": results})
}
