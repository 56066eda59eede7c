package handler // HTTP handlers for the slot booking API

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Health answers load balancer probes with a plain "ok".
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}
