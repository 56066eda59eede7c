package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/scholar-slot-booking/internal/service"
)

// PublicHandler serves the read-only browse endpoints.  They need no JWT.
type PublicHandler struct {
	Scheduler *service.Scheduler
}

func NewPublicHandler(s *service.Scheduler) *PublicHandler {
	if s == nil {
		panic("nil scheduler passed to NewPublicHandler")
	}
	return &PublicHandler{Scheduler: s}
}

// ListTemplates handles GET /v1/templates.
func (h *PublicHandler) ListTemplates(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"templates": h.Scheduler.Templates()})
}

// Discover handles GET /v1/broadcasts and lists open broadcasts with the
// slots that can still be claimed.
func (h *PublicHandler) Discover(c echo.Context) error {
	bs, err := h.Scheduler.Discover(c.Request().Context())
	if err != nil {
		return fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, echo.Map{"broadcasts": bs})
}

// GetBroadcast handles GET /v1/broadcasts/:id.
func (h *PublicHandler) GetBroadcast(c echo.Context) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid broadcast id")
	}
	b, err := h.Scheduler.Broadcast(c.Request().Context(), id)
	if err != nil {
		return fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, b)
}
