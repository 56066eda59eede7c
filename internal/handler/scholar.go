package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/scholar-slot-booking/internal/service"
)

// ScholarHandler serves the endpoints a scholar uses to plan, publish and
// withdraw broadcasts.  Every method assumes JWTAuth and
// RequireRole(SCHOLAR) ran first.
type ScholarHandler struct {
	Scheduler *service.Scheduler
}

func NewScholarHandler(s *service.Scheduler) *ScholarHandler {
	if s == nil {
		panic("nil scheduler passed to NewScholarHandler")
	}
	return &ScholarHandler{Scheduler: s}
}

// Preview handles POST /v1/scholar/previews.  It generates candidate slots
// and reports conflicts with resolutions without storing anything.
func (h *ScholarHandler) Preview(c echo.Context) error {
	ownerID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	var body struct {
		Policy service.PolicyRequest `json:"policy"`
		Limit  int                   `json:"limit"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	plan, err := h.Scheduler.Preview(c.Request().Context(), ownerID, body.Policy, body.Limit)
	if err != nil {
		return fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, plan)
}

// Publish handles POST /v1/scholar/broadcasts.  Conflicting candidates are
// left out and reported; 422 is returned when none survive.
func (h *ScholarHandler) Publish(c echo.Context) error {
	ownerID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	var req service.PublishRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return badRequest(c, "title is required")
	}
	if req.Capacity < 0 {
		return badRequest(c, "capacity must be positive")
	}
	res, err := h.Scheduler.PublishBroadcast(c.Request().Context(), ownerID, req)
	if errors.Is(err, service.ErrNothingToPublish) {
		return fail(c, err, echo.Map{"conflicts": res.Conflicts})
	}
	if err != nil {
		return fail(c, err, nil)
	}
	return c.JSON(http.StatusCreated, res)
}

// List handles GET /v1/scholar/broadcasts.
func (h *ScholarHandler) List(c echo.Context) error {
	ownerID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	bs, err := h.Scheduler.OwnerBroadcasts(c.Request().Context(), ownerID)
	if err != nil {
		return fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, echo.Map{"broadcasts": bs})
}

// Cancel handles DELETE /v1/scholar/broadcasts/:id.  Booked slots keep
// their bookings; the response says how many open slots were cancelled.
func (h *ScholarHandler) Cancel(c echo.Context) error {
	ownerID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid broadcast id")
	}
	res, err := h.Scheduler.CancelBroadcast(c.Request().Context(), ownerID, id)
	if err != nil {
		return fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"broadcast":       res.Broadcast,
		"cancelled_slots": res.Cancelled,
	})
}

// Conflicts handles GET /v1/scholar/conflicts: overlaps among the
// scholar's published slots and calendar, each with proposals.
func (h *ScholarHandler) Conflicts(c echo.Context) error {
	ownerID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	reps, err := h.Scheduler.ScanConflicts(c.Request().Context(), ownerID)
	if err != nil {
		return fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, echo.Map{"conflicts": reps})
}

// Resolve handles POST /v1/scholar/resolutions for a conflict the client
// got from one of the endpoints above.
func (h *ScholarHandler) Resolve(c echo.Context) error {
	ownerID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	var req service.ResolveRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Conflict.Kind == "" {
		return badRequest(c, "conflict is required")
	}
	rs, err := h.Scheduler.Resolve(c.Request().Context(), ownerID, req)
	if err != nil {
		return fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, echo.Map{"resolutions": rs})
}
