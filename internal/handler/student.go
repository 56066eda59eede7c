package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/scholar-slot-booking/internal/ledger"
	"github.com/iliyamo/scholar-slot-booking/internal/preference"
	"github.com/iliyamo/scholar-slot-booking/internal/service"
)

// StudentHandler serves claiming, releasing and recommendations.  Every
// method assumes JWTAuth and RequireRole(STUDENT) ran first.
type StudentHandler struct {
	Scheduler *service.Scheduler
}

func NewStudentHandler(s *service.Scheduler) *StudentHandler {
	if s == nil {
		panic("nil scheduler passed to NewStudentHandler")
	}
	return &StudentHandler{Scheduler: s}
}

// Claim handles POST /v1/slots/:id/claim.  The optional body carries the
// student's profile, used to rank alternatives when the slot is lost.  A
// lost slot answers 409 with those alternatives attached.
func (h *StudentHandler) Claim(c echo.Context) error {
	studentID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	slotID, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid slot id")
	}
	var body struct {
		Profile preference.Profile `json:"profile"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}

	ctx := c.Request().Context()
	slot, err := h.Scheduler.Claim(ctx, slotID, studentID)
	if err == nil {
		return c.JSON(http.StatusOK, slot)
	}

	var ce *service.ConflictError
	switch {
	case errors.As(err, &ce):
		return fail(c, err, echo.Map{"conflict": ce.Conflict})
	case errors.Is(err, ledger.ErrAlreadyClaimed):
		return fail(c, err, nil)
	case errors.Is(err, ledger.ErrSlotUnavailable):
		alt, aerr := h.Scheduler.Alternatives(ctx, slotID, studentID, body.Profile)
		if aerr != nil {
			log.Printf("handler: alternatives for slot %d: %v", slotID, aerr)
			return fail(c, err, nil)
		}
		return fail(c, err, echo.Map{"alternatives": alt})
	}
	return fail(c, err, nil)
}

// Release handles DELETE /v1/slots/:id/claim.
func (h *StudentHandler) Release(c echo.Context) error {
	studentID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	slotID, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid slot id")
	}
	slot, err := h.Scheduler.Release(c.Request().Context(), slotID, studentID)
	if err != nil {
		return fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, slot)
}

// Recommend handles POST /v1/recommendations.  Missing profile fields are
// inferred from the supplied history.
func (h *StudentHandler) Recommend(c echo.Context) error {
	studentID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	var req service.RecommendRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	out, err := h.Scheduler.Recommend(c.Request().Context(), studentID, req)
	if err != nil {
		return fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, echo.Map{"recommendations": out})
}
