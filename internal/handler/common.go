package handler

import (
	"errors"   // errors.Is/As for sentinel mapping
	"log"      // unexpected errors are logged before answering 500
	"net/http" // status codes
	"strconv"  // path parameter parsing

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/scholar-slot-booking/internal/generator"
	"github.com/iliyamo/scholar-slot-booking/internal/ledger"
	"github.com/iliyamo/scholar-slot-booking/internal/middleware"
	"github.com/iliyamo/scholar-slot-booking/internal/resolution"
	"github.com/iliyamo/scholar-slot-booking/internal/service"
	"github.com/iliyamo/scholar-slot-booking/internal/timeslot"
)

// getUserID extracts the user_id set by JWTAuth.
func getUserID(c echo.Context) (uint64, error) {
	if v, ok := c.Get(middleware.CtxUserID).(uint64); ok && v != 0 {
		return v, nil
	}
	return 0, errors.New("invalid user_id in context")
}

// paramID parses a positive numeric path parameter.
func paramID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// statusOf maps domain errors onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, service.ErrTimeConflict),
		errors.Is(err, ledger.ErrSlotUnavailable), // includes ErrAlreadyClaimed
		errors.Is(err, ledger.ErrNotBooked):
		return http.StatusConflict
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrSlotNotFound),
		errors.Is(err, ledger.ErrBroadcastNotFound),
		errors.Is(err, service.ErrUnknownTemplate):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNothingToPublish),
		errors.Is(err, resolution.ErrGenerationExhausted):
		return http.StatusUnprocessableEntity
	case errors.Is(err, generator.ErrInvalidPolicy),
		errors.Is(err, ledger.ErrInvalidBroadcast),
		errors.Is(err, timeslot.ErrInvalidInterval):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// fail writes err as {"error": "..."}.  Internal errors are logged and
// answered with a generic message.
func fail(c echo.Context, err error, extra echo.Map) error {
	code := statusOf(err)
	body := echo.Map{"error": err.Error()}
	if code == http.StatusInternalServerError {
		log.Printf("handler: %s %s: %v", c.Request().Method, c.Path(), err)
		body["error"] = "internal error"
	}
	for k, v := range extra {
		body[k] = v
	}
	return c.JSON(code, body)
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}
