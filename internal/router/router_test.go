package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/scholar-slot-booking/internal/config"
	"github.com/iliyamo/scholar-slot-booking/internal/conflict"
	"github.com/iliyamo/scholar-slot-booking/internal/handler"
	"github.com/iliyamo/scholar-slot-booking/internal/ledger"
	"github.com/iliyamo/scholar-slot-booking/internal/model"
	"github.com/iliyamo/scholar-slot-booking/internal/service"
	"github.com/iliyamo/scholar-slot-booking/internal/utils"
)

const secret = "router-secret"

func newServer(t *testing.T) *echo.Echo {
	t.Helper()
	s := service.NewScheduler(ledger.NewMemoryLedger(time.Now, 0), service.Options{
		Detector: conflict.NewDetector(0.5),
	})
	e := echo.New()
	RegisterRoutes(e, Deps{
		Public:    handler.NewPublicHandler(s),
		Scholar:   handler.NewScholarHandler(s),
		Student:   handler.NewStudentHandler(s),
		JWTSecret: secret,
		RateLimit: config.RateLimitConfig{
			Enabled: true, Capacity: 2, RefillTokens: 1, RefillInterval: time.Hour,
			TTL: time.Hour, KeyStrategy: "user", Prefix: "rl", LocalFallback: true,
		},
		Cache: config.CacheConfig{
			Enabled: true, Methods: map[string]bool{"GET": true}, TTL: time.Second,
			KeyStrategy: "route_query", Prefix: "cache", LocalFallback: true,
		},
	})
	return e
}

func bearer(t *testing.T, uid uint64, role string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, uid, role, time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok.Token
}

func do(e *echo.Echo, method, path, auth, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	e := newServer(t)
	scholar := bearer(t, 1, model.RoleScholar)
	student := bearer(t, 2, model.RoleStudent)
	publish := `{"title": "Office hours", "policy": {"template_id": "quick-qa"}}`

	tests := []struct {
		name, method, path, auth, body string
		code                           int
	}{
		{"health", http.MethodGet, "/healthz", "", "", http.StatusOK},
		{"templates", http.MethodGet, "/v1/templates", "", "", http.StatusOK},
		{"discovery", http.MethodGet, "/v1/broadcasts", "", "", http.StatusOK},
		{"unknown broadcast", http.MethodGet, "/v1/broadcasts/42", "", "", http.StatusNotFound},
		{"publish anonymous", http.MethodPost, "/v1/scholar/broadcasts", "", publish, http.StatusUnauthorized},
		{"publish as student", http.MethodPost, "/v1/scholar/broadcasts", student, publish, http.StatusForbidden},
		{"publish", http.MethodPost, "/v1/scholar/broadcasts", scholar, publish, http.StatusCreated},
		{"claim as scholar", http.MethodPost, "/v1/slots/1/claim", scholar, "", http.StatusForbidden},
		{"claim", http.MethodPost, "/v1/slots/1/claim", student, "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(e, tt.method, tt.path, tt.auth, tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

func TestStudentRoutesAreRateLimited(t *testing.T) {
	e := newServer(t)
	student := bearer(t, 3, model.RoleStudent)

	for i := 0; i < 2; i++ {
		rec := do(e, http.MethodPost, "/v1/recommendations", student, `{}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := do(e, http.MethodPost, "/v1/recommendations", student, `{}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}
