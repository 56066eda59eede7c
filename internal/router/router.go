package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/scholar-slot-booking/internal/config"
	"github.com/iliyamo/scholar-slot-booking/internal/handler"
	"github.com/iliyamo/scholar-slot-booking/internal/middleware"
	"github.com/iliyamo/scholar-slot-booking/internal/model"
)

// Deps is everything the route groups need.  Redis may be nil; the limiter
// and cache then fall back to process memory.
type Deps struct {
	Public    *handler.PublicHandler
	Scholar   *handler.ScholarHandler
	Student   *handler.StudentHandler
	JWTSecret string
	Redis     *redis.Client
	RateLimit config.RateLimitConfig
	Cache     config.CacheConfig
}

// RegisterRoutes registers every route group on e.
func RegisterRoutes(e *echo.Echo, d Deps) {
	// Health check for load balancers and monitoring.
	e.GET("/healthz", handler.Health)

	RegisterPublic(e, d.Public, middleware.NewResponseCache(d.Cache, d.Redis))
	RegisterScholar(e, d.Scholar, d.JWTSecret)
	RegisterStudent(e, d.Student, d.JWTSecret, middleware.NewTokenBucket(d.RateLimit, d.Redis))
}

// RegisterPublic registers the unauthenticated browse endpoints.  Discovery
// is the hot read path and goes through the response cache.
func RegisterPublic(e *echo.Echo, p *handler.PublicHandler, cache echo.MiddlewareFunc) {
	e.GET("/v1/templates", p.ListTemplates)
	e.GET("/v1/broadcasts", p.Discover, cache)
	e.GET("/v1/broadcasts/:id", p.GetBroadcast)
}

// RegisterScholar registers the SCHOLAR-only endpoints under /v1/scholar.
func RegisterScholar(e *echo.Echo, h *handler.ScholarHandler, jwtSecret string) {
	g := e.Group(
		"/v1/scholar",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleScholar),
	)
	g.POST("/previews", h.Preview)
	g.POST("/broadcasts", h.Publish)
	g.GET("/broadcasts", h.List)
	g.DELETE("/broadcasts/:id", h.Cancel)
	g.GET("/conflicts", h.Conflicts)
	g.POST("/resolutions", h.Resolve)
}

// RegisterStudent registers the STUDENT-only endpoints.  Claims are the
// contended write path, so the whole group is rate limited per user.
func RegisterStudent(e *echo.Echo, h *handler.StudentHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleStudent),
		limiter,
	)
	g.POST("/slots/:id/claim", h.Claim)
	g.DELETE("/slots/:id/claim", h.Release)
	g.POST("/recommendations", h.Recommend)
}
