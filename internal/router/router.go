package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/club-events/internal/handler"
	"github.com/iliyamo/club-events/internal/metrics"
	"github.com/iliyamo/club-events/internal/middleware"
	"github.com/iliyamo/club-events/internal/model"
)

// Handlers groups the HTTP handlers mounted by Register.
type Handlers struct {
	Auth          *handler.AuthHandler
	Events        *handler.EventHandler
	Registrations *handler.RegistrationHandler
	Clubs         *handler.ClubHandler
	Orgs          *handler.OrgHandler
	Notifications *handler.NotificationHandler
	Payments      *handler.PaymentHandler
	Ready         *handler.ReadyHandler
}

// Register mounts every route.  cache wraps the anonymous read endpoints
// and may be nil.
func Register(e *echo.Echo, h Handlers, jwtSecret string, cache echo.MiddlewareFunc) {
	RegisterRoutes(e, h.Ready)
	RegisterAuth(e, h.Auth, jwtSecret)
	RegisterPublic(e, h, cache)
	RegisterMember(e, h, jwtSecret)
}

// RegisterRoutes exposes health checks and the Prometheus scrape endpoint.
func RegisterRoutes(e *echo.Echo, ready *handler.ReadyHandler) {
	e.GET("/healthz", handler.Health)
	if ready != nil {
		e.GET("/readyz", ready.Ready)
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
}

// RegisterAuth mounts /v1/auth (no session needed) and /v1/me.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	g.POST("/refresh-access", a.RefreshAccess)
	// logout accepts either a refresh_token body or a bearer token
	g.POST("/logout", a.Logout)
	e.POST("/v1/logout", a.Logout)

	e.GET("/v1/me", a.Me, middleware.JWTAuth(jwtSecret))
}

// RegisterPublic mounts the anonymous browse endpoints.  Counts stay out
// of the cache so they always reflect committed registrations.
func RegisterPublic(e *echo.Echo, h Handlers, cache echo.MiddlewareFunc) {
	var mw []echo.MiddlewareFunc
	if cache != nil {
		mw = append(mw, cache)
	}
	e.GET("/v1/events", h.Events.List, mw...)
	e.GET("/v1/events/:id", h.Events.Get, mw...)
	e.GET("/v1/clubs", h.Clubs.List, mw...)
	e.GET("/v1/clubs/:id", h.Clubs.Get, mw...)
	e.GET("/v1/orgs", h.Orgs.ListOrgs, mw...)
	e.GET("/v1/orgs/:id", h.Orgs.GetOrg, mw...)
	e.GET("/v1/interests", h.Orgs.ListInterests, mw...)

	e.GET("/v1/events/:id/count", h.Registrations.Count)
	// gateway callback; authenticated by shared secret, not JWT
	e.POST("/v1/payments/webhook", h.Payments.Webhook)
}

// RegisterMember mounts the endpoints that need a signed-in user.  Club
// and admin writes add a role guard on top.
func RegisterMember(e *echo.Echo, h Handlers, jwtSecret string) {
	auth := middleware.JWTAuth(jwtSecret)
	club := middleware.RequireRole(model.RoleClub)
	admin := middleware.RequireRole(model.RoleAdmin)

	e.POST("/v1/events/:id/register", h.Registrations.Register, auth)
	e.DELETE("/v1/events/:id/register", h.Registrations.Cancel, auth)
	e.POST("/v1/events/:id/rate", h.Registrations.Rate, auth)
	e.GET("/v1/my-registrations", h.Registrations.Mine, auth)
	e.GET("/v1/tickets/:ticket", h.Registrations.Ticket, auth)

	e.POST("/v1/events", h.Events.Create, auth, club)
	e.PATCH("/v1/events/:id", h.Events.Update, auth, club)
	e.DELETE("/v1/events/:id", h.Events.Delete, auth, club)
	e.GET("/v1/events/:id/registrations", h.Registrations.ListForEvent, auth, club)
	e.POST("/v1/events/:id/checkin", h.Registrations.CheckIn, auth, club)
	e.GET("/v1/events/:id/attendance", h.Registrations.Attendance, auth, club)

	e.POST("/v1/clubs", h.Clubs.Create, auth, club)
	e.PATCH("/v1/clubs/:id", h.Clubs.Update, auth, club)
	e.POST("/v1/clubs/:id/follow", h.Clubs.Follow, auth)
	e.DELETE("/v1/clubs/:id/follow", h.Clubs.Unfollow, auth)

	e.POST("/v1/orgs", h.Orgs.CreateOrg, auth, admin)
	e.POST("/v1/interests", h.Orgs.CreateInterest, auth, admin)

	e.GET("/v1/notifications", h.Notifications.List, auth)
	e.POST("/v1/notifications/:id/read", h.Notifications.MarkRead, auth)

	e.POST("/v1/payments", h.Payments.Create, auth)
	e.GET("/v1/payments/:id", h.Payments.Get, auth)
}
