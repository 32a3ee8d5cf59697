package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/iliyamo/club-events/internal/utils"
)

// JWTAuth validates a Bearer access token and stores the caller's user id
// (uint64) and role in the echo context under ContextUserID and
// ContextRole.  The request logger and span are tagged with the user id.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			claims, err := utils.ParseAccessToken(secret, strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			uid, _ := claims.UserID()
			c.Set(ContextUserID, uid)
			c.Set(ContextRole, claims.Role)

			req := c.Request()
			ctx := req.Context()
			trace.SpanFromContext(ctx).SetAttributes(attribute.Int64("user.id", int64(uid)))
			l := zerolog.Ctx(ctx).With().Uint64("user_id", uid).Logger()
			c.SetRequest(req.WithContext(l.WithContext(ctx)))
			return next(c)
		}
	}
}
