package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/club-events/internal/config"
	"github.com/iliyamo/club-events/internal/utils"
)

const secret = "test-secret"

func bearer(t *testing.T, uid uint64, role string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, uid, role, 5)
	require.NoError(t, err)
	return "Bearer " + tok.Token
}

func serve(e *echo.Echo, method, path string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "10.0.0.1:1234"
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuthAndRole(t *testing.T) {
	e := echo.New()
	var seen uint64
	g := e.Group("", JWTAuth(secret))
	g.GET("/me", func(c echo.Context) error {
		seen, _ = UserID(c)
		return c.String(http.StatusOK, Role(c))
	})
	g.GET("/admin", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, RequireRole("ADMIN"))

	rec := serve(e, http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(e, http.MethodGet, "/me", map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(e, http.MethodGet, "/me", map[string]string{"Authorization": bearer(t, 42, "CLUB")})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CLUB", rec.Body.String())
	assert.Equal(t, uint64(42), seen)

	rec = serve(e, http.MethodGet, "/admin", map[string]string{"Authorization": bearer(t, 42, "CLUB")})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = serve(e, http.MethodGet, "/admin", map[string]string{"Authorization": bearer(t, 1, "ADMIN")})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequestLoggerAssignsRequestID(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	e.Use(RequestLogger(zerolog.New(&buf)))
	var ctxID string
	e.GET("/x", func(c echo.Context) error {
		ctxID = RequestID(c.Request().Context())
		zerolog.Ctx(c.Request().Context()).Info().Msg("inside")
		return c.NoContent(http.StatusNoContent)
	})

	rec := serve(e, http.MethodGet, "/x", nil)
	rid := rec.Header().Get(echo.HeaderXRequestID)
	require.NotEmpty(t, rid)
	assert.Equal(t, rid, ctxID)
	assert.Equal(t, 2, strings.Count(buf.String(), `"request_id":"`+rid+`"`))
	assert.Contains(t, buf.String(), `"route":"/x"`)

	rec = serve(e, http.MethodGet, "/x", map[string]string{echo.HeaderXRequestID: "abc"})
	assert.Equal(t, "abc", rec.Header().Get(echo.HeaderXRequestID))
}

func rateCfg() config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled:        true,
		Capacity:       2,
		RefillTokens:   1,
		RefillInterval: time.Hour,
		TTL:            time.Hour,
		KeyStrategy:    "ip",
		Prefix:         "rl",
		FallbackRPS:    0.001,
		FallbackBurst:  2,
	}
}

func TestTokenBucketRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	e := echo.New()
	e.Use(NewTokenBucket(rateCfg(), rdb, zerolog.Nop()))
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	assert.Equal(t, http.StatusNoContent, serve(e, http.MethodGet, "/x", nil).Code)
	rec := serve(e, http.MethodGet, "/x", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = serve(e, http.MethodGet, "/x", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.True(t, mr.Exists("rl:ip:10.0.0.1"))
}

func TestTokenBucketFallsBackWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	mr.Close()

	e := echo.New()
	e.Use(NewTokenBucket(rateCfg(), rdb, zerolog.Nop()))
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	assert.Equal(t, http.StatusNoContent, serve(e, http.MethodGet, "/x", nil).Code)
	assert.Equal(t, http.StatusNoContent, serve(e, http.MethodGet, "/x", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(e, http.MethodGet, "/x", nil).Code)
}

func TestTokenBucketWithoutRedisUsesLocalLimiter(t *testing.T) {
	e := echo.New()
	e.Use(NewTokenBucket(rateCfg(), nil, zerolog.Nop()))
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	serve(e, http.MethodGet, "/x", nil)
	serve(e, http.MethodGet, "/x", nil)
	assert.Equal(t, http.StatusTooManyRequests, serve(e, http.MethodGet, "/x", nil).Code)
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg := config.CacheConfig{
		Enabled:      true,
		Methods:      map[string]bool{"GET": true},
		TTL:          time.Minute,
		KeyStrategy:  "route_query",
		Prefix:       "cache",
		MaxBodyBytes: 1 << 10,
	}

	calls := 0
	e := echo.New()
	e.Use(NewRedisCache(cfg, rdb))
	e.GET("/events/:id", func(c echo.Context) error {
		calls++
		return c.JSON(http.StatusOK, map[string]string{"id": c.Param("id")})
	})

	rec := serve(e, http.MethodGet, "/events/1", nil)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	rec = serve(e, http.MethodGet, "/events/1", nil)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"id":"1"}`, rec.Body.String())
	assert.Equal(t, echo.MIMEApplicationJSON, rec.Header().Get(echo.HeaderContentType))

	// different id, different entry
	rec = serve(e, http.MethodGet, "/events/2", nil)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"id":"2"}`, rec.Body.String())

	// authenticated requests bypass the shared cache
	rec = serve(e, http.MethodGet, "/events/1", map[string]string{"Authorization": "Bearer x"})
	assert.Empty(t, rec.Header().Get("X-Cache"))
	assert.Equal(t, 3, calls)
}
