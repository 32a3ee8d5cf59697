package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/club-events/internal/ledger"
	"github.com/iliyamo/club-events/internal/middleware"
	"github.com/iliyamo/club-events/internal/repository"
)

// dbTimeout bounds every repository call made from a handler.
const dbTimeout = 5 * time.Second

var errNoUser = errors.New("invalid user_id in context")

func getUserID(c echo.Context) (uint64, error) {
	if id, ok := middleware.UserID(c); ok && id != 0 {
		return id, nil
	}
	return 0, errNoUser
}

// dbCtx derives the bounded context used for repository calls.
func dbCtx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), dbTimeout)
}

// parseID reads a positive numeric path parameter.
func parseID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// page reads limit/offset query parameters, clamping limit to [1,100].
func page(c echo.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.QueryParam("limit"))
	offset, _ = strconv.Atoi(c.QueryParam("offset"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func errorJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, echo.Map{"error": msg})
}

// serverError logs err on the request logger and answers with a generic
// 500 so internals never reach the client.
func serverError(c echo.Context, err error, msg string) error {
	zerolog.Ctx(c.Request().Context()).Error().Err(err).Msg(msg)
	return errorJSON(c, http.StatusInternalServerError, msg)
}

// bindValid binds the body into req and runs struct validation.  On
// failure it has already written the 400 response; callers just return.
func bindValid(c echo.Context, req any) (bool, error) {
	if err := c.Bind(req); err != nil {
		return false, errorJSON(c, http.StatusBadRequest, "invalid body")
	}
	if err := c.Validate(req); err != nil {
		return false, c.JSON(http.StatusBadRequest, echo.Map{"error": "validation failed", "fields": fieldErrors(err)})
	}
	return true, nil
}

// writeLedgerError maps ledger outcomes onto HTTP.  Business errors carry
// their stable code; storage faults become a retryable 503.
func writeLedgerError(c echo.Context, err error) error {
	if code := ledger.Code(err); code != "" {
		return c.JSON(ledgerStatus(err), echo.Map{"error": err.Error(), "code": code})
	}
	if errors.Is(err, ledger.ErrStorageUnavailable) {
		zerolog.Ctx(c.Request().Context()).Warn().Err(err).Msg("ledger storage unavailable")
		c.Response().Header().Set("Retry-After", "1")
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "please try again", "code": "unavailable"})
	}
	return serverError(c, err, "registration failed")
}

func ledgerStatus(err error) int {
	switch ledger.Code(err) {
	case "event_not_found", "ticket_not_found":
		return http.StatusNotFound
	case "invalid_score", "invalid_capacity", "invalid_event":
		return http.StatusBadRequest
	case "payment_required":
		return http.StatusPaymentRequired
	default:
		return http.StatusConflict
	}
}

// writeRepoError maps the repository sentinels shared by the CRUD handlers.
func writeRepoError(c echo.Context, err error, what string) error {
	switch {
	case repository.IsNotFound(err):
		return errorJSON(c, http.StatusNotFound, what+" not found")
	case errors.Is(err, repository.ErrForbidden):
		return errorJSON(c, http.StatusForbidden, "forbidden")
	case errors.Is(err, repository.ErrConflict):
		return errorJSON(c, http.StatusConflict, what+" is in use")
	case errors.Is(err, context.DeadlineExceeded):
		c.Response().Header().Set("Retry-After", "1")
		return errorJSON(c, http.StatusServiceUnavailable, "please try again")
	}
	return serverError(c, err, "load "+what+" failed")
}
