package handler

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/club-events/internal/ledger"
	"github.com/iliyamo/club-events/internal/model"
	"github.com/iliyamo/club-events/internal/repository"
	"github.com/iliyamo/club-events/internal/sanitize"
)

// RegistrationHandler exposes the ledger over HTTP, plus the read-only
// registration listings.
type RegistrationHandler struct {
	Ledger        *ledger.Ledger
	Events        *repository.EventRepo
	Registrations *repository.RegistrationRepo
}

func NewRegistrationHandler(l *ledger.Ledger, events *repository.EventRepo, regs *repository.RegistrationRepo) *RegistrationHandler {
	if l == nil || events == nil || regs == nil {
		panic("nil dependency passed to NewRegistrationHandler")
	}
	return &RegistrationHandler{Ledger: l, Events: events, Registrations: regs}
}

// Register: POST /v1/events/:id/register
func (h *RegistrationHandler) Register(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return errorJSON(c, http.StatusUnauthorized, "unauthorized")
	}
	eventID, ok := parseID(c, "id")
	if !ok {
		return errorJSON(c, http.StatusBadRequest, "invalid event id")
	}
	reg, err := h.Ledger.Admit(c.Request().Context(), eventID, uid)
	if err != nil {
		return writeLedgerError(c, err)
	}
	zerolog.Ctx(c.Request().Context()).Info().
		Uint64("event_id", eventID).Uint64("registration_id", reg.ID).Msg("registration admitted")
	return c.JSON(http.StatusCreated, reg)
}

// Cancel: DELETE /v1/events/:id/register
func (h *RegistrationHandler) Cancel(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return errorJSON(c, http.StatusUnauthorized, "unauthorized")
	}
	eventID, ok := parseID(c, "id")
	if !ok {
		return errorJSON(c, http.StatusBadRequest, "invalid event id")
	}
	reg, err := h.Ledger.Cancel(c.Request().Context(), eventID, uid)
	if err != nil {
		return writeLedgerError(c, err)
	}
	return c.JSON(http.StatusOK, reg)
}

// Count: GET /v1/events/:id/count
func (h *RegistrationHandler) Count(c echo.Context) error {
	eventID, ok := parseID(c, "id")
	if !ok {
		return errorJSON(c, http.StatusBadRequest, "invalid event id")
	}
	n, err := h.Ledger.GetActiveCount(c.Request().Context(), eventID)
	if err != nil {
		return writeLedgerError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"event_id": eventID, "active_count": n})
}

// ListForEvent: GET /v1/events/:id/registrations (club owner only).
func (h *RegistrationHandler) ListForEvent(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return errorJSON(c, http.StatusUnauthorized, "unauthorized")
	}
	eventID, ok := parseID(c, "id")
	if !ok {
		return errorJSON(c, http.StatusBadRequest, "invalid event id")
	}
	status := strings.ToLower(c.QueryParam("status"))
	if status != "" && status != model.RegistrationActive && status != model.RegistrationCancelled {
		return errorJSON(c, http.StatusBadRequest, "status must be active or cancelled")
	}
	var attended *bool
	if v := c.QueryParam("attended"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errorJSON(c, http.StatusBadRequest, "attended must be true or false")
		}
		attended = &b
	}
	limit, offset := page(c)

	ctx, cancel := dbCtx(c)
	defer cancel()

	owner, err := h.Events.OwnerID(ctx, eventID)
	if err != nil {
		return writeRepoError(c, err, "event")
	}
	if owner != uid {
		return errorJSON(c, http.StatusForbidden, "forbidden")
	}
	items, err := h.Registrations.ListByEvent(ctx, eventID, status, attended, limit, offset)
	if err != nil {
		return serverError(c, err, "list registrations failed")
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items, "limit": limit, "offset": offset})
}

type checkInReq struct {
	TicketID string `json:"ticket_id" validate:"required,max=64"`
}

// CheckIn: POST /v1/events/:id/checkin (club owner).  Marks the holder of
// ticket_id as attended.
func (h *RegistrationHandler) CheckIn(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return errorJSON(c, http.StatusUnauthorized, "unauthorized")
	}
	eventID, ok := parseID(c, "id")
	if !ok {
		return errorJSON(c, http.StatusBadRequest, "invalid event id")
	}
	var req checkInReq
	if ok, err := bindValid(c, &req); !ok {
		return err
	}

	ctx, cancel := dbCtx(c)
	defer cancel()
	owner, err := h.Events.OwnerID(ctx, eventID)
	if err != nil {
		return writeRepoError(c, err, "event")
	}
	if owner != uid {
		return errorJSON(c, http.StatusForbidden, "forbidden")
	}

	reg, err := h.Ledger.CheckIn(c.Request().Context(), eventID, strings.TrimSpace(req.TicketID))
	if err != nil {
		return writeLedgerError(c, err)
	}
	zerolog.Ctx(c.Request().Context()).Info().
		Uint64("event_id", eventID).Uint64("registration_id", reg.ID).Msg("attendee checked in")
	return c.JSON(http.StatusOK, reg)
}

// Attendance: GET /v1/events/:id/attendance (club owner).
func (h *RegistrationHandler) Attendance(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return errorJSON(c, http.StatusUnauthorized, "unauthorized")
	}
	eventID, ok := parseID(c, "id")
	if !ok {
		return errorJSON(c, http.StatusBadRequest, "invalid event id")
	}
	ctx, cancel := dbCtx(c)
	defer cancel()
	owner, err := h.Events.OwnerID(ctx, eventID)
	if err != nil {
		return writeRepoError(c, err, "event")
	}
	if owner != uid {
		return errorJSON(c, http.StatusForbidden, "forbidden")
	}
	s, err := h.Registrations.Attendance(ctx, eventID)
	if err != nil {
		return serverError(c, err, "attendance failed")
	}
	rate := 0.0
	if s.Active > 0 {
		rate = math.Round(float64(s.Attended)/float64(s.Active)*1000) / 1000
	}
	return c.JSON(http.StatusOK, echo.Map{
		"event_id":        s.EventID,
		"active":          s.Active,
		"attended":        s.Attended,
		"absent":          s.Absent,
		"attendance_rate": rate,
	})
}

// Mine: GET /v1/my-registrations?active=true
func (h *RegistrationHandler) Mine(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return errorJSON(c, http.StatusUnauthorized, "unauthorized")
	}
	activeOnly := c.QueryParam("active") == "true"
	ctx, cancel := dbCtx(c)
	defer cancel()
	items, err := h.Registrations.ListByUser(ctx, uid, activeOnly)
	if err != nil {
		return serverError(c, err, "list registrations failed")
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// Ticket: GET /v1/tickets/:ticket.  Visible to the attendee and to the
// hosting club's owner.
func (h *RegistrationHandler) Ticket(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return errorJSON(c, http.StatusUnauthorized, "unauthorized")
	}
	ticketID := strings.TrimSpace(c.Param("ticket"))
	if ticketID == "" || len(ticketID) > 64 {
		return errorJSON(c, http.StatusBadRequest, "invalid ticket")
	}
	ctx, cancel := dbCtx(c)
	defer cancel()
	t, err := h.Registrations.GetByTicket(ctx, ticketID)
	if err != nil {
		return writeRepoError(c, err, "ticket")
	}
	if t.UserID != uid && t.ClubOwner != uid {
		// same answer as a missing ticket so ids cannot be guessed
		return errorJSON(c, http.StatusNotFound, "ticket not found")
	}
	return c.JSON(http.StatusOK, t)
}

type rateReq struct {
	Score  *float64 `json:"score" validate:"required"`
	Review string   `json:"review" validate:"max=2000"`
}

// Rate: POST /v1/events/:id/rate
func (h *RegistrationHandler) Rate(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return errorJSON(c, http.StatusUnauthorized, "unauthorized")
	}
	eventID, ok := parseID(c, "id")
	if !ok {
		return errorJSON(c, http.StatusBadRequest, "invalid event id")
	}
	var req rateReq
	if ok, err := bindValid(c, &req); !ok {
		return err
	}
	score := math.Round(*req.Score*10) / 10
	r, err := h.Ledger.Rate(c.Request().Context(), eventID, uid, score, sanitize.Text(req.Review))
	if err != nil {
		return writeLedgerError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}
