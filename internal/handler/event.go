package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/club-events/internal/ledger"
	"github.com/iliyamo/club-events/internal/model"
	"github.com/iliyamo/club-events/internal/repository"
	"github.com/iliyamo/club-events/internal/sanitize"
)

// EventHandler serves event CRUD.  Updates go through the ledger
// so they serialize with admissions.
type EventHandler struct {
	Events *repository.EventRepo
	Clubs  *repository.ClubRepo
	Orgs   *repository.OrgRepo
	Ledger *ledger.Ledger
	Now    func() time.Time
}

func NewEventHandler(events *repository.EventRepo, clubs *repository.ClubRepo, orgs *repository.OrgRepo, l *ledger.Ledger) *EventHandler {
	if events == nil || clubs == nil || orgs == nil || l == nil {
		panic("nil dependency passed to NewEventHandler")
	}
	return &EventHandler{Events: events, Clubs: clubs, Orgs: orgs, Ledger: l, Now: func() time.Time { return time.Now().UTC() }}
}

type createEventReq struct {
	ClubID        uint64     `json:"club_id" validate:"required"`
	Name          string     `json:"name" validate:"required,max=200"`
	About         string     `json:"about" validate:"max=10000"`
	LocationName  string     `json:"location_name" validate:"max=255"`
	StartsAt      time.Time  `json:"starts_at"`
	DurationHours float64    `json:"duration_hours" validate:"gt=0,lte=720"`
	RegStartsAt   *time.Time `json:"reg_starts_at"`
	RegEndsAt     *time.Time `json:"reg_ends_at"`
	Capacity      *int       `json:"capacity"`
	HasFee        bool       `json:"has_fee"`
	FeeCents      uint32     `json:"fee_cents"`
	InterestIDs   []uint64   `json:"interest_ids" validate:"max=20"`
}

type updateEventReq struct {
	Name          *string    `json:"name" validate:"omitempty,max=200"`
	About         *string    `json:"about" validate:"omitempty,max=10000"`
	LocationName  *string    `json:"location_name" validate:"omitempty,max=255"`
	StartsAt      *time.Time `json:"starts_at"`
	DurationHours *float64   `json:"duration_hours" validate:"omitempty,gt=0,lte=720"`
	RegStartsAt   *time.Time `json:"reg_starts_at"`
	RegEndsAt     *time.Time `json:"reg_ends_at"`
	Status        *string    `json:"status" validate:"omitempty,oneof=open closed"`
	HasFee        *bool      `json:"has_fee"`
	FeeCents      *uint32    `json:"fee_cents"`
	InterestIDs   []uint64   `json:"interest_ids" validate:"omitempty,max=20"`
	// Capacity sets a new limit; clear_capacity removes the limit.
	Capacity      *int `json:"capacity"`
	ClearCapacity bool `json:"clear_capacity"`
}

// eventView is the public shape of an event.
type eventView struct {
	repository.EventDetail
	Remaining *int `json:"remaining"`
	Past      bool `json:"past"`
}

func (h *EventHandler) view(d repository.EventDetail) eventView {
	v := eventView{EventDetail: d, Past: d.IsPast(h.Now())}
	if n := d.Remaining(); n >= 0 {
		v.Remaining = &n
	}
	return v
}

// Create: POST /v1/events (CLUB role, must own the club).
func (h *EventHandler) Create(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return errorJSON(c, http.StatusUnauthorized, "unauthorized")
	}
	var req createEventReq
	if ok, err := bindValid(c, &req); !ok {
		return err
	}
	if req.StartsAt.IsZero() {
		return errorJSON(c, http.StatusBadRequest, "starts_at required")
	}
	if req.Capacity != nil && *req.Capacity < 0 {
		return errorJSON(c, http.StatusBadRequest, "capacity must not be negative")
	}
	if req.HasFee && req.FeeCents == 0 {
		return errorJSON(c, http.StatusBadRequest, "fee_cents required for paid events")
	}
	regStarts := h.Now()
	if req.RegStartsAt != nil {
		regStarts = req.RegStartsAt.UTC()
	}
	in := repository.EventInput{
		ClubID:        req.ClubID,
		Name:          sanitize.Text(req.Name),
		About:         sanitize.HTML(req.About),
		LocationName:  sanitize.Text(req.LocationName),
		StartsAt:      req.StartsAt.UTC(),
		DurationHours: req.DurationHours,
		RegStartsAt:   regStarts,
		RegEndsAt:     utcPtr(req.RegEndsAt),
		Capacity:      req.Capacity,
		HasFee:        req.HasFee,
		InterestIDs:   dedupe(req.InterestIDs),
	}
	if req.HasFee {
		in.FeeCents = req.FeeCents
	}
	if in.Name == "" {
		return errorJSON(c, http.StatusBadRequest, "name required")
	}
	if msg := model.ScheduleProblem(in.StartsAt, in.DurationHours, in.RegStartsAt, in.RegEndsAt); msg != "" {
		return errorJSON(c, http.StatusBadRequest, msg)
	}

	ctx, cancel := dbCtx(c)
	defer cancel()

	club, err := h.Clubs.GetByID(ctx, req.ClubID)
	if err != nil {
		return writeRepoError(c, err, "club")
	}
	if club.OwnerID != uid {
		return errorJSON(c, http.StatusForbidden, "you do not own this club")
	}
	if len(in.InterestIDs) > 0 {
		n, err := h.Orgs.CountInterests(ctx, in.InterestIDs)
		if err != nil {
			return serverError(c, err, "check interests failed")
		}
		if n != len(in.InterestIDs) {
			return errorJSON(c, http.StatusBadRequest, "unknown interest id")
		}
	}
	ev, err := h.Events.Create(ctx, in)
	if err != nil {
		return serverError(c, err, "create event failed")
	}
	zerolog.Ctx(c.Request().Context()).Info().Uint64("event_id", ev.ID).Uint64("club_id", ev.ClubID).Msg("event created")
	return c.JSON(http.StatusCreated, ev)
}

// Get: GET /v1/events/:id
func (h *EventHandler) Get(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return errorJSON(c, http.StatusBadRequest, "invalid event id")
	}
	ctx, cancel := dbCtx(c)
	defer cancel()
	d, err := h.Events.GetDetail(ctx, id)
	if err != nil {
		return writeRepoError(c, err, "event")
	}
	return c.JSON(http.StatusOK, h.view(d))
}

// List: GET /v1/events?club_id=&interest_id=&upcoming=&limit=&offset=
func (h *EventHandler) List(c echo.Context) error {
	limit, offset := page(c)
	f := repository.EventFilter{Limit: limit, Offset: offset, Now: h.Now()}
	if v := c.QueryParam("club_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return errorJSON(c, http.StatusBadRequest, "invalid club_id")
		}
		f.ClubID = id
	}
	if v := c.QueryParam("interest_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return errorJSON(c, http.StatusBadRequest, "invalid interest_id")
		}
		f.InterestID = id
	}
	if v := c.QueryParam("upcoming"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errorJSON(c, http.StatusBadRequest, "invalid upcoming")
		}
		f.Upcoming = b
	}

	ctx, cancel := dbCtx(c)
	defer cancel()
	events, err := h.Events.List(ctx, f)
	if err != nil {
		return serverError(c, err, "list events failed")
	}
	return c.JSON(http.StatusOK, echo.Map{"items": events, "limit": limit, "offset": offset})
}

// Update: PATCH /v1/events/:id (club owner).  Every field, the capacity
// included, is applied by the ledger in one unit of work so that a failed
// write leaves the event untouched.
func (h *EventHandler) Update(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return errorJSON(c, http.StatusUnauthorized, "unauthorized")
	}
	id, ok := parseID(c, "id")
	if !ok {
		return errorJSON(c, http.StatusBadRequest, "invalid event id")
	}
	var req updateEventReq
	if ok, err := bindValid(c, &req); !ok {
		return err
	}

	ctx, cancel := dbCtx(c)
	defer cancel()

	owner, err := h.Events.OwnerID(ctx, id)
	if err != nil {
		return writeRepoError(c, err, "event")
	}
	if owner != uid {
		return errorJSON(c, http.StatusForbidden, "forbidden")
	}

	p := model.EventPatch{
		StartsAt:      utcPtr(req.StartsAt),
		DurationHours: req.DurationHours,
		RegStartsAt:   utcPtr(req.RegStartsAt),
		RegEndsAt:     utcPtr(req.RegEndsAt),
		Status:        req.Status,
		HasFee:        req.HasFee,
		FeeCents:      req.FeeCents,
		Capacity:      req.Capacity,
		ClearCapacity: req.ClearCapacity,
	}
	if req.Name != nil {
		s := sanitize.Text(*req.Name)
		if s == "" {
			return errorJSON(c, http.StatusBadRequest, "name required")
		}
		p.Name = &s
	}
	if req.About != nil {
		s := sanitize.HTML(*req.About)
		p.About = &s
	}
	if req.LocationName != nil {
		s := sanitize.Text(*req.LocationName)
		p.LocationName = &s
	}
	if req.InterestIDs != nil {
		p.InterestIDs = dedupe(req.InterestIDs)
		if len(p.InterestIDs) > 0 {
			n, err := h.Orgs.CountInterests(ctx, p.InterestIDs)
			if err != nil {
				return serverError(c, err, "check interests failed")
			}
			if n != len(p.InterestIDs) {
				return errorJSON(c, http.StatusBadRequest, "unknown interest id")
			}
		}
	}

	if _, err := h.Ledger.UpdateEvent(ctx, id, p); err != nil {
		return writeLedgerError(c, err)
	}
	zerolog.Ctx(c.Request().Context()).Info().Uint64("event_id", id).Bool("capacity", p.TouchesCapacity()).Msg("event updated")
	d, err := h.Events.GetDetail(ctx, id)
	if err != nil {
		return writeRepoError(c, err, "event")
	}
	return c.JSON(http.StatusOK, h.view(d))
}

// Delete: DELETE /v1/events/:id (club owner).  Events that ever had a
// registration are kept.
func (h *EventHandler) Delete(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return errorJSON(c, http.StatusUnauthorized, "unauthorized")
	}
	id, ok := parseID(c, "id")
	if !ok {
		return errorJSON(c, http.StatusBadRequest, "invalid event id")
	}
	ctx, cancel := dbCtx(c)
	defer cancel()
	if err := h.Events.SoftDelete(ctx, id, uid); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return errorJSON(c, http.StatusConflict, "event has registrations")
		}
		return writeRepoError(c, err, "event")
	}
	return c.NoContent(http.StatusNoContent)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func dedupe(ids []uint64) []uint64 {
	seen := make(map[uint64]bool, len(ids))
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if id != 0 && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
