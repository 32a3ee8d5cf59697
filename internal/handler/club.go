package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/club-events/internal/model"
	"github.com/iliyamo/club-events/internal/repository"
	"github.com/iliyamo/club-events/internal/sanitize"
)

// ClubHandler serves clubs and club follows.
type ClubHandler struct {
	Clubs *repository.ClubRepo
	Orgs  *repository.OrgRepo
}

func NewClubHandler(clubs *repository.ClubRepo, orgs *repository.OrgRepo) *ClubHandler {
	return &ClubHandler{Clubs: clubs, Orgs: orgs}
}

type createClubReq struct {
	Slug         string  `json:"slug" validate:"required,min=3,max=64,slug"`
	Name         string  `json:"name" validate:"required,max=150"`
	About        string  `json:"about" validate:"max=10000"`
	LocationName string  `json:"location_name" validate:"max=255"`
	ContactEmail string  `json:"contact_email" validate:"omitempty,email,max=255"`
	ContactPhone string  `json:"contact_phone" validate:"omitempty,e164"`
	OrgID        *uint64 `json:"org_id"`
}

type updateClubReq struct {
	Name         *string `json:"name" validate:"omitempty,max=150"`
	About        *string `json:"about" validate:"omitempty,max=10000"`
	LocationName *string `json:"location_name" validate:"omitempty,max=255"`
	ContactEmail *string `json:"contact_email" validate:"omitempty,email,max=255"`
	ContactPhone *string `json:"contact_phone" validate:"omitempty,e164"`
	OrgID        *uint64 `json:"org_id"`
}

// Create: POST /v1/clubs (CLUB role).
func (h *ClubHandler) Create(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return errorJSON(c, http.StatusUnauthorized, "unauthorized")
	}
	var req createClubReq
	if ok, err := bindValid(c, &req); !ok {
		return err
	}
	club := model.Club{
		OwnerID:      uid,
		Slug:         req.Slug,
		Name:         sanitize.Text(req.Name),
		About:        sanitize.HTML(req.About),
		LocationName: sanitize.Text(req.LocationName),
		ContactEmail: req.ContactEmail,
		ContactPhone: req.ContactPhone,
	}
	if club.Name == "" {
		return errorJSON(c, http.StatusBadRequest, "name required")
	}

	ctx, cancel := dbCtx(c)
	defer cancel()

	if req.OrgID != nil {
		if _, err := h.Orgs.GetByID(ctx, *req.OrgID); err != nil {
			if repository.IsNotFound(err) {
				return errorJSON(c, http.StatusBadRequest, "unknown org_id")
			}
			return serverError(c, err, "load organization failed")
		}
		club.OrgID = req.OrgID
	}
	if err := h.Clubs.Create(ctx, &club); err != nil {
		if errors.Is(err, repository.ErrSlugExists) {
			return errorJSON(c, http.StatusConflict, "slug already taken")
		}
		return serverError(c, err, "create club failed")
	}
	return c.JSON(http.StatusCreated, club)
}

// Get: GET /v1/clubs/:id.  A non-numeric id is looked up as a slug.
func (h *ClubHandler) Get(c echo.Context) error {
	ctx, cancel := dbCtx(c)
	defer cancel()

	var (
		club model.Club
		err  error
	)
	if id, ok := parseID(c, "id"); ok {
		club, err = h.Clubs.GetByID(ctx, id)
	} else {
		club, err = h.Clubs.GetBySlug(ctx, c.Param("id"))
	}
	if err != nil {
		return writeRepoError(c, err, "club")
	}
	followers, err := h.Clubs.FollowerCount(ctx, club.ID)
	if err != nil {
		return serverError(c, err, "count followers failed")
	}
	return c.JSON(http.StatusOK, echo.Map{"club": club, "followers": followers})
}

// List: GET /v1/clubs?org_id=&owner_id=&limit=&offset=
func (h *ClubHandler) List(c echo.Context) error {
	limit, offset := page(c)
	var orgID, ownerID uint64
	if v := c.QueryParam("org_id"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return errorJSON(c, http.StatusBadRequest, "invalid org_id")
		}
		orgID = n
	}
	if v := c.QueryParam("owner_id"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return errorJSON(c, http.StatusBadRequest, "invalid owner_id")
		}
		ownerID = n
	}
	ctx, cancel := dbCtx(c)
	defer cancel()
	clubs, err := h.Clubs.List(ctx, orgID, ownerID, limit, offset)
	if err != nil {
		return serverError(c, err, "list clubs failed")
	}
	return c.JSON(http.StatusOK, echo.Map{"items": clubs, "limit": limit, "offset": offset})
}

// Update: PATCH /v1/clubs/:id (owner).
func (h *ClubHandler) Update(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return errorJSON(c, http.StatusUnauthorized, "unauthorized")
	}
	id, ok := parseID(c, "id")
	if !ok {
		return errorJSON(c, http.StatusBadRequest, "invalid club id")
	}
	var req updateClubReq
	if ok, err := bindValid(c, &req); !ok {
		return err
	}
	u := repository.ClubUpdate{ContactEmail: req.ContactEmail, ContactPhone: req.ContactPhone, OrgID: req.OrgID}
	if req.Name != nil {
		s := sanitize.Text(*req.Name)
		if s == "" {
			return errorJSON(c, http.StatusBadRequest, "name required")
		}
		u.Name = &s
	}
	if req.About != nil {
		s := sanitize.HTML(*req.About)
		u.About = &s
	}
	if req.LocationName != nil {
		s := sanitize.Text(*req.LocationName)
		u.LocationName = &s
	}

	ctx, cancel := dbCtx(c)
	defer cancel()
	club, err := h.Clubs.Update(ctx, id, uid, u)
	if err != nil {
		return writeRepoError(c, err, "club")
	}
	return c.JSON(http.StatusOK, club)
}

// Follow: POST /v1/clubs/:id/follow
func (h *ClubHandler) Follow(c echo.Context) error { return h.setFollowing(c, true) }

// Unfollow: DELETE /v1/clubs/:id/follow
func (h *ClubHandler) Unfollow(c echo.Context) error { return h.setFollowing(c, false) }

func (h *ClubHandler) setFollowing(c echo.Context, following bool) error {
	uid, err := getUserID(c)
	if err != nil {
		return errorJSON(c, http.StatusUnauthorized, "unauthorized")
	}
	id, ok := parseID(c, "id")
	if !ok {
		return errorJSON(c, http.StatusBadRequest, "invalid club id")
	}
	ctx, cancel := dbCtx(c)
	defer cancel()
	if _, err := h.Clubs.GetByID(ctx, id); err != nil {
		return writeRepoError(c, err, "club")
	}
	if err := h.Clubs.SetFollowing(ctx, id, uid, following); err != nil {
		return serverError(c, err, "update follow failed")
	}
	return c.JSON(http.StatusOK, echo.Map{"club_id": id, "is_following": following})
}
