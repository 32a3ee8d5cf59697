package handler

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/club-events/internal/model"
	"github.com/iliyamo/club-events/internal/repository"
	"github.com/iliyamo/club-events/internal/sanitize"
)

// OrgHandler serves organizations and the interest catalogue.  Writes are
// ADMIN-only; the router enforces the role.
type OrgHandler struct {
	Orgs *repository.OrgRepo
}

func NewOrgHandler(orgs *repository.OrgRepo) *OrgHandler { return &OrgHandler{Orgs: orgs} }

type createOrgReq struct {
	Name       string `json:"name" validate:"required,max=200"`
	Type       string `json:"type" validate:"required"`
	Address    string `json:"address" validate:"max=500"`
	Email      string `json:"email" validate:"omitempty,email,max=255"`
	Website    string `json:"website" validate:"omitempty,url,max=255"`
	IsVerified bool   `json:"is_verified"`
}

type createInterestReq struct {
	Name string `json:"name" validate:"required,max=80"`
	Icon string `json:"icon" validate:"max=255"`
}

// CreateOrg: POST /v1/orgs
func (h *OrgHandler) CreateOrg(c echo.Context) error {
	var req createOrgReq
	if ok, err := bindValid(c, &req); !ok {
		return err
	}
	orgType := strings.ToLower(strings.TrimSpace(req.Type))
	if !slices.Contains(model.OrgTypes, orgType) {
		return errorJSON(c, http.StatusBadRequest, "type must be one of "+strings.Join(model.OrgTypes, ", "))
	}
	org := model.Organization{
		Name:       sanitize.Text(req.Name),
		Type:       orgType,
		Address:    sanitize.Text(req.Address),
		Email:      req.Email,
		Website:    req.Website,
		IsVerified: req.IsVerified,
	}
	ctx, cancel := dbCtx(c)
	defer cancel()
	if err := h.Orgs.Create(ctx, &org); err != nil {
		return serverError(c, err, "create organization failed")
	}
	return c.JSON(http.StatusCreated, org)
}

// ListOrgs: GET /v1/orgs?type=
func (h *OrgHandler) ListOrgs(c echo.Context) error {
	orgType := strings.ToLower(c.QueryParam("type"))
	if orgType != "" && !slices.Contains(model.OrgTypes, orgType) {
		return errorJSON(c, http.StatusBadRequest, "unknown type")
	}
	ctx, cancel := dbCtx(c)
	defer cancel()
	orgs, err := h.Orgs.List(ctx, orgType)
	if err != nil {
		return serverError(c, err, "list organizations failed")
	}
	return c.JSON(http.StatusOK, echo.Map{"items": orgs})
}

// GetOrg: GET /v1/orgs/:id
func (h *OrgHandler) GetOrg(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return errorJSON(c, http.StatusBadRequest, "invalid organization id")
	}
	ctx, cancel := dbCtx(c)
	defer cancel()
	org, err := h.Orgs.GetByID(ctx, id)
	if err != nil {
		return writeRepoError(c, err, "organization")
	}
	return c.JSON(http.StatusOK, org)
}

// CreateInterest: POST /v1/interests
func (h *OrgHandler) CreateInterest(c echo.Context) error {
	var req createInterestReq
	if ok, err := bindValid(c, &req); !ok {
		return err
	}
	in := model.Interest{Name: strings.ToLower(sanitize.Text(req.Name)), Icon: strings.TrimSpace(req.Icon)}
	if in.Name == "" {
		return errorJSON(c, http.StatusBadRequest, "name required")
	}
	ctx, cancel := dbCtx(c)
	defer cancel()
	if err := h.Orgs.CreateInterest(ctx, &in); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return errorJSON(c, http.StatusConflict, "interest already exists")
		}
		return serverError(c, err, "create interest failed")
	}
	return c.JSON(http.StatusCreated, in)
}

// ListInterests: GET /v1/interests
func (h *OrgHandler) ListInterests(c echo.Context) error {
	ctx, cancel := dbCtx(c)
	defer cancel()
	items, err := h.Orgs.ListInterests(ctx)
	if err != nil {
		return serverError(c, err, "list interests failed")
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}
