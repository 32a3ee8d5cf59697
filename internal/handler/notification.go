package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/club-events/internal/model"
	"github.com/iliyamo/club-events/internal/repository"
)

type NotificationHandler struct {
	Notifications *repository.NotificationRepo
}

func NewNotificationHandler(n *repository.NotificationRepo) *NotificationHandler {
	return &NotificationHandler{Notifications: n}
}

// List: GET /v1/notifications?status=unread|read
func (h *NotificationHandler) List(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return errorJSON(c, http.StatusUnauthorized, "unauthorized")
	}
	status := strings.ToLower(c.QueryParam("status"))
	if status != "" && status != model.NotificationUnread && status != model.NotificationRead {
		return errorJSON(c, http.StatusBadRequest, "status must be unread or read")
	}
	limit, offset := page(c)

	ctx, cancel := dbCtx(c)
	defer cancel()
	items, err := h.Notifications.ListByUser(ctx, uid, status, limit, offset)
	if err != nil {
		return serverError(c, err, "list notifications failed")
	}
	unread, err := h.Notifications.UnreadCount(ctx, uid)
	if err != nil {
		return serverError(c, err, "count notifications failed")
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items, "unread": unread, "limit": limit, "offset": offset})
}

// MarkRead: POST /v1/notifications/:id/read
func (h *NotificationHandler) MarkRead(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return errorJSON(c, http.StatusUnauthorized, "unauthorized")
	}
	id, ok := parseID(c, "id")
	if !ok {
		return errorJSON(c, http.StatusBadRequest, "invalid notification id")
	}
	ctx, cancel := dbCtx(c)
	defer cancel()
	if err := h.Notifications.MarkRead(ctx, id, uid); err != nil {
		return writeRepoError(c, err, "notification")
	}
	return c.NoContent(http.StatusNoContent)
}
