package handler

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/club-events/internal/model"
	"github.com/iliyamo/club-events/internal/repository"
)

// WebhookSecretHeader carries the shared secret on gateway callbacks.
const WebhookSecretHeader = "X-Webhook-Secret"

// PaymentHandler creates payment orders for paid events and settles them
// from gateway callbacks.
type PaymentHandler struct {
	Payments      *repository.PaymentRepo
	Events        *repository.EventRepo
	Registrations *repository.RegistrationRepo
	Notifications *repository.NotificationRepo
	WebhookSecret string
	Currency      string
}

func NewPaymentHandler(p *repository.PaymentRepo, e *repository.EventRepo, r *repository.RegistrationRepo, n *repository.NotificationRepo, secret string) *PaymentHandler {
	return &PaymentHandler{Payments: p, Events: e, Registrations: r, Notifications: n, WebhookSecret: secret, Currency: "USD"}
}

type createPaymentReq struct {
	EventID uint64 `json:"event_id" validate:"required"`
}

type webhookReq struct {
	OrderID     string `json:"order_id" validate:"required,uuid"`
	Status      string `json:"status" validate:"required,oneof=paid failed"`
	ProviderRef string `json:"provider_ref" validate:"max=128"`
}

// Create: POST /v1/payments.  Returns the open order when one exists so
// retries do not create duplicates.
func (h *PaymentHandler) Create(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return errorJSON(c, http.StatusUnauthorized, "unauthorized")
	}
	var req createPaymentReq
	if ok, err := bindValid(c, &req); !ok {
		return err
	}

	ctx, cancel := dbCtx(c)
	defer cancel()

	ev, err := h.Events.GetByID(ctx, req.EventID)
	if err != nil {
		return writeRepoError(c, err, "event")
	}
	if !ev.HasFee || ev.FeeCents == 0 {
		return errorJSON(c, http.StatusBadRequest, "event has no fee")
	}
	reg, err := h.Registrations.GetActive(ctx, ev.ID, uid)
	if err != nil {
		if repository.IsNotFound(err) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "no active registration for this event", "code": "not_registered"})
		}
		return serverError(c, err, "load registration failed")
	}
	if reg.IsPaid {
		return c.JSON(http.StatusConflict, echo.Map{"error": "registration already paid", "code": "already_paid"})
	}
	if open, err := h.Payments.OpenForRegistration(ctx, reg.ID); err == nil {
		return c.JSON(http.StatusOK, open)
	} else if !repository.IsNotFound(err) {
		return serverError(c, err, "load payment failed")
	}

	order := model.PaymentOrder{
		ID:             uuid.NewString(),
		RegistrationID: reg.ID,
		UserID:         uid,
		AmountCents:    ev.FeeCents,
		Currency:       h.Currency,
	}
	if err := h.Payments.Create(ctx, &order); err != nil {
		return serverError(c, err, "create payment failed")
	}
	return c.JSON(http.StatusCreated, order)
}

// Get: GET /v1/payments/:id (order owner).
func (h *PaymentHandler) Get(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return errorJSON(c, http.StatusUnauthorized, "unauthorized")
	}
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid payment id")
	}
	ctx, cancel := dbCtx(c)
	defer cancel()
	p, err := h.Payments.GetByID(ctx, id)
	if err != nil {
		return writeRepoError(c, err, "payment")
	}
	if p.UserID != uid {
		return errorJSON(c, http.StatusNotFound, "payment not found")
	}
	return c.JSON(http.StatusOK, p)
}

// Webhook: POST /v1/payments/webhook.  The gateway proves itself with the
// shared secret header; an unset secret disables the endpoint.
func (h *PaymentHandler) Webhook(c echo.Context) error {
	if h.WebhookSecret == "" {
		return errorJSON(c, http.StatusNotFound, "not found")
	}
	got := c.Request().Header.Get(WebhookSecretHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.WebhookSecret)) != 1 {
		return errorJSON(c, http.StatusUnauthorized, "invalid webhook secret")
	}
	var req webhookReq
	if ok, err := bindValid(c, &req); !ok {
		return err
	}
	var ref *string
	if s := strings.TrimSpace(req.ProviderRef); s != "" {
		ref = &s
	}

	ctx, cancel := dbCtx(c)
	defer cancel()
	p, changed, err := h.Payments.Settle(ctx, req.OrderID, req.Status, ref)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return errorJSON(c, http.StatusConflict, "order already settled")
		}
		return writeRepoError(c, err, "payment")
	}

	log := zerolog.Ctx(c.Request().Context())
	if !changed {
		log.Debug().Str("order_id", p.ID).Str("status", p.Status).Msg("payment callback replayed")
		return c.JSON(http.StatusOK, p)
	}
	log.Info().Str("order_id", p.ID).Str("status", p.Status).Msg("payment settled")
	if p.Status == model.PaymentPaid && h.Notifications != nil {
		n := model.Notification{
			UserID: p.UserID,
			Type:   model.NotificationPaymentSucceeded,
			Title:  "Payment received",
		}
		if reg, err := h.Registrations.GetByID(ctx, p.RegistrationID); err == nil {
			n.EventID = &reg.EventID
		}
		if err := h.Notifications.Create(ctx, &n); err != nil {
			log.Warn().Err(err).Str("order_id", p.ID).Msg("payment notification failed")
		}
	}
	return c.JSON(http.StatusOK, p)
}
