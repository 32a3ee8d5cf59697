package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/iliyamo/club-events/internal/config"
	"github.com/iliyamo/club-events/internal/email"
	"github.com/iliyamo/club-events/internal/metrics"
	"github.com/iliyamo/club-events/internal/model"
)

// ErrMalformed marks a message that can never be processed.  Such
// messages are rejected without requeue.
var ErrMalformed = errors.New("malformed message")

const (
	maxBackoff = 30 * time.Second
	prefetch   = 20
)

// NotificationStore persists in-app notifications.
type NotificationStore interface {
	Create(ctx context.Context, n *model.Notification) error
}

// ContactLookup resolves a user's mailing address.
type ContactLookup interface {
	Contact(ctx context.Context, userID uint64) (email, fullName string, err error)
}

// Mailer sends registration emails.
type Mailer interface {
	SendRegistrationConfirmed(ctx context.Context, to string, data email.RegistrationData) error
	SendRegistrationCancelled(ctx context.Context, to string, data email.RegistrationData) error
}

// Consumer turns registration events into notifications for the
// registrant and, when a Mailer is set, an email.
type Consumer struct {
	cfg      config.BrokerConfig
	store    NotificationStore
	contacts ContactLookup
	mailer   Mailer
	log      zerolog.Logger
}

// NewConsumer returns a Consumer writing to store.  contacts and mailer may
// both be nil, in which case no email is sent.
func NewConsumer(cfg config.BrokerConfig, store NotificationStore, contacts ContactLookup, mailer Mailer, log zerolog.Logger) *Consumer {
	return &Consumer{
		cfg:      cfg,
		store:    store,
		contacts: contacts,
		mailer:   mailer,
		log:      log.With().Str("component", "notifier").Logger(),
	}
}

// Run consumes until ctx is cancelled, reconnecting with exponential
// backoff whenever the broker connection drops.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.cfg.URL)
		if err == nil {
			backoff = time.Second
			err = c.consume(ctx, conn)
			_ = conn.Close()
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn().Err(err).Msg("consume loop ended; reconnecting")
		} else {
			c.log.Warn().Err(err).Dur("retry_in", backoff).Msg("failed to dial broker")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := declareExchange(ch, c.cfg.Exchange); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(c.cfg.NotificationQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	for _, key := range []string{RoutingActivated, RoutingCancelled} {
		if err := ch.QueueBind(c.cfg.NotificationQueue, key, c.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("queue bind %s: %w", key, err)
		}
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		c.log.Warn().Err(err).Msg("set QoS failed")
	}
	msgs, err := ch.Consume(c.cfg.NotificationQueue, "notifier", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	c.log.Info().Str("queue", c.cfg.NotificationQueue).Msg("notifier consuming")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.Deliver(ctx, d)
		}
	}
}

// Deliver handles one delivery and acknowledges it.  Malformed messages
// are dropped; other failures are requeued once and then dropped so a
// poison message cannot loop forever.
func (c *Consumer) Deliver(ctx context.Context, d amqp.Delivery) {
	err := c.Handle(ctx, d.Body)
	if err == nil {
		_ = d.Ack(false)
		metrics.NotificationsConsumed.WithLabelValues("ack").Inc()
		return
	}
	requeue := !errors.Is(err, ErrMalformed) && !d.Redelivered
	c.log.Error().Err(err).
		Str("message_id", d.MessageId).
		Bool("requeue", requeue).
		Msg("handle registration event failed")
	_ = d.Nack(false, requeue)
	metrics.NotificationsConsumed.WithLabelValues("nack").Inc()
}

// Handle processes one message body.
func (c *Consumer) Handle(ctx context.Context, body []byte) error {
	var ev RegistrationEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if ev.UserID == 0 || ev.EventID == 0 {
		return fmt.Errorf("%w: missing user or event id", ErrMalformed)
	}

	n := model.Notification{UserID: ev.UserID, EventID: &ev.EventID, Status: model.NotificationUnread}
	switch ev.Type {
	case RoutingActivated:
		n.Type = model.NotificationEventRegistered
		n.Title = "Registration confirmed"
		n.Description = fmt.Sprintf("You are registered for %s. Ticket: %s", ev.EventName, ev.TicketID)
	case RoutingCancelled:
		n.Type = model.NotificationRegistrationCancelled
		n.Title = "Registration cancelled"
		n.Description = fmt.Sprintf("Your registration for %s was cancelled.", ev.EventName)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformed, ev.Type)
	}
	if err := c.store.Create(ctx, &n); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}
	c.log.Info().
		Str("type", ev.Type).
		Uint64("user_id", ev.UserID).
		Uint64("event_id", ev.EventID).
		Uint64("notification_id", n.ID).
		Msg("notification stored")

	c.sendEmail(ctx, ev)
	return nil
}

// sendEmail is best effort: the notification row is already stored.
func (c *Consumer) sendEmail(ctx context.Context, ev RegistrationEvent) {
	if c.mailer == nil || c.contacts == nil {
		return
	}
	to, _, err := c.contacts.Contact(ctx, ev.UserID)
	if err != nil {
		c.log.Warn().Err(err).Uint64("user_id", ev.UserID).Msg("lookup contact failed")
		return
	}
	data := email.RegistrationData{EventName: ev.EventName, TicketID: ev.TicketID}
	if ev.Type == RoutingActivated {
		err = c.mailer.SendRegistrationConfirmed(ctx, to, data)
	} else {
		err = c.mailer.SendRegistrationCancelled(ctx, to, data)
	}
	if err != nil {
		c.log.Warn().Err(err).Uint64("user_id", ev.UserID).Str("type", ev.Type).Msg("send email failed")
	}
}
