package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/iliyamo/club-events/internal/config"
	"github.com/iliyamo/club-events/internal/ledger"
	"github.com/iliyamo/club-events/internal/metrics"
)

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("publisher closed")

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// connectFunc opens a channel with the exchange declared.  The returned
// closer releases the underlying connection.
type connectFunc func() (channel, io.Closer, error)

// Publisher sends registration changes to a durable topic exchange.  It
// keeps one connection open and re-dials lazily after a failure, so a
// broker outage costs the failed publishes but never the requests that
// triggered them.
type Publisher struct {
	exchange string
	connect  connectFunc
	log      zerolog.Logger

	mu     sync.Mutex
	ch     channel
	conn   io.Closer
	closed bool
}

var _ ledger.Publisher = (*Publisher)(nil)

// NewPublisher returns a Publisher for cfg.  No connection is made until
// the first Publish.
func NewPublisher(cfg config.BrokerConfig, log zerolog.Logger) *Publisher {
	return newPublisher(cfg.Exchange, dialExchange(cfg.URL, cfg.Exchange), log)
}

func newPublisher(exchange string, connect connectFunc, log zerolog.Logger) *Publisher {
	return &Publisher{exchange: exchange, connect: connect, log: log.With().Str("component", "publisher").Logger()}
}

func dialExchange(url, exchange string) connectFunc {
	return func() (channel, io.Closer, error) {
		conn, err := amqp.Dial(url)
		if err != nil {
			return nil, nil, fmt.Errorf("dial broker: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, nil, fmt.Errorf("open channel: %w", err)
		}
		if err := declareExchange(ch, exchange); err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		return ch, conn, nil
	}
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return nil
}

// Publish implements ledger.Publisher.
func (p *Publisher) Publish(ctx context.Context, c ledger.Change) error {
	ev := FromChange(c)
	err := p.publish(ctx, ev)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RegistrationEventsPublished.WithLabelValues(ev.Type, status).Inc()
	return err
}

func (p *Publisher) publish(ctx context.Context, ev RegistrationEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Type, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPublisherClosed
	}
	if p.ch == nil {
		ch, conn, err := p.connect()
		if err != nil {
			return err
		}
		p.ch, p.conn = ch, conn
		p.log.Info().Str("exchange", p.exchange).Msg("connected to broker")
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, ev.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.MessageID,
		Timestamp:    time.Now().UTC(),
		Type:         ev.Type,
		Body:         body,
	})
	if err != nil {
		// drop the connection; the next publish re-dials
		p.resetLocked()
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	p.log.Debug().
		Str("type", ev.Type).
		Uint64("registration_id", ev.RegistrationID).
		Str("message_id", ev.MessageID).
		Msg("registration event published")
	return nil
}

func (p *Publisher) resetLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch, p.conn = nil, nil
}

// Close releases the connection.  Later publishes fail with
// ErrPublisherClosed.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.resetLocked()
	return nil
}
