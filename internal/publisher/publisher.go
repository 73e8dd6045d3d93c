package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/broker"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/config"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/events"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const publishTimeout = 5 * time.Second

// Publisher sends domain events to a durable topic exchange, routed by
// their RoutingKey. Broker failures are logged and the event is dropped.
type Publisher struct {
	exchange string
	session  *broker.Session
	log      *logrus.Logger
}

func New(cfg config.RabbitConfig, log *logrus.Logger) (*Publisher, error) {
	session, err := broker.Dial(cfg.URL(), "events", func(ch *amqp.Channel) error {
		if err := ch.ExchangeDeclare(
			cfg.Exchange,
			amqp.ExchangeTopic,
			true,  // durable
			false, // auto-deleted
			false, // internal
			false, // no-wait
			nil,   // arguments
		); err != nil {
			return fmt.Errorf("failed to declare exchange: %w", err)
		}
		return nil
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return &Publisher{exchange: cfg.Exchange, session: session, log: log}, nil
}

func (p *Publisher) Publish(ctx context.Context, ev events.Event) {
	fields := logrus.Fields{"exchange": p.exchange, "routing_key": ev.RoutingKey()}

	body, err := Encode(ev)
	if err != nil {
		p.log.WithError(err).WithFields(fields).Error("failed to encode event")
		return
	}

	ch, err := p.session.Channel()
	if err != nil {
		p.log.WithError(err).WithFields(fields).Warn("dropping event")
		return
	}

	// The caller's deadline may already be spent by the ledger transaction.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := ch.PublishWithContext(ctx,
		p.exchange,
		ev.RoutingKey(),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	); err != nil {
		p.log.WithError(err).WithFields(fields).Error("failed to publish event")
		return
	}

	p.log.WithFields(fields).Debug("event published")
}

// Encode wraps ev in the {type, data} envelope subscribers decode.
func Encode(ev events.Event) ([]byte, error) {
	return json.Marshal(struct {
		Type string       `json:"type"`
		Data events.Event `json:"data"`
	}{
		Type: ev.RoutingKey(),
		Data: ev,
	})
}

func (p *Publisher) Close() {
	p.session.Close()
}
