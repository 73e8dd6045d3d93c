package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/broker"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/config"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/processor"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const handoffTimeout = 30 * time.Second

// Consumer reads ledger intents from the intake queue and hands them to
// the processor pool, which settles each delivery.
type Consumer struct {
	cfg     config.RabbitConfig
	log     *logrus.Logger
	intents chan<- processor.IncomingIntent
	session *broker.Session
	wg      sync.WaitGroup
}

func New(cfg config.RabbitConfig, log *logrus.Logger, intents chan<- processor.IncomingIntent) (*Consumer, error) {
	c := &Consumer{cfg: cfg, log: log, intents: intents}

	session, err := broker.Dial(cfg.URL(), "intake", c.declare, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	c.session = session
	return c, nil
}

func (c *Consumer) declare(ch *amqp.Channel) error {
	if _, err := ch.QueueDeclare(
		c.cfg.IntentQueue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	return nil
}

// Start consumes until ctx is cancelled, resuming after reconnects.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.consume(ctx); err != nil {
		return err
	}
	c.session.OnReconnect(func() {
		if err := c.consume(ctx); err != nil && ctx.Err() == nil {
			c.log.WithError(err).Error("failed to resume consuming after reconnect")
		}
	})

	<-ctx.Done()
	c.log.Info("stopping consumer")
	c.wg.Wait()
	return nil
}

func (c *Consumer) consume(ctx context.Context) error {
	ch, err := c.session.Channel()
	if err != nil {
		return err
	}

	msgs, err := ch.Consume(
		c.cfg.IntentQueue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.log.WithField("queue", c.cfg.IntentQueue).Info("consuming intents")
	c.wg.Add(1)
	go c.readLoop(ctx, msgs)
	return nil
}

func (c *Consumer) readLoop(ctx context.Context, msgs <-chan amqp.Delivery) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				c.log.Warn("delivery channel closed")
				return
			}
			c.dispatch(ctx, msg)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, msg amqp.Delivery) {
	payload, err := Decode(msg.Body)
	if err != nil {
		c.log.WithFields(logrus.Fields{
			"error": err,
			"body":  string(msg.Body),
		}).Error("failed to decode intent")

		// Malformed intents never become valid; drop them.
		c.nack(msg, false)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, handoffTimeout)
	defer cancel()

	select {
	case c.intents <- processor.IncomingIntent{Payload: payload, Delivery: msg}:
		c.log.WithFields(logrus.Fields{
			"intent_id": payload.IntentID,
			"action":    payload.Action,
		}).Debug("intent sent to processor")
	case <-ctx.Done():
		c.log.WithField("intent_id", payload.IntentID).Warn("processor busy, requeueing intent")
		c.nack(msg, true)
	}
}

func (c *Consumer) nack(msg amqp.Delivery, requeue bool) {
	if err := msg.Nack(false, requeue); err != nil {
		c.log.WithError(err).WithField("requeue", requeue).Warn("failed to nack message")
	}
}

// Decode parses and validates one intent body.
func Decode(body []byte) (processor.IntentMessage, error) {
	var payload processor.IntentMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return payload, fmt.Errorf("unmarshal intent: %w", err)
	}
	if err := payload.Validate(); err != nil {
		return payload, err
	}
	return payload, nil
}

func (c *Consumer) Close() {
	c.session.Close()
	c.wg.Wait()
	c.log.Info("consumer closed")
}
