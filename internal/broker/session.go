package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const (
	reconnectDelay       = 5 * time.Second
	maxReconnectAttempts = 10
)

var ErrClosed = errors.New("broker session closed")

// Session owns one AMQP connection and channel. When the broker drops the
// connection it dials again with a linear backoff, reruns setup on the new
// channel and then calls the reconnect hook.
type Session struct {
	url   string
	name  string
	setup func(*amqp.Channel) error
	log   *logrus.Logger

	mu          sync.RWMutex
	conn        *amqp.Connection
	channel     *amqp.Channel
	onReconnect func()

	ctx    context.Context
	cancel context.CancelFunc
}

// Dial connects and runs setup (exchange and queue declarations, QoS).
func Dial(url, name string, setup func(*amqp.Channel) error, log *logrus.Logger) (*Session, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		url:    url,
		name:   name,
		setup:  setup,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
	if err := s.connect(); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

func (s *Session) connect() error {
	conn, err := amqp.Dial(s.url)
	if err != nil {
		return fmt.Errorf("failed to dial RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if s.setup != nil {
		if err := s.setup(ch); err != nil {
			ch.Close()
			conn.Close()
			return err
		}
	}

	s.mu.Lock()
	s.conn = conn
	s.channel = ch
	s.mu.Unlock()

	s.log.WithField("session", s.name).Info("connected to RabbitMQ")

	go s.watch(conn)
	return nil
}

func (s *Session) watch(conn *amqp.Connection) {
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	select {
	case err := <-closed:
		if err == nil {
			return
		}
		s.log.WithError(err).WithField("session", s.name).Error("RabbitMQ connection closed unexpectedly")
		s.reconnect()
	case <-s.ctx.Done():
	}
}

func (s *Session) reconnect() {
	s.drop()

	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		if err := s.connect(); err == nil {
			s.log.WithField("session", s.name).Info("reconnected to RabbitMQ")
			s.mu.RLock()
			hook := s.onReconnect
			s.mu.RUnlock()
			if hook != nil {
				hook()
			}
			return
		}

		delay := reconnectDelay * time.Duration(attempt)
		s.log.WithFields(logrus.Fields{
			"session": s.name,
			"attempt": attempt,
			"delay":   delay,
		}).Warn("reconnection failed, retrying")

		select {
		case <-time.After(delay):
		case <-s.ctx.Done():
			return
		}
	}

	s.log.WithField("session", s.name).Error("max reconnection attempts reached, giving up")
}

// OnReconnect registers fn to run after each successful reconnect.
func (s *Session) OnReconnect(fn func()) {
	s.mu.Lock()
	s.onReconnect = fn
	s.mu.Unlock()
}

// Channel returns the live channel, or ErrClosed while disconnected.
func (s *Session) Channel() (*amqp.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.channel == nil {
		return nil, ErrClosed
	}
	return s.channel, nil
}

func (s *Session) drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel != nil {
		s.channel.Close()
		s.channel = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *Session) Close() {
	s.cancel()
	s.drop()
	s.log.WithField("session", s.name).Info("RabbitMQ session closed")
}
