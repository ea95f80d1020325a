// Package amqp hands rendered envelopes to a message broker for delivery by a downstream worker.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"dispatchq/pkg/channel"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

const ProviderName = "amqp"

// Config describes the broker target
type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
}

// session is the part of an AMQP channel the publisher needs
type session interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type dialFunc func(url string) (session, error)

// Publisher publishes envelopes over a lazily opened, reused AMQP channel.
// A failed publish drops the channel so the next attempt reconnects.
type Publisher struct {
	cfg  Config
	dial dialFunc
	now  func() time.Time

	mu   sync.Mutex
	sess session
}

type payload struct {
	MessageID   string `json:"message_id"`
	Recipient   string `json:"recipient"`
	Sender      string `json:"sender"`
	ReplyTo     string `json:"reply_to,omitempty"`
	Subject     string `json:"subject"`
	HTMLBody    string `json:"html_body,omitempty"`
	TextBody    string `json:"text_body,omitempty"`
	MessageType string `json:"message_type"`
}

func NewPublisher(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("amqp: url is required")
	}
	if cfg.RoutingKey == "" && cfg.Exchange == "" {
		return nil, fmt.Errorf("amqp: exchange or routing key is required")
	}
	return &Publisher{cfg: cfg, dial: dialBroker, now: time.Now}, nil
}

func (p *Publisher) Name() string { return ProviderName }

// Transmit publishes env as persistent JSON. Every failure is transient.
func (p *Publisher) Transmit(ctx context.Context, env *channel.Envelope) (*channel.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, channel.Transient(ProviderName, err)
	}

	body, err := json.Marshal(payload{
		MessageID:   env.MessageID,
		Recipient:   env.Recipient,
		Sender:      env.Sender,
		ReplyTo:     env.ReplyTo,
		Subject:     env.Subject,
		HTMLBody:    env.HTMLBody,
		TextBody:    env.TextBody,
		MessageType: env.MessageType,
	})
	if err != nil {
		return nil, channel.Transient(ProviderName, fmt.Errorf("failed to encode envelope: %w", err))
	}

	publishing := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     uuid.NewString(),
		CorrelationId: env.MessageID,
		Type:          env.MessageType,
		Timestamp:     p.now(),
		Body:          body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sess == nil {
		sess, err := p.dial(p.cfg.URL)
		if err != nil {
			return nil, channel.Transient(ProviderName, fmt.Errorf("failed to connect to broker: %w", err))
		}
		p.sess = sess
	}

	if err := p.sess.Publish(p.cfg.Exchange, p.cfg.RoutingKey, false, false, publishing); err != nil {
		_ = p.sess.Close()
		p.sess = nil
		return nil, channel.Transient(ProviderName, fmt.Errorf("failed to publish: %w", err))
	}

	return &channel.Receipt{ProviderMessageID: publishing.MessageId, Provider: ProviderName}, nil
}

// Close releases the broker connection, if any
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess == nil {
		return nil
	}
	err := p.sess.Close()
	p.sess = nil
	return err
}

type brokerSession struct {
	conn *amqp.Connection
	*amqp.Channel
}

func (s *brokerSession) Close() error {
	chErr := s.Channel.Close()
	connErr := s.conn.Close()
	if chErr != nil {
		return chErr
	}
	return connErr
}

func dialBroker(url string) (session, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return &brokerSession{conn: conn, Channel: ch}, nil
}
