package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/deskhub/pkg/logging"
	amqp "github.com/rabbitmq/amqp091-go"
)

type AMQPConfig struct {
	URL      string
	Exchange string
	// Dialer overrides amqp.Dial, mainly for tests.
	Dialer func(url string) (*amqp.Connection, error)
}

// AMQPPublisher mirrors events onto a durable topic exchange so other
// services can follow tenant activity. Routing key is the topic with ':'
// replaced by '.', e.g. "tenant.4.ticket".
type AMQPPublisher struct {
	cfg AMQPConfig
	log *logging.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPPublisher(cfg AMQPConfig, log *logging.Logger) (*AMQPPublisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("amqp URL is required")
	}
	if cfg.Exchange == "" {
		cfg.Exchange = "deskhub.events"
	}
	if cfg.Dialer == nil {
		cfg.Dialer = amqp.Dial
	}
	p := &AMQPPublisher{cfg: cfg, log: log.Sub("amqp")}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AMQPPublisher) connectLocked() error {
	conn, err := p.cfg.Dialer(p.cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare exchange %q: %w", p.cfg.Exchange, err)
	}
	p.conn, p.ch = conn, ch
	p.log.Info().Str("exchange", p.cfg.Exchange).Msg("amqp publisher ready")
	return nil
}

// RoutingKey converts a topic to an AMQP routing key.
func RoutingKey(topic string) string {
	return strings.ReplaceAll(topic, ":", ".")
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// redial once when the broker dropped us
	if p.conn == nil || p.conn.IsClosed() || p.ch == nil || p.ch.IsClosed() {
		p.closeLocked()
		if err := p.connectLocked(); err != nil {
			return err
		}
	}

	return p.ch.PublishWithContext(ctx, p.cfg.Exchange, RoutingKey(ev.Topic), false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Type:         ev.Topic + "." + ev.Action,
		Timestamp:    ev.Time,
		AppId:        "deskhub",
	})
}

func (p *AMQPPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
}

func (p *AMQPPublisher) closeLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}
