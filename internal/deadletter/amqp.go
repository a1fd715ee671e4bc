package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/haasonsaas/servicedesk/internal/observability"
)

// Publisher sends an encoded letter to a broker.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, letter *Letter) error
	Close() error
}

// AMQPPublisher publishes letters as persistent JSON messages to a topic
// exchange, waiting for the broker's publisher confirm.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	exchange string
	timeout  time.Duration
}

// NewAMQPPublisher dials url and declares exchange.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	if exchange == "" {
		return nil, errors.New("amqp exchange is required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPPublisher{conn: conn, exchange: exchange, timeout: 5 * time.Second}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, letter *Letter) error {
	body, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("marshal letter: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("confirm mode: %w", err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err = ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:   "application/json",
		Body:          body,
		DeliveryMode:  amqp.Persistent,
		MessageId:     letter.ID,
		CorrelationId: letter.RepairID,
		Type:          "servicedesk.dead_letter",
		Timestamp:     letter.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("publish letter: %w", err)
	}

	select {
	case confirm := <-confirms:
		if !confirm.Ack {
			return fmt.Errorf("broker nacked letter %s", letter.ID)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("await confirm: %w", ctx.Err())
	}
}

func (p *AMQPPublisher) Close() error {
	return p.conn.Close()
}

// AMQPMirror is a Queue that also publishes every new letter, keyed
// "dead_letter.<sink>", so operators are alerted without polling. Publish
// failures are logged; the letter is still stored.
type AMQPMirror struct {
	Queue
	publisher Publisher
	logger    *observability.Logger
}

// NewAMQPMirror decorates queue. logger may be nil.
func NewAMQPMirror(queue Queue, publisher Publisher, logger *observability.Logger) *AMQPMirror {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &AMQPMirror{Queue: queue, publisher: publisher, logger: logger}
}

func (m *AMQPMirror) Enqueue(ctx context.Context, letter *Letter) error {
	if err := m.Queue.Enqueue(ctx, letter); err != nil {
		return err
	}
	if err := m.publisher.Publish(ctx, "dead_letter."+letter.Sink, letter); err != nil {
		m.logger.Warn(ctx, "failed to mirror dead letter",
			"letter_id", letter.ID,
			"sink", letter.Sink,
			"error", err,
		)
	}
	return nil
}

func (m *AMQPMirror) Close() error {
	return errors.Join(m.publisher.Close(), m.Queue.Close())
}
