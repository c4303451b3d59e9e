package audit

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const recordMessageType = "ledger.credit.committed"

// AMQPSink publishes records to a durable fanout exchange
// Not safe for concurrent use, Dispatcher calls it from one worker
type AMQPSink struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

func DialAMQP(url string, exchange string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeFanout,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &AMQPSink{conn: conn, channel: ch, exchange: exchange}, nil
}

func (s *AMQPSink) Send(ctx context.Context, r Record) error {
	msg, err := newPublishing(r)
	if err != nil {
		return err
	}

	if err := s.channel.PublishWithContext(ctx, s.exchange, "", false, false, msg); err != nil {
		return fmt.Errorf("failed to publish audit record: %w", err)
	}

	return nil
}

func (s *AMQPSink) Close() error {
	if err := s.channel.Close(); err != nil {
		_ = s.conn.Close()
		return err
	}
	return s.conn.Close()
}

func newPublishing(r Record) (amqp.Publishing, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to encode audit record: %w", err)
	}

	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    r.EventID,
		Timestamp:    r.OccurredAt,
		Type:         recordMessageType,
		Body:         body,
	}, nil
}
