package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// RabbitPublisher publishes execution events to a durable queue.
type RabbitPublisher struct {
	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
	queue   string
}

func NewRabbitPublisher(url, queue string) (*RabbitPublisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("could not open RabbitMQ channel: %w", err)
	}
	_, err = ch.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("could not declare RabbitMQ queue %s: %w", queue, err)
	}

	log.Info().Str("queue", queue).Msg("RabbitMQ connection established")
	return &RabbitPublisher{conn: conn, channel: ch, queue: queue}, nil
}

func (p *RabbitPublisher) PublishExecution(ctx context.Context, event ExecutionEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key = queue
		false,   // mandatory
		false,   // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    event.EventID,
			Timestamp:    event.ExecutedAt,
			Type:         "automation.execution",
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish execution %d: %w", event.ExecutionID, err)
	}
	log.Debug().Str("queue", p.queue).Uint("execution_id", event.ExecutionID).Msg("Published execution to RabbitMQ")
	return nil
}

func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.channel.Close(); err != nil {
		log.Warn().Err(err).Msg("Error closing RabbitMQ channel")
	}
	return p.conn.Close()
}

// NopPublisher drops events; used when RabbitMQ is not configured.
type NopPublisher struct{}

func (NopPublisher) PublishExecution(context.Context, ExecutionEvent) error { return nil }
