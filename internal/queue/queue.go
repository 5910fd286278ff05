// Package queue carries deferred usage increments over AMQP.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/haircutfun/haircutfun/internal/config"
	"github.com/haircutfun/haircutfun/internal/logging"
	"github.com/haircutfun/haircutfun/internal/metrics"
	"github.com/haircutfun/haircutfun/pkg/models"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	UsageQueueName = "usage_events"
	ExchangeName   = "haircutfun"
)

// Channel is the subset of *amqp.Channel the queue uses
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	QueueInspect(name string) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Close() error
}

// Queue provides message queue operations
type Queue struct {
	conn    *amqp.Connection
	channel Channel
	logger  *logging.Logger
}

// New connects to the broker and declares the usage topology
func New(cfg config.QueueConfig, logger *logging.Logger) (*Queue, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Vhost)

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	q, err := NewWithChannel(channel, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	q.conn = conn
	return q, nil
}

// NewWithChannel declares the topology on an open channel
func NewWithChannel(channel Channel, logger *logging.Logger) (*Queue, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	q := &Queue{channel: channel, logger: logger}

	if err := q.declare(); err != nil {
		channel.Close()
		return nil, err
	}
	if err := q.SetupDeadLetterQueue(); err != nil {
		channel.Close()
		return nil, err
	}
	return q, nil
}

func (q *Queue) declare() error {
	err := q.channel.ExchangeDeclare(
		ExchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	_, err = q.channel.QueueDeclare(
		UsageQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := q.channel.QueueBind(UsageQueueName, UsageQueueName, ExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}

// Close closes the queue connection
func (q *Queue) Close() error {
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

// PublishUsageEvent publishes a deferred usage increment
func (q *Queue) PublishUsageEvent(ctx context.Context, event *models.UsageEvent) error {
	err := q.publish(ctx, ExchangeName, UsageQueueName, event, amqp.Publishing{})
	if err != nil {
		metrics.RecordQueueMessage(UsageQueueName, "publish_failed")
		return fmt.Errorf("failed to publish usage event: %w", err)
	}
	metrics.RecordQueueMessage(UsageQueueName, "published")
	return nil
}

func (q *Queue) publish(ctx context.Context, exchange, key string, event *models.UsageEvent, msg amqp.Publishing) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal usage event: %w", err)
	}

	msg.DeliveryMode = amqp.Persistent
	msg.ContentType = "application/json"
	msg.MessageId = event.ID
	msg.Body = body
	msg.Timestamp = time.Now()

	return q.channel.PublishWithContext(ctx, exchange, key, false, false, msg)
}

// Handler applies one usage event
type Handler func(ctx context.Context, event *models.UsageEvent) error

// ConsumeUsageEvents starts consuming usage events. Failed events go to the retry
// queue with backoff and are dead-lettered after MaxRetries.
func (q *Queue) ConsumeUsageEvents(ctx context.Context, handler Handler) error {
	err := q.channel.Qos(
		1,     // prefetch count
		0,     // prefetch size
		false, // global
	)
	if err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := q.channel.Consume(
		UsageQueueName,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				q.handleDelivery(ctx, msg, handler)
			}
		}
	}()

	return nil
}

func (q *Queue) handleDelivery(ctx context.Context, msg amqp.Delivery, handler Handler) {
	var event models.UsageEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		q.logger.WithError(err).Error("Dropping malformed usage event")
		metrics.RecordQueueMessage(UsageQueueName, "malformed")
		msg.Nack(false, false)
		return
	}

	log := q.logger.WithUserID(event.UserID).WithField("event_id", event.ID)

	herr := handler(ctx, &event)
	if herr == nil {
		metrics.RecordQueueMessage(UsageQueueName, "applied")
		msg.Ack(false)
		return
	}

	log.WithError(herr).WithField("retry_count", event.RetryCount).Warn("Failed to apply usage event")
	if err := q.PublishToRetryQueue(ctx, &event, herr.Error()); err != nil {
		log.WithError(err).Error("Failed to reschedule usage event")
		msg.Nack(false, true)
		return
	}
	msg.Ack(false)
}

// GetQueueDepth returns the number of messages in the queue
func (q *Queue) GetQueueDepth() (int, error) {
	info, err := q.channel.QueueInspect(UsageQueueName)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue: %w", err)
	}
	return info.Messages, nil
}
