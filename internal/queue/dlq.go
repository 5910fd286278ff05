package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/haircutfun/haircutfun/internal/metrics"
	"github.com/haircutfun/haircutfun/pkg/models"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DeadLetterQueueName    = "usage_events_dlq"
	DeadLetterExchangeName = "haircutfun_dlq"
	RetryQueueName         = "usage_events_retry"
	MaxRetries             = 5
)

// SetupDeadLetterQueue declares the retry and dead-letter queues
func (q *Queue) SetupDeadLetterQueue() error {
	err := q.channel.ExchangeDeclare(
		DeadLetterExchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ exchange: %w", err)
	}

	_, err = q.channel.QueueDeclare(DeadLetterQueueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ: %w", err)
	}

	err = q.channel.QueueBind(DeadLetterQueueName, DeadLetterQueueName, DeadLetterExchangeName, false, nil)
	if err != nil {
		return fmt.Errorf("failed to bind DLQ: %w", err)
	}

	// Expired retry messages flow back into the main queue
	retryArgs := amqp.Table{
		"x-dead-letter-exchange":    ExchangeName,
		"x-dead-letter-routing-key": UsageQueueName,
	}
	_, err = q.channel.QueueDeclare(RetryQueueName, true, false, false, false, retryArgs)
	if err != nil {
		return fmt.Errorf("failed to declare retry queue: %w", err)
	}

	return nil
}

// PublishToRetryQueue schedules event for another attempt, or dead-letters it
// once MaxRetries is reached
func (q *Queue) PublishToRetryQueue(ctx context.Context, event *models.UsageEvent, reason string) error {
	if event.RetryCount >= MaxRetries {
		return q.PublishToDeadLetterQueue(ctx, event, "max retries exceeded: "+reason)
	}

	retried := *event
	retried.RetryCount++
	delay := calculateBackoffDelay(event.RetryCount)

	err := q.publish(ctx, "", RetryQueueName, &retried, amqp.Publishing{
		Expiration: fmt.Sprintf("%d", delay.Milliseconds()),
		Headers:    amqp.Table{"x-retry-count": int32(retried.RetryCount)},
	})
	if err != nil {
		return fmt.Errorf("failed to publish to retry queue: %w", err)
	}

	metrics.RecordQueueMessage(UsageQueueName, "retried")
	q.logger.WithUserID(event.UserID).
		WithField("event_id", event.ID).
		WithField("retry", retried.RetryCount).
		WithField("delay", delay.String()).
		Info("Usage event queued for retry")
	return nil
}

// PublishToDeadLetterQueue parks an event for manual reconciliation
func (q *Queue) PublishToDeadLetterQueue(ctx context.Context, event *models.UsageEvent, reason string) error {
	err := q.publish(ctx, DeadLetterExchangeName, DeadLetterQueueName, event, amqp.Publishing{
		Headers: amqp.Table{
			"x-failure-reason": reason,
			"x-failed-at":      time.Now().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}

	metrics.RecordQueueMessage(UsageQueueName, "dead_lettered")
	q.logger.WithUserID(event.UserID).
		WithField("event_id", event.ID).
		WithField("reason", reason).
		Error("Usage event moved to dead letter queue")
	return nil
}

// RetryFromDLQ puts a dead-lettered event back on the main queue with a fresh retry budget
func (q *Queue) RetryFromDLQ(ctx context.Context, event *models.UsageEvent) error {
	fresh := *event
	fresh.RetryCount = 0
	return q.PublishUsageEvent(ctx, &fresh)
}

// ReplayDeadLetters moves up to max dead-lettered events back onto the main queue.
// Malformed messages are dropped.
func (q *Queue) ReplayDeadLetters(ctx context.Context, max int) (int, error) {
	replayed := 0
	for replayed < max {
		if err := ctx.Err(); err != nil {
			return replayed, err
		}

		msg, ok, err := q.channel.Get(DeadLetterQueueName, false)
		if err != nil {
			return replayed, fmt.Errorf("failed to read DLQ: %w", err)
		}
		if !ok {
			break
		}

		var event models.UsageEvent
		if err := json.Unmarshal(msg.Body, &event); err != nil {
			q.logger.WithError(err).WithField("message_id", msg.MessageId).Error("Dropping malformed dead letter")
			msg.Nack(false, false)
			continue
		}

		if err := q.RetryFromDLQ(ctx, &event); err != nil {
			msg.Nack(false, true)
			return replayed, err
		}
		msg.Ack(false)
		replayed++
	}

	if replayed > 0 {
		q.logger.WithField("count", replayed).Info("Replayed dead-lettered usage events")
	}
	return replayed, nil
}

// GetDLQDepth returns the number of messages in the dead letter queue
func (q *Queue) GetDLQDepth() (int, error) {
	info, err := q.channel.QueueInspect(DeadLetterQueueName)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect DLQ: %w", err)
	}
	return info.Messages, nil
}

// calculateBackoffDelay doubles from one minute and caps at an hour
func calculateBackoffDelay(retryCount int) time.Duration {
	delay := time.Minute * time.Duration(1<<retryCount)
	if delay > time.Hour {
		delay = time.Hour
	}
	return delay
}
