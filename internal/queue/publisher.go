package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-booking-service/internal/model"
)

// Channel is the part of *amqp.Channel used for publishing and declaring.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

// Dialer opens a publishing channel.
type Dialer func() (Channel, func() error, error)

// DialURL returns a Dialer connecting to the broker at url.
func DialURL(url string) Dialer {
	return func() (Channel, func() error, error) {
		conn, err := amqp.Dial(url)
		if err != nil {
			return nil, nil, fmt.Errorf("dial broker: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, nil, fmt.Errorf("channel open: %w", err)
		}
		return ch, conn.Close, nil
	}
}

// DeclareTopology declares the task, retry, parked and confirmed queues.
// The retry queue holds each message for retryDelay and then dead-letters
// it onto the task queue through the default exchange.
func DeclareTopology(ch Channel, retryDelay time.Duration) error {
	if _, err := ch.QueueDeclare(TasksQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", TasksQueue, err)
	}
	retryArgs := amqp.Table{
		"x-message-ttl":             retryDelay.Milliseconds(),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": TasksQueue,
	}
	if _, err := ch.QueueDeclare(RetryQueue, true, false, false, false, retryArgs); err != nil {
		return fmt.Errorf("declare %s: %w", RetryQueue, err)
	}
	if _, err := ch.QueueDeclare(ParkedQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", ParkedQueue, err)
	}
	if _, err := ch.QueueDeclare(ConfirmedQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", ConfirmedQueue, err)
	}
	return nil
}

// Publisher publishes persistent JSON messages over one lazily opened
// channel, reopening it after the broker drops it.  It is safe for
// concurrent use.
type Publisher struct {
	dial       Dialer
	retryDelay time.Duration
	log        *zap.Logger

	mu      sync.Mutex
	ch      Channel
	closeFn func() error
}

// NewPublisher returns a Publisher that connects on first use.
func NewPublisher(dial Dialer, retryDelay time.Duration, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{dial: dial, retryDelay: retryDelay, log: log}
}

func (p *Publisher) channel() (Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.reset()
	ch, closeFn, err := p.dial()
	if err != nil {
		return nil, err
	}
	if err := DeclareTopology(ch, p.retryDelay); err != nil {
		_ = ch.Close()
		if closeFn != nil {
			_ = closeFn()
		}
		return nil, err
	}
	p.ch, p.closeFn = ch, closeFn
	return ch, nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.closeFn != nil {
		_ = p.closeFn()
	}
	p.ch, p.closeFn = nil, nil
}

// publish sends body to queue through the default exchange.  A failed
// publish drops the channel so the next call reconnects.
func (p *Publisher) publish(ctx context.Context, queue string, body []byte, headers amqp.Table) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", queue, false, false, msg); err != nil {
		p.reset()
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	return nil
}

// EnqueueConfirmation publishes task as its first attempt.
func (p *Publisher) EnqueueConfirmation(ctx context.Context, task model.ConfirmationTask) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := p.publish(ctx, TasksQueue, body, amqp.Table{attemptHeader: int32(1)}); err != nil {
		p.log.Warn("enqueue confirmation failed", zap.Uint64("booking_id", task.BookingID), zap.Error(err))
		return err
	}
	return nil
}

// Retry schedules body for another attempt after the retry delay.
func (p *Publisher) Retry(ctx context.Context, body []byte, attempt int) error {
	return p.publish(ctx, RetryQueue, body, amqp.Table{attemptHeader: int32(attempt)})
}

// Park moves body to the parked queue for manual inspection.
func (p *Publisher) Park(ctx context.Context, body []byte, attempt int, reason error) error {
	headers := amqp.Table{attemptHeader: int32(attempt)}
	if reason != nil {
		headers["x-park-reason"] = reason.Error()
	}
	return p.publish(ctx, ParkedQueue, body, headers)
}

// PublishEvent publishes ev to the booking.confirmed queue.
func (p *Publisher) PublishEvent(ctx context.Context, ev BookingConfirmedEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.publish(ctx, ConfirmedQueue, body, nil)
}

// Close releases the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}

// attemptOf reads the attempt counter from headers, defaulting to 1.
func attemptOf(headers amqp.Table) int {
	switch v := headers[attemptHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 1
}
