package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-booking-service/internal/model"
)

const maxBackoff = 30 * time.Second

// Rescheduler moves a task to the retry or parked queue.  *Publisher
// implements it.
type Rescheduler interface {
	Retry(ctx context.Context, body []byte, attempt int) error
	Park(ctx context.Context, body []byte, attempt int, reason error) error
}

// TaskEnricher turns a task into an event.
type TaskEnricher interface {
	Enrich(ctx context.Context, task model.ConfirmationTask) (BookingConfirmedEvent, error)
}

type outcome int

const (
	outcomeAck outcome = iota
	outcomeRetry
	outcomePark
)

// Consumer drains the confirmation task queue.  Transient failures are
// rescheduled through the retry queue until maxAttempts; the last attempt
// accepts enrichment gaps and parks the task if the sinks still fail.
type Consumer struct {
	url         string
	retryDelay  time.Duration
	maxAttempts int
	resched     Rescheduler
	enricher    TaskEnricher
	sink        Sink
	log         *zap.Logger
}

// NewConsumer wires a Consumer.
func NewConsumer(url string, maxAttempts int, retryDelay time.Duration, resched Rescheduler, enricher TaskEnricher, sink Sink, log *zap.Logger) *Consumer {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{
		url:         url,
		retryDelay:  retryDelay,
		maxAttempts: maxAttempts,
		resched:     resched,
		enricher:    enricher,
		sink:        sink,
		log:         log.Named("confirm-consumer"),
	}
}

// Run connects to the broker and consumes until ctx is cancelled,
// reconnecting with exponential backoff up to 30s.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.Warn("failed to dial broker", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second // reset after successful connect

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("consume loop ended; reconnecting", zap.Error(err))
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.log.Warn("set QoS failed", zap.Error(err))
	}
	if err := DeclareTopology(ch, c.retryDelay); err != nil {
		return err
	}
	msgs, err := ch.Consume(TasksQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	c.log.Info("consuming", zap.String("queue", TasksQueue))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.deliver(ctx, d)
		}
	}
}

// deliver handles one delivery and settles it with the broker.  A task that
// cannot be rescheduled is requeued as is.
func (c *Consumer) deliver(ctx context.Context, d amqp.Delivery) {
	attempt := attemptOf(d.Headers)
	out, err := c.handle(ctx, d.Body, attempt)
	switch out {
	case outcomeRetry:
		c.log.Info("retrying confirmation", zap.Int("attempt", attempt), zap.Error(err))
		if rerr := c.resched.Retry(ctx, d.Body, attempt+1); rerr != nil {
			c.log.Warn("reschedule failed", zap.Error(rerr))
			_ = d.Nack(false, true)
			return
		}
	case outcomePark:
		c.log.Warn("parking confirmation", zap.Int("attempt", attempt), zap.Error(err))
		if perr := c.resched.Park(ctx, d.Body, attempt, err); perr != nil {
			c.log.Warn("park failed", zap.Error(perr))
			_ = d.Nack(false, true)
			return
		}
	}
	_ = d.Ack(false)
}

// handle processes one task body and decides what happens to it.
func (c *Consumer) handle(ctx context.Context, body []byte, attempt int) (outcome, error) {
	var task model.ConfirmationTask
	if err := json.Unmarshal(body, &task); err != nil {
		return outcomePark, fmt.Errorf("unmarshal: %w", err)
	}
	final := attempt >= c.maxAttempts
	log := c.log.With(zap.Uint64("booking_id", task.BookingID), zap.Int("attempt", attempt))

	ev, err := c.enricher.Enrich(ctx, task)
	if err != nil {
		var gap *gapError
		switch {
		case !errors.As(err, &gap):
			return retryOrPark(final), err
		case gap.transient() && !final:
			return outcomeRetry, err
		}
		log.Warn("publishing with incomplete enrichment", zap.Error(err))
	}

	if err := c.sink.Publish(ctx, ev); err != nil {
		return retryOrPark(final), err
	}
	log.Info("booking confirmation published", zap.String("event_id", ev.EventID), zap.String("sinks", c.sink.Name()))
	return outcomeAck, nil
}

func retryOrPark(final bool) outcome {
	if final {
		return outcomePark
	}
	return outcomeRetry
}
