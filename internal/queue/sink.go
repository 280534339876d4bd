package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Sink receives booking-confirmed events.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev BookingConfirmedEvent) error
}

// FileSink appends one human-readable line per event to a log file.
type FileSink struct {
	path string
	mu   sync.Mutex
}

// NewFileSink returns a FileSink writing to path.  The directory is created
// on first write.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

func (s *FileSink) Name() string { return "file" }

func (s *FileSink) Publish(_ context.Context, ev BookingConfirmedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(formatLine(ev)); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

func formatLine(ev BookingConfirmedEvent) string {
	return fmt.Sprintf("[%s] Booking confirmed | booking_id=%d | user_id=%d | email=%q | showtime_id=%d | movie=%q | showtime=%s | amount=%s | seats=[%s] | event_id=%s\n",
		ev.Timestamp, ev.BookingID, ev.UserID, ev.Email, ev.ShowtimeID, ev.Movie, ev.Showtime, ev.Amount, strings.Join(ev.Seats, ","), ev.EventID)
}

// MessageWriter is the part of *kafka.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes events to a Kafka topic keyed by booking id.
type KafkaSink struct {
	w MessageWriter
}

// NewKafkaWriter returns a *kafka.Writer producing to topic on brokers.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

// NewKafkaSink returns a KafkaSink over w.
func NewKafkaSink(w MessageWriter) *KafkaSink {
	return &KafkaSink{w: w}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Publish(ctx context.Context, ev BookingConfirmedEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatUint(ev.BookingID, 10)),
		Value: body,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(ev.EventID)},
		},
	}
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error { return s.w.Close() }

// EventPublisher publishes events to the booking.confirmed queue.
// *Publisher implements it.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev BookingConfirmedEvent) error
}

// RabbitSink forwards events to the booking.confirmed queue.
type RabbitSink struct {
	pub EventPublisher
}

// NewRabbitSink returns a RabbitSink over pub.
func NewRabbitSink(pub EventPublisher) *RabbitSink {
	return &RabbitSink{pub: pub}
}

func (s *RabbitSink) Name() string { return "rabbitmq" }

func (s *RabbitSink) Publish(ctx context.Context, ev BookingConfirmedEvent) error {
	return s.pub.PublishEvent(ctx, ev)
}

// MultiSink fans an event out to every sink.  Each sink is tried even when
// an earlier one fails.
type MultiSink []Sink

func (m MultiSink) Name() string {
	names := make([]string, 0, len(m))
	for _, s := range m {
		names = append(names, s.Name())
	}
	return strings.Join(names, ",")
}

func (m MultiSink) Publish(ctx context.Context, ev BookingConfirmedEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("%s sink: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
