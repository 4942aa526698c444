package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/makeasinger/genreswap/internal/model"
)

// JobEvent is the body of an AMQP terminal job event.
type JobEvent struct {
	Event  string        `json:"event"`
	JobID  string        `json:"jobId"`
	Job    model.JobView `json:"job"`
	SentAt time.Time     `json:"sentAt"`
}

// AMQPSink publishes terminal job events to a topic exchange with routing
// keys job.completed / job.failed. Wrap it in Async: publishing is a
// network round trip.
type AMQPSink struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *slog.Logger
}

func NewAMQPSink(url, exchange string, logger *slog.Logger) (*AMQPSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return &AMQPSink{conn: conn, channel: ch, exchange: exchange, logger: logger.With("component", "amqp_sink")}, nil
}

// RoutingKey is the key a view is published under.
func RoutingKey(view model.JobView) string {
	return "job." + string(view.Status)
}

func (s *AMQPSink) Publish(ctx context.Context, view model.JobView) {
	body, err := json.Marshal(JobEvent{
		Event:  RoutingKey(view),
		JobID:  view.ID,
		Job:    view,
		SentAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error("failed to marshal job event", "job_id", view.ID, "error", err)
		return
	}

	err = s.channel.PublishWithContext(ctx, s.exchange, RoutingKey(view), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    view.ID,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		s.logger.Warn("failed to publish job event", "job_id", view.ID, "error", err)
		return
	}
	s.logger.Debug("job event published", "job_id", view.ID, "routing_key", RoutingKey(view))
}

func (s *AMQPSink) Close() error {
	if err := s.channel.Close(); err != nil {
		s.conn.Close()
		return err
	}
	return s.conn.Close()
}
