// Package events publishes job lifecycle notifications to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/tommypj/ai-content-saas-backend/pkg/models"
)

// Routing keys for terminal job events.
const (
	RoutingJobSucceeded = "job.succeeded"
	RoutingJobFailed    = "job.failed"
)

// Publisher announces terminal job transitions.
type Publisher interface {
	PublishJob(ctx context.Context, job *models.Job) error
	Close() error
}

// JobEvent is the message body of a job event. The result itself is not
// included; consumers fetch it through the query API.
type JobEvent struct {
	JobID      uuid.UUID        `json:"jobId"`
	UserID     string           `json:"userId"`
	Type       models.JobType   `json:"type"`
	Status     models.JobStatus `json:"status"`
	Attempt    int              `json:"attempt"`
	TokensUsed int64            `json:"tokensUsed"`
	Model      string           `json:"model,omitempty"`
	Error      *models.JobError `json:"error,omitempty"`
	OccurredAt time.Time        `json:"occurredAt"`
}

// NewJobEvent builds the event and routing key for a terminal job.
func NewJobEvent(job *models.Job, now time.Time) (JobEvent, string, error) {
	var key string
	switch job.Status {
	case models.JobStatusSucceeded:
		key = RoutingJobSucceeded
	case models.JobStatusFailed:
		key = RoutingJobFailed
	default:
		return JobEvent{}, "", fmt.Errorf("job %s is %s, not terminal", job.ID, job.Status)
	}

	ev := JobEvent{
		JobID:      job.ID,
		UserID:     job.UserID,
		Type:       job.Type,
		Status:     job.Status,
		Attempt:    job.Attempt,
		TokensUsed: job.TokensUsed,
		Error:      job.Error,
		OccurredAt: now.UTC(),
	}
	if job.Model != nil {
		ev.Model = *job.Model
	}
	return ev, key, nil
}

// AMQPPublisher publishes persistent JSON messages to a durable topic exchange.
type AMQPPublisher struct {
	exchange string
	logger   *slog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewAMQPPublisher dials url and declares exchange.
func NewAMQPPublisher(url, exchange string, logger *slog.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}

	logger.Info("rabbitmq publisher ready", "exchange", exchange)
	return &AMQPPublisher{exchange: exchange, logger: logger, conn: conn, channel: ch}, nil
}

func (p *AMQPPublisher) PublishJob(ctx context.Context, job *models.Job) error {
	ev, key, err := NewJobEvent(job, time.Now())
	if err != nil {
		return err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode job event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == nil || p.conn.IsClosed() {
		return fmt.Errorf("publish %s: not connected to rabbitmq", key)
	}

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange, // exchange
		key,        // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    job.ID.String(),
			Timestamp:    ev.OccurredAt,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}

	p.logger.DebugContext(ctx, "job event published", "job_id", job.ID, "routing_key", key)
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.logger.Warn("close rabbitmq channel", "error", err)
		}
		p.channel = nil
	}
	if p.conn != nil && !p.conn.IsClosed() {
		return p.conn.Close()
	}
	return nil
}

// Noop discards every event. It is used when AMQP_URL is not set.
type Noop struct{}

func (Noop) PublishJob(context.Context, *models.Job) error { return nil }
func (Noop) Close() error                                  { return nil }

var (
	_ Publisher = (*AMQPPublisher)(nil)
	_ Publisher = Noop{}
)
