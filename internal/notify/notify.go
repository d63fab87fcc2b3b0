// Package notify delivers customer and supervisor messages through a
// persistent outbox.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kalambet/escalator/internal/storage"
)

// JobType is the outbox job type for notifications.
const JobType = "notify"

type Audience string

const (
	AudienceCustomer   Audience = "customer"
	AudienceSupervisor Audience = "supervisor"
)

// SupervisorRecipient and SupervisorChannel address supervisor alerts.
const (
	SupervisorRecipient = "Supervisor On-call"
	SupervisorChannel   = "console"
)

type Notification struct {
	Audience  Audience `json:"audience"`
	RequestID string   `json:"request_id,omitempty"`
	Recipient string   `json:"recipient"`
	Channel   string   `json:"channel"`
	Message   string   `json:"message"`
}

// Sink hands a notification to the outside world.
type Sink interface {
	Deliver(ctx context.Context, n Notification) error
}

// LogSink writes notifications to a structured logger. It stands in for
// SMS and telephony gateways.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Deliver(ctx context.Context, n Notification) error {
	s.logger.InfoContext(ctx, "notification delivered",
		"audience", string(n.Audience),
		"recipient", n.Recipient,
		"channel", n.Channel,
		"request_id", n.RequestID,
		"message", n.Message,
	)
	return nil
}

// JobEnqueuer is the subset of the job queue the outbox writes to.
type JobEnqueuer interface {
	EnqueueJob(ctx context.Context, job storage.Job) error
}

// Outbox queues notifications for the Worker.
type Outbox struct {
	jobs JobEnqueuer
}

func NewOutbox(jobs JobEnqueuer) *Outbox {
	return &Outbox{jobs: jobs}
}

// Enqueue stores n for asynchronous delivery.
func (o *Outbox) Enqueue(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshalling notification: %w", err)
	}
	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        JobType,
		PayloadJSON: string(payload),
	}
	if err := o.jobs.EnqueueJob(ctx, job); err != nil {
		return fmt.Errorf("enqueueing notification: %w", err)
	}
	return nil
}
