package service

import (
	"context"
	"time"

	"dispatchq/internal/errors"
	"dispatchq/internal/metrics"
	"dispatchq/internal/models"
	"dispatchq/internal/tracing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Enqueuer accepts notifications for later dispatch. It never transmits.
type Enqueuer struct {
	store    QueueStore
	events   *EventRecorder
	preparer preparer
	clock    Clock
	logger   *logrus.Logger
}

func NewEnqueuer(store QueueStore, events *EventRecorder, templates *TemplateResolver, policy EnqueuePolicy, clock Clock, logger *logrus.Logger) *Enqueuer {
	return &Enqueuer{
		store:    store,
		events:   events,
		preparer: newPreparer(templates, policy, clock),
		clock:    clock,
		logger:   logger,
	}
}

// Enqueue validates req, stores it as pending and returns the new message id
func (e *Enqueuer) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "dispatch.enqueue",
		attribute.String("message.type", req.MessageType),
		attribute.String("message.template", req.TemplateName),
	)
	defer span.End()

	msg, err := e.preparer.prepare(ctx, req)
	if err != nil {
		tracing.RecordError(ctx, err)
		metrics.IncrementCounter("messages_rejected_total", map[string]string{"code": string(errors.GetCode(err))}, "Enqueue requests rejected")
		return "", err
	}

	now := e.clock.Now()
	msg.ID = uuid.NewString()
	msg.Status = models.StatusPending
	msg.RetryCount = 0
	msg.CreatedAt = now
	msg.UpdatedAt = now

	if err := e.store.InsertMessage(ctx, msg); err != nil {
		tracing.RecordError(ctx, err)
		return "", errors.NewDatabaseError("insert message", err)
	}
	span.SetAttributes(attribute.String("message.id", msg.ID))

	data := map[string]interface{}{
		"message_type": msg.MessageType,
		"priority":     msg.Priority,
	}
	if msg.TemplateName != "" {
		data["template"] = msg.TemplateName
	}
	if msg.ScheduledFor != nil {
		data["scheduled_for"] = msg.ScheduledFor.Format(time.RFC3339)
	}
	e.events.Record(ctx, msg.ID, models.EventQueued, data)

	metrics.IncrementCounter("messages_enqueued_total", map[string]string{"message_type": msg.MessageType}, "Messages accepted into the queue")

	fields := messageFields(ctx, msg.ID, msg.Recipient, msg.MessageType)
	fields[LogFieldPriority] = msg.Priority
	e.logger.WithFields(fields).Info("Message enqueued")

	return msg.ID, nil
}
