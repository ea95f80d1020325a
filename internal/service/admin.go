package service

import (
	"context"
	"fmt"
	"time"

	"dispatchq/internal/constants"
	"dispatchq/internal/errors"
	"dispatchq/internal/metrics"
	"dispatchq/internal/models"
	"dispatchq/internal/validation"

	"github.com/sirupsen/logrus"
)

// maxGuardRetries bounds re-reads when a conditional update loses a race
const maxGuardRetries = 3

const staleClaimBatch = 100

// ActivityReporter reports whether a processor loop is running
type ActivityReporter interface {
	IsRunning() bool
}

// Admin implements operator actions on the queue
type Admin struct {
	store     QueueStore
	events    *EventRecorder
	processor ActivityReporter
	clock     Clock
	logger    *logrus.Logger
}

func NewAdmin(store QueueStore, events *EventRecorder, processor ActivityReporter, clock Clock, logger *logrus.Logger) *Admin {
	return &Admin{
		store:     store,
		events:    events,
		processor: processor,
		clock:     clock,
		logger:    logger,
	}
}

// Get returns a message by id
func (a *Admin) Get(ctx context.Context, id string) (*models.QueuedMessage, error) {
	if err := validation.ValidateMessageID(id); err != nil {
		return nil, err
	}
	msg, err := a.store.GetMessage(ctx, id)
	if err != nil {
		return nil, errors.NewDatabaseError("get message", err)
	}
	if msg == nil {
		return nil, errors.NewNotFoundError("message", id)
	}
	return msg, nil
}

// Events returns the audit trail of a message
func (a *Admin) Events(ctx context.Context, id string) ([]*models.DeliveryEvent, error) {
	if _, err := a.Get(ctx, id); err != nil {
		return nil, err
	}
	events, err := a.events.List(ctx, id)
	if err != nil {
		return nil, errors.NewDatabaseError("list events", err)
	}
	return events, nil
}

// List returns messages matching filter, newest first
func (a *Admin) List(ctx context.Context, filter models.MessageFilter) ([]*models.QueuedMessage, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, errors.NewValidationError("status", string(filter.Status), "unknown status")
	}
	if filter.Limit < 0 {
		return nil, errors.NewValidationError("limit", fmt.Sprint(filter.Limit), "cannot be negative")
	}
	if filter.Limit > constants.MaxListLimit {
		filter.Limit = constants.MaxListLimit
	}
	msgs, err := a.store.ListMessages(ctx, filter)
	if err != nil {
		return nil, errors.NewDatabaseError("list messages", err)
	}
	return msgs, nil
}

// Cancel stops a pending or processing message. Cancelling a cancelled message is a no-op;
// sent and failed messages cannot be cancelled.
func (a *Admin) Cancel(ctx context.Context, id string) (*models.QueuedMessage, error) {
	for i := 0; i < maxGuardRetries; i++ {
		msg, err := a.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		switch msg.Status {
		case models.StatusCancelled:
			return msg, nil
		case models.StatusSent, models.StatusFailed:
			return nil, errors.NewInvalidStateError("cancel", id, string(msg.Status))
		}

		previous := msg.Status
		now := a.clock.Now()
		msg.Status = models.StatusCancelled
		msg.NextRetryAt = nil
		msg.ClaimedBy = ""
		msg.ClaimedAt = nil
		msg.UpdatedAt = now

		applied, err := a.store.TransitionMessage(ctx, msg, previous)
		if err != nil {
			return nil, errors.NewDatabaseError("cancel message", err)
		}
		if !applied {
			continue
		}

		a.events.Record(ctx, id, models.EventCancelled, map[string]interface{}{
			"previous_status": string(previous),
		})
		metrics.IncrementCounter("messages_cancelled_total", nil, "Messages cancelled by an operator")
		a.logger.WithFields(logrus.Fields{
			LogFieldMessageID: id,
			"previous_status": previous,
		}).Info("Message cancelled")
		return msg, nil
	}
	return nil, concurrentModification("cancel", id)
}

// Retry resets any unsent message to pending with a fresh retry budget
func (a *Admin) Retry(ctx context.Context, id string) (*models.QueuedMessage, error) {
	for i := 0; i < maxGuardRetries; i++ {
		msg, err := a.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if msg.Status == models.StatusSent {
			return nil, errors.NewInvalidStateError("retry", id, string(msg.Status))
		}

		previous := msg.Status
		now := a.clock.Now()
		msg.Status = models.StatusPending
		msg.RetryCount = 0
		msg.LastError = ""
		msg.NextRetryAt = nil
		msg.ClaimedBy = ""
		msg.ClaimedAt = nil
		msg.UpdatedAt = now

		applied, err := a.store.TransitionMessage(ctx, msg, previous)
		if err != nil {
			return nil, errors.NewDatabaseError("retry message", err)
		}
		if !applied {
			continue
		}

		a.events.Record(ctx, id, models.EventQueued, map[string]interface{}{
			"manual_retry":    true,
			"previous_status": string(previous),
		})
		metrics.IncrementCounter("messages_manual_retries_total", nil, "Messages requeued by an operator")
		a.logger.WithFields(logrus.Fields{
			LogFieldMessageID: id,
			"previous_status": previous,
		}).Info("Message requeued for retry")
		return msg, nil
	}
	return nil, concurrentModification("retry", id)
}

// Stats returns a monitoring snapshot of the queue
func (a *Admin) Stats(ctx context.Context) (*models.QueueStats, error) {
	byStatus, err := a.store.CountByStatus(ctx)
	if err != nil {
		return nil, errors.NewDatabaseError("count messages", err)
	}
	avg, err := a.store.AverageRetryCount(ctx)
	if err != nil {
		return nil, errors.NewDatabaseError("average retry count", err)
	}
	due, err := a.store.CountDue(ctx, a.clock.Now())
	if err != nil {
		return nil, errors.NewDatabaseError("count due messages", err)
	}

	stats := &models.QueueStats{
		ByStatus:       byStatus,
		AverageRetries: avg,
		Due:            due,
	}
	for _, n := range byStatus {
		stats.Total += n
	}
	if a.processor != nil {
		stats.ProcessorActive = a.processor.IsRunning()
	}
	return stats, nil
}

// Cleanup deletes terminal messages not updated in olderThanDays days, with their events
func (a *Admin) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	if err := validation.ValidateRetentionDays(olderThanDays); err != nil {
		return 0, err
	}

	cutoff := a.clock.Now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
	deleted, err := a.store.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, errors.NewDatabaseError("cleanup messages", err)
	}

	metrics.AddToCounter("messages_cleaned_total", float64(deleted), nil, "Terminal messages removed by retention")
	a.logger.WithFields(logrus.Fields{
		"older_than_days": olderThanDays,
		LogFieldCount:     deleted,
	}).Info("Completed message cleanup")
	return deleted, nil
}

// RecoverStaleClaims returns processing rows claimed more than olderThan ago to pending.
// The retry count is left unchanged since the outcome of the interrupted attempt is unknown.
func (a *Admin) RecoverStaleClaims(ctx context.Context, olderThan time.Duration) (int, error) {
	now := a.clock.Now()
	stale, err := a.store.ListStaleClaims(ctx, now.Add(-olderThan), staleClaimBatch)
	if err != nil {
		return 0, errors.NewDatabaseError("list stale claims", err)
	}

	recovered := 0
	for _, msg := range stale {
		claimedBy := msg.ClaimedBy
		msg.Status = models.StatusPending
		msg.ClaimedBy = ""
		msg.ClaimedAt = nil
		msg.UpdatedAt = now

		applied, err := a.store.TransitionMessage(ctx, msg, models.StatusProcessing)
		if err != nil {
			a.logger.WithError(err).WithField(LogFieldMessageID, msg.ID).Error("Failed to recover stale claim")
			continue
		}
		if !applied {
			continue
		}

		a.events.Record(ctx, msg.ID, models.EventQueued, map[string]interface{}{
			"reclaimed":  true,
			"claimed_by": claimedBy,
		})
		recovered++
	}

	if recovered > 0 {
		metrics.AddToCounter("messages_reclaimed_total", float64(recovered), nil, "Stale claims returned to pending")
		a.logger.WithField(LogFieldCount, recovered).Warn("Recovered stale claims")
	}
	return recovered, nil
}

func concurrentModification(operation, id string) error {
	return errors.New(errors.ErrCodeInvalidState, fmt.Sprintf("message changed concurrently during %s", operation)).
		WithContext("message_id", id).
		WithUserMessage("Message is being modified, try again")
}

// DueCount returns how many messages are eligible for dispatch right now
func (a *Admin) DueCount(ctx context.Context) (int, error) {
	due, err := a.store.CountDue(ctx, a.clock.Now())
	if err != nil {
		return 0, errors.NewDatabaseError("count due messages", err)
	}
	return due, nil
}
