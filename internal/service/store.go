package service

import (
	"context"
	"time"

	"dispatchq/internal/models"
)

// QueueStore is the durable message table. Every status write is conditional on the prior status.
type QueueStore interface {
	InsertMessage(ctx context.Context, msg *models.QueuedMessage) error
	GetMessage(ctx context.Context, id string) (*models.QueuedMessage, error)
	ListEligible(ctx context.Context, now time.Time, limit int) ([]*models.QueuedMessage, error)
	CountDue(ctx context.Context, now time.Time) (int, error)
	ClaimMessage(ctx context.Context, id, instanceID string, now time.Time) (bool, error)
	TransitionMessage(ctx context.Context, msg *models.QueuedMessage, from ...models.MessageStatus) (bool, error)
	ListMessages(ctx context.Context, filter models.MessageFilter) ([]*models.QueuedMessage, error)
	CountByStatus(ctx context.Context) (map[models.MessageStatus]int, error)
	AverageRetryCount(ctx context.Context) (float64, error)
	ListStaleClaims(ctx context.Context, cutoff time.Time, limit int) ([]*models.QueuedMessage, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// EventStore is the append-only delivery audit log
type EventStore interface {
	AppendEvent(ctx context.Context, ev *models.DeliveryEvent) error
	ListEvents(ctx context.Context, messageID string) ([]*models.DeliveryEvent, error)
}

// TemplateStore reads and seeds message templates
type TemplateStore interface {
	GetTemplate(ctx context.Context, name string) (*models.Template, error)
	GetActiveTemplate(ctx context.Context, name string) (*models.Template, error)
	UpsertTemplate(ctx context.Context, tmpl *models.Template) error
}

// Store is everything the dispatch services need from persistence.
// *database.Database satisfies it.
type Store interface {
	QueueStore
	EventStore
	TemplateStore
}
