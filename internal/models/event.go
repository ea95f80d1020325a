package models

import "time"

type EventType string

const (
	EventQueued     EventType = "queued"
	EventProcessing EventType = "processing"
	EventSent       EventType = "sent"
	EventFailed     EventType = "failed"
	EventCancelled  EventType = "cancelled"
)

// DeliveryEvent is an immutable audit record of one lifecycle transition
type DeliveryEvent struct {
	ID        int64                  `json:"id"`
	MessageID string                 `json:"message_id"`
	Type      EventType              `json:"event_type"`
	Data      map[string]interface{} `json:"event_data,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}
