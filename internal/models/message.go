package models

import (
	"time"
)

type MessageStatus string

const (
	StatusPending    MessageStatus = "pending"
	StatusProcessing MessageStatus = "processing"
	StatusSent       MessageStatus = "sent"
	StatusFailed     MessageStatus = "failed"
	StatusCancelled  MessageStatus = "cancelled"
)

// AllStatuses lists every status in lifecycle order
var AllStatuses = []MessageStatus{
	StatusPending,
	StatusProcessing,
	StatusSent,
	StatusFailed,
	StatusCancelled,
}

// IsTerminal reports whether no automatic transition leaves this status
func (s MessageStatus) IsTerminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

// IsValid reports whether s is a known status
func (s MessageStatus) IsValid() bool {
	for _, status := range AllStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// QueuedMessage is the unit of work owned by the queue store.
// Content fields hold already-rendered text; templates are never re-rendered at send time.
type QueuedMessage struct {
	ID                string                 `json:"id"`
	Recipient         string                 `json:"recipient"`
	Sender            string                 `json:"sender"`
	ReplyTo           string                 `json:"reply_to,omitempty"`
	Subject           string                 `json:"subject"`
	HTMLBody          string                 `json:"html_body,omitempty"`
	TextBody          string                 `json:"text_body,omitempty"`
	TemplateName      string                 `json:"template_name,omitempty"`
	TemplateVariables map[string]interface{} `json:"template_variables,omitempty"`
	MessageType       string                 `json:"message_type"`
	Status            MessageStatus          `json:"status"`
	Priority          int                    `json:"priority"`
	ScheduledFor      *time.Time             `json:"scheduled_for,omitempty"`
	RetryCount        int                    `json:"retry_count"`
	MaxRetries        int                    `json:"max_retries"`
	LastRetryAt       *time.Time             `json:"last_retry_at,omitempty"`
	NextRetryAt       *time.Time             `json:"next_retry_at,omitempty"`
	LastError         string                 `json:"last_error,omitempty"`
	ProviderResponse  map[string]interface{} `json:"provider_response,omitempty"`
	SentAt            *time.Time             `json:"sent_at,omitempty"`
	ClaimedBy         string                 `json:"claimed_by,omitempty"`
	ClaimedAt         *time.Time             `json:"claimed_at,omitempty"`
	CorrelationID     string                 `json:"correlation_id,omitempty"`
	Metadata          map[string]string      `json:"metadata,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// Clone returns a copy that can be mutated without touching the original
func (m *QueuedMessage) Clone() *QueuedMessage {
	if m == nil {
		return nil
	}
	c := *m
	c.ScheduledFor = cloneTime(m.ScheduledFor)
	c.LastRetryAt = cloneTime(m.LastRetryAt)
	c.NextRetryAt = cloneTime(m.NextRetryAt)
	c.SentAt = cloneTime(m.SentAt)
	c.ClaimedAt = cloneTime(m.ClaimedAt)
	if m.TemplateVariables != nil {
		c.TemplateVariables = make(map[string]interface{}, len(m.TemplateVariables))
		for k, v := range m.TemplateVariables {
			c.TemplateVariables[k] = v
		}
	}
	if m.ProviderResponse != nil {
		c.ProviderResponse = make(map[string]interface{}, len(m.ProviderResponse))
		for k, v := range m.ProviderResponse {
			c.ProviderResponse[k] = v
		}
	}
	if m.Metadata != nil {
		c.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// IsDue evaluates the eligibility predicate for claiming at the given instant
func (m *QueuedMessage) IsDue(now time.Time) bool {
	if m.Status != StatusPending {
		return false
	}
	if m.ScheduledFor != nil && m.ScheduledFor.After(now) {
		return false
	}
	if m.NextRetryAt != nil && m.NextRetryAt.After(now) {
		return false
	}
	return m.RetryCount < m.MaxRetries
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// MessageFilter narrows administrative listings
type MessageFilter struct {
	Status        MessageStatus
	MessageType   string
	CorrelationID string
	Limit         int
}

// QueueStats is a monitoring snapshot of the queue
type QueueStats struct {
	Total           int                   `json:"total"`
	ByStatus        map[MessageStatus]int `json:"by_status"`
	AverageRetries  float64               `json:"average_retry_count"`
	Due             int                   `json:"due"`
	ProcessorActive bool                  `json:"processor_active"`
}
