package service

import (
	"context"
	"sync"

	"dispatchq/internal/metrics"
	"dispatchq/internal/models"

	"github.com/sirupsen/logrus"
)

const subscriberBuffer = 64

// EventRecorder appends delivery events and fans them out to live subscribers.
// Append failures are logged and never returned; the transition they describe has already happened.
type EventRecorder struct {
	store  EventStore
	clock  Clock
	logger *logrus.Logger

	mu          sync.RWMutex
	subscribers map[int]chan *models.DeliveryEvent
	nextSubID   int
}

func NewEventRecorder(store EventStore, clock Clock, logger *logrus.Logger) *EventRecorder {
	return &EventRecorder{
		store:       store,
		clock:       clock,
		logger:      logger,
		subscribers: make(map[int]chan *models.DeliveryEvent),
	}
}

// Record appends an event of the given type for messageID
func (r *EventRecorder) Record(ctx context.Context, messageID string, eventType models.EventType, data map[string]interface{}) {
	ev := &models.DeliveryEvent{
		MessageID: messageID,
		Type:      eventType,
		Data:      data,
		CreatedAt: r.clock.Now(),
	}

	if err := r.store.AppendEvent(ctx, ev); err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			LogFieldMessageID: messageID,
			LogFieldEvent:     string(eventType),
		}).Warn("Failed to append delivery event")
		metrics.IncrementCounter("delivery_event_append_failures_total", nil, "Delivery events that could not be stored")
		return
	}

	metrics.IncrementCounter("delivery_events_total", map[string]string{"type": string(eventType)}, "Delivery events appended")
	r.broadcast(ev)
}

// List returns the stored events of a message in append order
func (r *EventRecorder) List(ctx context.Context, messageID string) ([]*models.DeliveryEvent, error) {
	return r.store.ListEvents(ctx, messageID)
}

// Subscribe returns a channel receiving every event recorded from now on, and a function
// that ends the subscription. Slow subscribers miss events rather than blocking dispatch.
func (r *EventRecorder) Subscribe() (<-chan *models.DeliveryEvent, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextSubID
	r.nextSubID++
	ch := make(chan *models.DeliveryEvent, subscriberBuffer)
	r.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subscribers, id)
			r.mu.Unlock()
			close(ch)
		})
	}
}

func (r *EventRecorder) broadcast(ev *models.DeliveryEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, ch := range r.subscribers {
		select {
		case ch <- ev:
		default:
			metrics.IncrementCounter("delivery_event_stream_dropped_total", nil, "Events dropped for slow stream subscribers")
		}
	}
}
