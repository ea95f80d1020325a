package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"dispatchq/internal/constants"
	"dispatchq/internal/metrics"
	"dispatchq/internal/models"
	"dispatchq/internal/retry"
	"dispatchq/internal/tracing"
	"dispatchq/pkg/channel"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// ProcessorConfig controls one processor instance
type ProcessorConfig struct {
	Interval          time.Duration
	BatchSize         int
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	FastFailPermanent bool
	InstanceID        string
}

// ProcessorConfigFrom converts the JSON config, filling gaps with defaults
func ProcessorConfigFrom(cfg models.ProcessorConfig) ProcessorConfig {
	pc := ProcessorConfig{
		Interval:          time.Duration(cfg.IntervalSec) * time.Second,
		BatchSize:         cfg.BatchSize,
		BackoffInitial:    time.Duration(cfg.BackoffInitialSec) * time.Second,
		BackoffMax:        time.Duration(cfg.BackoffMaxSec) * time.Second,
		FastFailPermanent: cfg.FastFailPermanent,
		InstanceID:        cfg.InstanceID,
	}
	if pc.Interval <= 0 {
		pc.Interval = constants.DefaultProcessorIntervalSec * time.Second
	}
	if pc.BatchSize <= 0 {
		pc.BatchSize = constants.DefaultBatchSize
	}
	if pc.BackoffInitial <= 0 {
		pc.BackoffInitial = constants.DefaultBackoffInitialSec * time.Second
	}
	if pc.BackoffMax < pc.BackoffInitial {
		pc.BackoffMax = constants.DefaultBackoffMaxSec * time.Second
	}
	if pc.InstanceID == "" {
		pc.InstanceID = uuid.NewString()
	}
	return pc
}

// CycleResult tallies what one cycle did
type CycleResult struct {
	Selected int `json:"selected"`
	Sent     int `json:"sent"`
	Retried  int `json:"retried"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
}

// Processor polls the queue store on a fixed interval and attempts every eligible message
type Processor struct {
	store   QueueStore
	events  *EventRecorder
	tx      transmitter
	clock   Clock
	backoff *retry.Backoff
	config  ProcessorConfig
	logger  *logrus.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex

	busy     atomic.Bool
	stopping atomic.Bool
}

func NewProcessor(store QueueStore, events *EventRecorder, ch channel.Transmitter, clock Clock, config ProcessorConfig, logger *logrus.Logger) *Processor {
	return &Processor{
		store:   store,
		events:  events,
		tx:      transmitter{channel: ch},
		clock:   clock,
		backoff: retry.NewBackoff(retry.DeliveryBackoffConfig(config.BackoffInitial, config.BackoffMax)),
		config:  config,
		logger:  logger,
	}
}

// Start launches the background cycle loop
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("dispatch processor is already running")
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running = true
	p.stopping.Store(false)
	metrics.SetGauge("dispatch_processor_active", 1, nil, "Whether the dispatch processor is running")

	p.wg.Add(1)
	go p.loop()

	p.logger.WithFields(logrus.Fields{
		"interval":         p.config.Interval.String(),
		LogFieldBatch:      p.config.BatchSize,
		LogFieldInstanceID: p.config.InstanceID,
	}).Info("Dispatch processor started")

	return nil
}

// Stop halts the loop and waits for an in-flight cycle to finish. It is safe to call repeatedly.
func (p *Processor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	p.logger.Info("Stopping dispatch processor...")
	p.stopping.Store(true)
	p.cancel()
	p.wg.Wait()
	p.running = false
	metrics.SetGauge("dispatch_processor_active", 0, nil, "Whether the dispatch processor is running")
	p.logger.Info("Dispatch processor stopped")
}

// IsRunning reports whether the loop is active
func (p *Processor) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

func (p *Processor) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			// an attempt already transmitting is allowed to record its outcome
			p.RunCycle(context.WithoutCancel(p.ctx))
		}
	}
}

// RunCycle performs one claim/attempt pass. It returns false without doing anything
// when another cycle is still in flight.
func (p *Processor) RunCycle(ctx context.Context) (CycleResult, bool) {
	if !p.busy.CompareAndSwap(false, true) {
		metrics.IncrementCounter("dispatch_cycles_skipped_total", nil, "Ticks dropped because a cycle was in flight")
		p.logger.Debug("Skipping dispatch cycle: previous cycle still running")
		return CycleResult{}, false
	}
	defer p.busy.Store(false)

	return p.runCycle(ctx), true
}

func (p *Processor) runCycle(ctx context.Context) CycleResult {
	ctx, span := tracing.StartSpan(ctx, "dispatch.cycle", attribute.String("processor.instance_id", p.config.InstanceID))
	defer span.End()

	start := time.Now()
	var result CycleResult

	msgs, err := p.store.ListEligible(ctx, p.clock.Now(), p.config.BatchSize)
	if err != nil {
		tracing.RecordError(ctx, err)
		p.logger.WithError(err).Error("Failed to list eligible messages")
		metrics.IncrementCounter("dispatch_cycle_errors_total", nil, "Dispatch cycles aborted by store errors")
		return result
	}
	result.Selected = len(msgs)

	for _, msg := range msgs {
		if p.stopping.Load() {
			break
		}
		switch p.attempt(ctx, msg) {
		case models.StatusSent:
			result.Sent++
		case models.StatusPending:
			result.Retried++
		case models.StatusFailed:
			result.Failed++
		default:
			result.Skipped++
		}
	}

	span.SetAttributes(
		attribute.Int("cycle.selected", result.Selected),
		attribute.Int("cycle.sent", result.Sent),
		attribute.Int("cycle.retried", result.Retried),
		attribute.Int("cycle.failed", result.Failed),
	)
	metrics.RecordTimer("dispatch_cycle_duration", time.Since(start), nil, "Duration of dispatch cycles")
	metrics.IncrementCounter("dispatch_cycles_total", nil, "Dispatch cycles completed")

	if result.Selected > 0 {
		p.logger.WithFields(logrus.Fields{
			"selected": result.Selected,
			"sent":     result.Sent,
			"retried":  result.Retried,
			"failed":   result.Failed,
			"skipped":  result.Skipped,
		}).Info("Completed dispatch cycle")
	} else {
		p.logger.Debug("No messages due")
	}

	return result
}

// attempt claims msg, transmits it and applies exactly one transition.
// msg is the listed snapshot; once claimed, the stored row is re-read so retry
// accounting starts from what is actually persisted.
// It returns the status written, or "" when the message was skipped.
func (p *Processor) attempt(ctx context.Context, listed *models.QueuedMessage) models.MessageStatus {
	now := p.clock.Now()
	fields := messageFields(ctx, listed.ID, listed.Recipient, listed.MessageType)

	claimed, err := p.store.ClaimMessage(ctx, listed.ID, p.config.InstanceID, now)
	if err != nil {
		p.logger.WithError(err).WithFields(fields).Error("Failed to claim message")
		return ""
	}
	if !claimed {
		p.logger.WithFields(fields).Debug("Skipping message: claimed elsewhere or no longer due")
		return ""
	}

	msg, err := p.store.GetMessage(ctx, listed.ID)
	if err != nil || msg == nil {
		// the claim stands; stale-claim recovery returns the row to pending
		p.logger.WithError(err).WithFields(fields).Error("Failed to reload claimed message")
		return ""
	}
	if msg.Status != models.StatusProcessing || msg.ClaimedBy != p.config.InstanceID {
		p.logger.WithFields(fields).Debug("Skipping message: claim superseded before reload")
		return ""
	}

	attempt := msg.RetryCount + 1
	fields[LogFieldAttempt] = attempt
	p.events.Record(ctx, msg.ID, models.EventProcessing, map[string]interface{}{
		"attempt":     attempt,
		"instance_id": p.config.InstanceID,
	})

	receipt, sendErr := p.tx.send(ctx, "dispatch.attempt", envelopeFor(msg), attribute.Int("message.attempt", attempt))
	if sendErr != nil {
		return p.recordFailure(ctx, msg, sendErr, fields)
	}
	return p.recordSuccess(ctx, msg, receipt, fields)
}

func (p *Processor) recordSuccess(ctx context.Context, msg *models.QueuedMessage, receipt *channel.Receipt, fields logrus.Fields) models.MessageStatus {
	now := p.clock.Now()
	msg.Status = models.StatusSent
	msg.SentAt = &now
	msg.UpdatedAt = now
	msg.ProviderResponse = map[string]interface{}{
		"provider_message_id": receipt.ProviderMessageID,
		"provider":            receipt.Provider,
	}

	if !p.transition(ctx, msg, fields) {
		return ""
	}

	p.events.Record(ctx, msg.ID, models.EventSent, map[string]interface{}{
		"provider":            receipt.Provider,
		"provider_message_id": receipt.ProviderMessageID,
		"attempt":             msg.RetryCount + 1,
	})
	metrics.IncrementCounter("messages_sent_total", map[string]string{"provider": receipt.Provider}, "Messages delivered to the channel")

	fields[LogFieldProvider] = receipt.Provider
	p.logger.WithFields(fields).Info("Message sent")
	return models.StatusSent
}

func (p *Processor) recordFailure(ctx context.Context, msg *models.QueuedMessage, sendErr error, fields logrus.Fields) models.MessageStatus {
	now := p.clock.Now()
	permanent := channel.IsPermanent(sendErr)

	msg.LastError = truncateError(sendErr)
	msg.ClaimedBy = ""
	msg.ClaimedAt = nil
	msg.UpdatedAt = now

	data := map[string]interface{}{
		"error":     msg.LastError,
		"permanent": permanent,
	}

	switch {
	case permanent && p.config.FastFailPermanent:
		msg.Status = models.StatusFailed
		msg.NextRetryAt = nil
		data["max_retries_reached"] = false
	default:
		msg.RetryCount++
		msg.LastRetryAt = &now
		if msg.RetryCount < msg.MaxRetries {
			next := now.Add(p.backoff.GetNextDelay(msg.RetryCount))
			msg.Status = models.StatusPending
			msg.NextRetryAt = &next
			data["next_retry_at"] = next.Format(time.RFC3339)
			data["max_retries_reached"] = false
		} else {
			msg.Status = models.StatusFailed
			msg.NextRetryAt = nil
			data["max_retries_reached"] = true
		}
	}
	data["retry_count"] = msg.RetryCount

	if !p.transition(ctx, msg, fields) {
		return ""
	}

	p.events.Record(ctx, msg.ID, models.EventFailed, data)

	fields[LogFieldRetryCount] = msg.RetryCount
	fields[LogFieldMaxRetries] = msg.MaxRetries
	entry := p.logger.WithError(sendErr).WithFields(fields)
	if msg.Status == models.StatusPending {
		metrics.IncrementCounter("messages_retried_total", nil, "Failed attempts scheduled for retry")
		entry.WithField(LogFieldNextRetryAt, msg.NextRetryAt.Format(time.RFC3339)).Warn("Message send failed, will retry")
		return models.StatusPending
	}

	metrics.IncrementCounter("messages_failed_total", map[string]string{"permanent": fmt.Sprint(permanent)}, "Messages that reached the failed state")
	entry.Error("Message send failed permanently")
	return models.StatusFailed
}

// transition writes msg if the row is still processing. A row changed during transmission
// (cancelled or reclaimed) keeps its current state and the outcome is only logged.
func (p *Processor) transition(ctx context.Context, msg *models.QueuedMessage, fields logrus.Fields) bool {
	applied, err := p.store.TransitionMessage(ctx, msg, models.StatusProcessing)
	if err != nil {
		p.logger.WithError(err).WithFields(fields).WithField(LogFieldStatus, msg.Status).Error("Failed to record attempt outcome")
		return false
	}
	if !applied {
		p.logger.WithFields(fields).WithField(LogFieldStatus, msg.Status).Warn("Message changed during transmission, outcome discarded")
		metrics.IncrementCounter("dispatch_outcomes_discarded_total", nil, "Attempt outcomes discarded because the row had changed")
		return false
	}
	return true
}
