package service

import (
	"context"

	"dispatchq/internal/errors"
	"dispatchq/internal/metrics"
	"dispatchq/pkg/channel"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Sender transmits synchronously, bypassing the queue store. There is no retry and no audit trail.
type Sender struct {
	preparer preparer
	tx       transmitter
	logger   *logrus.Logger
}

func NewSender(templates *TemplateResolver, policy EnqueuePolicy, ch channel.Transmitter, logger *logrus.Logger) *Sender {
	return &Sender{
		preparer: newPreparer(templates, policy, SystemClock()),
		tx:       transmitter{channel: ch},
		logger:   logger,
	}
}

// SendNow validates req like Enqueue does and transmits it immediately
func (s *Sender) SendNow(ctx context.Context, req EnqueueRequest) (*channel.Receipt, error) {
	msg, err := s.preparer.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	msg.ID = uuid.NewString()

	fields := messageFields(ctx, msg.ID, msg.Recipient, msg.MessageType)

	receipt, err := s.tx.send(ctx, "dispatch.send_now", envelopeFor(msg))
	if err != nil {
		s.logger.WithError(err).WithFields(fields).Warn("Immediate send failed")
		metrics.IncrementCounter("messages_send_now_total", map[string]string{"outcome": "failed"}, "Immediate sends")
		if channel.IsPermanent(err) {
			return nil, errors.Wrap(err, errors.ErrCodeChannelPermanent, "channel rejected the message").
				WithContext("provider", s.tx.channel.Name()).
				WithUserMessage("The delivery channel rejected the message")
		}
		return nil, errors.WrapRetryable(err, errors.ErrCodeChannelTransient, "channel transmission failed").
			WithContext("provider", s.tx.channel.Name()).
			WithUserMessage("The delivery channel is unavailable, try again later")
	}

	metrics.IncrementCounter("messages_send_now_total", map[string]string{"outcome": "sent"}, "Immediate sends")
	fields[LogFieldProvider] = receipt.Provider
	s.logger.WithFields(fields).Info("Message sent immediately")
	return receipt, nil
}
