package service

import (
	"context"
	"fmt"
	"time"

	"dispatchq/internal/metrics"
	"dispatchq/internal/models"
	"dispatchq/internal/tracing"
	"dispatchq/pkg/channel"

	"go.opentelemetry.io/otel/attribute"
)

const maxStoredErrorLength = 1000

// transmitter is the single pathway to the channel, shared by the processor and the immediate sender.
// Circuit breaking is applied to the channel itself when it is constructed.
type transmitter struct {
	channel channel.Transmitter
}

func (t transmitter) send(ctx context.Context, spanName string, env *channel.Envelope, attrs ...attribute.KeyValue) (*channel.Receipt, error) {
	provider := t.channel.Name()
	attrs = append(attrs,
		attribute.String("message.id", env.MessageID),
		attribute.String("message.type", env.MessageType),
		attribute.String("channel.provider", provider),
	)
	ctx, span := tracing.StartSpan(ctx, spanName, attrs...)
	defer span.End()

	start := time.Now()
	receipt, err := t.channel.Transmit(ctx, env)
	if err == nil && receipt == nil {
		err = channel.Transient(provider, fmt.Errorf("channel returned no receipt"))
	}

	outcome := "sent"
	switch {
	case err == nil:
	case channel.IsPermanent(err):
		outcome = "permanent"
	default:
		outcome = "transient"
	}

	labels := map[string]string{"provider": provider, "outcome": outcome}
	metrics.RecordTimer("channel_transmit_duration", time.Since(start), map[string]string{"provider": provider}, "Time spent in channel transmission")
	metrics.IncrementCounter("channel_transmit_total", labels, "Channel transmission attempts")

	if err != nil {
		tracing.RecordError(ctx, err, attribute.String("outcome", outcome))
		return nil, err
	}

	if receipt.Provider == "" {
		receipt.Provider = provider
	}
	span.SetAttributes(attribute.String("channel.provider_message_id", receipt.ProviderMessageID))
	return receipt, nil
}

func envelopeFor(msg *models.QueuedMessage) *channel.Envelope {
	return &channel.Envelope{
		MessageID:   msg.ID,
		Recipient:   msg.Recipient,
		Sender:      msg.Sender,
		ReplyTo:     msg.ReplyTo,
		Subject:     msg.Subject,
		HTMLBody:    msg.HTMLBody,
		TextBody:    msg.TextBody,
		MessageType: msg.MessageType,
	}
}

func truncateError(err error) string {
	s := err.Error()
	if len(s) > maxStoredErrorLength {
		return s[:maxStoredErrorLength]
	}
	return s
}
