package channel

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const LogProviderName = "log"

// LogTransmitter accepts every envelope and writes it to the log. Used in development
// and as the default provider.
type LogTransmitter struct {
	logger *logrus.Logger
	mask   func(string) string
}

// NewLogTransmitter creates a log provider. mask, when non-nil, is applied to addresses before logging.
func NewLogTransmitter(logger *logrus.Logger, mask func(string) string) *LogTransmitter {
	if mask == nil {
		mask = func(s string) string { return s }
	}
	return &LogTransmitter{logger: logger, mask: mask}
}

func (t *LogTransmitter) Name() string { return LogProviderName }

func (t *LogTransmitter) Transmit(ctx context.Context, env *Envelope) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, Transient(LogProviderName, err)
	}

	id := uuid.NewString()
	t.logger.WithFields(logrus.Fields{
		"provider":            LogProviderName,
		"provider_message_id": id,
		"message_id":          env.MessageID,
		"recipient":           t.mask(env.Recipient),
		"sender":              t.mask(env.Sender),
		"subject":             env.Subject,
		"message_type":        env.MessageType,
		"html_bytes":          len(env.HTMLBody),
		"text_bytes":          len(env.TextBody),
	}).Info("Message transmitted to log provider")

	return &Receipt{ProviderMessageID: id, Provider: LogProviderName}, nil
}
