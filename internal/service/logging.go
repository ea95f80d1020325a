package service

import (
	"context"

	"dispatchq/internal/privacy"

	"github.com/sirupsen/logrus"
)

// ContextKey is a package-local type to prevent context key collisions
type ContextKey string

// VerboseContextKey is the strongly-typed context key for verbose logging flag
const VerboseContextKey ContextKey = "verbose"

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// WithVerboseLogging marks ctx so recipients are logged unmasked
func WithVerboseLogging(ctx context.Context, verbose bool) context.Context {
	return context.WithValue(ctx, VerboseContextKey, verbose)
}

// recipientField returns the recipient as it may appear in logs
func recipientField(ctx context.Context, recipient string) string {
	if IsVerboseLogging(ctx) {
		return recipient
	}
	return privacy.MaskEmail(recipient)
}

// messageFields is the standard field set for a message log line
func messageFields(ctx context.Context, id, recipient, messageType string) logrus.Fields {
	return logrus.Fields{
		LogFieldMessageID:   id,
		LogFieldRecipient:   recipientField(ctx, recipient),
		LogFieldMessageType: messageType,
	}
}
