package validation

import (
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"dispatchq/internal/constants"
	"dispatchq/internal/errors"
)

// NormalizeAddress trims surrounding whitespace and lower-cases the domain part.
// The local part is left as given.
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	at := strings.LastIndex(address, "@")
	if at < 0 {
		return address
	}
	return address[:at] + strings.ToLower(address[at:])
}

// ValidateEmail checks that value is a single bare address (no display name)
func ValidateEmail(field, value string) error {
	if value == "" {
		return errors.NewValidationError(field, value, "address is required")
	}

	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value || addr.Name != "" {
		return errors.NewValidationError(field, value, "not a valid email address")
	}

	at := strings.LastIndex(value, "@")
	if at <= 0 || !strings.Contains(value[at+1:], ".") {
		return errors.NewValidationError(field, value, "address must contain a domain")
	}

	return nil
}

// ValidateMessageType validates the classification tag attached to every message
func ValidateMessageType(messageType string) error {
	if messageType == "" {
		return errors.NewValidationError("message_type", messageType, "message type is required")
	}
	if len(messageType) > constants.MaxMessageTypeLength {
		return errors.NewValidationError("message_type", messageType,
			fmt.Sprintf("too long (max %d characters)", constants.MaxMessageTypeLength))
	}
	for _, char := range messageType {
		if !unicode.IsLetter(char) && !unicode.IsDigit(char) && char != '_' && char != '-' && char != '.' {
			return errors.NewValidationError("message_type", messageType,
				"must contain only letters, numbers, dots, underscores, and dashes")
		}
	}
	return nil
}

// ValidateMessageID validates a queue message id taken from a URL or CLI argument
func ValidateMessageID(messageID string) error {
	if messageID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "message ID cannot be empty")
	}

	if len(messageID) > constants.MaxMessageIDLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("message ID too long (max %d characters)", constants.MaxMessageIDLength))
	}

	for _, char := range messageID {
		if char == '\x00' || char == '\n' || char == '\r' || char == '\t' {
			return errors.New(errors.ErrCodeInvalidInput, "message ID contains invalid characters")
		}
	}

	return nil
}

// ValidatePriority validates a message priority; lower is more urgent
func ValidatePriority(priority int) error {
	if priority < constants.MinPriority || priority > constants.MaxPriority {
		return errors.NewValidationError("priority", fmt.Sprint(priority),
			fmt.Sprintf("must be between %d and %d", constants.MinPriority, constants.MaxPriority))
	}
	return nil
}

// ValidateMaxRetries validates a per-message retry budget against the configured ceiling
func ValidateMaxRetries(maxRetries, ceiling int) error {
	if maxRetries < 0 {
		return errors.NewValidationError("max_retries", fmt.Sprint(maxRetries), "cannot be negative")
	}
	if maxRetries > ceiling {
		return errors.NewValidationError("max_retries", fmt.Sprint(maxRetries),
			fmt.Sprintf("cannot exceed %d", ceiling))
	}
	return nil
}

// ValidateScheduledFor rejects delivery times that are unset, before the Unix
// epoch, or further than horizon past now
func ValidateScheduledFor(at, now time.Time, horizon time.Duration) error {
	if at.IsZero() || at.Before(time.Unix(0, 0)) {
		return errors.NewValidationError("scheduled_for", at.Format(time.RFC3339), "must be a valid time after 1970-01-01")
	}
	if limit := now.Add(horizon); at.After(limit) {
		return errors.NewValidationError("scheduled_for", at.Format(time.RFC3339),
			fmt.Sprintf("cannot be later than %s", limit.UTC().Format(time.RFC3339)))
	}
	return nil
}

// ValidateHTTPRequestSize validates incoming HTTP request size
func ValidateHTTPRequestSize(r *http.Request, maxSizeBytes int64) error {
	if r.ContentLength > maxSizeBytes {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("request too large: %d bytes (max %d bytes)", r.ContentLength, maxSizeBytes))
	}

	return nil
}

// ValidateStringLength validates string length against bounds
func ValidateStringLength(value, fieldName string, minLength, maxLength int) error {
	if len(value) < minLength {
		return errors.NewValidationError(fieldName, value,
			fmt.Sprintf("too short (min %d characters)", minLength))
	}

	if len(value) > maxLength {
		return errors.NewValidationError(fieldName, value,
			fmt.Sprintf("too long (max %d characters)", maxLength))
	}

	return nil
}

// ValidateNumericRange validates numeric values against bounds
func ValidateNumericRange(value int, fieldName string, min, max int) error {
	if value < min {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too small (min %d)", fieldName, min))
	}

	if value > max {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max %d)", fieldName, max))
	}

	return nil
}

// ValidateTimeout validates timeout values
func ValidateTimeout(timeoutSec int, fieldName string) error {
	return ValidateNumericRange(timeoutSec, fieldName, 1, 3600)
}

// ValidateRetentionDays validates data retention period
func ValidateRetentionDays(days int) error {
	if days < 1 {
		return errors.New(errors.ErrCodeInvalidInput, "retention days must be at least 1")
	}

	if days > 3650 {
		return errors.New(errors.ErrCodeInvalidInput, "retention days too large (max 3650)")
	}

	return nil
}
