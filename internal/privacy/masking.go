package privacy

import (
	"strings"

	"dispatchq/internal/constants"
)

// MaskEmail masks the local part of an address, keeping the first characters and the domain
// Example: "alice.smith@example.com" -> "al*********@example.com"
func MaskEmail(email string) string {
	if email == "" {
		return ""
	}

	at := strings.LastIndex(email, "@")
	if at < 0 {
		return maskString(email, 4)
	}

	local, domain := email[:at], email[at:]
	keep := constants.DefaultEmailMaskLength
	if len(local) <= keep {
		return strings.Repeat("*", len(local)) + domain
	}
	return local[:keep] + strings.Repeat("*", len(local)-keep) + domain
}

// MaskMessageID masks a queue message id, keeping the last 8 characters for correlation
// Example: "6f1c2e8a-3b0d-4a51-9e77-1c2d3e4f5a6b" -> "****************************3e4f5a6b"
func MaskMessageID(messageID string) string {
	if messageID == "" {
		return ""
	}
	return maskString(messageID, constants.DefaultMessageIDLength)
}

// MaskCorrelationID masks the caller-supplied user or entity identifier
func MaskCorrelationID(id string) string {
	if id == "" {
		return ""
	}
	return maskString(id, 4)
}

// MaskSecret hides a credential completely
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	return "***"
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}

	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}

	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		s, isString := v.(string)
		if !isString {
			masked[k] = v
			continue
		}

		switch k {
		case "recipient", "sender", "reply_to", "email", "to", "from":
			masked[k] = MaskEmail(s)
		case "correlation_id", "user_id":
			masked[k] = MaskCorrelationID(s)
		case "api_key", "token", "password", "secret", "admin_token":
			masked[k] = MaskSecret(s)
		default:
			masked[k] = v
		}
	}

	return masked
}
