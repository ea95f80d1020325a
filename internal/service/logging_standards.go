package service

// Logging Standards for dispatchq
//
// This file defines standard field names, log levels, and patterns
// to ensure consistent logging across the application.

// Standard Field Names
// Use these exact field names for consistency across all logging calls
const (
	// Core identifiers
	LogFieldMessageID     = "message_id"
	LogFieldCorrelationID = "correlation_id"
	LogFieldInstanceID    = "instance_id"
	LogFieldTemplate      = "template"

	// Service and operation fields
	LogFieldService   = "service"
	LogFieldOperation = "operation"
	LogFieldComponent = "component"

	// Message lifecycle fields
	LogFieldEvent       = "event"
	LogFieldMessageType = "message_type"
	LogFieldStatus      = "status"
	LogFieldPriority    = "priority"
	LogFieldRecipient   = "recipient"
	LogFieldProvider    = "provider"
	LogFieldNextRetryAt = "next_retry_at"

	// HTTP request fields
	LogFieldRequestID  = "request_id"
	LogFieldTraceID    = "trace_id"
	LogFieldMethod     = "method"
	LogFieldURL        = "url"
	LogFieldRoute      = "route"
	LogFieldStatusCode = "status_code"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"
	LogFieldSize       = "size_bytes"

	// Performance and metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"
	LogFieldBatch    = "batch_size"

	// Error and debugging
	LogFieldErrorCode  = "error_code"
	LogFieldRetryCount = "retry_count"
	LogFieldMaxRetries = "max_retries"
	LogFieldAttempt    = "attempt"
)

// Log Level Usage Guidelines
//
// DEBUG: Detailed information for diagnosing problems. Only use in development or verbose mode.
//   - Skipped ticks and lost claims
//   - Empty cycles
//
// INFO: General information about application flow and key events.
//   - Processor and scheduler start/stop
//   - Messages enqueued, sent, cancelled, manually retried
//   - Cleanup results
//
// WARN: Something unexpected happened, but the application can continue.
//   - Transmission failures that will be retried
//   - Event append failures
//   - Outcomes discarded because the row changed during transmission
//
// ERROR: Error events that might still allow the application to continue.
//   - Messages that exhausted their retry budget
//   - Store failures during a cycle
//
// FATAL: Only in cmd/, when startup cannot continue.

// Standard Log Message Patterns
//
// Starting operations: "Starting [operation]"
// Completed operations: "Completed [operation]"
// Failed operations: "Failed to [operation]"
// Skipping operations: "Skipping [operation]: [reason]"

// Example Usage:
//
// logger.WithFields(logrus.Fields{
//     LogFieldMessageID:  msg.ID,
//     LogFieldAttempt:    msg.RetryCount + 1,
//     LogFieldProvider:   receipt.Provider,
// }).Info("Message sent")
