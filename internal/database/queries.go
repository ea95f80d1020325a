package database

// Queued message queries. Placeholders are rebound per dialect.
const (
	messageColumns = `
		id, recipient, sender, reply_to, subject, html_body, text_body,
		template_name, template_variables, message_type, status, priority,
		scheduled_for, retry_count, max_retries, last_retry_at, next_retry_at,
		last_error, provider_response, sent_at, claimed_by, claimed_at,
		correlation_id, metadata, created_at, updated_at`

	InsertMessageQuery = `
		INSERT INTO queued_messages (` + messageColumns + `
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	SelectMessageByIDQuery = `
		SELECT ` + messageColumns + `
		FROM queued_messages
		WHERE id = ?`

	SelectEligibleMessagesQuery = `
		SELECT ` + messageColumns + `
		FROM queued_messages
		WHERE status = 'pending'
		  AND (scheduled_for IS NULL OR scheduled_for <= ?)
		  AND (next_retry_at IS NULL OR next_retry_at <= ?)
		  AND retry_count < max_retries
		ORDER BY priority ASC, created_at ASC, seq ASC
		LIMIT ?`

	CountDueMessagesQuery = `
		SELECT COUNT(*)
		FROM queued_messages
		WHERE status = 'pending'
		  AND (scheduled_for IS NULL OR scheduled_for <= ?)
		  AND (next_retry_at IS NULL OR next_retry_at <= ?)
		  AND retry_count < max_retries`

	// ClaimMessageQuery re-checks the full eligibility predicate so a row that was
	// rescheduled or reclaimed after it was listed is not taken
	ClaimMessageQuery = `
		UPDATE queued_messages
		SET status = 'processing', claimed_by = ?, claimed_at = ?, updated_at = ?
		WHERE id = ?
		  AND status = 'pending'
		  AND (scheduled_for IS NULL OR scheduled_for <= ?)
		  AND (next_retry_at IS NULL OR next_retry_at <= ?)
		  AND retry_count < max_retries`

	// TransitionMessageQuery writes every mutable column; the status guard is appended at call time
	TransitionMessageQuery = `
		UPDATE queued_messages
		SET status = ?, retry_count = ?, last_retry_at = ?, next_retry_at = ?,
			last_error = ?, provider_response = ?, sent_at = ?, claimed_by = ?,
			claimed_at = ?, updated_at = ?
		WHERE id = ? AND status IN (%s)`

	CountByStatusQuery = `
		SELECT status, COUNT(*)
		FROM queued_messages
		GROUP BY status`

	AverageRetryCountQuery = `
		SELECT COALESCE(AVG(retry_count), 0)
		FROM queued_messages`

	SelectStaleClaimsQuery = `
		SELECT ` + messageColumns + `
		FROM queued_messages
		WHERE status = 'processing' AND (claimed_at IS NULL OR claimed_at < ?)
		ORDER BY claimed_at ASC
		LIMIT ?`

	DeleteEventsOfExpiredMessagesQuery = `
		DELETE FROM delivery_events
		WHERE message_id IN (
			SELECT id FROM queued_messages
			WHERE status IN ('sent', 'failed', 'cancelled') AND updated_at < ?
		)`

	DeleteExpiredMessagesQuery = `
		DELETE FROM queued_messages
		WHERE status IN ('sent', 'failed', 'cancelled') AND updated_at < ?`
)

// Delivery event queries
const (
	InsertEventQuery = `
		INSERT INTO delivery_events (message_id, event_type, data, created_at)
		VALUES (?, ?, ?, ?)`

	SelectEventsByMessageQuery = `
		SELECT id, message_id, event_type, data, created_at
		FROM delivery_events
		WHERE message_id = ?
		ORDER BY id ASC`
)

// Template queries
const (
	templateColumns = `name, category, subject, html_body, text_body, variables, active, created_at, updated_at`

	SelectTemplateQuery = `
		SELECT ` + templateColumns + `
		FROM templates
		WHERE name = ?`

	UpsertTemplateQuery = `
		INSERT INTO templates (` + templateColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			category = excluded.category,
			subject = excluded.subject,
			html_body = excluded.html_body,
			text_body = excluded.text_body,
			variables = excluded.variables,
			active = excluded.active,
			updated_at = excluded.updated_at`
)
