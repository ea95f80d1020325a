package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"dispatchq/internal/constants"
	"dispatchq/internal/models"
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// InsertMessage persists a new queue row. The caller assigns ID and timestamps.
func (d *Database) InsertMessage(ctx context.Context, msg *models.QueuedMessage) error {
	recipient, err := d.encryptor.Encrypt(msg.Recipient)
	if err != nil {
		return fmt.Errorf("failed to encrypt recipient: %w", err)
	}

	variables, err := d.encodeVariables(msg.TemplateVariables)
	if err != nil {
		return err
	}

	providerResponse, err := encodeJSON(msg.ProviderResponse)
	if err != nil {
		return fmt.Errorf("failed to encode provider response: %w", err)
	}

	metadata, err := encodeJSON(msg.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	return retryableDBOperation(ctx, func() error {
		_, err := d.exec(ctx, InsertMessageQuery,
			msg.ID,
			recipient,
			msg.Sender,
			nullableString(msg.ReplyTo),
			msg.Subject,
			msg.HTMLBody,
			msg.TextBody,
			nullableString(msg.TemplateName),
			variables,
			msg.MessageType,
			string(msg.Status),
			msg.Priority,
			nullableNanos(msg.ScheduledFor),
			msg.RetryCount,
			msg.MaxRetries,
			nullableNanos(msg.LastRetryAt),
			nullableNanos(msg.NextRetryAt),
			nullableString(msg.LastError),
			providerResponse,
			nullableNanos(msg.SentAt),
			nullableString(msg.ClaimedBy),
			nullableNanos(msg.ClaimedAt),
			nullableString(msg.CorrelationID),
			metadata,
			toNanos(msg.CreatedAt),
			toNanos(msg.UpdatedAt),
		)
		return err
	}, "insert message")
}

// GetMessage returns the message with the given id, or nil when it does not exist
func (d *Database) GetMessage(ctx context.Context, id string) (*models.QueuedMessage, error) {
	msg, err := d.scanMessage(d.queryRow(ctx, SelectMessageByIDQuery, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

// ListEligible returns up to limit pending messages that are due at now,
// most urgent first and FIFO within a priority.
func (d *Database) ListEligible(ctx context.Context, now time.Time, limit int) ([]*models.QueuedMessage, error) {
	ts := toNanos(now)
	return d.queryMessages(ctx, SelectEligibleMessagesQuery, ts, ts, limit)
}

// CountDue counts messages a cycle starting at now could claim
func (d *Database) CountDue(ctx context.Context, now time.Time) (int, error) {
	ts := toNanos(now)
	var n int
	if err := d.queryRow(ctx, CountDueMessagesQuery, ts, ts).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count due messages: %w", err)
	}
	return n, nil
}

// ClaimMessage moves a due pending row to processing on behalf of instanceID.
// It reports false when the row was no longer pending or no longer due at now.
func (d *Database) ClaimMessage(ctx context.Context, id, instanceID string, now time.Time) (bool, error) {
	var claimed bool
	err := retryableDBOperation(ctx, func() error {
		ts := toNanos(now)
		res, err := d.exec(ctx, ClaimMessageQuery, nullableString(instanceID), ts, ts, id, ts, ts)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		claimed = n == 1
		return nil
	}, "claim message")
	return claimed, err
}

// TransitionMessage writes msg's mutable columns only if the stored status is one of from.
// It reports false when the guard did not match, leaving the row untouched.
func (d *Database) TransitionMessage(ctx context.Context, msg *models.QueuedMessage, from ...models.MessageStatus) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("transition requires at least one expected status")
	}

	providerResponse, err := encodeJSON(msg.ProviderResponse)
	if err != nil {
		return false, fmt.Errorf("failed to encode provider response: %w", err)
	}

	args := []interface{}{
		string(msg.Status),
		msg.RetryCount,
		nullableNanos(msg.LastRetryAt),
		nullableNanos(msg.NextRetryAt),
		nullableString(msg.LastError),
		providerResponse,
		nullableNanos(msg.SentAt),
		nullableString(msg.ClaimedBy),
		nullableNanos(msg.ClaimedAt),
		toNanos(msg.UpdatedAt),
		msg.ID,
	}
	for _, s := range from {
		args = append(args, string(s))
	}
	query := fmt.Sprintf(TransitionMessageQuery, placeholders(len(from)))

	var applied bool
	err = retryableDBOperation(ctx, func() error {
		res, err := d.exec(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		applied = n == 1
		return nil
	}, "transition message")
	return applied, err
}

// ListMessages returns messages matching filter, newest first
func (d *Database) ListMessages(ctx context.Context, filter models.MessageFilter) ([]*models.QueuedMessage, error) {
	var where []string
	var args []interface{}

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.MessageType != "" {
		where = append(where, "message_type = ?")
		args = append(args, filter.MessageType)
	}
	if filter.CorrelationID != "" {
		where = append(where, "correlation_id = ?")
		args = append(args, filter.CorrelationID)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = constants.DefaultListLimit
	}
	if limit > constants.MaxListLimit {
		limit = constants.MaxListLimit
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(messageColumns)
	b.WriteString(" FROM queued_messages")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, seq DESC LIMIT ?")
	args = append(args, limit)

	return d.queryMessages(ctx, b.String(), args...)
}

// CountByStatus returns the number of rows per status; statuses with no rows are present with zero
func (d *Database) CountByStatus(ctx context.Context) (map[models.MessageStatus]int, error) {
	rows, err := d.query(ctx, CountByStatusQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to count messages by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.MessageStatus]int, len(models.AllStatuses))
	for _, s := range models.AllStatuses {
		counts[s] = 0
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[models.MessageStatus(status)] = n
	}
	return counts, rows.Err()
}

// AverageRetryCount returns the mean retry_count over all rows, 0 for an empty queue
func (d *Database) AverageRetryCount(ctx context.Context) (float64, error) {
	var avg float64
	if err := d.queryRow(ctx, AverageRetryCountQuery).Scan(&avg); err != nil {
		return 0, fmt.Errorf("failed to compute average retry count: %w", err)
	}
	return avg, nil
}

// ListStaleClaims returns processing rows claimed before cutoff
func (d *Database) ListStaleClaims(ctx context.Context, cutoff time.Time, limit int) ([]*models.QueuedMessage, error) {
	return d.queryMessages(ctx, SelectStaleClaimsQuery, toNanos(cutoff), limit)
}

// DeleteTerminalBefore removes sent, failed and cancelled rows last updated before cutoff,
// together with their delivery events. It returns the number of messages deleted.
func (d *Database) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ts := toNanos(cutoff)

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin cleanup: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, d.dialect.rebind(DeleteEventsOfExpiredMessagesQuery), ts); err != nil {
		return 0, fmt.Errorf("failed to delete expired events: %w", err)
	}

	res, err := tx.ExecContext(ctx, d.dialect.rebind(DeleteExpiredMessagesQuery), ts)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired messages: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted messages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit cleanup: %w", err)
	}
	return deleted, nil
}

func (d *Database) queryMessages(ctx context.Context, query string, args ...interface{}) ([]*models.QueuedMessage, error) {
	rows, err := d.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []*models.QueuedMessage
	for rows.Next() {
		msg, err := d.scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return out, nil
}

func (d *Database) scanMessage(row rowScanner) (*models.QueuedMessage, error) {
	var (
		msg              models.QueuedMessage
		status           string
		replyTo          sql.NullString
		templateName     sql.NullString
		variables        sql.NullString
		scheduledFor     sql.NullInt64
		lastRetryAt      sql.NullInt64
		nextRetryAt      sql.NullInt64
		lastError        sql.NullString
		providerResponse sql.NullString
		sentAt           sql.NullInt64
		claimedBy        sql.NullString
		claimedAt        sql.NullInt64
		correlationID    sql.NullString
		metadata         sql.NullString
		createdAt        int64
		updatedAt        int64
	)

	err := row.Scan(
		&msg.ID, &msg.Recipient, &msg.Sender, &replyTo, &msg.Subject, &msg.HTMLBody, &msg.TextBody,
		&templateName, &variables, &msg.MessageType, &status, &msg.Priority,
		&scheduledFor, &msg.RetryCount, &msg.MaxRetries, &lastRetryAt, &nextRetryAt,
		&lastError, &providerResponse, &sentAt, &claimedBy, &claimedAt,
		&correlationID, &metadata, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	msg.Recipient, err = d.encryptor.Decrypt(msg.Recipient)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt recipient: %w", err)
	}

	msg.Status = models.MessageStatus(status)
	msg.ReplyTo = replyTo.String
	msg.TemplateName = templateName.String
	msg.ScheduledFor = fromNullNanos(scheduledFor)
	msg.LastRetryAt = fromNullNanos(lastRetryAt)
	msg.NextRetryAt = fromNullNanos(nextRetryAt)
	msg.LastError = lastError.String
	msg.SentAt = fromNullNanos(sentAt)
	msg.ClaimedBy = claimedBy.String
	msg.ClaimedAt = fromNullNanos(claimedAt)
	msg.CorrelationID = correlationID.String
	msg.CreatedAt = fromNanos(createdAt)
	msg.UpdatedAt = fromNanos(updatedAt)

	if msg.TemplateVariables, err = d.decodeVariables(variables); err != nil {
		return nil, err
	}
	if providerResponse.Valid && providerResponse.String != "" {
		if err := json.Unmarshal([]byte(providerResponse.String), &msg.ProviderResponse); err != nil {
			return nil, fmt.Errorf("failed to decode provider response: %w", err)
		}
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}

	return &msg, nil
}

func (d *Database) encodeVariables(vars map[string]interface{}) (interface{}, error) {
	if len(vars) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(vars)
	if err != nil {
		return nil, fmt.Errorf("failed to encode template variables: %w", err)
	}
	sealed, err := d.encryptor.Encrypt(string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt template variables: %w", err)
	}
	return sealed, nil
}

func (d *Database) decodeVariables(col sql.NullString) (map[string]interface{}, error) {
	if !col.Valid || col.String == "" {
		return nil, nil
	}
	raw, err := d.encryptor.Decrypt(col.String)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt template variables: %w", err)
	}
	var vars map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &vars); err != nil {
		return nil, fmt.Errorf("failed to decode template variables: %w", err)
	}
	return vars, nil
}

// encodeJSON marshals v for a nullable TEXT column; empty maps are stored as NULL
func encodeJSON[T any](m map[string]T) (interface{}, error) {
	if len(m) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}
