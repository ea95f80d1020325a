package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"dispatchq/internal/models"
)

// AppendEvent stores an audit record and sets ev.ID
func (d *Database) AppendEvent(ctx context.Context, ev *models.DeliveryEvent) error {
	data, err := encodeJSON(ev.Data)
	if err != nil {
		return fmt.Errorf("failed to encode event data: %w", err)
	}

	args := []interface{}{ev.MessageID, string(ev.Type), data, toNanos(ev.CreatedAt)}

	return retryableDBOperation(ctx, func() error {
		// lib/pq does not implement LastInsertId
		if d.dialect.driver == DriverPostgres {
			return d.queryRow(ctx, InsertEventQuery+" RETURNING id", args...).Scan(&ev.ID)
		}
		res, err := d.exec(ctx, InsertEventQuery, args...)
		if err != nil {
			return err
		}
		ev.ID, err = res.LastInsertId()
		return err
	}, "append event")
}

// ListEvents returns the events of a message in append order
func (d *Database) ListEvents(ctx context.Context, messageID string) ([]*models.DeliveryEvent, error) {
	rows, err := d.query(ctx, SelectEventsByMessageQuery, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*models.DeliveryEvent
	for rows.Next() {
		var (
			ev        models.DeliveryEvent
			eventType string
			data      sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&ev.ID, &ev.MessageID, &eventType, &data, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Type = models.EventType(eventType)
		ev.CreatedAt = fromNanos(createdAt)
		if data.Valid && data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &ev.Data); err != nil {
				return nil, fmt.Errorf("failed to decode event data: %w", err)
			}
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}
