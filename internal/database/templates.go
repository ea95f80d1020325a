package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"dispatchq/internal/models"
)

// GetTemplate returns the named template regardless of its active flag, or nil when missing
func (d *Database) GetTemplate(ctx context.Context, name string) (*models.Template, error) {
	var (
		tmpl      models.Template
		variables sql.NullString
		active    int
		createdAt int64
		updatedAt int64
	)

	err := d.queryRow(ctx, SelectTemplateQuery, name).Scan(
		&tmpl.Name, &tmpl.Category, &tmpl.Subject, &tmpl.HTMLBody, &tmpl.TextBody,
		&variables, &active, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	tmpl.Active = active != 0
	tmpl.CreatedAt = fromNanos(createdAt)
	tmpl.UpdatedAt = fromNanos(updatedAt)
	if variables.Valid && variables.String != "" {
		if err := json.Unmarshal([]byte(variables.String), &tmpl.Variables); err != nil {
			return nil, fmt.Errorf("failed to decode template variables: %w", err)
		}
	}
	return &tmpl, nil
}

// GetActiveTemplate returns the named template only when it exists and is active
func (d *Database) GetActiveTemplate(ctx context.Context, name string) (*models.Template, error) {
	tmpl, err := d.GetTemplate(ctx, name)
	if err != nil || tmpl == nil || !tmpl.Active {
		return nil, err
	}
	return tmpl, nil
}

// UpsertTemplate creates or replaces a template; created_at is kept on update
func (d *Database) UpsertTemplate(ctx context.Context, tmpl *models.Template) error {
	var variables interface{}
	if len(tmpl.Variables) > 0 {
		raw, err := json.Marshal(tmpl.Variables)
		if err != nil {
			return fmt.Errorf("failed to encode template variables: %w", err)
		}
		variables = string(raw)
	}

	active := 0
	if tmpl.Active {
		active = 1
	}

	return retryableDBOperation(ctx, func() error {
		_, err := d.exec(ctx, UpsertTemplateQuery,
			tmpl.Name, tmpl.Category, tmpl.Subject, tmpl.HTMLBody, tmpl.TextBody,
			variables, active, toNanos(tmpl.CreatedAt), toNanos(tmpl.UpdatedAt),
		)
		return err
	}, "upsert template")
}
