package service

import (
	"context"
	"strings"

	"dispatchq/internal/constants"
	"dispatchq/internal/errors"
	"dispatchq/internal/models"
	"dispatchq/internal/template"
	"dispatchq/internal/validation"

	"github.com/sirupsen/logrus"
)

// RenderedContent is template output ready to persist
type RenderedContent struct {
	Subject  string
	HTMLBody string
	TextBody string
}

// TemplateResolver looks up active templates by name and renders them
type TemplateResolver struct {
	store  TemplateStore
	clock  Clock
	logger *logrus.Logger
}

func NewTemplateResolver(store TemplateStore, clock Clock, logger *logrus.Logger) *TemplateResolver {
	return &TemplateResolver{store: store, clock: clock, logger: logger}
}

// Resolve returns the active template called name, or nil when it is missing or inactive
func (r *TemplateResolver) Resolve(ctx context.Context, name string) (*models.Template, error) {
	tmpl, err := r.store.GetActiveTemplate(ctx, name)
	if err != nil {
		return nil, errors.NewDatabaseError("get template", err)
	}
	return tmpl, nil
}

// Render fills tmpl with vars. Rendering never fails; a malformed part is used as is.
func (r *TemplateResolver) Render(tmpl *models.Template, vars map[string]interface{}) RenderedContent {
	render := func(part, body string, escapeHTML bool) string {
		out, err := template.Execute(body, vars, escapeHTML)
		if err != nil {
			r.logger.WithError(err).WithFields(logrus.Fields{
				LogFieldTemplate: tmpl.Name,
				"part":           part,
			}).Warn("Template part is malformed, sending unrendered")
			return body
		}
		return out
	}

	return RenderedContent{
		Subject:  render("subject", tmpl.Subject, false),
		HTMLBody: render("html", tmpl.HTMLBody, true),
		TextBody: render("text", tmpl.TextBody, false),
	}
}

// Get returns a template regardless of its active flag
func (r *TemplateResolver) Get(ctx context.Context, name string) (*models.Template, error) {
	tmpl, err := r.store.GetTemplate(ctx, name)
	if err != nil {
		return nil, errors.NewDatabaseError("get template", err)
	}
	if tmpl == nil {
		return nil, errors.NewNotFoundError("template", name)
	}
	return tmpl, nil
}

// Upsert validates and stores tmpl. Declared variables default to the placeholders found in its bodies.
func (r *TemplateResolver) Upsert(ctx context.Context, tmpl *models.Template) (*models.Template, error) {
	tmpl.Name = strings.TrimSpace(tmpl.Name)
	if err := validation.ValidateStringLength(tmpl.Name, "name", 1, constants.MaxTemplateNameLen); err != nil {
		return nil, err
	}
	if tmpl.Subject == "" {
		return nil, errors.NewValidationError("subject", "", "template subject is required")
	}
	if tmpl.HTMLBody == "" && tmpl.TextBody == "" {
		return nil, errors.NewValidationError("body", "", "template needs an html or text body")
	}

	if len(tmpl.Variables) == 0 {
		tmpl.Variables = placeholdersOf(tmpl)
	}

	now := r.clock.Now()
	tmpl.CreatedAt = now
	tmpl.UpdatedAt = now

	if err := r.store.UpsertTemplate(ctx, tmpl); err != nil {
		return nil, errors.NewDatabaseError("upsert template", err)
	}

	r.logger.WithFields(logrus.Fields{
		LogFieldTemplate: tmpl.Name,
		"active":         tmpl.Active,
	}).Info("Template stored")

	return r.Get(ctx, tmpl.Name)
}

func placeholdersOf(tmpl *models.Template) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, body := range []string{tmpl.Subject, tmpl.HTMLBody, tmpl.TextBody} {
		for _, key := range template.Placeholders(body) {
			if !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
		}
	}
	return keys
}
