package service

import (
	"context"
	"fmt"
	"time"

	"dispatchq/internal/constants"
	"dispatchq/internal/errors"
	"dispatchq/internal/models"
	"dispatchq/internal/validation"
)

// EnqueueRequest is the producer-facing description of a notification.
// Exactly one of direct content (Subject plus a body) or TemplateName must be given.
type EnqueueRequest struct {
	Recipient         string                 `json:"recipient"`
	Sender            string                 `json:"sender,omitempty"`
	ReplyTo           string                 `json:"reply_to,omitempty"`
	Subject           string                 `json:"subject,omitempty"`
	HTMLBody          string                 `json:"html,omitempty"`
	TextBody          string                 `json:"text,omitempty"`
	TemplateName      string                 `json:"template_name,omitempty"`
	TemplateVariables map[string]interface{} `json:"template_variables,omitempty"`
	Priority          int                    `json:"priority,omitempty"`
	ScheduledFor      *time.Time             `json:"scheduled_for,omitempty"`
	MaxRetries        int                    `json:"max_retries,omitempty"`
	MessageType       string                 `json:"message_type"`
	CorrelationID     string                 `json:"correlation_id,omitempty"`
	Metadata          map[string]string      `json:"metadata,omitempty"`
}

// EnqueuePolicy holds the configured defaults applied to requests
type EnqueuePolicy struct {
	DefaultSender     string
	DefaultMaxRetries int
	MaxRetriesCeiling int
}

// PolicyFromConfig derives the enqueue policy from application config
func PolicyFromConfig(cfg *models.Config) EnqueuePolicy {
	return EnqueuePolicy{
		DefaultSender:     cfg.Channel.DefaultSender,
		DefaultMaxRetries: cfg.Processor.MaxRetries,
		MaxRetriesCeiling: constants.MaxAllowedRetries,
	}
}

// preparer validates and normalises requests and renders templates.
// Enqueuer and Sender share it so both accept exactly the same input.
type preparer struct {
	templates *TemplateResolver
	policy    EnqueuePolicy
	clock     Clock
}

func newPreparer(templates *TemplateResolver, policy EnqueuePolicy, clock Clock) preparer {
	if policy.DefaultMaxRetries <= 0 {
		policy.DefaultMaxRetries = constants.DefaultMaxRetries
	}
	if policy.MaxRetriesCeiling <= 0 {
		policy.MaxRetriesCeiling = constants.MaxAllowedRetries
	}
	return preparer{templates: templates, policy: policy, clock: clock}
}

// prepare returns an unsaved message carrying rendered content. ID, status and timestamps are left to the caller.
func (p preparer) prepare(ctx context.Context, req EnqueueRequest) (*models.QueuedMessage, error) {
	msg := &models.QueuedMessage{
		Recipient:     validation.NormalizeAddress(req.Recipient),
		Sender:        validation.NormalizeAddress(req.Sender),
		ReplyTo:       validation.NormalizeAddress(req.ReplyTo),
		MessageType:   req.MessageType,
		Priority:      req.Priority,
		MaxRetries:    req.MaxRetries,
		CorrelationID: req.CorrelationID,
		Metadata:      req.Metadata,
	}

	if err := validation.ValidateEmail("recipient", msg.Recipient); err != nil {
		return nil, err
	}
	if err := validation.ValidateMessageType(msg.MessageType); err != nil {
		return nil, err
	}

	hasDirect := req.Subject != "" || req.HTMLBody != "" || req.TextBody != ""
	hasTemplate := req.TemplateName != ""
	switch {
	case hasDirect && hasTemplate:
		return nil, errors.NewValidationError("content", req.TemplateName, "provide either direct content or a template, not both")
	case !hasDirect && !hasTemplate:
		return nil, errors.NewValidationError("content", "", "either direct content or a template is required")
	case hasDirect:
		if req.Subject == "" {
			return nil, errors.NewValidationError("subject", "", "subject is required for direct content")
		}
		if req.HTMLBody == "" && req.TextBody == "" {
			return nil, errors.NewValidationError("body", "", "an html or text body is required for direct content")
		}
	}

	if msg.Priority == 0 {
		msg.Priority = constants.DefaultPriority
	}
	if err := validation.ValidatePriority(msg.Priority); err != nil {
		return nil, err
	}

	if err := validation.ValidateMaxRetries(msg.MaxRetries, p.policy.MaxRetriesCeiling); err != nil {
		return nil, err
	}
	if msg.MaxRetries == 0 {
		msg.MaxRetries = p.policy.DefaultMaxRetries
	}

	if msg.Sender == "" {
		msg.Sender = validation.NormalizeAddress(p.policy.DefaultSender)
	}
	if err := validation.ValidateEmail("sender", msg.Sender); err != nil {
		return nil, err
	}
	if msg.ReplyTo != "" {
		if err := validation.ValidateEmail("reply_to", msg.ReplyTo); err != nil {
			return nil, err
		}
	}

	if req.ScheduledFor != nil {
		if err := validation.ValidateScheduledFor(*req.ScheduledFor, p.clock.Now(), constants.MaxScheduleHorizon); err != nil {
			return nil, err
		}
		at := req.ScheduledFor.UTC()
		msg.ScheduledFor = &at
	}

	if hasDirect {
		msg.Subject = req.Subject
		msg.HTMLBody = req.HTMLBody
		msg.TextBody = req.TextBody
	} else {
		tmpl, err := p.templates.Resolve(ctx, req.TemplateName)
		if err != nil {
			return nil, err
		}
		if tmpl == nil {
			return nil, errors.NewValidationError("template_name", req.TemplateName, "template not found or inactive")
		}
		rendered := p.templates.Render(tmpl, req.TemplateVariables)
		msg.TemplateName = tmpl.Name
		msg.TemplateVariables = req.TemplateVariables
		msg.Subject = rendered.Subject
		msg.HTMLBody = rendered.HTMLBody
		msg.TextBody = rendered.TextBody
	}

	if len(msg.Subject) > constants.MaxSubjectLength {
		return nil, errors.NewValidationError("subject", "",
			fmt.Sprintf("too long (max %d characters)", constants.MaxSubjectLength))
	}

	return msg, nil
}
