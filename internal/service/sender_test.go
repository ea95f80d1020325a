package service

import (
	"context"
	"errors"
	"testing"

	apperrors "dispatchq/internal/errors"
	"dispatchq/internal/models"
	"dispatchq/pkg/channel"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendNow_TransmitsWithoutStore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	receipt, err := h.sender.SendNow(ctx, directRequest("alice@example.com"))
	require.NoError(t, err)
	assert.Equal(t, "mock", receipt.Provider)
	require.Len(t, h.channel.Order(), 1)

	stats, err := h.admin.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
}

func TestSendNow_UsesTemplates(t *testing.T) {
	h := newHarness(t)
	seedTemplate(t, h, &models.Template{Name: "otp", Subject: "Code {{code}}", TextBody: "Your code is {{code}}", Active: true})

	var got *channel.Envelope
	h.channel.before = func(env *channel.Envelope) { got = env }

	_, err := h.sender.SendNow(context.Background(), EnqueueRequest{
		Recipient:         "alice@example.com",
		TemplateName:      "otp",
		TemplateVariables: map[string]interface{}{"code": 123456},
		MessageType:       "otp",
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Code 123456", got.Subject)
	assert.Equal(t, "no-reply@example.com", got.Sender)
	assert.NotEmpty(t, got.MessageID)
}

func TestSendNow_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.sender.SendNow(ctx, EnqueueRequest{Recipient: "alice@example.com"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))
	assert.Empty(t, h.channel.Order())

	h.channel.script = []error{errProviderDown}
	_, err = h.sender.SendNow(ctx, directRequest("alice@example.com"))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeChannelTransient))
	assert.True(t, apperrors.IsRetryable(err))

	h.channel.script = []error{channel.Permanent("mock", errors.New("rejected"))}
	_, err = h.sender.SendNow(ctx, directRequest("alice@example.com"))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeChannelPermanent))
	assert.False(t, apperrors.IsRetryable(err))
	assert.True(t, channel.IsPermanent(err))

	// no retry and no persistence
	assert.Len(t, h.channel.Order(), 2)
	stats, err := h.admin.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
}
