package main

import (
	"io"
	"testing"

	"dispatchq/internal/constants"
	"dispatchq/internal/models"
	"dispatchq/pkg/channel"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestBuildTransmitter_DefaultsToLog(t *testing.T) {
	tx, closer, err := buildTransmitter(models.ChannelConfig{}, discardLogger(), false)
	require.NoError(t, err)
	require.NotNil(t, closer)
	assert.Equal(t, channel.LogProviderName, tx.Name())
	assert.Nil(t, channel.Breaker(tx))
	assert.NoError(t, closer.Close())
}

func TestBuildTransmitter_WrapsBreaker(t *testing.T) {
	cfg := models.ChannelConfig{
		Provider: constants.ProviderLog,
		CircuitBreaker: models.CircuitBreakerConfig{
			MaxFailures: 3,
			TimeoutSec:  30,
		},
	}

	tx, _, err := buildTransmitter(cfg, discardLogger(), true)
	require.NoError(t, err)

	cb := channel.Breaker(tx)
	require.NotNil(t, cb)
	assert.Equal(t, "CLOSED", cb.GetState().String())
	assert.Equal(t, channel.LogProviderName, tx.Name())
}

func TestBuildTransmitter_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  models.ChannelConfig
	}{
		{"http without endpoint", models.ChannelConfig{Provider: constants.ProviderHTTP}},
		{"unknown provider", models.ChannelConfig{Provider: "pigeon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := buildTransmitter(tt.cfg, discardLogger(), false)
			assert.Error(t, err)
		})
	}
}

func TestBuildTransmitter_HTTP(t *testing.T) {
	cfg := models.ChannelConfig{
		Provider: constants.ProviderHTTP,
		HTTP:     models.HTTPChannelConfig{Endpoint: "https://mail.example.com/send", TimeoutSec: 5},
	}

	tx, _, err := buildTransmitter(cfg, discardLogger(), false)
	require.NoError(t, err)
	assert.Equal(t, "httpapi", tx.Name())
}
