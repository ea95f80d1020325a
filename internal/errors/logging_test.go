package errors

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferedLogger() (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := NewLogger()
	logger.SetOutput(&buf)
	logger.SetLevel(logrus.DebugLevel)
	return logger, &buf
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogger_LogError(t *testing.T) {
	logger, buf := newBufferedLogger()

	err := NewInvalidStateError("cancel", "msg-1", "failed")
	logger.LogError(err, "cancel rejected", logrus.Fields{"component": "admin"})

	entry := decodeEntry(t, buf)
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "cancel rejected", entry["msg"])
	assert.Equal(t, "INVALID_STATE", entry["error_code"])
	assert.Equal(t, "msg-1", entry["message_id"])
	assert.Equal(t, "admin", entry["component"])
}

func TestLogger_LogRetryableError(t *testing.T) {
	logger, buf := newBufferedLogger()

	logger.LogRetryableError(WrapRetryable(errors.New("x"), ErrCodeChannelTransient, "x"), "transient")
	assert.Equal(t, "warning", decodeEntry(t, buf)["level"])

	buf.Reset()
	logger.LogRetryableError(New(ErrCodeChannelPermanent, "x"), "permanent")
	assert.Equal(t, "error", decodeEntry(t, buf)["level"])
}

func TestFields(t *testing.T) {
	fields := Fields(New(ErrCodeNotFound, "x").WithContext("resource", "template"))
	assert.Equal(t, ErrCodeNotFound, fields["error_code"])
	assert.Equal(t, "template", fields["resource"])

	assert.Empty(t, Fields(errors.New("plain")))
	assert.Empty(t, Fields(nil))
}

func TestLogger_WithError_PlainError(t *testing.T) {
	logger, buf := newBufferedLogger()

	logger.WithError(errors.New("plain failure")).Info("handled")

	entry := decodeEntry(t, buf)
	assert.Equal(t, "plain failure", entry["error"])
	_, hasCode := entry["error_code"]
	assert.False(t, hasCode)
}
