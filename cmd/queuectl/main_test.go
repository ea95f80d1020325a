package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"

	"dispatchq/internal/database"
	"dispatchq/internal/models"
	"dispatchq/internal/service"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*database.Database, *logrus.Logger, string) {
	t.Helper()
	t.Setenv(database.EnvEnableEncryption, "false")

	ctx := context.Background()
	db, err := database.New(ctx, models.DatabaseConfig{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "ctl.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	clock := service.SystemClock()
	events := service.NewEventRecorder(db, clock, logger)
	enqueuer := service.NewEnqueuer(db, events, service.NewTemplateResolver(db, clock, logger),
		service.EnqueuePolicy{DefaultSender: "no-reply@example.com", DefaultMaxRetries: 3, MaxRetriesCeiling: 20},
		clock, logger)

	id, err := enqueuer.Enqueue(ctx, service.EnqueueRequest{
		Recipient:   "ops@example.com",
		MessageType: "alert",
		Subject:     "Disk",
		TextBody:    "Disk almost full",
	})
	require.NoError(t, err)
	return db, logger, id
}

func runJSON(t *testing.T, db *database.Database, logger *logrus.Logger, v interface{}, args ...string) {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), db, args, &out, logger))
	require.NoError(t, json.Unmarshal(out.Bytes(), v), out.String())
}

func TestRun_ShowAndEvents(t *testing.T) {
	db, logger, id := setup(t)

	var msg models.QueuedMessage
	runJSON(t, db, logger, &msg, "show", id)
	assert.Equal(t, id, msg.ID)
	assert.Equal(t, models.StatusPending, msg.Status)

	var events []models.DeliveryEvent
	runJSON(t, db, logger, &events, "events", id)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventQueued, events[0].Type)
}

func TestRun_CancelRetryStats(t *testing.T) {
	db, logger, id := setup(t)

	var msg models.QueuedMessage
	runJSON(t, db, logger, &msg, "cancel", id)
	assert.Equal(t, models.StatusCancelled, msg.Status)

	var list []models.QueuedMessage
	runJSON(t, db, logger, &list, "list", "cancelled")
	require.Len(t, list, 1)

	runJSON(t, db, logger, &msg, "retry", id)
	assert.Equal(t, models.StatusPending, msg.Status)

	var stats models.QueueStats
	runJSON(t, db, logger, &stats, "stats")
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[models.StatusPending])
}

func TestRun_Maintenance(t *testing.T) {
	db, logger, _ := setup(t)

	var cleaned map[string]int
	runJSON(t, db, logger, &cleaned, "cleanup", "30")
	assert.Equal(t, 0, cleaned["deleted"])

	var recovered map[string]int
	runJSON(t, db, logger, &recovered, "recover", "15")
	assert.Equal(t, 0, recovered["recovered"])

	var schema struct {
		Driver  string `json:"driver"`
		Version int    `json:"schema_version"`
	}
	runJSON(t, db, logger, &schema, "migrate")
	assert.Equal(t, database.DriverSQLite, schema.Driver)
	assert.Positive(t, schema.Version)
}

func TestRun_Errors(t *testing.T) {
	db, logger, _ := setup(t)

	tests := [][]string{
		{},
		{"explode"},
		{"show"},
		{"show", "missing-id"},
		{"cleanup", "soon"},
		{"cleanup", "0"},
		{"recover", "0"},
		{"list", "bogus"},
	}

	for _, args := range tests {
		var out bytes.Buffer
		assert.Error(t, run(context.Background(), db, args, &out, logger), "%v", args)
	}
}
