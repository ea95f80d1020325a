package service

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"dispatchq/internal/database"
	"dispatchq/internal/models"
	"dispatchq/pkg/channel"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeClock only moves when told to
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// mockChannel counts transmissions per message id and returns scripted errors in order.
// Once the script is exhausted it returns fallback.
type mockChannel struct {
	mu       sync.Mutex
	calls    map[string]int
	order    []string
	script   []error
	fallback error
	before   func(env *channel.Envelope)
}

func newMockChannel(script ...error) *mockChannel {
	return &mockChannel{calls: make(map[string]int), script: script}
}

func (m *mockChannel) Name() string { return "mock" }

func (m *mockChannel) Transmit(ctx context.Context, env *channel.Envelope) (*channel.Receipt, error) {
	if m.before != nil {
		m.before(env)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls[env.MessageID]++
	m.order = append(m.order, env.MessageID)

	var err error
	if len(m.script) > 0 {
		err, m.script = m.script[0], m.script[1:]
	} else {
		err = m.fallback
	}
	if err != nil {
		return nil, err
	}
	return &channel.Receipt{ProviderMessageID: "prov-" + env.MessageID, Provider: "mock"}, nil
}

func (m *mockChannel) Calls(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[id]
}

func (m *mockChannel) Order() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

var errProviderDown = channel.Transient("mock", errors.New("provider unavailable"))

type mockMaintenance struct {
	mock.Mock
}

func (m *mockMaintenance) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	args := m.Called(ctx, olderThanDays)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockMaintenance) RecoverStaleClaims(ctx context.Context, olderThan time.Duration) (int, error) {
	args := m.Called(ctx, olderThan)
	return args.Int(0), args.Error(1)
}

func (m *mockMaintenance) DueCount(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// harness wires every service over a real SQLite store in a temp dir
type harness struct {
	db        *database.Database
	clock     *fakeClock
	channel   *mockChannel
	events    *EventRecorder
	templates *TemplateResolver
	enqueuer  *Enqueuer
	processor *Processor
	sender    *Sender
	admin     *Admin
}

func newHarness(t *testing.T, opts ...func(*ProcessorConfig)) *harness {
	t.Helper()
	t.Setenv(database.EnvEnableEncryption, "false")

	db, err := database.New(context.Background(), models.DatabaseConfig{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "queue.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := quietLogger()
	clock := newFakeClock(baseTime)
	ch := newMockChannel()

	cfg := ProcessorConfig{
		Interval:       time.Hour,
		BatchSize:      10,
		BackoffInitial: 2 * time.Minute,
		BackoffMax:     24 * time.Hour,
		InstanceID:     "test-instance",
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	policy := EnqueuePolicy{DefaultSender: "no-reply@example.com", DefaultMaxRetries: 3, MaxRetriesCeiling: 20}

	h := &harness{db: db, clock: clock, channel: ch}
	h.events = NewEventRecorder(db, clock, logger)
	h.templates = NewTemplateResolver(db, clock, logger)
	h.enqueuer = NewEnqueuer(db, h.events, h.templates, policy, clock, logger)
	h.processor = NewProcessor(db, h.events, ch, clock, cfg, logger)
	h.sender = NewSender(h.templates, policy, ch, logger)
	h.admin = NewAdmin(db, h.events, h.processor, clock, logger)
	return h
}

func (h *harness) enqueue(t *testing.T, req EnqueueRequest) string {
	t.Helper()
	id, err := h.enqueuer.Enqueue(context.Background(), req)
	require.NoError(t, err)
	return id
}

func (h *harness) get(t *testing.T, id string) *models.QueuedMessage {
	t.Helper()
	msg, err := h.db.GetMessage(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, msg)
	return msg
}

func (h *harness) eventTypes(t *testing.T, id string) []models.EventType {
	t.Helper()
	events, err := h.db.ListEvents(context.Background(), id)
	require.NoError(t, err)
	types := make([]models.EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func (h *harness) cycle(t *testing.T) CycleResult {
	t.Helper()
	result, ran := h.processor.RunCycle(context.Background())
	require.True(t, ran)
	return result
}

func directRequest(recipient string) EnqueueRequest {
	return EnqueueRequest{
		Recipient:   recipient,
		Subject:     "Verify your email",
		TextBody:    "Click the link to verify",
		MessageType: "verification",
	}
}
