package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestScheduler_RunMaintenance(t *testing.T) {
	maintenance := &mockMaintenance{}
	scheduler := NewScheduler(maintenance, 30, 24, 15*time.Minute, quietLogger())

	ctx := context.Background()

	maintenance.On("Cleanup", ctx, 30).Return(int64(2), nil).Once()
	maintenance.On("RecoverStaleClaims", ctx, 15*time.Minute).Return(1, nil).Once()
	maintenance.On("DueCount", ctx).Return(4, nil).Once()

	scheduler.runMaintenance(ctx)

	maintenance.AssertExpectations(t)
}

func TestScheduler_CleanupErrorStillRecovers(t *testing.T) {
	maintenance := &mockMaintenance{}
	scheduler := NewScheduler(maintenance, 30, 24, 15*time.Minute, quietLogger())

	ctx := context.Background()

	maintenance.On("Cleanup", ctx, 30).Return(int64(0), assert.AnError).Once()
	maintenance.On("RecoverStaleClaims", ctx, 15*time.Minute).Return(0, assert.AnError).Once()
	maintenance.On("DueCount", ctx).Return(0, assert.AnError).Once()

	scheduler.runMaintenance(ctx)

	maintenance.AssertExpectations(t)
}

func TestScheduler_Defaults(t *testing.T) {
	scheduler := NewScheduler(&mockMaintenance{}, 0, 0, 0, quietLogger())

	assert.Equal(t, 30, scheduler.retentionDays)
	assert.Equal(t, 24*time.Hour, scheduler.interval)
	assert.Equal(t, 15*time.Minute, scheduler.staleAfter)
}

func TestScheduler_StartStop(t *testing.T) {
	maintenance := &mockMaintenance{}
	scheduler := NewScheduler(maintenance, 30, 24, 15*time.Minute, quietLogger())

	maintenance.On("Cleanup", mock.Anything, 30).Return(int64(0), nil).Maybe()
	maintenance.On("RecoverStaleClaims", mock.Anything, 15*time.Minute).Return(0, nil).Maybe()
	maintenance.On("DueCount", mock.Anything).Return(0, nil).Maybe()

	done := make(chan struct{})
	go func() {
		scheduler.Start(context.Background())
		close(done)
	}()

	scheduler.Stop()
	scheduler.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_ContextCancel(t *testing.T) {
	maintenance := &mockMaintenance{}
	scheduler := NewScheduler(maintenance, 30, 24, 15*time.Minute, quietLogger())

	maintenance.On("Cleanup", mock.Anything, 30).Return(int64(0), nil).Maybe()
	maintenance.On("RecoverStaleClaims", mock.Anything, 15*time.Minute).Return(0, nil).Maybe()
	maintenance.On("DueCount", mock.Anything).Return(0, nil).Maybe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		scheduler.Start(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop on context cancellation")
	}
}

func TestScheduler_WithAdmin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.enqueue(t, directRequest("alice@example.com"))
	claimed, err := h.db.ClaimMessage(ctx, id, "gone", h.clock.Now())
	assert.NoError(t, err)
	assert.True(t, claimed)
	h.clock.Advance(time.Hour)

	NewScheduler(h.admin, 30, 24, 15*time.Minute, quietLogger()).runMaintenance(ctx)

	assert.Equal(t, "pending", string(h.get(t, id).Status))
}
