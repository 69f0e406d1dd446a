package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/ticketsync/internal/clock"
)

type stubSyncer struct {
	refreshes  atomic.Int32
	reconciles atomic.Int32
	refreshErr error
}

func (s *stubSyncer) Refresh(ctx context.Context) error {
	s.refreshes.Add(1)
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("job ran without a deadline")
	}
	return s.refreshErr
}

func (s *stubSyncer) ReconcileUnread(context.Context) error {
	s.reconciles.Add(1)
	return nil
}

func TestDefaultJobs(t *testing.T) {
	jobs := DefaultJobs("", "@every 2m")
	require.Len(t, jobs, 2)
	assert.Equal(t, "@every 5m", jobs[0].Schedule)
	assert.Equal(t, HandlerTicketsResync, jobs[0].Handler)
	assert.Equal(t, "@every 2m", jobs[1].Schedule)
	assert.Equal(t, HandlerUnreadReconcile, jobs[1].Handler)
}

func TestRunNowInvokesHandlersAndRecordsStatus(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	syncer := &stubSyncer{}
	svc := NewService(syncer, WithClock(clock.NewFake(now)))

	require.NoError(t, svc.RunNow(context.Background(), "tickets-resync"))
	require.NoError(t, svc.RunNow(context.Background(), "unread-reconcile"))
	assert.Equal(t, int32(1), syncer.refreshes.Load())
	assert.Equal(t, int32(1), syncer.reconciles.Load())

	syncer.refreshErr = errors.New("collaborator down")
	assert.Error(t, svc.RunNow(context.Background(), "tickets-resync"))

	status := svc.Status()
	require.Len(t, status, 2)
	assert.Equal(t, "tickets-resync", status[0].Slug)
	assert.Equal(t, 2, status[0].Runs)
	assert.Equal(t, 1, status[0].Failures)
	assert.Equal(t, "collaborator down", status[0].LastError)
	assert.Equal(t, now, status[0].LastRun)
	assert.Empty(t, status[1].LastError)
}

func TestRunNowUnknownJobOrHandler(t *testing.T) {
	svc := NewService(&stubSyncer{}, WithJobs([]*Job{{Slug: "orphan", Handler: "missing", Schedule: "@every 1m"}}))

	assert.Error(t, svc.RunNow(context.Background(), "nope"))
	err := svc.RunNow(context.Background(), "orphan")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no handler "missing"`)
}

func TestNilSyncerIsSkipped(t *testing.T) {
	svc := NewService(nil)
	assert.NoError(t, svc.RunNow(context.Background(), "tickets-resync"))
	assert.NoError(t, svc.RunNow(context.Background(), "unread-reconcile"))
}

func TestRunSchedulesJobsUntilCancelled(t *testing.T) {
	cronEngine := cron.New(cron.WithLocation(time.UTC))
	syncer := &stubSyncer{}
	svc := NewService(syncer, WithCron(cronEngine))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool { return len(cronEngine.Entries()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestRunRejectsInvalidSchedule(t *testing.T) {
	svc := NewService(&stubSyncer{}, WithJobs([]*Job{{Slug: "bad", Handler: HandlerTicketsResync, Schedule: "every now and then"}}))
	err := svc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid schedule")
}
