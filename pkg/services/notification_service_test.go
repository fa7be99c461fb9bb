package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gtdb/ani-engine/pkg/config"
	"github.com/gtdb/ani-engine/pkg/repositories"
)

func newNotificationService(jobs *mockJobRepo, sender *mockSender, now time.Time) *notificationService {
	cfg := &config.MailConfig{PortalURL: "https://gtdb.example/ani/", MaxAttempts: 5}
	svc := NewNotificationService(&fakeDB{}, jobs, sender, nil, cfg, zap.NewNop()).(*notificationService)
	svc.now = func() time.Time { return now }
	return svc
}

func TestNotificationService_RunOnce_Sends(t *testing.T) {
	jobs := newMockJobRepo()
	failed := true
	jobs.notifyQueue = []*repositories.Notification{
		{JobID: 1, Name: "0000000a", Email: "alice@example.org"},
		{JobID: 2, Name: "0000000b", Email: "bob@example.org", Error: &failed},
	}
	sender := &mockSender{}
	svc := newNotificationService(jobs, sender, time.Now())

	sent, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, [2]int{5, notificationBatch}, jobs.claimArgs)
	assert.Equal(t, []int64{1, 2}, jobs.notified)

	require.Len(t, sender.sent, 2)
	assert.Equal(t, "alice@example.org", sender.sent[0].To)
	assert.Equal(t, "ANI job 0000000a is complete", sender.sent[0].Subject)
	assert.Contains(t, sender.sent[0].Body, "https://gtdb.example/ani/0000000a")
	assert.Equal(t, "ANI job 0000000b failed", sender.sent[1].Subject)
}

func TestNotificationService_RunOnce_FailureIsRescheduled(t *testing.T) {
	jobs := newMockJobRepo()
	jobs.notifyQueue = []*repositories.Notification{
		{JobID: 1, Name: "0000000a", Email: "alice@example.org", Attempts: 2},
	}
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	svc := newNotificationService(jobs, &mockSender{err: assert.AnError}, now)

	sent, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
	assert.Empty(t, jobs.notified)

	next, ok := jobs.released[1]
	require.True(t, ok)
	delay := next.Sub(now)
	assert.GreaterOrEqual(t, delay, 216*time.Second, "4 minutes less jitter")
	assert.LessOrEqual(t, delay, 264*time.Second, "4 minutes plus jitter")
}

func TestNotificationService_RunOnce_NothingPending(t *testing.T) {
	sender := &mockSender{}
	svc := newNotificationService(newMockJobRepo(), sender, time.Now())

	sent, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Empty(t, sender.sent)
}

func TestNotificationService_Run_StopsOnCancel(t *testing.T) {
	jobs := newMockJobRepo()
	svc := newNotificationService(jobs, &mockSender{}, time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx, time.Hour) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("notifier did not stop")
	}
}
