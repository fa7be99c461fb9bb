package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gtdb/ani-engine/pkg/config"
	"github.com/gtdb/ani-engine/pkg/database"
	"github.com/gtdb/ani-engine/pkg/events"
	"github.com/gtdb/ani-engine/pkg/logging"
	"github.com/gtdb/ani-engine/pkg/mail"
	"github.com/gtdb/ani-engine/pkg/metrics"
	"github.com/gtdb/ani-engine/pkg/repositories"
	"github.com/gtdb/ani-engine/pkg/retry"
)

const (
	notificationBatch = 20
	sendTimeout       = time.Minute
)

// NotificationService e-mails job owners once their job completes.
type NotificationService interface {
	// RunOnce sends the pending notifications and returns how many were sent.
	RunOnce(ctx context.Context) (int, error)

	// Run sends notifications on the poll interval or on job_completed events
	// until ctx is cancelled.
	Run(ctx context.Context, interval time.Duration) error
}

type notificationService struct {
	db       database.Handle
	jobs     repositories.JobRepository
	sender   mail.Sender
	bus      *events.Bus
	cfg      *config.MailConfig
	schedule *retry.Config
	now      func() time.Time
	logger   *zap.Logger
}

func NewNotificationService(
	db database.Handle,
	jobs repositories.JobRepository,
	sender mail.Sender,
	bus *events.Bus,
	cfg *config.MailConfig,
	logger *zap.Logger,
) NotificationService {
	return &notificationService{
		db:       db,
		jobs:     jobs,
		sender:   sender,
		bus:      bus,
		cfg:      cfg,
		schedule: retry.NotificationConfig(cfg.MaxAttempts),
		now:      time.Now,
		logger:   logger.Named("notification-service"),
	}
}

var _ NotificationService = (*notificationService)(nil)

func (s *notificationService) RunOnce(ctx context.Context) (int, error) {
	claimed, err := s.jobs.ClaimNotifications(ctx, s.db.Q(), s.cfg.MaxAttempts, notificationBatch)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, n := range claimed {
		failed := n.Error != nil && *n.Error
		msg := mail.CompletionMessage(s.cfg.PortalURL, n.Email, n.Name, failed)

		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		sendErr := s.sender.Send(sendCtx, msg)
		cancel()

		// The outcome is recorded even if ctx was cancelled during the send.
		recordCtx, cancelRecord := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		if sendErr == nil {
			err = s.jobs.MarkNotified(recordCtx, s.db.Q(), n.JobID)
			cancelRecord()
			if err != nil {
				return sent, err
			}
			sent++
			metrics.Notifications.WithLabelValues("sent").Inc()
			s.logger.Info("Completion e-mail sent",
				zap.String("job", n.Name),
				zap.String("email", logging.MaskEmail(n.Email)))
			continue
		}

		next := s.now().Add(s.schedule.Jittered(n.Attempts))
		err = s.jobs.ReleaseNotification(recordCtx, s.db.Q(), n.JobID, next)
		cancelRecord()
		metrics.Notifications.WithLabelValues("failed").Inc()
		s.logger.Warn("Completion e-mail failed",
			zap.String("job", n.Name),
			zap.String("email", logging.MaskEmail(n.Email)),
			zap.Int("attempt", n.Attempts+1),
			zap.Int("max_attempts", s.cfg.MaxAttempts),
			zap.Time("next_attempt", next),
			zap.String("error", logging.SanitizeError(sendErr)))
		if err != nil {
			return sent, err
		}
	}
	return sent, nil
}

func (s *notificationService) Run(ctx context.Context, interval time.Duration) error {
	s.logger.Info("Notifier started", zap.Duration("interval", interval))

	wake := s.bus.Subscribe(ctx, events.JobCompleted)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("Notification pass failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			s.logger.Info("Notifier stopped")
			return nil
		case <-ticker.C:
		case _, ok := <-wake:
			if !ok {
				wake = nil
			}
		}
	}
}
