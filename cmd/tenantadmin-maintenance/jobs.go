package main

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// invitationCleaner deletes pending invitations past their expiry
type invitationCleaner interface {
	CleanupExpiredInvitations(ctx context.Context) (int64, error)
}

// activityPruner deletes activity recorded before a cutoff
type activityPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type jobs struct {
	invitations invitationCleaner
	activity    activityPruner
	retention   time.Duration
	logger      *logrus.Logger
	now         func() time.Time
}

func newJobs(invitations invitationCleaner, activity activityPruner, retention time.Duration, logger *logrus.Logger) *jobs {
	return &jobs{
		invitations: invitations,
		activity:    activity,
		retention:   retention,
		logger:      logger,
		now:         time.Now,
	}
}

// runAll runs every job once, continuing past failures
func (j *jobs) runAll(ctx context.Context) error {
	var errs []error
	if _, err := j.cleanupInvitations(ctx); err != nil {
		errs = append(errs, err)
	}
	if _, err := j.pruneActivity(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (j *jobs) cleanupInvitations(ctx context.Context) (int64, error) {
	removed, err := j.invitations.CleanupExpiredInvitations(ctx)
	if err != nil {
		j.logger.WithError(err).Error("Invitation cleanup failed")
		return 0, err
	}
	j.logger.WithField("removed", removed).Info("Expired invitations removed")
	return removed, nil
}

func (j *jobs) pruneActivity(ctx context.Context) (int64, error) {
	cutoff := j.now().Add(-j.retention)
	removed, err := j.activity.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.WithError(err).Error("Activity pruning failed")
		return 0, err
	}
	j.logger.WithFields(logrus.Fields{
		"removed": removed,
		"cutoff":  cutoff.Format(time.RFC3339),
	}).Info("Activity log pruned")
	return removed, nil
}
