package main

import (
	"context"
	"fmt"
	"os"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/session"
)

// defaultPurgeSchedule runs the purge at minute 20 of every hour
const defaultPurgeSchedule = "20 * * * *"

type purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// startJobs schedules background maintenance. The returned scheduler is
// already running.
func startJobs(ctx context.Context, revocations session.RevocationStore, logger *observability.Logger) (*cron.Cron, error) {
	c := cron.New()

	// Redis expires revocations on its own; postgres rows need purging
	if p, ok := revocations.(purger); ok {
		schedule := os.Getenv("GATEHOUSE_REVOCATION_PURGE_SCHEDULE")
		if schedule == "" {
			schedule = defaultPurgeSchedule
		}

		_, err := c.AddFunc(schedule, func() {
			defer observability.RecoverPanic(logger, "revocation purge")

			n, err := p.PurgeExpired(ctx)
			if err != nil {
				logger.WithError(err).Error("revocation purge failed")
				return
			}
			logger.WithField("purged", n).Debug("purged expired revocations")
		})
		if err != nil {
			return nil, fmt.Errorf("failed to schedule revocation purge: %w", err)
		}
		logger.Infof("revocation purge schedule: %s", schedule)
	}

	c.Start()
	return c, nil
}
