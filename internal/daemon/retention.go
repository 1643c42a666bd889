package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/loopworks/hookgate/internal/logger"
)

// runRetention runs the audit cleanup on the configured cron schedule until
// the context is cancelled
func runRetention(ctx context.Context, d *Daemon, schedule string) error {
	c := cron.New()

	_, err := c.AddFunc(schedule, func() {
		retention := time.Duration(d.Config().Audit.RetentionDays) * 24 * time.Hour
		if retention <= 0 {
			retention = 30 * 24 * time.Hour
		}

		deleted, err := d.Store().CleanupOlderThan(retention)
		if err != nil {
			logger.Warn().Err(err).Msg("Scheduled audit cleanup failed")
			return
		}
		logger.Debug().Int64("deleted", deleted).Msg("Scheduled audit cleanup done")

		if d.cache != nil {
			if expired := d.cache.Cleanup(); expired > 0 {
				logger.Debug().Int("expired", expired).Msg("Dropped expired cache entries")
			}
		}
	})
	if err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}

	c.Start()
	logger.Debug().Str("schedule", schedule).Msg("Retention schedule started")

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
