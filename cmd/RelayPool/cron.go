package main

import (
	"context"
	"time"

	"RelayPool/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// StartPoolMaintenanceCron starts the background pool maintenance job. Every
// five minutes it logs pool composition and drops cached sessions belonging
// to disabled accounts, so a disable takes effect even if the admin call
// raced an in-flight dispatch that re-cached a session.
func StartPoolMaintenanceCron(pool *biz.Pool, cache biz.SessionCache, logger log.Logger) *cron.Cron {
	helper := log.NewHelper(logger)

	c := cron.New(cron.WithSeconds())

	_, err := c.AddFunc("0 */5 * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		stats := pool.Stats()
		helper.Infow(
			"pool maintenance sweep",
			"total", stats.Total,
			"active", stats.Active,
			"cooling_down", stats.CoolingDown,
			"disabled", stats.Disabled,
		)

		for _, acct := range pool.List() {
			if acct.Status == biz.StatusDisabled {
				cache.Invalidate(ctx, acct.ID)
			}
		}
	})
	if err != nil {
		helper.Errorw("failed to register pool maintenance cron job", "error", err)
		return nil
	}

	c.Start()
	helper.Info("pool maintenance cron job started: runs every 5 minutes")

	return c
}
