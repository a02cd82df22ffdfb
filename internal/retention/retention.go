package retention

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"ficsync/pkg/cache"
	"ficsync/pkg/config"
	"ficsync/pkg/logger"
)

// Start runs the cache pruning scheduler if retention is enabled. Cached
// history older than the configured period is removed on the cron schedule.
// Returns a cancel func; a no-op cancel when retention is disabled.
func Start(ctx context.Context, cfg *config.Config, c *cache.Cache) (context.CancelFunc, error) {
	ret := cfg.Retention
	if !ret.Enabled || c == nil {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	period, err := ParsePeriod(ret.Period)
	if err != nil {
		logger.Error("retention_invalid_period", "period", ret.Period, "error", err)
		return nil, err
	}

	// default daily @02:00
	cronExpr := ret.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", ret.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", ret.Cron)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "period", period.String())
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, c, cronExpr, period)
	return cancel, nil
}

// RunOnce prunes immediately; used by tests and manual triggers.
func RunOnce(c *cache.Cache, period time.Duration) (int, error) {
	return c.PruneOlderThan(time.Now().UTC().Add(-period))
}

// runScheduler computes the next cron tick with gronx and sleeps until it.
func runScheduler(ctx context.Context, c *cache.Cache, cronExpr string, period time.Duration) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if n, err := RunOnce(c, period); err != nil {
				logger.Error("retention_run_error", "error", err)
			} else {
				logger.Info("retention_run_done", "removed", n)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// ParsePeriod parses retention periods like "30d", "12h" or "45m". Days are
// accepted because that is how operators think about chat history.
func ParsePeriod(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("retention period required")
	}
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid retention period: %s", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid retention period: %s", s)
	}
	return d, nil
}
