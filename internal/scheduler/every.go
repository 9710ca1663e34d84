package scheduler

import (
	"context"
	"time"

	"canarydesk/internal/logger"
)

// Every runs task once per interval until ctx is done. A task that overruns
// the interval delays the next tick rather than stacking ticks.
func Every(ctx context.Context, name string, interval time.Duration, task func(context.Context)) {
	if task == nil || interval <= 0 {
		logger.Warnf("Every[%s]: invalid interval=%s or nil task, exit", name, interval)
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Debugf("Every[%s]: ctx done, exit", name)
			return
		case <-ticker.C:
			task(ctx)
		}
	}
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
