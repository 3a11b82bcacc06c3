package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

const DefaultMonitorInterval = 5 * time.Minute

// MonitorStatus polls the machine status every interval, records a heartbeat
// for each poll and a state_change event whenever the status differs from the
// previous poll. It returns when ctx is done.
func MonitorStatus(ctx context.Context, executor *Executor, auditor Auditor, logger *logrus.Logger, interval time.Duration) error {
	log := logger.WithField("thr", "monitor")
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Infof("starting status monitor...")

	var last Status
	for {
		last = pollStatus(ctx, executor, auditor, logger, last)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// pollStatus performs one poll and returns the observed status.
func pollStatus(ctx context.Context, executor *Executor, auditor Auditor, log *logrus.Logger, last Status) Status {
	st := executor.Status(ctx)

	record(ctx, auditor, log, "status_check", fmt.Sprintf("Machine status: %s", st), SeverityHeartbeat, map[string]any{
		"status": st,
	})

	if last != "" && st != last {
		log.WithFields(logrus.Fields{"from": last, "to": st}).Info("machine state changed")
		record(ctx, auditor, log, "state_change", fmt.Sprintf("Machine state changed: %s -> %s", last, st), SeverityEvent, map[string]any{
			"from": last,
			"to":   st,
		})
	}

	return st
}
