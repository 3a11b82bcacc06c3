package flycheck

import (
	"context"
	"fmt"
	"time"

	"github.com/fly-apps/machine-scheduler/internal/cron"
	"github.com/superfly/fly-checks/check"
)

// Ticker reports the scheduler loop progress.
type Ticker interface {
	LastTick() time.Time
	Interval() time.Duration
}

// StatusProber reports the managed machine status.
type StatusProber interface {
	Status(ctx context.Context) cron.Status
}

// staleTicks is how many intervals may pass without a tick before the
// scheduler is reported unhealthy.
const staleTicks = 3

func CheckScheduler(ctx context.Context, checks *check.CheckSuite, ticker Ticker, now func() time.Time) (*check.CheckSuite, error) {
	checks.AddCheck("ticking", func() (string, error) {
		return schedulerStatus(ticker, now())
	})
	return checks, nil
}

func CheckMachine(ctx context.Context, checks *check.CheckSuite, prober StatusProber) (*check.CheckSuite, error) {
	checks.AddCheck("reachable", func() (string, error) {
		return machineStatus(ctx, prober)
	})
	return checks, nil
}

func schedulerStatus(ticker Ticker, now time.Time) (string, error) {
	last := ticker.LastTick()
	if last.IsZero() {
		return "", fmt.Errorf("scheduler has not ticked yet")
	}

	age := now.Sub(last)
	if limit := staleTicks * ticker.Interval(); age > limit {
		return "", fmt.Errorf("last tick %s ago exceeds %s", age.Round(time.Second), limit)
	}

	return fmt.Sprintf("last tick %s ago", age.Round(time.Second)), nil
}

func machineStatus(ctx context.Context, prober StatusProber) (string, error) {
	st := prober.Status(ctx)
	switch st {
	case cron.StatusError, cron.StatusUnknown:
		return "", fmt.Errorf("machine status is %s", st)
	default:
		return string(st), nil
	}
}
