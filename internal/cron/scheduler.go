package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const DefaultTickInterval = 60 * time.Second

// Scheduler ticks on a fixed cadence, evaluates the auto-restart policy and
// executes due schedules one after another.
type Scheduler struct {
	schedules   *ScheduleStore
	autoRestart *AutoRestarter
	executor    *Executor
	auditor     Auditor
	log         *logrus.Logger
	interval    time.Duration
	now         func() time.Time

	mu       sync.Mutex
	lastTick time.Time
}

func NewScheduler(schedules *ScheduleStore, autoRestart *AutoRestarter, executor *Executor, auditor Auditor, log *logrus.Logger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}

	// Deleting a schedule drops its pending post-start commands.
	schedules.OnDelete(executor.Cancel)

	return &Scheduler{
		schedules:   schedules,
		autoRestart: autoRestart,
		executor:    executor,
		auditor:     auditor,
		log:         log,
		interval:    interval,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Run ticks immediately and then every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Infof("scheduler started, ticking every %s", s.interval)
	record(ctx, s.auditor, s.log, "scheduler_started", "Scheduler started", SeverityEvent, map[string]any{
		"interval_seconds": s.interval.Seconds(),
	})

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.Tick(ctx)

		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick performs one pass. It never panics and never returns an error: every
// failure is logged and audited, and the remaining schedules still run.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	s.lastTick = now
	s.mu.Unlock()

	if s.autoRestart != nil {
		if err := guard(func() error {
			s.autoRestart.Check(ctx)
			return nil
		}); err != nil {
			s.log.WithError(err).Error("auto-restart check failed")
			record(ctx, s.auditor, s.log, "auto_restart_error", fmt.Sprintf("Auto-restart check failed: %s", err), SeverityError, nil)
		}
	}

	for _, due := range s.schedules.Due(now) {
		if ctx.Err() != nil {
			return
		}
		sch, ok := s.schedules.claim(due.ID, now)
		if !ok {
			// Toggled off, deleted or already running since the snapshot.
			continue
		}
		s.process(ctx, *sch)
	}
}

// Trigger executes a schedule right away, whether or not it is due or enabled.
// Its recurrence is advanced the same way a tick would. A once schedule that
// already ran is refused.
func (s *Scheduler) Trigger(ctx context.Context, id string) (Outcome, error) {
	sch, err := s.schedules.claimAny(id)
	if err != nil {
		return Outcome{}, err
	}
	return s.process(ctx, *sch), nil
}

func (s *Scheduler) LastTick() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTick
}

func (s *Scheduler) Interval() time.Duration { return s.interval }

// process runs a claimed schedule and records its outcome. The claim is
// released on return.
func (s *Scheduler) process(ctx context.Context, sch Schedule) (out Outcome) {
	defer s.schedules.release(sch.ID)

	logger := s.log.WithFields(logrus.Fields{
		"schedule-id": sch.ID,
		"action":      sch.Action,
	})

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("panic while processing schedule: %v", r)
			record(ctx, s.auditor, s.log, "schedule_error", fmt.Sprintf("Schedule '%s' failed: %v", sch.Name, r), SeverityError, map[string]any{
				"schedule_id": sch.ID,
			})
			out = Outcome{Success: false, Message: fmt.Sprintf("panic: %v", r)}
		}
	}()

	logger.Infof("executing schedule %q", sch.Name)
	record(ctx, s.auditor, s.log, "schedule_execute", fmt.Sprintf("Executing schedule '%s': %s", sch.Name, sch.Action), SeverityEvent, map[string]any{
		"schedule_id": sch.ID,
		"action":      sch.Action,
	})

	out = s.executor.Execute(ctx, sch)

	// The run is recorded even when ctx was cancelled mid-action.
	ctx = context.WithoutCancel(ctx)

	finished := s.now()
	var next *time.Time
	disable := sch.Type == ScheduleOnce
	if !disable {
		next = s.schedules.computeNextRun(ctx, sch, finished)
	}

	// A failed action still advances the schedule so it is not retried every tick.
	if err := s.schedules.UpdateAfterExecution(ctx, sch.ID, finished, next, disable); err != nil {
		logger.WithError(err).Warn("failed to record schedule execution")
		if errors.Is(err, ErrNotFound) {
			// Deleted while the action ran; its post-start commands go with it.
			s.executor.Cancel(sch.ID)
		}
	}

	sev := SeverityEvent
	if !out.Success {
		sev = SeverityError
	}
	record(ctx, s.auditor, s.log, "schedule_completed", fmt.Sprintf("Schedule '%s' completed: %s", sch.Name, out.Message), sev, map[string]any{
		"schedule_id": sch.ID,
		"success":     out.Success,
		"next_run":    formatTime(next),
	})

	return out
}
