package cron

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// autoRestartOwner owns the detached post-restart command tasks.
const autoRestartOwner = "auto-restart"

// AutoRestartRepository persists the auto-restart config and history.
type AutoRestartRepository interface {
	LoadAutoRestartConfig(ctx context.Context) (*AutoRestartConfig, error)
	SaveAutoRestartConfig(ctx context.Context, cfg AutoRestartConfig) error
	LoadAutoRestartHistory(ctx context.Context) ([]AutoRestartHistoryEntry, error)
	SaveAutoRestartHistory(ctx context.Context, entries []AutoRestartHistoryEntry) error
}

// AutoRestarter restarts the machine once an interval has elapsed or its
// uptime crosses a threshold. It only acts on a running machine.
type AutoRestarter struct {
	mu      sync.Mutex
	cfg     AutoRestartConfig
	history []AutoRestartHistoryEntry

	repo     AutoRestartRepository
	executor *Executor
	auditor  Auditor
	log      *logrus.Logger
	now      func() time.Time
}

func NewAutoRestarter(ctx context.Context, repo AutoRestartRepository, executor *Executor, auditor Auditor, log *logrus.Logger) (*AutoRestarter, error) {
	cfg, err := repo.LoadAutoRestartConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load auto-restart config: %w", err)
	}

	a := &AutoRestarter{
		repo:     repo,
		executor: executor,
		auditor:  auditor,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}

	if cfg == nil {
		a.cfg = DefaultAutoRestartConfig()
		if err := repo.SaveAutoRestartConfig(ctx, a.cfg); err != nil {
			log.WithError(err).Warn("failed to persist default auto-restart config")
		}
	} else {
		a.cfg = *cfg
	}

	history, err := repo.LoadAutoRestartHistory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load auto-restart history: %w", err)
	}
	a.history = history

	return a, nil
}

func (a *AutoRestarter) Config() AutoRestartConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return cloneAutoRestartConfig(a.cfg)
}

// Update merges u into the config and persists it.
func (a *AutoRestarter) Update(ctx context.Context, u AutoRestartUpdate) (AutoRestartConfig, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cfg := cloneAutoRestartConfig(a.cfg)
	if u.Enabled != nil {
		cfg.Enabled = *u.Enabled
	}
	if u.Method != nil {
		cfg.Method = *u.Method
	}
	if u.IntervalMinutes != nil {
		cfg.IntervalMinutes = *u.IntervalMinutes
	}
	if u.UptimeThreshold != nil {
		cfg.UptimeThreshold = strings.TrimSpace(*u.UptimeThreshold)
	}
	if u.MachineProfile != nil {
		cfg.MachineProfile = strings.TrimSpace(*u.MachineProfile)
	}
	if u.PostRestartCommands != nil {
		cfg.PostRestartCommands = append(StringList{}, nonEmpty(u.PostRestartCommands)...)
	}

	if err := validateAutoRestart(cfg); err != nil {
		return AutoRestartConfig{}, err
	}

	a.cfg = cfg
	a.persistConfigLocked(ctx)

	record(ctx, a.auditor, a.log, "auto_restart_config_updated", "Auto-restart configuration updated", SeverityEvent, map[string]any{
		"enabled":          cfg.Enabled,
		"method":           cfg.Method,
		"interval_minutes": cfg.IntervalMinutes,
		"uptime_threshold": cfg.UptimeThreshold,
	})

	return cloneAutoRestartConfig(cfg), nil
}

// History returns up to limit entries, newest first. limit <= 0 returns all.
func (a *AutoRestarter) History(limit int) []AutoRestartHistoryEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]AutoRestartHistoryEntry, 0, n)
	for i := len(a.history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, a.history[i])
	}
	return out
}

// Check evaluates the policy once and reports whether a restart was attempted.
func (a *AutoRestarter) Check(ctx context.Context) bool {
	cfg := a.Config()
	if !cfg.Enabled {
		return false
	}

	logger := a.log.WithField("trigger", cfg.Method)

	if st := a.executor.Status(ctx); st != StatusRunning {
		logger.Debugf("auto-restart skipped, machine is %s", st)
		return false
	}

	now := a.now()

	switch cfg.Method {
	case MethodInterval:
		if cfg.LastRestart == nil {
			a.seed(ctx, now)
			logger.Info("auto-restart timer started")
			return false
		}
		interval := time.Duration(cfg.IntervalMinutes) * time.Minute
		elapsed := now.Sub(*cfg.LastRestart)
		if elapsed < interval {
			logger.Debugf("auto-restart in %s", interval-elapsed)
			return false
		}
		logger.Infof("restart interval reached (%s elapsed)", elapsed.Round(time.Second))
	case MethodUptime:
		threshold, err := ParseUptime(cfg.UptimeThreshold)
		if err != nil {
			logger.WithError(err).Warn("invalid uptime threshold")
			return false
		}
		raw, err := a.executor.Uptime(ctx)
		if err != nil {
			logger.WithError(err).Warn("failed to read machine uptime")
			return false
		}
		uptime, err := ParseUptime(raw)
		if err != nil {
			logger.WithError(err).Warn("failed to parse machine uptime")
			return false
		}
		if uptime < threshold {
			logger.Debugf("uptime %s below threshold %s", uptime, threshold)
			return false
		}
		logger.Infof("uptime threshold reached (%s >= %s)", uptime, threshold)
	default:
		logger.Warnf("unknown auto-restart method %q", cfg.Method)
		return false
	}

	a.restart(ctx, cfg, now)
	return true
}

func (a *AutoRestarter) restart(ctx context.Context, cfg AutoRestartConfig, now time.Time) {
	started := time.Now()
	record(ctx, a.auditor, a.log, "auto_restart_triggered", fmt.Sprintf("Auto-restart triggered by %s", cfg.Method), SeverityEvent, nil)

	out := a.executor.Restart(ctx, cfg.MachineProfile)
	if !out.Success {
		// last_restart stays put so the next qualifying tick retries.
		a.appendHistory(ctx, AutoRestartHistoryEntry{
			Timestamp:     now,
			TriggerType:   cfg.Method,
			Success:       false,
			TotalDuration: time.Since(started),
			Message:       out.Message,
		})
		record(ctx, a.auditor, a.log, "auto_restart_error", fmt.Sprintf("Auto-restart failed: %s", out.Message), SeverityError, nil)
		return
	}

	a.mu.Lock()
	last := now
	a.cfg.LastRestart = &last
	a.persistConfigLocked(ctx)
	a.mu.Unlock()

	a.appendHistory(ctx, AutoRestartHistoryEntry{
		Timestamp:     now,
		TriggerType:   cfg.Method,
		Success:       true,
		TotalDuration: time.Since(started),
		Message:       out.Message,
	})

	cmds := []string(cfg.PostRestartCommands)
	if len(cmds) == 0 {
		return
	}

	a.executor.Go(autoRestartOwner, func(ctx context.Context) {
		// The entry outlives a cancelled task, so it is saved without ctx's deadline.
		saveCtx := context.WithoutCancel(ctx)
		if err := sleepCtx(ctx, a.executor.opts.PostStartDelay); err != nil {
			a.updateHistory(saveCtx, now, func(e *AutoRestartHistoryEntry) {
				e.Message = fmt.Sprintf("%s; post-restart commands cancelled", out.Message)
			})
			return
		}
		cmdStarted := time.Now()
		ok := a.executor.runCommands(ctx, "post-restart", cmds)
		a.updateHistory(saveCtx, now, func(e *AutoRestartHistoryEntry) {
			e.TotalDuration = time.Since(started)
			e.CommandDuration = time.Since(cmdStarted)
			e.CommandsExecuted = ok
			e.Message = fmt.Sprintf("%s; %d/%d post-restart commands succeeded", out.Message, ok, len(cmds))
		})
	})
}

func (a *AutoRestarter) seed(ctx context.Context, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cfg.LastRestart != nil {
		return
	}
	t := now
	a.cfg.LastRestart = &t
	a.persistConfigLocked(ctx)
}

func (a *AutoRestarter) appendHistory(ctx context.Context, e AutoRestartHistoryEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.history = append(a.history, e)
	if len(a.history) > maxRestartHistory {
		a.history = append([]AutoRestartHistoryEntry(nil), a.history[len(a.history)-maxRestartHistory:]...)
	}
	if err := a.repo.SaveAutoRestartHistory(ctx, a.history); err != nil {
		a.log.WithError(err).Warn("failed to persist auto-restart history")
	}
}

// updateHistory amends the newest entry stamped ts. Entries already pushed
// out by the cap are left alone.
func (a *AutoRestarter) updateHistory(ctx context.Context, ts time.Time, fn func(*AutoRestartHistoryEntry)) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := len(a.history) - 1; i >= 0; i-- {
		if !a.history[i].Timestamp.Equal(ts) {
			continue
		}
		fn(&a.history[i])
		if err := a.repo.SaveAutoRestartHistory(ctx, a.history); err != nil {
			a.log.WithError(err).Warn("failed to persist auto-restart history")
		}
		return
	}
}

func (a *AutoRestarter) persistConfigLocked(ctx context.Context) {
	if err := a.repo.SaveAutoRestartConfig(ctx, a.cfg); err != nil {
		a.log.WithError(err).Warn("failed to persist auto-restart config")
		record(ctx, a.auditor, a.log, "auto_restart_persist_error", err.Error(), SeverityWarning, nil)
	}
}

func validateAutoRestart(cfg AutoRestartConfig) error {
	switch cfg.Method {
	case MethodInterval:
		if cfg.IntervalMinutes <= 0 {
			return invalid("interval_minutes", "must be positive")
		}
	case MethodUptime:
		if _, err := ParseUptime(cfg.UptimeThreshold); err != nil {
			return invalid("uptime_threshold", "%s", err)
		}
	default:
		return invalid("method", "unknown method %q", cfg.Method)
	}
	return validateCommands("post_restart_commands", cfg.PostRestartCommands)
}

func cloneAutoRestartConfig(c AutoRestartConfig) AutoRestartConfig {
	out := c
	out.PostRestartCommands = append(StringList{}, c.PostRestartCommands...)
	out.LastRestart = utcPtr(c.LastRestart)
	return out
}
