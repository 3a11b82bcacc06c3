package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultSettleDelay    = 5 * time.Second
	defaultPostStartDelay = 30 * time.Second
	defaultPreStopDelay   = 10 * time.Second
	defaultCommandTimeout = 5 * time.Minute
)

// Controller drives the managed machine. Implementations normalize whatever
// the platform returns into an error or a Status.
type Controller interface {
	Start(ctx context.Context, profile string) error
	Stop(ctx context.Context) error
	Status(ctx context.Context) (Status, error)
	Uptime(ctx context.Context) (string, error)
}

// CommandRunner runs a shell command on the managed machine.
type CommandRunner interface {
	Run(ctx context.Context, command string, timeout time.Duration) CommandResult
}

type ExecutorOptions struct {
	// SettleDelay separates the stop and start halves of a restart.
	SettleDelay time.Duration
	// PostStartDelay is waited before post-start commands run.
	PostStartDelay time.Duration
	// PreStopDelay is waited after pre-stop commands, before stopping.
	PreStopDelay   time.Duration
	CommandTimeout time.Duration
}

func DefaultExecutorOptions() ExecutorOptions {
	return ExecutorOptions{
		SettleDelay:    defaultSettleDelay,
		PostStartDelay: defaultPostStartDelay,
		PreStopDelay:   defaultPreStopDelay,
		CommandTimeout: defaultCommandTimeout,
	}
}

// Executor turns schedule actions into controller calls and runs the
// surrounding commands.
type Executor struct {
	controller Controller
	runner     CommandRunner
	auditor    Auditor
	log        *logrus.Logger
	opts       ExecutorOptions

	tasks *taskGroup
}

func NewExecutor(controller Controller, runner CommandRunner, auditor Auditor, log *logrus.Logger, opts ExecutorOptions) *Executor {
	return &Executor{
		controller: controller,
		runner:     runner,
		auditor:    auditor,
		log:        log,
		opts:       opts,
		tasks:      newTaskGroup(),
	}
}

// Execute runs the action of s.
func (e *Executor) Execute(ctx context.Context, s Schedule) Outcome {
	switch s.Action {
	case ActionStart:
		out := e.Start(ctx, s.MachineProfile)
		if out.Success {
			e.spawnCommands(s.ID, "post-start", s.PostStartCommands)
		}
		return out
	case ActionStop:
		return e.Stop(ctx, s.PreStopCommands)
	case ActionRestart:
		out := e.Restart(ctx, s.MachineProfile)
		if out.Success {
			e.spawnCommands(s.ID, "post-start", s.PostStartCommands)
		}
		return out
	default:
		return Outcome{Success: false, Message: fmt.Sprintf("unknown action: %s", s.Action)}
	}
}

func (e *Executor) Start(ctx context.Context, profile string) Outcome {
	started := time.Now()
	logger := e.log.WithFields(logrus.Fields{"action": ActionStart, "profile": profile})

	if err := guard(func() error { return e.controller.Start(ctx, profile) }); err != nil {
		logger.WithError(err).Error("failed to start machine")
		record(ctx, e.auditor, e.log, "machine_start_error", fmt.Sprintf("Failed to start machine: %s", err), SeverityError, map[string]any{
			"profile":          profile,
			"duration_seconds": time.Since(started).Seconds(),
		})
		return Outcome{Success: false, Message: err.Error()}
	}

	logger.Info("machine start requested")
	record(ctx, e.auditor, e.log, "machine_start_success", "Machine start command sent successfully", SeverityEvent, map[string]any{
		"profile":          profile,
		"duration_seconds": time.Since(started).Seconds(),
	})
	return Outcome{Success: true, Message: "Machine start command sent successfully"}
}

// Stop runs preStop synchronously, waits PreStopDelay, then stops the machine.
func (e *Executor) Stop(ctx context.Context, preStop []string) Outcome {
	started := time.Now()
	logger := e.log.WithField("action", ActionStop)

	if len(preStop) > 0 {
		e.runCommands(ctx, "pre-stop", preStop)
		if err := sleepCtx(ctx, e.opts.PreStopDelay); err != nil {
			return Outcome{Success: false, Message: fmt.Sprintf("interrupted before stop: %s", err)}
		}
	}

	if err := guard(func() error { return e.controller.Stop(ctx) }); err != nil {
		logger.WithError(err).Error("failed to stop machine")
		record(ctx, e.auditor, e.log, "machine_stop_error", fmt.Sprintf("Failed to stop machine: %s", err), SeverityError, map[string]any{
			"duration_seconds": time.Since(started).Seconds(),
		})
		return Outcome{Success: false, Message: err.Error()}
	}

	logger.Info("machine stop requested")
	record(ctx, e.auditor, e.log, "machine_stop_success", "Machine stop command sent successfully", SeverityEvent, map[string]any{
		"duration_seconds": time.Since(started).Seconds(),
	})
	return Outcome{Success: true, Message: "Machine stop command sent successfully"}
}

// Restart stops, waits SettleDelay, and starts. A failed stop skips the start.
func (e *Executor) Restart(ctx context.Context, profile string) Outcome {
	stop := e.Stop(ctx, nil)
	if !stop.Success {
		return Outcome{Success: false, Message: fmt.Sprintf("failed to stop machine: %s", stop.Message)}
	}

	if err := sleepCtx(ctx, e.opts.SettleDelay); err != nil {
		return Outcome{Success: false, Message: fmt.Sprintf("interrupted between stop and start: %s", err)}
	}

	start := e.Start(ctx, profile)
	if !start.Success {
		return Outcome{Success: false, Message: fmt.Sprintf("failed to start machine after stop: %s", start.Message)}
	}

	record(ctx, e.auditor, e.log, "machine_restart_success", "Machine restarted successfully", SeverityEvent, nil)
	return Outcome{Success: true, Message: "Machine restart initiated successfully"}
}

// Status never fails; controller errors surface as StatusError.
func (e *Executor) Status(ctx context.Context) Status {
	var st Status
	err := guard(func() error {
		var err error
		st, err = e.controller.Status(ctx)
		return err
	})
	if err != nil {
		e.log.WithError(err).Warn("failed to get machine status")
		return StatusError
	}
	return st
}

func (e *Executor) Uptime(ctx context.Context) (string, error) {
	var up string
	err := guard(func() error {
		var err error
		up, err = e.controller.Uptime(ctx)
		return err
	})
	return up, err
}

// spawnCommands runs cmds after PostStartDelay in a task owned by owner.
func (e *Executor) spawnCommands(owner, phase string, cmds []string) {
	if len(cmds) == 0 {
		return
	}
	e.Go(owner, func(ctx context.Context) {
		if err := sleepCtx(ctx, e.opts.PostStartDelay); err != nil {
			e.log.WithField("owner", owner).Debugf("%s commands cancelled", phase)
			return
		}
		e.runCommands(ctx, phase, cmds)
	})
}

// runCommands runs cmds in order and returns how many succeeded. Failures
// are logged and audited only.
func (e *Executor) runCommands(ctx context.Context, phase string, cmds []string) int {
	ok := 0
	for _, cmd := range cmds {
		if ctx.Err() != nil {
			return ok
		}
		logger := e.log.WithFields(logrus.Fields{"phase": phase, "command": cmd})
		logger.Debug("executing command")

		var res CommandResult
		if err := guard(func() error {
			res = e.runner.Run(ctx, cmd, e.opts.CommandTimeout)
			return nil
		}); err != nil {
			res = CommandResult{Success: false, Stderr: err.Error(), ReturnCode: -1}
		}

		if res.Success {
			ok++
			record(ctx, e.auditor, e.log, "command_success", fmt.Sprintf("Command executed: %s", cmd), SeverityEvent, map[string]any{
				"command": cmd,
				"phase":   phase,
				"output":  truncate(res.Stdout, 500),
			})
			continue
		}

		logger.WithField("return-code", res.ReturnCode).Warn("command failed")
		record(ctx, e.auditor, e.log, "command_error", fmt.Sprintf("Command failed: %s", cmd), SeverityError, map[string]any{
			"command":     cmd,
			"phase":       phase,
			"return_code": res.ReturnCode,
			"error":       truncate(res.Stderr, 500),
		})
	}
	return ok
}

// Go runs fn detached from the caller, owned by owner.
func (e *Executor) Go(owner string, fn func(ctx context.Context)) {
	e.tasks.Go(owner, func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				e.log.WithField("owner", owner).Errorf("background task panicked: %v", r)
			}
		}()
		fn(ctx)
	})
}

// Cancel stops the pending tasks of owner.
func (e *Executor) Cancel(owner string) { e.tasks.Cancel(owner) }

// Pending reports how many tasks of owner are still running.
func (e *Executor) Pending(owner string) int { return e.tasks.Pending(owner) }

// Wait blocks until every detached task has finished.
func (e *Executor) Wait() { e.tasks.Wait() }

// Close cancels all detached tasks and waits for them.
func (e *Executor) Close() {
	e.tasks.CancelAll()
	e.tasks.Wait()
}

// guard converts a panic in fn into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type taskGroup struct {
	mu      sync.Mutex
	wg      sync.WaitGroup
	seq     uint64
	cancels map[string]map[uint64]context.CancelFunc
}

func newTaskGroup() *taskGroup {
	return &taskGroup{cancels: map[string]map[uint64]context.CancelFunc{}}
}

func (g *taskGroup) Go(owner string, fn func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(context.Background())

	g.mu.Lock()
	g.seq++
	id := g.seq
	if g.cancels[owner] == nil {
		g.cancels[owner] = map[uint64]context.CancelFunc{}
	}
	g.cancels[owner][id] = cancel
	g.wg.Add(1)
	g.mu.Unlock()

	go func() {
		defer g.wg.Done()
		defer g.done(owner, id)
		fn(ctx)
	}()
}

func (g *taskGroup) done(owner string, id uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cancel, ok := g.cancels[owner][id]; ok {
		cancel()
		delete(g.cancels[owner], id)
	}
	if len(g.cancels[owner]) == 0 {
		delete(g.cancels, owner)
	}
}

func (g *taskGroup) Cancel(owner string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, cancel := range g.cancels[owner] {
		cancel()
	}
}

func (g *taskGroup) CancelAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, tasks := range g.cancels {
		for _, cancel := range tasks {
			cancel()
		}
	}
}

func (g *taskGroup) Pending(owner string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.cancels[owner])
}

func (g *taskGroup) Wait() { g.wg.Wait() }
