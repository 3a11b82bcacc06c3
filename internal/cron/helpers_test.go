package cron

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t.UTC()} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t.UTC()
}

// fakeMachine implements both Controller and CommandRunner and records every
// call in order.
type fakeMachine struct {
	mu sync.Mutex

	status    Status
	statusErr error
	uptime    string
	uptimeErr error
	startErr  error
	stopErr   error
	panicOn   string

	// results maps a command to its result; unknown commands succeed.
	results map[string]CommandResult

	calls    []string
	profiles []string
	commands []string

	// onStart runs inside Start, before it returns.
	onStart func()
}

func newFakeMachine(status Status) *fakeMachine {
	return &fakeMachine{status: status, results: map[string]CommandResult{}}
}

func (m *fakeMachine) Start(ctx context.Context, profile string) error {
	m.mu.Lock()
	m.calls = append(m.calls, "start")
	m.profiles = append(m.profiles, profile)
	if m.panicOn == "start" {
		m.mu.Unlock()
		panic("start exploded")
	}
	err := m.startErr
	if err == nil {
		m.status = StatusRunning
	}
	hook := m.onStart
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	return err
}

func (m *fakeMachine) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "stop")
	if m.panicOn == "stop" {
		panic("stop exploded")
	}
	if m.stopErr != nil {
		return m.stopErr
	}
	m.status = StatusStopped
	return nil
}

func (m *fakeMachine) Status(ctx context.Context) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.panicOn == "status" {
		panic("status exploded")
	}
	return m.status, m.statusErr
}

func (m *fakeMachine) Uptime(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uptime, m.uptimeErr
}

func (m *fakeMachine) Run(ctx context.Context, command string, timeout time.Duration) CommandResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "run:"+command)
	m.commands = append(m.commands, command)
	if res, ok := m.results[command]; ok {
		return res
	}
	return CommandResult{Success: true, Stdout: "ok"}
}

func (m *fakeMachine) setStatus(st Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = st
}

func (m *fakeMachine) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *fakeMachine) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

func (m *fakeMachine) count(call string) int {
	n := 0
	for _, c := range m.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

var errSaveFailed = errors.New("disk full")

// memoryRepo is an in-memory ScheduleRepository and AutoRestartRepository.
// Like the sqlite store, saves fail once ctx is done.
type memoryRepo struct {
	mu sync.Mutex

	schedules []Schedule
	config    *AutoRestartConfig
	history   []AutoRestartHistoryEntry

	failSave      bool
	scheduleSaves int
}

func (r *memoryRepo) LoadSchedules(ctx context.Context) ([]Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Schedule, 0, len(r.schedules))
	for _, s := range r.schedules {
		out = append(out, cloneSchedule(s))
	}
	return out, nil
}

func (r *memoryRepo) SaveSchedules(ctx context.Context, schedules []Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.failSave {
		return errSaveFailed
	}
	r.scheduleSaves++
	r.schedules = make([]Schedule, 0, len(schedules))
	for _, s := range schedules {
		r.schedules = append(r.schedules, cloneSchedule(s))
	}
	return nil
}

func (r *memoryRepo) LoadAutoRestartConfig(ctx context.Context) (*AutoRestartConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.config == nil {
		return nil, nil
	}
	cfg := cloneAutoRestartConfig(*r.config)
	return &cfg, nil
}

func (r *memoryRepo) SaveAutoRestartConfig(ctx context.Context, cfg AutoRestartConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.failSave {
		return errSaveFailed
	}
	c := cloneAutoRestartConfig(cfg)
	r.config = &c
	return nil
}

func (r *memoryRepo) LoadAutoRestartHistory(ctx context.Context) ([]AutoRestartHistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AutoRestartHistoryEntry(nil), r.history...), nil
}

func (r *memoryRepo) SaveAutoRestartHistory(ctx context.Context, entries []AutoRestartHistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.failSave {
		return errSaveFailed
	}
	r.history = append([]AutoRestartHistoryEntry(nil), entries...)
	return nil
}

func (r *memoryRepo) savedSchedules() []Schedule {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Schedule(nil), r.schedules...)
}

func (r *memoryRepo) savedConfig() *AutoRestartConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.config == nil {
		return nil
	}
	c := cloneAutoRestartConfig(*r.config)
	return &c
}

func (r *memoryRepo) savedHistory() []AutoRestartHistoryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AutoRestartHistoryEntry(nil), r.history...)
}

// recordingAuditor keeps every event in memory.
type recordingAuditor struct {
	mu     sync.Mutex
	events []Event
}

func (a *recordingAuditor) Record(ctx context.Context, ev Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
}

func (a *recordingAuditor) Types() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.events))
	for _, ev := range a.events {
		out = append(out, ev.Type)
	}
	return out
}

func (a *recordingAuditor) Has(typ string) bool {
	for _, t := range a.Types() {
		if t == typ {
			return true
		}
	}
	return false
}

func (a *recordingAuditor) Find(typ string) (Event, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ev := range a.events {
		if ev.Type == typ {
			return ev, true
		}
	}
	return Event{}, false
}

// panickingAuditor fails on every record.
type panickingAuditor struct{}

func (panickingAuditor) Record(ctx context.Context, ev Event) { panic("audit sink down") }

func instantOptions() ExecutorOptions {
	return ExecutorOptions{CommandTimeout: time.Minute}
}

func newTestExecutor(m *fakeMachine, auditor Auditor, opts ExecutorOptions) *Executor {
	return NewExecutor(m, m, auditor, testLogger(), opts)
}

func newTestScheduleStore(t *testing.T, repo *memoryRepo, auditor Auditor, clock *fakeClock) *ScheduleStore {
	t.Helper()
	s, err := NewScheduleStore(context.Background(), repo, auditor, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	s.now = clock.Now
	return s
}

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatal(err)
	}
	return ts.UTC()
}
