package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/google/shlex"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// ScheduleRepository loads and saves the whole schedule collection.
type ScheduleRepository interface {
	LoadSchedules(ctx context.Context) ([]Schedule, error)
	SaveSchedules(ctx context.Context, schedules []Schedule) error
}

// ScheduleStore is the in-memory schedule collection. Every operation holds
// one collection-wide lock for its whole read-modify-write, and every mutation
// writes the full collection through to the repository before unlocking.
type ScheduleStore struct {
	mu        sync.Mutex
	schedules []Schedule
	inFlight  map[string]bool

	repo    ScheduleRepository
	auditor Auditor
	log     *logrus.Logger
	now     func() time.Time

	onDelete func(id string)
}

func NewScheduleStore(ctx context.Context, repo ScheduleRepository, auditor Auditor, log *logrus.Logger) (*ScheduleStore, error) {
	schedules, err := repo.LoadSchedules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load schedules: %w", err)
	}

	log.Infof("loaded %d schedule(s)", len(schedules))

	return &ScheduleStore{
		schedules: schedules,
		inFlight:  map[string]bool{},
		repo:      repo,
		auditor:   auditor,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// OnDelete registers a hook invoked, under the lock, for every deleted id.
func (s *ScheduleStore) OnDelete(fn func(id string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDelete = fn
}

// Add validates in, computes its first run and persists it. A nil NextRun on
// the returned schedule means the schedule was accepted but is dormant.
func (s *ScheduleStore) Add(ctx context.Context, in ScheduleInput) (*Schedule, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	now := s.now()
	sch := Schedule{
		ID:                uuid.NewString(),
		Name:              strings.TrimSpace(in.Name),
		Action:            in.Action,
		Type:              in.Type,
		Time:              strings.TrimSpace(in.Time),
		Days:              nonEmpty(in.Days),
		Datetime:          strings.TrimSpace(in.Datetime),
		Timezone:          strings.TrimSpace(in.Timezone),
		MachineProfile:    strings.TrimSpace(in.MachineProfile),
		PostStartCommands: nonEmpty(in.PostStartCommands),
		PreStopCommands:   nonEmpty(in.PreStopCommands),
		Enabled:           true,
		CreatedAt:         now,
	}
	if sch.Name == "" {
		sch.Name = "Unnamed Schedule"
	}
	sch.NextRun = s.computeNextRun(ctx, sch, now)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.schedules = append(s.schedules, sch)
	s.persistLocked(ctx)

	record(ctx, s.auditor, s.log, "schedule_added", fmt.Sprintf("Schedule '%s' added", sch.Name), SeverityEvent, map[string]any{
		"schedule_id":   sch.ID,
		"action":        sch.Action,
		"schedule_type": sch.Type,
		"next_run":      formatTime(sch.NextRun),
	})

	out := cloneSchedule(sch)
	return &out, nil
}

// Delete removes a schedule. It reports whether the id existed.
func (s *ScheduleStore) Delete(ctx context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return false
	}
	name := s.schedules[idx].Name
	s.schedules = append(s.schedules[:idx], s.schedules[idx+1:]...)
	s.persistLocked(ctx)

	if s.onDelete != nil {
		s.onDelete(id)
	}

	record(ctx, s.auditor, s.log, "schedule_deleted", fmt.Sprintf("Schedule '%s' deleted", name), SeverityEvent, map[string]any{
		"schedule_id": id,
	})
	return true
}

// Toggle flips enabled and returns the new state. next_run is left alone.
func (s *ScheduleStore) Toggle(ctx context.Context, id string) (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return false, false
	}
	sch := &s.schedules[idx]
	sch.Enabled = !sch.Enabled
	s.persistLocked(ctx)

	state := "disabled"
	if sch.Enabled {
		state = "enabled"
	}
	record(ctx, s.auditor, s.log, "schedule_toggled", fmt.Sprintf("Schedule '%s' %s", sch.Name, state), SeverityEvent, map[string]any{
		"schedule_id": id,
		"enabled":     sch.Enabled,
	})
	return sch.Enabled, true
}

func (s *ScheduleStore) Get(id string) (*Schedule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return nil, false
	}
	out := cloneSchedule(s.schedules[idx])
	return &out, true
}

// List returns a snapshot of all schedules with countdowns relative to now.
func (s *ScheduleStore) List(now time.Time) []ScheduleView {
	s.mu.Lock()
	defer s.mu.Unlock()

	views := make([]ScheduleView, 0, len(s.schedules))
	for _, sch := range s.schedules {
		v := ScheduleView{Schedule: cloneSchedule(sch)}
		if sch.Enabled && sch.NextRun != nil {
			secs := int64(sch.NextRun.Sub(now) / time.Second)
			v.CountdownSeconds = &secs
			v.CountdownText = humanize.RelTime(*sch.NextRun, now, "overdue", "from now")
		}
		views = append(views, v)
	}
	return views
}

// Due returns enabled schedules whose next run is at or before now.
func (s *ScheduleStore) Due(now time.Time) []Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Schedule
	for _, sch := range s.schedules {
		if isDue(sch, now) {
			due = append(due, cloneSchedule(sch))
		}
	}
	return due
}

// claim re-checks, under the lock, that a schedule is still enabled and due
// and marks it in flight. Schedules toggled off after the snapshot was taken
// are not claimed.
func (s *ScheduleStore) claim(id string, now time.Time) (*Schedule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight[id] {
		return nil, false
	}
	idx := s.indexLocked(id)
	if idx < 0 || !isDue(s.schedules[idx], now) {
		return nil, false
	}
	s.inFlight[id] = true
	out := cloneSchedule(s.schedules[idx])
	return &out, true
}

// claimAny marks a schedule in flight regardless of due-ness. A once schedule
// that already ran cannot be claimed again.
func (s *ScheduleStore) claimAny(id string) (*Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return nil, fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	if s.inFlight[id] {
		return nil, fmt.Errorf("schedule %s is already executing", id)
	}
	if sch := s.schedules[idx]; sch.Type == ScheduleOnce && sch.LastRun != nil {
		return nil, invalid("id", "once schedule %s already ran at %s", id, sch.LastRun.Format(time.RFC3339))
	}
	s.inFlight[id] = true
	out := cloneSchedule(s.schedules[idx])
	return &out, nil
}

func (s *ScheduleStore) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
}

// UpdateAfterExecution records a run. Recurring schedules get nextRun; when
// disable is set the schedule is switched off and loses its next run, so
// enabling it again does not make it due.
func (s *ScheduleStore) UpdateAfterExecution(ctx context.Context, id string, lastRun time.Time, nextRun *time.Time, disable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	sch := &s.schedules[idx]
	ran := lastRun.UTC()
	sch.LastRun = &ran
	if disable {
		sch.Enabled = false
		sch.NextRun = nil
	} else {
		sch.NextRun = utcPtr(nextRun)
	}
	s.persistLocked(ctx)
	return nil
}

// computeNextRun absorbs recurrence failures: the schedule becomes dormant
// and a warning is recorded.
func (s *ScheduleStore) computeNextRun(ctx context.Context, sch Schedule, now time.Time) *time.Time {
	next, err := NextRun(sch, now)
	if err != nil {
		s.log.WithError(err).WithField("schedule-id", sch.ID).Warn("schedule has no next run")
		record(ctx, s.auditor, s.log, "schedule_next_run_error", fmt.Sprintf("Schedule '%s' has no next run: %s", sch.Name, err), SeverityWarning, map[string]any{
			"schedule_id": sch.ID,
		})
		return nil
	}
	return &next
}

// persistLocked writes the collection through. Failures leave memory
// authoritative until the next successful write.
func (s *ScheduleStore) persistLocked(ctx context.Context) {
	if err := s.repo.SaveSchedules(ctx, s.schedules); err != nil {
		s.log.WithError(err).Warn("failed to persist schedules")
		record(ctx, s.auditor, s.log, "schedule_persist_error", err.Error(), SeverityWarning, nil)
	}
}

func (s *ScheduleStore) indexLocked(id string) int {
	for i := range s.schedules {
		if s.schedules[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *ScheduleStore) hasName(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sch := range s.schedules {
		if sch.Name == name {
			return true
		}
	}
	return false
}

func isDue(s Schedule, now time.Time) bool {
	return s.Enabled && s.NextRun != nil && !s.NextRun.After(now)
}

func validateInput(in ScheduleInput) error {
	switch in.Action {
	case ActionStart, ActionStop, ActionRestart:
	case "":
		return invalid("action", "is required")
	default:
		return invalid("action", "unknown action %q", in.Action)
	}

	if strings.TrimSpace(in.Timezone) == "" {
		return invalid("timezone", "is required")
	}

	switch in.Type {
	case ScheduleOnce:
		if strings.TrimSpace(in.Datetime) == "" {
			return invalid("datetime", "is required for once schedules")
		}
	case ScheduleDaily:
		if strings.TrimSpace(in.Time) == "" {
			return invalid("time", "is required for daily schedules")
		}
	case ScheduleWeekly:
		if strings.TrimSpace(in.Time) == "" {
			return invalid("time", "is required for weekly schedules")
		}
		if len(nonEmpty(in.Days)) == 0 {
			return invalid("days", "at least one day is required for weekly schedules")
		}
	case "":
		return invalid("schedule_type", "is required")
	default:
		return invalid("schedule_type", "unknown schedule type %q", in.Type)
	}

	if err := validateCommands("post_start_commands", in.PostStartCommands); err != nil {
		return err
	}
	return validateCommands("pre_stop_commands", in.PreStopCommands)
}

func validateCommands(field string, cmds []string) error {
	for _, c := range cmds {
		if _, err := shlex.Split(c); err != nil {
			return invalid(field, "cannot parse %q: %s", c, err)
		}
	}
	return nil
}

func nonEmpty(in []string) StringList {
	var out StringList
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func cloneSchedule(s Schedule) Schedule {
	out := s
	out.Days = append(StringList(nil), s.Days...)
	out.PostStartCommands = append(StringList(nil), s.PostStartCommands...)
	out.PreStopCommands = append(StringList(nil), s.PreStopCommands...)
	out.LastRun = utcPtr(s.LastRun)
	out.NextRun = utcPtr(s.NextRun)
	return out
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

// ImportSchedules adds every schedule from a JSON seed file whose name is not
// already present. An empty file is not an error.
func ImportSchedules(ctx context.Context, fs afero.Fs, path string, store *ScheduleStore, log *logrus.Logger) (int, error) {
	inputs, err := readSchedulesFromFile(fs, path)
	if err != nil {
		return 0, err
	}

	added := 0
	for _, in := range inputs {
		if store.hasName(strings.TrimSpace(in.Name)) {
			log.Debugf("schedule %s already present, skipping", in.Name)
			continue
		}
		sch, err := store.Add(ctx, in)
		if err != nil {
			return added, fmt.Errorf("failed to import schedule %s: %w", in.Name, err)
		}
		log.Infof("imported schedule %s (%s)", sch.Name, sch.ID)
		added++
	}

	return added, nil
}

func readSchedulesFromFile(fs afero.Fs, path string) ([]ScheduleInput, error) {
	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open schedules file: %w", err)
	}

	// An empty file is expected on initial launch.
	if len(strings.TrimSpace(string(b))) == 0 {
		return []ScheduleInput{}, nil
	}

	var inputs []ScheduleInput
	if err := json.Unmarshal(b, &inputs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schedules: %w", err)
	}

	return inputs, nil
}
