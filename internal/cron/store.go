package cron

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/sirupsen/logrus"
)

const (
	DefaultStorePath = "/data/state.db?_busy_timeout=5000&_journal_mode=WAL"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// StringList is stored as a JSON array column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported StringList source %T", src)
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("error unmarshaling string list: %w", err)
	}
	if len(out) == 0 {
		*l = nil
		return nil
	}
	*l = out
	return nil
}

// Store persists the schedule collection, the auto-restart config and
// history, and audit events.
type Store struct {
	*sqlx.DB
}

func NewStore(storePath string) (*Store, error) {
	s, err := sqlx.Open("sqlite3", storePath)
	if err != nil {
		return nil, err
	}

	return &Store{s}, nil
}

func InitializeStore(ctx context.Context, storePath string, log *logrus.Logger) (*Store, error) {
	store, err := NewStore(storePath)
	if err != nil {
		return nil, fmt.Errorf("error creating store: %w", err)
	}

	if err := store.setupDB(ctx, log); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("error setting up database: %w", err)
	}

	return store, nil
}

func (s *Store) LoadSchedules(ctx context.Context) ([]Schedule, error) {
	var schedules []Schedule
	if err := s.SelectContext(ctx, &schedules, `SELECT id, name, action, schedule_type, time_of_day, days, datetime, timezone,
		machine_profile, post_start_commands, pre_stop_commands, enabled, created_at, last_run, next_run
		FROM schedules ORDER BY position`); err != nil {
		return nil, fmt.Errorf("error getting schedules: %w", err)
	}
	for i := range schedules {
		normalizeScheduleTimes(&schedules[i])
	}
	return schedules, nil
}

// SaveSchedules replaces the whole collection in one transaction.
func (s *Store) SaveSchedules(ctx context.Context, schedules []Schedule) error {
	tx, err := s.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM schedules"); err != nil {
		return fmt.Errorf("error clearing schedules: %w", err)
	}

	for i, sch := range schedules {
		_, err := tx.ExecContext(ctx, `INSERT INTO schedules
			(id, position, name, action, schedule_type, time_of_day, days, datetime, timezone, machine_profile,
			 post_start_commands, pre_stop_commands, enabled, created_at, last_run, next_run)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sch.ID,
			i,
			sch.Name,
			sch.Action,
			sch.Type,
			sch.Time,
			sch.Days,
			sch.Datetime,
			sch.Timezone,
			sch.MachineProfile,
			sch.PostStartCommands,
			sch.PreStopCommands,
			sch.Enabled,
			sch.CreatedAt.UTC(),
			utcPtr(sch.LastRun),
			utcPtr(sch.NextRun),
		)
		if err != nil {
			return fmt.Errorf("error inserting schedule %s: %w", sch.ID, err)
		}
	}

	return tx.Commit()
}

// LoadAutoRestartConfig returns nil when no config has been saved yet.
func (s *Store) LoadAutoRestartConfig(ctx context.Context) (*AutoRestartConfig, error) {
	var cfg AutoRestartConfig
	err := s.GetContext(ctx, &cfg, `SELECT enabled, method, interval_minutes, uptime_threshold, machine_profile,
		post_restart_commands, last_restart FROM auto_restart_config WHERE id = 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("error getting auto-restart config: %w", err)
	}
	if cfg.PostRestartCommands == nil {
		cfg.PostRestartCommands = StringList{}
	}
	cfg.LastRestart = utcPtr(cfg.LastRestart)
	return &cfg, nil
}

func (s *Store) SaveAutoRestartConfig(ctx context.Context, cfg AutoRestartConfig) error {
	_, err := s.ExecContext(ctx, `INSERT INTO auto_restart_config
		(id, enabled, method, interval_minutes, uptime_threshold, machine_profile, post_restart_commands, last_restart)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			enabled = excluded.enabled,
			method = excluded.method,
			interval_minutes = excluded.interval_minutes,
			uptime_threshold = excluded.uptime_threshold,
			machine_profile = excluded.machine_profile,
			post_restart_commands = excluded.post_restart_commands,
			last_restart = excluded.last_restart`,
		cfg.Enabled,
		cfg.Method,
		cfg.IntervalMinutes,
		cfg.UptimeThreshold,
		cfg.MachineProfile,
		cfg.PostRestartCommands,
		utcPtr(cfg.LastRestart),
	)
	if err != nil {
		return fmt.Errorf("error saving auto-restart config: %w", err)
	}
	return nil
}

// LoadAutoRestartHistory returns entries oldest first.
func (s *Store) LoadAutoRestartHistory(ctx context.Context) ([]AutoRestartHistoryEntry, error) {
	var entries []AutoRestartHistoryEntry
	err := s.SelectContext(ctx, &entries, `SELECT timestamp, trigger_type, success, total_duration, command_duration,
		commands_executed, message FROM auto_restart_history ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("error getting auto-restart history: %w", err)
	}
	for i := range entries {
		entries[i].Timestamp = entries[i].Timestamp.UTC()
	}
	return entries, nil
}

// SaveAutoRestartHistory replaces the stored history with entries.
func (s *Store) SaveAutoRestartHistory(ctx context.Context, entries []AutoRestartHistoryEntry) error {
	tx, err := s.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM auto_restart_history"); err != nil {
		return fmt.Errorf("error clearing auto-restart history: %w", err)
	}
	for _, e := range entries {
		_, err := tx.ExecContext(ctx, `INSERT INTO auto_restart_history
			(timestamp, trigger_type, success, total_duration, command_duration, commands_executed, message)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.Timestamp.UTC(),
			e.TriggerType,
			e.Success,
			int64(e.TotalDuration),
			int64(e.CommandDuration),
			e.CommandsExecuted,
			e.Message,
		)
		if err != nil {
			return fmt.Errorf("error inserting auto-restart history: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) AppendEvent(ctx context.Context, ev Event) error {
	var meta sql.NullString
	if len(ev.Metadata) > 0 {
		b, err := json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("error marshalling event metadata: %w", err)
		}
		meta = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.ExecContext(ctx, "INSERT INTO events (timestamp, event_type, note, severity, metadata) VALUES (?, ?, ?, ?, ?)",
		ev.Timestamp.UTC(),
		ev.Type,
		ev.Note,
		ev.Severity,
		meta,
	)
	return err
}

type rawEvent struct {
	Event
	RawMetadata sql.NullString `db:"metadata"`
}

// ListEvents returns the newest events first.
func (s *Store) ListEvents(ctx context.Context, limit int) ([]Event, error) {
	var raws []rawEvent
	if err := s.SelectContext(ctx, &raws, "SELECT * FROM events ORDER BY id DESC LIMIT ?", limit); err != nil {
		return nil, fmt.Errorf("error getting events: %w", err)
	}

	events := make([]Event, 0, len(raws))
	for _, raw := range raws {
		ev := raw.Event
		ev.Timestamp = ev.Timestamp.UTC()
		if raw.RawMetadata.Valid {
			if err := json.Unmarshal([]byte(raw.RawMetadata.String), &ev.Metadata); err != nil {
				return nil, fmt.Errorf("error unmarshaling event metadata: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, nil
}

func (s *Store) setupDB(ctx context.Context, log *logrus.Logger) error {
	migrations := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrationsFS,
		Root:       "migrations",
	}

	n, err := migrate.ExecContext(ctx, s.DB.DB, "sqlite3", migrations, migrate.Up)
	if err != nil {
		return fmt.Errorf("error applying migrations: %w", err)
	}

	log.Infof("applied %d migrations", n)

	return nil
}

func normalizeScheduleTimes(s *Schedule) {
	s.CreatedAt = s.CreatedAt.UTC()
	s.LastRun = utcPtr(s.LastRun)
	s.NextRun = utcPtr(s.NextRun)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
