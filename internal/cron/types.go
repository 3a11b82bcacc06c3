package cron

import (
	"time"
)

type Action string

const (
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
)

type ScheduleType string

const (
	ScheduleOnce   ScheduleType = "once"
	ScheduleDaily  ScheduleType = "daily"
	ScheduleWeekly ScheduleType = "weekly"
)

// Schedule is a persisted rule describing when to run a lifecycle action
// against the managed machine. NextRun is always UTC.
type Schedule struct {
	ID                string       `json:"id" db:"id"`
	Name              string       `json:"name" db:"name"`
	Action            Action       `json:"action" db:"action"`
	Type              ScheduleType `json:"schedule_type" db:"schedule_type"`
	Time              string       `json:"time,omitempty" db:"time_of_day"`
	Days              StringList   `json:"days,omitempty" db:"days"`
	Datetime          string       `json:"datetime,omitempty" db:"datetime"`
	Timezone          string       `json:"timezone" db:"timezone"`
	MachineProfile    string       `json:"machine_profile,omitempty" db:"machine_profile"`
	PostStartCommands StringList   `json:"post_start_commands,omitempty" db:"post_start_commands"`
	PreStopCommands   StringList   `json:"pre_stop_commands,omitempty" db:"pre_stop_commands"`
	Enabled           bool         `json:"enabled" db:"enabled"`
	CreatedAt         time.Time    `json:"created_at" db:"created_at"`
	LastRun           *time.Time   `json:"last_run" db:"last_run"`
	NextRun           *time.Time   `json:"next_run" db:"next_run"`
}

// ScheduleInput carries the user supplied fields of a new schedule.
type ScheduleInput struct {
	Name              string       `json:"name"`
	Action            Action       `json:"action"`
	Type              ScheduleType `json:"schedule_type"`
	Time              string       `json:"time,omitempty"`
	Days              []string     `json:"days,omitempty"`
	Datetime          string       `json:"datetime,omitempty"`
	Timezone          string       `json:"timezone"`
	MachineProfile    string       `json:"machine_profile,omitempty"`
	PostStartCommands []string     `json:"post_start_commands,omitempty"`
	PreStopCommands   []string     `json:"pre_stop_commands,omitempty"`
}

// ScheduleView is a schedule snapshot with a countdown derived at read time.
// The countdown fields are never persisted.
type ScheduleView struct {
	Schedule
	CountdownSeconds *int64 `json:"countdown_seconds"`
	CountdownText    string `json:"countdown_text,omitempty"`
}

type RestartMethod string

const (
	MethodInterval RestartMethod = "interval"
	MethodUptime   RestartMethod = "uptime"
)

const (
	defaultIntervalMinutes = 210
	defaultUptimeThreshold = "3 hours 30 minutes"

	// maxRestartHistory caps the auto-restart history, oldest entries first out.
	maxRestartHistory = 50
)

// AutoRestartConfig is the single auto-restart policy of a deployment.
type AutoRestartConfig struct {
	Enabled             bool          `json:"enabled" db:"enabled"`
	Method              RestartMethod `json:"method" db:"method"`
	IntervalMinutes     int           `json:"interval_minutes" db:"interval_minutes"`
	UptimeThreshold     string        `json:"uptime_threshold" db:"uptime_threshold"`
	MachineProfile      string        `json:"machine_profile,omitempty" db:"machine_profile"`
	PostRestartCommands StringList    `json:"post_restart_commands" db:"post_restart_commands"`
	LastRestart         *time.Time    `json:"last_restart" db:"last_restart"`
}

func DefaultAutoRestartConfig() AutoRestartConfig {
	return AutoRestartConfig{
		Enabled:             false,
		Method:              MethodInterval,
		IntervalMinutes:     defaultIntervalMinutes,
		UptimeThreshold:     defaultUptimeThreshold,
		PostRestartCommands: StringList{},
	}
}

// AutoRestartUpdate merges into the stored config; nil fields are left as is.
type AutoRestartUpdate struct {
	Enabled             *bool          `json:"enabled,omitempty"`
	Method              *RestartMethod `json:"method,omitempty"`
	IntervalMinutes     *int           `json:"interval_minutes,omitempty"`
	UptimeThreshold     *string        `json:"uptime_threshold,omitempty"`
	MachineProfile      *string        `json:"machine_profile,omitempty"`
	PostRestartCommands []string       `json:"post_restart_commands,omitempty"`
}

type AutoRestartHistoryEntry struct {
	Timestamp        time.Time     `json:"timestamp" db:"timestamp"`
	TriggerType      RestartMethod `json:"trigger_type" db:"trigger_type"`
	Success          bool          `json:"success" db:"success"`
	TotalDuration    time.Duration `json:"total_duration" db:"total_duration"`
	CommandDuration  time.Duration `json:"command_duration" db:"command_duration"`
	CommandsExecuted int           `json:"commands_executed" db:"commands_executed"`
	Message          string        `json:"message" db:"message"`
}

// Status is the normalized state of the managed machine.
type Status string

const (
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
	StatusUnknown  Status = "unknown"
)

type CommandResult struct {
	Success    bool   `json:"success"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ReturnCode int    `json:"return_code"`
}

// Outcome is the result of a lifecycle action. Actions never return errors.
type Outcome struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
