package cron

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const defaultAPIPort = 5500

type Config struct {
	APIToken  string
	AppName   string
	MachineID string

	StorePath     string
	SchedulesFile string
	APIPort       int

	TickInterval    time.Duration
	MonitorInterval time.Duration
	Executor        ExecutorOptions
}

// LoadConfig reads the environment, after loading a .env file when one is
// present in the working directory.
func LoadConfig(log *logrus.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		APIToken:        getEnvOrDefault("FLY_API_TOKEN", ""),
		AppName:         getEnvOrDefault("FLY_APP_NAME", ""),
		MachineID:       getEnvOrDefault("FLY_MACHINE_ID", ""),
		StorePath:       getEnvOrDefault("STORE_PATH", DefaultStorePath),
		SchedulesFile:   getEnvOrDefault("SCHEDULES_FILE", ""),
		APIPort:         envInt(log, "API_PORT", defaultAPIPort),
		TickInterval:    envDuration(log, "TICK_INTERVAL", DefaultTickInterval),
		MonitorInterval: envDuration(log, "MONITOR_INTERVAL", DefaultMonitorInterval),
		Executor: ExecutorOptions{
			SettleDelay:    envDuration(log, "RESTART_SETTLE_DELAY", defaultSettleDelay),
			PostStartDelay: envDuration(log, "POST_START_DELAY", defaultPostStartDelay),
			PreStopDelay:   envDuration(log, "PRE_STOP_DELAY", defaultPreStopDelay),
			CommandTimeout: envDuration(log, "COMMAND_TIMEOUT", defaultCommandTimeout),
		},
	}

	if cfg.APIToken == "" {
		return nil, fmt.Errorf("FLY_API_TOKEN is required")
	}
	if cfg.AppName == "" {
		return nil, fmt.Errorf("FLY_APP_NAME is required")
	}
	if cfg.MachineID == "" {
		return nil, fmt.Errorf("FLY_MACHINE_ID is required")
	}

	return cfg, nil
}

func envDuration(log *logrus.Logger, key string, def time.Duration) time.Duration {
	raw := getEnvOrDefault(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		log.Warnf("invalid %s %q, using %s", key, raw, def)
		return def
	}
	return d
}

func envInt(log *logrus.Logger, key string, def int) int {
	raw := getEnvOrDefault(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		log.Warnf("invalid %s %q, using %d", key, raw, def)
		return def
	}
	return n
}
