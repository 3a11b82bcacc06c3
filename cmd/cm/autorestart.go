package main

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fly-apps/machine-scheduler/internal/cron"
	"github.com/spf13/cobra"
)

var showAutoRestartCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the auto-restart configuration",
	Long:  `Show the auto-restart configuration`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg cron.AutoRestartConfig
		if err := newAPIClient(addr).do(cmd.Context(), http.MethodGet, "/auto-restart/config", nil, &cfg); err != nil {
			return fmt.Errorf("failed to get auto-restart config: %w", err)
		}
		printAutoRestart(cfg)
		return nil
	},
}

func printAutoRestart(cfg cron.AutoRestartConfig) {
	last := ""
	if cfg.LastRestart != nil {
		last = cfg.LastRestart.Format(timeFormat)
	}

	table := newDetailTable()
	rows := [][]string{
		{"Enabled", strconv.FormatBool(cfg.Enabled)},
		{"Method", string(cfg.Method)},
		{"Interval (minutes)", strconv.Itoa(cfg.IntervalMinutes)},
		{"Uptime Threshold", cfg.UptimeThreshold},
		{"Machine Profile", cfg.MachineProfile},
		{"Post-restart Commands", strings.Join(cfg.PostRestartCommands, "; ")},
		{"Last Restart", last},
	}
	fmt.Println("Auto-restart")
	table.AppendBulk(rows)
	table.Render()
}

var setAutoRestartCmd = &cobra.Command{
	Use:   "set",
	Short: "Update the auto-restart configuration",
	Long:  `Update the auto-restart configuration. Only the flags given are changed.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		var u cron.AutoRestartUpdate

		if f.Changed("enabled") {
			v, _ := f.GetBool("enabled")
			u.Enabled = &v
		}
		if f.Changed("method") {
			v, _ := f.GetString("method")
			m := cron.RestartMethod(v)
			u.Method = &m
		}
		if f.Changed("interval") {
			v, _ := f.GetInt("interval")
			u.IntervalMinutes = &v
		}
		if f.Changed("uptime-threshold") {
			v, _ := f.GetString("uptime-threshold")
			u.UptimeThreshold = &v
		}
		if f.Changed("profile") {
			v, _ := f.GetString("profile")
			u.MachineProfile = &v
		}
		if f.Changed("post-restart") {
			v, _ := f.GetStringArray("post-restart")
			u.PostRestartCommands = v
		}

		var cfg cron.AutoRestartConfig
		if err := newAPIClient(addr).do(cmd.Context(), http.MethodPost, "/auto-restart/config", u, &cfg); err != nil {
			return fmt.Errorf("failed to update auto-restart config: %w", err)
		}
		printAutoRestart(cfg)
		return nil
	},
}

func init() {
	f := setAutoRestartCmd.Flags()
	f.Bool("enabled", false, "enable auto-restart")
	f.String("method", "", "interval or uptime")
	f.Int("interval", 0, "restart interval in minutes")
	f.String("uptime-threshold", "", `uptime threshold, e.g. "3 hours 30 minutes"`)
	f.String("profile", "", "machine profile used when starting")
	f.StringArray("post-restart", nil, "command to run after a restart (repeatable)")
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent auto-restarts",
	Long:  `List recent auto-restarts, newest first`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var entries []cron.AutoRestartHistoryEntry
		path := fmt.Sprintf("/auto-restart/history?limit=%d", historyLimit)
		if err := newAPIClient(addr).do(cmd.Context(), http.MethodGet, path, nil, &entries); err != nil {
			return fmt.Errorf("failed to list auto-restart history: %w", err)
		}

		table := newTable([]string{"Timestamp", "Trigger", "Success", "Total", "Commands", "Command Time", "Message"})
		for _, e := range entries {
			table.Append([]string{
				e.Timestamp.Format(timeFormat),
				string(e.TriggerType),
				strconv.FormatBool(e.Success),
				e.TotalDuration.Round(time.Second).String(),
				strconv.Itoa(e.CommandsExecuted),
				e.CommandDuration.Round(time.Second).String(),
				e.Message,
			})
		}
		table.Render()
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of entries")
}
