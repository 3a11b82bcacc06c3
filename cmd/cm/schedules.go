package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/fly-apps/machine-scheduler/api"
	"github.com/fly-apps/machine-scheduler/internal/cron"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all schedules",
	Long:  `List all schedules`,
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		var schedules []cron.ScheduleView
		if err := newAPIClient(addr).do(cmd.Context(), http.MethodGet, "/schedules", nil, &schedules); err != nil {
			return fmt.Errorf("failed to list schedules: %w", err)
		}

		table := newTable([]string{"ID", "Name", "Action", "Type", "When", "Timezone", "Enabled", "Next Run", "Countdown"})
		for _, s := range schedules {
			next := "-"
			if s.NextRun != nil {
				next = s.NextRun.Format(timeFormat)
			}
			table.Append([]string{
				s.ID,
				s.Name,
				string(s.Action),
				string(s.Type),
				describeWhen(s.Schedule),
				s.Timezone,
				fmt.Sprint(s.Enabled),
				next,
				s.CountdownText,
			})
		}
		table.Render()

		return nil
	},
}

func describeWhen(s cron.Schedule) string {
	switch s.Type {
	case cron.ScheduleOnce:
		return s.Datetime
	case cron.ScheduleWeekly:
		return fmt.Sprintf("%s %s", strings.Join(s.Days, ","), s.Time)
	default:
		return s.Time
	}
}

var addInput cron.ScheduleInput

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a schedule",
	Long:  `Add a schedule. Daily and weekly schedules need --time, weekly ones also --days, once schedules --datetime.`,
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		var res api.AddScheduleResponse
		if err := newAPIClient(addr).do(cmd.Context(), http.MethodPost, "/schedules", addInput, &res); err != nil {
			return fmt.Errorf("failed to add schedule: %w", err)
		}

		if res.Dormant {
			fmt.Printf("Schedule %s added, but no next run could be computed\n", res.Schedule.ID)
			return nil
		}
		fmt.Printf("Schedule %s added, next run at %s\n", res.Schedule.ID, res.Schedule.NextRun.Format(timeFormat))
		return nil
	},
}

func init() {
	f := addCmd.Flags()
	f.StringVar(&addInput.Name, "name", "", "schedule name")
	f.StringVar((*string)(&addInput.Action), "action", "", "start, stop or restart")
	f.StringVar((*string)(&addInput.Type), "type", "", "once, daily or weekly")
	f.StringVar(&addInput.Time, "time", "", "time of day, HH:MM")
	f.StringSliceVar(&addInput.Days, "days", nil, "weekdays for weekly schedules, e.g. mon,wed,fri")
	f.StringVar(&addInput.Datetime, "datetime", "", "local datetime for once schedules, e.g. 2024-06-01T09:00")
	f.StringVar(&addInput.Timezone, "timezone", "", "IANA timezone, e.g. Europe/Berlin")
	f.StringVar(&addInput.MachineProfile, "profile", "", "machine profile used when starting")
	f.StringArrayVar(&addInput.PostStartCommands, "post-start", nil, "command to run after start (repeatable)")
	f.StringArrayVar(&addInput.PreStopCommands, "pre-stop", nil, "command to run before stop (repeatable)")
	_ = addCmd.MarkFlagRequired("action")
	_ = addCmd.MarkFlagRequired("type")
	_ = addCmd.MarkFlagRequired("timezone")
}

var deleteCmd = &cobra.Command{
	Use:   "delete <schedule id>",
	Short: "Delete a schedule",
	Long:  `Delete a schedule`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newAPIClient(addr).do(cmd.Context(), http.MethodDelete, "/schedules/"+args[0], nil, nil); err != nil {
			return fmt.Errorf("failed to delete schedule: %w", err)
		}
		fmt.Println("Schedule deleted")
		return nil
	},
}

var toggleCmd = &cobra.Command{
	Use:   "toggle <schedule id>",
	Short: "Enable or disable a schedule",
	Long:  `Enable or disable a schedule`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var res api.ToggleResponse
		if err := newAPIClient(addr).do(cmd.Context(), http.MethodPost, "/schedules/"+args[0]+"/toggle", nil, &res); err != nil {
			return fmt.Errorf("failed to toggle schedule: %w", err)
		}
		state := "disabled"
		if res.Enabled {
			state = "enabled"
		}
		fmt.Printf("Schedule %s %s\n", res.ID, state)
		return nil
	},
}

var triggerCmd = &cobra.Command{
	Use:   "trigger <schedule id>",
	Short: "Runs the action of the specified schedule now",
	Long:  `Runs the action of the specified schedule now. The schedule's next run is advanced as if it had fired.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out cron.Outcome
		if err := newAPIClient(addr).do(cmd.Context(), http.MethodPost, "/schedules/"+args[0]+"/trigger", nil, &out); err != nil {
			return fmt.Errorf("failed to trigger schedule: %w", err)
		}
		if !out.Success {
			return fmt.Errorf("action failed: %s", out.Message)
		}
		fmt.Println(out.Message)
		return nil
	},
}
