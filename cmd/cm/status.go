package main

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/fly-apps/machine-scheduler/api"
	"github.com/fly-apps/machine-scheduler/internal/cron"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show machine and scheduler status",
	Long:  `Show machine and scheduler status`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var res api.StatusResponse
		if err := newAPIClient(addr).do(cmd.Context(), http.MethodGet, "/status", nil, &res); err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}

		last := "never"
		if res.LastTick != nil {
			last = res.LastTick.Format(timeFormat)
		}

		table := newDetailTable()
		table.AppendBulk([][]string{
			{"Machine", string(res.Status)},
			{"Last Tick", last},
			{"Schedules", strconv.Itoa(res.Schedules)},
			{"Auto-restart", strconv.FormatBool(res.AutoRestart)},
		})
		table.Render()
		return nil
	},
}

var eventsLimit int

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List recent audit events",
	Long:  `List recent audit events, newest first`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var events []cron.Event
		path := fmt.Sprintf("/events?limit=%d", eventsLimit)
		if err := newAPIClient(addr).do(cmd.Context(), http.MethodGet, path, nil, &events); err != nil {
			return fmt.Errorf("failed to list events: %w", err)
		}

		table := newTable([]string{"ID", "Timestamp", "Severity", "Type", "Note"})
		for _, e := range events {
			table.Append([]string{
				strconv.Itoa(e.ID),
				e.Timestamp.Format(timeFormat),
				string(e.Severity),
				e.Type,
				e.Note,
			})
		}
		table.Render()
		return nil
	},
}

func init() {
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 50, "number of events")
}

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List the machine profiles accepted by --profile",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var profiles []string
		if err := newAPIClient(addr).do(cmd.Context(), http.MethodGet, "/profiles", nil, &profiles); err != nil {
			return fmt.Errorf("failed to list profiles: %w", err)
		}
		for _, p := range profiles {
			fmt.Println(p)
		}
		return nil
	},
}
