package main

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

const timeFormat = "2006-01-02 15:04:05 UTC"

var addr string

func main() {
	var rootCmd = &cobra.Command{Use: "cm"}
	rootCmd.PersistentFlags().StringVar(&addr, "addr", envOr("SCHEDULER_ADDR", "http://localhost:5500"), "scheduler api address")

	var schedulesCmd = &cobra.Command{Use: "schedules"}
	var autoRestartCmd = &cobra.Command{Use: "auto-restart"}
	rootCmd.AddCommand(schedulesCmd)
	rootCmd.AddCommand(autoRestartCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(profilesCmd)

	schedulesCmd.AddCommand(listCmd)
	schedulesCmd.AddCommand(addCmd)
	schedulesCmd.AddCommand(deleteCmd)
	schedulesCmd.AddCommand(toggleCmd)
	schedulesCmd.AddCommand(triggerCmd)

	autoRestartCmd.AddCommand(showAutoRestartCmd)
	autoRestartCmd.AddCommand(setAutoRestartCmd)
	autoRestartCmd.AddCommand(historyCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newTable(header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(true)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(true)
	table.SetAutoWrapText(false)
	return table
}

// newDetailTable renders key/value rows.
func newDetailTable() *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetColumnSeparator("=")
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	return table
}
