package main

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/semblance-app/syncd/internal/config"
	"github.com/semblance-app/syncd/internal/store"
	"github.com/spf13/cobra"
)

var devicesJSONOutput bool

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List paired devices",
	Long:  "Lists devices this machine has paired with, from the local database.",
	Args:  cobra.NoArgs,
	RunE:  runDevices,
}

func init() {
	devicesCmd.Flags().BoolVar(&devicesJSONOutput, "json", false, "Output in JSON format")
}

func runDevices(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	devices, err := db.ListPairedDevices(ctx)
	if err != nil {
		return fmt.Errorf("list paired devices: %w", err)
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].DeviceName < devices[j].DeviceName
	})

	if devicesJSONOutput {
		items := make([]map[string]any, len(devices))
		for i, d := range devices {
			items[i] = map[string]any{
				"deviceId":   d.DeviceID,
				"deviceName": d.DeviceName,
				"deviceType": d.DeviceType,
				"platform":   d.Platform,
				"pairedAt":   d.PairedAt,
				"lastSeen":   d.LastSeen,
			}
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"devices": items,
			"total":   len(items),
		})
	}

	if len(devices) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No paired devices.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tPLATFORM\tPAIRED\tLAST SEEN")
	for _, d := range devices {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			d.DeviceName,
			d.DeviceType,
			d.Platform,
			d.PairedAt.Format("2006-01-02 15:04"),
			d.LastSeen.Format("2006-01-02 15:04"),
		)
	}
	w.Flush()

	return nil
}
