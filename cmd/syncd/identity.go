package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/semblance-app/syncd/internal/config"
	"github.com/semblance-app/syncd/internal/types"
	"github.com/spf13/cobra"
)

var identityJSONOutput bool

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Show this device's sync identity",
	Long:  "Prints the persistent device identity, creating it if this is the first run.",
	Args:  cobra.NoArgs,
	RunE:  runIdentity,
}

func init() {
	identityCmd.Flags().BoolVar(&identityJSONOutput, "json", false, "Output in JSON format")
}

func runIdentity(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	identity, err := types.LoadOrCreateIdentity(
		cfg.Device.IdentityPath,
		cfg.Device.Name,
		types.DeviceType(cfg.Device.Type),
		cfg.Device.Platform,
		cfg.Sync.Port,
	)
	if err != nil {
		return err
	}

	if identityJSONOutput {
		return printJSON(cmd.OutOrStdout(), identity)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Device ID:        %s\n", identity.DeviceID)
	fmt.Fprintf(out, "Name:             %s\n", identity.DeviceName)
	fmt.Fprintf(out, "Type:             %s\n", identity.DeviceType)
	fmt.Fprintf(out, "Platform:         %s\n", identity.Platform)
	fmt.Fprintf(out, "Protocol version: %d\n", identity.ProtocolVersion)
	fmt.Fprintf(out, "Sync port:        %d\n", identity.SyncPort)
	return nil
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
