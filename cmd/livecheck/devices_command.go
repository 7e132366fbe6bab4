package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"livecheck/internal/capture"
)

func newDevicesCommand(ctx *commandContext) *cobra.Command {
	var glob string
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List camera device nodes and whether they can be opened",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			devices, err := capture.ListDevices(glob)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(devices) == 0 {
				fmt.Fprintln(out, "No capture devices found")
				return nil
			}
			configured := ""
			if cfg := ctx.configValue(); cfg != nil {
				configured = cfg.Capture.Device
			}
			rows := make([][]string, 0, len(devices))
			for _, device := range devices {
				access := "ok"
				if err := capture.CheckDeviceAccess(device); err != nil {
					access = err.Error()
				}
				marker := ""
				if device == configured {
					marker = "*"
				}
				rows = append(rows, []string{marker, device, access})
			}
			fmt.Fprintln(out, renderTable([]string{"", "Device", "Access"}, rows, []columnAlignment{alignLeft, alignLeft, alignLeft}))
			return nil
		},
	}
	cmd.Flags().StringVar(&glob, "glob", "", "Device path pattern (default /dev/video*)")
	return cmd
}
