package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newDevicesCmd(g *globalFlags) *cobra.Command {
	var recorder string

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List cameras available to the recorder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := g.load()
			if err != nil {
				return err
			}
			if recorder == "" {
				recorder = recorderType(cfg)
			}
			devs, err := listDevices(recorder)
			if err != nil {
				return fmt.Errorf("listing devices: %v", err)
			}
			for _, dev := range devs {
				caps := ""
				if len(dev.Caps) > 0 {
					l := []string{}
					for _, c := range dev.Caps {
						l = append(l, fmt.Sprintf("%dx%d@%dfps", c.Width, c.Height, c.Framerate))
					}
					caps = fmt.Sprintf(" (caps: %s)", strings.Join(l, " "))
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s%s\n", dev.ID, dev.Name, caps)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&recorder, "recorder", "", "ffmpeg, gstreamer or imagesnap (default from config)")
	return cmd
}
