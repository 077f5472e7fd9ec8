package main

import (
	"context"
	"fmt"
	"time"

	"github.com/disintegration/imaging"
	"github.com/spf13/cobra"

	kidwatch "github.com/kidwatch/kidwatch-go"
	"github.com/kidwatch/kidwatch-go/frame"
)

func newAnalyzeCmd(g *globalFlags) *cobra.Command {
	var mode string
	var speak bool

	cmd := &cobra.Command{
		Use:   "analyze <image>",
		Short: "Analyze a single image and print the verdict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.load()
			if err != nil {
				return err
			}
			m, err := parseMode(mode, cfg)
			if err != nil {
				return err
			}

			img, err := imaging.Open(args[0], imaging.AutoOrientation(true))
			if err != nil {
				return fmt.Errorf("opening image: %v", err)
			}
			buf, size, err := frame.Encode(img, encodeOpts(cfg))
			if err != nil {
				return err
			}
			f := kidwatch.Frame{Data: buf, MIMEType: frame.MIMEType, Width: size.X, Height: size.Y, CapturedAt: time.Now()}

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Monitor.CycleTimeout)
			defer cancel()
			v, err := newAnalyzer(cfg, log).Analyze(ctx, f, m, cfg.Gemini.APIKey)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), v)

			if speak && v.Outcome == kidwatch.OutcomeBad {
				synth, err := newSynthesizer(cfg, log)
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(context.Background(), cfg.Speech.Timeout)
				defer cancel()
				return synth.Speak(ctx, v.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "behavior to check: homework or eating (default from config)")
	cmd.Flags().BoolVar(&speak, "speak", false, "speak the message of a bad verdict")
	return cmd
}
