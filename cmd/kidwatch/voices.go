package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kidwatch/kidwatch-go/speech/speechcmd"
)

func newVoicesCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List voices of the speech program, marking the preferred one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := g.load()
			if err != nil {
				return err
			}
			program := cfg.Speech.Program
			if program == "" {
				program = speechcmd.DefaultProgram()
			}
			voices, err := speechcmd.ListVoices(program)
			if err != nil {
				return err
			}
			picked, ok := speechcmd.PickVoice(voices, speechcmd.DefaultVoiceHints)
			if cfg.Speech.Voice != "" {
				picked, ok = speechcmd.Voice{ID: cfg.Speech.Voice}, true
			}
			for _, v := range voices {
				mark := " "
				if ok && v.ID == picked.ID {
					mark = "*"
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\t%s\t%s\t%s\n", mark, v.ID, v.Name, v.Language, v.Gender)
			}
			return nil
		},
	}
}

func newSayCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "say <text>",
		Short: "Speak text with the configured voice",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.load()
			if err != nil {
				return err
			}
			synth, err := newSynthesizer(cfg, log)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Speech.Timeout)
			defer cancel()
			return synth.Speak(ctx, strings.Join(args, " "))
		},
	}
}
