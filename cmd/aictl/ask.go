package main

import (
	"errors"
	"fmt"
	"strings"

	"aidispatch/internal/core"

	"github.com/spf13/cobra"
)

func (c *cli) askCmd() *cobra.Command {
	var (
		opts        core.Options
		temperature float64
		noFallback  bool
		smart       bool
		caps        []string
	)

	cmd := &cobra.Command{
		Use:   "ask PROMPT",
		Short: "Send a prompt through the provider cascade",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			if cmd.Flags().Changed("temperature") {
				opts.Temperature = &temperature
			}
			if noFallback {
				enabled := false
				opts.AutoFallback = &enabled
			}

			var (
				res *core.Result
				err error
			)
			if smart {
				res, err = c.app.Dispatcher.AskSmart(cmd.Context(), prompt, opts, toCapabilities(caps)...)
			} else {
				res, err = c.app.Dispatcher.Ask(cmd.Context(), prompt, opts)
			}
			if err != nil {
				var exhausted *core.ExhaustedError
				if errors.As(err, &exhausted) {
					writeTrace(cmd.ErrOrStderr(), exhausted.Attempts)
				}
				return err
			}
			return writeResult(cmd.OutOrStdout(), res, opts.ParseJSON)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.Provider, "provider", "p", "", "Start at this provider")
	f.StringVarP(&opts.Model, "model", "m", "", "Start at this model")
	f.StringVarP(&opts.System, "system", "s", "", "System prompt")
	f.Float64VarP(&temperature, "temperature", "t", core.DefaultTemperature, "Sampling temperature")
	f.IntVar(&opts.MaxTokens, "max-tokens", 0, fmt.Sprintf("Completion size (default %d)", core.DefaultMaxTokens))
	f.BoolVar(&opts.ParseJSON, "json", false, "Parse the answer as JSON")
	f.BoolVar(&noFallback, "no-fallback", false, "Stay on the starting provider and model")
	f.BoolVar(&opts.SkipRateLimit, "skip-rate-limit", false, "Bypass the local rate limiter")
	f.BoolVar(&opts.NoCache, "no-cache", false, "Bypass the response cache")
	f.BoolVarP(&opts.UseConversation, "conversation", "c", false, "Send the shared conversation as history and log this exchange")
	f.BoolVar(&smart, "smart", false, "Walk the quality ranking instead of the fallback order")
	f.StringSliceVar(&caps, "caps", nil, "Required capabilities for --smart (text,code,vision,reasoning,image-gen)")
	return cmd
}

func toCapabilities(raw []string) []core.Capability {
	caps := make([]core.Capability, 0, len(raw))
	for _, r := range raw {
		if r = strings.TrimSpace(r); r != "" {
			caps = append(caps, core.Capability(r))
		}
	}
	return caps
}
