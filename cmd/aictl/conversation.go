package main

import (
	"fmt"

	"aidispatch/internal/conversation"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func (c *cli) conversationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversation",
		Aliases: []string{"conv"},
		Short:   "Inspect, summarize or clear the shared conversation",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the logged turns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := c.app.Conversation
			writeConversation(cmd.OutOrStdout(), log.Entries(), log.EstimateTokens())
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Forget every logged turn",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n := c.app.Conversation.Clear()
			fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("Cleared %d conversation turns", n))
			return nil
		},
	}

	var (
		opts  conversation.SummarizeOptions
		force bool
	)
	summarize := &cobra.Command{
		Use:   "summarize",
		Short: "Fold older turns into a summary once the log grows too large",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			summary, err := c.app.SummarizeConversation(cmd.Context(), opts, force)
			if err != nil {
				return err
			}
			writeSummary(cmd.OutOrStdout(), summary)
			return nil
		},
	}
	f := summarize.Flags()
	f.BoolVar(&force, "force", false, "Summarize regardless of size")
	f.IntVar(&opts.KeepLast, "keep", 0, "Recent turns kept verbatim (default 2)")
	f.IntVar(&opts.MaxTokens, "max-tokens", 0, "Only summarize above this many tokens (default from config)")
	f.StringVarP(&opts.Provider, "provider", "p", "", "Start the summary request at this provider")

	cmd.AddCommand(show, clearCmd, summarize)
	return cmd
}

func (c *cli) limitsCmd() *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "limits",
		Short: "Show per-model requests and rate-limit hits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if reset {
				n := c.app.Usage.ResetLimitTracking()
				fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("Reset tracking for %d models", n))
				return nil
			}
			writeLimits(cmd.OutOrStdout(), c.app.Usage.LimitStats())
			return nil
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "Clear per-model tracking")
	return cmd
}
