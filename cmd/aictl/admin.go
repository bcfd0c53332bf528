package main

import (
	"fmt"
	"strconv"

	"aidispatch/internal/catalog"
	"aidispatch/internal/core"
	"aidispatch/internal/util"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func (c *cli) modelsCmd() *cobra.Command {
	var (
		best  int
		order string
		caps  []string
	)

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List providers and models, or the best ranked ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			want := toCapabilities(caps)
			if best > 0 {
				o, err := catalog.ParseOrder(order)
				if err != nil {
					return err
				}
				writeRanked(cmd.OutOrStdout(), o, c.app.Dispatcher.RankedModels(o, best, want...))
				return nil
			}
			writeCatalog(cmd.OutOrStdout(), c.app, want)
			return nil
		},
	}
	cmd.Flags().IntVar(&best, "best", 0, "Show the N best models that have keys")
	cmd.Flags().StringVar(&order, "order", "quality", "Ranking for --best: quality, balanced or fast")
	cmd.Flags().StringSliceVar(&caps, "caps", nil, "Required capabilities")
	return cmd
}

func (c *cli) keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage provider API keys",
	}

	list := &cobra.Command{
		Use:   "list [PROVIDER]",
		Short: "List stored keys (redacted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := c.app.Credentials.ListAll()
			if len(args) == 1 {
				if err := c.requireProvider(args[0]); err != nil {
					return err
				}
				keys = c.app.Credentials.List(args[0])
			}
			writeKeys(cmd.OutOrStdout(), keys)
			return nil
		},
	}

	var label string
	add := &cobra.Command{
		Use:   "add PROVIDER KEY",
		Short: "Add an API key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, key := args[0], args[1]
			if err := c.requireProvider(provider); err != nil {
				return err
			}
			if len(key) < core.MinCredentialLength {
				return fmt.Errorf("key must be at least %d characters", core.MinCredentialLength)
			}
			added, err := c.app.Credentials.Add(provider, key, label)
			if err != nil {
				return err
			}
			if !added {
				fmt.Fprintln(cmd.OutOrStdout(), color.YellowString("Key %s is already stored for %s", util.PreviewSecret(key), provider))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("Added key %s for %s (%d total)", util.PreviewSecret(key), provider, c.app.Credentials.Len(provider)))
			return nil
		},
	}
	add.Flags().StringVar(&label, "label", "", "Display name for the key")

	rotate := &cobra.Command{
		Use:   "rotate PROVIDER",
		Short: "Make the next key active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := args[0]
			if err := c.requireProvider(provider); err != nil {
				return err
			}
			if !c.app.Credentials.Rotate(provider) {
				return fmt.Errorf("%s has fewer than two keys", provider)
			}
			c.app.Limiter.Reset(provider)
			active, _ := c.app.Credentials.Active(provider)
			fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("%s now uses %s", provider, util.PreviewSecret(active)))
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove PROVIDER INDEX",
		Short: "Delete the key at INDEX (see keys list)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := args[0]
			if err := c.requireProvider(provider); err != nil {
				return err
			}
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid index %q", args[1])
			}
			if err := c.app.Credentials.Remove(provider, index); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("Removed key %d for %s (%d left)", index, provider, c.app.Credentials.Len(provider)))
			return nil
		},
	}

	cmd.AddCommand(list, add, rotate, remove)
	return cmd
}

func (c *cli) requireProvider(name string) error {
	if c.app.Catalog.Priority(name) < 0 {
		return fmt.Errorf("%w: %s", core.ErrUnknownProvider, name)
	}
	return nil
}

func (c *cli) cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the response cache",
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show cache counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			writeCacheStats(cmd.OutOrStdout(), c.app.Cache.Stats())
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every cached response",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n := c.app.Cache.Len()
			c.app.Cache.Clear()
			fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("Cleared %d cached responses", n))
			return nil
		},
	}

	cmd.AddCommand(stats, clearCmd)
	return cmd
}

func (c *cli) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show usage statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			writeUsage(cmd.OutOrStdout(), c.app.Usage.Snapshot(), c.app.Usage.PeriodStats())
			return nil
		},
	}
}
