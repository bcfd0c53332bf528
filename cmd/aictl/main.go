// Command aictl asks the dispatcher from the terminal and manages its
// keys, cache and statistics.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"aidispatch/internal/app"
	"aidispatch/internal/config"
	logpkg "aidispatch/internal/log"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// appFactory builds the App a command runs against.
type appFactory func(ctx context.Context) (*app.App, error)

type cli struct {
	newApp  appFactory
	app     *app.App
	noColor bool
}

func main() {
	_ = godotenv.Load()

	logger := logpkg.NewAppLoggerWithConfig(os.Stderr, logpkg.IsDebug())
	factory := func(ctx context.Context) (*app.App, error) {
		cfg, cat, err := config.Load(logger)
		if err != nil {
			return nil, err
		}
		return app.New(ctx, cfg, cat, logger, app.Options{})
	}

	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr, factory); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		os.Exit(1)
	}
}

// run executes one command and always closes the App, which saves state.
func run(ctx context.Context, args []string, out, errOut io.Writer, factory appFactory) error {
	c := &cli{newApp: factory}
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)

	err := root.ExecuteContext(ctx)
	if c.app != nil {
		if closeErr := c.app.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("save state: %w", closeErr))
		}
	}
	return err
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "aictl",
		Short: "Multi-provider AI dispatcher",
		Long: `aictl sends prompts through the provider cascade and manages the
dispatcher state shared with the HTTP server.

Examples:
  aictl ask "explain goroutines"
  aictl ask --provider gemini --json "list three colors as a JSON array"
  aictl models --best 5 --caps code
  aictl keys add groq gsk_xxxxxxxxxxxx
  aictl ask -c "my name is Ada" && aictl ask -c "what is my name?"
  aictl conversation summarize --force
  aictl cache clear`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if c.noColor {
				color.NoColor = true
			}
			a, err := c.newApp(cmd.Context())
			if err != nil {
				return err
			}
			c.app = a
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&c.noColor, "no-color", false, "Disable colored output")

	root.AddCommand(
		c.askCmd(),
		c.modelsCmd(),
		c.keysCmd(),
		c.cacheCmd(),
		c.conversationCmd(),
		c.limitsCmd(),
		c.statsCmd(),
	)
	return root
}
