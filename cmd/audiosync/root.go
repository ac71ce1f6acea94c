package main

import (
	"log/slog"
	"sync"

	"github.com/spf13/cobra"

	"github.com/maauso/audiosync/internal/config"
)

// commandContext loads configuration once for all subcommands.
type commandContext struct {
	logLevel string

	once   sync.Once
	config *config.Config
	logger *slog.Logger
	err    error
}

func (c *commandContext) ensureConfig() (*config.Config, *slog.Logger, error) {
	c.once.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			c.err = err
			return
		}
		if c.logLevel != "" {
			cfg.LogLevel = c.logLevel
		}
		c.config = cfg
		c.logger = cfg.NewLogger()
		slog.SetDefault(c.logger)
	})
	return c.config, c.logger, c.err
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "audiosync",
		Short:         "Audio probing, segmentation and DASH encoding",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&ctx.logLevel, "log-level", "", "Override LOG_LEVEL (debug, info, warn, error)")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newAnalyzeCommand(ctx))

	return rootCmd
}
