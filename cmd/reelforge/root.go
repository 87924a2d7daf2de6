package main

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/Strob0t/ReelForge/internal/config"
	"github.com/Strob0t/ReelForge/internal/logger"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
	closeLog   logger.Closer
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		var cfg *config.Config
		var err error
		if path == "" {
			cfg, err = config.Load()
		} else {
			cfg, err = config.LoadFrom(path)
		}
		if err != nil {
			c.configErr = err
			return
		}
		log, closer := logger.New(cfg.Logging)
		slog.SetDefault(log)
		c.closeLog = closer
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) close() {
	if c.closeLog != nil {
		c.closeLog.Close()
	}
}

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := &commandContext{configFlag: &configFlag}
	serveCmd := newServeCommand(ctx)

	rootCmd := &cobra.Command{
		Use:           "reelforge",
		Short:         "Content production workflow orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			ctx.close()
		},
		// Without a subcommand the service runs.
		RunE: serveCmd.RunE,
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (default reelforge.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newPipelinesCommand(ctx))
	rootCmd.AddCommand(newWorkflowsCommand(ctx))

	return rootCmd
}
