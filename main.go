package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chat-client/internal/config"
)

type cli struct {
	cfg    *config.Config
	logger *zap.Logger
}

func main() {
	c := &cli{}
	root := &cobra.Command{
		Use:           "chat-client",
		Short:         "Private chat client with real-time delivery and HTTP fallback",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := config.NewLogger(cfg.Log)
			if err != nil {
				return err
			}
			c.cfg, c.logger = cfg, logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}
	root.AddCommand(c.serveCmd(), c.loginCmd(), c.openCmd(), c.showCmd(), c.logoutCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
