package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pario-ai/simcache/pkg/mcp"
)

func newMCPCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve suggestions and cache stats as MCP tools over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags.configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			var summary mcp.Summarizer
			if a.tracker != nil {
				summary = a.tracker
			}

			// stdout carries the protocol; logs go to stderr.
			slog.Info("simcache mcp server ready", "collection", cfg.CollectionName)
			return mcp.New(a.engine, summary, slog.Default(), version).Run(ctx, os.Stdin, os.Stdout)
		},
	}
}
