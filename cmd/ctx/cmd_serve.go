package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"contextfs/internal/config"
	"contextfs/internal/fsconfig"
	"contextfs/internal/logging"
	"contextfs/internal/rpc"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "host the stdio RPC tool server (search/timeline/get/save_memory/__IMPORTANT)",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := bootEngine()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		cfgPath := filepath.Join(eng.FS.Dir(), "config.yaml")
		watcher, err := fsconfig.New(cfgPath, func(cfg *config.Config) {
			eng.Config = cfg
		})
		if err != nil {
			logging.Get(logging.CategoryConfig).Warn("ctx serve: fsconfig watcher unavailable: %v", err)
		} else {
			if err := watcher.Start(ctx); err != nil {
				logging.Get(logging.CategoryConfig).Warn("ctx serve: fsconfig watcher failed to start: %v", err)
			} else {
				defer watcher.Stop()
			}
		}

		server := rpc.New(eng)
		return server.Serve(ctx, os.Stdin, os.Stdout)
	},
}
