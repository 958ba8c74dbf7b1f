// Copyright 2025 CloudWeGo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cmd implements the ioq commands.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cloudwego/ioqueue/internal/iouring"
	"github.com/cloudwego/ioqueue/ioqueue"
)

var (
	// Global flags
	configPath string
	driverName string
	logLevel   string

	// set up by the root command before any subcommand runs
	cfg    *Config
	logger *zap.Logger
	mgr    *ioqueue.Manager
)

var rootCmd = &cobra.Command{
	Use:   "ioq",
	Short: "Move bytes through asynchronous I/O queues",
	Long: `ioq drives sockets and files through the ioqueue interface.

It can run an echo server and client, print files, and copy files, on either
the epoll or the io_uring driver.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" {
			return nil
		}
		if mgr != nil {
			// left over from a command that failed
			_ = mgr.Shutdown()
			mgr = nil
		}
		var err error
		if cfg, err = LoadConfig(configPath); err != nil {
			return err
		}
		if driverName != "" {
			cfg.Queue.Driver = strings.ToLower(driverName)
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		if err = cfg.validate(); err != nil {
			return err
		}
		if logger, err = newLogger(cfg.Log); err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}
		iouring.SetLogger(logger.Named("iouring"))
		mgr, err = ioqueue.New(ioqueue.WithConfig(&cfg.Queue), ioqueue.WithLogger(logger.Named("ioqueue")))
		if err != nil {
			return fmt.Errorf("failed to start %s driver: %w", cfg.Queue.Driver, err)
		}
		logger.Debug("queue manager ready", zap.String("driver", cfg.Queue.Driver))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if mgr != nil {
			if err := mgr.Shutdown(); err != nil {
				logger.Warn("shutdown failed", zap.Error(err))
			}
			mgr = nil
		}
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&driverName, "driver", "", "I/O driver: epoll or uring (overrides the config file)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
