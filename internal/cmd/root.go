// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package cmd implements the screencap command line tool.
package cmd

import (
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gogpu/screencap"
	"github.com/gogpu/screencap/internal/config"

	// Compositor drivers available to every command.
	_ "github.com/gogpu/screencap/compositor/desktop"
	_ "github.com/gogpu/screencap/compositor/virtual"
)

var rootCmd = &cobra.Command{
	Use:   "screencap",
	Short: "GPU-backed display capture",
	Long: `screencap captures compositor outputs through the GPU: frames are
copied from driver textures into host memory and written as images,
streamed over WebSocket or measured.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cmd, cfg)
		return nil
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default is $HOME/.config/screencap/config.yaml)")
	flags.StringP("driver", "d", "", "compositor driver (default: best available)")
	flags.StringP("output", "o", "", "output to capture: index or name (default: primary)")
	flags.String("adapter", "", "GPU adapter name filter")
	flags.String("log-level", "", "log level: debug, info, warn, error")
}

// bindFlags maps persistent flags onto config keys.
func bindFlags() {
	flags := rootCmd.PersistentFlags()
	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("capture.driver", flags.Lookup("driver"))
	_ = viper.BindPFlag("capture.output", flags.Lookup("output"))
	_ = viper.BindPFlag("device.adapter", flags.Lookup("adapter"))
	_ = viper.BindPFlag("logging.level", flags.Lookup("log-level"))
}

func initConfig() {
	bindFlags()
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix(config.EnvPrefix)
	// SCREENCAP_CAPTURE_DRIVER for capture.driver
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// A missing config file is fine.
	_ = viper.ReadInConfig()
}

func setupLogging(cmd *cobra.Command, cfg *config.Config) {
	h := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: cfg.Logging.SlogLevel(),
	})
	screencap.SetLogger(slog.New(h))
}
