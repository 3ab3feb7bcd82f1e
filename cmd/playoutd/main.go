/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/grimnir_playout/internal/config"
	"github.com/friendsincode/grimnir_playout/internal/logging"
	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/version"
)

var (
	logger zerolog.Logger
	cfg    *config.Config

	channelsFile string
)

var rootCmd = &cobra.Command{
	Use:     "playoutd",
	Short:   "Grimnir Playout - continuous linear channel playout",
	Long:    "Grimnir Playout turns day playlists into wall-clock synchronized ffmpeg pipelines and keeps every configured channel on air.",
	Version: version.String(),
}

func init() {
	rootCmd.PersistentFlags().StringVar(&channelsFile, "channels", "", "channels file (overrides PLAYOUT_CHANNELS_FILE)")
	rootCmd.SilenceUsage = true
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if channelsFile != "" {
		cfg.ChannelsFile = channelsFile
	}

	logger = logging.Setup(cfg.Environment)
	return nil
}

func loadChannels() ([]config.ChannelConfig, error) {
	channels, err := config.LoadChannels(cfg.ChannelsFile)
	if err != nil {
		return nil, fmt.Errorf("channels file %s: %w", cfg.ChannelsFile, err)
	}
	return channels, nil
}

func findChannel(channels []config.ChannelConfig, id string) (config.ChannelConfig, error) {
	for _, ch := range channels {
		if ch.ID == id {
			return ch, nil
		}
	}
	return config.ChannelConfig{}, fmt.Errorf("channel %q not found in %s", id, cfg.ChannelsFile)
}

// dayStart resolves a YYYY-MM-DD date, or the current day when empty, to
// the wall clock start of that day in the channel's timezone.
func dayStart(ch config.ChannelConfig, date string) (time.Time, string, error) {
	if date == "" {
		start, today := ch.DayBounds(time.Now())
		return start, today, nil
	}
	d, err := time.ParseInLocation(models.DateLayout, date, ch.Location())
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", date, err)
	}
	return d.Add(ch.DayStartOffset()), date, nil
}
