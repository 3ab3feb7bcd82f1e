/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/friendsincode/grimnir_playout/internal/config"
	"github.com/friendsincode/grimnir_playout/internal/mediaengine"
)

var scanOpts struct {
	output string
	files  bool
}

var scanCmd = &cobra.Command{
	Use:   "scan [channel...]",
	Short: "Probe media folders and prime the duration cache",
	Long: `scan walks the media folders of the given channels (all channels when none
are named), probes new or changed files with ffprobe and stores durations in
the media cache used by playlist generation. A JSON summary is written to
stdout or --output.

Examples:
  playoutd scan
  playoutd scan news --files -o news-media.json`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVarP(&scanOpts.output, "output", "o", "", "Output file (default: stdout)")
	scanCmd.Flags().BoolVar(&scanOpts.files, "files", false, "Include every probed file in the summary")
	rootCmd.AddCommand(scanCmd)
}

type scanSummary struct {
	Channel         string      `json:"channel"`
	Folders         []string    `json:"folders"`
	Total           int         `json:"total"`
	Cached          int         `json:"cached"`
	Probed          int         `json:"probed"`
	Errors          int         `json:"errors"`
	DurationSeconds float64     `json:"duration_seconds"`
	Files           []scanEntry `json:"files,omitempty"`
}

type scanEntry struct {
	Path     string  `json:"path"`
	Category string  `json:"category,omitempty"`
	Title    string  `json:"title,omitempty"`
	Duration float64 `json:"duration"`
}

func runScan(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	channels, err := loadChannels()
	if err != nil {
		return err
	}
	selected := channels
	if len(args) > 0 {
		selected = make([]config.ChannelConfig, 0, len(args))
		for _, id := range args {
			ch, err := findChannel(channels, id)
			if err != nil {
				return err
			}
			selected = append(selected, ch)
		}
	}

	b, err := openBackends(ctx, channels)
	if err != nil {
		return err
	}
	defer b.Close()
	if b.db == nil {
		logger.Warn().Msg("no database configured, scan results are not kept")
	}

	prober := mediaengine.NewProber(cfg.FFprobeBin, logger)
	summaries := make([]scanSummary, 0, len(selected))
	for _, ch := range selected {
		lib := libraryFor(ch, prober, b.cache)
		fmt.Fprintf(os.Stderr, "Scanning channel %s...\n", ch.ID)
		res, err := lib.Scan(ctx)
		if err != nil {
			return fmt.Errorf("scan %s: %w", ch.ID, err)
		}
		s := scanSummary{
			Channel:         ch.ID,
			Folders:         ch.Generator.Folders,
			Total:           res.Total,
			Cached:          res.Cached,
			Probed:          res.Probed,
			Errors:          res.Errors,
			DurationSeconds: res.Duration.Seconds(),
		}
		if len(s.Folders) == 0 {
			s.Folders = []string{ch.StoragePath}
		}
		if scanOpts.files {
			for _, f := range res.Files {
				s.Files = append(s.Files, scanEntry{Path: f.Path, Category: f.Category, Title: f.Title, Duration: f.Duration})
			}
		}
		fmt.Fprintf(os.Stderr, "Scan complete: %d files (%d cached, %d probed), %d errors, %.1fs\n",
			s.Total, s.Cached, s.Probed, s.Errors, s.DurationSeconds)
		summaries = append(summaries, s)
	}

	out := os.Stdout
	if scanOpts.output != "" {
		out, err = os.Create(scanOpts.output)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer out.Close()
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summaries); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return nil
}
