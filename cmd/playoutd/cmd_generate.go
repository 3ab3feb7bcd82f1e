/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/friendsincode/grimnir_playout/internal/config"
	"github.com/friendsincode/grimnir_playout/internal/media"
	"github.com/friendsincode/grimnir_playout/internal/mediaengine"
	"github.com/friendsincode/grimnir_playout/internal/playlist"
	"github.com/friendsincode/grimnir_playout/internal/scheduling"
	"github.com/friendsincode/grimnir_playout/internal/smartblock"
	"github.com/friendsincode/grimnir_playout/internal/telemetry"
)

var generateOpts struct {
	date     string
	template string
	seed     int64
	save     bool
	output   string
}

var generateCmd = &cobra.Command{
	Use:   "generate <channel>",
	Short: "Build a day playlist from a template and the media library",
	Long: `Generate fills every slot of a template from the channel's media folders.
The result is printed as a playlist document, written to --output, or saved
to the playlist store with --save.`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVar(&generateOpts.date, "date", "", "day to generate (YYYY-MM-DD, default today)")
	generateCmd.Flags().StringVar(&generateOpts.template, "template", "", "template file (default: channel generator template)")
	generateCmd.Flags().Int64Var(&generateOpts.seed, "seed", 0, "random seed (default: channel seed, or time based)")
	generateCmd.Flags().BoolVar(&generateOpts.save, "save", false, "save the playlist to the store")
	generateCmd.Flags().StringVarP(&generateOpts.output, "output", "o", "", "write the playlist document to this file")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	channels, err := loadChannels()
	if err != nil {
		return err
	}
	ch, err := findChannel(channels, args[0])
	if err != nil {
		return err
	}

	tmplPath := generateOpts.template
	if tmplPath == "" {
		tmplPath = ch.Generator.Template
	}
	if tmplPath == "" {
		return errors.New("no template: pass --template or set generator.template for the channel")
	}
	tmpl, err := smartblock.LoadTemplate(tmplPath)
	if err != nil {
		return err
	}

	_, date, err := dayStart(ch, generateOpts.date)
	if err != nil {
		return err
	}

	b, err := openBackends(ctx, channels)
	if err != nil {
		return err
	}
	defer b.Close()

	prober := mediaengine.NewProber(cfg.FFprobeBin, logger)
	scan, err := libraryFor(ch, prober, b.cache).Scan(ctx)
	if err != nil {
		return fmt.Errorf("scan media library: %w", err)
	}

	seed := ch.Generator.Seed
	if cmd.Flags().Changed("seed") {
		seed = &generateOpts.seed
	}

	ctx, span := telemetry.StartChannelSpan(ctx, "playoutd.generate", ch.ID, date)
	day, err := smartblock.NewGenerator(logger).Generate(ctx, smartblock.GenerateRequest{
		Channel:  ch.ID,
		Date:     date,
		Template: tmpl,
		Pool:     scan.Files,
		Seed:     seed,
	})
	telemetry.EndSpan(span, err)
	if err != nil {
		return err
	}

	result, err := scheduling.NewValidator(scheduling.OptionsFor(ch), logger).Validate(day)
	if err != nil {
		return err
	}
	day = result.Day

	data, err := playlist.Encode(day)
	if err != nil {
		return err
	}
	switch {
	case generateOpts.output != "":
		if err := os.WriteFile(generateOpts.output, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", generateOpts.output, err)
		}
	case !generateOpts.save:
		if _, err := cmd.OutOrStdout().Write(data); err != nil {
			return err
		}
	}
	if generateOpts.save {
		if err := b.store.Save(ctx, day); err != nil {
			return fmt.Errorf("save playlist: %w", err)
		}
		logger.Info().Str("channel", ch.ID).Str("date", date).Int("items", len(day.Program)).Msg("generated playlist saved")
	}
	return nil
}

// libraryFor returns the media library a channel generates from.
func libraryFor(ch config.ChannelConfig, prober media.Prober, cache media.Cache) *media.Library {
	folders := ch.Generator.Folders
	if len(folders) == 0 {
		folders = []string{ch.StoragePath}
	}
	return media.NewLibrary(folders, ch.Generator.Extensions, prober, cache, logger)
}
