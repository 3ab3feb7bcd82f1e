/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/friendsincode/grimnir_playout/internal/mediaengine"
	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/playlist"
	"github.com/friendsincode/grimnir_playout/internal/scheduling"
	"github.com/friendsincode/grimnir_playout/internal/telemetry"
)

var validateOpts struct {
	date  string
	file  string
	probe bool
	fix   bool
}

var validateCmd = &cobra.Command{
	Use:   "validate <channel>",
	Short: "Check a day playlist for gaps, overlaps and missing media",
	Long: `Validate a channel's playlist for one day using the channel's tolerances.
The day is read from the configured playlist store, or from --file. With
--probe every source is probed and out points are reconciled against the
real media length. With --fix the corrected day is written back to the store.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateOpts.date, "date", "", "day to validate (YYYY-MM-DD, default today)")
	validateCmd.Flags().StringVar(&validateOpts.file, "file", "", "validate this playlist document instead of the store")
	validateCmd.Flags().BoolVar(&validateOpts.probe, "probe", false, "probe media and reconcile durations")
	validateCmd.Flags().BoolVar(&validateOpts.fix, "fix", false, "save the corrected day back to the store")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if validateOpts.fix && validateOpts.file != "" {
		return errors.New("--fix cannot be combined with --file")
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

	var day models.PlaylistDay
	var store playlist.Store
	if validateOpts.file != "" {
		data, err := os.ReadFile(validateOpts.file)
		if err != nil {
			return fmt.Errorf("read playlist: %w", err)
		}
		day, err = playlist.Decode(data)
		if err != nil {
			return fmt.Errorf("decode %s: %w", validateOpts.file, err)
		}
	} else {
		b, err := openBackends(ctx, channels)
		if err != nil {
			return err
		}
		defer b.Close()
		store = b.store

		start, _, err := dayStart(ch, validateOpts.date)
		if err != nil {
			return err
		}
		day, err = store.Load(ctx, ch.ID, start)
		if err != nil {
			return err
		}
	}

	ctx, span := telemetry.StartChannelSpan(ctx, "playoutd.validate", ch.ID, day.Date)
	validator := scheduling.NewValidator(scheduling.OptionsFor(ch), logger)
	var result *scheduling.Result
	if validateOpts.probe {
		result, err = validator.Reconcile(ctx, day, mediaengine.NewProber(cfg.FFprobeBin, logger))
	} else {
		result, err = validator.Validate(day)
	}
	telemetry.EndSpan(span, err)

	var invalid *models.PlaylistValidationError
	if err != nil && !errors.As(err, &invalid) {
		return err
	}
	printResult(cmd.OutOrStdout(), day, result)
	if invalid != nil {
		return invalid
	}

	if validateOpts.fix && result.Changed {
		if err := store.Save(ctx, result.Day); err != nil {
			return fmt.Errorf("save corrected day: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "saved corrected playlist %s/%s\n", result.Day.Channel, result.Day.Date)
	}
	return nil
}

func printResult(w io.Writer, original models.PlaylistDay, result *scheduling.Result) {
	fmt.Fprintf(w, "%s/%s: %d items, %s\n", original.Channel, original.Date, len(result.Day.Program), formatLength(result.Day.Length()))
	for _, v := range result.Errors {
		fmt.Fprintf(w, "  error   %-9s #%-3d %s\n", v.Kind, v.Index, v.Message)
	}
	for _, v := range result.Warnings {
		mark := ""
		if v.Corrected {
			mark = " (corrected)"
		}
		fmt.Fprintf(w, "  warning %-9s #%-3d %s%s\n", v.Kind, v.Index, v.Message, mark)
	}
	switch {
	case !result.Valid:
		fmt.Fprintln(w, "result: invalid")
	case result.Changed:
		fmt.Fprintf(w, "result: valid after correction (%d -> %d items)\n", len(original.Program), len(result.Day.Program))
	default:
		fmt.Fprintln(w, "result: valid")
	}
}

func formatLength(seconds float64) string {
	total := int(seconds + 0.5)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, total%3600/60, total%60)
}
