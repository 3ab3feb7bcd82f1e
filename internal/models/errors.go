/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMediaNotFound indicates a source file is missing or unreadable.
	ErrMediaNotFound = errors.New("media not found")

	// ErrProbeFailed indicates duration or stream metadata could not be read.
	ErrProbeFailed = errors.New("media probe failed")
)

// ProcessStage names a pipeline stage.
type ProcessStage string

const (
	StageDecode ProcessStage = "decode"
	StageEncode ProcessStage = "encode"
	StageIngest ProcessStage = "ingest"
)

// FilterBuildError reports a custom filter that failed syntactic checks.
type FilterBuildError struct {
	UID    string
	Filter string
	Reason string
}

func (e *FilterBuildError) Error() string {
	if e.UID == "" {
		return fmt.Sprintf("invalid custom filter %q: %s", e.Filter, e.Reason)
	}
	return fmt.Sprintf("invalid custom filter %q on item %s: %s", e.Filter, e.UID, e.Reason)
}

// ProcessSpawnError wraps an OS-level failure to start a stage.
type ProcessSpawnError struct {
	Stage ProcessStage
	Err   error
}

func (e *ProcessSpawnError) Error() string {
	return fmt.Sprintf("spawn %s process: %v", e.Stage, e.Err)
}

func (e *ProcessSpawnError) Unwrap() error { return e.Err }

// ProcessCrash describes a stage that exited abnormally.
type ProcessCrash struct {
	Stage    ProcessStage
	ExitCode int
	Signaled bool
	Stderr   []string
	Err      error
}

func (e *ProcessCrash) Error() string {
	msg := fmt.Sprintf("%s process crashed (exit %d)", e.Stage, e.ExitCode)
	if e.Signaled {
		msg = fmt.Sprintf("%s process killed by signal", e.Stage)
	}
	if len(e.Stderr) > 0 {
		msg += ": " + e.Stderr[len(e.Stderr)-1]
	}
	return msg
}

func (e *ProcessCrash) Unwrap() error { return e.Err }

// ViolationKind classifies a playlist inconsistency.
type ViolationKind string

const (
	ViolationGap      ViolationKind = "gap"
	ViolationOverlap  ViolationKind = "overlap"
	ViolationOrder    ViolationKind = "order"
	ViolationFilter   ViolationKind = "filter"
	ViolationShortDay ViolationKind = "short_day"
	ViolationLongDay  ViolationKind = "long_day"
	ViolationMedia    ViolationKind = "media"
	ViolationProbe    ViolationKind = "probe"
	ViolationDuration ViolationKind = "duration"
)

// Violation is one finding of playlist validation.
type Violation struct {
	Kind      ViolationKind `json:"kind"`
	Index     int           `json:"index"`
	UID       string        `json:"uid,omitempty"`
	At        float64       `json:"at"`
	Amount    float64       `json:"amount"`
	Message   string        `json:"message"`
	Corrected bool          `json:"corrected"`
}

// PlaylistValidationError is returned when a day has inconsistencies that
// were not corrected.
type PlaylistValidationError struct {
	Channel    string
	Date       string
	Violations []Violation
}

func (e *PlaylistValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Message)
	}
	return fmt.Sprintf("playlist %s/%s invalid: %s", e.Channel, e.Date, strings.Join(parts, "; "))
}

// GeneratorUnsatisfiable reports a template slot that available media
// cannot fill.
type GeneratorUnsatisfiable struct {
	Slot      string
	Index     int
	Target    float64
	Tolerance float64
	Best      float64
	Shortfall float64
}

func (e *GeneratorUnsatisfiable) Error() string {
	return fmt.Sprintf("slot %q (#%d) unsatisfiable: target %.1fs ±%.1fs, best %.1fs, shortfall %.1fs",
		e.Slot, e.Index, e.Target, e.Tolerance, e.Best, e.Shortfall)
}
