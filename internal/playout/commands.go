/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playout

import (
	"time"

	"github.com/friendsincode/grimnir_playout/internal/models"
)

// CommandKind enumerates scheduler to supervisor commands.
type CommandKind int

const (
	CmdStartEncoder CommandKind = iota + 1
	CmdPlay
	CmdSkip
	CmdIngest
	CmdSwitchToIngest
	CmdStop
)

func (k CommandKind) String() string {
	switch k {
	case CmdStartEncoder:
		return "start_encoder"
	case CmdPlay:
		return "play"
	case CmdSkip:
		return "skip"
	case CmdIngest:
		return "ingest"
	case CmdSwitchToIngest:
		return "switch_to_ingest"
	case CmdStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Command is sent to the supervisor's run loop.
type Command struct {
	Kind CommandKind
	// Seq identifies a decode stage; events about it carry the same Seq.
	Seq  uint64
	UID  string
	Args []string
	// Enable turns the ingest listener on or off (CmdIngest).
	Enable bool

	done chan struct{}
}

// EventKind enumerates supervisor to scheduler events.
type EventKind int

const (
	EventDecoderExited EventKind = iota + 1
	EventEncoderExited
	EventEncoderRestarted
	EventSpawnFailed
	EventIngestStarted
	EventIngestEnded
	EventStalled
	EventStopped
)

func (k EventKind) String() string {
	switch k {
	case EventDecoderExited:
		return "decoder_exited"
	case EventEncoderExited:
		return "encoder_exited"
	case EventEncoderRestarted:
		return "encoder_restarted"
	case EventSpawnFailed:
		return "spawn_failed"
	case EventIngestStarted:
		return "ingest_started"
	case EventIngestEnded:
		return "ingest_ended"
	case EventStalled:
		return "stalled"
	case EventStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Event reports a process lifecycle change.
type Event struct {
	Kind  EventKind
	Stage models.ProcessStage
	Seq   uint64
	UID   string
	Err   error
	// Intentional is set when the exit was requested (skip, switch, stop).
	Intentional bool
	At          time.Time
}
