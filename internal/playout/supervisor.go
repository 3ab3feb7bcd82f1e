/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playout

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playout/internal/config"
	"github.com/friendsincode/grimnir_playout/internal/logging"
	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/telemetry"
)

// ErrSupervisorStopped is returned when commands are sent after Run ended.
var ErrSupervisorStopped = errors.New("supervisor stopped")

// ingestSeqBase keeps ingest session numbers apart from decoder numbers
// chosen by the scheduler.
const ingestSeqBase uint64 = 1 << 63

// SupervisorOptions configures a Supervisor.
type SupervisorOptions struct {
	Channel  string
	Restart  config.RestartConfig
	Clock    func() time.Time
	Logger   zerolog.Logger
	Deduper  *logging.Deduper
	Launcher Launcher
}

// Supervisor owns the processes of one channel: a persistent encoder, the
// current decoder, and an optional ingest listener. All state lives in the
// Run goroutine; callers talk to it through Send and Events.
type Supervisor struct {
	channel  string
	launcher Launcher
	grace    time.Duration
	now      func() time.Time
	logger   zerolog.Logger
	dedup    *logging.Deduper

	cmds       chan Command
	events     chan Event
	exits      chan exitNote
	ingestData chan *stageProc
	done       chan struct{}

	mux     outputMux
	procs   map[*stageProc]struct{}
	pending []Event

	encoder        *stageProc
	encoderArgs    []string
	encoderStarted bool
	encoderPolicy  *RestartPolicy
	encoderRetry   *time.Timer

	decoder     *stageProc
	pendingPlay *Command
	playRetry   *time.Timer
	spawnPolicy *RestartPolicy

	ingest        *stageProc
	ingestArgs    []string
	ingestEnabled bool
	ingestPolicy  *RestartPolicy
	ingestRetry   *time.Timer
	ingestCount   uint64
	live          bool
}

type stageProc struct {
	stage       models.ProcessStage
	seq         uint64
	uid         string
	proc        Process
	started     time.Time
	intentional bool
	sawData     atomic.Bool
}

type exitNote struct {
	sp  *stageProc
	err error
}

// NewSupervisor creates a supervisor. Run must be called to start it.
func NewSupervisor(opts SupervisorOptions) *Supervisor {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	grace := opts.Restart.StopGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	return &Supervisor{
		channel:       opts.Channel,
		launcher:      opts.Launcher,
		grace:         grace,
		now:           now,
		logger:        opts.Logger.With().Str("component", "supervisor").Str("channel", opts.Channel).Logger(),
		dedup:         opts.Deduper,
		cmds:          make(chan Command, 16),
		events:        make(chan Event, 64),
		exits:         make(chan exitNote, 8),
		ingestData:    make(chan *stageProc, 4),
		done:          make(chan struct{}),
		procs:         make(map[*stageProc]struct{}),
		encoderPolicy: NewRestartPolicy(opts.Restart, now),
		spawnPolicy:   NewRestartPolicy(opts.Restart, now),
		ingestPolicy:  NewRestartPolicy(opts.Restart, now),
	}
}

// Events returns the event stream. It is closed when Run returns.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

// Send queues a command for the run loop.
func (s *Supervisor) Send(ctx context.Context, cmd Command) error {
	select {
	case <-s.done:
		return ErrSupervisorStopped
	default:
	}
	select {
	case s.cmds <- cmd:
		return nil
	case <-s.done:
		return ErrSupervisorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop terminates every process and waits until all have exited. The
// supervisor keeps running and can be started again.
func (s *Supervisor) Stop(ctx context.Context) error {
	done := make(chan struct{})
	if err := s.Send(ctx, Command{Kind: CmdStop, done: done}); err != nil {
		if errors.Is(err, ErrSupervisorStopped) {
			return nil
		}
		return err
	}
	select {
	case <-done:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when Run has returned.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Run processes commands and process exits until ctx is cancelled. Every
// process is terminated before it returns.
func (s *Supervisor) Run(ctx context.Context) error {
	defer close(s.done)
	defer close(s.events)

	s.logger.Info().Msg("supervisor started")
	for {
		var out chan<- Event
		var next Event
		if len(s.pending) > 0 {
			out = s.events
			next = s.pending[0]
		}

		select {
		case <-ctx.Done():
			s.teardown()
			s.flush()
			s.logger.Info().Msg("supervisor stopped")
			return ctx.Err()
		case cmd := <-s.cmds:
			s.handle(ctx, cmd)
		case n := <-s.exits:
			s.handleExit(ctx, n)
		case sp := <-s.ingestData:
			if sp == s.ingest {
				s.logger.Info().Uint64("seq", sp.seq).Msg("ingest stream available")
				s.emit(Event{Kind: EventIngestStarted, Stage: models.StageIngest, Seq: sp.seq})
			}
		case <-timerC(s.encoderRetry):
			s.encoderRetry = nil
			s.spawnEncoder(ctx)
		case <-timerC(s.playRetry):
			s.playRetry = nil
			if s.pendingPlay != nil {
				cmd := *s.pendingPlay
				s.pendingPlay = nil
				s.spawnDecoder(ctx, cmd)
			}
		case <-timerC(s.ingestRetry):
			s.ingestRetry = nil
			if s.ingestEnabled && s.ingest == nil {
				s.spawnIngest(ctx)
			}
		case out <- next:
			s.pending = s.pending[1:]
		}
	}
}

func (s *Supervisor) handle(ctx context.Context, cmd Command) {
	s.logger.Debug().Str("command", cmd.Kind.String()).Uint64("seq", cmd.Seq).Str("uid", cmd.UID).Msg("command")

	switch cmd.Kind {
	case CmdStartEncoder:
		s.encoderArgs = cmd.Args
		s.encoderPolicy.Reset()
		s.spawnPolicy.Reset()
		if s.encoder == nil && s.encoderRetry == nil {
			s.spawnEncoder(ctx)
		}

	case CmdPlay:
		s.cancelPlayRetry()
		if s.decoder != nil {
			s.stopProc(s.decoder)
		}
		s.live = false
		s.spawnDecoder(ctx, cmd)

	case CmdSkip:
		s.cancelPlayRetry()
		if s.decoder != nil {
			s.stopProc(s.decoder)
		}

	case CmdIngest:
		s.ingestEnabled = cmd.Enable
		if cmd.Enable {
			s.ingestArgs = cmd.Args
			s.ingestPolicy.Reset()
			if s.ingest == nil && s.ingestRetry == nil {
				s.spawnIngest(ctx)
			}
			return
		}
		stopTimer(s.ingestRetry)
		s.ingestRetry = nil
		if s.ingest != nil {
			s.stopProc(s.ingest)
		}

	case CmdSwitchToIngest:
		if s.ingest == nil {
			s.logger.Warn().Msg("switch to ingest without an ingest stream")
			return
		}
		s.live = true
		s.mux.SetOwner(s.ingest.seq)
		s.cancelPlayRetry()
		if s.decoder != nil {
			s.stopProc(s.decoder)
		}
		telemetry.ItemsStarted.WithLabelValues(s.channel, "ingest").Inc()

	case CmdStop:
		s.teardown()
		s.emit(Event{Kind: EventStopped})
		if cmd.done != nil {
			close(cmd.done)
		}
	}
}

func (s *Supervisor) spawnEncoder(ctx context.Context) {
	proc, err := s.launcher.Launch(ctx, models.StageEncode, s.encoderArgs)
	if err != nil {
		s.logger.Error().Err(err).Msg("encoder spawn failed")
		s.emit(Event{Kind: EventSpawnFailed, Stage: models.StageEncode, Err: err})
		s.scheduleEncoderRestart()
		return
	}

	sp := &stageProc{stage: models.StageEncode, proc: proc, started: s.now()}
	s.encoder = sp
	s.mux.SetTarget(proc.Stdin())
	s.watch(sp, nil, nil)

	if s.encoderStarted {
		telemetry.ProcessRestarts.WithLabelValues(s.channel, string(models.StageEncode)).Inc()
		s.logger.Info().Int("pid", proc.Pid()).Int("attempts", s.encoderPolicy.Attempts()).Msg("encoder restarted")
		s.emit(Event{Kind: EventEncoderRestarted, Stage: models.StageEncode})
	} else {
		s.logger.Info().Int("pid", proc.Pid()).Msg("encoder started")
	}
	s.encoderStarted = true
}

func (s *Supervisor) scheduleEncoderRestart() {
	delay, ok := s.encoderPolicy.Next()
	if !ok {
		s.stall(models.StageEncode, "encoder restart limit reached")
		return
	}
	s.logger.Warn().Dur("backoff", delay).Int("attempt", s.encoderPolicy.Attempts()).Msg("scheduling encoder restart")
	s.encoderRetry = time.NewTimer(delay)
}

func (s *Supervisor) spawnDecoder(ctx context.Context, cmd Command) {
	proc, err := s.launcher.Launch(ctx, models.StageDecode, cmd.Args)
	if err != nil {
		s.logger.Error().Err(err).Str("uid", cmd.UID).Msg("decoder spawn failed")
		s.emit(Event{Kind: EventSpawnFailed, Stage: models.StageDecode, Seq: cmd.Seq, UID: cmd.UID, Err: err})
		delay, ok := s.spawnPolicy.Next()
		if !ok {
			s.stall(models.StageDecode, "decoder spawn limit reached")
			return
		}
		retry := cmd
		s.pendingPlay = &retry
		s.playRetry = time.NewTimer(delay)
		return
	}

	sp := &stageProc{stage: models.StageDecode, seq: cmd.Seq, uid: cmd.UID, proc: proc, started: s.now()}
	s.decoder = sp
	if !s.live {
		s.mux.SetOwner(cmd.Seq)
	}
	s.watch(sp, proc.Stdout(), s.mux.Writer(cmd.Seq))
}

func (s *Supervisor) spawnIngest(ctx context.Context) {
	proc, err := s.launcher.Launch(ctx, models.StageIngest, s.ingestArgs)
	if err != nil {
		s.logger.Error().Err(err).Msg("ingest listener spawn failed")
		s.emit(Event{Kind: EventSpawnFailed, Stage: models.StageIngest, Err: err})
		s.scheduleIngestRetry()
		return
	}

	s.ingestCount++
	sp := &stageProc{stage: models.StageIngest, seq: ingestSeqBase | s.ingestCount, proc: proc, started: s.now()}
	s.ingest = sp
	s.logger.Info().Int("pid", proc.Pid()).Uint64("seq", sp.seq).Msg("ingest listener started")
	s.watch(sp, proc.Stdout(), &ingestWatch{sp: sp, signal: s.ingestData, next: s.mux.Writer(sp.seq)})
}

func (s *Supervisor) scheduleIngestRetry() {
	delay, ok := s.ingestPolicy.Next()
	if !ok {
		s.logger.Error().Msg("ingest listener keeps failing, disabling ingest")
		s.ingestEnabled = false
		return
	}
	s.ingestRetry = time.NewTimer(delay)
}

// watch copies src into dst until EOF, then reports the process exit to
// the run loop.
func (s *Supervisor) watch(sp *stageProc, src io.ReadCloser, dst io.Writer) {
	s.procs[sp] = struct{}{}
	go func() {
		if src != nil {
			_, _ = io.Copy(dst, src)
			_ = src.Close()
		}
		err := sp.proc.Wait()
		s.exits <- exitNote{sp: sp, err: err}
	}()
}

func (s *Supervisor) handleExit(ctx context.Context, n exitNote) {
	sp := n.sp
	delete(s.procs, sp)

	var crash *models.ProcessCrash
	if !sp.intentional && (n.err != nil || sp.stage == models.StageEncode) {
		crash = crashFrom(sp.stage, n.err, sp.proc.Stderr())
		telemetry.ProcessCrashes.WithLabelValues(s.channel, string(sp.stage)).Inc()
		s.logCrash(crash, sp)
	}

	switch sp.stage {
	case models.StageDecode:
		if s.decoder == sp {
			s.decoder = nil
		}
		ev := Event{Kind: EventDecoderExited, Stage: sp.stage, Seq: sp.seq, UID: sp.uid, Intentional: sp.intentional}
		if crash != nil {
			ev.Err = crash
		}
		s.emit(ev)

	case models.StageEncode:
		if s.encoder == sp {
			s.encoder = nil
			s.mux.SetTarget(nil)
		}
		if stdin := sp.proc.Stdin(); stdin != nil {
			_ = stdin.Close()
		}
		if sp.intentional {
			return
		}
		s.emit(Event{Kind: EventEncoderExited, Stage: sp.stage, Err: crash})
		if s.decoder != nil {
			s.stopProc(s.decoder)
		}
		s.scheduleEncoderRestart()

	case models.StageIngest:
		if s.ingest == sp {
			s.ingest = nil
		}
		wasLive := s.live && s.mux.Owner() == sp.seq
		if wasLive {
			s.live = false
		}
		if sp.sawData.Load() {
			var err error
			if crash != nil {
				err = crash
			}
			s.logger.Info().Uint64("seq", sp.seq).Bool("was_live", wasLive).Msg("ingest stream ended")
			s.emit(Event{Kind: EventIngestEnded, Stage: sp.stage, Seq: sp.seq, Err: err, Intentional: sp.intentional})
		}
		if !s.ingestEnabled || sp.intentional {
			return
		}
		if sp.sawData.Load() {
			s.ingestPolicy.Reset()
			s.spawnIngest(ctx)
			return
		}
		s.scheduleIngestRetry()
	}
}

func (s *Supervisor) stall(stage models.ProcessStage, reason string) {
	s.logger.Error().Str("stage", string(stage)).Str("reason", reason).Msg("channel stalled")
	if s.decoder != nil {
		s.stopProc(s.decoder)
	}
	s.emit(Event{Kind: EventStalled, Stage: stage, Err: errors.New(reason)})
}

// stopProc terminates sp off the run loop; its exit arrives as usual.
func (s *Supervisor) stopProc(sp *stageProc) {
	if sp.intentional {
		return
	}
	sp.intentional = true
	grace := s.grace
	go func() { _ = sp.proc.Stop(grace) }()
}

// teardown stops every process and waits for all of them to exit.
func (s *Supervisor) teardown() {
	s.cancelPlayRetry()
	stopTimer(s.encoderRetry)
	stopTimer(s.ingestRetry)
	s.encoderRetry, s.ingestRetry = nil, nil
	s.ingestEnabled = false
	s.live = false

	for sp := range s.procs {
		s.stopProc(sp)
	}
	for len(s.procs) > 0 {
		n := <-s.exits
		delete(s.procs, n.sp)
		if stdin := n.sp.proc.Stdin(); stdin != nil {
			_ = stdin.Close()
		}
	}
	s.encoder, s.decoder, s.ingest = nil, nil, nil
	s.encoderStarted = false
	s.mux.SetTarget(nil)
}

// flush hands queued events to a reader that is still listening.
func (s *Supervisor) flush() {
	for _, ev := range s.pending {
		select {
		case s.events <- ev:
		default:
		}
	}
	s.pending = nil
}

func (s *Supervisor) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = s.now()
	}
	s.pending = append(s.pending, ev)
}

func (s *Supervisor) cancelPlayRetry() {
	stopTimer(s.playRetry)
	s.playRetry = nil
	s.pendingPlay = nil
}

func (s *Supervisor) logCrash(crash *models.ProcessCrash, sp *stageProc) {
	key := string(crash.Stage) + ":" + crash.Error()
	ok, suppressed := s.dedup.Allow(key, s.now())
	if !ok {
		return
	}
	tail := crash.Stderr
	if len(tail) > 8 {
		tail = tail[len(tail)-8:]
	}
	ev := s.logger.Error().
		Str("stage", string(crash.Stage)).
		Int("exit_code", crash.ExitCode).
		Bool("signaled", crash.Signaled).
		Str("uid", sp.uid).
		Strs("stderr", tail).
		Dur("ran", s.now().Sub(sp.started))
	if suppressed > 0 {
		ev = ev.Int("suppressed", suppressed)
	}
	ev.Msg("process crashed")
}

func crashFrom(stage models.ProcessStage, err error, stderr []string) *models.ProcessCrash {
	crash := &models.ProcessCrash{Stage: stage, Stderr: stderr, Err: err}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		crash.ExitCode = exitErr.ExitCode()
		crash.Signaled = crash.ExitCode == -1
	}
	return crash
}

// ingestWatch signals the run loop when an ingest stream delivers its
// first bytes.
type ingestWatch struct {
	sp     *stageProc
	signal chan<- *stageProc
	next   io.Writer
}

func (w *ingestWatch) Write(p []byte) (int, error) {
	if len(p) > 0 && w.sp.sawData.CompareAndSwap(false, true) {
		select {
		case w.signal <- w.sp:
		default:
		}
	}
	return w.next.Write(p)
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
