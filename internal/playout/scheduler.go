/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playout/internal/config"
	"github.com/friendsincode/grimnir_playout/internal/events"
	"github.com/friendsincode/grimnir_playout/internal/mediaengine"
	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/telemetry"
)

// fillerChunk is the length of each filler decode while no day is ready.
const fillerChunk = 10.0

var (
	// ErrNotRunning is returned by controls that need a started channel.
	ErrNotRunning = errors.New("channel not running")
	// ErrLive is returned when skipping while ingest is on air.
	ErrLive = errors.New("channel is playing live ingest")
	// ErrSchedulerStopped is returned after Run has returned.
	ErrSchedulerStopped = errors.New("scheduler stopped")
)

var allStates = []string{
	string(models.StateIdle),
	string(models.StatePlayingPlaylist),
	string(models.StatePlayingLive),
	string(models.StateRollingOver),
	string(models.StateStalled),
}

// Commander is the scheduler's view of the supervisor.
type Commander interface {
	Send(ctx context.Context, cmd Command) error
	Stop(ctx context.Context) error
	Events() <-chan Event
}

type controlKind int

const (
	ctlStart controlKind = iota + 1
	ctlStop
	ctlSkip
	ctlReload
	ctlIngest
)

type control struct {
	kind   controlKind
	enable bool
	reply  chan error
}

type loadResult struct {
	start time.Time
	day   *Day
	err   error
}

// playing is the decode stage the scheduler last started.
type playing struct {
	seq        uint64
	index      int
	item       models.PlayItem
	seek       float64
	length     float64
	started    time.Time
	filler     bool
	skipping   bool
	skipReason string
}

// SchedulerOptions wires a Scheduler.
type SchedulerOptions struct {
	Channel    config.ChannelConfig
	Builder    *mediaengine.CommandBuilder
	Supervisor Commander
	Loader     DayLoader
	Status     *StatusPublisher
	Clock      func() time.Time
	Logger     zerolog.Logger
}

// Scheduler is the real-time control loop of one channel. All state is
// owned by the Run goroutine; the exported control methods talk to it
// through a channel.
type Scheduler struct {
	ch      config.ChannelConfig
	builder *mediaengine.CommandBuilder
	sup     Commander
	loader  DayLoader
	status  *StatusPublisher
	now     func() time.Time
	logger  zerolog.Logger

	ctrl  chan control
	loads chan loadResult
	done  chan struct{}

	running bool
	state   models.SchedulerState
	health  models.Health
	reason  string

	day         *Day
	nextDay     *Day
	loading     map[string]bool
	lastAttempt map[string]time.Time
	nextIndex   int
	current     *playing
	seq         uint64
	resync      bool

	encoderUp     bool
	blocked       bool
	stalledAt     time.Time
	ingestEnabled bool
	live          bool
	liveSeq       uint64
	liveSince     time.Time
	preempted     *playing
}

// NewScheduler creates a scheduler in the idle state.
func NewScheduler(opts SchedulerOptions) *Scheduler {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	status := opts.Status
	if status == nil {
		status = NewStatusPublisher(opts.Channel.ID, nil)
	}
	return &Scheduler{
		ch:            opts.Channel,
		builder:       opts.Builder,
		sup:           opts.Supervisor,
		loader:        opts.Loader,
		status:        status,
		now:           now,
		logger:        opts.Logger.With().Str("component", "scheduler").Str("channel", opts.Channel.ID).Logger(),
		ctrl:          make(chan control),
		loads:         make(chan loadResult, 4),
		done:          make(chan struct{}),
		state:         models.StateIdle,
		health:        models.HealthStopped,
		loading:       make(map[string]bool),
		lastAttempt:   make(map[string]time.Time),
		ingestEnabled: opts.Channel.Ingest.Enabled,
	}
}

// Start starts the encoder and begins playout at the wall clock position.
func (s *Scheduler) Start(ctx context.Context) error {
	return s.control(ctx, control{kind: ctlStart})
}

// Stop terminates every process of the channel.
func (s *Scheduler) Stop(ctx context.Context) error {
	return s.control(ctx, control{kind: ctlStop})
}

// Skip ends the current item early.
func (s *Scheduler) Skip(ctx context.Context) error {
	return s.control(ctx, control{kind: ctlSkip})
}

// Reload reloads the current day's playlist.
func (s *Scheduler) Reload(ctx context.Context) error {
	return s.control(ctx, control{kind: ctlReload})
}

// SetIngest turns the live ingest listener on or off.
func (s *Scheduler) SetIngest(ctx context.Context, enabled bool) error {
	return s.control(ctx, control{kind: ctlIngest, enable: enabled})
}

// Status returns the latest status snapshot.
func (s *Scheduler) Status() models.PlayoutStatus {
	return s.status.Snapshot()
}

// Health returns the coarse channel health.
func (s *Scheduler) Health() models.Health {
	return s.status.Health()
}

func (s *Scheduler) control(ctx context.Context, c control) error {
	c.reply = make(chan error, 1)
	select {
	case s.ctrl <- c:
	case <-s.done:
		return ErrSchedulerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-c.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes the scheduling loop until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	defer close(s.done)

	ticker := time.NewTicker(s.ch.Timing.Tick)
	defer ticker.Stop()

	supEvents := s.sup.Events()
	s.publish()
	s.logger.Info().Dur("tick", s.ch.Timing.Tick).Msg("scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return ctx.Err()
		case c := <-s.ctrl:
			c.reply <- s.handleControl(ctx, c)
		case ev, ok := <-supEvents:
			if !ok {
				supEvents = nil
				s.logger.Warn().Msg("supervisor event stream closed")
				continue
			}
			s.handleEvent(ctx, ev)
		case r := <-s.loads:
			s.handleLoad(ctx, r)
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) handleControl(ctx context.Context, c control) error {
	switch c.kind {
	case ctlStart:
		return s.start(ctx)
	case ctlStop:
		return s.stop(ctx)
	case ctlSkip:
		return s.skip(ctx, "operator")
	case ctlReload:
		return s.reload(ctx)
	case ctlIngest:
		return s.setIngest(ctx, c.enable)
	default:
		return fmt.Errorf("unknown control %d", c.kind)
	}
}

func (s *Scheduler) start(ctx context.Context) error {
	if s.running && s.health == models.HealthRunning {
		return nil
	}

	args, err := s.builder.EncoderArgs()
	if err != nil {
		s.running = true
		s.fatal(err)
		return fmt.Errorf("build encoder arguments: %w", err)
	}
	if err := s.sup.Send(ctx, Command{Kind: CmdStartEncoder, Args: args}); err != nil {
		return err
	}

	s.running = true
	s.encoderUp = true
	s.blocked = false
	s.clearStall()
	s.resync = true
	s.logger.Info().Str("output", string(s.ch.Output.Mode)).Msg("channel started")

	if s.ingestEnabled {
		if err := s.sendIngest(ctx, true); err != nil {
			s.logger.Warn().Err(err).Msg("failed to enable ingest")
		}
	}

	now := s.now()
	start, _ := s.ch.DayBounds(now)
	if s.day == nil || !s.day.Start.Equal(start) {
		s.day = nil
		s.requestLoad(ctx, start)
	}
	if s.current == nil {
		s.advance(ctx)
	}
	s.publish()
	return nil
}

func (s *Scheduler) stop(ctx context.Context) error {
	if !s.running {
		return nil
	}
	s.running = false
	s.current = nil
	s.live = false
	s.preempted = nil

	err := s.sup.Stop(ctx)

	s.day, s.nextDay = nil, nil
	s.health = models.HealthStopped
	s.reason = ""
	s.setState(models.StateIdle)
	s.publish()
	s.logger.Info().Msg("channel stopped")
	return err
}

func (s *Scheduler) skip(ctx context.Context, reason string) error {
	if !s.running {
		return ErrNotRunning
	}
	if s.live {
		return ErrLive
	}
	cur := s.current
	if cur == nil || cur.skipping {
		return nil
	}
	cur.skipping = true
	cur.skipReason = reason
	s.logger.Info().Str("uid", cur.item.UID).Str("reason", reason).Msg("skipping current item")
	return s.sup.Send(ctx, Command{Kind: CmdSkip, Seq: cur.seq, UID: cur.item.UID})
}

func (s *Scheduler) reload(ctx context.Context) error {
	if !s.running {
		return ErrNotRunning
	}
	now := s.now()
	start, _ := s.ch.DayBounds(now)
	s.nextDay = nil
	delete(s.lastAttempt, loadKey(start))
	s.logger.Info().Str("date", start.Format(models.DateLayout)).Msg("reloading playlist")
	s.requestLoad(ctx, start)
	if s.health == models.HealthStalled {
		s.recover(ctx)
	}
	return nil
}

func (s *Scheduler) setIngest(ctx context.Context, enable bool) error {
	if enable && s.ch.Ingest.Endpoint == "" {
		return fmt.Errorf("channel %s has no ingest endpoint", s.ch.ID)
	}
	s.ingestEnabled = enable
	if !s.running {
		return nil
	}
	return s.sendIngest(ctx, enable)
}

func (s *Scheduler) sendIngest(ctx context.Context, enable bool) error {
	cmd := Command{Kind: CmdIngest, Enable: enable}
	if enable {
		args, err := s.builder.IngestArgs()
		if err != nil {
			return err
		}
		cmd.Args = args
	}
	return s.sup.Send(ctx, cmd)
}

func (s *Scheduler) handleEvent(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventDecoderExited:
		cur := s.current
		if cur == nil || ev.Seq != cur.seq {
			return
		}
		s.current = nil
		switch {
		case ev.Err != nil:
			s.logger.Error().Err(ev.Err).Str("uid", cur.item.UID).Int("index", cur.index).Msg("decode stage failed, advancing")
			if !cur.filler {
				s.skipped(cur.item, "crash")
			}
		case cur.skipping:
			s.skipped(cur.item, cur.skipReason)
		}
		s.advance(ctx)

	case EventEncoderExited:
		s.encoderUp = false
		if cur := s.current; cur != nil {
			if !cur.filler {
				s.nextIndex = cur.index
			}
			s.current = nil
		}
		s.logger.Warn().Err(ev.Err).Msg("encoder exited, waiting for restart")

	case EventEncoderRestarted:
		s.encoderUp = true
		s.resync = true
		s.logger.Info().Msg("encoder restarted, resuming at wall clock position")
		if s.live {
			return
		}
		s.advance(ctx)

	case EventSpawnFailed:
		s.logger.Warn().Err(ev.Err).Str("stage", string(ev.Stage)).Str("uid", ev.UID).Msg("spawn failed, supervisor retrying")

	case EventIngestStarted:
		if !s.running || !s.ingestEnabled || s.live {
			return
		}
		s.preempt(ctx, ev)

	case EventIngestEnded:
		if !s.live || ev.Seq != s.liveSeq {
			return
		}
		s.resume(ctx)

	case EventStalled:
		if ev.Stage == models.StageEncode {
			s.encoderUp = false
		}
		s.blocked = true
		if cur := s.current; cur != nil && !cur.filler {
			s.nextIndex = cur.index
		}
		s.current = nil
		reason := "supervisor stalled"
		if ev.Err != nil {
			reason = ev.Err.Error()
		}
		s.stall(reason)

	case EventStopped:
		s.logger.Debug().Msg("supervisor stopped all processes")
	}
	s.publish()
}

func (s *Scheduler) handleLoad(ctx context.Context, r loadResult) {
	delete(s.loading, loadKey(r.start))
	if !s.running {
		return
	}

	now := s.now()
	current, _ := s.ch.DayBounds(now)
	date := r.start.Format(models.DateLayout)

	if r.err != nil {
		s.logger.Error().Err(r.err).Str("date", date).Msg("playlist load failed")
		if r.start.Equal(current) && s.day == nil {
			s.stall(fmt.Sprintf("playlist %s unavailable: %v", date, r.err))
			s.publish()
		}
		return
	}

	switch {
	case r.start.After(current):
		s.nextDay = r.day
		s.logger.Info().Str("date", date).Msg("next day prefetched")
		return
	case r.start.Before(current):
		s.logger.Debug().Str("date", date).Msg("dropping stale playlist")
		return
	}

	reloaded := s.day != nil
	s.day = r.day
	if s.health == models.HealthStalled && !s.blocked {
		s.clearStall()
	}
	if !r.day.Resolvable() {
		// Slate keeps the output alive underneath the stall.
		s.stall(fmt.Sprintf("no resolvable media in playlist %s", date))
	}

	if reloaded && s.current != nil && !s.current.filler {
		if i, ok := indexOf(r.day.Playlist.Program, s.current.item.UID); ok {
			// The item on air is still scheduled; keep it running.
			s.current.index = i
			s.nextIndex = i + 1
			s.publish()
			return
		}
	}

	offset := now.Sub(r.day.Start).Seconds()
	if i, _, ok := r.day.Playlist.IndexAt(offset); ok {
		s.nextIndex = i
	} else {
		s.nextIndex = len(r.day.Playlist.Program)
	}
	s.resync = true
	if s.live {
		return
	}
	s.advance(ctx)
	s.publish()
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.running {
		return
	}
	now := s.now()

	if s.health == models.HealthStalled && now.Sub(s.stalledAt) >= s.ch.Timing.RetryInterval {
		s.recover(ctx)
	}

	if s.health != models.HealthFatal {
		if s.day == nil {
			start, _ := s.ch.DayBounds(now)
			if s.canAttempt(start, now) {
				s.requestLoad(ctx, start)
			}
		} else if s.nextDay == nil {
			end := s.day.Start.Add(seconds(s.ch.DayLength))
			if !now.Before(end.Add(-s.ch.Timing.Prefetch)) {
				next := s.day.Start.AddDate(0, 0, 1)
				if s.canAttempt(next, now) {
					s.requestLoad(ctx, next)
				}
			}
		}
	}

	s.watchdog(ctx, now)

	if s.current == nil && !s.live && s.health != models.HealthFatal {
		s.advance(ctx)
	}
	s.publish()
}

// watchdog skips a decode stage that runs past its slot.
func (s *Scheduler) watchdog(ctx context.Context, now time.Time) {
	cur := s.current
	if cur == nil || cur.skipping || s.live {
		return
	}
	over := now.Sub(cur.started) - seconds(cur.length)
	if over <= s.ch.Timing.OverrunGrace {
		return
	}
	s.logger.Warn().
		Str("uid", cur.item.UID).
		Dur("overrun", over).
		Msg("decoder overran its slot, skipping")
	cur.skipping = true
	cur.skipReason = "overrun"
	if err := s.sup.Send(ctx, Command{Kind: CmdSkip, Seq: cur.seq, UID: cur.item.UID}); err != nil {
		s.logger.Error().Err(err).Msg("failed to send skip")
	}
}

// advance starts whatever is due at the current wall clock time.
func (s *Scheduler) advance(ctx context.Context) {
	if !s.running || s.live || !s.encoderUp || s.blocked {
		return
	}
	defer func() { s.resync = false }()

	now := s.now()
	for {
		if s.day == nil {
			s.playFiller(ctx, fillerChunk, "waiting for playlist")
			return
		}

		program := s.day.Playlist.Program
		dayLen := s.ch.DayLength
		offset := now.Sub(s.day.Start).Seconds()
		if offset >= dayLen-minRemaining {
			s.rollover(ctx, now)
			return
		}

		p := planNext(program, s.nextIndex, offset, s.ch.Timing.DriftThreshold)
		s.notePlan(p, offset)

		if p.Index < 0 {
			s.nextIndex = len(program)
			s.playFiller(ctx, dayLen-offset, "program ended")
			return
		}
		s.nextIndex = p.Index
		if p.Filler > 0 {
			s.playFiller(ctx, p.Filler, "early")
			return
		}
		if s.playItem(ctx, p.Index, p.Seek) {
			return
		}
		s.nextIndex = p.Index + 1
	}
}

func (s *Scheduler) notePlan(p plan, offset float64) {
	if !p.Corrected {
		return
	}
	program := s.day.Playlist.Program
	for _, i := range p.Skipped {
		s.skipped(program[i], "drift")
	}
	if s.resync {
		ev := s.logger.Info().Float64("offset", round3(offset)).Int("passed", len(p.Skipped))
		if p.Index >= 0 {
			ev = ev.Str("uid", program[p.Index].UID).Float64("seek", round3(p.Seek))
		}
		ev.Msg("joining program at wall clock position")
		return
	}
	logPlan(s.logger, p, program, offset)
	kind := correctionKind(p)
	telemetry.Corrections.WithLabelValues(s.ch.ID, kind).Inc()
	s.status.Emit(events.EventCorrection, events.Payload{
		"kind":    kind,
		"shift":   round3(p.Shift),
		"skipped": len(p.Skipped),
	})
}

// playItem starts item index at seek. It returns false when the item
// cannot be played and should be passed over.
func (s *Scheduler) playItem(ctx context.Context, index int, seek float64) bool {
	item := s.day.Playlist.Program[index]
	logger := s.logger.With().Str("uid", item.UID).Int("index", index).Logger()

	if s.day.Missing[item.UID] {
		logger.Warn().Str("source", item.Source).Msg("source not found, skipping item")
		s.skipped(item, "missing")
		return false
	}

	dayLen := s.ch.DayLength
	if !item.Overtime && item.End() > dayLen {
		item.Duration = dayLen - item.Begin
		logger.Debug().Float64("duration", item.Duration).Msg("item capped at day end")
	}
	if item.Duration-seek < minRemaining {
		return false
	}

	info, ok := s.day.Media[item.UID]
	if !ok {
		info = s.defaultInfo()
	}
	args, err := s.builder.DecoderArgs(item, info, seek)
	if err != nil {
		logger.Error().Err(err).Msg("cannot build decode command, skipping item")
		s.skipped(item, "command")
		return false
	}

	s.seq++
	s.current = &playing{
		seq:     s.seq,
		index:   index,
		item:    item,
		seek:    seek,
		length:  item.Duration - seek,
		started: s.now(),
	}
	s.nextIndex = index + 1
	if err := s.sup.Send(ctx, Command{Kind: CmdPlay, Seq: s.seq, UID: item.UID, Args: args}); err != nil {
		logger.Error().Err(err).Msg("failed to send play command")
		s.current = nil
		s.nextIndex = index
		return true
	}

	s.setState(models.StatePlayingPlaylist)
	telemetry.ItemsStarted.WithLabelValues(s.ch.ID, "item").Inc()
	logger.Info().
		Str("source", item.Source).
		Str("title", item.DisplayTitle()).
		Float64("seek", round3(seek)).
		Float64("length", round3(item.Duration-seek)).
		Msg("playing item")
	s.status.Emit(events.EventNowPlaying, events.Payload{
		"uid":    item.UID,
		"index":  index,
		"title":  item.DisplayTitle(),
		"source": item.Source,
		"seek":   round3(seek),
		"date":   s.day.Date(),
	})
	return true
}

func (s *Scheduler) playFiller(ctx context.Context, length float64, reason string) {
	info := s.defaultInfo()
	if s.day != nil && s.day.Filler.Duration > 0 {
		info = s.day.Filler
	}
	item := models.PlayItem{UID: "filler", Source: s.ch.Filler, Duration: length, Category: models.CategoryFiller}
	if item.Source == "" {
		item.Source = models.SlateSource
	}
	args, err := s.builder.FillerArgs(length, info)
	if err != nil {
		s.logger.Error().Err(err).Str("reason", reason).Msg("cannot build filler command, falling back to slate")
		args = s.builder.SlateArgs(length)
		item.Source = models.SlateSource
	}

	s.seq++
	s.current = &playing{seq: s.seq, index: -1, item: item, length: length, started: s.now(), filler: true}
	if err := s.sup.Send(ctx, Command{Kind: CmdPlay, Seq: s.seq, UID: item.UID, Args: args}); err != nil {
		s.logger.Error().Err(err).Msg("failed to send filler command")
		s.current = nil
		return
	}
	if s.state == models.StateIdle {
		s.setState(models.StatePlayingPlaylist)
	}
	telemetry.ItemsStarted.WithLabelValues(s.ch.ID, "filler").Inc()
	s.logger.Debug().Float64("length", round3(length)).Str("reason", reason).Msg("playing filler")
}

// rollover switches to the next day once the current one has ended.
func (s *Scheduler) rollover(ctx context.Context, now time.Time) {
	s.setState(models.StateRollingOver)
	start, date := s.ch.DayBounds(now)

	if s.day != nil && start.Equal(s.day.Start) {
		// Past day_length but before the next day begins.
		next := s.day.Start.AddDate(0, 0, 1)
		s.playFiller(ctx, next.Sub(now).Seconds(), "day ended")
		return
	}

	if s.nextDay != nil && s.nextDay.Start.Equal(start) {
		prev := ""
		if s.day != nil {
			prev = s.day.Date()
		}
		s.day, s.nextDay = s.nextDay, nil
		s.nextIndex = 0
		s.logger.Info().Str("from", prev).Str("to", date).Msg("day rollover")
		s.status.Emit(events.EventPlaylist, events.Payload{"date": date, "source": s.day.Source})
		s.advance(ctx)
		return
	}

	s.logger.Warn().Str("date", date).Msg("next day not ready at rollover")
	s.day = nil
	s.nextDay = nil
	s.requestLoad(ctx, start)
	s.playFiller(ctx, fillerChunk, "waiting for next day")
}

func (s *Scheduler) preempt(ctx context.Context, ev Event) {
	now := s.now()
	if cur := s.current; cur != nil {
		if !cur.filler {
			s.nextIndex = cur.index
			s.preempted = cur
		}
		s.logger.Info().
			Str("uid", cur.item.UID).
			Float64("elapsed", round3(cur.seek+now.Sub(cur.started).Seconds())).
			Msg("ingest preempts current item")
		s.current = nil
	}

	s.live = true
	s.liveSeq = ev.Seq
	s.liveSince = now
	if err := s.sup.Send(ctx, Command{Kind: CmdSwitchToIngest}); err != nil {
		s.logger.Error().Err(err).Msg("failed to switch to ingest")
	}
	s.setState(models.StatePlayingLive)
	s.status.Emit(events.EventIngest, events.Payload{"live": true})
}

func (s *Scheduler) resume(ctx context.Context) {
	now := s.now()
	s.logger.Info().Dur("live_for", now.Sub(s.liveSince)).Msg("ingest ended, resuming playlist")
	s.live = false
	s.liveSeq = 0
	s.status.Emit(events.EventIngest, events.Payload{"live": false})

	preempted := s.preempted
	s.preempted = nil
	s.setState(models.StatePlayingPlaylist)
	if s.day == nil {
		s.advance(ctx)
		return
	}

	if s.ch.ReplayPreempted && preempted != nil && !s.blocked && s.encoderUp {
		if s.playItem(ctx, preempted.index, 0) {
			return
		}
	}
	s.resync = true
	s.advance(ctx)
}

func (s *Scheduler) stall(reason string) {
	s.setState(models.StateStalled)
	s.health = models.HealthStalled
	s.reason = reason
	s.stalledAt = s.now()
	s.logger.Error().Str("reason", reason).Dur("retry_in", s.ch.Timing.RetryInterval).Msg("channel stalled")
}

func (s *Scheduler) fatal(err error) {
	s.setState(models.StateStalled)
	s.health = models.HealthFatal
	s.reason = err.Error()
	s.logger.Error().Err(err).Msg("channel cannot run")
	s.publish()
}

func (s *Scheduler) clearStall() {
	s.health = models.HealthRunning
	s.reason = ""
	if s.state != models.StateStalled {
		return
	}
	switch {
	case !s.running:
		s.setState(models.StateIdle)
	case s.live:
		s.setState(models.StatePlayingLive)
	default:
		s.setState(models.StatePlayingPlaylist)
	}
}

// recover retries a stalled channel.
func (s *Scheduler) recover(ctx context.Context) {
	s.stalledAt = s.now()
	s.logger.Info().Str("reason", s.reason).Msg("retrying stalled channel")

	args, err := s.builder.EncoderArgs()
	if err != nil {
		s.fatal(err)
		return
	}
	if err := s.sup.Send(ctx, Command{Kind: CmdStartEncoder, Args: args}); err != nil {
		s.logger.Error().Err(err).Msg("failed to restart encoder")
		return
	}
	s.encoderUp = true
	s.blocked = false

	if s.day == nil || !s.day.Resolvable() {
		start, _ := s.ch.DayBounds(s.now())
		s.requestLoad(ctx, start)
	} else {
		s.clearStall()
	}
	s.resync = true
	if s.current == nil && !s.live {
		s.advance(ctx)
	}
}

func (s *Scheduler) requestLoad(ctx context.Context, start time.Time) {
	key := loadKey(start)
	if s.loading[key] {
		return
	}
	s.loading[key] = true
	s.lastAttempt[key] = s.now()

	go func() {
		day, err := s.loader.Load(ctx, start)
		select {
		case s.loads <- loadResult{start: start, day: day, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (s *Scheduler) canAttempt(start time.Time, now time.Time) bool {
	key := loadKey(start)
	if s.loading[key] {
		return false
	}
	last, ok := s.lastAttempt[key]
	return !ok || now.Sub(last) >= s.ch.Timing.RetryInterval
}

func (s *Scheduler) skipped(item models.PlayItem, reason string) {
	telemetry.ItemsSkipped.WithLabelValues(s.ch.ID, reason).Inc()
	s.status.Emit(events.EventItemSkipped, events.Payload{
		"uid":    item.UID,
		"source": item.Source,
		"reason": reason,
	})
}

func (s *Scheduler) setState(state models.SchedulerState) {
	if s.state == state {
		return
	}
	s.logger.Debug().Str("from", string(s.state)).Str("to", string(state)).Msg("state change")
	s.state = state
	telemetry.SetChannelState(s.ch.ID, string(state), allStates)
}

func (s *Scheduler) publish() {
	now := s.now()
	st := models.PlayoutStatus{
		State:     s.state,
		Health:    s.health,
		Mode:      models.ModePlaylist,
		Index:     -1,
		Ingest:    s.ingestEnabled,
		Reason:    s.reason,
		UpdatedAt: now,
	}
	if s.day != nil {
		st.Date = s.day.Date()
	}

	switch cur := s.current; {
	case s.live:
		st.Mode = models.ModeLive
		st.Title = "live ingest"
		st.Elapsed = round3(now.Sub(s.liveSince).Seconds())
	case cur != nil:
		elapsed := cur.seek + now.Sub(cur.started).Seconds()
		st.Elapsed = round3(elapsed)
		st.Title = cur.item.DisplayTitle()
		if !cur.filler {
			item := cur.item
			st.Current = &item
			st.Index = cur.index
			if s.day != nil {
				st.Shift = round3(now.Sub(s.day.Start).Seconds() - (item.Begin + elapsed))
			}
		}
	}

	telemetry.DriftSeconds.WithLabelValues(s.ch.ID).Set(st.Shift)
	s.status.Publish(st)
}

func (s *Scheduler) defaultInfo() mediaengine.MediaInfo {
	return mediaengine.MediaInfo{HasAudio: true, HasVideo: !s.ch.Processing.AudioOnly}
}

func indexOf(program []models.PlayItem, uid string) (int, bool) {
	for i, item := range program {
		if item.UID == uid {
			return i, true
		}
	}
	return -1, false
}

func loadKey(start time.Time) string {
	return start.UTC().Format(time.RFC3339)
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
