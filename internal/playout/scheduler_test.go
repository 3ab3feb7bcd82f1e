/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playout/internal/config"
	"github.com/friendsincode/grimnir_playout/internal/mediaengine"
	"github.com/friendsincode/grimnir_playout/internal/models"
)

type fakeCommander struct {
	mu     sync.Mutex
	cmds   []Command
	stops  int
	events chan Event
}

func (c *fakeCommander) Send(_ context.Context, cmd Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cmds = append(c.cmds, cmd)
	return nil
}

func (c *fakeCommander) Stop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	return nil
}

func (c *fakeCommander) Events() <-chan Event { return c.events }

func (c *fakeCommander) count(kind CommandKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, cmd := range c.cmds {
		if cmd.Kind == kind {
			n++
		}
	}
	return n
}

func (c *fakeCommander) last(t *testing.T, kind CommandKind) Command {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.cmds) - 1; i >= 0; i-- {
		if c.cmds[i].Kind == kind {
			return c.cmds[i]
		}
	}
	t.Fatalf("no %s command sent", kind)
	return Command{}
}

type loaderFunc func(ctx context.Context, start time.Time) (*Day, error)

func (f loaderFunc) Load(ctx context.Context, start time.Time) (*Day, error) { return f(ctx, start) }

var dayZero = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func testChannel() config.ChannelConfig {
	ch := config.ChannelConfig{
		ID:          "news",
		StoragePath: "/srv/news",
		Output:      config.OutputConfig{Mode: config.OutputHLS, Target: "/tmp/news/index.m3u8"},
		Ingest:      config.IngestConfig{Enabled: true, Endpoint: "rtmp://127.0.0.1:1936/live/news"},
	}
	ch.ApplyDefaults()
	return ch
}

func itemUID(date string, i int) string {
	return fmt.Sprintf("%s-%d", date, i)
}

// minuteDay is ten one-minute items from the top of the day.
func minuteDay(start time.Time) *Day {
	date := start.Format(models.DateLayout)
	program := make([]models.PlayItem, 10)
	for i := range program {
		program[i] = models.PlayItem{
			UID:      itemUID(date, i),
			Begin:    float64(i * 60),
			Source:   fmt.Sprintf("/srv/news/clip-%d.mp4", i),
			Duration: 60,
		}
	}
	return &Day{
		Playlist: models.PlaylistDay{Channel: "news", Date: date, Program: program},
		Start:    start,
		Media:    map[string]mediaengine.MediaInfo{},
		Missing:  map[string]bool{},
	}
}

type schedulerHarness struct {
	s     *Scheduler
	sup   *fakeCommander
	clock *fakeClock
	ctx   context.Context
}

func newHarness(t *testing.T, ch config.ChannelConfig, loader DayLoader) *schedulerHarness {
	t.Helper()
	if loader == nil {
		loader = loaderFunc(func(_ context.Context, start time.Time) (*Day, error) {
			return minuteDay(start), nil
		})
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	clock := &fakeClock{t: dayZero}
	sup := &fakeCommander{events: make(chan Event)}
	s := NewScheduler(SchedulerOptions{
		Channel:    ch,
		Builder:    mediaengine.NewCommandBuilder(ch),
		Supervisor: sup,
		Loader:     loader,
		Clock:      clock.Now,
		Logger:     zerolog.Nop(),
	})
	return &schedulerHarness{s: s, sup: sup, clock: clock, ctx: ctx}
}

func (h *schedulerHarness) at(sec float64) {
	h.clock.t = dayZero.Add(seconds(sec))
}

func (h *schedulerHarness) start(t *testing.T) {
	t.Helper()
	if err := h.s.handleControl(h.ctx, control{kind: ctlStart}); err != nil {
		t.Fatalf("start: %v", err)
	}
}

func (h *schedulerHarness) load(t *testing.T) {
	t.Helper()
	select {
	case r := <-h.s.loads:
		h.s.handleLoad(h.ctx, r)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for playlist load")
	}
}

// finish reports the current decode stage as ended.
func (h *schedulerHarness) finish(err error) {
	cur := h.s.current
	h.s.handleEvent(h.ctx, Event{Kind: EventDecoderExited, Stage: models.StageDecode, Seq: cur.seq, UID: cur.item.UID, Err: err, Intentional: cur.skipping})
}

func hasPair(args []string, flag, value string) bool {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag && args[i+1] == value {
			return true
		}
	}
	return false
}

func TestSchedulerStartsAtWallClockPosition(t *testing.T) {
	h := newHarness(t, testChannel(), nil)
	h.at(125)
	h.start(t)

	if got := h.sup.count(CmdStartEncoder); got != 1 {
		t.Fatalf("StartEncoder sent %d times", got)
	}
	ingest := h.sup.last(t, CmdIngest)
	if !ingest.Enable || len(ingest.Args) == 0 {
		t.Fatalf("ingest not enabled: %+v", ingest)
	}
	if play := h.sup.last(t, CmdPlay); play.UID != "filler" {
		t.Fatalf("expected filler while loading, got %s", play.UID)
	}
	if st := h.s.Status(); st.State != models.StatePlayingPlaylist || st.Health != models.HealthRunning {
		t.Fatalf("status while loading = %s/%s", st.State, st.Health)
	}

	h.load(t)

	play := h.sup.last(t, CmdPlay)
	if play.UID != itemUID("2026-03-01", 2) {
		t.Fatalf("playing %s, want item 2", play.UID)
	}
	if !hasPair(play.Args, "-ss", "5") {
		t.Errorf("expected seek of 5s in %v", play.Args)
	}
	st := h.s.Status()
	if st.State != models.StatePlayingPlaylist || st.Index != 2 || st.Date != "2026-03-01" {
		t.Errorf("status = %+v", st)
	}
}

func TestSchedulerIngestResumesAtWallClock(t *testing.T) {
	h := newHarness(t, testChannel(), nil)
	h.start(t)
	h.load(t)

	for i := 1; i <= 3; i++ {
		h.at(float64(60 * i))
		h.finish(nil)
	}
	if uid := h.sup.last(t, CmdPlay).UID; uid != itemUID("2026-03-01", 3) {
		t.Fatalf("before ingest playing %s, want item 3", uid)
	}
	preemptedSeq := h.s.current.seq
	plays := h.sup.count(CmdPlay)

	// 42 seconds into item 3.
	h.at(222)
	liveSeq := ingestSeqBase | 1
	h.s.handleEvent(h.ctx, Event{Kind: EventIngestStarted, Stage: models.StageIngest, Seq: liveSeq})

	if h.sup.count(CmdSwitchToIngest) != 1 {
		t.Fatal("switch to ingest not sent")
	}
	st := h.s.Status()
	if st.State != models.StatePlayingLive || st.Mode != models.ModeLive {
		t.Fatalf("status after ingest = %s/%s", st.State, st.Mode)
	}

	// The preempted decoder's exit must not advance the playlist.
	h.s.handleEvent(h.ctx, Event{Kind: EventDecoderExited, Seq: preemptedSeq, Intentional: true})
	if got := h.sup.count(CmdPlay); got != plays {
		t.Fatalf("playlist advanced while live: %d plays, want %d", got, plays)
	}

	h.at(252)
	h.s.handleEvent(h.ctx, Event{Kind: EventIngestEnded, Stage: models.StageIngest, Seq: liveSeq})

	play := h.sup.last(t, CmdPlay)
	if play.UID != itemUID("2026-03-01", 4) {
		t.Fatalf("resumed with %s, want item 4", play.UID)
	}
	if !hasPair(play.Args, "-ss", "12") || !hasPair(play.Args, "-t", "48") {
		t.Errorf("expected -ss 12 -t 48 in %v", play.Args)
	}
	st = h.s.Status()
	if st.State != models.StatePlayingPlaylist || st.Mode != models.ModePlaylist || st.Index != 4 {
		t.Errorf("status after resume = %+v", st)
	}
}

func TestSchedulerReplaysPreemptedItem(t *testing.T) {
	ch := testChannel()
	ch.ReplayPreempted = true
	h := newHarness(t, ch, nil)
	h.start(t)
	h.load(t)

	h.at(60)
	h.finish(nil)
	h.at(75)
	h.s.handleEvent(h.ctx, Event{Kind: EventIngestStarted, Seq: ingestSeqBase | 1})
	h.at(90)
	h.s.handleEvent(h.ctx, Event{Kind: EventIngestEnded, Seq: ingestSeqBase | 1})

	play := h.sup.last(t, CmdPlay)
	if play.UID != itemUID("2026-03-01", 1) {
		t.Fatalf("resumed with %s, want item 1 replayed", play.UID)
	}
	if hasPair(play.Args, "-ss", "30") {
		t.Errorf("replayed item should start from its top: %v", play.Args)
	}
}

func TestSchedulerDecoderCrashAdvances(t *testing.T) {
	h := newHarness(t, testChannel(), nil)
	h.start(t)
	h.load(t)

	h.at(30)
	h.finish(&models.ProcessCrash{Stage: models.StageDecode, ExitCode: 1, Stderr: []string{"moov atom not found"}})

	if play := h.sup.last(t, CmdPlay); play.UID != "filler" || !hasPair(play.Args, "-t", "30") {
		t.Fatalf("after crash expected 30s of slate, got %s %v", play.UID, play.Args)
	}
	h.at(60)
	h.finish(nil)
	if uid := h.sup.last(t, CmdPlay).UID; uid != itemUID("2026-03-01", 1) {
		t.Fatalf("playing %s, want item 1 on time", uid)
	}
	if got := h.sup.count(CmdStartEncoder); got != 1 {
		t.Errorf("encoder restarted on decoder crash: %d starts", got)
	}
	if h.s.Health() != models.HealthRunning {
		t.Errorf("health = %s", h.s.Health())
	}
}

func TestSchedulerEncoderRestartReseeks(t *testing.T) {
	h := newHarness(t, testChannel(), nil)
	h.start(t)
	h.load(t)

	h.at(20)
	h.s.handleEvent(h.ctx, Event{Kind: EventEncoderExited, Stage: models.StageEncode, Err: errors.New("crash")})
	if h.s.current != nil {
		t.Fatal("current item kept after encoder exit")
	}

	h.at(23)
	h.s.handleEvent(h.ctx, Event{Kind: EventEncoderRestarted, Stage: models.StageEncode})

	play := h.sup.last(t, CmdPlay)
	if play.UID != itemUID("2026-03-01", 0) || !hasPair(play.Args, "-ss", "23") {
		t.Fatalf("expected item 0 at 23s, got %s %v", play.UID, play.Args)
	}
}

func TestSchedulerWatchdogSkipsOverrun(t *testing.T) {
	h := newHarness(t, testChannel(), nil)
	h.start(t)
	h.load(t)

	h.at(64)
	h.s.tick(h.ctx)
	if h.sup.count(CmdSkip) != 0 {
		t.Fatal("skipped within the grace period")
	}

	h.at(66)
	h.s.tick(h.ctx)
	if h.sup.count(CmdSkip) != 1 {
		t.Fatal("overrunning decoder not skipped")
	}
	h.finish(nil)

	play := h.sup.last(t, CmdPlay)
	if play.UID != itemUID("2026-03-01", 1) || !hasPair(play.Args, "-ss", "6") {
		t.Fatalf("expected item 1 at 6s, got %s %v", play.UID, play.Args)
	}
}

func TestSchedulerPrefetchAndRollover(t *testing.T) {
	var mu sync.Mutex
	var requested []string
	loader := loaderFunc(func(_ context.Context, start time.Time) (*Day, error) {
		mu.Lock()
		requested = append(requested, start.Format(models.DateLayout))
		mu.Unlock()
		return minuteDay(start), nil
	})

	h := newHarness(t, testChannel(), loader)
	h.start(t)
	h.load(t)

	// The program ends long before the day does.
	h.at(86340)
	h.finish(nil)
	play := h.sup.last(t, CmdPlay)
	if play.UID != "filler" || !hasPair(play.Args, "-t", "60") {
		t.Fatalf("expected 60s of filler to day end, got %s %v", play.UID, play.Args)
	}

	h.s.tick(h.ctx)
	h.load(t)
	if h.s.nextDay == nil || h.s.nextDay.Date() != "2026-03-02" {
		t.Fatal("next day not prefetched")
	}

	h.at(86401)
	h.finish(nil)

	play = h.sup.last(t, CmdPlay)
	if play.UID != itemUID("2026-03-02", 0) {
		t.Fatalf("after rollover playing %s", play.UID)
	}
	if hasPair(play.Args, "-ss", "1") {
		t.Errorf("one second of shift is within threshold and must not seek: %v", play.Args)
	}
	if h.s.day.Date() != "2026-03-02" || h.s.Status().Date != "2026-03-02" {
		t.Errorf("active day = %s", h.s.day.Date())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(requested) != 2 || requested[1] != "2026-03-02" {
		t.Errorf("loads = %v", requested)
	}
}

func TestSchedulerCapsItemsAtDayEnd(t *testing.T) {
	ch := testChannel()
	ch.DayLength = 570
	h := newHarness(t, ch, nil)
	h.at(540)
	h.start(t)
	h.load(t)

	play := h.sup.last(t, CmdPlay)
	if play.UID != itemUID("2026-03-01", 9) || !hasPair(play.Args, "-t", "30") {
		t.Fatalf("expected item 9 capped to 30s, got %s %v", play.UID, play.Args)
	}
}

func TestSchedulerStallAndRetry(t *testing.T) {
	h := newHarness(t, testChannel(), nil)
	h.start(t)
	h.load(t)

	h.at(10)
	h.s.handleEvent(h.ctx, Event{Kind: EventStalled, Stage: models.StageEncode, Err: errors.New("encoder restart limit reached")})
	st := h.s.Status()
	if st.Health != models.HealthStalled || st.State != models.StateStalled {
		t.Fatalf("status after stall = %s/%s", st.State, st.Health)
	}
	if st.Reason == "" {
		t.Error("stall reason missing")
	}

	h.at(20)
	h.s.tick(h.ctx)
	if h.sup.count(CmdStartEncoder) != 1 {
		t.Fatal("retried before the retry interval")
	}

	h.at(40)
	h.s.tick(h.ctx)
	if h.sup.count(CmdStartEncoder) != 2 {
		t.Fatal("stalled channel not retried")
	}
	if h.s.Health() != models.HealthRunning {
		t.Errorf("health after retry = %s", h.s.Health())
	}
	play := h.sup.last(t, CmdPlay)
	if play.UID != itemUID("2026-03-01", 0) || !hasPair(play.Args, "-ss", "40") {
		t.Errorf("expected item 0 at 40s, got %s %v", play.UID, play.Args)
	}
}

func TestSchedulerLoadFailureKeepsFiller(t *testing.T) {
	loader := loaderFunc(func(context.Context, time.Time) (*Day, error) {
		return nil, errors.New("no playlist")
	})
	h := newHarness(t, testChannel(), loader)
	h.start(t)
	h.load(t)

	if h.s.Health() != models.HealthStalled {
		t.Fatalf("health = %s, want stalled", h.s.Health())
	}

	h.at(10)
	h.finish(nil)
	if play := h.sup.last(t, CmdPlay); play.UID != "filler" {
		t.Fatalf("expected filler while stalled, got %s", play.UID)
	}
	if got := h.sup.count(CmdPlay); got != 2 {
		t.Errorf("filler chunks = %d, want 2", got)
	}
}

func TestSchedulerSkipsMissingMedia(t *testing.T) {
	loader := loaderFunc(func(_ context.Context, start time.Time) (*Day, error) {
		day := minuteDay(start)
		day.Missing[itemUID("2026-03-01", 0)] = true
		return day, nil
	})
	h := newHarness(t, testChannel(), loader)
	h.start(t)
	h.load(t)

	play := h.sup.last(t, CmdPlay)
	if play.UID != "filler" || !hasPair(play.Args, "-t", "60") {
		t.Fatalf("expected 60s of slate for the missing item, got %s %v", play.UID, play.Args)
	}

	h.at(60)
	h.finish(nil)
	play = h.sup.last(t, CmdPlay)
	if play.UID != itemUID("2026-03-01", 1) || hasPair(play.Args, "-ss", "0") {
		t.Fatalf("expected item 1 on time, got %s %v", play.UID, play.Args)
	}
}

func TestSchedulerStallsWithoutResolvableMedia(t *testing.T) {
	var resolvable atomic.Bool
	loader := loaderFunc(func(_ context.Context, start time.Time) (*Day, error) {
		day := minuteDay(start)
		if !resolvable.Load() {
			for _, item := range day.Playlist.Program {
				day.Missing[item.UID] = true
			}
		}
		return day, nil
	})
	h := newHarness(t, testChannel(), loader)
	h.at(30)
	h.start(t)
	h.load(t)

	st := h.s.Status()
	if st.Health != models.HealthStalled || st.State != models.StateStalled {
		t.Fatalf("status = %s/%s, want stalled", st.State, st.Health)
	}
	if !strings.Contains(st.Reason, "no resolvable media") {
		t.Errorf("reason = %q", st.Reason)
	}
	play := h.sup.last(t, CmdPlay)
	if play.UID != "filler" || !strings.Contains(strings.Join(play.Args, " "), "anullsrc") {
		t.Fatalf("expected slate under the stall, got %s %v", play.UID, play.Args)
	}

	// The retry reloads the day instead of clearing the stall.
	resolvable.Store(true)
	h.at(60)
	h.s.tick(h.ctx)
	h.load(t)

	st = h.s.Status()
	if st.Health != models.HealthRunning || st.State != models.StatePlayingPlaylist {
		t.Fatalf("status after reload = %s/%s", st.State, st.Health)
	}
	if uid := h.sup.last(t, CmdPlay).UID; uid != itemUID("2026-03-01", 1) {
		t.Errorf("playing %s, want item 1", uid)
	}
}

func TestSchedulerMalformedChannelFilterPlaysSlate(t *testing.T) {
	ch := testChannel()
	ch.Filler = "/srv/news/filler.mp4"
	ch.Processing.CustomFilter = "hue=s=0,,"
	h := newHarness(t, ch, nil)
	h.start(t)
	h.load(t)
	h.at(1)
	h.s.tick(h.ctx)

	if got := h.sup.count(CmdPlay); got < 2 {
		t.Fatalf("decode stages started = %d, want slate before and after load", got)
	}
	play := h.sup.last(t, CmdPlay)
	cmd := strings.Join(play.Args, " ")
	if play.UID != "filler" || !strings.Contains(cmd, "anullsrc") || strings.Contains(cmd, "filler.mp4") {
		t.Fatalf("expected slate fallback, got %s %v", play.UID, play.Args)
	}
	if st := h.s.Status(); st.State != models.StatePlayingPlaylist {
		t.Errorf("state = %s", st.State)
	}
}

func TestSchedulerFatalWithoutOutput(t *testing.T) {
	ch := testChannel()
	ch.Output.Target = ""
	h := newHarness(t, ch, nil)

	if err := h.s.handleControl(h.ctx, control{kind: ctlStart}); err == nil {
		t.Fatal("expected start to fail")
	}
	if h.s.Health() != models.HealthFatal {
		t.Errorf("health = %s, want fatal", h.s.Health())
	}
	if h.sup.count(CmdStartEncoder) != 0 {
		t.Error("encoder started without output target")
	}
}

func TestSchedulerControls(t *testing.T) {
	h := newHarness(t, testChannel(), nil)

	if err := h.s.handleControl(h.ctx, control{kind: ctlSkip}); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("skip while stopped: %v", err)
	}

	h.start(t)
	h.load(t)

	if err := h.s.handleControl(h.ctx, control{kind: ctlSkip}); err != nil {
		t.Fatalf("skip: %v", err)
	}
	if h.sup.count(CmdSkip) != 1 {
		t.Fatal("skip not sent")
	}

	if err := h.s.handleControl(h.ctx, control{kind: ctlIngest, enable: false}); err != nil {
		t.Fatalf("disable ingest: %v", err)
	}
	if cmd := h.sup.last(t, CmdIngest); cmd.Enable {
		t.Fatal("ingest still enabled")
	}

	if err := h.s.handleControl(h.ctx, control{kind: ctlStop}); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if h.sup.stops != 1 {
		t.Errorf("supervisor stopped %d times", h.sup.stops)
	}
	st := h.s.Status()
	if st.Health != models.HealthStopped || st.State != models.StateIdle {
		t.Errorf("status after stop = %s/%s", st.State, st.Health)
	}
}

func TestSchedulerRunControlRoundTrip(t *testing.T) {
	h := newHarness(t, testChannel(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.s.Run(ctx) }()

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer reqCancel()
	if err := h.s.Start(reqCtx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.s.Reload(reqCtx); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	if err := h.s.Skip(context.Background()); !errors.Is(err, ErrSchedulerStopped) {
		t.Errorf("Skip after Run = %v", err)
	}
}
