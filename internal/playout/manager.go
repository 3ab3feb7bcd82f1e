/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playout

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/friendsincode/grimnir_playout/internal/config"
	"github.com/friendsincode/grimnir_playout/internal/events"
	"github.com/friendsincode/grimnir_playout/internal/logging"
	"github.com/friendsincode/grimnir_playout/internal/media"
	"github.com/friendsincode/grimnir_playout/internal/mediaengine"
	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/playlist"
	"github.com/friendsincode/grimnir_playout/internal/scheduling"
	"github.com/friendsincode/grimnir_playout/internal/smartblock"
)

// ErrUnknownChannel is returned for a channel id that is not configured.
var ErrUnknownChannel = errors.New("unknown channel")

// crashLogWindow suppresses identical crash reports from a retrying stage.
const crashLogWindow = time.Minute

// Channel is one configured channel and its running components.
type Channel struct {
	Config     config.ChannelConfig
	Scheduler  *Scheduler
	Supervisor *Supervisor
	Status     *StatusPublisher

	lock *flock.Flock
}

// ManagerOptions wires a Manager.
type ManagerOptions struct {
	Config   *config.Config
	Channels []config.ChannelConfig
	Store    playlist.Store
	Bus      *events.Bus
	// Prober is optional; without it days are validated for timing only.
	Prober *mediaengine.Prober
	// Cache backs media library scans for generated days.
	Cache media.Cache
	// Launcher defaults to running FFmpegBin.
	Launcher Launcher
	Logger   zerolog.Logger
}

// Manager tracks the channels of this process.
type Manager struct {
	cfg    *config.Config
	store  playlist.Store
	logger zerolog.Logger

	mu       sync.RWMutex
	channels map[string]*Channel
	order    []string
}

// NewManager builds every channel. Nothing runs until Run is called.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Config == nil || opts.Store == nil {
		return nil, errors.New("manager requires config and playlist store")
	}

	launcher := opts.Launcher
	if launcher == nil {
		launcher = NewExecLauncher(opts.Config.FFmpegBin, opts.Logger)
	}
	cache := opts.Cache
	if cache == nil {
		cache = media.NewMemoryCache()
	}

	m := &Manager{
		cfg:      opts.Config,
		store:    opts.Store,
		logger:   opts.Logger.With().Str("component", "playout_manager").Logger(),
		channels: make(map[string]*Channel, len(opts.Channels)),
	}

	for _, ch := range opts.Channels {
		if _, dup := m.channels[ch.ID]; dup {
			return nil, fmt.Errorf("duplicate channel id %q", ch.ID)
		}
		c, err := m.build(ch, opts, launcher, cache)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", ch.ID, err)
		}
		m.channels[ch.ID] = c
		m.order = append(m.order, ch.ID)
	}
	sort.Strings(m.order)
	return m, nil
}

func (m *Manager) build(ch config.ChannelConfig, opts ManagerOptions, launcher Launcher, cache media.Cache) (*Channel, error) {
	if err := mediaengine.ValidateChannel(ch); err != nil {
		return nil, err
	}
	logger := logging.ForChannel(opts.Logger, "playout", ch.ID)

	status := NewStatusPublisher(ch.ID, opts.Bus)
	sup := NewSupervisor(SupervisorOptions{
		Channel:  ch.ID,
		Restart:  ch.Restart,
		Logger:   opts.Logger,
		Deduper:  logging.NewDeduper(crashLogWindow),
		Launcher: launcher,
	})

	loaderOpts := LoaderOptions{
		Channel:   ch,
		Store:     opts.Store,
		Validator: scheduling.NewValidator(scheduling.OptionsFor(ch), opts.Logger),
		Logger:    opts.Logger,
	}
	if opts.Prober != nil {
		loaderOpts.Prober = opts.Prober
	}

	if ch.Generator.Enabled {
		if opts.Prober == nil {
			return nil, errors.New("playlist generation needs a media prober")
		}
		tmpl, err := smartblock.LoadTemplate(ch.Generator.Template)
		if err != nil {
			return nil, err
		}
		folders := ch.Generator.Folders
		if len(folders) == 0 {
			folders = []string{ch.StoragePath}
		}
		loaderOpts.Generator = smartblock.NewGenerator(opts.Logger)
		loaderOpts.Template = &tmpl
		loaderOpts.Library = media.NewLibrary(folders, ch.Generator.Extensions, opts.Prober, cache, opts.Logger)
	}

	sched := NewScheduler(SchedulerOptions{
		Channel:    ch,
		Builder:    mediaengine.NewCommandBuilder(ch),
		Supervisor: sup,
		Loader:     NewLoader(loaderOpts),
		Status:     status,
		Logger:     opts.Logger,
	})

	logger.Debug().
		Str("output", string(ch.Output.Mode)).
		Bool("ingest", ch.Ingest.Enabled).
		Bool("generator", ch.Generator.Enabled).
		Msg("channel configured")

	return &Channel{
		Config:     ch,
		Scheduler:  sched,
		Supervisor: sup,
		Status:     status,
		lock:       flock.New(filepath.Join(m.cfg.LockDir, "playout-"+ch.ID+".lock")),
	}, nil
}

// Run locks, starts and runs every channel until ctx is cancelled. A
// channel that cannot start reports fatal health without stopping the
// others.
func (m *Manager) Run(ctx context.Context) error {
	channels := m.Channels()

	var locked []*Channel
	defer func() {
		for _, c := range locked {
			if err := c.lock.Unlock(); err != nil {
				m.logger.Warn().Err(err).Str("channel", c.Config.ID).Msg("failed to release channel lock")
			}
		}
	}()
	for _, c := range channels {
		ok, err := c.lock.TryLock()
		if err != nil {
			return fmt.Errorf("lock channel %s: %w", c.Config.ID, err)
		}
		if !ok {
			return fmt.Errorf("channel %s is already running in another process (%s)", c.Config.ID, c.lock.Path())
		}
		locked = append(locked, c)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range channels {
		c := c
		g.Go(func() error { return ignoreCanceled(c.Supervisor.Run(gctx)) })
		g.Go(func() error { return ignoreCanceled(c.Scheduler.Run(gctx)) })
		g.Go(func() error {
			if err := c.Scheduler.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Error().Err(err).Str("channel", c.Config.ID).Msg("channel failed to start")
			}
			return nil
		})
		if w, ok := m.store.(playlist.Watcher); ok {
			g.Go(func() error { return m.watch(gctx, w, c) })
		}
	}

	m.logger.Info().Int("channels", len(channels)).Str("instance", m.cfg.InstanceID).Msg("playout running")
	err := g.Wait()
	m.logger.Info().Msg("playout stopped")
	return err
}

// watch reloads a channel when its current or next day changes on disk.
func (m *Manager) watch(ctx context.Context, w playlist.Watcher, c *Channel) error {
	err := w.Watch(ctx, c.Config.ID, func(date string) {
		start, today := c.Config.DayBounds(time.Now())
		tomorrow := start.AddDate(0, 0, 1).Format(models.DateLayout)
		if date != today && date != tomorrow {
			return
		}
		m.logger.Info().Str("channel", c.Config.ID).Str("date", date).Msg("playlist changed")
		if err := c.Scheduler.Reload(ctx); err != nil && !errors.Is(err, ErrNotRunning) {
			m.logger.Warn().Err(err).Str("channel", c.Config.ID).Msg("reload after change failed")
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		// Without a watcher the channel still reloads on demand.
		m.logger.Warn().Err(err).Str("channel", c.Config.ID).Msg("playlist watcher stopped")
	}
	return nil
}

// Shutdown stops every channel's processes. Run keeps going until its
// context is cancelled.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error
	for _, c := range m.Channels() {
		err := c.Scheduler.Stop(ctx)
		if err != nil && !errors.Is(err, ErrSchedulerStopped) && !errors.Is(err, ErrSupervisorStopped) {
			errs = append(errs, fmt.Errorf("stop channel %s: %w", c.Config.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Channel returns the channel with id.
func (m *Manager) Channel(id string) (*Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.channels[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, id)
	}
	return c, nil
}

// Channels returns all channels ordered by id.
func (m *Manager) Channels() []*Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Channel, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.channels[id])
	}
	return out
}

// Statuses returns the latest status of every channel.
func (m *Manager) Statuses() []models.PlayoutStatus {
	channels := m.Channels()
	out := make([]models.PlayoutStatus, 0, len(channels))
	for _, c := range channels {
		out = append(out, c.Status.Snapshot())
	}
	return out
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
