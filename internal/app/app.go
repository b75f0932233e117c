// Package app wires the storage, feed, rendering and dispatch layers
// together and runs the scheduled jobs.
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/BPS-Circular-API/discord-bot/internal/config"
	"github.com/BPS-Circular-API/discord-bot/internal/feed"
	"github.com/BPS-Circular-API/discord-bot/internal/logging"
	"github.com/BPS-Circular-API/discord-bot/internal/notify"
	"github.com/BPS-Circular-API/discord-bot/internal/platform/discord"
	"github.com/BPS-Circular-API/discord-bot/internal/storage"
)

const defaultEmbedColor = 0x00AEFF

type App struct {
	cfgPath string
	watcher *config.Watcher
	log     zerolog.Logger

	store      *storage.Store
	feed       *feed.Client
	poller     *feed.Poller
	discord    *discord.Adapter
	renderer   *notify.Renderer
	dispatcher *notify.Dispatcher
	maintainer *notify.Maintainer

	checkEvery  time.Duration
	backupEvery time.Duration
	statusEvery time.Duration

	statusMu  sync.Mutex
	statusIdx int
}

// New loads the config and builds every component. The poller is completed
// in Run once the category list is known.
func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	// Storage opens before the real logger exists because the logger's
	// database sink is the store itself.
	boot := logging.Console(cfg.Logging.Level)
	busy, _ := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		DSN:         cfg.Storage.DSN,
		BusyTimeout: busy,
	}, boot.With().Str("comp", "storage").Logger())
	if err != nil {
		return nil, err
	}

	var sink logging.Sink
	if cfg.Logging.Database.Enabled {
		sink = store
	}
	log := logging.New(cfg.Logging, sink)

	adapter, err := discord.New(cfg.Discord.Token, log.With().Str("comp", "discord").Logger())
	if err != nil {
		store.Close()
		return nil, err
	}

	apiTimeout, _ := config.ParseDurationOrDefault("api.timeout", cfg.API.Timeout, 5*time.Second)
	feedClient := feed.NewClient(feed.ClientConfig{
		BaseURL:     cfg.API.BaseURL,
		FallbackURL: cfg.API.FallbackURL,
		Timeout:     apiTimeout,
	}, log.With().Str("comp", "feed").Logger())

	renderer := notify.NewRenderer(notify.EmbedStyle{
		Title:  cfg.Embed.Title,
		Footer: cfg.Embed.Footer,
		Color:  notify.ParseColor(cfg.Embed.Color, defaultEmbedColor),
		URL:    cfg.Embed.URL,
	})
	dispatcher := notify.NewDispatcher(notify.DispatcherConfig{},
		adapter, store, store, feedClient, renderer,
		log.With().Str("comp", "dispatch").Logger())
	maintainer := notify.NewMaintainer(adapter, store, store, feedClient, renderer,
		log.With().Str("comp", "maintenance").Logger())

	checkEvery, _ := config.ParseDurationOrDefault("feed.check_interval", cfg.Feed.CheckInterval, time.Hour)
	backupEvery, _ := config.ParseDurationField("feed.backup_interval", cfg.Feed.BackupInterval)
	statusEvery, _ := config.ParseDurationOrDefault("discord.status_interval", cfg.Discord.StatusInterval, time.Minute)

	return &App{
		cfgPath:     cfgPath,
		watcher:     config.NewWatcher(cfgPath, cfg, log.With().Str("comp", "config").Logger()),
		log:         log.With().Str("comp", "app").Logger(),
		store:       store,
		feed:        feedClient,
		discord:     adapter,
		renderer:    renderer,
		dispatcher:  dispatcher,
		maintainer:  maintainer,
		checkEvery:  checkEvery,
		backupEvery: backupEvery,
		statusEvery: statusEvery,
	}, nil
}

// Maintainer exposes the bulk-edit operations to the owner command surface.
func (a *App) Maintainer() *notify.Maintainer { return a.maintainer }

func (a *App) Dispatcher() *notify.Dispatcher { return a.dispatcher }

func (a *App) Store() *storage.Store { return a.store }

// Run connects the gateway and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.discord.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.discord.Stop(stopCtx); err != nil {
			a.log.Warn().Err(err).Msg("gateway close failed")
		}
	}()

	categories, err := a.categories(ctx)
	if err != nil {
		return fmt.Errorf("resolve categories: %w", err)
	}
	cfg := a.watcher.Get()
	a.poller = feed.NewPoller(feed.PollerConfig{
		Categories:     categories,
		MaxNewPerCycle: cfg.Feed.MaxNewPerCycle,
		Ignored:        cfg.Feed.IgnoredCirculars,
	}, a.feed, a.store, a.log.With().Str("comp", "poller").Logger())
	a.log.Info().Strs("categories", categories).Dur("interval", a.checkEvery).Msg("poll loop configured")

	c := a.scheduler(ctx)
	c.Start()
	defer func() { <-c.Stop().Done() }()

	a.watcher.OnReload = func(cfg *config.Config) {
		zerolog.SetGlobalLevel(logging.ParseLevel(cfg.Logging.Level, zerolog.InfoLevel))
		a.log.Info().Str("level", cfg.Logging.Level).Msg("config reloaded")
	}

	// First check right away; the cron entry only fires after one interval.
	a.checkOnce(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := a.watcher.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	return g.Wait()
}

func (a *App) Close() error {
	return a.store.Close()
}

// scheduler builds the cron with every periodic job. A check cycle can
// outlast its interval when the API crawls, so overlapping runs are skipped
// rather than queued.
func (a *App) scheduler(ctx context.Context) *cron.Cron {
	cl := a.log.With().Str("comp", "cron").Logger()
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(&cl))))

	add := func(every time.Duration, job func()) {
		if _, err := c.AddFunc("@every "+every.String(), job); err != nil {
			a.log.Error().Err(err).Dur("every", every).Msg("schedule job")
		}
	}

	add(a.checkEvery, func() { a.checkOnce(ctx) })

	if a.backupEvery > 0 {
		if a.store.Driver() == "sqlite" {
			add(a.backupEvery, func() { a.backupOnce(ctx) })
		} else {
			a.log.Info().Str("driver", a.store.Driver()).Msg("backups left to the database server")
		}
	}

	cfg := a.watcher.Get()
	if len(cfg.Discord.Statuses) > 0 && a.statusEvery > 0 {
		add(a.statusEvery, func() { a.rotateStatus(ctx) })
	}

	if cfg.Logging.Database.Enabled {
		maxRows := cfg.Logging.Database.MaxRows
		add(24*time.Hour, func() {
			if err := a.store.PruneLogs(ctx, maxRows); err != nil {
				a.log.Error().Err(err).Msg("prune logs")
			}
		})
	}
	return c
}

// checkOnce runs one poll cycle and dispatches every new circular in
// deterministic category order.
func (a *App) checkOnce(ctx context.Context) {
	fresh, err := a.poller.Check(ctx)
	if err != nil {
		a.log.Error().Err(err).Msg("check cycle failed")
		return
	}
	if len(fresh) == 0 {
		return
	}

	categories := make([]string, 0, len(fresh))
	for cat := range fresh {
		categories = append(categories, cat)
	}
	sort.Strings(categories)

	for _, cat := range categories {
		for _, item := range fresh[cat] {
			// The dispatcher logs its own per-circular summary.
			if _, err := a.dispatcher.Notify(ctx, cat, item); err != nil {
				a.log.Error().Err(err).Int("circular", item.ID).Msg("dispatch failed")
			}
		}
	}
}

func (a *App) backupOnce(ctx context.Context) {
	dir := a.watcher.Get().Feed.BackupDir
	path, err := a.store.Backup(ctx, dir)
	switch {
	case errors.Is(err, storage.ErrBackupUnsupported):
	case err != nil:
		a.log.Error().Err(err).Str("dir", dir).Msg("backup failed")
	default:
		a.log.Info().Str("path", path).Msg("database backed up")
	}
}

func (a *App) rotateStatus(ctx context.Context) {
	statuses := a.watcher.Get().Discord.Statuses
	if len(statuses) == 0 {
		return
	}
	a.statusMu.Lock()
	status := statuses[a.statusIdx%len(statuses)]
	a.statusIdx++
	a.statusMu.Unlock()

	if err := a.discord.SetStatus(ctx, status); err != nil {
		a.log.Warn().Err(err).Msg("status update failed")
	}
}

// categories returns the configured category list, or asks the API when the
// config leaves it empty.
func (a *App) categories(ctx context.Context) ([]string, error) {
	if pinned := a.watcher.Get().Feed.Categories; len(pinned) > 0 {
		return pinned, nil
	}
	cats, err := a.feed.Categories(ctx)
	if err != nil {
		return nil, err
	}
	if len(cats) == 0 {
		return nil, errors.New("api reported no categories")
	}
	return cats, nil
}
