// Package app wires the service together: config, logging, stores, the
// trigger engine, the scheduling facade, and the HTTP surface.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"ayod/internal/config"
	"ayod/internal/eventbus"
	"ayod/internal/httpapi"
	"ayod/internal/jobstore"
	"ayod/internal/notifier"
	"ayod/internal/schedule"
	"ayod/internal/timepoint"
	"ayod/internal/tracker"
	"ayod/internal/trigger"
	"ayod/pkg/cryptobox"
	logx "ayod/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	bus      eventbus.Bus
	store    jobstore.Store
	track    *tracker.Service
	notify   *notifier.Service
	engine   *trigger.Engine
	facade   *schedule.Service
	api      *httpapi.Server
	hist     *history
	sweep    *sweeper
	resolver *timepoint.Resolver

	cancelWatch context.CancelFunc
	histDone    func() // unsubscribes the history consumer
	cfgUpdates  chan *config.Config
	wg          sync.WaitGroup
}

// New loads the config and constructs every component. Nothing is
// started yet; Start brings the runtime up.
func New(cfgPath string) (*App, error) {
	cfgMgr := config.NewManager(cfgPath)
	cfg, err := cfgMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logSvc, rootLog := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log := rootLog.With(logx.String("svc", "app"))
	cfgMgr.SetLogger(rootLog.With(logx.String("svc", "config")))
	cfgMgr.SetValidator(func(_ context.Context, c *config.Config) error {
		return c.Validate()
	})

	a := &App{cfgMgr: cfgMgr, logSvc: logSvc, log: log, bus: eventbus.New()}

	if err := a.build(cfg, rootLog); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, rootLog logx.Logger) error {
	resolver, err := timepoint.NewResolver(cfg.Scheduler.Timezone)
	if err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	a.resolver = resolver

	busyJS, _ := config.ParseDurationField("jobstore.busy_timeout", cfg.JobStore.BusyTimeout)
	store, err := jobstore.Open(jobstore.Config{
		Driver:      cfg.JobStore.Driver,
		Path:        cfg.JobStore.Path,
		BusyTimeout: busyJS,
	}, rootLog.With(logx.String("svc", "jobstore")))
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	a.store = store

	var box *cryptobox.Box
	if key := strings.TrimSpace(cfg.Tracker.CryptoKey); key != "" {
		box, err = cryptobox.New(key)
		if err != nil {
			return fmt.Errorf("tracker.crypto_key: %w", err)
		}
	}
	busyTR, _ := config.ParseDurationField("tracker.busy_timeout", cfg.Tracker.BusyTimeout)
	track, err := tracker.Open(tracker.Config{
		Path:        cfg.Tracker.Path,
		BusyTimeout: busyTR,
	}, box, rootLog.With(logx.String("svc", "tracker")))
	if err != nil {
		return fmt.Errorf("open tracker: %w", err)
	}
	a.track = track

	timeout, _ := config.ParseDurationField("notifier.timeout", cfg.Notifier.Timeout)
	notify, err := notifier.New(notifier.Config{
		BaseURL:       cfg.Notifier.BaseURL,
		PhoneNumberID: cfg.Notifier.PhoneNumberID,
		SenderName:    cfg.Notifier.SenderName,
		Timeout:       timeout,
		RatePerSec:    cfg.Notifier.RatePerSec,
	}, rootLog.With(logx.String("svc", "notifier")))
	if err != nil {
		return fmt.Errorf("notifier: %w", err)
	}
	a.notify = notify

	a.engine = trigger.New(trigger.Config{
		Workers:   cfg.Scheduler.Workers,
		QueueSize: cfg.Scheduler.QueueSize,
	}, store, &countingFirer{next: notify, track: track, log: a.log},
		resolver.Location(), rootLog.With(logx.String("svc", "trigger")), a.bus)

	a.facade = schedule.New(schedule.Config{
		MisfireGrace: cfg.MisfireGraceOrDefault(),
	}, resolver, store, a.engine, rootLog.With(logx.String("svc", "schedule")))

	a.hist = newHistory(defaultHistorySize)

	readHeader, _ := config.ParseDurationField("http.read_header_timeout", cfg.HTTP.ReadHeaderTimeout)
	a.api = httpapi.New(httpapi.Config{
		Addr:              cfg.HTTP.Addr,
		ReadHeaderTimeout: readHeader,
	}, a.facade, track, a, rootLog.With(logx.String("svc", "http")))

	sweep, err := newSweeper(cfg.Maintenance, store, rootLog.With(logx.String("svc", "maintenance")))
	if err != nil {
		return fmt.Errorf("maintenance: %w", err)
	}
	a.sweep = sweep
	return nil
}

// Start reloads persisted jobs into the engine and brings up the HTTP
// surface, the config watcher, and the maintenance sweeper.
func (a *App) Start(ctx context.Context) error {
	if err := a.engine.Start(ctx); err != nil {
		return fmt.Errorf("start trigger engine: %w", err)
	}

	events, done := a.bus.Subscribe(256)
	a.histDone = done
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.hist.run(events)
	}()

	watchCtx, cancel := context.WithCancel(context.Background())
	a.cancelWatch = cancel
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgMgr.Watch(watchCtx)
	}()
	a.cfgUpdates = a.cfgMgr.Subscribe(4)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.applyUpdates(a.cfgUpdates)
	}()

	a.sweep.start()
	a.api.Start()
	a.log.Info("started")
	return nil
}

// applyUpdates consumes hot-reloaded configs. Only logging is applied
// live; the rest takes effect on restart.
func (a *App) applyUpdates(updates <-chan *config.Config) {
	for cfg := range updates {
		if cfg == nil {
			continue
		}
		a.logSvc.Apply(logx.Config{
			Level:   cfg.Logging.Level,
			Console: cfg.Logging.Console,
			File: logx.FileConfig{
				Enabled: cfg.Logging.File.Enabled,
				Path:    cfg.Logging.File.Path,
			},
		})
		a.log.Info("logging config applied", logx.String("level", cfg.Logging.Level))
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.api != nil {
		_ = a.api.Shutdown(ctx)
	}
	a.sweep.stop()
	if a.engine != nil {
		a.engine.Stop(ctx)
	}
	if a.cancelWatch != nil {
		a.cancelWatch()
	}
	if a.histDone != nil {
		a.histDone()
	}
	// Unsubscribe closes the updates channel and ends applyUpdates.
	if a.cfgUpdates != nil {
		a.cfgMgr.Unsubscribe(a.cfgUpdates)
		a.cfgUpdates = nil
	}
	a.wg.Wait()

	if a.track != nil {
		_ = a.track.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Info("stopped")
	if a.logSvc != nil {
		_ = a.logSvc.Close()
	}
	return nil
}

// StatusReport implements httpapi.StatusSource.
func (a *App) StatusReport() httpapi.StatusReport {
	snap := a.engine.Snapshot()
	pending := make([]httpapi.PendingJob, 0, len(snap))
	for _, js := range snap {
		pending = append(pending, httpapi.PendingJob{
			ID:      js.ID,
			Kind:    js.Kind,
			Label:   js.Label,
			NextDue: js.NextDue,
		})
	}
	return httpapi.StatusReport{
		Pending: pending,
		Recent:  a.hist.snapshot(),
	}
}
