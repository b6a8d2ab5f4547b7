package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"fleetpulse/internal/api"
	"fleetpulse/internal/cache"
	"fleetpulse/internal/clock"
	"fleetpulse/internal/config"
	"fleetpulse/internal/dashboard"
	"fleetpulse/internal/domain"
	"fleetpulse/internal/logging"
	"fleetpulse/internal/notify"
	"fleetpulse/internal/optimistic"
	"fleetpulse/internal/realtime"
	"fleetpulse/internal/refresh"
	"fleetpulse/internal/sla"
	"fleetpulse/internal/store"
	"fleetpulse/internal/timewindow"
)

const (
	probeInterval = 5 * time.Second
	setupTimeout  = 10 * time.Second
)

// Service composes runtime dependencies and process lifecycle.
// Params: config snapshot and shared runtime components.
// Returns: runnable dashboard backend.
type Service struct {
	cfg      config.Config
	logger   *slog.Logger
	closeLog func()
	clock    clock.Clock

	store       store.Store
	memStore    *store.MemoryStore
	cache       cache.Cache
	dispatcher  *notify.Dispatcher
	queue       *notify.Queue
	feed        realtime.Feed
	closeFeed   func() error
	manager     *realtime.Manager
	coordinator *optimistic.Coordinator
	dashboard   *dashboard.Service
	refresher   *refresh.Refresher
	signal      *refresh.Signal
	handler     *api.Handler
	httpSrv     *http.Server

	readyFlag atomic.Bool
	started   atomic.Bool
	cancel    context.CancelFunc
	workers   sync.WaitGroup
	stopOnce  sync.Once
	stopErr   error
}

// NewService builds service instance from config source.
// Params: config source and clock implementation.
// Returns: initialized service or setup error.
func NewService(source config.ConfigSource, clk clock.Clock) (*Service, error) {
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		return nil, err
	}
	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	service, err := NewServiceFromConfig(cfg, clk, logger)
	if err != nil {
		closeLog()
		return nil, err
	}
	service.closeLog = closeLog
	return service, nil
}

// NewServiceFromConfig wires every component from a validated config snapshot.
// Params: config, clock (real clock when nil) and logger.
// Returns: stopped service or setup error; partially built resources are released.
func NewServiceFromConfig(cfg config.Config, clk clock.Clock, logger *slog.Logger) (*Service, error) {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{cfg: cfg, logger: logger, clock: clk}

	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()

	steps := []func(context.Context) error{
		s.buildStore,
		s.buildCache,
		s.buildNotify,
		s.buildFeed,
		s.buildCore,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			s.cleanupInitResources()
			return nil, err
		}
	}
	s.buildHTTPServer()
	return s, nil
}

// Handler returns the HTTP API handler.
func (s *Service) Handler() http.Handler {
	return s.handler
}

// MemoryStore returns the in-process store, nil for other drivers.
func (s *Service) MemoryStore() *store.MemoryStore {
	return s.memStore
}

// Ready reports whether the service accepts traffic.
func (s *Service) Ready() bool {
	return s.readyFlag.Load()
}

// Start subscribes to watched tables and launches the background loops.
// Params: parent context; loops stop when it is done or Shutdown runs.
// Returns: subscription error.
func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	if err := s.manager.Start(runCtx, s.cfg.WatchedTables()); err != nil {
		cancel()
		return fmt.Errorf("start realtime subscriptions: %w", err)
	}
	s.cancel = cancel
	s.started.Store(true)

	s.workers.Add(3)
	go func() {
		defer s.workers.Done()
		s.queue.Run(runCtx)
	}()
	go func() {
		defer s.workers.Done()
		s.signal.Probe(runCtx, s.store.Ping, probeInterval, logging.Component(s.logger, "probe"))
	}()
	go func() {
		defer s.workers.Done()
		s.refresher.Run(runCtx)
	}()

	s.readyFlag.Store(true)
	s.logger.Info("service started",
		"store", s.cfg.Store.Driver,
		"cache", s.cfg.Cache.Driver,
		"realtime", s.cfg.Realtime.Driver,
		"watched", fmt.Sprint(s.manager.Watched()),
	)
	return nil
}

// Run starts service lifecycle and blocks until shutdown signal.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		_ = s.Shutdown()
		return err
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "listen", s.cfg.API.Listen)
		err := s.httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-errChan:
		_ = s.Shutdown()
		return fmt.Errorf("http server failed: %w", err)
	case <-sigChan:
		return s.Shutdown()
	}
}

// Shutdown closes runtime resources in dependency order.
// Params: none.
// Returns: first close error; repeated calls return the same result.
func (s *Service) Shutdown() error {
	s.stopOnce.Do(func() {
		s.stopErr = s.shutdown()
	})
	return s.stopErr
}

func (s *Service) shutdown() error {
	s.readyFlag.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()
	var firstErr error
	markErr := func(label string, err error) {
		if err == nil {
			return
		}
		s.logger.Error(label+" failed", "error", err.Error())
		if firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", label, err)
		}
	}

	if s.httpSrv != nil {
		markErr("http shutdown", s.httpSrv.Shutdown(ctx))
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.workers.Wait()
	if s.manager != nil {
		markErr("realtime stop", s.manager.Stop())
	}
	if s.closeFeed != nil {
		markErr("feed close", s.closeFeed())
	}
	if s.cache != nil {
		markErr("cache close", s.cache.Close())
	}
	if s.store != nil {
		markErr("store close", s.store.Close())
	}
	if s.closeLog != nil {
		s.closeLog()
	}
	return firstErr
}

// cleanupInitResources closes partially initialized resources on startup failures.
func (s *Service) cleanupInitResources() {
	if s.closeFeed != nil {
		_ = s.closeFeed()
		s.closeFeed = nil
	}
	if s.cache != nil {
		_ = s.cache.Close()
		s.cache = nil
	}
	if s.store != nil {
		_ = s.store.Close()
		s.store = nil
	}
}

// buildStore opens the configured row store.
func (s *Service) buildStore(ctx context.Context) error {
	switch s.cfg.Store.Driver {
	case config.StoreDriverPostgres:
		db, err := store.OpenPostgres(ctx, store.PostgresOptions{
			DSN:             s.cfg.Store.DSN,
			MaxOpenConns:    s.cfg.Store.MaxOpenConns,
			MaxIdleConns:    s.cfg.Store.MaxIdleConns,
			ConnMaxLifetime: time.Duration(s.cfg.Store.ConnMaxLifetimeSec) * time.Second,
		})
		if err != nil {
			return err
		}
		pg := store.NewPostgresStore(db, s.clock.Now)
		s.store = pg
		if s.cfg.Store.Migrate {
			if err := pg.Migrate(ctx, s.cfg.Realtime.ChannelPrefix); err != nil {
				return fmt.Errorf("migrate store: %w", err)
			}
		}
	default:
		s.memStore = store.NewMemoryStore(s.clock.Now)
		s.store = s.memStore
	}
	return nil
}

// buildCache opens the configured query cache.
func (s *Service) buildCache(ctx context.Context) error {
	switch s.cfg.Cache.Driver {
	case config.CacheDriverRedis:
		client := cache.NewRedisClient(cache.RedisOptions{
			Addr:     s.cfg.Cache.Addr,
			Password: s.cfg.Cache.Password,
			DB:       s.cfg.Cache.DB,
		})
		redisCache := cache.NewRedisCache(client, s.cfg.Cache.KeyPrefix, s.cfg.CacheTTL())
		s.cache = redisCache
		if err := redisCache.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis cache: %w", err)
		}
	default:
		s.cache = cache.NewMemoryCache(s.cfg.CacheTTL(), s.clock.Now)
	}
	return nil
}

// buildNotify creates sinks and the delivery queue that keeps them off the commit path.
func (s *Service) buildNotify(context.Context) error {
	logger := logging.Component(s.logger, "notify")
	dispatcher, err := notify.NewDispatcher(s.cfg.Notify, logger)
	if err != nil {
		return err
	}
	s.dispatcher = dispatcher
	s.queue = notify.NewQueue(dispatcher, s.cfg.Notify.QueueSize, logger)
	return nil
}

// buildFeed opens the configured change feed.
// A memory store publishes its own commits to the NATS feed so peer instances see them.
// Feed reconnects trigger a resync.
func (s *Service) buildFeed(context.Context) error {
	logger := logging.Component(s.logger, "realtime")
	switch s.cfg.Realtime.Driver {
	case config.RealtimeDriverNATS:
		nc, err := realtime.ConnectNATS(s.cfg.Realtime.NATSURL, s.cfg.Service.Name, s.onFeedState)
		if err != nil {
			return err
		}
		feed := realtime.NewNATSFeed(nc, s.cfg.Realtime.SubjectPrefix, logger)
		if s.memStore != nil {
			s.memStore.OnChange(func(change domain.Change) {
				if err := feed.Publish(context.Background(), change); err != nil {
					logger.Warn("publish change failed", "table", string(change.Table), "error", err.Error())
				}
			})
		}
		s.feed = feed
		s.closeFeed = func() error {
			nc.Close()
			return nil
		}
	case config.RealtimeDriverPostgres:
		feed := realtime.NewPGFeed(s.cfg.Store.DSN, s.cfg.Realtime.ChannelPrefix, logger, nil)
		feed.OnResync(func() { s.onFeedState(true) })
		s.feed = feed
		s.closeFeed = feed.Close
	default:
		if s.memStore == nil {
			return errors.New("memory realtime feed requires memory store")
		}
		feed := realtime.NewMemoryFeed()
		s.memStore.OnChange(feed.Publish)
		s.feed = feed
	}
	return nil
}

// buildCore wires manager, coordinator, read model, refresher and API.
func (s *Service) buildCore(context.Context) error {
	period, err := timewindow.ParsePeriod(s.cfg.Refresh.DefaultPeriod)
	if err != nil {
		return err
	}
	policy := sla.Policy{
		Critical: time.Duration(s.cfg.SLA.CriticalSec) * time.Second,
		Default:  time.Duration(s.cfg.SLA.DefaultSec) * time.Second,
		Warning:  time.Duration(s.cfg.SLA.WarningSec) * time.Second,
	}

	s.signal = refresh.NewSignal(true)
	s.coordinator = optimistic.NewCoordinator(s.store, nil, s.clock, logging.Component(s.logger, "optimistic"))
	s.dashboard = dashboard.New(dashboard.Options{
		Store:         s.store,
		Cache:         s.cache,
		Overlay:       s.coordinator,
		SLA:           sla.NewEvaluator(policy, s.clock, s.cfg.SLATick()),
		Clock:         s.clock,
		CriticalRatio: s.cfg.Telemetry.CriticalRatio,
		DefaultPeriod: period,
		Logger:        logging.Component(s.logger, "dashboard"),
	})
	s.refresher = refresh.New(s.dashboard.Load, s.signal, s.cfg.RefreshInterval(), s.clock, logging.Component(s.logger, "refresh"))
	s.coordinator.SetSettler(s.refresher)

	s.manager = realtime.NewManager(realtime.ManagerOptions{
		Feed:     s.feed,
		Cache:    s.cache,
		Notifier: s.queue,
		Policy:   policy,
		Logger:   logging.Component(s.logger, "realtime"),
	})
	s.manager.OnInvalidate(func(context.Context, []domain.Table) {
		s.refresher.Trigger()
	})

	s.handler = api.NewHandler(api.Options{
		Reads:         s.dashboard,
		Mutations:     s.coordinator,
		Refresher:     s.refresher,
		Notifications: s.dispatcher.Inbox(),
		Ready:         s.Ready,
		MaxBodyBytes:  s.cfg.API.MaxBodyBytes,
		HealthPath:    s.cfg.API.HealthPath,
		ReadyPath:     s.cfg.API.ReadyPath,
		Logger:        logging.Component(s.logger, "api"),
	})
	return nil
}

func (s *Service) buildHTTPServer() {
	s.httpSrv = &http.Server{
		Addr:              s.cfg.API.Listen,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// onFeedState reacts to change feed connectivity.
func (s *Service) onFeedState(online bool) {
	if !online {
		s.logger.Warn("change feed disconnected")
		return
	}
	if !s.started.Load() {
		return
	}
	s.logger.Info("change feed connected, resyncing")
	s.manager.Resync(context.Background())
	s.refresher.Trigger()
}
