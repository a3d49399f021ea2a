package app

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"ipclick/internal/core/adapter"
	"ipclick/internal/core/dispatcher"
	"ipclick/internal/service/metrics"
	"ipclick/internal/service/rpc"
	"ipclick/internal/service/web"
	"ipclick/internal/shared/lifecycle"
	"ipclick/internal/shared/logger"
	"ipclick/internal/shared/types"
)

// Version is reported by the status service and the CLI.
var Version = "dev"

// AppServer is the application's main struct. It owns the dispatch service
// and every listener in front of it.
type AppServer struct {
	cfg *types.Config

	dispatcher *dispatcher.Service
	rpcServer  *rpc.Server
	webServer  *web.Server
	hub        *web.Hub
	registry   *prometheus.Registry
	status     *lifecycle.Status

	statsInterval time.Duration

	waitGroup sync.WaitGroup
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// New builds the server from cfg. Nothing listens until Start.
func New(cfg *types.Config) (*AppServer, error) {
	dcfg, err := dispatcherConfig(cfg)
	if err != nil {
		return nil, err
	}

	s := &AppServer{
		cfg:           cfg,
		hub:           web.NewHub(),
		registry:      prometheus.NewRegistry(),
		status:        lifecycle.New(),
		statsInterval: 2 * time.Second,
		stopCh:        make(chan struct{}),
	}
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s.dispatcher = dispatcher.New(dcfg,
		dispatcher.WithObserver(metrics.New(s.registry)),
		dispatcher.WithObserver(s.hub),
	)
	metrics.RegisterService(s.registry, s.dispatcher)
	metrics.RegisterTraffic(s.registry, adapter.Traffic)

	s.rpcServer = rpc.NewServer(cfg.ServerConf, s.dispatcher)

	handler := web.NewHandler(s, s.hub, Version)
	s.webServer = web.NewServer(cfg.WebConf, web.NewMux(cfg.WebConf, handler, s.hub, s.registry))
	return s, nil
}

// Start binds every listener and serves in the background. It returns the
// port of the task service.
func (s *AppServer) Start() (int, error) {
	logger.Info().
		Str("default_adapter", s.cfg.DefaultAdapter).
		Int("max_workers", s.cfg.MaxWorkers).
		Msg("Starting ipclick server...")
	s.status.Set(lifecycle.Starting)

	port, err := s.rpcServer.InitializeListener()
	if err != nil {
		s.status.Fail(err)
		return 0, err
	}

	s.waitGroup.Add(1)
	go func() {
		defer s.waitGroup.Done()
		if err := s.rpcServer.Serve(); err != nil {
			logger.Error().Err(err).Msg("Task service stopped with error")
		}
	}()

	if s.webServer.Enabled() {
		go s.hub.Run() // 启动 Hub
		if _, err := s.webServer.Start(); err != nil {
			s.Stop()
			s.status.Fail(err)
			return 0, err
		}
		s.waitGroup.Add(1)
		go s.statsLoop()
	}
	s.status.Set(lifecycle.Running)
	return port, nil
}

// Run starts the server and blocks until ctx is done, then stops it.
func (s *AppServer) Run(ctx context.Context) error {
	if _, err := s.Start(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutdown signal received.")
	case <-s.stopCh:
	}
	s.Stop()
	s.Wait()
	return nil
}

// Stop gracefully shuts down the server. Safe to call more than once.
func (s *AppServer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.status.Set(lifecycle.Stopping)

		s.rpcServer.Close()

		grace := time.Duration(s.cfg.ShutdownGrace) * time.Second
		ctx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		if err := s.webServer.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).Msg("Web server shutdown incomplete")
		}
		s.hub.Stop()

		if err := s.dispatcher.Cleanup(); err != nil {
			logger.Warn().Err(err).Msg("Adapter cleanup reported errors")
		}
		if s.status.Get() != lifecycle.Failed {
			s.status.Set(lifecycle.Stopped)
		}
		logger.Info().Msg("Server stopped.")
	})
}

// Wait blocks until the background goroutines have exited.
func (s *AppServer) Wait() {
	s.waitGroup.Wait()
}

func (s *AppServer) statsLoop() {
	defer s.waitGroup.Done()
	ticker := time.NewTicker(s.statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.hub.BroadcastStatsUpdate(s.dispatcher.Stats())
		case <-s.stopCh:
			return
		}
	}
}

// Phase implements web.StatusProvider.
func (s *AppServer) Phase() lifecycle.Phase {
	return s.status.Get()
}

// Stats implements web.StatusProvider.
func (s *AppServer) Stats() types.DispatchStats {
	return s.dispatcher.Stats()
}

// RecentTargets implements web.StatusProvider.
func (s *AppServer) RecentTargets() []string {
	return s.dispatcher.RecentTargets()
}

// ListenerInfo implements web.StatusProvider.
func (s *AppServer) ListenerInfo() *types.ListenerInfo {
	return s.rpcServer.GetListenerInfo()
}

// Dispatcher exposes the dispatch service, mainly for tests and embedding.
func (s *AppServer) Dispatcher() *dispatcher.Service {
	return s.dispatcher
}

var _ web.StatusProvider = (*AppServer)(nil)
