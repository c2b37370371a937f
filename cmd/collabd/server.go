package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/outdoorsea/crewAI-sub001/api"
	"github.com/outdoorsea/crewAI-sub001/config"
	"github.com/outdoorsea/crewAI-sub001/contextstore"
	"github.com/outdoorsea/crewAI-sub001/conversation"
	"github.com/outdoorsea/crewAI-sub001/delegation"
	"github.com/outdoorsea/crewAI-sub001/internal/metrics"
	"github.com/outdoorsea/crewAI-sub001/internal/telemetry"
	"github.com/outdoorsea/crewAI-sub001/registry"
	"github.com/outdoorsea/crewAI-sub001/session"
	"github.com/outdoorsea/crewAI-sub001/task"
)

// Server wires the collaboration components together and runs them:
// the HTTP API, the context expiry sweeper and the delegation timeout
// loop.
type Server struct {
	cfg       *config.Config
	logger    *zap.Logger
	providers *telemetry.Providers

	contexts      contextstore.Store
	conversations conversation.Store
	registry      *registry.Registry
	engine        *delegation.Engine
	collector     *metrics.Collector
	sweeper       *contextstore.Sweeper

	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewServer builds all components from the configuration. Nothing is
// started yet; Start launches the daemon.
func NewServer(cfg *config.Config, logger *zap.Logger, providers *telemetry.Providers) (*Server, error) {
	promRegistry := prometheus.NewRegistry()
	collector := metrics.NewCollector("collab", promRegistry, logger)

	contexts, err := buildContextStore(cfg.ContextStore, logger)
	if err != nil {
		return nil, fmt.Errorf("context store: %w", err)
	}

	conversations, err := buildConversationStore(cfg.Conversation, logger)
	if err != nil {
		contexts.Close()
		return nil, fmt.Errorf("conversation store: %w", err)
	}

	reg := registry.New(registry.Config{Alpha: cfg.Registry.Alpha}, logger)
	tasks := task.NewStore()
	tracker := conversation.NewTracker(conversations, logger)
	engine := delegation.NewEngine(reg, tasks, contexts, logger,
		delegation.WithHandoffObserver(collector.RecordHandoff))

	manager := session.NewManager(session.Config{
		MaxDelegationAttempts: cfg.Session.MaxDelegationAttempts,
		DefaultPriority:       cfg.Session.DefaultPriority,
	}, engine, tasks, reg, logger,
		session.WithTransitionObserver(func(_ string, _, to session.Status) {
			collector.RecordSessionTransition(string(to))
		}),
	)

	var limiter *rate.Limiter
	if cfg.Server.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Server.RateLimit), cfg.Server.RateBurst)
	}

	router := api.NewRouter(api.Deps{
		Registry:     reg,
		ContextStore: contexts,
		Conversation: tracker,
		Engine:       engine,
		Tasks:        tasks,
		Sessions:     manager,
		Metrics:      collector,
		Gatherer:     promRegistry,
		RateLimiter:  limiter,
		Logger:       logger,
	})

	sweeper := contextstore.NewSweeper(contexts, cfg.ContextStore.SweepInterval, logger,
		contextstore.WithSweepObserver(collector.RecordSweep))

	return &Server{
		cfg:       cfg,
		logger:    logger,
		providers: providers,

		contexts:      contexts,
		conversations: conversations,
		registry:      reg,
		engine:        engine,
		collector:     collector,
		sweeper:       sweeper,

		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}, nil
}

func buildContextStore(cfg config.ContextStoreConfig, logger *zap.Logger) (contextstore.Store, error) {
	switch cfg.Backend {
	case "redis":
		return contextstore.NewRedisStore(contextstore.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			PoolSize:  cfg.Redis.PoolSize,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, logger)
	default:
		return contextstore.NewMemoryStore(logger), nil
	}
}

func buildConversationStore(cfg config.ConversationConfig, logger *zap.Logger) (conversation.Store, error) {
	switch cfg.Backend {
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			return nil, fmt.Errorf("open sqlite %q: %w", cfg.DSN, err)
		}
		return conversation.NewGormStore(db, logger)
	default:
		return conversation.NewMemoryStore(), nil
	}
}

// Start launches the HTTP server and the background loops. It returns
// once listening has begun; WaitForShutdown blocks until exit.
func (s *Server) Start() error {
	s.ctx, s.cancel = signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	s.group, _ = errgroup.WithContext(s.ctx)

	s.sweeper.Start(s.ctx)

	if s.cfg.Delegation.ResponseTimeout > 0 {
		s.group.Go(func() error {
			s.runExpiryLoop(s.ctx)
			return nil
		})
	}

	s.group.Go(func() error {
		s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.cancel()
			return err
		}
		return nil
	})

	return nil
}

// runExpiryLoop periodically times out stale pending delegation
// requests so their delegation slots free up, and refreshes the
// gauge-style instruments on the same tick.
func (s *Server) runExpiryLoop(ctx context.Context) {
	interval := s.cfg.Delegation.ExpiryInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired := s.engine.ExpirePending(ctx, s.cfg.Delegation.ResponseTimeout)
			for range expired {
				s.collector.RecordDelegation(string(delegation.StatusTimedOut))
			}
			if len(expired) > 0 {
				s.logger.Info("expired stale delegation requests", zap.Int("count", len(expired)))
			}

			if stats, err := s.contexts.Stats(ctx); err == nil {
				s.collector.SetContextItems(stats.TotalItems - stats.ExpiredItems)
			}
			for _, profile := range s.registry.List() {
				s.collector.SetAgentWorkload(profile.ID, profile.CurrentWorkload)
			}
		}
	}
}

// WaitForShutdown blocks until a termination signal, then drains the
// HTTP server and releases resources.
func (s *Server) WaitForShutdown() {
	<-s.ctx.Done()
	s.logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http server shutdown", zap.Error(err))
	}

	s.sweeper.Stop()
	s.cancel()

	if err := s.group.Wait(); err != nil {
		s.logger.Error("server exited with error", zap.Error(err))
	}

	if err := s.conversations.Close(); err != nil {
		s.logger.Warn("closing conversation store", zap.Error(err))
	}
	if err := s.contexts.Close(); err != nil {
		s.logger.Warn("closing context store", zap.Error(err))
	}
	if err := s.providers.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("telemetry shutdown", zap.Error(err))
	}
}
