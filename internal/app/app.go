package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zhouzirui/persona-counsel/backend/internal/config"
	"github.com/zhouzirui/persona-counsel/backend/internal/handler"
	"github.com/zhouzirui/persona-counsel/backend/internal/metrics"
	"github.com/zhouzirui/persona-counsel/backend/internal/model/persona"
	"github.com/zhouzirui/persona-counsel/backend/internal/model/personality"
	"github.com/zhouzirui/persona-counsel/backend/internal/service/ai"
	"github.com/zhouzirui/persona-counsel/backend/internal/service/chat"
)

const metricsNamespace = "persona_counsel"

// App holds the wired services of one process.
type App struct {
	Config       *config.Config
	Personas     persona.Store
	Answers      personality.AnswerStore
	Catalog      *personality.Catalog
	Sessions     *chat.Service
	Generator    ai.Generator
	Orchestrator *chat.Orchestrator
	Metrics      *metrics.Collector

	logger *zap.Logger
	redis  *redis.Client
}

// Build wires stores, generator and orchestrator according to cfg.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		Config:   cfg,
		Catalog:  personality.DefaultCatalog(),
		Sessions: chat.NewService(),
		Metrics:  metrics.NewCollector(metricsNamespace),
		logger:   logger,
	}

	if err := a.buildStores(ctx); err != nil {
		a.Close()
		return nil, err
	}

	gen, err := ai.NewGenerator(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init generator: %w", err)
	}
	a.Generator = gen
	logger.Info("generator ready",
		zap.String("provider", cfg.Generation.Provider),
		zap.Bool("breaker", cfg.Generation.BreakerEnabled))

	orch, err := chat.NewOrchestrator(chat.Dependencies{
		Personas:  a.Personas,
		Answers:   a.Answers,
		Assembler: ai.NewPromptAssembler(a.Catalog),
		Generator: a.Generator,
		Sessions:  a.Sessions,
		Metrics:   a.Metrics,
		Logger:    logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Orchestrator = orch
	return a, nil
}

func (a *App) buildStores(ctx context.Context) error {
	cfg := a.Config.Store
	switch cfg.Backend {
	case config.BackendRedis:
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		store := persona.NewRedisStore(a.redis, a.logger)
		if cfg.SeedDefaults {
			if err := store.SeedIfEmpty(ctx, persona.Seed()); err != nil {
				return fmt.Errorf("seed personas: %w", err)
			}
		}
		a.Personas = store
		a.Answers = personality.NewRedisAnswerStore(a.redis, a.Catalog)
	default:
		var seed []persona.Persona
		if cfg.SeedDefaults {
			seed = persona.Seed()
		}
		a.Personas = persona.NewMemoryStore(seed)
		a.Answers = personality.NewMemoryAnswerStore(a.Catalog)
	}
	a.logger.Info("persona store ready", zap.String("backend", cfg.Backend))
	return nil
}

// Router builds the HTTP handler.
func (a *App) Router() http.Handler {
	return handler.NewRouter(handler.Dependencies{
		Personas:       a.Personas,
		Answers:        a.Answers,
		Catalog:        a.Catalog,
		Sessions:       a.Sessions,
		Orchestrator:   a.Orchestrator,
		Generator:      a.Generator,
		Provider:       a.Config.Generation.Provider,
		Metrics:        a.Metrics,
		AllowedOrigins: a.Config.Server.AllowedOrigins,
		Logger:         a.logger,
	})
}

// Close releases external connections.
func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis failed", zap.Error(err))
		}
		a.redis = nil
	}
}
