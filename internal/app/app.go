package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/yungbote/nort-backend/internal/data/db"
	httpx "github.com/yungbote/nort-backend/internal/http"
	"github.com/yungbote/nort-backend/internal/observability"
	"github.com/yungbote/nort-backend/internal/pkg/logger"
	"github.com/yungbote/nort-backend/internal/realtime"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      Config
	Repos    Repos
	Clients  Clients
	Services Services
	Hub      *realtime.Hub
	Server   *httpx.Server
	Metrics  *observability.Metrics

	middleware   Middleware
	pg           *db.PostgresService
	otelShutdown func(context.Context) error
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg, err := LoadConfig(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("load config: %w", err)
	}

	otelCfg := observability.OtelConfigFromEnv(cfg.Env)
	otelShutdown := observability.InitOTel(context.Background(), log, otelCfg)
	metrics := observability.Init(log)

	pg, err := db.NewPostgresService(log, cfg.DB)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init database: %w", err)
	}
	theDB := pg.DB()
	if err := db.AutoMigrateAll(theDB); err != nil {
		_ = pg.Close()
		log.Sync()
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	if err := db.EnsureChatIndexes(theDB); err != nil {
		_ = pg.Close()
		log.Sync()
		return nil, err
	}

	clients, err := wireClients(log, cfg)
	if err != nil {
		_ = pg.Close()
		log.Sync()
		return nil, err
	}

	hub := realtime.NewHub(log, cfg.Heartbeat)
	reposet := wireRepos(theDB, log)
	serviceset := wireServices(theDB, log, cfg, reposet, clients, hub)
	handlerset := wireHandlers(log, theDB, cfg, serviceset, hub)
	middleware := wireMiddleware(log, cfg, serviceset)
	router := wireRouter(log, cfg, otelCfg, metrics, handlerset, middleware)

	return &App{
		Log:          log,
		DB:           theDB,
		Cfg:          cfg,
		Repos:        reposet,
		Clients:      clients,
		Services:     serviceset,
		Hub:          hub,
		Server:       httpx.NewServer(log, ":"+cfg.Port, router),
		Metrics:      metrics,
		middleware:   middleware,
		pg:           pg,
		otelShutdown: otelShutdown,
	}, nil
}

// Start launches every background part on g. Each one returns when ctx is done.
func (a *App) Start(ctx context.Context, g *errgroup.Group) error {
	if a.Cfg.QueueBackend == QueueBackendMemory {
		// in-memory jobs cannot outlive the process that queued them
		if _, err := a.Services.Jobs.FailAbandoned(ctx); err != nil {
			return fmt.Errorf("fail abandoned jobs: %w", err)
		}
	}

	a.Metrics.StartDBCollector(ctx, a.Log, a.DB, 15*time.Second)
	if a.Clients.Redis != nil {
		a.Metrics.StartRedisCollector(ctx, a.Log, a.Clients.Redis, 15*time.Second)
	}

	g.Go(func() error { return a.Services.Dispatcher.Run(ctx) })
	g.Go(func() error { return a.Hub.Run(ctx) })
	g.Go(func() error { return a.Services.Auth.RunTokenSweeper(ctx, a.Cfg.TokenSweepInterval) })
	g.Go(func() error { return a.middleware.PostLimiter.Run(ctx) })

	if a.Clients.EventBus != nil {
		if err := a.Clients.EventBus.StartForwarder(ctx, func(ev realtime.Event) {
			a.Hub.Publish(ev.ConversationID, ev)
		}); err != nil {
			return fmt.Errorf("start event forwarder: %w", err)
		}
	}
	if a.Services.AsynqServer != nil {
		g.Go(func() error { return a.Services.AsynqServer.Run(ctx) })
	}

	g.Go(a.Server.Run)
	g.Go(func() error {
		<-ctx.Done()
		// streams only end once their sinks close
		a.Hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return a.Server.Shutdown(shutdownCtx)
	})
	return nil
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Services.AsynqEnqueuer != nil {
		_ = a.Services.AsynqEnqueuer.Close()
	}
	a.Clients.Close()
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.otelShutdown(ctx)
		cancel()
	}
	if a.pg != nil {
		_ = a.pg.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
