// Package main is the entry point of the application
package main

import (
	"context"
	"flag"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tecu23/arena-server/internal/auth"
	"github.com/tecu23/arena-server/pkg/chess"
	"github.com/tecu23/arena-server/pkg/config"
	"github.com/tecu23/arena-server/pkg/engine"
	"github.com/tecu23/arena-server/pkg/events"
	"github.com/tecu23/arena-server/pkg/manager"
	"github.com/tecu23/arena-server/pkg/matchmaking"
	"github.com/tecu23/arena-server/pkg/repository"
	"github.com/tecu23/arena-server/pkg/rules"
	"github.com/tecu23/arena-server/pkg/server"
)

const startupTimeout = 15 * time.Second

// application encapsulates global dependencies
type application struct {
	APIKeys   *auth.APIKeyAuth
	Tokens    *auth.Authenticator
	Logger    *zap.Logger
	Config    *config.Config
	Publisher *events.Publisher
	Manager   *manager.Manager
	Hub       *server.Hub
	Archive   repository.GameArchive
	Ratings   repository.RatingStore
	Server    *http.Server
	Upgrader  websocket.Upgrader

	Bot      *manager.BotDriver
	Recorder *manager.ResultRecorder
	Engines  *engine.Pool
	Relay    *events.Relay
	closers  []func() error
	stopOnce sync.Once

	StartTime time.Time
}

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
	port := flag.Int("port", 0, "server port (overrides PORT)")
	configPath := flag.String("config", "", "optional config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("Failed to load config: " + err.Error())
	}
	if *debug {
		cfg.Debug = true
	}
	if *port != 0 {
		cfg.Port = *port
	}

	// Initialize logger
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	app, err := newApplication(cfg, logger)
	if err != nil {
		logger.Fatal("startup error", zap.Error(err))
	}

	go app.Hub.Run()

	if err := app.serve(); err != nil {
		logger.Fatal("error serving", zap.Error(err))
	}
}

// newApplication wires every component. Optional backends are only
// connected when their URL is configured.
func newApplication(cfg *config.Config, logger *zap.Logger) (*application, error) {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	app := &application{
		APIKeys:   auth.NewAPIKeyAuth(auth.ParseKeys(cfg.APIKeys)),
		Tokens:    auth.NewAuthenticator(cfg.JWTSecret),
		Logger:    logger,
		Config:    cfg,
		Publisher: events.NewPublisher(),
		StartTime: time.Now(),
	}
	app.Upgrader = newUpgrader(cfg.Origins())

	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set, every connection will be anonymous")
	}

	if err := app.initStores(ctx); err != nil {
		app.Shutdown()
		return nil, err
	}

	if cfg.NatsURL != "" {
		relay, err := events.NewRelay(ctx, events.DefaultRelayConfig(cfg.NatsURL), logger)
		if err != nil {
			app.Shutdown()
			return nil, err
		}
		relay.Attach(app.Publisher)
		app.Relay = relay
	}

	// Initialize engine pool; without one bots play random legal moves
	var analyzer engine.Analyzer
	if cfg.EnginePath != "" {
		pool := engine.NewEnginePool(engine.UCIFactory(cfg.EnginePath, logger), cfg.EnginePoolSize, logger)
		if err := pool.Initialize(ctx); err != nil {
			app.Shutdown()
			return nil, err
		}
		app.Engines = pool
		analyzer = pool
	} else {
		logger.Warn("ENGINE_PATH not set, engine games use random moves")
	}

	app.Manager = manager.NewManager(rules.NewStandard(), app.Publisher, logger)

	app.Bot = manager.NewBotDriver(app.Manager, analyzer, app.Publisher, logger)
	app.Bot.Attach()

	app.Recorder = manager.NewResultRecorder(app.Archive, app.Ratings, logger)
	app.Recorder.Attach(app.Publisher)

	queue := matchmaking.NewQueue[*server.Connection](app.Manager, matchmaking.Config{
		RatingWindow: cfg.RatingWindow,
		DefaultTimeControl: &chess.TimeControl{
			Initial:   int64(cfg.DefaultInitialSeconds),
			Increment: int64(cfg.DefaultIncrementSeconds),
		},
	}, logger)

	app.Hub = server.NewHub(app.Manager, queue, app.Publisher, app.Ratings, logger)

	return app, nil
}

// initStores picks the archive and rating store: Postgres, then Redis, then memory
func (app *application) initStores(ctx context.Context) error {
	cfg := app.Config

	switch {
	case cfg.DatabaseURL != "":
		db, err := repository.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		app.closers = append(app.closers, db.Close)

		repo := repository.NewPostgresRepository(db, app.Logger)
		app.Archive, app.Ratings = repo, repo
		app.Logger.Info("using postgres game archive")

	case cfg.RedisURL != "":
		client, err := repository.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		app.closers = append(app.closers, client.Close)

		repo := repository.NewRedisRepository(client, 0, app.Logger)
		app.Archive, app.Ratings = repo, repo
		app.Logger.Info("using redis game archive")

	default:
		repo := repository.NewInMemoryRepository(app.Logger)
		app.Archive, app.Ratings = repo, repo
		app.Logger.Info("using in-memory game archive")
	}

	return nil
}

func initLogger(debug bool) *zap.Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	return logger
}

// Shutdown cleans up resources in reverse dependency order. Only the first
// call does anything.
func (app *application) Shutdown() {
	app.stopOnce.Do(app.shutdown)
}

func (app *application) shutdown() {
	if app.Hub != nil {
		app.Hub.Shutdown()
	}
	if app.Bot != nil {
		app.Bot.Wait()
	}
	if app.Recorder != nil {
		app.Recorder.Wait()
	}
	if app.Engines != nil {
		app.Engines.Shutdown()
	}
	if app.Relay != nil {
		app.Relay.Close()
	}
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			app.Logger.Warn("error closing store", zap.Error(err))
		}
	}

	app.Logger.Info("All components shut down successfully")
}
