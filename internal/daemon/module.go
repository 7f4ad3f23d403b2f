// Package daemon composes the realtime client: one profile, one cache,
// one gateway connection, assembled as an fx application.
package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/cargomart/cargomart-go/internal/bus"
	"github.com/cargomart/cargomart-go/internal/call"
	"github.com/cargomart/cargomart-go/internal/chat"
	"github.com/cargomart/cargomart-go/internal/config"
	"github.com/cargomart/cargomart-go/internal/conn"
	"github.com/cargomart/cargomart-go/internal/creds"
	"github.com/cargomart/cargomart-go/internal/lock"
	"github.com/cargomart/cargomart-go/internal/logging"
	"github.com/cargomart/cargomart-go/internal/outbox"
	"github.com/cargomart/cargomart-go/internal/profile"
	"github.com/cargomart/cargomart-go/internal/rest"
	"github.com/cargomart/cargomart-go/internal/status"
	"github.com/cargomart/cargomart-go/internal/store"
	"github.com/cargomart/cargomart-go/internal/track"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile string
	SelfID  string
}

// Module composes all providers and lifecycle hooks for the daemon.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideCreds,
			provideREST,
			provideConnection,
			provideEngine,
			provideSender,
			provideWatcher,
			provideBridge,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	return config.Load(profile.ConfigPath())
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	return logging.New(profile.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.CacheDBPath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideCreds(p Params) creds.Provider {
	return creds.NewFileProvider(profile.TokenPath(p.Profile))
}

func provideREST(cfg *config.Config, provider creds.Provider, logger *zap.Logger) *rest.Client {
	return rest.New(cfg.APIBaseURL, provider, logger)
}

func provideConnection(cfg *config.Config, provider creds.Provider, machine *status.Machine, logger *zap.Logger) *conn.Manager {
	return conn.New(cfg.GatewayURL, cfg.Realtime, provider, machine, logger)
}

func provideEngine(p Params, client *rest.Client, manager *conn.Manager, db *store.DB, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *chat.Engine {
	return chat.New(client, manager, db, b, p.SelfID, cfg.Chat.PageSize, logger)
}

func provideSender(db *store.DB, client *rest.Client, engine *chat.Engine, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, client, engine, logger)
}

func provideWatcher(cfg *config.Config, provider creds.Provider, client *rest.Client, b *bus.Bus, logger *zap.Logger) *track.Watcher {
	return track.NewWatcher(cfg.GatewayURL, cfg.Track, provider, client, b, logger)
}

func provideBridge(engine *chat.Engine, manager *conn.Manager, b *bus.Bus, logger *zap.Logger) *call.Bridge {
	return call.NewBridge(engine, manager, b, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	lk *lock.Lock,
	manager *conn.Manager,
	engine *chat.Engine,
	sender *outbox.Sender,
	watcher *track.Watcher,
	bridge *call.Bridge,
	db *store.DB,
	logger *zap.Logger,
) {
	runCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if err := engine.Start(runCtx); err != nil {
				return err
			}

			// Frame handlers run in arrival order: the engine first so a
			// call card always lands in an up-to-date conversation.
			manager.OnFrame(engine.HandleFrame)
			manager.OnFrame(bridge.HandleFrame)

			sender.Start(runCtx)

			go func() {
				if err := manager.Run(runCtx); err != nil {
					logger.Error("connection terminated", zap.Error(err))
					_ = shutdowner.Shutdown()
				}
			}()

			logger.Info("daemon started")
			return nil
		},
		OnStop: func(context.Context) error {
			manager.Close()
			cancel()
			watcher.Close()
			sender.Stop()
			engine.Close()
			if err := db.Close(); err != nil {
				logger.Warn("error closing cache", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
