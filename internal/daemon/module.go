package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/brunakemp/juschat/internal/api"
	"github.com/brunakemp/juschat/internal/auth"
	"github.com/brunakemp/juschat/internal/bus"
	"github.com/brunakemp/juschat/internal/config"
	"github.com/brunakemp/juschat/internal/lock"
	"github.com/brunakemp/juschat/internal/logging"
	"github.com/brunakemp/juschat/internal/outbox"
	"github.com/brunakemp/juschat/internal/rest"
	"github.com/brunakemp/juschat/internal/session"
	"github.com/brunakemp/juschat/internal/status"
	"github.com/brunakemp/juschat/internal/store"
	intsync "github.com/brunakemp/juschat/internal/sync"
	"github.com/brunakemp/juschat/internal/upload"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
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
			provideClient,
			provideUploader,
			provideSyncEngine,
			providePoller,
			provideDirectory,
			provideSender,
			provideComposer,
			provideAuthManager,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	return config.Load(session.ConfigPath())
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
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
	if !result.FTS {
		logger.Warn("fts5 unavailable, search degrades to substring matching (build with -tags sqlite_fts5)")
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideClient(cfg *config.Config) *rest.Client {
	return rest.New(cfg.Server.BaseURL, cfg.RequestTimeout())
}

func provideUploader(cfg *config.Config) *upload.Uploader {
	return upload.New(cfg.Upload.Endpoint, cfg.Upload.Preset)
}

func provideSyncEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, logger)
}

func providePoller(cfg *config.Config, client *rest.Client, engine *intsync.Engine,
	b *bus.Bus, machine *status.Machine, logger *zap.Logger) *intsync.Poller {
	return intsync.NewPoller(client, engine, b, machine, logger,
		cfg.MessagePollInterval(), cfg.RequestTimeout(), cfg.Sync.DegradedAfter)
}

func provideDirectory(cfg *config.Config, db *store.DB, client *rest.Client,
	b *bus.Bus, logger *zap.Logger) *intsync.Directory {
	return intsync.NewDirectory(db, client, b, logger,
		cfg.DirectoryPollInterval(), cfg.RequestTimeout())
}

func provideSender(cfg *config.Config, db *store.DB, client *rest.Client,
	uploader *upload.Uploader, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, client, uploader, b, logger, cfg.RequestTimeout())
}

func provideComposer(db *store.DB, b *bus.Bus, sender *outbox.Sender,
	mgr *auth.Manager, logger *zap.Logger) *outbox.Composer {
	return outbox.NewComposer(db, b, sender, logger, mgr.CurrentUserID)
}

func provideAuthManager(p Params, client *rest.Client, machine *status.Machine,
	poller *intsync.Poller, directory *intsync.Directory, logger *zap.Logger) *auth.Manager {
	return auth.NewManager(client, machine, poller, directory, p.SessionName, logger)
}

func provideServer(p Params, cfg *config.Config, db *store.DB, b *bus.Bus,
	machine *status.Machine, poller *intsync.Poller, directory *intsync.Directory,
	composer *outbox.Composer, client *rest.Client, mgr *auth.Manager,
	logger *zap.Logger) *api.Server {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = session.SocketPath(p.SessionName)
	}
	return api.NewServer(api.Deps{
		DB:        db,
		Bus:       b,
		Machine:   machine,
		Poller:    poller,
		Directory: directory,
		Composer:  composer,
		Client:    client,
		Auth:      mgr,
		Session:   p.SessionName,
		Timeout:   cfg.RequestTimeout(),
	}, socketPath, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *api.Server, lk *lock.Lock,
	poller *intsync.Poller, directory *intsync.Directory, sender *outbox.Sender,
	mgr *auth.Manager, machine *status.Machine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := srv.Start(); err != nil {
				return err
			}

			poller.Start(context.Background())
			directory.Start(context.Background())
			sender.Start(context.Background())

			// Restore the stored token in the background; a slow backend
			// must not block daemon startup.
			go func() {
				if err := mgr.Bootstrap(context.Background()); err != nil {
					logger.Error("bootstrap failed", zap.Error(err))
					_ = machine.Transition(status.Error)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sender.Stop()
			poller.Stop()
			directory.Stop()
			if err := srv.Stop(ctx); err != nil {
				logger.Warn("error stopping control server", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
