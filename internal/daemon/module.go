package daemon

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/mpp/internal/account"
	"github.com/matheus3301/mpp/internal/api"
	"github.com/matheus3301/mpp/internal/bus"
	"github.com/matheus3301/mpp/internal/chat"
	"github.com/matheus3301/mpp/internal/config"
	"github.com/matheus3301/mpp/internal/httpapi"
	"github.com/matheus3301/mpp/internal/lock"
	"github.com/matheus3301/mpp/internal/logging"
	"github.com/matheus3301/mpp/internal/message"
	"github.com/matheus3301/mpp/internal/metrics"
	"github.com/matheus3301/mpp/internal/netstate"
	"github.com/matheus3301/mpp/internal/realm"
	"github.com/matheus3301/mpp/internal/realm/sms"
	"github.com/matheus3301/mpp/internal/session"
	"github.com/matheus3301/mpp/internal/store"
	"github.com/matheus3301/mpp/internal/user"
	"github.com/matheus3301/mpp/internal/worker"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	Dir         string          // optional override for testing; empty = session.Dir
	SocketPath  string          // optional override for testing; empty = the layout's socket
	Config      *config.Session // optional; nil = read from the session directory
}

func (p Params) layout() session.Layout {
	if p.Dir != "" {
		return session.Layout{Dir: p.Dir}
	}
	return session.For(p.SessionName)
}

func (p Params) socketPath() string {
	if p.SocketPath != "" {
		return p.SocketPath
	}
	return p.layout().Socket()
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			bus.New,
			provideQueue,
			provideLock,
			provideStore,
			providePersistenceLock,
			provideUsers,
			provideChats,
			sms.NewChannel,
			provideRegistry,
			providePool,
			provideConnections,
			provideDispatcher,
			provideIngestor,
			provideMonitor,
			provideMetrics,
			provideHTTPServer,
			provideControl,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Session, error) {
	if p.Config != nil {
		cfg := p.Config.WithDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return &cfg, nil
	}
	if p.Dir != "" {
		return config.FindSession(p.Dir)
	}
	return session.LoadConfig(p.SessionName)
}

func provideLogger(p Params, cfg *config.Session) (*zap.Logger, error) {
	return logging.New(p.layout().Log(), p.SessionName, cfg.LogLevel)
}

func provideQueue(cfg *config.Session) *bus.Queue {
	return bus.NewQueue(cfg.QueueSize)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	layout := p.layout()
	if err := layout.Ensure(); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(layout.Lock())
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore depends on the lock so a second daemon never opens the store.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := p.layout().Store()
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func providePersistenceLock() *store.PersistenceLock {
	return &store.PersistenceLock{}
}

func provideUsers(db *store.DB, lk *store.PersistenceLock, logger *zap.Logger) *user.Service {
	return user.NewService(db, lk, logger)
}

func provideChats(db *store.DB, lk *store.PersistenceLock, b *bus.Bus, logger *zap.Logger) *chat.Service {
	return chat.NewService(db, lk, b, logger)
}

func provideRegistry(cfg *config.Session, q *bus.Queue, b *bus.Bus, ch *sms.Channel, users *user.Service, logger *zap.Logger) (*realm.Registry, error) {
	reg, err := realm.New(cfg.Accounts, realm.Deps{
		Queue:      q,
		Bus:        b,
		SMSChannel: ch,
		Users:      users,
		Backoff:    account.Backoff{Initial: cfg.Reconnect.Initial, Max: cfg.Reconnect.Max},
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("accounts: %w", err)
	}
	return reg, nil
}

func providePool(cfg *config.Session, logger *zap.Logger) *worker.Pool {
	return worker.NewPool(cfg.Workers, logger)
}

func provideConnections(pool *worker.Pool, logger *zap.Logger) *account.Connections {
	return account.NewConnections(pool, logger)
}

func provideDispatcher(reg *realm.Registry, conns *account.Connections, chats *chat.Service, logger *zap.Logger) *message.Service {
	return message.NewService(reg, conns, chats, logger)
}

func provideIngestor(q *bus.Queue, reg *realm.Registry, users *user.Service, chats *chat.Service, logger *zap.Logger) *message.Ingestor {
	return message.NewIngestor(q, reg, realm.Normalizers(users, logger), chats, users, logger)
}

func provideMonitor(cfg *config.Session, conns *account.Connections, reg *realm.Registry, logger *zap.Logger) *netstate.Monitor {
	probe := netstate.TCPProbe(cfg.Network.ProbeAddr, cfg.Network.Timeout)
	return netstate.NewMonitor(conns, reg.Enabled, probe, cfg.Network.Interval, logger)
}

func provideMetrics() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics.MustRegister(reg)
	return reg
}

// provideHTTPServer returns nil when no http_addr is configured.
func provideHTTPServer(cfg *config.Session, ch *sms.Channel, reg *prometheus.Registry, logger *zap.Logger) *httpapi.Server {
	if cfg.HTTPAddr == "" {
		return nil
	}
	h := httpapi.NewRouter(httpapi.Options{
		SMS:          ch,
		WebhookToken: cfg.Webhook.Token,
		Gatherer:     reg,
		Logger:       logger,
	})
	return httpapi.NewServer(cfg.HTTPAddr, h, logger)
}

func provideControl(
	p Params,
	reg *realm.Registry,
	conns *account.Connections,
	monitor *netstate.Monitor,
	dispatcher *message.Service,
	chats *chat.Service,
	users *user.Service,
	b *bus.Bus,
	logger *zap.Logger,
) *api.Service {
	return api.NewService(api.Deps{
		SessionName: p.SessionName,
		Accounts:    reg,
		Connections: conns,
		Network:     monitor,
		Messages:    dispatcher,
		Chats:       chats,
		Users:       users,
		Bus:         b,
		Logger:      logger,
	})
}

type lifecycleParams struct {
	fx.In

	Server   *Server
	HTTP     *httpapi.Server
	Lock     *lock.Lock
	DB       *store.DB
	Bus      *bus.Bus
	Queue    *bus.Queue
	Ingestor *message.Ingestor
	Monitor  *netstate.Monitor
	Conns    *account.Connections
	Pool     *worker.Pool
	Logger   *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, d lifecycleParams) {
	logger := d.Logger
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Inbound payloads are consumed before any connection starts.
			d.Ingestor.Start(context.Background())

			go func() {
				if err := d.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if d.HTTP != nil {
				if err := d.HTTP.Start(); err != nil {
					return fmt.Errorf("http server: %w", err)
				}
			}

			// The first probe starts the connections its result allows.
			d.Monitor.Start(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			d.Monitor.Stop()
			if failed := d.Conns.TryStopAll(); len(failed) > 0 {
				logger.Warn("some connections failed to stop", zap.Int("failed", len(failed)))
			}
			d.Pool.Wait()
			d.Queue.Close()
			d.Ingestor.Stop()

			// Ends Watch streams so the graceful stop does not wait on them.
			d.Bus.Close()
			d.Server.Stop(ctx)
			if d.HTTP != nil {
				if err := d.HTTP.Stop(ctx); err != nil {
					logger.Warn("error stopping http server", zap.Error(err))
				}
			}
			if err := d.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := d.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
