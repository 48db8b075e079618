// Package amlfx wires the console for go.uber.org/fx applications.
package amlfx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/gowool/aml-rbac"
	"github.com/gowool/aml-rbac/backend"
	"github.com/gowool/aml-rbac/config"
	"github.com/gowool/aml-rbac/console"
	"github.com/gowool/aml-rbac/guard"
	"github.com/gowool/aml-rbac/session"
	"github.com/gowool/aml-rbac/tokenstore"
)

var (
	OptionRBAC                 = fx.Provide(rbac.New)
	OptionRBACWithConfig       = fx.Provide(func(cfg *config.Config) (*rbac.RBAC, error) { return rbac.NewWithConfig(cfg.RBAC) })
	OptionAuthorizationChecker = fx.Provide(func(rbac *rbac.RBAC) rbac.AuthorizationChecker { return rbac })
	OptionAuthorizer           = fx.Provide(fx.Annotate(rbac.NewDefaultAuthorizer, fx.As(new(rbac.Authorizer))))
	OptionLogger               = fx.Provide(func(cfg *config.Config) (*zap.Logger, error) { return cfg.Log.Logger() })
	OptionRegistry             = fx.Provide(NewRegistry)
	OptionStorage              = fx.Provide(NewStorage)
	OptionSessionMetrics       = fx.Provide(session.NewMetrics)
	OptionGuardMetrics         = fx.Provide(guard.NewMetrics)
	OptionStore                = fx.Provide(NewStore)
	OptionGuard                = fx.Provide(NewGuard)
	OptionBackend              = fx.Provide(NewBackend)
	OptionConsole              = fx.Provide(NewConsole)
	OptionServer               = fx.Invoke(Serve)
)

// Options is the full console application, given a *config.Config supplied
// by the caller.
func Options() fx.Option {
	return fx.Options(
		OptionRBACWithConfig,
		OptionAuthorizationChecker,
		OptionAuthorizer,
		OptionLogger,
		OptionRegistry,
		OptionStorage,
		OptionSessionMetrics,
		OptionGuardMetrics,
		OptionStore,
		OptionGuard,
		OptionBackend,
		OptionConsole,
		OptionServer,
	)
}

type Registry struct {
	fx.Out

	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

func NewRegistry() Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return Registry{Registerer: reg, Gatherer: reg}
}

// NewStorage opens the configured token storage and closes it with the
// application.
func NewStorage(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (tokenstore.Storage, error) {
	logger = logger.With(zap.String("driver", cfg.Storage.Driver))

	switch cfg.Storage.Driver {
	case "memory":
		return tokenstore.NewMemory(), nil
	case "badger":
		db, err := tokenstore.OpenBadger(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.StopHook(db.Close))
		logger.Info("token store opened", zap.String("path", cfg.Storage.Path))
		return tokenstore.NewBadger(db, cfg.Storage.Key), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Storage.RedisAddr})
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := client.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("redis token store: %w", err)
				}
				return nil
			},
			OnStop: func(context.Context) error {
				return client.Close()
			},
		})
		logger.Info("token store configured", zap.String("addr", cfg.Storage.RedisAddr))
		return tokenstore.NewRedis(client, cfg.Storage.Key), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// NewStore restores the persisted session on start.
func NewStore(lc fx.Lifecycle, storage tokenstore.Storage, logger *zap.Logger, metrics *session.Metrics) *session.Store {
	store := session.NewStore(storage, session.WithLogger(logger), session.WithMetrics(metrics))
	lc.Append(fx.StartHook(func(ctx context.Context) {
		store.Rehydrate(ctx)
	}))
	return store
}

func NewGuard(store *session.Store, checker rbac.AuthorizationChecker, logger *zap.Logger, metrics *guard.Metrics) *guard.Guard {
	return guard.New(store, checker, guard.WithLogger(logger), guard.WithMetrics(metrics))
}

func NewBackend(cfg *config.Config, store *session.Store, logger *zap.Logger) (*backend.Client, error) {
	return backend.NewClient(cfg.Backend,
		backend.WithLogger(logger),
		backend.WithUnauthorizedHandler(console.LogoutOnUnauthorized(store)),
	)
}

func NewConsole(
	cfg *config.Config,
	store *session.Store,
	r *rbac.RBAC,
	authorizer rbac.Authorizer,
	g *guard.Guard,
	client *backend.Client,
	logger *zap.Logger,
	gatherer prometheus.Gatherer,
) *console.Console {
	return console.New(store, r, g, client, logger, console.Options{
		LoginRate:  cfg.Server.LoginRate,
		Production: cfg.Server.Production,
		Metrics:    promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
		Authorizer: authorizer,
	})
}

// Serve runs the console HTTP server for the lifetime of the application.
func Serve(lc fx.Lifecycle, cfg *config.Config, c *console.Console, logger *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           c.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			logger.Info("console listening", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("console server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: srv.Shutdown,
	})
}
