// Package app wires the client together from a Config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"schedule-client/internal/api"
	"schedule-client/internal/booking"
	"schedule-client/internal/cache"
	"schedule-client/internal/config"
	"schedule-client/internal/handler"
	"schedule-client/internal/metrics"
	"schedule-client/internal/middleware"
	"schedule-client/internal/session"
	"schedule-client/internal/store"
)

type App struct {
	Config   *config.Config
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Store    store.SessionStore
	Session  *session.Session
	Cache    *cache.Cache
	Handler  *handler.Handler

	log     *slog.Logger
	closers []func()
}

type Option func(*options)

type options struct {
	transport http.RoundTripper
	store     store.SessionStore
}

// WithTransport replaces http.DefaultTransport below the middleware stack.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithStore skips backend selection and uses st.
func WithStore(st store.SessionStore) Option {
	return func(o *options) { o.store = st }
}

// New builds every component and restores a persisted session. A restore
// failure is logged; the app then starts logged out.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, opts ...Option) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	var o options
	for _, f := range opts {
		f(&o)
	}
	if o.transport == nil {
		o.transport = http.DefaultTransport
	}

	a := &App{Config: cfg, Registry: prometheus.NewRegistry(), log: log}
	a.Metrics = metrics.New(a.Registry)

	st := o.store
	if st == nil {
		var closer func()
		var err error
		st, closer, err = OpenStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if closer != nil {
			a.closers = append(a.closers, closer)
		}
	}
	a.Store = st

	// the identity client authenticates per call, so it skips the bearer layer
	identity, err := api.New(cfg.BaseURL,
		api.WithLogger(log),
		api.WithHTTPClient(&http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: middleware.Stack(o.transport, nil, a.Metrics, cfg.RateLimit, cfg.RateBurst),
		}))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Session = session.New(identity, st,
		session.WithLogger(log),
		session.WithMetrics(a.Metrics),
		session.WithLead(cfg.RenewalLead))
	a.closers = append(a.closers, a.Session.Close)

	remote, err := api.New(cfg.BaseURL,
		api.WithLogger(log),
		api.WithHTTPClient(&http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: middleware.Stack(o.transport, a.Session, a.Metrics, cfg.RateLimit, cfg.RateBurst),
		}))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Cache = cache.New(remote,
		cache.WithLogger(log),
		cache.WithMetrics(a.Metrics),
		cache.WithWatchdog(cfg.LoadTimeout),
		cache.WithStrict(cfg.StrictDecode))
	flow := booking.New(a.Cache, a.Session, log)
	a.Handler = handler.New(a.Session, a.Cache, flow, cfg.Location(), log)

	if err := a.Session.Restore(ctx); err != nil {
		log.Warn("session not restored", "error", err)
	}
	return a, nil
}

// OpenStore opens the session backend named by cfg. The returned func
// releases its connections and may be nil.
func OpenStore(ctx context.Context, cfg *config.Config) (store.SessionStore, func(), error) {
	switch cfg.SessionBackend {
	case config.BackendMemory:
		return store.NewMemory(), nil, nil
	case config.BackendFile, "":
		return store.NewFile(cfg.SessionFile), nil, nil
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return store.NewRedis(rdb, cfg.RedisPrefix), func() { rdb.Close() }, nil
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("db pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("db ping: %w", err)
		}
		pg := store.NewPostgres(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate session table: %w", err)
		}
		return pg, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown session backend %q", cfg.SessionBackend)
	}
}

// Close stops background work and releases backends, newest first.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
