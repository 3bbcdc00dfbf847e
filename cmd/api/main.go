package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend-pawwalk/internal/config"
	"backend-pawwalk/internal/db"
	"backend-pawwalk/internal/logging"
	"backend-pawwalk/internal/server"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/thejerf/suture/v4"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

type mainDeps struct {
	loadConfig      func() config.Config
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	connectRedis    func(config.Config) *redis.Client
	notify          func(chan<- os.Signal, ...os.Signal)
	run             func(context.Context, config.Config, *pgxpool.Pool, *redis.Client, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:      config.Load,
		connectPostgres: db.ConnectPostgres,
		connectRedis:    db.ConnectRedis,
		notify:          signal.Notify,
		run:             Run,
	}
}

func realMain(deps mainDeps) {
	cfg := deps.loadConfig()
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	pg, err := deps.connectPostgres(cfg)
	if err != nil {
		logging.Error().Err(err).Msg("postgres connection failed")
	}

	rdb := deps.connectRedis(cfg)
	if rdb == nil {
		logging.Warn().Msg("redis not configured, live updates stay on this instance")
	}

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(context.Background(), cfg, pg, rdb, signals, nil); err != nil {
		logging.Error().Err(err).Msg("server exited with error")
	}
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

const shutdownTimeout = 5 * time.Second

func newSupervisor() *suture.Supervisor {
	return suture.New("pawwalk", suture.Spec{
		EventHook: func(e suture.Event) {
			logging.Warn().Fields(e.Map()).Msg(e.String())
		},
		Timeout: shutdownTimeout,
	})
}

// Run starts the HTTP server and background services, then waits for
// termination signals.
func Run(ctx context.Context, cfg config.Config, pg *pgxpool.Pool, rdb *redis.Client, signals <-chan os.Signal, listen ListenFunc) error {
	srv := server.NewServer(cfg, pg, rdb)

	if listen == nil {
		listen = defaultListen
	}

	sup := newSupervisor()
	for _, svc := range srv.Services() {
		sup.Add(svc)
	}
	supCtx, stopServices := context.WithCancel(context.Background())
	supDone := sup.ServeBackground(supCtx)
	defer func() {
		stopServices()
		select {
		case <-supDone:
		case <-time.After(shutdownTimeout):
			logging.Warn().Msg("background services did not stop in time")
		}
		srv.Stream.Close()
		if pg != nil {
			pg.Close()
		}
		if rdb != nil {
			_ = rdb.Close()
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.ServerPort)
	}()
	logging.Info().Str("addr", cfg.ServerPort).Msg("server starting")

	select {
	case <-signals:
		logging.Info().Msg("shutdown signal received")
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return shutdownFn(srv.App, shutdownCtx)
}
