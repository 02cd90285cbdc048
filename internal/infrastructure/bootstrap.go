package infrastructure

import (
	"context"

	"go.uber.org/zap"

	"github.com/ridewell/ridewell/internal/config"
	"github.com/ridewell/ridewell/internal/repository"
	"github.com/ridewell/ridewell/internal/service"
	transportHTTP "github.com/ridewell/ridewell/internal/transport/http"
	transportNATS "github.com/ridewell/ridewell/internal/transport/nats"
	"github.com/ridewell/ridewell/internal/worker"
)

// Bootstrap initialises all dependencies from config and wires up the
// application. Returns the App, a cleanup function, or an error.
func Bootstrap(ctx context.Context, log *zap.Logger) (*App, func(), error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}

	db, err := connectPostgres(cfg.DSN())
	if err != nil {
		return nil, nil, err
	}

	var cleanupFns []func()
	cleanupFns = append(cleanupFns, db.Close)

	rdb, err := connectRedis(cfg.RedisAddr())
	if err != nil {
		return nil, runCleanup(cleanupFns), err
	}
	cleanupFns = append(cleanupFns, func() { _ = rdb.Close() })

	store := repository.NewPostgres(db)
	matcher := service.NewMatcher(rdb, store, cfg.MatchRadiusKm, log)

	// NATS is optional: without it, transitions still commit, they
	// just aren't announced.
	var (
		bus     service.MessageBus
		servers []Server
	)
	if addr := cfg.NatsAddr(); addr != "" {
		nc, err := connectNats(addr)
		if err != nil {
			return nil, runCleanup(cleanupFns), err
		}
		cleanupFns = append(cleanupFns, nc.Close)
		bus = transportNATS.NewBus(nc)

		dispatcher := &worker.LogDispatcher{Log: log}
		servers = append(servers, worker.NewNotifier(dispatcher, nc, log))
	}

	ledger := service.NewLedger(store, log)
	lifecycle := service.NewLifecycle(store, matcher, bus, log)

	handler := transportHTTP.NewHandler(lifecycle, ledger, matcher, log)
	servers = append(servers, transportHTTP.NewServer(cfg.ApiAddr(), handler, cfg.JWTSecret))

	return NewApp(servers), runCleanup(cleanupFns), nil
}

// runCleanup returns a single function that calls all cleanup functions
// in reverse order.
func runCleanup(fns []func()) func() {
	return func() {
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}
}
