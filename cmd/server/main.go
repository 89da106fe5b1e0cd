package main // Entry point package

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"

	"github.com/iliyamo/event-booking/internal/allocator"
	"github.com/iliyamo/event-booking/internal/broadcast"
	"github.com/iliyamo/event-booking/internal/config"
	"github.com/iliyamo/event-booking/internal/database"
	"github.com/iliyamo/event-booking/internal/handler"
	"github.com/iliyamo/event-booking/internal/middleware"
	"github.com/iliyamo/event-booking/internal/notify"
	"github.com/iliyamo/event-booking/internal/queue"
	"github.com/iliyamo/event-booking/internal/repository"
	"github.com/iliyamo/event-booking/internal/router"
	"github.com/iliyamo/event-booking/internal/service"
)

func main() {
	cfg := config.Load()
	log := config.NewLogger(cfg, os.Stdout)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, ping, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	log.Info("store ready", slog.String("store", cfg.Store))

	hub := broadcast.New(broadcast.WithWriteTimeout(cfg.WSWriteTimeout), broadcast.WithLogger(log))
	alloc := allocator.New(store, allocator.WithLockTimeout(cfg.LockTimeout), allocator.WithLogger(log))

	// Seat changes reach the local hub directly, or through NATS when
	// several instances share one store.
	local := notify.NewLocal(hub, log)
	var notifier notify.Notifier = local
	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = notify.ConnectNATS(cfg.NATSURL, "event-booking", log)
		if err != nil {
			return err
		}
		if _, err := notify.RelayNATS(nc, cfg.NATSSubjectPrefix, local, log); err != nil {
			nc.Close()
			return err
		}
		notifier = notify.NewNATSPublisher(nc, cfg.NATSSubjectPrefix)
		log.Info("seat changes fan out over nats", slog.String("url", cfg.NATSURL), slog.String("prefix", cfg.NATSSubjectPrefix))
	}

	var publisher service.EventPublisher
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	consumerDone := make(chan struct{})
	if cfg.AMQPEnabled {
		publisher = service.NewAMQPPublisher(cfg.AMQPURL, log)
		go func() {
			defer close(consumerDone)
			_ = queue.StartReservationConsumer(consumerCtx, cfg.AMQPURL, log)
		}()
	} else {
		close(consumerDone)
	}

	// A notification waits for the slowest watcher, so it must outlast
	// one write.
	svc := service.NewBookingService(alloc, notifier, publisher, log,
		service.WithNotifyTimeout(cfg.WSWriteTimeout+5*time.Second))

	rdb := config.NewRedisClient(log)
	if rdb != nil {
		defer rdb.Close()
	}
	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(_ echo.Context, v echomw.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			level := slog.LevelInfo
			if v.Error != nil {
				level = slog.LevelError
				attrs = append(attrs, slog.Any("error", v.Error))
			}
			log.LogAttrs(context.Background(), level, "request", attrs...)
			return nil
		},
	}))

	router.RegisterRoutes(e, router.Handlers{
		Health:  handler.NewHealthHandler(ping, hub),
		Events:  handler.NewEventHandler(svc, log),
		Booking: handler.NewBookingHandler(svc, log),
		Admin:   handler.NewAdminHandler(svc, log),
		Live:    handler.NewLiveHandler(hub, svc, cfg.WSWriteTimeout, cfg.WSPongWait, log),
	}, cfg.JWTSecret, limiter)

	addr := ":" + cfg.Port
	serverErr := make(chan error, 1)
	go func() {
		log.Info("listening", slog.String("addr", addr), slog.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	// Live connections are hijacked and not tracked by the HTTP server,
	// so the hub closes them before the server waits for handlers.
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", slog.Any("error", err))
	}
	if nc != nil {
		if err := nc.Drain(); err != nil {
			log.Warn("nats drain", slog.Any("error", err))
		}
	}
	svc.Wait()
	stopConsumer()
	<-consumerDone
	return nil
}

// openStore builds the configured store and returns it with a health probe
// (nil for memory) and a close func.
func openStore(ctx context.Context, cfg config.Config) (repository.Store, func(context.Context) error, func(), error) {
	switch cfg.Store {
	case config.StoreMemory:
		return repository.NewMemoryStore(), nil, func() {}, nil
	case config.StoreSQLite:
		db, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		s := repository.NewSQLStore(db, repository.SQLite)
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, nil, err
		}
		return s, db.PingContext, func() { _ = db.Close() }, nil
	default:
		db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			return nil, nil, nil, err
		}
		s := repository.NewSQLStore(db, repository.MySQL)
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, nil, err
		}
		return s, db.PingContext, func() { _ = db.Close() }, nil
	}
}
