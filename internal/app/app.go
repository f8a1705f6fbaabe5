// Package app wires the reservation service together and runs its HTTP
// server, event consumer and expiration scheduler side by side.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/cinema-ticket-sales/internal/clock"
	"github.com/iliyamo/cinema-ticket-sales/internal/config"
	"github.com/iliyamo/cinema-ticket-sales/internal/database"
	"github.com/iliyamo/cinema-ticket-sales/internal/expiration"
	"github.com/iliyamo/cinema-ticket-sales/internal/handler"
	"github.com/iliyamo/cinema-ticket-sales/internal/lock"
	"github.com/iliyamo/cinema-ticket-sales/internal/middleware"
	"github.com/iliyamo/cinema-ticket-sales/internal/queue"
	"github.com/iliyamo/cinema-ticket-sales/internal/repository"
	"github.com/iliyamo/cinema-ticket-sales/internal/router"
	"github.com/iliyamo/cinema-ticket-sales/internal/service"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	cfg       config.Config
	db        *sqlx.DB
	rdb       *redis.Client
	publisher *queue.Publisher
	consumer  *queue.Consumer
	scheduler *expiration.Scheduler
	http      *echo.Echo
}

// New connects to MySQL and Redis, ensures the schema and builds every
// component.  The broker is dialled lazily by the publisher and by the
// consumer's run loop, so a broker outage does not prevent start-up.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	db, err := database.Open(ctx, cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if err := database.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	rdb, err := config.NewRedisClient(ctx)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "connect redis")
	}

	clk := clock.NewRealClock()
	store := repository.NewSQLStore(db)
	topo := queue.Topology{Exchange: cfg.Broker.Exchange, RetryDelay: cfg.Broker.RetryDelay}
	publisher := queue.NewPublisher(cfg.RabbitMQURL, topo)
	scheduler := expiration.NewScheduler(rdb, store, publisher, clk, cfg.Hold)
	locks := lock.NewManager(rdb, cfg.Hold.Duration)

	reservations := service.NewReservationService(store, locks, scheduler, publisher, clk, cfg.Hold.Duration)
	sales := service.NewSaleService(store, scheduler, publisher, clk)
	expiry := service.NewExpiryHandler(store, publisher, clk)
	consumer := queue.NewConsumer(cfg.RabbitMQURL, topo, cfg.Broker.MaxRetries, service.EventHandlers(expiry), publisher)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(middleware.CorrelationID())
	router.RegisterRoutes(e, handler.NewHealth(map[string]handler.Check{
		"mysql": db.PingContext,
		"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}))
	router.RegisterReservations(e,
		handler.NewReservationHandler(reservations),
		handler.NewPaymentHandler(sales),
		middleware.NewTokenBucket(cfg.RateLimit, rdb),
	)

	return &App{
		cfg:       cfg,
		db:        db,
		rdb:       rdb,
		publisher: publisher,
		consumer:  consumer,
		scheduler: scheduler,
		http:      e,
	}, nil
}

// Run blocks until ctx is cancelled or a component fails, then shuts the
// HTTP server down gracefully.
func (a *App) Run(ctx context.Context) error {
	g, runCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.consumer.Run(runCtx); err != nil {
			return errors.Wrap(err, "running consumer")
		}
		return nil
	})

	g.Go(func() error {
		if err := a.scheduler.Run(runCtx); err != nil {
			return errors.Wrap(err, "running expiration scheduler")
		}
		return nil
	})

	g.Go(func() error {
		addr := ":" + a.cfg.Port
		logrus.WithFields(logrus.Fields{"addr": addr, "env": a.cfg.Env}).Info("starting HTTP server")
		if err := a.http.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "starting http server")
		}
		return nil
	})

	g.Go(func() error {
		<-runCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		logrus.Info("shutting down HTTP server")
		if err := a.http.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutting down http server")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logrus.Info("shutdown complete")
	return nil
}

// Close releases connections.  Call it after Run returns.
func (a *App) Close() error {
	return errors.CombineErrors(
		errors.CombineErrors(a.publisher.Close(), a.rdb.Close()),
		a.db.Close(),
	)
}
