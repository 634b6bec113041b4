package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"order-processor/cache"
	"order-processor/config"
	"order-processor/database"
	"order-processor/events"
	"order-processor/handlers"
	"order-processor/kafka"
	"order-processor/middleware"
	"order-processor/payment"
)

// brokerPublisher is implemented by both Kafka drivers.
type brokerPublisher interface {
	events.Publisher
	kafka.DeadLetterSink
	Close() error
}

// app holds the resources shared by every command.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	db      *sql.DB
	store   *database.Store
	closers []func() error
}

func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, func() error {
		_ = logger.Sync()
		return nil
	})

	shutdownTracing, err := middleware.InitTracing(cfg.Tracing)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.onClose(func() error {
		shutdownTracing()
		return nil
	})

	db, err := database.InitDB(ctx, cfg.DB, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.db = db
	a.store = database.NewStore(db)
	a.onClose(db.Close)

	return a, nil
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	if cfg.Development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) newPublisher() (brokerPublisher, error) {
	var pub brokerPublisher
	switch a.cfg.Kafka.Driver {
	case config.DriverKafkaGo:
		pub = kafka.NewWriter(kafka.NewKafkaGoWriter(a.cfg.Kafka), a.cfg.Kafka, a.logger)
		a.logger.Info("Kafka writer initialized", zap.Strings("brokers", a.cfg.Kafka.Brokers))
	default:
		producer, err := kafka.InitProducer(a.cfg.Kafka, a.logger)
		if err != nil {
			return nil, err
		}
		pub = kafka.NewProducer(producer, a.cfg.Kafka, a.logger)
	}
	a.onClose(pub.Close)
	return pub, nil
}

// notificationMarker returns nil when Redis is not configured or unreachable.
func (a *app) notificationMarker() handlers.NotificationMarker {
	if a.cfg.Redis.Addr == "" {
		return nil
	}
	rdb, err := cache.InitRedis(a.cfg.Redis, a.logger)
	if err != nil {
		a.logger.Warn("Redis unavailable, notification dedupe uses the database only", zap.Error(err))
		return nil
	}
	a.onClose(rdb.Close)
	return cache.NewNotificationMarks(rdb, a.cfg.Redis.TTL)
}

func (a *app) newOracle() payment.Oracle {
	return payment.NewRandomOracle(a.cfg.Payment.SuccessRate, 0)
}

// registerHandlers wires the three lifecycle handlers onto router. Events the
// handlers emit go to pub.
func (a *app) registerHandlers(router *events.Router, pub events.Publisher, marks handlers.NotificationMarker) {
	handlers.RegisterEventHandlers(router,
		handlers.NewOrderCreatedHandler(a.store, pub, a.newOracle(), a.cfg.Payment.Delay, a.logger),
		handlers.NewOrderCompletedHandler(a.store, marks, a.logger),
		handlers.NewOrderExpiredHandler(a.store, marks, a.logger),
	)
}

// localBus runs the whole pipeline in-process, without a broker.
func (a *app) localBus() *events.InMemoryBus {
	router := events.NewRouter(a.logger)
	bus := events.NewInMemoryBus(router, a.logger)
	a.registerHandlers(router, bus, a.notificationMarker())
	return bus
}
