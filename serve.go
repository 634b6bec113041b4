package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"order-processor/events"
	"order-processor/grpc"
	"order-processor/handlers"
	"order-processor/kafka"
	"order-processor/middleware"
	"order-processor/sweeper"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume order events, run the expiration sweeper and expose health endpoints",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	pub, err := a.newPublisher()
	if err != nil {
		return err
	}

	router := events.NewRouter(logger)
	a.registerHandlers(router, pub, a.notificationMarker())

	group, err := kafka.InitConsumerGroup(a.cfg.Kafka, logger)
	if err != nil {
		return err
	}
	topics := []string{a.cfg.Kafka.Topics.Created, a.cfg.Kafka.Topics.Completed, a.cfg.Kafka.Topics.Expired}
	consumer := kafka.NewConsumer(group, topics, router, a.cfg.Retry, pub, logger)

	sw := sweeper.New(a.store, pub, a.cfg.OrderExpiration, logger)

	// Setup REST API with Gin
	engine := gin.New()
	engine.Use(gin.Recovery())
	// OpenTelemetry middleware must be first to extract trace context
	engine.Use(otelgin.Middleware(a.cfg.Tracing.ServiceName))
	engine.Use(middleware.LoggerMiddleware(logger))
	engine.Use(middleware.MetricsMiddleware())

	readiness := handlers.NewReadinessHandler(a.db, func() string { return sw.Phase().String() })
	orders := handlers.NewOrderHandler(a.store, logger)

	engine.GET("/health", handlers.HealthCheck)
	engine.GET("/ready", readiness.Ready)
	engine.GET("/metrics", middleware.PrometheusHandler())
	engine.GET("/orders/:id", orders.GetOrder)
	engine.GET("/orders/:id/notifications", orders.ListNotifications)

	restSrv := &http.Server{
		Addr:    a.cfg.HTTP.Addr,
		Handler: engine,
	}

	grpcListener, err := net.Listen("tcp", a.cfg.GRPC.Addr)
	if err != nil {
		group.Close()
		return fmt.Errorf("failed to listen on gRPC port: %w", err)
	}
	healthSrv := grpc.NewHealthServer(logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return consumer.Run(gctx)
	})
	g.Go(func() error {
		return sw.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("Order processor REST API started", zap.String("addr", a.cfg.HTTP.Addr))
		if err := restSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("REST server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return healthSrv.Serve(grpcListener)
	})
	g.Go(func() error {
		healthSrv.SetServing(true)
		<-gctx.Done()

		logger.Info("Shutting down servers...")
		healthSrv.SetServing(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := restSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("REST server forced to shutdown", zap.Error(err))
		}
		healthSrv.Stop()
		if err := group.Close(); err != nil {
			logger.Error("Failed to close Kafka consumer group", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()
	logger.Info("Servers exited")
	return err
}
