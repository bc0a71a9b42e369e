package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/corray333/message-queue/internal/dal/postgres"
	"github.com/corray333/message-queue/internal/dal/rabbitmq"
	redisclient "github.com/corray333/message-queue/internal/dal/redis"
	"github.com/corray333/message-queue/internal/dal/uow"
	"github.com/corray333/message-queue/internal/otel"
	"github.com/corray333/message-queue/internal/service/services/claimsvc"
	"github.com/corray333/message-queue/internal/service/services/deliverysvc"
	"github.com/corray333/message-queue/internal/service/services/handlersvc"
	"github.com/corray333/message-queue/internal/service/services/queuesvc"
	"github.com/corray333/message-queue/internal/transport/consumer"
	httptransport "github.com/corray333/message-queue/internal/transport/http"
	"github.com/corray333/message-queue/internal/worker/mover"
)

// App represents the application: the enqueue API, the scheduled-queue
// mover and the delivery consumer, all sharing one scheduled store and
// one broker.
type App struct {
	queueSvc       *queuesvc.MessageQueueService
	deliveries     *deliverysvc.Registry
	transport      *httptransport.HTTPTransport
	consumerTransp *consumer.Consumer
	moverWorker    *mover.Worker
	rabbitClient   *rabbitmq.Client
	redisClient    *redisclient.Client
	postgresClient *postgres.Client
	otelController *otel.OtelController
}

// MustNewApp creates a new application.
func MustNewApp() *App {
	otelController := otel.MustInitOtel()
	postgresClient := postgres.MustNewClient()
	redisClient := redisclient.MustNewClient()
	rabbitClient := rabbitmq.MustNewClient()

	queueSvc := queuesvc.MustNewMessageQueueService(
		queuesvc.WithPostgresClient(postgresClient),
	)

	producer := rabbitmq.NewProducer(rabbitClient.Channel(), rabbitmq.UUIDGenerator{})
	moverWorker := mover.NewWorker(queueSvc, producer)

	deliveries := deliverysvc.NewRegistry()
	deliveries.Register("log", deliverysvc.NewLogDelivery())

	guard := claimsvc.NewGuard(redisClient)
	persistence := uow.NewPersistenceClient(postgresClient)
	messageHandler := handlersvc.NewMessageHandler(deliveries, persistence)

	deadLetters := uow.NewUnitOfWork(postgresClient).DeadLetterRepository()
	amqpHandler := consumer.NewAmqpHandler(messageHandler, guard, deadLetters)
	consumerTransp := consumer.MustNewConsumer(rabbitClient, amqpHandler)

	transport := httptransport.NewHTTPTransport(queueSvc)
	transport.RegisterRoutes()

	return &App{
		queueSvc:       queueSvc,
		deliveries:     deliveries,
		transport:      transport,
		consumerTransp: consumerTransp,
		moverWorker:    moverWorker,
		rabbitClient:   rabbitClient,
		redisClient:    redisClient,
		postgresClient: postgresClient,
		otelController: otelController,
	}
}

// RegisterDelivery binds a delivery function to a destination before the
// app starts consuming.
func (a *App) RegisterDelivery(destination string, fn deliverysvc.DeliveryFunc) {
	a.deliveries.Register(destination, fn)
}

// Run starts the application and blocks until an interrupt or terminate
// signal arrives, then drains gracefully. Signals never interrupt an
// in-flight delivery: they cancel the context the workers poll between
// messages.
func (a *App) Run() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Starting HTTP server")
		if err := a.transport.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		slog.Info("Starting mover worker")
		a.moverWorker.Start(gctx)

		return nil
	})

	g.Go(func() error {
		slog.Info("Starting consumer")

		return a.consumerTransp.Run(gctx)
	})

	select {
	case <-stop:
		slog.Info("Shutdown signal received")
	case <-gctx.Done():
		slog.Info("Worker stopped, shutting down")
	}

	cancel()
	a.gracefulShutdown()

	if err := g.Wait(); err != nil {
		slog.Error("Worker exited with error", "error", err)
	}
}

// gracefulShutdown stops components in dependency order: workers first,
// then the HTTP server, then the broker, cache and database clients.
func (a *App) gracefulShutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a.moverWorker.Stop()
	slog.Info("Mover worker stopped gracefully")

	if err := a.transport.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped gracefully")
	}

	if err := a.rabbitClient.Close(); err != nil {
		slog.Error("RabbitMQ connection close error", "error", err)
	} else {
		slog.Info("RabbitMQ connection closed gracefully")
	}

	if err := a.redisClient.Close(); err != nil {
		slog.Error("Redis connection close error", "error", err)
	} else {
		slog.Info("Redis connection closed gracefully")
	}

	a.postgresClient.Close()
	slog.Info("Database connection closed gracefully")

	if err := a.otelController.Shutdown(); err != nil {
		slog.Error("Otel trace provider close error", "error", err)
	} else {
		slog.Info("Otel trace provider closed gracefully")
	}

	slog.Info("Application shutdown complete")
}
