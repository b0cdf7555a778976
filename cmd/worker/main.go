package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/bazaarlabs/bazaar/internal/messaging"
	"github.com/bazaarlabs/bazaar/internal/notify"
	"github.com/bazaarlabs/bazaar/internal/telemetry"
	"github.com/bazaarlabs/bazaar/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(context.Background(), "storefront-worker", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	kafkaBrokers := os.Getenv("KAFKA_BROKERS")
	if kafkaBrokers == "" {
		logger.Error("KAFKA_BROKERS environment variable is required")
		os.Exit(1)
	}

	notifyURL := os.Getenv("NOTIFY_SERVICE_URL")
	if notifyURL == "" {
		logger.Error("NOTIFY_SERVICE_URL environment variable is required")
		os.Exit(1)
	}

	brokers := strings.Split(kafkaBrokers, ",")

	confirmations := messaging.NewConsumer(brokers, messaging.TopicOrderCompleted, "confirmation-worker")
	defer func() { _ = confirmations.Close() }()

	alerts := messaging.NewConsumer(brokers, messaging.TopicFulfillmentAlert, "fulfillment-alert-worker")
	defer func() { _ = alerts.Close() }()

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	confirmationHandler := worker.NewConfirmationHandler(notify.NewClient(notifyURL, httpClient), logger)
	alertHandler := worker.NewAlertHandler(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("starting workers", "brokers", brokers)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return confirmations.Consume(gctx, confirmationHandler.Handle)
	})
	g.Go(func() error {
		return alerts.Consume(gctx, alertHandler.Handle)
	})

	if err := g.Wait(); err != nil {
		if ctx.Err() == context.Canceled {
			logger.Info("consumers stopped")
			return
		}
		logger.Error("consumer error", "error", err)
		os.Exit(1)
	}
}
