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

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"

	"github.com/bazaarlabs/bazaar/internal/api"
	"github.com/bazaarlabs/bazaar/internal/cart"
	"github.com/bazaarlabs/bazaar/internal/checkout"
	"github.com/bazaarlabs/bazaar/internal/messaging"
	"github.com/bazaarlabs/bazaar/internal/notify"
	"github.com/bazaarlabs/bazaar/internal/orders"
	"github.com/bazaarlabs/bazaar/internal/payment"
	"github.com/bazaarlabs/bazaar/internal/shipment"
	"github.com/bazaarlabs/bazaar/internal/telemetry"
)

func requireEnv(logger *slog.Logger, key string) string {
	value := os.Getenv(key)
	if value == "" {
		logger.Error(key + " environment variable is required")
		os.Exit(1)
	}
	return value
}

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "storefront", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("storefront", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	if err := runtime.Start(); err != nil {
		logger.Error("failed to start runtime instrumentation", "error", err)
		os.Exit(1)
	}

	postgresURL := requireEnv(logger, "POSTGRES_URL")
	redisAddr := requireEnv(logger, "REDIS_ADDR")
	gatewayURL := requireEnv(logger, "PAYMENT_GATEWAY_URL")
	gatewayKeyID := requireEnv(logger, "PAYMENT_GATEWAY_KEY_ID")
	gatewayKeySecret := requireEnv(logger, "PAYMENT_GATEWAY_KEY_SECRET")
	shipmentURL := requireEnv(logger, "SHIPMENT_API_URL")
	shipmentEmail := requireEnv(logger, "SHIPMENT_API_EMAIL")
	shipmentPassword := requireEnv(logger, "SHIPMENT_API_PASSWORD")
	notifyURL := requireEnv(logger, "NOTIFY_SERVICE_URL")

	db, err := telemetry.OpenDB("postgres", postgresURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer func() { _ = redisClient.Close() }()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	var events, alerts checkout.Publisher
	kafkaBrokers := os.Getenv("KAFKA_BROKERS")
	if kafkaBrokers != "" {
		brokers := strings.Split(kafkaBrokers, ",")
		eventsProducer := messaging.NewProducer(brokers, messaging.TopicOrderCompleted)
		defer func() { _ = eventsProducer.Close() }()
		alertsProducer := messaging.NewProducer(brokers, messaging.TopicFulfillmentAlert)
		defer func() { _ = alertsProducer.Close() }()
		events = eventsProducer
		alerts = alertsProducer
	}

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	cartStore := cart.NewTwoTierStore(
		cart.NewRedisStore(redisClient),
		cart.NewPostgresStore(db),
		logger,
	)
	carts := cart.NewService(cartStore, logger)

	orderRepo := orders.NewRepository(db)
	paymentRepo := payment.NewRepository(db)
	gateway := payment.NewClient(gatewayURL, gatewayKeyID, gatewayKeySecret, httpClient)
	shipments := shipment.NewClient(shipmentURL, shipmentEmail, shipmentPassword, httpClient)
	notifier := notify.NewClient(notifyURL, httpClient)

	orch := checkout.New(carts, orderRepo, paymentRepo, gateway, shipments, events, alerts, logger)

	handler := api.NewHandler(carts, orch, checkout.NewSessionStore(), orderRepo, shipments, notifier, logger)
	handler.Wrap = telemetry.WithHTTPRoute

	mux := http.NewServeMux()
	handler.Register(mux)
	mux.Handle("GET /metrics", metricsHandler)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr: ":" + port,
		Handler: otelhttp.NewHandler(mux, "storefront",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting storefront service", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
