package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	initLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OtelEnabled {
		tp, err := initTracer(ctx, cfg)
		if err != nil {
			log.Fatalf("Failed to initialize tracer: %v", err)
		}
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				slog.Error("error shutting down tracer", "error", err)
			}
		}()

		mp, err := initMetrics(ctx, cfg)
		if err != nil {
			log.Fatalf("Failed to initialize metrics: %v", err)
		}
		defer func() {
			if err := mp.Shutdown(context.Background()); err != nil {
				slog.Error("error shutting down meter", "error", err)
			}
		}()
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			slog.Error("error closing store", "error", err)
		}
	}()

	// Redis e Kafka são opcionais
	var (
		cache       ProductCache
		idempotency IdempotencyStore
	)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unreachable, continuing without cache", "addr", cfg.RedisAddr, "error", err)
		} else {
			cache = NewRedisProductCache(client, cfg.ServiceName, cfg.CacheTTL)
			idempotency = NewRedisIdempotencyStore(client, cfg.ServiceName, cfg.IdempotencyTTL, cfg.IdempotencyPendingTTL)
		}
	}

	var publisher OrderPublisher
	if cfg.KafkaBrokers != "" {
		kp, err := NewKafkaOrderPublisher(cfg.KafkaBrokers, cfg.KafkaOrdersTopic)
		if err != nil {
			log.Fatalf("Failed to initialize kafka publisher: %v", err)
		}
		defer kp.Close()
		publisher = kp
	}

	orderUseCase := NewOrderUseCase(store, store, publisher, cache, PlacementPolicy{
		RequirePhoneNumber: cfg.RequirePhoneNumber,
		CallTimeout:        cfg.StoreCallTimeout,
		ValidProductID:     store.ValidProductID,
	})
	if cfg.OrderMode == OrderModeTransaction {
		transactor, ok := store.(Transactor)
		if !ok {
			log.Fatalf("Store %q does not support transactions", cfg.StoreDriver)
		}
		orderUseCase.UseTransactions(transactor)
	}
	productUseCase := NewProductUseCase(store, cache)

	router := NewRouter(RouterConfig{
		ServiceName: cfg.ServiceName,
		ImagesDir:   cfg.ImagesDir,
		Orders:      NewOrderHandler(orderUseCase, idempotency),
		Products:    NewProductHandler(productUseCase),
		Health:      HealthCheck(store, cfg.ServiceName),
		Metrics:     NewHTTPMetrics(cfg.ServiceName),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		slog.Info("webstore listening",
			"port", cfg.Port,
			"store", cfg.StoreDriver,
			"order_mode", cfg.OrderMode,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
}

func openStore(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		pool, err := initDB(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewPostgresStore(pool), nil

	case StoreDriverMongo:
		client, err := initMongo(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store := NewMongoStore(client, cfg.MongoDatabase)
		if err := store.EnsureIndexes(ctx); err != nil {
			slog.Warn("failed to create product indexes", "error", err)
		}
		return store, nil

	default:
		slog.Warn("using in-memory store seeded with sample lessons")
		return NewMemoryStore(SampleLessons()...), nil
	}
}

func initDB(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(cfg.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 25
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Aguarda o banco ficar disponível
	for i := 0; i < 30; i++ {
		if err := pool.Ping(ctx); err == nil {
			slog.Info("connected to postgres", "host", cfg.DatabaseHost, "database", cfg.DatabaseName)
			return pool, nil
		}
		slog.Info("waiting for database", "attempt", i+1, "max_attempts", 30)
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}

	pool.Close()
	return nil, fmt.Errorf("failed to connect to database after 30 attempts")
}

func initMongo(ctx context.Context, cfg Config) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(cfg.MongoURI).
		SetServerSelectionTimeout(10*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	slog.Info("connected to mongo", "database", cfg.MongoDatabase)
	return client, nil
}

func telemetryResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
}

func initTracer(ctx context.Context, cfg Config) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OtlpEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := telemetryResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	otel.SetTracerProvider(tp)

	return tp, nil
}

func initMetrics(ctx context.Context, cfg Config) (*sdkmetric.MeterProvider, error) {
	exporter, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(cfg.OtlpEndpoint),
		otlpmetrichttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := telemetryResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	return mp, nil
}
