package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/smukkama/airquality-alerts/internal/database"
	"github.com/smukkama/airquality-alerts/internal/metrics"
	"github.com/smukkama/airquality-alerts/internal/queue"
	"github.com/smukkama/airquality-alerts/internal/snapshot"
	"github.com/smukkama/airquality-alerts/internal/timer"
	"github.com/smukkama/airquality-alerts/pkg/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Println("Starting Snapshot Service...")

	shutdownTracing, err := metrics.SetupTracing(context.Background(), metrics.TracingConfig{
		ServiceName:  "snapshotter",
		Enabled:      cfg.Tracing.Enabled,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
		Insecure:     cfg.Tracing.Insecure,
	})
	if err != nil {
		log.Fatalf("Failed to set up tracing: %v", err)
	}

	// Connect to database
	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	postgis, err := db.PostGISVersion(context.Background())
	if err != nil {
		log.Fatalf("PostGIS is not available: %v", err)
	}
	fmt.Printf("Connected to database (PostGIS %s)\n", postgis)

	// Instrument queries
	registry := prometheus.NewRegistry()
	observer, err := metrics.NewQueryObserver(registry)
	if err != nil {
		log.Fatalf("Failed to register metrics: %v", err)
	}

	queries, err := database.NewQueries(db, cfg.QuerySettings(), database.WithObserver(observer))
	if err != nil {
		log.Fatalf("Failed to create queries: %v", err)
	}

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	fmt.Println("Connected to Redis")

	// Create Kafka topic (ignore error if already exists)
	_ = queue.CreateTopic(cfg.Kafka.Brokers, cfg.Kafka.TopicSnapshots, cfg.Kafka.NumPartitions, 1)

	producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicSnapshots)
	defer producer.Close()
	fmt.Printf("Kafka producer ready (topic: %s)\n", cfg.Kafka.TopicSnapshots)

	runner := snapshot.NewRunner(
		snapshot.NewCollector(queries),
		snapshot.NewStore(redisClient, cfg.Snapshot.TTL),
		producer,
	)

	// Schedule snapshots
	scheduler := timer.NewScheduler()
	err = scheduler.Every("poll-snapshot", cfg.Snapshot.Interval, func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, cfg.Snapshot.Interval)
		defer cancel()

		snap, err := runner.RunOnce(ctx)
		if err != nil {
			log.Printf("Snapshot failed: %v\n", err)
			return
		}
		fmt.Printf("Snapshot %s: %d eligible sensors, %d active alerts\n",
			snap.ID, len(snap.EligibleSensors), len(snap.ActiveSensorGroupings))
	})
	if err != nil {
		log.Fatalf("Failed to schedule snapshots: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()
	fmt.Printf("Snapshots scheduled every %s\n", cfg.Snapshot.Interval)

	// Serve metrics
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Metrics server error: %v\n", err)
		}
	}()

	fmt.Println("\n✓ Snapshot Service is running")
	fmt.Printf("✓ Metrics on %s/metrics\n", cfg.Metrics.Addr)
	fmt.Println("✓ Press Ctrl+C to stop")

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	metricsServer.Shutdown(shutdownCtx)
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("Failed to flush spans: %v\n", err)
	}

	stats := producer.Stats()
	fmt.Printf("Published %d snapshot messages (%d errors)\n", stats.Messages, stats.Errors)
}
