package main

import (
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"github.com/claimflow/engine/internal/config"
	"github.com/claimflow/engine/services"
	"github.com/claimflow/engine/workers"
)

func main() {
	log.Println("Starting overload scan worker...")

	if err := config.LoadConfig(""); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if config.App.DatabaseURL == "" {
		log.Fatal("DATABASE_URL environment variable (or config) is required")
	}

	pg, err := sql.Open("postgres", config.App.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pg.Close()

	if err := pg.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	if _, err := pg.Exec("SET TIME ZONE 'UTC'"); err != nil {
		log.Printf("Failed to set timezone to UTC: %v", err)
	}

	var rdb *redis.Client
	if config.App.RedisURL != "" {
		opts, err := redis.ParseURL(config.App.RedisURL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		rdb = redis.NewClient(opts)
	}

	items := services.NewPostgresWorkItemStore(pg)
	directory := services.NewPostgresWorkerDirectory(pg)
	audit := services.NewPostgresAuditSink(pg)
	alerts := services.NewPostgresAlertStore(pg)
	sink := services.NewWebhookAlertSink(config.App.AlertWebhookURL)

	rebalanceService := services.NewRebalanceService(items, directory, audit, alerts, sink, config.App.Engine)
	workloadService := services.NewWorkloadService(items, directory, alerts, sink, rdb, config.App.Engine)
	workloadService.SetRebalancer(rebalanceService)

	interval := time.Duration(config.App.ScanIntervalSeconds) * time.Second
	scanWorker := workers.NewScanWorker(workloadService, interval)

	stop := make(chan struct{})
	go scanWorker.StartScanWorker(stop)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	log.Println("Scan worker started successfully. Press Ctrl+C to stop.")
	<-c

	log.Println("Shutting down scan worker...")
	close(stop)
}
