package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"github.com/warehouse-ops/pipeline/internal/aggregate"
	"github.com/warehouse-ops/pipeline/internal/alerting"
	"github.com/warehouse-ops/pipeline/internal/alerting/channels"
	"github.com/warehouse-ops/pipeline/internal/anomaly"
	"github.com/warehouse-ops/pipeline/internal/bus"
	"github.com/warehouse-ops/pipeline/internal/config"
	"github.com/warehouse-ops/pipeline/internal/enrich"
	"github.com/warehouse-ops/pipeline/internal/httputil"
	"github.com/warehouse-ops/pipeline/internal/metrics"
	"github.com/warehouse-ops/pipeline/internal/pipeline"
	"github.com/warehouse-ops/pipeline/internal/process"
	"github.com/warehouse-ops/pipeline/internal/stock"
	"github.com/warehouse-ops/pipeline/internal/storage"
	"github.com/warehouse-ops/pipeline/internal/worker"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx := context.Background()
	met := metrics.New()

	// Redis (optional L2 cache, metric snapshots, health snapshots)
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("invalid REDIS_URL: %v", err)
		}
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("WARNING: redis ping failed: %v (continuing without cache)", err)
			rdb = nil
		}
	}

	// Stock levels from the transactional backend, baseline without one
	var stocks stock.Provider = stock.BaselineProvider{}
	if cfg.DatabaseURL != "" {
		pg, err := stock.NewPostgresProvider(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Printf("WARNING: stock backend connection failed: %v (using baseline levels)", err)
		} else {
			defer pg.Close()
			stocks = pg
		}
	}

	// Bus
	client, err := bus.NewClient(splitBrokers(cfg.KafkaBrokers), cfg.KafkaConsumerGroup)
	if err != nil {
		log.Fatalf("kafka client: %v", err)
	}
	producer := client.Producer()
	defer producer.Close() //nolint:errcheck // best-effort flush on shutdown

	// Storage backends; adapters with an empty URL stay unregistered
	store := storage.NewManager()
	registerAdapters(store, cfg)
	connected := store.ConnectAll(ctx)
	for backend, ok := range connected {
		if !ok {
			log.Printf("WARNING: storage backend %s failed to connect", backend)
		}
	}
	defer store.DisconnectAll(context.Background())

	// Alerting
	alerts := alerting.NewManager(alerting.ManagerOptions{
		Channels:    buildChannels(cfg),
		Publisher:   producer,
		Rules:       defaultAlertRules(),
		MinSeverity: alerting.Severity(cfg.MinNotificationSeverity),
		RuleMode:    alerting.RuleMode(cfg.AlertRuleMode),
	})

	// One processing worker per input topic, each with its own aggregator
	// and detector window; partitions within a topic are shared through the
	// consumer group.
	inputs := bus.InputTopics()
	workers := make([]pipeline.Worker, 0, len(inputs)+1)
	for _, topic := range inputs {
		workers = append(workers, worker.NewProcessing(worker.ProcessingOptions{
			ID:         "processing-" + topic,
			Consumer:   client.Consumer([]string{topic}, cfg.KafkaConsumerGroup),
			Producer:   producer,
			Processor:  process.New(),
			Enricher:   enrich.New(nil, rdb, met),
			Detector:   anomaly.New(stocks, met),
			Aggregator: aggregate.New(rdb),
			Metrics:    met,
		}))
	}
	workers = append(workers, worker.NewAlerts(worker.AlertsOptions{
		ID:       "alerting",
		Consumer: client.Consumer([]string{bus.TopicAlerts}, cfg.KafkaConsumerGroup+"-alerting"),
		Alerts:   alerts,
		Metrics:  met,
	}))
	if len(store.Adapters()) > 0 {
		workers = append(workers, worker.NewSink(worker.SinkOptions{
			ID:       "storage-sink",
			Consumer: client.Consumer(bus.StorageTopics(), cfg.KafkaConsumerGroup+"-storage"),
			Store:    store,
			Metrics:  met,
		}))
	}

	manager := pipeline.NewManager(pipeline.ManagerOptions{
		Workers:  workers,
		Backends: store,
		Redis:    rdb,
	})
	manager.Start(ctx)

	// HTTP: health, alert operations API and Prometheus metrics
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		health := manager.Health(req.Context())
		status := http.StatusOK
		if health.String("status") != "healthy" {
			status = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, status, health)
	}).Methods("GET")
	alerts.RegisterRoutes(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Printf("HTTP API listening on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: met.Handler()}
	go func() {
		log.Printf("metrics listening on :%s", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("metrics server: %v", err)
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics shutdown: %v", err)
	}
	manager.Stop()
	log.Println("shutdown complete")
}

func splitBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func registerAdapters(store *storage.Manager, cfg *config.Config) {
	if cfg.InfluxDBURL != "" {
		store.Register(storage.AdapterInfluxDB, storage.NewInfluxAdapter(storage.InfluxConfig{
			URL:    cfg.InfluxDBURL,
			Token:  cfg.InfluxDBToken,
			Org:    cfg.InfluxDBOrg,
			Bucket: cfg.InfluxDBBucket,
		}))
	}
	if cfg.ElasticsearchURL != "" {
		store.Register(storage.AdapterElasticsearch, storage.NewElasticAdapter(storage.ElasticConfig{
			URL:      cfg.ElasticsearchURL,
			Username: cfg.ElasticsearchUsername,
			Password: cfg.ElasticsearchPassword,
		}))
	}
	if cfg.ClickHouseURL != "" {
		store.Register(storage.AdapterClickHouse, storage.NewClickHouseAdapter(storage.ClickHouseConfig{
			URL:      cfg.ClickHouseURL,
			Username: cfg.ClickHouseUsername,
			Password: cfg.ClickHousePassword,
			Database: cfg.ClickHouseDatabase,
		}))
	}
}

func buildChannels(cfg *config.Config) []alerting.Channel {
	var out []alerting.Channel

	if cfg.SMTPHost != "" {
		email, err := channels.NewEmailChannel(channels.EmailConfig{
			Host:      cfg.SMTPHost,
			Port:      cfg.SMTPPort,
			Username:  cfg.SMTPUser,
			Password:  cfg.SMTPPass,
			UseTLS:    cfg.SMTPUseTLS,
			FromEmail: cfg.AlertFrom,
			ToEmails:  cfg.AlertTo,
		})
		if err != nil {
			log.Printf("WARNING: email channel disabled: %v", err)
		} else {
			out = append(out, email)
		}
	}

	if cfg.SlackWebhookURL != "" {
		slack, err := channels.NewSlackChannel(cfg.SlackWebhookURL)
		if err != nil {
			log.Printf("WARNING: slack channel disabled: %v", err)
		} else {
			out = append(out, slack)
		}
	}

	for _, url := range cfg.WebhookURLs {
		webhook, err := channels.NewWebhookChannel(url, nil)
		if err != nil {
			log.Printf("WARNING: webhook channel disabled for %s: %v", url, err)
			continue
		}
		out = append(out, webhook)
	}

	log.Printf("alerting: %d notification channels configured", len(out))
	return out
}

// defaultAlertRules covers the operational failure modes the pipeline itself
// can detect from records flowing through it.
func defaultAlertRules() []alerting.Rule {
	return []alerting.Rule{
		{
			Name:        "high_anomaly_confidence",
			Title:       "High-confidence inventory anomaly",
			Severity:    alerting.SeverityCritical,
			Conditions:  []alerting.Condition{{Field: "confidence", Operator: "gt", Value: 0.9}},
			Description: "An anomaly detector fired with confidence above 0.9",
		},
		{
			Name:        "negative_stock",
			Title:       "Negative stock projection",
			Severity:    alerting.SeverityError,
			Conditions:  []alerting.Condition{{Field: "anomaly_type", Operator: "eq", Value: "negative_stock_risk"}},
			Description: "A stock-out would take the item below zero on hand",
		},
	}
}
