package config

import (
	"fmt"
	"os"
	"strings"
)

type Config struct {
	LogLevel    string
	HTTPPort    string
	MetricsPort string

	// Kafka
	KafkaBrokers       string
	KafkaConsumerGroup string

	// Redis (optional L2 cache / health snapshots)
	RedisURL string

	// Transactional backend (optional, stock-level lookups)
	DatabaseURL string

	// Storage adapters; an empty URL disables the adapter
	InfluxDBURL    string
	InfluxDBToken  string
	InfluxDBOrg    string
	InfluxDBBucket string

	ElasticsearchURL      string
	ElasticsearchUsername string
	ElasticsearchPassword string

	ClickHouseURL      string
	ClickHouseUsername string
	ClickHousePassword string
	ClickHouseDatabase string

	// Alerting
	MinNotificationSeverity string
	AlertRuleMode           string // "any" or "all"

	SMTPHost   string
	SMTPPort   string
	SMTPUser   string
	SMTPPass   string
	SMTPUseTLS bool
	AlertFrom  string
	AlertTo    []string

	SlackWebhookURL string
	WebhookURLs     []string
}

func Load() *Config {
	return &Config{
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		MetricsPort: getEnv("METRICS_PORT", "8090"),

		KafkaBrokers:       getEnv("KAFKA_BROKERS", "kafka:9092"),
		KafkaConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "warehouse-processing"),

		RedisURL:    getEnv("REDIS_URL", ""),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		InfluxDBURL:    getEnv("INFLUXDB_URL", ""),
		InfluxDBToken:  getEnv("INFLUXDB_TOKEN", ""),
		InfluxDBOrg:    getEnv("INFLUXDB_ORG", "warehouse"),
		InfluxDBBucket: getEnv("INFLUXDB_BUCKET", "warehouse_metrics"),

		ElasticsearchURL:      getEnv("ELASTICSEARCH_URL", ""),
		ElasticsearchUsername: getEnv("ELASTICSEARCH_USERNAME", ""),
		ElasticsearchPassword: getEnv("ELASTICSEARCH_PASSWORD", ""),

		ClickHouseURL:      getEnv("CLICKHOUSE_URL", ""),
		ClickHouseUsername: getEnv("CLICKHOUSE_USERNAME", "default"),
		ClickHousePassword: getEnv("CLICKHOUSE_PASSWORD", ""),
		ClickHouseDatabase: getEnv("CLICKHOUSE_DATABASE", "warehouse_analytics"),

		MinNotificationSeverity: getEnv("MIN_NOTIFICATION_SEVERITY", "warning"),
		AlertRuleMode:           getEnv("ALERT_RULE_MODE", "any"),

		SMTPHost:   getEnv("SMTP_HOST", ""),
		SMTPPort:   getEnv("SMTP_PORT", "587"),
		SMTPUser:   getEnv("SMTP_USER", ""),
		SMTPPass:   getEnv("SMTP_PASS", ""),
		SMTPUseTLS: getEnv("SMTP_USE_TLS", "true") == "true",
		AlertFrom:  getEnv("ALERT_FROM_EMAIL", ""),
		AlertTo:    splitList(getEnv("ALERT_TO_EMAILS", "")),

		SlackWebhookURL: getEnv("SLACK_WEBHOOK_URL", ""),
		WebhookURLs:     splitList(getEnv("ALERT_WEBHOOK_URLS", "")),
	}
}

// Validate rejects configurations the process cannot safely start with.
// A half-configured adapter (URL without its required secret) is a fatal
// startup error rather than a silent no-op.
func (c *Config) Validate() error {
	if c.InfluxDBURL != "" && c.InfluxDBToken == "" {
		return fmt.Errorf("INFLUXDB_TOKEN is required when INFLUXDB_URL is set")
	}
	if c.AlertRuleMode != "any" && c.AlertRuleMode != "all" {
		return fmt.Errorf("ALERT_RULE_MODE must be \"any\" or \"all\", got %q", c.AlertRuleMode)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
