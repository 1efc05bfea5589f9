package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/smukkama/airquality-alerts/internal/database"
)

type Config struct {
	Database DatabaseConfig
	Alerting AlertingConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Snapshot SnapshotConfig
	Metrics  MetricsConfig
	Tracing  TracingConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// AlertingConfig holds the locale and thresholds the queries run with
type AlertingConfig struct {
	Timezone             string
	DayBoundaryOffset    time.Duration
	AlertLag             time.Duration
	NearbyDistanceMeters float64
	ProjectionSRID       int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers        []string
	TopicSnapshots string
	NumPartitions  int
}

type SnapshotConfig struct {
	Interval time.Duration
	TTL      time.Duration
}

type MetricsConfig struct {
	Addr string
}

type TracingConfig struct {
	Enabled      bool
	OTLPEndpoint string
	SamplingRate float64
	Insecure     bool
}

// QuerySettings converts the alerting section for the query library
func (c *Config) QuerySettings() database.Settings {
	return database.Settings{
		Timezone:             c.Alerting.Timezone,
		DayBoundaryOffset:    c.Alerting.DayBoundaryOffset,
		AlertLag:             c.Alerting.AlertLag,
		NearbyDistanceMeters: c.Alerting.NearbyDistanceMeters,
		ProjectionSRID:       c.Alerting.ProjectionSRID,
	}
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "airquality_user"),
			Password: getEnv("DB_PASSWORD", "airquality_pass"),
			DBName:   getEnv("DB_NAME", "airquality_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Alerting: AlertingConfig{
			Timezone:             getEnv("ALERT_TIMEZONE", database.DefaultTimezone),
			DayBoundaryOffset:    getEnvAsDuration("ALERT_DAY_BOUNDARY_OFFSET", database.DefaultDayBoundaryOffset),
			AlertLag:             getEnvAsDuration("ALERT_LAG", database.DefaultAlertLag),
			NearbyDistanceMeters: getEnvAsFloat("ALERT_NEARBY_DISTANCE_METERS", database.DefaultNearbyDistanceMeters),
			ProjectionSRID:       getEnvAsInt("ALERT_PROJECTION_SRID", database.DefaultProjectionSRID),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:        strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			TopicSnapshots: getEnv("KAFKA_TOPIC_SNAPSHOTS", "airquality.poll.snapshots"),
			NumPartitions:  getEnvAsInt("KAFKA_NUM_PARTITIONS", 1),
		},
		Snapshot: SnapshotConfig{
			Interval: getEnvAsDuration("SNAPSHOT_INTERVAL", 2*time.Minute),
			TTL:      getEnvAsDuration("SNAPSHOT_TTL", time.Hour),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ":9102"),
		},
		Tracing: TracingConfig{
			Enabled:      getEnvAsBool("TRACING_ENABLED", false),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			SamplingRate: getEnvAsFloat("TRACING_SAMPLING_RATE", 1.0),
			Insecure:     getEnvAsBool("TRACING_INSECURE", false),
		},
	}

	if err := config.QuerySettings().Validate(); err != nil {
		return nil, fmt.Errorf("invalid alerting configuration: %w", err)
	}
	if config.Snapshot.Interval <= 0 {
		return nil, fmt.Errorf("SNAPSHOT_INTERVAL must be positive, got %s", config.Snapshot.Interval)
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
