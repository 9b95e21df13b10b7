package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers           []string
	KafkaPostTopic         string
	KafkaAgencyTopic       string
	KafkaGeoJSONTopic      string
	KafkaNotificationTopic string
	KafkaGroupID           string
	HTTPAddr               string
	LogLevel               string
	LogFormat              string
	ShutdownTimeout        time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration
	QueueSize          int

	// DatasetPath points at the static YAML gazetteer and lookup data.
	DatasetPath string

	// Mapbox geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int

	Policy Policy
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	mapboxTimeout, err := time.ParseDuration(sharedcfg.EnvOrDefault("MAPBOX_TIMEOUT", "5s"))
	if err != nil || mapboxTimeout <= 0 {
		return nil, errors.New("invalid MAPBOX_TIMEOUT")
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	queueSize, err := parsePositiveInt("QUEUE_SIZE", 1024)
	if err != nil {
		return nil, err
	}

	policy, err := LoadPolicy()
	if err != nil {
		return nil, err
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	cfg := &Config{
		KafkaBrokers:           sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaPostTopic:         sourceTopic("KAFKA_POST_TOPIC", "quake-posts"),
		KafkaAgencyTopic:       sourceTopic("KAFKA_AGENCY_TOPIC", "quake-agency-reports"),
		KafkaGeoJSONTopic:      sourceTopic("KAFKA_GEOJSON_TOPIC", "quake-geojson"),
		KafkaNotificationTopic: sharedcfg.EnvOrDefault("KAFKA_NOTIFICATION_TOPIC", "quake-notifications"),
		KafkaGroupID:           sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "quake-alert"),
		HTTPAddr:               sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:               sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:              sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:        shutdownTimeout,
		BatchSize:              batchSize,
		BatchFlushInterval:     flushInterval,
		QueueSize:              queueSize,
		DatasetPath:            sharedcfg.EnvOrDefault("DATASET_PATH", "data/dataset.yaml"),

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: parseMapboxCacheSize(),

		Policy: policy,
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaPostTopic == "" && cfg.KafkaAgencyTopic == "" && cfg.KafkaGeoJSONTopic == "" {
		return nil, errors.New("at least one of KAFKA_POST_TOPIC, KAFKA_AGENCY_TOPIC, KAFKA_GEOJSON_TOPIC is required")
	}
	if cfg.KafkaNotificationTopic == "" {
		return nil, errors.New("KAFKA_NOTIFICATION_TOPIC is required")
	}
	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}

	return cfg, nil
}

// SourceTopics returns the configured source topics keyed by record format.
// Unset topics are omitted.
func (c *Config) SourceTopics() map[string]string {
	topics := make(map[string]string, 3)
	if c.KafkaPostTopic != "" {
		topics["post"] = c.KafkaPostTopic
	}
	if c.KafkaAgencyTopic != "" {
		topics["agency"] = c.KafkaAgencyTopic
	}
	if c.KafkaGeoJSONTopic != "" {
		topics["geojson"] = c.KafkaGeoJSONTopic
	}
	return topics
}

// sourceTopic returns the topic for one source. Setting the variable to an
// empty string disables that source.
func sourceTopic(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func parseMapboxCacheSize() int {
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}
