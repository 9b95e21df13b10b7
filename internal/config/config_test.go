package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	defaultBroker   = "localhost:9092"
	testMapboxToken = "pk.test-token"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{defaultBroker}, cfg.KafkaBrokers)
	assert.Equal(t, "quake-posts", cfg.KafkaPostTopic)
	assert.Equal(t, "quake-agency-reports", cfg.KafkaAgencyTopic)
	assert.Equal(t, "quake-geojson", cfg.KafkaGeoJSONTopic)
	assert.Equal(t, "quake-notifications", cfg.KafkaNotificationTopic)
	assert.Equal(t, "quake-alert", cfg.KafkaGroupID)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.BatchFlushInterval)
	assert.Equal(t, 1024, cfg.QueueSize)
	assert.Equal(t, "data/dataset.yaml", cfg.DatasetPath)
	assert.False(t, cfg.MapboxEnabled)
	assert.Empty(t, cfg.MapboxToken)
	assert.Equal(t, 5*time.Second, cfg.MapboxTimeout)
	assert.Equal(t, 1000, cfg.MapboxCacheSize)
	assert.Equal(t, DefaultPolicy(), cfg.Policy)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_POST_TOPIC", "posts")
	t.Setenv("KAFKA_AGENCY_TOPIC", "agencies")
	t.Setenv("KAFKA_GEOJSON_TOPIC", "")
	t.Setenv("KAFKA_NOTIFICATION_TOPIC", "alerts")
	t.Setenv("KAFKA_GROUP_ID", "custom-group")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("BATCH_SIZE", "100")
	t.Setenv("BATCH_FLUSH_INTERVAL", "1s")
	t.Setenv("QUEUE_SIZE", "64")
	t.Setenv("DATASET_PATH", "/etc/quake/dataset.yaml")
	t.Setenv("MAPBOX_TOKEN", testMapboxToken)
	t.Setenv("MAPBOX_TIMEOUT", "10s")
	t.Setenv("MAPBOX_CACHE_SIZE", "500")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, map[string]string{"post": "posts", "agency": "agencies"}, cfg.SourceTopics())
	assert.Equal(t, "alerts", cfg.KafkaNotificationTopic)
	assert.Equal(t, "custom-group", cfg.KafkaGroupID)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 1*time.Second, cfg.BatchFlushInterval)
	assert.Equal(t, 64, cfg.QueueSize)
	assert.Equal(t, "/etc/quake/dataset.yaml", cfg.DatasetPath)
	assert.True(t, cfg.MapboxEnabled)
	assert.Equal(t, testMapboxToken, cfg.MapboxToken)
	assert.Equal(t, 10*time.Second, cfg.MapboxTimeout)
	assert.Equal(t, 500, cfg.MapboxCacheSize)
}

func TestLoad_InvalidShutdownTimeout(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
}

func TestLoad_InvalidBatchSize(t *testing.T) {
	t.Setenv("BATCH_SIZE", "0")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATCH_SIZE")
}

func TestLoad_InvalidBatchFlushInterval(t *testing.T) {
	t.Setenv("BATCH_FLUSH_INTERVAL", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATCH_FLUSH_INTERVAL")
}

func TestLoad_InvalidQueueSize(t *testing.T) {
	t.Setenv("QUEUE_SIZE", "-3")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QUEUE_SIZE")
}

func TestLoad_InvalidMapboxTimeout(t *testing.T) {
	t.Setenv("MAPBOX_TIMEOUT", "bad")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAPBOX_TIMEOUT")
}

func TestLoad_MapboxEnabledWithoutToken(t *testing.T) {
	t.Setenv("MAPBOX_ENABLED", "true")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAPBOX_TOKEN")
}

func TestLoad_MapboxExplicitlyDisabled(t *testing.T) {
	t.Setenv("MAPBOX_TOKEN", testMapboxToken)
	t.Setenv("MAPBOX_ENABLED", "false")
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.MapboxEnabled)
}

func TestLoad_NoSourceTopics(t *testing.T) {
	t.Setenv("KAFKA_POST_TOPIC", "")
	t.Setenv("KAFKA_AGENCY_TOPIC", "")
	t.Setenv("KAFKA_GEOJSON_TOPIC", "")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KAFKA_POST_TOPIC")
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	require.NoError(t, p.Validate())

	assert.InDelta(t, 1.0, p.PromotionThreshold, 1e-9)
	assert.InDelta(t, 3.5, p.SWaveSpeedKmS, 1e-9)
	assert.Equal(t, 20*time.Second, p.ReactionLatency)
	assert.Equal(t, 10*time.Minute, p.ClusterWindow)
	assert.Equal(t, 48*time.Hour, p.MaxEventAge)
	assert.Equal(t, 3, p.EnrichmentMaxAttempts)
}

func TestLoadPolicy_Overrides(t *testing.T) {
	t.Setenv("PROMOTION_THRESHOLD", "2.5")
	t.Setenv("S_WAVE_SPEED_KM_S", "4")
	t.Setenv("CLUSTER_WINDOW", "3m")

	p, err := LoadPolicy()
	require.NoError(t, err)
	assert.InDelta(t, 2.5, p.PromotionThreshold, 1e-9)
	assert.InDelta(t, 4.0, p.SWaveSpeedKmS, 1e-9)
	assert.Equal(t, 3*time.Minute, p.ClusterWindow)
}

func TestLoadPolicy_Invalid(t *testing.T) {
	tests := []struct {
		key, value, want string
	}{
		{"PROMOTION_THRESHOLD", "0", "PROMOTION_THRESHOLD"},
		{"S_WAVE_SPEED_KM_S", "-1", "S_WAVE_SPEED_KM_S"},
		{"WARNING_AREA_FRACTION", "1.5", "WARNING_AREA_FRACTION"},
		{"CLUSTER_MAX_RADIUS_KM", "10", "CLUSTER_MAX_RADIUS_KM"},
		{"CLUSTER_WINDOW", "soon", "ClusterWindow"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadPolicy()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
