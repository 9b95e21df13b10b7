//go:build mapbox

package mapbox

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests hit the real Mapbox API and require a valid MAPBOX_TOKEN env var.
// Run with: go test -tags=mapbox ./internal/adapter/mapbox/ -v -count=1

func smokeClient(t *testing.T) *Client {
	t.Helper()
	token := os.Getenv("MAPBOX_TOKEN")
	if token == "" {
		t.Fatal("MAPBOX_TOKEN must be set to run smoke tests")
	}
	return &Client{
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    "https://api.mapbox.com/geocoding/v5/mapbox.places",
		metrics:    observability.NewMetricsForTesting(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestSmoke_Lookup(t *testing.T) {
	c := smokeClient(t)

	place, ok, err := c.Lookup(context.Background(), "Izmir")
	require.NoError(t, err)
	require.True(t, ok)

	assert.InDelta(t, 38.42, place.Coordinate.Lat, 0.2, "lat should be near Izmir")
	assert.InDelta(t, 27.14, place.Coordinate.Lon, 0.2, "lon should be near Izmir")
	assert.Contains(t, place.Name, "zmir")
}

func TestSmoke_ResolveToponym(t *testing.T) {
	c := smokeClient(t)

	region, err := c.ResolveToponym(context.Background(), domain.Coordinate{Lat: 38.2682, Lon: 140.8694})
	require.NoError(t, err)

	assert.NotEmpty(t, region.Toponym)
	assert.NotEmpty(t, region.Name)
}

func TestSmoke_Lookup_Nonsense(t *testing.T) {
	c := smokeClient(t)

	// Mapbox's fuzzy matching may still return results for nonsense queries,
	// so we verify the client handles any response gracefully (no error).
	_, _, err := c.Lookup(context.Background(), "XYZNONEXISTENT99")
	require.NoError(t, err)
}

func TestSmoke_CachedGeocoder(t *testing.T) {
	c := smokeClient(t)
	cached := NewCachedGeocoder(c, 10, observability.NewMetricsForTesting())

	// First call: cache miss, real API call.
	p1, ok, err := cached.Lookup(context.Background(), "Sendai")
	require.NoError(t, err)
	require.True(t, ok)

	// Second call: cache hit, no API call.
	p2, _, err := cached.Lookup(context.Background(), "Sendai")
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
}
