package mapbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/observability"
)

// minRelevance discards fuzzy forward matches that rarely name the intended
// place.
const minRelevance = 0.5

// Client resolves place names and coordinates with the Mapbox Geocoding API.
// It implements geolocate.Gazetteer and geolocate.ToponymResolver.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a Mapbox geocoding client.
func NewClient(token string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		token: token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: "https://api.mapbox.com/geocoding/v5/mapbox.places",
		metrics: metrics,
		logger:  logger,
	}
}

// Lookup forward-geocodes a place name or free-form declared location.
func (c *Client) Lookup(ctx context.Context, name string) (domain.Place, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Place{}, false, nil
	}
	u := fmt.Sprintf("%s/%s.json", c.baseURL, url.PathEscape(name))
	params := url.Values{
		"access_token": {c.token},
		"limit":        {"1"},
		"types":        {"country,region,place,locality"},
	}

	f, ok, err := c.doRequest(ctx, u+"?"+params.Encode(), "forward")
	if err != nil || !ok {
		return domain.Place{}, false, err
	}
	if f.Relevance < minRelevance {
		c.logger.Debug("mapbox match below relevance threshold", "name", name, "relevance", f.Relevance)
		return domain.Place{}, false, nil
	}
	place := domain.Place{
		Name:        f.Text,
		Region:      f.contextText("region"),
		Specificity: f.specificity(),
	}
	if len(f.Center) == 2 {
		place.Coordinate = domain.Coordinate{Lat: f.Center[1], Lon: f.Center[0]}
	}
	return place, true, nil
}

// ResolveToponym reverse-geocodes c into its place and region names. An
// offshore coordinate usually has no features and yields an empty Region.
func (c *Client) ResolveToponym(ctx context.Context, coord domain.Coordinate) (domain.Region, error) {
	// Mapbox uses lon,lat order.
	u := fmt.Sprintf("%s/%.6f,%.6f.json", c.baseURL, coord.Lon, coord.Lat)
	params := url.Values{
		"access_token": {c.token},
		"limit":        {"1"},
		"types":        {"place,locality,region,country"},
	}

	f, ok, err := c.doRequest(ctx, u+"?"+params.Encode(), "reverse")
	if err != nil || !ok {
		return domain.Region{}, err
	}
	region := domain.Region{Toponym: f.Text, Name: f.contextText("region")}
	if f.is("region") || f.is("country") {
		region = domain.Region{Name: f.Text}
	}
	return region, nil
}

func (c *Client) doRequest(ctx context.Context, fullURL, method string) (feature, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return feature{}, false, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.GeocodeAPIDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.GeocodeRequests.WithLabelValues(method, "error").Inc()
		return feature{}, false, fmt.Errorf("%s geocode request: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.metrics.GeocodeRequests.WithLabelValues(method, "error").Inc()
		body, _ := io.ReadAll(resp.Body)
		return feature{}, false, fmt.Errorf("mapbox API error: status %d: %s", resp.StatusCode, body)
	}

	var mapboxResp response
	if err := json.NewDecoder(resp.Body).Decode(&mapboxResp); err != nil {
		c.metrics.GeocodeRequests.WithLabelValues(method, "error").Inc()
		return feature{}, false, fmt.Errorf("decode response: %w", err)
	}

	if len(mapboxResp.Features) == 0 {
		c.metrics.GeocodeRequests.WithLabelValues(method, "empty").Inc()
		return feature{}, false, nil
	}
	c.metrics.GeocodeRequests.WithLabelValues(method, "success").Inc()
	return mapboxResp.Features[0], true, nil
}

// Mapbox API response types.

type response struct {
	Features []feature `json:"features"`
}

type feature struct {
	ID        string        `json:"id"` // "<type>.<n>"
	PlaceType []string      `json:"place_type"`
	Center    []float64     `json:"center"` // [lon, lat]
	PlaceName string        `json:"place_name"`
	Text      string        `json:"text"`
	Relevance float64       `json:"relevance"`
	Context   []contextItem `json:"context"`
}

type contextItem struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func (f feature) is(placeType string) bool {
	return slices.Contains(f.PlaceType, placeType)
}

func (f feature) specificity() int {
	switch {
	case f.is("country"):
		return 1
	case f.is("region"):
		return 2
	case f.is("place"):
		return 3
	default:
		return 4
	}
}

// contextText returns the name of the enclosing feature of the given type.
func (f feature) contextText(placeType string) string {
	for _, c := range f.Context {
		if strings.HasPrefix(c.ID, placeType+".") {
			return c.Text
		}
	}
	return ""
}
