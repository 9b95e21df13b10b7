package simulate

import (
	"context"
	"testing"
	"time"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/normalize"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func izmirScenario() Scenario {
	return Scenario{
		Place:     "Izmir",
		Epicenter: domain.Coordinate{Lat: 38.42, Lon: 27.14},
		Language:  "en",
		Posts:     5,
		SpreadKm:  20,
		Window:    2 * time.Minute,
		Start:     start,
		Official:  true,
		Magnitude: 5.8,
		DepthKm:   12,
		Seed:      7,
	}
}

func TestBuild_RecordsNormalize(t *testing.T) {
	domain.SetClock(clockwork.NewFakeClockAt(start.Add(5 * time.Minute)))
	t.Cleanup(func() { domain.SetClock(nil) })

	msgs, err := Build(izmirScenario())
	require.NoError(t, err)
	require.Len(t, msgs, 6)

	n := normalize.New(48 * time.Hour)
	for i, m := range msgs[:5] {
		assert.Equal(t, normalize.FormatPost, m.Format)
		obs, err := n.Normalize(context.Background(), domain.RawEvent{Format: m.Format, Value: m.Value, Timestamp: start})
		require.NoError(t, err)
		assert.Equal(t, domain.SourceUnofficialPost, obs.SourceKind)
		assert.Contains(t, obs.Text, "Izmir")
		assert.Equal(t, "en", obs.Language)
		if i%2 == 0 {
			require.NotNil(t, obs.Location.Explicit)
			assert.LessOrEqual(t, domain.DistanceKm(*obs.Location.Explicit, izmirScenario().Epicenter), 20.0+1e-6)
		} else {
			assert.Nil(t, obs.Location.Explicit)
		}
	}

	last := msgs[5]
	assert.Equal(t, normalize.FormatAgency, last.Format)
	obs, err := n.Normalize(context.Background(), domain.RawEvent{Format: last.Format, Value: last.Value, Timestamp: start})
	require.NoError(t, err)
	require.NotNil(t, obs.Quake)
	assert.InDelta(t, 5.8, obs.Quake.Magnitude, 1e-9)
	assert.InDelta(t, 12, obs.Quake.DepthKm, 1e-9)
	assert.Equal(t, start, obs.Quake.Time)
}

func TestBuild_PostsSpreadOverWindow(t *testing.T) {
	s := izmirScenario()
	s.Official = false

	msgs, err := Build(s)
	require.NoError(t, err)
	require.Len(t, msgs, 5)

	n := normalize.New(0)
	var times []time.Time
	for _, m := range msgs {
		obs, err := n.Normalize(context.Background(), domain.RawEvent{Format: m.Format, Value: m.Value})
		require.NoError(t, err)
		require.NotNil(t, obs.ClaimedTime)
		times = append(times, *obs.ClaimedTime)
	}
	assert.Equal(t, start, times[0])
	assert.Equal(t, start.Add(2*time.Minute), times[4])
	assert.Equal(t, start.Add(time.Minute), times[2])
}

func TestScenario_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Scenario)
		want   string
	}{
		{"bad coordinate", func(s *Scenario) { s.Epicenter.Lat = 95 }, "out of range"},
		{"missing place", func(s *Scenario) { s.Place = "" }, "place name is required"},
		{"unknown language", func(s *Scenario) { s.Language = "xx" }, "unsupported language"},
		{"empty", func(s *Scenario) { s.Posts, s.Official = 0, false }, "neither posts nor"},
		{"magnitude", func(s *Scenario) { s.Magnitude = 0 }, "magnitude"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := izmirScenario()
			tt.mutate(&s)
			_, err := Build(s)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestJitterStaysWithinRadius(t *testing.T) {
	s := izmirScenario()
	s.Posts = 40
	s.Official = false
	s.SpreadKm = 5

	msgs, err := Build(s)
	require.NoError(t, err)

	n := normalize.New(0)
	for _, m := range msgs {
		obs, err := n.Normalize(context.Background(), domain.RawEvent{Format: m.Format, Value: m.Value})
		require.NoError(t, err)
		if obs.Location.Explicit != nil {
			assert.LessOrEqual(t, domain.DistanceKm(*obs.Location.Explicit, s.Epicenter), 5.0+1e-6)
		}
	}
}

func TestPublisher_RoutesByFormat(t *testing.T) {
	p := NewPublisher([]string{"localhost:9092"}, map[string]string{
		normalize.FormatPost:   "quake-posts",
		normalize.FormatAgency: "quake-agency-reports",
	})
	t.Cleanup(func() { _ = p.Close() })

	msgs, err := Build(izmirScenario())
	require.NoError(t, err)

	out, err := p.toKafka(msgs)
	require.NoError(t, err)
	require.Len(t, out, 6)
	assert.Equal(t, "quake-posts", out[0].Topic)
	assert.Equal(t, "quake-agency-reports", out[5].Topic)
	assert.Equal(t, normalize.HeaderFormat, out[0].Headers[0].Key)
	assert.Equal(t, "agency", string(out[5].Headers[0].Value))
}

func TestPublisher_MissingTopic(t *testing.T) {
	p := NewPublisher([]string{"localhost:9092"}, map[string]string{normalize.FormatPost: "quake-posts"})
	t.Cleanup(func() { _ = p.Close() })

	msgs, err := Build(izmirScenario())
	require.NoError(t, err)

	_, err = p.toKafka(msgs)
	assert.ErrorContains(t, err, `format "agency"`)
}
