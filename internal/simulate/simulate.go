// Package simulate builds synthetic witness swarms and agency reports and
// publishes them to the source topics, for exercising a running deployment.
package simulate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/normalize"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

const kmPerDegree = 111.2

// templates are witness phrasings per language. %s is the place name.
var templates = map[string][]string{
	"en": {
		"Earthquake in %s, very strong!",
		"Strong earthquake just now in %s",
		"Did anyone else feel that tremor in %s?",
		"Huge quake here in %s, everything shaking",
	},
	"es": {
		"Terremoto en %s, muy fuerte!",
		"Está temblando en %s",
		"Sismo fuerte ahora mismo en %s",
	},
	"it": {
		"Scossa di terremoto a %s, molto forte",
		"Terremoto adesso a %s, paura",
		"Forte scossa sentita a %s",
	},
}

// Scenario describes one simulated earthquake.
type Scenario struct {
	Place     string
	Epicenter domain.Coordinate
	Language  string
	Posts     int
	SpreadKm  float64
	Window    time.Duration
	Start     time.Time
	Official  bool
	Magnitude float64
	DepthKm   float64
	Seed      uint64
}

// Message is one record bound for the topic of its format.
type Message struct {
	Format string          `json:"format"`
	Key    string          `json:"key"`
	Value  json.RawMessage `json:"value"`
}

// Validate reports every problem with s.
func (s Scenario) Validate() error {
	var errs []error
	if !s.Epicenter.Valid() {
		errs = append(errs, fmt.Errorf("epicenter %v out of range", s.Epicenter))
	}
	if s.Place == "" {
		errs = append(errs, errors.New("place name is required"))
	}
	if _, ok := templates[s.Language]; !ok {
		errs = append(errs, fmt.Errorf("unsupported language %q", s.Language))
	}
	if s.Posts < 0 {
		errs = append(errs, errors.New("posts must not be negative"))
	}
	if s.Posts == 0 && !s.Official {
		errs = append(errs, errors.New("scenario has neither posts nor an official report"))
	}
	if s.Official && (s.Magnitude <= 0 || s.Magnitude > 9.7) {
		errs = append(errs, fmt.Errorf("magnitude %.1f out of range", s.Magnitude))
	}
	return errors.Join(errs...)
}

// Build renders s into source records. Posts are spread evenly over the
// window; every other post carries a coordinate jittered within SpreadKm of
// the epicenter. The agency report, when requested, comes last.
func Build(s Scenario) ([]Message, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(s.Seed, s.Seed^0x9e3779b97f4a7c15))
	phrases := templates[s.Language]

	msgs := make([]Message, 0, s.Posts+1)
	for i := range s.Posts {
		rec := normalize.PostRecord{
			ID:        uuid.NewString(),
			Text:      fmt.Sprintf(phrases[i%len(phrases)], s.Place),
			Lang:      s.Language,
			CreatedAt: s.Start.Add(spacing(s.Window, s.Posts, i)).UTC(),
			User:      normalize.PostUser{Handle: fmt.Sprintf("witness_%03d", i+1)},
		}
		if i%2 == 0 {
			c := jitter(rng, s.Epicenter, s.SpreadKm)
			rec.Coordinates = []float64{c.Lon, c.Lat}
		}
		msg, err := encode(normalize.FormatPost, rec.User.Handle, rec)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}

	if s.Official {
		lat, lon := s.Epicenter.Lat, s.Epicenter.Lon
		mag, depth := s.Magnitude, s.DepthKm
		rec := normalize.AgencyRecord{
			ID:        "sim" + uuid.NewString()[:8],
			Source:    "SIM",
			Time:      s.Start.UTC(),
			Latitude:  &lat,
			Longitude: &lon,
			Magnitude: &mag,
			Status:    "reviewed",
		}
		if depth > 0 {
			rec.DepthKm = &depth
		}
		msg, err := encode(normalize.FormatAgency, rec.ID, rec)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func encode(format, key string, v any) (Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s record: %w", format, err)
	}
	return Message{Format: format, Key: key, Value: data}, nil
}

func spacing(window time.Duration, n, i int) time.Duration {
	if n <= 1 {
		return 0
	}
	return window * time.Duration(i) / time.Duration(n-1)
}

// jitter returns a point uniformly distributed within radiusKm of c.
func jitter(rng *rand.Rand, c domain.Coordinate, radiusKm float64) domain.Coordinate {
	if radiusKm <= 0 {
		return c
	}
	r := radiusKm * math.Sqrt(rng.Float64())
	theta := 2 * math.Pi * rng.Float64()
	dLat := r * math.Cos(theta) / kmPerDegree
	dLon := r * math.Sin(theta) / (kmPerDegree * math.Max(0.01, math.Cos(c.Lat*math.Pi/180)))
	return domain.Coordinate{
		Lat: math.Max(-90, math.Min(90, c.Lat+dLat)),
		Lon: math.Mod(c.Lon+dLon+540, 360) - 180,
	}
}

// Publisher writes simulated records to their source topics.
type Publisher struct {
	writer *kafkago.Writer
	topics map[string]string
}

// NewPublisher creates a Publisher. topics maps a record format to its topic.
func NewPublisher(brokers []string, topics map[string]string) *Publisher {
	return &Publisher{
		writer: &kafkago.Writer{
			Addr:                   kafkago.TCP(brokers...),
			Balancer:               &kafkago.Hash{},
			RequiredAcks:           kafkago.RequireAll,
			AllowAutoTopicCreation: true,
		},
		topics: topics,
	}
}

// Publish writes msgs in order.
func (p *Publisher) Publish(ctx context.Context, msgs []Message) error {
	out, err := p.toKafka(msgs)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, out...); err != nil {
		return fmt.Errorf("publish simulated records: %w", err)
	}
	return nil
}

func (p *Publisher) toKafka(msgs []Message) ([]kafkago.Message, error) {
	out := make([]kafkago.Message, 0, len(msgs))
	for _, m := range msgs {
		topic, ok := p.topics[m.Format]
		if !ok || topic == "" {
			return nil, fmt.Errorf("no topic configured for format %q", m.Format)
		}
		out = append(out, kafkago.Message{
			Topic:   topic,
			Key:     []byte(m.Key),
			Value:   m.Value,
			Headers: []kafkago.Header{{Key: normalize.HeaderFormat, Value: []byte(m.Format)}},
		})
	}
	return out, nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
