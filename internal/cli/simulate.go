package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/normalize"
	"github.com/couchcryptid/quake-alert-service/internal/simulate"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	simPlace     string
	simLat       float64
	simLon       float64
	simLang      string
	simPosts     int
	simSpreadKm  float64
	simWindow    time.Duration
	simStart     string
	simOfficial  bool
	simMagnitude float64
	simDepthKm   float64
	simSeed      uint64
	simDryRun    bool
	simTimeout   time.Duration
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Publish a simulated earthquake to the source topics",
	Long: `Simulate publishes a swarm of witness posts around an epicenter and,
optionally, the agency report that confirms it.

The epicenter is the dataset entry named by --place unless --lat and --lon
are both given.

Example:
  quakectl simulate --place Izmir --posts 40
  quakectl simulate --place Napoli --lang it --official --magnitude 5.9
  quakectl simulate --place Sendai --dry-run`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().StringVar(&simPlace, "place", "", "place name for the post text and, by default, the epicenter")
	simulateCmd.Flags().Float64Var(&simLat, "lat", 0, "epicenter latitude (overrides the dataset)")
	simulateCmd.Flags().Float64Var(&simLon, "lon", 0, "epicenter longitude (overrides the dataset)")
	simulateCmd.Flags().StringVar(&simLang, "lang", "en", "post language (en, es, it)")
	simulateCmd.Flags().IntVar(&simPosts, "posts", 30, "number of witness posts")
	simulateCmd.Flags().Float64Var(&simSpreadKm, "spread-km", 25, "radius around the epicenter for geotagged posts")
	simulateCmd.Flags().DurationVar(&simWindow, "window", 2*time.Minute, "time span the posts are spread over")
	simulateCmd.Flags().StringVar(&simStart, "start", "", "origin time as RFC 3339 (default: now)")
	simulateCmd.Flags().BoolVar(&simOfficial, "official", false, "also publish an agency report")
	simulateCmd.Flags().Float64Var(&simMagnitude, "magnitude", 5.5, "agency report magnitude")
	simulateCmd.Flags().Float64Var(&simDepthKm, "depth-km", 10, "agency report depth")
	simulateCmd.Flags().Uint64Var(&simSeed, "seed", 1, "seed for coordinate jitter")
	simulateCmd.Flags().BoolVar(&simDryRun, "dry-run", false, "print records as JSON lines instead of publishing")
	simulateCmd.Flags().DurationVar(&simTimeout, "timeout", 30*time.Second, "publish timeout")

	simulateCmd.Flags().String("brokers", "localhost:9092", "comma-separated Kafka brokers")
	simulateCmd.Flags().String("post-topic", "quake-posts", "topic for witness posts")
	simulateCmd.Flags().String("agency-topic", "quake-agency-reports", "topic for agency reports")
	_ = viper.BindPFlag("brokers", simulateCmd.Flags().Lookup("brokers"))
	_ = viper.BindPFlag("post_topic", simulateCmd.Flags().Lookup("post-topic"))
	_ = viper.BindPFlag("agency_topic", simulateCmd.Flags().Lookup("agency-topic"))

	_ = simulateCmd.MarkFlagRequired("place")
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	scenario, err := buildScenario(cmd)
	if err != nil {
		return err
	}
	msgs, err := simulate.Build(scenario)
	if err != nil {
		return err
	}

	if simDryRun {
		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, m := range msgs {
			if err := enc.Encode(m); err != nil {
				return err
			}
		}
		return nil
	}

	brokers := sharedcfg.ParseBrokers(viper.GetString("brokers"))
	pub := simulate.NewPublisher(brokers, map[string]string{
		normalize.FormatPost:   viper.GetString("post_topic"),
		normalize.FormatAgency: viper.GetString("agency_topic"),
	})
	defer pub.Close() //nolint:errcheck // close error is superseded by publish error

	ctx, cancel := context.WithTimeout(context.Background(), simTimeout)
	defer cancel()

	if verbose {
		fmt.Fprintf(os.Stderr, "Publishing %d records to %v\n", len(msgs), brokers)
	}
	if err := pub.Publish(ctx, msgs); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "published %d records for %s at %.4f,%.4f\n",
		len(msgs), scenario.Place, scenario.Epicenter.Lat, scenario.Epicenter.Lon)
	return nil
}

func buildScenario(cmd *cobra.Command) (simulate.Scenario, error) {
	start := time.Now().UTC()
	if simStart != "" {
		t, err := time.Parse(time.RFC3339, simStart)
		if err != nil {
			return simulate.Scenario{}, fmt.Errorf("invalid --start: %w", err)
		}
		start = t
	}

	s := simulate.Scenario{
		Place:     simPlace,
		Language:  simLang,
		Posts:     simPosts,
		SpreadKm:  simSpreadKm,
		Window:    simWindow,
		Start:     start,
		Official:  simOfficial,
		Magnitude: simMagnitude,
		DepthKm:   simDepthKm,
		Seed:      simSeed,
	}

	if cmd.Flags().Changed("lat") && cmd.Flags().Changed("lon") {
		s.Epicenter = domain.Coordinate{Lat: simLat, Lon: simLon}
		return s, nil
	}
	ds, err := loadDataset()
	if err != nil {
		return simulate.Scenario{}, err
	}
	place, ok, err := ds.Lookup(cmd.Context(), simPlace)
	if err != nil {
		return simulate.Scenario{}, err
	}
	if !ok {
		return simulate.Scenario{}, fmt.Errorf("no place named %q; pass --lat and --lon", simPlace)
	}
	s.Epicenter = place.Coordinate
	return s, nil
}
