package cli

import (
	"fmt"

	"github.com/couchcryptid/quake-alert-service/internal/adapter/dataset"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var datasetCmd = &cobra.Command{
	Use:   "dataset",
	Short: "Inspect the static dataset",
}

var datasetValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load the dataset and report its entry counts",
	Long: `Validate loads the dataset with the same checks the service applies at
startup. Every problem is reported at once; on success the entry counts are
printed as YAML.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ds, err := loadDataset()
		if err != nil {
			return err
		}
		return writeYAML(cmd, ds.Summary())
	},
}

var datasetLocateCmd = &cobra.Command{
	Use:   "locate <name>",
	Short: "Resolve a place name the way the geolocator does",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, err := loadDataset()
		if err != nil {
			return err
		}
		place, ok, err := ds.Lookup(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no place named %q", args[0])
		}
		region, err := ds.ResolveToponym(cmd.Context(), place.Coordinate)
		if err != nil {
			return err
		}
		return writeYAML(cmd, struct {
			Name        string  `yaml:"name"`
			Region      string  `yaml:"region,omitempty"`
			Lat         float64 `yaml:"lat"`
			Lon         float64 `yaml:"lon"`
			Population  int64   `yaml:"population,omitempty"`
			Specificity int     `yaml:"specificity"`
			Area        string  `yaml:"area,omitempty"`
			Sea         bool    `yaml:"sea"`
		}{
			Name:        place.Name,
			Region:      place.Region,
			Lat:         place.Coordinate.Lat,
			Lon:         place.Coordinate.Lon,
			Population:  place.Population,
			Specificity: place.Specificity,
			Area:        region.Name,
			Sea:         region.Sea,
		})
	},
}

func init() {
	rootCmd.AddCommand(datasetCmd)
	datasetCmd.AddCommand(datasetValidateCmd)
	datasetCmd.AddCommand(datasetLocateCmd)
}

func loadDataset() (*dataset.Dataset, error) {
	path := viper.GetString("dataset")
	ds, err := dataset.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load dataset %s: %w", path, err)
	}
	return ds, nil
}

func writeYAML(cmd *cobra.Command, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("error marshaling output: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
