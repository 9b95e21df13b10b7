package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/couchcryptid/quake-alert-service/internal/simulate"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const testDataset = "../../data/dataset.yaml"

// execute runs the root command with args and returns its stdout. Flag state
// is reset first because commands are package-level.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	for _, c := range []*cobra.Command{rootCmd, simulateCmd} {
		resetFlags(c.Flags())
		resetFlags(c.PersistentFlags())
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(append(args, "--dataset", testDataset))
	err := rootCmd.Execute()
	return out.String(), err
}

func resetFlags(fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "quakectl dev\n", out)
}

func TestDatasetValidate(t *testing.T) {
	out, err := execute(t, "dataset", "validate")
	require.NoError(t, err)

	var summary map[string]int
	require.NoError(t, yaml.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 15, summary["cities"])
	assert.Equal(t, 9, summary["regions"])
	assert.Equal(t, 3, summary["accounts"])
}

func TestDatasetValidate_MissingFile(t *testing.T) {
	rootCmd.SetArgs([]string{"dataset", "validate", "--dataset", "nope.yaml"})
	rootCmd.SetOut(&bytes.Buffer{})
	err := rootCmd.Execute()
	assert.ErrorContains(t, err, "nope.yaml")
}

func TestDatasetLocate(t *testing.T) {
	out, err := execute(t, "dataset", "locate", "Athens")
	require.NoError(t, err)

	var got struct {
		Name   string  `yaml:"name"`
		Region string  `yaml:"region"`
		Lat    float64 `yaml:"lat"`
		Sea    bool    `yaml:"sea"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	assert.Equal(t, "Athina", got.Name)
	assert.Equal(t, "Attica", got.Region)
	assert.InDelta(t, 37.98, got.Lat, 0.01)
	assert.False(t, got.Sea)
}

func TestDatasetLocate_Unknown(t *testing.T) {
	_, err := execute(t, "dataset", "locate", "Atlantis")
	assert.ErrorContains(t, err, `no place named "Atlantis"`)
}

func decodeLines(t *testing.T, out string) []simulate.Message {
	t.Helper()
	var msgs []simulate.Message
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		var m simulate.Message
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		msgs = append(msgs, m)
	}
	return msgs
}

func TestSimulate_DryRunFromDataset(t *testing.T) {
	out, err := execute(t, "simulate", "--place", "Izmir", "--posts", "3", "--official", "--dry-run",
		"--start", "2026-03-14T09:30:00Z")
	require.NoError(t, err)

	msgs := decodeLines(t, out)
	require.Len(t, msgs, 4)
	for _, m := range msgs[:3] {
		assert.Equal(t, "post", m.Format)
		assert.Contains(t, string(m.Value), "Izmir")
	}
	assert.Equal(t, "agency", msgs[3].Format)

	var report struct {
		Latitude  float64 `json:"latitude"`
		Magnitude float64 `json:"magnitude"`
	}
	require.NoError(t, json.Unmarshal(msgs[3].Value, &report))
	assert.InDelta(t, 38.42, report.Latitude, 0.01)
	assert.InDelta(t, 5.5, report.Magnitude, 1e-9)
}

func TestSimulate_ExplicitEpicenter(t *testing.T) {
	out, err := execute(t, "simulate", "--place", "Nowhere", "--lat", "10", "--lon", "20", "--posts", "2", "--dry-run")
	require.NoError(t, err)
	assert.Len(t, decodeLines(t, out), 2)
}

func TestSimulate_UnknownPlaceNeedsCoordinates(t *testing.T) {
	_, err := execute(t, "simulate", "--place", "Nowhere", "--dry-run")
	assert.ErrorContains(t, err, "pass --lat and --lon")
}

func TestSimulate_BadStart(t *testing.T) {
	_, err := execute(t, "simulate", "--place", "Izmir", "--start", "yesterday", "--dry-run")
	assert.ErrorContains(t, err, "invalid --start")
}
