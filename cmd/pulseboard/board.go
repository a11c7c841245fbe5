package main

import (
	"bytes"
	_ "embed"
	"os"

	"github.com/pulsekit/pulseboard/internal/config"
	"github.com/pulsekit/pulseboard/internal/dataset"
	"github.com/pulsekit/pulseboard/internal/engine"
	"github.com/pulsekit/pulseboard/pkg/schema"
)

//go:embed sample_heart.csv
var sampleHeartCSV []byte

// defaultScenarioConfig is the scenario bootstrapped at startup.
const defaultScenarioConfig = "cardiac"

// defaultBoard is the cardiac dashboard pipeline: the filtered dataset
// and the gender selection feed one task that produces the average age.
func defaultBoard(registry *engine.Registry) (*schema.BoardConfig, error) {
	return config.NewBuilder(registry).
		AddNode("filtered_df", schema.NodeKindTable).
		AddNode("gender_filter", schema.NodeKindString).
		AddNode("avg_age", schema.NodeKindScalar).
		AddTask("compute_avg_age", engine.ComputeAvgAge,
			[]string{"filtered_df", "gender_filter"},
			[]string{"avg_age"}).
		AddScenario(defaultScenarioConfig, "compute_avg_age").
		Build()
}

// loadBoard reads a board artifact from disk, falling back to the
// built-in cardiac board when no path is configured.
func loadBoard(path string, registry *engine.Registry) (*schema.BoardConfig, error) {
	if path == "" {
		return defaultBoard(registry)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return config.Load(data, registry)
}

// loadDataset reads the heart dataset from disk, falling back to the
// embedded sample.
func loadDataset(path string) (*dataset.Frame, error) {
	if path == "" {
		return dataset.FromCSV(bytes.NewReader(sampleHeartCSV))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return dataset.FromCSV(f)
}
