package engine

import (
	"errors"
	"reflect"
	"testing"

	"github.com/pulsekit/pulseboard/pkg/schema"
)

func boardWithTasks(tasks []schema.TaskConfig, scenarioTasks []string) (*schema.BoardConfig, schema.ScenarioConfig) {
	nodeSet := make(map[string]bool)
	var nodeDecls []schema.DataNodeConfig
	for _, t := range tasks {
		for _, n := range append(append([]string{}, t.Inputs...), t.Outputs...) {
			if !nodeSet[n] {
				nodeSet[n] = true
				nodeDecls = append(nodeDecls, schema.DataNodeConfig{Name: n, Kind: schema.NodeKindScalar})
			}
		}
	}
	cfg := &schema.BoardConfig{
		Nodes:     nodeDecls,
		Tasks:     tasks,
		Scenarios: []schema.ScenarioConfig{{Name: "test", Tasks: scenarioTasks}},
	}
	return cfg, cfg.Scenarios[0]
}

func TestBuildGraph_LinearChain(t *testing.T) {
	cfg, sc := boardWithTasks([]schema.TaskConfig{
		{Name: "a", Computation: "c", Inputs: []string{"in"}, Outputs: []string{"mid"}},
		{Name: "b", Computation: "c", Inputs: []string{"mid"}, Outputs: []string{"out"}},
	}, []string{"b", "a"})

	g, err := BuildGraph(cfg, sc)
	if err != nil {
		t.Fatalf("BuildGraph failed: %v", err)
	}

	if !reflect.DeepEqual(g.Sorted, []string{"a", "b"}) {
		t.Errorf("expected order [a b], got %v", g.Sorted)
	}
	if !reflect.DeepEqual(g.Roots, []string{"a"}) {
		t.Errorf("expected roots [a], got %v", g.Roots)
	}
	if len(g.Levels) != 2 {
		t.Errorf("expected 2 levels, got %d", len(g.Levels))
	}
	if g.Producers["mid"] != "a" || g.Producers["out"] != "b" {
		t.Errorf("wrong producers: %v", g.Producers)
	}
}

func TestBuildGraph_DiamondLevels(t *testing.T) {
	cfg, sc := boardWithTasks([]schema.TaskConfig{
		{Name: "source", Computation: "c", Inputs: []string{"raw"}, Outputs: []string{"base"}},
		{Name: "left", Computation: "c", Inputs: []string{"base"}, Outputs: []string{"l"}},
		{Name: "right", Computation: "c", Inputs: []string{"base"}, Outputs: []string{"r"}},
		{Name: "join", Computation: "c", Inputs: []string{"l", "r"}, Outputs: []string{"final"}},
	}, []string{"join", "right", "left", "source"})

	g, err := BuildGraph(cfg, sc)
	if err != nil {
		t.Fatalf("BuildGraph failed: %v", err)
	}

	want := [][]string{{"source"}, {"left", "right"}, {"join"}}
	if !reflect.DeepEqual(g.Levels, want) {
		t.Errorf("expected levels %v, got %v", want, g.Levels)
	}
}

func TestBuildGraph_Deterministic(t *testing.T) {
	cfg, sc := boardWithTasks([]schema.TaskConfig{
		{Name: "z", Computation: "c", Inputs: []string{"in"}, Outputs: []string{"zo"}},
		{Name: "m", Computation: "c", Inputs: []string{"in"}, Outputs: []string{"mo"}},
		{Name: "a", Computation: "c", Inputs: []string{"in"}, Outputs: []string{"ao"}},
		{Name: "join", Computation: "c", Inputs: []string{"zo", "mo", "ao"}, Outputs: []string{"out"}},
	}, []string{"z", "m", "a", "join"})

	first, err := BuildGraph(cfg, sc)
	if err != nil {
		t.Fatalf("BuildGraph failed: %v", err)
	}
	for i := 0; i < 20; i++ {
		g, err := BuildGraph(cfg, sc)
		if err != nil {
			t.Fatalf("BuildGraph failed on run %d: %v", i, err)
		}
		if !reflect.DeepEqual(g.Sorted, first.Sorted) {
			t.Fatalf("order differs across runs: %v vs %v", g.Sorted, first.Sorted)
		}
	}
	// Independent tasks sort lexically.
	if !reflect.DeepEqual(first.Roots, []string{"a", "m", "z"}) {
		t.Errorf("expected sorted roots [a m z], got %v", first.Roots)
	}
}

func TestBuildGraph_CycleDetected(t *testing.T) {
	cfg, sc := boardWithTasks([]schema.TaskConfig{
		{Name: "a", Computation: "c", Inputs: []string{"y"}, Outputs: []string{"x"}},
		{Name: "b", Computation: "c", Inputs: []string{"x"}, Outputs: []string{"y"}},
	}, []string{"a", "b"})

	_, err := BuildGraph(cfg, sc)
	var berr *schema.BoardError
	if !errors.As(err, &berr) || berr.Code != schema.ErrCodeCycleDetected {
		t.Fatalf("expected CYCLE_DETECTED, got %v", err)
	}
}

func TestBuildGraph_SelfLoop(t *testing.T) {
	cfg, sc := boardWithTasks([]schema.TaskConfig{
		{Name: "a", Computation: "c", Inputs: []string{"x"}, Outputs: []string{"x"}},
	}, []string{"a"})

	_, err := BuildGraph(cfg, sc)
	var berr *schema.BoardError
	if !errors.As(err, &berr) || berr.Code != schema.ErrCodeCycleDetected {
		t.Fatalf("expected CYCLE_DETECTED for self loop, got %v", err)
	}
}

func TestBuildGraph_SingleProducer(t *testing.T) {
	cfg, sc := boardWithTasks([]schema.TaskConfig{
		{Name: "a", Computation: "c", Inputs: []string{"in"}, Outputs: []string{"out"}},
		{Name: "b", Computation: "c", Inputs: []string{"in"}, Outputs: []string{"out"}},
	}, []string{"a", "b"})

	_, err := BuildGraph(cfg, sc)
	var berr *schema.BoardError
	if !errors.As(err, &berr) || berr.Code != schema.ErrCodeConfig {
		t.Fatalf("expected CONFIG_ERROR for double producer, got %v", err)
	}
}

func TestBuildGraph_UndefinedTask(t *testing.T) {
	cfg, _ := boardWithTasks([]schema.TaskConfig{
		{Name: "a", Computation: "c", Inputs: []string{"in"}, Outputs: []string{"out"}},
	}, nil)
	sc := schema.ScenarioConfig{Name: "bad", Tasks: []string{"a", "ghost"}}

	_, err := BuildGraph(cfg, sc)
	var berr *schema.BoardError
	if !errors.As(err, &berr) || berr.Code != schema.ErrCodeConfig {
		t.Fatalf("expected CONFIG_ERROR for undefined task, got %v", err)
	}
}

func TestBuildGraph_DuplicateTaskListing(t *testing.T) {
	cfg, _ := boardWithTasks([]schema.TaskConfig{
		{Name: "a", Computation: "c", Inputs: []string{"in"}, Outputs: []string{"out"}},
	}, nil)
	sc := schema.ScenarioConfig{Name: "bad", Tasks: []string{"a", "a"}}

	_, err := BuildGraph(cfg, sc)
	var berr *schema.BoardError
	if !errors.As(err, &berr) || berr.Code != schema.ErrCodeConfig {
		t.Fatalf("expected CONFIG_ERROR for duplicate task, got %v", err)
	}
}

func TestBuildGraph_EmptyScenario(t *testing.T) {
	cfg := &schema.BoardConfig{}
	_, err := BuildGraph(cfg, schema.ScenarioConfig{Name: "empty"})
	var berr *schema.BoardError
	if !errors.As(err, &berr) || berr.Code != schema.ErrCodeConfig {
		t.Fatalf("expected CONFIG_ERROR for empty scenario, got %v", err)
	}
}

func TestBuildGraph_ExternalInputsAreRoots(t *testing.T) {
	// Inputs nobody produces come from external writes; the consuming task
	// is still a root.
	cfg, sc := boardWithTasks([]schema.TaskConfig{
		{Name: "only", Computation: "c", Inputs: []string{"raw", "filter"}, Outputs: []string{"result"}},
	}, []string{"only"})

	g, err := BuildGraph(cfg, sc)
	if err != nil {
		t.Fatalf("BuildGraph failed: %v", err)
	}
	if !reflect.DeepEqual(g.Roots, []string{"only"}) {
		t.Errorf("expected roots [only], got %v", g.Roots)
	}
	if len(g.Edges["only"]) != 0 {
		t.Errorf("expected no prerequisites, got %v", g.Edges["only"])
	}
}
