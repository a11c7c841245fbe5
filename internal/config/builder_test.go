package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsekit/pulseboard/pkg/schema"
)

// stubResolver reports fixed arities for test computations.
type stubResolver map[string][2]int

func (s stubResolver) Signature(name string) (int, int, bool) {
	sig, ok := s[name]
	if !ok {
		return 0, 0, false
	}
	return sig[0], sig[1], true
}

var cardiacResolver = stubResolver{
	"compute_avg_age": {2, 1},
	"filter_rows":     {2, 1},
}

func cardiacBuilder() *Builder {
	return NewBuilder(cardiacResolver).
		AddNode("filtered_df", schema.NodeKindTable).
		AddNode("gender_filter", schema.NodeKindString).
		AddNode("avg_age", schema.NodeKindScalar).
		AddTask("compute_avg_age", "compute_avg_age",
			[]string{"filtered_df", "gender_filter"}, []string{"avg_age"}).
		AddScenario("cardiac", "compute_avg_age")
}

func requireConfigError(t *testing.T, err error, code string) {
	t.Helper()
	var berr *schema.BoardError
	require.True(t, errors.As(err, &berr), "expected BoardError, got %v", err)
	assert.Equal(t, code, berr.Code)
}

func TestBuilderBuildsValidConfig(t *testing.T) {
	cfg, err := cardiacBuilder().Build()
	require.NoError(t, err)

	assert.Len(t, cfg.Nodes, 3)
	assert.Len(t, cfg.Tasks, 1)
	assert.Len(t, cfg.Scenarios, 1)

	node, ok := cfg.Node("gender_filter")
	require.True(t, ok)
	assert.Equal(t, schema.NodeKindString, node.Kind)

	task, ok := cfg.Task("compute_avg_age")
	require.True(t, ok)
	assert.Equal(t, []string{"filtered_df", "gender_filter"}, task.Inputs)
}

func TestBuilderIdempotentRedeclaration(t *testing.T) {
	cfg, err := cardiacBuilder().
		AddNode("gender_filter", schema.NodeKindString).
		AddScenario("cardiac", "compute_avg_age").
		Build()
	require.NoError(t, err)
	assert.Len(t, cfg.Nodes, 3)
	assert.Len(t, cfg.Scenarios, 1)
}

func TestBuilderConflictingRedeclaration(t *testing.T) {
	_, err := cardiacBuilder().
		AddNode("gender_filter", schema.NodeKindTable).
		Build()
	requireConfigError(t, err, schema.ErrCodeConfig)

	_, err = cardiacBuilder().
		AddTask("compute_avg_age", "filter_rows",
			[]string{"filtered_df", "gender_filter"}, []string{"avg_age"}).
		Build()
	requireConfigError(t, err, schema.ErrCodeConfig)
}

func TestBuilderUndeclaredNodeReference(t *testing.T) {
	_, err := NewBuilder(cardiacResolver).
		AddNode("gender_filter", schema.NodeKindString).
		AddTask("compute_avg_age", "compute_avg_age",
			[]string{"missing_table", "gender_filter"}, []string{"avg_age"}).
		AddScenario("cardiac", "compute_avg_age").
		Build()
	requireConfigError(t, err, schema.ErrCodeConfig)
}

func TestBuilderArityMismatch(t *testing.T) {
	_, err := NewBuilder(cardiacResolver).
		AddNode("filtered_df", schema.NodeKindTable).
		AddNode("avg_age", schema.NodeKindScalar).
		AddTask("compute_avg_age", "compute_avg_age",
			[]string{"filtered_df"}, []string{"avg_age"}).
		AddScenario("cardiac", "compute_avg_age").
		Build()
	requireConfigError(t, err, schema.ErrCodeConfig)
}

func TestBuilderUnknownComputation(t *testing.T) {
	_, err := NewBuilder(cardiacResolver).
		AddNode("a", schema.NodeKindScalar).
		AddNode("b", schema.NodeKindScalar).
		AddTask("t", "no_such_computation", []string{"a"}, []string{"b"}).
		AddScenario("s", "t").
		Build()
	requireConfigError(t, err, schema.ErrCodeConfig)
}

func TestBuilderCycleDetectedAtBuildTime(t *testing.T) {
	resolver := stubResolver{"c": {1, 1}}
	_, err := NewBuilder(resolver).
		AddNode("x", schema.NodeKindScalar).
		AddNode("y", schema.NodeKindScalar).
		AddTask("a", "c", []string{"y"}, []string{"x"}).
		AddTask("b", "c", []string{"x"}, []string{"y"}).
		AddScenario("cyclic", "a", "b").
		Build()
	requireConfigError(t, err, schema.ErrCodeCycleDetected)
}

func TestBuilderSelfLoop(t *testing.T) {
	resolver := stubResolver{"c": {1, 1}}
	_, err := NewBuilder(resolver).
		AddNode("x", schema.NodeKindScalar).
		AddTask("a", "c", []string{"x"}, []string{"x"}).
		AddScenario("loop", "a").
		Build()
	requireConfigError(t, err, schema.ErrCodeCycleDetected)
}

func TestBuilderSingleProducer(t *testing.T) {
	resolver := stubResolver{"c": {1, 1}}
	_, err := NewBuilder(resolver).
		AddNode("in", schema.NodeKindScalar).
		AddNode("out", schema.NodeKindScalar).
		AddTask("a", "c", []string{"in"}, []string{"out"}).
		AddTask("b", "c", []string{"in"}, []string{"out"}).
		AddScenario("s", "a", "b").
		Build()
	requireConfigError(t, err, schema.ErrCodeConfig)
}

func TestBuilderScenarioChecks(t *testing.T) {
	resolver := stubResolver{"c": {1, 1}}
	base := func() *Builder {
		return NewBuilder(resolver).
			AddNode("in", schema.NodeKindScalar).
			AddNode("out", schema.NodeKindScalar).
			AddTask("a", "c", []string{"in"}, []string{"out"})
	}

	_, err := base().AddScenario("empty").Build()
	requireConfigError(t, err, schema.ErrCodeConfig)

	_, err = base().AddScenario("ghosts", "a", "ghost").Build()
	requireConfigError(t, err, schema.ErrCodeConfig)

	_, err = base().AddScenario("twice", "a", "a").Build()
	requireConfigError(t, err, schema.ErrCodeConfig)
}

func TestBuilderNilResolverSkipsArity(t *testing.T) {
	cfg, err := NewBuilder(nil).
		AddNode("in", schema.NodeKindScalar).
		AddNode("out", schema.NodeKindScalar).
		AddTask("a", "anything", []string{"in"}, []string{"out"}).
		AddScenario("s", "a").
		Build()
	require.NoError(t, err)
	assert.Len(t, cfg.Tasks, 1)
}
