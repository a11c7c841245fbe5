package engine

import (
	"context"

	"github.com/pulsekit/pulseboard/internal/dataset"
	"github.com/pulsekit/pulseboard/internal/expressions"
	"github.com/pulsekit/pulseboard/internal/nodes"
	"github.com/pulsekit/pulseboard/pkg/schema"
)

// Builtin computation names.
const (
	ComputeAvgAge     = "compute_avg_age"
	ComputeFilterRows = "filter_rows"
)

// RegisterBuiltins registers the stock computations on the registry.
// The expr engine backs the filter_rows predicate evaluation.
func RegisterBuiltins(r *Registry, exprEngine *expressions.ExprEngine) error {
	builtins := []Computation{
		{
			Name:        ComputeAvgAge,
			Description: "average age of a dataset under a gender filter, rounded to one decimal",
			Inputs:      2,
			Outputs:     1,
			Fn:          computeAvgAge,
		},
		{
			Name:        ComputeFilterRows,
			Description: "subset of a dataset matching a row predicate",
			Inputs:      2,
			Outputs:     1,
			Fn:          filterRows(exprEngine),
		},
	}
	for _, c := range builtins {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// computeAvgAge takes (table, gender filter string) and produces the
// average age of the matching subset as a scalar. "All" means no filter.
// An empty subset yields 0, never an error.
func computeAvgAge(ctx context.Context, in []nodes.Value) ([]nodes.Value, error) {
	frame, err := in[0].AsFrame()
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeComputation,
			"compute_avg_age: %s", err.Error()).WithCause(err)
	}
	filter, err := in[1].AsString()
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeComputation,
			"compute_avg_age: %s", err.Error()).WithCause(err)
	}

	subset := frame.BySexLabel(filter)
	return []nodes.Value{nodes.Scalar(subset.MeanAge())}, nil
}

// filterRows takes (table, predicate string) and produces the subset for
// which the predicate holds. The predicate sees one row at a time with
// column names as variables.
func filterRows(engine *expressions.ExprEngine) ComputeFunc {
	return func(ctx context.Context, in []nodes.Value) ([]nodes.Value, error) {
		frame, err := in[0].AsFrame()
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeComputation,
				"filter_rows: %s", err.Error()).WithCause(err)
		}
		predicate, err := in[1].AsString()
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeComputation,
				"filter_rows: %s", err.Error()).WithCause(err)
		}

		subset, err := frame.FilterFunc(func(row dataset.Row) (bool, error) {
			return engine.EvaluateBool(ctx, predicate, row.Env())
		})
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeComputation,
				"filter_rows predicate: %s", err.Error()).WithCause(err)
		}

		out, err := nodes.Table(subset)
		if err != nil {
			return nil, err
		}
		return []nodes.Value{out}, nil
	}
}
