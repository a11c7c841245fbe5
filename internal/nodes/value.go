package nodes

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/pulsekit/pulseboard/internal/dataset"
	"github.com/pulsekit/pulseboard/pkg/schema"
)

// Value is one written state of a data node: a kind-tagged JSON payload
// plus write metadata. The zero Value is the empty sentinel returned when
// reading a node that has never been written.
type Value struct {
	Kind      schema.NodeKind `json:"kind,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Version   int             `json:"version,omitempty"`
	WrittenAt time.Time       `json:"written_at,omitzero"`
}

// Empty is the sentinel for a node that has never been written.
var Empty = Value{}

// IsEmpty reports whether the value is the never-written sentinel.
func (v Value) IsEmpty() bool {
	return v.Version == 0 && len(v.Data) == 0
}

// Table wraps a dataset frame as a table-kind value.
func Table(f *dataset.Frame) (Value, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return Empty, schema.NewErrorf(schema.ErrCodeValidation, "marshal table value: %s", err.Error()).WithCause(err)
	}
	return Value{Kind: schema.NodeKindTable, Data: data}, nil
}

// String wraps a string as a string-kind value.
func String(s string) Value {
	data, _ := json.Marshal(s)
	return Value{Kind: schema.NodeKindString, Data: data}
}

// Scalar wraps a number as a scalar-kind value.
func Scalar(f float64) Value {
	return Value{Kind: schema.NodeKindScalar, Data: json.RawMessage(strconv.FormatFloat(f, 'g', -1, 64))}
}

// AsFrame decodes a table-kind value into a dataset frame.
func (v Value) AsFrame() (*dataset.Frame, error) {
	if v.IsEmpty() {
		return nil, schema.NewError(schema.ErrCodeState, "node value is empty")
	}
	if v.Kind != schema.NodeKindTable {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "value is %s, not table", v.Kind)
	}
	var f dataset.Frame
	if err := json.Unmarshal(v.Data, &f); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "decode table value: %s", err.Error()).WithCause(err)
	}
	return &f, nil
}

// AsString decodes a string-kind value.
func (v Value) AsString() (string, error) {
	if v.IsEmpty() {
		return "", schema.NewError(schema.ErrCodeState, "node value is empty")
	}
	if v.Kind != schema.NodeKindString {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "value is %s, not string", v.Kind)
	}
	var s string
	if err := json.Unmarshal(v.Data, &s); err != nil {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "decode string value: %s", err.Error()).WithCause(err)
	}
	return s, nil
}

// AsScalar decodes a scalar-kind value.
func (v Value) AsScalar() (float64, error) {
	if v.IsEmpty() {
		return 0, schema.NewError(schema.ErrCodeState, "node value is empty")
	}
	if v.Kind != schema.NodeKindScalar {
		return 0, schema.NewErrorf(schema.ErrCodeValidation, "value is %s, not scalar", v.Kind)
	}
	var f float64
	if err := json.Unmarshal(v.Data, &f); err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeValidation, "decode scalar value: %s", err.Error()).WithCause(err)
	}
	return f, nil
}

// Decode unmarshals the payload into a generic value for projection and
// display.
func (v Value) Decode() (any, error) {
	if v.IsEmpty() {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(v.Data, &out); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "decode node value: %s", err.Error()).WithCause(err)
	}
	return out, nil
}
