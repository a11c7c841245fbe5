package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/pulsekit/pulseboard/pkg/schema"
)

// ArtifactVersion is the current configuration artifact format version.
const ArtifactVersion = 1

// artifactSchemaJSON is the JSON Schema for configuration artifacts.
// Embedded as a constant to avoid filesystem dependencies.
const artifactSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://pulseboard.dev/schemas/board.json",
  "type": "object",
  "required": ["version", "nodes", "tasks", "scenarios"],
  "properties": {
    "version": {
      "type": "integer",
      "minimum": 1
    },
    "nodes": {
      "type": "array",
      "items": { "$ref": "#/$defs/node" }
    },
    "tasks": {
      "type": "array",
      "items": { "$ref": "#/$defs/task" }
    },
    "scenarios": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/scenario" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["name", "kind"],
      "properties": {
        "name": {
          "type": "string",
          "minLength": 1
        },
        "kind": {
          "type": "string",
          "enum": ["table", "string", "scalar"]
        }
      },
      "additionalProperties": false
    },
    "task": {
      "type": "object",
      "required": ["name", "computation", "outputs"],
      "properties": {
        "name": {
          "type": "string",
          "minLength": 1
        },
        "computation": {
          "type": "string",
          "minLength": 1
        },
        "inputs": {
          "type": "array",
          "items": { "type": "string" }
        },
        "outputs": {
          "type": "array",
          "minItems": 1,
          "items": { "type": "string" }
        }
      },
      "additionalProperties": false
    },
    "scenario": {
      "type": "object",
      "required": ["name", "tasks"],
      "properties": {
        "name": {
          "type": "string",
          "minLength": 1
        },
        "tasks": {
          "type": "array",
          "minItems": 1,
          "items": { "type": "string" }
        }
      },
      "additionalProperties": false
    }
  }
}`

// Artifact is the serialized form of a board configuration.
type Artifact struct {
	Version   int                     `json:"version"`
	Nodes     []schema.DataNodeConfig `json:"nodes"`
	Tasks     []schema.TaskConfig     `json:"tasks"`
	Scenarios []schema.ScenarioConfig `json:"scenarios"`
}

var (
	artifactSchemaOnce sync.Once
	artifactSchema     *jsonschema.Schema
	artifactSchemaErr  error
)

func compiledArtifactSchema() (*jsonschema.Schema, error) {
	artifactSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.AssertFormat()

		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(artifactSchemaJSON))
		if err != nil {
			artifactSchemaErr = fmt.Errorf("unmarshal artifact schema: %w", err)
			return
		}
		if err := c.AddResource("https://pulseboard.dev/schemas/board.json", doc); err != nil {
			artifactSchemaErr = fmt.Errorf("add artifact schema resource: %w", err)
			return
		}
		artifactSchema, artifactSchemaErr = c.Compile("https://pulseboard.dev/schemas/board.json")
	})
	return artifactSchema, artifactSchemaErr
}

// Export serializes a configuration to its JSON artifact form.
func Export(cfg *schema.BoardConfig) ([]byte, error) {
	if cfg == nil {
		return nil, schema.NewError(schema.ErrCodeConfig, "board configuration is nil")
	}
	artifact := Artifact{
		Version:   ArtifactVersion,
		Nodes:     cfg.Nodes,
		Tasks:     cfg.Tasks,
		Scenarios: cfg.Scenarios,
	}
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "marshal artifact: %s", err.Error()).WithCause(err)
	}
	return data, nil
}

// Load parses and validates a JSON artifact and rebuilds the configuration.
// Schema validation rejects malformed documents; the structural checks from
// Validate then enforce everything JSON Schema cannot express.
func Load(data []byte, resolver SignatureResolver) (*schema.BoardConfig, error) {
	compiled, err := compiledArtifactSchema()
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeConfig, "artifact schema unavailable").WithCause(err)
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "parse artifact: %s", err.Error()).WithCause(err)
	}
	if err := compiled.Validate(doc); err != nil {
		return nil, toBoardError(err)
	}

	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "decode artifact: %s", err.Error()).WithCause(err)
	}
	if artifact.Version != ArtifactVersion {
		return nil, schema.NewErrorf(schema.ErrCodeConfig,
			"unsupported artifact version %d (expected %d)", artifact.Version, ArtifactVersion)
	}

	cfg := &schema.BoardConfig{
		Nodes:     artifact.Nodes,
		Tasks:     artifact.Tasks,
		Scenarios: artifact.Scenarios,
	}
	if err := Validate(cfg, resolver); err != nil {
		return nil, err
	}
	return cfg, nil
}

// toBoardError converts a jsonschema.ValidationError into a BoardError with
// leaf violations listed in the details.
func toBoardError(err error) *schema.BoardError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeConfig, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeConfig, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeConfig, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	return schema.NewErrorf(schema.ErrCodeConfig, "artifact validation failed with %d errors", len(violations)).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
