// Package planfile loads migration plans declared in TOML, YAML or JSON
// files and turns them into executable plans backed by SQL steps.
package planfile

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON []byte

var schemaLoader = gojsonschema.NewBytesLoader(schemaJSON)

// ErrInvalidFile is returned when a plan file cannot be decoded or does not
// match the plan schema.
var ErrInvalidFile = errors.New("invalid plan file")

// File is the on-disk shape of a plan.
type File struct {
	Name        string           `json:"name"`
	Final       string           `json:"final,omitempty"`
	Steps       []StepSpec       `json:"steps"`
	Transitions []TransitionSpec `json:"transitions"`
}

// StepSpec declares a SQL step kind. Exactly one of SQL and SQLFile is set.
type StepSpec struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	SQL         string `json:"sql,omitempty"`
	SQLFile     string `json:"sql_file,omitempty"`
	Unscoped    bool   `json:"unscoped,omitempty"`
}

// TransitionSpec moves the store from From to To by running Step. An empty
// From is the origin.
type TransitionSpec struct {
	From string `json:"from"`
	To   string `json:"to"`
	Step string `json:"step"`
}

// Format is a plan file encoding.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFor picks the format from the file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %s: unsupported extension (use .toml, .yaml or .json)", ErrInvalidFile, path)
	}
}

// ReadFile reads and decodes the plan at path.
func ReadFile(path string) (*File, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	f, err := Decode(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Decode parses data in the given format and checks it against the plan
// schema. Every format goes through the same JSON document, so the schema
// and the struct decoding see exactly the same values.
func Decode(data []byte, format Format) (*File, error) {
	doc, err := toJSON(data, format)
	if err != nil {
		return nil, err
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}
	if !result.Valid() {
		problems := make([]error, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, errors.New(e.String()))
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidFile, errors.Join(problems...))
	}

	var f File
	if err := json.Unmarshal(doc, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}
	return &f, nil
}

func toJSON(data []byte, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		if !json.Valid(data) {
			var v any
			err := json.Unmarshal(data, &v)
			return nil, fmt.Errorf("%w: %w", ErrInvalidFile, err)
		}
		return data, nil
	case FormatTOML:
		var v map[string]any
		if err := toml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidFile, err)
		}
		return json.Marshal(v)
	case FormatYAML:
		var v map[string]any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidFile, err)
		}
		return json.Marshal(v)
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrInvalidFile, format)
	}
}
