// Package output provides formatters for different output formats.
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Formatter is the interface for formatting command output in different formats.
type Formatter interface {
	// Format formats a value according to the specified density level.
	Format(v interface{}, density Density) (string, error)

	// FormatToWriter writes formatted output directly to a writer.
	FormatToWriter(w io.Writer, v interface{}, density Density) error
}

// YAMLFormatter formats values as YAML output.
type YAMLFormatter struct{}

// NewYAMLFormatter creates a new YAML formatter.
func NewYAMLFormatter() *YAMLFormatter {
	return &YAMLFormatter{}
}

// Format formats a value as YAML.
func (f *YAMLFormatter) Format(v interface{}, density Density) (string, error) {
	var buf bytes.Buffer
	if err := f.FormatToWriter(&buf, v, density); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// FormatToWriter writes YAML output to a writer.
func (f *YAMLFormatter) FormatToWriter(w io.Writer, v interface{}, density Density) error {
	filtered := applyDensityFilter(v, density)

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer encoder.Close()

	return encoder.Encode(filtered)
}

// JSONFormatter formats values as JSON output.
type JSONFormatter struct{}

// NewJSONFormatter creates a new JSON formatter.
func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{}
}

// Format formats a value as JSON.
func (f *JSONFormatter) Format(v interface{}, density Density) (string, error) {
	var buf bytes.Buffer
	if err := f.FormatToWriter(&buf, v, density); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// FormatToWriter writes JSON output to a writer.
func (f *JSONFormatter) FormatToWriter(w io.Writer, v interface{}, density Density) error {
	filtered := applyDensityFilter(v, density)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	return encoder.Encode(filtered)
}

// applyDensityFilter returns a copy of v with the function fields the
// density level excludes cleared. Values without functions pass through.
func applyDensityFilter(v interface{}, density Density) interface{} {
	switch o := v.(type) {
	case *FunctionOutput:
		return filterFunction(o, density)
	case *ListOutput:
		out := *o
		out.Functions = filterFunctions(o.Functions, density)
		return &out
	case *ReleaseOutput:
		out := *o
		out.Top = filterFunctions(o.Top, density)
		return &out
	default:
		return v
	}
}

func filterFunctions(fs []*FunctionOutput, density Density) []*FunctionOutput {
	if fs == nil {
		return nil
	}
	out := make([]*FunctionOutput, len(fs))
	for i, f := range fs {
		out[i] = filterFunction(f, density)
	}
	return out
}

func filterFunction(f *FunctionOutput, density Density) *FunctionOutput {
	if f == nil {
		return nil
	}
	out := *f
	if !density.IncludesClasses() {
		out.Classes = nil
	}
	if !density.IncludesFan() {
		out.FanIn, out.FanOut = nil, nil
	}
	if !density.IncludesProximity() {
		out.SLOC = nil
		out.Frequency = nil
		out.Proximity = nil
		out.Coupling = nil
	}
	return &out
}

// GetFormatter returns a formatter for the specified format.
func GetFormatter(format Format) (Formatter, error) {
	switch format {
	case FormatYAML:
		return NewYAMLFormatter(), nil
	case FormatJSON:
		return NewJSONFormatter(), nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
