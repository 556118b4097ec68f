// Package schema loads the metric schema: the ordered list of metric names
// a caller wants computed, with per-metric display-formatting hints. The
// schema fixes result-table row order; duplicate names are allowed and are
// aligned by occurrence.
package schema

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v2"
)

// Format selects how a metric's final value is rendered in lineage output.
type Format string

const (
	// FormatThousands divides by 1,000 and comma-groups, with parentheses
	// for negatives. The default for raw currency figures.
	FormatThousands Format = "thousands"
	// FormatPercent renders with a % suffix. Values are expected already
	// scaled to percentage points by the mapping expression.
	FormatPercent Format = "percent"
	// FormatRatio renders with an x suffix, e.g. leverage multiples.
	FormatRatio Format = "ratio"
)

// Display is a metric's formatting hint. An explicit decimals of zero is
// distinguished from an omitted field, so whole-number percentages remain
// expressible.
type Display struct {
	Format   Format `yaml:"format" json:"format"`
	Decimals int    `yaml:"decimals,omitempty" json:"decimals,omitempty"`

	decimalsSet bool
}

// UnmarshalYAML keeps track of whether decimals was present in the document.
func (d *Display) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw struct {
		Format   Format `yaml:"format"`
		Decimals *int   `yaml:"decimals"`
	}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	d.Format = raw.Format
	if raw.Decimals != nil {
		d.Decimals = *raw.Decimals
		d.decimalsSet = true
	}
	return nil
}

// MetricSpec is one schema row.
type MetricSpec struct {
	Name    string  `yaml:"name" json:"name"`
	Display Display `yaml:"display" json:"display"`
}

// Schema is the ordered metric list for a run.
type Schema struct {
	Metrics []MetricSpec `yaml:"metrics" json:"metrics"`
}

// Parse decodes a schema document and applies display defaults: thousands
// format when none is given, one decimal for percentages, two for ratios.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse metric schema: %w", err)
	}
	if len(s.Metrics) == 0 {
		return nil, fmt.Errorf("metric schema is empty")
	}
	for i := range s.Metrics {
		if s.Metrics[i].Name == "" {
			return nil, fmt.Errorf("metric schema entry %d has no name", i)
		}
		d := &s.Metrics[i].Display
		if d.Format == "" {
			d.Format = FormatThousands
		}
		if !d.decimalsSet {
			switch d.Format {
			case FormatPercent, FormatThousands:
				d.Decimals = 1
			case FormatRatio:
				d.Decimals = 2
			}
		}
	}
	return &s, nil
}

// Load reads and parses a schema file.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metric schema: %w", err)
	}
	return Parse(data)
}

// Names returns the schema's metric names in order, duplicates included.
func (s *Schema) Names() []string {
	names := make([]string, len(s.Metrics))
	for i, m := range s.Metrics {
		names[i] = m.Name
	}
	return names
}

// Spec returns the first spec with the given name, used when a metric needs
// its display hint outside row alignment.
func (s *Schema) Spec(name string) (MetricSpec, bool) {
	for _, m := range s.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return MetricSpec{}, false
}
