package mapping

import (
	"encoding/json"
	"fmt"
	"os"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	hjson "github.com/hjson/hjson-go/v4"
)

// Decode parses a mapping from JSON text. Because mapping JSON usually comes
// straight out of a language model, the text is run through json-repair
// first: that recovers from missing quotes, trailing commas, markdown code
// fences and the other damage LLM output tends to carry.
func Decode(raw string) (*FormulaMapping, error) {
	repaired, err := jsonrepair.RepairJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("mapping JSON beyond repair: %w", err)
	}
	var m FormulaMapping
	if err := json.Unmarshal([]byte(repaired), &m); err != nil {
		return nil, fmt.Errorf("failed to decode mapping JSON: %w", err)
	}
	return &m, nil
}

// DecodeDefinitions parses a bare definition list (the shape the generator
// returns when asked for a subset of metrics).
func DecodeDefinitions(raw string) ([]*MetricDefinition, error) {
	repaired, err := jsonrepair.RepairJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("definition JSON beyond repair: %w", err)
	}
	var defs []*MetricDefinition
	if err := json.Unmarshal([]byte(repaired), &defs); err != nil {
		return nil, fmt.Errorf("failed to decode definition list: %w", err)
	}
	return defs, nil
}

// LoadOverrideFile reads a hand-written mapping override in Hjson, which
// allows comments, unquoted keys and optional commas. Overrides are the
// escape hatch for entities whose generated mappings need manual fixes.
func LoadOverrideFile(path string) (*FormulaMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping override: %w", err)
	}
	var m FormulaMapping
	if err := hjson.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse mapping override %s: %w", path, err)
	}
	return &m, nil
}
