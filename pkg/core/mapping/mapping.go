// Package mapping defines the formula mappings the engine executes: per
// (entity, filing type) lists of metric definitions binding a metric name to
// source keys and an arithmetic expression. Mappings originate from an
// external LLM-backed generator, so everything here is treated as untrusted
// input: expressions are compiled against the restricted grammar and checked
// against their declared source keys before a run will execute them.
package mapping

import (
	"fmt"

	"finlineage/pkg/core/formula"
)

// ValueKind governs how a metric is resolved into trailing-twelve-month
// figures: flow quantities are reconstructed from annual and YTD deltas,
// stock quantities take their latest point-in-time value.
type ValueKind string

const (
	KindFlow  ValueKind = "flow"
	KindStock ValueKind = "stock"
)

// MetricDefinition maps one metric to its source keys and expression.
type MetricDefinition struct {
	MetricName string    `json:"metric_name"`
	SourceKeys []string  `json:"source_keys"`
	Expression string    `json:"expression"`
	Notes      string    `json:"notes,omitempty"`
	ValueKind  ValueKind `json:"value_kind"`

	expr *formula.Expr
}

// Compile parses and validates the definition's expression. Every
// identifier must be a declared source key or an approved alias; any other
// identifier, or any token outside the allowed grammar, is an error. Compile
// failures exclude the single metric from a run, never the whole batch.
func (d *MetricDefinition) Compile(aliases map[string][]string) error {
	if d.MetricName == "" {
		return fmt.Errorf("metric definition has no name")
	}
	if d.ValueKind != KindFlow && d.ValueKind != KindStock {
		return fmt.Errorf("metric %q has invalid value_kind %q", d.MetricName, d.ValueKind)
	}
	expr, err := formula.Parse(d.Expression)
	if err != nil {
		return fmt.Errorf("metric %q: %w", d.MetricName, err)
	}
	allowed := make(map[string]bool, len(d.SourceKeys))
	for _, k := range d.SourceKeys {
		allowed[k] = true
	}
	for from, tos := range aliases {
		if allowed[from] {
			for _, to := range tos {
				allowed[to] = true
			}
		}
	}
	for _, id := range expr.Identifiers() {
		if !allowed[id] {
			return fmt.Errorf("metric %q references identifier %q outside its source keys", d.MetricName, id)
		}
	}
	d.expr = expr
	return nil
}

// Expr returns the compiled expression. It is nil until Compile succeeds.
func (d *MetricDefinition) Expr() *formula.Expr { return d.expr }

// FormulaMapping is the validated, cacheable set of metric definitions for
// one (entity, filing type) pair. It is append-only within a run: later
// entries for the same metric name are authoritative.
type FormulaMapping struct {
	Entity     string              `json:"entity"`
	FilingType string              `json:"filing_type"`
	Metrics    []*MetricDefinition `json:"metrics"`
}

// Definition returns the authoritative (latest) definition for a metric
// name, or nil if the mapping does not cover it.
func (m *FormulaMapping) Definition(name string) *MetricDefinition {
	for i := len(m.Metrics) - 1; i >= 0; i-- {
		if m.Metrics[i].MetricName == name {
			return m.Metrics[i]
		}
	}
	return nil
}

// Append adds definitions to the mapping. Existing entries are never
// removed; the new entries shadow them.
func (m *FormulaMapping) Append(defs ...*MetricDefinition) {
	m.Metrics = append(m.Metrics, defs...)
}

// Coverage splits a required metric list into the names this mapping
// defines and the names it is missing. Partial cache coverage is treated as
// a miss for the missing subset only.
func (m *FormulaMapping) Coverage(required []string) (covered, missing []string) {
	defined := make(map[string]bool, len(m.Metrics))
	for _, d := range m.Metrics {
		defined[d.MetricName] = true
	}
	for _, name := range required {
		if defined[name] {
			covered = append(covered, name)
		} else {
			missing = append(missing, name)
		}
	}
	return covered, missing
}
