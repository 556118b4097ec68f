package mapping

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"finlineage/pkg/core/llm"
)

// GenerateRequest asks the external generator for definitions covering the
// listed metrics. AvailableKeys enumerates the source identifiers present in
// the entity's extracts, keyed by statement name, so the model can only be
// steered toward keys that actually exist.
type GenerateRequest struct {
	Entity        string
	FilingType    string
	Metrics       []string
	AvailableKeys map[string][]string
}

// Generator proposes formula mappings. The engine invokes it only on a cache
// miss (or for the uncovered subset of a partial hit) and validates whatever
// it returns before execution.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) ([]*MetricDefinition, error)
}

const generatorSystemPrompt = `You are a financial data analyst. Given a list of
metric names and the source line-item keys available in a company's financial
statement extracts, respond with a JSON array of objects, one per metric:
{"metric_name": string, "source_keys": [string], "expression": string,
"notes": string, "value_kind": "flow"|"stock"}.
Expressions may use only the listed source keys, decimal numbers, and the
operators + - * / with parentheses. Balance sheet quantities are "stock";
income statement and cash flow quantities are "flow". If a metric cannot be
derived from the available keys, set its expression to "" and explain in notes.`

// LLMGenerator implements Generator over an llm.Provider.
type LLMGenerator struct {
	Provider llm.Provider
	Model    string
}

var _ Generator = (*LLMGenerator)(nil)

// Generate prompts the model and decodes its (repaired) JSON response.
// Definitions are returned uncompiled; the caller validates them.
func (g *LLMGenerator) Generate(ctx context.Context, req GenerateRequest) ([]*MetricDefinition, error) {
	if len(req.Metrics) == 0 {
		return nil, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s\nFiling type: %s\n\nMetrics to map:\n", req.Entity, req.FilingType)
	for _, m := range req.Metrics {
		fmt.Fprintf(&b, "- %s\n", m)
	}
	b.WriteString("\nAvailable source keys:\n")
	statements := make([]string, 0, len(req.AvailableKeys))
	for statement := range req.AvailableKeys {
		statements = append(statements, statement)
	}
	sort.Strings(statements)
	for _, statement := range statements {
		fmt.Fprintf(&b, "%s: %s\n", statement, strings.Join(req.AvailableKeys[statement], ", "))
	}

	options := map[string]interface{}{}
	if g.Model != "" {
		options["model"] = g.Model
	}
	resp, err := g.Provider.GenerateResponse(ctx, b.String(), generatorSystemPrompt, options)
	if err != nil {
		return nil, fmt.Errorf("mapping generation for %s/%s failed: %w", req.Entity, req.FilingType, err)
	}
	defs, err := DecodeDefinitions(resp)
	if err != nil {
		return nil, err
	}
	return defs, nil
}
