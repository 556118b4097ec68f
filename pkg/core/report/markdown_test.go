package report

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"finlineage/pkg/core/engine"
	"finlineage/pkg/core/lineage"
	"finlineage/pkg/core/schema"
)

func testResult() *engine.Result {
	v := decimal.NewFromInt(2210000)
	formatted := "2,210"

	rec := lineage.NewRecorder("AAPL")
	rec.Record(&lineage.ComputedCell{
		Metric:     "Revenue",
		Period:     "LTM 2025",
		Value:      &v,
		FinalValue: &formatted,
	})

	return &engine.Result{
		Entity:  "AAPL",
		Columns: []string{"2024", "LTM 2025"},
		Rows: []engine.Row{
			{
				Metric:  "Revenue",
				Values:  map[string]*decimal.Decimal{"LTM 2025": &v},
				Display: schema.Display{Format: schema.FormatThousands, Decimals: 1},
			},
		},
		Lineage:  rec.Log(),
		Warnings: []string{"Revenue 2024: missing due to absent Revenues"},
	}
}

func TestResultMarkdown(t *testing.T) {
	doc := ResultMarkdown(testResult())

	if !strings.Contains(doc, "# AAPL") {
		t.Error("missing entity heading")
	}
	// Formatted lineage value is preferred over the raw decimal.
	if !strings.Contains(doc, "2,210") {
		t.Error("missing formatted LTM value")
	}
	// Missing cells render as n/a, never zero.
	if !strings.Contains(doc, "n/a") {
		t.Error("missing cell should render as n/a")
	}
	if !strings.Contains(doc, "## Warnings") {
		t.Error("warnings section absent")
	}
	if !Validate(doc) {
		t.Error("rendered document failed validation")
	}
}

func TestValidate(t *testing.T) {
	if !Validate("# Title\n\n| a | b |\n|---|---|\n| 1 | 2 |\n") {
		t.Error("well-formed markdown should validate")
	}
}
