package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"finlineage/pkg/core/mapping"
	"finlineage/pkg/core/schema"
	"finlineage/pkg/core/store"
)

func dp(s string) *decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return &v
}

func def(name string, keys []string, expr string, kind mapping.ValueKind) *mapping.MetricDefinition {
	return &mapping.MetricDefinition{
		MetricName: name,
		SourceKeys: keys,
		Expression: expr,
		ValueKind:  kind,
	}
}

// testInput models the standard scenario: two annual years of income and
// balance data plus Q1 legs for the current and prior year.
//
//	Revenues    FY2023 1,900,000  FY2024 2,200,000
//	            Q1 2024  550,000  Q1 2025   560,000
//	Assets      FY2024 5,000,000  Q1 2025 5,100,000
func testInput(metrics []schema.MetricSpec, defs []*mapping.MetricDefinition) RunInput {
	annual := []store.Table{
		{
			Statement:  store.StatementIncome,
			FilingType: "10-K",
			Rows: map[string]map[string]*decimal.Decimal{
				"Revenues": {"2023": dp("1900000"), "2024": dp("2200000")},
			},
		},
		{
			Statement:  store.StatementBalance,
			FilingType: "10-K",
			Rows: map[string]map[string]*decimal.Decimal{
				"Assets": {"2023": dp("4800000"), "2024": dp("5000000")},
			},
		},
	}
	quarterly := []store.Table{
		{
			Statement:  store.StatementIncome,
			FilingType: "10-Q",
			Rows: map[string]map[string]*decimal.Decimal{
				"Revenues": {"2024-03-31": dp("550000"), "2025-03-31": dp("560000")},
			},
		},
		{
			Statement:  store.StatementBalance,
			FilingType: "10-Q",
			Rows: map[string]map[string]*decimal.Decimal{
				"Assets": {"2025-03-31": dp("5100000")},
			},
		},
	}
	return RunInput{
		Entity:          "AAPL",
		FilingType:      "10-K",
		AnnualTables:    annual,
		QuarterlyTables: quarterly,
		Schema:          &schema.Schema{Metrics: metrics},
		Mapping: &mapping.FormulaMapping{
			Entity:     "AAPL",
			FilingType: "10-K",
			Metrics:    defs,
		},
		Years: []int{2023, 2024},
		YTD:   &YTDSpec{CurrentYear: 2025, PriorYear: 2024, Quarter: 1},
	}
}

func mustRun(t *testing.T, input RunInput) *Result {
	t.Helper()
	res, err := New(nil, nil, nil).Run(context.Background(), input)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return res
}

func TestRun_FlowLTM(t *testing.T) {
	res := mustRun(t, testInput(
		[]schema.MetricSpec{{Name: "Revenue", Display: schema.Display{Format: schema.FormatThousands, Decimals: 1}}},
		[]*mapping.MetricDefinition{def("Revenue", []string{"Revenues"}, "Revenues", mapping.KindFlow)},
	))

	// Annual years evaluate directly.
	if v := res.Value("Revenue", "2024"); v == nil || !v.Equal(*dp("2200000")) {
		t.Errorf("Revenue 2024 = %v, want 2200000", v)
	}
	// LTM 2025 = 2,200,000 + 560,000 - 550,000 = 2,210,000
	if v := res.Value("Revenue", "LTM 2025"); v == nil || !v.Equal(*dp("2210000")) {
		t.Errorf("Revenue LTM 2025 = %v, want 2210000", v)
	}
	// YTD legs read the quarterly store directly (cumulative source).
	if v := res.Value("Revenue", "YTD 2025"); v == nil || !v.Equal(*dp("560000")) {
		t.Errorf("Revenue YTD 2025 = %v, want 560000", v)
	}
	if v := res.Value("Revenue", "YTD 2024"); v == nil || !v.Equal(*dp("550000")) {
		t.Errorf("Revenue YTD 2024 = %v, want 550000", v)
	}

	wantCols := []string{"2023", "2024", "YTD 2024", "YTD 2025", "LTM 2025"}
	if len(res.Columns) != len(wantCols) {
		t.Fatalf("columns = %v", res.Columns)
	}
	for i, c := range wantCols {
		if res.Columns[i] != c {
			t.Errorf("column %d = %q, want %q", i, res.Columns[i], c)
		}
	}
}

func TestRun_FlowLTMUsesPriorYearLeg(t *testing.T) {
	// A fiscal-calendar caller may set a prior year that is not simply
	// current - 1. All three LTM legs must follow the spec's prior year.
	input := testInput(
		[]schema.MetricSpec{{Name: "Revenue", Display: schema.Display{Format: schema.FormatThousands, Decimals: 1}}},
		[]*mapping.MetricDefinition{def("Revenue", []string{"Revenues"}, "Revenues", mapping.KindFlow)},
	)
	input.Years = []int{2023}
	input.YTD = &YTDSpec{CurrentYear: 2025, PriorYear: 2023, Quarter: 1}
	input.QuarterlyTables = []store.Table{
		{
			Statement:  store.StatementIncome,
			FilingType: "10-Q",
			Rows: map[string]map[string]*decimal.Decimal{
				"Revenues": {"2023-03-31": dp("500000"), "2025-03-31": dp("560000")},
			},
		},
	}

	res := mustRun(t, input)
	// LTM 2025 = FY2023 1,900,000 + YTD Q1 2025 560,000 - YTD Q1 2023 500,000
	//          = 1,960,000
	if v := res.Value("Revenue", "LTM 2025"); v == nil || !v.Equal(*dp("1960000")) {
		t.Errorf("Revenue LTM 2025 = %v, want 1960000", v)
	}
	cell := res.Lineage.Cell("AAPL", "Revenue", "LTM 2025")
	if cell == nil || len(cell.Steps) != 3 {
		t.Fatalf("LTM cell = %+v", cell)
	}
	if cell.Steps[0].Period != "2023" || cell.Steps[2].Period != "YTD 2023" {
		t.Errorf("annual leg %q, prior YTD leg %q; both should use 2023",
			cell.Steps[0].Period, cell.Steps[2].Period)
	}
}

func TestRun_FlowLTMLineageSteps(t *testing.T) {
	res := mustRun(t, testInput(
		[]schema.MetricSpec{{Name: "Revenue", Display: schema.Display{Format: schema.FormatThousands, Decimals: 1}}},
		[]*mapping.MetricDefinition{def("Revenue", []string{"Revenues"}, "Revenues", mapping.KindFlow)},
	))

	cell := res.Lineage.Cell("AAPL", "Revenue", "LTM 2025")
	if cell == nil {
		t.Fatal("no LTM lineage cell")
	}
	// Three nested components: annual, YTD current, YTD prior.
	if len(cell.Steps) != 3 {
		t.Fatalf("LTM steps = %d, want 3", len(cell.Steps))
	}
	if cell.Steps[0].Period != "2024" || cell.Steps[1].Period != "YTD 2025" || cell.Steps[2].Period != "YTD 2024" {
		t.Errorf("step periods = %s, %s, %s", cell.Steps[0].Period, cell.Steps[1].Period, cell.Steps[2].Period)
	}
	// Each component carries its own source references.
	for i, step := range cell.Steps {
		if len(step.Sources) == 0 {
			t.Errorf("step %d has no sources", i)
		}
	}
	if cell.FinalValue == nil || *cell.FinalValue != "2,210" {
		t.Errorf("FinalValue = %v, want 2,210", cell.FinalValue)
	}
	if cell.PolicyNote == "" {
		t.Error("LTM cell should document the YTD policy")
	}
}

func TestRun_StockLTMIsPointInTime(t *testing.T) {
	res := mustRun(t, testInput(
		[]schema.MetricSpec{{Name: "Total Assets", Display: schema.Display{Format: schema.FormatThousands, Decimals: 1}}},
		[]*mapping.MetricDefinition{def("Total Assets", []string{"Assets"}, "Assets", mapping.KindStock)},
	))

	// Latest balance is the Q1 2025 quarter end, no summation.
	if v := res.Value("Total Assets", "LTM 2025"); v == nil || !v.Equal(*dp("5100000")) {
		t.Errorf("Total Assets LTM 2025 = %v, want 5100000", v)
	}
}

func TestRun_StockLTMFallsBackToAnnual(t *testing.T) {
	input := testInput(
		[]schema.MetricSpec{{Name: "Total Assets", Display: schema.Display{Format: schema.FormatThousands, Decimals: 1}}},
		[]*mapping.MetricDefinition{def("Total Assets", []string{"Assets"}, "Assets", mapping.KindStock)},
	)
	// Drop the quarterly balance sheet; the latest annual value stands in.
	input.QuarterlyTables = input.QuarterlyTables[:1]

	res := mustRun(t, input)
	if v := res.Value("Total Assets", "LTM 2025"); v == nil || !v.Equal(*dp("5000000")) {
		t.Errorf("Total Assets LTM 2025 = %v, want 5000000 (FY2024 balance)", v)
	}
}

func TestRun_MixedKindResolvesPerKey(t *testing.T) {
	res := mustRun(t, testInput(
		[]schema.MetricSpec{{Name: "Asset Turnover", Display: schema.Display{Format: schema.FormatRatio, Decimals: 2}}},
		[]*mapping.MetricDefinition{def("Asset Turnover", []string{"Revenues", "Assets"}, "Revenues / Assets", mapping.KindFlow)},
	))

	// Revenues resolves as a flow (2,210,000 LTM), Assets as a stock
	// (5,100,000 point-in-time): 2210000 / 5100000 = 0.4333...
	v := res.Value("Asset Turnover", "LTM 2025")
	if v == nil {
		t.Fatal("Asset Turnover LTM 2025 missing")
	}
	want := dp("2210000").Div(*dp("5100000"))
	if !v.Round(6).Equal(want.Round(6)) {
		t.Errorf("Asset Turnover LTM 2025 = %s, want %s", v, want)
	}
}

func TestRun_MissingDenominatorWarns(t *testing.T) {
	res := mustRun(t, testInput(
		[]schema.MetricSpec{{Name: "Operating Margin", Display: schema.Display{Format: schema.FormatPercent, Decimals: 1}}},
		[]*mapping.MetricDefinition{def("Operating Margin", []string{"OperatingIncomeLoss", "Revenues"}, "OperatingIncomeLoss / Revenues", mapping.KindFlow)},
	))

	if v := res.Value("Operating Margin", "2024"); v != nil {
		t.Errorf("Operating Margin 2024 = %s, want missing", v)
	}
	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "Operating Margin") && strings.Contains(w, "OperatingIncomeLoss") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings should name the metric and the absent key: %v", res.Warnings)
	}
}

func TestRun_BadFormulaExcludesOnlyThatMetric(t *testing.T) {
	res := mustRun(t, testInput(
		[]schema.MetricSpec{
			{Name: "Revenue", Display: schema.Display{Format: schema.FormatThousands, Decimals: 1}},
			{Name: "Broken", Display: schema.Display{Format: schema.FormatThousands, Decimals: 1}},
		},
		[]*mapping.MetricDefinition{
			def("Revenue", []string{"Revenues"}, "Revenues", mapping.KindFlow),
			def("Broken", []string{"Revenues"}, "max(Revenues)", mapping.KindFlow),
		},
	))

	// The good metric still computes.
	if v := res.Value("Revenue", "2024"); v == nil {
		t.Error("Revenue should survive a sibling's bad formula")
	}
	// The bad one is excluded with a warning, its row present but empty.
	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "Broken") && strings.Contains(w, "excluded") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v", res.Warnings)
	}
	if len(res.Rows) != 2 {
		t.Errorf("rows = %d, want 2 (schema order preserved)", len(res.Rows))
	}
}

func TestRun_ConflictingExtractIsFatal(t *testing.T) {
	input := testInput(
		[]schema.MetricSpec{{Name: "Revenue", Display: schema.Display{Format: schema.FormatThousands, Decimals: 1}}},
		[]*mapping.MetricDefinition{def("Revenue", []string{"Revenues"}, "Revenues", mapping.KindFlow)},
	)
	input.AnnualTables = append(input.AnnualTables, store.Table{
		Statement:  store.StatementIncome,
		FilingType: "10-K",
		Rows: map[string]map[string]*decimal.Decimal{
			"Revenues": {"2024": dp("9999999")},
		},
	})

	_, err := New(nil, nil, nil).Run(context.Background(), input)
	if err == nil {
		t.Fatal("conflicting duplicate cells must fail the run")
	}
	var die *store.DataIntegrityError
	if !errors.As(err, &die) {
		t.Errorf("expected DataIntegrityError, got %v", err)
	}
}

func TestRun_NoMappingNoGeneratorWarns(t *testing.T) {
	input := testInput(
		[]schema.MetricSpec{{Name: "Revenue", Display: schema.Display{Format: schema.FormatThousands, Decimals: 1}}},
		nil,
	)
	input.Mapping = nil

	res := mustRun(t, input)
	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "Revenue") && strings.Contains(w, "no formula mapping") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v", res.Warnings)
	}
}

func TestRun_CachedMappingUsed(t *testing.T) {
	cache := store.NewMemoryMappingCache()
	m := &mapping.FormulaMapping{Entity: "AAPL", FilingType: "10-K"}
	m.Append(def("Revenue", []string{"Revenues"}, "Revenues", mapping.KindFlow))
	if err := cache.Put(context.Background(), "AAPL", "10-K", m); err != nil {
		t.Fatal(err)
	}

	input := testInput(
		[]schema.MetricSpec{{Name: "Revenue", Display: schema.Display{Format: schema.FormatThousands, Decimals: 1}}},
		nil,
	)
	input.Mapping = nil

	res, err := New(cache, nil, nil).Run(context.Background(), input)
	if err != nil {
		t.Fatal(err)
	}
	if v := res.Value("Revenue", "2024"); v == nil || !v.Equal(*dp("2200000")) {
		t.Errorf("cache-resolved Revenue 2024 = %v", v)
	}
}

func TestRun_DuplicateSchemaRowsShareValues(t *testing.T) {
	res := mustRun(t, testInput(
		[]schema.MetricSpec{
			{Name: "Revenue", Display: schema.Display{Format: schema.FormatThousands, Decimals: 1}},
			{Name: "Revenue", Display: schema.Display{Format: schema.FormatThousands, Decimals: 1}},
		},
		[]*mapping.MetricDefinition{def("Revenue", []string{"Revenues"}, "Revenues", mapping.KindFlow)},
	))
	if len(res.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(res.Rows))
	}
	for i, row := range res.Rows {
		if v := row.Values["2024"]; v == nil || !v.Equal(*dp("2200000")) {
			t.Errorf("row %d 2024 = %v", i, v)
		}
	}
}
