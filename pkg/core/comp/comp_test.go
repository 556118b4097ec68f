package comp

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"finlineage/pkg/core/engine"
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

// companyInput builds a one-metric run for a company whose FY2024 revenue
// is given. A nil revenue produces a company with no data for the year.
func companyInput(entity string, revenue *decimal.Decimal) engine.RunInput {
	rows := map[string]map[string]*decimal.Decimal{}
	if revenue != nil {
		rows["Revenues"] = map[string]*decimal.Decimal{"2024": revenue}
	}
	m := &mapping.FormulaMapping{Entity: entity, FilingType: "10-K"}
	m.Append(&mapping.MetricDefinition{
		MetricName: "Revenue",
		SourceKeys: []string{"Revenues"},
		Expression: "Revenues",
		ValueKind:  mapping.KindFlow,
	})
	return engine.RunInput{
		Entity:     entity,
		FilingType: "10-K",
		AnnualTables: []store.Table{
			{Statement: store.StatementIncome, FilingType: "10-K", Rows: rows},
		},
		Schema: &schema.Schema{Metrics: []schema.MetricSpec{
			{Name: "Revenue", Display: schema.Display{Format: schema.FormatThousands, Decimals: 1}},
		}},
		Mapping: m,
		Years:   []int{2024},
	}
}

func TestAggregator_MeanAndMedianIgnoreMissing(t *testing.T) {
	agg, err := NewAggregator(engine.New(nil, nil, nil), nil).Run(context.Background(), []engine.RunInput{
		companyInput("AAPL", dp("100")),
		companyInput("MSFT", dp("200")),
		companyInput("GOOG", dp("600")),
		companyInput("NODATA", nil),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Mean over the three present values: (100+200+600)/3 = 300.
	avg := agg.Summary[RowAverage]["Revenue"]["2024"]
	if avg == nil || !avg.Equal(*dp("300")) {
		t.Errorf("AVERAGE = %v, want 300", avg)
	}
	// Median of 100, 200, 600 is 200; the missing company contributes
	// nothing, not a zero.
	med := agg.Summary[RowMedian]["Revenue"]["2024"]
	if med == nil || !med.Equal(*dp("200")) {
		t.Errorf("MEDIAN = %v, want 200", med)
	}
}

func TestAggregator_EvenCountMedian(t *testing.T) {
	agg, err := NewAggregator(engine.New(nil, nil, nil), nil).Run(context.Background(), []engine.RunInput{
		companyInput("A", dp("100")),
		companyInput("B", dp("300")),
	})
	if err != nil {
		t.Fatal(err)
	}
	med := agg.Summary[RowMedian]["Revenue"]["2024"]
	if med == nil || !med.Equal(*dp("200")) {
		t.Errorf("even-count MEDIAN = %v, want 200", med)
	}
}

func TestAggregator_AllMissingStaysMissing(t *testing.T) {
	agg, err := NewAggregator(engine.New(nil, nil, nil), nil).Run(context.Background(), []engine.RunInput{
		companyInput("A", nil),
		companyInput("B", nil),
	})
	if err != nil {
		t.Fatal(err)
	}
	if v := agg.Summary[RowAverage]["Revenue"]["2024"]; v != nil {
		t.Errorf("AVERAGE over no values = %s, want missing", v)
	}
	if v := agg.Summary[RowMedian]["Revenue"]["2024"]; v != nil {
		t.Errorf("MEDIAN over no values = %s, want missing", v)
	}
}

func TestAggregator_PeerCapTruncates(t *testing.T) {
	inputs := make([]engine.RunInput, 0, MaxPeerSet+2)
	for _, e := range []string{"A", "B", "C", "D", "E", "F", "G"} {
		inputs = append(inputs, companyInput(e, dp("100")))
	}
	agg, err := NewAggregator(engine.New(nil, nil, nil), nil).Run(context.Background(), inputs)
	if err != nil {
		t.Fatal(err)
	}
	if len(agg.Companies) != MaxPeerSet {
		t.Errorf("companies = %d, want cap %d", len(agg.Companies), MaxPeerSet)
	}
}

func TestAggregator_MergedLineageHoldsEveryCompany(t *testing.T) {
	agg, err := NewAggregator(engine.New(nil, nil, nil), nil).Run(context.Background(), []engine.RunInput{
		companyInput("AAPL", dp("100")),
		companyInput("MSFT", dp("200")),
	})
	if err != nil {
		t.Fatal(err)
	}
	if agg.Lineage.Cell("AAPL", "Revenue", "2024") == nil {
		t.Error("merged lineage missing AAPL")
	}
	if agg.Lineage.Cell("MSFT", "Revenue", "2024") == nil {
		t.Error("merged lineage missing MSFT")
	}
}

func TestAggregator_FailedCompanyIsIsolated(t *testing.T) {
	bad := companyInput("BAD", dp("100"))
	// A conflicting duplicate cell makes BAD's store build fail.
	bad.AnnualTables = append(bad.AnnualTables, store.Table{
		Statement:  store.StatementIncome,
		FilingType: "10-K",
		Rows: map[string]map[string]*decimal.Decimal{
			"Revenues": {"2024": dp("999")},
		},
	})

	agg, err := NewAggregator(engine.New(nil, nil, nil), nil).Run(context.Background(), []engine.RunInput{
		companyInput("AAPL", dp("100")),
		bad,
	})
	if err != nil {
		t.Fatalf("one bad company must not abort the comparison: %v", err)
	}
	if agg.Companies[1].Err == nil {
		t.Error("BAD should carry its run error")
	}
	// Summary reflects only the surviving company.
	if v := agg.Summary[RowAverage]["Revenue"]["2024"]; v == nil || !v.Equal(*dp("100")) {
		t.Errorf("AVERAGE = %v, want 100", v)
	}
}
