package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAndBuildInputs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "schema.yaml", `
metrics:
  - name: Revenue
`)
	writeFile(t, dir, "income_annual.csv", "key,2023,2024\nRevenues,1900000,2200000\n")
	writeFile(t, dir, "income_q.csv", "key,2024-03-31,2025-03-31\nRevenues,550000,560000\n")
	path := writeFile(t, dir, "run.yaml", `
schema: schema.yaml
years: [2023, 2024]
ytd:
  current_year: 2025
  quarter: 1
companies:
  - entity: AAPL
    annual:
      income: income_annual.csv
    quarterly:
      income: income_q.csv
`)

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	// Prior year defaults to current - 1.
	if m.YTD.PriorYear != 2024 {
		t.Errorf("PriorYear = %d, want 2024", m.YTD.PriorYear)
	}
	// Filing type defaults.
	if m.Companies[0].FilingType != "10-K" {
		t.Errorf("FilingType = %q", m.Companies[0].FilingType)
	}

	inputs, err := m.BuildInputs()
	if err != nil {
		t.Fatalf("BuildInputs failed: %v", err)
	}
	if len(inputs) != 1 {
		t.Fatalf("inputs = %d", len(inputs))
	}
	in := inputs[0]
	if in.Entity != "AAPL" || len(in.AnnualTables) != 1 || len(in.QuarterlyTables) != 1 {
		t.Fatalf("input = %+v", in)
	}
	v := in.AnnualTables[0].Rows["Revenues"]["2024"]
	if v == nil || !v.Equal(decimal.NewFromInt(2200000)) {
		t.Errorf("annual Revenues 2024 = %v", v)
	}
	if in.YTD == nil || in.YTD.Quarter != 1 {
		t.Errorf("ytd spec = %+v", in.YTD)
	}
}

func TestLoad_Validation(t *testing.T) {
	dir := t.TempDir()

	noSchema := writeFile(t, dir, "a.yaml", "companies:\n  - entity: AAPL\n")
	if _, err := Load(noSchema); err == nil {
		t.Error("missing schema must fail")
	}

	noCompanies := writeFile(t, dir, "b.yaml", "schema: s.yaml\n")
	if _, err := Load(noCompanies); err == nil {
		t.Error("missing companies must fail")
	}

	badQuarter := writeFile(t, dir, "c.yaml", `
schema: s.yaml
ytd:
  current_year: 2025
  quarter: 5
companies:
  - entity: AAPL
`)
	if _, err := Load(badQuarter); err == nil {
		t.Error("quarter 5 must fail")
	}

	badStatement := writeFile(t, dir, "d.yaml", `
schema: schema.yaml
companies:
  - entity: AAPL
    annual:
      equity: x.csv
`)
	writeFile(t, dir, "schema.yaml", "metrics:\n  - name: Revenue\n")
	m, err := Load(badStatement)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.BuildInputs(); err == nil {
		t.Error("unknown statement name must fail")
	}
}
