// Package manifest loads a YAML run description: the metric schema, the
// requested periods, and per-company statement extracts. One manifest
// drives both a single-company run and a peer comparison.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	yaml "gopkg.in/yaml.v2"

	"finlineage/pkg/core/engine"
	"finlineage/pkg/core/ingest"
	"finlineage/pkg/core/mapping"
	"finlineage/pkg/core/schema"
	"finlineage/pkg/core/store"
)

// YTD names the quarterly legs available for trailing figures. PriorYear
// defaults to CurrentYear - 1.
type YTD struct {
	CurrentYear int `yaml:"current_year"`
	PriorYear   int `yaml:"prior_year"`
	Quarter     int `yaml:"quarter"`
}

// Company describes one company's extracts. Extract maps statement name
// (income, balance, cashflow) to a CSV or HTML file path, relative to the
// manifest.
type Company struct {
	Entity     string            `yaml:"entity"`
	FilingType string            `yaml:"filing_type"`
	Annual     map[string]string `yaml:"annual"`
	Quarterly  map[string]string `yaml:"quarterly"`
	// Mapping, when set, points at an HJSON formula mapping override used
	// instead of the cache and generator.
	Mapping string `yaml:"mapping"`
}

// Manifest is the full run description.
type Manifest struct {
	Schema    string    `yaml:"schema"`
	Years     []int     `yaml:"years"`
	YTD       *YTD      `yaml:"ytd"`
	Companies []Company `yaml:"companies"`

	dir string
}

// Load reads and validates a manifest file. Relative extract paths resolve
// against the manifest's own directory.
func Load(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	m.dir = filepath.Dir(path)

	if m.Schema == "" {
		return nil, fmt.Errorf("manifest %s: schema is required", path)
	}
	if len(m.Companies) == 0 {
		return nil, fmt.Errorf("manifest %s: at least one company is required", path)
	}
	for i, c := range m.Companies {
		if c.Entity == "" {
			return nil, fmt.Errorf("manifest %s: company %d has no entity", path, i)
		}
		if m.Companies[i].FilingType == "" {
			m.Companies[i].FilingType = "10-K"
		}
	}
	if m.YTD != nil {
		if m.YTD.Quarter < 1 || m.YTD.Quarter > 4 {
			return nil, fmt.Errorf("manifest %s: ytd quarter must be 1..4", path)
		}
		if m.YTD.PriorYear == 0 {
			m.YTD.PriorYear = m.YTD.CurrentYear - 1
		}
	}
	return &m, nil
}

// BuildInputs materializes every company into a run input: schema parsed
// once, extracts read per company, mapping overrides loaded when present.
func (m *Manifest) BuildInputs() ([]engine.RunInput, error) {
	sch, err := schema.Load(m.resolve(m.Schema))
	if err != nil {
		return nil, err
	}

	var ytd *engine.YTDSpec
	if m.YTD != nil {
		ytd = &engine.YTDSpec{
			CurrentYear: m.YTD.CurrentYear,
			PriorYear:   m.YTD.PriorYear,
			Quarter:     m.YTD.Quarter,
		}
	}

	inputs := make([]engine.RunInput, 0, len(m.Companies))
	for _, c := range m.Companies {
		annual, err := m.readTables(c.Annual, c.FilingType)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.Entity, err)
		}
		quarterly, err := m.readTables(c.Quarterly, c.FilingType)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.Entity, err)
		}

		input := engine.RunInput{
			Entity:          c.Entity,
			FilingType:      c.FilingType,
			AnnualTables:    annual,
			QuarterlyTables: quarterly,
			Schema:          sch,
			Years:           m.Years,
			YTD:             ytd,
		}
		if c.Mapping != "" {
			fm, err := mapping.LoadOverrideFile(m.resolve(c.Mapping))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", c.Entity, err)
			}
			input.Mapping = fm
		}
		inputs = append(inputs, input)
	}
	return inputs, nil
}

func (m *Manifest) readTables(extracts map[string]string, filingType string) ([]store.Table, error) {
	tables := make([]store.Table, 0, len(extracts))
	for name, path := range extracts {
		statement, err := statementName(name)
		if err != nil {
			return nil, err
		}
		full := m.resolve(path)
		var table store.Table
		if strings.HasSuffix(strings.ToLower(full), ".html") || strings.HasSuffix(strings.ToLower(full), ".htm") {
			f, err := os.Open(full)
			if err != nil {
				return nil, fmt.Errorf("failed to open extract %s: %w", full, err)
			}
			table, err = ingest.ReadHTMLTable(f, statement, filingType)
			f.Close()
			if err != nil {
				return nil, err
			}
		} else {
			table, err = ingest.ReadCSVFile(full, statement, filingType)
			if err != nil {
				return nil, err
			}
		}
		tables = append(tables, table)
	}
	return tables, nil
}

func (m *Manifest) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(m.dir, path)
}

func statementName(name string) (store.Statement, error) {
	switch strings.ToLower(name) {
	case "income":
		return store.StatementIncome, nil
	case "balance":
		return store.StatementBalance, nil
	case "cashflow":
		return store.StatementCashflow, nil
	}
	return "", fmt.Errorf("unknown statement %q (want income, balance, or cashflow)", name)
}
