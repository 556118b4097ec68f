// Package ingest turns raw statement extracts into the tabular form the
// value store indexes: one table per statement per filing, rows keyed by
// source identifier, columns by period label. Values that do not parse as
// numbers become missing cells rather than errors, so a messy extract still
// loads with gaps instead of failing the run.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"finlineage/pkg/core/store"
)

// ReadCSV parses a statement extract with the first column holding source
// keys and the remaining header cells holding period labels, e.g.
//
//	key,2023,2024
//	Revenues,1900000,2200000
//
// or date columns ("2025-03-31") for quarterly extracts.
func ReadCSV(r io.Reader, statement store.Statement, filingType string) (store.Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return store.Table{}, fmt.Errorf("failed to read extract header: %w", err)
	}
	if len(header) < 2 {
		return store.Table{}, fmt.Errorf("extract has no period columns")
	}
	columns := header[1:]

	table := store.Table{
		Statement:  statement,
		FilingType: filingType,
		Rows:       make(map[string]map[string]*decimal.Decimal),
	}
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return store.Table{}, fmt.Errorf("failed to read extract row: %w", err)
		}
		key := strings.TrimSpace(record[0])
		if key == "" {
			continue
		}
		row := make(map[string]*decimal.Decimal, len(columns))
		for i, col := range columns {
			if i+1 >= len(record) {
				row[col] = nil
				continue
			}
			row[col] = ParseNumber(record[i+1])
		}
		table.Rows[key] = row
	}
	return table, nil
}

// ReadCSVFile is ReadCSV over a file path.
func ReadCSVFile(path string, statement store.Statement, filingType string) (store.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return store.Table{}, fmt.Errorf("failed to open extract %s: %w", path, err)
	}
	defer f.Close()
	return ReadCSV(f, statement, filingType)
}

// ParseNumber converts one extract cell to a decimal. It tolerates the
// formatting filings actually carry: thousands commas, leading currency
// symbols, and accounting-style parenthesized negatives. Anything else, a
// dash or an empty cell included, is a missing value.
func ParseNumber(raw string) *decimal.Decimal {
	s := strings.TrimSpace(raw)
	if s == "" || s == "-" || s == "—" || s == "–" {
		return nil
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	v, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	if negative {
		v = v.Neg()
	}
	return &v
}
