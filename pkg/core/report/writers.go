package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"

	"finlineage/pkg/core/engine"
)

// WriteResultJSON writes the result table as indented JSON. Missing cells
// serialize as null.
func WriteResultJSON(res *engine.Result, path string) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write result %s: %w", path, err)
	}
	return nil
}

// WriteResultCSV writes the result table with one row per metric and one
// column per period. Missing cells are empty.
func WriteResultCSV(res *engine.Result, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create result %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := append([]string{"metric"}, res.Columns...)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write result %s: %w", path, err)
	}
	for _, row := range res.Rows {
		record := make([]string, 0, len(header))
		record = append(record, row.Metric)
		for _, col := range res.Columns {
			if v := row.Values[col]; v != nil {
				record = append(record, v.String())
			} else {
				record = append(record, "")
			}
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to write result %s: %w", path, err)
		}
	}
	w.Flush()
	return w.Error()
}

// WriteMarkdown validates and writes a rendered summary document.
func WriteMarkdown(doc, path string) error {
	if !Validate(doc) {
		return fmt.Errorf("rendered summary is not valid markdown")
	}
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		return fmt.Errorf("failed to write summary %s: %w", path, err)
	}
	return nil
}
