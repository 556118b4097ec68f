// Package report renders run and comparison results into human-readable
// summaries alongside the machine-readable outputs.
package report

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/text"

	"finlineage/pkg/core/comp"
	"finlineage/pkg/core/engine"
	"finlineage/pkg/core/lineage"
)

const missingCell = "n/a"

// ResultMarkdown renders one run's result table and warnings as a Markdown
// document, formatted values per each metric's display rules.
func ResultMarkdown(res *engine.Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", res.Entity)

	writeHeader(&sb, "Metric", res.Columns)
	for _, row := range res.Rows {
		cells := make([]string, 0, len(res.Columns))
		for _, col := range res.Columns {
			cells = append(cells, formattedFromLineage(res, row.Metric, col))
		}
		writeRow(&sb, row.Metric, cells)
	}
	writeWarnings(&sb, res.Warnings)
	return sb.String()
}

// CompMarkdown renders the comparison: one section per metric with a row
// per company plus the AVERAGE and MEDIAN rows.
func CompMarkdown(agg *comp.Aggregate) string {
	var sb strings.Builder
	sb.WriteString("# Comparable Analysis\n\n")

	var metrics []string
	seen := make(map[string]bool)
	for _, cr := range agg.Companies {
		if cr.Err != nil {
			continue
		}
		for _, row := range cr.Result.Rows {
			if !seen[row.Metric] {
				seen[row.Metric] = true
				metrics = append(metrics, row.Metric)
			}
		}
	}

	for _, metric := range metrics {
		fmt.Fprintf(&sb, "## %s\n\n", metric)
		writeHeader(&sb, "Company", agg.Columns)
		for _, cr := range agg.Companies {
			if cr.Err != nil {
				continue
			}
			cells := make([]string, 0, len(agg.Columns))
			for _, col := range agg.Columns {
				cells = append(cells, formattedFromLineage(cr.Result, metric, col))
			}
			writeRow(&sb, cr.Entity, cells)
		}
		for _, name := range []string{comp.RowAverage, comp.RowMedian} {
			cells := make([]string, 0, len(agg.Columns))
			for _, col := range agg.Columns {
				v := agg.Summary[name][metric][col]
				if v == nil {
					cells = append(cells, missingCell)
				} else {
					cells = append(cells, v.String())
				}
			}
			writeRow(&sb, "**"+name+"**", cells)
		}
		sb.WriteString("\n")
	}
	writeWarnings(&sb, agg.Warnings)
	return sb.String()
}

// Validate checks that a rendered document parses as Markdown. Goldmark is
// permissive, so this only guards against empty or corrupted output.
func Validate(doc string) bool {
	parser := goldmark.DefaultParser()
	return parser.Parse(text.NewReader([]byte(doc))) != nil
}

func writeHeader(sb *strings.Builder, label string, columns []string) {
	sb.WriteString("| " + label + " |")
	for _, col := range columns {
		sb.WriteString(" " + col + " |")
	}
	sb.WriteString("\n|---|")
	for range columns {
		sb.WriteString("---|")
	}
	sb.WriteString("\n")
}

func writeRow(sb *strings.Builder, label string, cells []string) {
	sb.WriteString("| " + label + " |")
	for _, c := range cells {
		sb.WriteString(" " + c + " |")
	}
	sb.WriteString("\n")
}

func writeWarnings(sb *strings.Builder, warnings []string) {
	if len(warnings) == 0 {
		return
	}
	sb.WriteString("\n## Warnings\n\n")
	for _, w := range warnings {
		sb.WriteString("- " + w + "\n")
	}
}

// formattedFromLineage prefers the lineage cell's display-formatted value
// and falls back to the raw decimal when no cell was recorded.
func formattedFromLineage(res *engine.Result, metric, col string) string {
	if cell := lineageCell(res, metric, col); cell != nil && cell.FinalValue != nil {
		return *cell.FinalValue
	}
	if v := res.Value(metric, col); v != nil {
		return v.String()
	}
	return missingCell
}

func lineageCell(res *engine.Result, metric, col string) *lineage.ComputedCell {
	if res.Lineage == nil {
		return nil
	}
	return res.Lineage.Cell(res.Entity, metric, col)
}
