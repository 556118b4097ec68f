package ingest

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"finlineage/pkg/core/store"
)

// ReadHTMLTable extracts a statement table from filing HTML. The first
// <table> in the document is materialized onto a virtual grid so that
// colspan and rowspan cells land in their true columns, then read the same
// way as a CSV extract: header row holds period labels, first column holds
// source keys.
func ReadHTMLTable(r io.Reader, statement store.Statement, filingType string) (store.Table, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return store.Table{}, fmt.Errorf("failed to parse extract html: %w", err)
	}
	rows := doc.Find("table").First().Find("tr")
	if rows.Length() < 2 {
		return store.Table{}, fmt.Errorf("extract html has no data rows")
	}

	grid := buildGrid(rows)
	header := grid[0]
	if len(header) < 2 {
		return store.Table{}, fmt.Errorf("extract html has no period columns")
	}
	columns := make([]string, 0, len(header)-1)
	for _, h := range header[1:] {
		columns = append(columns, strings.TrimSpace(h))
	}

	table := store.Table{
		Statement:  statement,
		FilingType: filingType,
		Rows:       make(map[string]map[string]*decimal.Decimal),
	}
	for _, cells := range grid[1:] {
		key := strings.TrimSpace(cells[0])
		if key == "" {
			continue
		}
		row := make(map[string]*decimal.Decimal, len(columns))
		for i, col := range columns {
			if col == "" {
				continue
			}
			if i+1 < len(cells) {
				row[col] = ParseNumber(cells[i+1])
			} else {
				row[col] = nil
			}
		}
		table.Rows[key] = row
	}
	return table, nil
}

// buildGrid flattens tr/td markup onto a rectangular grid, expanding
// colspan horizontally and walking rowspan cells down into later rows.
func buildGrid(rows *goquery.Selection) [][]string {
	rowCount := rows.Length()

	maxCols := 0
	rows.Each(func(_ int, tr *goquery.Selection) {
		cols := 0
		tr.Find("td, th").Each(func(_ int, cell *goquery.Selection) {
			cols += spanAttr(cell, "colspan")
		})
		if cols > maxCols {
			maxCols = cols
		}
	})

	grid := make([][]string, rowCount)
	filled := make([][]bool, rowCount)
	for i := range grid {
		grid[i] = make([]string, maxCols)
		filled[i] = make([]bool, maxCols)
	}

	rows.Each(func(rowIdx int, tr *goquery.Selection) {
		colIdx := 0
		tr.Find("td, th").Each(func(_ int, cell *goquery.Selection) {
			for colIdx < maxCols && filled[rowIdx][colIdx] {
				colIdx++
			}
			colspan := spanAttr(cell, "colspan")
			rowspan := spanAttr(cell, "rowspan")
			text := cleanCellText(cell.Text())

			for r := 0; r < rowspan && rowIdx+r < rowCount; r++ {
				for c := 0; c < colspan && colIdx+c < maxCols; c++ {
					filled[rowIdx+r][colIdx+c] = true
					if r == 0 && c == 0 {
						grid[rowIdx][colIdx] = text
					}
				}
			}
			colIdx += colspan
		})
	})
	return grid
}

func spanAttr(cell *goquery.Selection, name string) int {
	n, _ := strconv.Atoi(cell.AttrOr(name, "1"))
	if n < 1 {
		n = 1
	}
	return n
}

func cleanCellText(s string) string {
	s = strings.ReplaceAll(s, " ", " ")
	return strings.Join(strings.Fields(s), " ")
}
