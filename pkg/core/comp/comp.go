// Package comp runs the calculation pipeline across a company and its peer
// set and folds statistical summary rows into a combined table. Each company
// runs independently against its own immutable stores and lineage fragment;
// the fragments are merged once every run finishes.
package comp

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"finlineage/pkg/core/engine"
	"finlineage/pkg/core/lineage"
)

// MaxPeerSet bounds the comparison group, input entity included. A
// configuration limit, not an architectural one.
const MaxPeerSet = 5

// Synthetic row names appended per metric after all per-company rows.
const (
	RowAverage = "AVERAGE"
	RowMedian  = "MEDIAN"
)

// CompanyResult is one company's slice of the comparison.
type CompanyResult struct {
	Entity string
	Result *engine.Result
	Err    error
}

// Aggregate is the combined comparison output: per-company results in input
// order, one merged lineage log, and synthetic AVERAGE and MEDIAN values
// per metric and column.
type Aggregate struct {
	Columns   []string
	Companies []CompanyResult
	// Summary maps synthetic row name -> metric -> column -> value.
	Summary  map[string]map[string]map[string]*decimal.Decimal
	Lineage  *lineage.Log
	Warnings []string
}

// Aggregator fans the pipeline out across a peer group.
type Aggregator struct {
	Engine *engine.Engine
	Log    *zap.Logger
}

func NewAggregator(e *engine.Engine, log *zap.Logger) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{Engine: e, Log: log}
}

// Run executes every company's run concurrently and folds the results. The
// first input is treated as the subject entity; the cap applies to the
// whole group. A failed company run is reported in its CompanyResult and
// excluded from the summary rows rather than aborting the comparison.
func (a *Aggregator) Run(ctx context.Context, inputs []engine.RunInput) (*Aggregate, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("comp: no companies supplied")
	}
	if len(inputs) > MaxPeerSet {
		a.Log.Warn("peer set exceeds cap, truncating",
			zap.Int("supplied", len(inputs)),
			zap.Int("cap", MaxPeerSet))
		inputs = inputs[:MaxPeerSet]
	}

	results := make([]CompanyResult, len(inputs))
	var wg sync.WaitGroup
	for i, input := range inputs {
		wg.Add(1)
		go func(i int, input engine.RunInput) {
			defer wg.Done()
			res, err := a.Engine.Run(ctx, input)
			results[i] = CompanyResult{Entity: input.Entity, Result: res, Err: err}
		}(i, input)
	}
	wg.Wait()

	agg := &Aggregate{
		Companies: results,
		Summary:   map[string]map[string]map[string]*decimal.Decimal{RowAverage: {}, RowMedian: {}},
		Lineage:   lineage.NewLog(),
	}
	for _, cr := range results {
		if cr.Err != nil {
			a.Log.Warn("company run failed, excluded from comparison",
				zap.String("entity", cr.Entity), zap.Error(cr.Err))
			agg.Warnings = append(agg.Warnings,
				fmt.Sprintf("%s: run failed: %v", cr.Entity, cr.Err))
			continue
		}
		if len(agg.Columns) == 0 {
			agg.Columns = cr.Result.Columns
		}
		agg.Lineage.Merge(cr.Result.Lineage)
		for _, w := range cr.Result.Warnings {
			agg.Warnings = append(agg.Warnings, cr.Entity+": "+w)
		}
	}

	a.fold(agg)
	return agg, nil
}

// fold appends the synthetic rows: for each metric and column, the mean and
// median of the non-Missing values across companies. A cell with zero
// non-Missing contributors stays Missing, never zero.
func (a *Aggregator) fold(agg *Aggregate) {
	for _, metric := range a.metricNames(agg) {
		avgRow := make(map[string]*decimal.Decimal)
		medRow := make(map[string]*decimal.Decimal)
		for _, col := range agg.Columns {
			var present []decimal.Decimal
			for _, cr := range agg.Companies {
				if cr.Err != nil {
					continue
				}
				if v := cr.Result.Value(metric, col); v != nil {
					present = append(present, *v)
				}
			}
			avgRow[col] = mean(present)
			medRow[col] = median(present)
		}
		agg.Summary[RowAverage][metric] = avgRow
		agg.Summary[RowMedian][metric] = medRow
	}
}

// metricNames returns the union of row names across successful runs,
// ordered by first appearance.
func (a *Aggregator) metricNames(agg *Aggregate) []string {
	var names []string
	seen := make(map[string]bool)
	for _, cr := range agg.Companies {
		if cr.Err != nil {
			continue
		}
		for _, row := range cr.Result.Rows {
			if !seen[row.Metric] {
				seen[row.Metric] = true
				names = append(names, row.Metric)
			}
		}
	}
	return names
}

func mean(vals []decimal.Decimal) *decimal.Decimal {
	if len(vals) == 0 {
		return nil
	}
	sum := decimal.Zero
	for _, v := range vals {
		sum = sum.Add(v)
	}
	m := sum.Div(decimal.NewFromInt(int64(len(vals))))
	return &m
}

func median(vals []decimal.Decimal) *decimal.Decimal {
	if len(vals) == 0 {
		return nil
	}
	sorted := make([]decimal.Decimal, len(vals))
	copy(sorted, vals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		m := sorted[mid]
		return &m
	}
	m := sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
	return &m
}
