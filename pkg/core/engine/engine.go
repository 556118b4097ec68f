// Package engine orchestrates one calculation run: it resolves a formula
// mapping (cache, generator, or caller-supplied), builds the immutable
// period value stores, evaluates every metric for every required period,
// applies the LTM policy, and threads each evaluation through a lineage
// recorder. Metric-level failures are isolated; store integrity failures
// abort the run.
package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"finlineage/pkg/core/lineage"
	"finlineage/pkg/core/mapping"
	"finlineage/pkg/core/periods"
	"finlineage/pkg/core/schema"
	"finlineage/pkg/core/store"
)

// YTDSpec describes the quarterly data available for trailing figures: the
// current and prior year-to-date legs, through the same latest completed
// quarter on both sides.
type YTDSpec struct {
	CurrentYear int
	PriorYear   int
	Quarter     int
}

// RunInput is everything the caller supplies for one entity's run.
// Extracts arrive pre-tabulated; fetching and XBRL conversion happen
// upstream, and absent data shows up here simply as missing cells.
type RunInput struct {
	Entity          string
	FilingType      string
	AnnualTables    []store.Table
	QuarterlyTables []store.Table
	Schema          *schema.Schema
	// Mapping, when non-nil, is used as-is and the cache and generator are
	// never consulted.
	Mapping *mapping.FormulaMapping
	Years   []int
	YTD     *YTDSpec
}

// Row is one result-table row: a metric and its value per period column.
type Row struct {
	Metric  string                      `json:"metric"`
	Values  map[string]*decimal.Decimal `json:"values"`
	Display schema.Display              `json:"-"`
}

// Result is the output of one run: the result table, the lineage log, and
// the top-level warnings.
type Result struct {
	Entity   string       `json:"entity"`
	Columns  []string     `json:"columns"`
	Rows     []Row        `json:"rows"`
	Lineage  *lineage.Log `json:"-"`
	Warnings []string     `json:"warnings,omitempty"`
}

// Value returns a cell from the result table, nil for Missing.
func (r *Result) Value(metric, column string) *decimal.Decimal {
	for _, row := range r.Rows {
		if row.Metric == metric {
			return row.Values[column]
		}
	}
	return nil
}

// Engine evaluates runs. Cache and Generator are optional collaborators:
// without a cache every run needs an explicit mapping or a generator;
// without a generator, uncovered metrics are reported as warnings.
type Engine struct {
	Cache     store.MappingCache
	Generator mapping.Generator
	Aliases   map[string][]string
	Log       *zap.Logger
}

// New creates an engine with the default alias set.
func New(cache store.MappingCache, gen mapping.Generator, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		Cache:     cache,
		Generator: gen,
		Aliases:   store.DefaultAliases,
		Log:       log,
	}
}

// compiled is a metric definition ready to evaluate, paired with its
// display hint from the schema.
type compiled struct {
	def     *mapping.MetricDefinition
	display schema.Display
}

// Run executes the full pipeline for one entity. It returns an error only
// for run-fatal conditions (bad input, data integrity); everything
// metric-level lands in the warnings list instead.
func (e *Engine) Run(ctx context.Context, input RunInput) (*Result, error) {
	if input.Entity == "" {
		return nil, fmt.Errorf("run input has no entity")
	}
	if input.Schema == nil || len(input.Schema.Metrics) == 0 {
		return nil, fmt.Errorf("run input has no metric schema")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec := lineage.NewRecorder(input.Entity)

	annual, err := store.BuildStore(input.AnnualTables, e.Aliases)
	if err != nil {
		return nil, fmt.Errorf("annual extracts for %s: %w", input.Entity, err)
	}
	quarterly, err := store.BuildStore(input.QuarterlyTables, e.Aliases)
	if err != nil {
		return nil, fmt.Errorf("quarterly extracts for %s: %w", input.Entity, err)
	}

	m, err := e.resolveMapping(ctx, input, annual, quarterly, rec)
	if err != nil {
		return nil, err
	}

	defs := e.compileDefinitions(input.Schema, m, rec)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r := newRun(input, annual, quarterly, rec)
	for _, name := range uniqueNames(input.Schema.Names()) {
		c, ok := defs[name]
		if !ok {
			continue
		}
		r.computeMetric(c)
	}

	return r.result(defs), nil
}

// resolveMapping produces the mapping for this run. Order of authority:
// caller-supplied mapping, then cache, then the generator for whatever the
// cache does not cover. A partially covering cache entry is reused for the
// metrics it maps and the generator is asked only for the missing subset.
func (e *Engine) resolveMapping(ctx context.Context, input RunInput, annual, quarterly *store.PeriodValueStore, rec *lineage.Recorder) (*mapping.FormulaMapping, error) {
	if input.Mapping != nil {
		return input.Mapping, nil
	}

	m := &mapping.FormulaMapping{Entity: input.Entity, FilingType: input.FilingType}
	if e.Cache != nil {
		cached, err := e.Cache.Get(ctx, input.Entity, input.FilingType)
		if err != nil {
			return nil, fmt.Errorf("mapping cache lookup failed: %w", err)
		}
		if cached != nil {
			m = cached
			e.Log.Debug("mapping cache hit",
				zap.String("entity", input.Entity),
				zap.String("filing_type", input.FilingType),
				zap.Int("metrics", len(m.Metrics)))
		}
	}

	_, missing := m.Coverage(input.Schema.Names())
	if len(missing) == 0 {
		return m, nil
	}

	if e.Generator == nil {
		for _, name := range missing {
			rec.Warnf("%s: no formula mapping available", name)
		}
		return m, nil
	}

	e.Log.Info("requesting mapping generation",
		zap.String("entity", input.Entity),
		zap.Strings("metrics", missing))
	defs, err := e.Generator.Generate(ctx, mapping.GenerateRequest{
		Entity:        input.Entity,
		FilingType:    input.FilingType,
		Metrics:       missing,
		AvailableKeys: availableKeys(input.AnnualTables, input.QuarterlyTables),
	})
	if err != nil {
		return nil, fmt.Errorf("mapping generation failed: %w", err)
	}
	m.Append(defs...)

	if e.Cache != nil {
		if err := e.Cache.Put(ctx, input.Entity, input.FilingType, m); err != nil {
			e.Log.Warn("failed to store generated mapping", zap.Error(err))
		}
	}
	return m, nil
}

// compileDefinitions validates each required metric's definition. A syntax
// or source-key violation excludes that single metric with a warning; all
// others proceed.
func (e *Engine) compileDefinitions(s *schema.Schema, m *mapping.FormulaMapping, rec *lineage.Recorder) map[string]compiled {
	defs := make(map[string]compiled)
	for _, spec := range s.Metrics {
		if _, done := defs[spec.Name]; done {
			continue
		}
		def := m.Definition(spec.Name)
		if def == nil {
			continue // already warned during mapping resolution
		}
		if def.Expr() == nil {
			if err := def.Compile(e.Aliases); err != nil {
				rec.Warnf("%s: excluded from run: %v", spec.Name, err)
				e.Log.Warn("metric excluded", zap.String("metric", spec.Name), zap.Error(err))
				continue
			}
		}
		defs[spec.Name] = compiled{def: def, display: spec.Display}
	}
	return defs
}

func uniqueNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	var out []string
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

func availableKeys(tableSets ...[]store.Table) map[string][]string {
	byStatement := make(map[string]map[string]bool)
	for _, tables := range tableSets {
		for _, t := range tables {
			st := string(t.Statement)
			if byStatement[st] == nil {
				byStatement[st] = make(map[string]bool)
			}
			for key := range t.Rows {
				byStatement[st][key] = true
			}
		}
	}
	out := make(map[string][]string, len(byStatement))
	for st, keys := range byStatement {
		for key := range keys {
			out[st] = append(out[st], key)
		}
	}
	for st := range out {
		sort.Strings(out[st])
	}
	return out
}

// columnLabels builds the result table's column order: annual years as
// given, then the YTD legs, then LTM.
func columnLabels(input RunInput) []string {
	var cols []string
	for _, y := range input.Years {
		cols = append(cols, periods.Annual(y).Label())
	}
	if input.YTD != nil {
		cols = append(cols,
			periods.YTD(input.YTD.PriorYear, input.YTD.Quarter).Label(),
			periods.YTD(input.YTD.CurrentYear, input.YTD.Quarter).Label(),
			periods.LTM(input.YTD.CurrentYear).Label(),
		)
	}
	return cols
}
