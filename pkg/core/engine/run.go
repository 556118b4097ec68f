package engine

import (
	"sort"

	"github.com/shopspring/decimal"

	"finlineage/pkg/core/lineage"
	"finlineage/pkg/core/mapping"
	"finlineage/pkg/core/periods"
	"finlineage/pkg/core/store"
)

// ytdPolicyNote records the configured year-to-date convention in every
// derived cell. Quarterly extracts carry cumulative year-to-date figures,
// so a YTD value is a direct evaluation at the period rather than a sum of
// discrete quarters.
const ytdPolicyNote = "quarterly source data is cumulative year-to-date"

// run holds the per-run computation state. It is single-threaded and
// side-effect-free outside its own recorder.
type run struct {
	input     RunInput
	annual    *store.PeriodValueStore
	quarterly *store.PeriodValueStore
	rec       *lineage.Recorder
}

func newRun(input RunInput, annual, quarterly *store.PeriodValueStore, rec *lineage.Recorder) *run {
	return &run{input: input, annual: annual, quarterly: quarterly, rec: rec}
}

// computeMetric evaluates one metric across every requested period: each
// annual year, both YTD legs, and the LTM figure.
func (r *run) computeMetric(c compiled) {
	for _, year := range r.input.Years {
		cell := r.evalAt(c, r.annual, periods.Annual(year), "")
		r.rec.Record(cell)
		r.warnIfMissing(cell)
	}
	if r.input.YTD == nil {
		return
	}
	spec := r.input.YTD
	for _, leg := range []periods.Period{
		periods.YTD(spec.PriorYear, spec.Quarter),
		periods.YTD(spec.CurrentYear, spec.Quarter),
	} {
		cell := r.evalAt(c, r.quarterly, leg, ytdPolicyNote)
		r.rec.Record(cell)
		r.warnIfMissing(cell)
	}
	ltm := r.resolveLTM(c)
	r.rec.Record(ltm)
	r.warnIfMissing(ltm)
}

// evalAt evaluates a compiled metric against one store at one period. YTD
// periods read the quarterly store at the matching quarter, per the
// cumulative-source convention.
func (r *run) evalAt(c compiled, s *store.PeriodValueStore, p periods.Period, note string) *lineage.ComputedCell {
	lookup := p
	if p.Kind == periods.KindYTD {
		lookup = periods.Quarter(p.Year, p.Quarter)
	}

	bindings := make(map[string]*decimal.Decimal)
	var sources []lineage.SourceRef
	for _, id := range c.def.Expr().Identifiers() {
		v, src, ok := s.Lookup(id, lookup)
		if !ok {
			bindings[id] = nil
			continue
		}
		value := v
		bindings[id] = &value
		sources = append(sources, sourceRef(v, src))
	}

	res := c.def.Expr().Eval(bindings)
	return &lineage.ComputedCell{
		Metric:      c.def.MetricName,
		Period:      p.Label(),
		Value:       res.Value,
		FinalValue:  lineage.FormatValue(res.Value, c.display),
		Formula:     c.def.Expression,
		Sources:     sources,
		MissingKeys: res.MissingIdents,
		DivByZero:   res.DivisionByZero,
		PolicyNote:  note,
	}
}

// resolveLTM produces the trailing-twelve-month cell for one metric.
//
// Flow metrics reconstruct: LTM = Annual(prior year) + YTD(current, q) -
// YTD(prior, q), the prior year taken from the YTD spec.
// Stock metrics take the latest point-in-time value. A metric whose source
// keys span both balance sheet and flow statements resolves each key by its
// own kind and combines through the expression.
func (r *run) resolveLTM(c compiled) *lineage.ComputedCell {
	spec := r.input.YTD
	target := periods.LTM(spec.CurrentYear)

	if r.isMixedKind(c.def) {
		return r.resolveLTMPerKey(c, target)
	}
	if c.def.ValueKind == mapping.KindStock {
		return r.resolveLTMStock(c, target)
	}
	return r.resolveLTMFlow(c, target)
}

// resolveLTMFlow combines the metric's already-computed annual and YTD
// cells. Any Missing component makes the LTM Missing; the run continues.
func (r *run) resolveLTMFlow(c compiled, target periods.Period) *lineage.ComputedCell {
	spec := r.input.YTD
	annualLabel := periods.Annual(spec.PriorYear).Label()
	ytdCurLabel := periods.YTD(spec.CurrentYear, spec.Quarter).Label()
	ytdPriorLabel := periods.YTD(spec.PriorYear, spec.Quarter).Label()

	formula := annualLabel + " + " + ytdCurLabel + " - " + ytdPriorLabel

	var steps []lineage.Step
	var missing []string
	component := func(label, period string) *decimal.Decimal {
		cell := r.rec.Cell(c.def.MetricName, period)
		step := lineage.Step{Label: label, Period: period, Formula: c.def.Expression}
		if cell != nil {
			step.Value = cell.Value
			step.Sources = cell.Sources
		}
		steps = append(steps, step)
		if cell == nil || cell.Value == nil {
			missing = append(missing, label+" "+period)
			return nil
		}
		return cell.Value
	}

	a := component("annual", annualLabel)
	b := component("ytd current", ytdCurLabel)
	p := component("ytd prior", ytdPriorLabel)

	var value *decimal.Decimal
	if a != nil && b != nil && p != nil {
		v := a.Add(*b).Sub(*p)
		value = &v
	}

	return &lineage.ComputedCell{
		Metric:      c.def.MetricName,
		Period:      target.Label(),
		Value:       value,
		FinalValue:  lineage.FormatValue(value, c.display),
		Formula:     formula,
		Steps:       steps,
		MissingKeys: missing,
		PolicyNote:  ytdPolicyNote,
	}
}

// resolveLTMStock takes the latest point-in-time value at or before the
// target year: the current quarter end first, then annual years descending.
func (r *run) resolveLTMStock(c compiled, target periods.Period) *lineage.ComputedCell {
	spec := r.input.YTD

	source := r.rec.Cell(c.def.MetricName, periods.YTD(spec.CurrentYear, spec.Quarter).Label())
	sourceLabel := periods.YTD(spec.CurrentYear, spec.Quarter).Label()
	if source == nil || source.Value == nil {
		for _, year := range latestFirst(r.input.Years, target.Year) {
			cell := r.rec.Cell(c.def.MetricName, periods.Annual(year).Label())
			if cell != nil && cell.Value != nil {
				source = cell
				sourceLabel = cell.Period
				break
			}
		}
	}

	cell := &lineage.ComputedCell{
		Metric:     c.def.MetricName,
		Period:     target.Label(),
		Formula:    "point-in-time value at " + sourceLabel,
		PolicyNote: "stock metric: latest balance at or before " + target.Label(),
	}
	if source != nil && source.Value != nil {
		cell.Value = source.Value
		cell.Sources = source.Sources
		cell.Steps = []lineage.Step{{
			Label:   "point-in-time",
			Period:  sourceLabel,
			Value:   source.Value,
			Formula: c.def.Expression,
			Sources: source.Sources,
		}}
	} else {
		cell.MissingKeys = []string{"no point-in-time value at or before " + target.Label()}
	}
	cell.FinalValue = lineage.FormatValue(cell.Value, c.display)
	return cell
}

// resolveLTMPerKey handles mixed-kind metrics: each referenced key resolves
// by its own kind (balance sheet keys point-in-time, flow keys via the
// annual-plus-YTD-delta reconstruction), then the expression combines the
// resolved bindings. The ratio itself is not separately LTM-resolved.
func (r *run) resolveLTMPerKey(c compiled, target periods.Period) *lineage.ComputedCell {
	spec := r.input.YTD

	bindings := make(map[string]*decimal.Decimal)
	var steps []lineage.Step
	for _, id := range c.def.Expr().Identifiers() {
		v, step := r.resolveKeyLTM(id, spec)
		bindings[id] = v
		steps = append(steps, step)
	}

	res := c.def.Expr().Eval(bindings)
	var sources []lineage.SourceRef
	for _, s := range steps {
		sources = append(sources, s.Sources...)
	}
	return &lineage.ComputedCell{
		Metric:      c.def.MetricName,
		Period:      target.Label(),
		Value:       res.Value,
		FinalValue:  lineage.FormatValue(res.Value, c.display),
		Formula:     c.def.Expression,
		Sources:     sources,
		Steps:       steps,
		MissingKeys: res.MissingIdents,
		DivByZero:   res.DivisionByZero,
		PolicyNote:  "mixed-kind metric: each source key resolved by its own value kind",
	}
}

// resolveKeyLTM resolves one raw source key to its trailing value per its
// statement-derived kind.
func (r *run) resolveKeyLTM(key string, spec *YTDSpec) (*decimal.Decimal, lineage.Step) {
	statement, known := r.quarterly.StatementOf(key)
	if !known {
		statement, known = r.annual.StatementOf(key)
	}

	if known && statement == store.StatementBalance {
		// Point-in-time: current quarter end, else latest annual.
		if v, src, ok := r.quarterly.Lookup(key, periods.Quarter(spec.CurrentYear, spec.Quarter)); ok {
			return &v, lineage.Step{
				Label:   key + " (stock)",
				Period:  src.Period,
				Value:   &v,
				Formula: key,
				Sources: []lineage.SourceRef{sourceRef(v, src)},
			}
		}
		for _, year := range latestFirst(r.input.Years, spec.CurrentYear) {
			if v, src, ok := r.annual.Lookup(key, periods.Annual(year)); ok {
				return &v, lineage.Step{
					Label:   key + " (stock)",
					Period:  src.Period,
					Value:   &v,
					Formula: key,
					Sources: []lineage.SourceRef{sourceRef(v, src)},
				}
			}
		}
		return nil, lineage.Step{Label: key + " (stock)", Formula: key}
	}

	// Flow reconstruction on the raw key.
	var sources []lineage.SourceRef
	collect := func(v decimal.Decimal, src store.SourceInfo) {
		sources = append(sources, sourceRef(v, src))
	}

	a, aSrc, aOK := r.annual.Lookup(key, periods.Annual(spec.PriorYear))
	if aOK {
		collect(a, aSrc)
	}
	b, bSrc, bOK := r.quarterly.Lookup(key, periods.Quarter(spec.CurrentYear, spec.Quarter))
	if bOK {
		collect(b, bSrc)
	}
	p, pSrc, pOK := r.quarterly.Lookup(key, periods.Quarter(spec.PriorYear, spec.Quarter))
	if pOK {
		collect(p, pSrc)
	}

	step := lineage.Step{
		Label:   key + " (flow)",
		Period:  periods.LTM(spec.CurrentYear).Label(),
		Formula: key + ": annual + ytd current - ytd prior",
		Sources: sources,
	}
	if !aOK || !bOK || !pOK {
		return nil, step
	}
	v := a.Add(b).Sub(p)
	step.Value = &v
	return &v, step
}

// isMixedKind reports whether a metric's source keys span both balance
// sheet and flow statements.
func (r *run) isMixedKind(def *mapping.MetricDefinition) bool {
	var hasStock, hasFlow bool
	for _, id := range def.Expr().Identifiers() {
		statement, ok := r.quarterly.StatementOf(id)
		if !ok {
			statement, ok = r.annual.StatementOf(id)
		}
		if !ok {
			continue
		}
		if statement == store.StatementBalance {
			hasStock = true
		} else {
			hasFlow = true
		}
	}
	return hasStock && hasFlow
}

func (r *run) warnIfMissing(cell *lineage.ComputedCell) {
	if cell.Value != nil {
		return
	}
	if cell.DivByZero {
		r.rec.Warnf("%s %s: missing due to division by zero", cell.Metric, cell.Period)
		return
	}
	r.rec.Warnf("%s", lineage.MissingWarning(cell.Metric, cell.Period, cell.MissingKeys))
}

// result assembles the final table in schema order, duplicates aligned by
// occurrence, all sharing the values computed for their metric name.
func (r *run) result(defs map[string]compiled) *Result {
	cols := columnLabels(r.input)
	res := &Result{
		Entity:   r.input.Entity,
		Columns:  cols,
		Lineage:  r.rec.Log(),
		Warnings: r.rec.Warnings(),
	}
	for _, spec := range r.input.Schema.Metrics {
		row := Row{Metric: spec.Name, Values: make(map[string]*decimal.Decimal), Display: spec.Display}
		if _, ok := defs[spec.Name]; ok {
			for _, col := range cols {
				if cell := r.rec.Cell(spec.Name, col); cell != nil {
					row.Values[col] = cell.Value
				}
			}
		}
		res.Rows = append(res.Rows, row)
	}
	return res
}

func sourceRef(v decimal.Decimal, s store.SourceInfo) lineage.SourceRef {
	return lineage.SourceRef{
		Key:        s.Key,
		RawValue:   v,
		FilingType: s.FilingType,
		Statement:  string(s.Statement),
		Period:     s.Period,
		Row:        s.Row,
		Column:     s.Column,
	}
}

func latestFirst(years []int, upTo int) []int {
	out := make([]int, 0, len(years))
	for _, y := range years {
		if y <= upTo {
			out = append(out, y)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}
