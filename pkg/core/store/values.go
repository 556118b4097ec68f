// Package store holds the per-run value index the engine reads from and the
// persistence layers it shares across runs: the immutable PeriodValueStore
// built from statement extracts, and the mapping cache keyed by
// (entity, filing type).
package store

import (
	"fmt"

	"github.com/shopspring/decimal"

	"finlineage/pkg/core/periods"
)

// Statement identifies which financial statement a line item came from.
type Statement string

const (
	StatementIncome   Statement = "income"
	StatementBalance  Statement = "balance"
	StatementCashflow Statement = "cashflow"
)

// statementOrder is the lookup order for cross-statement key resolution,
// matching the upstream extract layout (income first, cashflow last).
var statementOrder = []Statement{StatementIncome, StatementBalance, StatementCashflow}

// Table is one tabular extract: one statement from one filing, row-keyed by
// source identifier (XBRL tag), column-keyed by period label ("2024" for
// annual columns, "2025-03-31" for quarterly ones). Nil cells are blanks.
type Table struct {
	Statement  Statement
	FilingType string
	Rows       map[string]map[string]*decimal.Decimal
}

// SourceInfo records where a value was read from, for lineage.
type SourceInfo struct {
	Key        string    `json:"key"`
	Value      string    `json:"value"`
	FilingType string    `json:"filing_type"`
	Statement  Statement `json:"table"`
	Period     string    `json:"period"`
	Row        string    `json:"row"`
	Column     string    `json:"column"`
}

// DataIntegrityError reports two disagreeing values for the same
// (statement, key, period) cell. It is fatal for the run: the store cannot
// safely choose either value, and the conflict indicates a corrupt upstream
// extract rather than a data gap.
type DataIntegrityError struct {
	Statement Statement
	Key       string
	Period    periods.Period
	First     decimal.Decimal
	Second    decimal.Decimal
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("conflicting values for %s/%s %s: %s vs %s",
		e.Statement, e.Key, e.Period.Label(), e.First.String(), e.Second.String())
}

type cellKey struct {
	statement Statement
	key       string
	period    periods.Period
}

type cell struct {
	value  decimal.Decimal
	source SourceInfo
}

// PeriodValueStore is the immutable per-run index of line items by
// (statement, key, period). Lookups return a single value or a missing
// signal, never ambiguous multiple matches.
type PeriodValueStore struct {
	index      map[cellKey]cell
	statements map[string]map[Statement]bool
	aliases    map[string][]string
}

// DefaultAliases is the approved alias fallback set: when the first key has
// no value for a period, its aliases are tried in order.
var DefaultAliases = map[string][]string{
	"InterestExpenseNonoperating": {"InterestExpense"},
}

// BuildStore indexes a set of extracts into a PeriodValueStore. Duplicate
// cells that agree are tolerated; duplicates that disagree fail the build
// with a DataIntegrityError. Columns that cannot be classified into a period
// fail the build, since they indicate a malformed extract.
func BuildStore(tables []Table, aliases map[string][]string) (*PeriodValueStore, error) {
	if aliases == nil {
		aliases = DefaultAliases
	}
	s := &PeriodValueStore{
		index:      make(map[cellKey]cell),
		statements: make(map[string]map[Statement]bool),
		aliases:    aliases,
	}
	for _, t := range tables {
		for key, cols := range t.Rows {
			for col, val := range cols {
				if val == nil {
					continue
				}
				p, ok := periods.FromColumn(col)
				if !ok {
					return nil, fmt.Errorf("unrecognized period column %q in %s extract", col, t.Statement)
				}
				ck := cellKey{statement: t.Statement, key: key, period: p}
				if existing, dup := s.index[ck]; dup {
					if !existing.value.Equal(*val) {
						return nil, &DataIntegrityError{
							Statement: t.Statement,
							Key:       key,
							Period:    p,
							First:     existing.value,
							Second:    *val,
						}
					}
					continue
				}
				if s.statements[key] == nil {
					s.statements[key] = make(map[Statement]bool)
				}
				s.statements[key][t.Statement] = true
				s.index[ck] = cell{
					value: *val,
					source: SourceInfo{
						Key:        key,
						Value:      val.String(),
						FilingType: t.FilingType,
						Statement:  t.Statement,
						Period:     p.Label(),
						Row:        key,
						Column:     col,
					},
				}
			}
		}
	}
	return s, nil
}

// Get returns the value for a cell scoped to one statement. The second
// return is false for a missing cell; missing is not an error.
func (s *PeriodValueStore) Get(statement Statement, key string, p periods.Period) (decimal.Decimal, bool) {
	c, ok := s.index[cellKey{statement: statement, key: key, period: p}]
	return c.value, ok
}

// Lookup resolves a key across all statements in a fixed order, applying the
// approved alias fallback, and returns the value and its source reference.
// This is the resolution the evaluator binds identifiers with.
func (s *PeriodValueStore) Lookup(key string, p periods.Period) (decimal.Decimal, SourceInfo, bool) {
	search := append([]string{key}, s.aliases[key]...)
	for _, st := range statementOrder {
		for _, k := range search {
			if c, ok := s.index[cellKey{statement: st, key: k, period: p}]; ok {
				return c.value, c.source, true
			}
		}
	}
	return decimal.Decimal{}, SourceInfo{}, false
}

// StatementOf reports which statement a key belongs to, used to derive a
// key's flow/stock nature when a metric mixes kinds. Balance sheet keys are
// point-in-time; income and cash flow keys are flows.
func (s *PeriodValueStore) StatementOf(key string) (Statement, bool) {
	search := append([]string{key}, s.aliases[key]...)
	for _, st := range statementOrder {
		for _, k := range search {
			if s.statements[k][st] {
				return st, true
			}
		}
	}
	return "", false
}

// Len reports the number of indexed cells.
func (s *PeriodValueStore) Len() int { return len(s.index) }
