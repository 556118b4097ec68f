// Package lineage captures the provenance trail behind every computed
// number: which formula ran, which values it substituted, where each value
// came from in the source filings, and how the final figure is displayed.
// The log is the run's audit artifact: it answers, for every output cell,
// how the number was computed and from which source filing lines.
package lineage

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SourceRef is one substituted input: the key that was resolved, its raw
// value, and its origin in the source extracts. Statement is the plain
// statement name ("income", "balance", "cashflow") so the log stays a
// self-contained document.
type SourceRef struct {
	Key        string          `json:"key"`
	RawValue   decimal.Decimal `json:"raw_value"`
	FilingType string          `json:"filing_type,omitempty"`
	Statement  string          `json:"table"`
	Period     string          `json:"period"`
	Row        string          `json:"row"`
	Column     string          `json:"column"`
}

// Step is one intermediate calculation inside a derived cell. LTM cells
// carry three: the prior annual value and the two YTD legs, each with its
// own source references, so a trailing figure can be traced back through
// its components to the underlying filing line items.
type Step struct {
	Label   string           `json:"label"`
	Period  string           `json:"period"`
	Value   *decimal.Decimal `json:"value"`
	Formula string           `json:"calculation"`
	Sources []SourceRef      `json:"sources,omitempty"`
}

// ComputedCell is the full provenance record for one (metric, period)
// evaluation. Value is nil for Missing results; MissingKeys then names the
// identifiers that could not be resolved.
type ComputedCell struct {
	Metric      string           `json:"metric"`
	Period      string           `json:"period"`
	Value       *decimal.Decimal `json:"value"`
	FinalValue  *string          `json:"final_value"`
	Formula     string           `json:"calculation"`
	Sources     []SourceRef      `json:"sources"`
	Steps       []Step           `json:"steps,omitempty"`
	MissingKeys []string         `json:"missing_keys,omitempty"`
	DivByZero   bool             `json:"division_by_zero,omitempty"`
	PolicyNote  string           `json:"policy_note,omitempty"`
}

// Log is the audit artifact for one run: entity → metric → period label →
// cell. It is append-only while the run executes and serialized exactly
// once at the end.
type Log struct {
	RunID       string                                `json:"run_id"`
	GeneratedAt time.Time                             `json:"generated_at"`
	Entities    map[string]map[string]map[string]*ComputedCell `json:"entities"`
}

// NewLog creates an empty log with a fresh run ID.
func NewLog() *Log {
	return &Log{
		RunID:       uuid.New().String(),
		GeneratedAt: time.Now().UTC(),
		Entities:    make(map[string]map[string]map[string]*ComputedCell),
	}
}

// Cell returns a recorded cell, or nil.
func (l *Log) Cell(entity, metric, period string) *ComputedCell {
	return l.Entities[entity][metric][period]
}

// Merge folds another log fragment into this one. Peer companies are
// computed on independent recorders; their fragments are merged once all
// workers have finished.
func (l *Log) Merge(other *Log) {
	for entity, metrics := range other.Entities {
		if l.Entities[entity] == nil {
			l.Entities[entity] = make(map[string]map[string]*ComputedCell)
		}
		for metric, cells := range metrics {
			if l.Entities[entity][metric] == nil {
				l.Entities[entity][metric] = make(map[string]*ComputedCell)
			}
			for period, cell := range cells {
				l.Entities[entity][metric][period] = cell
			}
		}
	}
}

// MarshalIndent serializes the log as the run's audit document.
func (l *Log) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(l, "", "  ")
}

// WriteFile serializes the log to disk.
func (l *Log) WriteFile(path string) error {
	data, err := l.MarshalIndent()
	if err != nil {
		return fmt.Errorf("failed to marshal lineage log: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write lineage log: %w", err)
	}
	return nil
}

// LoadLog reads a serialized log back; round-tripping preserves every
// cell's formula text and source references.
func LoadLog(data []byte) (*Log, error) {
	var l Log
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("failed to parse lineage log: %w", err)
	}
	return &l, nil
}

// Recorder accumulates cells and warnings for one entity's scope of a run.
// It is not safe for concurrent use; each worker records into its own and
// the fragments are merged afterward.
type Recorder struct {
	entity   string
	log      *Log
	warnings []string
}

// NewRecorder creates a recorder scoped to one entity.
func NewRecorder(entity string) *Recorder {
	return &Recorder{entity: entity, log: NewLog()}
}

// Entity returns the scope this recorder writes under.
func (r *Recorder) Entity() string { return r.entity }

// Record appends one computed cell.
func (r *Recorder) Record(cell *ComputedCell) {
	if r.log.Entities[r.entity] == nil {
		r.log.Entities[r.entity] = make(map[string]map[string]*ComputedCell)
	}
	if r.log.Entities[r.entity][cell.Metric] == nil {
		r.log.Entities[r.entity][cell.Metric] = make(map[string]*ComputedCell)
	}
	r.log.Entities[r.entity][cell.Metric][cell.Period] = cell
}

// Cell returns a previously recorded cell for this entity, or nil. LTM
// resolution uses it to pull component sources without recomputing.
func (r *Recorder) Cell(metric, period string) *ComputedCell {
	return r.log.Cell(r.entity, metric, period)
}

// Warnf appends a human-readable warning. Warnings cover every Missing
// propagation at the top-level metric, not every intermediate.
func (r *Recorder) Warnf(format string, args ...interface{}) {
	r.warnings = append(r.warnings, fmt.Sprintf(format, args...))
}

// Warnings returns the accumulated warning list.
func (r *Recorder) Warnings() []string { return r.warnings }

// Log returns the recorder's log fragment.
func (r *Recorder) Log() *Log { return r.log }
