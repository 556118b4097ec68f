package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"finlineage/pkg/core/lineage"
)

// LineageRepo persists finished lineage logs so an audit trail survives the
// run that produced it. File output remains the primary artifact; the repo
// is the queryable copy.
type LineageRepo struct{}

// NewLineageRepo creates a repository instance.
func NewLineageRepo() *LineageRepo {
	return &LineageRepo{}
}

// Postgres schema assumption:
//
//	CREATE TABLE IF NOT EXISTS lineage_logs (
//	  run_id TEXT PRIMARY KEY,
//	  entity TEXT,
//	  log_json JSONB,
//	  created_at TIMESTAMPTZ
//	);

// Save upserts a completed log keyed by its run ID.
func (r *LineageRepo) Save(ctx context.Context, entity string, log *lineage.Log) error {
	pool := GetPool()
	if pool == nil {
		return fmt.Errorf("database pool not initialized")
	}

	data, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("failed to marshal lineage log: %w", err)
	}

	query := `
		INSERT INTO lineage_logs (run_id, entity, log_json, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id)
		DO UPDATE SET
			entity = EXCLUDED.entity,
			log_json = EXCLUDED.log_json;
	`
	if _, err := pool.Exec(ctx, query, log.RunID, entity, data, time.Now()); err != nil {
		return fmt.Errorf("failed to save lineage log: %w", err)
	}
	return nil
}

// Load retrieves a log by run ID.
func (r *LineageRepo) Load(ctx context.Context, runID string) (*lineage.Log, error) {
	pool := GetPool()
	if pool == nil {
		return nil, fmt.Errorf("database pool not initialized")
	}

	var data []byte
	err := pool.QueryRow(ctx, `SELECT log_json FROM lineage_logs WHERE run_id = $1`, runID).Scan(&data)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("no lineage log found for run %s", runID)
		}
		return nil, fmt.Errorf("failed to load lineage log: %w", err)
	}
	return lineage.LoadLog(data)
}
