// Package cmd provides the CLI commands for finlineage.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"finlineage/pkg/core/engine"
	"finlineage/pkg/core/llm"
	"finlineage/pkg/core/logging"
	"finlineage/pkg/core/mapping"
	"finlineage/pkg/core/store"
)

var (
	verbose  bool
	cacheDir string
	outDir   string
	generate bool
	model    string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "finlineage",
	Short: "Compute financial metrics with full calculation lineage",
	Long: `finlineage evaluates formula-mapped financial metrics over statement
extracts and records, per computed cell, the formula used, every substituted
source value with its origin, and the formatted final figure.

Examples:
  finlineage compute run.yaml
  finlineage comp run.yaml --out out/`,
}

// Execute runs the CLI
func Execute() error {
	defer logging.Sync()
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initRun)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", ".cache/mappings", "formula mapping cache directory")
	rootCmd.PersistentFlags().StringVarP(&outDir, "out", "o", ".", "output directory")
	rootCmd.PersistentFlags().BoolVar(&generate, "generate", false, "generate missing formula mappings via Gemini")
	rootCmd.PersistentFlags().StringVar(&model, "model", "", "Gemini model override")

	rootCmd.AddCommand(computeCmd)
	rootCmd.AddCommand(compCmd)
}

func initRun() {
	_ = godotenv.Load()

	cfg := logging.DefaultConfig()
	if verbose {
		cfg.Level = "debug"
	}
	if err := logging.Initialize(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
	}
}

// newEngine wires the mapping cache (Postgres-backed when DATABASE_URL is
// set, file-only otherwise) and the optional Gemini generator.
func newEngine(ctx context.Context) (*engine.Engine, error) {
	pool := connectDB(ctx)
	cache := store.NewHybridMappingCache(pool, cacheDir, logging.Logger)

	var gen mapping.Generator
	if generate {
		if os.Getenv("GEMINI_API_KEY") == "" {
			return nil, fmt.Errorf("--generate requires GEMINI_API_KEY")
		}
		gen = &mapping.LLMGenerator{Provider: &llm.GeminiProvider{Model: model}, Model: model}
	}
	return engine.New(cache, gen, logging.Logger), nil
}

// persistLineage mirrors the lineage artifact into Postgres when a pool is
// available. Persistence failures are logged, never fatal; the file copy is
// the primary artifact.
func persistLineage(ctx context.Context, entity string, res *engine.Result) {
	if store.GetPool() == nil {
		return
	}
	if err := store.NewLineageRepo().Save(ctx, entity, res.Lineage); err != nil {
		logging.Logger.Warn("failed to persist lineage log",
			zap.String("entity", entity), zap.Error(err))
	}
}

func connectDB(ctx context.Context) *pgxpool.Pool {
	if os.Getenv("DATABASE_URL") == "" {
		return nil
	}
	if err := store.InitDB(ctx); err != nil {
		logging.Logger.Warn("database unavailable, using file cache only",
			zap.Error(err))
		return nil
	}
	return store.GetPool()
}
