package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"finlineage/pkg/core/comp"
	"finlineage/pkg/core/logging"
	"finlineage/pkg/core/manifest"
	"finlineage/pkg/core/report"
	"finlineage/pkg/core/store"
)

var compCmd = &cobra.Command{
	Use:   "comp <manifest.yaml>",
	Short: "Run a peer comparison across the manifest's companies",
	Long: `Comp runs the full pipeline independently for every company in the
manifest, appends AVERAGE and MEDIAN rows per metric, and writes the merged
lineage log and a Markdown comparison table to the output directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runComp,
}

func runComp(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	m, err := manifest.Load(args[0])
	if err != nil {
		return err
	}
	inputs, err := m.BuildInputs()
	if err != nil {
		return err
	}

	eng, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	agg, err := comp.NewAggregator(eng, logging.Logger).Run(ctx, inputs)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := agg.Lineage.WriteFile(filepath.Join(outDir, "lineage.json")); err != nil {
		return err
	}
	if err := report.WriteMarkdown(report.CompMarkdown(agg), filepath.Join(outDir, "comp.md")); err != nil {
		return err
	}
	for _, cr := range agg.Companies {
		if cr.Err != nil {
			continue
		}
		persistLineage(ctx, cr.Entity, cr.Result)
	}

	for _, w := range agg.Warnings {
		fmt.Fprintln(os.Stderr, "warning: "+w)
	}
	logging.Logger.Info("comparison complete",
		zap.Int("companies", len(agg.Companies)),
		zap.Int("warnings", len(agg.Warnings)),
		zap.String("out", outDir))
	return nil
}
