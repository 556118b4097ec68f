package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"finlineage/pkg/core/logging"
	"finlineage/pkg/core/manifest"
	"finlineage/pkg/core/report"
	"finlineage/pkg/core/store"
)

var entityFlag string

var computeCmd = &cobra.Command{
	Use:   "compute <manifest.yaml>",
	Short: "Run the metric calculation for one company",
	Long: `Compute evaluates the manifest's metric schema for a single company
(the first in the manifest, or the one named by --entity) and writes the
result table, the lineage log, and a Markdown summary to the output
directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runCompute,
}

func init() {
	computeCmd.Flags().StringVar(&entityFlag, "entity", "", "company to compute (defaults to the manifest's first)")
}

func runCompute(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	m, err := manifest.Load(args[0])
	if err != nil {
		return err
	}
	inputs, err := m.BuildInputs()
	if err != nil {
		return err
	}

	input := inputs[0]
	if entityFlag != "" {
		found := false
		for _, in := range inputs {
			if in.Entity == entityFlag {
				input = in
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("entity %s not in manifest", entityFlag)
		}
	}

	eng, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := eng.Run(ctx, input)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := report.WriteResultJSON(res, filepath.Join(outDir, "result.json")); err != nil {
		return err
	}
	if err := report.WriteResultCSV(res, filepath.Join(outDir, "result.csv")); err != nil {
		return err
	}
	if err := res.Lineage.WriteFile(filepath.Join(outDir, "lineage.json")); err != nil {
		return err
	}
	if err := report.WriteMarkdown(report.ResultMarkdown(res), filepath.Join(outDir, "summary.md")); err != nil {
		return err
	}
	persistLineage(ctx, input.Entity, res)

	for _, w := range res.Warnings {
		fmt.Fprintln(os.Stderr, "warning: "+w)
	}
	logging.Logger.Info("run complete",
		zap.String("entity", input.Entity),
		zap.Int("metrics", len(res.Rows)),
		zap.Int("warnings", len(res.Warnings)),
		zap.String("out", outDir))
	return nil
}
