package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/itohio/goecg/pkg/capture"
	"github.com/itohio/goecg/pkg/condition"
)

var (
	analyzeOutput string
	analyzeLow    float64
	analyzeHigh   float64
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <capture-file>",
	Short: "Condition a capture file and print the report",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeOutput, "output", "o", "", "Write the JSON report here instead of stdout")
	analyzeCmd.Flags().Float64Var(&analyzeLow, "low", 0, "Low cutoff in Hz (overrides filter.low_cut_hz)")
	analyzeCmd.Flags().Float64Var(&analyzeHigh, "high", 0, "High cutoff in Hz (overrides filter.high_cut_hz)")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(_ *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	header, samples, err := capture.ReadFile(args[0])
	if err != nil {
		return err
	}
	logger.Info("[analyze] capture loaded",
		zap.String("file", args[0]),
		zap.String("title", header.Title),
		zap.Int("samples", len(samples)),
	)

	opts := condition.OptionsFrom(cfg.Filter)
	if analyzeLow > 0 {
		opts.LowCutHz = analyzeLow
	}
	if analyzeHigh > 0 {
		opts.HighCutHz = analyzeHigh
	}

	report, err := condition.NewPipeline(opts).Process(samples)
	if err != nil {
		return err
	}
	logReport(logger, report)

	if analyzeOutput != "" {
		return writeReport(analyzeOutput, report)
	}
	return report.WriteJSON(os.Stdout)
}
