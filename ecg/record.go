package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/itohio/goecg/pkg/capture"
	"github.com/itohio/goecg/pkg/condition"
	"github.com/itohio/goecg/pkg/config"
	"github.com/itohio/goecg/pkg/metrics"
	"github.com/itohio/goecg/pkg/sample"
	"github.com/itohio/goecg/pkg/service"
)

var (
	recordDuration time.Duration
	recordOutput   string
	recordReport   string
	recordTitle    string
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Capture a fixed window of live samples and condition it",
	Long: `record listens for --duration, writes every sample received in that window
to a capture file and writes the conditioning report next to it.

An interrupt ends the capture early; the samples received so far are kept.`,
	Args: cobra.NoArgs,
	RunE: runRecord,
}

func init() {
	recordCmd.Flags().DurationVarP(&recordDuration, "duration", "d", 0, "Capture length (overrides recording.duration)")
	recordCmd.Flags().StringVarP(&recordOutput, "output", "o", "", "Capture file (overrides recording.output_file)")
	recordCmd.Flags().StringVar(&recordReport, "report", "", "Report file (overrides recording.report_file)")
	recordCmd.Flags().StringVar(&recordTitle, "title", capture.DefaultTitle, "Capture file title")
	rootCmd.AddCommand(recordCmd)
}

func runRecord(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if recordDuration > 0 {
		cfg.Recording.Duration = recordDuration
	}
	if recordOutput != "" {
		cfg.Recording.OutputFile = recordOutput
	}
	if recordReport != "" {
		cfg.Recording.ReportFile = recordReport
	}

	samples, err := captureWindow(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}

	header := capture.HeaderFor(samples, recordTitle, cfg.Recording.Duration.Seconds())
	if err := capture.WriteFile(cfg.Recording.OutputFile, header, samples); err != nil {
		return err
	}
	logger.Info("[record] capture written",
		zap.String("file", cfg.Recording.OutputFile),
		zap.Int("samples", len(samples)),
		zap.Float64("sample_rate_hz", header.SampleRateHz),
	)

	report, err := condition.NewPipeline(condition.OptionsFrom(cfg.Filter)).Process(samples)
	if errors.Is(err, condition.ErrInsufficientData) {
		logger.Warn("[record] not enough samples to condition", zap.Int("samples", len(samples)))
		return nil
	}
	if err != nil {
		return err
	}
	logReport(logger, report)

	if cfg.Recording.ReportFile == "" {
		return nil
	}
	return writeReport(cfg.Recording.ReportFile, report)
}

// captureWindow runs a service just for the length of one capture.
func captureWindow(parent context.Context, cfg *config.Config, logger *zap.Logger) ([]sample.Sample, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	svc := service.New(cfg, logger, metrics.New(nil))
	if err := svc.Start(); err != nil {
		return nil, err
	}
	logger.Info("[record] waiting for samples",
		zap.Stringer("addr", svc.Addr()),
		zap.Duration("duration", cfg.Recording.Duration),
	)

	runErr := make(chan error, 1)
	go func() {
		runErr <- svc.Run(ctx)
	}()

	samples, err := svc.Capture(ctx, cfg.Recording.Duration)
	cancel()
	if rerr := <-runErr; rerr != nil {
		return nil, rerr
	}

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, service.ErrStopped):
		logger.Warn("[record] capture interrupted", zap.Int("samples", len(samples)))
	default:
		return nil, err
	}
	return samples, nil
}

func logReport(logger *zap.Logger, r *condition.Report) {
	fields := []zap.Field{
		zap.Int("samples", r.Samples),
		zap.Float64("duration_s", r.Duration),
		zap.Float64("sample_rate_hz", r.SampleRate),
		zap.Float64("mean", r.Mean),
		zap.Float64("std", r.Std),
		zap.Float64("min", r.Min),
		zap.Float64("max", r.Max),
		zap.Bool("filtered", r.FilterApplied),
	}
	if r.Notice != condition.NoticeNone {
		fields = append(fields, zap.String("notice", string(r.Notice)), zap.String("detail", r.NoticeDetail))
		logger.Warn("[condition] bandpass not applied", fields...)
		return
	}
	logger.Info("[condition] window conditioned", fields...)
}

func writeReport(path string, r *condition.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := r.WriteJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
