// Command ecg receives, serves, records and conditions single-channel
// biosignal streams sent as 4-byte UDP datagrams.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/itohio/goecg/pkg/config"
	"github.com/itohio/goecg/pkg/logging"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "ecg",
	Short: "Real-time ECG ingestion, live fan-out and offline conditioning",
	Long: `ecg receives one float32 voltage per UDP datagram, keeps a bounded recent
window, pushes new samples to live clients and conditions captured windows
with a zero-phase Butterworth bandpass.

Commands:
  serve      Run the listener with the HTTP/WebSocket surface
  simulate   Stream a synthetic (or serial) signal to a listener
  record     Capture a fixed window and write it with its report
  analyze    Condition a previously written capture file
  validate   Check a configuration file`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "ecg.yaml", "Configuration file (missing file uses defaults)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the configuration and builds the logger shared by every command.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
