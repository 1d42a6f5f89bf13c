package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/itohio/goecg/pkg/metrics"
	"github.com/itohio/goecg/pkg/sender"
	"github.com/itohio/goecg/pkg/source"
)

var (
	simTarget    string
	simBPM       float64
	simSerial    bool
	simPort      string
	simListPorts bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Stream a synthetic or serial ECG signal to a listener",
	Long: `simulate sends one 4-byte datagram per reading to the listener.

By default the readings come from the synthetic P-QRS-T waveform. With
--serial they come from an ADC bridge that prints one voltage per line.`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().StringVarP(&simTarget, "target", "t", "", "Listener address (overrides simulator.target)")
	simulateCmd.Flags().Float64Var(&simBPM, "bpm", 0, "Heart rate of the synthetic waveform (overrides simulator.heart_rate_bpm)")
	simulateCmd.Flags().BoolVar(&simSerial, "serial", false, "Read voltages from a serial port instead of the waveform")
	simulateCmd.Flags().StringVarP(&simPort, "port", "p", "", "Serial port (overrides serial.port)")
	simulateCmd.Flags().BoolVar(&simListPorts, "list-ports", false, "List serial ports and exit")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	if simListPorts {
		return listPorts()
	}

	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if simTarget != "" {
		cfg.Simulator.Target = simTarget
	}
	if simBPM > 0 {
		cfg.Simulator.HeartRateBPM = simBPM
	}
	if simPort != "" {
		cfg.Serial.Port = simPort
	}

	var src source.Source
	if simSerial {
		src = source.NewSerial(cfg.Serial.Port, cfg.Serial.BaudRate, source.DefaultBufferSize, logger)
		logger.Info("[simulate] reading serial bridge", zap.String("port", cfg.Serial.Port), zap.Int("baud", cfg.Serial.BaudRate))
	} else {
		src = source.NewSimulated(&cfg.Simulator)
		logger.Info("[simulate] generating waveform",
			zap.Float64("bpm", cfg.Simulator.HeartRateBPM),
			zap.Duration("interval", cfg.Simulator.Interval),
		)
	}

	if err := src.Connect(); err != nil {
		return err
	}
	defer src.Close()

	s := sender.New(cfg.Simulator.Target, sender.WithLogger(logger), sender.WithMetrics(metrics.New(nil)))
	return s.Run(cmd.Context(), src)
}

func listPorts() error {
	ports, err := source.Ports()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PORT\tDESCRIPTION")
	for _, p := range ports {
		fmt.Fprintf(w, "%s\t%s\n", p.Name, p.Description)
	}
	return w.Flush()
}
