package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/itohio/goecg/pkg/metrics"
	"github.com/itohio/goecg/pkg/relay"
	"github.com/itohio/goecg/pkg/rhythm"
	"github.com/itohio/goecg/pkg/server"
	"github.com/itohio/goecg/pkg/service"
)

var (
	serveListen string
	serveHTTP   string
	serveRelay  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Receive samples and serve the live window over HTTP",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "UDP ingestion address (overrides listener.addr)")
	serveCmd.Flags().StringVar(&serveHTTP, "http", "", "HTTP address (overrides http.addr)")
	serveCmd.Flags().BoolVar(&serveRelay, "relay", false, "Forward samples to NATS (overrides relay.enabled)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if serveListen != "" {
		cfg.Listener.Addr = serveListen
	}
	if serveHTTP != "" {
		cfg.HTTP.Addr = serveHTTP
	}
	if serveRelay {
		cfg.Relay.Enabled = true
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// Connect the bus before binding or starting anything.
	var r *relay.Relay
	if cfg.Relay.Enabled {
		nc, err := relay.Connect(cfg.Relay, logger)
		if err != nil {
			return err
		}
		defer nc.Close()
		r = relay.New(nc, cfg.Relay.Subject, relay.WithLogger(logger), relay.WithMetrics(m))
	}

	svc := service.New(cfg, logger, m)
	if err := svc.Start(); err != nil {
		return err
	}
	logger.Info("[serve] listening for samples", zap.Stringer("addr", svc.Addr()))

	detector := rhythm.New(cfg.Rhythm)
	srv := server.New(cfg.HTTP, svc,
		server.WithLogger(logger),
		server.WithRhythm(detector),
		server.WithGatherer(reg),
	)

	g, ctx := errgroup.WithContext(cmd.Context())

	// Subscriptions are taken before Run so no early sample is missed.
	rhythmSub := svc.Subscribe()
	g.Go(func() error {
		defer svc.Unsubscribe(rhythmSub)
		return detector.Run(ctx, rhythmSub)
	})

	if r != nil {
		relaySub := svc.Subscribe()
		g.Go(func() error {
			defer svc.Unsubscribe(relaySub)
			// A broken bus stops forwarding, not the live surface.
			if err := r.Run(ctx, relaySub); err != nil {
				logger.Error("[serve] relay stopped", zap.Error(err), zap.Uint64("published", r.Published()))
			}
			return nil
		})
	}

	g.Go(func() error {
		return svc.Run(ctx)
	})
	g.Go(func() error {
		return srv.Run(ctx)
	})

	err = g.Wait()
	stats := svc.Stats()
	logger.Info("[serve] stopped",
		zap.Uint64("received", stats.Received),
		zap.Uint64("accepted", stats.Accepted),
		zap.Uint64("malformed", stats.Malformed),
		zap.Uint64("transport_errors", stats.TransportErrors),
	)
	return err
}
