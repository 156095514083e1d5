package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/causeway/internal/config"
	"github.com/telhawk-systems/causeway/internal/logging"
	natsclient "github.com/telhawk-systems/causeway/internal/messaging/nats"
	"github.com/telhawk-systems/causeway/internal/models"
	causewaynats "github.com/telhawk-systems/causeway/internal/nats"
	"github.com/telhawk-systems/causeway/internal/seeder"
)

var (
	seedCount    int
	seedSpread   time.Duration
	seedInterval time.Duration
	seedChains   int
	seedBursts   int
	seedSpikes   int
	seedSeed     int64
	seedStdout   bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Publish synthetic events to the bus",
	Long: `Generates synthetic operational events and publishes them on the
normalized event subjects, so a running engine has baseline noise plus
causal chains, correlated bursts, and metric spikes to correlate.

Examples:
  # 500 events over the last hour with two causal chains
  causeway seed --count 500 --spread 1h --chains 2

  # Slow drip for watching the engine live
  causeway seed --count 100 --interval 200ms

  # Inspect the generated stream without a bus
  causeway seed --count 50 --stdout | jq .source`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().IntVar(&seedCount, "count", 200, "baseline events to generate")
	seedCmd.Flags().DurationVar(&seedSpread, "spread", time.Hour, "time range to spread events across, backward from now")
	seedCmd.Flags().DurationVar(&seedInterval, "interval", 0, "pause between publishes (0 = full speed)")
	seedCmd.Flags().IntVar(&seedChains, "chains", 2, "causal chains to inject")
	seedCmd.Flags().IntVar(&seedBursts, "bursts", 2, "correlated bursts to inject")
	seedCmd.Flags().IntVar(&seedSpikes, "spikes", 1, "metric spike series to inject")
	seedCmd.Flags().Int64Var(&seedSeed, "seed", 0, "rng seed (0 = random)")
	seedCmd.Flags().BoolVar(&seedStdout, "stdout", false, "write events as JSON lines to standard output instead of publishing")
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := logging.ParseLevel(cfg.Logging.Level)

	var (
		logger *logging.Logger
		sink   seeder.Sink
		drain  func()
	)
	if seedStdout {
		// Stdout carries only the event stream in this mode; logs go to stderr.
		logger = &logging.Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))}
		sink = jsonLineSink{enc: json.NewEncoder(os.Stdout)}
	} else {
		logger = logging.New(level, cfg.Logging.Format)

		natsConn, err := natsclient.NewClient(natsclient.Config{
			URL:           cfg.NATS.URL,
			Name:          "causeway-seeder",
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
			Timeout:       5 * time.Second,
		})
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer natsConn.Close()

		sink = causewaynats.NewPublisher(natsConn)
		drain = func() {
			// Flush buffered publishes before disconnecting.
			if err := natsConn.Drain(); err != nil {
				logger.Warn("nats drain failed", "error", err)
			}
		}
	}
	logger = logger.With("service", "causeway-seed")
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := seeder.New(seeder.Config{
		Count:    seedCount,
		Spread:   seedSpread,
		Interval: seedInterval,
		Chains:   seedChains,
		Bursts:   seedBursts,
		Spikes:   seedSpikes,
		Seed:     seedSeed,
	}, sink, logger)

	if err := s.Run(ctx); err != nil {
		return fmt.Errorf("seeding interrupted: %w", err)
	}
	if drain != nil {
		drain()
	}
	return nil
}

// jsonLineSink writes one event per line, suitable for piping into jq or a file.
type jsonLineSink struct {
	enc *json.Encoder
}

func (s jsonLineSink) PublishEvent(_ context.Context, ev *models.NormalizedEvent) error {
	return s.enc.Encode(ev)
}
