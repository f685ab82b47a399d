package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/cgxeiji/hrmon"
	"github.com/cgxeiji/hrmon/channel"
	"github.com/cgxeiji/hrmon/internal/config"
	"github.com/cgxeiji/hrmon/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	zl, err := logger.New(cfg.Log.Level, cfg.Log.Format, "hrmon")
	if err != nil {
		log.Fatal(err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zl); err != nil && !errors.Is(err, context.Canceled) {
		zl.Fatal("hrmon stopped", zap.Error(err))
	}
	zl.Info("hrmon stopped")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	kind, err := hrmon.ParseKind(cfg.Monitor.Kind)
	if err != nil {
		return err
	}
	signalID, tsID, err := channels(cfg, kind)
	if err != nil {
		return err
	}

	w := newWiring(cfg, log)
	defer w.close()

	session, err := w.session(kind, signalID.Name, tsID.Name)
	if err != nil {
		return err
	}
	sinks, err := w.sinks(ctx)
	if err != nil {
		return err
	}

	m, err := hrmon.NewMonitor(hrmon.MonitorConfig{
		Kind:           kind,
		Signal:         signalID,
		Timestamp:      tsID,
		MainsHz:        cfg.Monitor.MainsHz,
		TrainingPeriod: cfg.Monitor.TrainingPeriod,
		AveragingBeats: cfg.Monitor.AveragingBeats,
	}, hrmon.WithLogger(log), hrmon.WithRateSource(session.SamplingRate))
	if err != nil {
		return err
	}
	r := hrmon.Attach(session, m,
		hrmon.WithQueueSize(cfg.Monitor.QueueSize),
		hrmon.WithPublishTimeout(cfg.Monitor.PublishTimeout),
		hrmon.WithSinks(sinks...),
		hrmon.WithRunnerLogger(log),
	)

	log.Info("hrmon started",
		zap.String("source", cfg.Session.Source),
		zap.Stringer("kind", kind),
		zap.Stringer("signal", signalID),
		zap.Strings("sinks", cfg.Sinks),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errc := make(chan error, 2)
	go func() { errc <- r.Run(ctx) }()
	go func() { errc <- session.Run(ctx) }()

	err = <-errc
	cancel()
	<-errc

	st := r.Stats()
	log.Info("monitor stats",
		zap.Uint64("received", st.Received),
		zap.Uint64("dropped", st.Dropped),
		zap.Uint64("handled", st.Handled),
		zap.Uint64("published", st.Published),
		zap.Uint64("failed", st.Failed),
	)
	return err
}

// channels returns the monitored signal and timestamp of cfg, falling back
// to the usual leads of kind.
func channels(cfg *config.Config, kind hrmon.Kind) (signalID, tsID channel.ID, err error) {
	name := cfg.Monitor.Signal
	if name == "" {
		name = string(channel.ECGLLRA)
		if kind == hrmon.PPG {
			name = string(channel.PPGIR)
		}
	}
	if signalID.Name, err = channel.ParseName(name); err != nil {
		return
	}
	if signalID.Format, err = channel.ParseFormat(cfg.Monitor.Format); err != nil {
		return
	}

	ts := cfg.Monitor.Timestamp
	if ts == "" {
		ts = string(channel.Timestamp)
		if cfg.Session.Source == config.SourceMAX30102 {
			ts = string(channel.SystemTimestamp)
		}
	}
	if tsID.Name, err = channel.ParseName(ts); err != nil {
		return
	}
	tsID.Format = channel.Cal
	return
}
