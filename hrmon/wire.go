package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/cgxeiji/hrmon"
	"github.com/cgxeiji/hrmon/channel"
	"github.com/cgxeiji/hrmon/internal/config"
	"github.com/cgxeiji/hrmon/max30102"
	"github.com/cgxeiji/hrmon/mqttbus"
	"github.com/cgxeiji/hrmon/natsbus"
	"github.com/cgxeiji/hrmon/redisstream"
	"github.com/cgxeiji/hrmon/simulate"
	"github.com/cgxeiji/hrmon/wshub"
)

type source interface {
	hrmon.Session
	Run(ctx context.Context) error
}

// wiring opens the connections shared by sessions and sinks, once each.
type wiring struct {
	cfg *config.Config
	log *zap.Logger

	nc      *nats.Conn
	mc      mqtt.Client
	closers []func()
}

func newWiring(cfg *config.Config, log *zap.Logger) *wiring {
	return &wiring{cfg: cfg, log: log}
}

func (w *wiring) close() {
	for i := len(w.closers) - 1; i >= 0; i-- {
		w.closers[i]()
	}
}

func (w *wiring) nats() (*nats.Conn, error) {
	if w.nc != nil {
		return w.nc, nil
	}
	nc, err := natsbus.Connect(w.cfg.NATS.URL, "hrmon", w.log)
	if err != nil {
		return nil, err
	}
	w.nc = nc
	w.closers = append(w.closers, func() {
		if err := nc.Drain(); err != nil {
			w.log.Warn("could not drain nats connection", zap.Error(err))
		}
	})
	return nc, nil
}

func (w *wiring) mqtt() (mqtt.Client, error) {
	if w.mc != nil {
		return w.mc, nil
	}
	mc, err := mqttbus.Connect(mqttbus.ClientConfig{
		Broker:   w.cfg.MQTT.Broker,
		ClientID: w.cfg.MQTT.ClientID,
		Username: w.cfg.MQTT.Username,
		Password: w.cfg.MQTT.Password,
	}, w.log)
	if err != nil {
		return nil, err
	}
	w.mc = mc
	w.closers = append(w.closers, func() { mc.Disconnect(250) })
	return mc, nil
}

func (w *wiring) session(kind hrmon.Kind, signalName, tsName channel.Name) (source, error) {
	sc := w.cfg.Session
	switch sc.Source {
	case config.SourceSimulate:
		var wave simulate.Wave = simulate.ECG{
			BPM:       sc.SimulatedBPM,
			Amplitude: 1,
			Noise:     0.01,
			MainsHz:   w.cfg.Monitor.MainsHz,
			Mains:     0.1,
		}
		if kind == hrmon.PPG {
			wave = simulate.PPG{BPM: sc.SimulatedBPM, DC: 0.5, Amplitude: 0.1, Noise: 0.002}
		}
		return simulate.New(sc.DeviceID, sc.SamplingRate,
			simulate.WithWave(signalName, wave),
			simulate.WithLogger(w.log),
		)

	case config.SourceMAX30102:
		dev, err := max30102.Open(sc.I2CBus, uint16(sc.I2CAddr), max30102.WithLogger(w.log))
		if err != nil {
			return nil, err
		}
		w.closers = append(w.closers, func() { dev.Close() })
		if err := dev.Calibrate(); err != nil {
			w.log.Warn("could not calibrate LEDs", zap.Error(err))
		}
		return max30102.NewSession(dev, sc.DeviceID, w.log)

	case config.SourceNATS:
		names, err := w.channelNames(signalName, tsName)
		if err != nil {
			return nil, err
		}
		nc, err := w.nats()
		if err != nil {
			return nil, err
		}
		return natsbus.NewSession(nc, natsbus.SessionConfig{
			Subject:      w.cfg.NATS.Subject,
			DeviceID:     sc.DeviceID,
			SamplingRate: sc.SamplingRate,
			Channels:     names,
		}, w.log)

	case config.SourceMQTT:
		names, err := w.channelNames(signalName, tsName)
		if err != nil {
			return nil, err
		}
		mc, err := w.mqtt()
		if err != nil {
			return nil, err
		}
		return mqttbus.NewSession(mc, mqttbus.SessionConfig{
			Topic:        w.cfg.MQTT.Topic,
			QoS:          byte(w.cfg.MQTT.QoS),
			DeviceID:     sc.DeviceID,
			SamplingRate: sc.SamplingRate,
			Channels:     names,
		}, w.log)
	}
	return nil, fmt.Errorf("unknown session source %q", sc.Source)
}

func (w *wiring) channelNames(signalName, tsName channel.Name) ([]channel.Name, error) {
	if len(w.cfg.Session.Channels) == 0 {
		return []channel.Name{signalName, tsName}, nil
	}
	names := make([]channel.Name, 0, len(w.cfg.Session.Channels))
	for _, s := range w.cfg.Session.Channels {
		n, err := channel.ParseName(s)
		if err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, nil
}

func (w *wiring) sinks(ctx context.Context) ([]hrmon.Sink, error) {
	var sinks []hrmon.Sink
	for _, name := range w.cfg.Sinks {
		var (
			s   hrmon.Sink
			err error
		)
		switch name {
		case config.SinkLog:
			s = hrmon.LogSink{Logger: w.log}
		case config.SinkNATS:
			var nc *nats.Conn
			if nc, err = w.nats(); err == nil {
				s = natsbus.NewSink(nc, w.cfg.NATS.ReadingSubject)
			}
		case config.SinkMQTT:
			var mc mqtt.Client
			if mc, err = w.mqtt(); err == nil {
				s = mqttbus.NewSink(mc, w.cfg.MQTT.ReadingTopic, byte(w.cfg.MQTT.QoS), w.cfg.MQTT.Retained)
			}
		case config.SinkRedis:
			s, err = w.redis(ctx)
		case config.SinkWS:
			s = w.websocket()
		default:
			err = fmt.Errorf("unknown sink %q", name)
		}
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

func (w *wiring) redis(ctx context.Context) (*redisstream.Sink, error) {
	rc := w.cfg.Redis
	client := redisstream.NewClient(rc.Addr, rc.Password, rc.DB)
	w.closers = append(w.closers, func() { client.Close() })

	s, err := redisstream.NewSink(client, redisstream.Options{Stream: rc.Stream, MaxLen: rc.MaxLen})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := s.Ping(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (w *wiring) websocket() *wshub.Hub {
	hub := wshub.New(w.log)
	mux := http.NewServeMux()
	mux.Handle(w.cfg.HTTP.WSPath, hub)
	srv := &http.Server{Addr: w.cfg.HTTP.Addr, Handler: mux}

	go func() {
		w.log.Info("websocket server listening", zap.String("addr", srv.Addr), zap.String("path", w.cfg.HTTP.WSPath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.log.Error("websocket server failed", zap.Error(err))
		}
	}()
	w.closers = append(w.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		hub.Close()
		if err := srv.Shutdown(ctx); err != nil {
			w.log.Warn("could not shut down websocket server", zap.Error(err))
		}
	})
	return hub
}
