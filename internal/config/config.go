// Package config loads the hrmon command configuration from the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cgxeiji/hrmon"
)

// Session sources.
const (
	SourceSimulate = "simulate"
	SourceMAX30102 = "max30102"
	SourceNATS     = "nats"
	SourceMQTT     = "mqtt"
)

// Sink names.
const (
	SinkLog   = "log"
	SinkNATS  = "nats"
	SinkMQTT  = "mqtt"
	SinkRedis = "redis"
	SinkWS    = "ws"
)

// Config is the complete command configuration.
type Config struct {
	Session SessionConfig
	Monitor MonitorConfig
	// Sinks are the names of the sinks readings are published to.
	Sinks []string

	NATS  NATSConfig
	MQTT  MQTTConfig
	Redis RedisConfig
	HTTP  HTTPConfig
	Log   LogConfig
}

// SessionConfig selects where samples come from.
type SessionConfig struct {
	Source       string
	DeviceID     string
	SamplingRate float64
	// Channels enabled on bus sessions. Empty selects the monitored
	// signal and its timestamp.
	Channels []string

	// SimulatedBPM is the heart rate of the simulate source.
	SimulatedBPM float64

	I2CBus  string
	I2CAddr int
}

// LoadFromEnv overrides the fields set in the environment.
func (c *SessionConfig) LoadFromEnv(prefix string) {
	c.Source = getEnv(prefix+"_SOURCE", c.Source)
	c.DeviceID = getEnv(prefix+"_DEVICE_ID", c.DeviceID)
	c.SamplingRate = getEnvFloat(prefix+"_SAMPLING_RATE", c.SamplingRate)
	c.Channels = getEnvList(prefix+"_CHANNELS", c.Channels)
	c.SimulatedBPM = getEnvFloat(prefix+"_SIMULATED_BPM", c.SimulatedBPM)
	c.I2CBus = getEnv(prefix+"_I2C_BUS", c.I2CBus)
	c.I2CAddr = getEnvInt(prefix+"_I2C_ADDR", c.I2CAddr)
}

// MonitorConfig selects the signal and its processing.
type MonitorConfig struct {
	Kind string
	// Signal and Timestamp are channel names; empty selects the default
	// of the kind and source.
	Signal    string
	Format    string
	Timestamp string

	MainsHz        float64
	TrainingPeriod float64
	AveragingBeats int

	QueueSize      int
	PublishTimeout time.Duration
}

// LoadFromEnv overrides the fields set in the environment.
func (c *MonitorConfig) LoadFromEnv(prefix string) {
	c.Kind = getEnv(prefix+"_KIND", c.Kind)
	c.Signal = getEnv(prefix+"_SIGNAL", c.Signal)
	c.Format = getEnv(prefix+"_FORMAT", c.Format)
	c.Timestamp = getEnv(prefix+"_TIMESTAMP", c.Timestamp)
	c.MainsHz = getEnvFloat(prefix+"_MAINS_HZ", c.MainsHz)
	c.TrainingPeriod = getEnvFloat(prefix+"_TRAINING_PERIOD", c.TrainingPeriod)
	c.AveragingBeats = getEnvInt(prefix+"_AVERAGING_BEATS", c.AveragingBeats)
	c.QueueSize = getEnvInt(prefix+"_QUEUE_SIZE", c.QueueSize)
	c.PublishTimeout = getEnvDuration(prefix+"_PUBLISH_TIMEOUT", c.PublishTimeout)
}

// NATSConfig holds the NATS connection and subjects.
type NATSConfig struct {
	URL string
	// Subject carries sample packets to a nats session.
	Subject string
	// ReadingSubject is the subject template of the nats sink.
	ReadingSubject string
}

// LoadFromEnv overrides the fields set in the environment.
func (c *NATSConfig) LoadFromEnv(prefix string) {
	c.URL = getEnv(prefix+"_URL", c.URL)
	c.Subject = getEnv(prefix+"_SUBJECT", c.Subject)
	c.ReadingSubject = getEnv(prefix+"_READING_SUBJECT", c.ReadingSubject)
}

// MQTTConfig holds the broker connection and topics.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      int

	Topic        string
	ReadingTopic string
	Retained     bool
}

// LoadFromEnv overrides the fields set in the environment.
func (c *MQTTConfig) LoadFromEnv(prefix string) {
	c.Broker = getEnv(prefix+"_BROKER", c.Broker)
	c.ClientID = getEnv(prefix+"_CLIENT_ID", c.ClientID)
	c.Username = getEnv(prefix+"_USERNAME", c.Username)
	c.Password = getEnv(prefix+"_PASSWORD", c.Password)
	c.QoS = getEnvInt(prefix+"_QOS", c.QoS)
	c.Topic = getEnv(prefix+"_TOPIC", c.Topic)
	c.ReadingTopic = getEnv(prefix+"_READING_TOPIC", c.ReadingTopic)
	c.Retained = getEnvBool(prefix+"_RETAINED", c.Retained)
}

// RedisConfig holds the server and stream of the redis sink.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	MaxLen   int64
}

// LoadFromEnv overrides the fields set in the environment.
func (c *RedisConfig) LoadFromEnv(prefix string) {
	c.Addr = getEnv(prefix+"_ADDR", c.Addr)
	c.Password = getEnv(prefix+"_PASSWORD", c.Password)
	c.DB = getEnvInt(prefix+"_DB", c.DB)
	c.Stream = getEnv(prefix+"_STREAM", c.Stream)
	c.MaxLen = int64(getEnvInt(prefix+"_MAXLEN", int(c.MaxLen)))
}

// HTTPConfig holds the listener of the websocket sink.
type HTTPConfig struct {
	Addr   string
	WSPath string
}

// LoadFromEnv overrides the fields set in the environment.
func (c *HTTPConfig) LoadFromEnv(prefix string) {
	c.Addr = getEnv(prefix+"_ADDR", c.Addr)
	c.WSPath = getEnv(prefix+"_WS_PATH", c.WSPath)
}

// LogConfig selects the logger.
type LogConfig struct {
	Level  string
	Format string
}

// LoadFromEnv overrides the fields set in the environment.
func (c *LogConfig) LoadFromEnv(prefix string) {
	c.Level = getEnv(prefix+"_LEVEL", c.Level)
	c.Format = getEnv(prefix+"_FORMAT", c.Format)
}

// Default returns the configuration used when nothing is set: a simulated
// 512 Hz ECG logged to stdout.
func Default() *Config {
	return &Config{
		Session: SessionConfig{
			Source:       SourceSimulate,
			DeviceID:     "simulated",
			SamplingRate: 512,
			SimulatedBPM: 72,
			I2CAddr:      0x57,
		},
		Monitor: MonitorConfig{
			Kind:           "ecg",
			Format:         "CAL",
			MainsHz:        50,
			TrainingPeriod: 10,
			AveragingBeats: 1,
			QueueSize:      256,
			PublishTimeout: time.Second,
		},
		Sinks: []string{SinkLog},
		NATS: NATSConfig{
			URL:            "nats://127.0.0.1:4222",
			Subject:        "hrmon.samples",
			ReadingSubject: "hrmon.readings.{device}",
		},
		MQTT: MQTTConfig{
			Broker:       "tcp://localhost:1883",
			ClientID:     "hrmon",
			QoS:          1,
			Topic:        "hrmon/samples",
			ReadingTopic: "hrmon/readings/{device}",
			Retained:     true,
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Stream: "hrmon:readings",
			MaxLen: 10000,
		},
		HTTP: HTTPConfig{
			Addr:   ":8080",
			WSPath: "/ws",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load returns the default configuration overridden by the environment.
func Load() (*Config, error) {
	cfg := Default()
	cfg.Session.LoadFromEnv("SESSION")
	cfg.Monitor.LoadFromEnv("MONITOR")
	cfg.Sinks = getEnvList("SINKS", cfg.Sinks)
	cfg.NATS.LoadFromEnv("NATS")
	cfg.MQTT.LoadFromEnv("MQTT")
	cfg.Redis.LoadFromEnv("REDIS")
	cfg.HTTP.LoadFromEnv("HTTP")
	cfg.Log.LoadFromEnv("LOG")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values the command cannot run with.
func (c *Config) Validate() error {
	switch c.Session.Source {
	case SourceSimulate, SourceNATS, SourceMQTT:
		if !(c.Session.SamplingRate > 0) {
			return fmt.Errorf("config: sampling rate %v must be positive", c.Session.SamplingRate)
		}
	case SourceMAX30102:
		if c.Session.I2CAddr <= 0 || c.Session.I2CAddr > 0x7F {
			return fmt.Errorf("config: i2c address %#x out of range", c.Session.I2CAddr)
		}
	default:
		return fmt.Errorf("config: unknown session source %q", c.Session.Source)
	}
	if c.Session.Source == SourceSimulate && !(c.Session.SimulatedBPM > 0) {
		return fmt.Errorf("config: simulated heart rate %v must be positive", c.Session.SimulatedBPM)
	}

	if _, err := hrmon.ParseKind(c.Monitor.Kind); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Monitor.QueueSize < 1 {
		return fmt.Errorf("config: queue size must be at least 1")
	}

	if len(c.Sinks) == 0 {
		return fmt.Errorf("config: at least one sink is required")
	}
	for _, s := range c.Sinks {
		switch s {
		case SinkLog, SinkNATS, SinkMQTT, SinkRedis, SinkWS:
		default:
			return fmt.Errorf("config: unknown sink %q", s)
		}
	}
	if c.uses(SourceNATS, SinkNATS) && c.NATS.URL == "" {
		return fmt.Errorf("config: nats url is required")
	}
	if c.uses(SourceMQTT, SinkMQTT) && c.MQTT.Broker == "" {
		return fmt.Errorf("config: mqtt broker is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("config: mqtt qos %d out of range", c.MQTT.QoS)
	}
	if c.HasSink(SinkRedis) && c.Redis.Stream == "" {
		return fmt.Errorf("config: redis stream is required")
	}
	if c.HasSink(SinkWS) && c.HTTP.Addr == "" {
		return fmt.Errorf("config: http address is required")
	}
	return nil
}

// HasSink reports whether the sink called name is enabled.
func (c *Config) HasSink(name string) bool {
	for _, s := range c.Sinks {
		if s == name {
			return true
		}
	}
	return false
}

func (c *Config) uses(source, sink string) bool {
	return c.Session.Source == source || c.HasSink(sink)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		// base 0 accepts 0x57 for i2c addresses
		if v, err := strconv.ParseInt(value, 0, 64); err == nil {
			return int(v)
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if v, err := time.ParseDuration(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var list []string
	for _, s := range strings.Split(value, ",") {
		if s = strings.TrimSpace(s); s != "" {
			list = append(list, s)
		}
	}
	return list
}
