// Package config loads the YAML configuration shared by the publisher and the
// station server. Every key has a default, environment variables override the
// file and command-line flags override both.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stationsim/internal/generator"
)

// Config represents the main configuration structure
type Config struct {
	LimitsFile string          `yaml:"limits_file"`
	Seed       int64           `yaml:"seed"`
	MotorTypes []string        `yaml:"motor_types"`
	Generator  GeneratorConfig `yaml:"generator"`
	Loop       LoopConfig      `yaml:"loop"`
	Sink       SinkConfig      `yaml:"sink"`
	Server     ServerConfig    `yaml:"server"`
	Log        LogConfig       `yaml:"log"`
}

type GeneratorConfig struct {
	Precision       int     `yaml:"precision"`
	Reserve         int     `yaml:"reserve"`
	Near            float64 `yaml:"near"`
	Far             float64 `yaml:"far"`
	FailProbability float64 `yaml:"fail_probability"`
}

type LoopConfig struct {
	MinSleep       string `yaml:"min_sleep"`
	MaxSleep       string `yaml:"max_sleep"`
	StationSpacing string `yaml:"station_spacing"`
	SerialPort     string `yaml:"serial_port"`
	SerialBaud     int    `yaml:"serial_baud"`
}

type SinkConfig struct {
	Kind       string           `yaml:"kind"`
	PocketBase PocketBaseConfig `yaml:"pocketbase"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Kafka      KafkaConfig      `yaml:"kafka"`
}

type PocketBaseConfig struct {
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Timeout string `yaml:"timeout"`
}

type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	TopicPrefix string   `yaml:"topic_prefix"`
	GroupID     string   `yaml:"group_id"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	DataDir     string `yaml:"data_dir"`
	IngestMQTT  bool   `yaml:"ingest_mqtt"`
	IngestKafka bool   `yaml:"ingest_kafka"`
}

type LogConfig struct {
	File  string `yaml:"file"`
	Level string `yaml:"level"`
}

// Sink kinds.
const (
	SinkPocketBase = "pocketbase"
	SinkMQTT       = "mqtt"
	SinkKafka      = "kafka"
	SinkLocal      = "local"
)

// Default returns the configuration used when no file is given.
func Default() Config {
	g := generator.DefaultConfig()
	return Config{
		MotorTypes: []string{"EFAD"},
		Generator: GeneratorConfig{
			Precision:       g.Precision,
			Reserve:         g.Reserve,
			Near:            g.Near,
			Far:             g.Far,
			FailProbability: g.FailProbability,
		},
		Loop: LoopConfig{
			MinSleep:       "90s",
			MaxSleep:       "180s",
			StationSpacing: "2m",
			SerialBaud:     9600,
		},
		Sink: SinkConfig{
			Kind: SinkPocketBase,
			PocketBase: PocketBaseConfig{
				URL:     "http://127.0.0.1:8090",
				Timeout: "10s",
			},
			MQTT: MQTTConfig{
				Broker:      "tcp://localhost:1883",
				TopicPrefix: "stations",
			},
			Kafka: KafkaConfig{
				Brokers:     []string{"localhost:9092"},
				TopicPrefix: "stations",
				GroupID:     "stationsim",
			},
		},
		Server: ServerConfig{
			Addr:       ":8090",
			DataDir:    "data",
			IngestMQTT: true,
		},
		Log: LogConfig{
			File:  "stationsim.log",
			Level: "info",
		},
	}
}

// Load reads path on top of the defaults and applies environment overrides.
// An empty path yields the defaults plus overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("STATIONSIM_LIMITS_FILE"); v != "" {
		cfg.LimitsFile = v
	}
	if v := os.Getenv("STATIONSIM_SINK"); v != "" {
		cfg.Sink.Kind = v
	}
	if v := os.Getenv("STATIONSIM_POCKETBASE_URL"); v != "" {
		cfg.Sink.PocketBase.URL = v
	}
	if v := os.Getenv("STATIONSIM_POCKETBASE_TOKEN"); v != "" {
		cfg.Sink.PocketBase.Token = v
	}
	if v := os.Getenv("STATIONSIM_MQTT_BROKER"); v != "" {
		cfg.Sink.MQTT.Broker = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Sink.Kafka.Brokers = splitCSV(v)
	}
	if v := os.Getenv("STATIONSIM_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("STATIONSIM_DATA_DIR"); v != "" {
		cfg.Server.DataDir = v
	}
	if v := os.Getenv("STATIONSIM_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Seed = n
		}
	}
	if v := os.Getenv("LOG_PATH"); v != "" {
		cfg.Log.File = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate checks the values that cannot fall back to a default.
func (c Config) Validate() error {
	if len(c.MotorTypes) == 0 {
		return fmt.Errorf("motor_types must not be empty")
	}
	switch c.Sink.Kind {
	case SinkPocketBase, SinkMQTT, SinkKafka, SinkLocal:
	default:
		return fmt.Errorf("unknown sink kind %q (must be: pocketbase, mqtt, kafka or local)", c.Sink.Kind)
	}
	if c.Sink.MQTT.QoS < 0 || c.Sink.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", c.Sink.MQTT.QoS)
	}
	return nil
}

// GeneratorConfig converts the file section into the generator's config.
func (c Config) GeneratorConfig() generator.Config {
	return generator.Config{
		Precision:       c.Generator.Precision,
		Reserve:         c.Generator.Reserve,
		Near:            c.Generator.Near,
		Far:             c.Generator.Far,
		FailProbability: c.Generator.FailProbability,
	}
}

// Duration parses a duration value, returning def and logging a warning when
// the value is empty or invalid.
func Duration(v string, def time.Duration, log *slog.Logger) time.Duration {
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		if log != nil {
			log.Warn("invalid duration in config, using default", "val", v, "default", def)
		}
		return def
	}
	return d
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
