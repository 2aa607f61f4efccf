package main

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"github.com/stationsim/internal/config"
	"github.com/stationsim/internal/console"
	"github.com/stationsim/internal/generator"
	"github.com/stationsim/internal/kafkasink"
	"github.com/stationsim/internal/limits"
	"github.com/stationsim/internal/logging"
	"github.com/stationsim/internal/mqttclient"
	"github.com/stationsim/internal/pocketbase"
	"github.com/stationsim/internal/runner"
	"github.com/stationsim/internal/sink"
	"github.com/stationsim/internal/storage"
)

// app holds everything a subcommand needs. close releases the sink and the
// log file.
type app struct {
	cfg     config.Config
	log     *slog.Logger
	table   *limits.Table
	seed    int64
	closers []io.Closer
}

func loadApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("sink") {
		cfg.Sink.Kind = sinkKind
	}
	if flags.Changed("limits") {
		cfg.LimitsFile = limitsFile
	}
	if flags.Changed("motor-type") {
		cfg.MotorTypes = motorTypes
	}
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("serial-port") {
		cfg.Loop.SerialPort = serialPort
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, logFile := logging.Init(cfg.Log.File, cfg.Log.Level)
	a := &app{cfg: cfg, log: log, closers: []io.Closer{logFile}}

	a.table, err = limits.Load(cfg.LimitsFile)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("load limits: %w", err)
	}
	a.seed = cfg.Seed
	if a.seed == 0 {
		a.seed = time.Now().UnixNano()
	}
	if !noBanner {
		console.Printer{}.Banner(version)
	}
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i].Close()
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// sink builds the configured record sink.
func (a *app) sink() (sink.Sink, error) {
	sc := a.cfg.Sink
	switch sc.Kind {
	case config.SinkPocketBase:
		c, err := pocketbase.New(pocketbase.Options{
			BaseURL: sc.PocketBase.URL,
			Token:   sc.PocketBase.Token,
			Timeout: config.Duration(sc.PocketBase.Timeout, 10*time.Second, a.log),
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.SinkMQTT:
		id := sc.MQTT.ClientID
		if id == "" {
			id = fmt.Sprintf("stationsim-pub-%d", time.Now().UnixNano())
		}
		c, err := mqttclient.New(mqttclient.Options{
			BrokerURL:   sc.MQTT.Broker,
			ClientID:    id,
			Username:    sc.MQTT.Username,
			Password:    sc.MQTT.Password,
			WaitTimeout: 10 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closerFunc(func() error { c.Close(); return nil }))
		return mqttclient.NewSink(c, sc.MQTT.TopicPrefix, byte(sc.MQTT.QoS)), nil
	case config.SinkKafka:
		k, err := kafkasink.New(sc.Kafka.Brokers, sc.Kafka.TopicPrefix)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, k)
		return k, nil
	case config.SinkLocal:
		st, err := storage.Open(a.cfg.Server.DataDir)
		if err != nil {
			return nil, err
		}
		st.SetLogger(a.log)
		a.closers = append(a.closers, st)
		return sink.NewStoreSink(st), nil
	}
	return nil, fmt.Errorf("unknown sink kind %q", sc.Kind)
}

func (a *app) runner() (*runner.Runner, error) {
	gen, err := generator.New(a.cfg.GeneratorConfig(), rand.New(rand.NewSource(a.seed)))
	if err != nil {
		return nil, fmt.Errorf("generator config: %w", err)
	}
	if err := gen.Check(a.table); err != nil {
		return nil, err
	}
	for _, motor := range a.cfg.MotorTypes {
		if !a.knownMotorType(motor) {
			return nil, fmt.Errorf("%w: no station has limits for %s", limits.ErrUnknownMotorType, motor)
		}
	}
	s, err := a.sink()
	if err != nil {
		return nil, fmt.Errorf("open %s sink: %w", a.cfg.Sink.Kind, err)
	}

	lc := a.cfg.Loop
	return runner.New(a.table, gen, s, runner.Options{
		MotorTypes:     a.cfg.MotorTypes,
		StationSpacing: config.Duration(lc.StationSpacing, 2*time.Minute, a.log),
		MinSleep:       config.Duration(lc.MinSleep, 90*time.Second, a.log),
		MaxSleep:       config.Duration(lc.MaxSleep, 180*time.Second, a.log),
		Rand:           rand.New(rand.NewSource(a.seed + 1)),
		Reporter:       console.Printer{},
		Logger:         a.log,
	})
}

func (a *app) knownMotorType(motor string) bool {
	for _, m := range a.table.MotorTypes() {
		if m == motor {
			return true
		}
	}
	return false
}
