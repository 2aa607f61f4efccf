// Command stationsim-server is the receiving station database: it stores
// records posted over HTTP or ingested from MQTT and Kafka, runs the live
// error hooks and serves the dashboard API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/spf13/cobra"

	"github.com/stationsim/internal/config"
	"github.com/stationsim/internal/ingestion"
	"github.com/stationsim/internal/limits"
	"github.com/stationsim/internal/logging"
	"github.com/stationsim/internal/mqttclient"
	"github.com/stationsim/internal/query"
	"github.com/stationsim/internal/storage"
	"github.com/stationsim/internal/websocket"
)

var (
	cfgFile     string
	addr        string
	dataDir     string
	limitsFile  string
	ingestMQTT  bool
	ingestKafka bool
)

var rootCmd = &cobra.Command{
	Use:          "stationsim-server",
	Short:        "Station database with live error feed",
	SilenceUsage: true,
	RunE:         serve,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&cfgFile, "config", "", "config file (yaml)")
	f.StringVar(&addr, "addr", "", "HTTP listen address (overrides config)")
	f.StringVar(&dataDir, "data-dir", "", "directory for the record journal (overrides config)")
	f.StringVar(&limitsFile, "limits", "", "limit table file (default is the embedded table)")
	f.BoolVar(&ingestMQTT, "ingest-mqtt", true, "subscribe to station records on MQTT")
	f.BoolVar(&ingestKafka, "ingest-kafka", false, "consume station records from Kafka")
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Server.Addr = addr
	}
	if flags.Changed("data-dir") {
		cfg.Server.DataDir = dataDir
	}
	if flags.Changed("limits") {
		cfg.LimitsFile = limitsFile
	}
	if flags.Changed("ingest-mqtt") {
		cfg.Server.IngestMQTT = ingestMQTT
	}
	if flags.Changed("ingest-kafka") {
		cfg.Server.IngestKafka = ingestKafka
	}

	log, logFile := logging.Init(cfg.Log.File, cfg.Log.Level)
	defer logFile.Close()

	table, err := limits.Load(cfg.LimitsFile)
	if err != nil {
		return fmt.Errorf("load limits: %w", err)
	}

	store, err := storage.Open(cfg.Server.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()
	store.SetLogger(log)
	log.Info("store opened", "data_dir", cfg.Server.DataDir, "collections", store.Collections())

	ctx := cmd.Context()

	hub := websocket.NewHub(log)
	store.Subscribe(hub.Publish)
	go hub.Run(ctx)

	ing := ingestion.New(store, log)
	if cfg.Server.IngestMQTT {
		mc := cfg.Sink.MQTT
		c, err := mqttclient.New(mqttclient.Options{
			BrokerURL:   mc.Broker,
			ClientID:    fmt.Sprintf("stationsim-server-%d", time.Now().UnixNano()),
			Username:    mc.Username,
			Password:    mc.Password,
			WaitTimeout: 10 * time.Second,
		})
		if err != nil {
			log.Error("mqtt ingestion disabled", "broker", mc.Broker, "err", err)
		} else {
			defer c.Close()
			if err := ing.StartMQTT(c, mc.TopicPrefix, byte(mc.QoS)); err != nil {
				return fmt.Errorf("mqtt subscribe: %w", err)
			}
		}
	}
	if cfg.Server.IngestKafka {
		kc := cfg.Sink.Kafka
		go func() {
			if err := ing.RunKafka(ctx, kc.Brokers, kc.GroupID, kc.TopicPrefix, table.Codes()); err != nil {
				log.Error("kafka ingestion stopped", "err", err)
			}
		}()
	}

	api := query.New(store, table, hub, log)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handlers.LoggingHandler(os.Stdout, api.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("http listening", "addr", cfg.Server.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
