package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/segmentio/kafka-go"

	"github.com/stationsim/internal/kafkasink"
	"github.com/stationsim/internal/models"
	"github.com/stationsim/internal/mqttclient"
	"github.com/stationsim/internal/storage"
)

// Store is where ingested records end up.
type Store interface {
	Create(collection string, fields map[string]any) (storage.Entry, error)
}

// Subscriber is the part of the MQTT client the service uses.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

type Service struct {
	store Store
	log   *slog.Logger
}

func New(s Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: s, log: log.With("component", "ingestion")}
}

// Ingest stores one flat JSON record in collection. Only station record
// collections are accepted from the wire.
func (s *Service) Ingest(collection string, payload []byte) (storage.Entry, error) {
	if _, ok := models.StationFromCollection(collection); !ok {
		return storage.Entry{}, fmt.Errorf("not a station collection: %q", collection)
	}
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return storage.Entry{}, fmt.Errorf("parse json: %w", err)
	}
	if models.StringField(fields, models.FieldDeviceCode) == "" {
		return storage.Entry{}, errors.New("missing device_code in payload")
	}
	return s.store.Create(collection, fields)
}

// StartMQTT subscribes to <prefix>/# (or # without a prefix) and stores
// every station record.
func (s *Service) StartMQTT(sub Subscriber, prefix string, qos byte) error {
	topic := mqttclient.Filter(prefix)
	s.log.Info("subscribing", "topic", topic)
	return sub.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		s.handle("mqtt", mqttclient.Collection(prefix, msg.Topic()), msg.Payload())
	})
}

// KafkaTopics lists the per-station topics for the given station codes.
func KafkaTopics(prefix string, stations []string) []string {
	topics := make([]string, 0, len(stations))
	for _, code := range stations {
		topics = append(topics, kafkasink.Topic(prefix, models.StationCollection(code)))
	}
	return topics
}

// RunKafka reads the station topics as one consumer group until ctx ends.
func (s *Service) RunKafka(ctx context.Context, brokers []string, groupID, prefix string, stations []string) error {
	if len(brokers) == 0 {
		return errors.New("no brokers provided")
	}
	topics := KafkaTopics(prefix, stations)
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		GroupTopics: topics,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	defer r.Close()
	s.log.Info("kafka reader started", "group", groupID, "topics", topics)

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka read: %w", err)
		}
		s.handle("kafka", kafkasink.Collection(prefix, m.Topic), m.Value)
	}
}

func (s *Service) handle(source, collection string, payload []byte) {
	e, err := s.Ingest(collection, payload)
	if err != nil {
		s.log.Warn("dropping message", "source", source, "collection", collection, "err", err, "payload", string(payload))
		return
	}
	s.log.Debug("stored", "source", source, "collection", collection, "id", e.ID,
		"device_code", models.StringField(e.Fields, models.FieldDeviceCode))
}
