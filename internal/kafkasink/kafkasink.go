// Package kafkasink publishes station records to Kafka, one topic per
// collection, keyed by device code.
package kafkasink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/stationsim/internal/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Sink struct {
	w      messageWriter
	prefix string
	now    func() time.Time
}

// New returns a sink writing to brokers. Topics are created on first write
// when the cluster allows it.
func New(brokers []string, prefix string) (*Sink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("no brokers provided")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{}, // one device stays on one partition
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
	return &Sink{w: w, prefix: prefix, now: time.Now}, nil
}

// Topic returns the topic for collection: <prefix>.<collection>.
func Topic(prefix, collection string) string {
	if prefix == "" {
		return collection
	}
	return prefix + "." + collection
}

// Collection reverses Topic.
func Collection(prefix, topic string) string {
	if prefix == "" {
		return topic
	}
	return strings.TrimPrefix(topic, prefix+".")
}

func (s *Sink) Create(ctx context.Context, collection string, fields map[string]any) error {
	value, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", collection, err)
	}
	msg := kafka.Message{
		Topic: Topic(s.prefix, collection),
		Key:   []byte(models.StringField(fields, models.FieldDeviceCode)),
		Value: value,
		Time:  s.now(),
	}
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s: %w", msg.Topic, err)
	}
	return nil
}

func (s *Sink) Close() error {
	return s.w.Close()
}
