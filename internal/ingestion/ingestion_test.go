package ingestion

import (
	"testing"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/stationsim/internal/kafkasink"
	"github.com/stationsim/internal/logging"
	"github.com/stationsim/internal/models"
	"github.com/stationsim/internal/mqttclient"
	"github.com/stationsim/internal/storage"
)

func newService(t *testing.T) (*Service, *storage.UnifiedStorage) {
	t.Helper()
	st, err := storage.Open("")
	if err != nil {
		t.Fatal(err)
	}
	return New(st, logging.Discard()), st
}

func TestIngestStoresRecord(t *testing.T) {
	s, st := newService(t)
	payload := []byte(`{"device_code":"D1","motor_type":"EFAD","test_fail":"true","time":"2024-05-01T08:00:00.000Z","X":11.2}`)
	if _, err := s.Ingest("station_a20", payload); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	got, _ := st.List("station_a20", storage.Query{})
	if len(got) != 1 || got[0].Fields["X"] != 11.2 {
		t.Fatalf("Unexpected stored records %v", got)
	}
	// the failing record went through the store hooks
	if live, _ := st.List(models.LiveErrorsCollection, storage.Query{}); len(live) != 1 {
		t.Errorf("Expected 1 live error, got %d", len(live))
	}
}

func TestIngestRejectsBadInput(t *testing.T) {
	s, _ := newService(t)
	cases := []struct {
		collection string
		payload    string
	}{
		{"station_a20", `not json`},
		{"station_a20", `{"X":1}`},
		{"station_a20_limits", `{"device_code":"D1"}`},
		{"live_errors", `{"device_code":"D1"}`},
	}
	for _, c := range cases {
		if _, err := s.Ingest(c.collection, []byte(c.payload)); err == nil {
			t.Errorf("Expected error for %s %s", c.collection, c.payload)
		}
	}
}

type fakeSubscriber struct {
	topic   string
	handler mqtt.MessageHandler
}

func (f *fakeSubscriber) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	f.topic, f.handler = topic, handler
	return nil
}

type fakeMessage struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

func TestStartMQTTRoutesTopicToCollection(t *testing.T) {
	s, st := newService(t)
	sub := &fakeSubscriber{}
	if err := s.StartMQTT(sub, "stations", 0); err != nil {
		t.Fatal(err)
	}
	if sub.topic != "stations/#" {
		t.Errorf("Expected subscription stations/#, got %s", sub.topic)
	}
	sub.handler(nil, fakeMessage{topic: "stations/station_nvh", payload: []byte(`{"device_code":"D1","test_fail":"false"}`)})
	sub.handler(nil, fakeMessage{topic: "stations/station_nvh", payload: []byte(`garbage`)})

	if got, _ := st.List("station_nvh", storage.Query{}); len(got) != 1 {
		t.Errorf("Expected 1 record in station_nvh, got %d", len(got))
	}
}

func TestKafkaTopics(t *testing.T) {
	got := KafkaTopics("stations", []string{"A20", "NVH"})
	if len(got) != 2 || got[0] != "stations.station_a20" || got[1] != "stations.station_nvh" {
		t.Errorf("Unexpected topics %v", got)
	}
}

func TestPublishedTopicsAreIngested(t *testing.T) {
	for _, prefix := range []string{"", "stations", "plant/line1"} {
		s, st := newService(t)
		sub := &fakeSubscriber{}
		if err := s.StartMQTT(sub, prefix, 0); err != nil {
			t.Fatal(err)
		}
		want := "#"
		if prefix != "" {
			want = prefix + "/#"
		}
		if sub.topic != want {
			t.Errorf("prefix %q: expected subscription %s, got %s", prefix, want, sub.topic)
		}

		topic := mqttclient.NewSink(nil, prefix, 0).Topic("station_a20")
		sub.handler(nil, fakeMessage{topic: topic, payload: []byte(`{"device_code":"D1","test_fail":"false"}`)})
		if got, _ := st.List("station_a20", storage.Query{}); len(got) != 1 {
			t.Errorf("prefix %q: expected record published on %s to be stored, got %d", prefix, topic, len(got))
		}

		topics := KafkaTopics(prefix, []string{"A20"})
		if len(topics) != 1 || topics[0] != kafkasink.Topic(prefix, "station_a20") {
			t.Errorf("prefix %q: expected kafka topics [%s], got %v", prefix, kafkasink.Topic(prefix, "station_a20"), topics)
		}
		if c := kafkasink.Collection(prefix, topics[0]); c != "station_a20" {
			t.Errorf("prefix %q: expected collection station_a20, got %s", prefix, c)
		}
	}
}
