package notify

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bburnak/BirdListener/internal/config"
	"github.com/bburnak/BirdListener/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func notifyConfig(buffer int) config.NotifyConfig {
	return config.NotifyConfig{
		Enabled:  true,
		Broker:   "tcp://localhost:1883",
		Topic:    "birdlistener/detections",
		ClientID: "test",
		QoS:      1,
		Buffer:   buffer,
	}
}

type published struct {
	topic   string
	qos     byte
	payload []byte
}

func TestNotifierPublishesDetections(t *testing.T) {
	n := NewMQTTNotifier(notifyConfig(4), "run-1", testLogger(), nil)

	var mu sync.Mutex
	var got []published
	n.publish = func(topic string, qos byte, payload []byte) error {
		mu.Lock()
		got = append(got, published{topic, qos, payload})
		mu.Unlock()
		return nil
	}
	n.Start()

	det := store.Detection{
		TimestampUTC:  time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC),
		ChunkStartSec: 0,
		ChunkEndSec:   2,
		Species:       "Turdus merula",
		Confidence:    0.8,
	}
	n.Notify(det)
	n.Close()

	if len(got) != 1 {
		t.Fatalf("Expected 1 publish, got %d", len(got))
	}
	if got[0].topic != "birdlistener/detections" || got[0].qos != 1 {
		t.Errorf("Unexpected topic/qos %s/%d", got[0].topic, got[0].qos)
	}

	var msg map[string]any
	if err := json.Unmarshal(got[0].payload, &msg); err != nil {
		t.Fatalf("Payload is not JSON: %v", err)
	}
	if msg["run_id"] != "run-1" || msg["species"] != "Turdus merula" || msg["chunk_end_sec"] != 2.0 {
		t.Errorf("Unexpected payload %s", got[0].payload)
	}

	if s := n.Stats(); s.Sent != 1 || s.Dropped != 0 {
		t.Errorf("Unexpected stats %+v", s)
	}
}

func TestNotifierDropsWhenFull(t *testing.T) {
	n := NewMQTTNotifier(notifyConfig(2), "run", testLogger(), nil)

	release := make(chan struct{})
	n.publish = func(string, byte, []byte) error {
		<-release
		return nil
	}

	// Without Start nothing drains the queue
	for i := 0; i < 5; i++ {
		n.Notify(store.Detection{Species: "x"})
	}

	if s := n.Stats(); s.Dropped != 3 {
		t.Errorf("Expected 3 dropped, got %d", s.Dropped)
	}

	close(release)
	n.Start()
	n.Close()

	if s := n.Stats(); s.Sent != 2 {
		t.Errorf("Expected 2 sent, got %d", s.Sent)
	}
}

func TestNotifierCountsPublishFailures(t *testing.T) {
	n := NewMQTTNotifier(notifyConfig(4), "run", testLogger(), nil)
	n.publish = func(string, byte, []byte) error { return errors.New("broker down") }
	n.Start()

	n.Notify(store.Detection{Species: "x"})
	n.Notify(store.Detection{Species: "y"})
	n.Close()

	if s := n.Stats(); s.Failed != 2 || s.Sent != 0 {
		t.Errorf("Unexpected stats %+v", s)
	}
}

func TestNotifierWithoutConnection(t *testing.T) {
	n := NewMQTTNotifier(notifyConfig(1), "run", testLogger(), nil)
	if err := n.publishMQTT("t", 0, []byte("{}")); err == nil {
		t.Error("Expected error when not connected")
	}
}

func TestNotifierCloseIsIdempotent(t *testing.T) {
	n := NewMQTTNotifier(notifyConfig(1), "run", testLogger(), nil)
	n.Start()
	n.Close()
	n.Close()
}
