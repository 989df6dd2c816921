// Package notify publishes written detections to an MQTT broker.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/bburnak/BirdListener/internal/config"
	"github.com/bburnak/BirdListener/internal/metrics"
	"github.com/bburnak/BirdListener/internal/store"
)

// Message is the JSON payload published for each detection
type Message struct {
	RunID string `json:"run_id"`
	store.Detection
}

// MQTTNotifier publishes detections from a bounded queue. Notify never
// blocks: when the queue is full the detection is dropped and counted.
type MQTTNotifier struct {
	cfg     config.NotifyConfig
	runID   string
	client  mqtt.Client
	logger  *slog.Logger
	metrics *metrics.Metrics

	// publish sends one payload; replaced in tests
	publish func(topic string, qos byte, payload []byte) error

	queue     chan store.Detection
	done      chan struct{}
	closeOnce sync.Once

	connected atomic.Bool
	sent      atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// Stats contains notifier statistics
type Stats struct {
	Connected bool   `json:"connected"`
	Sent      uint64 `json:"sent"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
}

// NewMQTTNotifier creates a notifier. Call Connect, then Start.
func NewMQTTNotifier(cfg config.NotifyConfig, runID string, logger *slog.Logger, m *metrics.Metrics) *MQTTNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	buffer := cfg.Buffer
	if buffer < 1 {
		buffer = 1
	}
	n := &MQTTNotifier{
		cfg:     cfg,
		runID:   runID,
		logger:  logger.With("component", "notify", "broker", cfg.Broker),
		metrics: m,
		queue:   make(chan store.Detection, buffer),
		done:    make(chan struct{}),
	}
	n.publish = n.publishMQTT
	return n
}

// Connect establishes the broker connection. The client reconnects on its own
// afterwards, so a timeout here only means the broker is not reachable yet.
func (n *MQTTNotifier) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(n.cfg.Broker)
	opts.SetClientID(n.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		n.connected.Store(true)
		n.logger.Info("MQTT connection established", "client_id", n.cfg.ClientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		n.connected.Store(false)
		n.logger.Warn("MQTT connection lost, will auto-reconnect", "error", err)
	}

	n.client = mqtt.NewClient(opts)

	n.logger.Info("Connecting to MQTT broker")

	token := n.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	n.connected.Store(true)
	return nil
}

// Start runs the publish loop until Close.
func (n *MQTTNotifier) Start() {
	go n.run()
}

// Notify implements store.Notifier
func (n *MQTTNotifier) Notify(det store.Detection) {
	select {
	case n.queue <- det:
	default:
		n.dropped.Add(1)
		n.metrics.RecordNotification(false)
		n.logger.Debug("Notification queue full, dropping detection", "species", det.Species)
	}
}

func (n *MQTTNotifier) run() {
	defer close(n.done)

	for det := range n.queue {
		payload, err := json.Marshal(Message{RunID: n.runID, Detection: det})
		if err != nil {
			n.failed.Add(1)
			n.logger.Error("Failed to marshal detection", "error", err)
			continue
		}

		if err := n.publish(n.cfg.Topic, n.cfg.QoS, payload); err != nil {
			n.failed.Add(1)
			n.metrics.RecordNotification(false)
			n.logger.Warn("Failed to publish detection", "topic", n.cfg.Topic, "error", err)
			continue
		}

		n.sent.Add(1)
		n.metrics.RecordNotification(true)
		n.logger.Debug("Detection published", "topic", n.cfg.Topic, "species", det.Species, "size", len(payload))
	}
}

func (n *MQTTNotifier) publishMQTT(topic string, qos byte, payload []byte) error {
	if n.client == nil || !n.connected.Load() {
		return fmt.Errorf("mqtt not connected")
	}

	token := n.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	return token.Error()
}

// Close drains queued notifications and disconnects. It must be called after
// the last Notify and only once Start has been called.
func (n *MQTTNotifier) Close() error {
	n.closeOnce.Do(func() {
		close(n.queue)
		<-n.done

		if n.client != nil && n.client.IsConnected() {
			n.client.Disconnect(250)
			n.logger.Info("MQTT disconnected")
		}
		n.connected.Store(false)
	})
	return nil
}

// Stats returns notifier statistics
func (n *MQTTNotifier) Stats() Stats {
	return Stats{
		Connected: n.connected.Load(),
		Sent:      n.sent.Load(),
		Dropped:   n.dropped.Load(),
		Failed:    n.failed.Load(),
	}
}
