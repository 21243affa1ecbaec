package main

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"picamstream/pipeline"
)

const (
	notifyBuffer       = 64
	notifyCloseTimeout = 2 * time.Second
)

// CaptureEvent is the payload published for each saved capture
type CaptureEvent struct {
	Name       string    `json:"name"`
	TraceID    string    `json:"trace_id"`
	Seq        uint64    `json:"seq"`
	CapturedAt time.Time `json:"captured_at"`
	Size       int       `json:"size"`
}

type publishFunc func(topic string, payload []byte) error

// MQTTNotifier publishes save events to a broker. CaptureSaved never blocks
// the persist worker: events that do not fit in the buffer are dropped.
type MQTTNotifier struct {
	topic   string
	client  mqtt.Client
	publish publishFunc
	logger  *Logger

	// Close gives the flush this long, then drops what is left
	closeTimeout time.Duration
	aborted      atomic.Bool

	mu     sync.Mutex
	closed bool
	events chan CaptureEvent
	done   chan struct{}

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

var _ pipeline.SaveObserver = (*MQTTNotifier)(nil)

// NewMQTTNotifier connects to cfg.Broker and starts publishing
func NewMQTTNotifier(cfg MQTTConfig, logger *Logger) (*MQTTNotifier, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		logger.Slog().Info("mqtt connection established", "broker", cfg.Broker, "client_id", cfg.ClientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		logger.Slog().Warn("mqtt connection lost, will auto-reconnect", "error", err, "broker", cfg.Broker)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		// Stop the background connect retries
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}

	n := newNotifier(cfg.Topic, func(topic string, payload []byte) error {
		token := client.Publish(topic, 1, false, payload)
		if !token.WaitTimeout(2 * time.Second) {
			return fmt.Errorf("publish timeout")
		}
		return token.Error()
	}, logger)
	n.client = client
	return n, nil
}

func newNotifier(topic string, publish publishFunc, logger *Logger) *MQTTNotifier {
	n := &MQTTNotifier{
		topic:        topic,
		publish:      publish,
		logger:       logger,
		closeTimeout: notifyCloseTimeout,
		events:       make(chan CaptureEvent, notifyBuffer),
		done:         make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *MQTTNotifier) CaptureSaved(c pipeline.SavedCapture) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}

	select {
	case n.events <- CaptureEvent{
		Name:       c.Name,
		TraceID:    c.TraceID,
		Seq:        c.Seq,
		CapturedAt: c.CapturedAt,
		Size:       c.Size,
	}:
	default:
		n.dropped.Add(1)
	}
}

func (n *MQTTNotifier) run() {
	defer close(n.done)
	for ev := range n.events {
		if n.aborted.Load() {
			n.dropped.Add(1)
			continue
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			n.failed.Add(1)
			continue
		}
		if err := n.publish(n.topic, payload); err != nil {
			n.failed.Add(1)
			n.logger.Debugf("Failed to publish save event for %s: %v", ev.Name, err)
			continue
		}
		n.published.Add(1)
	}
}

// Close flushes buffered events for up to closeTimeout, drops the rest and
// disconnects
func (n *MQTTNotifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.events)
	n.mu.Unlock()

	timer := time.NewTimer(n.closeTimeout)
	defer timer.Stop()
	select {
	case <-n.done:
	case <-timer.C:
		n.aborted.Store(true)
		for range n.events {
			n.dropped.Add(1)
		}
		n.logger.Warnf("MQTT flush timed out after %v, dropping undelivered save events", n.closeTimeout)
	}

	if n.client != nil {
		n.client.Disconnect(250)
	}
	n.logger.Debugf("MQTT notifier closed: %d published, %d dropped, %d failed",
		n.published.Load(), n.dropped.Load(), n.failed.Load())
}
