// Package emitter publishes count changes to an MQTT broker.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/stream-counter/internal/config"
	"github.com/e7canasta/stream-counter/internal/media"
)

// queueSize bounds pending updates; the capture loop never waits on the broker.
const queueSize = 16

// publisher is the part of mqtt.Client the emitter uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTEmitter publishes a retained message whenever the count changes
type MQTTEmitter struct {
	cfg    config.MQTTConfig
	client mqtt.Client
	pub    publisher

	queue chan media.CountUpdate
	done  chan struct{}

	mu        sync.RWMutex
	connected bool
	published uint64
	dropped   uint64
	errors    uint64
	last      int64
	hasLast   bool
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool
	Published uint64
	Dropped   uint64
	Errors    uint64
}

// NewMQTTEmitter creates an emitter for cfg. Call Connect, then Run.
func NewMQTTEmitter(cfg config.MQTTConfig) *MQTTEmitter {
	return &MQTTEmitter{
		cfg:   cfg,
		queue: make(chan media.CountUpdate, queueSize),
		done:  make(chan struct{}),
	}
}

// Connect establishes the broker connection with automatic reconnect.
func (e *MQTTEmitter) Connect(ctx context.Context, clientID string) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(e.cfg.Broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		slog.Info("stream-counter: mqtt connection established",
			"broker", e.cfg.Broker,
			"client_id", clientID,
		)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		slog.Warn("stream-counter: mqtt connection lost, will auto-reconnect",
			"broker", e.cfg.Broker,
			"error", err,
		)
	}

	e.client = mqtt.NewClient(opts)
	e.pub = e.client

	slog.Info("stream-counter: connecting to mqtt broker", "broker", e.cfg.Broker)

	token := e.client.Connect()
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

	e.setConnected(true)
	return nil
}

// OnCount queues an update. It never blocks; updates beyond the queue are
// dropped and counted.
func (e *MQTTEmitter) OnCount(u media.CountUpdate) {
	select {
	case e.queue <- u:
	default:
		e.mu.Lock()
		e.dropped++
		e.mu.Unlock()
	}
}

// Run publishes queued updates until ctx is done. Only changes of the count
// (or of the degraded flag) are published.
func (e *MQTTEmitter) Run(ctx context.Context) {
	defer close(e.done)

	lastDegraded := false
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-e.queue:
			e.mu.RLock()
			unchanged := e.hasLast && e.last == u.Count && lastDegraded == u.Degraded
			e.mu.RUnlock()
			if unchanged {
				continue
			}
			if err := e.publish(u); err != nil {
				slog.Debug("stream-counter: count publish failed", "error", err)
				continue
			}
			lastDegraded = u.Degraded
		}
	}
}

func (e *MQTTEmitter) publish(u media.CountUpdate) error {
	if !e.isConnected() || e.pub == nil {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := json.Marshal(u)
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal count: %w", err)
	}

	token := e.pub.Publish(e.cfg.Topic, e.cfg.QoS, true, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published++
	e.last = u.Count
	e.hasLast = true
	e.mu.Unlock()

	slog.Debug("stream-counter: count published",
		"topic", e.cfg.Topic,
		"count", u.Count,
		"cycle", u.Cycle,
	)
	return nil
}

// Disconnect waits briefly for Run to drain and closes the connection.
func (e *MQTTEmitter) Disconnect() {
	select {
	case <-e.done:
	case <-time.After(500 * time.Millisecond):
	}
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		slog.Info("stream-counter: mqtt disconnected")
	}
	e.setConnected(false)
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{
		Connected: e.connected,
		Published: e.published,
		Dropped:   e.dropped,
		Errors:    e.errors,
	}
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
