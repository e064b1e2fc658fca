// Package emitter publishes tracked skeletons to an MQTT broker.
package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ayusman/kinectcast/internal/broadcast"
	"github.com/ayusman/kinectcast/internal/config"
	"github.com/ayusman/kinectcast/internal/pipeline"
)

var (
	// ErrNotConnected is returned when publishing without a broker connection.
	ErrNotConnected = errors.New("mqtt not connected")
	// ErrBacklogFull is returned by Consume while maxInflight publishes await
	// their acknowledgement.
	ErrBacklogFull = errors.New("mqtt publish backlog full")
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
	maxInflight    = 64
)

// MQTTEmitter publishes skeleton messages to <topic>/<user_id>.
type MQTTEmitter struct {
	cfg    config.MQTTConfig
	client mqtt.Client

	inflight chan struct{}
	wg       sync.WaitGroup

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	connected bool
}

// NewMQTTEmitter creates a new MQTT emitter
func NewMQTTEmitter(cfg config.MQTTConfig) *MQTTEmitter {
	return &MQTTEmitter{
		cfg:       cfg,
		inflight:  make(chan struct{}, maxInflight),
		published: make(map[string]uint64),
	}
}

// Connect establishes connection to MQTT broker
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	broker := e.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		slog.Info("mqtt connection established", "broker", broker, "client_id", e.cfg.ClientID)
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		slog.Warn("mqtt connection lost, will auto-reconnect", "error", err, "broker", broker)
	}

	e.client = mqtt.NewClient(opts)

	slog.Info("connecting to mqtt broker", "broker", broker)

	token := e.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(connectTimeout):
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

// Name implements pipeline.Sink.
func (e *MQTTEmitter) Name() string {
	return "mqtt"
}

// Consume implements pipeline.Sink. It runs on the capture loop, so it
// never waits for the broker: acknowledgements are collected in the
// background and frames are dropped while the backlog is full.
func (e *MQTTEmitter) Consume(ctx context.Context, f *pipeline.Frame) error {
	select {
	case e.inflight <- struct{}{}:
	default:
		e.countError()
		return ErrBacklogFull
	}

	topic, token, err := e.send(broadcast.NewMessage(&f.Skeleton, f.Raw))
	if err != nil {
		<-e.inflight
		return err
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() { <-e.inflight }()
		if err := e.await(topic, token); err != nil {
			slog.Warn("skeleton publish failed", "topic", topic, "error", err)
		}
	}()

	return nil
}

// Topic returns the topic a user's skeletons are published on.
func (e *MQTTEmitter) Topic(userID int) string {
	return fmt.Sprintf("%s/%d", e.cfg.Topic, userID)
}

// Publish sends msg as JSON with the configured QoS and waits for the broker.
func (e *MQTTEmitter) Publish(msg *broadcast.Message) error {
	topic, token, err := e.send(msg)
	if err != nil {
		return err
	}
	return e.await(topic, token)
}

func (e *MQTTEmitter) send(msg *broadcast.Message) (string, mqtt.Token, error) {
	if !e.isConnected() {
		e.countError()
		return "", nil, ErrNotConnected
	}

	topic := e.Topic(msg.UserID)

	payload, err := json.Marshal(msg)
	if err != nil {
		e.countError()
		return "", nil, fmt.Errorf("failed to marshal skeleton: %w", err)
	}

	slog.Debug("publishing skeleton", "topic", topic, "qos", e.cfg.QoS, "size", len(payload))

	return topic, e.client.Publish(topic, e.cfg.QoS, false, payload), nil
}

func (e *MQTTEmitter) await(topic string, token mqtt.Token) error {
	if !token.WaitTimeout(publishTimeout) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	return nil
}

// Disconnect waits for outstanding publishes and closes the MQTT connection.
func (e *MQTTEmitter) Disconnect() error {
	e.wg.Wait()

	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250) // 250ms grace period
		slog.Info("mqtt disconnected")
	}

	e.setConnected(false)
	return nil
}

// Close implements io.Closer so the pipeline disconnects on shutdown.
func (e *MQTTEmitter) Close() error {
	return e.Disconnect()
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}

	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
	}
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
