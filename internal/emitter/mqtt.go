package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"smilecam/internal/types"
)

type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
	QoS      byte
}

// MQTTEmitter publishes events as JSON to <topic>/<kind>.
type MQTTEmitter struct {
	cfg    MQTTConfig
	client mqtt.Client
	log    zerolog.Logger

	mu        sync.RWMutex
	published map[string]uint64
	errors    uint64
	connected bool
}

type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
}

func NewMQTTEmitter(cfg MQTTConfig, log zerolog.Logger) *MQTTEmitter {
	return &MQTTEmitter{
		cfg:       cfg,
		log:       log,
		published: make(map[string]uint64),
	}
}

// Connect dials the broker. The client reconnects on its own afterwards.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.Broker))
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		e.setConnected(true)
		e.log.Info().Str("broker", e.cfg.Broker).Msg("mqtt connection established")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.setConnected(false)
		e.log.Warn().Err(err).Str("broker", e.cfg.Broker).Msg("mqtt connection lost, will auto-reconnect")
	}

	e.client = mqtt.NewClient(opts)
	token := e.client.Connect()

	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	e.setConnected(true)
	return nil
}

func (e *MQTTEmitter) Name() string {
	return "mqtt"
}

func (e *MQTTEmitter) Topic(kind types.EventKind) string {
	return fmt.Sprintf("%s/%s", e.cfg.Topic, kind)
}

func (e *MQTTEmitter) Handle(_ context.Context, ev types.Event) error {
	if !e.isConnected() {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		e.countError()
		return fmt.Errorf("marshal event: %w", err)
	}

	topic := e.Topic(ev.Kind)
	token := e.client.Publish(topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
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

func (e *MQTTEmitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
	}
	e.setConnected(false)
}

func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{Connected: e.connected, Published: published, Errors: e.errors}
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
