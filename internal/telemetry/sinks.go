package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenGripCore/internal/config"
	"github.com/KevinKickass/OpenGripCore/internal/types"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Store is a telemetry table.
type Store interface {
	InsertTelemetry(ctx context.Context, sample types.TelemetrySample) error
}

type StoreSink struct {
	name  string
	store Store
}

func NewStoreSink(name string, store Store) *StoreSink {
	return &StoreSink{name: name, store: store}
}

func (s *StoreSink) Name() string { return s.name }
func (s *StoreSink) Remote() bool { return true }

func (s *StoreSink) Write(ctx context.Context, sample types.TelemetrySample) error {
	return s.store.InsertTelemetry(ctx, sample)
}

// Broadcaster is a local consumer such as the live console.
type Broadcaster interface {
	BroadcastTelemetry(sample types.TelemetrySample)
}

// LocalSink forwards samples to a local broadcaster, link or not.
type LocalSink struct {
	name string
	b    Broadcaster
}

func NewLocalSink(name string, b Broadcaster) *LocalSink {
	return &LocalSink{name: name, b: b}
}

func (s *LocalSink) Name() string { return s.name }
func (s *LocalSink) Remote() bool { return false }

func (s *LocalSink) Write(ctx context.Context, sample types.TelemetrySample) error {
	s.b.BroadcastTelemetry(sample)
	return nil
}

var ErrMQTTNotConnected = errors.New("mqtt not connected")

// MQTTSink mirrors samples to {topic_prefix}/{device_id}/telemetry.
type MQTTSink struct {
	cfg    config.MQTTConfig
	Client mqtt.Client
	logger *zap.Logger

	mu        sync.RWMutex
	connected bool
}

func NewMQTTSink(cfg config.MQTTConfig, deviceID string, logger *zap.Logger) *MQTTSink {
	s := &MQTTSink{cfg: cfg, logger: logger}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "gripd-" + deviceID
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		s.setConnected(true)
		logger.Info("MQTT connection established", zap.String("broker", cfg.Broker))
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		s.setConnected(false)
		logger.Warn("MQTT connection lost", zap.String("broker", cfg.Broker), zap.Error(err))
	}

	s.Client = mqtt.NewClient(opts)
	return s
}

// Connect starts the connection. With connect retry enabled the client keeps
// trying in the background, so a timeout here is not an error.
func (s *MQTTSink) Connect(timeout time.Duration) {
	token := s.Client.Connect()
	if !token.WaitTimeout(timeout) {
		s.logger.Warn("MQTT broker not reachable yet", zap.String("broker", s.cfg.Broker))
		return
	}
	if err := token.Error(); err != nil {
		s.logger.Warn("MQTT connection failed", zap.Error(err))
	}
}

func (s *MQTTSink) Name() string { return "mqtt" }
func (s *MQTTSink) Remote() bool { return true }

func (s *MQTTSink) Topic(deviceID string) string {
	return fmt.Sprintf("%s/%s/telemetry", s.cfg.TopicPrefix, deviceID)
}

func (s *MQTTSink) Write(ctx context.Context, sample types.TelemetrySample) error {
	if !s.isConnected() {
		return ErrMQTTNotConnected
	}

	payload, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to marshal sample: %w", err)
	}

	timeout := time.Second
	if d, ok := ctx.Deadline(); ok {
		timeout = time.Until(d)
	}

	token := s.Client.Publish(s.Topic(sample.DeviceID), s.cfg.QoS, false, payload)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

func (s *MQTTSink) Disconnect() {
	if s.Client != nil && s.Client.IsConnected() {
		s.Client.Disconnect(250)
	}
	s.setConnected(false)
}

func (s *MQTTSink) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *MQTTSink) isConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}
